// Package platform is the boundary to the chat platform. Everything the bot
// does to the guild goes through the Platform interface.
package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Platform is the set of guild actions the bot needs.
type Platform interface {
	Member(ctx context.Context, guildID, userID string) (*discordgo.Member, error)
	Channel(ctx context.Context, channelID string) (*discordgo.Channel, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	Send(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error)
	SendDirectEmbed(ctx context.Context, userID string, embed *discordgo.MessageEmbed) error
	Ban(ctx context.Context, guildID, userID, reason string, deleteDays int) error
	Unban(ctx context.Context, guildID, userID, reason string) error
	Kick(ctx context.Context, guildID, userID, reason string) error
	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
}

var _ Platform = (*Discord)(nil)

// Discord implements Platform on top of a discordgo session.
type Discord struct {
	s *discordgo.Session
}

func NewDiscord(s *discordgo.Session) *Discord {
	return &Discord{s: s}
}

// Member prefers the state cache and falls back to the REST API.
func (d *Discord) Member(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	if d.s.State != nil {
		if m, err := d.s.State.Member(guildID, userID); err == nil {
			return m, nil
		}
	}
	m, err := d.s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get member %s: %w", userID, err)
	}
	return m, nil
}

func (d *Discord) Channel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	if d.s.State != nil {
		if c, err := d.s.State.Channel(channelID); err == nil {
			return c, nil
		}
	}
	c, err := d.s.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get channel %s: %w", channelID, err)
	}
	return c, nil
}

func (d *Discord) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return d.s.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
}

func (d *Discord) Send(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	return d.s.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx))
}

// SendDirectEmbed opens (or reuses) the DM channel with userID and sends embed.
func (d *Discord) SendDirectEmbed(ctx context.Context, userID string, embed *discordgo.MessageEmbed) error {
	channel, err := d.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to create DM channel: %w", err)
	}
	_, err = d.s.ChannelMessageSendEmbed(channel.ID, embed, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to send DM: %w", err)
	}
	return nil
}

func (d *Discord) Ban(ctx context.Context, guildID, userID, reason string, deleteDays int) error {
	return d.s.GuildBanCreateWithReason(guildID, userID, reason, deleteDays, discordgo.WithContext(ctx))
}

func (d *Discord) Unban(ctx context.Context, guildID, userID, reason string) error {
	return d.s.GuildBanDelete(guildID, userID, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
}

func (d *Discord) Kick(ctx context.Context, guildID, userID, reason string) error {
	return d.s.GuildMemberDeleteWithReason(guildID, userID, reason, discordgo.WithContext(ctx))
}

func (d *Discord) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	return d.s.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx))
}

func (d *Discord) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	return d.s.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx))
}

// IsResolved reports whether err means the target state is already reached:
// the member left, the ban is gone or the user does not exist.
func IsResolved(err error) bool {
	if err == nil {
		return false
	}
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Message == nil {
		return false
	}
	switch restErr.Message.Code {
	case discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownBan, discordgo.ErrCodeUnknownUser:
		return true
	}
	return false
}

// MessageLink builds the jump URL for a message.
func MessageLink(guildID, channelID, messageID string) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)
}
