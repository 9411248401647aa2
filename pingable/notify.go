package pingable

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"pingguard/platform"
)

// NotifyPresence re-arms the idle timer of the author. Only when no timer was
// pending, which means the author was idle, the notify channels are told the
// author is around. When the timer fires they are told the author left.
func (t *Tracker) NotifyPresence(ctx context.Context, msg *discordgo.Message, timeout time.Duration) {
	authorID := msg.Author.ID

	if replaced := t.idle.Schedule(authorID, timeout, func() { t.announceIdle(authorID) }); replaced {
		return
	}

	content := fmt.Sprintf("<@%s> has made an appearance! I'll notify you once some time has passed since they have sent a message.\n%s",
		authorID, platform.MessageLink(msg.GuildID, msg.ChannelID, msg.ID))
	if roles := roleMentions(t.cfg.NotifyRoles); roles != "" {
		content = roles + ", " + content
	}

	t.broadcast(ctx, &discordgo.MessageSend{
		Content: content,
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{},
			Roles: t.cfg.NotifyRoles,
		},
	})
}

func (t *Tracker) announceIdle(authorID string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	t.broadcast(ctx, &discordgo.MessageSend{
		Content: fmt.Sprintf("<@%s> doesn't seem to be around anymore, you can rest your eyes", authorID),
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{},
		},
	})
}

func (t *Tracker) broadcast(ctx context.Context, msg *discordgo.MessageSend) {
	for _, channelID := range t.cfg.NotifyChannels {
		if _, err := t.platform.Send(ctx, channelID, msg); err != nil {
			t.logger.Warn("failed to send presence notification", zap.String("channel", channelID), zap.Error(err))
		}
	}
}

func roleMentions(roles []string) string {
	mentions := make([]string, 0, len(roles))
	for _, r := range roles {
		mentions = append(mentions, "<@&"+r+">")
	}
	return strings.Join(mentions, ", ")
}
