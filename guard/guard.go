// Package guard inspects messages for mentions of protected users and roles.
package guard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"pingguard/metrics"
	"pingguard/model"
	"pingguard/platform"
	"pingguard/punish"
	"pingguard/utils"
	"pingguard/utils/debounce"
)

const defaultNoticeDeleteAfter = 10 * time.Second

// Tracker answers whether a user may be mentioned right now.
type Tracker interface {
	CanBePinged(userID string) bool
}

// Rules lists the protected keys.
type Rules interface {
	BlockedUserKeys() []string
	BlockedRoleKeys() []string
}

// Punisher hands out punishments.
type Punisher interface {
	Punish(ctx context.Context, msg *discordgo.Message, mentions []model.FlaggedMention) (*punish.Verdict, error)
}

// Guard deletes messages that mention protected users who are not pingable.
type Guard struct {
	cfg      model.GuardConfig
	tracker  Tracker
	rules    Rules
	punisher Punisher
	platform platform.Platform
	notices  *debounce.Scheduler
	logger   *zap.Logger
}

func New(cfg model.GuardConfig, tracker Tracker, rules Rules, punisher Punisher, p platform.Platform, logger *zap.Logger) *Guard {
	if cfg.NoticeDeleteAfter <= 0 {
		cfg.NoticeDeleteAfter = defaultNoticeDeleteAfter
	}
	logger = logger.Named("guard")
	return &Guard{
		cfg:      cfg,
		tracker:  tracker,
		rules:    rules,
		punisher: punisher,
		platform: p,
		notices:  debounce.New(logger),
		logger:   logger,
	}
}

// HandleMessage checks msg for disallowed mentions. It reports whether the
// message contained protected mentions; the error is the punishment error,
// if any, for the caller to log.
func (g *Guard) HandleMessage(ctx context.Context, msg *discordgo.Message, kind model.MessageKind) (bool, error) {
	if msg.Author == nil || msg.Author.Bot || kind == model.KindModeratorCommand {
		return false, nil
	}
	for _, id := range g.cfg.ExcludedChannels {
		if id == msg.ChannelID {
			return false, nil
		}
	}

	flagged := g.FlaggedMentions(ctx, msg)
	if len(flagged) == 0 {
		return false, nil
	}

	var disallowed []string
	seen := make(map[string]bool)
	for _, m := range flagged {
		if seen[m.User] {
			continue
		}
		seen[m.User] = true
		if !g.tracker.CanBePinged(m.User) {
			disallowed = append(disallowed, m.User)
		}
	}
	if len(disallowed) == 0 {
		return true, nil
	}

	metrics.MentionsBlocked.Inc()
	g.logger.Info("blocked mention",
		zap.String("author", msg.Author.ID),
		zap.String("channel", msg.ChannelID),
		zap.Strings("disallowed", disallowed))

	if err := g.platform.DeleteMessage(ctx, msg.ChannelID, msg.ID); err != nil {
		g.logger.Warn("failed to delete message", zap.String("message", msg.ID), zap.Error(err))
	}

	notice, err := g.platform.Send(ctx, msg.ChannelID, &discordgo.MessageSend{
		Content:         noticeText(msg.Author.ID, disallowed),
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	})
	if err != nil {
		g.logger.Warn("failed to send notice", zap.String("channel", msg.ChannelID), zap.Error(err))
	}

	_, punishErr := g.punisher.Punish(ctx, msg, flagged)
	if punishErr != nil {
		punishErr = fmt.Errorf("failed to punish %s: %w", msg.Author.ID, punishErr)
	}

	utils.DeleteAfter(g.notices, g.platform, notice, g.cfg.NoticeDeleteAfter, g.logger)

	return true, punishErr
}

// FlaggedMentions returns every protected mention in msg: mentioned users
// that are blocked keys, then mentioned members holding a blocked role.
// Duplicates are dropped and order is kept.
func (g *Guard) FlaggedMentions(ctx context.Context, msg *discordgo.Message) []model.FlaggedMention {
	if len(msg.Mentions) == 0 {
		return nil
	}

	var out []model.FlaggedMention
	seen := make(map[model.FlaggedMention]bool)
	add := func(m model.FlaggedMention) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}

	blockedUsers := toSet(g.rules.BlockedUserKeys())
	for _, u := range msg.Mentions {
		if blockedUsers[u.ID] {
			add(model.FlaggedMention{User: u.ID, Type: model.TargetUser})
		}
	}

	blockedRoles := g.rules.BlockedRoleKeys()
	if len(blockedRoles) == 0 || msg.GuildID == "" {
		return out
	}

	for _, u := range msg.Mentions {
		if u.Bot {
			continue
		}
		member, err := g.platform.Member(ctx, msg.GuildID, u.ID)
		if err != nil {
			g.logger.Debug("skipping unresolvable mention", zap.String("user", u.ID), zap.Error(err))
			continue
		}
		held := toSet(member.Roles)
		for _, role := range blockedRoles {
			if held[role] {
				add(model.FlaggedMention{User: u.ID, Role: role, Type: model.TargetRole})
			}
		}
	}
	return out
}

// Stop cancels pending notice deletions.
func (g *Guard) Stop() {
	g.notices.Stop()
}

func noticeText(authorID string, disallowed []string) string {
	mentions := make([]string, len(disallowed))
	for i, id := range disallowed {
		mentions[i] = "<@" + id + ">"
	}
	return fmt.Sprintf("<@%s>, you can't ping %s right now. Your message was removed.",
		authorID, strings.Join(mentions, ", "))
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, i := range items {
		set[i] = true
	}
	return set
}
