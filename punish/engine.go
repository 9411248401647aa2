// Package punish decides and applies punishments for disallowed mentions.
package punish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"pingguard/metrics"
	"pingguard/model"
	"pingguard/platform"
	"pingguard/utils"
)

var (
	// ErrMemberNotFound means the offending author is not a guild member.
	ErrMemberNotFound = errors.New("offending member not found")
	// ErrNoGuild means the message was not sent in a guild.
	ErrNoGuild = errors.New("message has no guild")
)

// Store is the history storage the engine needs.
type Store interface {
	HistoryByUser(ctx context.Context, userID string, includeEnded, includeExpired bool, now time.Time) ([]model.PunishmentHistory, error)
	CreateHistory(ctx context.Context, h model.PunishmentHistory) (int64, error)
}

// Rules looks up escalation tiers.
type Rules interface {
	Rules(target model.TargetType, id string, lenient bool) []model.PunishmentRule
}

// Verdict is the outcome of one Punish call.
type Verdict struct {
	UserID     string
	Mention    model.FlaggedMention // the mention whose rules were used
	Rule       model.PunishmentRule
	Tier       int // index into the rule set
	Offenses   int // prior records that counted towards escalation
	Lenient    bool
	EndsAt     time.Time
	Indefinite bool
	HistoryID  int64
	DryRun     bool
	Applied    bool // the consequence went through
}

// Engine hands out punishments. It is safe for concurrent use.
type Engine struct {
	cfg      model.PunishConfig
	store    Store
	rules    Rules
	platform platform.Platform
	modlog   *utils.LogChannel
	cooldown *utils.Cooldown
	logger   *zap.Logger
	now      func() time.Time
}

func New(cfg model.PunishConfig, store Store, rules Rules, p platform.Platform, modlog *utils.LogChannel, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    store,
		rules:    rules,
		platform: p,
		modlog:   modlog,
		cooldown: utils.NewCooldown(cfg.Cooldown),
		logger:   logger.Named("punish"),
		now:      time.Now,
	}
}

// Punish records and applies the next punishment for the author of msg.
//
// A nil Verdict with a nil error means nothing was handed out: no rule set
// matched, or the author is still in the punish cooldown. Failing to
// notify or apply the consequence is logged and does not fail the call;
// the history row stays.
func (e *Engine) Punish(ctx context.Context, msg *discordgo.Message, mentions []model.FlaggedMention) (*Verdict, error) {
	if msg.GuildID == "" {
		return nil, ErrNoGuild
	}
	if msg.Author == nil {
		return nil, ErrMemberNotFound
	}
	userID := msg.Author.ID

	member, err := e.platform.Member(ctx, msg.GuildID, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMemberNotFound, err)
	}

	now := e.now()
	if !e.cooldown.Acquire(userID, now) {
		e.logger.Info("author is in punish cooldown", zap.String("user", userID))
		return nil, nil
	}
	recorded := false
	defer func() {
		if !recorded {
			e.cooldown.Release(userID)
		}
	}()

	history, err := e.store.HistoryByUser(ctx, userID, true, false, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load punishment history: %w", err)
	}

	lenient := utils.HasAnyRole(member.Roles, e.cfg.LenientRoles)

	mention, rules, ok := e.selectRules(mentions, lenient)
	if !ok {
		if lenient {
			e.logger.Warn("no lenient punishment configured, not punishing", zap.String("user", userID))
		} else {
			e.logger.Warn("no punishment rules matched", zap.String("user", userID))
		}
		return nil, nil
	}

	tier := len(history)
	if tier > len(rules)-1 {
		tier = len(rules) - 1
	}
	rule := rules[tier]

	v := &Verdict{
		UserID:   userID,
		Mention:  mention,
		Rule:     rule,
		Tier:     tier,
		Offenses: len(history),
		Lenient:  lenient,
		DryRun:   e.cfg.DryRun,
	}

	record := model.PunishmentHistory{
		UserID:    userID,
		Active:    true,
		CreatedAt: now.Unix(),
	}
	if length, ok := rule.Duration(); ok {
		v.EndsAt = now.Add(length)
		record.EndsAt = model.UnixOrNull(v.EndsAt, true)
		if e.cfg.HistoryExpiry > 0 {
			record.ExpiresAt = model.UnixOrNull(v.EndsAt.Add(e.cfg.HistoryExpiry), true)
		}
	} else {
		v.Indefinite = true
	}

	// without a row reconciliation could never lift the consequence
	v.HistoryID, err = e.store.CreateHistory(ctx, record)
	if err != nil {
		metrics.Punishments.WithLabelValues(string(rule.Type), "failed").Inc()
		return nil, fmt.Errorf("failed to record punishment: %w", err)
	}
	recorded = true

	if err := e.platform.SendDirectEmbed(ctx, userID, e.buildEmbed(v, mentions, history)); err != nil {
		e.logger.Warn("failed to notify offender", zap.String("user", userID), zap.Error(err))
	}

	result := "dry_run"
	if !e.cfg.DryRun {
		v.Applied = e.apply(ctx, msg.GuildID, v)
		result = "applied"
		if !v.Applied {
			result = "failed"
		}
	}
	metrics.Punishments.WithLabelValues(string(rule.Type), result).Inc()

	e.logger.Info("punishment handed out",
		zap.String("user", userID),
		zap.String("type", string(rule.Type)),
		zap.Int("tier", tier),
		zap.Bool("lenient", lenient),
		zap.Bool("indefinite", v.Indefinite),
		zap.String("result", result))
	e.modlog.Info(ctx, "punish", string(rule.Type), e.describe(v, mentions, result))

	return v, nil
}

// selectRules returns the rule set of the first mention that has one.
func (e *Engine) selectRules(mentions []model.FlaggedMention, lenient bool) (model.FlaggedMention, []model.PunishmentRule, bool) {
	for _, m := range mentions {
		if rules := e.rules.Rules(m.Type, m.Key(), lenient); len(rules) > 0 {
			return m, rules, true
		}
	}
	return model.FlaggedMention{}, nil, false
}

func (e *Engine) apply(ctx context.Context, guildID string, v *Verdict) bool {
	reason := e.reason(v)

	var err error
	switch v.Rule.Type {
	case model.PunishmentBan:
		err = e.platform.Ban(ctx, guildID, v.UserID, reason, e.cfg.BanDeleteDays)
	case model.PunishmentMute:
		if e.cfg.MutedRole == "" {
			err = errors.New("no muted role configured")
		} else {
			err = e.platform.AddRole(ctx, guildID, v.UserID, e.cfg.MutedRole)
		}
	case model.PunishmentKick:
		if err = e.platform.Kick(ctx, guildID, v.UserID, reason); err != nil {
			e.logger.Warn("could not kick member", zap.String("user", v.UserID), zap.Error(err))
			return false
		}
	default:
		err = fmt.Errorf("unknown punishment type %q", v.Rule.Type)
	}

	if err != nil {
		e.logger.Error("failed to apply punishment",
			zap.String("user", v.UserID),
			zap.String("type", string(v.Rule.Type)),
			zap.Error(err))
		return false
	}
	return true
}

func (e *Engine) reason(v *Verdict) string {
	verb := map[model.PunishmentType]string{
		model.PunishmentBan:  "Banned",
		model.PunishmentMute: "Muted",
		model.PunishmentKick: "Kicked",
	}[v.Rule.Type]
	if v.Rule.Type == model.PunishmentKick {
		return verb + " for pinging users they shouldn't."
	}
	if v.Indefinite {
		return "Permanently " + strings.ToLower(verb) + " for pinging users they shouldn't."
	}
	length, _ := v.Rule.Duration()
	return fmt.Sprintf("%s for %s for pinging users they shouldn't.", verb, utils.FormatDuration(length))
}

func (e *Engine) describe(v *Verdict, mentions []model.FlaggedMention, result string) string {
	return fmt.Sprintf("<@%s> %s (tier %d, offenses %d, lenient %t, %s)\nmentioned: %s\nhistory id: %d",
		v.UserID, e.reason(v), v.Tier+1, v.Offenses, v.Lenient, result, mentionList(mentions), v.HistoryID)
}
