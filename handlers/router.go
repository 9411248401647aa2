package handlers

import (
	"context"
	"errors"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"pingguard/handlers/commands"
	"pingguard/metrics"
	"pingguard/model"
	"pingguard/platform"
	"pingguard/punish"
	"pingguard/utils"
)

type Tracker interface {
	HandleIncomingMessage(ctx context.Context, msg *discordgo.Message, kind model.MessageKind) bool
}

type Guard interface {
	HandleMessage(ctx context.Context, msg *discordgo.Message, kind model.MessageKind) (bool, error)
}

// Router classifies each inbound message once and hands it to the commands,
// the tracker and the guard, in that order.
type Router struct {
	config   model.BotConfigProvider
	tracker  Tracker
	guard    Guard
	commands *commands.Set
	platform platform.Platform
	logger   *zap.Logger
}

func NewRouter(config model.BotConfigProvider, tracker Tracker, guard Guard, cmds *commands.Set, p platform.Platform, logger *zap.Logger) *Router {
	return &Router{
		config:   config,
		tracker:  tracker,
		guard:    guard,
		commands: cmds,
		platform: p,
		logger:   logger.Named("router"),
	}
}

// Classification is the result of classifying a message.
type Classification struct {
	Kind    model.MessageKind
	Command *commands.Command
	Name    string
	Args    []string
	Roles   []string
}

// Classify decides whether msg is a command and whether its author moderates.
func (r *Router) Classify(ctx context.Context, msg *discordgo.Message) Classification {
	cfg := r.config.GetConfig()
	c := Classification{Kind: model.KindPlain, Roles: r.authorRoles(ctx, msg)}

	cmd, name, args, ok := r.commands.Parse(msg.Content, cfg.Prefix)
	if !ok {
		return c
	}
	c.Command, c.Name, c.Args = cmd, name, args
	c.Kind = model.KindCommand
	if utils.IsModerator(msg.Author.ID, c.Roles, cfg.Owners, cfg.ModeratorRoles) {
		c.Kind = model.KindModeratorCommand
	}
	return c
}

func (r *Router) authorRoles(ctx context.Context, msg *discordgo.Message) []string {
	if msg.Member != nil {
		return msg.Member.Roles
	}
	m, err := r.platform.Member(ctx, msg.GuildID, msg.Author.ID)
	if err != nil {
		r.logger.Debug("could not resolve author", zap.String("user", msg.Author.ID), zap.Error(err))
		return nil
	}
	return m.Roles
}

// HandleMessage is the message boundary: errors are logged here and the
// message is dropped.
func (r *Router) HandleMessage(ctx context.Context, msg *discordgo.Message) {
	if msg.Author == nil || msg.Author.Bot || msg.GuildID == "" {
		return
	}
	if guildID := r.config.GetConfig().GuildID; guildID != "" && msg.GuildID != guildID {
		return
	}

	c := r.Classify(ctx, msg)
	metrics.MessagesHandled.WithLabelValues(c.Kind.String()).Inc()

	if c.Command != nil {
		r.runCommand(ctx, msg, c)
	}

	if r.tracker.HandleIncomingMessage(ctx, msg, c.Kind) {
		return
	}

	if _, err := r.guard.HandleMessage(ctx, msg, c.Kind); err != nil {
		if errors.Is(err, punish.ErrMemberNotFound) {
			r.logger.Warn("offender left before being punished", zap.String("author", msg.Author.ID), zap.Error(err))
			return
		}
		r.logger.Error("failed to handle message", zap.String("message", msg.ID), zap.Error(err))
	}
}

func (r *Router) runCommand(ctx context.Context, msg *discordgo.Message, c Classification) {
	inv := &commands.Invocation{
		Ctx:       ctx,
		Message:   msg,
		Name:      c.Name,
		Args:      c.Args,
		Roles:     c.Roles,
		Moderator: c.Kind == model.KindModeratorCommand,
	}
	err := r.commands.Execute(c.Command, inv)
	switch {
	case errors.Is(err, commands.ErrNotPermitted):
		r.logger.Debug("command refused", zap.String("command", c.Name), zap.String("author", msg.Author.ID))
	case err != nil:
		r.logger.Error("command failed", zap.String("command", c.Name), zap.String("author", msg.Author.ID), zap.Error(err))
	}
}
