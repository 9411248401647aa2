package bot

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"pingguard/guard"
	"pingguard/model"
	"pingguard/pingable"
	"pingguard/platform"
	"pingguard/punish"
	"pingguard/ruleset"
	"pingguard/scanner"
	"pingguard/utils"
	"pingguard/utils/database"
)

type Bot struct {
	Session  *discordgo.Session
	config   atomic.Pointer[model.Config]
	Store    *database.Store
	Platform platform.Platform
	ModLog   *utils.LogChannel
	Rules    *ruleset.Cache
	Tracker  *pingable.Tracker
	Engine   *punish.Engine
	Guard    *guard.Guard
	Sync     *scanner.PunishmentSync
	Logger   *zap.Logger
	Started  time.Time

	// Loader re-reads the configuration on SIGHUP. Nil disables reloading.
	Loader func() (*model.Config, error)

	scheduler *Scheduler
}

func (b *Bot) GetConfig() *model.Config {
	return b.config.Load()
}

// New wires every component. Nothing talks to Discord until Start.
func New(cfg *model.Config, store *database.Store, logger *zap.Logger) (*Bot, error) {
	dg, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, err
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentMessageContent
	dg.StateEnabled = true

	p := platform.NewDiscord(dg)
	modlog := utils.NewLogChannel(p, cfg.LogChannelID, logger)
	rules := ruleset.New()
	tracker := pingable.New(cfg.Ping, store, rules, p, logger)
	engine := punish.New(cfg.Punish, store, rules, p, modlog, logger)

	b := &Bot{
		Session:  dg,
		Store:    store,
		Platform: p,
		ModLog:   modlog,
		Rules:    rules,
		Tracker:  tracker,
		Engine:   engine,
		Guard:    guard.New(cfg.Guard, tracker, rules, engine, p, logger),
		Sync:     scanner.NewPunishmentSync(cfg.GuildID, cfg.Sync, cfg.Punish.MutedRole, store, rules, p, modlog, logger),
		Logger:   logger,
	}
	b.config.Store(cfg)
	b.scheduler = NewScheduler(b)
	return b, nil
}

// Close stops the scheduler and the timers, flushes pending ping windows and
// closes the gateway connection.
func (b *Bot) Close(ctx context.Context) {
	b.Logger.Info("gracefully shutting down")
	b.scheduler.Stop()
	b.Guard.Stop()
	b.Tracker.Stop(ctx)
	if err := b.Session.Close(); err != nil {
		b.Logger.Warn("failed to close gateway session", zap.Error(err))
	}
}

// ReloadConfig swaps in a fresh configuration. Prefix, owners and moderator
// roles apply at once; component settings need a restart.
func (b *Bot) ReloadConfig() error {
	if b.Loader == nil {
		return nil
	}
	b.Logger.Info("reloading configuration")
	cfg, err := b.Loader()
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}
	b.config.Store(cfg)
	b.Logger.Info("configuration reloaded")
	return nil
}
