package bot

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pingguard/metrics"
)

// Start loads the caches from the database, connects to the gateway and
// starts the background tasks.
func (b *Bot) Start(ctx context.Context) error {
	if err := b.Rules.Load(ctx, b.Store); err != nil {
		return err
	}
	metrics.RulesLoaded.Set(float64(b.Rules.Len()))

	if err := b.Tracker.Warm(ctx); err != nil {
		return err
	}

	if err := b.Session.Open(); err != nil {
		return fmt.Errorf("error opening connection: %w", err)
	}
	b.Started = time.Now()

	// lift whatever expired while we were offline
	if err := b.Sync.Sweep(ctx, false); err != nil {
		b.Logger.Error("initial reconciliation failed", zap.Error(err))
	}

	b.scheduler.Start()
	b.ModLog.Info(ctx, "System", "Startup", "Bot has started successfully.")
	return nil
}

// Run starts the bot and blocks until ctx is done or the process is asked to
// stop. SIGHUP reloads the configuration.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		return err
	}
	b.Logger.Info("bot is now running, press CTRL-C to exit")

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, os.Interrupt)
	defer signal.Stop(sc)

	for {
		select {
		case sig := <-sc:
			if sig == syscall.SIGHUP {
				if err := b.ReloadConfig(); err != nil {
					b.Logger.Error("config reload failed", zap.Error(err))
				}
				continue
			}
			b.Logger.Info("received signal", zap.String("signal", sig.String()))
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}
