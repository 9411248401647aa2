package bot

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"pingguard/metrics"
)

// Scheduler owns the background goroutines: the reconciliation loop and the
// metrics endpoint.
type Scheduler struct {
	bot    *Bot
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

func NewScheduler(b *Bot) *Scheduler {
	return &Scheduler{bot: b, logger: b.Logger.Named("scheduler")}
}

// Start begins all scheduled tasks.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.bot.Sync.Run(ctx)
	}()

	if addr := s.bot.GetConfig().Metrics.Addr; addr != "" {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := metrics.Serve(ctx, addr, s.logger); err != nil {
				s.logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}
}

// Stop terminates all scheduled tasks and waits for them.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.logger.Info("stopping scheduler")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}
