package scanner

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"pingguard/metrics"
	"pingguard/model"
	"pingguard/platform"
	"pingguard/ruleset"
	"pingguard/utils"
)

const (
	liftReason         = "They have served their sentence."
	defaultInterval    = time.Minute
	defaultConcurrency = 8
)

// Store is the storage the reconciliation loop needs.
type Store interface {
	ruleset.Store
	LatestActivePerUser(ctx context.Context, now time.Time) ([]model.PunishmentHistoryWithCount, error)
	CloseEnded(ctx context.Context, userID string, now time.Time) (int64, error)
	HistoryByID(ctx context.Context, id int64) (*model.PunishmentHistory, error)
	HistoryByUser(ctx context.Context, userID string, includeEnded, includeExpired bool, now time.Time) ([]model.PunishmentHistory, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

// PunishmentSync lifts punishments whose time is up and closes their
// history records. Consequences removed by hand count as lifted.
type PunishmentSync struct {
	guildID     string
	mutedRole   string
	interval    time.Duration
	fullEvery   int
	concurrency int
	limiter     *rate.Limiter

	store    Store
	rules    *ruleset.Cache
	platform platform.Platform
	modlog   *utils.LogChannel
	logger   *zap.Logger
	now      func() time.Time
}

func NewPunishmentSync(guildID string, cfg model.SyncConfig, mutedRole string, store Store, rules *ruleset.Cache, p platform.Platform, modlog *utils.LogChannel, logger *zap.Logger) *PunishmentSync {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	limit := rate.Inf
	if cfg.LiftRate > 0 {
		limit = rate.Limit(cfg.LiftRate)
	}
	return &PunishmentSync{
		guildID:     guildID,
		mutedRole:   mutedRole,
		interval:    cfg.Interval,
		fullEvery:   cfg.FullEvery,
		concurrency: cfg.Concurrency,
		limiter:     rate.NewLimiter(limit, 1),
		store:       store,
		rules:       rules,
		platform:    p,
		modlog:      modlog,
		logger:      logger.Named("sync"),
		now:         time.Now,
	}
}

// Run sweeps every interval until ctx is done. Every fullEvery-th tick also
// reloads the rule cache.
func (s *PunishmentSync) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ticker.C:
			tick++
			full := s.fullEvery > 0 && tick%s.fullEvery == 0
			s.safeSweep(ctx, full)
		case <-ctx.Done():
			return
		}
	}
}

func (s *PunishmentSync) safeSweep(ctx context.Context, full bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("reconciliation panicked", zap.Any("panic", r))
		}
	}()
	if err := s.Sweep(ctx, full); err != nil {
		s.logger.Error("reconciliation failed", zap.Error(err))
	}
}

// Sweep runs one reconciliation pass. Records are handled concurrently and
// one failing record never stops the others.
func (s *PunishmentSync) Sweep(ctx context.Context, full bool) error {
	start := time.Now()
	defer func() {
		metrics.SyncDuration.WithLabelValues(strconv.FormatBool(full)).Observe(time.Since(start).Seconds())
	}()

	if full {
		if err := s.rules.Load(ctx, s.store); err != nil {
			s.logger.Error("failed to reload punishment rules", zap.Error(err))
		} else {
			metrics.RulesLoaded.Set(float64(s.rules.Len()))
		}
	}

	now := s.now()
	records, err := s.store.LatestActivePerUser(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to load active punishments: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			s.reconcile(gctx, rec, now)
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Debug("reconciliation finished", zap.Int("records", len(records)), zap.Bool("full", full))
	return nil
}

func (s *PunishmentSync) reconcile(ctx context.Context, rec model.PunishmentHistoryWithCount, now time.Time) {
	if !rec.DueForLift(now) {
		return
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return
	}

	if err := s.lift(ctx, rec.UserID); err != nil {
		metrics.LiftFailures.Inc()
		s.logger.Warn("failed to lift punishment, will retry",
			zap.Int64("history", rec.ID),
			zap.String("user", rec.UserID),
			zap.Error(err))
		return
	}

	closed, err := s.store.CloseEnded(ctx, rec.UserID, now)
	if err != nil {
		s.logger.Error("failed to close punishment record", zap.Int64("history", rec.ID), zap.Error(err))
		return
	}

	metrics.PunishmentsLifted.Inc()
	s.logger.Info("user has served their sentence",
		zap.String("user", rec.UserID),
		zap.Int64("closed", closed),
		zap.Int("active", rec.Count))
	s.modlog.Info(ctx, "sync", "lift", fmt.Sprintf("<@%s> has served their sentence.", rec.UserID))
}

// lift removes the mute role and the ban. Either being gone already is fine.
func (s *PunishmentSync) lift(ctx context.Context, userID string) error {
	if s.mutedRole != "" {
		err := s.platform.RemoveRole(ctx, s.guildID, userID, s.mutedRole)
		if err != nil && !platform.IsResolved(err) {
			return fmt.Errorf("failed to remove muted role: %w", err)
		}
	}
	err := s.platform.Unban(ctx, s.guildID, userID, liftReason)
	if err != nil && !platform.IsResolved(err) {
		return fmt.Errorf("failed to unban: %w", err)
	}
	return nil
}

// Pardon closes a single punishment record. The consequences are lifted only
// when no other punishment of the same user is still running.
func (s *PunishmentSync) Pardon(ctx context.Context, historyID int64) (*model.PunishmentHistory, error) {
	rec, err := s.store.HistoryByID(ctx, historyID)
	if err != nil {
		return nil, fmt.Errorf("failed to find punishment %d: %w", historyID, err)
	}
	if !rec.Active {
		return rec, nil
	}

	running, err := s.store.HistoryByUser(ctx, rec.UserID, false, true, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to load running punishments of %s: %w", rec.UserID, err)
	}
	if otherRunning(running, rec.ID) {
		s.logger.Info("another punishment is still running, closing record only",
			zap.Int64("history", rec.ID), zap.String("user", rec.UserID))
	} else if err := s.lift(ctx, rec.UserID); err != nil {
		return nil, err
	}
	if err := s.store.SetActive(ctx, rec.ID, false); err != nil {
		return nil, fmt.Errorf("failed to close punishment %d: %w", historyID, err)
	}
	rec.Active = false
	s.logger.Info("punishment pardoned", zap.Int64("history", rec.ID), zap.String("user", rec.UserID))
	return rec, nil
}

func otherRunning(records []model.PunishmentHistory, id int64) bool {
	for _, r := range records {
		if r.ID != id {
			return true
		}
	}
	return false
}
