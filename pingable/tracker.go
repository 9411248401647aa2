// Package pingable tracks when monitored users may be mentioned.
//
// A monitored user is pingable while they are active: every message they send
// opens a window of ping.block_timeout during which mentioning them is fine.
package pingable

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"pingguard/model"
	"pingguard/platform"
	"pingguard/utils/debounce"
)

const (
	defaultDebounceDelay = 5 * time.Second
	writeTimeout         = 10 * time.Second
)

// Store persists the window ends.
type Store interface {
	InitializeUsers(ctx context.Context, userIDs []string) (int64, error)
	UpsertLastActive(ctx context.Context, userID string, until time.Time) (bool, error)
	ListMonitoredUsers(ctx context.Context) ([]model.MonitoredUser, error)
}

// Rules tells the tracker who is monitored.
type Rules interface {
	BlockedUserKeys() []string
	IsMonitoredMember(userID string, roles []string) bool
}

// Tracker is the ping-eligibility cache. It is safe for concurrent use.
type Tracker struct {
	mu    sync.RWMutex
	until map[string]time.Time
	dirty map[string]struct{}

	store    Store
	rules    Rules
	platform platform.Platform
	cfg      model.PingConfig

	writes *debounce.Scheduler
	idle   *debounce.Scheduler

	logger *zap.Logger
	now    func() time.Time
}

// New creates a Tracker. Call Warm before handling messages.
func New(cfg model.PingConfig, store Store, rules Rules, p platform.Platform, logger *zap.Logger) *Tracker {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = defaultDebounceDelay
	}
	logger = logger.Named("pingable")
	return &Tracker{
		until:    make(map[string]time.Time),
		dirty:    make(map[string]struct{}),
		store:    store,
		rules:    rules,
		platform: p,
		cfg:      cfg,
		writes:   debounce.New(logger.Named("writes")),
		idle:     debounce.New(logger.Named("idle")),
		logger:   logger,
		now:      time.Now,
	}
}

// Warm creates rows for every blocked user and loads all stored windows.
func (t *Tracker) Warm(ctx context.Context) error {
	created, err := t.store.InitializeUsers(ctx, t.rules.BlockedUserKeys())
	if err != nil {
		return fmt.Errorf("failed to initialize monitored users: %w", err)
	}

	users, err := t.store.ListMonitoredUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load monitored users: %w", err)
	}

	t.mu.Lock()
	for _, u := range users {
		if u.LastActiveUntil.Valid {
			t.until[u.UserID] = u.Until()
		}
	}
	t.mu.Unlock()

	t.logger.Info("ping windows loaded", zap.Int("users", len(users)), zap.Int64("created", created))
	return nil
}

// Extend sets the user's window to end at now+window. Negative windows count
// as zero. A zero window closes at once and cancels the pending idle
// notification.
//
// With immediate the value is written synchronously, superseding any queued
// write, and the write result is returned. Otherwise the write is debounced
// per user and Extend returns true.
func (t *Tracker) Extend(ctx context.Context, userID string, now time.Time, window time.Duration, immediate bool) (bool, error) {
	if window < 0 {
		window = 0
	}

	until := now.Add(window)
	if window == 0 {
		t.idle.Cancel(userID)
		// closed windows must fail the inclusive check at now, also after a
		// millisecond round trip through the store
		until = now.Add(-time.Millisecond)
	}

	if immediate {
		t.writes.Cancel(userID)
		t.mu.Lock()
		t.until[userID] = until
		delete(t.dirty, userID)
		t.mu.Unlock()

		ok, err := t.store.UpsertLastActive(ctx, userID, until)
		if err != nil {
			return false, fmt.Errorf("failed to store ping window for %s: %w", userID, err)
		}
		return ok, nil
	}

	t.mu.Lock()
	t.until[userID] = until
	t.dirty[userID] = struct{}{}
	t.mu.Unlock()

	t.writes.Schedule(userID, t.cfg.DebounceDelay, func() { t.flush(userID) })
	return true, nil
}

// flush writes the cached window of userID if it still has unsaved changes.
func (t *Tracker) flush(userID string) {
	t.mu.Lock()
	if _, ok := t.dirty[userID]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.dirty, userID)
	until := t.until[userID]
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if _, err := t.store.UpsertLastActive(ctx, userID, until); err != nil {
		t.logger.Error("failed to store ping window", zap.String("user", userID), zap.Error(err))
	}
}

// CanBePinged reports whether userID is inside an open window. Users without
// a window are not pingable.
func (t *Tracker) CanBePinged(userID string) bool {
	t.mu.RLock()
	until, ok := t.until[userID]
	t.mu.RUnlock()
	return ok && !t.now().After(until)
}

// HandleIncomingMessage extends the window of a monitored author and runs the
// presence notification. It reports whether the message was handled.
func (t *Tracker) HandleIncomingMessage(ctx context.Context, msg *discordgo.Message, kind model.MessageKind) bool {
	if kind.IsCommand() || msg.Author == nil || msg.Author.Bot || msg.Author.System {
		return false
	}
	if !t.rules.IsMonitoredMember(msg.Author.ID, t.authorRoles(ctx, msg)) {
		return false
	}

	now := t.now()
	if _, err := t.Extend(ctx, msg.Author.ID, now, t.cfg.BlockTimeout, false); err != nil {
		t.logger.Error("failed to extend ping window", zap.String("user", msg.Author.ID), zap.Error(err))
	}
	t.NotifyPresence(ctx, msg, t.cfg.NotifyTimeout)

	t.logger.Debug("monitored user is active",
		zap.String("user", msg.Author.ID),
		zap.Time("until", now.Add(t.cfg.BlockTimeout)))
	return true
}

func (t *Tracker) authorRoles(ctx context.Context, msg *discordgo.Message) []string {
	if msg.Member != nil {
		return msg.Member.Roles
	}
	if msg.GuildID == "" {
		return nil
	}
	m, err := t.platform.Member(ctx, msg.GuildID, msg.Author.ID)
	if err != nil {
		t.logger.Debug("could not resolve author", zap.String("user", msg.Author.ID), zap.Error(err))
		return nil
	}
	return m.Roles
}

// Snapshot returns a copy of the cached windows.
func (t *Tracker) Snapshot() map[string]time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]time.Time, len(t.until))
	for k, v := range t.until {
		out[k] = v
	}
	return out
}

// PendingWrites returns the number of queued window writes.
func (t *Tracker) PendingWrites() int {
	return t.writes.Len()
}

// Stop cancels every timer and writes out queued windows.
func (t *Tracker) Stop(ctx context.Context) {
	t.idle.Stop()
	t.writes.Stop()

	t.mu.Lock()
	pending := make(map[string]time.Time, len(t.dirty))
	for id := range t.dirty {
		pending[id] = t.until[id]
	}
	t.dirty = make(map[string]struct{})
	t.mu.Unlock()

	for id, until := range pending {
		if _, err := t.store.UpsertLastActive(ctx, id, until); err != nil {
			t.logger.Error("failed to store ping window on shutdown", zap.String("user", id), zap.Error(err))
		}
	}
}
