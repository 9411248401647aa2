// Package debounce provides a keyed single-slot delayed-action scheduler.
//
// Scheduling an action for a key that already has a pending action replaces
// it: only the newest registration fires.
package debounce

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type entry struct {
	timer *time.Timer
	gen   uint64
}

// Scheduler runs at most one pending action per key.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]entry
	gen     uint64
	stopped bool
	logger  *zap.Logger
}

// New creates a Scheduler. A nil logger disables panic logging.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		entries: make(map[string]entry),
		logger:  logger,
	}
}

// Schedule registers fn to run after delay, replacing any pending action for
// key. It reports whether a pending action was replaced.
func (s *Scheduler) Schedule(key string, delay time.Duration, fn func()) (replaced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}

	if old, ok := s.entries[key]; ok {
		old.timer.Stop()
		replaced = true
	}

	s.gen++
	gen := s.gen
	s.entries[key] = entry{
		gen:   gen,
		timer: time.AfterFunc(delay, func() { s.fire(key, gen, fn) }),
	}
	return replaced
}

func (s *Scheduler) fire(key string, gen uint64, fn func()) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || e.gen != gen {
		// replaced or cancelled after the timer already expired
		s.mu.Unlock()
		return
	}
	delete(s.entries, key)
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled action panicked", zap.String("key", key), zap.Any("panic", r))
		}
	}()
	fn()
}

// Cancel removes the pending action for key without running it.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.entries, key)
	return true
}

// Pending reports whether key has an action waiting to fire.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Len returns the number of pending actions.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop cancels every pending action. Later calls to Schedule are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, key)
	}
	s.stopped = true
}
