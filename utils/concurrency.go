package utils

import (
	"sync"
	"time"
)

// Cooldown lets an action through at most once per window for each key.
// A zero window lets everything through.
type Cooldown struct {
	mu     sync.Mutex
	last   map[string]time.Time
	window time.Duration
}

func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{last: make(map[string]time.Time), window: window}
}

// Acquire reports whether key is outside its cooldown at now, and if so
// starts a new one.
func (c *Cooldown) Acquire(key string, now time.Time) bool {
	if c.window <= 0 {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if last, ok := c.last[key]; ok && now.Sub(last) < c.window {
		return false
	}
	c.last[key] = now

	// drop stale keys so the map does not grow without bound
	for k, t := range c.last {
		if now.Sub(t) >= c.window {
			delete(c.last, k)
		}
	}
	return true
}

// Release ends the cooldown of key early.
func (c *Cooldown) Release(key string) {
	if c.window <= 0 {
		return
	}
	c.mu.Lock()
	delete(c.last, key)
	c.mu.Unlock()
}
