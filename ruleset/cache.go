// Package ruleset holds the in-memory index of active punishment rules.
package ruleset

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"pingguard/model"
)

// Store is the storage the cache loads from.
type Store interface {
	ListActiveRules(ctx context.Context) ([]model.PunishmentRule, error)
}

type key struct {
	target model.TargetType
	id     string
}

type entry struct {
	standard []model.PunishmentRule
	lenient  []model.PunishmentRule
}

type snapshot struct {
	entries map[key]*entry
	users   []string
	roles   []string
	count   int
}

// Cache is safe for concurrent use. Refresh swaps the whole index at once.
type Cache struct {
	snap atomic.Pointer[snapshot]
}

func New() *Cache {
	c := &Cache{}
	c.snap.Store(&snapshot{entries: map[key]*entry{}})
	return c
}

// Load fetches the active rules from storage and refreshes the cache.
func (c *Cache) Load(ctx context.Context, store Store) error {
	rules, err := store.ListActiveRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load punishment rules: %w", err)
	}
	c.Refresh(rules)
	return nil
}

// Refresh replaces the cache with rules. Inactive rules are ignored.
func (c *Cache) Refresh(rules []model.PunishmentRule) {
	next := &snapshot{entries: make(map[key]*entry)}

	for _, r := range rules {
		if !r.Active {
			continue
		}
		k := key{target: r.Target, id: r.TargetKey}
		e, ok := next.entries[k]
		if !ok {
			e = &entry{}
			next.entries[k] = e
			switch r.Target {
			case model.TargetUser:
				next.users = append(next.users, r.TargetKey)
			case model.TargetRole:
				next.roles = append(next.roles, r.TargetKey)
			}
		}
		if r.Lenient {
			e.lenient = append(e.lenient, r)
		} else {
			e.standard = append(e.standard, r)
		}
		next.count++
	}

	for _, e := range next.entries {
		sortByPriority(e.standard)
		sortByPriority(e.lenient)
	}
	sort.Strings(next.users)
	sort.Strings(next.roles)

	c.snap.Store(next)
}

func sortByPriority(rules []model.PunishmentRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].PriorityIndex < rules[j].PriorityIndex
	})
}

// BlockedUserKeys returns the user ids that have at least one rule.
func (c *Cache) BlockedUserKeys() []string {
	return append([]string(nil), c.snap.Load().users...)
}

// BlockedRoleKeys returns the role ids that have at least one rule.
func (c *Cache) BlockedRoleKeys() []string {
	return append([]string(nil), c.snap.Load().roles...)
}

// Rules returns the escalation tiers for a target key in priority order.
// A lenient lookup falls back to the standard tiers when the key has no
// lenient ones.
func (c *Cache) Rules(target model.TargetType, id string, lenient bool) []model.PunishmentRule {
	e, ok := c.snap.Load().entries[key{target: target, id: id}]
	if !ok {
		return nil
	}
	rules := e.standard
	if lenient && len(e.lenient) > 0 {
		rules = e.lenient
	}
	return append([]model.PunishmentRule(nil), rules...)
}

// Entry returns both tracks for a target key.
func (c *Cache) Entry(target model.TargetType, id string) (standard, lenient []model.PunishmentRule) {
	e, ok := c.snap.Load().entries[key{target: target, id: id}]
	if !ok {
		return nil, nil
	}
	return append([]model.PunishmentRule(nil), e.standard...), append([]model.PunishmentRule(nil), e.lenient...)
}

// HasRules reports whether the target key has any active rule.
func (c *Cache) HasRules(target model.TargetType, id string) bool {
	_, ok := c.snap.Load().entries[key{target: target, id: id}]
	return ok
}

// IsMonitoredMember reports whether the user, or any of the given roles, is
// protected by a rule.
func (c *Cache) IsMonitoredMember(userID string, roles []string) bool {
	s := c.snap.Load()
	if _, ok := s.entries[key{target: model.TargetUser, id: userID}]; ok {
		return true
	}
	for _, r := range roles {
		if _, ok := s.entries[key{target: model.TargetRole, id: r}]; ok {
			return true
		}
	}
	return false
}

// Len returns the number of active rules in the cache.
func (c *Cache) Len() int {
	return c.snap.Load().count
}
