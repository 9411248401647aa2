package ruleset

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pingguard/model"
)

func rule(target model.TargetType, id string, idx int, typ model.PunishmentType, lenient bool) model.PunishmentRule {
	return model.PunishmentRule{
		PriorityIndex: idx,
		Active:        true,
		Type:          typ,
		Target:        target,
		TargetKey:     id,
		Lenient:       lenient,
		Length:        model.LengthFromDuration(time.Duration(idx+1) * time.Hour),
	}
}

func TestEmptyCache(t *testing.T) {
	c := New()
	assert.Empty(t, c.BlockedUserKeys())
	assert.Empty(t, c.BlockedRoleKeys())
	assert.Empty(t, c.Rules(model.TargetUser, "1", false))
	assert.Empty(t, c.Rules(model.TargetUser, "1", true))
	assert.False(t, c.HasRules(model.TargetUser, "1"))
	assert.False(t, c.IsMonitoredMember("1", []string{"r"}))
	assert.Zero(t, c.Len())
}

func TestRefreshIndexesAndSorts(t *testing.T) {
	c := New()
	c.Refresh([]model.PunishmentRule{
		rule(model.TargetUser, "b", 2, model.PunishmentBan, false),
		rule(model.TargetUser, "b", 0, model.PunishmentMute, false),
		rule(model.TargetUser, "b", 1, model.PunishmentMute, false),
		rule(model.TargetUser, "a", 0, model.PunishmentKick, false),
		rule(model.TargetRole, "r1", 0, model.PunishmentMute, true),
		{PriorityIndex: 0, Target: model.TargetRole, TargetKey: "gone", Type: model.PunishmentBan},
	})

	assert.Equal(t, []string{"a", "b"}, c.BlockedUserKeys())
	assert.Equal(t, []string{"r1"}, c.BlockedRoleKeys())
	assert.Equal(t, 5, c.Len())

	rules := c.Rules(model.TargetUser, "b", false)
	require.Len(t, rules, 3)
	for i, r := range rules {
		assert.Equal(t, i, r.PriorityIndex)
	}
	assert.Equal(t, model.PunishmentBan, rules[2].Type)

	assert.False(t, c.HasRules(model.TargetRole, "gone"))
	assert.True(t, c.HasRules(model.TargetRole, "r1"))
	assert.False(t, c.HasRules(model.TargetUser, "r1"))
}

func TestLeniencyFallback(t *testing.T) {
	c := New()
	c.Refresh([]model.PunishmentRule{
		rule(model.TargetUser, "std-only", 0, model.PunishmentBan, false),
		rule(model.TargetUser, "both", 0, model.PunishmentBan, false),
		rule(model.TargetUser, "both", 0, model.PunishmentMute, true),
	})

	// only standard tiers: lenient lookup gets them
	lenient := c.Rules(model.TargetUser, "std-only", true)
	require.Len(t, lenient, 1)
	assert.Equal(t, model.PunishmentBan, lenient[0].Type)

	// both tracks: lenient lookup gets the lenient track
	lenient = c.Rules(model.TargetUser, "both", true)
	require.Len(t, lenient, 1)
	assert.Equal(t, model.PunishmentMute, lenient[0].Type)
	standard := c.Rules(model.TargetUser, "both", false)
	require.Len(t, standard, 1)
	assert.Equal(t, model.PunishmentBan, standard[0].Type)

	// neither: empty regardless of the flag
	assert.Empty(t, c.Rules(model.TargetUser, "unknown", true))
	assert.Empty(t, c.Rules(model.TargetUser, "unknown", false))
}

func TestRulesReturnsCopy(t *testing.T) {
	c := New()
	c.Refresh([]model.PunishmentRule{rule(model.TargetUser, "a", 0, model.PunishmentBan, false)})

	rules := c.Rules(model.TargetUser, "a", false)
	rules[0].Type = model.PunishmentKick

	assert.Equal(t, model.PunishmentBan, c.Rules(model.TargetUser, "a", false)[0].Type)

	keys := c.BlockedUserKeys()
	keys[0] = "mutated"
	assert.Equal(t, []string{"a"}, c.BlockedUserKeys())
}

func TestEntry(t *testing.T) {
	c := New()
	c.Refresh([]model.PunishmentRule{
		rule(model.TargetRole, "r", 0, model.PunishmentBan, false),
		rule(model.TargetRole, "r", 0, model.PunishmentMute, true),
		rule(model.TargetRole, "r", 1, model.PunishmentBan, true),
	})

	standard, lenient := c.Entry(model.TargetRole, "r")
	assert.Len(t, standard, 1)
	assert.Len(t, lenient, 2)

	standard, lenient = c.Entry(model.TargetRole, "missing")
	assert.Nil(t, standard)
	assert.Nil(t, lenient)
}

func TestIsMonitoredMember(t *testing.T) {
	c := New()
	c.Refresh([]model.PunishmentRule{
		rule(model.TargetUser, "u1", 0, model.PunishmentBan, false),
		rule(model.TargetRole, "vip", 0, model.PunishmentBan, false),
	})

	assert.True(t, c.IsMonitoredMember("u1", nil))
	assert.True(t, c.IsMonitoredMember("u2", []string{"other", "vip"}))
	assert.False(t, c.IsMonitoredMember("u2", []string{"other"}))
	// role keys are not user keys
	assert.False(t, c.IsMonitoredMember("vip", nil))
}

func TestRefreshReplacesWholesale(t *testing.T) {
	c := New()
	c.Refresh([]model.PunishmentRule{rule(model.TargetUser, "old", 0, model.PunishmentBan, false)})
	c.Refresh([]model.PunishmentRule{rule(model.TargetUser, "new", 0, model.PunishmentBan, false)})

	assert.Equal(t, []string{"new"}, c.BlockedUserKeys())
	assert.False(t, c.HasRules(model.TargetUser, "old"))
}

func TestConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	c := New()
	setA := []model.PunishmentRule{
		rule(model.TargetUser, "a", 0, model.PunishmentMute, false),
		rule(model.TargetUser, "a", 1, model.PunishmentMute, false),
	}
	setB := []model.PunishmentRule{
		rule(model.TargetUser, "a", 0, model.PunishmentBan, false),
		rule(model.TargetUser, "a", 1, model.PunishmentBan, false),
		rule(model.TargetUser, "a", 2, model.PunishmentBan, false),
	}
	c.Refresh(setA)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				rules := c.Rules(model.TargetUser, "a", false)
				switch len(rules) {
				case 2:
					for _, r := range rules {
						assert.Equal(t, model.PunishmentMute, r.Type)
					}
				case 3:
					for _, r := range rules {
						assert.Equal(t, model.PunishmentBan, r.Type)
					}
				default:
					t.Errorf("saw partial snapshot with %d rules", len(rules))
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			c.Refresh(setB)
		} else {
			c.Refresh(setA)
		}
	}
	close(stop)
	wg.Wait()
}

type fakeStore struct {
	rules []model.PunishmentRule
	err   error
}

func (f fakeStore) ListActiveRules(context.Context) ([]model.PunishmentRule, error) {
	return f.rules, f.err
}

func TestLoad(t *testing.T) {
	c := New()
	require.NoError(t, c.Load(context.Background(), fakeStore{rules: []model.PunishmentRule{
		rule(model.TargetUser, "a", 0, model.PunishmentBan, false),
	}}))
	assert.True(t, c.HasRules(model.TargetUser, "a"))

	err := c.Load(context.Background(), fakeStore{err: errors.New("boom")})
	require.Error(t, err)
	// failed load keeps the previous snapshot
	assert.True(t, c.HasRules(model.TargetUser, "a"))
}
