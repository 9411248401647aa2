package pingable

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"pingguard/model"
	"pingguard/platform/platformtest"
	"pingguard/ruleset"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type write struct {
	user  string
	until time.Time
}

type memStore struct {
	mu          sync.Mutex
	writes      []write
	users       []model.MonitoredUser
	initialized []string
	err         error
}

func (s *memStore) InitializeUsers(_ context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = append(s.initialized, ids...)
	return int64(len(ids)), nil
}

func (s *memStore) UpsertLastActive(_ context.Context, userID string, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	s.writes = append(s.writes, write{user: userID, until: until})
	return true, nil
}

func (s *memStore) ListMonitoredUsers(context.Context) ([]model.MonitoredUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users, nil
}

func (s *memStore) Writes() []write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]write(nil), s.writes...)
}

const (
	guildID   = "g"
	notifyCh  = "notify"
	monitored = "100"
	vipRole   = "vip"
)

type fixture struct {
	tracker *Tracker
	store   *memStore
	fake    *platformtest.Fake
	now     time.Time
}

func newFixture(t *testing.T, cfg model.PingConfig) *fixture {
	t.Helper()

	rules := ruleset.New()
	rules.Refresh([]model.PunishmentRule{
		{Active: true, Target: model.TargetUser, TargetKey: monitored, Type: model.PunishmentMute},
		{Active: true, Target: model.TargetRole, TargetKey: vipRole, Type: model.PunishmentMute},
	})

	if cfg.NotifyChannels == nil {
		cfg.NotifyChannels = []string{notifyCh}
	}

	f := &fixture{
		store: &memStore{},
		fake:  platformtest.New(),
		now:   time.Unix(1_700_000_000, 0),
	}
	f.tracker = New(cfg, f.store, rules, f.fake, zap.NewNop())
	f.tracker.now = func() time.Time { return f.now }
	t.Cleanup(func() { f.tracker.Stop(context.Background()) })
	return f
}

func message(id, author string, roles ...string) *discordgo.Message {
	return &discordgo.Message{
		ID:        id,
		ChannelID: "general",
		GuildID:   guildID,
		Author:    &discordgo.User{ID: author},
		Member:    &discordgo.Member{Roles: roles},
	}
}

func (f *fixture) sent(contains string) int {
	n := 0
	for _, c := range f.fake.Calls("Send") {
		if strings.Contains(c.Send.Content, contains) {
			n++
		}
	}
	return n
}

func TestNeverSeenUserIsNotPingable(t *testing.T) {
	f := newFixture(t, model.PingConfig{})
	assert.False(t, f.tracker.CanBePinged("nobody"))
}

func TestNegativeWindowIsClampedToZero(t *testing.T) {
	f := newFixture(t, model.PingConfig{})
	ctx := context.Background()

	ok, err := f.tracker.Extend(ctx, monitored, f.now, -5*time.Minute, true)
	require.NoError(t, err)
	assert.True(t, ok)

	writes := f.store.Writes()
	require.Len(t, writes, 1)
	assert.True(t, writes[0].until.Before(f.now))
	assert.False(t, f.tracker.CanBePinged(monitored))
}

func TestZeroWindowClosesAtOnce(t *testing.T) {
	f := newFixture(t, model.PingConfig{})
	ctx := context.Background()

	_, err := f.tracker.Extend(ctx, monitored, f.now, 10*time.Minute, true)
	require.NoError(t, err)
	require.True(t, f.tracker.CanBePinged(monitored))

	_, err = f.tracker.Extend(ctx, monitored, f.now, 0, true)
	require.NoError(t, err)
	assert.False(t, f.tracker.CanBePinged(monitored))

	_, err = f.tracker.Extend(ctx, monitored, f.now, 10*time.Minute, false)
	require.NoError(t, err)
	_, err = f.tracker.Extend(ctx, monitored, f.now, -5*time.Minute, false)
	require.NoError(t, err)
	assert.False(t, f.tracker.CanBePinged(monitored))
}

func TestWindowEndIsInclusive(t *testing.T) {
	f := newFixture(t, model.PingConfig{})

	_, err := f.tracker.Extend(context.Background(), monitored, f.now, time.Minute, true)
	require.NoError(t, err)

	f.now = f.now.Add(time.Minute)
	assert.True(t, f.tracker.CanBePinged(monitored))

	f.now = f.now.Add(time.Nanosecond)
	assert.False(t, f.tracker.CanBePinged(monitored))
}

func TestOpenWindowIsPingable(t *testing.T) {
	f := newFixture(t, model.PingConfig{})
	ctx := context.Background()

	_, err := f.tracker.Extend(ctx, monitored, f.now, 10*time.Minute, true)
	require.NoError(t, err)
	assert.True(t, f.tracker.CanBePinged(monitored))

	f.now = f.now.Add(20 * time.Minute)
	assert.False(t, f.tracker.CanBePinged(monitored))
}

func TestImmediateWriteReturnsStoreResult(t *testing.T) {
	f := newFixture(t, model.PingConfig{})
	f.store.err = errors.New("disk full")

	ok, err := f.tracker.Extend(context.Background(), monitored, f.now, time.Minute, true)
	require.Error(t, err)
	assert.False(t, ok)
	// cache is updated even when the write fails
	assert.True(t, f.tracker.CanBePinged(monitored))
}

func TestDebouncedWritesCoalesce(t *testing.T) {
	f := newFixture(t, model.PingConfig{DebounceDelay: 30 * time.Millisecond})
	ctx := context.Background()

	t1 := f.now
	t2 := f.now.Add(time.Second)

	ok, err := f.tracker.Extend(ctx, monitored, t1, 10*time.Minute, false)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.tracker.Extend(ctx, monitored, t2, 10*time.Minute, false)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Eventually(t, func() bool { return len(f.store.Writes()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	writes := f.store.Writes()
	require.Len(t, writes, 1)
	assert.True(t, writes[0].until.Equal(t2.Add(10*time.Minute)))
	assert.Zero(t, f.tracker.PendingWrites())
}

func TestImmediateSupersedesQueuedWrite(t *testing.T) {
	f := newFixture(t, model.PingConfig{DebounceDelay: 20 * time.Millisecond})
	ctx := context.Background()

	_, err := f.tracker.Extend(ctx, monitored, f.now, 10*time.Minute, false)
	require.NoError(t, err)
	_, err = f.tracker.Extend(ctx, monitored, f.now, 0, true)
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	writes := f.store.Writes()
	require.Len(t, writes, 1)
	assert.True(t, writes[0].until.Before(f.now))
	assert.False(t, f.tracker.CanBePinged(monitored))
}

func TestZeroWindowCancelsIdleNotification(t *testing.T) {
	f := newFixture(t, model.PingConfig{
		BlockTimeout:  10 * time.Minute,
		NotifyTimeout: 30 * time.Millisecond,
		DebounceDelay: time.Hour,
	})
	ctx := context.Background()

	require.True(t, f.tracker.HandleIncomingMessage(ctx, message("m1", monitored), model.KindPlain))
	assert.Equal(t, 1, f.sent("has made an appearance"))

	_, err := f.tracker.Extend(ctx, monitored, f.now, 0, true)
	require.NoError(t, err)
	require.Len(t, f.store.Writes(), 1)
	assert.True(t, f.store.Writes()[0].until.Before(f.now))
	assert.False(t, f.tracker.CanBePinged(monitored))

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, f.sent("doesn't seem to be around anymore"))
}

func TestPresenceAnnouncedOncePerBurst(t *testing.T) {
	f := newFixture(t, model.PingConfig{
		BlockTimeout:  10 * time.Minute,
		NotifyTimeout: 50 * time.Millisecond,
		NotifyRoles:   []string{"watchers"},
		DebounceDelay: 20 * time.Millisecond,
	})
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		require.True(t, f.tracker.HandleIncomingMessage(ctx, message("m", monitored), model.KindPlain))
	}

	announcements := f.fake.Calls("Send")
	require.Len(t, announcements, 1)
	first := announcements[0]
	assert.Equal(t, notifyCh, first.Channel)
	assert.True(t, strings.HasPrefix(first.Send.Content, "<@&watchers>, <@100> has made an appearance!"))
	assert.Contains(t, first.Send.Content, "https://discord.com/channels/g/general/m")
	assert.Equal(t, []string{"watchers"}, first.Send.AllowedMentions.Roles)

	assert.True(t, f.tracker.CanBePinged(monitored))

	require.Eventually(t, func() bool {
		return f.sent("doesn't seem to be around anymore") == 1
	}, time.Second, 5*time.Millisecond)

	idle := f.fake.Calls("Send")[1]
	assert.Empty(t, idle.Send.AllowedMentions.Parse)
	assert.Empty(t, idle.Send.AllowedMentions.Users)

	// one debounced write for the whole burst
	require.Eventually(t, func() bool { return len(f.store.Writes()) == 1 }, time.Second, 5*time.Millisecond)

	// after going idle the next message announces again
	require.True(t, f.tracker.HandleIncomingMessage(ctx, message("m2", monitored), model.KindPlain))
	assert.Equal(t, 2, f.sent("has made an appearance"))
}

func TestMonitoredByRole(t *testing.T) {
	f := newFixture(t, model.PingConfig{BlockTimeout: time.Minute, NotifyTimeout: time.Hour})
	assert.True(t, f.tracker.HandleIncomingMessage(context.Background(), message("m", "200", vipRole), model.KindPlain))
	assert.True(t, f.tracker.CanBePinged("200"))
}

func TestMemberResolvedWhenMissing(t *testing.T) {
	f := newFixture(t, model.PingConfig{BlockTimeout: time.Minute, NotifyTimeout: time.Hour})
	f.fake.AddMember(guildID, "300", vipRole)

	msg := message("m", "300")
	msg.Member = nil
	assert.True(t, f.tracker.HandleIncomingMessage(context.Background(), msg, model.KindPlain))

	msg = message("m", "400")
	msg.Member = nil
	assert.False(t, f.tracker.HandleIncomingMessage(context.Background(), msg, model.KindPlain))
}

func TestIgnoredMessages(t *testing.T) {
	f := newFixture(t, model.PingConfig{BlockTimeout: time.Minute, NotifyTimeout: time.Hour})
	ctx := context.Background()

	assert.False(t, f.tracker.HandleIncomingMessage(ctx, message("m", monitored), model.KindCommand))
	assert.False(t, f.tracker.HandleIncomingMessage(ctx, message("m", monitored), model.KindModeratorCommand))

	bot := message("m", monitored)
	bot.Author.Bot = true
	assert.False(t, f.tracker.HandleIncomingMessage(ctx, bot, model.KindPlain))

	assert.False(t, f.tracker.HandleIncomingMessage(ctx, message("m", "stranger", "other"), model.KindPlain))

	assert.False(t, f.tracker.CanBePinged(monitored))
	assert.Empty(t, f.fake.Calls("Send"))
}

func TestWarm(t *testing.T) {
	f := newFixture(t, model.PingConfig{})
	until := f.now.Add(time.Minute)
	f.store.users = []model.MonitoredUser{
		{UserID: monitored, LastActiveUntil: sqlNull(until.UnixMilli())},
		{UserID: "never"},
	}

	require.NoError(t, f.tracker.Warm(context.Background()))

	assert.Equal(t, []string{monitored}, f.store.initialized)
	assert.True(t, f.tracker.CanBePinged(monitored))
	assert.False(t, f.tracker.CanBePinged("never"))

	snap := f.tracker.Snapshot()
	assert.Len(t, snap, 1)
	assert.True(t, snap[monitored].Equal(until))
}

func TestStopFlushesQueuedWrites(t *testing.T) {
	f := newFixture(t, model.PingConfig{DebounceDelay: time.Hour})
	ctx := context.Background()

	_, err := f.tracker.Extend(ctx, monitored, f.now, time.Minute, false)
	require.NoError(t, err)
	assert.Equal(t, 1, f.tracker.PendingWrites())

	f.tracker.Stop(ctx)

	writes := f.store.Writes()
	require.Len(t, writes, 1)
	assert.True(t, writes[0].until.Equal(f.now.Add(time.Minute)))
	assert.Zero(t, f.tracker.PendingWrites())
}

func sqlNull(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: true}
}
