package commands

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pingguard/model"
	"pingguard/platform/platformtest"
	"pingguard/ruleset"
	"pingguard/utils/database"
)

type staticConfig struct{ cfg *model.Config }

func (s staticConfig) GetConfig() *model.Config { return s.cfg }

type extendCall struct {
	user      string
	window    time.Duration
	immediate bool
}

type fakeTracker struct {
	mu    sync.Mutex
	calls []extendCall
	err   error
}

func (f *fakeTracker) Extend(_ context.Context, userID string, _ time.Time, window time.Duration, immediate bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, extendCall{user: userID, window: window, immediate: immediate})
	return f.err == nil, f.err
}

func (f *fakeTracker) Snapshot() map[string]time.Time { return map[string]time.Time{} }
func (f *fakeTracker) PendingWrites() int             { return 0 }

type fakePardoner struct {
	ids []int64
	err error
}

func (f *fakePardoner) Pardon(_ context.Context, id int64) (*model.PunishmentHistory, error) {
	f.ids = append(f.ids, id)
	if f.err != nil {
		return nil, f.err
	}
	return &model.PunishmentHistory{ID: id, UserID: "42"}, nil
}

type fixture struct {
	set      *Set
	store    *database.Store
	fake     *platformtest.Fake
	rules    *ruleset.Cache
	tracker  *fakeTracker
	pardoner *fakePardoner
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := database.Open(database.DriverSQLite, filepath.Join(t.TempDir(), "commands.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	f := &fixture{
		store:    store,
		fake:     platformtest.New(),
		rules:    ruleset.New(),
		tracker:  &fakeTracker{},
		pardoner: &fakePardoner{},
		now:      time.Unix(1_700_000_000, 0),
	}
	cfg := &model.Config{Prefix: "!", Ping: model.PingConfig{BlockTimeout: 10 * time.Minute}}
	f.set = New(Deps{
		Config:   staticConfig{cfg},
		Platform: f.fake,
		Store:    store,
		Database: store,
		Rules:    f.rules,
		Tracker:  f.tracker,
		Pardoner: f.pardoner,
		Latency:  func() time.Duration { return 42 * time.Millisecond },
		Started:  f.now.Add(-time.Hour),
		Logger:   zap.NewNop(),
	})
	f.set.now = func() time.Time { return f.now }
	t.Cleanup(f.set.Stop)
	return f
}

func message(author, content string) *discordgo.Message {
	return &discordgo.Message{
		ID:        "m",
		ChannelID: "c",
		GuildID:   "g",
		Content:   content,
		Author:    &discordgo.User{ID: author},
	}
}

// run parses content like the router does and executes it.
func (f *fixture) run(t *testing.T, author, content string, moderator bool) error {
	t.Helper()
	cmd, name, args, ok := f.set.Parse(content, "!")
	require.True(t, ok, "not a command: %q", content)
	return f.set.Execute(cmd, &Invocation{
		Ctx:       context.Background(),
		Message:   message(author, content),
		Name:      name,
		Args:      args,
		Moderator: moderator,
	})
}

func TestParse(t *testing.T) {
	f := newFixture(t)

	cmd, name, args, ok := f.set.Parse("!extend 30", "!")
	require.True(t, ok)
	assert.Equal(t, "extend", cmd.Name)
	assert.Equal(t, "extend", name)
	assert.Equal(t, []string{"30"}, args)

	cmd, name, _, ok = f.set.Parse("!STOP", "!")
	require.True(t, ok)
	assert.Equal(t, "clear", cmd.Name)
	assert.Equal(t, "stop", name)

	for _, content := range []string{"hello", "!", "!unknown", "?extend", ""} {
		_, _, _, ok := f.set.Parse(content, "!")
		assert.False(t, ok, content)
	}

	assert.Equal(t, []string{"clear", "extend", "ping", "punishments", "status"}, f.set.Names())
}

func TestPermissions(t *testing.T) {
	f := newFixture(t)

	require.ErrorIs(t, f.run(t, "someone", "!punishments list", false), ErrNotPermitted)
	require.ErrorIs(t, f.run(t, "someone", "!status", false), ErrNotPermitted)
	require.ErrorIs(t, f.run(t, "someone", "!extend", false), ErrNotPermitted)
	assert.Empty(t, f.fake.Calls())
	assert.Empty(t, f.tracker.calls)

	require.NoError(t, f.run(t, "someone", "!ping", false))
	sends := f.fake.Calls("Send")
	require.Len(t, sends, 1)
	assert.Equal(t, "Pong! Bot latency 42ms.", sends[0].Send.Content)
}

func (f *fixture) monitor(userID string) {
	f.rules.Refresh([]model.PunishmentRule{
		{Active: true, Target: model.TargetUser, TargetKey: userID, Type: model.PunishmentMute},
	})
}

func TestExtend(t *testing.T) {
	f := newFixture(t)
	f.monitor("vip")

	require.NoError(t, f.run(t, "vip", "!extend", false))
	require.NoError(t, f.run(t, "vip", "!extend 60", false))

	require.Len(t, f.tracker.calls, 2)
	assert.Equal(t, extendCall{user: "vip", window: defaultExtend, immediate: true}, f.tracker.calls[0])
	assert.Equal(t, extendCall{user: "vip", window: time.Hour, immediate: true}, f.tracker.calls[1])

	sends := f.fake.Calls("Send")
	require.Len(t, sends, 2)
	content := sends[0].Send.Content
	assert.True(t, strings.HasPrefix(content, "<@vip>, you'll be able to be pinged until **<t:"))
	assert.Contains(t, content, "**10 minutes**")
	assert.Empty(t, sends[0].Send.AllowedMentions.Parse)
	assert.True(t, f.set.cleanup.Pending("c/sent-1"))
}

func TestExtendRejectsBadMinutes(t *testing.T) {
	f := newFixture(t)
	f.monitor("vip")

	require.NoError(t, f.run(t, "vip", "!extend soon", false))
	assert.Empty(t, f.tracker.calls)
	sends := f.fake.Calls("Send")
	require.Len(t, sends, 1)
	assert.Contains(t, sends[0].Send.Content, "numeric value")
}

func TestClear(t *testing.T) {
	f := newFixture(t)
	f.monitor("vip")

	require.NoError(t, f.run(t, "vip", "!end", false))
	require.Len(t, f.tracker.calls, 1)
	assert.Less(t, f.tracker.calls[0].window, time.Duration(0))
	assert.True(t, f.tracker.calls[0].immediate)

	sends := f.fake.Calls("Send")
	require.Len(t, sends, 1)
	assert.Equal(t, "<@vip>, you'll no longer be able to be pinged.", sends[0].Send.Content)
}

func TestExtendStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.monitor("vip")
	f.tracker.err = errors.New("disk full")

	require.Error(t, f.run(t, "vip", "!extend", false))
	assert.Empty(t, f.fake.Calls("Send"))
}

func TestHelpIsDefault(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.run(t, "mod", "!punishments", true))
	require.NoError(t, f.run(t, "mod", "!punishments nonsense", true))

	sends := f.fake.Calls("Send")
	require.Len(t, sends, 2)
	for _, s := range sends {
		require.Len(t, s.Send.Embeds, 1)
		assert.Equal(t, "!punishments Walkthrough", s.Send.Embeds[0].Title)
	}
}

func TestCreateListRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.run(t, "mod", "!punishments create 0 mute user <@42> no 60", true))
	require.NoError(t, f.run(t, "mod", "!punishments create 1 ban user 42 no", true))
	require.NoError(t, f.run(t, "mod", "!punishments create 0 kick role <@&7> yes 2h", true))

	rules, err := f.store.ListActiveRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 3)

	standard, lenient := f.rules.Entry(model.TargetUser, "42")
	require.Len(t, standard, 2)
	assert.Empty(t, lenient)
	assert.Equal(t, model.PunishmentMute, standard[0].Type)
	d, ok := standard[0].Duration()
	assert.True(t, ok)
	assert.Equal(t, time.Hour, d)
	_, ok = standard[1].Duration()
	assert.False(t, ok)
	assert.True(t, f.rules.HasRules(model.TargetRole, "7"))

	users, err := f.store.ListMonitoredUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "42", users[0].UserID)

	replies := f.fake.Calls("Send")
	require.Len(t, replies, 3)
	assert.Contains(t, replies[0].Send.Content, "Successfully added punishment to user <@42>.")
	assert.Contains(t, replies[0].Send.Content, "Punishment length: 1 hour")
	assert.Contains(t, replies[1].Send.Content, "Punishment length: indefinite")

	require.NoError(t, f.run(t, "mod", "!punishments list", true))
	list := f.fake.Calls("Send")[3]
	require.Len(t, list.Send.Embeds, 2)
	assert.Equal(t, "Punishments for pinging role", list.Send.Embeds[0].Title)
	assert.Equal(t, "Punishments for pinging user", list.Send.Embeds[1].Title)
	assert.Equal(t, "*#0*, **mute** for ___1 hour___\n*#1*, **ban** for ___eternity___", list.Send.Embeds[1].Fields[2].Value)
	assert.Equal(t, "No punishments found.", list.Send.Embeds[1].Fields[1].Value)

	require.NoError(t, f.run(t, "mod", "!punishments remove 1 user 42 no", true))
	standard, _ = f.rules.Entry(model.TargetUser, "42")
	assert.Len(t, standard, 1)
	assert.Contains(t, f.fake.Calls("Send")[4].Send.Content, "Successfully removed punishment for user <@42>.")

	require.NoError(t, f.run(t, "mod", "!punishments remove 1 user 42 no", true))
	assert.Contains(t, f.fake.Calls("Send")[5].Send.Content, "There is no active punishment #1")
}

func TestListEmpty(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.run(t, "mod", "!punishments list", true))
	sends := f.fake.Calls("Send")
	require.Len(t, sends, 1)
	assert.Contains(t, sends[0].Send.Content, "There are no punishments set up.")
}

func TestCreateRejectsBadArguments(t *testing.T) {
	f := newFixture(t)

	cases := map[string]string{
		"!punishments create":                       "",
		"!punishments create x mute user 42 no":     "index must be numeric",
		"!punishments create 0 slap user 42 no":     "punishment type",
		"!punishments create 0 mute group 42 no":    "punishment target",
		"!punishments create 0 mute user bob no":    "target key",
		"!punishments create 0 mute user 42 maybe":  "leniency",
		"!punishments create 0 mute user 42 no bad": "length",
		"!punishments create 0 ban user 42 no 0":    "length must be above zero",
		"!punishments create 0 ban user 42 no 0d":   "length must be above zero",
		"!punishments create 99999 mute user 42 no": "index must be numeric",
	}
	for content, want := range cases {
		require.NoError(t, f.run(t, "mod", content, true))
		sends := f.fake.Calls("Send")
		last := sends[len(sends)-1]
		assert.Contains(t, last.Send.Content, want, content)
		require.Len(t, last.Send.Embeds, 1)
		assert.Equal(t, "How To Create A Punishment", last.Send.Embeds[0].Title)
	}

	rules, err := f.store.ListActiveRules(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestRemoveRejectsBadArguments(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.run(t, "mod", "!punishments remove 0 user", true))
	sends := f.fake.Calls("Send")
	require.Len(t, sends, 1)
	require.Len(t, sends[0].Send.Embeds, 1)
	assert.Equal(t, "How To Remove A Punishment", sends[0].Send.Embeds[0].Title)
}

func TestHistoryFor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		_, err := f.store.CreateHistory(ctx, model.PunishmentHistory{
			UserID:    "42",
			Active:    i == 11,
			EndsAt:    model.UnixOrNull(f.now.Add(time.Duration(i-10)*time.Hour), true),
			CreatedAt: f.now.Add(time.Duration(i-12) * time.Hour).Unix(),
		})
		require.NoError(t, err)
	}

	require.NoError(t, f.run(t, "mod", "!punishments for <@42>", true))
	sends := f.fake.Calls("Send")
	require.Len(t, sends, 2)
	assert.Equal(t, "Here is a list of punishments for <@42>.", sends[0].Send.Content)
	assert.Empty(t, sends[1].Send.Content)

	first := sends[0].Send.Embeds[0]
	require.Len(t, first.Fields, historyPerEmbed)
	assert.True(t, strings.HasPrefix(first.Fields[0].Name, "Punishment #1 (id 1)"))
	assert.Contains(t, first.Fields[0].Name, "No Longer Active")

	second := sends[1].Send.Embeds[0]
	require.Len(t, second.Fields, 2)
	assert.Equal(t, "Punishment #12 (id 12)", second.Fields[1].Name)
	assert.Contains(t, second.Fields[1].Value, "Punishment Expires at **the end of time**")
}

func TestHistoryForNobody(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.run(t, "mod", "!punishments for", true))
	require.NoError(t, f.run(t, "mod", "!punishments for 42", true))

	sends := f.fake.Calls("Send")
	require.Len(t, sends, 2)
	assert.Contains(t, sends[0].Send.Content, "An invalid user was provided.")
	assert.Contains(t, sends[1].Send.Embeds[0].Description, "No punishments on record.")
}

func TestPardon(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.run(t, "mod", "!punishments pardon 5", true))
	assert.Equal(t, []int64{5}, f.pardoner.ids)
	assert.Equal(t, "Punishment 5 for <@42> has been lifted.", f.fake.Calls("Send")[0].Send.Content)

	f.pardoner.err = errors.New("unknown punishment")
	require.NoError(t, f.run(t, "mod", "!punishments pardon 6", true))
	assert.Equal(t, "Could not lift punishment 6.", f.fake.Calls("Send")[1].Send.Content)

	require.NoError(t, f.run(t, "mod", "!punishments pardon", true))
	assert.Contains(t, f.fake.Calls("Send")[2].Send.Content, "Usage:")
	assert.Len(t, f.pardoner.ids, 2)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.run(t, "mod", "!status", true))
	sends := f.fake.Calls("Send")
	require.Len(t, sends, 1)
	embed := sends[0].Send.Embeds[0]
	assert.Equal(t, "System Status", embed.Title)
	assert.Equal(t, "Up for 1 hour", embed.Footer.Text)

	var database string
	for _, field := range embed.Fields {
		if strings.Contains(field.Name, "Database") {
			database = field.Value
		}
	}
	assert.True(t, strings.HasPrefix(database, "sqlite3, ok"), database)
}
