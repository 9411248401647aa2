// Package commands implements the prefix commands operators and monitored
// members can run.
package commands

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"pingguard/model"
	"pingguard/platform"
	"pingguard/ruleset"
	"pingguard/utils/debounce"
)

// ErrNotPermitted is returned by Execute when the author may not run the command.
var ErrNotPermitted = errors.New("not permitted")

// Store is the storage the commands need.
type Store interface {
	ruleset.Store
	CreateRule(ctx context.Context, rule model.PunishmentRule) (int64, error)
	RemoveRule(ctx context.Context, priorityIndex int, target model.TargetType, targetKey string, lenient bool) (bool, error)
	HistoryByUser(ctx context.Context, userID string, includeEnded, includeExpired bool, now time.Time) ([]model.PunishmentHistory, error)
	InitializeUsers(ctx context.Context, userIDs []string) (int64, error)
}

// Database is what !status reports about the connection pool.
type Database interface {
	Ping(ctx context.Context) error
	Stats() (open, inUse int)
	Driver() string
}

type Tracker interface {
	Extend(ctx context.Context, userID string, now time.Time, window time.Duration, immediate bool) (bool, error)
	Snapshot() map[string]time.Time
	PendingWrites() int
}

type Pardoner interface {
	Pardon(ctx context.Context, historyID int64) (*model.PunishmentHistory, error)
}

// Deps are the collaborators shared by every command.
type Deps struct {
	Config   model.BotConfigProvider
	Platform platform.Platform
	Store    Store
	Database Database
	Rules    *ruleset.Cache
	Tracker  Tracker
	Pardoner Pardoner
	Latency  func() time.Duration
	Started  time.Time
	Logger   *zap.Logger
}

// Invocation is a single command call.
type Invocation struct {
	Ctx       context.Context
	Message   *discordgo.Message
	Name      string
	Args      []string
	Roles     []string
	Moderator bool
}

// Command is a prefix command. Moderator commands are refused for everyone
// else; Allowed can narrow access further.
type Command struct {
	Name      string
	Aliases   []string
	Moderator bool
	Allowed   func(inv *Invocation) bool
	Run       func(inv *Invocation) error
}

// Set is the table of known commands.
type Set struct {
	deps    Deps
	byName  map[string]*Command
	names   []string
	cleanup *debounce.Scheduler
	logger  *zap.Logger
	now     func() time.Time
}

func New(deps Deps) *Set {
	logger := deps.Logger.Named("commands")
	s := &Set{
		deps:    deps,
		byName:  make(map[string]*Command),
		cleanup: debounce.New(logger.Named("cleanup")),
		logger:  logger,
		now:     time.Now,
	}
	for _, c := range []*Command{
		{Name: "extend", Allowed: s.monitored, Run: s.extend},
		{Name: "clear", Aliases: []string{"end", "stop"}, Allowed: s.monitored, Run: s.clear},
		{Name: "punishments", Moderator: true, Run: s.punishments},
		{Name: "status", Moderator: true, Run: s.status},
		{Name: "ping", Run: s.ping},
	} {
		s.add(c)
	}
	return s
}

func (s *Set) add(c *Command) {
	s.names = append(s.names, c.Name)
	s.byName[c.Name] = c
	for _, a := range c.Aliases {
		s.byName[a] = c
	}
}

// Names returns the primary command names, sorted.
func (s *Set) Names() []string {
	out := append([]string(nil), s.names...)
	sort.Strings(out)
	return out
}

// Lookup finds a command by name or alias, ignoring case.
func (s *Set) Lookup(name string) (*Command, bool) {
	c, ok := s.byName[strings.ToLower(name)]
	return c, ok
}

// Parse splits content into a command name and arguments when it starts with
// prefix and names a known command.
func (s *Set) Parse(content, prefix string) (*Command, string, []string, bool) {
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return nil, "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return nil, "", nil, false
	}
	c, ok := s.Lookup(fields[0])
	if !ok {
		return nil, "", nil, false
	}
	return c, strings.ToLower(fields[0]), fields[1:], true
}

// Execute runs c after the permission checks.
func (s *Set) Execute(c *Command, inv *Invocation) error {
	if c.Moderator && !inv.Moderator {
		return ErrNotPermitted
	}
	if c.Allowed != nil && !c.Allowed(inv) {
		return ErrNotPermitted
	}
	return c.Run(inv)
}

// Stop cancels pending reply deletions.
func (s *Set) Stop() {
	s.cleanup.Stop()
}

func (s *Set) monitored(inv *Invocation) bool {
	return s.deps.Rules.IsMonitoredMember(inv.Message.Author.ID, inv.Roles)
}

func (s *Set) prefix() string {
	return s.deps.Config.GetConfig().Prefix
}
