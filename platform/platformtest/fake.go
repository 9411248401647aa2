// Package platformtest provides an in-memory platform.Platform for tests.
package platformtest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/bwmarrin/discordgo"

	"pingguard/platform"
)

var _ platform.Platform = (*Fake)(nil)

// ErrNotFound is returned for members and channels the fake does not know.
var ErrNotFound = errors.New("platformtest: not found")

// Call is one recorded platform action.
type Call struct {
	Op      string
	Guild   string
	Channel string
	User    string
	Role    string
	Message string
	Reason  string
	Days    int
	Send    *discordgo.MessageSend
	Embed   *discordgo.MessageEmbed
}

// Fake records every call. Errors for an operation can be injected with Fail.
type Fake struct {
	mu       sync.Mutex
	members  map[string]*discordgo.Member
	channels map[string]*discordgo.Channel
	fail     map[string]error
	calls    []Call
	nextID   int
}

func New() *Fake {
	return &Fake{
		members:  make(map[string]*discordgo.Member),
		channels: make(map[string]*discordgo.Channel),
		fail:     make(map[string]error),
	}
}

// AddMember registers a guild member with the given roles.
func (f *Fake) AddMember(guildID, userID string, roles ...string) *discordgo.Member {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &discordgo.Member{
		GuildID: guildID,
		User:    &discordgo.User{ID: userID, Username: "user" + userID},
		Roles:   roles,
	}
	f.members[guildID+"/"+userID] = m
	return m
}

// AddChannel registers a channel.
func (f *Fake) AddChannel(c *discordgo.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[c.ID] = c
}

// Fail makes every later call to op return err. A nil err clears it.
func (f *Fake) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, op)
		return
	}
	f.fail[op] = err
}

// Calls returns a copy of the recorded calls, optionally filtered by op.
func (f *Fake) Calls(ops ...string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(ops) == 0 {
		return append([]Call(nil), f.calls...)
	}
	var out []Call
	for _, c := range f.calls {
		for _, op := range ops {
			if c.Op == op {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func (f *Fake) record(c Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return f.fail[c.Op]
}

func (f *Fake) Member(_ context.Context, guildID, userID string) (*discordgo.Member, error) {
	if err := f.record(Call{Op: "Member", Guild: guildID, User: userID}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[guildID+"/"+userID]
	if !ok {
		return nil, fmt.Errorf("member %s: %w", userID, ErrNotFound)
	}
	return m, nil
}

func (f *Fake) Channel(_ context.Context, channelID string) (*discordgo.Channel, error) {
	if err := f.record(Call{Op: "Channel", Channel: channelID}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("channel %s: %w", channelID, ErrNotFound)
	}
	return c, nil
}

func (f *Fake) DeleteMessage(_ context.Context, channelID, messageID string) error {
	return f.record(Call{Op: "DeleteMessage", Channel: channelID, Message: messageID})
}

func (f *Fake) Send(_ context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	if err := f.record(Call{Op: "Send", Channel: channelID, Send: msg}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.nextID++
	id := "sent-" + strconv.Itoa(f.nextID)
	f.mu.Unlock()
	return &discordgo.Message{ID: id, ChannelID: channelID, Content: msg.Content}, nil
}

func (f *Fake) SendDirectEmbed(_ context.Context, userID string, embed *discordgo.MessageEmbed) error {
	return f.record(Call{Op: "SendDirectEmbed", User: userID, Embed: embed})
}

func (f *Fake) Ban(_ context.Context, guildID, userID, reason string, deleteDays int) error {
	return f.record(Call{Op: "Ban", Guild: guildID, User: userID, Reason: reason, Days: deleteDays})
}

func (f *Fake) Unban(_ context.Context, guildID, userID, reason string) error {
	return f.record(Call{Op: "Unban", Guild: guildID, User: userID, Reason: reason})
}

func (f *Fake) Kick(_ context.Context, guildID, userID, reason string) error {
	return f.record(Call{Op: "Kick", Guild: guildID, User: userID, Reason: reason})
}

func (f *Fake) AddRole(_ context.Context, guildID, userID, roleID string) error {
	return f.record(Call{Op: "AddRole", Guild: guildID, User: userID, Role: roleID})
}

func (f *Fake) RemoveRole(_ context.Context, guildID, userID, roleID string) error {
	return f.record(Call{Op: "RemoveRole", Guild: guildID, User: userID, Role: roleID})
}

// RESTError builds a discordgo REST error with the given API code.
func RESTError(code int) error {
	return &discordgo.RESTError{
		Response:     &http.Response{StatusCode: http.StatusNotFound, Status: "404 Not Found"},
		ResponseBody: []byte(`{"code": ` + strconv.Itoa(code) + `}`),
		Message:      &discordgo.APIErrorMessage{Code: code, Message: "platformtest"},
	}
}
