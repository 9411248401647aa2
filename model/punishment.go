package model

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// TargetType is what a punishment rule protects: a single user or everyone holding a role.
type TargetType string

const (
	TargetUser TargetType = "user"
	TargetRole TargetType = "role"
)

// ParseTargetType accepts "user" or "role" in any case.
func ParseTargetType(s string) (TargetType, error) {
	switch t := TargetType(strings.ToLower(strings.TrimSpace(s))); t {
	case TargetUser, TargetRole:
		return t, nil
	}
	return "", fmt.Errorf("punishment target %q is invalid", s)
}

// PunishmentType is the consequence handed out when a rule matches.
type PunishmentType string

const (
	PunishmentBan  PunishmentType = "ban"
	PunishmentMute PunishmentType = "mute"
	PunishmentKick PunishmentType = "kick"
)

// ParsePunishmentType accepts "ban", "mute" or "kick" in any case.
func ParsePunishmentType(s string) (PunishmentType, error) {
	switch t := PunishmentType(strings.ToLower(strings.TrimSpace(s))); t {
	case PunishmentBan, PunishmentMute, PunishmentKick:
		return t, nil
	}
	return "", fmt.Errorf("punishment type %q is invalid", s)
}

// PunishmentRule represents one escalation tier in the 'punishment_rules' table.
type PunishmentRule struct {
	ID            int64          `db:"id"`
	PriorityIndex int            `db:"priority_index"`
	Active        bool           `db:"active"`
	Type          PunishmentType `db:"type"`
	Target        TargetType     `db:"target"`
	TargetKey     string         `db:"target_key"`
	Lenient       bool           `db:"lenient"`
	Length        sql.NullInt64  `db:"length"` // milliseconds, NULL means indefinite
}

// Duration returns the rule length and false when the rule is indefinite.
func (r PunishmentRule) Duration() (time.Duration, bool) {
	if !r.Length.Valid {
		return 0, false
	}
	return time.Duration(r.Length.Int64) * time.Millisecond, true
}

// LengthFromDuration converts a duration into the nullable millisecond column value.
// A non-positive duration is stored as indefinite.
func LengthFromDuration(d time.Duration) sql.NullInt64 {
	if d <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: d.Milliseconds(), Valid: true}
}

// PunishmentHistory represents a punishment that was actually handed out.
// The database table is named 'punishment_history'.
type PunishmentHistory struct {
	ID        int64         `db:"id"`
	UserID    string        `db:"user_id"`
	Active    bool          `db:"active"`
	EndsAt    sql.NullInt64 `db:"ends_at"`    // unix seconds, NULL means indefinite
	ExpiresAt sql.NullInt64 `db:"expires_at"` // unix seconds, NULL means it never stops counting
	CreatedAt int64         `db:"created_at"` // unix seconds
}

// EndTime returns when the punishment ends and false when it is indefinite.
func (h PunishmentHistory) EndTime() (time.Time, bool) {
	if !h.EndsAt.Valid {
		return time.Time{}, false
	}
	return time.Unix(h.EndsAt.Int64, 0), true
}

// ExpiryTime returns when the record stops counting towards escalation.
func (h PunishmentHistory) ExpiryTime() (time.Time, bool) {
	if !h.ExpiresAt.Valid {
		return time.Time{}, false
	}
	return time.Unix(h.ExpiresAt.Int64, 0), true
}

// Ended reports whether the punishment period is over at now.
func (h PunishmentHistory) Ended(now time.Time) bool {
	end, ok := h.EndTime()
	return ok && end.Before(now)
}

// DueForLift reports whether reconciliation should undo this punishment.
func (h PunishmentHistory) DueForLift(now time.Time) bool {
	return h.Active && h.Ended(now)
}

// PunishmentHistoryWithCount is a history row annotated with the number of
// currently active records its user has.
type PunishmentHistoryWithCount struct {
	PunishmentHistory
	Count int `db:"active_count"`
}

// UnixOrNull converts a time into a nullable unix-seconds column value.
func UnixOrNull(t time.Time, ok bool) sql.NullInt64 {
	if !ok {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
