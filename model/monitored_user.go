package model

import (
	"database/sql"
	"time"
)

// MonitoredUser is a user whose ping-eligibility window is tracked.
type MonitoredUser struct {
	UserID          string        `db:"user_id"`
	LastActiveUntil sql.NullInt64 `db:"last_active_until"` // unix milliseconds
}

// Until returns the end of the ping-eligibility window. A user that never spoke
// gets the zero time, which is always in the past.
func (u MonitoredUser) Until() time.Time {
	if !u.LastActiveUntil.Valid {
		return time.Time{}
	}
	return time.UnixMilli(u.LastActiveUntil.Int64)
}
