package database

import (
	"context"
	"time"

	"pingguard/model"
)

// InitializeUsers creates an empty row for each user id that has none.
// It returns the number of rows created.
func (s *Store) InitializeUsers(ctx context.Context, userIDs []string) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, wrap(KindInsert, tableMonitoredUsers, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(`INSERT INTO monitored_users (user_id) VALUES (?) ON CONFLICT (user_id) DO NOTHING`))
	if err != nil {
		return 0, wrap(KindInsert, tableMonitoredUsers, err)
	}
	defer stmt.Close()

	var created int64
	for _, id := range userIDs {
		res, err := stmt.ExecContext(ctx, id)
		if err != nil {
			return 0, wrap(KindInsert, tableMonitoredUsers, err)
		}
		n, _ := res.RowsAffected()
		created += n
	}

	if err := tx.Commit(); err != nil {
		return 0, wrap(KindInsert, tableMonitoredUsers, err)
	}
	return created, nil
}

// UpsertLastActive stores the end of a user's ping-eligibility window.
func (s *Store) UpsertLastActive(ctx context.Context, userID string, until time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO monitored_users (user_id, last_active_until) VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET last_active_until = excluded.last_active_until`),
		userID, until.UnixMilli())
	if err != nil {
		return false, wrap(KindUpdate, tableMonitoredUsers, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap(KindUpdate, tableMonitoredUsers, err)
	}
	return n == 1, nil
}

// ListMonitoredUsers returns every monitored user row.
func (s *Store) ListMonitoredUsers(ctx context.Context) ([]model.MonitoredUser, error) {
	var users []model.MonitoredUser
	err := s.db.SelectContext(ctx, &users, `SELECT user_id, last_active_until FROM monitored_users ORDER BY user_id`)
	if err != nil {
		return nil, wrap(KindSelect, tableMonitoredUsers, err)
	}
	return users, nil
}
