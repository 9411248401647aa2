package database

import (
	"context"
	"time"

	"pingguard/model"
)

const historyColumns = `id, user_id, active, ends_at, expires_at, created_at`

// CreateHistory records a punishment and returns the new row id.
func (s *Store) CreateHistory(ctx context.Context, h model.PunishmentHistory) (int64, error) {
	query := s.rebind(`INSERT INTO punishment_history (user_id, active, ends_at, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`)

	var id int64
	err := s.db.QueryRowxContext(ctx, query, h.UserID, h.Active, h.EndsAt, h.ExpiresAt, h.CreatedAt).Scan(&id)
	if err != nil {
		return 0, wrap(KindInsert, tablePunishmentHistory, err)
	}
	return id, nil
}

// HistoryByUser returns a user's punishment history, newest first.
// includeEnded keeps records whose punishment is over or already lifted;
// includeExpired keeps records that no longer count towards escalation.
func (s *Store) HistoryByUser(ctx context.Context, userID string, includeEnded, includeExpired bool, now time.Time) ([]model.PunishmentHistory, error) {
	query := `SELECT ` + historyColumns + ` FROM punishment_history WHERE user_id = ?`
	args := []interface{}{userID}

	if !includeEnded {
		query += ` AND active = TRUE AND (ends_at IS NULL OR ends_at > ?)`
		args = append(args, now.Unix())
	}
	if !includeExpired {
		query += ` AND (expires_at IS NULL OR expires_at > ?)`
		args = append(args, now.Unix())
	}
	query += ` ORDER BY created_at DESC, id DESC`

	var records []model.PunishmentHistory
	if err := s.db.SelectContext(ctx, &records, s.rebind(query), args...); err != nil {
		return nil, wrap(KindSelect, tablePunishmentHistory, err)
	}
	return records, nil
}

// LatestActivePerUser returns the most recent active, non-expired record of
// every user, annotated with the user's number of active records.
func (s *Store) LatestActivePerUser(ctx context.Context, now time.Time) ([]model.PunishmentHistoryWithCount, error) {
	query := s.rebind(`SELECT h.id, h.user_id, h.active, h.ends_at, h.expires_at, h.created_at,
			(SELECT COUNT(*) FROM punishment_history c WHERE c.user_id = h.user_id AND c.active = TRUE) AS active_count
		FROM punishment_history h
		WHERE h.id IN (
			SELECT MAX(id) FROM punishment_history
			WHERE active = TRUE AND (expires_at IS NULL OR expires_at > ?)
			GROUP BY user_id
		)
		ORDER BY h.id`)

	var records []model.PunishmentHistoryWithCount
	if err := s.db.SelectContext(ctx, &records, query, now.Unix()); err != nil {
		return nil, wrap(KindSelect, tablePunishmentHistory, err)
	}
	return records, nil
}

// CloseEnded marks every active record of userID whose punishment has ended
// by now as inactive. It returns the number of records closed.
func (s *Store) CloseEnded(ctx context.Context, userID string, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE punishment_history SET active = FALSE
		WHERE user_id = ? AND active = TRUE AND ends_at IS NOT NULL AND ends_at <= ?`),
		userID, now.Unix())
	if err != nil {
		return 0, wrap(KindUpdate, tablePunishmentHistory, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrap(KindUpdate, tablePunishmentHistory, err)
	}
	return n, nil
}

// SetActive flips the active flag of a single record.
func (s *Store) SetActive(ctx context.Context, id int64, active bool) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`UPDATE punishment_history SET active = ? WHERE id = ?`), active, id)
	return wrap(KindUpdate, tablePunishmentHistory, err)
}

// HistoryByID returns a single record.
func (s *Store) HistoryByID(ctx context.Context, id int64) (*model.PunishmentHistory, error) {
	var h model.PunishmentHistory
	err := s.db.GetContext(ctx, &h, s.rebind(`SELECT `+historyColumns+` FROM punishment_history WHERE id = ?`), id)
	if err != nil {
		return nil, wrap(KindSelect, tablePunishmentHistory, err)
	}
	return &h, nil
}
