package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

const (
	tableMonitoredUsers    = "monitored_users"
	tablePunishmentRules   = "punishment_rules"
	tablePunishmentHistory = "punishment_history"
)

// migration is one versioned step for a table. Steps run in order, each at
// most once; the version reached is recorded in schema_versions.
type migration func(d dialect) []string

type dialect struct {
	serial string
}

func dialectFor(driver string) dialect {
	if driver == DriverPostgres {
		return dialect{serial: "BIGSERIAL PRIMARY KEY"}
	}
	return dialect{serial: "INTEGER PRIMARY KEY AUTOINCREMENT"}
}

var migrations = []struct {
	table string
	steps []migration
}{
	{
		table: tableMonitoredUsers,
		steps: []migration{
			func(d dialect) []string {
				return []string{
					`CREATE TABLE IF NOT EXISTS monitored_users (
						user_id TEXT NOT NULL PRIMARY KEY,
						last_active_until BIGINT
					)`,
				}
			},
		},
	},
	{
		table: tablePunishmentRules,
		steps: []migration{
			func(d dialect) []string {
				return []string{
					`CREATE TABLE IF NOT EXISTS punishment_rules (
						id ` + d.serial + `,
						priority_index INTEGER NOT NULL,
						active BOOLEAN NOT NULL DEFAULT TRUE,
						type TEXT NOT NULL,
						target TEXT NOT NULL,
						target_key TEXT NOT NULL,
						lenient BOOLEAN NOT NULL DEFAULT FALSE,
						length BIGINT
					)`,
					`CREATE UNIQUE INDEX IF NOT EXISTS punishment_rules_uindex
						ON punishment_rules (priority_index, target, target_key, lenient)`,
				}
			},
		},
	},
	{
		table: tablePunishmentHistory,
		steps: []migration{
			func(d dialect) []string {
				return []string{
					`CREATE TABLE IF NOT EXISTS punishment_history (
						id ` + d.serial + `,
						user_id TEXT NOT NULL,
						active BOOLEAN NOT NULL DEFAULT TRUE,
						ends_at BIGINT,
						expires_at BIGINT,
						created_at BIGINT NOT NULL
					)`,
				}
			},
			func(d dialect) []string {
				return []string{
					`CREATE INDEX IF NOT EXISTS punishment_history_user_active
						ON punishment_history (user_id, active)`,
				}
			},
		},
	},
}

// Migrate creates missing tables and runs pending per-table migrations.
// It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_versions (
		table_name TEXT NOT NULL PRIMARY KEY,
		version INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_versions table: %w", err)
	}

	d := dialectFor(s.driver)
	for _, m := range migrations {
		if err := s.migrateTable(ctx, d, m.table, m.steps); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) migrateTable(ctx context.Context, d dialect, table string, steps []migration) error {
	version, err := s.schemaVersion(ctx, table)
	if err != nil {
		return err
	}

	for v := version; v < len(steps); v++ {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration for %s: %w", table, err)
		}

		if err := applyStep(ctx, tx, steps[v](d)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to migrate %s to version %d: %w", table, v+1, err)
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO schema_versions (table_name, version) VALUES (?, ?)
			ON CONFLICT (table_name) DO UPDATE SET version = excluded.version`), table, v+1)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record version %d for %s: %w", v+1, table, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration for %s: %w", table, err)
		}
	}
	return nil
}

func applyStep(ctx context.Context, tx *sqlx.Tx, stmts []string) error {
	for _, stmt := range stmts {
		_, err := tx.ExecContext(ctx, stmt)
		// columns added by hand before versioning existed
		if err != nil && !isDuplicateColumn(err) {
			return err
		}
	}
	return nil
}

func isDuplicateColumn(err error) bool {
	return strings.Contains(err.Error(), "duplicate column name")
}

func (s *Store) schemaVersion(ctx context.Context, table string) (int, error) {
	var version int
	err := s.db.GetContext(ctx, &version, s.rebind(`SELECT version FROM schema_versions WHERE table_name = ?`), table)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version for %s: %w", table, err)
	}
	return version, nil
}

// SchemaVersion returns the migration version recorded for table.
func (s *Store) SchemaVersion(ctx context.Context, table string) (int, error) {
	return s.schemaVersion(ctx, table)
}
