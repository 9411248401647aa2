package database

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// Store is the storage layer for monitored users, punishment rules and
// punishment history.
type Store struct {
	db     *sqlx.DB
	driver string
}

// Open connects to the database. An empty driver selects sqlite3.
func Open(driver, dsn string) (*Store, error) {
	if driver == "" {
		driver = DriverSQLite
	}
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		// sqlite allows a single writer; serialise access through one connection
		db.SetMaxOpenConns(1)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db, driver: driver}, nil
}

// SetMaxOpenConns overrides the pool size. Ignored for sqlite.
func (s *Store) SetMaxOpenConns(n int) {
	if n > 0 && s.driver != DriverSQLite {
		s.db.SetMaxOpenConns(n)
	}
}

// Driver returns the driver name the store was opened with.
func (s *Store) Driver() string {
	return s.driver
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Stats returns the pool statistics.
func (s *Store) Stats() (open, inUse int) {
	st := s.db.Stats()
	return st.OpenConnections, st.InUse
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) rebind(query string) string {
	return s.db.Rebind(query)
}
