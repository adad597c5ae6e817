// Package store persists helios state (API keys, usage logs, admins, leads)
// behind a small SQL layer. SQLite is the default backend; postgres and
// mysql are selectable by driver name, with queries written once using `?`
// placeholders and rebound per dialect.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Store manages helios persistent state. It implements the KeyStore,
// UsageStore, AdminStore, and LeadStore interfaces consumed by the service
// layer.
type Store struct {
	db     *sqlx.DB
	driver string
}

// Open connects to the configured backend and runs migrations.
//
//   - driver "sqlite": dsn is a data directory; empty means in-memory.
//   - driver "postgres": dsn is a pgx connection string.
//   - driver "mysql": dsn is a go-sql-driver DSN with parseTime=true.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case "", "sqlite":
		return openSQLite(dsn)
	case "postgres":
		db, err := sqlx.Connect("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return migrateAndWrap(db, "postgres")
	case "mysql":
		db, err := sqlx.Connect("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		return migrateAndWrap(db, "mysql")
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

func openSQLite(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "helios.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite doesn't support concurrent writes; a single connection also
	// makes the quota transaction serializable.
	db.SetMaxOpenConns(1)

	return migrateAndWrap(db, "sqlite")
}

func migrateAndWrap(db *sqlx.DB, driver string) (*Store, error) {
	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the active driver name.
func (s *Store) Driver() string {
	return s.driver
}

// rebind converts `?` placeholders to the dialect's bindvar style.
func (s *Store) rebind(q string) string {
	return s.db.Rebind(q)
}

// forUpdate returns the row-locking clause for the dialect. SQLite has no
// FOR UPDATE; its single write connection serializes access instead.
func (s *Store) forUpdate() string {
	if s.driver == "sqlite" {
		return ""
	}
	return " FOR UPDATE"
}

// isUniqueViolation reports whether err is a unique-constraint failure, in
// any of the three dialects' phrasings.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}
