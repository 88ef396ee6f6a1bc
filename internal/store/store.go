// Package store provides the embedded SQLite replica database for one device.
//
// Every device owns exactly one database file holding its activities, ledger
// entries, goals, the singleton active-timer row and the durable outbound sync
// queue. The database runs in embedded mode with WAL so that the daemon and
// short-lived CLI processes can share it:
//
//   - Database file: <data_dir>/replica.db
//   - WAL mode: concurrent readers during writes
//   - Immediate transactions: writers queue on the busy timeout instead of
//     failing on lock upgrade
//
// The package is pure data access. Business rules (validation limits, sync
// semantics, timer invariants) live in the packages that call it.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned by single-record lookups that match nothing.
var ErrNotFound = errors.New("record not found")

// DB wraps the SQLite connection of a device replica.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The parent directory is created when missing. The caller MUST call Close()
// when done.
//
// Example:
//
//	db, err := store.Open(filepath.Join(dataDir, "replica.db"))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// busy_timeout and foreign_keys are per-connection pragmas, so they go in
	// the DSN where the driver applies them to every pooled connection.
	connStr := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
	}

	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// This is idempotent - safe to call on every start.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		color TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		schedule TEXT NOT NULL,  -- JSON array of weekdays 1-7
		created_at TEXT NOT NULL
	);

	-- No foreign key to activities: a ledger update may arrive from the peer
	-- before the activity it belongs to.
	CREATE TABLE IF NOT EXISTS ledger_entries (
		activity_id TEXT NOT NULL,
		day TEXT NOT NULL,  -- YYYY-MM-DD in the device calendar
		duration_ns INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (activity_id, day)
	);

	CREATE TABLE IF NOT EXISTS goals (
		id TEXT PRIMARY KEY,
		activity_id TEXT NOT NULL,
		period TEXT NOT NULL,
		target_ns INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS active_timer (
		row_id INTEGER PRIMARY KEY AUTOINCREMENT,
		activity_id TEXT,
		start_time TEXT,
		start_day TEXT,
		running INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS sync_queue (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_kind TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		action TEXT NOT NULL,
		body TEXT NOT NULL,  -- encoded sync message
		enqueued_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_day ON ledger_entries(day);
	CREATE INDEX IF NOT EXISTS idx_goals_activity ON goals(activity_id);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
