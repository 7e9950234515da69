// Package docstore provides the operational document store the ledger is
// synchronized from.
//
// The store keeps four collections (article, stock, warehouse and
// processing) in an embedded SQLite database opened in WAL mode. Every
// collection is wired to a change log through AFTER INSERT/UPDATE/DELETE
// triggers, which backs the change feed returned by Watch.
//
// Workflow:
//  1. Writers put articles, stock snapshots and warehouses.
//  2. Triggers append one change_log row per affected document.
//  3. The sync daemon watches the change log and schedules passes.
//  4. Passes read aggregates and move processing watermarks forward.
package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("document not found")

// timeLayout is the fixed-width UTC layout used for every stored timestamp,
// so that text comparison in SQL orders the same way as time comparison.
const timeLayout = "2006-01-02 15:04:05.000000000"

// changeTimeLayout matches SQLite's strftime('%Y-%m-%d %H:%M:%f').
const changeTimeLayout = "2006-01-02 15:04:05.000"

// Store wraps the SQLite connection holding the operational collections.
type Store struct {
	conn *sql.DB
	path string
	now  func() time.Time
}

// Open creates a new store connection at the specified path.
//
// If the database doesn't exist, it is created. Callers should run
// InitSchema before use and MUST call Close when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn: conn,
		path: path,
		now:  time.Now,
	}

	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// SetClock replaces the clock used to stamp documents. Tests use it to
// produce deterministic timestamps.
func (s *Store) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

// Now returns the store clock's current time in UTC.
func (s *Store) Now() time.Time {
	return s.now().UTC()
}

// Close closes the store, checkpointing the WAL first.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the collections, indexes and change-log triggers.
// It is idempotent.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS article (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		code TEXT NOT NULL DEFAULT '',
		barcodes TEXT NOT NULL DEFAULT '[]',  -- JSON array
		piece_volume REAL,
		package_rel REAL,
		cts TEXT NOT NULL,
		ts TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS stock (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT,
		stock_batch TEXT NOT NULL DEFAULT '',
		qty TEXT NOT NULL DEFAULT '0',  -- decimal string
		warehouse_id TEXT NOT NULL,
		article_id TEXT NOT NULL,
		UNIQUE (warehouse_id, article_id, stock_batch)
	);

	CREATE TABLE IF NOT EXISTS warehouse (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		code TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS processing (
		name TEXT NOT NULL,
		grp TEXT NOT NULL,
		last_timestamp TEXT NOT NULL,
		PRIMARY KEY (name, grp)
	);

	CREATE TABLE IF NOT EXISTS change_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		collection TEXT NOT NULL,
		op TEXT NOT NULL,
		document_key TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_article_ts ON article(ts);
	CREATE INDEX IF NOT EXISTS idx_stock_warehouse_ts ON stock(warehouse_id, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_stock_article_ts ON stock(article_id, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_change_log_created ON change_log(created_at);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	for _, c := range allCollections {
		for _, trig := range changeLogTriggers(c) {
			if _, err := s.conn.ExecContext(ctx, trig); err != nil {
				return fmt.Errorf("failed to create %s trigger: %w", c, err)
			}
		}
	}

	return nil
}

// formatTime renders t in the stored layout. The zero time renders as NULL.
func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

// parseTime parses a stored timestamp.
func parseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}
