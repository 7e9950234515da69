// Package ledger provides the connector to the relational warehouse ledger
// the sync engine writes into.
//
// The ledger holds three tables keyed by the stable external id (xid) of the
// source documents: article, warehouse and warehouse_stock. A Connector
// wraps the database handle; Connect pins a single connection as a Session
// so that temporary tables declared by the engine stay visible for the whole
// pass.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const (
	// DriverSQLite is the embedded SQLite driver, available in every build.
	DriverSQLite = "sqlite3"
	// DriverLibSQL is the libSQL driver for remote Turso ledgers. It is only
	// registered in cgo builds.
	DriverLibSQL = "libsql"
)

const (
	// DateTimeLayout is the ledger's datetime convention.
	DateTimeLayout = "2006-01-02 15:04:05.000"
	// DateLayout is the ledger's date convention.
	DateLayout = "2006-01-02"
)

// Connector wraps the ledger database handle.
type Connector struct {
	db     *sql.DB
	driver string
	loc    *time.Location
}

// Option configures a Connector.
type Option func(*Connector)

// WithLocation sets the time zone ledger dates and datetimes are rendered in.
// The default is UTC.
func WithLocation(loc *time.Location) Option {
	return func(c *Connector) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// Open opens the ledger with the given driver and DSN.
//
// For DriverSQLite the DSN is a file path (or a "file:" URI); parent
// directories are created. The caller MUST call Close when done.
func Open(driver, dsn string, opts ...Option) (*Connector, error) {
	if driver == "" {
		driver = DriverSQLite
	}
	if !driverRegistered(driver) {
		return nil, fmt.Errorf("ledger driver %q is not available in this build", driver)
	}

	if driver == DriverSQLite {
		path := strings.TrimPrefix(dsn, "file:")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
		if !strings.HasPrefix(dsn, "file:") {
			dsn = "file:" + dsn
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping ledger: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	c := &Connector{db: db, driver: driver, loc: time.UTC}
	for _, opt := range opts {
		opt(c)
	}

	if driver == DriverSQLite {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
		if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}

	return c, nil
}

func driverRegistered(name string) bool {
	for _, d := range sql.Drivers() {
		if d == name {
			return true
		}
	}
	return false
}

// Driver returns the driver name the connector was opened with.
func (c *Connector) Driver() string {
	return c.driver
}

// Location returns the ledger time zone.
func (c *Connector) Location() *time.Location {
	return c.loc
}

// FormatDate renders t as a ledger date in the ledger time zone.
func (c *Connector) FormatDate(t time.Time) string {
	return t.In(c.loc).Format(DateLayout)
}

// FormatDateTime renders t as a ledger datetime in the ledger time zone.
func (c *Connector) FormatDateTime(t time.Time) string {
	return t.In(c.loc).Format(DateTimeLayout)
}

// Close closes the database handle.
func (c *Connector) Close() error {
	if c.db == nil {
		return nil
	}
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close ledger: %w", err)
	}
	c.db = nil
	return nil
}

// InitSchema creates the ledger tables. It is idempotent.
func (c *Connector) InitSchema(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	return nil
}

// Stats summarizes ledger contents.
type Stats struct {
	Articles    int `json:"articles" yaml:"articles"`
	Warehouses  int `json:"warehouses" yaml:"warehouses"`
	StockRows   int `json:"stockRows" yaml:"stockRows"`
	NonZeroRows int `json:"nonZeroRows" yaml:"nonZeroRows"`
}

// Stats counts rows per ledger table.
func (c *Connector) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	err := c.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM article),
			(SELECT COUNT(*) FROM warehouse),
			(SELECT COUNT(*) FROM warehouse_stock),
			(SELECT COUNT(*) FROM warehouse_stock WHERE volume <> 0)
	`).Scan(&s.Articles, &s.Warehouses, &s.StockRows, &s.NonZeroRows)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger stats: %w", err)
	}
	return &s, nil
}

// StockRow is one warehouse_stock row resolved to external ids.
type StockRow struct {
	Date        string
	WarehouseID string
	ArticleID   string
	Volume      int64
}

// StockOn returns the ledger rows of a warehouse xid on a date, ordered by
// article xid.
func (c *Connector) StockOn(ctx context.Context, warehouseID, date string) ([]StockRow, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT s.date, w.xid, a.xid, s.volume
		FROM warehouse_stock s
		JOIN warehouse w ON w.id = s.warehouse
		JOIN article a ON a.id = s.article
		WHERE w.xid = ? AND s.date = ?
		ORDER BY a.xid ASC
	`, warehouseID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger stock: %w", err)
	}
	defer rows.Close()

	var out []StockRow
	for rows.Next() {
		var r StockRow
		if err := rows.Scan(&r.Date, &r.WarehouseID, &r.ArticleID, &r.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan ledger stock: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger stock: %w", err)
	}
	return out, nil
}

// Connect pins one connection of the pool and returns it as a Session.
// The caller MUST call Disconnect on the session.
func (c *Connector) Connect(ctx context.Context) (*Session, error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ledger: %w", err)
	}
	return &Session{conn: conn}, nil
}
