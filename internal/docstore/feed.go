package docstore

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

// Collection names a document collection.
type Collection string

const (
	// CollectionArticle holds catalog items.
	CollectionArticle Collection = "article"
	// CollectionStock holds stock observations.
	CollectionStock Collection = "stock"
	// CollectionWarehouse holds locations.
	CollectionWarehouse Collection = "warehouse"
	// CollectionProcessing holds sync watermarks.
	CollectionProcessing Collection = "processing"
)

var allCollections = []Collection{
	CollectionArticle,
	CollectionStock,
	CollectionWarehouse,
	CollectionProcessing,
}

// OperationType is the kind of change recorded for a document.
type OperationType string

const (
	// OpInsert indicates a new document.
	OpInsert OperationType = "insert"
	// OpUpdate indicates an existing document changed.
	OpUpdate OperationType = "update"
	// OpDelete indicates a document was removed.
	OpDelete OperationType = "delete"
	// OpReplace indicates a document was replaced wholesale.
	OpReplace OperationType = "replace"
)

// ChangeEvent is one entry of the change feed.
type ChangeEvent struct {
	Seq           int64
	Collection    Collection
	OperationType OperationType
	DocumentKey   string
	At            time.Time
}

// documentKey returns the SQL expression identifying a row of c, using the
// given row alias (NEW or OLD).
func documentKey(c Collection, alias string) string {
	switch c {
	case CollectionStock:
		return fmt.Sprintf("CAST(%s.id AS TEXT)", alias)
	case CollectionProcessing:
		return fmt.Sprintf("%[1]s.grp || ':' || %[1]s.name", alias)
	default:
		return alias + ".id"
	}
}

// changeLogTriggers returns the trigger DDL capturing inserts, updates and
// deletes on c into change_log.
func changeLogTriggers(c Collection) []string {
	trig := func(suffix, event string, op OperationType, alias string) string {
		return fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %[1]s_%[2]s AFTER %[3]s ON %[1]s
BEGIN
    INSERT INTO change_log(collection, op, document_key)
    VALUES ('%[1]s', '%[4]s', %[5]s);
END;`, c, suffix, event, op, documentKey(c, alias))
	}
	return []string{
		trig("ai", "INSERT", OpInsert, "NEW"),
		trig("au", "UPDATE", OpUpdate, "NEW"),
		trig("ad", "DELETE", OpDelete, "OLD"),
	}
}

// WatchOptions configures a change feed subscription.
type WatchOptions struct {
	// PollInterval is how often the change log is read (default: 250ms).
	PollInterval time.Duration

	// Nudge, when set, triggers an immediate read in addition to polling.
	Nudge <-chan struct{}

	// BatchSize caps the number of events read per poll (default: 500).
	BatchSize int

	// Logger receives read errors. Defaults to stderr.
	Logger *log.Logger
}

// HeadSeq returns the sequence number of the newest change-log entry, or 0.
func (s *Store) HeadSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.conn.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) FROM change_log").Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to read change log head: %w", err)
	}
	return seq, nil
}

// ChangesSince returns up to limit change events with seq greater than
// afterSeq, oldest first. An empty collections list matches everything.
func (s *Store) ChangesSince(ctx context.Context, afterSeq int64, limit int, collections ...Collection) ([]ChangeEvent, error) {
	if limit <= 0 {
		limit = 500
	}

	conditions := []string{"seq > ?"}
	args := []any{afterSeq}

	if len(collections) > 0 {
		marks := make([]string, len(collections))
		for i, c := range collections {
			marks[i] = "?"
			args = append(args, string(c))
		}
		conditions = append(conditions, "collection IN ("+strings.Join(marks, ", ")+")")
	}
	args = append(args, limit)

	query := `
		SELECT seq, collection, op, document_key, created_at
		FROM change_log
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY seq ASC
		LIMIT ?
	`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query change log: %w", err)
	}
	defer rows.Close()

	var events []ChangeEvent
	for rows.Next() {
		var ev ChangeEvent
		var collection, op, createdAt string
		if err := rows.Scan(&ev.Seq, &collection, &op, &ev.DocumentKey, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan change event: %w", err)
		}
		ev.Collection = Collection(collection)
		ev.OperationType = OperationType(op)
		if t, err := time.ParseInLocation(changeTimeLayout, createdAt, time.UTC); err == nil {
			ev.At = t
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating change log: %w", err)
	}

	return events, nil
}

// Watch subscribes to changes on the given collections.
//
// The feed starts at the current head of the change log, so only changes
// made after Watch returns are delivered. Events arrive in commit order on
// the returned channel, which is closed when ctx is cancelled. Read errors
// are logged and watching continues.
func (s *Store) Watch(ctx context.Context, opts WatchOptions, collections ...Collection) (<-chan ChangeEvent, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[feed] ", log.LstdFlags)
	}

	lastSeq, err := s.HeadSeq(ctx)
	if err != nil {
		return nil, err
	}

	events := make(chan ChangeEvent, 100)

	go func() {
		defer close(events)

		ticker := time.NewTicker(opts.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-opts.Nudge:
			}

			for {
				batch, err := s.ChangesSince(ctx, lastSeq, opts.BatchSize, collections...)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					opts.Logger.Printf("Warning: failed to read change log: %v", err)
					break
				}

				for _, ev := range batch {
					select {
					case events <- ev:
					case <-ctx.Done():
						return
					}
					lastSeq = ev.Seq
				}

				if len(batch) < opts.BatchSize {
					break
				}
			}
		}
	}()

	return events, nil
}

// PruneChanges deletes change-log entries recorded before the given time and
// returns how many were removed.
func (s *Store) PruneChanges(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.conn.ExecContext(ctx,
		"DELETE FROM change_log WHERE created_at < ?",
		before.UTC().Format(changeTimeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune change log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned changes: %w", err)
	}
	return n, nil
}
