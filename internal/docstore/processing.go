package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mschirtzinger/stockledger/internal/model"
)

// GetWatermark returns the watermark for name/group or ErrNotFound.
func (s *Store) GetWatermark(ctx context.Context, name string, group model.Group) (*model.Watermark, error) {
	var ts string
	err := s.conn.QueryRowContext(ctx,
		"SELECT last_timestamp FROM processing WHERE name = ? AND grp = ?",
		name, string(group),
	).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query watermark %s/%s: %w", group, name, err)
	}

	last, err := parseTime(ts)
	if err != nil {
		return nil, err
	}
	return &model.Watermark{Name: name, Group: group, LastTimestamp: last}, nil
}

// SaveWatermark upserts a watermark. An existing record only ever moves
// forward: saving an older timestamp leaves the stored one in place.
func (s *Store) SaveWatermark(ctx context.Context, w *model.Watermark) error {
	if err := w.Validate(); err != nil {
		return fmt.Errorf("invalid watermark: %w", err)
	}

	query := `
	INSERT INTO processing (name, grp, last_timestamp) VALUES (?, ?, ?)
	ON CONFLICT(name, grp) DO UPDATE SET
		last_timestamp = MAX(last_timestamp, excluded.last_timestamp)
	`

	if _, err := s.conn.ExecContext(ctx, query, w.Name, string(w.Group), formatTime(w.LastTimestamp)); err != nil {
		return fmt.Errorf("failed to save watermark %s/%s: %w", w.Group, w.Name, err)
	}
	return nil
}

// ResetWatermark sets a watermark unconditionally, including backwards.
// It is meant for operators rewinding a group.
func (s *Store) ResetWatermark(ctx context.Context, w *model.Watermark) error {
	if err := w.Validate(); err != nil {
		return fmt.Errorf("invalid watermark: %w", err)
	}

	query := `
	INSERT INTO processing (name, grp, last_timestamp) VALUES (?, ?, ?)
	ON CONFLICT(name, grp) DO UPDATE SET
		last_timestamp = excluded.last_timestamp
	`

	if _, err := s.conn.ExecContext(ctx, query, w.Name, string(w.Group), formatTime(w.LastTimestamp)); err != nil {
		return fmt.Errorf("failed to reset watermark %s/%s: %w", w.Group, w.Name, err)
	}
	return nil
}

// DeleteWatermark removes a watermark, forcing its key to be reprocessed.
// It reports whether a record existed.
func (s *Store) DeleteWatermark(ctx context.Context, name string, group model.Group) (bool, error) {
	res, err := s.conn.ExecContext(ctx,
		"DELETE FROM processing WHERE name = ? AND grp = ?",
		name, string(group),
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete watermark %s/%s: %w", group, name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to count deleted watermarks: %w", err)
	}
	return n > 0, nil
}

// ListWatermarks returns all watermarks of a group, or of every group when
// group is empty, ordered by group then name.
func (s *Store) ListWatermarks(ctx context.Context, group model.Group) ([]model.Watermark, error) {
	query := "SELECT name, grp, last_timestamp FROM processing"
	var args []any
	if group != "" {
		query += " WHERE grp = ?"
		args = append(args, string(group))
	}
	query += " ORDER BY grp ASC, name ASC"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list watermarks: %w", err)
	}
	defer rows.Close()

	var marks []model.Watermark
	for rows.Next() {
		var w model.Watermark
		var grp, ts string
		if err := rows.Scan(&w.Name, &grp, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan watermark: %w", err)
		}
		w.Group = model.Group(grp)
		if w.LastTimestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		marks = append(marks, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating watermarks: %w", err)
	}

	return marks, nil
}
