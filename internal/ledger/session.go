package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrDisconnected is returned by operations on a closed Session.
var ErrDisconnected = errors.New("ledger session is disconnected")

// Session is a single pinned ledger connection with autocommit off.
//
// The first statement after connect, Commit or Rollback opens a
// transaction; it stays open until Commit or Rollback. A Session is not safe
// for concurrent use.
type Session struct {
	conn *sql.Conn
	tx   *sql.Tx
}

// Stmt is a statement prepared for a Session. It is re-prepared
// transparently in each new transaction.
type Stmt struct {
	sess     *Session
	query    string
	tx       *sql.Tx
	prepared *sql.Stmt
}

func (s *Session) begin(ctx context.Context) (*sql.Tx, error) {
	if s.conn == nil {
		return nil, ErrDisconnected
	}
	if s.tx != nil {
		return s.tx, nil
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	s.tx = tx
	return tx, nil
}

// InTx reports whether a transaction is open.
func (s *Session) InTx() bool {
	return s.tx != nil
}

// Prepare returns a reusable statement for query.
func (s *Session) Prepare(ctx context.Context, query string) (*Stmt, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	st := &Stmt{sess: s, query: query}
	if err := st.prepare(ctx, tx); err != nil {
		return nil, err
	}
	return st, nil
}

func (st *Stmt) prepare(ctx context.Context, tx *sql.Tx) error {
	if st.tx == tx && st.prepared != nil {
		return nil
	}
	p, err := tx.PrepareContext(ctx, st.query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	st.tx = tx
	st.prepared = p
	return nil
}

// Exec runs the statement with args and returns the number of affected rows.
func (st *Stmt) Exec(ctx context.Context, args ...any) (int64, error) {
	tx, err := st.sess.begin(ctx)
	if err != nil {
		return 0, err
	}
	if err := st.prepare(ctx, tx); err != nil {
		return 0, err
	}
	res, err := st.prepared.ExecContext(ctx, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to execute statement: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the statement.
func (st *Stmt) Close() error {
	if st.prepared == nil {
		return nil
	}
	err := st.prepared.Close()
	st.prepared = nil
	st.tx = nil
	return err
}

// ExecImmediate runs query once with args and returns the number of
// affected rows.
func (s *Session) ExecImmediate(ctx context.Context, query string, args ...any) (int64, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to execute: %w", err)
	}
	return res.RowsAffected()
}

// ExecBatch runs query once per row of args and returns the total number of
// affected rows.
func (s *Session) ExecBatch(ctx context.Context, query string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	st, err := s.Prepare(ctx, query)
	if err != nil {
		return 0, err
	}
	defer st.Close()

	var total int64
	for i, args := range rows {
		n, err := st.Exec(ctx, args...)
		if err != nil {
			return total, fmt.Errorf("batch row %d: %w", i, err)
		}
		total += n
	}
	return total, nil
}

// QueryRow runs a query expected to return at most one row.
func (s *Session) QueryRow(ctx context.Context, query string, args ...any) (*sql.Row, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx.QueryRowContext(ctx, query, args...), nil
}

// QueryValue scans the first column of the first row into dest. It reports
// false when the query returns no rows.
func (s *Session) QueryValue(ctx context.Context, dest any, query string, args ...any) (bool, error) {
	row, err := s.QueryRow(ctx, query, args...)
	if err != nil {
		return false, err
	}
	err = row.Scan(dest)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query value: %w", err)
	}
	return true, nil
}

// Commit commits the open transaction, if any.
func (s *Session) Commit() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Rollback rolls back the open transaction, if any.
func (s *Session) Rollback() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to roll back: %w", err)
	}
	return nil
}

// Disconnect rolls back any open transaction and returns the connection to
// the pool. It is safe to call more than once.
func (s *Session) Disconnect() error {
	if s.conn == nil {
		return nil
	}
	rbErr := s.Rollback()
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	return rbErr
}
