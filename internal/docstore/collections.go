package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mschirtzinger/stockledger/internal/model"
	"github.com/shopspring/decimal"
)

// PutArticle inserts or updates an article.
//
// TS is stamped with the store clock on every write, replacing whatever the
// caller carried over from a read. CreatedAt is stamped when zero, and an
// existing article keeps its original CreatedAt.
func (s *Store) PutArticle(ctx context.Context, a *model.Article) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid article: %w", err)
	}

	now := s.Now()
	a.TS = now
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}

	barcodes := a.Barcodes
	if barcodes == nil {
		barcodes = []string{}
	}
	barcodesJSON, err := json.Marshal(barcodes)
	if err != nil {
		return fmt.Errorf("failed to marshal barcodes: %w", err)
	}

	query := `
	INSERT INTO article (id, name, code, barcodes, piece_volume, package_rel, cts, ts)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		code = excluded.code,
		barcodes = excluded.barcodes,
		piece_volume = excluded.piece_volume,
		package_rel = excluded.package_rel,
		ts = excluded.ts
	`

	_, err = s.conn.ExecContext(ctx, query,
		a.ID,
		a.Name,
		a.Code,
		string(barcodesJSON),
		floatPtrToNull(a.PieceVolume),
		floatPtrToNull(a.PackageRel),
		formatTime(a.CreatedAt),
		formatTime(a.TS),
	)
	if err != nil {
		return fmt.Errorf("failed to put article %s: %w", a.ID, err)
	}

	return nil
}

// GetArticle returns the article with the given ID or ErrNotFound.
func (s *Store) GetArticle(ctx context.Context, id string) (*model.Article, error) {
	rows, err := s.conn.QueryContext(ctx, articleSelect+" WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query article %s: %w", id, err)
	}
	defer rows.Close()

	articles, err := scanArticles(rows)
	if err != nil {
		return nil, err
	}
	if len(articles) == 0 {
		return nil, ErrNotFound
	}
	return articles[0], nil
}

// ArticlesSince returns articles whose TS is strictly after since, oldest
// change first.
func (s *Store) ArticlesSince(ctx context.Context, since time.Time) ([]*model.Article, error) {
	rows, err := s.conn.QueryContext(ctx,
		articleSelect+" WHERE ts > ? ORDER BY ts ASC, id ASC",
		formatTime(since),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query changed articles: %w", err)
	}
	defer rows.Close()

	return scanArticles(rows)
}

const articleSelect = `
	SELECT id, name, code, barcodes, piece_volume, package_rel, cts, ts
	FROM article`

func scanArticles(rows *sql.Rows) ([]*model.Article, error) {
	var articles []*model.Article

	for rows.Next() {
		var a model.Article
		var barcodesJSON, cts, ts string
		var pieceVolume, packageRel sql.NullFloat64

		err := rows.Scan(&a.ID, &a.Name, &a.Code, &barcodesJSON, &pieceVolume, &packageRel, &cts, &ts)
		if err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}

		if barcodesJSON != "" && barcodesJSON != "null" {
			if err := json.Unmarshal([]byte(barcodesJSON), &a.Barcodes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal barcodes of %s: %w", a.ID, err)
			}
		}
		a.PieceVolume = nullFloatToPtr(pieceVolume)
		a.PackageRel = nullFloatToPtr(packageRel)

		if a.CreatedAt, err = parseTime(cts); err != nil {
			return nil, err
		}
		if a.TS, err = parseTime(ts); err != nil {
			return nil, err
		}

		articles = append(articles, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating articles: %w", err)
	}

	return articles, nil
}

// PutStock records a stock observation.
//
// Observations are merged by (warehouse, article, batch): posting the same
// batch again replaces its quantity and timestamp. A zero Timestamp is
// stamped with the store clock.
func (s *Store) PutStock(ctx context.Context, st *model.Stock) error {
	if err := st.Validate(); err != nil {
		return fmt.Errorf("invalid stock: %w", err)
	}
	if st.Timestamp.IsZero() {
		st.Timestamp = s.Now()
	}

	query := `
	INSERT INTO stock (timestamp, stock_batch, qty, warehouse_id, article_id)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(warehouse_id, article_id, stock_batch) DO UPDATE SET
		timestamp = excluded.timestamp,
		qty = excluded.qty
	`

	_, err := s.conn.ExecContext(ctx, query,
		formatTime(st.Timestamp),
		st.StockBatch,
		st.Qty.String(),
		st.WarehouseID,
		st.ArticleID,
	)
	if err != nil {
		return fmt.Errorf("failed to put stock %s/%s: %w", st.WarehouseID, st.ArticleID, err)
	}

	return nil
}

// PutStockSnapshot records a complete count for one or more warehouses in
// one transaction. Entries without a timestamp share a single stamp, so the
// snapshot forms one observation instant.
func (s *Store) PutStockSnapshot(ctx context.Context, stock []*model.Stock) error {
	for _, st := range stock {
		if err := st.Validate(); err != nil {
			return fmt.Errorf("invalid stock: %w", err)
		}
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO stock (timestamp, stock_batch, qty, warehouse_id, article_id)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(warehouse_id, article_id, stock_batch) DO UPDATE SET
		timestamp = excluded.timestamp,
		qty = excluded.qty
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare stock insert: %w", err)
	}
	defer stmt.Close()

	stamp := s.Now()
	for _, st := range stock {
		if st.Timestamp.IsZero() {
			st.Timestamp = stamp
		}
		if _, err := stmt.ExecContext(ctx,
			formatTime(st.Timestamp),
			st.StockBatch,
			st.Qty.String(),
			st.WarehouseID,
			st.ArticleID,
		); err != nil {
			return fmt.Errorf("failed to put stock %s/%s: %w", st.WarehouseID, st.ArticleID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// PutWarehouse inserts or updates a warehouse.
func (s *Store) PutWarehouse(ctx context.Context, w *model.Warehouse) error {
	if err := w.Validate(); err != nil {
		return fmt.Errorf("invalid warehouse: %w", err)
	}

	query := `
	INSERT INTO warehouse (id, name, code) VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		code = excluded.code
	`

	if _, err := s.conn.ExecContext(ctx, query, w.ID, w.Name, w.Code); err != nil {
		return fmt.Errorf("failed to put warehouse %s: %w", w.ID, err)
	}
	return nil
}

// FindWarehouse returns the warehouse with the given ID or ErrNotFound.
func (s *Store) FindWarehouse(ctx context.Context, id string) (*model.Warehouse, error) {
	var w model.Warehouse
	err := s.conn.QueryRowContext(ctx,
		"SELECT id, name, code FROM warehouse WHERE id = ?", id,
	).Scan(&w.ID, &w.Name, &w.Code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query warehouse %s: %w", id, err)
	}
	return &w, nil
}

// Counts reports the number of documents per collection.
func (s *Store) Counts(ctx context.Context) (map[Collection]int, error) {
	counts := make(map[Collection]int, len(allCollections))
	for _, c := range allCollections {
		var n int
		if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+string(c)).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c, err)
		}
		counts[c] = n
	}
	return counts, nil
}

// scanDecimal parses a stored quantity.
func scanDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid stored quantity %q: %w", s, err)
	}
	return d, nil
}

func floatPtrToNull(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullFloatToPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}
