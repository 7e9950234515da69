package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mschirtzinger/stockledger/internal/model"
)

// latestStockCTE selects the newest observation instant per warehouse.
const latestStockCTE = `
	WITH latest AS (
		SELECT warehouse_id, MAX(timestamp) AS ts
		FROM stock
		WHERE timestamp IS NOT NULL
		GROUP BY warehouse_id
	)`

// PendingStockJobs returns warehouses whose newest stock timestamp is later
// than their Stock watermark, or that have no watermark yet. Results are
// ordered by warehouse ID.
func (s *Store) PendingStockJobs(ctx context.Context) ([]model.StockJob, error) {
	query := latestStockCTE + `
	SELECT l.warehouse_id, l.ts
	FROM latest l
	LEFT JOIN processing p
		ON p.name = l.warehouse_id AND p.grp = ?
	WHERE p.last_timestamp IS NULL OR l.ts > p.last_timestamp
	ORDER BY l.warehouse_id ASC
	`

	rows, err := s.conn.QueryContext(ctx, query, string(model.GroupStock))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending stock jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.StockJob
	for rows.Next() {
		var job model.StockJob
		var ts string
		if err := rows.Scan(&job.WarehouseID, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan stock job: %w", err)
		}
		if job.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stock jobs: %w", err)
	}

	return jobs, nil
}

// StockByArticle sums the quantity per article of the observations recorded
// for warehouseID at exactly timestamp. Totals are ordered by article ID.
func (s *Store) StockByArticle(ctx context.Context, warehouseID string, timestamp time.Time) ([]model.StockTotal, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT article_id, qty
		FROM stock
		WHERE warehouse_id = ? AND timestamp = ?
		ORDER BY article_id ASC, id ASC
	`, warehouseID, formatTime(timestamp))
	if err != nil {
		return nil, fmt.Errorf("failed to query stock of %s: %w", warehouseID, err)
	}
	defer rows.Close()

	var totals []model.StockTotal
	for rows.Next() {
		var articleID, qty string
		if err := rows.Scan(&articleID, &qty); err != nil {
			return nil, fmt.Errorf("failed to scan stock row: %w", err)
		}
		d, err := scanDecimal(qty)
		if err != nil {
			return nil, err
		}

		if n := len(totals); n > 0 && totals[n-1].ArticleID == articleID {
			totals[n-1].Qty = totals[n-1].Qty.Add(d)
			totals[n-1].Count++
			continue
		}
		totals = append(totals, model.StockTotal{
			WarehouseID: warehouseID,
			ArticleID:   articleID,
			Qty:         d,
			Count:       1,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stock rows: %w", err)
	}

	return totals, nil
}

// StaleStockLocations returns warehouses whose latest projected snapshot
// references an article that changed after both the observation and the
// warehouse's Stock watermark. Those aggregates were built against outdated
// catalog data and need to be projected again.
func (s *Store) StaleStockLocations(ctx context.Context) ([]string, error) {
	query := latestStockCTE + `
	SELECT DISTINCT l.warehouse_id
	FROM latest l
	JOIN processing p
		ON p.name = l.warehouse_id AND p.grp = ?
	JOIN stock s
		ON s.warehouse_id = l.warehouse_id AND s.timestamp = l.ts
	JOIN article a
		ON a.id = s.article_id
	WHERE a.ts > s.timestamp
	  AND a.ts > p.last_timestamp
	ORDER BY l.warehouse_id ASC
	`

	rows, err := s.conn.QueryContext(ctx, query, string(model.GroupStock))
	if err != nil {
		return nil, fmt.Errorf("failed to query stale stock locations: %w", err)
	}
	defer rows.Close()

	return scanStrings(rows)
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan value: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating values: %w", err)
	}
	return out, nil
}
