package stocksync

import (
	"context"
	"errors"
	"fmt"

	"github.com/mschirtzinger/stockledger/internal/docstore"
	"github.com/mschirtzinger/stockledger/internal/ledger"
	"github.com/mschirtzinger/stockledger/internal/model"
)

// syncStock projects one warehouse snapshot in a single transaction. On
// failure the transaction is rolled back.
func (e *Engine) syncStock(ctx context.Context, sess *ledger.Session, job model.StockJob, rep *JobReport) (err error) {
	totals, err := e.source.StockByArticle(ctx, job.WarehouseID, job.Timestamp)
	if err != nil {
		return err
	}
	rep.Articles = len(totals)
	e.debugf("Projecting %s on %s: %d articles", job.WarehouseID, rep.Date, len(totals))

	defer func() {
		if err != nil {
			if rbErr := sess.Rollback(); rbErr != nil {
				e.logger.Printf("Warning: %v", rbErr)
			}
		}
	}()

	if rep.WarehouseCreated, err = e.ensureWarehouse(ctx, sess, job.WarehouseID); err != nil {
		return err
	}

	if _, err = sess.ExecImmediate(ctx, ledger.ClearStaging); err != nil {
		return fmt.Errorf("failed to clear staging: %w", err)
	}

	rows := make([][]any, 0, len(totals))
	for _, t := range totals {
		rows = append(rows, []any{job.WarehouseID, t.ArticleID, t.Volume()})
	}
	if rep.Staged, err = sess.ExecBatch(ctx, ledger.InsertStaging, rows); err != nil {
		return fmt.Errorf("failed to stage stock: %w", err)
	}

	if rep.Merged, err = sess.ExecImmediate(ctx, ledger.MergeStock, rep.Date); err != nil {
		return fmt.Errorf("failed to merge stock: %w", err)
	}

	if rep.Nullified, err = sess.ExecImmediate(ctx, ledger.NullifyStock, job.WarehouseID, rep.Date); err != nil {
		return fmt.Errorf("failed to nullify stock: %w", err)
	}

	if err = sess.Commit(); err != nil {
		return err
	}

	e.debugf("Projected %s on %s: staged %d, merged %d, nullified %d",
		job.WarehouseID, rep.Date, rep.Staged, rep.Merged, rep.Nullified)
	return nil
}

// ensureWarehouse inserts the warehouse into the ledger from the source when
// the ledger does not know it yet. It reports whether it was inserted.
func (e *Engine) ensureWarehouse(ctx context.Context, sess *ledger.Session, warehouseID string) (bool, error) {
	var id int64
	found, err := sess.QueryValue(ctx, &id, ledger.FindWarehouse, warehouseID)
	if err != nil {
		return false, fmt.Errorf("failed to look up warehouse %s: %w", warehouseID, err)
	}
	if found {
		return false, nil
	}

	w, err := e.source.FindWarehouse(ctx, warehouseID)
	if errors.Is(err, docstore.ErrNotFound) {
		return false, fmt.Errorf("%w: %s", ErrWarehouseNotFound, warehouseID)
	}
	if err != nil {
		return false, err
	}

	if _, err := sess.ExecImmediate(ctx, ledger.InsertWarehouse, w.ID, w.Name, w.Code); err != nil {
		return false, fmt.Errorf("failed to insert warehouse %s: %w", warehouseID, err)
	}
	e.logger.Printf("Added warehouse %s [%s] to ledger", w.ID, w.Name)
	return true, nil
}

// advanceStock moves the warehouse's Stock watermark after a successful
// projection. The watermark becomes the pass clock's now, or the snapshot
// timestamp when that is later.
func (e *Engine) advanceStock(ctx context.Context, job model.StockJob, rep *JobReport) error {
	ts := e.now().UTC()
	if job.Timestamp.After(ts) {
		ts = job.Timestamp
	}

	wm := &model.Watermark{Name: job.WarehouseID, Group: model.GroupStock, LastTimestamp: ts}
	if err := e.source.SaveWatermark(ctx, wm); err != nil {
		return fmt.Errorf("failed to advance stock watermark of %s: %w", job.WarehouseID, err)
	}
	rep.Watermark = ts
	return nil
}
