package stocksync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mschirtzinger/stockledger/internal/docstore"
	"github.com/mschirtzinger/stockledger/internal/ledger"
	"github.com/mschirtzinger/stockledger/internal/model"
)

// minBarcodesJSON is the longest barcode encoding stored as NULL: "null",
// "[]" and lists of a single very short code carry nothing worth keeping.
const minBarcodesJSON = 10

// syncArticles merges changed articles into the ledger, advances the
// Article watermark and invalidates stale Stock watermarks.
func (e *Engine) syncArticles(ctx context.Context, sess *ledger.Session, rep *ArticleReport) error {
	wm, err := e.source.GetWatermark(ctx, model.ArticleWatermarkName, model.GroupArticle)
	if errors.Is(err, docstore.ErrNotFound) {
		wm = &model.Watermark{
			Name:          model.ArticleWatermarkName,
			Group:         model.GroupArticle,
			LastTimestamp: e.now().UTC(),
		}
		if err := e.source.SaveWatermark(ctx, wm); err != nil {
			return fmt.Errorf("failed to seed article watermark: %w", err)
		}
		rep.Seeded = true
		e.logger.Printf("Seeded article watermark at %s", wm.LastTimestamp.Format(ledger.DateTimeLayout))
	} else if err != nil {
		return fmt.Errorf("failed to load article watermark: %w", err)
	}
	rep.Watermark = wm.LastTimestamp

	articles, err := e.source.ArticlesSince(ctx, wm.LastTimestamp)
	if err != nil {
		return err
	}
	rep.Fetched = len(articles)

	if len(articles) == 0 {
		e.debugf("No article changes since %s", wm.LastTimestamp.Format(ledger.DateTimeLayout))
		return nil
	}

	stmt, err := sess.Prepare(ctx, ledger.MergeArticle)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range articles {
		params, err := e.articleParams(a)
		if err != nil {
			return err
		}
		n, err := stmt.Exec(ctx, params...)
		if err != nil {
			return fmt.Errorf("failed to merge article %s: %w", a.ID, err)
		}
		e.debugf("Merged article %s (%s): %d", a.ID, a.Code, n)
		rep.Merged += n
	}

	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to release article statement: %w", err)
	}
	if err := sess.Commit(); err != nil {
		return err
	}

	latest := articles[0].TS
	for _, a := range articles[1:] {
		if a.TS.After(latest) {
			latest = a.TS
		}
	}
	if latest.IsZero() {
		e.logger.Printf("Error: %d changed articles carry no timestamp, watermark kept", len(articles))
		rep.Error = ErrEmptyTimestamp.Error()
		return nil
	}

	wm.LastTimestamp = latest
	if err := e.source.SaveWatermark(ctx, wm); err != nil {
		return fmt.Errorf("failed to save article watermark: %w", err)
	}
	rep.Watermark = latest
	e.logger.Printf("Merged %d of %d changed articles, watermark %s",
		rep.Merged, len(articles), latest.Format(ledger.DateTimeLayout))

	return e.invalidateStock(ctx, rep)
}

// articleParams returns the MergeArticle parameters for a.
func (e *Engine) articleParams(a *model.Article) ([]any, error) {
	raw, err := json.Marshal(a.Barcodes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode barcodes of %s: %w", a.ID, err)
	}
	var barcodes any
	if len(raw) > minBarcodesJSON {
		barcodes = string(raw)
	}

	var deviceCts any
	if !a.CreatedAt.IsZero() {
		deviceCts = e.ledger.FormatDateTime(a.CreatedAt)
	}

	return []any{
		a.Name,
		a.Code,
		barcodes,
		floatParam(a.PackageRel),
		floatParam(a.PieceVolume),
		deviceCts,
		a.ID,
	}, nil
}

func floatParam(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

// invalidateStock deletes the Stock watermark of every warehouse whose last
// projection references an article changed since.
func (e *Engine) invalidateStock(ctx context.Context, rep *ArticleReport) error {
	stale, err := e.source.StaleStockLocations(ctx)
	if err != nil {
		return err
	}

	for _, warehouseID := range stale {
		existed, err := e.source.DeleteWatermark(ctx, warehouseID, model.GroupStock)
		if err != nil {
			return fmt.Errorf("failed to invalidate %s: %w", warehouseID, err)
		}
		if existed {
			rep.Invalidated = append(rep.Invalidated, warehouseID)
			e.logger.Printf("Invalidated stock of %s", warehouseID)
		}
	}
	return nil
}
