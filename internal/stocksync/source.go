package stocksync

import (
	"context"
	"time"

	"github.com/mschirtzinger/stockledger/internal/model"
)

// Source is the read side of the document store plus its watermark store.
//
// *docstore.Store implements Source. Lookups of missing records return an
// error matching docstore.ErrNotFound.
type Source interface {
	// GetWatermark returns the watermark of name/group.
	GetWatermark(ctx context.Context, name string, group model.Group) (*model.Watermark, error)

	// SaveWatermark upserts a watermark without ever moving it backwards.
	SaveWatermark(ctx context.Context, w *model.Watermark) error

	// DeleteWatermark removes a watermark, reporting whether it existed.
	DeleteWatermark(ctx context.Context, name string, group model.Group) (bool, error)

	// ArticlesSince returns articles changed strictly after since.
	ArticlesSince(ctx context.Context, since time.Time) ([]*model.Article, error)

	// PendingStockJobs returns the warehouses whose newest stock snapshot
	// has not been projected, ordered by warehouse ID.
	PendingStockJobs(ctx context.Context) ([]model.StockJob, error)

	// StockByArticle aggregates the snapshot of warehouseID taken at
	// exactly timestamp.
	StockByArticle(ctx context.Context, warehouseID string, timestamp time.Time) ([]model.StockTotal, error)

	// FindWarehouse returns a warehouse document.
	FindWarehouse(ctx context.Context, id string) (*model.Warehouse, error)

	// StaleStockLocations returns warehouses whose last projection
	// references an article changed since.
	StaleStockLocations(ctx context.Context) ([]string, error)
}
