package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Group names a synchronization group of watermarks.
type Group string

const (
	// GroupArticle holds the single catalog watermark.
	GroupArticle Group = "Article"
	// GroupStock holds one watermark per warehouse.
	GroupStock Group = "Stock"
)

// IsValid reports whether g is a known group.
func (g Group) IsValid() bool {
	return g == GroupArticle || g == GroupStock
}

// ArticleWatermarkName is the watermark name used for the catalog group.
const ArticleWatermarkName = "Article"

// Article is a catalog item.
type Article struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Code        string    `json:"code,omitempty"`
	Barcodes    []string  `json:"barcodes,omitempty"`
	PieceVolume *float64  `json:"pieceVolume,omitempty"`
	PackageRel  *float64  `json:"packageRel,omitempty"`
	CreatedAt   time.Time `json:"cts"`
	TS          time.Time `json:"ts"`
}

// Validate checks if the Article has valid field values.
func (a *Article) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("id is required")
	}
	if a.Name == "" {
		return fmt.Errorf("name is required")
	}
	for i, b := range a.Barcodes {
		if b == "" {
			return fmt.Errorf("barcode %d is empty", i)
		}
	}
	if a.PieceVolume != nil && *a.PieceVolume < 0 {
		return fmt.Errorf("pieceVolume must not be negative (got %v)", *a.PieceVolume)
	}
	if a.PackageRel != nil && *a.PackageRel < 0 {
		return fmt.Errorf("packageRel must not be negative (got %v)", *a.PackageRel)
	}
	return nil
}

// Stock is a point-in-time inventory observation for one article at one
// warehouse. Observations posted together share a Timestamp and form a
// complete count for that warehouse.
type Stock struct {
	Timestamp   time.Time       `json:"timestamp"`
	StockBatch  string          `json:"stockBatch,omitempty"`
	Qty         decimal.Decimal `json:"qty"`
	WarehouseID string          `json:"warehouseId"`
	ArticleID   string          `json:"articleId"`
}

// Validate checks if the Stock has valid field values.
// A zero Timestamp is allowed; the store stamps it on write.
func (s *Stock) Validate() error {
	if s.WarehouseID == "" {
		return fmt.Errorf("warehouseId is required")
	}
	if s.ArticleID == "" {
		return fmt.Errorf("articleId is required")
	}
	return nil
}

// Warehouse is a stock location.
type Warehouse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code,omitempty"`
}

// Validate checks if the Warehouse has valid field values.
func (w *Warehouse) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("id is required")
	}
	if w.Name == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

// Watermark records the timestamp through which a group/name pair has been
// projected into the ledger.
type Watermark struct {
	Name          string    `json:"name" yaml:"name"`
	Group         Group     `json:"group" yaml:"group"`
	LastTimestamp time.Time `json:"lastTimestamp" yaml:"lastTimestamp"`
}

// Validate checks if the Watermark has valid field values.
func (w *Watermark) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !w.Group.IsValid() {
		return fmt.Errorf("invalid group: %q", w.Group)
	}
	if w.LastTimestamp.IsZero() {
		return fmt.Errorf("lastTimestamp is required")
	}
	return nil
}

// StockJob is a warehouse whose newest stock observation has not been
// projected yet.
type StockJob struct {
	WarehouseID string    `json:"warehouseId" yaml:"warehouseId"`
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"`
}

// StockTotal is the aggregated quantity of one article in a stock snapshot.
type StockTotal struct {
	WarehouseID string
	ArticleID   string
	Qty         decimal.Decimal
	Count       int
}

// Volume returns the quantity rounded to a whole number of units.
func (t StockTotal) Volume() int64 {
	return t.Qty.Round(0).IntPart()
}
