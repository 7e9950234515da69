// Package loadtest provides load testing utilities for the sync engine.
//
// It fills a document store with a synthetic catalog and warehouse stock
// snapshots, then measures how long sync passes take as the data changes
// between rounds. It also hammers the run guard with concurrent passes to
// check that at most one pass runs at a time.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mschirtzinger/stockledger/internal/docstore"
	"github.com/mschirtzinger/stockledger/internal/model"
	"github.com/mschirtzinger/stockledger/internal/stocksync"
)

// Options sizes the synthetic data set.
type Options struct {
	Articles   int
	Warehouses int

	// Coverage is the fraction of the catalog each warehouse stocks
	// (default 0.8).
	Coverage float64

	// Seed makes generated data reproducible (default 42).
	Seed int64
}

// Dataset describes what Populate wrote.
type Dataset struct {
	ArticleIDs   []string
	WarehouseIDs []string
	StockRows    int

	opts Options
	rng  *rand.Rand
}

// LatencyStats captures pass durations from a load run.
type LatencyStats struct {
	Min        time.Duration
	Max        time.Duration
	Mean       time.Duration
	P50        time.Duration // Median
	P95        time.Duration
	P99        time.Duration
	TotalPass  int
	Errors     int
	FailedJobs int
	Writes     int64
	Durations  []time.Duration
}

// Populate writes a synthetic catalog, warehouses and one stock snapshot per
// warehouse into store.
func Populate(ctx context.Context, store *docstore.Store, opts Options) (*Dataset, error) {
	if opts.Articles <= 0 || opts.Warehouses <= 0 {
		return nil, fmt.Errorf("articles and warehouses must be positive")
	}
	if opts.Coverage <= 0 || opts.Coverage > 1 {
		opts.Coverage = 0.8
	}
	if opts.Seed == 0 {
		opts.Seed = 42
	}

	// Seed the Article watermark first so the first pass merges the catalog.
	seed := &model.Watermark{
		Name:          model.ArticleWatermarkName,
		Group:         model.GroupArticle,
		LastTimestamp: store.Now().Add(-time.Millisecond),
	}
	if err := store.SaveWatermark(ctx, seed); err != nil {
		return nil, err
	}

	ds := &Dataset{
		ArticleIDs:   make([]string, 0, opts.Articles),
		WarehouseIDs: make([]string, 0, opts.Warehouses),
		opts:         opts,
		// Deterministic random for reproducibility
		rng: rand.New(rand.NewSource(opts.Seed)),
	}

	for _, a := range generateArticles(opts.Articles) {
		if err := store.PutArticle(ctx, a); err != nil {
			return nil, fmt.Errorf("failed to insert article %s: %w", a.ID, err)
		}
		ds.ArticleIDs = append(ds.ArticleIDs, a.ID)
	}

	for i := 0; i < opts.Warehouses; i++ {
		w := &model.Warehouse{
			ID:   fmt.Sprintf("wh-%03d", i),
			Name: fmt.Sprintf("Warehouse %d", i),
			Code: fmt.Sprintf("W%03d", i),
		}
		if err := store.PutWarehouse(ctx, w); err != nil {
			return nil, fmt.Errorf("failed to insert warehouse %s: %w", w.ID, err)
		}
		ds.WarehouseIDs = append(ds.WarehouseIDs, w.ID)
	}

	for _, wid := range ds.WarehouseIDs {
		n, err := ds.snapshot(ctx, store, wid)
		if err != nil {
			return nil, err
		}
		ds.StockRows += n
	}

	return ds, nil
}

// generateArticles creates a catalog with a realistic mix of optional fields.
func generateArticles(count int) []*model.Article {
	articles := make([]*model.Article, count)
	for i := 0; i < count; i++ {
		a := &model.Article{
			ID:   fmt.Sprintf("art-%05d", i),
			Name: fmt.Sprintf("Article %d", i),
			Code: fmt.Sprintf("A%05d", i),
		}
		// Roughly two thirds carry barcodes, half a piece volume.
		if i%3 != 0 {
			a.Barcodes = []string{fmt.Sprintf("40%011d", i)}
		}
		if i%2 == 0 {
			v := float64(i%50+1) / 100
			a.PieceVolume = &v
		}
		if i%5 == 0 {
			rel := float64(i%12 + 1)
			a.PackageRel = &rel
		}
		articles[i] = a
	}
	return articles
}

// snapshot posts a complete count for one warehouse covering a random
// subset of the catalog.
func (ds *Dataset) snapshot(ctx context.Context, store *docstore.Store, warehouseID string) (int, error) {
	stock := make([]*model.Stock, 0, len(ds.ArticleIDs))
	for _, aid := range ds.ArticleIDs {
		if ds.rng.Float64() >= ds.opts.Coverage {
			continue
		}
		// Quantities weighted toward small counts, some fractional.
		qty := decimal.NewFromInt(int64(ds.rng.Intn(20) * ds.rng.Intn(20)))
		if ds.rng.Intn(10) == 0 {
			qty = qty.Add(decimal.NewFromFloat(0.5))
		}
		stock = append(stock, &model.Stock{
			WarehouseID: warehouseID,
			ArticleID:   aid,
			Qty:         qty,
		})
	}
	if len(stock) == 0 {
		return 0, nil
	}
	if err := store.PutStockSnapshot(ctx, stock); err != nil {
		return 0, fmt.Errorf("failed to write snapshot for %s: %w", warehouseID, err)
	}
	return len(stock), nil
}

// Mutate posts new snapshots for a fraction of the warehouses and touches a
// fraction of the articles, so the next pass has work to do.
func (ds *Dataset) Mutate(ctx context.Context, store *docstore.Store, changePct float64) error {
	for _, wid := range ds.WarehouseIDs {
		if ds.rng.Float64() >= changePct {
			continue
		}
		n, err := ds.snapshot(ctx, store, wid)
		if err != nil {
			return err
		}
		ds.StockRows += n
	}

	for _, aid := range ds.ArticleIDs {
		if ds.rng.Float64() >= changePct/4 {
			continue
		}
		a, err := store.GetArticle(ctx, aid)
		if err != nil {
			return fmt.Errorf("failed to load article %s: %w", aid, err)
		}
		a.Name = fmt.Sprintf("%s (rev %d)", a.ID, ds.rng.Intn(1000))
		if err := store.PutArticle(ctx, a); err != nil {
			return fmt.Errorf("failed to update article %s: %w", aid, err)
		}
	}
	return nil
}

// Runner runs a sync pass. *stocksync.Engine implements it.
type Runner interface {
	RunPass(ctx context.Context) (*stocksync.PassReport, error)
}

// RunRounds runs one pass per round, mutating changePct of the data set
// before every round after the first.
func (ds *Dataset) RunRounds(ctx context.Context, store *docstore.Store, runner Runner, rounds int, changePct float64) (*LatencyStats, error) {
	durations := make([]time.Duration, 0, rounds)
	var errorCount, failedJobs int
	var writes int64

	for i := 0; i < rounds; i++ {
		if i > 0 {
			if err := ds.Mutate(ctx, store, changePct); err != nil {
				return nil, err
			}
		}

		start := time.Now()
		report, err := runner.RunPass(ctx)
		durations = append(durations, time.Since(start))

		if err != nil {
			errorCount++
			continue
		}
		failedJobs += report.Failed()
		writes += report.Writes()
	}

	if len(durations) == 0 {
		return nil, fmt.Errorf("no passes completed")
	}

	stats := computeLatencyStats(durations)
	stats.Errors = errorCount
	stats.FailedJobs = failedJobs
	stats.Writes = writes
	return stats, nil
}

// GuardResult reports how concurrent pass attempts were resolved.
type GuardResult struct {
	Attempts int
	Ran      int
	Rejected int
}

// VerifyMutualExclusion fires passes from numCallers goroutines at once.
// Only ErrPassInProgress counts as a rejection; any other error is returned.
func VerifyMutualExclusion(ctx context.Context, runner Runner, numCallers int) (*GuardResult, error) {
	var wg sync.WaitGroup
	var ran, rejected atomic.Int32
	errorsChan := make(chan error, numCallers)
	start := make(chan struct{})

	for i := 0; i < numCallers; i++ {
		wg.Add(1)
		go func(callerID int) {
			defer wg.Done()
			<-start

			_, err := runner.RunPass(ctx)
			switch {
			case errors.Is(err, stocksync.ErrPassInProgress):
				rejected.Add(1)
			case err != nil:
				errorsChan <- fmt.Errorf("caller %d pass failed: %w", callerID, err)
			default:
				ran.Add(1)
			}
		}(i)
	}

	close(start)
	wg.Wait()
	close(errorsChan)

	for err := range errorsChan {
		if err != nil {
			return nil, err
		}
	}

	return &GuardResult{
		Attempts: numCallers,
		Ran:      int(ran.Load()),
		Rejected: int(rejected.Load()),
	}, nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:       sorted[0],
		Max:       sorted[len(sorted)-1],
		Mean:      sum / time.Duration(len(durations)),
		P50:       sorted[len(sorted)*50/100],
		P95:       sorted[len(sorted)*95/100],
		P99:       sorted[len(sorted)*99/100],
		TotalPass: len(durations),
		Durations: sorted,
	}
}

// PrintStats formats latency statistics.
func (s *LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Pass Latency:\n")
	fmt.Fprintf(w, "  Passes:        %d\n", s.TotalPass)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Failed jobs:   %d\n", s.FailedJobs)
	fmt.Fprintf(w, "  Ledger writes: %d\n", s.Writes)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
