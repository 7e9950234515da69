// Package stocksync projects the operational document store into the
// warehouse ledger.
//
// A pass runs in two steps over a single ledger session:
//
//   - Article sync merges catalog items changed since the Article watermark,
//     then invalidates the Stock watermark of every warehouse whose last
//     projection was built on an article that has changed since.
//   - Stock sync projects, per pending warehouse, the latest stock snapshot
//     into warehouse_stock for the snapshot's date, zeroing the rows of
//     articles that no longer appear in it.
//
// Only one pass runs at a time. Passes are idempotent: a pass with no
// source changes performs no ledger writes.
//
// Example:
//
//	engine := stocksync.New(store, conn, stocksync.Config{})
//	report, err := engine.RunPass(ctx)
//	if errors.Is(err, stocksync.ErrPassInProgress) {
//	    return nil // the running pass will pick the changes up
//	}
package stocksync
