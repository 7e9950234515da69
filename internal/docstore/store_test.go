package docstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mschirtzinger/stockledger/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// openTestStore creates an initialized store in a temporary directory.
func openTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "source.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.InitSchema())

	clock := &testClock{now: t0}
	s.SetClock(clock.Now)
	return s, clock
}

func qty(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func TestInitSchema_Idempotent(t *testing.T) {
	s, _ := openTestStore(t)
	require.NoError(t, s.InitSchema())

	counts, err := s.Counts(context.Background())
	require.NoError(t, err)
	for _, c := range allCollections {
		assert.Equal(t, 0, counts[c], "collection %s", c)
	}
}

func TestPutArticle_StampsTimestamps(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()

	vol := 0.5
	a := &model.Article{ID: "a1", Name: "Milk", Code: "M-1", Barcodes: []string{"4601234567890"}, PieceVolume: &vol}
	require.NoError(t, s.PutArticle(ctx, a))

	got, err := s.GetArticle(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Milk", got.Name)
	assert.Equal(t, []string{"4601234567890"}, got.Barcodes)
	require.NotNil(t, got.PieceVolume)
	assert.InDelta(t, 0.5, *got.PieceVolume, 1e-9)
	assert.Nil(t, got.PackageRel)
	assert.True(t, got.TS.Equal(t0))
	assert.True(t, got.CreatedAt.Equal(t0))

	// An update moves TS but keeps the original creation time.
	clock.Set(t0.Add(time.Hour))
	update := &model.Article{ID: "a1", Name: "Milk 2%"}
	require.NoError(t, s.PutArticle(ctx, update))

	got, err = s.GetArticle(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Milk 2%", got.Name)
	assert.True(t, got.TS.Equal(t0.Add(time.Hour)))
	assert.True(t, got.CreatedAt.Equal(t0))
}

func TestGetArticle_NotFound(t *testing.T) {
	s, _ := openTestStore(t)
	_, err := s.GetArticle(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestPutArticle_ReadModifyWrite verifies an article loaded, edited and
// written back is seen as changed.
func TestPutArticle_ReadModifyWrite(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutArticle(ctx, &model.Article{ID: "a1", Name: "Milk"}))

	got, err := s.GetArticle(ctx, "a1")
	require.NoError(t, err)
	require.True(t, got.TS.Equal(t0))

	clock.Set(t0.Add(time.Hour))
	got.Name = "Milk 2%"
	require.NoError(t, s.PutArticle(ctx, got))

	changed, err := s.ArticlesSince(ctx, t0)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "Milk 2%", changed[0].Name)
	assert.True(t, changed[0].TS.Equal(t0.Add(time.Hour)))
	assert.True(t, changed[0].CreatedAt.Equal(t0))
}

func TestArticlesSince(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"a1", "a2", "a3"} {
		clock.Set(t0.Add(time.Duration(i) * time.Minute))
		require.NoError(t, s.PutArticle(ctx, &model.Article{ID: id, Name: id}))
	}

	got, err := s.ArticlesSince(ctx, t0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a2", got[0].ID)
	assert.Equal(t, "a3", got[1].ID)
}

func TestPutStock_MergesByBatch(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutStock(ctx, &model.Stock{WarehouseID: "w1", ArticleID: "a1", StockBatch: "b1", Qty: qty(5)}))

	clock.Set(t0.Add(time.Minute))
	require.NoError(t, s.PutStock(ctx, &model.Stock{WarehouseID: "w1", ArticleID: "a1", StockBatch: "b1", Qty: qty(7)}))

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[CollectionStock])

	totals, err := s.StockByArticle(ctx, "w1", t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.True(t, totals[0].Qty.Equal(qty(7)))
}

func TestStockByArticle_SumsExactInstant(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	t1 := t0.Add(time.Hour)
	require.NoError(t, s.PutStockSnapshot(ctx, []*model.Stock{
		{WarehouseID: "w1", ArticleID: "a2", StockBatch: "x", Qty: qty(1), Timestamp: t1},
		{WarehouseID: "w1", ArticleID: "a1", StockBatch: "x", Qty: decimal.RequireFromString("1.5"), Timestamp: t1},
		{WarehouseID: "w1", ArticleID: "a1", StockBatch: "y", Qty: decimal.RequireFromString("2.5"), Timestamp: t1},
		{WarehouseID: "w1", ArticleID: "a3", StockBatch: "x", Qty: qty(9), Timestamp: t0},
		{WarehouseID: "w2", ArticleID: "a1", StockBatch: "x", Qty: qty(4), Timestamp: t1},
	}))

	totals, err := s.StockByArticle(ctx, "w1", t1)
	require.NoError(t, err)
	require.Len(t, totals, 2)

	assert.Equal(t, "a1", totals[0].ArticleID)
	assert.True(t, totals[0].Qty.Equal(qty(4)))
	assert.Equal(t, 2, totals[0].Count)
	assert.Equal(t, int64(4), totals[0].Volume())

	assert.Equal(t, "a2", totals[1].ArticleID)
	assert.Equal(t, "w1", totals[1].WarehouseID)
}

func TestPutStockSnapshot_SharesStamp(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	snapshot := []*model.Stock{
		{WarehouseID: "w1", ArticleID: "a1", Qty: qty(1)},
		{WarehouseID: "w1", ArticleID: "a2", Qty: qty(2)},
	}
	require.NoError(t, s.PutStockSnapshot(ctx, snapshot))
	assert.True(t, snapshot[0].Timestamp.Equal(snapshot[1].Timestamp))

	jobs, err := s.PendingStockJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].Timestamp.Equal(t0))
}

func TestPendingStockJobs(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	t1 := t0.Add(time.Hour)
	require.NoError(t, s.PutStockSnapshot(ctx, []*model.Stock{
		{WarehouseID: "w1", ArticleID: "a1", Qty: qty(1), Timestamp: t0},
		{WarehouseID: "w1", ArticleID: "a2", StockBatch: "n", Qty: qty(1), Timestamp: t1},
		{WarehouseID: "w2", ArticleID: "a1", Qty: qty(1), Timestamp: t0},
		{WarehouseID: "w3", ArticleID: "a1", Qty: qty(1), Timestamp: t0},
	}))

	// w2 is up to date, w1 has newer stock than its watermark, w3 has none.
	require.NoError(t, s.SaveWatermark(ctx, &model.Watermark{Name: "w1", Group: model.GroupStock, LastTimestamp: t0}))
	require.NoError(t, s.SaveWatermark(ctx, &model.Watermark{Name: "w2", Group: model.GroupStock, LastTimestamp: t0}))
	// A same-named watermark in another group must not count.
	require.NoError(t, s.SaveWatermark(ctx, &model.Watermark{Name: "w3", Group: model.GroupArticle, LastTimestamp: t1}))

	jobs, err := s.PendingStockJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "w1", jobs[0].WarehouseID)
	assert.True(t, jobs[0].Timestamp.Equal(t1))
	assert.Equal(t, "w3", jobs[1].WarehouseID)
	assert.True(t, jobs[1].Timestamp.Equal(t0))
}

func TestStaleStockLocations(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()

	t1 := t0.Add(time.Hour)
	t2 := t0.Add(2 * time.Hour)

	require.NoError(t, s.PutArticle(ctx, &model.Article{ID: "a1", Name: "A1"}))
	require.NoError(t, s.PutArticle(ctx, &model.Article{ID: "a2", Name: "A2"}))
	require.NoError(t, s.PutStockSnapshot(ctx, []*model.Stock{
		{WarehouseID: "w1", ArticleID: "a1", Qty: qty(1), Timestamp: t0},
		{WarehouseID: "w2", ArticleID: "a2", Qty: qty(1), Timestamp: t0},
		{WarehouseID: "w3", ArticleID: "a1", Qty: qty(1), Timestamp: t0},
	}))
	require.NoError(t, s.SaveWatermark(ctx, &model.Watermark{Name: "w1", Group: model.GroupStock, LastTimestamp: t1}))
	require.NoError(t, s.SaveWatermark(ctx, &model.Watermark{Name: "w2", Group: model.GroupStock, LastTimestamp: t1}))

	stale, err := s.StaleStockLocations(ctx)
	require.NoError(t, err)
	assert.Empty(t, stale)

	// a1 changes after w1 was synced; w3 has never been synced so it is
	// already pending and not reported.
	clock.Set(t2)
	require.NoError(t, s.PutArticle(ctx, &model.Article{ID: "a1", Name: "A1 renamed"}))

	stale, err = s.StaleStockLocations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"w1"}, stale)
}

func TestWatermarks(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetWatermark(ctx, "w1", model.GroupStock)
	require.ErrorIs(t, err, ErrNotFound)

	t1 := t0.Add(time.Hour)
	require.NoError(t, s.SaveWatermark(ctx, &model.Watermark{Name: "w1", Group: model.GroupStock, LastTimestamp: t1}))

	// Saving an older value never moves the watermark back.
	require.NoError(t, s.SaveWatermark(ctx, &model.Watermark{Name: "w1", Group: model.GroupStock, LastTimestamp: t0}))
	w, err := s.GetWatermark(ctx, "w1", model.GroupStock)
	require.NoError(t, err)
	assert.True(t, w.LastTimestamp.Equal(t1))

	// Reset does.
	require.NoError(t, s.ResetWatermark(ctx, &model.Watermark{Name: "w1", Group: model.GroupStock, LastTimestamp: t0}))
	w, err = s.GetWatermark(ctx, "w1", model.GroupStock)
	require.NoError(t, err)
	assert.True(t, w.LastTimestamp.Equal(t0))

	require.NoError(t, s.SaveWatermark(ctx, &model.Watermark{Name: model.ArticleWatermarkName, Group: model.GroupArticle, LastTimestamp: t0}))
	all, err := s.ListWatermarks(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, model.GroupArticle, all[0].Group)

	existed, err := s.DeleteWatermark(ctx, "w1", model.GroupStock)
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.DeleteWatermark(ctx, "w1", model.GroupStock)
	require.NoError(t, err)
	assert.False(t, existed)

	stock, err := s.ListWatermarks(ctx, model.GroupStock)
	require.NoError(t, err)
	assert.Empty(t, stock)
}

func TestSaveWatermark_RejectsInvalid(t *testing.T) {
	s, _ := openTestStore(t)
	err := s.SaveWatermark(context.Background(), &model.Watermark{Name: "w1", Group: model.GroupStock})
	assert.Error(t, err)
}
