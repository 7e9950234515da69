package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *Connector {
	t.Helper()

	c, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "ledger", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.InitSchema(context.Background()))
	return c
}

func connect(t *testing.T, c *Connector) *Session {
	t.Helper()
	sess, err := c.Connect(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Disconnect() })
	return sess
}

func mergeArticle(t *testing.T, sess *Session, xid, name string, pieceVolume any) int64 {
	t.Helper()
	n, err := sess.ExecImmediate(context.Background(), MergeArticle,
		name, "C-"+xid, nil, nil, pieceVolume, "2024-03-01 09:00:00.000", xid)
	require.NoError(t, err)
	return n
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("postgres", "whatever")
	assert.Error(t, err)
}

func TestInitSchema_Idempotent(t *testing.T) {
	c := openTestLedger(t)
	require.NoError(t, c.InitSchema(context.Background()))

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, *stats)
}

func TestFormatDate_UsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	c, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "tz.db"), WithLocation(loc))
	require.NoError(t, err)
	defer c.Close()

	ts := time.Date(2024, 3, 1, 22, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-03-02", c.FormatDate(ts))
	assert.Equal(t, "2024-03-02 01:30:00.000", c.FormatDateTime(ts))
	assert.Equal(t, loc, c.Location())
}

func TestMergeArticle_OnlyUpdatesOnChange(t *testing.T) {
	c := openTestLedger(t)
	sess := connect(t, c)

	assert.Equal(t, int64(1), mergeArticle(t, sess, "a1", "Milk", 0.5))
	require.NoError(t, sess.Commit())

	// Same values, and a unit volume equal at three decimals: no update.
	assert.Equal(t, int64(0), mergeArticle(t, sess, "a1", "Milk", 0.5))
	assert.Equal(t, int64(0), mergeArticle(t, sess, "a1", "Milk", 0.5001))

	assert.Equal(t, int64(1), mergeArticle(t, sess, "a1", "Milk 2%", 0.5))
	require.NoError(t, sess.Commit())

	var pieceVolume float64
	found, err := sess.QueryValue(context.Background(), &pieceVolume,
		"SELECT piece_volume FROM article WHERE xid = ?", "a1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.InDelta(t, 0.5, pieceVolume, 1e-9)

	// Null ratios and volumes are stored as 0.
	mergeArticle(t, sess, "a2", "Bread", nil)
	found, err = sess.QueryValue(context.Background(), &pieceVolume,
		"SELECT piece_volume FROM article WHERE xid = ?", "a2")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Zero(t, pieceVolume)
	require.NoError(t, sess.Commit())
}

func TestSession_RollbackDiscardsWrites(t *testing.T) {
	c := openTestLedger(t)
	sess := connect(t, c)
	ctx := context.Background()

	mergeArticle(t, sess, "a1", "Milk", nil)
	assert.True(t, sess.InTx())
	require.NoError(t, sess.Rollback())
	assert.False(t, sess.InTx())

	var id int64
	found, err := sess.QueryValue(ctx, &id, "SELECT id FROM article WHERE xid = ?", "a1")
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, sess.Commit())
}

func TestSession_DisconnectIsIdempotent(t *testing.T) {
	c := openTestLedger(t)
	sess, err := c.Connect(context.Background())
	require.NoError(t, err)

	mergeArticle(t, sess, "a1", "Milk", nil)
	require.NoError(t, sess.Disconnect())
	require.NoError(t, sess.Disconnect())

	_, err = sess.ExecImmediate(context.Background(), ClearStaging)
	assert.ErrorIs(t, err, ErrDisconnected)

	// The uncommitted write was rolled back.
	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Articles)
}

func TestStmt_ReusedAcrossTransactions(t *testing.T) {
	c := openTestLedger(t)
	sess := connect(t, c)
	ctx := context.Background()

	st, err := sess.Prepare(ctx, InsertWarehouse)
	require.NoError(t, err)
	defer st.Close()

	n, err := st.Exec(ctx, "w1", "Main", "M")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, sess.Commit())

	n, err = st.Exec(ctx, "w2", "Second", "S")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, sess.Commit())

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Warehouses)
}

// stageAndMerge runs one stock projection the way the sync engine does.
func stageAndMerge(t *testing.T, sess *Session, warehouse, date string, rows [][]any) (merged, nullified int64) {
	t.Helper()
	ctx := context.Background()

	_, err := sess.ExecImmediate(ctx, ClearStaging)
	require.NoError(t, err)
	_, err = sess.ExecBatch(ctx, InsertStaging, rows)
	require.NoError(t, err)
	merged, err = sess.ExecImmediate(ctx, MergeStock, date)
	require.NoError(t, err)
	nullified, err = sess.ExecImmediate(ctx, NullifyStock, warehouse, date)
	require.NoError(t, err)
	require.NoError(t, sess.Commit())
	return merged, nullified
}

func TestMergeAndNullifyStock(t *testing.T) {
	c := openTestLedger(t)
	sess := connect(t, c)
	ctx := context.Background()

	_, err := sess.ExecImmediate(ctx, DeclareStaging)
	require.NoError(t, err)
	mergeArticle(t, sess, "a1", "A1", nil)
	mergeArticle(t, sess, "a2", "A2", nil)
	_, err = sess.ExecImmediate(ctx, InsertWarehouse, "w1", "Main", "M")
	require.NoError(t, err)
	require.NoError(t, sess.Commit())

	const date = "2024-03-01"

	merged, nullified := stageAndMerge(t, sess, "w1", date, [][]any{
		{"w1", "a1", 5},
		{"w1", "a2", 3},
		{"w1", "unknown", 9},
	})
	assert.Equal(t, int64(2), merged)
	assert.Equal(t, int64(0), nullified)

	// Replaying the same aggregate changes nothing.
	merged, nullified = stageAndMerge(t, sess, "w1", date, [][]any{
		{"w1", "a1", 5},
		{"w1", "a2", 3},
	})
	assert.Equal(t, int64(0), merged)
	assert.Equal(t, int64(0), nullified)

	// a2 disappears from the count: its row is zeroed, not deleted.
	merged, nullified = stageAndMerge(t, sess, "w1", date, [][]any{
		{"w1", "a1", 7},
	})
	assert.Equal(t, int64(1), merged)
	assert.Equal(t, int64(1), nullified)

	rows, err := c.StockOn(ctx, "w1", date)
	require.NoError(t, err)
	assert.Equal(t, []StockRow{
		{Date: date, WarehouseID: "w1", ArticleID: "a1", Volume: 7},
		{Date: date, WarehouseID: "w1", ArticleID: "a2", Volume: 0},
	}, rows)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.StockRows)
	assert.Equal(t, 1, stats.NonZeroRows)
}

func TestFindWarehouse(t *testing.T) {
	c := openTestLedger(t)
	sess := connect(t, c)
	ctx := context.Background()

	var id int64
	found, err := sess.QueryValue(ctx, &id, FindWarehouse, "w1")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = sess.ExecImmediate(ctx, InsertWarehouse, "w1", "Main", "M")
	require.NoError(t, err)

	found, err = sess.QueryValue(ctx, &id, FindWarehouse, "w1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.NotZero(t, id)
	require.NoError(t, sess.Commit())
}
