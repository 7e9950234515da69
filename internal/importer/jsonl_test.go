package importer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mschirtzinger/stockledger/internal/docstore"
)

const sampleJSONL = `{"kind":"warehouse","id":"w1","name":"Main"}
{"kind":"article","id":"a1","name":"Bolt","barcodes":["400100"]}
{"kind":"article","id":"a2","name":"Nut","pieceVolume":0.25}

{"kind":"stock","warehouseId":"w1","articleId":"a1","qty":"12"}
{"kind":"stock","warehouseId":"w1","articleId":"a2","qty":3,"stockBatch":"b1"}
{"kind":"stock","warehouseId":"w1","articleId":"a2","qty":4,"stockBatch":"b2"}
{"kind":"stock","warehouseId":"w1","articleId":"a1","qty":"5","timestamp":"2024-03-01T08:00:00Z","stockBatch":"old"}
`

func setupStore(t *testing.T) *docstore.Store {
	t.Helper()

	store, err := docstore.Open(filepath.Join(t.TempDir(), "source.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	return store
}

func writeJSONL(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "import.jsonl")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return path
}

func TestParse(t *testing.T) {
	batch, err := Parse(strings.NewReader(sampleJSONL))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(batch.Warehouses) != 1 {
		t.Errorf("expected 1 warehouse, got %d", len(batch.Warehouses))
	}
	if len(batch.Articles) != 2 {
		t.Errorf("expected 2 articles, got %d", len(batch.Articles))
	}
	if len(batch.Stock) != 4 {
		t.Errorf("expected 4 stock lines, got %d", len(batch.Stock))
	}
	if batch.lines != 7 {
		t.Errorf("expected 7 non-blank lines, got %d", batch.lines)
	}

	if got := batch.Articles[1].PieceVolume; got == nil || *got != 0.25 {
		t.Errorf("pieceVolume = %v, want 0.25", got)
	}
	if got := batch.Stock[0].Qty.IntPart(); got != 12 {
		t.Errorf("qty = %d, want 12", got)
	}
	if batch.Stock[3].Timestamp.IsZero() {
		t.Error("expected explicit timestamp to be parsed")
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"malformed", "{\"kind\":\"article\"\n", "line 1"},
		{"unknown kind", "{\"kind\":\"order\",\"id\":\"o1\"}\n", "unknown kind"},
		{"bad qty", "{\"kind\":\"warehouse\",\"id\":\"w1\",\"name\":\"x\"}\n{\"kind\":\"stock\",\"qty\":\"lots\"}\n", "line 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestImport(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	result, err := Import(ctx, store, Options{Path: writeJSONL(t, sampleJSONL)})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	if result.Warehouses != 1 || result.Articles != 2 {
		t.Errorf("result = %+v", result)
	}
	if result.Stock != 1 || result.Snapshot != 3 {
		t.Errorf("stock = %d, snapshot = %d, want 1 and 3", result.Stock, result.Snapshot)
	}
	if len(result.Errors) != 0 {
		t.Errorf("unexpected errors: %v", result.Errors)
	}

	if _, err := store.GetArticle(ctx, "a2"); err != nil {
		t.Errorf("article a2 not imported: %v", err)
	}

	jobs, err := store.PendingStockJobs(ctx)
	if err != nil {
		t.Fatalf("PendingStockJobs failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].WarehouseID != "w1" {
		t.Fatalf("jobs = %+v, want one job for w1", jobs)
	}

	totals, err := store.StockByArticle(ctx, "w1", jobs[0].Timestamp)
	if err != nil {
		t.Fatalf("StockByArticle failed: %v", err)
	}
	got := make(map[string]int64)
	for _, tot := range totals {
		got[tot.ArticleID] = tot.Volume()
	}
	if got["a1"] != 12 || got["a2"] != 7 {
		t.Errorf("snapshot totals = %v, want a1=12 a2=7", got)
	}
}

func TestImport_DryRun(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	result, err := Import(ctx, store, Options{Path: writeJSONL(t, sampleJSONL), DryRun: true})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Articles != 2 || result.Snapshot != 3 {
		t.Errorf("result = %+v", result)
	}

	counts, err := store.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	for c, n := range counts {
		if n != 0 {
			t.Errorf("dry run wrote %d %s documents", n, c)
		}
	}
}

func TestImport_InvalidDocumentsSkipped(t *testing.T) {
	store := setupStore(t)
	input := `{"kind":"warehouse","id":"w1"}
{"kind":"article","id":"a1","name":"Bolt"}
{"kind":"stock","warehouseId":"w1","qty":"1"}
`
	result, err := Import(context.Background(), store, Options{Path: writeJSONL(t, input)})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Warehouses != 0 || result.Articles != 1 || result.Snapshot != 0 {
		t.Errorf("result = %+v", result)
	}
	if len(result.Errors) != 2 {
		t.Errorf("expected 2 errors, got %v", result.Errors)
	}
}

func TestImport_MissingFile(t *testing.T) {
	store := setupStore(t)
	_, err := Import(context.Background(), store, Options{Path: filepath.Join(t.TempDir(), "nope.jsonl")})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
