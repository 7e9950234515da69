// Package importer loads documents into the source store from JSONL files.
//
// Each line is one JSON object carrying a "kind" field (article, stock or
// warehouse) alongside the document fields:
//
//	{"kind":"warehouse","id":"w1","name":"Main"}
//	{"kind":"article","id":"a1","name":"Bolt","barcodes":["400100"]}
//	{"kind":"stock","warehouseId":"w1","articleId":"a1","qty":"12"}
//
// Stock lines without a timestamp are written as one snapshot so they share
// a single observation instant. An article "ts" is ignored; the store stamps
// its own modification time.
package importer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mschirtzinger/stockledger/internal/model"
)

// Kind identifies the document type of a JSONL line.
type Kind string

const (
	KindArticle   Kind = "article"
	KindStock     Kind = "stock"
	KindWarehouse Kind = "warehouse"
)

// Target receives imported documents. *docstore.Store implements it.
type Target interface {
	PutArticle(ctx context.Context, a *model.Article) error
	PutStock(ctx context.Context, st *model.Stock) error
	PutStockSnapshot(ctx context.Context, stock []*model.Stock) error
	PutWarehouse(ctx context.Context, w *model.Warehouse) error
}

// Options contains configuration for an import
type Options struct {
	Path   string // Input JSONL file path, "-" for stdin
	DryRun bool   // Parse and validate without writing
}

// Result contains statistics about an import
type Result struct {
	Lines      int
	Articles   int
	Stock      int
	Snapshot   int
	Warehouses int
	Errors     []string
}

// Batch holds the parsed documents of one JSONL input.
type Batch struct {
	Warehouses []*model.Warehouse
	Articles   []*model.Article
	Stock      []*model.Stock
	lines      int
}

// Parse reads JSONL documents from r. Blank lines are skipped; a malformed
// line or unknown kind aborts with the line number.
func Parse(r io.Reader) (*Batch, error) {
	batch := &Batch{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		batch.lines++

		var head struct {
			Kind Kind `json:"kind"`
		}
		if err := json.Unmarshal(line, &head); err != nil {
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum, err)
		}

		var err error
		switch head.Kind {
		case KindArticle:
			var a model.Article
			err = json.Unmarshal(line, &a)
			batch.Articles = append(batch.Articles, &a)
		case KindStock:
			var st model.Stock
			err = json.Unmarshal(line, &st)
			batch.Stock = append(batch.Stock, &st)
		case KindWarehouse:
			var w model.Warehouse
			err = json.Unmarshal(line, &w)
			batch.Warehouses = append(batch.Warehouses, &w)
		default:
			return nil, fmt.Errorf("unknown kind %q at line %d", head.Kind, lineNum)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid %s at line %d: %w", head.Kind, lineNum, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	return batch, nil
}

// FromJSONL opens path (or stdin for "-") and parses it.
func FromJSONL(path string) (*Batch, error) {
	if path == "-" {
		return Parse(os.Stdin)
	}

	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	return Parse(file)
}

// Import writes the documents of opts.Path into target.
//
// Warehouses are written first, then articles, then stock. Invalid documents
// are reported in Result.Errors and skipped.
func Import(ctx context.Context, target Target, opts Options) (*Result, error) {
	batch, err := FromJSONL(opts.Path)
	if err != nil {
		return nil, err
	}
	return Apply(ctx, target, batch, opts.DryRun)
}

// Apply writes a parsed batch into target.
func Apply(ctx context.Context, target Target, batch *Batch, dryRun bool) (*Result, error) {
	result := &Result{Lines: batch.lines}

	for _, w := range batch.Warehouses {
		if err := w.Validate(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("warehouse %s: %v", w.ID, err))
			continue
		}
		if !dryRun {
			if err := target.PutWarehouse(ctx, w); err != nil {
				result.Errors = append(result.Errors, err.Error())
				continue
			}
		}
		result.Warehouses++
	}

	for _, a := range batch.Articles {
		if err := a.Validate(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("article %s: %v", a.ID, err))
			continue
		}
		if !dryRun {
			if err := target.PutArticle(ctx, a); err != nil {
				result.Errors = append(result.Errors, err.Error())
				continue
			}
		}
		result.Articles++
	}

	var snapshot []*model.Stock
	for _, st := range batch.Stock {
		if err := st.Validate(); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("stock %s/%s: %v", st.WarehouseID, st.ArticleID, err))
			continue
		}
		if st.Timestamp.IsZero() {
			snapshot = append(snapshot, st)
			continue
		}
		if !dryRun {
			if err := target.PutStock(ctx, st); err != nil {
				result.Errors = append(result.Errors, err.Error())
				continue
			}
		}
		result.Stock++
	}

	if len(snapshot) > 0 {
		if !dryRun {
			if err := target.PutStockSnapshot(ctx, snapshot); err != nil {
				return result, fmt.Errorf("failed to write stock snapshot: %w", err)
			}
		}
		result.Snapshot = len(snapshot)
	}

	return result, nil
}
