package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/stockledger/internal/docstore"
	"github.com/mschirtzinger/stockledger/internal/ledger"
	"github.com/mschirtzinger/stockledger/internal/model"
	"github.com/mschirtzinger/stockledger/internal/ui"
)

// Status is the combined view of store, watermarks and ledger.
type Status struct {
	Source     string            `json:"source" yaml:"source"`
	Ledger     string            `json:"ledger" yaml:"ledger"`
	Driver     string            `json:"driver" yaml:"driver"`
	Timezone   string            `json:"timezone" yaml:"timezone"`
	Documents  map[string]int    `json:"documents" yaml:"documents"`
	Watermarks []model.Watermark `json:"watermarks" yaml:"watermarks"`
	Pending    []model.StockJob  `json:"pending" yaml:"pending"`
	Stale      []string          `json:"stale,omitempty" yaml:"stale,omitempty"`
	LedgerRows *ledger.Stats     `json:"ledgerRows,omitempty" yaml:"ledgerRows,omitempty"`
	LedgerErr  string            `json:"ledgerError,omitempty" yaml:"ledgerError,omitempty"`
}

func collectStatus(ctx context.Context, store *docstore.Store, conn *ledger.Connector) (*Status, error) {
	st := &Status{
		Source:    cfg.Source.Path,
		Ledger:    cfg.Ledger.DSN,
		Driver:    conn.Driver(),
		Timezone:  conn.Location().String(),
		Documents: make(map[string]int),
	}

	counts, err := store.Counts(ctx)
	if err != nil {
		return nil, err
	}
	for c, n := range counts {
		st.Documents[string(c)] = n
	}

	if st.Watermarks, err = store.ListWatermarks(ctx, ""); err != nil {
		return nil, err
	}
	if st.Pending, err = store.PendingStockJobs(ctx); err != nil {
		return nil, err
	}
	if st.Stale, err = store.StaleStockLocations(ctx); err != nil {
		return nil, err
	}

	// An unreachable ledger is reported, not fatal.
	if stats, err := conn.Stats(ctx); err != nil {
		st.LedgerErr = err.Error()
	} else {
		st.LedgerRows = stats
	}
	return st, nil
}

func renderStatus(w io.Writer, st *Status) {
	fmt.Fprintf(w, "\n%s Stock Ledger Status\n\n", ui.RenderAccent("📊"))
	fmt.Fprintf(w, "Store: %s\n", st.Source)
	fmt.Fprintf(w, "   Articles: %d  Stock: %d  Warehouses: %d\n",
		st.Documents[string(docstore.CollectionArticle)],
		st.Documents[string(docstore.CollectionStock)],
		st.Documents[string(docstore.CollectionWarehouse)])

	fmt.Fprintf(w, "Ledger: %s %s\n", st.Ledger, ui.RenderMuted(fmt.Sprintf("(%s, %s)", st.Driver, st.Timezone)))
	if st.LedgerRows != nil {
		fmt.Fprintf(w, "   Articles: %d  Warehouses: %d  Stock rows: %d (%d non-zero)\n",
			st.LedgerRows.Articles, st.LedgerRows.Warehouses,
			st.LedgerRows.StockRows, st.LedgerRows.NonZeroRows)
	} else {
		fmt.Fprintf(w, "   %s %s\n", ui.RenderWarn("⚠"), st.LedgerErr)
	}

	fmt.Fprintln(w)
	if len(st.Watermarks) == 0 {
		fmt.Fprintf(w, "%s No watermarks yet; run 'stockledger sync'\n", ui.RenderMuted("•"))
	} else {
		rows := make([][]string, 0, len(st.Watermarks))
		for _, wm := range st.Watermarks {
			rows = append(rows, []string{string(wm.Group), wm.Name, formatTime(wm.LastTimestamp)})
		}
		fmt.Fprintln(w, ui.RenderTable([]string{"Group", "Name", "Last timestamp"}, rows))
	}

	if len(st.Pending) == 0 {
		fmt.Fprintf(w, "%s All warehouses projected\n", ui.RenderPass("✓"))
	} else {
		fmt.Fprintf(w, "%s %d warehouse(s) pending:\n", ui.RenderWarn("⚠"), len(st.Pending))
		for _, job := range st.Pending {
			fmt.Fprintf(w, "   %s snapshot %s\n", job.WarehouseID, formatTime(job.Timestamp))
		}
	}
	if len(st.Stale) > 0 {
		fmt.Fprintf(w, "%s %d warehouse(s) will be invalidated by the next pass\n",
			ui.RenderWarn("⚠"), len(st.Stale))
	}
	fmt.Fprintln(w)
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show store, watermark and ledger status",
	Long: `Display document counts, watermarks, warehouses waiting for a pass and
ledger row counts.

Shows:
  - Documents per collection in the store
  - Article and Stock watermarks
  - Warehouses with an unprojected snapshot
  - Ledger article, warehouse and stock row counts`,
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		if err := validFormat(format); err != nil {
			fatalf("%v", err)
		}

		if _, err := os.Stat(cfg.Source.Path); os.IsNotExist(err) {
			fmt.Printf("\n%s Store not initialized\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Run 'stockledger init' to create it\n\n")
			return
		}

		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer store.Close()

		conn, err := openLedger()
		if err != nil {
			fatalf("%v", err)
		}
		defer conn.Close()

		st, err := collectStatus(ctx, store, conn)
		if err != nil {
			fatalf("%v", err)
		}

		if format == formatText {
			renderStatus(os.Stdout, st)
			return
		}
		if err := writeStructured(os.Stdout, format, st); err != nil {
			fatalf("writing status: %v", err)
		}
	},
}

func init() {
	statusCmd.Flags().StringP("format", "f", formatText, "output format: text, json or yaml")
	rootCmd.AddCommand(statusCmd)
}
