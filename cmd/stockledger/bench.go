package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/stockledger/internal/docstore"
	"github.com/mschirtzinger/stockledger/internal/ledger"
	"github.com/mschirtzinger/stockledger/internal/loadtest"
	"github.com/mschirtzinger/stockledger/internal/stocksync"
	"github.com/mschirtzinger/stockledger/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "admin",
	Short:   "Measure sync pass latency on synthetic data",
	Long: `Populate a scratch store and ledger with a synthetic catalog and warehouse
snapshots, then run sync passes while changing part of the data between
rounds.

The configured store and ledger are not touched; scratch databases are
created in a temporary directory unless --dir is given.`,
	Run: func(cmd *cobra.Command, args []string) {
		articles, _ := cmd.Flags().GetInt("articles")
		warehouses, _ := cmd.Flags().GetInt("warehouses")
		rounds, _ := cmd.Flags().GetInt("rounds")
		change, _ := cmd.Flags().GetFloat64("change")
		callers, _ := cmd.Flags().GetInt("callers")
		dir, _ := cmd.Flags().GetString("dir")

		if dir == "" {
			tmp, err := os.MkdirTemp("", "stockledger-bench-*")
			if err != nil {
				fatalf("%v", err)
			}
			defer os.RemoveAll(tmp)
			dir = tmp
		}

		ctx := context.WithoutCancel(cmd.Context())

		store, err := docstore.Open(filepath.Join(dir, "source.db"))
		if err != nil {
			fatalf("%v", err)
		}
		defer store.Close()
		if err := store.InitSchemaContext(ctx); err != nil {
			fatalf("%v", err)
		}

		conn, err := ledger.Open(ledger.DriverSQLite, filepath.Join(dir, "ledger.db"))
		if err != nil {
			fatalf("%v", err)
		}
		defer conn.Close()
		if err := conn.InitSchema(ctx); err != nil {
			fatalf("%v", err)
		}

		passLog := log.New(io.Discard, "", 0)
		if verbose {
			passLog = logger("sync")
		}
		engine := stocksync.New(store, conn, stocksync.Config{Logger: passLog})

		fmt.Printf("%s Populating %d articles across %d warehouses...\n", ui.RenderAccent("⏱"), articles, warehouses)
		start := time.Now()
		ds, err := loadtest.Populate(ctx, store, loadtest.Options{Articles: articles, Warehouses: warehouses})
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("   %d stock rows in %v\n\n", ds.StockRows, time.Since(start).Round(time.Millisecond))

		stats, err := ds.RunRounds(ctx, store, engine, rounds, change)
		if err != nil {
			fatalf("%v", err)
		}
		stats.PrintStats(os.Stdout)

		if callers > 1 {
			res, err := loadtest.VerifyMutualExclusion(ctx, engine, callers)
			if err != nil {
				fatalf("%v", err)
			}
			fmt.Printf("\nConcurrent passes: %d attempted, %d ran, %d rejected by the run guard\n",
				res.Attempts, res.Ran, res.Rejected)
		}

		ledgerStats, err := conn.Stats(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("\n%s Ledger: %d articles, %d warehouses, %d stock rows\n",
			ui.RenderPass("✓"), ledgerStats.Articles, ledgerStats.Warehouses, ledgerStats.StockRows)
	},
}

func init() {
	benchCmd.Flags().Int("articles", 1000, "catalog size")
	benchCmd.Flags().Int("warehouses", 10, "number of warehouses")
	benchCmd.Flags().Int("rounds", 10, "sync passes to run")
	benchCmd.Flags().Float64("change", 0.3, "fraction of warehouses re-counted between rounds")
	benchCmd.Flags().Int("callers", 0, "also fire this many concurrent passes at the run guard")
	benchCmd.Flags().String("dir", "", "directory for the scratch databases")

	rootCmd.AddCommand(benchCmd)
}
