package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/stockledger/internal/stocksync"
	"github.com/mschirtzinger/stockledger/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "admin",
	Short:   "Create the document store and ledger schemas",
	Long: `Create the document store and the ledger tables if they do not exist.

Running init again is safe: existing data is left untouched.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		store, err := openStore(ctx)
		if err != nil {
			fatalf("initializing store: %v", err)
		}
		defer store.Close()

		conn, err := openLedger()
		if err != nil {
			fatalf("%v", err)
		}
		defer conn.Close()

		if err := conn.InitSchema(ctx); err != nil {
			fatalf("initializing ledger: %v", err)
		}

		fmt.Printf("%s Initialized\n", ui.RenderPass("✓"))
		fmt.Printf("   Store: %s\n", cfg.Source.Path)
		fmt.Printf("   Ledger: %s (%s)\n", cfg.Ledger.DSN, cfg.Ledger.Driver)
	},
}

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one sync pass",
	Long: `Run a single sync pass and print its report.

The pass merges articles changed since the Article watermark, invalidates
warehouses whose projected snapshot used outdated articles, and projects the
newest stock snapshot of every warehouse that is behind.

Exits non-zero when the pass or any warehouse job failed.`,
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		if err := validFormat(format); err != nil {
			fatalf("%v", err)
		}

		engine, _, _, closeAll, err := openEngine(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}

		// Passes are never cancelled part way.
		report, err := engine.RunPass(context.WithoutCancel(cmd.Context()))
		closeAll()

		if errors.Is(err, stocksync.ErrPassInProgress) {
			fatalf("%v", err)
		}

		if format == formatText {
			renderReport(os.Stdout, report)
		} else if werr := writeStructured(os.Stdout, format, report); werr != nil {
			fatalf("writing report: %v", werr)
		}

		if err != nil || !report.OK() {
			os.Exit(1)
		}
	},
}

func init() {
	syncCmd.Flags().StringP("format", "f", formatText, "output format: text, json or yaml")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(syncCmd)
}
