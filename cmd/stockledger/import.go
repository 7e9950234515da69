package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/stockledger/internal/importer"
	"github.com/mschirtzinger/stockledger/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import <file.jsonl>",
	GroupID: "admin",
	Short:   "Load articles, stock and warehouses from a JSONL file",
	Long: `Load documents into the store from a JSONL file ("-" reads stdin).

Each line is a JSON object with a "kind" of article, stock or warehouse:

  {"kind":"warehouse","id":"w1","name":"Main"}
  {"kind":"article","id":"a1","name":"Bolt","barcodes":["400100"]}
  {"kind":"stock","warehouseId":"w1","articleId":"a1","qty":"12"}

Stock lines without a timestamp are stored as one snapshot sharing a single
observation instant, which the next sync pass projects into the ledger.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		store, err := openStore(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		defer store.Close()

		result, err := importer.Import(cmd.Context(), store, importer.Options{
			Path:   args[0],
			DryRun: dryRun,
		})
		if err != nil {
			fatalf("%v", err)
		}

		verb := "Imported"
		if dryRun {
			verb = "Validated (dry run)"
		}
		fmt.Printf("%s %s %d lines\n", ui.RenderPass("✓"), verb, result.Lines)
		fmt.Printf("   Warehouses: %d\n", result.Warehouses)
		fmt.Printf("   Articles: %d\n", result.Articles)
		fmt.Printf("   Stock: %d timestamped, %d in snapshot\n", result.Stock, result.Snapshot)

		if len(result.Errors) > 0 {
			fmt.Printf("\n%s %d document(s) skipped:\n", ui.RenderWarn("⚠"), len(result.Errors))
			for _, e := range result.Errors {
				fmt.Printf("   %s\n", e)
			}
		}
	},
}

func init() {
	importCmd.Flags().Bool("dry-run", false, "validate without writing")
	rootCmd.AddCommand(importCmd)
}
