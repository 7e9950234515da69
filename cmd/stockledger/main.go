// Command stockledger keeps a warehouse ledger database in step with the
// operational document store.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/stockledger/internal/config"
	"github.com/mschirtzinger/stockledger/internal/logging"
)

var (
	configFile string
	verbose    bool

	v    = config.NewViper()
	cfg  *config.Config
	logs *logging.Logging
)

var rootCmd = &cobra.Command{
	Use:   "stockledger",
	Short: "Incremental sync from the warehouse document store to the ledger",
	Long: `stockledger projects catalog articles and warehouse stock snapshots from
the operational document store into the ledger database.

Each sync pass merges changed articles, then projects the newest stock
snapshot of every warehouse whose watermark is behind. The daemon runs a
pass whenever the store changes, after a quiet window.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(v, configFile)
		if err != nil {
			return err
		}
		cfg = loaded

		logs = logging.New(logging.Options{
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		}, os.Stderr)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			_ = logs.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "admin", Title: "Administration:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default: ./stockledger.toml or .stockledger/stockledger.toml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log every ledger statement")
	flags.String("source", "", "document store path (source.path)")
	flags.String("ledger-dsn", "", "ledger data source name (ledger.dsn)")
	flags.String("ledger-driver", "", "ledger driver: sqlite3 or libsql (ledger.driver)")
	flags.String("log-file", "", "rotating log file (log.file)")

	bindFlag("source", "source.path")
	bindFlag("ledger-dsn", "ledger.dsn")
	bindFlag("ledger-driver", "ledger.driver")
	bindFlag("log-file", "log.file")
}

// bindFlag binds a persistent flag to a config key. Unset flags leave the
// key alone.
func bindFlag(name, key string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(name)); err != nil {
		panic(fmt.Sprintf("failed to bind flag %s: %v", name, err))
	}
}

// logger returns the component logger, or a stderr logger before config
// has been loaded.
func logger(component string) *log.Logger {
	if logs == nil {
		return logging.New(logging.Options{}, os.Stderr).Logger(component)
	}
	return logs.Logger(component)
}

// fatalf prints an error and exits.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
