package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/stockledger/internal/daemon"
	"github.com/mschirtzinger/stockledger/internal/dashboard"
	"github.com/mschirtzinger/stockledger/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Watch the document store and sync on change (foreground)",
	Long: `Run the sync daemon in the foreground.

The daemon will:
  1. Run an initial sync pass
  2. Follow the store's change log for stock, article and processing changes
  3. Wait for a quiet window (sync.debounce) after the last change
  4. Run a sync pass; changes arriving during a pass are dropped

Deleting a Stock watermark counts as a change, so invalidated warehouses are
reprojected on the next pass.

With --dashboard, pass reports are broadcast over WebSocket:
  ws://localhost:8080/ws

Stop with Ctrl+C; a running pass is allowed to finish. SIGHUP starts a new
log file when log.file is set.`,
	Run: func(cmd *cobra.Command, args []string) {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		if cmd.Flags().Changed("port") {
			cfg.Dashboard.Port, _ = cmd.Flags().GetInt("port")
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		go rotateOnHangup(ctx)

		engine, store, _, closeAll, err := openEngine(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer closeAll()

		dcfg := &daemon.Config{
			Debounce:        cfg.Sync.Debounce,
			PollInterval:    cfg.Source.PollInterval,
			WatchFiles:      cfg.Sync.WatchFiles,
			PruneInterval:   cfg.Sync.PruneInterval,
			ChangeRetention: cfg.Sync.ChangeRetention,
			Logger:          logger("daemon"),
		}

		if withDashboard {
			server := dashboard.NewServer(&dashboard.Config{
				Port:   cfg.Dashboard.Port,
				Logger: logger("dashboard"),
			})
			dcfg.Notifier = dashboard.NewHandler(server, logger("dashboard"))

			if err := server.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to start dashboard: %v\n", err)
				return
			}
			defer func() {
				if err := server.Stop(); err != nil {
					fmt.Fprintf(os.Stderr, "Error stopping dashboard: %v\n", err)
				}
			}()
		}

		d, err := daemon.NewWithConfig(store, engine, dcfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			return
		}

		fmt.Printf("%s Starting sync daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Store: %s\n", cfg.Source.Path)
		fmt.Printf("   Ledger: %s (%s)\n", cfg.Ledger.DSN, cfg.Ledger.Driver)
		fmt.Printf("   Debounce: %v\n", cfg.Sync.Debounce)
		if withDashboard {
			fmt.Printf("   Dashboard: ws://localhost:%d/ws\n", cfg.Dashboard.Port)
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		// Start blocks until ctx is cancelled.
		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			return
		}

		stats := d.Stats()
		fmt.Printf("\n%s Daemon stopped: %d passes, %d changes, %d dropped triggers\n",
			ui.RenderPass("✓"), stats.Passes, stats.Changes, stats.Dropped)
	},
}

// rotateOnHangup starts a new log file on every SIGHUP until ctx is done.
func rotateOnHangup(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := logs.Rotate(); err != nil {
				logger("daemon").Printf("Failed to rotate log: %v", err)
			}
		}
	}
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "broadcast pass reports over WebSocket")
	daemonCmd.Flags().IntP("port", "p", 8080, "dashboard port (dashboard.port)")

	rootCmd.AddCommand(daemonCmd)
}
