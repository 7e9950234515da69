package main

import (
	"context"
	"fmt"

	"github.com/mschirtzinger/stockledger/internal/docstore"
	"github.com/mschirtzinger/stockledger/internal/ledger"
	"github.com/mschirtzinger/stockledger/internal/stocksync"
)

// openStore opens the document store and ensures its schema.
func openStore(ctx context.Context) (*docstore.Store, error) {
	store, err := docstore.Open(cfg.Source.Path)
	if err != nil {
		return nil, err
	}
	if err := store.InitSchemaContext(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// openLedger opens the ledger with the configured driver and timezone.
func openLedger() (*ledger.Connector, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	conn, err := ledger.Open(cfg.Ledger.Driver, cfg.Ledger.DSN, ledger.WithLocation(loc))
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	return conn, nil
}

// openEngine opens both databases and builds a sync engine. The returned
// function closes everything.
func openEngine(ctx context.Context) (*stocksync.Engine, *docstore.Store, *ledger.Connector, func(), error) {
	store, err := openStore(ctx)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	conn, err := openLedger()
	if err != nil {
		_ = store.Close()
		return nil, nil, nil, nil, err
	}

	engine := stocksync.New(store, conn, stocksync.Config{
		Logger:  logger("sync"),
		Verbose: verbose,
	})

	closeAll := func() {
		if err := conn.Close(); err != nil {
			logger("ledger").Printf("Failed to close ledger: %v", err)
		}
		if err := store.Close(); err != nil {
			logger("store").Printf("Failed to close store: %v", err)
		}
	}
	return engine, store, conn, closeAll, nil
}
