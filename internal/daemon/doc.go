// Package daemon runs sync passes in response to changes in the document
// store.
//
// # Architecture
//
// The daemon consists of several components:
//
//   - Change feed: the store's change log, read by docstore.Watch
//   - TriggerFor: decides which change events schedule a pass
//   - Debouncer: coalesces bursts of triggers into one fire after a quiet window
//   - Runner goroutine: runs one pass at a time; fires arriving while a pass
//     runs are dropped and logged
//   - FileWatcher: fsnotify on the store directory, nudging the change feed
//     so writes are seen without waiting for the next poll
//
// Stock and article changes always trigger. Watermark changes only trigger
// on delete, which is how a pass invalidates a warehouse; inserts and
// updates are written by passes themselves and would loop.
//
// # Usage
//
//	d, err := daemon.New(store, engine)
//	if err != nil {
//	    return err
//	}
//	return d.Start(ctx) // blocks until ctx is cancelled
//
// An initial pass runs as soon as the daemon starts. On shutdown the daemon
// stops watching and waits for an in-flight pass to finish.
package daemon
