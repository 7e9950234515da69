package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mschirtzinger/stockledger/internal/docstore"
	"github.com/mschirtzinger/stockledger/internal/stocksync"
)

// Config holds configuration for the daemon.
type Config struct {
	// Debounce is the quiet window after the last change before a pass runs.
	Debounce time.Duration

	// PollInterval is how often the change log is read.
	PollInterval time.Duration

	// WatchFiles enables the fsnotify nudge on the store directory.
	WatchFiles bool

	// PruneInterval is how often old change-log entries are deleted.
	// Zero disables pruning.
	PruneInterval time.Duration

	// ChangeRetention is how long change-log entries are kept.
	ChangeRetention time.Duration

	// Notifier, when set, is told about passes and dropped triggers.
	Notifier Notifier

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debounce:        5 * time.Second,
		PollInterval:    250 * time.Millisecond,
		WatchFiles:      true,
		PruneInterval:   time.Hour,
		ChangeRetention: 24 * time.Hour,
		Logger:          log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Runner runs one sync pass. *stocksync.Engine implements it.
type Runner interface {
	RunPass(ctx context.Context) (*stocksync.PassReport, error)
}

// Notifier receives daemon activity.
type Notifier interface {
	PassCompleted(report *stocksync.PassReport, err error)
	TriggerDropped(at time.Time)
}

// Stats counts daemon activity since start.
type Stats struct {
	Changes  int64 `json:"changes" yaml:"changes"`
	Triggers int64 `json:"triggers" yaml:"triggers"`
	Passes   int64 `json:"passes" yaml:"passes"`
	Dropped  int64 `json:"dropped" yaml:"dropped"`
}

// Daemon watches the document store and runs sync passes.
type Daemon struct {
	store  *docstore.Store
	runner Runner
	config *Config

	debouncer *Debouncer
	fires     chan struct{}
	nudge     chan struct{}

	changes  atomic.Int64
	triggers atomic.Int64
	passes   atomic.Int64
	dropped  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
	watcher  *FileWatcher
}

// New creates a daemon with the default configuration.
func New(store *docstore.Store, runner Runner) (*Daemon, error) {
	return NewWithConfig(store, runner, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(store *docstore.Store, runner Runner, config *Config) (*Daemon, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.Debounce <= 0 {
		config.Debounce = 5 * time.Second
	}
	if config.ChangeRetention <= 0 {
		config.ChangeRetention = 24 * time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		store:  store,
		runner: runner,
		config: config,
		fires:  make(chan struct{}),
		nudge:  make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	d.debouncer = NewDebouncer(config.Debounce, d.fire)
	return d, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Subscribe to the change feed
// 2. Run an initial pass
// 3. Debounce triggering changes into passes
// 4. Periodically prune the change log
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	events, err := d.store.Watch(d.ctx, docstore.WatchOptions{
		PollInterval: d.config.PollInterval,
		Nudge:        d.nudge,
		Logger:       d.config.Logger,
	}, watchedCollections...)
	if err != nil {
		return fmt.Errorf("failed to watch change feed: %w", err)
	}

	if d.config.WatchFiles {
		d.startFileWatcher()
	}

	d.wg.Add(2)
	go d.consumeChanges(events)
	go d.runPasses()

	if d.config.PruneInterval > 0 {
		d.wg.Add(1)
		go d.pruneChanges()
	}

	d.config.Logger.Printf("Watching %s (debounce %v)", d.store.Path(), d.config.Debounce)

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon, waiting for an in-flight pass.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")

		d.cancel()
		d.debouncer.Stop()

		if d.watcher != nil {
			if err := d.watcher.Stop(); err != nil {
				d.config.Logger.Printf("Error closing watcher: %v", err)
			}
		}

		d.wg.Wait()
		d.config.Logger.Println("Daemon stopped")
	})
	return nil
}

// Stats returns activity counters.
func (d *Daemon) Stats() Stats {
	return Stats{
		Changes:  d.changes.Load(),
		Triggers: d.triggers.Load(),
		Passes:   d.passes.Load(),
		Dropped:  d.dropped.Load(),
	}
}

// Trigger schedules a pass as if a triggering change had been seen.
func (d *Daemon) Trigger() {
	d.triggers.Add(1)
	d.debouncer.Trigger()
}

func (d *Daemon) startFileWatcher() {
	fw, err := NewFileWatcher()
	if err != nil {
		d.config.Logger.Printf("Warning: file watching disabled: %v", err)
		return
	}
	if err := fw.Start(d.store.Path()); err != nil {
		_ = fw.Stop()
		d.config.Logger.Printf("Warning: file watching disabled: %v", err)
		return
	}
	d.watcher = fw

	d.wg.Add(1)
	go d.forwardFileEvents(fw)
}

// forwardFileEvents nudges the change feed on database writes.
func (d *Daemon) forwardFileEvents(fw *FileWatcher) {
	defer d.wg.Done()

	events, errs := fw.Events(), fw.Errors()
	for events != nil || errs != nil {
		select {
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			select {
			case d.nudge <- struct{}{}:
			default:
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// consumeChanges feeds triggering change events to the debouncer.
func (d *Daemon) consumeChanges(events <-chan docstore.ChangeEvent) {
	defer d.wg.Done()

	for ev := range events {
		d.changes.Add(1)
		if !TriggerFor(ev) {
			continue
		}
		d.Trigger()
	}
}

// fire hands a debounced trigger to the runner, dropping it when a pass is
// running.
func (d *Daemon) fire() {
	select {
	case d.fires <- struct{}{}:
	default:
		d.dropped.Add(1)
		d.config.Logger.Println("Sync busy, trigger dropped")
		if d.config.Notifier != nil {
			d.config.Notifier.TriggerDropped(time.Now())
		}
	}
}

// runPasses runs the initial pass, then one pass per fire.
func (d *Daemon) runPasses() {
	defer d.wg.Done()

	d.runPass()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.fires:
			d.runPass()
		}
	}
}

func (d *Daemon) runPass() {
	// A started pass runs to completion even when the daemon stops.
	ctx := context.WithoutCancel(d.ctx)

	report, err := d.runner.RunPass(ctx)
	if errors.Is(err, stocksync.ErrPassInProgress) {
		d.dropped.Add(1)
		return
	}
	d.passes.Add(1)

	if err != nil {
		d.config.Logger.Printf("Pass failed: %v", err)
	}
	if d.config.Notifier != nil {
		d.config.Notifier.PassCompleted(report, err)
	}
}

// pruneChanges periodically trims the change log.
func (d *Daemon) pruneChanges() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			before := time.Now().Add(-d.config.ChangeRetention)
			n, err := d.store.PruneChanges(d.ctx, before)
			if err != nil {
				if d.ctx.Err() == nil {
					d.config.Logger.Printf("Error pruning change log: %v", err)
				}
				continue
			}
			if n > 0 {
				d.config.Logger.Printf("Pruned %d change-log entries", n)
			}
		}
	}
}
