package stocksync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mschirtzinger/stockledger/internal/ledger"
)

var (
	// ErrPassInProgress is returned by RunPass while another pass runs.
	ErrPassInProgress = errors.New("sync pass already in progress")

	// ErrWarehouseNotFound is returned when a warehouse missing from the
	// ledger cannot be found in the source either.
	ErrWarehouseNotFound = errors.New("warehouse not found in source")

	// ErrEmptyTimestamp is recorded in the article report when a batch of
	// changed articles carries no usable timestamp to advance the watermark to.
	ErrEmptyTimestamp = errors.New("empty article timestamp")
)

// Config configures an Engine.
type Config struct {
	// Logger receives pass progress. Defaults to stderr with a "[sync] " prefix.
	Logger *log.Logger

	// Verbose enables per-statement logging.
	Verbose bool

	// Now is the pass clock. Defaults to time.Now.
	Now func() time.Time
}

// Engine runs sync passes from a Source into a ledger.
type Engine struct {
	source  Source
	ledger  *ledger.Connector
	guard   Guard
	logger  *log.Logger
	verbose bool
	now     func() time.Time
}

// New creates an Engine. The ledger schema must already exist.
func New(source Source, conn *ledger.Connector, cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		source:  source,
		ledger:  conn,
		logger:  cfg.Logger,
		verbose: cfg.Verbose,
		now:     cfg.Now,
	}
}

// Guard exposes the engine's run guard.
func (e *Engine) Guard() *Guard {
	return &e.guard
}

func (e *Engine) debugf(format string, args ...any) {
	if e.verbose {
		e.logger.Printf(format, args...)
	}
}

// RunPass runs one sync pass.
//
// It returns ErrPassInProgress without doing anything when another pass
// holds the guard. Job failures are recorded in the report and do not fail
// the pass; the returned error reports pass-level failures only. The ledger
// session is always disconnected before the guard is released.
func (e *Engine) RunPass(ctx context.Context) (*PassReport, error) {
	if !e.guard.TryAcquire() {
		e.logger.Printf("Pass skipped: another pass is running")
		return nil, ErrPassInProgress
	}
	defer e.guard.Release()

	report := &PassReport{
		ID:        uuid.NewString(),
		StartedAt: e.now().UTC(),
	}
	start := time.Now()

	err := e.runPass(ctx, report)
	report.Duration = time.Since(start)

	if err != nil {
		report.Error = err.Error()
		e.logger.Printf("Pass %s failed after %v: %v", report.ID, report.Duration, err)
		return report, err
	}

	e.logger.Printf("Pass %s done in %v: %d articles merged, %d jobs (%d failed), %d invalidated",
		report.ID, report.Duration, report.Articles.Merged, len(report.Jobs), report.Failed(),
		len(report.Articles.Invalidated))
	return report, nil
}

func (e *Engine) runPass(ctx context.Context, report *PassReport) error {
	jobs, err := e.source.PendingStockJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to compute stock jobs: %w", err)
	}
	e.debugf("Pass %s: %d stock jobs pending", report.ID, len(jobs))

	sess, err := e.ledger.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if derr := sess.Disconnect(); derr != nil {
			e.logger.Printf("Warning: %v", derr)
		}
	}()

	if err := e.syncArticles(ctx, sess, &report.Articles); err != nil {
		if rbErr := sess.Rollback(); rbErr != nil {
			e.logger.Printf("Warning: %v", rbErr)
		}
		return fmt.Errorf("article sync: %w", err)
	}

	if len(jobs) == 0 {
		e.debugf("Pass %s: nothing to project", report.ID)
		return nil
	}

	if _, err := sess.ExecImmediate(ctx, ledger.DeclareStaging); err != nil {
		return fmt.Errorf("failed to declare staging table: %w", err)
	}
	if err := sess.Commit(); err != nil {
		return err
	}

	for _, job := range jobs {
		jr := JobReport{
			WarehouseID: job.WarehouseID,
			Timestamp:   job.Timestamp,
			Date:        e.ledger.FormatDate(job.Timestamp),
		}

		if err := e.syncStock(ctx, sess, job, &jr); err != nil {
			jr.Error = err.Error()
			e.logger.Printf("Error: stock %s at %s: %v", job.WarehouseID, job.Timestamp.Format(time.RFC3339), err)
			report.Jobs = append(report.Jobs, jr)
			continue
		}

		if err := e.advanceStock(ctx, job, &jr); err != nil {
			jr.Error = err.Error()
			e.logger.Printf("Error: %v", err)
		}
		report.Jobs = append(report.Jobs, jr)
	}

	return nil
}
