package dashboard

import (
	"log"
	"sync"
	"time"

	"github.com/mschirtzinger/stockledger/internal/stocksync"
)

// PassData summarizes a finished pass.
type PassData struct {
	ID             string        `json:"id"`
	Duration       time.Duration `json:"duration"`
	ArticlesMerged int64         `json:"articles_merged"`
	ArticlesError  string        `json:"articles_error,omitempty"`
	Jobs           int           `json:"jobs"`
	FailedJobs     int           `json:"failed_jobs"`
	Writes         int64         `json:"writes"`
	Error          string        `json:"error,omitempty"`
}

// InvalidatedData lists warehouses whose Stock watermark was deleted.
type InvalidatedData struct {
	PassID     string   `json:"pass_id"`
	Warehouses []string `json:"warehouses"`
}

// StatsData contains running totals since the daemon started.
type StatsData struct {
	Passes      int       `json:"passes"`
	FailedPass  int       `json:"failed_passes"`
	Jobs        int       `json:"jobs"`
	FailedJobs  int       `json:"failed_jobs"`
	Writes      int64     `json:"writes"`
	Invalidated int       `json:"invalidated"`
	Dropped     int       `json:"dropped"`
	LastPassID  string    `json:"last_pass_id,omitempty"`
	LastPassAt  time.Time `json:"last_pass_at,omitempty"`
}

// Handler turns daemon activity into dashboard messages. It implements
// daemon.Notifier.
type Handler struct {
	server *Server
	logger *log.Logger

	mu    sync.Mutex
	stats StatsData
}

// NewHandler creates a handler publishing to server. New clients are
// greeted with the current stats.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	h := &Handler{server: server, logger: logger}
	server.OnConnect(h.statsEvent)
	return h
}

// PassCompleted publishes a pass summary, its invalidations and the updated
// stats. A nil report means no pass ran and is ignored.
func (h *Handler) PassCompleted(report *stocksync.PassReport, err error) {
	if report == nil {
		return
	}

	data := PassData{
		ID:             report.ID,
		Duration:       report.Duration,
		ArticlesMerged: report.Articles.Merged,
		ArticlesError:  report.Articles.Error,
		Jobs:           len(report.Jobs),
		FailedJobs:     report.Failed(),
		Writes:         report.Writes(),
		Error:          report.Error,
	}

	h.mu.Lock()
	h.stats.Passes++
	if err != nil {
		h.stats.FailedPass++
	}
	h.stats.Jobs += data.Jobs
	h.stats.FailedJobs += data.FailedJobs
	h.stats.Writes += data.Writes
	h.stats.Invalidated += len(report.Articles.Invalidated)
	h.stats.LastPassID = report.ID
	h.stats.LastPassAt = report.StartedAt
	h.mu.Unlock()

	h.publish(KindPass, report.StartedAt, data)
	if len(report.Articles.Invalidated) > 0 {
		h.publish(KindInvalidated, report.StartedAt, InvalidatedData{
			PassID:     report.ID,
			Warehouses: report.Articles.Invalidated,
		})
	}
	h.publishStats()
}

// TriggerDropped publishes a dropped trigger and the updated stats.
func (h *Handler) TriggerDropped(at time.Time) {
	h.mu.Lock()
	h.stats.Dropped++
	h.mu.Unlock()

	h.publish(KindDropped, at, nil)
	h.publishStats()
}

// GetStats returns the current statistics.
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Handler) statsEvent() Event {
	ev, err := NewEvent(KindStats, time.Now(), h.GetStats())
	if err != nil {
		h.logger.Printf("Error: %v", err)
	}
	return ev
}

func (h *Handler) publishStats() {
	if err := h.server.Publish(h.statsEvent()); err != nil {
		h.logger.Printf("Error: %v", err)
	}
}

func (h *Handler) publish(kind EventKind, at time.Time, data any) {
	ev, err := NewEvent(kind, at, data)
	if err == nil {
		err = h.server.Publish(ev)
	}
	if err != nil {
		h.logger.Printf("Error: %v", err)
	}
}
