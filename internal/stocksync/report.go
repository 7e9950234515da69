package stocksync

import (
	"time"
)

// PassReport summarizes one pass.
type PassReport struct {
	ID        string        `json:"id" yaml:"id"`
	StartedAt time.Time     `json:"startedAt" yaml:"startedAt"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	Articles  ArticleReport `json:"articles" yaml:"articles"`
	Jobs      []JobReport   `json:"jobs,omitempty" yaml:"jobs,omitempty"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// ArticleReport summarizes the article step of a pass.
type ArticleReport struct {
	// Seeded is set when the Article watermark was created by this pass.
	Seeded      bool      `json:"seeded,omitempty" yaml:"seeded,omitempty"`
	Fetched     int       `json:"fetched" yaml:"fetched"`
	Merged      int64     `json:"merged" yaml:"merged"`
	Watermark   time.Time `json:"watermark" yaml:"watermark"`
	Invalidated []string  `json:"invalidated,omitempty" yaml:"invalidated,omitempty"`

	// Error is set when the changed articles were merged but the watermark
	// could not be advanced. Stock jobs still run.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// JobReport summarizes the projection of one warehouse snapshot.
type JobReport struct {
	WarehouseID      string    `json:"warehouseId" yaml:"warehouseId"`
	Timestamp        time.Time `json:"timestamp" yaml:"timestamp"`
	Date             string    `json:"date" yaml:"date"`
	Articles         int       `json:"articles" yaml:"articles"`
	WarehouseCreated bool      `json:"warehouseCreated,omitempty" yaml:"warehouseCreated,omitempty"`
	Staged           int64     `json:"staged" yaml:"staged"`
	Merged           int64     `json:"merged" yaml:"merged"`
	Nullified        int64     `json:"nullified" yaml:"nullified"`
	Watermark        time.Time `json:"watermark,omitempty" yaml:"watermark,omitempty"`
	Error            string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// Failed returns the number of jobs that did not complete.
func (r *PassReport) Failed() int {
	n := 0
	for _, j := range r.Jobs {
		if j.Error != "" {
			n++
		}
	}
	return n
}

// Writes returns the number of ledger rows changed by the pass.
func (r *PassReport) Writes() int64 {
	n := r.Articles.Merged
	for _, j := range r.Jobs {
		n += j.Merged + j.Nullified
	}
	return n
}

// OK reports whether the pass, its article step and every job succeeded.
func (r *PassReport) OK() bool {
	return r.Error == "" && r.Articles.Error == "" && r.Failed() == 0
}
