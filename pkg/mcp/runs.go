package mcp

import (
	"sync"
	"time"

	"webspider/pkg/models"
)

// RunStatus is how a crawl run started through the MCP server ended, or that it has not yet
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusStopped   RunStatus = "stopped"
)

// RunRecord summarizes one crawl run
type RunRecord struct {
	RunID        string    `json:"run_id"`
	Status       RunStatus `json:"status"`
	SeedURLs     []string  `json:"seed_urls"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at,omitempty"`
	CrawledPages int64     `json:"crawled_pages"`
	Errors       int64     `json:"errors"`

	stopRequested bool
}

// RunHistory keeps the most recent runs, newest first
type RunHistory struct {
	mu    sync.RWMutex
	runs  []*RunRecord
	limit int
}

// NewRunHistory creates a history holding at most limit runs
func NewRunHistory(limit int) *RunHistory {
	if limit <= 0 {
		limit = 20
	}
	return &RunHistory{limit: limit}
}

// Begin records a newly started run
func (h *RunHistory) Begin(runID string, seeds []string, startedAt time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec := &RunRecord{
		RunID:     runID,
		Status:    RunStatusRunning,
		SeedURLs:  append([]string(nil), seeds...),
		StartedAt: startedAt,
	}
	h.runs = append([]*RunRecord{rec}, h.runs...)
	if len(h.runs) > h.limit {
		h.runs = h.runs[:h.limit]
	}
}

// MarkStopRequested notes that stop_crawl was called for a running run
func (h *RunHistory) MarkStopRequested(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rec := h.find(runID); rec != nil && rec.Status == RunStatusRunning {
		rec.stopRequested = true
	}
}

// Finish records the final counters of a run
func (h *RunHistory) Finish(runID string, stats models.CrawlStats) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec := h.find(runID)
	if rec == nil || rec.Status != RunStatusRunning {
		return
	}
	rec.Status = RunStatusCompleted
	if rec.stopRequested {
		rec.Status = RunStatusStopped
	}
	rec.CompletedAt = stats.EndTime
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now()
	}
	rec.CrawledPages = stats.CrawledPages
	rec.Errors = stats.Errors
}

// Get returns a copy of the record for runID
func (h *RunHistory) Get(runID string) (RunRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if rec := h.find(runID); rec != nil {
		return *rec, true
	}
	return RunRecord{}, false
}

// List returns copies of all records, newest first
func (h *RunHistory) List() []RunRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]RunRecord, len(h.runs))
	for i, rec := range h.runs {
		out[i] = *rec
	}
	return out
}

func (h *RunHistory) find(runID string) *RunRecord {
	for _, rec := range h.runs {
		if rec.RunID == runID {
			return rec
		}
	}
	return nil
}
