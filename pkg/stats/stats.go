// Package stats aggregates crawl progress counters for a single run
package stats

import (
	"maps"
	"sync"
	"time"

	"webspider/pkg/models"
)

// QueueObserver exposes the live queue sizes of a run.
// Observe must hold the queue's lock while fn runs; the queue calls RecordDiscovered and
// settles completions under that same lock, which keeps the lock order queue before aggregator.
type QueueObserver interface {
	Observe(fn func(pending, inFlight int))
}

// Aggregator holds the counters of the current run.
// All mutations and Snapshot share one lock so a snapshot is never torn.
type Aggregator struct {
	mu sync.Mutex

	runID        string
	discovered   int64
	crawled      int64
	errors       int64
	skipped      int64
	bytes        int64
	errorsByKind map[models.ErrorKind]int64
	start        time.Time
	end          time.Time
	running      bool

	frontier QueueObserver
}

// NewAggregator returns an idle aggregator with zeroed counters
func NewAggregator() *Aggregator {
	return &Aggregator{errorsByKind: make(map[models.ErrorKind]int64)}
}

// Reset zeroes every counter and marks a new run as started
func (a *Aggregator) Reset(runID string, start time.Time, frontier QueueObserver) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.runID = runID
	a.discovered = 0
	a.crawled = 0
	a.errors = 0
	a.skipped = 0
	a.bytes = 0
	a.errorsByKind = make(map[models.ErrorKind]int64)
	a.start = start
	a.end = time.Time{}
	a.running = true
	a.frontier = frontier
}

// RecordDiscovered adds n newly admitted URLs
func (a *Aggregator) RecordDiscovered(n int) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	a.discovered += int64(n)
	a.mu.Unlock()
}

// RecordCompletion counts one finished fetch, successful or not
func (a *Aggregator) RecordCompletion(result models.FetchResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.crawled++
	a.bytes += result.Bytes
	if !result.Success {
		a.errors++
		kind := result.ErrorKind
		if kind == models.ErrorKindNone {
			kind = models.ErrorKindUnknown
		}
		a.errorsByKind[kind]++
	}
}

// RecordSkip counts an admitted URL released without a fetch attempt
func (a *Aggregator) RecordSkip() {
	a.mu.Lock()
	a.skipped++
	a.mu.Unlock()
}

// MarkFinished records the end of the run
func (a *Aggregator) MarkFinished(end time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return
	}
	a.running = false
	a.end = end
}

// Snapshot returns a consistent copy of the counters and queue sizes:
// TotalDiscovered always equals CrawledPages + Skipped + Pending + InFlight for the frontier's entries.
func (a *Aggregator) Snapshot() models.CrawlStats {
	a.mu.Lock()
	frontier := a.frontier
	a.mu.Unlock()

	var s models.CrawlStats
	if frontier == nil {
		a.mu.Lock()
		s = a.snapshotLocked(0, 0)
		a.mu.Unlock()
		return s
	}
	frontier.Observe(func(pending, inFlight int) {
		a.mu.Lock()
		s = a.snapshotLocked(pending, inFlight)
		a.mu.Unlock()
	})
	return s
}

func (a *Aggregator) snapshotLocked(pending, inFlight int) models.CrawlStats {
	s := models.CrawlStats{
		RunID:           a.runID,
		TotalDiscovered: a.discovered,
		CrawledPages:    a.crawled,
		Errors:          a.errors,
		Skipped:         a.skipped,
		BytesFetched:    a.bytes,
		StartTime:       a.start,
		EndTime:         a.end,
		Pending:         pending,
		InFlight:        inFlight,
		IsRunning:       a.running,
	}
	if len(a.errorsByKind) > 0 {
		s.ErrorsByKind = maps.Clone(a.errorsByKind)
	}
	switch {
	case a.start.IsZero():
	case a.running:
		s.Elapsed = time.Since(a.start)
	default:
		s.Elapsed = a.end.Sub(a.start)
	}
	return s
}
