package models

import "time"

// FrontierEntry is a URL waiting in the frontier, with its distance from the seeds
type FrontierEntry struct {
	URL        string    // Normalized URL
	Depth      int       // Seed = 0
	EnqueuedAt time.Time // Time the entry was admitted
}

// FetchResult describes the outcome of one fetch attempt sequence (retries included)
type FetchResult struct {
	URL         string        `json:"url"`
	FinalURL    string        `json:"final_url,omitempty"` // URL after redirects
	Depth       int           `json:"depth"`
	Success     bool          `json:"success"`
	StatusCode  int           `json:"status_code,omitempty"` // 0 if no response was reached
	Bytes       int64         `json:"bytes"`
	ContentType string        `json:"content_type,omitempty"`
	ContentHash string        `json:"content_hash,omitempty"`
	Links       []string      `json:"links,omitempty"` // Normalized outbound URLs (success only)
	ErrorKind   ErrorKind     `json:"error_kind,omitempty"`
	Error       string        `json:"error,omitempty"`
	Attempts    int           `json:"attempts"`
	Duration    time.Duration `json:"duration"`

	Body []byte `json:"-"` // Raw content, kept in memory only for link extraction
}

// PageRecord is the persisted outcome for a single normalized page URL
type PageRecord struct {
	URL         string     `json:"url"`
	Status      PageStatus `json:"status"`
	ErrorKind   ErrorKind  `json:"error_kind,omitempty"`
	Error       string     `json:"error,omitempty"`
	StatusCode  int        `json:"status_code,omitempty"`
	Depth       int        `json:"depth"`
	Bytes       int64      `json:"bytes,omitempty"`
	ContentHash string     `json:"content_hash,omitempty"`
	FirstSeen   time.Time  `json:"first_seen"`
	LastAttempt time.Time  `json:"last_attempt,omitempty"`
}

// NewPageRecord builds the record stored after a fetch completes
func NewPageRecord(result FetchResult, firstSeen time.Time) *PageRecord {
	rec := &PageRecord{
		URL:         result.URL,
		Status:      PageStatusSuccess,
		StatusCode:  result.StatusCode,
		Depth:       result.Depth,
		Bytes:       result.Bytes,
		ContentHash: result.ContentHash,
		FirstSeen:   firstSeen,
		LastAttempt: time.Now(),
	}
	if !result.Success {
		rec.Status = PageStatusFailure
		rec.ErrorKind = result.ErrorKind
		rec.Error = result.Error
	}
	return rec
}

// CrawlStats is a point-in-time snapshot of a run's progress
type CrawlStats struct {
	RunID           string              `json:"run_id,omitempty"`
	TotalDiscovered int64               `json:"total_discovered"` // URLs ever admitted to the frontier
	CrawledPages    int64               `json:"crawled_pages"`    // Completed fetch attempts, success or failure
	Errors          int64               `json:"errors"`           // Failed fetch attempts
	Skipped         int64               `json:"skipped"`          // Admitted URLs released without a fetch
	BytesFetched    int64               `json:"bytes_fetched"`
	ErrorsByKind    map[ErrorKind]int64 `json:"errors_by_kind,omitempty"`
	Pending         int                 `json:"pending"`   // Entries waiting in the frontier
	InFlight        int                 `json:"in_flight"` // Entries popped but not yet completed
	StartTime       time.Time           `json:"start_time"`
	EndTime         time.Time           `json:"end_time,omitempty"`
	Elapsed         time.Duration       `json:"elapsed"`
	IsRunning       bool                `json:"is_running"`
}
