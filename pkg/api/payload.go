package api

import (
	"time"

	"webspider/pkg/config"
	"webspider/pkg/models"
)

// StartRequest is the StartCrawl command payload. Omitted fields keep the server's configured defaults.
type StartRequest struct {
	SeedURLs               []string `json:"seedUrls"`
	MaxPages               *int     `json:"maxPages,omitempty"`
	MaxDepth               *int     `json:"maxDepth,omitempty"`
	Concurrency            *int     `json:"concurrency,omitempty"`
	AllowedDomains         []string `json:"allowedDomains,omitempty"`
	RequestTimeoutMs       *int64   `json:"requestTimeoutMs,omitempty"`
	PolitenessDelayMs      *int64   `json:"politenessDelayMs,omitempty"`
	UserAgent              string   `json:"userAgent,omitempty"`
	RespectRobots          *bool    `json:"respectRobots,omitempty"`
	RespectNofollow        *bool    `json:"respectNofollow,omitempty"`
	UseSitemaps            *bool    `json:"useSitemaps,omitempty"`
	MaxRetries             *int     `json:"maxRetries,omitempty"`
	DisallowedPathPatterns []string `json:"disallowedPathPatterns,omitempty"`
}

// Apply overlays the request on a copy of defaults. Validation is left to the controller.
func (r StartRequest) Apply(defaults config.CrawlConfig) config.CrawlConfig {
	cfg := defaults.Clone()
	cfg.SeedURLs = append([]string(nil), r.SeedURLs...)
	if r.MaxPages != nil {
		cfg.MaxPages = *r.MaxPages
	}
	if r.MaxDepth != nil {
		cfg.MaxDepth = *r.MaxDepth
	}
	if r.Concurrency != nil {
		cfg.Concurrency = *r.Concurrency
	}
	if r.AllowedDomains != nil {
		cfg.AllowedDomains = append([]string(nil), r.AllowedDomains...)
	}
	if r.RequestTimeoutMs != nil {
		cfg.RequestTimeout = time.Duration(*r.RequestTimeoutMs) * time.Millisecond
	}
	if r.PolitenessDelayMs != nil {
		cfg.PolitenessDelay = time.Duration(*r.PolitenessDelayMs) * time.Millisecond
	}
	if r.UserAgent != "" {
		cfg.UserAgent = r.UserAgent
	}
	if r.RespectRobots != nil {
		cfg.RespectRobots = *r.RespectRobots
	}
	if r.RespectNofollow != nil {
		cfg.RespectNofollow = *r.RespectNofollow
	}
	if r.UseSitemaps != nil {
		cfg.UseSitemaps = *r.UseSitemaps
	}
	if r.MaxRetries != nil {
		retries := *r.MaxRetries
		cfg.MaxRetries = &retries
	}
	if r.DisallowedPathPatterns != nil {
		cfg.DisallowedPathPatterns = append([]string(nil), r.DisallowedPathPatterns...)
	}
	return cfg
}

// StatusResponse is the GetStatus reply
type StatusResponse struct {
	TotalPages   int64                      `json:"totalPages"`
	CrawledPages int64                      `json:"crawledPages"`
	Errors       int64                      `json:"errors"`
	Skipped      int64                      `json:"skipped"`
	StartTime    string                     `json:"startTime,omitempty"` // RFC 3339, empty before the first run
	IsRunning    bool                       `json:"isRunning"`
	State        models.CrawlState          `json:"state"`
	RunID        string                     `json:"runId,omitempty"`
	Pending      int                        `json:"pending"`
	InFlight     int                        `json:"inFlight"`
	BytesFetched int64                      `json:"bytesFetched"`
	ElapsedMs    int64                      `json:"elapsedMs"`
	EndTime      string                     `json:"endTime,omitempty"`
	ErrorsByKind map[models.ErrorKind]int64 `json:"errorsByKind,omitempty"`
}

// NewStatusResponse converts a controller snapshot into the wire format
func NewStatusResponse(s models.CrawlStats, state models.CrawlState) StatusResponse {
	resp := StatusResponse{
		TotalPages:   s.TotalDiscovered,
		CrawledPages: s.CrawledPages,
		Errors:       s.Errors,
		Skipped:      s.Skipped,
		IsRunning:    s.IsRunning,
		State:        state,
		RunID:        s.RunID,
		Pending:      s.Pending,
		InFlight:     s.InFlight,
		BytesFetched: s.BytesFetched,
		ElapsedMs:    s.Elapsed.Milliseconds(),
		ErrorsByKind: s.ErrorsByKind,
	}
	if !s.StartTime.IsZero() {
		resp.StartTime = s.StartTime.UTC().Format(time.RFC3339Nano)
	}
	if !s.EndTime.IsZero() {
		resp.EndTime = s.EndTime.UTC().Format(time.RFC3339Nano)
	}
	return resp
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error string `json:"error"`
}

// FailuresResponse lists per-URL failures of the current or last run
type FailuresResponse struct {
	Count    int                 `json:"count"`
	Failures []models.PageRecord `json:"failures"`
}
