package models

// PageStatus is the lifecycle of one URL within a run: admitted, then settled by a fetch or a skip
type PageStatus string

const (
	PageStatusPending PageStatus = "pending"
	PageStatusSuccess PageStatus = "success"
	PageStatusFailure PageStatus = "failure"
	PageStatusSkipped PageStatus = "skipped" // Admitted but never fetched, e.g. a seed disallowed by robots.txt
)

// ErrorKind is the category of a failed fetch
type ErrorKind string

const (
	ErrorKindNone         ErrorKind = ""
	ErrorKindTimeout      ErrorKind = "timeout"
	ErrorKindNetwork      ErrorKind = "network"
	ErrorKindHTTPStatus   ErrorKind = "http_status"
	ErrorKindRedirectLoop ErrorKind = "redirect_loop"
	ErrorKindScope        ErrorKind = "scope"
	ErrorKindRobots       ErrorKind = "robots"
	ErrorKindInvalidURL   ErrorKind = "invalid_url"
	ErrorKindBodyRead     ErrorKind = "body_read"
	ErrorKindParse        ErrorKind = "parse"
	ErrorKindStorage      ErrorKind = "storage"
	ErrorKindCanceled     ErrorKind = "canceled"
	ErrorKindPanic        ErrorKind = "panic"
	ErrorKindUnknown      ErrorKind = "unknown"
)

// String implements fmt.Stringer for logging
func (k ErrorKind) String() string {
	if k == "" {
		return "none"
	}
	return string(k)
}

// CrawlState is the lifecycle state of the crawl controller
type CrawlState int32

const (
	StateIdle CrawlState = iota
	StateRunning
	StateStopping
	StateStopped
)

// String implements fmt.Stringer
func (s CrawlState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// CanStart reports whether Start is allowed from this state
func (s CrawlState) CanStart() bool {
	return s == StateIdle || s == StateStopped
}

// MarshalText renders the state by name in JSON payloads
func (s CrawlState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
