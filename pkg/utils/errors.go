package utils

import (
	"context"
	"errors"
	"net"
	"strings"

	"webspider/pkg/models"
)

// --- Sentinel Errors for Categorization ---
var (
	// Engine-level errors, surfaced synchronously to the caller of Start
	ErrInvalidConfig  = errors.New("invalid crawl configuration")
	ErrAlreadyRunning = errors.New("crawl already running")
	ErrInvalidURL     = errors.New("invalid URL")

	// Per-URL fetch errors, recorded in stats and never fatal to the crawl
	ErrFetchTimeout    = errors.New("fetch timed out")
	ErrFetchNetwork    = errors.New("network error during fetch")
	ErrFetchHTTPStatus = errors.New("non-2xx HTTP status")              // Wraps original status
	ErrRedirectLoop    = errors.New("redirect loop detected")           // Also used when the hop limit is exceeded
	ErrRetryFailed     = errors.New("request failed after all retries") // Wraps the last underlying error

	ErrParseMalformed   = errors.New("malformed markup") // Non-fatal, logged only
	ErrScopeViolation   = errors.New("URL out of scope (domain/pattern)")
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")
	ErrRequestCreation  = errors.New("failed to create HTTP request")
	ErrResponseBodyRead = errors.New("failed to read response body")
	ErrDatabase         = errors.New("database error") // Wraps badger errors
)

// CategorizeError maps an error to an ErrorKind for stats, metrics and page records.
func CategorizeError(err error) models.ErrorKind {
	if err == nil {
		return models.ErrorKindNone
	}

	// Specific sentinels first; ErrRetryFailed only wraps one of these or a raw network error
	switch {
	case errors.Is(err, ErrRedirectLoop):
		return models.ErrorKindRedirectLoop
	case errors.Is(err, ErrScopeViolation):
		return models.ErrorKindScope
	case errors.Is(err, ErrRobotsDisallowed):
		return models.ErrorKindRobots
	case errors.Is(err, ErrFetchHTTPStatus):
		return models.ErrorKindHTTPStatus
	case errors.Is(err, ErrFetchTimeout):
		return models.ErrorKindTimeout
	case errors.Is(err, ErrFetchNetwork):
		return models.ErrorKindNetwork
	case errors.Is(err, ErrRequestCreation):
		return models.ErrorKindInvalidURL
	case errors.Is(err, ErrResponseBodyRead):
		return models.ErrorKindBodyRead
	case errors.Is(err, ErrParseMalformed):
		return models.ErrorKindParse
	case errors.Is(err, ErrDatabase):
		return models.ErrorKindStorage
	}

	// --- Fallback checks for common underlying error types/strings ---
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrorKindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return models.ErrorKindCanceled
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return models.ErrorKindTimeout
		}
		return models.ErrorKindNetwork
	}

	lowerErrMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowerErrMsg, "timeout"):
		return models.ErrorKindTimeout
	case strings.Contains(lowerErrMsg, "connection refused"),
		strings.Contains(lowerErrMsg, "reset by peer"),
		strings.Contains(lowerErrMsg, "no such host"),
		strings.Contains(lowerErrMsg, "broken pipe"),
		strings.Contains(lowerErrMsg, "eof"):
		return models.ErrorKindNetwork
	}

	if errors.Is(err, ErrRetryFailed) {
		return models.ErrorKindNetwork // Retry exhausted on something we could not identify
	}
	return models.ErrorKindUnknown
}

// IsTransient reports whether a fetch error is worth retrying
// Timeouts and network errors are transient; status errors decide by code at the call site
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRedirectLoop) || errors.Is(err, ErrScopeViolation) || errors.Is(err, ErrRequestCreation) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch CategorizeError(err) {
	case models.ErrorKindTimeout, models.ErrorKindNetwork:
		return true
	}
	return false
}
