package fetch

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"webspider/pkg/config"
	"webspider/pkg/models"
	"webspider/pkg/utils"
)

// Options holds the per-run fetch policy
type Options struct {
	UserAgent      string
	RequestTimeout time.Duration // Bounds each attempt, body read included
	MaxRetries     int           // Retries after the first attempt
	RetryBaseDelay time.Duration
	MaxRetryDelay  time.Duration
	MaxBodyBytes   int64
}

// OptionsFromConfig extracts the fetch policy from a validated crawl config
func OptionsFromConfig(cfg config.CrawlConfig) Options {
	return Options{
		UserAgent:      cfg.UserAgent,
		RequestTimeout: cfg.RequestTimeout,
		MaxRetries:     cfg.EffectiveMaxRetries(),
		RetryBaseDelay: cfg.RetryBaseDelay,
		MaxRetryDelay:  cfg.MaxRetryDelay,
		MaxBodyBytes:   cfg.MaxBodyBytes,
	}
}

// Fetcher performs GET requests with per-attempt timeouts and retry with exponential backoff
type Fetcher struct {
	client *http.Client
	opts   Options
	log    *logrus.Entry
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(client *http.Client, opts Options, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		client: client,
		opts:   opts,
		log:    log,
	}
}

// Fetch retrieves rawURL and reports the outcome; it never returns a Go error, failures are described in the result
// Cancelling ctx stops further retries and backoff waits but does not abort an attempt already in progress;
// each attempt is bounded by RequestTimeout instead
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) models.FetchResult {
	start := time.Now()
	result := models.FetchResult{URL: rawURL}
	reqLog := f.log.WithField("url", rawURL)

	var lastErr error
	for attempt := 0; attempt <= f.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := f.backoff(attempt)
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": f.opts.MaxRetries, "delay": delay}).Warnf("Retrying after: %v", lastErr)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				reqLog.Debugf("Retries abandoned: %v", ctx.Err())
				return f.fail(result, lastErr, start)
			}
		}

		result.Attempts = attempt + 1
		outcome := f.attempt(ctx, rawURL)
		result.StatusCode = outcome.statusCode
		if outcome.err == nil {
			result.Success = true
			result.FinalURL = outcome.finalURL
			result.ContentType = outcome.contentType
			result.Body = outcome.body
			result.Bytes = int64(len(outcome.body))
			result.ContentHash = utils.BodyDigest(outcome.body)
			result.Duration = time.Since(start)
			reqLog.WithFields(logrus.Fields{"status_code": outcome.statusCode, "bytes": result.Bytes, "attempt": attempt}).Debug("Successfully fetched")
			return result
		}

		lastErr = outcome.err
		if !outcome.retryable {
			return f.fail(result, lastErr, start)
		}
	}

	if f.opts.MaxRetries > 0 {
		reqLog.Errorf("All %d fetch attempts failed. Last error: %v", f.opts.MaxRetries+1, lastErr)
		lastErr = fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
	}
	return f.fail(result, lastErr, start)
}

func (f *Fetcher) fail(result models.FetchResult, err error, start time.Time) models.FetchResult {
	result.Success = false
	result.Error = err.Error()
	result.ErrorKind = utils.CategorizeError(err)
	result.Duration = time.Since(start)
	return result
}

// attemptOutcome is the result of a single request
type attemptOutcome struct {
	statusCode  int
	finalURL    string
	contentType string
	body        []byte
	err         error
	retryable   bool
}

// attempt issues one GET bounded by RequestTimeout
// The request context is detached from ctx so that Stop lets an in-flight request finish
func (f *Fetcher) attempt(ctx context.Context, rawURL string) attemptOutcome {
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.opts.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return attemptOutcome{err: fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)}
	}
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	out := attemptOutcome{
		statusCode:  resp.StatusCode,
		finalURL:    resp.Request.URL.String(),
		contentType: resp.Header.Get("Content-Type"),
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, readErr := f.readBody(resp.Body)
		if readErr != nil {
			out.err = readErr
			out.retryable = utils.IsTransient(readErr)
			return out
		}
		out.body = body
		return out

	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		out.err = fmt.Errorf("%w: status %d %s", utils.ErrFetchHTTPStatus, resp.StatusCode, http.StatusText(resp.StatusCode))
		out.retryable = true

	default:
		// 4xx and unfollowed 3xx are terminal
		out.err = fmt.Errorf("%w: status %d %s", utils.ErrFetchHTTPStatus, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	// Drain a bounded amount so the connection can be reused
	_, _ = io.CopyN(io.Discard, resp.Body, 64<<10)
	return out
}

// readBody reads at most MaxBodyBytes; a larger body is an error rather than a silent truncation
func (f *Fetcher) readBody(body io.Reader) ([]byte, error) {
	limit := f.opts.MaxBodyBytes
	if limit <= 0 {
		limit = config.DefaultMaxBodyBytes
	}
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		if utils.CategorizeError(err) == models.ErrorKindTimeout {
			return nil, fmt.Errorf("%w: reading body: %w", utils.ErrFetchTimeout, err)
		}
		return nil, fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", utils.ErrResponseBodyRead, limit)
	}
	return data, nil
}

// classifyTransportError maps an error from http.Client.Do to a sentinel and retry decision
func classifyTransportError(err error) attemptOutcome {
	switch utils.CategorizeError(err) {
	case models.ErrorKindRedirectLoop, models.ErrorKindScope:
		// Policy failures from CheckRedirect
	case models.ErrorKindTimeout:
		err = fmt.Errorf("%w: %w", utils.ErrFetchTimeout, err)
	default:
		err = fmt.Errorf("%w: %w", utils.ErrFetchNetwork, err)
	}
	return attemptOutcome{err: err, retryable: utils.IsTransient(err)}
}

// backoff returns base * 2^(attempt-1), capped at MaxRetryDelay, plus up to 10% positive jitter
func (f *Fetcher) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(f.opts.RetryBaseDelay) * math.Pow(2, float64(attempt-1)))
	if delay <= 0 || (f.opts.MaxRetryDelay > 0 && delay > f.opts.MaxRetryDelay) {
		delay = f.opts.MaxRetryDelay
	}
	if delay <= 0 {
		return 0
	}
	if spread := int64(delay) / 10; spread > 0 {
		delay += time.Duration(rand.Int63n(spread))
	}
	return delay
}
