package fetch

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// RobotsHandler fetches, parses and caches robots.txt per host for one run
type RobotsHandler struct {
	fetcher   *Fetcher
	limiter   *RateLimiter
	delay     time.Duration // Politeness delay applied to the robots.txt request itself
	userAgent string

	mu    sync.RWMutex
	cache map[string]*robotstxt.RobotsData // scheme://host -> parsed data, nil when unavailable
	group singleflight.Group

	log *logrus.Entry
}

// NewRobotsHandler creates a RobotsHandler. limiter may be nil.
func NewRobotsHandler(fetcher *Fetcher, limiter *RateLimiter, delay time.Duration, userAgent string, log *logrus.Entry) *RobotsHandler {
	return &RobotsHandler{
		fetcher:   fetcher,
		limiter:   limiter,
		delay:     delay,
		userAgent: userAgent,
		cache:     make(map[string]*robotstxt.RobotsData),
		log:       log,
	}
}

// Allowed reports whether the configured user agent may fetch u.
// A robots.txt that is missing, unreachable or unparsable allows everything.
func (rh *RobotsHandler) Allowed(ctx context.Context, u *url.URL) bool {
	data := rh.robotsFor(ctx, u)
	if data == nil {
		return true
	}
	return data.TestAgent(u.RequestURI(), rh.userAgent)
}

// robotsFor returns cached data for u's origin, fetching it once when absent.
// Concurrent callers for the same origin share a single request.
func (rh *RobotsHandler) robotsFor(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	origin := u.Scheme + "://" + u.Host

	rh.mu.RLock()
	data, found := rh.cache[origin]
	rh.mu.RUnlock()
	if found {
		return data
	}

	v, _, _ := rh.group.Do(origin, func() (any, error) {
		rh.mu.RLock()
		cached, ok := rh.cache[origin]
		rh.mu.RUnlock()
		if ok {
			return cached, nil
		}

		fetched := rh.fetch(ctx, u)
		if ctx.Err() != nil && fetched == nil {
			// Interrupted; let a later run of the same origin try again
			return fetched, nil
		}
		rh.mu.Lock()
		rh.cache[origin] = fetched
		rh.mu.Unlock()
		return fetched, nil
	})
	data, _ = v.(*robotstxt.RobotsData)
	return data
}

func (rh *RobotsHandler) fetch(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	robotsURL := (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}).String()
	robotsLog := rh.log.WithField("robots_url", robotsURL)

	if rh.limiter != nil {
		if err := rh.limiter.ApplyDelay(ctx, u.Hostname(), rh.delay); err != nil {
			return nil
		}
	}

	robotsLog.Debug("Fetching robots.txt")
	result := rh.fetcher.Fetch(ctx, robotsURL)
	if !result.Success {
		robotsLog.WithField("error_kind", result.ErrorKind).Debugf("robots.txt unavailable, allowing all: %s", result.Error)
		return nil
	}

	data, err := robotstxt.FromStatusAndBytes(result.StatusCode, result.Body)
	if err != nil {
		robotsLog.Warnf("Error parsing robots.txt, allowing all: %v", err)
		return nil
	}
	robotsLog.Info("Parsed robots.txt")
	return data
}

// CachedHosts returns how many origins have a cached robots.txt decision
func (rh *RobotsHandler) CachedHosts() int {
	rh.mu.RLock()
	defer rh.mu.RUnlock()
	return len(rh.cache)
}

// Sitemaps returns the Sitemap directives of u's robots.txt, fetching it if needed
func (rh *RobotsHandler) Sitemaps(ctx context.Context, u *url.URL) []string {
	data := rh.robotsFor(ctx, u)
	if data == nil {
		return nil
	}
	return append([]string(nil), data.Sitemaps...)
}
