package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimiter enforces a minimum spacing between requests to the same host
// Each host gets a token bucket of size one refilled every delay, so the first request to a host is never delayed
type RateLimiter struct {
	limiters map[string]*rate.Limiter // hostname -> bucket
	mu       sync.Mutex
	log      *logrus.Entry
}

// NewRateLimiter creates a RateLimiter
func NewRateLimiter(log *logrus.Entry) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		log:      log,
	}
}

// ApplyDelay blocks until a request to host is allowed under delay, or ctx is done
// A zero or negative delay disables politeness for the call
func (rl *RateLimiter) ApplyDelay(ctx context.Context, host string, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	limiter := rl.limiterFor(host, delay)
	reservation := limiter.Reserve()
	wait := reservation.Delay()
	if wait <= 0 {
		return nil
	}

	rl.log.WithFields(logrus.Fields{"host": host, "wait": wait, "required_delay": delay}).Debug("Politeness delay")
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		reservation.Cancel() // Give the slot back so the next worker is not delayed for nothing
		return ctx.Err()
	}
}

func (rl *RateLimiter) limiterFor(host string, delay time.Duration) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(rate.Every(delay), 1)
		rl.limiters[host] = limiter
		return limiter
	}
	if limiter.Limit() != rate.Every(delay) {
		limiter.SetLimit(rate.Every(delay))
	}
	return limiter
}

// Hosts returns the number of hosts seen so far
func (rl *RateLimiter) Hosts() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}
