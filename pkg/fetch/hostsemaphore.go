package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// DefaultEvictionInterval is how often RunEviction sweeps idle hosts
const DefaultEvictionInterval = time.Minute

type hostSlot struct {
	sem      *semaphore.Weighted
	holders  int64 // Held plus waiting permits
	lastUsed time.Time
}

// HostSemaphorePool caps the number of concurrent requests per host.
// One pool is shared by every worker of a run.
type HostSemaphorePool struct {
	mu    sync.Mutex
	slots map[string]*hostSlot
	limit int64
	log   *logrus.Entry
}

// NewHostSemaphorePool creates a pool allowing maxPerHost concurrent holders per host.
// A non-positive limit is raised to 1.
func NewHostSemaphorePool(maxPerHost int, log *logrus.Entry) *HostSemaphorePool {
	if maxPerHost < 1 {
		maxPerHost = 1
	}
	return &HostSemaphorePool{
		slots: make(map[string]*hostSlot),
		limit: int64(maxPerHost),
		log:   log,
	}
}

// Acquire blocks until a permit for host is free or ctx is done.
// On success the returned func releases the permit; it is safe to call once.
func (p *HostSemaphorePool) Acquire(ctx context.Context, host string) (func(), error) {
	p.mu.Lock()
	slot, ok := p.slots[host]
	if !ok {
		slot = &hostSlot{sem: semaphore.NewWeighted(p.limit)}
		p.slots[host] = slot
		p.log.WithFields(logrus.Fields{"host": host, "limit": p.limit}).Trace("Host semaphore created")
	}
	slot.holders++
	p.mu.Unlock()

	if err := slot.sem.Acquire(ctx, 1); err != nil {
		p.mu.Lock()
		slot.holders--
		slot.lastUsed = time.Now()
		p.mu.Unlock()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			slot.holders--
			slot.lastUsed = time.Now()
			p.mu.Unlock()
			slot.sem.Release(1)
		})
	}, nil
}

// RunEviction drops hosts that have been idle for a full interval until ctx is done
func (p *HostSemaphorePool) RunEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultEvictionInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := p.evictIdle(interval); n > 0 {
				p.log.Debugf("Evicted %d idle host semaphores", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *HostSemaphorePool) evictIdle(maxIdle time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	evicted := 0
	for host, slot := range p.slots {
		if slot.holders == 0 && !slot.lastUsed.IsZero() && slot.lastUsed.Before(cutoff) {
			delete(p.slots, host)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of hosts currently tracked
func (p *HostSemaphorePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}
