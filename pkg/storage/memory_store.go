package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"webspider/pkg/models"
)

// MemoryStore keeps the ledger in a map. Used when no state dir is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.PageRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]models.PageRecord)}
}

func (m *MemoryStore) Claim(url string, depth int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, seen := m.records[url]; seen {
		return false, nil
	}
	m.records[url] = pendingRecord(url, depth)
	return true, nil
}

func (m *MemoryStore) Lookup(url string) (*models.PageRecord, error) {
	m.mu.RLock()
	rec, seen := m.records[url]
	m.mu.RUnlock()
	if !seen {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) Settle(rec *models.PageRecord) error {
	if rec == nil {
		return fmt.Errorf("settle: nil record")
	}
	m.mu.Lock()
	m.records[rec.URL] = *rec
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Len() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

func (m *MemoryStore) Failures(limit int) ([]models.PageRecord, error) {
	m.mu.RLock()
	out := make([]models.PageRecord, 0)
	for _, rec := range m.records {
		if rec.Status == models.PageStatusFailure {
			out = append(out, rec)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ExportURLs writes URLs in sorted order
func (m *MemoryStore) ExportURLs(ctx context.Context, w io.Writer) (int, error) {
	m.mu.RLock()
	urls := make([]string, 0, len(m.records))
	for u := range m.records {
		urls = append(urls, u)
	}
	m.mu.RUnlock()
	sort.Strings(urls)

	for i, u := range urls {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if _, err := io.WriteString(w, u+"\n"); err != nil {
			return i, err
		}
	}
	return len(urls), nil
}

// RunGC has nothing to compact; it only waits for ctx
func (m *MemoryStore) RunGC(ctx context.Context, _ time.Duration) {
	<-ctx.Done()
}

func (m *MemoryStore) Close() error { return nil }

func pendingRecord(url string, depth int) models.PageRecord {
	return models.PageRecord{
		URL:       url,
		Status:    models.PageStatusPending,
		Depth:     depth,
		FirstSeen: time.Now(),
	}
}
