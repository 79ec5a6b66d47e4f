package watch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultStateFile is used when no state path is configured
const DefaultStateFile = "watch_state.json"

// Outcome is what the scheduler remembers about the last run of a watched crawl
type Outcome struct {
	RunID        string    `json:"last_run_id"`
	StartedAt    time.Time `json:"last_run_time"`
	Completed    bool      `json:"completed"` // false if stopped before the frontier drained
	CrawledPages int64     `json:"crawled_pages"`
	Errors       int64     `json:"errors"`
	StartError   string    `json:"error_message,omitempty"`
}

type stateDoc struct {
	Crawls    map[string]Outcome `json:"crawls"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// StateFile is the JSON file the scheduler keeps its per-crawl outcomes in, so a restart honours the interval
type StateFile struct {
	path string

	mu  sync.RWMutex
	doc stateDoc
}

func NewStateFile(path string) *StateFile {
	if path == "" {
		path = DefaultStateFile
	}
	return &StateFile{path: path, doc: stateDoc{Crawls: map[string]Outcome{}}}
}

// Load replaces the in-memory outcomes with the file's; no file means nothing has run yet
func (f *StateFile) Load() error {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read watch state %s: %w", f.path, err)
	}

	var doc stateDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse watch state %s: %w", f.path, err)
	}
	if doc.Crawls == nil {
		doc.Crawls = map[string]Outcome{}
	}

	f.mu.Lock()
	f.doc = doc
	f.mu.Unlock()
	return nil
}

// Save writes through a temp file and rename so a crash never leaves a half-written state file
func (f *StateFile) Save() error {
	f.mu.Lock()
	f.doc.UpdatedAt = time.Now()
	raw, err := json.MarshalIndent(f.doc, "", "  ")
	f.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode watch state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("create watch state dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("write watch state: %w", err)
	}
	return os.Rename(tmp, f.path)
}

func (f *StateFile) Get(key string) (Outcome, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	o, ok := f.doc.Crawls[key]
	return o, ok
}

func (f *StateFile) Put(key string, o Outcome) {
	f.mu.Lock()
	f.doc.Crawls[key] = o
	f.mu.Unlock()
}

// NextDue is interval after the last start, or now for a crawl that never ran
func (f *StateFile) NextDue(key string, interval time.Duration, now time.Time) time.Time {
	o, ok := f.Get(key)
	if !ok {
		return now
	}
	return o.StartedAt.Add(interval)
}

// Due reports whether the crawl should start at now
func (f *StateFile) Due(key string, interval time.Duration, now time.Time) bool {
	return !now.Before(f.NextDue(key, interval, now))
}
