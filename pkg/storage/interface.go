package storage

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"webspider/pkg/models"
)

// Ledger records, for one run, every URL admitted to the frontier and the outcome of its fetch
type Ledger interface {
	// Claim inserts url as pending if it has never been seen in this run.
	// Exactly one of any number of concurrent callers for the same url gets true.
	Claim(url string, depth int) (bool, error)

	// Lookup returns a copy of the record for url, or nil if the url was never claimed
	Lookup(url string) (*models.PageRecord, error)

	// Settle overwrites the record for rec.URL with a fetch outcome
	Settle(rec *models.PageRecord) error
}

// Store is a Ledger plus reporting and lifecycle operations
type Store interface {
	Ledger

	// Len is the number of URLs claimed so far
	Len() (int, error)

	// Failures returns failed records ordered by URL; limit <= 0 means no limit
	Failures(limit int) ([]models.PageRecord, error)

	// ExportURLs writes every claimed URL to w, one per line, and returns how many were written
	ExportURLs(ctx context.Context, w io.Writer) (int, error)

	// RunGC blocks until ctx is done, compacting storage every interval where that applies
	RunGC(ctx context.Context, interval time.Duration)

	Close() error
}

// Open returns an in-memory store when stateDir is empty, otherwise a fresh BadgerDB store under stateDir
func Open(stateDir string, logger *logrus.Entry) (Store, error) {
	if stateDir == "" {
		return NewMemoryStore(), nil
	}
	return NewBadgerStore(stateDir, logger)
}
