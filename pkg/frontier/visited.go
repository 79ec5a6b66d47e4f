package frontier

import (
	"github.com/sirupsen/logrus"

	"webspider/pkg/storage"
)

// VisitedSet is the per-run dedup set of normalized URLs, backed by the run ledger
type VisitedSet struct {
	store storage.Ledger
	log   *logrus.Entry
}

// NewVisitedSet wraps a store that is empty for the current run
func NewVisitedSet(store storage.Ledger, logger *logrus.Entry) *VisitedSet {
	return &VisitedSet{store: store, log: logger}
}

// TryMark atomically inserts url if absent; true only for the caller that inserted it
// A store failure counts as "not inserted": skipping a URL is preferable to fetching it twice
func (v *VisitedSet) TryMark(url string, depth int) bool {
	added, err := v.store.Claim(url, depth)
	if err != nil {
		v.log.WithFields(logrus.Fields{"url": url, "depth": depth}).Errorf("Visited set insert failed, skipping URL: %v", err)
		return false
	}
	return added
}
