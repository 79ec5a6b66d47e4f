package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"webspider/pkg/log"
	"webspider/pkg/models"
	"webspider/pkg/utils"
)

const (
	urlKeyPrefix = "url/"
	ledgerDir    = "ledger_db"

	maxConflictRetries = 10
	defaultGCInterval  = 10 * time.Minute
	gcDiscardRatio     = 0.5
)

// BadgerStore is a disk-backed Store for crawls whose visited set should not live in memory.
// Keys are urlKeyPrefix+URL and values are JSON PageRecords.
type BadgerStore struct {
	db      *badger.DB
	log     *logrus.Entry
	claimed atomic.Int64
}

// NewBadgerStore opens a ledger under stateDir, discarding whatever a previous run left there
func NewBadgerStore(stateDir string, logger *logrus.Entry) (*BadgerStore, error) {
	path := filepath.Join(stateDir, ledgerDir)
	if err := os.RemoveAll(path); err != nil {
		logger.Warnf("Could not clear previous ledger at %s: %v", path, err)
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("%w: create ledger dir %s: %w", utils.ErrDatabase, path, err)
	}

	opts := badger.DefaultOptions(path).
		WithLogger(log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))).
		WithNumVersionsToKeep(1)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open ledger %s: %w", utils.ErrDatabase, path, err)
	}

	logger.Infof("Ledger opened at %s", path)
	return &BadgerStore{db: db, log: logger}, nil
}

func urlKey(url string) []byte {
	return []byte(urlKeyPrefix + url)
}

// update retries fn while badger reports a conflicting concurrent transaction
func (b *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	for attempt := 1; attempt <= maxConflictRetries; attempt++ {
		err := b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		b.log.Debugf("Ledger transaction conflict, attempt %d/%d", attempt, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// Claim writes a pending record if the key is absent.
// Two racing claims of the same URL conflict; the loser retries and then finds the key.
func (b *BadgerStore) Claim(url string, depth int) (bool, error) {
	val, err := json.Marshal(pendingRecord(url, depth))
	if err != nil {
		return false, fmt.Errorf("%w: encode pending record %s: %w", utils.ErrDatabase, url, err)
	}
	key := urlKey(url)

	var inserted bool
	err = b.update(func(txn *badger.Txn) error {
		inserted = false
		switch _, getErr := txn.Get(key); {
		case getErr == nil:
			return nil
		case !errors.Is(getErr, badger.ErrKeyNotFound):
			return getErr
		}
		if setErr := txn.Set(key, val); setErr != nil {
			return setErr
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: claim %s: %w", utils.ErrDatabase, url, err)
	}
	if inserted {
		b.claimed.Add(1)
	}
	return inserted, nil
}

func (b *BadgerStore) Lookup(url string) (*models.PageRecord, error) {
	var rec *models.PageRecord
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(urlKey(url))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decoded models.PageRecord
			if err := json.Unmarshal(val, &decoded); err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			rec = &decoded
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: lookup %s: %w", utils.ErrDatabase, url, err)
	}
	return rec, nil
}

// Settle stores rec, counting it as claimed if it was written without a prior Claim
func (b *BadgerStore) Settle(rec *models.PageRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: settle: nil record", utils.ErrDatabase)
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: encode record %s: %w", utils.ErrDatabase, rec.URL, err)
	}
	key := urlKey(rec.URL)

	var fresh bool
	err = b.update(func(txn *badger.Txn) error {
		_, getErr := txn.Get(key)
		fresh = errors.Is(getErr, badger.ErrKeyNotFound)
		return txn.Set(key, val)
	})
	if err != nil {
		return fmt.Errorf("%w: settle %s: %w", utils.ErrDatabase, rec.URL, err)
	}
	if fresh {
		b.claimed.Add(1)
	}
	b.log.Debugf("Settled %s as %s", rec.URL, rec.Status)
	return nil
}

// Len is served from a counter maintained on insert, not a key scan
func (b *BadgerStore) Len() (int, error) {
	return int(b.claimed.Load()), nil
}

// scan visits each record in key order until fn returns false
func (b *BadgerStore) scan(fn func(rec models.PageRecord) bool) error {
	prefix := []byte(urlKeyPrefix)
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec models.PageRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				b.log.Warnf("Skipping unreadable ledger entry %q: %v", it.Item().Key(), err)
				continue
			}
			if !fn(rec) {
				return nil
			}
		}
		return nil
	})
}

func (b *BadgerStore) Failures(limit int) ([]models.PageRecord, error) {
	out := make([]models.PageRecord, 0)
	err := b.scan(func(rec models.PageRecord) bool {
		if rec.Status == models.PageStatusFailure {
			out = append(out, rec)
		}
		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return out, fmt.Errorf("%w: list failures: %w", utils.ErrDatabase, err)
	}
	return out, nil
}

// ExportURLs walks keys only, without loading values
func (b *BadgerStore) ExportURLs(ctx context.Context, w io.Writer) (int, error) {
	bw := bufio.NewWriter(w)
	prefix := []byte(urlKeyPrefix)
	written := 0

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().Key()
			if _, err := bw.Write(key[len(prefix):]); err != nil {
				return err
			}
			if err := bw.WriteByte('\n'); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if flushErr := bw.Flush(); err == nil {
		err = flushErr
	}
	return written, err
}

// RunGC reclaims value log space until ctx is done
func (b *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultGCInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.log.Debugf("Ledger GC stopped: %v", ctx.Err())
			return
		case <-ticker.C:
			if b.db.IsClosed() {
				continue
			}
			b.collect()
		}
	}
}

// collect rewrites value log files until badger reports nothing left to reclaim
func (b *BadgerStore) collect() {
	for {
		err := b.db.RunValueLogGC(gcDiscardRatio)
		if err == nil {
			continue
		}
		if !errors.Is(err, badger.ErrNoRewrite) {
			b.log.Errorf("Ledger GC: %v", err)
		}
		return
	}
}

// Close is safe to call more than once
func (b *BadgerStore) Close() error {
	if b.db.IsClosed() {
		return nil
	}
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("%w: close ledger: %w", utils.ErrDatabase, err)
	}
	return nil
}
