package frontier

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webspider/pkg/models"
	"webspider/pkg/storage"
)

// testLogger returns a logger that discards output
func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

type countingRecorder struct{ n atomic.Int64 }

func (r *countingRecorder) RecordDiscovered(n int) { r.n.Add(int64(n)) }

func newTestFrontier(maxDepth, maxPages int) (*Frontier, *storage.MemoryStore, *countingRecorder) {
	store := storage.NewMemoryStore()
	rec := &countingRecorder{}
	f := New(maxDepth, maxPages, NewVisitedSet(store, testLogger()), rec, testLogger())
	return f, store, rec
}

func entry(url string, depth int) models.FrontierEntry {
	return models.FrontierEntry{URL: url, Depth: depth}
}

// --- Basic Operations Tests ---

func TestFrontier_PushAndPop(t *testing.T) {
	f, _, rec := newTestFrontier(3, 0)

	require.True(t, f.Push(entry("http://example.com/", 0)))
	assert.Equal(t, 1, pendingOf(f))
	assert.Equal(t, int64(1), rec.n.Load())

	got, ok := f.Pop()
	require.True(t, ok)
	assert.Equal(t, "http://example.com/", got.URL)
	assert.False(t, got.EnqueuedAt.IsZero(), "enqueue timestamp set on admission")

	pending, inFlight := counts(f)
	assert.Equal(t, 0, pending)
	assert.Equal(t, 1, inFlight)

	f.Done(got, nil)
	_, inFlight = counts(f)
	assert.Equal(t, 0, inFlight)
}

func TestFrontier_RejectsDuplicates(t *testing.T) {
	f, _, rec := newTestFrontier(3, 0)

	assert.True(t, f.Push(entry("http://example.com/a", 0)))
	assert.False(t, f.Push(entry("http://example.com/a", 1)), "same URL at another depth is still a duplicate")

	got, ok := f.Pop()
	require.True(t, ok)
	f.Done(got, nil)
	assert.False(t, f.Push(entry("http://example.com/a", 0)), "already fetched URL is not re-admitted")
	assert.Equal(t, int64(1), rec.n.Load())
}

func TestFrontier_MaxDepth(t *testing.T) {
	f, store, _ := newTestFrontier(1, 0)

	assert.True(t, f.Push(entry("http://example.com/d0", 0)))
	assert.True(t, f.Push(entry("http://example.com/d1", 1)))
	assert.False(t, f.Push(entry("http://example.com/d2", 2)))

	// A rejected entry never reaches the visited set
	rec, err := store.Lookup("http://example.com/d2")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestFrontier_MaxDepthZeroOnlySeeds(t *testing.T) {
	f, _, _ := newTestFrontier(0, 0)
	assert.True(t, f.Push(entry("http://example.com/", 0)))
	assert.False(t, f.Push(entry("http://example.com/child", 1)))
}

func TestFrontier_MaxPagesBudget(t *testing.T) {
	f, _, rec := newTestFrontier(10, 3)

	admitted := 0
	for i := range 10 {
		if f.Push(entry(fmt.Sprintf("http://example.com/%d", i), 1)) {
			admitted++
		}
	}
	assert.Equal(t, 3, admitted)
	assert.Equal(t, int64(3), rec.n.Load())
}

// --- Ordering Tests ---

func TestFrontier_BreadthFirstOrdering(t *testing.T) {
	f, _, _ := newTestFrontier(5, 0)

	f.Push(entry("d2-a", 2))
	f.Push(entry("d0", 0))
	f.Push(entry("d1-a", 1))
	f.Push(entry("d2-b", 2))
	f.Push(entry("d1-b", 1))
	f.Push(entry("d1-c", 1))

	expected := []string{"d0", "d1-a", "d1-b", "d1-c", "d2-a", "d2-b"}
	for i, want := range expected {
		got, ok := f.Pop()
		require.True(t, ok, "Pop #%d", i)
		assert.Equal(t, want, got.URL, "Pop #%d", i)
	}
}

func TestFrontier_DepthNeverDecreasesAcrossDequeues(t *testing.T) {
	f, _, _ := newTestFrontier(4, 0)
	f.Push(entry("root", 0))

	lastDepth := -1
	for {
		got, ok := f.Pop()
		if !ok {
			break
		}
		assert.GreaterOrEqual(t, got.Depth, lastDepth)
		lastDepth = got.Depth
		// Each page "discovers" two children
		for c := range 2 {
			f.Push(entry(fmt.Sprintf("%s/%d", got.URL, c), got.Depth+1))
		}
		f.Done(got, nil)
	}
	assert.Equal(t, 4, lastDepth)
}

func TestFrontier_RequeueKeepsPosition(t *testing.T) {
	f, _, _ := newTestFrontier(5, 0)
	f.Push(entry("first", 1))
	f.Push(entry("second", 1))

	got, ok := f.Pop()
	require.True(t, ok)
	require.Equal(t, "first", got.URL)

	f.Requeue(got)
	pending, inFlight := counts(f)
	assert.Equal(t, 2, pending)
	assert.Equal(t, 0, inFlight)

	again, ok := f.Pop()
	require.True(t, ok)
	assert.Equal(t, "first", again.URL)
}

// --- Termination & Stop Tests ---

func TestFrontier_PopEmptyNothingInFlight(t *testing.T) {
	f, _, _ := newTestFrontier(1, 0)
	_, ok := f.Pop()
	assert.False(t, ok, "empty frontier with no in-flight work is exhausted")
}

func TestFrontier_PopBlocksWhileInFlight(t *testing.T) {
	f, _, _ := newTestFrontier(2, 0)
	f.Push(entry("seed", 0))
	seed, _ := f.Pop()

	result := make(chan models.FrontierEntry, 1)
	exhausted := make(chan struct{}, 1)
	go func() {
		e, ok := f.Pop()
		if ok {
			result <- e
			return
		}
		exhausted <- struct{}{}
	}()

	// Give goroutine time to start blocking
	time.Sleep(50 * time.Millisecond)
	select {
	case <-result:
		t.Fatal("Pop returned while queue was empty")
	case <-exhausted:
		t.Fatal("Pop reported exhaustion while an entry was in flight")
	default:
	}

	// The in-flight entry discovers a child, which unblocks the waiter
	f.Push(entry("child", 1))
	select {
	case e := <-result:
		assert.Equal(t, "child", e.URL)
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Push")
	}
	f.Done(seed, nil)
}

func TestFrontier_DoneWakesWaitersOnExhaustion(t *testing.T) {
	f, _, _ := newTestFrontier(1, 0)
	f.Push(entry("only", 0))
	only, _ := f.Pop()

	var wg sync.WaitGroup
	results := make(chan bool, 3)
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := f.Pop()
			results <- ok
		}()
	}
	time.Sleep(50 * time.Millisecond)

	f.Done(only, nil)
	waitOrFail(t, &wg, time.Second, "Done did not release waiting workers")

	close(results)
	for ok := range results {
		assert.False(t, ok)
	}
}

func TestFrontier_StopUnblocksWaiters(t *testing.T) {
	f, _, _ := newTestFrontier(1, 0)
	f.Push(entry("busy", 0))
	_, _ = f.Pop() // Keep one entry in flight so the others block

	var wg sync.WaitGroup
	results := make(chan bool, 3)
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := f.Pop()
			results <- ok
		}()
	}
	time.Sleep(50 * time.Millisecond)

	f.Stop()
	waitOrFail(t, &wg, time.Second, "Stop did not unblock waiting workers")

	close(results)
	for ok := range results {
		assert.False(t, ok)
	}
}

func TestFrontier_StopWithPendingEntries(t *testing.T) {
	f, _, rec := newTestFrontier(1, 0)
	f.Push(entry("a", 0))
	f.Push(entry("b", 0))

	f.Stop()
	f.Stop() // Double stop is safe

	_, ok := f.Pop()
	assert.False(t, ok, "no dispatch after stop even with pending entries")
	assert.False(t, f.Push(entry("c", 0)), "no admission after stop")
	assert.Equal(t, 2, pendingOf(f), "pending entries stay counted")
	assert.Equal(t, int64(2), rec.n.Load())
}

// --- Concurrency Tests ---

func TestFrontier_ConcurrentPushExactlyOnce(t *testing.T) {
	f, store, rec := newTestFrontier(1, 0)
	const workers = 8
	const urls = 50

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range urls {
				if f.Push(entry(fmt.Sprintf("http://example.com/%d", i), 1)) {
					admitted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(urls), admitted.Load())
	assert.Equal(t, urls, pendingOf(f))
	assert.Equal(t, int64(urls), rec.n.Load())
	count, _ := store.Len()
	assert.Equal(t, urls, count)
}

func TestFrontier_ConcurrentDrainAccounting(t *testing.T) {
	f, store, rec := newTestFrontier(3, 0)
	f.Push(entry("r", 0))

	var completed atomic.Int64
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				e, ok := f.Pop()
				if !ok {
					return
				}
				for c := range 3 {
					f.Push(entry(fmt.Sprintf("%s/%d", e.URL, c), e.Depth+1))
				}
				completed.Add(1)
				f.Done(e, nil)
			}
		}()
	}
	waitOrFail(t, &wg, 5*time.Second, "workers did not terminate")

	// 1 + 3 + 9 + 27 pages across depths 0..3
	assert.Equal(t, int64(40), completed.Load())
	pending, inFlight := counts(f)
	assert.Equal(t, 0, pending)
	assert.Equal(t, 0, inFlight)
	assert.Equal(t, completed.Load()+int64(pending+inFlight), rec.n.Load())
	count, _ := store.Len()
	assert.Equal(t, 40, count)
}

// --- VisitedSet Tests ---

type failingStore struct{ storage.Ledger }

func (failingStore) Claim(string, int) (bool, error) {
	return false, errors.New("disk full")
}

func TestVisitedSet_StoreErrorSkipsURL(t *testing.T) {
	v := NewVisitedSet(failingStore{}, testLogger())
	assert.False(t, v.TryMark("http://example.com/", 0))
}

func counts(f *Frontier) (pending, inFlight int) {
	f.Observe(func(p, i int) { pending, inFlight = p, i })
	return pending, inFlight
}

func pendingOf(f *Frontier) int {
	pending, _ := counts(f)
	return pending
}

func TestFrontier_DoneSettlesBeforeLeavingFlight(t *testing.T) {
	f, _, _ := newTestFrontier(1, 0)
	f.Push(entry("a", 0))
	got, _ := f.Pop()

	var seenInFlight int
	f.Done(got, func() { seenInFlight = f.inFlight })
	assert.Equal(t, 1, seenInFlight, "settle runs while the entry is still counted")
	_, inFlight := counts(f)
	assert.Zero(t, inFlight)
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup, timeout time.Duration, msg string) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal(msg)
	}
}
