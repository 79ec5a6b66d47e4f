package frontier

import (
	"container/heap"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"webspider/pkg/models"
)

// --- Heap Implementation ---

// pqItem represents an entry in the heap
type pqItem struct {
	entry models.FrontierEntry
	seq   uint64 // Admission order, breaks ties within a depth
	index int    // The index of the item in the heap (required by heap interface)
}

// entryHeap implements heap.Interface ordered by (depth, seq)
// Lower depth first and FIFO within a depth gives breadth-first traversal
type entryHeap []*pqItem

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].entry.Depth != h[j].entry.Depth {
		return h[i].entry.Depth < h[j].entry.Depth
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

// Push adds an element to the heap
func (h *entryHeap) Push(x any) {
	item := x.(*pqItem)
	item.index = len(*h)
	*h = append(*h, item)
}

// Pop removes and returns the minimum element from the heap
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // avoid memory leak
	item.index = -1 // for safety
	*h = old[0 : n-1]
	return item
}

// DiscoveryRecorder receives a count for every URL admitted to the frontier
type DiscoveryRecorder interface {
	RecordDiscovered(n int)
}

// Frontier is the per-run queue of admitted-but-unfetched URLs
// It also counts entries popped but not yet completed, which is what lets Pop detect termination
type Frontier struct {
	mu       sync.Mutex
	cond     *sync.Cond // Signalled on push, broadcast on termination or stop
	pq       entryHeap
	nextSeq  uint64
	inFlight int
	admitted int
	stopped  bool

	maxDepth int
	maxPages int // Admission budget, 0 = unbounded
	visited  *VisitedSet
	recorder DiscoveryRecorder
	log      *logrus.Entry
}

// New creates an empty frontier for one run
func New(maxDepth, maxPages int, visited *VisitedSet, recorder DiscoveryRecorder, logger *logrus.Entry) *Frontier {
	f := &Frontier{
		maxDepth: maxDepth,
		maxPages: maxPages,
		visited:  visited,
		recorder: recorder,
		log:      logger,
	}
	f.cond = sync.NewCond(&f.mu)
	heap.Init(&f.pq)
	return f
}

// Push admits an entry if the frontier is running, the depth is within bounds, the page budget is not exhausted,
// and the URL was not seen before in this run. Returns true if the entry was queued
func (f *Frontier) Push(entry models.FrontierEntry) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopped {
		return false
	}
	if entry.Depth > f.maxDepth {
		return false
	}
	if f.maxPages > 0 && f.admitted >= f.maxPages {
		return false
	}
	// Marking happens under the frontier lock so the budget check and the insert are one step
	if !f.visited.TryMark(entry.URL, entry.Depth) {
		return false
	}

	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = time.Now()
	}
	heap.Push(&f.pq, &pqItem{entry: entry, seq: f.nextSeq})
	f.nextSeq++
	f.admitted++
	if f.recorder != nil {
		f.recorder.RecordDiscovered(1)
	}
	f.cond.Signal() // Wake one waiting worker
	return true
}

// Pop returns the next entry in breadth-first order and counts it as in flight
// It blocks while the queue is empty but other entries are still in flight, since those may discover more URLs
// Returns false when the queue is empty with nothing in flight (crawl exhausted), or once the frontier is stopped
func (f *Frontier) Pop() (models.FrontierEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for len(f.pq) == 0 && !f.stopped {
		if f.inFlight == 0 {
			f.cond.Broadcast() // Let other idle workers observe termination too
			return models.FrontierEntry{}, false
		}
		f.cond.Wait()
	}
	if f.stopped {
		return models.FrontierEntry{}, false
	}

	item := heap.Pop(&f.pq).(*pqItem)
	f.inFlight++
	return item.entry, true
}

// Done marks a popped entry as completed.
// settle, if non-nil, runs under the frontier lock just before the entry leaves the in-flight count,
// so an observer never sees the entry both finished and still in flight.
func (f *Frontier) Done(_ models.FrontierEntry, settle func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.inFlight <= 0 {
		f.log.Warn("Frontier Done called with no entries in flight")
		return
	}
	if settle != nil {
		settle()
	}
	f.inFlight--
	if f.inFlight == 0 {
		f.cond.Broadcast() // Waiters re-check for termination
	}
}

// Requeue returns a popped entry that was never dispatched, keeping its original position within its depth
// Valid after Stop: the entry simply stays pending
func (f *Frontier) Requeue(entry models.FrontierEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.inFlight > 0 {
		f.inFlight--
	}
	// seq 0 puts it back at the head of its depth, where it was popped from
	heap.Push(&f.pq, &pqItem{entry: entry, seq: 0})
	f.cond.Broadcast()
}

// Stop makes every current and future Pop return false and rejects further pushes
func (f *Frontier) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stopped {
		f.stopped = true
		f.cond.Broadcast() // Wake up ALL waiting workers so they can check the stopped status
	}
}

// Observe calls fn with the pending and in-flight totals while holding the frontier lock.
// No Push, Pop, Done or Requeue can interleave with fn.
func (f *Frontier) Observe(fn func(pending, inFlight int)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(len(f.pq), f.inFlight)
}
