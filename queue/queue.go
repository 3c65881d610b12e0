/*
queue.go - Bounded in-memory FIFO of pending reservations

PURPOSE:
  Holds domain.QueueEntry records between a handler's enqueue and the
  batcher's next drain. Never persisted - see §3's QueueEntry definition
  ("transient: lives only in memory").

BACKPRESSURE:
  Enqueue never blocks: it fails fast with domain.ErrQueueFull once the
  queue holds max_queue entries, per §5's "suspension/blocking points".

SINGLE-CONSUMER DRAIN:
  Safe for many concurrent producers; Drain is safe to call from multiple
  goroutines but the specification's batcher calls it from exactly one
  timer goroutine per tick, which is what gives FIFO-within-a-tick
  semantics to worker/batcher.go's partitioning step.

SEE ALSO:
  - worker/batcher.go: drains and partitions by ISBN
  - domain/types.go: QueueEntry shape
*/
package queue

import (
	"sync"

	"github.com/rs/xid"

	"github.com/lattice-labs/libresa/domain"
)

// Queue is a bounded, thread-safe FIFO of domain.QueueEntry.
type Queue struct {
	mu      sync.Mutex
	entries []domain.QueueEntry
	max     int
}

// New creates a Queue bounded at max entries; a max below 1 is raised to 1.
func New(max int) *Queue {
	if max < 1 {
		max = 1
	}
	return &Queue{max: max}
}

// Enqueue appends entry at the tail. It fails fast with domain.ErrQueueFull
// once the queue is at capacity; it never blocks. entry.TraceID is filled
// in if empty.
func (q *Queue) Enqueue(entry domain.QueueEntry) error {
	if entry.TraceID == "" {
		entry.TraceID = xid.New().String()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.max {
		return domain.ErrQueueFull
	}
	q.entries = append(q.entries, entry)
	return nil
}

// EnqueueFront re-inserts entry at the head, used by the worker pool to
// retry a transient failure ahead of newly-arrived work. Bypasses the
// capacity check: a retry must never be dropped for backpressure reasons
// introduced after it was already admitted once.
func (q *Queue) EnqueueFront(entry domain.QueueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append([]domain.QueueEntry{entry}, q.entries...)
}

// Drain removes up to maxN entries from the head, preserving FIFO order,
// and returns them.
func (q *Queue) Drain(maxN int) []domain.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if maxN > len(q.entries) {
		maxN = len(q.entries)
	}
	if maxN <= 0 {
		return nil
	}

	out := make([]domain.QueueEntry, maxN)
	copy(out, q.entries[:maxN])
	q.entries = q.entries[maxN:]
	return out
}

// Depth returns the current number of pending entries.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
