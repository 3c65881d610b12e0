/*
batcher.go - Timer-driven batch drain and dispatch

PURPOSE:
  One cooperative ticker fires every batch_interval seconds (§4.4). On
  each tick it drains up to batch_size entries from the queue and
  partitions them across worker_threads workers by consistent hashing on
  ISBN, so concurrent reservations for the same book always serialize
  through the same worker - the mechanism that prevents double-booking
  without a coarse lock (§4.4 step 2, §5 ordering guarantees).

  Ticker/stop/WaitGroup shape grounded on the teacher's
  api/scheduler.go ReconciliationScheduler.

SEE ALSO:
  - worker/pool.go: per-worker sequential processing and retry
  - queue/queue.go: Drain/EnqueueFront
  - store/sqlite/sqlite.go: ProcessReservation
*/
package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/lattice-labs/libresa/domain"
	"github.com/lattice-labs/libresa/queue"
	"github.com/lattice-labs/libresa/sla"
	"github.com/lattice-labs/libresa/store/sqlite"
)

// Config bundles the batcher's tunables, sourced from the per-environment
// configuration file (§6).
type Config struct {
	BatchInterval   time.Duration
	BatchSize       int
	WorkerThreads   int
	MaxRetries      int
	ProcessingDelay time.Duration
}

// Batcher owns the ticker and fans drained entries out to a fixed pool of
// worker goroutines.
type Batcher struct {
	cfg     Config
	queue   *queue.Queue
	store   *sqlite.Store
	cache   invalidator
	monitor *sla.Monitor

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// invalidator is the subset of cache.LRU the batcher needs; kept as a
// narrow interface so worker can be tested without a real cache.
type invalidator interface {
	Invalidate(key string)
}

// New constructs a Batcher. store itself leases every connection it uses
// from a dbpool.Pool (see store/sqlite/sqlite.go), so the bounded pool
// governs both the batcher's writes and the API's reads against the same
// instance database.
func New(cfg Config, q *queue.Queue, store *sqlite.Store, cache invalidator, monitor *sla.Monitor) *Batcher {
	if cfg.WorkerThreads < 1 {
		cfg.WorkerThreads = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 10
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	return &Batcher{
		cfg:     cfg,
		queue:   q,
		store:   store,
		cache:   cache,
		monitor: monitor,
		stop:    make(chan struct{}),
	}
}

// Start begins the ticker loop in its own goroutine.
func (b *Batcher) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ticker = time.NewTicker(b.cfg.BatchInterval)
	b.wg.Add(1)
	go b.run()
	log.Printf("[worker] batcher started, interval=%s, workers=%d, batch_size=%d",
		b.cfg.BatchInterval, b.cfg.WorkerThreads, b.cfg.BatchSize)
}

// Stop halts the ticker, waits for the in-flight tick to finish, and then
// runs a bounded drain over whatever entries are still queued - §4.8's
// "drain the queue (bounded wait up to shutdown_grace)" step - before
// returning. grace <= 0 skips the drain entirely (ticker stop only).
func (b *Batcher) Stop(grace time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ticker == nil {
		return
	}

	b.ticker.Stop()
	close(b.stop)
	b.wg.Wait()

	if grace > 0 {
		deadline := time.Now().Add(grace)
		for b.queue.Depth() > 0 && time.Now().Before(deadline) {
			b.tick()
		}
		if depth := b.queue.Depth(); depth > 0 {
			log.Printf("[worker] batcher stopped with %d entries still queued after %s grace period", depth, grace)
		}
	}
	log.Println("[worker] batcher stopped")
}

func (b *Batcher) run() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ticker.C:
			b.tick()
		case <-b.stop:
			return
		}
	}
}

// tick drains one batch, partitions it by ISBN, and runs each partition on
// its own worker goroutine, waiting for all partitions to finish before the
// next tick can start (keeping the batcher itself single-threaded/cooperative
// per §5).
func (b *Batcher) tick() {
	entries := b.queue.Drain(b.cfg.BatchSize)
	if len(entries) == 0 {
		return
	}

	partitions := partitionByISBN(entries, b.cfg.WorkerThreads)

	var wg sync.WaitGroup
	for _, partition := range partitions {
		if len(partition) == 0 {
			continue
		}
		wg.Add(1)
		go func(p []domain.QueueEntry) {
			defer wg.Done()
			w := &worker{batcher: b}
			w.processPartition(context.Background(), p)
		}(partition)
	}
	wg.Wait()
}

// partitionByISBN buckets entries into n ordered slices using xxhash of the
// ISBN, preserving each entry's relative order within its bucket - the
// "same ISBN, same worker, in order" invariant from §4.4/§5.
func partitionByISBN(entries []domain.QueueEntry, n int) [][]domain.QueueEntry {
	buckets := make([][]domain.QueueEntry, n)
	for _, e := range entries {
		idx := int(xxhash.Sum64String(e.ISBN) % uint64(n))
		buckets[idx] = append(buckets[idx], e)
	}
	return buckets
}
