/*
pool.go - Per-partition sequential reservation processing

PURPOSE:
  Each partition produced by the batcher is handed to exactly one worker,
  which processes its entries strictly in order (§4.4 step 3, §5). A
  worker:
    1. calls store.ProcessReservation, which leases a pooled connection
       for the duration of the transaction
    2. re-reads the book's available_copies
    3. applies CONFIRMED/REJECTED(no copies available) in the same
       transaction as the decrement
    4. on a transient storage error, re-enqueues at the *front* of the
       shared queue (so it's retried before newer work) up to max_retries,
       then terminally rejects with reason "processing error"
    5. invalidates the cache entry for the ISBN on any outcome, since the
       cached Book.AvailableCopies is now stale
    6. records end-to-end latency (enqueued_at -> processed_at) with the
       SLA monitor

  Grounded on original_source/main.py's process_reservation_batch for the
  retry/backoff shape, adapted to Go's EnqueueFront instead of an
  in-process Python retry counter loop.
*/
package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lattice-labs/libresa/domain"
)

// worker processes one ISBN-partitioned slice of queue entries sequentially.
type worker struct {
	batcher *Batcher
}

func (w *worker) processPartition(ctx context.Context, entries []domain.QueueEntry) {
	for _, entry := range entries {
		w.processOne(ctx, entry)
	}
}

func (w *worker) processOne(ctx context.Context, entry domain.QueueEntry) {
	if w.batcher.cfg.ProcessingDelay > 0 {
		time.Sleep(w.batcher.cfg.ProcessingDelay)
	}

	outcome, err := w.batcher.store.ProcessReservation(ctx, entry.ReservationID, entry.ISBN)
	if err != nil {
		if domain.IsRetryable(err) && entry.Attempts < w.batcher.cfg.MaxRetries {
			entry.Attempts++
			log.Printf("[worker] retrying reservation %d (attempt %d/%d): %v",
				entry.ReservationID, entry.Attempts, w.batcher.cfg.MaxRetries, err)
			w.batcher.queue.EnqueueFront(entry)
			return
		}

		log.Printf("[worker] reservation %d exhausted retries, terminal reject: %v", entry.ReservationID, err)
		if rejErr := w.batcher.store.RejectReservation(ctx, entry.ReservationID, domain.RejectReasonProcessingError); rejErr != nil {
			log.Printf("[worker] failed to terminally reject reservation %d: %v", entry.ReservationID, rejErr)
		}
		w.finish(entry)
		return
	}

	log.Printf("[worker] reservation %d for %s -> %s", entry.ReservationID, entry.ISBN, outcome.Status)
	w.finish(entry)
}

// finish invalidates the cached book entry and records the completion
// latency, regardless of the outcome.
func (w *worker) finish(entry domain.QueueEntry) {
	if w.batcher.cache != nil {
		w.batcher.cache.Invalidate(cacheKeyForBook(entry.ISBN))
	}
	if w.batcher.monitor != nil {
		now := time.Now()
		w.batcher.monitor.RecordLatency(domain.LatencySample{
			EnqueuedAt:  entry.EnqueuedAt,
			ProcessedAt: now,
			Duration:    now.Sub(entry.EnqueuedAt),
		})
	}
}

// cacheKeyForBook must match the key format the API handlers use when
// populating the cache on GET /books/{isbn}.
func cacheKeyForBook(isbn string) string {
	return fmt.Sprintf("book:%s", isbn)
}
