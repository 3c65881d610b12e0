/*
errors.go - Centralized error types shared across the reservation core

PURPOSE:
  All error kinds the core can produce, in one place, so handlers and
  workers can classify failures without re-deriving the kind tag described
  in §7 of the specification (validation / QueueFull / PoolExhausted /
  transient DB error).

USAGE:
  Workers and handlers classify with errors.Is/errors.As:

    if errors.Is(err, domain.ErrQueueFull) {
        writeError(w, http.StatusServiceUnavailable, ...)
    }

SEE ALSO:
  - queue/queue.go: returns ErrQueueFull
  - dbpool/pool.go: returns ErrPoolExhausted and ErrPoolClosed
  - worker/pool.go: classifies transient vs terminal errors
*/
package domain

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - use with errors.Is()
// =============================================================================

var (
	// ErrQueueFull is returned by queue.Enqueue when size == max_queue.
	ErrQueueFull = errors.New("reservation queue is full")

	// ErrPoolExhausted is returned by dbpool.Acquire on timeout with no
	// free or spare connection.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrConnBroken marks a connection that failed an I/O-level operation;
	// the pool must not hand it to another caller.
	ErrConnBroken = errors.New("connection is broken")

	// ErrPoolClosed is returned by Acquire after CloseAll.
	ErrPoolClosed = errors.New("connection pool is closed")

	// ErrUserNotFound / ErrBookNotFound are validation errors: terminal,
	// never retried.
	ErrUserNotFound = errors.New("user not found")
	ErrBookNotFound = errors.New("book not found")

	// ErrDuplicateISBN / ErrDuplicateUserID surface as 409 Conflict.
	ErrDuplicateISBN   = errors.New("book with this isbn already exists")
	ErrDuplicateUserID = errors.New("user with this id already exists")

	// ErrTransient marks a DB error the worker pool should retry up to
	// max_retries before giving up.
	ErrTransient = errors.New("transient database error")
)

// ValidationError carries a field-level detail for a 400 response.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// IsRetryable reports whether err should be retried by the worker pool
// rather than terminally rejected.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsClientError reports whether err should surface as a 4xx to the caller.
func IsClientError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrBookNotFound) ||
		errors.Is(err, ErrDuplicateISBN) ||
		errors.Is(err, ErrDuplicateUserID)
}
