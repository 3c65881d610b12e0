/*
types.go - Core domain records for the library reservation system

PURPOSE:
  Defines the tagged records shared by every layer (store, cache, queue,
  worker, api) instead of passing generic maps around. Mirrors §3 of the
  service specification: Book, User, Reservation, QueueEntry, LatencySample.

OWNERSHIP:
  These types carry no behavior beyond simple helpers; validation lives at
  the API boundary (api/handlers.go) and persistence lives in store/sqlite.

SEE ALSO:
  - errors.go: sentinel/structured errors shared across packages
  - store/sqlite/sqlite.go: persistence for Book/User/Reservation
  - queue/queue.go: QueueEntry lifecycle
  - sla/latency.go: LatencySample retention
*/
package domain

import "time"

// MembershipType enumerates the allowed User.MembershipType values.
type MembershipType string

const (
	MembershipStudent MembershipType = "student"
	MembershipFaculty MembershipType = "faculty"
	MembershipStaff   MembershipType = "staff"
)

// ValidMembership reports whether m is a recognized membership type.
func ValidMembership(m MembershipType) bool {
	switch m {
	case MembershipStudent, MembershipFaculty, MembershipStaff:
		return true
	default:
		return false
	}
}

// ReservationStatus enumerates the Reservation state machine's terminal and
// pending states. Once CONFIRMED or REJECTED, a Reservation never changes.
type ReservationStatus string

const (
	StatusPending   ReservationStatus = "PENDING"
	StatusConfirmed ReservationStatus = "CONFIRMED"
	StatusRejected  ReservationStatus = "REJECTED"
)

// RejectReasonNoCopies and RejectReasonProcessingError are the two terminal
// rejection reasons produced by the worker pool. Validation failures (unknown
// user/isbn) are rejected at the API boundary before a QueueEntry ever exists.
const (
	RejectReasonNoCopies        = "no copies available"
	RejectReasonProcessingError = "processing error"
)

// Book is identified by ISBN. AvailableCopies is mutated only by reservation
// execution (worker pool) and book-return operations.
type Book struct {
	ISBN             string `json:"isbn"`
	Title            string `json:"title"`
	Author           string `json:"author"`
	Category         string `json:"category"`
	TotalCopies      int    `json:"total_copies"`
	AvailableCopies  int    `json:"available_copies"`
}

// User is identified by UserID and is immutable after registration.
type User struct {
	UserID         string         `json:"user_id"`
	Name           string         `json:"name"`
	Email          string         `json:"email"`
	MembershipType MembershipType `json:"membership_type"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Reservation tracks one user's request against one book through its
// PENDING -> {CONFIRMED, REJECTED} lifecycle.
type Reservation struct {
	ID          int64             `json:"reservation_id"`
	UserID      string            `json:"user_id"`
	ISBN        string            `json:"isbn"`
	Status      ReservationStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	ProcessedAt *time.Time        `json:"processed_at,omitempty"`
	Reason      string            `json:"reason,omitempty"`
}

// QueueEntry is the transient, in-memory unit of work between enqueue and
// batch processing. It is never persisted; TraceID is an xid-generated
// internal correlation handle, distinct from the user-facing ReservationID.
type QueueEntry struct {
	ReservationID int64
	UserID        string
	ISBN          string
	EnqueuedAt    time.Time
	TraceID       string
	Attempts      int
}

// LatencySample records one completed reservation's end-to-end duration,
// retained by sla.LatencyStream in a bounded rolling window.
type LatencySample struct {
	EnqueuedAt  time.Time
	ProcessedAt time.Time
	Duration    time.Duration
}
