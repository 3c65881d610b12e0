/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Decouples the internal domain model (domain.Book, domain.User, ...) from
  the external API contract defined by §6, so storage-layer field changes
  don't automatically ripple into the wire format.

NAMING CONVENTION:
  - *DTO: response types returned to clients
  - *Request: request body types from clients

VALIDATION:
  Validation lives in handlers.go, not here. DTOs are pure data carriers.
*/
package api

import "time"

// BookDTO represents a book in API responses.
type BookDTO struct {
	ISBN            string `json:"isbn"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	Category        string `json:"category"`
	TotalCopies     int    `json:"total_copies"`
	AvailableCopies int    `json:"available_copies"`
}

// CreateBookRequest is the POST /books body.
type CreateBookRequest struct {
	ISBN        string `json:"isbn"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Category    string `json:"category"`
	TotalCopies int    `json:"total_copies"`
}

// UserDTO represents a user in API responses.
type UserDTO struct {
	UserID         string    `json:"user_id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	MembershipType string    `json:"membership_type"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateUserRequest is the POST /users body.
type CreateUserRequest struct {
	UserID         string `json:"user_id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	MembershipType string `json:"membership_type"`
}

// CreateReservationRequest is the POST /reservations body.
type CreateReservationRequest struct {
	UserID string `json:"user_id"`
	ISBN   string `json:"isbn"`
}

// CreateReservationResponse is the 202 body for a newly queued reservation.
type CreateReservationResponse struct {
	ReservationID int64  `json:"reservation_id"`
	Status        string `json:"status"`
}

// ReservationDTO represents a reservation in API responses.
type ReservationDTO struct {
	ID          int64      `json:"id"`
	UserID      string     `json:"user_id"`
	ISBN        string     `json:"isbn"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// HealthDTO is the GET /health body, also polled by the reverse proxy.
type HealthDTO struct {
	Status        string  `json:"status"`
	Port          int     `json:"port"`
	QueueDepth    int     `json:"queue_depth"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// MetricsDTO is the GET /metrics body.
type MetricsDTO struct {
	Cache   CacheMetricsDTO   `json:"cache"`
	Pool    PoolMetricsDTO    `json:"pool"`
	Queue   QueueMetricsDTO   `json:"queue"`
	Latency LatencyMetricsDTO `json:"latency"`
}

// CacheMetricsDTO mirrors cache.Stats.
type CacheMetricsDTO struct {
	Size    int     `json:"size"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// PoolMetricsDTO mirrors dbpool.Stats.
type PoolMetricsDTO struct {
	Min         int `json:"min"`
	Max         int `json:"max"`
	Free        int `json:"free"`
	TotalOpened int `json:"total_opened"`
}

// QueueMetricsDTO carries the current queue depth.
type QueueMetricsDTO struct {
	Depth int `json:"depth"`
}

// LatencyMetricsDTO mirrors sla.Report's latency fields.
type LatencyMetricsDTO struct {
	P95Seconds  float64 `json:"p95_seconds"`
	P99Seconds  float64 `json:"p99_seconds"`
	MeanSeconds float64 `json:"mean_seconds"`
	Count       int     `json:"count"`
}

// SLADTO is the GET /sla body.
type SLADTO struct {
	P95        float64        `json:"p95"`
	Uptime     float64        `json:"uptime"`
	QueueDepth int            `json:"queue_depth"`
	TargetsMet TargetsMetDTO  `json:"targets_met"`
}

// TargetsMetDTO mirrors sla.TargetsMet.
type TargetsMetDTO struct {
	P95Latency  bool `json:"p95_latency"`
	UptimeRatio bool `json:"uptime_ratio"`
	QueueDepth  bool `json:"queue_depth"`
}

// ErrorResponse is the standard error response shape from §7: clients see
// only a status code and a short {error, detail} body.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}
