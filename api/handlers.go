/*
handlers.go - HTTP API handlers for the library reservation system

PURPOSE:
  Exposes one instance's cache/pool/queue/store/monitor via the REST
  surface in §6. Read paths consult the cache first; POST /reservations
  validates, persists PENDING, enqueues, and returns 202 without waiting
  for the batcher.

ERROR HANDLING:
  - 400: validation errors, invalid input
  - 404: unknown isbn/user_id
  - 409: duplicate isbn/user_id
  - 503: queue full (with Retry-After), pool exhausted
  - 500: unexpected storage errors

SEE ALSO:
  - dto.go: request/response data structures
  - server.go: router setup and middleware
  - instance.go: per-instance dependency composition
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lattice-labs/libresa/domain"
)

// Handler holds the InstanceContext and implements every endpoint in §6.
type Handler struct {
	ic *InstanceContext
}

// NewHandler wraps an InstanceContext for routing.
func NewHandler(ic *InstanceContext) *Handler {
	return &Handler{ic: ic}
}

// =============================================================================
// BOOK HANDLERS
// =============================================================================

// ListBooks handles GET /books?category=.
func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	books, err := h.ic.Store.ListBooks(r.Context(), category)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list books", err)
		return
	}

	dtos := make([]BookDTO, len(books))
	for i, b := range books {
		dtos[i] = toBookDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetBook handles GET /books/{isbn}, consulting the cache first.
func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	isbn := chi.URLParam(r, "isbn")
	key := cacheKeyForBook(isbn)

	if cached, ok := h.ic.Cache.Get(key); ok {
		writeJSON(w, http.StatusOK, cached.(BookDTO))
		return
	}

	book, err := h.ic.Store.GetBook(r.Context(), isbn)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read book", err)
		return
	}
	if book == nil {
		writeError(w, http.StatusNotFound, "unknown isbn", nil)
		return
	}

	dto := toBookDTO(*book)
	h.ic.Cache.Put(key, dto)
	writeJSON(w, http.StatusOK, dto)
}

// CreateBook handles POST /books.
func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req CreateBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	if req.ISBN == "" || req.Title == "" || req.TotalCopies < 0 {
		writeError(w, http.StatusBadRequest, "isbn, title are required and total_copies must be >= 0", nil)
		return
	}

	book := domain.Book{
		ISBN:            req.ISBN,
		Title:           req.Title,
		Author:          req.Author,
		Category:        req.Category,
		TotalCopies:     req.TotalCopies,
		AvailableCopies: req.TotalCopies,
	}
	if err := h.ic.Store.CreateBook(r.Context(), book); err != nil {
		if errors.Is(err, domain.ErrDuplicateISBN) {
			writeError(w, http.StatusConflict, "isbn already exists", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create book", err)
		return
	}

	writeJSON(w, http.StatusCreated, toBookDTO(book))
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// CreateUser handles POST /users.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	membership := domain.MembershipType(req.MembershipType)
	if req.UserID == "" || req.Name == "" || !domain.ValidMembership(membership) {
		writeError(w, http.StatusBadRequest, "user_id, name are required and membership_type must be one of student|faculty|staff", nil)
		return
	}

	user := domain.User{
		UserID:         req.UserID,
		Name:           req.Name,
		Email:          req.Email,
		MembershipType: membership,
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.ic.Store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, domain.ErrDuplicateUserID) {
			writeError(w, http.StatusConflict, "user_id already exists", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create user", err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserDTO(user))
}

// GetUser handles GET /users/{user_id}.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	user, err := h.ic.Store.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read user", err)
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "unknown user_id", nil)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*user))
}

// =============================================================================
// RESERVATION HANDLERS
// =============================================================================

// CreateReservation handles POST /reservations: validates, persists
// PENDING, enqueues, and returns 202 without waiting for the batcher.
func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req CreateReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	if req.UserID == "" || req.ISBN == "" {
		writeError(w, http.StatusBadRequest, "user_id and isbn are required", nil)
		return
	}

	ctx := r.Context()
	userExists, err := h.ic.Store.UserExists(ctx, req.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to validate user", err)
		return
	}
	if !userExists {
		writeError(w, http.StatusBadRequest, "unknown user_id", nil)
		return
	}
	bookExists, err := h.ic.Store.BookExists(ctx, req.ISBN)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to validate isbn", err)
		return
	}
	if !bookExists {
		writeError(w, http.StatusBadRequest, "unknown isbn", nil)
		return
	}

	reservationID, err := h.ic.Store.CreateReservationPending(ctx, req.UserID, req.ISBN)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create reservation", err)
		return
	}

	entry := domain.QueueEntry{
		ReservationID: reservationID,
		UserID:        req.UserID,
		ISBN:          req.ISBN,
		EnqueuedAt:    time.Now(),
	}
	if err := h.ic.Queue.Enqueue(entry); err != nil {
		if errors.Is(err, domain.ErrQueueFull) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusServiceUnavailable, "queue full, retry shortly", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to enqueue reservation", err)
		return
	}

	writeJSON(w, http.StatusAccepted, CreateReservationResponse{
		ReservationID: reservationID,
		Status:        "pending",
	})
}

// ListMyReservations handles GET /reservations/my/{user_id}.
func (h *Handler) ListMyReservations(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	reservations, err := h.ic.Store.ReservationsByUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list reservations", err)
		return
	}

	dtos := make([]ReservationDTO, len(reservations))
	for i, res := range reservations {
		dtos[i] = toReservationDTO(res)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// OBSERVABILITY HANDLERS
// =============================================================================

// GetSLA handles GET /sla.
func (h *Handler) GetSLA(w http.ResponseWriter, r *http.Request) {
	report := h.ic.Monitor.Snapshot()
	writeJSON(w, http.StatusOK, SLADTO{
		P95:        report.P95.Seconds(),
		Uptime:     report.UptimeRatio,
		QueueDepth: report.QueueCurrent,
		TargetsMet: TargetsMetDTO{
			P95Latency:  report.TargetsMet.P95Latency,
			UptimeRatio: report.TargetsMet.UptimeRatio,
			QueueDepth:  report.TargetsMet.QueueDepth,
		},
	})
}

// GetMetrics handles GET /metrics.
func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	cacheStats := h.ic.Cache.Stats()
	poolStats := h.ic.Pool.Stats()
	report := h.ic.Monitor.Snapshot()

	writeJSON(w, http.StatusOK, MetricsDTO{
		Cache: CacheMetricsDTO{
			Size:    cacheStats.Size,
			Hits:    cacheStats.Hits,
			Misses:  cacheStats.Misses,
			HitRate: cacheStats.HitRate,
		},
		Pool: PoolMetricsDTO{
			Min:         poolStats.Min,
			Max:         poolStats.Max,
			Free:        poolStats.Free,
			TotalOpened: poolStats.TotalOpened,
		},
		Queue: QueueMetricsDTO{Depth: h.ic.Queue.Depth()},
		Latency: LatencyMetricsDTO{
			P95Seconds:  report.P95.Seconds(),
			P99Seconds:  report.P99.Seconds(),
			MeanSeconds: report.Mean.Seconds(),
			Count:       report.Count,
		},
	})
}

// GetHealth handles GET /health, polled by the reverse proxy's health
// probe.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthDTO{
		Status:        "healthy",
		Port:          h.ic.Port,
		QueueDepth:    h.ic.Queue.Depth(),
		UptimeSeconds: h.ic.Monitor.Uptime.UptimeSeconds(),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func toBookDTO(b domain.Book) BookDTO {
	return BookDTO{
		ISBN:            b.ISBN,
		Title:           b.Title,
		Author:          b.Author,
		Category:        b.Category,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
	}
}

func toUserDTO(u domain.User) UserDTO {
	return UserDTO{
		UserID:         u.UserID,
		Name:           u.Name,
		Email:          u.Email,
		MembershipType: string(u.MembershipType),
		CreatedAt:      u.CreatedAt,
	}
}

func toReservationDTO(res domain.Reservation) ReservationDTO {
	return ReservationDTO{
		ID:          res.ID,
		UserID:      res.UserID,
		ISBN:        res.ISBN,
		Status:      string(res.Status),
		CreatedAt:   res.CreatedAt,
		ProcessedAt: res.ProcessedAt,
		Reason:      res.Reason,
	}
}

func cacheKeyForBook(isbn string) string {
	return fmt.Sprintf("book:%s", isbn)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	if errors.Is(err, domain.ErrPoolExhausted) {
		status = http.StatusServiceUnavailable
	}
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Detail = err.Error()
	}
	writeJSON(w, status, resp)
}
