package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-labs/libresa/api"
	"github.com/lattice-labs/libresa/cache"
	"github.com/lattice-labs/libresa/config"
	"github.com/lattice-labs/libresa/dbpool"
	"github.com/lattice-labs/libresa/queue"
	"github.com/lattice-labs/libresa/sla"
	"github.com/lattice-labs/libresa/store/sqlite"
	"github.com/lattice-labs/libresa/worker"
)

func newTestInstance(t *testing.T) (*api.InstanceContext, *chi.Mux) {
	t.Helper()

	pool, err := dbpool.Open(":memory:", 1, 2)
	require.NoError(t, err)
	t.Cleanup(func() { pool.CloseAll() })

	store, err := sqlite.New(pool)
	require.NoError(t, err)

	ic := &api.InstanceContext{
		Port:  8080,
		Cfg:   config.Config{MaxQueueSize: 10, BatchInterval: time.Hour, WorkerThreads: 1, MaxRetries: 1},
		Store: store,
		Cache: cache.New(10),
		Pool:  pool,
		Queue: queue.New(10),
		Monitor: sla.NewMonitor(sla.Config{
			LatencyWindow:     1024,
			HeartbeatInterval: time.Second,
			ReportInterval:    time.Hour,
			ReportPath:        t.TempDir() + "/sla_report.txt",
		}),
	}
	ic.Batcher = worker.New(worker.Config{BatchInterval: time.Hour, BatchSize: 10, WorkerThreads: 1, MaxRetries: 1}, ic.Queue, ic.Store, ic.Cache, ic.Monitor)

	h := api.NewHandler(ic)
	return ic, api.NewRouter(h)
}

func doJSON(t *testing.T, r *chi.Mux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndGetBook(t *testing.T) {
	_, router := newTestInstance(t)

	rec := doJSON(t, router, http.MethodPost, "/books", api.CreateBookRequest{
		ISBN: "111", Title: "Go in Action", Author: "W. Kennedy", Category: "tech", TotalCopies: 3,
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/books/111", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var got api.BookDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 3, got.AvailableCopies)
}

func TestCreateBookDuplicateISBNConflicts(t *testing.T) {
	_, router := newTestInstance(t)

	req := api.CreateBookRequest{ISBN: "222", Title: "T", TotalCopies: 1}
	rec := doJSON(t, router, http.MethodPost, "/books", req)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/books", req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetBookUnknownReturns404(t *testing.T) {
	_, router := newTestInstance(t)
	rec := doJSON(t, router, http.MethodGet, "/books/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateReservationUnknownUserReturns400(t *testing.T) {
	_, router := newTestInstance(t)
	doJSON(t, router, http.MethodPost, "/books", api.CreateBookRequest{ISBN: "333", Title: "T", TotalCopies: 1})

	rec := doJSON(t, router, http.MethodPost, "/reservations", api.CreateReservationRequest{UserID: "ghost", ISBN: "333"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateReservationHappyPathReturns202(t *testing.T) {
	_, router := newTestInstance(t)
	doJSON(t, router, http.MethodPost, "/books", api.CreateBookRequest{ISBN: "444", Title: "T", TotalCopies: 1})
	doJSON(t, router, http.MethodPost, "/users", api.CreateUserRequest{UserID: "u1", Name: "N", MembershipType: "student"})

	rec := doJSON(t, router, http.MethodPost, "/reservations", api.CreateReservationRequest{UserID: "u1", ISBN: "444"})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var got api.CreateReservationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "pending", got.Status)
	assert.Greater(t, got.ReservationID, int64(0))
}

func TestCreateReservationQueueFullReturns503(t *testing.T) {
	ic, router := newTestInstance(t)
	ic.Queue = queue.New(1) // smallest queue; the batcher is not started, so it stays full
	doJSON(t, router, http.MethodPost, "/books", api.CreateBookRequest{ISBN: "555", Title: "T", TotalCopies: 1})
	doJSON(t, router, http.MethodPost, "/users", api.CreateUserRequest{UserID: "u2", Name: "N", MembershipType: "staff"})

	first := doJSON(t, router, http.MethodPost, "/reservations", api.CreateReservationRequest{UserID: "u2", ISBN: "555"})
	require.Equal(t, http.StatusAccepted, first.Code)

	rec := doJSON(t, router, http.MethodPost, "/reservations", api.CreateReservationRequest{UserID: "u2", ISBN: "555"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestHealthReportsQueueDepthAndPort(t *testing.T) {
	_, router := newTestInstance(t)
	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var got api.HealthDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "healthy", got.Status)
	assert.Equal(t, 8080, got.Port)
	assert.Equal(t, 0, got.QueueDepth)
}

func TestMetricsAndSLAEndpointsRespond(t *testing.T) {
	_, router := newTestInstance(t)
	assert.Equal(t, http.StatusOK, doJSON(t, router, http.MethodGet, "/metrics", nil).Code)
	assert.Equal(t, http.StatusOK, doJSON(t, router, http.MethodGet, "/sla", nil).Code)
}
