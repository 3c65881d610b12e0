/*
pool.go - Bounded database connection pool with min/max provisioning

PURPOSE:
  Leases *sql.DB-backed connections within [min,max] bounds. Grounded on
  original_source/main.py's ConnectionPool (a pool slice plus an active
  count guarded by one lock), reworked into Go's blocking-channel idiom
  instead of the original's sleep-and-retry loop.

ACQUIRE SEMANTICS:
  - Free connection available -> return it immediately.
  - No free connection but total_opened < max -> open a new one.
  - Otherwise -> wait on a "released" signal up to the given timeout, then
    fail with domain.ErrPoolExhausted.

BROKEN CONNECTIONS:
  A connection is "broken" if Release is called with broken=true (the
  caller detected an I/O-level error on it). The pool closes it and
  decrements total_opened, immediately opening a replacement if that would
  put total_opened below min.

SCOPED ACQUISITION:
  Use WithConn to guarantee release on every exit path, including panics,
  mirroring the specification's "scoped acquisition must guarantee release"
  requirement (§9 Design Notes).

SEE ALSO:
  - store/sqlite/sqlite.go: leases a connection from this pool for every
    query, and acquire -> transaction -> release per reservation
*/
package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lattice-labs/libresa/domain"
)

// Conn is a leased handle. Callers must call Release exactly once.
type Conn struct {
	DB   *sql.DB
	pool *Pool
}

// Pool is a bounded, thread-safe pool of SQLite connections for one
// instance's database file.
type Pool struct {
	mu          sync.Mutex
	dsn         string
	min         int
	max         int
	free        []*sql.DB
	totalOpened int
	closed      bool
	released    chan struct{}
}

// Open constructs a Pool against dsn, eagerly opening and verifying `min`
// connections.
func Open(dsn string, min, max int) (*Pool, error) {
	if min < 0 {
		min = 0
	}
	if max < 1 {
		max = 1
	}
	if min > max {
		min = max
	}

	p := &Pool{
		dsn:      resolveDSN(dsn),
		min:      min,
		max:      max,
		released: make(chan struct{}, max),
	}

	for i := 0; i < min; i++ {
		db, err := p.openOne()
		if err != nil {
			p.CloseAll()
			return nil, fmt.Errorf("dbpool: eager open %d/%d: %w", i+1, min, err)
		}
		p.free = append(p.free, db)
	}

	return p, nil
}

// resolveDSN appends the pragma string every pooled connection needs
// (foreign keys on, a busy timeout so concurrent writers back off instead
// of failing immediately, and immediate-mode BEGIN so a write transaction
// takes the write lock up front) and, for file-backed databases, WAL mode
// for concurrent readers. A bare ":memory:" DSN is rewritten to SQLite's
// shared-cache form so every connection this Pool opens sees the same
// database instead of each one getting its own empty, private database -
// WAL doesn't apply to in-memory databases, so it's skipped there.
func resolveDSN(dsn string) string {
	pragmas := "_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	if dsn == ":memory:" {
		return "file::memory:?cache=shared&" + pragmas
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + pragmas + "&_journal_mode=WAL"
}

func (p *Pool) openOne() (*sql.DB, error) {
	db, err := sql.Open("sqlite3", p.dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(1) // one writer per *sql.DB; the Pool owns fan-out
	p.totalOpened++
	return db, nil
}

// Acquire leases a connection, blocking up to timeout if the pool is at
// max capacity with none free. Returns domain.ErrPoolExhausted on timeout
// and domain.ErrPoolClosed if CloseAll has run.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (*Conn, error) {
	deadline := time.Now().Add(timeout)

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, domain.ErrPoolClosed
		}
		if n := len(p.free); n > 0 {
			db := p.free[n-1]
			p.free = p.free[:n-1]
			p.mu.Unlock()
			return &Conn{DB: db, pool: p}, nil
		}
		if p.totalOpened < p.max {
			db, err := p.openOne()
			p.mu.Unlock()
			if err != nil {
				return nil, fmt.Errorf("dbpool: open new connection: %w", err)
			}
			return &Conn{DB: db, pool: p}, nil
		}
		p.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, domain.ErrPoolExhausted
		}

		select {
		case <-p.released:
			// loop and retry the free-list / totalOpened check
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(remaining):
			return nil, domain.ErrPoolExhausted
		}
	}
}

// Release returns conn to the pool. If broken is true the connection is
// closed instead, and a replacement is opened if that would leave the pool
// below min (and it is not closed).
func (p *Pool) Release(conn *Conn, broken bool) {
	p.mu.Lock()

	if broken {
		conn.DB.Close()
		p.totalOpened--
		if !p.closed && p.totalOpened < p.min {
			if db, err := p.openOne(); err == nil {
				p.free = append(p.free, db)
			}
		}
	} else if p.closed {
		conn.DB.Close()
		p.totalOpened--
	} else {
		p.free = append(p.free, conn.DB)
	}
	p.mu.Unlock()

	select {
	case p.released <- struct{}{}:
	default:
	}
}

// WithConn acquires a connection, runs fn, and guarantees Release on every
// exit path including a panic inside fn.
func (p *Pool) WithConn(ctx context.Context, timeout time.Duration, fn func(*sql.DB) error) error {
	conn, err := p.Acquire(ctx, timeout)
	if err != nil {
		return err
	}

	broken := false
	defer func() {
		p.Release(conn, broken)
	}()

	if err := fn(conn.DB); err != nil {
		if domain.IsRetryable(err) {
			broken = true
		}
		return err
	}
	return nil
}

// CloseAll closes every connection, free or leased-and-returned later;
// further Acquire calls fail with domain.ErrPoolClosed.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	for _, db := range p.free {
		db.Close()
	}
	p.free = nil
}

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	Min         int `json:"min_connections"`
	Max         int `json:"max_connections"`
	Free        int `json:"free"`
	TotalOpened int `json:"total_opened"`
}

// Stats returns a snapshot for the /metrics endpoint.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Min:         p.min,
		Max:         p.max,
		Free:        len(p.free),
		TotalOpened: p.totalOpened,
	}
}
