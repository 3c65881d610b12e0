/*
sqlite.go - SQLite-backed persistence for one API instance

PURPOSE:
  Implements storage for the three logical entities in §3 of the
  specification: books, users, reservations. Each API instance owns
  exactly one database file, named by the caller (conventionally
  library_system_<port>.db) - see §4.6.

POOL-LEASED ACCESS:
  Every query and transaction is run through a connection leased from a
  dbpool.Pool (see New/Open below) - the bounded pool is the sole source
  of connections to the underlying file, so "pool leases outstanding <=
  max_connections" (§3) governs real traffic, not just an idle metric.

WAL MODE:
  The pool opens connections in WAL (Write-Ahead Logging) mode: multiple
  readers don't block, one writer at a time, better crash recovery -
  matching the teacher store.

TRANSACTIONAL RESERVATION APPLY:
  ProcessReservation runs the re-read -> decrement-or-reject -> update
  sequence from §4.4 step 3 inside one BEGIN IMMEDIATE transaction on a
  single leased connection, so concurrent writers serialize on the book
  row without a read-then-write race with any other instance-local caller.

SEED DATA:
  On first boot (empty books table), a handful of sample books/users are
  inserted - grounded on original_source/main.py's init_database, which
  seeds the same catalog style.

SEE ALSO:
  - dbpool/pool.go: leases the *sql.DB connections this Store uses
  - worker/batcher.go: calls ProcessReservation per queue entry
  - api/handlers.go: read/write endpoints
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lattice-labs/libresa/dbpool"
	"github.com/lattice-labs/libresa/domain"
)

// acquireTimeout bounds how long one query waits for a connection lease
// before surfacing domain.ErrPoolExhausted.
const acquireTimeout = 5 * time.Second

// Store runs every query through pool-leased connections. ownsPool is true
// only when the convenience Open constructor built the pool itself, in
// which case Close tears it down too; a Store built with New over a
// caller-supplied pool never closes it (the caller owns that lifecycle,
// e.g. api.InstanceContext.Stop).
type Store struct {
	pool     *dbpool.Pool
	ownsPool bool
}

// Open is a convenience constructor for callers (tests, one-off tools)
// that don't need their own independently configured pool: it opens a
// single-connection dbpool.Pool against dbPath and wraps it. Use ":memory:"
// for an ephemeral database.
func Open(dbPath string) (*Store, error) {
	pool, err := dbpool.Open(dbPath, 1, 1)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open pool: %w", err)
	}
	store, err := newStore(pool, true)
	if err != nil {
		pool.CloseAll()
		return nil, err
	}
	return store, nil
}

// New wraps an existing, caller-owned pool (built with cfg.MinConnections/
// MaxConnections - see api.NewInstanceContext), running migrations and the
// first-boot seed against it.
func New(pool *dbpool.Pool) (*Store, error) {
	return newStore(pool, false)
}

func newStore(pool *dbpool.Pool, ownsPool bool) (*Store, error) {
	s := &Store{pool: pool, ownsPool: ownsPool}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	if err := s.seedIfEmpty(); err != nil {
		return nil, fmt.Errorf("sqlite: seed: %w", err)
	}
	return s, nil
}

// Pool exposes the underlying pool so callers (api.InstanceContext) can
// report its stats or close it explicitly.
func (s *Store) Pool() *dbpool.Pool { return s.pool }

// Close releases resources Store itself opened. It closes the pool only
// when Store opened it (via Open); a pool passed to New outlives Store and
// is closed by its owner.
func (s *Store) Close() error {
	if s.ownsPool {
		s.pool.CloseAll()
	}
	return nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS books (
		isbn TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		category TEXT NOT NULL,
		total_copies INTEGER NOT NULL,
		available_copies INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_books_category ON books(category);
	CREATE INDEX IF NOT EXISTS idx_books_author ON books(author);

	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT UNIQUE NOT NULL,
		membership_type TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reservations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		isbn TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		created_at TEXT NOT NULL,
		processed_at TEXT,
		reason TEXT,
		FOREIGN KEY (user_id) REFERENCES users(user_id),
		FOREIGN KEY (isbn) REFERENCES books(isbn)
	);
	CREATE INDEX IF NOT EXISTS idx_reservations_user ON reservations(user_id);
	CREATE INDEX IF NOT EXISTS idx_reservations_status ON reservations(status);
	CREATE INDEX IF NOT EXISTS idx_reservations_created ON reservations(created_at);
	`
	return s.pool.WithConn(context.Background(), acquireTimeout, func(db *sql.DB) error {
		_, err := db.Exec(schema)
		return err
	})
}

func (s *Store) seedIfEmpty() error {
	return s.pool.WithConn(context.Background(), acquireTimeout, func(db *sql.DB) error {
		var count int
		if err := db.QueryRow(`SELECT COUNT(*) FROM books`).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		now := time.Now().UTC().Format(time.RFC3339)
		sampleBooks := []domain.Book{
			{ISBN: "978-0134685991", Title: "Effective Java", Author: "Joshua Bloch", Category: "Programming", TotalCopies: 5, AvailableCopies: 5},
			{ISBN: "978-0135957059", Title: "The Pragmatic Programmer", Author: "David Thomas", Category: "Programming", TotalCopies: 3, AvailableCopies: 3},
			{ISBN: "978-0321125215", Title: "Domain-Driven Design", Author: "Eric Evans", Category: "Software Architecture", TotalCopies: 2, AvailableCopies: 2},
			{ISBN: "978-1449373320", Title: "Designing Data-Intensive Applications", Author: "Martin Kleppmann", Category: "Systems", TotalCopies: 2, AvailableCopies: 2},
			{ISBN: "978-0132350884", Title: "Clean Code", Author: "Robert Martin", Category: "Programming", TotalCopies: 5, AvailableCopies: 5},
		}
		for _, b := range sampleBooks {
			if _, err := db.Exec(
				`INSERT INTO books (isbn, title, author, category, total_copies, available_copies, created_at) VALUES (?,?,?,?,?,?,?)`,
				b.ISBN, b.Title, b.Author, b.Category, b.TotalCopies, b.AvailableCopies, now,
			); err != nil {
				return err
			}
		}

		sampleUsers := []domain.User{
			{UserID: "USR001", Name: "Alice Johnson", Email: "alice@university.edu", MembershipType: domain.MembershipStudent},
			{UserID: "USR002", Name: "Bob Smith", Email: "bob@university.edu", MembershipType: domain.MembershipFaculty},
			{UserID: "USR003", Name: "Carol Davis", Email: "carol@university.edu", MembershipType: domain.MembershipStaff},
		}
		for _, u := range sampleUsers {
			if _, err := db.Exec(
				`INSERT INTO users (user_id, name, email, membership_type, created_at) VALUES (?,?,?,?,?)`,
				u.UserID, u.Name, u.Email, u.MembershipType, now,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// BOOKS
// =============================================================================

// ListBooks returns all books, optionally filtered by category, ordered by
// title.
func (s *Store) ListBooks(ctx context.Context, category string) ([]domain.Book, error) {
	var books []domain.Book
	err := s.pool.WithConn(ctx, acquireTimeout, func(db *sql.DB) error {
		query := `SELECT isbn, title, author, category, total_copies, available_copies FROM books`
		args := []any{}
		if category != "" {
			query += ` WHERE category = ?`
			args = append(args, category)
		}
		query += ` ORDER BY title`

		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var b domain.Book
			if err := rows.Scan(&b.ISBN, &b.Title, &b.Author, &b.Category, &b.TotalCopies, &b.AvailableCopies); err != nil {
				return err
			}
			books = append(books, b)
		}
		return rows.Err()
	})
	return books, err
}

// GetBook returns a single book by ISBN, or (nil, nil) if not found.
func (s *Store) GetBook(ctx context.Context, isbn string) (*domain.Book, error) {
	var result *domain.Book
	err := s.pool.WithConn(ctx, acquireTimeout, func(db *sql.DB) error {
		var b domain.Book
		err := db.QueryRowContext(ctx,
			`SELECT isbn, title, author, category, total_copies, available_copies FROM books WHERE isbn = ?`,
			isbn,
		).Scan(&b.ISBN, &b.Title, &b.Author, &b.Category, &b.TotalCopies, &b.AvailableCopies)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		result = &b
		return nil
	})
	return result, err
}

// CreateBook inserts a new book with available_copies == total_copies.
// Returns domain.ErrDuplicateISBN if the ISBN already exists.
func (s *Store) CreateBook(ctx context.Context, b domain.Book) error {
	return s.pool.WithConn(ctx, acquireTimeout, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO books (isbn, title, author, category, total_copies, available_copies, created_at) VALUES (?,?,?,?,?,?,?)`,
			b.ISBN, b.Title, b.Author, b.Category, b.TotalCopies, b.TotalCopies, time.Now().UTC().Format(time.RFC3339),
		)
		if isUniqueConstraintError(err) {
			return domain.ErrDuplicateISBN
		}
		return err
	})
}

// =============================================================================
// USERS
// =============================================================================

// CreateUser inserts a new user. Returns domain.ErrDuplicateUserID if the
// user_id or email already exists.
func (s *Store) CreateUser(ctx context.Context, u domain.User) error {
	return s.pool.WithConn(ctx, acquireTimeout, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO users (user_id, name, email, membership_type, created_at) VALUES (?,?,?,?,?)`,
			u.UserID, u.Name, u.Email, u.MembershipType, time.Now().UTC().Format(time.RFC3339),
		)
		if isUniqueConstraintError(err) {
			return domain.ErrDuplicateUserID
		}
		return err
	})
}

// GetUser returns a single user by ID, or (nil, nil) if not found.
func (s *Store) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	var result *domain.User
	err := s.pool.WithConn(ctx, acquireTimeout, func(db *sql.DB) error {
		var u domain.User
		var createdAt string
		err := db.QueryRowContext(ctx,
			`SELECT user_id, name, email, membership_type, created_at FROM users WHERE user_id = ?`,
			userID,
		).Scan(&u.UserID, &u.Name, &u.Email, &u.MembershipType, &createdAt)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		result = &u
		return nil
	})
	return result, err
}

// UserExists is a cheap existence check used by the API boundary before
// enqueuing a reservation.
func (s *Store) UserExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.pool.WithConn(ctx, acquireTimeout, func(db *sql.DB) error {
		var one int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE user_id = ?`, userID).Scan(&one)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// BookExists is a cheap existence check used by the API boundary before
// enqueuing a reservation.
func (s *Store) BookExists(ctx context.Context, isbn string) (bool, error) {
	var exists bool
	err := s.pool.WithConn(ctx, acquireTimeout, func(db *sql.DB) error {
		var one int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM books WHERE isbn = ?`, isbn).Scan(&one)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// =============================================================================
// RESERVATIONS
// =============================================================================

// CreateReservationPending inserts a PENDING reservation and returns its
// assigned, monotonically increasing ID.
func (s *Store) CreateReservationPending(ctx context.Context, userID, isbn string) (int64, error) {
	var id int64
	err := s.pool.WithConn(ctx, acquireTimeout, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`INSERT INTO reservations (user_id, isbn, status, created_at) VALUES (?,?,?,?)`,
			userID, isbn, domain.StatusPending, time.Now().UTC().Format(time.RFC3339),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// ReservationsByUser returns every reservation for userID, newest first.
func (s *Store) ReservationsByUser(ctx context.Context, userID string) ([]domain.Reservation, error) {
	var out []domain.Reservation
	err := s.pool.WithConn(ctx, acquireTimeout, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx,
			`SELECT id, user_id, isbn, status, created_at, processed_at, reason
			 FROM reservations WHERE user_id = ? ORDER BY id DESC`,
			userID,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			r, err := scanReservation(rows)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

func scanReservation(rows *sql.Rows) (domain.Reservation, error) {
	var r domain.Reservation
	var createdAt string
	var processedAt, reason sql.NullString
	if err := rows.Scan(&r.ID, &r.UserID, &r.ISBN, &r.Status, &createdAt, &processedAt, &reason); err != nil {
		return r, err
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if processedAt.Valid {
		t, _ := time.Parse(time.RFC3339, processedAt.String)
		r.ProcessedAt = &t
	}
	if reason.Valid {
		r.Reason = reason.String
	}
	return r, nil
}

// ProcessOutcome is the result of one transactional reservation apply.
type ProcessOutcome struct {
	Status      domain.ReservationStatus
	Reason      string
	ProcessedAt time.Time
}

// ProcessReservation runs the §4.4 step-3 sequence on one pool-leased
// connection inside a single BEGIN IMMEDIATE transaction (the pool's DSN
// sets _txlock=immediate, making every BeginTx an exclusive writer
// transaction): re-read the book row, decrement-and-confirm if a copy is
// available, else reject with "no copies available". Storage errors are
// returned wrapped in domain.ErrTransient and a missing book as
// domain.ErrBookNotFound; the caller (worker/pool.go) retries only the
// former.
func (s *Store) ProcessReservation(ctx context.Context, reservationID int64, isbn string) (ProcessOutcome, error) {
	var outcome ProcessOutcome
	err := s.pool.WithConn(ctx, acquireTimeout, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%w: begin tx: %v", domain.ErrTransient, err)
		}
		defer tx.Rollback()

		var available int
		err = tx.QueryRowContext(ctx, `SELECT available_copies FROM books WHERE isbn = ?`, isbn).Scan(&available)
		if err == sql.ErrNoRows {
			return domain.ErrBookNotFound
		}
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrTransient, err)
		}

		now := time.Now().UTC()
		outcome = ProcessOutcome{ProcessedAt: now}

		if available >= 1 {
			if _, err := tx.ExecContext(ctx, `UPDATE books SET available_copies = available_copies - 1 WHERE isbn = ?`, isbn); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrTransient, err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE reservations SET status = ?, processed_at = ? WHERE id = ?`,
				domain.StatusConfirmed, now.Format(time.RFC3339), reservationID,
			); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrTransient, err)
			}
			outcome.Status = domain.StatusConfirmed
		} else {
			if _, err := tx.ExecContext(ctx,
				`UPDATE reservations SET status = ?, processed_at = ?, reason = ? WHERE id = ?`,
				domain.StatusRejected, now.Format(time.RFC3339), domain.RejectReasonNoCopies, reservationID,
			); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrTransient, err)
			}
			outcome.Status = domain.StatusRejected
			outcome.Reason = domain.RejectReasonNoCopies
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: commit: %v", domain.ErrTransient, err)
		}
		return nil
	})
	if err != nil {
		return ProcessOutcome{}, err
	}
	return outcome, nil
}

// RejectReservation marks a reservation terminally REJECTED with the given
// reason, used when retries are exhausted or validation fails.
func (s *Store) RejectReservation(ctx context.Context, reservationID int64, reason string) error {
	return s.pool.WithConn(ctx, acquireTimeout, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`UPDATE reservations SET status = ?, processed_at = ?, reason = ? WHERE id = ?`,
			domain.StatusRejected, time.Now().UTC().Format(time.RFC3339), reason, reservationID,
		)
		return err
	})
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
