// Package users keeps registered accounts and serves the /auth endpoints.
//
// Accounts live in Postgres when DATABASE_URL is set, otherwise in a local
// SQLite file (lite mode).
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("user already exists")
)

// User is a registered account.
type User struct {
	ID            string
	Email         string
	Name          string
	PasswordHash  string
	Verifications int64
	CreatedAt     time.Time
}

// Store persists users.
type Store interface {
	Create(ctx context.Context, u *User) error
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	IncrementVerifications(ctx context.Context, id string) error
}

// Dialect selects placeholder syntax and error decoding.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	verifications INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);`

// SQLStore implements Store on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore wraps db. Call Init before first use.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Init creates the schema if it does not exist.
func (s *SQLStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("users: init schema: %w", err)
	}
	return nil
}

// Open connects to Postgres at databaseURL, or to SQLite under dataDir when
// databaseURL is empty.
func Open(ctx context.Context, databaseURL, dataDir string) (*sql.DB, Dialect, error) {
	if databaseURL != "" {
		db, err := sql.Open("postgres", databaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, "", fmt.Errorf("ping postgres: %w", err)
		}
		return db, Postgres, nil
	}

	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, "", fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, "truthtag.db")
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, "", fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return db, SQLite, nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(q string) string {
	if s.dialect != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Create(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO users (id, email, name, password_hash, verifications, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		u.ID, u.Email, u.Name, u.PasswordHash, u.Verifications, u.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("users: create: %w", err)
	}
	return nil
}

const selectUser = `SELECT id, email, name, password_hash, verifications, created_at FROM users`

func (s *SQLStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.queryOne(ctx, selectUser+` WHERE email = ?`, email)
}

func (s *SQLStore) GetByID(ctx context.Context, id string) (*User, error) {
	return s.queryOne(ctx, selectUser+` WHERE id = ?`, id)
}

func (s *SQLStore) IncrementVerifications(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE users SET verifications = verifications + 1 WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("users: increment: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) queryOne(ctx context.Context, q string, arg any) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, s.rebind(q), arg).
		Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Verifications, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("users: query: %w", err)
	}
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(liteErr.Error(), "UNIQUE")
		}
	}
	return false
}
