package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sasha-s/go-deadlock"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/BadHairlines/DayZ-Manager-sub000/internal/apperr"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/catalog"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// State is the lifecycle state of a Store's connection pool
type State int

const (
	StateClosed State = iota
	StateOpen
	StateReconnecting
	StateDown
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateDown:
		return "down"
	}
	return "unknown"
}

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

// Options configures Open
type Options struct {
	// URL is postgres://..., sqlite://path, file:path or a bare sqlite path.
	URL      string
	MaxConns int
	Catalog  *catalog.Catalog
}

// Store is the gateway to the relational store. It owns the connection pool
// and hands out typed CRUD over flags, factions, panels and audit rows.
type Store struct {
	catalog *catalog.Catalog
	dialect dialect
	driver  string
	dsn     string
	maxConn int

	mu    deadlock.RWMutex
	db    *sql.DB
	state State
}

// Open parses the URL, connects, and runs migrations
func Open(ctx context.Context, opts Options) (*Store, error) {
	driverName, dsn, d, err := parseURL(opts.URL)
	if err != nil {
		return nil, err
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.Default()
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = 10
	}

	s := &Store{
		catalog: opts.Catalog,
		dialect: d,
		driver:  driverName,
		dsn:     dsn,
		maxConn: opts.MaxConns,
	}

	db, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	s.db = db
	s.state = StateOpen

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func parseURL(raw string) (driverName, dsn string, d dialect, err error) {
	switch {
	case raw == "":
		return "", "", 0, fmt.Errorf("empty database URL")
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return "postgres", raw, dialectPostgres, nil
	case strings.HasPrefix(raw, "sqlite://"):
		return "sqlite", sqliteDSN(strings.TrimPrefix(raw, "sqlite://")), dialectSQLite, nil
	case strings.HasPrefix(raw, "file:"):
		return "sqlite", sqliteDSN(raw), dialectSQLite, nil
	case strings.Contains(raw, "://"):
		return "", "", 0, fmt.Errorf("unsupported database URL scheme in %q", raw)
	default:
		return "sqlite", sqliteDSN(raw), dialectSQLite, nil
	}
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (s *Store) connect(ctx context.Context) (*sql.DB, error) {
	if s.dialect == dialectSQLite {
		path := strings.TrimPrefix(s.dsn, "file:")
		if i := strings.Index(path, "?"); i >= 0 {
			path = path[:i]
		}
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if s.dialect == dialectSQLite {
		// One writer at a time; sqlite serializes anyway and this avoids
		// SQLITE_BUSY between our own connections.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(s.maxConn)
		db.SetMaxIdleConns(s.maxConn)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Catalog returns the flag catalog the store validates against
func (s *Store) Catalog() *catalog.Catalog {
	return s.catalog
}

// State returns the current lifecycle state
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Ping checks the pool is healthy
func (s *Store) Ping(ctx context.Context) error {
	return s.do(ctx, func(db *sql.DB) error {
		return db.PingContext(ctx)
	})
}

// Reconnect replaces the pool with a freshly opened one. On failure the
// store is marked down and the next statement tries again.
func (s *Store) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return fmt.Errorf("store is closed")
	}
	s.state = StateReconnecting
	s.mu.Unlock()

	db, err := s.connect(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		if db != nil {
			db.Close()
		}
		return fmt.Errorf("store is closed")
	}
	if err != nil {
		s.state = StateDown
		return err
	}
	old := s.db
	s.db = db
	s.state = StateOpen
	if old != nil {
		go old.Close()
	}
	slog.Info("Database pool reconnected")
	return nil
}

// Close closes the pool. The store is unusable afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) handle(ctx context.Context) (*sql.DB, error) {
	s.mu.RLock()
	db, state := s.db, s.state
	s.mu.RUnlock()

	switch state {
	case StateOpen:
		return db, nil
	case StateDown:
		if err := s.Reconnect(ctx); err != nil {
			return nil, err
		}
		return s.handle(ctx)
	case StateReconnecting:
		// Serve from the old pool while the new one comes up.
		if db != nil {
			return db, nil
		}
		return nil, fmt.Errorf("store is reconnecting")
	default:
		return nil, fmt.Errorf("store is closed")
	}
}

// do runs fn against the pool. A connection-class failure triggers one
// reconnect and one retry; a second failure becomes StoreUnavailable.
// fn must be safe to run twice.
func (s *Store) do(ctx context.Context, fn func(db *sql.DB) error) error {
	db, err := s.handle(ctx)
	if err != nil {
		return apperr.StoreUnavailable(err)
	}

	err = fn(db)
	if err == nil || !isConnError(err) {
		return err
	}

	slog.Warn("Database connection error, reconnecting", "error", err)
	if rerr := s.Reconnect(ctx); rerr != nil {
		slog.Error("Database reconnect failed", "error", rerr)
		return apperr.StoreUnavailable(rerr)
	}

	db, err = s.handle(ctx)
	if err != nil {
		return apperr.StoreUnavailable(err)
	}
	if err := fn(db); err != nil {
		if isConnError(err) {
			return apperr.StoreUnavailable(err)
		}
		return err
	}
	return nil
}

// tx runs fn inside a transaction, with the same retry policy as do
func (s *Store) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.do(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// q rebinds ? placeholders to $n for postgres
func (s *Store) q(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

// forUpdate returns a row-lock suffix where the dialect has one
func (s *Store) forUpdate() string {
	if s.dialect == dialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func isConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "08":
			return true
		case pqErr.Code == "57P01", pqErr.Code == "57P02", pqErr.Code == "57P03":
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is closed") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe")
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
