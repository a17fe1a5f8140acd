// Package db is the relational store: schema, migrations and the
// queries every service operation runs, on database/sql and
// modernc.org/sqlite.
//
// Reads and single-statement writes go through Store directly. Multi
// step state changes run inside WithTx, which hands the callback a
// Queries bound to one IMMEDIATE transaction. Mutable rows carry a
// version column; updates match on it and report apperr.ErrConflict
// when another writer got there first.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/kidandcat/workboard/internal/apperr"
	"github.com/kidandcat/workboard/internal/clock"
)

const dsnParams = "?_pragma=foreign_keys(1)" +
	"&_pragma=busy_timeout(5000)" +
	"&_pragma=journal_mode(wal)" +
	"&_pragma=synchronous(normal)" +
	"&_txlock=immediate" +
	"&_time_format=sqlite"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries runs statements against the database or an open transaction.
type Queries struct {
	q     querier
	clock clock.Clock
}

func (q *Queries) now() time.Time { return q.clock.Now().UTC() }

// Store owns the connection pool.
type Store struct {
	*Queries
	db     *sql.DB
	logger *slog.Logger
}

// Options configures Open.
type Options struct {
	// Clock stamps created_at/updated_at. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives open/close and migration messages. Nil discards.
	Logger *slog.Logger
}

// Open opens (creating if needed) the database workboard.db inside
// dataDir and applies migrations.
func Open(ctx context.Context, dataDir string, opts Options) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return OpenPath(ctx, filepath.Join(dataDir, "workboard.db"), opts)
}

// OpenPath opens the database file at path and applies migrations.
func OpenPath(ctx context.Context, path string, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}

	conn, err := sql.Open("sqlite", "file:"+path+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Store{
		Queries: &Queries{q: conn, clock: clk},
		db:      conn,
		logger:  logger,
	}
	if err := s.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("database opened", "path", path)
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for i, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("exec migration %d: %w", i, err)
		}
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		s.logger.Error("database close failed", "error", err)
		return err
	}
	return nil
}

// WithTx runs fn inside one IMMEDIATE transaction. The transaction
// commits when fn returns nil and rolls back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("begin tx: %w", err))
	}
	if err := fn(&Queries{q: tx, clock: s.clock}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// mapError translates SQLite constraint failures into service error
// kinds: duplicates become conflicts, broken references and CHECK
// failures become validation errors. Lock contention that outlived the
// busy timeout is also a conflict the caller may retry.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return fmt.Errorf("%w: %v", apperr.ErrConflict, err)
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return &apperr.ValidationError{Message: "referenced record does not exist"}
	case sqlite3.SQLITE_CONSTRAINT_CHECK:
		return &apperr.ValidationError{Message: "value out of range"}
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return fmt.Errorf("%w: %v", apperr.ErrConflict, err)
	}
	return err
}

// notFound maps sql.ErrNoRows to apperr.ErrNotFound for entity.
func notFound(err error, entity string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", entity, apperr.ErrNotFound)
	}
	return mapError(err)
}

// expectOne turns a zero-row optimistic update into a conflict.
func expectOne(res sql.Result, entity string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s was modified concurrently: %w", entity, apperr.ErrConflict)
	}
	return nil
}

// expectRow turns a zero-row plain update or delete into not found.
func expectRow(res sql.Result, entity string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", entity, apperr.ErrNotFound)
	}
	return nil
}

func nullInt(v int64) sql.NullInt64 { return sql.NullInt64{Int64: v, Valid: v != 0} }

func nullString(v string) sql.NullString { return sql.NullString{String: v, Valid: v != ""} }

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
