package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("already exists")
	// ErrNoFields is returned by updates that carry nothing to change.
	ErrNoFields = errors.New("no fields to update")
)

// Options controls how a Store is opened.
type Options struct {
	Logger *slog.Logger
	// Migrations overrides the embedded journal. Nil means Journal().
	Migrations []Migration
	// SkipMigrations opens the database without applying pending migrations.
	SkipMigrations bool
}

// Store wraps the annotation database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	migs   []Migration
}

// Open opens (or creates) markd.db in dataDir and applies pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(ctx context.Context, dataDir string, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "storage")

	migs := opts.Migrations
	if migs == nil {
		var err error
		if migs, err = Journal(); err != nil {
			return nil, err
		}
	}

	db, err := openDB(ctx, dataDir)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, logger: logger, migs: migs}
	if !opts.SkipMigrations {
		if _, err := s.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}
	return s, nil
}

func openDB(ctx context.Context, dataDir string) (*sql.DB, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "markd.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// A single connection serializes all access and keeps :memory: databases
	// from splitting across connections.
	db.SetMaxOpenConns(1)

	pragmas := []struct{ stmt, what string }{
		{"PRAGMA busy_timeout = 5000", "setting busy timeout"},
		{"PRAGMA journal_mode=WAL", "setting journal mode"},
		{"PRAGMA foreign_keys = ON", "enabling foreign keys"},
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p.what, err)
		}
	}
	return db, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the store's pending migrations and returns the versions it
// applied.
func (s *Store) Migrate(ctx context.Context) ([]string, error) {
	return Migrate(ctx, s.db, s.migs, s.logger)
}

// AppliedMigrations lists the ledger in application order.
func (s *Store) AppliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	return AppliedMigrations(ctx, s.db)
}

// PendingMigrations reports the versions a Migrate call would apply.
func (s *Store) PendingMigrations(ctx context.Context) ([]string, error) {
	return PendingMigrations(ctx, s.db, s.migs)
}

// isConstraint reports whether err is a uniqueness or primary key violation.
func isConstraint(err error) bool {
	return constraintKind(err, "UNIQUE constraint failed", sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY)
}

func isForeignKey(err error) bool {
	return constraintKind(err, "FOREIGN KEY constraint failed", sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY)
}

// constraintKind matches extended result codes, falling back to the message
// when only the primary SQLITE_CONSTRAINT code is reported.
func constraintKind(err error, msg string, codes ...int) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	for _, c := range codes {
		if serr.Code() == c {
			return true
		}
	}
	return serr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(serr.Error(), msg)
}
