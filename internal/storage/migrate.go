package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

const ledgerTable = "__markd_migrations"

// Migration is one forward-only schema change. Version is unique across the
// journal; Statements run in order inside a single transaction.
type Migration struct {
	Version    string
	Statements []string
}

// AppliedMigration is one ledger row.
type AppliedMigration struct {
	Version   string
	AppliedAt time.Time
}

// Migrate applies every migration in migs whose version is not yet recorded
// in the ledger, in list order. Each migration and its ledger row commit
// together; the first failure rolls back that migration and stops the run,
// leaving earlier migrations applied. It returns the versions applied by
// this run.
func Migrate(ctx context.Context, db *sql.DB, migs []Migration, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := ensureLedger(ctx, db); err != nil {
		return nil, err
	}

	done, err := appliedSet(ctx, db)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, m := range migs {
		if done[m.Version] {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			logger.Error("migration failed", "version", m.Version, "error", err)
			return applied, err
		}
		done[m.Version] = true
		applied = append(applied, m.Version)
		logger.Info("applied migration", "version", m.Version, "statements", len(m.Statements))
	}

	if len(applied) == 0 {
		logger.Debug("schema up to date", "migrations", len(migs))
	}
	return applied, nil
}

func ensureLedger(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+ledgerTable+` (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version TEXT NOT NULL UNIQUE,
		applied_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("creating migration ledger: %w", err)
	}
	return nil
}

func appliedSet(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM `+ledgerTable)
	if err != nil {
		return nil, fmt.Errorf("reading migration ledger: %w", err)
	}
	defer rows.Close()

	set := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("reading migration ledger: %w", err)
		}
		set[v] = true
	}
	return set, rows.Err()
}

func applyMigration(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction for migration %s: %w", m.Version, err)
	}
	defer tx.Rollback()

	for i, stmt := range m.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying migration %s (statement %d): %w", m.Version, i+1, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO `+ledgerTable+` (version, applied_at) VALUES (?, ?)`,
		m.Version, time.Now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("recording migration %s: %w", m.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %s: %w", m.Version, err)
	}
	return nil
}

// AppliedMigrations returns the ledger in application order. A database that
// has never been migrated has an empty ledger.
func AppliedMigrations(ctx context.Context, db *sql.DB) ([]AppliedMigration, error) {
	if err := ensureLedger(ctx, db); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT version, applied_at FROM `+ledgerTable+` ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("reading migration ledger: %w", err)
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var a AppliedMigration
		var ms int64
		if err := rows.Scan(&a.Version, &ms); err != nil {
			return nil, fmt.Errorf("reading migration ledger: %w", err)
		}
		a.AppliedAt = time.UnixMilli(ms).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// PendingMigrations returns the versions in migs not yet in the ledger.
func PendingMigrations(ctx context.Context, db *sql.DB, migs []Migration) ([]string, error) {
	if err := ensureLedger(ctx, db); err != nil {
		return nil, err
	}
	done, err := appliedSet(ctx, db)
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, m := range migs {
		if !done[m.Version] {
			pending = append(pending, m.Version)
		}
	}
	return pending, nil
}
