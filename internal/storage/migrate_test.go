package storage

import (
	"context"
	"database/sql"
	"strings"
	"testing"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := openDB(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("openDB(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n); err != nil {
		t.Fatalf("checking table %s: %v", name, err)
	}
	return n > 0
}

func ledgerVersions(t *testing.T, db *sql.DB) []string {
	t.Helper()
	applied, err := AppliedMigrations(context.Background(), db)
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	var out []string
	for _, a := range applied {
		out = append(out, a.Version)
	}
	return out
}

func TestMigrateEmptyList(t *testing.T) {
	db := openTestDB(t)
	applied, err := Migrate(context.Background(), db, nil, nil)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("applied = %v, want none", applied)
	}
	if !tableExists(t, db, ledgerTable) {
		t.Error("ledger table not created")
	}
}

// TestMigrateIdempotent applies v1, then v1+v2, then v1+v2 again: each
// version runs exactly once.
func TestMigrateIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	v1 := Migration{Version: "v1", Statements: []string{"CREATE TABLE a (x INTEGER)"}}
	v2 := Migration{Version: "v2", Statements: []string{"ALTER TABLE a ADD y INTEGER"}}

	applied, err := Migrate(ctx, db, []Migration{v1}, nil)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if strings.Join(applied, ",") != "v1" {
		t.Errorf("first run applied %v", applied)
	}

	applied, err = Migrate(ctx, db, []Migration{v1, v2}, nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if strings.Join(applied, ",") != "v2" {
		t.Errorf("second run applied %v, want only v2", applied)
	}

	applied, err = Migrate(ctx, db, []Migration{v1, v2}, nil)
	if err != nil {
		t.Fatalf("third run: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("third run applied %v, want none", applied)
	}

	if got := strings.Join(ledgerVersions(t, db), ","); got != "v1,v2" {
		t.Errorf("ledger = %s", got)
	}
	if _, err := db.Exec("INSERT INTO a (x, y) VALUES (1, 2)"); err != nil {
		t.Errorf("schema missing column from v2: %v", err)
	}
}

func TestMigrateFailureIsAtomic(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	migs := []Migration{
		{Version: "good", Statements: []string{"CREATE TABLE kept (x INTEGER)"}},
		{Version: "bad", Statements: []string{
			"CREATE TABLE partial (x INTEGER)",
			"ALTER TABLE nosuchtable ADD y INTEGER",
		}},
		{Version: "after", Statements: []string{"CREATE TABLE never (x INTEGER)"}},
	}

	applied, err := Migrate(ctx, db, migs, nil)
	if err == nil {
		t.Fatal("expected failure")
	}
	if !strings.Contains(err.Error(), "bad") {
		t.Errorf("error does not name the failing version: %v", err)
	}
	if strings.Join(applied, ",") != "good" {
		t.Errorf("applied = %v, want [good]", applied)
	}

	if !tableExists(t, db, "kept") {
		t.Error("earlier migration rolled back")
	}
	if tableExists(t, db, "partial") {
		t.Error("failed migration left a partial schema change")
	}
	if tableExists(t, db, "never") {
		t.Error("run continued past the failure")
	}
	if got := strings.Join(ledgerVersions(t, db), ","); got != "good" {
		t.Errorf("ledger = %s, want good", got)
	}

	// Fixing the migration lets a later run pick up where this one stopped.
	migs[1].Statements = []string{"CREATE TABLE partial (x INTEGER)"}
	applied, err = Migrate(ctx, db, migs, nil)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if strings.Join(applied, ",") != "bad,after" {
		t.Errorf("retry applied %v", applied)
	}
}

func TestMigrateSkipsAppliedVersionWithNewContent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	if _, err := Migrate(ctx, db, []Migration{{Version: "v1", Statements: []string{"CREATE TABLE a (x INTEGER)"}}}, nil); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	applied, err := Migrate(ctx, db, []Migration{{Version: "v1", Statements: []string{"CREATE TABLE b (x INTEGER)"}}}, nil)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(applied) != 0 || tableExists(t, db, "b") {
		t.Error("applied version was re-executed")
	}
}

func TestPendingMigrations(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	migs := []Migration{
		{Version: "v1", Statements: []string{"CREATE TABLE a (x INTEGER)"}},
		{Version: "v2", Statements: []string{"CREATE TABLE b (x INTEGER)"}},
	}
	if _, err := Migrate(ctx, db, migs[:1], nil); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	pending, err := PendingMigrations(ctx, db, migs)
	if err != nil {
		t.Fatalf("PendingMigrations: %v", err)
	}
	if strings.Join(pending, ",") != "v2" {
		t.Errorf("pending = %v", pending)
	}
}

func TestOpenAppliesJournal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s1, err := Open(ctx, dir, Options{})
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	v1, err := s1.AppliedMigrations(ctx)
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(ctx, dir, Options{})
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer s2.Close()
	v2, err := s2.AppliedMigrations(ctx)
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	journal, err := Journal()
	if err != nil {
		t.Fatalf("Journal: %v", err)
	}
	if len(v1) != len(journal) || len(v2) != len(journal) {
		t.Errorf("ledger sizes %d, %d; journal has %d", len(v1), len(v2), len(journal))
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Errorf("ledger row %d changed across reopen: %+v -> %+v", i, v1[i], v2[i])
		}
	}
}

func TestOpenSkipMigrations(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:", Options{SkipMigrations: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	pending, err := s.PendingMigrations(ctx)
	if err != nil {
		t.Fatalf("PendingMigrations: %v", err)
	}
	journal, _ := Journal()
	if len(pending) != len(journal) {
		t.Errorf("pending = %v, want the whole journal", pending)
	}
	if tableExists(t, s.db, "bookmarks") {
		t.Error("schema created despite SkipMigrations")
	}
}
