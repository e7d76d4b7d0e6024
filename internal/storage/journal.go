package storage

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

//go:embed migrations/_journal.json migrations/*.sql
var migrationsFS embed.FS

// statementBreakpoint separates statements in a migration file whose journal
// entry sets breakpoints.
const statementBreakpoint = "--> statement-breakpoint"

type journalFile struct {
	Version string         `json:"version"`
	Dialect string         `json:"dialect"`
	Entries []journalEntry `json:"entries"`
}

type journalEntry struct {
	Idx         int    `json:"idx"`
	Version     string `json:"version"`
	When        int64  `json:"when"`
	Tag         string `json:"tag"`
	Breakpoints bool   `json:"breakpoints"`
}

// Journal returns the migrations embedded in the binary.
func Journal() ([]Migration, error) {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("opening embedded migrations: %w", err)
	}
	return LoadJournal(sub)
}

// LoadJournal reads _journal.json from fsys and the <tag>.sql file of every
// entry, returning migrations in journal order. Each migration's version is
// its tag.
func LoadJournal(fsys fs.FS) ([]Migration, error) {
	raw, err := fs.ReadFile(fsys, "_journal.json")
	if err != nil {
		return nil, fmt.Errorf("reading migration journal: %w", err)
	}
	var j journalFile
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("parsing migration journal: %w", err)
	}
	if j.Dialect != "" && j.Dialect != "sqlite" {
		return nil, fmt.Errorf("migration journal dialect %q is not sqlite", j.Dialect)
	}

	seen := make(map[string]bool, len(j.Entries))
	migs := make([]Migration, 0, len(j.Entries))
	for _, e := range j.Entries {
		if e.Tag == "" {
			return nil, fmt.Errorf("journal entry %d has no tag", e.Idx)
		}
		if seen[e.Tag] {
			return nil, fmt.Errorf("journal entry %d: duplicate tag %q", e.Idx, e.Tag)
		}
		seen[e.Tag] = true

		body, err := fs.ReadFile(fsys, path.Clean(e.Tag+".sql"))
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", e.Tag, err)
		}
		migs = append(migs, Migration{Version: e.Tag, Statements: splitStatements(string(body), e.Breakpoints)})
	}
	return migs, nil
}

func splitStatements(body string, breakpoints bool) []string {
	parts := []string{body}
	if breakpoints {
		parts = strings.Split(body, statementBreakpoint)
	}
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			stmts = append(stmts, p)
		}
	}
	return stmts
}
