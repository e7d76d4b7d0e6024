package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const bookmarkColumns = `id, url, title, note, rating, parent_id, date_added, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBookmark(row rowScanner) (Bookmark, error) {
	var b Bookmark
	var rating sql.NullInt64
	var createdAt, updatedAt string
	if err := row.Scan(&b.ID, &b.URL, &b.Title, &b.Note, &rating, &b.ParentID, &b.DateAdded, &createdAt, &updatedAt); err != nil {
		return Bookmark{}, err
	}
	if rating.Valid {
		r := int(rating.Int64)
		b.Rating = &r
	}
	var err error
	if b.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Bookmark{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if b.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Bookmark{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return b, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// ListBookmarks returns every bookmark, newest first.
func (s *Store) ListBookmarks(ctx context.Context) ([]Bookmark, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+bookmarkColumns+` FROM bookmarks ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing bookmarks: %w", err)
	}
	defer rows.Close()

	results := []Bookmark{}
	for rows.Next() {
		b, err := scanBookmark(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, b)
	}
	return results, rows.Err()
}

// ListBookmarksWithTags returns every bookmark with its tags attached.
func (s *Store) ListBookmarksWithTags(ctx context.Context) ([]BookmarkWithTags, error) {
	bookmarks, err := s.ListBookmarks(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT bt.bookmark_id, t.id, t.name, t.color, t.created_at
		FROM bookmark_tags bt JOIN tags t ON t.id = bt.tag_id
		ORDER BY t.name ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing bookmark tags: %w", err)
	}
	defer rows.Close()

	byBookmark := make(map[string][]Tag)
	for rows.Next() {
		var bookmarkID string
		t, err := scanTag(rows, &bookmarkID)
		if err != nil {
			return nil, err
		}
		byBookmark[bookmarkID] = append(byBookmark[bookmarkID], t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]BookmarkWithTags, len(bookmarks))
	for i, b := range bookmarks {
		tags := byBookmark[b.ID]
		if tags == nil {
			tags = []Tag{}
		}
		out[i] = BookmarkWithTags{Bookmark: b, Tags: tags}
	}
	return out, nil
}

// GetBookmark returns the bookmark with id, or ErrNotFound.
func (s *Store) GetBookmark(ctx context.Context, id string) (Bookmark, error) {
	b, err := scanBookmark(s.db.QueryRowContext(ctx, `SELECT `+bookmarkColumns+` FROM bookmarks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Bookmark{}, ErrNotFound
	}
	if err != nil {
		return Bookmark{}, fmt.Errorf("getting bookmark %s: %w", id, err)
	}
	return b, nil
}

// AddBookmark inserts nb and returns the stored row. An existing id yields
// ErrConflict.
func (s *Store) AddBookmark(ctx context.Context, nb NewBookmark) (Bookmark, error) {
	ts := now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookmarks (id, url, title, note, rating, parent_id, date_added, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nb.ID, nb.URL, nb.Title, nb.Note, nb.Rating, nb.ParentID, nb.DateAdded, ts, ts,
	)
	if isConstraint(err) {
		return Bookmark{}, fmt.Errorf("bookmark %s: %w", nb.ID, ErrConflict)
	}
	if err != nil {
		return Bookmark{}, fmt.Errorf("inserting bookmark: %w", err)
	}
	return s.GetBookmark(ctx, nb.ID)
}

// UpdateBookmark applies patch to bookmark id and returns the updated row.
func (s *Store) UpdateBookmark(ctx context.Context, id string, patch BookmarkPatch) (Bookmark, error) {
	if patch.empty() {
		return Bookmark{}, ErrNoFields
	}

	var sets []string
	var args []any
	if patch.URL != nil {
		sets, args = append(sets, "url = ?"), append(args, *patch.URL)
	}
	if patch.Title != nil {
		sets, args = append(sets, "title = ?"), append(args, *patch.Title)
	}
	if patch.Note != nil {
		sets, args = append(sets, "note = ?"), append(args, *patch.Note)
	}
	if patch.Rating != nil {
		sets, args = append(sets, "rating = ?"), append(args, *patch.Rating)
	}
	sets, args = append(sets, "updated_at = ?"), append(args, now())
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE bookmarks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return Bookmark{}, fmt.Errorf("updating bookmark %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Bookmark{}, err
	}
	if n == 0 {
		return Bookmark{}, ErrNotFound
	}
	return s.GetBookmark(ctx, id)
}

// DeleteBookmark removes bookmark id along with its tag associations.
func (s *Store) DeleteBookmark(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bookmarks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting bookmark %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SyncBookmarks upserts records from an external bookmark tree in one
// transaction. URL, title, parent and date are refreshed; notes, ratings and
// tags are kept. With prune set, bookmarks absent from records are removed.
func (s *Store) SyncBookmarks(ctx context.Context, records []SyncRecord, prune bool) (SyncResult, error) {
	var res SyncResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("beginning sync transaction: %w", err)
	}
	defer tx.Rollback()

	ts := now()
	keep := make(map[string]bool, len(records))
	for _, r := range records {
		keep[r.ID] = true

		upd, err := tx.ExecContext(ctx, `
			UPDATE bookmarks SET url = ?, title = ?, parent_id = ?, date_added = ?, updated_at = ?
			WHERE id = ? AND (url != ? OR title != ? OR parent_id != ? OR date_added != ?)`,
			r.URL, r.Title, r.ParentID, r.DateAdded, ts,
			r.ID, r.URL, r.Title, r.ParentID, r.DateAdded,
		)
		if err != nil {
			return res, fmt.Errorf("syncing bookmark %s: %w", r.ID, err)
		}
		if n, _ := upd.RowsAffected(); n > 0 {
			res.Updated++
			continue
		}

		ins, err := tx.ExecContext(ctx, `
			INSERT INTO bookmarks (id, url, title, parent_id, date_added, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			r.ID, r.URL, r.Title, r.ParentID, r.DateAdded, ts, ts,
		)
		if err != nil {
			return res, fmt.Errorf("syncing bookmark %s: %w", r.ID, err)
		}
		if n, _ := ins.RowsAffected(); n > 0 {
			res.Inserted++
		}
	}

	if prune {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM bookmarks`)
		if err != nil {
			return res, fmt.Errorf("listing bookmarks for prune: %w", err)
		}
		var stale []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return res, err
			}
			if !keep[id] {
				stale = append(stale, id)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return res, err
		}
		for _, id := range stale {
			if _, err := tx.ExecContext(ctx, `DELETE FROM bookmarks WHERE id = ?`, id); err != nil {
				return res, fmt.Errorf("pruning bookmark %s: %w", id, err)
			}
			res.Removed++
		}
	}

	if err := tx.Commit(); err != nil {
		return SyncResult{}, fmt.Errorf("committing sync: %w", err)
	}
	return res, nil
}
