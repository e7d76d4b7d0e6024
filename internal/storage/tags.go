package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

func scanTag(row rowScanner, prefix ...any) (Tag, error) {
	var t Tag
	var createdAt string
	dest := append(prefix, &t.ID, &t.Name, &t.Color, &createdAt)
	if err := row.Scan(dest...); err != nil {
		return Tag{}, err
	}
	var err error
	if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Tag{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return t, nil
}

// ListTags returns all tags ordered by name.
func (s *Store) ListTags(ctx context.Context) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, color, created_at FROM tags ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	defer rows.Close()

	results := []Tag{}
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

func (s *Store) getTag(ctx context.Context, id int64) (Tag, error) {
	t, err := scanTag(s.db.QueryRowContext(ctx, `SELECT id, name, color, created_at FROM tags WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Tag{}, ErrNotFound
	}
	if err != nil {
		return Tag{}, fmt.Errorf("getting tag %d: %w", id, err)
	}
	return t, nil
}

// AddTag creates a tag. Names are unique regardless of case.
func (s *Store) AddTag(ctx context.Context, name, color string) (Tag, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tags (name, color, created_at) VALUES (?, ?, ?)`,
		strings.TrimSpace(name), color, now(),
	)
	if isConstraint(err) {
		return Tag{}, fmt.Errorf("tag %q: %w", name, ErrConflict)
	}
	if err != nil {
		return Tag{}, fmt.Errorf("inserting tag: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Tag{}, err
	}
	return s.getTag(ctx, id)
}

func (s *Store) UpdateTag(ctx context.Context, id int64, patch TagPatch) (Tag, error) {
	var sets []string
	var args []any
	if patch.Name != nil {
		sets, args = append(sets, "name = ?"), append(args, strings.TrimSpace(*patch.Name))
	}
	if patch.Color != nil {
		sets, args = append(sets, "color = ?"), append(args, *patch.Color)
	}
	if len(sets) == 0 {
		return Tag{}, ErrNoFields
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE tags SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if isConstraint(err) {
		return Tag{}, fmt.Errorf("tag %d: %w", id, ErrConflict)
	}
	if err != nil {
		return Tag{}, fmt.Errorf("updating tag %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Tag{}, err
	}
	if n == 0 {
		return Tag{}, ErrNotFound
	}
	return s.getTag(ctx, id)
}

// DeleteTag removes a tag and detaches it from every bookmark.
func (s *Store) DeleteTag(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting tag %d: %w", id, err)
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

// AddBookmarkTag attaches a tag to a bookmark. Attaching twice is a no-op;
// an unknown bookmark or tag yields ErrNotFound.
func (s *Store) AddBookmarkTag(ctx context.Context, bookmarkID string, tagID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookmark_tags (bookmark_id, tag_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(bookmark_id, tag_id) DO NOTHING`,
		bookmarkID, tagID, now(),
	)
	if isForeignKey(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("tagging bookmark %s: %w", bookmarkID, err)
	}
	return nil
}

// DeleteBookmarkTag detaches a tag from a bookmark.
func (s *Store) DeleteBookmarkTag(ctx context.Context, bookmarkID string, tagID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bookmark_tags WHERE bookmark_id = ? AND tag_id = ?`, bookmarkID, tagID)
	if err != nil {
		return fmt.Errorf("untagging bookmark %s: %w", bookmarkID, err)
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
