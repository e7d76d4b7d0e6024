// Package procedures registers the bookmark and tag routes served by the
// backend, together with the typed endpoints clients use to call them.
package procedures

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/markd/internal/rpc"
	"github.com/kalambet/markd/internal/storage"
)

// Store is the database surface the procedures need.
type Store interface {
	ListBookmarks(ctx context.Context) ([]storage.Bookmark, error)
	ListBookmarksWithTags(ctx context.Context) ([]storage.BookmarkWithTags, error)
	GetBookmark(ctx context.Context, id string) (storage.Bookmark, error)
	AddBookmark(ctx context.Context, nb storage.NewBookmark) (storage.Bookmark, error)
	UpdateBookmark(ctx context.Context, id string, patch storage.BookmarkPatch) (storage.Bookmark, error)
	DeleteBookmark(ctx context.Context, id string) error
	SyncBookmarks(ctx context.Context, records []storage.SyncRecord, prune bool) (storage.SyncResult, error)

	ListTags(ctx context.Context) ([]storage.Tag, error)
	AddTag(ctx context.Context, name, color string) (storage.Tag, error)
	UpdateTag(ctx context.Context, id int64, patch storage.TagPatch) (storage.Tag, error)
	DeleteTag(ctx context.Context, id int64) error
	AddBookmarkTag(ctx context.Context, bookmarkID string, tagID int64) error
	DeleteBookmarkTag(ctx context.Context, bookmarkID string, tagID int64) error
}

// NewRouter builds the full route table over store.
func NewRouter(store Store) (*rpc.Router, error) {
	return rpc.Merge(bookmarkRoutes(store), tagRoutes(store))
}

// storeError turns storage sentinels into messages fit for the caller.
func storeError(what string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%s not found", what)
	case errors.Is(err, storage.ErrConflict):
		return fmt.Errorf("%s already exists", what)
	case errors.Is(err, storage.ErrNoFields):
		return errors.New("No fields to update")
	}
	return err
}
