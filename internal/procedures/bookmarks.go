package procedures

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/kalambet/markd/internal/rpc"
	"github.com/kalambet/markd/internal/storage"
)

type BookmarkID struct {
	ID string `json:"id"`
}

// AddBookmarkInput creates an annotated bookmark. An empty ID is assigned a
// fresh one.
type AddBookmarkInput struct {
	ID     string `json:"id,omitempty"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	Rating *int   `json:"rating,omitempty"`
	Note   string `json:"note,omitempty"`
}

type UpdateBookmarkInput struct {
	ID     string  `json:"id"`
	URL    *string `json:"url,omitempty"`
	Title  *string `json:"title,omitempty"`
	Rating *int    `json:"rating,omitempty"`
	Note   *string `json:"note,omitempty"`
}

// SyncInput carries records from an external bookmark tree. Prune removes
// stored bookmarks the tree no longer has.
type SyncInput struct {
	Bookmarks []storage.SyncRecord `json:"bookmarks"`
	Prune     bool                 `json:"prune,omitempty"`
}

var (
	GetBookmarks         = rpc.NewQuery[rpc.Empty, []storage.Bookmark]("getBookmarks")
	GetBookmarksWithTags = rpc.NewQuery[rpc.Empty, []storage.BookmarkWithTags]("getBookmarksWithTags")
	GetBookmark          = rpc.NewQuery[BookmarkID, *storage.Bookmark]("getBookmark")
	AddBookmark          = rpc.NewMutation[AddBookmarkInput, storage.Bookmark]("addBookmark")
	UpdateBookmark       = rpc.NewMutation[UpdateBookmarkInput, storage.Bookmark]("updateBookmark")
	DeleteBookmark       = rpc.NewMutation[BookmarkID, BookmarkID]("deleteBookmark")
	SyncChromeBookmarks  = rpc.NewMutation[SyncInput, storage.SyncResult]("syncChromeBookmarks")
)

var validateBookmarkID = validator(func(in *BookmarkID) error {
	return requireString("id", in.ID, "ID is required")
})

var validateAddBookmark = validator(func(in *AddBookmarkInput) error {
	if err := requireString("url", in.URL, "URL is required"); err != nil {
		return err
	}
	if err := checkURL("url", in.URL); err != nil {
		return err
	}
	if err := requireString("title", in.Title, "Title is required"); err != nil {
		return err
	}
	return checkRating(in.Rating)
})

var validateUpdateBookmark = validator(func(in *UpdateBookmarkInput) error {
	if err := requireString("id", in.ID, "ID is required"); err != nil {
		return err
	}
	if in.URL != nil {
		if err := checkURL("url", *in.URL); err != nil {
			return err
		}
	}
	if in.Title != nil {
		if err := requireString("title", *in.Title, "Title is required"); err != nil {
			return err
		}
	}
	return checkRating(in.Rating)
})

var validateSync = validator(func(in *SyncInput) error {
	for _, r := range in.Bookmarks {
		if err := requireString("bookmarks.id", r.ID, "ID is required"); err != nil {
			return err
		}
		if err := checkURL("bookmarks.url", r.URL); err != nil {
			return err
		}
	}
	return nil
})

func bookmarkRoutes(store Store) *rpc.Router {
	return rpc.NewRouter(map[string]rpc.Procedure{
		GetBookmarks.Route: GetBookmarks.Procedure(nil, func(ctx context.Context, _ rpc.Empty) ([]storage.Bookmark, error) {
			return store.ListBookmarks(ctx)
		}).Describe("List all annotated bookmarks, newest first."),

		GetBookmarksWithTags.Route: GetBookmarksWithTags.Procedure(nil, func(ctx context.Context, _ rpc.Empty) ([]storage.BookmarkWithTags, error) {
			return store.ListBookmarksWithTags(ctx)
		}).Describe("List all bookmarks with their tags."),

		GetBookmark.Route: GetBookmark.Procedure(validateBookmarkID, func(ctx context.Context, in BookmarkID) (*storage.Bookmark, error) {
			b, err := store.GetBookmark(ctx, in.ID)
			if errors.Is(err, storage.ErrNotFound) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return &b, nil
		}).Describe("Get one bookmark by id; null when absent."),

		AddBookmark.Route: AddBookmark.Procedure(validateAddBookmark, func(ctx context.Context, in AddBookmarkInput) (storage.Bookmark, error) {
			id := in.ID
			if id == "" {
				id = uuid.NewString()
			}
			b, err := store.AddBookmark(ctx, storage.NewBookmark{
				ID: id, URL: in.URL, Title: in.Title, Note: in.Note, Rating: in.Rating,
			})
			if err != nil {
				return storage.Bookmark{}, storeError("bookmark", err)
			}
			return b, nil
		}).Describe("Add an annotated bookmark (url, title, optional note and 1-5 rating)."),

		UpdateBookmark.Route: UpdateBookmark.Procedure(validateUpdateBookmark, func(ctx context.Context, in UpdateBookmarkInput) (storage.Bookmark, error) {
			b, err := store.UpdateBookmark(ctx, in.ID, storage.BookmarkPatch{
				URL: in.URL, Title: in.Title, Note: in.Note, Rating: in.Rating,
			})
			if err != nil {
				return storage.Bookmark{}, storeError("bookmark", err)
			}
			return b, nil
		}).Describe("Change a bookmark's url, title, note or rating."),

		// Deleting an absent bookmark succeeds: the caller's goal is already met.
		DeleteBookmark.Route: DeleteBookmark.Procedure(validateBookmarkID, func(ctx context.Context, in BookmarkID) (BookmarkID, error) {
			if err := store.DeleteBookmark(ctx, in.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return BookmarkID{}, err
			}
			return in, nil
		}).Describe("Delete a bookmark and its tag associations."),

		SyncChromeBookmarks.Route: SyncChromeBookmarks.Procedure(validateSync, func(ctx context.Context, in SyncInput) (storage.SyncResult, error) {
			return store.SyncBookmarks(ctx, in.Bookmarks, in.Prune)
		}).Describe("Upsert bookmarks from the browser's bookmark tree, keeping annotations."),
	})
}
