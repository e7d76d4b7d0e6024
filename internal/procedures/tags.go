package procedures

import (
	"context"
	"strings"

	"github.com/kalambet/markd/internal/rpc"
	"github.com/kalambet/markd/internal/storage"
)

type TagID struct {
	ID int64 `json:"id"`
}

type AddTagInput struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type UpdateTagInput struct {
	ID    int64   `json:"id"`
	Name  *string `json:"name,omitempty"`
	Color *string `json:"color,omitempty"`
}

// BookmarkTag identifies one bookmark/tag association.
type BookmarkTag struct {
	BookmarkID string `json:"bookmarkId"`
	TagID      int64  `json:"tagId"`
}

var (
	GetTags           = rpc.NewQuery[rpc.Empty, []storage.Tag]("getTags")
	AddTag            = rpc.NewMutation[AddTagInput, storage.Tag]("addTag")
	UpdateTag         = rpc.NewMutation[UpdateTagInput, storage.Tag]("updateTag")
	DeleteTag         = rpc.NewMutation[TagID, TagID]("deleteTag")
	AddBookmarkTag    = rpc.NewMutation[BookmarkTag, BookmarkTag]("addBookmarkTag")
	DeleteBookmarkTag = rpc.NewMutation[BookmarkTag, BookmarkTag]("deleteBookmarkTag")
)

func checkTagName(name string) error {
	if err := requireString("name", name, "Name is required"); err != nil {
		return err
	}
	if len(strings.TrimSpace(name)) > 64 {
		return invalid("name", "Name must be at most 64 characters")
	}
	return nil
}

var validateAddTag = validator(func(in *AddTagInput) error {
	if err := checkTagName(in.Name); err != nil {
		return err
	}
	return checkColor(in.Color)
})

var validateUpdateTag = validator(func(in *UpdateTagInput) error {
	if err := checkTagID("id", in.ID); err != nil {
		return err
	}
	if in.Name != nil {
		if err := checkTagName(*in.Name); err != nil {
			return err
		}
	}
	if in.Color != nil {
		return checkColor(*in.Color)
	}
	return nil
})

var validateTagID = validator(func(in *TagID) error {
	return checkTagID("id", in.ID)
})

var validateBookmarkTag = validator(func(in *BookmarkTag) error {
	if err := requireString("bookmarkId", in.BookmarkID, "Bookmark ID is required"); err != nil {
		return err
	}
	return checkTagID("tagId", in.TagID)
})

func tagRoutes(store Store) *rpc.Router {
	return rpc.NewRouter(map[string]rpc.Procedure{
		GetTags.Route: GetTags.Procedure(nil, func(ctx context.Context, _ rpc.Empty) ([]storage.Tag, error) {
			return store.ListTags(ctx)
		}).Describe("List all tags by name."),

		AddTag.Route: AddTag.Procedure(validateAddTag, func(ctx context.Context, in AddTagInput) (storage.Tag, error) {
			t, err := store.AddTag(ctx, in.Name, in.Color)
			if err != nil {
				return storage.Tag{}, storeError("tag", err)
			}
			return t, nil
		}).Describe("Create a tag with an optional hex color."),

		UpdateTag.Route: UpdateTag.Procedure(validateUpdateTag, func(ctx context.Context, in UpdateTagInput) (storage.Tag, error) {
			t, err := store.UpdateTag(ctx, in.ID, storage.TagPatch{Name: in.Name, Color: in.Color})
			if err != nil {
				return storage.Tag{}, storeError("tag", err)
			}
			return t, nil
		}).Describe("Rename or recolor a tag."),

		DeleteTag.Route: DeleteTag.Procedure(validateTagID, func(ctx context.Context, in TagID) (TagID, error) {
			if err := store.DeleteTag(ctx, in.ID); err != nil {
				return TagID{}, storeError("tag", err)
			}
			return in, nil
		}).Describe("Delete a tag and detach it from all bookmarks."),

		AddBookmarkTag.Route: AddBookmarkTag.Procedure(validateBookmarkTag, func(ctx context.Context, in BookmarkTag) (BookmarkTag, error) {
			if err := store.AddBookmarkTag(ctx, in.BookmarkID, in.TagID); err != nil {
				return BookmarkTag{}, storeError("bookmark or tag", err)
			}
			return in, nil
		}).Describe("Attach a tag to a bookmark."),

		DeleteBookmarkTag.Route: DeleteBookmarkTag.Procedure(validateBookmarkTag, func(ctx context.Context, in BookmarkTag) (BookmarkTag, error) {
			if err := store.DeleteBookmarkTag(ctx, in.BookmarkID, in.TagID); err != nil {
				return BookmarkTag{}, storeError("tag association", err)
			}
			return in, nil
		}).Describe("Detach a tag from a bookmark."),
	})
}
