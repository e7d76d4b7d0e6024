package storage

import "time"

// Bookmark is a bookmark together with its annotations.
type Bookmark struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Note      string    `json:"note"`
	Rating    *int      `json:"rating"`
	ParentID  string    `json:"parentId,omitempty"`
	DateAdded int64     `json:"dateAdded,omitempty"` // ms since epoch, as the browser reports it
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BookmarkWithTags is a Bookmark plus the tags attached to it.
type BookmarkWithTags struct {
	Bookmark
	Tags []Tag `json:"tags"`
}

type Tag struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewBookmark holds the fields of a bookmark to insert.
type NewBookmark struct {
	ID        string
	URL       string
	Title     string
	Note      string
	Rating    *int
	ParentID  string
	DateAdded int64
}

// BookmarkPatch holds the fields to change; nil fields are left alone.
type BookmarkPatch struct {
	URL    *string
	Title  *string
	Note   *string
	Rating *int
}

func (p BookmarkPatch) empty() bool {
	return p.URL == nil && p.Title == nil && p.Note == nil && p.Rating == nil
}

type TagPatch struct {
	Name  *string
	Color *string
}

// SyncRecord is a bookmark as reported by an external bookmark tree.
type SyncRecord struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	ParentID  string `json:"parentId,omitempty"`
	DateAdded int64  `json:"dateAdded,omitempty"`
}

// SyncResult counts what SyncBookmarks changed.
type SyncResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Removed  int `json:"removed"`
}
