// Package importer reads browser bookmark exports in the Netscape bookmark
// file format into sync records.
package importer

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/kalambet/markd/internal/storage"
)

// Folder is a bookmark folder found in the export.
type Folder struct {
	ID       string
	Title    string
	ParentID string
}

// Result is the parsed export.
type Result struct {
	Records []storage.SyncRecord
	Folders []Folder
	Skipped int // links that are not http(s)
}

// RecordID derives a stable bookmark id from a URL so repeated imports of
// the same link update one row.
func RecordID(rawURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(rawURL)).String()
}

func folderID(path string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("markd-folder:"+path)).String()
}

// ParseNetscape tokenizes a bookmark export. Folders (<H3>) open a scope
// closed by the matching </DL>; links (<A HREF>) inside it take the folder's
// id as their parent. A link that appears twice is kept once.
func ParseNetscape(r io.Reader) (Result, error) {
	var res Result
	z := html.NewTokenizer(r)

	type scope struct {
		id, path string
	}
	stack := []scope{{}}
	var pendingFolder *scope
	seen := make(map[string]bool)

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return res, fmt.Errorf("parsing bookmarks: %w", err)
			}
			return res, nil

		case html.StartTagToken:
			tok := z.Token()
			switch tok.Data {
			case "h3":
				title := innerText(z, "h3")
				parent := stack[len(stack)-1]
				path := parent.path + "/" + title
				f := scope{id: folderID(path), path: path}
				res.Folders = append(res.Folders, Folder{ID: f.id, Title: title, ParentID: parent.id})
				pendingFolder = &f

			case "dl":
				if pendingFolder != nil {
					stack = append(stack, *pendingFolder)
					pendingFolder = nil
				} else {
					stack = append(stack, stack[len(stack)-1])
				}

			case "a":
				href := attr(tok, "href")
				title := innerText(z, "a")
				if !isWebURL(href) {
					res.Skipped++
					continue
				}
				id := RecordID(href)
				if seen[id] {
					continue
				}
				seen[id] = true
				if title == "" {
					title = href
				}
				res.Records = append(res.Records, storage.SyncRecord{
					ID:        id,
					URL:       href,
					Title:     title,
					ParentID:  stack[len(stack)-1].id,
					DateAdded: addDateMillis(attr(tok, "add_date")),
				})
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == "dl" && len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		}
	}
}

// innerText collects text up to the closing tag.
func innerText(z *html.Tokenizer, tag string) string {
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.TextToken:
			b.Write(z.Text())
		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == tag {
				return strings.TrimSpace(b.String())
			}
		}
	}
}

func attr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func isWebURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// addDateMillis converts ADD_DATE (seconds since epoch) to milliseconds.
func addDateMillis(v string) int64 {
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return secs * 1000
}

// Batches splits records into chunks of at most size.
func Batches(records []storage.SyncRecord, size int) [][]storage.SyncRecord {
	if size <= 0 || len(records) <= size {
		if len(records) == 0 {
			return nil
		}
		return [][]storage.SyncRecord{records}
	}
	var out [][]storage.SyncRecord
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		out = append(out, records[start:end])
	}
	return out
}
