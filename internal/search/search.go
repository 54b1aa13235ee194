// Package search finds published menus by name, section names and text.
package search

import (
	"context"
	"strings"

	"carta/api/internal/blocks"
	"carta/api/internal/document"
)

// Result is a single search hit returned to the caller.
type Result struct {
	MenuID  string `json:"menuId"`
	Name    string `json:"name"`
	Slug    string `json:"slug"`
	Snippet string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text      string
	AccountID string // empty = every account
	Limit     int
	Offset    int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// MenuRecord is the data we index for a published menu.
type MenuRecord struct {
	ID          string   `json:"id"`
	AccountID   string   `json:"accountId"`
	Name        string   `json:"name"`
	Slug        string   `json:"slug"`
	Sections    []string `json:"sections"`
	Body        string   `json:"body"`
	PublishedAt int64    `json:"publishedAt"`
}

// BuildRecord extracts the searchable text of a menu tree in document
// order: category names become sections, header, heading and text content
// becomes the body.
func BuildRecord(id, accountID, name, slug string, publishedAt int64, tree *document.Store) MenuRecord {
	rec := MenuRecord{ID: id, AccountID: accountID, Name: name, Slug: slug, Sections: []string{}, PublishedAt: publishedAt}
	var body []string
	_ = tree.Walk(func(n document.Node, _ int) error {
		props := tree.Registry().WithDefaults(n.Type, n.Props)
		switch n.Type {
		case blocks.Category:
			if label := props.String("name"); label != "" {
				rec.Sections = append(rec.Sections, label)
			}
			body = appendText(body, props.String("description"))
		case blocks.Header:
			body = appendText(body, props.String("title"), props.String("subtitle"))
		case blocks.Heading, blocks.Text:
			body = appendText(body, props.String("text"))
		}
		return nil
	})
	rec.Body = strings.Join(body, "\n")
	return rec
}

func appendText(dst []string, values ...string) []string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			dst = append(dst, v)
		}
	}
	return dst
}
