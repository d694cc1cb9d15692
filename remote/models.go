package remote

import (
	"context"
	"fmt"
)

// Text is the raw/rendered pair the API returns for title-like fields.
// Raw is only populated when the request uses context=edit.
type Text struct {
	Raw      string `json:"raw,omitempty"`
	Rendered string `json:"rendered"`
}

// String prefers the raw value.
func (t Text) String() string {
	if t.Raw != "" {
		return t.Raw
	}
	return t.Rendered
}

// Post is the subset of a primary resource the sync reads back.
type Post struct {
	ID            int64   `json:"id"`
	Title         Text    `json:"title"`
	Status        string  `json:"status"`
	Slug          string  `json:"slug"`
	Link          string  `json:"link"`
	FeaturedMedia int64   `json:"featured_media"`
	Categories    []int64 `json:"categories,omitempty"`
	Tags          []int64 `json:"tags,omitempty"`
}

// Term is a taxonomy entry such as a category or tag.
type Term struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Taxonomy string `json:"taxonomy"`
}

// Media is the record returned by the upload endpoint.
type Media struct {
	ID        int64  `json:"id"`
	SourceURL string `json:"source_url"`
	MimeType  string `json:"mime_type"`
}

// User is the authenticated account returned by the preflight call.
type User struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Me returns the authenticated user. It is the connectivity preflight: an
// auth rejection, a disabled REST API or an unreachable host all fail here.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if _, err := c.Get(ctx, "users/me", nil, &user); err != nil {
		return nil, fmt.Errorf("preflight: %w", err)
	}
	return &user, nil
}
