package publisher

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/yuin/goldmark"

	"auto_cms_content_sync/config"
	"auto_cms_content_sync/source"
)

// Row columns the sync recognizes.
const (
	ColTitle         = "title"
	ColContent       = "content"
	ColSlug          = "slug"
	ColExcerpt       = "excerpt"
	ColStatus        = "status"
	ColCategories    = "categories"
	ColTags          = "tags"
	ColFeaturedImage = "featured_image"
	ColACF           = "acf"
)

// MetaKeys are the normally-protected SEO fields the server-side
// companion plugin exposes as top-level writable strings. Row values are
// passed through verbatim; without the plugin the server ignores them.
var MetaKeys = []string{
	"_yoast_wpseo_title",
	"_yoast_wpseo_metadesc",
	"_yoast_wpseo_focuskw",
	"rank_math_title",
	"rank_math_description",
	"rank_math_focus_keyword",
	"meta_title",
	"meta_description",
}

// ErrMissingField marks a row lacking a required column.
var ErrMissingField = errors.New("missing required field")

// Payload is the JSON body written to the primary collection.
type Payload map[string]any

// Title returns the payload title.
func (p Payload) Title() string {
	title, _ := p["title"].(string)
	return title
}

// Slug returns the payload slug, or "".
func (p Payload) Slug() string {
	slug, _ := p["slug"].(string)
	return slug
}

// Validate checks that the required columns are present and non-blank.
func Validate(row source.Row) error {
	var missing []string
	for _, col := range []string{ColTitle, ColContent} {
		if !row.Has(col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", "))
	}
	return nil
}

// Builder turns rows into write payloads.
type Builder struct {
	DefaultStatus string
	ContentFormat string
	Logger        *slog.Logger
}

// Build maps the recognized row fields onto a payload. The caller is
// expected to have validated the row. A malformed acf cell is logged and
// left out rather than failing the row.
func (b Builder) Build(row source.Row) (Payload, error) {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}

	content := row.Get(ColContent)
	if b.ContentFormat == config.ContentMarkdown {
		html, err := mdToHTML(content)
		if err != nil {
			return nil, fmt.Errorf("convert markdown: %w", err)
		}
		content = html
	}

	status := normalizeStatus(row.Get(ColStatus))
	if status == "" {
		status = b.DefaultStatus
	}
	if status == "" {
		status = "draft"
	}

	payload := Payload{
		"title":   row.Get(ColTitle),
		"content": content,
		"status":  status,
	}
	if slug := row.Get(ColSlug); slug != "" {
		payload["slug"] = slug
	}
	if excerpt := row.Get(ColExcerpt); excerpt != "" {
		payload["excerpt"] = excerpt
	}
	for _, key := range MetaKeys {
		if v := row.Get(key); v != "" {
			payload[key] = v
		}
	}
	if raw := row.Get(ColACF); raw != "" {
		var acf map[string]any
		if err := json.Unmarshal([]byte(raw), &acf); err != nil {
			logger.Warn("acf column ignored: not a JSON object", "row", row.Number, "error", err)
		} else if len(acf) > 0 {
			payload["acf"] = acf
		}
	}
	return payload, nil
}

func normalizeStatus(status string) string {
	switch s := strings.ToLower(strings.TrimSpace(status)); s {
	case "published":
		return "publish"
	case "scheduled":
		return "future"
	default:
		return s
	}
}

func mdToHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
