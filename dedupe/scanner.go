package dedupe

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"auto_cms_content_sync/remote"
)

const (
	// PageSize is the largest page the collection API serves.
	PageSize = 100
	// MaxPages caps a scan at MaxPages*PageSize resources. Past that the
	// scan reports no duplicate rather than walking the whole collection.
	MaxPages = 10
)

// Statuses are requested explicitly because the collection search omits
// non-published resources by default.
var Statuses = []string{"publish", "draft", "pending", "private", "future"}

// Lister reads pages of the primary collection.
type Lister interface {
	Get(ctx context.Context, path string, params url.Values, out any) (remote.Meta, error)
}

// Scanner pages through the primary collection looking for a title match.
type Scanner struct {
	api        Lister
	collection string
	logger     *slog.Logger
}

// NewScanner builds a scanner over collection (e.g. "posts").
func NewScanner(api Lister, collection string, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	collection = strings.Trim(collection, "/")
	if collection == "" {
		collection = "posts"
	}
	return &Scanner{api: api, collection: collection, logger: logger}
}

// FindDuplicate returns the id of the most recent resource whose normalized
// title equals the normalized title given. found is false when no match
// exists within the first MaxPages pages.
func (s *Scanner) FindDuplicate(ctx context.Context, title string) (id int64, found bool, err error) {
	want := NormalizeTitle(title)
	if want == "" {
		return 0, false, nil
	}

	for page := 1; page <= MaxPages; page++ {
		posts, err := s.fetchPage(ctx, page)
		if err != nil {
			if remote.IsCode(err, "rest_post_invalid_page_number") {
				return 0, false, nil
			}
			return 0, false, fmt.Errorf("duplicate scan page %d: %w", page, err)
		}
		for _, post := range posts {
			if NormalizeTitle(post.Title.String()) == want {
				s.logger.Debug("duplicate title found",
					"title", title,
					"existing_id", post.ID,
					"existing_status", post.Status,
					"page", page)
				return post.ID, true, nil
			}
		}
		if len(posts) < PageSize {
			return 0, false, nil
		}
	}

	s.logger.Warn("duplicate scan hit page limit",
		"title", title,
		"pages", MaxPages,
		"scanned", MaxPages*PageSize)
	return 0, false, nil
}

func (s *Scanner) fetchPage(ctx context.Context, page int) ([]remote.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("per_page", strconv.Itoa(PageSize))
	params.Set("page", strconv.Itoa(page))
	params.Set("orderby", "date")
	params.Set("order", "desc")
	params.Set("status", strings.Join(Statuses, ","))
	params.Set("context", "edit")
	params.Set("_fields", "id,title,status,slug")

	var posts []remote.Post
	if _, err := s.api.Get(ctx, s.collection, params, &posts); err != nil {
		return nil, err
	}
	return posts, nil
}
