// Package terms resolves free-text taxonomy labels to term identifiers,
// creating terms the remote site does not have yet.
package terms

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"strings"

	"auto_cms_content_sync/remote"
)

// Taxonomy collections known to the sync.
const (
	Categories = "categories"
	Tags       = "tags"
)

// API is the subset of the remote client the resolver needs.
type API interface {
	Pace(ctx context.Context) error
	Get(ctx context.Context, path string, params url.Values, out any) (remote.Meta, error)
	Post(ctx context.Context, path string, body any, out any) error
}

// Resolver maps labels to term ids. A nil cache means every label costs a
// search call and, on a miss, a create call.
type Resolver struct {
	api    API
	cache  *Cache
	logger *slog.Logger
}

// NewResolver builds a resolver. cache may be nil.
func NewResolver(api API, cache *Cache, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{api: api, cache: cache, logger: logger}
}

// SplitLabels returns the distinct non-empty trimmed labels of raw in their
// first-seen order. Distinctness is case-insensitive.
func SplitLabels(raw string) []string {
	seen := make(map[string]struct{})
	var labels []string
	for _, part := range strings.Split(raw, ",") {
		label := strings.TrimSpace(part)
		if label == "" {
			continue
		}
		key := strings.ToLower(label)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		labels = append(labels, label)
	}
	return labels
}

// Resolve returns one id per distinct label in raw, in order. Labels that
// fail to resolve are logged and skipped; Resolve itself never fails.
func (r *Resolver) Resolve(ctx context.Context, raw, taxonomy string) []int64 {
	labels := SplitLabels(raw)
	if len(labels) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(labels))
	for _, label := range labels {
		id, err := r.resolveOne(ctx, label, taxonomy)
		if err != nil {
			r.logger.Warn("term resolution failed",
				"taxonomy", taxonomy,
				"label", label,
				"error", err)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (r *Resolver) resolveOne(ctx context.Context, label, taxonomy string) (int64, error) {
	if id, ok := r.cache.Lookup(taxonomy, label); ok {
		return id, nil
	}

	id, found, err := r.search(ctx, label, taxonomy)
	if err != nil {
		return 0, err
	}
	if !found {
		id, err = r.create(ctx, label, taxonomy)
		if err != nil {
			return 0, err
		}
		r.logger.Info("created term", "taxonomy", taxonomy, "label", label, "id", id)
	}
	r.cache.Store(taxonomy, label, id)
	return id, nil
}

func (r *Resolver) search(ctx context.Context, label, taxonomy string) (int64, bool, error) {
	if err := r.api.Pace(ctx); err != nil {
		return 0, false, err
	}
	params := url.Values{}
	params.Set("search", label)
	params.Set("per_page", "100")
	var found []remote.Term
	if _, err := r.api.Get(ctx, taxonomy, params, &found); err != nil {
		return 0, false, fmt.Errorf("search %s %q: %w", taxonomy, label, err)
	}
	for _, term := range found {
		if strings.EqualFold(strings.TrimSpace(html.UnescapeString(term.Name)), label) {
			return term.ID, true, nil
		}
	}
	return 0, false, nil
}

func (r *Resolver) create(ctx context.Context, label, taxonomy string) (int64, error) {
	var created remote.Term
	err := r.api.Post(ctx, taxonomy, map[string]string{"name": label}, &created)
	if err != nil {
		// A concurrent editor or a search that missed an entity-encoded
		// name: the server points at the existing term.
		var apiErr *remote.APIError
		if errors.As(err, &apiErr) && apiErr.Code == "term_exists" {
			if id, ok := apiErr.DataInt("term_id"); ok {
				return id, nil
			}
		}
		return 0, fmt.Errorf("create %s %q: %w", taxonomy, label, err)
	}
	if created.ID == 0 {
		return 0, fmt.Errorf("create %s %q: response carried no id", taxonomy, label)
	}
	return created.ID, nil
}
