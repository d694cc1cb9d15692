// Package publisher reconciles one input row against the remote collection:
// it decides between create and update, attaches terms and featured media,
// and refuses to author a second resource under an existing title.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"auto_cms_content_sync/dedupe"
	"auto_cms_content_sync/generator"
	"auto_cms_content_sync/media"
	"auto_cms_content_sync/remote"
	"auto_cms_content_sync/source"
	"auto_cms_content_sync/terms"
)

// Action is the terminal write a row produced.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionNone    Action = ""
)

// ErrDuplicate marks a row whose title already exists remotely.
var ErrDuplicate = errors.New("duplicate detected")

// Result is the outcome of one row.
type Result struct {
	Row    int    `json:"row"`
	Title  string `json:"title"`
	Action Action `json:"action"`
	ID     int64  `json:"id,omitempty"`
	Status string `json:"status,omitempty"`
	Link   string `json:"link,omitempty"`
	Error  string `json:"error,omitempty"`
}

// OK reports whether the row reached created or updated.
func (r Result) OK() bool {
	return r.Error == "" && r.Action != ActionNone
}

// API is the remote client surface the publisher writes through.
type API interface {
	Get(ctx context.Context, path string, params url.Values, out any) (remote.Meta, error)
	Post(ctx context.Context, path string, body any, out any) error
	PostBinary(ctx context.Context, path string, data []byte, mimeType, filename string, out any) error
}

// TermResolver maps label lists to term ids.
type TermResolver interface {
	Resolve(ctx context.Context, raw, taxonomy string) []int64
}

// MediaSource turns a featured_image reference into an asset, or nil.
type MediaSource interface {
	Ingest(ctx context.Context, src string) *media.Asset
}

// DuplicateFinder looks up an existing resource by normalized title.
type DuplicateFinder interface {
	FindDuplicate(ctx context.Context, title string) (int64, bool, error)
}

// Enricher fills missing summary fields. Optional.
type Enricher interface {
	Complete(ctx context.Context, doc generator.Document) (generator.Document, error)
}

// Options wires a Publisher.
type Options struct {
	API           API
	Terms         TermResolver
	Media         MediaSource
	Duplicates    DuplicateFinder
	Enricher      Enricher
	Collection    string
	DefaultStatus string
	ContentFormat string
	Logger        *slog.Logger
}

// Publisher runs the per-row reconciliation.
type Publisher struct {
	api        API
	terms      TermResolver
	media      MediaSource
	duplicates DuplicateFinder
	enricher   Enricher
	collection string
	builder    Builder
	logger     *slog.Logger
}

// New validates opts and returns a Publisher.
func New(opts Options) (*Publisher, error) {
	if opts.API == nil {
		return nil, errors.New("publisher requires an api client")
	}
	if opts.Terms == nil || opts.Media == nil || opts.Duplicates == nil {
		return nil, errors.New("publisher requires term, media and duplicate collaborators")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collection := strings.Trim(opts.Collection, "/")
	if collection == "" {
		collection = "posts"
	}
	return &Publisher{
		api:        opts.API,
		terms:      opts.Terms,
		media:      opts.Media,
		duplicates: opts.Duplicates,
		enricher:   opts.Enricher,
		collection: collection,
		builder: Builder{
			DefaultStatus: opts.DefaultStatus,
			ContentFormat: opts.ContentFormat,
			Logger:        logger,
		},
		logger: logger,
	}, nil
}

// Publish reconciles row and always returns a Result; errors are captured
// into it rather than returned.
func (p *Publisher) Publish(ctx context.Context, row source.Row) Result {
	res := Result{Row: row.Number, Title: row.Get(ColTitle)}
	if err := Validate(row); err != nil {
		res.Error = err.Error()
		p.logger.Warn("row rejected", "row", row.Number, "error", err)
		return res
	}

	logger := p.logger.With("row", row.Number, "title", res.Title)
	post, action, err := p.publish(ctx, row, logger)
	if err != nil {
		res.Error = err.Error()
		logger.Error("row failed", "error", err)
		return res
	}

	res.Action = action
	res.ID = post.ID
	res.Status = post.Status
	res.Link = post.Link
	logger.Info("row synced", "action", action, "id", post.ID, "status", post.Status)
	return res
}

func (p *Publisher) publish(ctx context.Context, row source.Row, logger *slog.Logger) (*remote.Post, Action, error) {
	payload, err := p.builder.Build(row)
	if err != nil {
		return nil, ActionNone, err
	}
	p.enrich(ctx, payload, logger)

	if ids := p.terms.Resolve(ctx, row.Get(ColCategories), terms.Categories); len(ids) > 0 {
		payload["categories"] = ids
	}
	if ids := p.terms.Resolve(ctx, row.Get(ColTags), terms.Tags); len(ids) > 0 {
		payload["tags"] = ids
	}

	if src := row.Get(ColFeaturedImage); src != "" {
		if asset := p.media.Ingest(ctx, src); asset != nil {
			mediaID, err := media.Upload(ctx, p.api, asset)
			if err != nil {
				logger.Warn("featured image upload failed", "source", src, "error", err)
			} else {
				payload["featured_media"] = mediaID
			}
		}
	}

	existing, found, err := p.duplicates.FindDuplicate(ctx, payload.Title())
	if err != nil {
		return nil, ActionNone, err
	}
	if found {
		return nil, ActionNone, fmt.Errorf("%w: existing resource %d has the same title", ErrDuplicate, existing)
	}

	var target int64
	if slug := payload.Slug(); slug != "" {
		target, err = p.findBySlug(ctx, slug)
		if err != nil {
			return nil, ActionNone, err
		}
	}

	var post remote.Post
	if target != 0 {
		if err := p.api.Post(ctx, fmt.Sprintf("%s/%d", p.collection, target), payload, &post); err != nil {
			return nil, ActionNone, fmt.Errorf("update %d: %w", target, err)
		}
		return &post, ActionUpdated, nil
	}
	if err := p.api.Post(ctx, p.collection, payload, &post); err != nil {
		return nil, ActionNone, fmt.Errorf("create: %w", err)
	}
	return &post, ActionCreated, nil
}

// findBySlug does a single-page lookup; slugs are unique server-side so
// pagination is unnecessary.
func (p *Publisher) findBySlug(ctx context.Context, slug string) (int64, error) {
	params := url.Values{}
	params.Set("slug", slug)
	params.Set("status", strings.Join(dedupe.Statuses, ","))
	params.Set("context", "edit")
	params.Set("per_page", "10")
	params.Set("_fields", "id,slug,status")

	var posts []remote.Post
	if _, err := p.api.Get(ctx, p.collection, params, &posts); err != nil {
		return 0, fmt.Errorf("slug lookup %q: %w", slug, err)
	}
	for _, post := range posts {
		if post.Slug == slug {
			return post.ID, nil
		}
	}
	return 0, nil
}

func (p *Publisher) enrich(ctx context.Context, payload Payload, logger *slog.Logger) {
	if p.enricher == nil {
		return
	}
	excerpt, _ := payload["excerpt"].(string)
	metaDesc, _ := payload["meta_description"].(string)
	content, _ := payload["content"].(string)
	doc, err := p.enricher.Complete(ctx, generator.Document{
		Title:           payload.Title(),
		Content:         content,
		Excerpt:         excerpt,
		MetaDescription: metaDesc,
	})
	if err != nil {
		logger.Warn("summary generation skipped", "error", err)
		return
	}
	if excerpt == "" && doc.Excerpt != "" {
		payload["excerpt"] = doc.Excerpt
	}
	if metaDesc == "" && doc.MetaDescription != "" {
		payload["meta_description"] = doc.MetaDescription
	}
}
