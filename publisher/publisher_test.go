package publisher_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"auto_cms_content_sync/cmstest"
	"auto_cms_content_sync/dedupe"
	"auto_cms_content_sync/generator"
	"auto_cms_content_sync/logging"
	"auto_cms_content_sync/media"
	"auto_cms_content_sync/publisher"
	"auto_cms_content_sync/remote"
	"auto_cms_content_sync/source"
	"auto_cms_content_sync/terms"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func newPublisher(t *testing.T, cms *cmstest.Server, mutate func(*publisher.Options)) *publisher.Publisher {
	t.Helper()
	client, err := remote.New(cms.URL, cmstest.Username, cmstest.Password, remote.WithDelay(0))
	if err != nil {
		t.Fatalf("remote.New: %v", err)
	}
	logger := logging.Discard()
	opts := publisher.Options{
		API:           client,
		Terms:         terms.NewResolver(client, terms.NewCache(), logger),
		Media:         media.NewIngestor(0, media.WithLogger(logger)),
		Duplicates:    dedupe.NewScanner(client, "posts", logger),
		Collection:    "posts",
		DefaultStatus: "draft",
		Logger:        logger,
	}
	if mutate != nil {
		mutate(&opts)
	}
	pub, err := publisher.New(opts)
	if err != nil {
		t.Fatalf("publisher.New: %v", err)
	}
	return pub
}

func row(n int, fields map[string]string) source.Row {
	return source.Row{Number: n, Fields: fields}
}

func TestPublishMissingFieldMakesNoRemoteCalls(t *testing.T) {
	cms := cmstest.NewServer(t)
	pub := newPublisher(t, cms, nil)

	res := pub.Publish(context.Background(), row(1, map[string]string{"title": "Only a title", "categories": "News"}))
	if res.OK() {
		t.Fatalf("expected failure, got %+v", res)
	}
	if !strings.Contains(res.Error, "content") {
		t.Fatalf("error should name the missing column: %q", res.Error)
	}
	if cms.Requests() != 0 {
		t.Fatalf("expected no remote calls, got %d", cms.Requests())
	}
}

func TestPublishCreatesWithTermsAndStatus(t *testing.T) {
	cms := cmstest.NewServer(t)
	newsID := cms.AddTerm("categories", "News")
	pub := newPublisher(t, cms, nil)

	res := pub.Publish(context.Background(), row(1, map[string]string{
		"title":      "Hello World",
		"content":    "<p>Body</p>",
		"status":     "Published",
		"categories": "news, Releases",
		"tags":       "go, sync, Go",
	}))
	if !res.OK() || res.Action != publisher.ActionCreated {
		t.Fatalf("expected created, got %+v", res)
	}

	post, ok := cms.Post(res.ID)
	if !ok {
		t.Fatalf("post %d not stored", res.ID)
	}
	if post.Status != "publish" {
		t.Fatalf("status not normalized: %q", post.Status)
	}
	if len(post.Categories) != 2 || post.Categories[0] != newsID {
		t.Fatalf("unexpected categories %v (news=%d)", post.Categories, newsID)
	}
	if len(post.Tags) != 2 {
		t.Fatalf("unexpected tags %v", post.Tags)
	}
	if got := cms.TermNames("categories"); len(got) != 2 {
		t.Fatalf("expected one category created, have %v", got)
	}
}

func TestPublishUpdatesBySlug(t *testing.T) {
	cms := cmstest.NewServer(t)
	existing := cms.AddPost("Old headline", "launch-notes", "draft")
	pub := newPublisher(t, cms, nil)

	res := pub.Publish(context.Background(), row(1, map[string]string{
		"title":   "New headline",
		"content": "updated",
		"slug":    "launch-notes",
	}))
	if res.Action != publisher.ActionUpdated || res.ID != existing {
		t.Fatalf("expected update of %d, got %+v", existing, res)
	}
	post, _ := cms.Post(existing)
	if post.Title != "New headline" || post.Content != "updated" {
		t.Fatalf("update not applied: %+v", post)
	}
	if cms.PostCount() != 1 {
		t.Fatalf("expected no new resource, have %d", cms.PostCount())
	}
}

func TestPublishRejectsDuplicateTitleRegardlessOfStatus(t *testing.T) {
	for _, status := range []string{"publish", "draft", "private", "future", "pending"} {
		t.Run(status, func(t *testing.T) {
			cms := cmstest.NewServer(t)
			cms.AddPost("Quarterly &amp; Annual   Report", "report", status)
			pub := newPublisher(t, cms, nil)

			res := pub.Publish(context.Background(), row(4, map[string]string{
				"title":   "quarterly & annual report",
				"content": "x",
			}))
			if res.OK() {
				t.Fatalf("expected duplicate failure, got %+v", res)
			}
			if !strings.Contains(res.Error, publisher.ErrDuplicate.Error()) {
				t.Fatalf("unexpected error %q", res.Error)
			}
			if cms.PostCount() != 1 {
				t.Fatalf("duplicate row must not write, have %d resources", cms.PostCount())
			}
		})
	}
}

func TestPublishUploadsLocalFeaturedImage(t *testing.T) {
	cms := cmstest.NewServer(t)
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "cover.png")
	if err := os.WriteFile(imgPath, pngHeader, 0o644); err != nil {
		t.Fatal(err)
	}
	pub := newPublisher(t, cms, nil)

	res := pub.Publish(context.Background(), row(1, map[string]string{
		"title":          "With cover",
		"content":        "x",
		"featured_image": imgPath,
	}))
	if !res.OK() {
		t.Fatalf("expected success, got %+v", res)
	}
	uploads := cms.Uploads()
	if len(uploads) != 1 || uploads[0].MimeType != "image/png" {
		t.Fatalf("unexpected uploads %+v", uploads)
	}
	post, _ := cms.Post(res.ID)
	if post.FeaturedMedia != uploads[0].ID {
		t.Fatalf("featured media %d, want %d", post.FeaturedMedia, uploads[0].ID)
	}
}

func TestPublishSkipsHTMLFeaturedImage(t *testing.T) {
	cms := cmstest.NewServer(t)
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<!doctype html><html><body>Sign in</body></html>"))
	}))
	t.Cleanup(page.Close)
	pub := newPublisher(t, cms, nil)

	res := pub.Publish(context.Background(), row(1, map[string]string{
		"title":          "Private image",
		"content":        "x",
		"featured_image": page.URL + "/share",
	}))
	if !res.OK() {
		t.Fatalf("row should still succeed, got %+v", res)
	}
	if len(cms.Uploads()) != 0 {
		t.Fatalf("html page must not be uploaded")
	}
	post, _ := cms.Post(res.ID)
	if post.FeaturedMedia != 0 {
		t.Fatalf("unexpected featured media %d", post.FeaturedMedia)
	}
}

func TestPublishIgnoresMalformedACF(t *testing.T) {
	cms := cmstest.NewServer(t)
	pub := newPublisher(t, cms, nil)

	res := pub.Publish(context.Background(), row(1, map[string]string{
		"title":   "ACF row",
		"content": "x",
		"acf":     "{not json",
	}))
	if !res.OK() {
		t.Fatalf("malformed acf should not fail the row: %+v", res)
	}
	post, _ := cms.Post(res.ID)
	if _, ok := post.Extra["acf"]; ok {
		t.Fatalf("acf should be omitted, got %v", post.Extra["acf"])
	}
}

func TestPublishPassesMetaKeys(t *testing.T) {
	cms := cmstest.NewServer(t)
	pub := newPublisher(t, cms, nil)

	res := pub.Publish(context.Background(), row(1, map[string]string{
		"title":                 "SEO row",
		"content":               "x",
		"_yoast_wpseo_metadesc": "Short description",
		"acf":                   `{"subtitle":"Second line"}`,
	}))
	if !res.OK() {
		t.Fatalf("unexpected failure %+v", res)
	}
	post, _ := cms.Post(res.ID)
	if post.Extra["_yoast_wpseo_metadesc"] != "Short description" {
		t.Fatalf("meta key not written: %v", post.Extra)
	}
	acf, _ := post.Extra["acf"].(map[string]any)
	if acf["subtitle"] != "Second line" {
		t.Fatalf("acf not written: %v", post.Extra["acf"])
	}
}

func TestPublishCapturesServerRejection(t *testing.T) {
	cms := cmstest.NewServer(t)
	cms.RejectStatus = "bogus"
	pub := newPublisher(t, cms, nil)

	res := pub.Publish(context.Background(), row(2, map[string]string{
		"title":   "Bad status",
		"content": "x",
		"status":  "bogus",
	}))
	if res.OK() {
		t.Fatalf("expected failure, got %+v", res)
	}
	if !strings.Contains(res.Error, "rest_invalid_param") || !strings.Contains(res.Error, "400") {
		t.Fatalf("error should carry the structured server response: %q", res.Error)
	}
}

func TestPublishConvertsMarkdown(t *testing.T) {
	cms := cmstest.NewServer(t)
	pub := newPublisher(t, cms, func(o *publisher.Options) { o.ContentFormat = "markdown" })

	res := pub.Publish(context.Background(), row(1, map[string]string{
		"title":   "Markdown",
		"content": "# Heading\n\nSome *emphasis*.",
	}))
	if !res.OK() {
		t.Fatalf("unexpected failure %+v", res)
	}
	post, _ := cms.Post(res.ID)
	if !strings.Contains(post.Content, "<h1>Heading</h1>") || !strings.Contains(post.Content, "<em>emphasis</em>") {
		t.Fatalf("markdown not converted: %q", post.Content)
	}
}

type stubEnricher struct {
	calls int
	err   error
}

func (s *stubEnricher) Complete(_ context.Context, doc generator.Document) (generator.Document, error) {
	s.calls++
	if s.err != nil {
		return doc, s.err
	}
	if doc.Excerpt == "" {
		doc.Excerpt = "generated excerpt"
	}
	doc.MetaDescription = "generated meta"
	return doc, nil
}

func TestPublishEnrichFillsOnlyEmptyFields(t *testing.T) {
	cms := cmstest.NewServer(t)
	enricher := &stubEnricher{}
	pub := newPublisher(t, cms, func(o *publisher.Options) { o.Enricher = enricher })

	res := pub.Publish(context.Background(), row(1, map[string]string{
		"title":            "Enriched",
		"content":          "x",
		"meta_description": "hand written",
	}))
	if !res.OK() {
		t.Fatalf("unexpected failure %+v", res)
	}
	post, _ := cms.Post(res.ID)
	if post.Excerpt != "generated excerpt" {
		t.Fatalf("excerpt not generated: %q", post.Excerpt)
	}
	if post.Extra["meta_description"] != "hand written" {
		t.Fatalf("existing meta description replaced: %v", post.Extra["meta_description"])
	}
}

func TestPublishEnrichFailureIsNotFatal(t *testing.T) {
	cms := cmstest.NewServer(t)
	enricher := &stubEnricher{err: errors.New("quota exceeded")}
	pub := newPublisher(t, cms, func(o *publisher.Options) { o.Enricher = enricher })

	res := pub.Publish(context.Background(), row(1, map[string]string{"title": "Plain", "content": "x"}))
	if !res.OK() || enricher.calls != 1 {
		t.Fatalf("expected success with one enrich attempt, got %+v calls=%d", res, enricher.calls)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := publisher.New(publisher.Options{}); err == nil {
		t.Fatal("expected error without api")
	}
}
