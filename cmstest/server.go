// Package cmstest provides an in-memory stand-in for the content API so
// sync components can be exercised end to end in tests.
package cmstest

import (
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

const (
	Username = "editor"
	Password = "abcd efgh ijkl"
	apiRoot  = "/wp-json/wp/v2/"
)

// Post is a stored primary resource.
type Post struct {
	ID            int64
	Title         string
	Content       string
	Status        string
	Slug          string
	Excerpt       string
	FeaturedMedia int64
	Categories    []int64
	Tags          []int64
	Extra         map[string]any
}

// Upload is a stored media item.
type Upload struct {
	ID          int64
	MimeType    string
	Disposition string
	Size        int
}

// Server is a fake CMS. All exported fields are guarded by mu; use the
// accessor methods from tests.
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	nextID  int64
	posts   map[int64]*Post
	terms   map[string][]termRecord
	uploads []Upload
	writes  int
	reads   int

	// RejectStatus makes writes carrying this status fail validation.
	RejectStatus string
}

type termRecord struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// NewServer starts a fake CMS closed on test cleanup.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		nextID: 1000,
		posts:  make(map[int64]*Post),
		terms:  make(map[string][]termRecord),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// AddPost seeds an existing resource and returns its id.
func (s *Server) AddPost(title, slug, status string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.posts[s.nextID] = &Post{ID: s.nextID, Title: title, Slug: slug, Status: status}
	return s.nextID
}

// AddTerm seeds a taxonomy term.
func (s *Server) AddTerm(taxonomy, name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.terms[taxonomy] = append(s.terms[taxonomy], termRecord{ID: s.nextID, Name: html.EscapeString(name), Slug: slugify(name)})
	return s.nextID
}

// Post returns a copy of the stored resource.
func (s *Server) Post(id int64) (Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return Post{}, false
	}
	return *p, true
}

// PostCount returns the number of stored resources.
func (s *Server) PostCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posts)
}

// Writes returns the number of POST requests served.
func (s *Server) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Requests returns the total number of API requests served.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes + s.reads
}

// Uploads returns the stored media items.
func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Upload(nil), s.uploads...)
}

// TermNames lists the names stored for taxonomy.
func (s *Server) TermNames(taxonomy string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, t := range s.terms[taxonomy] {
		names = append(names, html.UnescapeString(t.Name))
	}
	return names
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if user, pass, ok := r.BasicAuth(); !ok || user != Username || pass != Password {
		writeError(w, http.StatusUnauthorized, "rest_not_logged_in", "You are not currently logged in.", nil)
		return
	}
	if !strings.HasPrefix(r.URL.Path, apiRoot) {
		writeError(w, http.StatusNotFound, "rest_no_route", "No route was found.", nil)
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, apiRoot), "/"), "/")

	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Method == http.MethodPost {
		s.writes++
	} else {
		s.reads++
	}

	switch {
	case parts[0] == "users" && len(parts) == 2 && parts[1] == "me":
		writeJSON(w, http.StatusOK, map[string]any{"id": 1, "name": "Editor", "slug": "editor"})
	case (parts[0] == "posts" || parts[0] == "pages") && len(parts) == 1 && r.Method == http.MethodGet:
		s.listPosts(w, r)
	case (parts[0] == "posts" || parts[0] == "pages") && len(parts) == 1 && r.Method == http.MethodPost:
		s.savePost(w, r, 0)
	case (parts[0] == "posts" || parts[0] == "pages") && len(parts) == 2 && r.Method == http.MethodPost:
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			writeError(w, http.StatusNotFound, "rest_post_invalid_id", "Invalid post ID.", nil)
			return
		}
		s.savePost(w, r, id)
	case (parts[0] == "categories" || parts[0] == "tags") && r.Method == http.MethodGet:
		s.searchTerms(w, r, parts[0])
	case (parts[0] == "categories" || parts[0] == "tags") && r.Method == http.MethodPost:
		s.createTerm(w, r, parts[0])
	case parts[0] == "media" && r.Method == http.MethodPost:
		s.upload(w, r)
	default:
		writeError(w, http.StatusNotFound, "rest_no_route", "No route was found.", nil)
	}
}

func (s *Server) listPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	allowed := map[string]bool{"publish": true}
	if status := q.Get("status"); status != "" {
		allowed = map[string]bool{}
		for _, st := range strings.Split(status, ",") {
			allowed[st] = true
		}
	}

	var matched []*Post
	for _, p := range s.posts {
		if !allowed[p.Status] {
			continue
		}
		if slug := q.Get("slug"); slug != "" && p.Slug != slug {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if perPage <= 0 {
		perPage = 10
	}
	page, _ := strconv.Atoi(q.Get("page"))
	if page <= 0 {
		page = 1
	}
	totalPages := (len(matched) + perPage - 1) / perPage
	if page > 1 && page > totalPages {
		writeError(w, http.StatusBadRequest, "rest_post_invalid_page_number",
			"The page number requested is larger than the number of pages available.", map[string]any{"status": 400})
		return
	}
	start := (page - 1) * perPage
	end := start + perPage
	if start > len(matched) {
		start = len(matched)
	}
	if end > len(matched) {
		end = len(matched)
	}

	out := make([]map[string]any, 0, end-start)
	for _, p := range matched[start:end] {
		out = append(out, postJSON(p, q.Get("context") == "edit"))
	}
	w.Header().Set("X-WP-Total", strconv.Itoa(len(matched)))
	w.Header().Set("X-WP-TotalPages", strconv.Itoa(totalPages))
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) savePost(w http.ResponseWriter, r *http.Request, id int64) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "rest_invalid_json", err.Error(), nil)
		return
	}
	if status, _ := body["status"].(string); s.RejectStatus != "" && status == s.RejectStatus {
		writeError(w, http.StatusBadRequest, "rest_invalid_param", "Invalid parameter(s): status",
			map[string]any{"status": 400, "params": map[string]string{"status": "status is not one of publish, future, draft, pending, private."}})
		return
	}

	var p *Post
	status := http.StatusOK
	if id == 0 {
		s.nextID++
		p = &Post{ID: s.nextID, Status: "draft"}
		s.posts[p.ID] = p
		status = http.StatusCreated
	} else {
		existing, ok := s.posts[id]
		if !ok {
			writeError(w, http.StatusNotFound, "rest_post_invalid_id", "Invalid post ID.", map[string]any{"status": 404})
			return
		}
		p = existing
	}

	for key, value := range body {
		switch key {
		case "title":
			p.Title, _ = value.(string)
		case "content":
			p.Content, _ = value.(string)
		case "status":
			p.Status, _ = value.(string)
		case "slug":
			p.Slug, _ = value.(string)
		case "excerpt":
			p.Excerpt, _ = value.(string)
		case "featured_media":
			if f, ok := value.(float64); ok {
				p.FeaturedMedia = int64(f)
			}
		case "categories":
			p.Categories = int64s(value)
		case "tags":
			p.Tags = int64s(value)
		default:
			if p.Extra == nil {
				p.Extra = make(map[string]any)
			}
			p.Extra[key] = value
		}
	}
	if p.Slug == "" {
		p.Slug = slugify(p.Title)
	}
	writeJSON(w, status, postJSON(p, true))
}

func (s *Server) searchTerms(w http.ResponseWriter, r *http.Request, taxonomy string) {
	search := strings.ToLower(r.URL.Query().Get("search"))
	out := []termRecord{}
	for _, t := range s.terms[taxonomy] {
		if strings.Contains(strings.ToLower(html.UnescapeString(t.Name)), search) {
			out = append(out, t)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createTerm(w http.ResponseWriter, r *http.Request, taxonomy string) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Name) == "" {
		writeError(w, http.StatusBadRequest, "rest_missing_callback_param", "Missing parameter(s): name", nil)
		return
	}
	for _, t := range s.terms[taxonomy] {
		if strings.EqualFold(html.UnescapeString(t.Name), body.Name) {
			writeError(w, http.StatusBadRequest, "term_exists", "A term with the name provided already exists.",
				map[string]any{"status": 400, "term_id": t.ID})
			return
		}
	}
	s.nextID++
	rec := termRecord{ID: s.nextID, Name: html.EscapeString(body.Name), Slug: slugify(body.Name)}
	s.terms[taxonomy] = append(s.terms[taxonomy], rec)
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "rest_upload_no_data", "No data supplied.", nil)
		return
	}
	s.nextID++
	up := Upload{
		ID:          s.nextID,
		MimeType:    r.Header.Get("Content-Type"),
		Disposition: r.Header.Get("Content-Disposition"),
		Size:        len(data),
	}
	s.uploads = append(s.uploads, up)
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         up.ID,
		"mime_type":  up.MimeType,
		"source_url": fmt.Sprintf("%s/uploads/%d", s.URL, up.ID),
	})
}

func postJSON(p *Post, edit bool) map[string]any {
	title := map[string]any{"rendered": html.EscapeString(p.Title)}
	if edit {
		title["raw"] = p.Title
	}
	return map[string]any{
		"id":             p.ID,
		"title":          title,
		"status":         p.Status,
		"slug":           p.Slug,
		"link":           "https://example.test/?p=" + strconv.FormatInt(p.ID, 10),
		"featured_media": p.FeaturedMedia,
		"categories":     p.Categories,
		"tags":           p.Tags,
	}
}

func int64s(v any) []int64 {
	items, _ := v.([]any)
	out := make([]int64, 0, len(items))
	for _, item := range items {
		if f, ok := item.(float64); ok {
			out = append(out, int64(f))
		}
	}
	return out
}

func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string, data any) {
	writeJSON(w, status, map[string]any{"code": code, "message": message, "data": data})
}
