// Package media turns a featured-image reference (local path, direct URL or
// cloud-drive share link) into an uploadable binary.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

const (
	// DefaultTimeout bounds a single remote fetch.
	DefaultTimeout = 30 * time.Second
	// MaxBytes caps how much of a remote body is read.
	MaxBytes = 50 << 20

	defaultFilename = "image"
	fallbackMIME    = "application/octet-stream"
)

// ErrHTMLResponse is returned when a fetch yields an HTML page instead of
// media, the usual signature of a private drive link serving a login page.
var ErrHTMLResponse = errors.New("remote returned an html page instead of media")

// Asset is an in-memory binary ready for a single upload.
type Asset struct {
	Data     []byte
	MimeType string
	Filename string
}

// Ingestor fetches media from disk or over HTTP.
type Ingestor struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithHTTPClient overrides the fetch client. Its timeout bounds fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(i *Ingestor) {
		if client != nil {
			i.httpClient = client
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Ingestor) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// NewIngestor builds an ingestor whose remote fetches time out after
// timeout (DefaultTimeout when zero).
func NewIngestor(timeout time.Duration, opts ...Option) *Ingestor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	i := &Ingestor{
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest resolves src into an asset. Every failure is logged and reported
// as a nil asset so the caller can carry on without featured media.
func (i *Ingestor) Ingest(ctx context.Context, src string) *Asset {
	asset, err := i.Fetch(ctx, src)
	if err != nil {
		i.logger.Warn("featured image skipped", "source", src, "error", err)
		return nil
	}
	i.logger.Info("featured image ready",
		"source", src,
		"filename", asset.Filename,
		"mime", asset.MimeType,
		"size", humanize.Bytes(uint64(len(asset.Data))))
	return asset
}

// Fetch resolves src and returns the error instead of swallowing it.
func (i *Ingestor) Fetch(ctx context.Context, src string) (*Asset, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, errors.New("empty media source")
	}
	if isRemote(src) {
		return i.fetchRemote(ctx, DirectDownloadURL(src))
	}
	return readLocal(src)
}

func isRemote(src string) bool {
	lower := strings.ToLower(src)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func (i *Ingestor) fetchRemote(ctx context.Context, rawURL string) (*Asset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}
	headerType := mediaType(resp.Header.Get("Content-Type"))
	if headerType == "text/html" {
		return nil, ErrHTMLResponse
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	if len(data) > MaxBytes {
		return nil, fmt.Errorf("fetch %s: body exceeds %s", rawURL, humanize.Bytes(MaxBytes))
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("fetch %s: empty body", rawURL)
	}

	filename := filenameFromDisposition(resp.Header.Get("Content-Disposition"))
	if filename == "" {
		filename = filenameFromURL(rawURL)
	}
	if filename == "" {
		filename = defaultFilename
	}

	mimeType := headerType
	if mimeType == "" || mimeType == fallbackMIME {
		mimeType = resolveMIME(filename, data)
	}
	if mimeType == "text/html" {
		return nil, ErrHTMLResponse
	}
	return &Asset{Data: data, MimeType: mimeType, Filename: withExtension(filename, mimeType)}, nil
}

func readLocal(p string) (*Asset, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read local media: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("read local media: %s is empty", p)
	}
	filename := filepath.Base(p)
	return &Asset{Data: data, MimeType: resolveMIME(filename, data), Filename: filename}, nil
}

// resolveMIME uses the extension first, then content sniffing.
func resolveMIME(filename string, data []byte) string {
	if ext := filepath.Ext(filename); ext != "" {
		if byExt := mediaType(mime.TypeByExtension(strings.ToLower(ext))); byExt != "" {
			return byExt
		}
	}
	if len(data) > 0 {
		if sniffed := mediaType(mimetype.Detect(data).String()); sniffed != "" {
			return sniffed
		}
	}
	return fallbackMIME
}

func mediaType(header string) string {
	if header == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(header, ";")[0]))
	}
	return mt
}

func filenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return sanitizeFilename(params["filename"])
}

func filenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return sanitizeFilename(path.Base(u.Path))
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, "\\", "/")))
	if name == "." || name == "/" || name == "" {
		return ""
	}
	return name
}

func withExtension(filename, mimeType string) string {
	if filepath.Ext(filename) != "" {
		return filename
	}
	if m := mimetype.Lookup(mimeType); m != nil && m.Extension() != "" {
		return filename + m.Extension()
	}
	return filename
}
