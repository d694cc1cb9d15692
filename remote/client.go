// Package remote wraps the authenticated REST calls made against the
// content-management API. Mutating calls are paced by a fixed delay so a
// batch never pushes the server harder than one write per delay window.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultDelay is applied before every mutating call unless overridden.
const DefaultDelay = 300 * time.Millisecond

const apiPrefix = "/wp-json/wp/v2"

// Meta carries the pagination headers returned by list endpoints.
type Meta struct {
	Total      int
	TotalPages int
}

// Client issues authenticated calls against the collection API.
type Client struct {
	baseURL    string
	authHeader string
	delay      time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithDelay sets the pause applied before each mutating call.
func WithDelay(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.delay = d
		}
	}
}

// WithLogger attaches a logger for request tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a client for siteURL. The site may be given as the bare site
// root or as the full REST root (anything already containing /wp-json).
func New(siteURL, username, password string, opts ...Option) (*Client, error) {
	siteURL = strings.TrimSpace(siteURL)
	if siteURL == "" {
		return nil, errors.New("site url required")
	}
	if _, err := url.ParseRequestURI(siteURL); err != nil {
		return nil, fmt.Errorf("parse site url: %w", err)
	}
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, errors.New("username and application password required")
	}

	base := strings.TrimRight(siteURL, "/")
	if !strings.Contains(base, "/wp-json") {
		base += apiPrefix
	}

	c := &Client{
		baseURL:    base,
		authHeader: "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password)),
		delay:      DefaultDelay,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     slog.Default(),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the resolved REST root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Delay returns the configured pause between mutating calls.
func (c *Client) Delay() time.Duration {
	return c.delay
}

// Pace blocks for the configured delay. Reads are not paced automatically;
// callers that want a read to count against the budget call Pace first.
func (c *Client) Pace(ctx context.Context) error {
	if c.delay <= 0 {
		return ctx.Err()
	}
	return c.sleep(ctx, c.delay)
}

// Get performs a read against path with the given query parameters and
// decodes the JSON body into out when out is non-nil.
func (c *Client) Get(ctx context.Context, path string, params url.Values, out any) (Meta, error) {
	endpoint := c.endpoint(path)
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Meta{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.do(req, path, out)
	if err != nil {
		return Meta{}, err
	}
	return metaFromHeader(resp.Header), nil
}

// Post sends body as JSON to path after the configured delay.
func (c *Client) Post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}
	if err := c.Pace(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = c.do(req, path, out)
	return err
}

// PostBinary uploads raw bytes to path with the MIME type and suggested
// filename carried in the standard upload headers.
func (c *Client) PostBinary(ctx context.Context, path string, data []byte, mimeType, filename string, out any) error {
	if len(data) == 0 {
		return errors.New("binary upload requires a non-empty body")
	}
	if err := c.Pace(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	_, err = c.do(req, path, out)
	return err
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) do(req *http.Request, path string, out any) (*http.Response, error) {
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("%s %s (latency=%v): %w", req.Method, path, latency, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s response: %w", req.Method, path, err)
	}
	c.logger.Debug("cms request",
		"method", req.Method,
		"path", path,
		"status", resp.StatusCode,
		"latency", latency)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(req.Method, path, resp.StatusCode, body)
	}
	if out != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return nil, fmt.Errorf("decode %s %s response: %w", req.Method, path, err)
		}
	}
	return resp, nil
}

func metaFromHeader(h http.Header) Meta {
	total, _ := strconv.Atoi(h.Get("X-WP-Total"))
	pages, _ := strconv.Atoi(h.Get("X-WP-TotalPages"))
	return Meta{Total: total, TotalPages: pages}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
