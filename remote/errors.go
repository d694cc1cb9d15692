package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// APIError is returned for any non-2xx response. Code, Message and Data are
// filled from the server's structured error payload when it sends one.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Code       string
	Message    string
	Data       json.RawMessage
	Body       string
}

type errorPayload struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newAPIError(method, path string, status int, body []byte) *APIError {
	apiErr := &APIError{
		Method:     method,
		Path:       path,
		StatusCode: status,
		Body:       strings.TrimSpace(string(body)),
	}
	var payload errorPayload
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Message
		apiErr.Data = payload.Data
	}
	return apiErr
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s returned %d", e.Method, e.Path, e.StatusCode)
	switch {
	case e.Code != "" || e.Message != "":
		fmt.Fprintf(&b, ": %s: %s", e.Code, e.Message)
		if len(e.Data) > 0 && string(e.Data) != "null" {
			fmt.Fprintf(&b, " (data: %s)", compactJSON(e.Data))
		}
	case e.Body != "":
		fmt.Fprintf(&b, ": %s", truncate(e.Body, 300))
	}
	return b.String()
}

// DataInt extracts an integer field from the error data object, as used by
// the server to point at an existing term on a duplicate create.
func (e *APIError) DataInt(key string) (int64, bool) {
	if len(e.Data) == 0 {
		return 0, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(e.Data, &fields); err != nil {
		return 0, false
	}
	raw, ok := fields[key]
	if !ok {
		return 0, false
	}
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

// IsCode reports whether err is an APIError carrying the given error code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == code
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == status
}

func compactJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return truncate(string(out), 300)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
