package server_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"auto_cms_content_sync/batch"
	"auto_cms_content_sync/cmstest"
	"auto_cms_content_sync/config"
	"auto_cms_content_sync/logging"
	"auto_cms_content_sync/pipeline"
	"auto_cms_content_sync/publisher"
	"auto_cms_content_sync/server"
	"auto_cms_content_sync/source"
)

type line struct {
	Type    string            `json:"type"`
	Result  *publisher.Result `json:"result"`
	Summary *batch.Summary    `json:"summary"`
	Error   string            `json:"error"`
}

func readLines(t *testing.T, resp *http.Response) []line {
	t.Helper()
	var out []line
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var l line
		if err := json.Unmarshal(scanner.Bytes(), &l); err != nil {
			t.Fatalf("bad ndjson line %q: %v", scanner.Text(), err)
		}
		out = append(out, l)
	}
	return out
}

func newTestServer(t *testing.T, syncer server.Syncer) *httptest.Server {
	t.Helper()
	srv, err := server.New(syncer, logging.Discard())
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func TestRunStreamsResultsThenSummary(t *testing.T) {
	cms := cmstest.NewServer(t)
	dir := t.TempDir()
	cfg := &config.Config{
		SiteURL:       cms.URL,
		Username:      cmstest.Username,
		AppPassword:   cmstest.Password,
		Collection:    "posts",
		DefaultStatus: "draft",
		ContentFormat: config.ContentHTML,
		LogDir:        filepath.Join(dir, "logs"),
	}
	p, err := pipeline.New(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	ts := newTestServer(t, p)

	csv := "title,content,slug\nFirst,one,first\nSecond,,second\nThird,three,third\n"
	resp, err := http.Post(ts.URL+"/api/runs?source=batch.csv", "text/csv", strings.NewReader(csv))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content type %q", ct)
	}

	lines := readLines(t, resp)
	if len(lines) != 4 {
		t.Fatalf("expected 3 results and a summary, got %d lines", len(lines))
	}
	for i := 0; i < 3; i++ {
		if lines[i].Type != "result" || lines[i].Result.Row != i+1 {
			t.Fatalf("line %d: %+v", i, lines[i])
		}
	}
	if lines[1].Result.OK() {
		t.Fatalf("row 2 lacks content and must fail: %+v", lines[1].Result)
	}
	summary := lines[3].Summary
	if lines[3].Type != "summary" || summary.Total != 3 || summary.Failed != 1 || summary.Source != "batch.csv" {
		t.Fatalf("unexpected summary %+v", lines[3])
	}

	got, err := http.Get(ts.URL + "/api/runs/" + summary.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	defer got.Body.Close()
	var stored batch.Summary
	if err := json.NewDecoder(got.Body).Decode(&stored); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stored.RunID != summary.RunID || len(stored.Results) != 3 {
		t.Fatalf("stored summary mismatch %+v", stored)
	}
}

type failingSyncer struct{ err error }

func (f failingSyncer) Sync(_ context.Context, _ []source.Row, _ string, progress chan<- publisher.Result) (*batch.Summary, error) {
	close(progress)
	return nil, f.err
}

func TestRunFatalErrorBeforeRows(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("preflight: unauthorized"), http.StatusBadGateway},
		{fmt.Errorf("%w (lock x)", pipeline.ErrLocked), http.StatusConflict},
	}
	for _, tc := range cases {
		ts := newTestServer(t, failingSyncer{err: tc.err})
		resp, err := http.Post(ts.URL+"/api/runs", "text/csv", strings.NewReader("title,content\na,b\n"))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Fatalf("%v: status %d, want %d", tc.err, resp.StatusCode, tc.want)
		}
	}
}

func TestRunRejectsEmptyCSV(t *testing.T) {
	ts := newTestServer(t, failingSyncer{})
	resp, err := http.Post(ts.URL+"/api/runs", "text/csv", strings.NewReader(""))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestUnknownRunAndHealth(t *testing.T) {
	ts := newTestServer(t, failingSyncer{})
	resp, err := http.Get(ts.URL + "/api/runs/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", resp.StatusCode)
	}
}
