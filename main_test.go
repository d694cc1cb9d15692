package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"auto_cms_content_sync/batch"
	"auto_cms_content_sync/cmstest"
)

func writeConfig(t *testing.T, siteURL string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := map[string]any{
		"site_url":         siteURL,
		"username":         cmstest.Username,
		"app_password":     cmstest.Password,
		"request_delay_ms": 1,
		"log_dir":          filepath.Join(dir, "logs"),
		"log_level":        "error",
		"history_db":       filepath.Join(dir, "history.db"),
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeCSV(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rows.csv")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--env-file", ""))
	err := cmd.Execute()
	return out.String(), err
}

func TestNormalizeCommand(t *testing.T) {
	out, err := execute(t, "normalize", "<b>Weekend Brunch</b> &amp; More")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if strings.TrimSpace(out) != "weekend brunch & more" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestSyncDryRunReportsInvalidRows(t *testing.T) {
	cfgPath := writeConfig(t, "https://example.invalid")
	csvPath := writeCSV(t, "title,content,status,slug\nGood,body,Published,good\nMissing content,,draft,\n")

	out, err := execute(t, "sync", "--config", cfgPath, "--csv", csvPath, "--dry-run")
	if !errors.Is(err, batch.ErrRowsFailed) {
		t.Fatalf("expected ErrRowsFailed, got %v", err)
	}
	if !strings.Contains(out, "publish") || !strings.Contains(out, "missing required field") {
		t.Fatalf("dry run output missing details:\n%s", out)
	}
	if !strings.Contains(out, "2 rows, 1 invalid") {
		t.Fatalf("dry run totals missing:\n%s", out)
	}
}

func TestSyncAgainstSite(t *testing.T) {
	cms := cmstest.NewServer(t)
	cms.AddPost("Existing", "existing", "publish")
	cfgPath := writeConfig(t, cms.URL)
	csvPath := writeCSV(t, "title,content,slug\nFresh,body,fresh\nExisting,body,\n")

	out, err := execute(t, "sync", "--config", cfgPath, "--csv", csvPath)
	if !errors.Is(err, batch.ErrRowsFailed) {
		t.Fatalf("expected ErrRowsFailed for the duplicate row, got %v", err)
	}
	if !strings.Contains(out, "created") || !strings.Contains(out, "duplicate detected") {
		t.Fatalf("summary table missing rows:\n%s", out)
	}
	if !strings.Contains(out, "Total 2, succeeded 1") {
		t.Fatalf("summary totals missing:\n%s", out)
	}

	out, err = execute(t, "history", "--config", cfgPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "rows.csv") {
		t.Fatalf("history should list the run:\n%s", out)
	}
}

func TestPreflightCommand(t *testing.T) {
	cms := cmstest.NewServer(t)
	cfgPath := writeConfig(t, cms.URL)

	out, err := execute(t, "preflight", "--config", cfgPath)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	if !strings.Contains(out, "as Editor") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestMissingCredentialsIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"site_url":"https://example.test"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CMS_USERNAME", "")
	t.Setenv("CMS_APP_PASSWORD", "")
	if _, err := execute(t, "preflight", "--config", path); err == nil {
		t.Fatal("expected configuration error")
	}
}
