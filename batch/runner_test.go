package batch_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"auto_cms_content_sync/batch"
	"auto_cms_content_sync/logging"
	"auto_cms_content_sync/publisher"
	"auto_cms_content_sync/source"
)

// oddFails fails every odd-numbered row and creates the rest.
type oddFails struct {
	seen   []int
	cancel func()
	stopAt int
}

func (p *oddFails) Publish(_ context.Context, row source.Row) publisher.Result {
	p.seen = append(p.seen, row.Number)
	if p.cancel != nil && row.Number == p.stopAt {
		p.cancel()
	}
	res := publisher.Result{Row: row.Number, Title: row.Get("title")}
	if row.Number%2 == 1 {
		res.Error = "boom"
		return res
	}
	res.Action = publisher.ActionCreated
	res.ID = int64(row.Number * 10)
	return res
}

type memRecorder struct {
	runs []*batch.Summary
	err  error
}

func (m *memRecorder) RecordRun(_ context.Context, s *batch.Summary) error {
	m.runs = append(m.runs, s)
	return m.err
}

func makeRows(n int) []source.Row {
	rows := make([]source.Row, n)
	for i := range rows {
		rows[i] = source.Row{Number: i + 1, Fields: map[string]string{"title": fmt.Sprintf("Row %d", i+1)}}
	}
	return rows
}

func TestRunYieldsOneResultPerRowInOrder(t *testing.T) {
	dir := t.TempDir()
	pub := &oddFails{}
	rec := &memRecorder{}
	runner, err := batch.NewRunner(batch.Options{Publisher: pub, LogDir: dir, Source: "posts.csv", Recorder: rec, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	progress := make(chan publisher.Result)
	var streamed []int
	done := make(chan struct{})
	go func() {
		defer close(done)
		for res := range progress {
			streamed = append(streamed, res.Row)
		}
	}()
	summary := runner.Run(context.Background(), makeRows(5), progress)
	<-done

	if summary.Total != 5 || len(summary.Results) != 5 {
		t.Fatalf("expected 5 results, got total=%d results=%d", summary.Total, len(summary.Results))
	}
	if summary.Succeeded+summary.Failed != summary.Total {
		t.Fatalf("counts do not add up: %+v", summary)
	}
	if summary.Failed != 3 || summary.Created != 2 {
		t.Fatalf("unexpected counts: failed=%d created=%d", summary.Failed, summary.Created)
	}
	for i, res := range summary.Results {
		if res.Row != i+1 || streamed[i] != i+1 {
			t.Fatalf("result %d out of order: row=%d streamed=%d", i, res.Row, streamed[i])
		}
	}
	if !errors.Is(summary.Err(), batch.ErrRowsFailed) {
		t.Fatalf("expected ErrRowsFailed, got %v", summary.Err())
	}
	if len(rec.runs) != 1 || rec.runs[0].RunID != summary.RunID {
		t.Fatalf("recorder not called with the summary")
	}

	if filepath.Dir(summary.LogPath) != dir || !strings.HasPrefix(filepath.Base(summary.LogPath), "sync-") {
		t.Fatalf("unexpected artifact path %q", summary.LogPath)
	}
	data, err := os.ReadFile(summary.LogPath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	var decoded struct {
		RunID   string             `json:"run_id"`
		Failed  int                `json:"failed"`
		Results []publisher.Result `json:"results"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("artifact is not json: %v", err)
	}
	if decoded.RunID != summary.RunID || decoded.Failed != 3 || len(decoded.Results) != 5 {
		t.Fatalf("artifact mismatch: %+v", decoded)
	}
	if decoded.Results[0].Error != "boom" || decoded.Results[1].ID != 20 {
		t.Fatalf("artifact results mismatch: %+v", decoded.Results)
	}
}

func TestRunAllSucceededHasNoError(t *testing.T) {
	runner, _ := batch.NewRunner(batch.Options{Publisher: &oddFails{}, Logger: logging.Discard()})
	rows := []source.Row{{Number: 2}, {Number: 4}}
	summary := runner.Run(context.Background(), rows, nil)
	if summary.Err() != nil || summary.Succeeded != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.LogPath != "" {
		t.Fatalf("no artifact expected without a log dir, got %q", summary.LogPath)
	}
}

func TestRunCancellationStillYieldsEveryRow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pub := &oddFails{cancel: cancel, stopAt: 2}
	runner, _ := batch.NewRunner(batch.Options{Publisher: pub, Logger: logging.Discard()})

	summary := runner.Run(ctx, makeRows(6), nil)
	if len(summary.Results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(summary.Results))
	}
	if len(pub.seen) != 2 {
		t.Fatalf("rows after cancellation must not be attempted, saw %v", pub.seen)
	}
	for _, res := range summary.Results[2:] {
		if res.OK() || !strings.HasPrefix(res.Error, "canceled") {
			t.Fatalf("row %d should be canceled, got %+v", res.Row, res)
		}
	}
}

func TestRunToleratesArtifactAndRecorderFailures(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec := &memRecorder{err: errors.New("disk full")}
	runner, _ := batch.NewRunner(batch.Options{Publisher: &oddFails{}, LogDir: blocker, Recorder: rec, Logger: logging.Discard()})

	summary := runner.Run(context.Background(), makeRows(3), nil)
	if summary.Total != 3 || summary.LogPath != "" {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(rec.runs) != 1 {
		t.Fatalf("recorder should still be called")
	}
}

func TestNewRunnerRequiresPublisher(t *testing.T) {
	if _, err := batch.NewRunner(batch.Options{}); err == nil {
		t.Fatal("expected error")
	}
}
