// Package batch drives every input row through the publisher in source
// order and aggregates the outcomes into a run summary.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"auto_cms_content_sync/publisher"
	"auto_cms_content_sync/source"
)

// ErrRowsFailed is returned by Summary.Err when at least one row failed.
var ErrRowsFailed = errors.New("one or more rows failed")

// Publisher reconciles a single row.
type Publisher interface {
	Publish(ctx context.Context, row source.Row) publisher.Result
}

// Recorder persists a finished run somewhere other than the JSON artifact.
type Recorder interface {
	RecordRun(ctx context.Context, summary *Summary) error
}

// Options wires a Runner.
type Options struct {
	Publisher Publisher
	// LogDir receives the JSON artifact. Empty disables it.
	LogDir   string
	Source   string
	Recorder Recorder
	Logger   *slog.Logger
}

// Runner processes rows one at a time.
type Runner struct {
	publisher Publisher
	logDir    string
	source    string
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewRunner validates opts and returns a Runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Publisher == nil {
		return nil, errors.New("batch runner requires a publisher")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		publisher: opts.Publisher,
		logDir:    opts.LogDir,
		source:    opts.Source,
		recorder:  opts.Recorder,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Stream publishes rows sequentially and yields one result per row, in
// order. Once ctx is done the remaining rows are yielded as failed without
// being attempted. The channel is closed after the last row; callers must
// drain it.
func (r *Runner) Stream(ctx context.Context, rows []source.Row) <-chan publisher.Result {
	out := make(chan publisher.Result)
	go func() {
		defer close(out)
		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				out <- publisher.Result{
					Row:   row.Number,
					Title: row.Get(publisher.ColTitle),
					Error: "canceled: " + err.Error(),
				}
				continue
			}
			out <- r.publisher.Publish(ctx, row)
		}
	}()
	return out
}

// Run consumes Stream, forwarding each result to progress when non-nil,
// and returns the finished summary. progress is closed before Run returns.
// The JSON artifact and the recorder are best effort: their failures are
// logged and never change the summary counts.
func (r *Runner) Run(ctx context.Context, rows []source.Row, progress chan<- publisher.Result) *Summary {
	if progress != nil {
		defer close(progress)
	}

	summary := &Summary{
		RunID:     uuid.NewString(),
		Source:    r.source,
		StartedAt: r.now().UTC(),
		Total:     len(rows),
		Results:   make([]publisher.Result, 0, len(rows)),
	}
	logger := r.logger.With("run_id", summary.RunID)
	logger.Info("sync started", "rows", len(rows), "source", r.source)

	for res := range r.Stream(ctx, rows) {
		summary.add(res)
		if progress != nil {
			progress <- res
		}
	}

	summary.FinishedAt = r.now().UTC()
	summary.Duration = summary.FinishedAt.Sub(summary.StartedAt)
	summary.DurationMS = summary.Duration.Milliseconds()

	if path, err := r.writeArtifact(summary); err != nil {
		logger.Error("write run log failed", "error", err)
	} else if path != "" {
		summary.LogPath = path
	}
	if r.recorder != nil {
		// Canceled runs are recorded too.
		if err := r.recorder.RecordRun(context.WithoutCancel(ctx), summary); err != nil {
			logger.Error("record run history failed", "error", err)
		}
	}

	logger.Info("sync finished",
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"duration", summary.Duration.Round(time.Millisecond).String(),
		"log", summary.LogPath)
	return summary
}

// ArtifactName is the file name of a run's JSON artifact.
func ArtifactName(s *Summary) string {
	id := s.RunID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("sync-%s-%s.json", s.StartedAt.UTC().Format("20060102T150405Z"), id)
}

func (r *Runner) writeArtifact(s *Summary) (string, error) {
	if r.logDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(r.logDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure log directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode summary: %w", err)
	}
	path := filepath.Join(r.logDir, ArtifactName(s))
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
