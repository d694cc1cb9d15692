package batch

import (
	"fmt"
	"time"

	"auto_cms_content_sync/publisher"
)

// Summary aggregates a finished run. Results holds exactly one entry per
// input row, in row order.
type Summary struct {
	RunID      string             `json:"run_id"`
	Source     string             `json:"source,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Duration   time.Duration      `json:"-"`
	DurationMS int64              `json:"duration_ms"`
	Total      int                `json:"total"`
	Succeeded  int                `json:"succeeded"`
	Failed     int                `json:"failed"`
	Created    int                `json:"created"`
	Updated    int                `json:"updated"`
	Results    []publisher.Result `json:"results"`
	LogPath    string             `json:"-"`
}

func (s *Summary) add(res publisher.Result) {
	s.Results = append(s.Results, res)
	if !res.OK() {
		s.Failed++
		return
	}
	s.Succeeded++
	switch res.Action {
	case publisher.ActionCreated:
		s.Created++
	case publisher.ActionUpdated:
		s.Updated++
	}
}

// Err returns ErrRowsFailed, wrapped with the counts, when any row failed.
func (s *Summary) Err() error {
	if s.Failed == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d of %d", ErrRowsFailed, s.Failed, s.Total)
}

// FailedResults returns the failed rows in order.
func (s *Summary) FailedResults() []publisher.Result {
	var out []publisher.Result
	for _, res := range s.Results {
		if !res.OK() {
			out = append(out, res)
		}
	}
	return out
}
