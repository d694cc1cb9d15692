// Package pipeline holds the per-client run context: the authenticated
// client and collaborators built once from configuration and threaded
// through every row of a run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"auto_cms_content_sync/batch"
	"auto_cms_content_sync/config"
	"auto_cms_content_sync/dedupe"
	"auto_cms_content_sync/generator"
	"auto_cms_content_sync/history"
	"auto_cms_content_sync/media"
	"auto_cms_content_sync/publisher"
	"auto_cms_content_sync/remote"
	"auto_cms_content_sync/source"
	"auto_cms_content_sync/terms"
)

// LockFileName guards a log directory against concurrent syncs.
const LockFileName = "sync.lock"

// ErrLocked is returned when another sync holds the run lock.
var ErrLocked = errors.New("another sync is already running for this configuration")

// Pipeline is the run context for one configured site.
type Pipeline struct {
	cfg      *config.Config
	client   *remote.Client
	ingestor *media.Ingestor
	scanner  *dedupe.Scanner
	enricher publisher.Enricher
	history  *history.Store
	lock     *flock.Flock
	logger   *slog.Logger
}

// Option adjusts construction, mainly for tests.
type Option func(*settings)

type settings struct {
	httpClient *http.Client
	llm        generator.LLMClient
}

// WithHTTPClient replaces the API client's transport.
func WithHTTPClient(client *http.Client) Option {
	return func(s *settings) { s.httpClient = client }
}

// WithLLM overrides the completion backend built from config.
func WithLLM(llm generator.LLMClient) Option {
	return func(s *settings) { s.llm = llm }
}

// New builds the run context from cfg. It performs no network calls.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("pipeline requires config")
	}
	if logger == nil {
		logger = slog.Default()
	}
	var set settings
	for _, opt := range opts {
		opt(&set)
	}

	httpClient := set.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout()}
	}
	client, err := remote.New(cfg.SiteURL, cfg.Username, cfg.AppPassword,
		remote.WithDelay(cfg.RequestDelay()),
		remote.WithHTTPClient(httpClient),
		remote.WithLogger(logger.With("component", "remote")),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrMissingCredentials, err)
	}

	p := &Pipeline{
		cfg:      cfg,
		client:   client,
		ingestor: media.NewIngestor(cfg.MediaTimeout(), media.WithLogger(logger.With("component", "media"))),
		scanner:  dedupe.NewScanner(client, cfg.Collection, logger.With("component", "dedupe")),
		lock:     flock.New(filepath.Join(cfg.LogDir, LockFileName)),
		logger:   logger,
	}

	if cfg.LLM.Enabled() {
		enricher, err := newEnricher(cfg.LLM, set.llm)
		if err != nil {
			return nil, fmt.Errorf("llm: %w", err)
		}
		p.enricher = enricher
	}

	if cfg.HistoryDB != "" {
		store, err := history.Open(ctx, cfg.HistoryDB)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		p.history = store
	}
	return p, nil
}

func newEnricher(llmCfg *config.LLMConfig, override generator.LLMClient) (*generator.Agent, error) {
	llm := override
	if llm == nil {
		var err error
		llm, err = generator.NewLLM(generator.LLMSettings{
			Provider: llmCfg.Provider,
			Model:    llmCfg.Model,
			APIKey:   llmCfg.APIKey,
			BaseURL:  llmCfg.BaseURL,
			Timeout:  time.Duration(llmCfg.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
	}
	return generator.NewAgent(llm, generator.Fill{
		Excerpt:         llmCfg.FillExcerpt,
		MetaDescription: llmCfg.FillMetaDescription,
	})
}

// Config returns the configuration the pipeline was built from.
func (p *Pipeline) Config() *config.Config {
	return p.cfg
}

// History returns the run history store, or nil when disabled.
func (p *Pipeline) History() *history.Store {
	return p.history
}

// Close releases the history database.
func (p *Pipeline) Close() error {
	if p.history != nil {
		return p.history.Close()
	}
	return nil
}

// Preflight verifies credentials and API reachability with a single read.
func (p *Pipeline) Preflight(ctx context.Context) (*remote.User, error) {
	user, err := p.client.Me(ctx)
	if err != nil {
		return nil, err
	}
	p.logger.Info("preflight ok", "site", p.client.BaseURL(), "user", user.Name)
	return user, nil
}

// NewRunner builds a batch runner with a fresh term cache.
func (p *Pipeline) NewRunner(sourceName string) (*batch.Runner, error) {
	pub, err := publisher.New(publisher.Options{
		API:           p.client,
		Terms:         terms.NewResolver(p.client, terms.NewCache(), p.logger.With("component", "terms")),
		Media:         p.ingestor,
		Duplicates:    p.scanner,
		Enricher:      p.enricher,
		Collection:    p.cfg.Collection,
		DefaultStatus: p.cfg.DefaultStatus,
		ContentFormat: p.cfg.ContentFormat,
		Logger:        p.logger,
	})
	if err != nil {
		return nil, err
	}
	opts := batch.Options{
		Publisher: pub,
		LogDir:    p.cfg.LogDir,
		Source:    sourceName,
		Logger:    p.logger,
	}
	if p.history != nil {
		opts.Recorder = p.history
	}
	return batch.NewRunner(opts)
}

// Sync takes the run lock, runs the preflight and processes rows. Lock and
// preflight failures abort before any row is touched. progress, when
// non-nil, is closed on every path.
func (p *Pipeline) Sync(ctx context.Context, rows []source.Row, sourceName string, progress chan<- publisher.Result) (*batch.Summary, error) {
	closeProgress := func() {
		if progress != nil {
			close(progress)
		}
	}

	unlock, err := p.acquire()
	if err != nil {
		closeProgress()
		return nil, err
	}
	defer unlock()

	if _, err := p.Preflight(ctx); err != nil {
		closeProgress()
		return nil, err
	}
	runner, err := p.NewRunner(sourceName)
	if err != nil {
		closeProgress()
		return nil, err
	}
	return runner.Run(ctx, rows, progress), nil
}

func (p *Pipeline) acquire() (func(), error) {
	if err := os.MkdirAll(p.cfg.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure log directory: %w", err)
	}
	ok, err := p.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock %s)", ErrLocked, p.lock.Path())
	}
	return func() {
		if err := p.lock.Unlock(); err != nil {
			p.logger.Warn("release run lock failed", "error", err)
		}
	}, nil
}
