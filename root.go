package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"auto_cms_content_sync/config"
	"auto_cms_content_sync/logging"
	"auto_cms_content_sync/pipeline"
)

type commandContext struct {
	configPath string
	envFile    string
	logLevel   string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	logger      *slog.Logger
	closeLogger func() error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		if err := config.LoadEnvFile(c.envFile); err != nil {
			c.configErr = err
			return
		}
		cfg, err := config.Load(strings.TrimSpace(c.configPath))
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevel != "" {
			cfg.LogLevel = c.logLevel
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// ensureLogger builds the run logger once the config is known.
func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	if c.logger != nil {
		return c.logger, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, closer, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Dir:    cfg.LogDir,
	})
	if err != nil {
		return nil, err
	}
	c.logger = logger
	c.closeLogger = closer
	return logger, nil
}

func (c *commandContext) close() {
	if c.closeLogger != nil {
		_ = c.closeLogger()
	}
	c.logger = nil
	c.closeLogger = nil
}

// withPipeline builds the run context for one command and releases it after.
func (c *commandContext) withPipeline(ctx context.Context, fn func(*pipeline.Pipeline) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return err
	}
	defer c.close()
	p, err := pipeline.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()
	return fn(p)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "help", "normalize", "completion", "version":
		return true
	}
	return false
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "cms-sync",
		Short:         "Sync CSV rows into a REST content site",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.configPath, "config", "c", "config/config.json", "Configuration file (.json or .toml)")
	rootCmd.PersistentFlags().StringVar(&ctx.envFile, "env-file", ".env", "Optional file of credential environment variables")
	rootCmd.PersistentFlags().StringVar(&ctx.logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(newSyncCommand(ctx))
	rootCmd.AddCommand(newPreflightCommand(ctx))
	rootCmd.AddCommand(newNormalizeCommand())
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))
	return rootCmd
}
