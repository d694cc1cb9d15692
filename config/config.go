// Package config loads the per-client sync configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Environment variables that override credentials from the config file.
const (
	EnvSiteURL     = "CMS_SITE_URL"
	EnvUsername    = "CMS_USERNAME"
	EnvAppPassword = "CMS_APP_PASSWORD"
	EnvLLMAPIKey   = "CMS_LLM_API_KEY"
)

// ErrMissingCredentials is returned when the target site or its
// credentials are not configured.
var ErrMissingCredentials = errors.New("config must include site_url, username and app_password")

// Config holds one client's sync settings.
type Config struct {
	SiteURL               string     `json:"site_url" toml:"site_url"`
	Username              string     `json:"username" toml:"username"`
	AppPassword           string     `json:"app_password" toml:"app_password"`
	Collection            string     `json:"collection,omitempty" toml:"collection"`
	DefaultStatus         string     `json:"default_status,omitempty" toml:"default_status"`
	ContentFormat         string     `json:"content_format,omitempty" toml:"content_format"`
	RequestDelayMS        int        `json:"request_delay_ms,omitempty" toml:"request_delay_ms"`
	RequestTimeoutSeconds int        `json:"request_timeout_seconds,omitempty" toml:"request_timeout_seconds"`
	MediaTimeoutSeconds   int        `json:"media_timeout_seconds,omitempty" toml:"media_timeout_seconds"`
	LogDir                string     `json:"log_dir,omitempty" toml:"log_dir"`
	LogLevel              string     `json:"log_level,omitempty" toml:"log_level"`
	LogFormat             string     `json:"log_format,omitempty" toml:"log_format"`
	HistoryDB             string     `json:"history_db,omitempty" toml:"history_db"`
	ServerAddr            string     `json:"server_addr,omitempty" toml:"server_addr"`
	LLM                   *LLMConfig `json:"llm,omitempty" toml:"llm"`
}

// LLMConfig enables optional generation of missing summary fields.
type LLMConfig struct {
	Provider            string `json:"provider,omitempty" toml:"provider"`
	Model               string `json:"model,omitempty" toml:"model"`
	APIKey              string `json:"api_key,omitempty" toml:"api_key"`
	BaseURL             string `json:"base_url,omitempty" toml:"base_url"`
	TimeoutSeconds      int    `json:"timeout_seconds,omitempty" toml:"timeout_seconds"`
	FillExcerpt         bool   `json:"fill_excerpt,omitempty" toml:"fill_excerpt"`
	FillMetaDescription bool   `json:"fill_meta_description,omitempty" toml:"fill_meta_description"`
}

// Enabled reports whether the LLM section asks for any generation.
func (l *LLMConfig) Enabled() bool {
	return l != nil && l.Provider != "" && (l.FillExcerpt || l.FillMetaDescription)
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load reads the config file at path (JSON, or TOML for .toml files),
// applies environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvSiteURL)); v != "" {
		c.SiteURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvUsername)); v != "" {
		c.Username = v
	}
	if v := os.Getenv(EnvAppPassword); v != "" {
		c.AppPassword = v
	}
	if v := os.Getenv(EnvLLMAPIKey); v != "" && c.LLM != nil {
		c.LLM.APIKey = v
	}
}

// Validate reports configuration errors that must stop a run before any
// row is processed.
func (c *Config) Validate() error {
	if c.SiteURL == "" || c.Username == "" || c.AppPassword == "" {
		return ErrMissingCredentials
	}
	switch c.ContentFormat {
	case ContentHTML, ContentMarkdown:
	default:
		return fmt.Errorf("content_format: unsupported value %q", c.ContentFormat)
	}
	if c.RequestDelayMS < 0 {
		return errors.New("request_delay_ms must be non-negative")
	}
	if c.LLM != nil && c.LLM.Enabled() && c.LLM.Model == "" && c.LLM.Provider != "mock" {
		return errors.New("llm.model is required when llm generation is enabled")
	}
	return nil
}

// RequestDelay is the pause before each mutating API call.
func (c *Config) RequestDelay() time.Duration {
	return time.Duration(c.RequestDelayMS) * time.Millisecond
}

// RequestTimeout bounds a single API call.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// MediaTimeout bounds a single featured-image fetch.
func (c *Config) MediaTimeout() time.Duration {
	return time.Duration(c.MediaTimeoutSeconds) * time.Second
}
