package config

import "strings"

// Content formats accepted for the content column.
const (
	ContentHTML     = "html"
	ContentMarkdown = "markdown"
)

const (
	defaultCollection     = "posts"
	defaultStatus         = "draft"
	defaultDelayMS        = 300
	defaultRequestTimeout = 60
	defaultMediaTimeout   = 30
	defaultLogDir         = "logs"
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	defaultServerAddr     = ":8080"
)

// normalize trims values and fills defaults for unset fields.
func (c *Config) normalize() {
	c.SiteURL = strings.TrimRight(strings.TrimSpace(c.SiteURL), "/")
	c.Username = strings.TrimSpace(c.Username)
	c.Collection = strings.Trim(strings.TrimSpace(c.Collection), "/")
	if c.Collection == "" {
		c.Collection = defaultCollection
	}
	c.DefaultStatus = strings.ToLower(strings.TrimSpace(c.DefaultStatus))
	if c.DefaultStatus == "" {
		c.DefaultStatus = defaultStatus
	}
	c.ContentFormat = strings.ToLower(strings.TrimSpace(c.ContentFormat))
	switch c.ContentFormat {
	case "":
		c.ContentFormat = ContentHTML
	case "md":
		c.ContentFormat = ContentMarkdown
	}
	if c.RequestDelayMS == 0 {
		c.RequestDelayMS = defaultDelayMS
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = defaultRequestTimeout
	}
	if c.MediaTimeoutSeconds <= 0 {
		c.MediaTimeoutSeconds = defaultMediaTimeout
	}
	if strings.TrimSpace(c.LogDir) == "" {
		c.LogDir = defaultLogDir
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = defaultLogFormat
	}
	if c.ServerAddr == "" {
		c.ServerAddr = defaultServerAddr
	}
}
