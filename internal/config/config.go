package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Mirror backends.
const (
	BackendTelegram = "telegram"
	BackendSlack    = "slack"
	BackendNone     = "none"
)

// Default content limits of the supported mirror backends.
const (
	TelegramMaxLength = 4096
	SlackMaxLength    = 40000
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Storage
	DatabasePath   string        `envconfig:"DATABASE_PATH" default:"roadmap.db"`
	EventRetention time.Duration `envconfig:"EVENT_RETENTION" default:"0"`

	// Mirror
	MirrorBackend     string `envconfig:"MIRROR_BACKEND" default:"telegram"`
	MirrorMaxLength   int    `envconfig:"MIRROR_MAX_LENGTH" default:"0"`
	RenderProfilePath string `envconfig:"RENDER_PROFILE_PATH"`

	// Telegram
	TelegramBotToken string        `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramAPIURL   string        `envconfig:"TELEGRAM_API_URL" default:"https://api.telegram.org"`
	TelegramTimeout  time.Duration `envconfig:"TELEGRAM_TIMEOUT" default:"15s"`

	// Slack
	// Prefixed with AGENT_ so a co-located Slack app does not pick the token up.
	SlackBotToken string `envconfig:"AGENT_SLACK_BOT_TOKEN"`

	// Coordination
	ConflictRetries int `envconfig:"SYNC_CONFLICT_RETRIES" default:"3"`

	// Management API
	MgmtListenAddr     string `envconfig:"MGMT_LISTEN_ADDR" default:":8090"`
	MgmtAuthMode       string `envconfig:"MGMT_AUTH_MODE" default:"api-key"`
	MgmtAPIKey         string `envconfig:"MGMT_API_KEY"`
	MgmtJWTSecret      string `envconfig:"MGMT_JWT_SECRET"`
	MgmtCORSOrigins    string `envconfig:"MGMT_CORS_ORIGINS"`
	MgmtRateLimitRPS   int    `envconfig:"MGMT_RATE_LIMIT_RPS" default:"50"`
	MgmtRateLimitBurst int    `envconfig:"MGMT_RATE_LIMIT_BURST" default:"100"`
}

// TelegramEnabled returns true if the Telegram backend is selected and has a token.
func (c *Config) TelegramEnabled() bool {
	return strings.EqualFold(c.MirrorBackend, BackendTelegram) && c.TelegramBotToken != ""
}

// SlackEnabled returns true if the Slack backend is selected and has a token.
func (c *Config) SlackEnabled() bool {
	return strings.EqualFold(c.MirrorBackend, BackendSlack) && c.SlackBotToken != ""
}

// MirrorEnabled returns true if any mirror backend can be constructed.
func (c *Config) MirrorEnabled() bool {
	return c.TelegramEnabled() || c.SlackEnabled()
}

// EffectiveMaxLength returns the render budget for the selected backend.
// An explicit MIRROR_MAX_LENGTH always wins.
func (c *Config) EffectiveMaxLength() int {
	if c.MirrorMaxLength > 0 {
		return c.MirrorMaxLength
	}
	if strings.EqualFold(c.MirrorBackend, BackendSlack) {
		return SlackMaxLength
	}
	return TelegramMaxLength
}

// RenderFormat returns the markup dialect the selected backend understands.
func (c *Config) RenderFormat() string {
	if strings.EqualFold(c.MirrorBackend, BackendSlack) {
		return "mrkdwn"
	}
	return "html"
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	switch strings.ToLower(c.MirrorBackend) {
	case BackendTelegram, BackendSlack, BackendNone:
	default:
		return fmt.Errorf("unknown MIRROR_BACKEND %q", c.MirrorBackend)
	}
	switch c.MgmtAuthMode {
	case "api-key", "none":
	case "jwt":
		if c.MgmtJWTSecret == "" {
			return fmt.Errorf("MGMT_JWT_SECRET is required when MGMT_AUTH_MODE=jwt")
		}
	default:
		return fmt.Errorf("unknown MGMT_AUTH_MODE %q", c.MgmtAuthMode)
	}
	if c.EventRetention < 0 {
		return fmt.Errorf("EVENT_RETENTION must be >= 0")
	}
	if c.ConflictRetries < 0 {
		return fmt.Errorf("SYNC_CONFLICT_RETRIES must be >= 0")
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return LoadWithPrefix("")
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		if prefix == "" {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
