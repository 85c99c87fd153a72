package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the per-profile ~/.marketchat/config.toml.
type Config struct {
	ServerURL string `toml:"server_url"`
	UserID    int64  `toml:"user_id"`

	PageSize       int `toml:"page_size"`
	PollIntervalMs int `toml:"poll_interval_ms"`

	TypingIdleMs   int `toml:"typing_idle_ms"`
	TypingExpiryMs int `toml:"typing_expiry_ms"`

	ReconnectMinMs int `toml:"reconnect_min_ms"`
	ReconnectMaxMs int `toml:"reconnect_max_ms"`
}

// Defaults used when a field is absent from the config file.
const (
	DefaultPageSize       = 30
	DefaultPollIntervalMs = 10000
	DefaultTypingIdleMs   = 3000
	DefaultTypingExpiryMs = 6000
	DefaultReconnectMinMs = 1000
	DefaultReconnectMaxMs = 30000
)

// Load reads config from the given path and applies defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) applyDefaults() {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.PollIntervalMs <= 0 {
		c.PollIntervalMs = DefaultPollIntervalMs
	}
	if c.TypingIdleMs <= 0 {
		c.TypingIdleMs = DefaultTypingIdleMs
	}
	if c.TypingExpiryMs <= 0 {
		c.TypingExpiryMs = DefaultTypingExpiryMs
	}
	if c.ReconnectMinMs <= 0 {
		c.ReconnectMinMs = DefaultReconnectMinMs
	}
	if c.ReconnectMaxMs <= 0 {
		c.ReconnectMaxMs = DefaultReconnectMaxMs
	}
}

func (c *Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("config: server_url is required")
	}
	if c.UserID <= 0 {
		return fmt.Errorf("config: user_id is required")
	}
	if c.ReconnectMinMs > c.ReconnectMaxMs {
		return fmt.Errorf("config: reconnect_min_ms %d exceeds reconnect_max_ms %d", c.ReconnectMinMs, c.ReconnectMaxMs)
	}
	return nil
}
