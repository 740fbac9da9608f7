package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults applied when fields are absent from the file.
const (
	DefaultAPIBaseURL  = "https://api.glint.app"
	DefaultRealtimeURL = "wss://rt.glint.app/socket"
	DefaultRingTimeout = 30 * time.Second
)

// Config represents the global ~/.glint/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	APIBaseURL     string `toml:"api_base_url"`
	RealtimeURL    string `toml:"realtime_url"`

	Auth AuthConfig `toml:"auth"`
	Call CallConfig `toml:"call"`
}

// AuthConfig carries the logged-in identity. Written by the auth bootstrap;
// GLINT_USER_ID and GLINT_TOKEN override it for scripted use.
type AuthConfig struct {
	UserID string `toml:"user_id"`
	Token  string `toml:"token"`
}

// CallConfig holds call-signaling tunables.
type CallConfig struct {
	RingTimeoutSeconds int `toml:"ring_timeout_seconds"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
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

// Default returns a config with all defaults filled in, used when no
// config file exists yet.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// RingTimeout returns the configured ring timeout as a duration.
func (c *Config) RingTimeout() time.Duration {
	if c.Call.RingTimeoutSeconds <= 0 {
		return DefaultRingTimeout
	}
	return time.Duration(c.Call.RingTimeoutSeconds) * time.Second
}

func (c *Config) applyDefaults() {
	if c.APIBaseURL == "" {
		c.APIBaseURL = DefaultAPIBaseURL
	}
	if c.RealtimeURL == "" {
		c.RealtimeURL = DefaultRealtimeURL
	}
	if v := os.Getenv("GLINT_USER_ID"); v != "" {
		c.Auth.UserID = v
	}
	if v := os.Getenv("GLINT_TOKEN"); v != "" {
		c.Auth.Token = v
	}
}
