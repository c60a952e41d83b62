package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.safespace/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
}

// SessionConfig represents a per-session session.toml. It carries the
// server endpoints, the local user identity, and sync tuning knobs.
type SessionConfig struct {
	ServerURL   string `toml:"server_url"`
	RealtimeURL string `toml:"realtime_url"`
	UserID      string `toml:"user_id"`
	Role        string `toml:"role"` // "patient" or "counselor"

	RetryCeiling       int `toml:"retry_ceiling"`
	SendTimeoutSeconds int `toml:"send_timeout_seconds"`
	ProbeIntervalSecs  int `toml:"probe_interval_seconds"`
	HeartbeatSeconds   int `toml:"heartbeat_seconds"`
	PresenceTTLSeconds int `toml:"presence_ttl_seconds"`
}

// Load reads the global config from the given path. Returns zero config
// and error if the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the global config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	return save(path, cfg)
}

// LoadSession reads a session config and fills in defaults for any
// tuning knob left unset.
func LoadSession(path string) (*SessionConfig, error) {
	var cfg SessionConfig
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// SaveSession writes a session config to the given path.
func SaveSession(path string, cfg *SessionConfig) error {
	return save(path, cfg)
}

func (c *SessionConfig) applyDefaults() {
	if c.RetryCeiling <= 0 {
		c.RetryCeiling = 3
	}
	if c.SendTimeoutSeconds <= 0 {
		c.SendTimeoutSeconds = 15
	}
	if c.ProbeIntervalSecs <= 0 {
		c.ProbeIntervalSecs = 10
	}
	if c.HeartbeatSeconds <= 0 {
		c.HeartbeatSeconds = 30
	}
	if c.PresenceTTLSeconds <= 0 {
		c.PresenceTTLSeconds = 15
	}
}

// SendTimeout returns the network send timeout as a duration.
func (c *SessionConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// ProbeInterval returns the connectivity probe interval as a duration.
func (c *SessionConfig) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSecs) * time.Second
}

// HeartbeatInterval returns the presence heartbeat interval as a duration.
func (c *SessionConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// PresenceTTL returns the presence cache TTL as a duration.
func (c *SessionConfig) PresenceTTL() time.Duration {
	return time.Duration(c.PresenceTTLSeconds) * time.Second
}

func save(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(v)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
