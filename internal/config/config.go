package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.tablechat/config.toml.
type Config struct {
	// Enabled gates the whole engine. When false every component
	// constructs but refuses to poll, push, or send.
	Enabled bool `toml:"enabled"`

	DefaultSession string `toml:"default_session"`
	ServerURL      string `toml:"server_url"`

	User    UserConfig    `toml:"user"`
	Poll    PollConfig    `toml:"poll"`
	Push    PushConfig    `toml:"push"`
	Metrics MetricsConfig `toml:"metrics"`
}

// UserConfig identifies the local account.
type UserConfig struct {
	ID    int64  `toml:"id"`
	Email string `toml:"email"`
}

// PollConfig holds the polling cadence in seconds. Zero values fall
// back to defaults at load time.
type PollConfig struct {
	ListActiveSeconds   int `toml:"list_active_seconds"`
	ListIdleSeconds     int `toml:"list_idle_seconds"`
	ConversationSeconds int `toml:"conversation_seconds"`
}

// PushConfig selects the push transport. Transport is one of "nats",
// "ws" or "none".
type PushConfig struct {
	Transport string `toml:"transport"`
	NATSURL   string `toml:"nats_url"`
	WSURL     string `toml:"ws_url"`
}

// MetricsConfig controls the Prometheus listener. Empty Listen
// disables it.
type MetricsConfig struct {
	Listen string `toml:"listen"`
}

// Default returns a config with sane defaults for a local server.
func Default() *Config {
	return &Config{
		Enabled:        true,
		DefaultSession: "main",
		ServerURL:      "http://localhost:8080",
		Poll: PollConfig{
			ListActiveSeconds:   10,
			ListIdleSeconds:     60,
			ConversationSeconds: 5,
		},
		Push:    PushConfig{Transport: "none"},
		Metrics: MetricsConfig{Listen: ""},
	}
}

// ListActiveInterval is the conversation list cadence while a chat is open.
func (p PollConfig) ListActiveInterval() time.Duration {
	return secondsOr(p.ListActiveSeconds, 10)
}

// ListIdleInterval is the conversation list cadence with no chat open.
func (p PollConfig) ListIdleInterval() time.Duration {
	return secondsOr(p.ListIdleSeconds, 60)
}

// ConversationInterval is the per-conversation message poll cadence.
func (p PollConfig) ConversationInterval() time.Duration {
	return secondsOr(p.ConversationSeconds, 5)
}

func secondsOr(s, fallback int) time.Duration {
	if s <= 0 {
		s = fallback
	}
	return time.Duration(s) * time.Second
}

// Load reads config from the given path. Returns zero config and error
// if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.User.Email = strings.ToLower(strings.TrimSpace(cfg.User.Email))
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Push.Transport {
	case "", "none", "nats", "ws":
	default:
		return fmt.Errorf("unknown push transport %q", c.Push.Transport)
	}
	if c.Push.Transport == "nats" && c.Push.NATSURL == "" {
		return fmt.Errorf("push transport nats requires nats_url")
	}
	if c.Push.Transport == "ws" && c.Push.WSURL == "" {
		return fmt.Errorf("push transport ws requires ws_url")
	}
	return nil
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
