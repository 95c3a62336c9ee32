// Package config loads the tessera configuration file.
//
// The file is YAML and strictly decoded: unknown keys are errors. Missing
// keys keep their defaults, and command-line flags override both.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tessera/internal/engine"
	"github.com/roach88/tessera/internal/history"
)

// Config is the full configuration of a tessera process.
type Config struct {
	// Actor identifies the local replica. Empty means generate one.
	Actor string `yaml:"actor"`
	Name  string `yaml:"name"`
	Room  string `yaml:"room"`

	Database string `yaml:"database"`
	Prefs    string `yaml:"prefs"`

	Canvas CanvasConfig `yaml:"canvas"`
	Relay  RelayConfig  `yaml:"relay"`
	API    APIConfig    `yaml:"api"`
}

// CanvasConfig mirrors engine.Config.
type CanvasConfig struct {
	ShareCursor      bool `yaml:"share_cursor"`
	UndoHistoryLimit int  `yaml:"undo_history_limit"`
}

// RelayConfig configures the websocket relay and its clients.
type RelayConfig struct {
	// URL is the relay a session dials. Empty runs the session offline.
	URL    string `yaml:"url"`
	Listen string `yaml:"listen"`

	// Redis enables multi-instance fanout when set.
	Redis         string `yaml:"redis"`
	ChannelPrefix string `yaml:"channel_prefix"`

	PingInterval time.Duration `yaml:"ping_interval"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// APIConfig configures the snapshot and upload HTTP service.
type APIConfig struct {
	URL        string `yaml:"url"`
	Token      string `yaml:"token"`
	UploadsDir string `yaml:"uploads_dir"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	cfg := engine.DefaultConfig()
	return Config{
		Room:     "default",
		Database: "tessera.db",
		Prefs:    "prefs.db",
		Canvas: CanvasConfig{
			ShareCursor:      cfg.ShareCursor,
			UndoHistoryLimit: cfg.UndoHistoryLimit,
		},
		Relay: RelayConfig{
			Listen:        ":8080",
			ChannelPrefix: "tessera",
			PingInterval:  30 * time.Second,
			WriteTimeout:  10 * time.Second,
		},
		API: APIConfig{
			UploadsDir: "uploads",
		},
	}
}

// Engine converts the canvas section to engine.Config.
func (c Config) Engine() engine.Config {
	return engine.Config{
		ShareCursor:      c.Canvas.ShareCursor,
		UndoHistoryLimit: c.Canvas.UndoHistoryLimit,
	}
}

// Load reads path over the defaults. A missing file is not an error when
// optional is true.
func Load(path string, optional bool) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges and URL schemes.
func (c Config) Validate() error {
	if c.Room == "" {
		return fmt.Errorf("room is required")
	}
	if c.Canvas.UndoHistoryLimit < 0 || c.Canvas.UndoHistoryLimit > 10*history.DefaultLimit {
		return fmt.Errorf("canvas.undo_history_limit must be between 0 and %d", 10*history.DefaultLimit)
	}
	if c.Relay.URL != "" {
		if err := checkURL("relay.url", c.Relay.URL, "ws", "wss"); err != nil {
			return err
		}
	}
	if c.API.URL != "" {
		if err := checkURL("api.url", c.API.URL, "http", "https"); err != nil {
			return err
		}
	}
	if c.Relay.PingInterval < 0 || c.Relay.WriteTimeout < 0 {
		return fmt.Errorf("relay timeouts must not be negative")
	}
	return nil
}

func checkURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be a %v URL, got %q", field, schemes, raw)
}
