package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Settings are the runtime knobs of the vt binary, read from an optional
// TOML file and overlaid with flags and VOICETRACK_* env by the CLI.
type Settings struct {
	Workspace string         `toml:"workspace"`
	Server    ServerSettings `toml:"server"`
	Logging   LogSettings    `toml:"logging"`
	Cache     CacheSettings  `toml:"cache"`
	Webhooks  HookSettings   `toml:"webhooks"`
}

type ServerSettings struct {
	Addr     string `toml:"addr"`
	BasePath string `toml:"base_path"`
}

type LogSettings struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type CacheSettings struct {
	Size int `toml:"size"`
}

type HookSettings struct {
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	TimeoutSeconds      int `toml:"timeout_seconds"`
	BatchSize           int `toml:"batch_size"`
}

func (h HookSettings) PollInterval() time.Duration {
	return time.Duration(h.PollIntervalSeconds) * time.Second
}

func (h HookSettings) Timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

func DefaultSettings() Settings {
	return Settings{
		Workspace: ".",
		Server:    ServerSettings{Addr: "127.0.0.1:8080", BasePath: "/v1"},
		Logging:   LogSettings{Level: "info", Format: "auto"},
		Cache:     CacheSettings{Size: 128},
		Webhooks:  HookSettings{PollIntervalSeconds: 2, TimeoutSeconds: 5, BatchSize: 100},
	}
}

// SettingsPath is where settings are looked up when no path is given.
func SettingsPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "voicetrack.toml")
}

// LoadSettings decodes path over the defaults. A missing file is not an
// error; the returned bool reports whether one was read.
func LoadSettings(path string) (*Settings, bool, error) {
	cfg := DefaultSettings()
	if path == "" {
		path = SettingsPath("")
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.normalize()
			return &cfg, false, cfg.Validate()
		}
		return nil, false, fmt.Errorf("open settings: %w", err)
	}
	defer file.Close()
	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return nil, false, fmt.Errorf("parse settings %s: %w", path, err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, true, err
	}
	return &cfg, true, nil
}

func (s *Settings) normalize() {
	def := DefaultSettings()
	if strings.TrimSpace(s.Workspace) == "" {
		s.Workspace = def.Workspace
	}
	if s.Server.Addr == "" {
		s.Server.Addr = def.Server.Addr
	}
	if s.Server.BasePath == "" {
		s.Server.BasePath = def.Server.BasePath
	}
	if !strings.HasPrefix(s.Server.BasePath, "/") {
		s.Server.BasePath = "/" + s.Server.BasePath
	}
	s.Server.BasePath = strings.TrimRight(s.Server.BasePath, "/")
	s.Logging.Level = strings.ToLower(strings.TrimSpace(s.Logging.Level))
	s.Logging.Format = strings.ToLower(strings.TrimSpace(s.Logging.Format))
	if s.Logging.Format == "" {
		s.Logging.Format = def.Logging.Format
	}
	if s.Webhooks.PollIntervalSeconds <= 0 {
		s.Webhooks.PollIntervalSeconds = def.Webhooks.PollIntervalSeconds
	}
	if s.Webhooks.TimeoutSeconds <= 0 {
		s.Webhooks.TimeoutSeconds = def.Webhooks.TimeoutSeconds
	}
	if s.Webhooks.BatchSize <= 0 {
		s.Webhooks.BatchSize = def.Webhooks.BatchSize
	}
}

// Validate reports the first invalid setting.
func (s *Settings) Validate() error {
	switch s.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", s.Logging.Level)
	}
	switch s.Logging.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", s.Logging.Format)
	}
	if s.Cache.Size < 0 {
		return fmt.Errorf("cache.size must be >= 0")
	}
	if s.Webhooks.BatchSize > 1000 {
		return fmt.Errorf("webhooks.batch_size must be <= 1000")
	}
	return nil
}

// SampleSettings renders the defaults as TOML.
func SampleSettings() (string, error) {
	data, err := toml.Marshal(DefaultSettings())
	if err != nil {
		return "", err
	}
	return string(data), nil
}
