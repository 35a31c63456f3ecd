// Package config loads the txcached configuration file.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sanonone/txcache/pkg/engine"
	"github.com/sanonone/txcache/pkg/storage"
	"gopkg.in/yaml.v3"
)

// Config is the top-level structure of the configuration file.
type Config struct {
	Store storage.Config `yaml:"store"`

	CacheCapacity int           `yaml:"cache_capacity"`
	StrictReads   bool          `yaml:"strict_reads"`
	LockTimeout   time.Duration `yaml:"lock_timeout"`

	HTTPAddr   string        `yaml:"http_addr"`
	AuthToken  string        `yaml:"auth_token"`
	SessionTTL time.Duration `yaml:"session_ttl"` // 0 keeps idle sessions forever
	MCP        bool          `yaml:"mcp"`

	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text, json
}

// DefaultConfig returns a working configuration: a flat file in the current
// directory with a 1024-entry cache, served on :9191.
func DefaultConfig() Config {
	return Config{
		Store: storage.Config{
			Backend: storage.BackendFile,
			Path:    "txcache.db",
			Redis:   storage.DefaultRedisOptions(),
		},
		CacheCapacity: 1024,
		LockTimeout:   5 * time.Second,
		HTTPAddr:      ":9191",
		SessionTTL:    10 * time.Minute,
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// LoadConfig reads the YAML file at path on top of DefaultConfig. Environment
// variables in the file are expanded and unknown fields are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("could not read configuration file '%s': %w", path, err)
	}

	decoder := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(data))))
	decoder.KnownFields(true)

	if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
		return cfg, fmt.Errorf("YAML syntax error in '%s': %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration in '%s': %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values that cannot be fixed by a default.
func (c Config) Validate() error {
	if !c.Store.Backend.Valid() {
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if (c.Store.Backend == storage.BackendFile || c.Store.Backend == storage.BackendAOF) && c.Store.Path == "" {
		return fmt.Errorf("store backend %q requires a path", c.Store.Backend)
	}
	if c.LockTimeout < 0 {
		return fmt.Errorf("lock_timeout must not be negative")
	}
	if c.SessionTTL < 0 {
		return fmt.Errorf("session_ttl must not be negative")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	return nil
}

// EngineOptions maps the configuration onto engine.Options.
func (c Config) EngineOptions(logger *slog.Logger) engine.Options {
	return engine.Options{
		Store:         c.Store,
		CacheCapacity: c.CacheCapacity,
		StrictReads:   c.StrictReads,
		LockTimeout:   c.LockTimeout,
		Logger:        logger,
	}
}

// ParseLevel converts a log_level value into a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log_level %q", s)
}

// NewLogger builds the logger described by the log_level and log_format
// fields, writing to w.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if c.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
