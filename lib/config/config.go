// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads warrant service configuration.
//
// Configuration comes from a single YAML file named by either the
// WARRANT_CONFIG environment variable or the --config flag. There are
// no fallbacks and no automatic discovery — configuration stays
// deterministic and auditable, with no hidden overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the deployment type.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the warrant service configuration.
type Config struct {
	// Environment selects which override section applies.
	Environment Environment `yaml:"environment"`

	Socket SocketConfig `yaml:"socket"`
	Log    LogConfig    `yaml:"log"`
	Engine EngineConfig `yaml:"engine"`
	Run    RunConfig    `yaml:"run"`

	// Per-environment overrides, applied after the base config.
	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides are the fields an environment section may replace.
type Overrides struct {
	Socket *SocketConfig `yaml:"socket,omitempty"`
	Log    *LogConfig    `yaml:"log,omitempty"`
	Engine *EngineConfig `yaml:"engine,omitempty"`
	Run    *RunConfig    `yaml:"run,omitempty"`
}

// SocketConfig locates the service's Unix socket.
type SocketConfig struct {
	Path string `yaml:"path"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// EngineConfig selects the execution engine.
type EngineConfig struct {
	// Mode is "echo" (built-in echo engine, the default) or "mock"
	// (scripted engine for integration runs). Real reasoning engines
	// attach over the socket surface and are not configured here.
	Mode string `yaml:"mode"`
}

// RunConfig bounds run operations.
type RunConfig struct {
	// DefaultTimeoutMS applies to run and await requests that carry
	// no explicit timeout. Zero means wait without bound.
	DefaultTimeoutMS int64 `yaml:"default_timeout_ms"`

	// MaxForkWidth caps the number of continuations in one fork
	// request. Zero means unlimited.
	MaxForkWidth int `yaml:"max_fork_width"`
}

// Default returns the development-mode defaults.
func Default() *Config {
	return &Config{
		Environment: Development,
		Socket:      SocketConfig{Path: "/run/warrant/warrant.sock"},
		Log:         LogConfig{Level: "info", Format: "text"},
		Engine:      EngineConfig{Mode: "echo"},
		Run:         RunConfig{DefaultTimeoutMS: int64(5 * time.Minute / time.Millisecond)},
	}
}

// Load reads the file named by WARRANT_CONFIG. Fails if the variable
// is unset — there is deliberately no fallback path.
func Load() (*Config, error) {
	path := os.Getenv("WARRANT_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("WARRANT_CONFIG environment variable not set; " +
			"set it to the path of your warrant.yaml config file, or use --config")
	}
	return LoadFile(path)
}

// LoadFile reads and validates the config at path, starting from
// Default and applying the file and then the matching environment
// override section.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}
	if overrides.Socket != nil {
		c.Socket = *overrides.Socket
	}
	if overrides.Log != nil {
		c.Log = *overrides.Log
	}
	if overrides.Engine != nil {
		c.Engine = *overrides.Engine
	}
	if overrides.Run != nil {
		c.Run = *overrides.Run
	}
}

// Validate checks field values without touching the filesystem.
func (c *Config) Validate() error {
	switch c.Environment {
	case Development, Staging, Production:
	default:
		return fmt.Errorf("unknown environment %q", c.Environment)
	}
	if c.Socket.Path == "" {
		return fmt.Errorf("socket.path is required")
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	switch c.Engine.Mode {
	case "echo", "mock":
	default:
		return fmt.Errorf("unknown engine.mode %q", c.Engine.Mode)
	}
	if c.Run.DefaultTimeoutMS < 0 {
		return fmt.Errorf("run.default_timeout_ms must not be negative")
	}
	if c.Run.MaxForkWidth < 0 {
		return fmt.Errorf("run.max_fork_width must not be negative")
	}
	return nil
}

// LogLevel parses Log.Level into a slog level.
func (c *Config) LogLevel() (slog.Level, error) {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log.level %q", c.Log.Level)
	}
}

// DefaultTimeout returns the configured default wait bound.
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.Run.DefaultTimeoutMS) * time.Millisecond
}
