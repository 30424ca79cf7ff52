// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/cabin-chat/cabin/lib/ref"
)

// EnvConfig names the environment variable holding the config path.
const EnvConfig = "CABIN_CONFIG"

// Store backends.
const (
	StoreMemory = "memory"
	StoreDisk   = "disk"
)

// Config is the complete cabin configuration.
type Config struct {
	// DataDir holds the identity file, the disk post store and the
	// default log file. Default: ~/.cabin
	DataDir string `yaml:"data_dir"`

	// LogFile receives diagnostic logs while the terminal UI owns the
	// screen. Empty means <data_dir>/cabin.log. "-" discards logs.
	LogFile string `yaml:"log_file"`

	// LogLevel is one of debug, info, warn, error. CABIN_LOG_LEVEL and
	// --log-level override it.
	LogLevel string `yaml:"log_level"`

	// Nick is announced to every cabal at startup. Empty leaves peers
	// to display the short peer id.
	Nick string `yaml:"nick"`

	// Color enables ANSI colours in the terminal UI. NO_COLOR in the
	// environment forces it off.
	Color bool `yaml:"color"`

	// TickInterval is the period of the liveness check.
	TickInterval time.Duration `yaml:"tick_interval"`

	// IdleTimeout is how long an established connection may stay
	// silent before it is pinged.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// DeadTimeout is how long an established connection may stay
	// silent before it is failed.
	DeadTimeout time.Duration `yaml:"dead_timeout"`

	// HandshakeTimeout bounds the time from socket open to
	// Established. It also becomes the handshake socket deadline.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// DialTimeout bounds an outbound TCP connect.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// ShutdownTimeout bounds the drain after /quit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// OutboundQueue is the per-connection send queue depth. A peer
	// that falls this far behind is disconnected.
	OutboundQueue int `yaml:"outbound_queue"`

	// HistoryWindow is how far back history requests reach.
	HistoryWindow time.Duration `yaml:"history_window"`

	// Store selects the post store: "memory" or "disk".
	Store string `yaml:"store"`

	// Cabals are added at startup in order; the first becomes active.
	Cabals []ref.CabalKey `yaml:"cabals"`

	// Listen lists addresses to bind at startup.
	Listen []Endpoint `yaml:"listen"`

	// Connect lists peers to dial at startup.
	Connect []Endpoint `yaml:"connect"`
}

// Endpoint pairs a network address with the cabal it belongs to. A zero
// Cabal means the first configured cabal.
type Endpoint struct {
	Cabal   ref.CabalKey `yaml:"cabal"`
	Address string       `yaml:"address"`
}

// Default returns the configuration used when no file is given, and
// the base that a file is merged onto.
func Default() *Config {
	return &Config{
		DataDir:          "~/.cabin",
		LogLevel:         "info",
		Color:            true,
		TickInterval:     5 * time.Second,
		IdleTimeout:      30 * time.Second,
		DeadTimeout:      90 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		DialTimeout:      10 * time.Second,
		ShutdownTimeout:  5 * time.Second,
		OutboundQueue:    256,
		HistoryWindow:    14 * 24 * time.Hour,
		Store:            StoreMemory,
	}
}

// Load reads the file named by CABIN_CONFIG, or returns the expanded
// defaults when the variable is unset.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvConfig)
	if configPath == "" {
		cfg := Default()
		if err := cfg.expandPaths(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return LoadFile(configPath)
}

// LoadFile reads configuration from path, merged over Default.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) expandPaths() error {
	dataDir, err := homedir.Expand(expandVars(c.DataDir, nil))
	if err != nil {
		return fmt.Errorf("expanding data_dir: %w", err)
	}
	c.DataDir = dataDir

	if c.LogFile == "" {
		c.LogFile = filepath.Join(c.DataDir, "cabin.log")
		return nil
	}
	if c.LogFile == "-" {
		return nil
	}
	logFile, err := homedir.Expand(expandVars(c.LogFile, map[string]string{"CABIN_DATA_DIR": c.DataDir}))
	if err != nil {
		return fmt.Errorf("expanding log_file: %w", err)
	}
	c.LogFile = logFile
	return nil
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors, reporting all of them.
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be one of debug, info, warn, error; got %q", c.LogLevel))
	}
	switch c.Store {
	case StoreMemory, StoreDisk:
	default:
		errs = append(errs, fmt.Errorf("store must be %q or %q; got %q", StoreMemory, StoreDisk, c.Store))
	}

	positive := []struct {
		name  string
		value time.Duration
	}{
		{"tick_interval", c.TickInterval},
		{"idle_timeout", c.IdleTimeout},
		{"dead_timeout", c.DeadTimeout},
		{"handshake_timeout", c.HandshakeTimeout},
		{"dial_timeout", c.DialTimeout},
		{"shutdown_timeout", c.ShutdownTimeout},
		{"history_window", c.HistoryWindow},
	}
	for _, field := range positive {
		if field.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", field.name, field.value))
		}
	}
	if c.DeadTimeout > 0 && c.IdleTimeout >= c.DeadTimeout {
		errs = append(errs, fmt.Errorf("idle_timeout (%v) must be shorter than dead_timeout (%v)", c.IdleTimeout, c.DeadTimeout))
	}
	if c.OutboundQueue < 1 {
		errs = append(errs, fmt.Errorf("outbound_queue must be at least 1, got %d", c.OutboundQueue))
	}

	seen := make(map[ref.CabalKey]bool, len(c.Cabals))
	for i, key := range c.Cabals {
		if key.IsZero() {
			errs = append(errs, fmt.Errorf("cabals[%d] is empty", i))
			continue
		}
		if seen[key] {
			errs = append(errs, fmt.Errorf("cabals[%d]: %s listed twice", i, key.Short()))
		}
		seen[key] = true
	}
	errs = append(errs, c.validateEndpoints("listen", c.Listen, seen)...)
	errs = append(errs, c.validateEndpoints("connect", c.Connect, seen)...)

	return errors.Join(errs...)
}

func (c *Config) validateEndpoints(field string, endpoints []Endpoint, cabals map[ref.CabalKey]bool) []error {
	var errs []error
	for i, endpoint := range endpoints {
		if endpoint.Address == "" {
			errs = append(errs, fmt.Errorf("%s[%d].address is required", field, i))
		}
		if len(cabals) == 0 {
			errs = append(errs, fmt.Errorf("%s[%d]: no cabals configured", field, i))
			continue
		}
		if !endpoint.Cabal.IsZero() && !cabals[endpoint.Cabal] {
			errs = append(errs, fmt.Errorf("%s[%d].cabal %s is not in cabals", field, i, endpoint.Cabal.Short()))
		}
	}
	return errs
}

// CabalFor resolves an endpoint's cabal, defaulting to the first
// configured cabal.
func (c *Config) CabalFor(endpoint Endpoint) ref.CabalKey {
	if !endpoint.Cabal.IsZero() || len(c.Cabals) == 0 {
		return endpoint.Cabal
	}
	return c.Cabals[0]
}

// EnsureDataDir creates the data directory with owner-only permissions.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return fmt.Errorf("creating data_dir %s: %w", c.DataDir, err)
	}
	return nil
}
