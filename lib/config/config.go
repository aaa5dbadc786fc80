// Copyright 2026 The sixfs Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/sixfs/sixfs/lib/secret"
)

// Backend selects the Storage implementation a mount uses.
type Backend string

const (
	// BackendMmap memory-maps each container file. The default: fast
	// reads with no syscall overhead, at the cost of virtual address
	// space proportional to container size.
	BackendMmap Backend = "mmap"
	// BackendFile uses pread/pwrite against plain file descriptors.
	// Lower memory footprint than mmap, one syscall per I/O.
	BackendFile Backend = "file"
	// BackendMemory keeps all six containers in RAM. Never persists;
	// useful for tests and ephemeral mounts.
	BackendMemory Backend = "mem"
)

// KeySize is the required length, in bytes, of a raw encryption key file.
const KeySize = 32

// Config is a single sixfs mount's configuration, matching the
// surface named in spec §6.3.
type Config struct {
	// Dir is the directory containing the six container files.
	// Required.
	Dir string `yaml:"dir"`

	// MaxSize is a human-readable hard ceiling on total container
	// bytes, e.g. "10G". Empty means unbounded (limited only by the
	// backing medium). Parse with [Config.ParsedMaxSize].
	MaxSize string `yaml:"max_size"`

	// KeyFile is the path to a 32-byte raw key file. Empty means the
	// filesystem stores plaintext records.
	KeyFile string `yaml:"key_file"`

	// PunchHoles enables best-effort hole punching when a ChunkManager
	// frees a non-trailing chunk.
	PunchHoles bool `yaml:"punch_holes"`

	// Backend selects the Storage implementation. Defaults to
	// [BackendMmap] if empty.
	Backend Backend `yaml:"backend"`

	// Log configures the observability-only log sink and level.
	Log LogConfig `yaml:"log"`
}

// LogConfig configures the process-wide slog logger.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error". Defaults to "info".
	Level string `yaml:"level"`

	// Format is "text" or "json". Defaults to "text".
	Format string `yaml:"format"`
}

// Default returns a Config with conservative defaults. The config
// file or flags are expected to set Dir; every other field has a
// usable zero-value default.
func Default() *Config {
	return &Config{
		Backend: BackendMmap,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the SIXFS_CONFIG environment variable.
// Returns an error if the variable is unset — there is no implicit
// discovery of a config file.
func Load() (*Config, error) {
	path := os.Getenv("SIXFS_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("SIXFS_CONFIG environment variable not set; " +
			"set it to the path of your sixfs.yaml config file, or pass --dir and friends directly")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific YAML file, merging it
// onto [Default]'s zero-values, then expands ${HOME}-style variables
// in Dir.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.Dir = expandVars(cfg.Dir)
	return cfg, nil
}

// ParsedMaxSize resolves the human-readable MaxSize field to a byte
// count. Returns 0 (unbounded) if MaxSize is empty.
func (c *Config) ParsedMaxSize() (uint64, error) {
	if c.MaxSize == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.MaxSize)
	if err != nil {
		return 0, fmt.Errorf("parsing max_size %q: %w", c.MaxSize, err)
	}
	return n, nil
}

// LoadKey reads the configured KeyFile as a raw, exactly-KeySize-byte
// key into locked memory. Returns (nil, nil) if KeyFile is unset,
// meaning the mount is unencrypted.
func (c *Config) LoadKey() (*secret.Buffer, error) {
	if c.KeyFile == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading key file %s: %w", c.KeyFile, err)
	}
	if len(raw) != KeySize {
		secret.Zero(raw)
		return nil, fmt.Errorf("key file %s is %d bytes, expected exactly %d", c.KeyFile, len(raw), KeySize)
	}

	key, err := secret.NewFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("loading key: %w", err)
	}
	return key, nil
}

// Validate checks the configuration for errors that would otherwise
// surface as confusing failures deeper in the mount path.
func (c *Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("dir is required")
	}
	switch c.Backend {
	case "", BackendMmap, BackendFile, BackendMemory:
	default:
		return fmt.Errorf("backend must be one of mmap, file, mem; got %q", c.Backend)
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
	return nil
}

// SlogLevel converts Log.Level to a [slog.Level], defaulting to Info.
func (c *Config) SlogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EnsureDir creates the mount directory if it does not exist.
func (c *Config) EnsureDir() error {
	if c.Dir == "" {
		return fmt.Errorf("dir is required")
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", c.Dir, err)
	}
	return nil
}

// expandVars expands ${VAR} and ${VAR:-default} patterns using the
// process environment. sixfs mount configs only ever need this for
// the Dir field, so no extra variable table is threaded through.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// AbsDir returns the absolute form of Dir for display/logging purposes.
func (c *Config) AbsDir() string {
	abs, err := filepath.Abs(c.Dir)
	if err != nil {
		return c.Dir
	}
	return abs
}
