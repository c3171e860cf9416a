// Package config loads timelock configuration from <home>/config.yaml and
// the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/forest6511/timelock/pkg/crypto"
	"github.com/forest6511/timelock/pkg/kvstore"
)

// FileName is the name of the config file inside the home directory.
const FileName = "config.yaml"

// DefaultDirName is the home directory name under the user's home.
const DefaultDirName = ".timelock"

// Environment variables
const (
	EnvHome     = "TIMELOCK_HOME"
	EnvBackend  = "TIMELOCK_BACKEND"
	EnvLogLevel = "TIMELOCK_LOG_LEVEL"
)

// Errors
var (
	ErrSymlink        = errors.New("config: config file is a symlink")
	ErrNotOwnedByUser = errors.New("config: config file not owned by current user")
	ErrVersion        = errors.New("config: unsupported config version")
	ErrBackend        = errors.New("config: unknown backend")
)

// Argon2 tunes credential hashing.
type Argon2 struct {
	MemoryKiB   uint32 `yaml:"memory_kib"`
	Iterations  uint32 `yaml:"iterations"`
	Parallelism uint8  `yaml:"parallelism"`
}

// Params converts to crypto.Params.
func (a Argon2) Params() crypto.Params {
	return crypto.Params{Memory: a.MemoryKiB, Time: a.Iterations, Threads: a.Parallelism}
}

// Config is the resolved configuration.
type Config struct {
	Version                int    `yaml:"version"`
	Backend                string `yaml:"backend"`
	LogLevel               string `yaml:"log_level"`
	ClearLocksOnPINRemoval bool   `yaml:"clear_locks_on_pin_removal"`
	Argon2                 Argon2 `yaml:"argon2"`
	Audit                  bool   `yaml:"audit"`

	// Home is the data directory the config was loaded from.
	Home string `yaml:"-"`
	// Warnings are non-fatal problems found while loading.
	Warnings []string `yaml:"-"`
}

// Default returns the built-in configuration rooted at home.
func Default(home string) *Config {
	p := crypto.DefaultParams()
	return &Config{
		Version:                1,
		Backend:                kvstore.BackendFile,
		LogLevel:               "warn",
		ClearLocksOnPINRemoval: true,
		Argon2:                 Argon2{MemoryKiB: p.Memory, Iterations: p.Time, Parallelism: p.Threads},
		Audit:                  true,
		Home:                   home,
	}
}

// DefaultHome returns $TIMELOCK_HOME or ~/.timelock.
func DefaultHome() (string, error) {
	if v, ok := os.LookupEnv(EnvHome); ok && v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: failed to get user home directory: %w", err)
	}
	return filepath.Join(home, DefaultDirName), nil
}

// Load reads <home>/config.yaml over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(home string) (*Config, error) {
	cfg := Default(home)

	if err := cfg.readFile(filepath.Join(home, FileName)); err != nil {
		return nil, err
	}

	if v, ok := os.LookupEnv(EnvBackend); ok && v != "" {
		cfg.Backend = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		cfg.LogLevel = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	f, err := openConfigFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if err := checkFileOwnership(info); err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&0022 != 0 {
		c.Warnings = append(c.Warnings,
			fmt.Sprintf("%s is writable by other users (%o)", path, perm))
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(content, c); err != nil {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return nil
}

// Validate checks every field.
func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("%w: %d", ErrVersion, c.Version)
	}
	switch c.Backend {
	case kvstore.BackendFile, kvstore.BackendSQLite, kvstore.BackendMemory:
	default:
		return fmt.Errorf("%w: %q", ErrBackend, c.Backend)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if err := c.Argon2.Params().Validate(); err != nil {
		return fmt.Errorf("config: argon2: %w", err)
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return lvl, fmt.Errorf("config: log_level: %w", err)
	}
	return lvl, nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return filepath.Join(c.Home, FileName)
}
