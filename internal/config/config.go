// Package config loads tool configuration from YAML with environment
// variable overrides. Missing config files are not an error; defaults
// apply and the environment can still override them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all truthcaps configuration.
type Config struct {
	// Store settings
	Store StoreConfig `yaml:"store"`

	// Composition settings
	Compose ComposeConfig `yaml:"compose"`

	// Witness execution settings
	Witness WitnessConfig `yaml:"witness"`

	// Sandbox settings
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Receipt archive
	Archive ArchiveConfig `yaml:"archive"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig configures the capsule store.
type StoreConfig struct {
	// Root is the directory holding capsules/, bundles/ and profiles/.
	Root string `yaml:"root"`

	// Strict escalates promotable lint warnings to errors.
	Strict bool `yaml:"strict"`
}

// ComposeConfig configures prompt composition.
type ComposeConfig struct {
	// Incompatibility is "warn" or "error".
	Incompatibility string `yaml:"incompatibility"`

	// ControlTable enables the compiled priority table in output.
	ControlTable bool `yaml:"control_table"`
}

// WitnessConfig configures witness execution.
type WitnessConfig struct {
	DefaultTimeout string `yaml:"default_timeout"`
	Parallelism    int    `yaml:"parallelism"`
}

// SandboxConfig configures witness isolation.
type SandboxConfig struct {
	// Mode is "none" (direct host execution) or "container".
	Mode string `yaml:"mode"`

	// Image is the container image for container mode.
	Image string `yaml:"image"`

	// EnvFile optionally seeds extra environment variables.
	EnvFile string `yaml:"env_file"`
}

// ArchiveConfig configures receipt persistence.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Root:   ".",
			Strict: false,
		},
		Compose: ComposeConfig{
			Incompatibility: "warn",
			ControlTable:    false,
		},
		Witness: WitnessConfig{
			DefaultTimeout: "5s",
			Parallelism:    4,
		},
		Sandbox: SandboxConfig{
			Mode:  "none",
			Image: "alpine:latest",
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Path:    "data/receipts.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "truthcaps.log",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if root := os.Getenv("TRUTHCAPS_ROOT"); root != "" {
		c.Store.Root = root
	}
	if strict := os.Getenv("TRUTHCAPS_STRICT"); strict != "" {
		if v, err := strconv.ParseBool(strict); err == nil {
			c.Store.Strict = v
		}
	}
	if mode := os.Getenv("TRUTHCAPS_SANDBOX"); mode != "" {
		c.Sandbox.Mode = mode
	}
	if image := os.Getenv("TRUTHCAPS_SANDBOX_IMAGE"); image != "" {
		c.Sandbox.Image = image
	}
	if path := os.Getenv("TRUTHCAPS_ARCHIVE"); path != "" {
		c.Archive.Enabled = true
		c.Archive.Path = path
	}
	if level := os.Getenv("TRUTHCAPS_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

func (c *Config) validate() error {
	switch c.Compose.Incompatibility {
	case "", "warn", "error":
	default:
		return fmt.Errorf("invalid incompatibility policy %q (want warn or error)", c.Compose.Incompatibility)
	}
	switch c.Sandbox.Mode {
	case "", "none", "container":
	default:
		return fmt.Errorf("invalid sandbox mode %q (want none or container)", c.Sandbox.Mode)
	}
	return nil
}

// WitnessTimeout returns the default witness timeout as a duration.
func (c *Config) WitnessTimeout() time.Duration {
	d, err := time.ParseDuration(c.Witness.DefaultTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}
