// Package config loads netstat settings from a YAML file and the environment.
//
// Precedence, lowest first: defaults, config file, environment, command-line
// flags. Flags are applied by the cli package on top of Load's result.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/netstat/internal/contract"
	"github.com/roach88/netstat/internal/notify"
)

// Environment variables that override file settings.
const (
	EnvDatabase      = "NETSTAT_DB"
	EnvLayout        = "NETSTAT_LAYOUT"
	EnvSchemaVersion = "NETSTAT_SCHEMA_VERSION"
	EnvReadOnly      = "NETSTAT_READ_ONLY"
)

// Config holds store settings.
type Config struct {
	// Database is the SQLite file path.
	Database string `yaml:"database"`

	// SchemaVersion is the requested schema version.
	SchemaVersion int `yaml:"schema_version"`

	// Layout is "split" or "unified".
	Layout contract.Layout `yaml:"layout"`

	// ReadOnly opens the database without write access.
	ReadOnly bool `yaml:"read_only"`

	// NotifyBuffer is the channel capacity of change subscriptions.
	NotifyBuffer int `yaml:"notify_buffer"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Database:      contract.DatabaseName,
		SchemaVersion: contract.BaselineVersion,
		Layout:        contract.DefaultLayout,
		NotifyBuffer:  notify.DefaultBuffer,
	}
}

// Load returns Default overlaid with the file at path (if path is not empty)
// and then the environment. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		defer f.Close()
		if err := decode(f, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML data on top of Default without reading the environment.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := decode(bytes.NewReader(data), &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

func decode(r io.Reader, cfg *Config) error {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDatabase); ok && v != "" {
		c.Database = v
	}
	if v, ok := lookup(EnvLayout); ok && v != "" {
		c.Layout = contract.Layout(strings.ToLower(v))
	}
	if v, ok := lookup(EnvSchemaVersion); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %q is not an integer", EnvSchemaVersion, v)
		}
		c.SchemaVersion = n
	}
	if v, ok := lookup(EnvReadOnly); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %q is not a boolean", EnvReadOnly, v)
		}
		c.ReadOnly = b
	}
	return nil
}

// Validate checks that every field holds a usable value.
func (c Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("config: database is required")
	}
	if c.SchemaVersion < contract.BaselineVersion {
		return fmt.Errorf("config: schema_version must be >= %d, got %d", contract.BaselineVersion, c.SchemaVersion)
	}
	if _, err := contract.ParseLayout(string(c.Layout)); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.NotifyBuffer < 0 {
		return fmt.Errorf("config: notify_buffer must be >= 0, got %d", c.NotifyBuffer)
	}
	return nil
}
