// Package config loads stacgen configuration with layered precedence:
// defaults, then the YAML file, then STACGEN_* environment variables.
// Command-line flags are applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/agentic-research/stacgen/internal/stac"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the working directory.
const FileName = "stacgen.yaml"

// Environment variables that override file values.
const (
	EnvRouting     = "STACGEN_ROUTING"
	EnvODataURL    = "STACGEN_ODATA_URL"
	EnvZipperURL   = "STACGEN_ZIPPER_URL"
	EnvConcurrency = "STACGEN_CONCURRENCY"
	EnvLogLevel    = "STACGEN_LOG_LEVEL"
)

// Config is the complete configuration.
type Config struct {
	Rules   RulesConfig   `yaml:"rules"`
	Resolve ResolveConfig `yaml:"resolve"`
	OData   ODataConfig   `yaml:"odata"`
	Batch   BatchConfig   `yaml:"batch"`
	Output  OutputConfig  `yaml:"output"`
	Log     LogConfig     `yaml:"log"`
}

// RulesConfig locates the routing table.
type RulesConfig struct {
	// Routing is the routing CSV. Relative paths are resolved against the
	// directory of the configuration file.
	Routing string `yaml:"routing"`
}

// ResolveConfig tunes attribute resolution.
type ResolveConfig struct {
	// Checksums enables MD5 synthesis for asset files.
	Checksums bool `yaml:"checksums"`
}

// ODataConfig configures the remote-context lookup.
type ODataConfig struct {
	Enabled      bool          `yaml:"enabled"`
	CatalogueURL string        `yaml:"catalogue_url"`
	ZipperURL    string        `yaml:"zipper_url"`
	OIDCURL      string        `yaml:"oidc_url"`
	S3Platform   string        `yaml:"s3_platform"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// BatchConfig configures the batch runner.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// OutputConfig selects the sinks.
type OutputConfig struct {
	// Dir receives one <id>.json per item when set.
	Dir string `yaml:"dir"`
	// Catalog is a SQLite database receiving every item when set.
	Catalog string `yaml:"catalog"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Rules:   RulesConfig{Routing: "rules/routing.csv"},
		Resolve: ResolveConfig{Checksums: true},
		OData: ODataConfig{
			Timeout:     stac.DefaultRemoteTimeout,
			MaxAttempts: 3,
		},
		Batch: BatchConfig{Concurrency: 4},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

// LoadFile reads path over the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	if cfg.Rules.Routing != "" && !filepath.IsAbs(cfg.Rules.Routing) {
		cfg.Rules.Routing = filepath.Join(filepath.Dir(path), cfg.Rules.Routing)
	}
	return cfg, nil
}

// Load builds the configuration. An explicit path must exist; without one
// FileName is used when present in the working directory.
func Load(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = FileName
	}
	switch fileCfg, err := LoadFile(path); {
	case err == nil:
		logger.Debug("loaded config", slog.String("path", path))
		cfg = fileCfg
	case !explicit && errors.Is(err, os.ErrNotExist):
		logger.Debug("no config file, using defaults")
	default:
		return nil, err
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides values from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvRouting); ok && v != "" {
		c.Rules.Routing = v
	}
	if v, ok := lookup(EnvODataURL); ok && v != "" {
		c.OData.CatalogueURL = v
		c.OData.Enabled = true
	}
	if v, ok := lookup(EnvZipperURL); ok && v != "" {
		c.OData.ZipperURL = v
	}
	if v, ok := lookup(EnvConcurrency); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvConcurrency, err)
		}
		c.Batch.Concurrency = n
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate rejects impossible values.
func (c *Config) Validate() error {
	var errs []error
	if c.Rules.Routing == "" {
		errs = append(errs, fmt.Errorf("rules.routing is required"))
	}
	if c.Batch.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("batch.concurrency must be at least 1, got %d", c.Batch.Concurrency))
	}
	if c.OData.Enabled {
		if c.OData.CatalogueURL == "" {
			errs = append(errs, fmt.Errorf("odata.catalogue_url is required when odata is enabled"))
		}
		if c.OData.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("odata.timeout must be positive"))
		}
		if c.OData.MaxAttempts < 1 {
			errs = append(errs, fmt.Errorf("odata.max_attempts must be at least 1"))
		}
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
