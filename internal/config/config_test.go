package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4, cfg.Batch.Concurrency)
	assert.True(t, cfg.Resolve.Checksums)
	assert.False(t, cfg.OData.Enabled)
	assert.Equal(t, 3, cfg.OData.MaxAttempts)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stacgen.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  routing: rules/routing.csv
resolve:
  checksums: false
odata:
  enabled: true
  catalogue_url: https://catalogue.example.eu
  timeout: 5s
batch:
  concurrency: 8
output:
  catalog: items.db
log:
  level: debug
  format: json
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "rules/routing.csv"), cfg.Rules.Routing)
	assert.False(t, cfg.Resolve.Checksums)
	assert.True(t, cfg.OData.Enabled)
	assert.Equal(t, 5*time.Second, cfg.OData.Timeout)
	assert.Equal(t, 3, cfg.OData.MaxAttempts, "unset keys keep their defaults")
	assert.Equal(t, 8, cfg.Batch.Concurrency)
	assert.Equal(t, "items.db", cfg.Output.Catalog)
	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	t.Run("explicit path must exist", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
		assert.Error(t, err)
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("batch: [unterminated"), 0o644))
		_, err := Load(path, nil)
		assert.Error(t, err)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "stacgen.yaml")
		require.NoError(t, os.WriteFile(path, []byte("batch:\n  concurrency: 2\n"), 0o644))
		t.Setenv(EnvConcurrency, "16")
		t.Setenv(EnvODataURL, "https://catalogue.example.eu")
		t.Setenv(EnvLogLevel, "warn")

		cfg, err := Load(path, nil)
		require.NoError(t, err)
		assert.Equal(t, 16, cfg.Batch.Concurrency)
		assert.True(t, cfg.OData.Enabled)
		assert.Equal(t, "https://catalogue.example.eu", cfg.OData.CatalogueURL)
		assert.Equal(t, "warn", cfg.Log.Level)
	})

	t.Run("bad environment value", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "stacgen.yaml")
		require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))
		t.Setenv(EnvConcurrency, "many")
		_, err := Load(path, nil)
		assert.ErrorContains(t, err, EnvConcurrency)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"no routing", func(c *Config) { c.Rules.Routing = "" }, "rules.routing"},
		{"zero concurrency", func(c *Config) { c.Batch.Concurrency = 0 }, "batch.concurrency"},
		{"odata without url", func(c *Config) { c.OData.Enabled = true }, "odata.catalogue_url"},
		{"odata zero attempts", func(c *Config) {
			c.OData.Enabled = true
			c.OData.CatalogueURL = "https://x"
			c.OData.MaxAttempts = 0
		}, "odata.max_attempts"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "product", "S2B")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "S2B", rec["product"])
}
