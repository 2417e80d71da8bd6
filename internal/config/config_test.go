package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/netstat/internal/contract"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvDatabase, EnvLayout, EnvSchemaVersion, EnvReadOnly} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, contract.LayoutSplit, cfg.Layout)
	assert.Equal(t, "netstat.db", cfg.Database)
	assert.Equal(t, 64, cfg.NotifyBuffer)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join("testdata", "netstat.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Config{
		Database:      "/var/lib/netstat/netstat.db",
		SchemaVersion: 2,
		Layout:        contract.LayoutUnified,
		NotifyBuffer:  16,
	}, cfg)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvDatabase, "/tmp/other.db")
	t.Setenv(EnvLayout, "SPLIT")
	t.Setenv(EnvSchemaVersion, "3")
	t.Setenv(EnvReadOnly, "true")

	cfg, err := Load(filepath.Join("testdata", "netstat.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/other.db", cfg.Database)
	assert.Equal(t, contract.LayoutSplit, cfg.Layout)
	assert.Equal(t, 3, cfg.SchemaVersion)
	assert.True(t, cfg.ReadOnly)
	assert.Equal(t, 16, cfg.NotifyBuffer, "unset variables keep file values")
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join("testdata", "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(filepath.Join("testdata", "typo.yaml"))
	assert.ErrorContains(t, err, "layuot")

	t.Setenv(EnvSchemaVersion, "two")
	_, err = Load("")
	assert.ErrorContains(t, err, EnvSchemaVersion)
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		err  string
	}{
		{"empty document", "", ""},
		{"bad layout", "layout: sharded\n", "unknown layout"},
		{"zero version", "schema_version: 0\n", "schema_version"},
		{"empty database", "database: \"\"\n", "database is required"},
		{"negative buffer", "notify_buffer: -1\n", "notify_buffer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if tt.err == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.err)
		})
	}
}
