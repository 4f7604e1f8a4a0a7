package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name          string
		config        *Config
		expectedError string
		description   string
	}{
		{
			name: "valid minimal config",
			config: &Config{
				Listen:      "0.0.0.0:53",
				RethinkDB:   RethinkDBConfig{Address: "localhost:28015"},
				Performance: PerformanceConfig{MaxHandlerThreads: 128, DistancePrecision: 50},
			},
			expectedError: "",
			description:   "should accept a minimal valid config",
		},
		{
			name: "missing rethinkdb address",
			config: &Config{
				Listen:      "0.0.0.0:53",
				Performance: PerformanceConfig{MaxHandlerThreads: 128, DistancePrecision: 50},
			},
			expectedError: "rethinkdb.address is required",
			description:   "should reject a config with no config-feed endpoint",
		},
		{
			name: "invalid listen address",
			config: &Config{
				Listen:      "not-an-address",
				RethinkDB:   RethinkDBConfig{Address: "localhost:28015"},
				Performance: PerformanceConfig{MaxHandlerThreads: 128, DistancePrecision: 50},
			},
			expectedError: "invalid listen address",
			description:   "should reject a listen address without a port",
		},
		{
			name: "zero handler threads",
			config: &Config{
				Listen:      "0.0.0.0:53",
				RethinkDB:   RethinkDBConfig{Address: "localhost:28015"},
				Performance: PerformanceConfig{MaxHandlerThreads: 0, DistancePrecision: 50},
			},
			expectedError: "max_handler_threads must be > 0",
			description:   "should reject a non-positive handler cap",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectedError == "" {
				assert.NoError(t, err, tt.description)
			} else {
				require.Error(t, err, tt.description)
				assert.Contains(t, err.Error(), tt.expectedError)
			}
		})
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rethinkdb:\n  address: localhost:28015\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":53", cfg.Listen)
	assert.Equal(t, "zones", cfg.RethinkDB.ZonesTable)
	assert.Equal(t, "servers", cfg.RethinkDB.ServersTable)
	assert.Equal(t, int64(128), cfg.Performance.MaxHandlerThreads)
	assert.Equal(t, uint32(1800), cfg.Performance.DefaultTTL)
	assert.Equal(t, uint32(5), cfg.Performance.GeoCacheTTLSeconds)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rethinkdb:\n  address: localhost:28015\nlisten: \":5300\"\n"), 0o644))

	t.Setenv("FLIRBLE_LISTEN", "127.0.0.1:5353")
	t.Setenv("FLIRBLE_DEBUG", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:5353", cfg.Listen)
	assert.True(t, cfg.Debug)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
