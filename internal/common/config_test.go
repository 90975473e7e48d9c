package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "verso.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "badger", config.Storage.Backend)
	assert.Equal(t, 8190, config.Server.Port)
	assert.Equal(t, "@every 5m", config.Jobs.MaintenanceSchedule)
	assert.True(t, config.IsDevelopment())
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
environment = "production"

[server]
port = 9000

[storage]
backend = "file"

[backpressure]
soft_limit = 4
hard_limit = 8
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, config.Server.Port)
	assert.Equal(t, "file", config.Storage.Backend)
	assert.Equal(t, 4, config.Backpressure.SoftLimit)
	assert.False(t, config.IsDevelopment())
	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost", config.Server.Host)
}

func TestLoadConfigLaterFilesWin(t *testing.T) {
	first := writeConfigFile(t, "[server]\nport = 9000\n")
	second := writeConfigFile(t, "[server]\nport = 9100\n")

	config, err := LoadConfig(first, second)
	require.NoError(t, err)
	assert.Equal(t, 9100, config.Server.Port)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("VERSO_STORE_BACKEND", "memory")
	t.Setenv("VERSO_PORT", "9200")
	t.Setenv("VERSO_MAX_WORKERS", "3")

	config, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "memory", config.Storage.Backend)
	assert.Equal(t, 9200, config.Server.Port)
	assert.Equal(t, 3, config.Jobs.MaxWorkers)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidateRejectsBadConfig(t *testing.T) {
	config := DefaultConfig()
	config.Storage.Backend = "cassandra"
	assert.ErrorContains(t, config.Validate(), "unknown storage backend")

	config = DefaultConfig()
	config.Backpressure.SoftLimit = 20
	config.Backpressure.HardLimit = 10
	assert.ErrorContains(t, config.Validate(), "hard_limit")

	config = DefaultConfig()
	config.Backpressure.BaseDelay = time.Minute
	config.Backpressure.MaxDelay = time.Second
	assert.ErrorContains(t, config.Validate(), "max_delay")

	config = DefaultConfig()
	config.Pools.MaxCached = 0
	assert.ErrorContains(t, config.Validate(), "max_cached")
}

func TestValidateRepairsWorkerCount(t *testing.T) {
	config := DefaultConfig()
	config.Jobs.MaxWorkers = 0
	require.NoError(t, config.Validate())
	assert.GreaterOrEqual(t, config.Jobs.MaxWorkers, 1)
}

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, "job_abc-123", SanitizeID("job_abc-123"))
	assert.Equal(t, "job_.._evil", SanitizeID("job/../evil"))
	assert.Equal(t, "a_b_c", SanitizeID("a b:c"))
}
