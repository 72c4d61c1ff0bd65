package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, validate.Struct(cfg))
}

func TestLoadWithNoPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"number_of_workers": 16, "number_of_queues": 4}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.NumberOfWorkers)
	assert.Equal(t, 4, cfg.NumberOfQueues)
	assert.Equal(t, DefaultConfig().BufferSize, cfg.BufferSize, "fields absent from the file keep their default")
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"number_of_workers": 16}`), 0o644))

	t.Setenv("QENGINE_NUMBER_OF_WORKERS", "32")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.NumberOfWorkers, "environment variable must win over the file")
}

func TestEnvOverridesAreTrimmed(t *testing.T) {
	t.Setenv("QENGINE_NUMBER_OF_WORKERS", "  8  ")
	t.Setenv("QENGINE_CONTROL_PLANE_ADDR", "  :7777  ")
	cfg := DefaultConfig()
	applyEnvOverrides(&cfg)
	assert.Equal(t, 8, cfg.NumberOfWorkers, "integer overrides are trimmed before parsing")
	assert.Equal(t, "  :7777  ", cfg.ControlPlaneAddr, "only int fields are trimmed, string fields are passed through verbatim")
}

func TestLoadRejectsQueuesExceedingWorkers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"number_of_workers": 2, "number_of_queues": 8}`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownQueryToQueuePolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"query_to_queue_policy": "random"}`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidHostnamePort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"control_plane_addr": "not a valid address!!"}`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
