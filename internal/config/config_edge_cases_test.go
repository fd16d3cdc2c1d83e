package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ZeroValuesNotMerged(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "sift.yaml"), []byte(`search:
  cutoff_ms: 0
`), 0o644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, NewConfig().Search.CutoffMs, cfg.Search.CutoffMs)
}

func TestLoad_NegativeMaxConcurrentSearches_FailsValidation(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "sift.yaml"), []byte(`search:
  max_concurrent_searches: -1
`), 0o644))

	_, err := Load(tmpDir)
	assert.ErrorContains(t, err, "max_concurrent_searches")
}

func TestLoad_InvalidEmbeddingsSource_FailsValidation(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "sift.yaml"), []byte(`embeddings:
  defaults:
    source: "carrier-pigeon"
`), 0o644))

	_, err := Load(tmpDir)
	assert.ErrorContains(t, err, "embeddings.defaults.source")
}

func TestLoad_UnreadableConfigFile_ReturnsError(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root, permission bits are not enforced")
	}

	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	path := filepath.Join(tmpDir, "sift.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  address: \"x\"\n"), 0o644))
	require.NoError(t, os.Chmod(path, 0o000))
	defer os.Chmod(path, 0o644)

	_, err := Load(tmpDir)
	assert.Error(t, err)
}

func TestConfig_JSONRoundTrip(t *testing.T) {
	cfg := NewConfig()
	cfg.Server.Address = "0.0.0.0:1"
	cfg.Network.Peers = []string{"a", "b"}

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	var restored Config
	require.NoError(t, json.Unmarshal(data, &restored))

	assert.Equal(t, cfg.Server.Address, restored.Server.Address)
	assert.Equal(t, cfg.Network.Peers, restored.Network.Peers)
}

func TestConfig_UnmarshalJSON_InvalidJSON_ReturnsError(t *testing.T) {
	var cfg Config
	err := json.Unmarshal([]byte("{not valid json"), &cfg)
	assert.Error(t, err)
}

func TestNewConfig_DataDir_UsesHomeDir(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg := NewConfig()
	assert.Equal(t, filepath.Join(home, ".sift", "data"), cfg.Paths.DataDir)
}

func TestNewConfig_SnapshotAndDumpDirs_DeriveFromDataDir(t *testing.T) {
	cfg := NewConfig()
	assert.True(t, filepathHasPrefix(cfg.Paths.SnapshotDir, cfg.Paths.DataDir))
	assert.True(t, filepathHasPrefix(cfg.Paths.DumpDir, cfg.Paths.DataDir))
}

func filepathHasPrefix(path, prefix string) bool {
	rel, err := filepath.Rel(prefix, path)
	if err != nil {
		return false
	}
	return rel != ".." && len(rel) > 0 && rel[0] != '.'
}
