package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 1, cfg.Version)
	assert.NotEmpty(t, cfg.Paths.DataDir)
	assert.Equal(t, filepath.Join(cfg.Paths.DataDir, "snapshots"), cfg.Paths.SnapshotDir)
	assert.Equal(t, filepath.Join(cfg.Paths.DataDir, "dumps"), cfg.Paths.DumpDir)

	assert.Greater(t, cfg.Scheduler.BatchFanOut, 0)
	assert.Equal(t, 1000, cfg.Scheduler.AutobatchMaxSize)

	assert.Greater(t, cfg.Search.MaxConcurrentSearches, 0)
	assert.Equal(t, 1000, cfg.Search.PaginationMaxTotalHits)
	assert.Equal(t, 20, cfg.Search.DefaultHitsPerPage)
	assert.Equal(t, 150, cfg.Search.CutoffMs)

	assert.Equal(t, "", cfg.Embeddings.Defaults.Source)
	assert.Equal(t, "http://localhost:11434", cfg.Embeddings.OllamaHost)

	assert.Equal(t, 4, cfg.Snapshot.MaxInFlightParts)
	assert.False(t, cfg.Network.Enabled)
	assert.Equal(t, "127.0.0.1:7700", cfg.Server.Address)
	assert.Equal(t, "info", cfg.Server.LogLevel)
}

func TestNewConfig_PassesValidate(t *testing.T) {
	cfg := NewConfig()
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	defaults := NewConfig()
	assert.Equal(t, defaults.Search.MaxConcurrentSearches, cfg.Search.MaxConcurrentSearches)
	assert.Equal(t, defaults.Server.Address, cfg.Server.Address)
}

func TestLoad_YamlFile_OverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	yamlContent := `
server:
  address: "0.0.0.0:9000"
  log_level: "debug"
search:
  pagination_max_total_hits: 500
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "sift.yaml"), []byte(yamlContent), 0o644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Address)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, 500, cfg.Search.PaginationMaxTotalHits)
}

func TestLoad_YmlExtension_IsRecognized(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	yamlContent := `
server:
  address: "0.0.0.0:9001"
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "sift.yml"), []byte(yamlContent), 0o644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9001", cfg.Server.Address)
}

func TestLoad_YamlPreferredOverYml(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "sift.yaml"), []byte(`server:
  address: "from-yaml:1"
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "sift.yml"), []byte(`server:
  address: "from-yml:2"
`), 0o644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "from-yaml:1", cfg.Server.Address)
}

func TestLoad_InvalidYaml_ReturnsError(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "sift.yaml"), []byte("not: valid: yaml: at all: ["), 0o644))

	_, err := Load(tmpDir)
	assert.Error(t, err)
}

func TestLoad_InvalidFieldType_ReturnsError(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "sift.yaml"), []byte(`search:
  pagination_max_total_hits: "not a number"
`), 0o644))

	_, err := Load(tmpDir)
	assert.Error(t, err)
}

func TestLoad_InvalidLogLevel_FailsValidation(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "sift.yaml"), []byte(`server:
  log_level: "verbose"
`), 0o644))

	_, err := Load(tmpDir)
	assert.ErrorContains(t, err, "log_level")
}

func TestLoad_NetworkEnabledWithoutSelf_FailsValidation(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "sift.yaml"), []byte(`network:
  enabled: true
`), 0o644))

	_, err := Load(tmpDir)
	assert.ErrorContains(t, err, "network.self")
}

func TestLoad_EnvVarOverridesDataDir(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))
	t.Setenv("SIFT_DATA_DIR", "/custom/data")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "/custom/data", cfg.Paths.DataDir)
}

func TestLoad_EnvVarOverridesAddress(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))
	t.Setenv("SIFT_ADDRESS", "0.0.0.0:1234")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:1234", cfg.Server.Address)
}

func TestLoad_EnvVarOverridesLogLevel(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))
	t.Setenv("SIFT_LOG_LEVEL", "warn")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Server.LogLevel)
}

func TestLoad_EnvVarOverridesMaxConcurrentSearches(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))
	t.Setenv("SIFT_MAX_CONCURRENT_SEARCHES", "7")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Search.MaxConcurrentSearches)
}

func TestLoad_EnvVarOverridesEmbeddingsSource(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))
	t.Setenv("SIFT_EMBEDDINGS_SOURCE", "ollama")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Embeddings.Defaults.Source)
}

func TestLoad_EnvVarOverridesNetworkPeers(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))
	t.Setenv("SIFT_NETWORK_PEERS", "node-a:7700,node-b:7700")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"node-a:7700", "node-b:7700"}, cfg.Network.Peers)
}

func TestLoad_EnvVarEmptyString_DoesNotOverride(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))
	t.Setenv("SIFT_ADDRESS", "")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, NewConfig().Server.Address, cfg.Server.Address)
}

func TestGetUserConfigPath_DefaultsToXDGLocation(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	path := GetUserConfigPath()
	assert.Equal(t, filepath.Join(tmpDir, "sift", "config.yaml"), path)
}

func TestGetUserConfigPath_RespectsHomeFallback(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")

	path := GetUserConfigPath()
	assert.Contains(t, path, filepath.Join(".config", "sift", "config.yaml"))
}

func TestGetUserConfigDir_ReturnsParentOfConfigPath(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	dir := GetUserConfigDir()
	assert.Equal(t, filepath.Join(tmpDir, "sift"), dir)
}

func TestUserConfigExists_ReturnsFalseWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	assert.False(t, UserConfigExists())
}

func TestUserConfigExists_ReturnsTrueWhenPresent(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	configDir := filepath.Join(tmpDir, "sift")
	require.NoError(t, os.MkdirAll(configDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte("version: 1\n"), 0o644))

	assert.True(t, UserConfigExists())
}

func TestLoad_UserConfigOverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	xdgDir := filepath.Join(tmpDir, "xdg")
	t.Setenv("XDG_CONFIG_HOME", xdgDir)

	configDir := filepath.Join(xdgDir, "sift")
	require.NoError(t, os.MkdirAll(configDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(`server:
  log_level: "error"
`), 0o644))

	projectDir := t.TempDir()
	cfg, err := Load(projectDir)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Server.LogLevel)
}

func TestLoad_ProjectConfigOverridesUserConfig(t *testing.T) {
	tmpDir := t.TempDir()
	xdgDir := filepath.Join(tmpDir, "xdg")
	t.Setenv("XDG_CONFIG_HOME", xdgDir)

	configDir := filepath.Join(xdgDir, "sift")
	require.NoError(t, os.MkdirAll(configDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(`server:
  log_level: "error"
  address: "from-user:1"
`), 0o644))

	projectDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "sift.yaml"), []byte(`server:
  address: "from-project:2"
`), 0o644))

	cfg, err := Load(projectDir)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Server.LogLevel)
	assert.Equal(t, "from-project:2", cfg.Server.Address)
}

func TestLoad_EnvVarOverridesUserAndProjectConfig(t *testing.T) {
	tmpDir := t.TempDir()
	xdgDir := filepath.Join(tmpDir, "xdg")
	t.Setenv("XDG_CONFIG_HOME", xdgDir)

	configDir := filepath.Join(xdgDir, "sift")
	require.NoError(t, os.MkdirAll(configDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(`server:
  address: "from-user:1"
`), 0o644))

	projectDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "sift.yaml"), []byte(`server:
  address: "from-project:2"
`), 0o644))

	t.Setenv("SIFT_ADDRESS", "from-env:3")

	cfg, err := Load(projectDir)
	require.NoError(t, err)
	assert.Equal(t, "from-env:3", cfg.Server.Address)
}

func TestLoad_InvalidUserConfig_ReturnsError(t *testing.T) {
	tmpDir := t.TempDir()
	xdgDir := filepath.Join(tmpDir, "xdg")
	t.Setenv("XDG_CONFIG_HOME", xdgDir)

	configDir := filepath.Join(xdgDir, "sift")
	require.NoError(t, os.MkdirAll(configDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte("not: valid: yaml: at all: ["), 0o644))

	projectDir := t.TempDir()
	_, err := Load(projectDir)
	assert.Error(t, err)
}

func TestConfig_DerivedPaths(t *testing.T) {
	cfg := NewConfig()
	cfg.Paths.DataDir = "/data"

	assert.Equal(t, filepath.Join("/data", "tasks", "data.mdb"), cfg.TasksEnvPath())
	assert.Equal(t, filepath.Join("/data", "auth", "data.mdb"), cfg.AuthEnvPath())
	assert.Equal(t, filepath.Join("/data", "indexes", "abc-123", "data.mdb"), cfg.IndexEnvPath("abc-123"))
	assert.Equal(t, filepath.Join("/data", "update_files", "abc-123"), cfg.UpdateFileDir("abc-123"))
	assert.Equal(t, filepath.Join("/data", "VERSION"), cfg.VersionFilePath())
}

func TestConfig_WriteYAML_RoundTrips(t *testing.T) {
	cfg := NewConfig()
	cfg.Server.Address = "0.0.0.0:9999"

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.WriteYAML(path))

	loaded := NewConfig()
	require.NoError(t, loaded.loadYAML(path))
	assert.Equal(t, "0.0.0.0:9999", loaded.Server.Address)
}
