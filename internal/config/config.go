package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration. It mirrors the schema
// described in SPEC_FULL.md's Configuration section: data directory layout,
// scheduler concurrency, search semaphore size, snapshot object-storage
// settings, pagination caps, and embedder defaults.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" json:"scheduler"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Snapshot   SnapshotConfig   `yaml:"snapshot" json:"snapshot"`
	Network    NetworkConfig    `yaml:"network" json:"network"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// PathsConfig configures the on-disk data directory layout described by
// the persisted-layout contract: tasks/, auth/, indexes/<uuid>/,
// update_files/<uuid>, snapshots/, dumps/, VERSION.
type PathsConfig struct {
	// DataDir is the root data directory. All sub-paths below are derived
	// from it unless explicitly overridden.
	DataDir string `yaml:"data_dir" json:"data_dir"`
	// SnapshotDir holds completed local snapshot archives.
	SnapshotDir string `yaml:"snapshot_dir" json:"snapshot_dir"`
	// DumpDir holds completed dump archives.
	DumpDir string `yaml:"dump_dir" json:"dump_dir"`
}

// SchedulerConfig configures the task scheduler and batch engine (C7/C8).
type SchedulerConfig struct {
	// BatchFanOut bounds the worker pool used to fan out sub-work within a
	// batch (document extraction, embedder calls, part uploads).
	BatchFanOut int `yaml:"batch_fan_out" json:"batch_fan_out"`
	// AutobatchMaxSize caps how many tasks an autobatch will absorb before
	// it closes and is handed to the processing loop.
	AutobatchMaxSize int `yaml:"autobatch_max_size" json:"autobatch_max_size"`
	// TaskEnvMapSizeMB is the KV environment map size for the task queue.
	TaskEnvMapSizeMB int `yaml:"task_env_map_size_mb" json:"task_env_map_size_mb"`
}

// SearchConfig configures the search runtime (C5): concurrency caps,
// pagination limits, and ranking defaults.
type SearchConfig struct {
	// MaxConcurrentSearches bounds the search-permit semaphore (C5's
	// "search permit" from a bounded semaphore to cap concurrent CPU work).
	MaxConcurrentSearches int `yaml:"max_concurrent_searches" json:"max_concurrent_searches"`
	// PaginationMaxTotalHits clamps limit+offset/page+hitsPerPage results.
	PaginationMaxTotalHits int `yaml:"pagination_max_total_hits" json:"pagination_max_total_hits"`
	// DefaultHitsPerPage is used when a query omits both limit and hitsPerPage.
	DefaultHitsPerPage int `yaml:"default_hits_per_page" json:"default_hits_per_page"`
	// CutoffMs is the default per-query search cutoff, 0 disables it.
	CutoffMs int `yaml:"cutoff_ms" json:"cutoff_ms"`
	// MaxValuesPerFacet caps facet-distribution values returned per facet.
	MaxValuesPerFacet int `yaml:"max_values_per_facet" json:"max_values_per_facet"`
}

// EmbedderDefaults configures defaults applied to newly-registered
// embedders before per-index settings override them (§4.10).
type EmbedderDefaults struct {
	// Source is the default embedder variant: openai, huggingface, ollama,
	// rest, or userProvided.
	Source string `yaml:"source" json:"source"`
	// Dimensions is the default vector width when a source doesn't report one.
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	// DocumentTemplateMaxBytes bounds rendered prompt size.
	DocumentTemplateMaxBytes int `yaml:"document_template_max_bytes" json:"document_template_max_bytes"`
	// ChunkSize is the default batch size hint passed to embed_chunks.
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
}

// EmbeddingsConfig configures the embedder abstraction (C13/§4.10):
// cache size, HTTP client behavior, and per-source connection defaults.
type EmbeddingsConfig struct {
	Defaults EmbedderDefaults `yaml:"defaults" json:"defaults"`

	// CacheSize is the number of rendered-prompt→vector entries kept in the
	// embedder response LRU cache.
	CacheSize int `yaml:"cache_size" json:"cache_size"`

	// OllamaHost is the default Ollama API endpoint for the "ollama" source.
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	// OpenAIBaseURL is the default base URL for the "openai" source.
	OpenAIBaseURL string `yaml:"openai_base_url" json:"openai_base_url"`
	// HuggingFaceEndpoint is the default endpoint for the "huggingface" source.
	HuggingFaceEndpoint string `yaml:"huggingface_endpoint" json:"huggingface_endpoint"`

	// RequestTimeout bounds a single embedder HTTP call.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	// MaxConcurrentRequests bounds the shared HTTP-client thread pool used
	// across all embedders during a batch.
	MaxConcurrentRequests int `yaml:"max_concurrent_requests" json:"max_concurrent_requests"`
}

// SnapshotConfig configures snapshot/dump archive production and, when
// object storage is configured, multipart upload behavior (C9).
type SnapshotConfig struct {
	// MaxInFlightParts bounds concurrent multipart upload requests.
	MaxInFlightParts int `yaml:"max_in_flight_parts" json:"max_in_flight_parts"`
	// PartSizeMB is the size of each uploaded part.
	PartSizeMB int `yaml:"part_size_mb" json:"part_size_mb"`
	// RetryMaxElapsed bounds the exponential-backoff retry loop for a
	// transient part-upload failure.
	RetryMaxElapsed time.Duration `yaml:"retry_max_elapsed" json:"retry_max_elapsed"`

	// ObjectStorageBucket, when non-empty, enables upload to object storage
	// instead of (or in addition to) the local snapshot directory.
	ObjectStorageBucket string `yaml:"object_storage_bucket" json:"object_storage_bucket"`
	// ObjectStorageEndpoint overrides the default provider endpoint, for
	// S3-compatible stores.
	ObjectStorageEndpoint string `yaml:"object_storage_endpoint" json:"object_storage_endpoint"`
	// ObjectStoragePrefix namespaces uploaded archives within the bucket.
	ObjectStoragePrefix string `yaml:"object_storage_prefix" json:"object_storage_prefix"`
}

// NetworkConfig configures optional network federation: raft-based leader
// election among peers and the HTTP export protocol (§4.9).
type NetworkConfig struct {
	// Enabled turns on network federation. Disabled by default — a
	// single-node deployment never starts a raft instance.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Self is this node's advertised address, used as its raft server id.
	Self string `yaml:"self" json:"self"`
	// Peers lists the other nodes participating in leader election.
	Peers []string `yaml:"peers" json:"peers"`
	// RaftDir stores the raft log and stable store.
	RaftDir string `yaml:"raft_dir" json:"raft_dir"`
	// ExportTimeout bounds a single proxied export request to a remote peer.
	ExportTimeout time.Duration `yaml:"export_timeout" json:"export_timeout"`
}

// ServerConfig configures the HTTP listener and logging level.
type ServerConfig struct {
	Address  string `yaml:"address" json:"address"`
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// defaultDataDir returns ~/.sift/data, falling back to a temp directory.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".sift", "data")
	}
	return filepath.Join(home, ".sift", "data")
}

// NewConfig returns a Config populated with sensible defaults.
func NewConfig() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir:     dataDir,
			SnapshotDir: filepath.Join(dataDir, "snapshots"),
			DumpDir:     filepath.Join(dataDir, "dumps"),
		},
		Scheduler: SchedulerConfig{
			BatchFanOut:      runtime.NumCPU(),
			AutobatchMaxSize: 1000,
			TaskEnvMapSizeMB: 1024,
		},
		Search: SearchConfig{
			MaxConcurrentSearches:  runtime.NumCPU() * 4,
			PaginationMaxTotalHits: 1000,
			DefaultHitsPerPage:     20,
			CutoffMs:               150,
			MaxValuesPerFacet:      100,
		},
		Embeddings: EmbeddingsConfig{
			Defaults: EmbedderDefaults{
				Source:                   "",
				Dimensions:               0,
				DocumentTemplateMaxBytes: 400,
				ChunkSize:                10,
			},
			CacheSize:             4096,
			OllamaHost:            "http://localhost:11434",
			OpenAIBaseURL:         "https://api.openai.com/v1",
			HuggingFaceEndpoint:   "",
			RequestTimeout:        30 * time.Second,
			MaxConcurrentRequests: runtime.NumCPU(),
		},
		Snapshot: SnapshotConfig{
			MaxInFlightParts: 4,
			PartSizeMB:       64,
			RetryMaxElapsed:  5 * time.Minute,
		},
		Network: NetworkConfig{
			Enabled:       false,
			RaftDir:       filepath.Join(dataDir, "raft"),
			ExportTimeout: 10 * time.Second,
		},
		Server: ServerConfig{
			Address:  "127.0.0.1:7700",
			LogLevel: "info",
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file,
// following the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/sift/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/sift/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "sift", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "sift", "config.yaml")
	}
	return filepath.Join(home, ".config", "sift", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists reports whether the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if present.
// A missing file is not an error.
func loadUserConfig() (*Config, error) {
	path := GetUserConfigPath()
	if !fileExists(path) {
		return nil, nil
	}
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", path, err)
	}
	return cfg, nil
}

// Load builds the effective configuration for dir, the directory that may
// hold an instance sift.yaml/sift.yml, applying (in order of increasing
// precedence):
//  1. hardcoded defaults
//  2. user/global config (~/.config/sift/config.yaml)
//  3. instance config (sift.yaml in dir)
//  4. SIFT_* environment variable overrides
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from sift.yaml or sift.yml
// in dir.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, "sift.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}
	ymlPath := filepath.Join(dir, "sift.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Paths.DataDir != "" {
		c.Paths.DataDir = other.Paths.DataDir
	}
	if other.Paths.SnapshotDir != "" {
		c.Paths.SnapshotDir = other.Paths.SnapshotDir
	}
	if other.Paths.DumpDir != "" {
		c.Paths.DumpDir = other.Paths.DumpDir
	}

	if other.Scheduler.BatchFanOut != 0 {
		c.Scheduler.BatchFanOut = other.Scheduler.BatchFanOut
	}
	if other.Scheduler.AutobatchMaxSize != 0 {
		c.Scheduler.AutobatchMaxSize = other.Scheduler.AutobatchMaxSize
	}
	if other.Scheduler.TaskEnvMapSizeMB != 0 {
		c.Scheduler.TaskEnvMapSizeMB = other.Scheduler.TaskEnvMapSizeMB
	}

	if other.Search.MaxConcurrentSearches != 0 {
		c.Search.MaxConcurrentSearches = other.Search.MaxConcurrentSearches
	}
	if other.Search.PaginationMaxTotalHits != 0 {
		c.Search.PaginationMaxTotalHits = other.Search.PaginationMaxTotalHits
	}
	if other.Search.DefaultHitsPerPage != 0 {
		c.Search.DefaultHitsPerPage = other.Search.DefaultHitsPerPage
	}
	if other.Search.CutoffMs != 0 {
		c.Search.CutoffMs = other.Search.CutoffMs
	}
	if other.Search.MaxValuesPerFacet != 0 {
		c.Search.MaxValuesPerFacet = other.Search.MaxValuesPerFacet
	}

	if other.Embeddings.Defaults.Source != "" {
		c.Embeddings.Defaults.Source = other.Embeddings.Defaults.Source
	}
	if other.Embeddings.Defaults.Dimensions != 0 {
		c.Embeddings.Defaults.Dimensions = other.Embeddings.Defaults.Dimensions
	}
	if other.Embeddings.Defaults.DocumentTemplateMaxBytes != 0 {
		c.Embeddings.Defaults.DocumentTemplateMaxBytes = other.Embeddings.Defaults.DocumentTemplateMaxBytes
	}
	if other.Embeddings.Defaults.ChunkSize != 0 {
		c.Embeddings.Defaults.ChunkSize = other.Embeddings.Defaults.ChunkSize
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}
	if other.Embeddings.OpenAIBaseURL != "" {
		c.Embeddings.OpenAIBaseURL = other.Embeddings.OpenAIBaseURL
	}
	if other.Embeddings.HuggingFaceEndpoint != "" {
		c.Embeddings.HuggingFaceEndpoint = other.Embeddings.HuggingFaceEndpoint
	}
	if other.Embeddings.RequestTimeout != 0 {
		c.Embeddings.RequestTimeout = other.Embeddings.RequestTimeout
	}
	if other.Embeddings.MaxConcurrentRequests != 0 {
		c.Embeddings.MaxConcurrentRequests = other.Embeddings.MaxConcurrentRequests
	}

	if other.Snapshot.MaxInFlightParts != 0 {
		c.Snapshot.MaxInFlightParts = other.Snapshot.MaxInFlightParts
	}
	if other.Snapshot.PartSizeMB != 0 {
		c.Snapshot.PartSizeMB = other.Snapshot.PartSizeMB
	}
	if other.Snapshot.RetryMaxElapsed != 0 {
		c.Snapshot.RetryMaxElapsed = other.Snapshot.RetryMaxElapsed
	}
	if other.Snapshot.ObjectStorageBucket != "" {
		c.Snapshot.ObjectStorageBucket = other.Snapshot.ObjectStorageBucket
	}
	if other.Snapshot.ObjectStorageEndpoint != "" {
		c.Snapshot.ObjectStorageEndpoint = other.Snapshot.ObjectStorageEndpoint
	}
	if other.Snapshot.ObjectStoragePrefix != "" {
		c.Snapshot.ObjectStoragePrefix = other.Snapshot.ObjectStoragePrefix
	}

	if other.Network.Enabled {
		c.Network.Enabled = other.Network.Enabled
	}
	if other.Network.Self != "" {
		c.Network.Self = other.Network.Self
	}
	if len(other.Network.Peers) > 0 {
		c.Network.Peers = other.Network.Peers
	}
	if other.Network.RaftDir != "" {
		c.Network.RaftDir = other.Network.RaftDir
	}
	if other.Network.ExportTimeout != 0 {
		c.Network.ExportTimeout = other.Network.ExportTimeout
	}

	if other.Server.Address != "" {
		c.Server.Address = other.Server.Address
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
}

// applyEnvOverrides applies SIFT_* environment variable overrides, the
// highest-precedence configuration source.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SIFT_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("SIFT_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("SIFT_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}

	if v := os.Getenv("SIFT_MAX_CONCURRENT_SEARCHES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.MaxConcurrentSearches = n
		}
	}
	if v := os.Getenv("SIFT_PAGINATION_MAX_TOTAL_HITS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.PaginationMaxTotalHits = n
		}
	}

	if v := os.Getenv("SIFT_EMBEDDINGS_SOURCE"); v != "" {
		c.Embeddings.Defaults.Source = v
	}
	if v := os.Getenv("SIFT_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("SIFT_OPENAI_BASE_URL"); v != "" {
		c.Embeddings.OpenAIBaseURL = v
	}

	if v := os.Getenv("SIFT_SNAPSHOT_OBJECT_STORAGE_BUCKET"); v != "" {
		c.Snapshot.ObjectStorageBucket = v
	}

	if v := os.Getenv("SIFT_NETWORK_ENABLED"); v != "" {
		c.Network.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("SIFT_NETWORK_SELF"); v != "" {
		c.Network.Self = v
	}
	if v := os.Getenv("SIFT_NETWORK_PEERS"); v != "" {
		c.Network.Peers = strings.Split(v, ",")
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Search.MaxConcurrentSearches <= 0 {
		return fmt.Errorf("search.max_concurrent_searches must be positive, got %d", c.Search.MaxConcurrentSearches)
	}
	if c.Search.PaginationMaxTotalHits <= 0 {
		return fmt.Errorf("search.pagination_max_total_hits must be positive, got %d", c.Search.PaginationMaxTotalHits)
	}
	if c.Search.DefaultHitsPerPage <= 0 {
		return fmt.Errorf("search.default_hits_per_page must be positive, got %d", c.Search.DefaultHitsPerPage)
	}

	if c.Embeddings.Defaults.Source != "" {
		validSources := map[string]bool{
			"openai": true, "huggingface": true, "ollama": true,
			"rest": true, "userProvided": true,
		}
		if !validSources[c.Embeddings.Defaults.Source] {
			return fmt.Errorf("embeddings.defaults.source must be one of openai, huggingface, ollama, rest, userProvided, or empty; got %s", c.Embeddings.Defaults.Source)
		}
	}

	if c.Snapshot.MaxInFlightParts <= 0 {
		return fmt.Errorf("snapshot.max_in_flight_parts must be positive, got %d", c.Snapshot.MaxInFlightParts)
	}

	if c.Network.Enabled && c.Network.Self == "" {
		return fmt.Errorf("network.self must be set when network.enabled is true")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadUserConfig loads the user configuration file. Returns a nil config
// and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// TasksEnvPath returns the task-queue KV environment's data file path.
func (c *Config) TasksEnvPath() string {
	return filepath.Join(c.Paths.DataDir, "tasks", "data.mdb")
}

// AuthEnvPath returns the auth KV environment's data file path.
func (c *Config) AuthEnvPath() string {
	return filepath.Join(c.Paths.DataDir, "auth", "data.mdb")
}

// IndexEnvPath returns an index environment's data file path by its uuid.
func (c *Config) IndexEnvPath(uuid string) string {
	return filepath.Join(c.Paths.DataDir, "indexes", uuid, "data.mdb")
}

// UpdateFileDir returns the directory holding content-addressed update-file
// payloads for a given task uuid.
func (c *Config) UpdateFileDir(uuid string) string {
	return filepath.Join(c.Paths.DataDir, "update_files", uuid)
}

// VersionFilePath returns the path to the data directory's VERSION marker.
func (c *Config) VersionFilePath() string {
	return filepath.Join(c.Paths.DataDir, "VERSION")
}

// fileExists reports whether path exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
