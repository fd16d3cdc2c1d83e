package embed

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// envCacheDisabled reports whether the query-embedding cache is disabled
// via SIFT_EMBED_CACHE (off/false/0/disabled).
func envCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("SIFT_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}

// New constructs the Embedder for a named embedder's Config, dispatching on
// Config.Source. The result is validated against the source's allowed-field
// set before construction, and wrapped in a CachedEmbedder unless the source
// is userProvided or caching has been disabled via SIFT_EMBED_CACHE.
func New(ctx context.Context, cfg Config) (Embedder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var embedder Embedder
	var err error

	switch cfg.Source {
	case SourceOpenAI:
		embedder, err = NewOpenAIEmbedder(ctx, cfg)
	case SourceHuggingFace:
		embedder, err = NewHuggingFaceEmbedder(cfg)
	case SourceOllama:
		embedder, err = newOllamaFromConfig(ctx, cfg)
	case SourceRest:
		embedder, err = NewRestEmbedder(ctx, cfg)
	case SourceUserProvided:
		embedder, err = NewUserProvidedEmbedder(cfg)
	default:
		return nil, fmt.Errorf("embed: unknown embedder source %q", cfg.Source)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Source != SourceUserProvided && !envCacheDisabled() {
		embedder = NewCachedEmbedderWithDefaults(embedder)
	}
	return embedder, nil
}

// newOllamaFromConfig translates the generic embedder Config into the
// Ollama variant's richer OllamaConfig (host, retry, thermal-management
// knobs), applying SIFT_OLLAMA_* environment overrides on top.
func newOllamaFromConfig(ctx context.Context, cfg Config) (*OllamaEmbedder, error) {
	oc := DefaultOllamaConfig()
	if cfg.URL != "" {
		oc.Host = cfg.URL
	}
	if cfg.Model != "" {
		oc.Model = cfg.Model
	}
	if cfg.Dimensions != 0 {
		oc.Dimensions = cfg.Dimensions
	}

	if host := os.Getenv("SIFT_OLLAMA_HOST"); host != "" {
		oc.Host = host
	}
	if model := os.Getenv("SIFT_OLLAMA_MODEL"); model != "" {
		oc.Model = model
	}
	if timeoutStr := os.Getenv("SIFT_OLLAMA_TIMEOUT"); timeoutStr != "" {
		if timeout, err := time.ParseDuration(timeoutStr); err == nil {
			oc.Timeout = timeout
		}
	}

	applyThermalEnvOverrides(&oc)

	return NewOllamaEmbedder(ctx, oc)
}

// applyThermalEnvOverrides reads the thermal-management tunables from the
// environment, clamping each to its documented maximum.
func applyThermalEnvOverrides(oc *OllamaConfig) {
	if delayStr := os.Getenv("SIFT_OLLAMA_INTER_BATCH_DELAY"); delayStr != "" {
		if delay, err := time.ParseDuration(delayStr); err == nil && delay >= 0 {
			if delay > MaxInterBatchDelay {
				delay = MaxInterBatchDelay
			}
			oc.InterBatchDelay = delay
		}
	}
	if progressionStr := os.Getenv("SIFT_OLLAMA_TIMEOUT_PROGRESSION"); progressionStr != "" {
		if progression, err := parseFloat64(progressionStr); err == nil && progression >= 1.0 {
			if progression > MaxTimeoutProgression {
				progression = MaxTimeoutProgression
			}
			oc.TimeoutProgression = progression
		}
	}
	if retryMultStr := os.Getenv("SIFT_OLLAMA_RETRY_TIMEOUT_MULTIPLIER"); retryMultStr != "" {
		if mult, err := parseFloat64(retryMultStr); err == nil && mult >= 1.0 {
			if mult > MaxRetryTimeoutMultiplier {
				mult = MaxRetryTimeoutMultiplier
			}
			oc.RetryTimeoutMultiplier = mult
		}
	}
}

// parseFloat64 parses a string to float64, used for thermal config parsing.
func parseFloat64(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// EmbedderInfo summarizes a constructed embedder for status reporting.
type EmbedderInfo struct {
	Source     Source
	Model      string
	Dimensions int
	Available  bool
}

// GetInfo reports the source, model, dimensions, and liveness of an
// embedder, unwrapping a CachedEmbedder to classify its inner type.
func GetInfo(ctx context.Context, embedder Embedder) EmbedderInfo {
	info := EmbedderInfo{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}

	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.Inner()
	}

	switch inner.(type) {
	case *OpenAIEmbedder:
		info.Source = SourceOpenAI
	case *HuggingFaceEmbedder:
		info.Source = SourceHuggingFace
	case *OllamaEmbedder:
		info.Source = SourceOllama
	case *RestEmbedder:
		info.Source = SourceRest
	case *UserProvidedEmbedder:
		info.Source = SourceUserProvided
	}

	return info
}

// MustNew creates an embedder and panics on failure.
// Use only in tests or initialization code where failure is fatal.
func MustNew(ctx context.Context, cfg Config) Embedder {
	embedder, err := New(ctx, cfg)
	if err != nil {
		panic(fmt.Sprintf("failed to create embedder: %v", err))
	}
	return embedder
}
