package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_UserProvided_Succeeds(t *testing.T) {
	embedder, err := New(context.Background(), Config{
		Source:     SourceUserProvided,
		Dimensions: 384,
	})
	require.NoError(t, err)
	assert.Equal(t, 384, embedder.Dimensions())
	assert.True(t, embedder.Available(context.Background()))
}

func TestNew_UserProvided_MissingDimensions_Fails(t *testing.T) {
	_, err := New(context.Background(), Config{Source: SourceUserProvided})
	assert.Error(t, err)
}

func TestNew_UnknownSource_Fails(t *testing.T) {
	_, err := New(context.Background(), Config{Source: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestNew_DisallowedField_FailsValidation(t *testing.T) {
	_, err := New(context.Background(), Config{
		Source: SourceUserProvided,
		URL:    "http://example.com",
	})
	assert.ErrorContains(t, err, "not allowed")
}

func TestNew_OpenAI_MissingAPIKey_Fails(t *testing.T) {
	_, err := New(context.Background(), Config{Source: SourceOpenAI})
	assert.ErrorContains(t, err, "apiKey")
}

func TestNew_Rest_MissingURL_Fails(t *testing.T) {
	_, err := New(context.Background(), Config{Source: SourceRest})
	assert.ErrorContains(t, err, "url")
}

func TestNew_Rest_MissingDimensions_Fails(t *testing.T) {
	_, err := New(context.Background(), Config{
		Source:   SourceRest,
		URL:      "http://example.com/embed",
		Request:  "{{text}}",
		Response: "embedding",
	})
	assert.ErrorContains(t, err, "dimensions")
}

func TestNew_HuggingFace_MissingModel_Fails(t *testing.T) {
	_, err := New(context.Background(), Config{Source: SourceHuggingFace})
	assert.ErrorContains(t, err, "model")
}

func TestNew_HuggingFace_StubReportsUnavailable(t *testing.T) {
	embedder, err := New(context.Background(), Config{
		Source: SourceHuggingFace,
		Model:  "sentence-transformers/all-MiniLM-L6-v2",
	})
	require.NoError(t, err)
	assert.False(t, embedder.Available(context.Background()))

	_, err = embedder.Embed(context.Background(), "hello")
	assert.ErrorContains(t, err, "not implemented")
}

func TestGetInfo_UserProvided(t *testing.T) {
	embedder, err := New(context.Background(), Config{
		Source:     SourceUserProvided,
		Dimensions: 128,
	})
	require.NoError(t, err)

	info := GetInfo(context.Background(), embedder)
	assert.Equal(t, SourceUserProvided, info.Source)
	assert.Equal(t, 128, info.Dimensions)
	assert.True(t, info.Available)
}

func TestMustNew_PanicsOnError(t *testing.T) {
	assert.Panics(t, func() {
		MustNew(context.Background(), Config{Source: "carrier-pigeon"})
	})
}

func TestEnvCacheDisabled(t *testing.T) {
	t.Setenv("SIFT_EMBED_CACHE", "false")
	assert.True(t, envCacheDisabled())

	t.Setenv("SIFT_EMBED_CACHE", "")
	assert.False(t, envCacheDisabled())
}

func TestNew_UserProvided_NotWrappedInCache(t *testing.T) {
	embedder, err := New(context.Background(), Config{
		Source:     SourceUserProvided,
		Dimensions: 8,
	})
	require.NoError(t, err)

	_, isCached := embedder.(*CachedEmbedder)
	assert.False(t, isCached, "userProvided embedders never call a model, so caching them is pointless")
}

func TestNew_Rest_WrappedInCache(t *testing.T) {
	embedder, err := New(context.Background(), Config{
		Source:     SourceRest,
		URL:        "http://example.com/embed",
		Request:    "{{text}}",
		Response:   "embedding",
		Dimensions: 16,
	})
	require.NoError(t, err)

	_, isCached := embedder.(*CachedEmbedder)
	assert.True(t, isCached)
}
