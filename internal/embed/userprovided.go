package embed

import (
	"context"
	"fmt"
)

// UserProvidedEmbedder backs embedders whose vectors are supplied directly
// in documents (`_vectors.<name>`) rather than computed from a prompt. It
// never calls out to a model: Embed/EmbedBatch exist only to satisfy the
// Embedder interface and reject calls, since the indexer must never attempt
// to render a prompt or compute a vector for a userProvided embedder — it
// reads whatever vector(s) the document already carries.
type UserProvidedEmbedder struct {
	dims int
}

var _ Embedder = (*UserProvidedEmbedder)(nil)

// NewUserProvidedEmbedder creates a userProvided embedder of the given
// dimensionality. Dimensions is mandatory: there is no model response to
// auto-detect it from.
func NewUserProvidedEmbedder(cfg Config) (*UserProvidedEmbedder, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embed: userProvided source requires dimensions")
	}
	return &UserProvidedEmbedder{dims: cfg.Dimensions}, nil
}

func (e *UserProvidedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embed: userProvided embedder cannot compute vectors from a prompt")
}

func (e *UserProvidedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("embed: userProvided embedder cannot compute vectors from a prompt")
}

func (e *UserProvidedEmbedder) Dimensions() int   { return e.dims }
func (e *UserProvidedEmbedder) ModelName() string { return "userProvided" }

// Available is always true: there is no remote service to be unavailable.
func (e *UserProvidedEmbedder) Available(ctx context.Context) bool { return true }

func (e *UserProvidedEmbedder) Close() error { return nil }

func (e *UserProvidedEmbedder) SetBatchIndex(idx int)      {}
func (e *UserProvidedEmbedder) SetFinalBatch(isFinal bool) {}
