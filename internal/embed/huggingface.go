package embed

import (
	"context"
	"fmt"
	"sync"
)

// HuggingFaceEmbedder is meant to load a named HuggingFace model revision
// locally (download via the Hub, run inference in-process) rather than call
// a remote API. That requires an embedded tensor runtime this module does
// not yet pull in, so this is a stub: it validates configuration and model
// bookkeeping (ModelName/Dimensions/Available) but Embed/EmbedBatch return a
// structured "not implemented" error rather than silently falling back to
// another source.
type HuggingFaceEmbedder struct {
	model    string
	revision string
	dims     int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*HuggingFaceEmbedder)(nil)

// NewHuggingFaceEmbedder validates a huggingFace Config and returns a stub
// embedder for it.
func NewHuggingFaceEmbedder(cfg Config) (*HuggingFaceEmbedder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("embed: huggingFace source requires model")
	}
	dims := cfg.Dimensions
	if dims == 0 {
		dims = DefaultDimensions
	}
	return &HuggingFaceEmbedder{
		model:    cfg.Model,
		revision: cfg.Revision,
		dims:     dims,
	}, nil
}

func (e *HuggingFaceEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embed: local huggingFace inference is not implemented (model %s)", e.model)
}

func (e *HuggingFaceEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("embed: local huggingFace inference is not implemented (model %s)", e.model)
}

func (e *HuggingFaceEmbedder) Dimensions() int { return e.dims }

func (e *HuggingFaceEmbedder) ModelName() string {
	if e.revision != "" {
		return e.model + "@" + e.revision
	}
	return e.model
}

// Available always reports false: there is no local runtime to be ready.
func (e *HuggingFaceEmbedder) Available(ctx context.Context) bool { return false }

func (e *HuggingFaceEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *HuggingFaceEmbedder) SetBatchIndex(idx int)      {}
func (e *HuggingFaceEmbedder) SetFinalBatch(isFinal bool) {}
