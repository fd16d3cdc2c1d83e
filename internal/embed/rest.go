package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// restPlaceholder is substituted into the Config.Request template wherever
// it appears, recursively, for each text being embedded.
const restPlaceholder = "{{text}}"

// RestEmbedder calls an arbitrary HTTP endpoint using user-supplied request
// and response JSON templates. Request describes the request body shape
// with restPlaceholder standing in for the document prompt; Response
// describes where in the reply body the embedding vector lives, as a plain
// dotted path with no placeholder (e.g. "data.embedding").
type RestEmbedder struct {
	client *http.Client
	cfg    Config

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*RestEmbedder)(nil)

// NewRestEmbedder creates an embedder that POSTs to Config.URL using the
// request/response templates in Config.
func NewRestEmbedder(ctx context.Context, cfg Config) (*RestEmbedder, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("embed: rest source requires url")
	}
	if cfg.Request == nil {
		return nil, fmt.Errorf("embed: rest source requires request template")
	}
	if cfg.Response == nil {
		return nil, fmt.Errorf("embed: rest source requires response template")
	}
	if cfg.Dimensions == 0 {
		return nil, fmt.Errorf("embed: rest source requires dimensions (cannot auto-detect against an arbitrary template)")
	}

	return &RestEmbedder{
		client: &http.Client{Timeout: DefaultWarmTimeout},
		cfg:    cfg,
	}, nil
}

// renderRequest substitutes restPlaceholder for text throughout the request
// template, recursing into maps and slices.
func renderRequest(template any, text string) any {
	switch v := template.(type) {
	case string:
		return strings.ReplaceAll(v, restPlaceholder, text)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = renderRequest(val, text)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = renderRequest(val, text)
		}
		return out
	default:
		return v
	}
}

// extractResponse walks a dotted path (e.g. "data.0.embedding") through a
// decoded JSON response and returns the []float32 found there.
func extractResponse(body map[string]any, path string) ([]float32, error) {
	var cur any = body
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("embed: response path %q: key %q not found", path, part)
			}
			cur = v
		case []any:
			var idx int
			if _, err := fmt.Sscanf(part, "%d", &idx); err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("embed: response path %q: invalid index %q", path, part)
			}
			cur = node[idx]
		default:
			return nil, fmt.Errorf("embed: response path %q: cannot descend into %T", path, cur)
		}
	}

	values, ok := cur.([]any)
	if !ok {
		return nil, fmt.Errorf("embed: response path %q did not resolve to an array", path)
	}
	out := make([]float32, len(values))
	for i, v := range values {
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("embed: response path %q: element %d is not numeric", path, i)
		}
		out[i] = float32(f)
	}
	return out, nil
}

func (e *RestEmbedder) doEmbed(ctx context.Context, text string) ([]float32, error) {
	responsePath, ok := e.cfg.Response.(string)
	if !ok {
		return nil, fmt.Errorf("embed: rest response template must be a dotted path string")
	}

	reqValue := renderRequest(e.cfg.Request, text)
	body, err := json.Marshal(reqValue)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}
	for k, v := range e.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to embedder endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	vec, err := extractResponse(decoded, responsePath)
	if err != nil {
		return nil, err
	}
	return normalizeVector(vec), nil
}

// Embed generates an embedding for a single text.
func (e *RestEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.cfg.Dimensions), nil
	}
	return WithRetryResult(ctx, DefaultRetryConfig(), func() ([]float32, error) {
		return e.doEmbed(ctx, text)
	})
}

// EmbedBatch calls the endpoint once per text; unlike Ollama/OpenAI, a
// user-templated endpoint has no portable batch request shape to assume.
func (e *RestEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = vec
	}
	return results, nil
}

func (e *RestEmbedder) Dimensions() int   { return e.cfg.Dimensions }
func (e *RestEmbedder) ModelName() string { return "rest:" + e.cfg.URL }

func (e *RestEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

func (e *RestEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}

func (e *RestEmbedder) SetBatchIndex(idx int)      {}
func (e *RestEmbedder) SetFinalBatch(isFinal bool) {}
