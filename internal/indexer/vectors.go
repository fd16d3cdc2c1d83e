package indexer

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/siftengine/sift/internal/codec"
	"github.com/siftengine/sift/internal/embed"
	"github.com/siftengine/sift/internal/index"
	"github.com/siftengine/sift/internal/kv"
)

// embeddingKey identifies one (embedder name, document) pair's stored
// vector. The embedder name is length-prefixed so its fixed-width docid
// suffix is always recoverable, mirroring wordPositionsKey's shape.
func embeddingKey(embedderName string, docID uint32) []byte {
	return codec.Concat(codec.EncodeUint16(uint16(len(embedderName))), []byte(embedderName), codec.EncodeUint32(docID))
}

// EncodeVector serializes a float32 vector as a dimension count followed by
// each component's IEEE-754 bits, both big-endian.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4+len(v)*4)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(v)))
	for i, f := range v {
		binary.BigEndian.PutUint32(buf[4+i*4:8+i*4], math.Float32bits(f))
	}
	return buf
}

// DecodeVector is EncodeVector's inverse.
func DecodeVector(data []byte) []float32 {
	if len(data) < 4 {
		return nil
	}
	count := binary.BigEndian.Uint32(data[0:4])
	out := make([]float32, 0, count)
	for i := uint32(0); i < count; i++ {
		offset := 4 + i*4
		if int(offset+4) > len(data) {
			break
		}
		out = append(out, math.Float32frombits(binary.BigEndian.Uint32(data[offset:offset+4])))
	}
	return out
}

func PutVector(b *kv.Bucket, embedderName string, docID uint32, v []float32) error {
	return b.Put(embeddingKey(embedderName, docID), EncodeVector(v))
}

func GetVector(b *kv.Bucket, embedderName string, docID uint32) []float32 {
	return DecodeVector(b.Get(embeddingKey(embedderName, docID)))
}

func DeleteVector(b *kv.Bucket, embedderName string, docID uint32) error {
	return b.Delete(embeddingKey(embedderName, docID))
}

// embeddingKeyPrefix is the fixed part of embeddingKey shared by every
// document vector stored under embedderName.
func embeddingKeyPrefix(embedderName string) []byte {
	return codec.Concat(codec.EncodeUint16(uint16(len(embedderName))), []byte(embedderName))
}

// AllVectors enumerates every document's vector stored under embedderName,
// keyed by internal docid. Used to build a search-time HNSW graph, which
// holds no state of its own between requests.
func AllVectors(b *kv.Bucket, embedderName string) (map[uint32][]float32, error) {
	out := make(map[uint32][]float32)
	prefix := embeddingKeyPrefix(embedderName)
	b.Cursor().ForEachPrefix(prefix, func(key, value []byte) bool {
		if len(key) < 4 {
			return true
		}
		docID := binary.BigEndian.Uint32(key[len(key)-4:])
		out[docID] = DecodeVector(value)
		return true
	})
	return out, nil
}

var templateFieldPattern = regexp.MustCompile(`\{\{\s*doc\.([A-Za-z0-9_.]+)\s*\}\}`)

// RenderDocumentTemplate fills a settings embedder's documentTemplate with
// a document's field values, substituting "{{doc.fieldName}}" references.
// When template is empty, it falls back to a flat "field: value" dump over
// the document's keys in sorted order, giving every embedder something
// reasonable to embed even before an operator writes a real template.
func RenderDocumentTemplate(tmpl string, doc index.Document, maxBytes int) string {
	var rendered string
	if tmpl == "" {
		rendered = defaultDocumentText(doc)
	} else {
		rendered = templateFieldPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
			groups := templateFieldPattern.FindStringSubmatch(match)
			name := groups[1]
			v, ok := doc[name]
			if !ok {
				return ""
			}
			return fmt.Sprintf("%v", v)
		})
	}
	if maxBytes > 0 && len(rendered) > maxBytes {
		rendered = rendered[:maxBytes]
	}
	return rendered
}

func defaultDocumentText(doc index.Document) string {
	names := make([]string, 0, len(doc))
	for name := range doc {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		fmt.Fprintf(&sb, "%s: %v\n", name, doc[name])
	}
	return sb.String()
}

// embedderCache memoizes constructed embed.Embedder instances for a single
// pipeline run (e.g. one AddDocuments call embedding many documents),
// avoiding redundant client/HTTP setup per document.
type embedderCache struct {
	embedders map[string]embed.Embedder
}

func newEmbedderCache() *embedderCache {
	return &embedderCache{embedders: make(map[string]embed.Embedder)}
}

func (c *embedderCache) get(ctx context.Context, name string, cfg embed.Config) (embed.Embedder, error) {
	if e, ok := c.embedders[name]; ok {
		return e, nil
	}
	e, err := embed.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.embedders[name] = e
	return e, nil
}

func (c *embedderCache) close() {
	for _, e := range c.embedders {
		_ = e.Close()
	}
}

// EmbedDocument renders every configured embedder's document template
// against doc and runs the embedding, returning one vector per embedder
// name. User-provided embedders expect the vector supplied directly on the
// document under "_vectors.<name>" rather than generated from text; when
// that key is absent the embedder is skipped for this document.
func EmbedDocument(ctx context.Context, cache *embedderCache, settings index.Settings, doc index.Document) (map[string][]float32, error) {
	if len(settings.Embedders) == 0 {
		return nil, nil
	}
	out := make(map[string][]float32, len(settings.Embedders))
	for name, cfg := range settings.Embedders {
		if cfg.Source == embed.SourceUserProvided {
			if v, ok := userProvidedVector(doc, name); ok {
				out[name] = v
			}
			continue
		}
		embedder, err := cache.get(ctx, name, cfg)
		if err != nil {
			return nil, err
		}
		text := RenderDocumentTemplate(cfg.DocumentTemplate, doc, cfg.DocumentTemplateMaxBytes)
		if strings.TrimSpace(text) == "" {
			continue
		}
		vec, err := embedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[name] = vec
	}
	return out, nil
}

func userProvidedVector(doc index.Document, embedderName string) ([]float32, bool) {
	raw, ok := doc["_vectors"]
	if !ok {
		return nil, false
	}
	vectors, ok := raw.(map[string]any)
	if !ok {
		return nil, false
	}
	entry, ok := vectors[embedderName]
	if !ok {
		return nil, false
	}
	values, ok := entry.([]any)
	if !ok {
		return nil, false
	}
	out := make([]float32, 0, len(values))
	for _, v := range values {
		f, ok := v.(float64)
		if !ok {
			return nil, false
		}
		out = append(out, float32(f))
	}
	return out, true
}
