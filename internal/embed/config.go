package embed

import (
	"fmt"
	"sort"
)

// Source identifies which embedder variant a named embedder uses.
type Source string

const (
	SourceOpenAI       Source = "openAi"
	SourceHuggingFace  Source = "huggingFace"
	SourceOllama       Source = "ollama"
	SourceRest         Source = "rest"
	SourceUserProvided Source = "userProvided"
)

// allowedFields enumerates, per source, which Config fields may be set.
// Setting a field outside this set is a configuration error naming the
// allowed set for the chosen source.
var allowedFields = map[Source]map[string]bool{
	SourceOpenAI: {
		"source": true, "model": true, "apiKey": true, "dimensions": true,
		"url": true, "documentTemplate": true, "documentTemplateMaxBytes": true,
		"binaryQuantized": true, "distribution": true,
	},
	SourceHuggingFace: {
		"source": true, "model": true, "revision": true, "dimensions": true,
		"documentTemplate": true, "documentTemplateMaxBytes": true,
		"binaryQuantized": true, "distribution": true,
	},
	SourceOllama: {
		"source": true, "model": true, "dimensions": true, "url": true,
		"documentTemplate": true, "documentTemplateMaxBytes": true,
		"binaryQuantized": true, "distribution": true,
	},
	SourceRest: {
		"source": true, "url": true, "apiKey": true, "dimensions": true,
		"request": true, "response": true, "headers": true,
		"documentTemplate": true, "documentTemplateMaxBytes": true,
		"binaryQuantized": true, "distribution": true,
	},
	SourceUserProvided: {
		"source": true, "dimensions": true,
	},
}

// Distribution is an affine shift applied to raw similarity scores before
// they are mixed with keyword ranking scores.
type Distribution struct {
	Mean float64 `json:"mean" yaml:"mean"`
	Sigma float64 `json:"sigma" yaml:"sigma"`
}

// Config is the persisted, diffable configuration for one named embedder.
// Exactly which fields are meaningful depends on Source; SetField/Validate
// enforce the per-source allowed set.
type Config struct {
	Source Source `json:"source" yaml:"source"`

	Model    string `json:"model,omitempty" yaml:"model,omitempty"`
	Revision string `json:"revision,omitempty" yaml:"revision,omitempty"`
	APIKey   string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`

	Dimensions int    `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
	URL        string `json:"url,omitempty" yaml:"url,omitempty"`

	// Request/Response are JSON value templates used only by the REST
	// variant: Request describes how to embed `{{text}}` in the request
	// body, Response describes where to find the vector in the reply.
	Request  any `json:"request,omitempty" yaml:"request,omitempty"`
	Response any `json:"response,omitempty" yaml:"response,omitempty"`

	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	DocumentTemplate         string `json:"documentTemplate,omitempty" yaml:"documentTemplate,omitempty"`
	DocumentTemplateMaxBytes int    `json:"documentTemplateMaxBytes,omitempty" yaml:"documentTemplateMaxBytes,omitempty"`

	BinaryQuantized bool          `json:"binaryQuantized,omitempty" yaml:"binaryQuantized,omitempty"`
	Distribution    *Distribution `json:"distribution,omitempty" yaml:"distribution,omitempty"`
}

// setFields reports, as a sorted slice of field names, which optional Config
// fields hold a non-zero value.
func (c Config) setFields() []string {
	var out []string
	if c.Model != "" {
		out = append(out, "model")
	}
	if c.Revision != "" {
		out = append(out, "revision")
	}
	if c.APIKey != "" {
		out = append(out, "apiKey")
	}
	if c.Dimensions != 0 {
		out = append(out, "dimensions")
	}
	if c.URL != "" {
		out = append(out, "url")
	}
	if c.Request != nil {
		out = append(out, "request")
	}
	if c.Response != nil {
		out = append(out, "response")
	}
	if len(c.Headers) > 0 {
		out = append(out, "headers")
	}
	if c.DocumentTemplate != "" {
		out = append(out, "documentTemplate")
	}
	if c.DocumentTemplateMaxBytes != 0 {
		out = append(out, "documentTemplateMaxBytes")
	}
	if c.BinaryQuantized {
		out = append(out, "binaryQuantized")
	}
	if c.Distribution != nil {
		out = append(out, "distribution")
	}
	sort.Strings(out)
	return out
}

// Validate rejects a Config that sets a field not allowed for its Source.
func (c Config) Validate() error {
	allowed, ok := allowedFields[c.Source]
	if !ok {
		return fmt.Errorf("embed: unknown embedder source %q", c.Source)
	}
	for _, f := range c.setFields() {
		if !allowed[f] {
			return fmt.Errorf("embed: field %q is not allowed for source %q (allowed: %s)", f, c.Source, allowedFieldNames(allowed))
		}
	}
	return nil
}

func allowedFieldNames(allowed map[string]bool) string {
	var names []string
	for k := range allowed {
		if k == "source" {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}

// DiffOutcome classifies the consequence of changing an embedder's Config.
type DiffOutcome int

const (
	// NoChange means the two configurations are equivalent.
	NoChange DiffOutcome = iota
	// UpdateWithoutReindex means the change affects neither stored vectors
	// nor prompt rendering (e.g. shrinking the document template budget).
	UpdateWithoutReindex
	// RegeneratePrompts means every document's prompt must be re-rendered
	// and re-embedded, but the embedder identity itself is unchanged.
	RegeneratePrompts
	// FullReindex means the embedder identity changed enough that stored
	// vectors can no longer be trusted to come from the same model.
	FullReindex
	// Remove means the embedder was deleted; its stored vectors and
	// bitmap of user-provided documents must be dropped.
	Remove
)

func (o DiffOutcome) String() string {
	switch o {
	case NoChange:
		return "NoChange"
	case UpdateWithoutReindex:
		return "UpdateWithoutReindex"
	case RegeneratePrompts:
		return "RegeneratePrompts"
	case FullReindex:
		return "FullReindex"
	case Remove:
		return "Remove"
	default:
		return "Unknown"
	}
}

// ErrBinaryQuantizationNotReversible is returned by Diff when a config
// change attempts to toggle binary_quantized from true to false; undoing
// quantization would require vectors that were never stored in full
// precision.
var ErrBinaryQuantizationNotReversible = fmt.Errorf("embed: binary_quantized cannot be toggled from true to false")

// Diff classifies the change from an old embedder Config to a new one.
// old == nil means the embedder did not previously exist (treated as
// NoChange — there is nothing to reindex, the embedder is simply new).
// next == nil means the embedder was removed.
func Diff(old, next *Config) (DiffOutcome, error) {
	if next == nil {
		if old == nil {
			return NoChange, nil
		}
		return Remove, nil
	}
	if old == nil {
		return NoChange, nil
	}

	if old.BinaryQuantized && !next.BinaryQuantized {
		return NoChange, ErrBinaryQuantizationNotReversible
	}

	if old.Source != next.Source ||
		old.Model != next.Model ||
		old.Revision != next.Revision ||
		old.URL != next.URL ||
		!equalAny(old.Request, next.Request) ||
		!equalAny(old.Response, next.Response) ||
		!equalHeaders(old.Headers, next.Headers) ||
		old.Dimensions != next.Dimensions {
		return FullReindex, nil
	}

	if old.DocumentTemplate != next.DocumentTemplate {
		return RegeneratePrompts, nil
	}

	oldMax := old.DocumentTemplateMaxBytes
	newMax := next.DocumentTemplateMaxBytes
	if newMax > oldMax {
		return RegeneratePrompts, nil
	}
	if newMax < oldMax {
		return UpdateWithoutReindex, nil
	}

	if old.BinaryQuantized != next.BinaryQuantized || !equalDistribution(old.Distribution, next.Distribution) {
		return UpdateWithoutReindex, nil
	}

	return NoChange, nil
}

func equalHeaders(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func equalDistribution(a, b *Distribution) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

// equalAny performs a best-effort comparison of the REST request/response
// templates, which are arbitrary decoded JSON values (string, map, slice...).
func equalAny(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}
