package embed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate_RejectsDisallowedField(t *testing.T) {
	cfg := Config{Source: SourceOllama, Headers: map[string]string{"X-Foo": "bar"}}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "headers")
	assert.ErrorContains(t, err, "ollama")
}

func TestConfig_Validate_AllowsSourceFields(t *testing.T) {
	cfg := Config{Source: SourceRest, URL: "http://x", Request: "{{text}}", Response: "embedding", Headers: map[string]string{"X-Foo": "bar"}}
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_UnknownSource(t *testing.T) {
	cfg := Config{Source: "bogus"}
	assert.Error(t, cfg.Validate())
}

func TestDiff_NewEmbedder_IsNoChange(t *testing.T) {
	next := &Config{Source: SourceOllama, Model: "m"}
	outcome, err := Diff(nil, next)
	assert.NoError(t, err)
	assert.Equal(t, NoChange, outcome)
}

func TestDiff_RemovedEmbedder(t *testing.T) {
	old := &Config{Source: SourceOllama, Model: "m"}
	outcome, err := Diff(old, nil)
	assert.NoError(t, err)
	assert.Equal(t, Remove, outcome)
}

func TestDiff_BothNil_IsNoChange(t *testing.T) {
	outcome, err := Diff(nil, nil)
	assert.NoError(t, err)
	assert.Equal(t, NoChange, outcome)
}

func TestDiff_SourceChange_ForcesFullReindex(t *testing.T) {
	old := &Config{Source: SourceOllama, Model: "m"}
	next := &Config{Source: SourceOpenAI, Model: "m"}
	outcome, err := Diff(old, next)
	assert.NoError(t, err)
	assert.Equal(t, FullReindex, outcome)
}

func TestDiff_ModelChange_ForcesFullReindex(t *testing.T) {
	old := &Config{Source: SourceOllama, Model: "a"}
	next := &Config{Source: SourceOllama, Model: "b"}
	outcome, _ := Diff(old, next)
	assert.Equal(t, FullReindex, outcome)
}

func TestDiff_URLChange_ForcesFullReindex(t *testing.T) {
	old := &Config{Source: SourceRest, URL: "http://a", Request: "r", Response: "resp", Dimensions: 8}
	next := &Config{Source: SourceRest, URL: "http://b", Request: "r", Response: "resp", Dimensions: 8}
	outcome, _ := Diff(old, next)
	assert.Equal(t, FullReindex, outcome)
}

func TestDiff_HeadersChange_ForcesFullReindex(t *testing.T) {
	old := &Config{Source: SourceRest, URL: "http://a", Headers: map[string]string{"A": "1"}}
	next := &Config{Source: SourceRest, URL: "http://a", Headers: map[string]string{"A": "2"}}
	outcome, _ := Diff(old, next)
	assert.Equal(t, FullReindex, outcome)
}

func TestDiff_PromptTemplateChange_RegeneratesPrompts(t *testing.T) {
	old := &Config{Source: SourceOllama, Model: "m", DocumentTemplate: "{{doc.title}}"}
	next := &Config{Source: SourceOllama, Model: "m", DocumentTemplate: "{{doc.title}} {{doc.body}}"}
	outcome, err := Diff(old, next)
	assert.NoError(t, err)
	assert.Equal(t, RegeneratePrompts, outcome)
}

func TestDiff_MaxBytesIncrease_RegeneratesPrompts(t *testing.T) {
	old := &Config{Source: SourceOllama, Model: "m", DocumentTemplateMaxBytes: 200}
	next := &Config{Source: SourceOllama, Model: "m", DocumentTemplateMaxBytes: 400}
	outcome, _ := Diff(old, next)
	assert.Equal(t, RegeneratePrompts, outcome)
}

func TestDiff_MaxBytesDecrease_NoReindex(t *testing.T) {
	old := &Config{Source: SourceOllama, Model: "m", DocumentTemplateMaxBytes: 400}
	next := &Config{Source: SourceOllama, Model: "m", DocumentTemplateMaxBytes: 200}
	outcome, _ := Diff(old, next)
	assert.Equal(t, UpdateWithoutReindex, outcome)
}

func TestDiff_BinaryQuantizedTrueToFalse_Rejected(t *testing.T) {
	old := &Config{Source: SourceOllama, Model: "m", BinaryQuantized: true}
	next := &Config{Source: SourceOllama, Model: "m", BinaryQuantized: false}
	_, err := Diff(old, next)
	assert.ErrorIs(t, err, ErrBinaryQuantizationNotReversible)
}

func TestDiff_BinaryQuantizedFalseToTrue_UpdateWithoutReindex(t *testing.T) {
	old := &Config{Source: SourceOllama, Model: "m", BinaryQuantized: false}
	next := &Config{Source: SourceOllama, Model: "m", BinaryQuantized: true}
	outcome, err := Diff(old, next)
	assert.NoError(t, err)
	assert.Equal(t, UpdateWithoutReindex, outcome)
}

func TestDiff_DistributionChange_UpdateWithoutReindex(t *testing.T) {
	old := &Config{Source: SourceOllama, Model: "m", Distribution: &Distribution{Mean: 0.5, Sigma: 0.1}}
	next := &Config{Source: SourceOllama, Model: "m", Distribution: &Distribution{Mean: 0.6, Sigma: 0.1}}
	outcome, err := Diff(old, next)
	assert.NoError(t, err)
	assert.Equal(t, UpdateWithoutReindex, outcome)
}

func TestDiff_Identical_NoChange(t *testing.T) {
	old := &Config{Source: SourceOllama, Model: "m", DocumentTemplateMaxBytes: 400}
	next := &Config{Source: SourceOllama, Model: "m", DocumentTemplateMaxBytes: 400}
	outcome, err := Diff(old, next)
	assert.NoError(t, err)
	assert.Equal(t, NoChange, outcome)
}

func TestDiffOutcome_String(t *testing.T) {
	assert.Equal(t, "FullReindex", FullReindex.String())
	assert.Equal(t, "Remove", Remove.String())
}
