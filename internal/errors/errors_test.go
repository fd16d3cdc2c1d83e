package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSiftError_Unwrap_PreservesOriginalError(t *testing.T) {
	originalErr := errors.New("original error")

	siftErr := New(CodeInternal, "index not found: test", originalErr)

	require.NotNil(t, siftErr)
	assert.Equal(t, originalErr, errors.Unwrap(siftErr))
	assert.True(t, errors.Is(siftErr, originalErr))
}

func TestSiftError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{
			name:     "index not found",
			code:     CodeIndexNotFound,
			message:  "Index `books` not found.",
			expected: "[index_not_found] Index `books` not found.",
		},
		{
			name:     "invalid document id",
			code:     CodeInvalidDocumentID,
			message:  "Document identifier is invalid.",
			expected: "[invalid_document_id] Document identifier is invalid.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestSiftError_Is_MatchesByCode(t *testing.T) {
	err1 := New(CodeIndexNotFound, "index A not found", nil)
	err2 := New(CodeIndexNotFound, "index B not found", nil)

	assert.True(t, errors.Is(err1, err2))
}

func TestSiftError_Is_DoesNotMatchDifferentCodes(t *testing.T) {
	err1 := New(CodeIndexNotFound, "index not found", nil)
	err2 := New(CodeTaskNotFound, "task not found", nil)

	assert.False(t, errors.Is(err1, err2))
}

func TestSiftError_WithDetails_AddsContext(t *testing.T) {
	err := New(CodeIndexNotFound, "index not found", nil)

	err = err.WithDetail("indexUid", "books")
	err = err.WithDetail("taskUid", "42")

	assert.Equal(t, "books", err.Details["indexUid"])
	assert.Equal(t, "42", err.Details["taskUid"])
}

func TestSiftError_WithSuggestion_AddsSuggestion(t *testing.T) {
	err := New(CodeInvalidDocumentFilter, "filter is invalid", nil)

	err = err.WithSuggestion("Check the filterable attributes for this index")

	assert.Equal(t, "Check the filterable attributes for this index", err.Suggestion)
}

func TestSiftError_CategoryFromCode(t *testing.T) {
	tests := []struct {
		code     string
		expected Category
	}{
		{CodeInvalidIndexUID, CategoryValidation},
		{CodeIndexNotFound, CategoryState},
		{CodePayloadTooLarge, CategoryCapacity},
		{CodeMalformedPayload, CategoryExecution},
		{CodeInternal, CategorySystem},
	}

	for _, tt := range tests {
		err := New(tt.code, "msg", nil)
		assert.Equal(t, tt.expected, err.Category, "code %s", tt.code)
	}
}

func TestSiftError_SeverityFromCode(t *testing.T) {
	assert.Equal(t, SeverityFatal, New(CodeInternal, "msg", nil).Severity)
	assert.Equal(t, SeverityError, New(CodeIndexNotFound, "msg", nil).Severity)
}

func TestWrap_CreatesSiftErrorFromError(t *testing.T) {
	cause := errors.New("boom")
	wrapped := Wrap(CodeInternal, cause)

	require.NotNil(t, wrapped)
	assert.Equal(t, CodeInternal, wrapped.Code)
	assert.Equal(t, "boom", wrapped.Message)
	assert.Equal(t, cause, wrapped.Cause)
}

func TestWrap_NilError_ReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(CodeInternal, nil))
}

func TestIndexNotFound_CreatesStateError(t *testing.T) {
	err := IndexNotFound("books")

	assert.Equal(t, CodeIndexNotFound, err.Code)
	assert.Equal(t, CategoryState, err.Category)
	assert.Equal(t, "books", err.Details["indexUid"])
}

func TestTaskNotFound_CreatesStateError(t *testing.T) {
	err := TaskNotFound(42)

	assert.Equal(t, CodeTaskNotFound, err.Code)
	assert.Equal(t, "42", err.Details["taskUid"])
}

func TestIsRetryable_ChecksRetryableFlag(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(errors.New("plain error")))
	assert.False(t, IsRetryable(New(CodeInternal, "msg", nil)))
}

func TestIsFatal_ChecksFatalSeverity(t *testing.T) {
	assert.True(t, IsFatal(New(CodeInternal, "msg", nil)))
	assert.False(t, IsFatal(New(CodeIndexNotFound, "msg", nil)))
	assert.False(t, IsFatal(nil))
	assert.False(t, IsFatal(errors.New("plain error")))
}

func TestGetCode_ExtractsCode(t *testing.T) {
	assert.Equal(t, CodeIndexNotFound, GetCode(New(CodeIndexNotFound, "msg", nil)))
	assert.Equal(t, "", GetCode(errors.New("plain")))
}

func TestGetCategory_ExtractsCategory(t *testing.T) {
	assert.Equal(t, CategoryState, GetCategory(New(CodeIndexNotFound, "msg", nil)))
	assert.Equal(t, Category(""), GetCategory(errors.New("plain")))
}
