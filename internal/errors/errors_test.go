package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppError_Codes(t *testing.T) {
	tests := []struct {
		err  *AppError
		code string
	}{
		{NewValidationError("bad", nil), "VALIDATION_ERROR"},
		{NewNotFoundError("missing", nil), "NOT_FOUND"},
		{NewProcessingError("boom", nil), "PROCESSING_ERROR"},
		{NewExtractionError("section", nil), "EXTRACTION_ERROR"},
		{NewMaskingError("record", nil), "MASKING_ERROR"},
		{NewLLMError("groq", nil), "LLM_ERROR"},
		{NewTimeoutError("slow", nil), "TIMEOUT"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.code, tt.err.Code)
	}
}

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewProcessingError("write batch", cause)

	assert.Equal(t, "write batch: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "no cause", NewValidationError("no cause", nil).Error())
}

func TestIsHelpers(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NewNotFoundError("batch", nil))

	assert.True(t, IsNotFoundError(wrapped))
	assert.False(t, IsValidationError(wrapped))
	assert.True(t, IsMaskingError(NewMaskingError("x", nil)))
	assert.True(t, IsLLMError(NewLLMError("x", nil)))
	assert.False(t, IsLLMError(errors.New("plain")))
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError(nil, "ignored", ErrorTypeProcessing))

	plain := WrapError(errors.New("eof"), "read input", ErrorTypeValidation)
	errType, ok := TypeOf(plain)
	require.True(t, ok)
	assert.Equal(t, ErrorTypeValidation, errType)

	rewrapped := WrapError(NewMaskingError("mask", nil), "record 3", ErrorTypeProcessing)
	errType, ok = TypeOf(rewrapped)
	require.True(t, ok)
	assert.Equal(t, ErrorTypeMasking, errType)
	assert.Contains(t, rewrapped.Error(), "record 3: mask")
}
