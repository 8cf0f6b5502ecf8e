package intent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/intentexec/internal/orcherr"
)

type fakeValidator struct {
	err error
}

func (f fakeValidator) Validate(v any) error { return f.err }

func TestValidateToolParameters_NoSchemaReturnsUnknownTool(t *testing.T) {
	result, err := ValidateToolParameters("calendar.create", map[string]any{}, nil)

	require.Error(t, err)
	var orchErr *orcherr.Error
	require.True(t, errors.As(err, &orchErr))
	assert.Equal(t, orcherr.CodeUnknownTool, orchErr.Code)
	assert.False(t, result.Valid)
}

func TestValidateToolParameters_FailedValidationReturnsSchemaValidationFailed(t *testing.T) {
	result, err := ValidateToolParameters("calendar.create", map[string]any{"title": 1}, fakeValidator{err: errors.New("title: expected string")})

	require.Error(t, err)
	var orchErr *orcherr.Error
	require.True(t, errors.As(err, &orchErr))
	assert.Equal(t, orcherr.CodeSchemaValidationFailed, orchErr.Code)
	assert.False(t, result.Valid)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "calendar.create", result.Issues[0].Field)
}

func TestValidateToolParameters_ValidReturnsNoError(t *testing.T) {
	result, err := ValidateToolParameters("calendar.create", map[string]any{"title": "ok"}, fakeValidator{})

	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Issues)
}
