package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var personSchema = map[string]any{
	"type":     "object",
	"required": []any{"name"},
	"properties": map[string]any{
		"name": map[string]any{"type": "string", "minLength": float64(1)},
		"age":  map[string]any{"type": "integer", "minimum": float64(0)},
	},
	"additionalProperties": false,
}

func TestValidateInput_Valid(t *testing.T) {
	v := NewValidator()

	res, err := v.ValidateInput(personSchema, map[string]any{"name": "ada", "age": 36})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
}

func TestValidateInput_MissingRequiredField(t *testing.T) {
	v := NewValidator()

	res, err := v.ValidateInput(personSchema, map[string]any{"age": 36})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	require.NotEmpty(t, res.Errors)
}

func TestValidateInput_WrongType(t *testing.T) {
	v := NewValidator()

	res, err := v.ValidateInput(personSchema, map[string]any{"name": "ada", "age": "old"})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, "/age", res.Errors[0].Field)
}

func TestValidateInput_NoSchemaAcceptsAnything(t *testing.T) {
	v := NewValidator()

	res, err := v.ValidateInput(nil, map[string]any{"whatever": true})
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestValidateInput_MalformedSchemaIsError(t *testing.T) {
	v := NewValidator()

	_, err := v.ValidateInput(map[string]any{"type": 42}, map[string]any{})
	assert.Error(t, err)
}

func TestValidateInput_CachesCompiledSchemas(t *testing.T) {
	v := NewValidator()

	for i := 0; i < 3; i++ {
		res, err := v.ValidateInput(personSchema, map[string]any{"name": "x"})
		require.NoError(t, err)
		assert.True(t, res.Valid)
	}
	assert.Len(t, v.cache, 1)
}
