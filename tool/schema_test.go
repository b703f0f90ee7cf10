package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type exampleToolParams struct {
	Path      string `json:"path" jsonschema:"required,description=File path to read"`
	MaxLines  int    `json:"maxLines,omitempty" jsonschema:"description=Maximum number of lines to return"`
}

func TestSchemaFromStruct(t *testing.T) {
	schema, err := SchemaFromStruct(&exampleToolParams{})
	require.NoError(t, err)

	assert.Equal(t, "object", schema["type"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok, "expected properties map in reflected schema")
	assert.Contains(t, props, "path")
	assert.Contains(t, props, "maxLines")
}
