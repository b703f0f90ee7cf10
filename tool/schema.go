package tool

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaFromStruct reflects a Go struct into the JSON-schema shape a
// ToolSpec.Parameters field expects, the same way the source generates tool
// parameter schemas from request structs (DoNotReference avoids $ref
// indirection the target models don't always resolve well).
func SchemaFromStruct(v any) (map[string]any, error) {
	reflector := &jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(v)

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("tool: failed to marshal reflected schema: %w", err)
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("tool: failed to decode reflected schema: %w", err)
	}
	return out, nil
}
