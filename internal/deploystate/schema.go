package deploystate

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// stateSchema guards against half-written or hand-edited state documents:
// a document that fails validation is state corruption, not a parse quirk.
const stateSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": [
    "deployment_id",
    "status",
    "started_at",
    "updated_at",
    "components",
    "completed_components",
    "failed_components",
    "in_progress_components"
  ],
  "properties": {
    "deployment_id": {"type": "string", "minLength": 1},
    "workspace": {"type": "string"},
    "platform": {"type": "string"},
    "status": {
      "type": "string",
      "enum": ["initializing", "in_progress", "completed", "failed", "interrupted"]
    },
    "started_at": {"type": "string"},
    "updated_at": {"type": "string"},
    "completed_at": {"type": "string"},
    "components": {"type": "array", "items": {"type": "string"}},
    "completed_components": {"type": "array", "items": {"type": "string"}},
    "failed_components": {"type": "array", "items": {"type": "string"}},
    "in_progress_components": {"type": "array", "items": {"type": "string"}},
    "component_errors": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    },
    "git": {"type": "object"}
  }
}`

var compiledSchema *gojsonschema.Schema

func init() {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(stateSchema))
	if err != nil {
		panic(fmt.Sprintf("deploystate: invalid embedded schema: %v", err))
	}
	compiledSchema = schema
}

// validateDocument checks raw JSON against the state schema.
func validateDocument(data []byte) error {
	result, err := compiledSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validate state document: %w", err)
	}
	if !result.Valid() {
		first := result.Errors()[0]
		return fmt.Errorf("state document invalid: %s: %s", first.Field(), first.Description())
	}
	return nil
}
