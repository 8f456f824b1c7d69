package agent

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// SchemaFor reflects a JSON Schema for the tool argument struct T.
//
// Field names come from json tags, descriptions from jsonschema_description
// tags, and constraints from jsonschema tags. The result is inlined (no
// $defs) because provider tool declarations reject references.
func SchemaFor[T any]() json.RawMessage {
	reflector := &jsonschema.Reflector{
		DoNotReference:             true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		RequiredFromJSONSchemaTags: true,
	}
	schema := reflector.Reflect(new(T))
	schema.Version = ""
	schema.ID = ""

	data, err := json.Marshal(schema)
	if err != nil {
		panic("reflect tool schema: " + err.Error())
	}
	return data
}
