package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// GenerateSchema derives an inline JSON Schema from an input struct. Field
// descriptions come from jsonschema_description tags.
func GenerateSchema[T any]() json.RawMessage {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := r.Reflect(v)
	schema.Version = ""
	raw, err := json.Marshal(schema)
	if err != nil {
		panic("tools: marshal schema: " + err.Error())
	}
	return raw
}

// decode unmarshals tool arguments, treating empty input as an empty object.
func decode(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	return json.Unmarshal(args, v)
}
