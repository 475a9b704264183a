package tools

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
)

// mustSchema reflects a JSON schema from a tool input struct.
//
// Supported tags:
//   - json:"name" / json:",omitempty" for the wire name
//   - jsonschema:"required" to mark a required parameter
//   - jsonschema:"description=..." (no commas; they end the tag entry)
//   - jsonschema:"default=...,enum=a,enum=b,minimum=N,maximum=M"
//
// Panics on a non-reflectable type, which is a programming error.
func mustSchema(v any) map[string]any {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(v)

	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("tools: failed to marshal schema: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		panic(fmt.Sprintf("tools: failed to decode schema: %v", err))
	}

	delete(m, "$schema")
	delete(m, "$id")
	if _, ok := m["properties"]; !ok {
		m["properties"] = map[string]any{}
	}
	return m
}

// decodeArgs maps model-provided arguments onto a tool input struct.
// Numeric types are converted loosely because JSON numbers arrive as
// float64.
func decodeArgs(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to build argument decoder: %w", err)
	}
	if err := dec.Decode(args); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
