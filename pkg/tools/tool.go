// Package tools defines the schema-described functions the LLM may invoke
// during a conversation turn, and the registry the chat engine executes
// them through.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Tool is a named, schema-described function exposed to the LLM.
type Tool struct {
	// Name is the function name the model calls. Connector tools are
	// prefixed with their connector type, e.g. "aws_list_buckets".
	Name string

	// Description tells the model when to use the tool.
	Description string

	// Parameters is the JSON schema of the tool's input object.
	Parameters map[string]any

	// Call executes the tool. args is the raw JSON argument object from
	// the model. A returned error becomes an {error} result the assistant
	// can relay conversationally.
	Call func(ctx context.Context, args json.RawMessage) (any, error)
}

// ParamsSchema reflects a JSON schema from a Go params struct. The schema is
// inlined (no $ref indirection) so it can be handed straight to an LLM
// provider's function-calling API.
func ParamsSchema(v any) map[string]any {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(v)

	raw, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("tools: reflect schema for %T: %v", v, err))
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("tools: decode schema for %T: %v", v, err))
	}

	// The version marker is noise in a function-call schema.
	delete(out, "$schema")
	return out
}

// UnmarshalArgs decodes a tool-call argument object into params, tolerating
// an empty argument string.
func UnmarshalArgs(args json.RawMessage, params any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, params); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
