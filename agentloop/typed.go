package agentloop

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/martinemde/relay/unifiedllm"
)

func reflector() *jsonschema.Reflector {
	return &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		Anonymous:                 true,
	}
}

// SchemaFor reflects the JSON Schema of T as a plain map, suitable for
// Tool.Parameters and ResponseFormat.Schema.
func SchemaFor[T any]() (map[string]any, error) {
	var zero T
	schema := reflector().Reflect(zero)
	schema.Version = ""

	encoded, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	return out, nil
}

// NewTypedTool builds a tool whose parameter schema is reflected from T.
// Arguments are decoded into T before fn runs.
func NewTypedTool[T any](name, description string, fn func(ctx context.Context, input T) (any, error)) (RegisteredTool, error) {
	params, err := SchemaFor[T]()
	if err != nil {
		return RegisteredTool{}, fmt.Errorf("tool %s: %w", name, err)
	}

	return RegisteredTool{
		Definition: unifiedllm.Tool{
			Kind:        unifiedllm.ToolFunction,
			Name:        name,
			Description: description,
			Parameters:  params,
		},
		Handler: func(ctx context.Context, arguments json.RawMessage) (any, error) {
			var input T
			if err := json.Unmarshal(arguments, &input); err != nil {
				return nil, fmt.Errorf("invalid arguments for %s: %w", name, err)
			}
			return fn(ctx, input)
		},
	}, nil
}
