package agentloop

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/martinemde/relay/unifiedllm"
)

// ObjectResult is the outcome of a structured-output run.
type ObjectResult struct {
	*Result
	// Object is the JSON value decoded from the most recent turn that
	// produced one.
	Object json.RawMessage
}

// RunObject executes the loop with req.ResponseFormat applied to every turn
// and returns the last JSON value any turn produced. Intermediate values
// are superseded by later ones. A run in which no turn produced a value
// fails with NoObjectGeneratedError.
func (a *Agent) RunObject(ctx context.Context, req unifiedllm.Request) (*ObjectResult, error) {
	return a.runObject(ctx, req, func(raw []byte) error {
		var v any
		return json.Unmarshal(raw, &v)
	})
}

// GenerateObject runs the loop with a response schema reflected from T and
// decodes the final object into T.
func GenerateObject[T any](ctx context.Context, agent *Agent, req unifiedllm.Request) (T, *ObjectResult, error) {
	var zero T
	schema, err := SchemaFor[T]()
	if err != nil {
		return zero, nil, &unifiedllm.ConfigurationError{SDKError: unifiedllm.SDKError{Message: "cannot reflect output schema", Cause: err}}
	}
	req.ResponseFormat = &unifiedllm.ResponseFormat{
		Type:   "json_schema",
		Schema: schema,
		Strict: true,
	}

	var last T
	res, err := agent.runObject(ctx, req, func(raw []byte) error {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		last = v
		return nil
	})
	if err != nil {
		return zero, nil, err
	}
	return last, res, nil
}

func (a *Agent) runObject(ctx context.Context, req unifiedllm.Request, decode func([]byte) error) (*ObjectResult, error) {
	if req.ResponseFormat == nil || req.ResponseFormat.Type == "" || req.ResponseFormat.Type == "text" {
		return nil, unifiedllm.NewMalformedInput("response_format", "structured output requires a json or json_schema response format")
	}

	var (
		object  json.RawMessage
		lastErr error
	)
	res, err := a.run(ctx, req, func(parts []unifiedllm.Part) {
		raw := extractJSON(unifiedllm.PartsText(parts))
		if len(raw) == 0 {
			return
		}
		if err := decode(raw); err != nil {
			lastErr = err
			return
		}
		object = raw
	})
	if err != nil {
		return nil, err
	}
	if object == nil {
		return nil, &unifiedllm.NoObjectGeneratedError{SDKError: unifiedllm.SDKError{
			Message: "no turn produced a decodable object",
			Cause:   lastErr,
		}}
	}
	return &ObjectResult{Result: res, Object: object}, nil
}

// extractJSON trims whitespace and an enclosing markdown code fence.
func extractJSON(text string) []byte {
	raw := bytes.TrimSpace([]byte(text))
	if !bytes.HasPrefix(raw, []byte("```")) {
		return raw
	}
	raw = bytes.TrimPrefix(raw, []byte("```"))
	if nl := bytes.IndexByte(raw, '\n'); nl >= 0 {
		raw = raw[nl+1:]
	}
	raw = bytes.TrimSuffix(bytes.TrimSpace(raw), []byte("```"))
	return bytes.TrimSpace(raw)
}
