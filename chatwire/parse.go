package chatwire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/martinemde/relay/unifiedllm"
)

// ParseResponse decodes and validates a non-streaming response body and
// converts it to canonical parts.
func ParseResponse(body []byte) ([]unifiedllm.Part, error) {
	var completion ChatCompletion
	if err := decodeOutput(body, &completion); err != nil {
		return nil, err
	}
	return ConvertCompletion(&completion)
}

// ConvertCompletion converts a completion to canonical parts, in order:
// response metadata, text, refusal, sources, tool calls, finish, and finally
// provider-executed tool calls. A completion without a first choice message
// is a MalformedOutputError.
func ConvertCompletion(c *ChatCompletion) ([]unifiedllm.Part, error) {
	if c == nil || len(c.Choices) == 0 {
		return nil, unifiedllm.NewMalformedOutput("choices", "response has no choices", nil)
	}
	choice := c.Choices[0]
	msg := choice.Message
	if msg == nil {
		return nil, unifiedllm.NewMalformedOutput("choices[0].message", "choice has no message", nil)
	}

	parts := []unifiedllm.Part{
		unifiedllm.ResponseMetadataPart(c.ID, c.Model, unixTime(c.Created)),
	}

	if msg.Content != nil {
		parts = append(parts, unifiedllm.TextPart(*msg.Content))
	}
	if msg.Refusal != nil {
		refusal := unifiedllm.TextPart("")
		refusal.ProviderMetadata = map[string]any{"refusal": *msg.Refusal}
		parts = append(parts, refusal)
	}

	for _, ann := range msg.Annotations {
		if ann.Type != "url_citation" || ann.URLCitation == nil {
			continue
		}
		cite := ann.URLCitation
		parts = append(parts, unifiedllm.SourcePart(uuid.NewString(), cite.URL, cite.Title, map[string]any{
			"start_index": cite.StartIndex,
			"end_index":   cite.EndIndex,
		}))
	}

	for i, call := range msg.ToolCalls {
		params, err := unifiedllm.ParseToolArguments(fmt.Sprintf("choices[0].message.tool_calls[%d].function.arguments", i), call.Function.Arguments)
		if err != nil {
			return nil, err
		}
		parts = append(parts, unifiedllm.ToolCallPart(call.ID, call.Function.Name, params))
	}

	var metadata map[string]any
	if len(c.MCPServerErrors) > 0 {
		metadata = map[string]any{"mcp_server_errors": c.MCPServerErrors}
	}
	parts = append(parts, unifiedllm.FinishPart(
		resolveFinishReason(choice.FinishReason, len(msg.ToolCalls) > 0),
		convertUsage(c.Usage),
		metadata,
	))

	for _, name := range c.ToolsExecuted {
		parts = append(parts, unifiedllm.ProviderToolCallPart(uuid.NewString(), name, json.RawMessage("{}")))
	}
	return parts, nil
}

// resolveFinishReason maps a wire finish_reason to a canonical one. Any tool
// call in the turn takes precedence over the wire value.
func resolveFinishReason(raw *string, hasToolCalls bool) unifiedllm.FinishReason {
	var fr unifiedllm.FinishReason
	if raw != nil {
		fr.Raw = *raw
	}
	switch {
	case hasToolCalls:
		fr.Reason = unifiedllm.FinishToolCalls
	case raw == nil:
		fr.Reason = unifiedllm.FinishStop
	default:
		switch *raw {
		case "stop":
			fr.Reason = unifiedllm.FinishStop
		case "length":
			fr.Reason = unifiedllm.FinishLength
		case "content_filter":
			fr.Reason = unifiedllm.FinishContentFilter
		case "tool_calls", "function_call":
			fr.Reason = unifiedllm.FinishToolCalls
		default:
			fr.Reason = unifiedllm.FinishUnknown
		}
	}
	return fr
}

func convertUsage(u *ChatUsage) unifiedllm.Usage {
	if u == nil {
		return unifiedllm.Usage{}
	}
	usage := unifiedllm.Usage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  u.TotalTokens,
	}
	if u.PromptTokensDetails != nil {
		usage.CachedInputTokens = u.PromptTokensDetails.CachedTokens
	}
	if u.CompletionTokensDetails != nil {
		usage.ReasoningTokens = u.CompletionTokensDetails.ReasoningTokens
	}
	return usage
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
