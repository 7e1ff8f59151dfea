package chatwire

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/martinemde/relay/unifiedllm"
)

// BuildRequest translates a canonical request into a wire request body.
// Content the wire format cannot carry (file parts, provider-defined tools,
// out-of-range sampling values) fails with a MalformedInputError.
func BuildRequest(req unifiedllm.Request) (*ChatRequest, error) {
	out := &ChatRequest{
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		MaxTokens:        req.MaxTokens,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		TopLogprobs:      req.TopLogprobs,
		Seed:             req.Seed,
		Stop:             req.StopSequences,
	}
	if req.TopLogprobs != nil {
		logprobs := true
		out.Logprobs = &logprobs
	}

	switch {
	case req.Routing != nil && len(req.Routing.Models) > 0:
		out.Model = req.Routing.Models
	case req.Model != "":
		out.Model = req.Model
	default:
		return nil, unifiedllm.NewMalformedInput("model", "a model id or routing model list is required")
	}
	if req.Routing != nil {
		out.MCPServers = req.Routing.MCPServers
		out.ModelAttributes = req.Routing.ModelAttributes
		out.AgentAttributes = req.Routing.AgentAttributes
	}

	messages, err := buildMessages(req.Prompt)
	if err != nil {
		return nil, err
	}
	out.Messages = messages

	tools, err := buildTools(req.Tools)
	if err != nil {
		return nil, err
	}
	tools, choice, err := buildToolChoice(req.ToolChoice, tools)
	if err != nil {
		return nil, err
	}
	out.Tools = tools
	out.ToolChoice = choice

	format, err := buildResponseFormat(req.ResponseFormat)
	if err != nil {
		return nil, err
	}
	out.ResponseFormat = format

	if err := validateInput(out); err != nil {
		return nil, err
	}
	return out, nil
}

func buildMessages(prompt unifiedllm.Prompt) ([]ChatMessage, error) {
	messages := make([]ChatMessage, 0, len(prompt))
	for i, msg := range prompt {
		for j, part := range msg.Parts {
			if part.Kind == unifiedllm.PartFile {
				return nil, unifiedllm.NewMalformedInput(
					fmt.Sprintf("prompt[%d].parts[%d]", i, j),
					fmt.Sprintf("file parts are not supported in %s messages", msg.Role),
				)
			}
		}

		switch msg.Role {
		case unifiedllm.RoleSystem, unifiedllm.RoleUser:
			content := msg.TextContent()
			messages = append(messages, ChatMessage{Role: string(msg.Role), Content: &content})

		case unifiedllm.RoleAssistant:
			wire := ChatMessage{Role: string(unifiedllm.RoleAssistant)}
			if text := msg.TextContent(); text != "" {
				wire.Content = &text
			}
			for _, call := range msg.ToolCalls() {
				if call.ProviderExecuted {
					continue
				}
				args := "{}"
				if len(call.Params) > 0 {
					args = string(call.Params)
				}
				wire.ToolCalls = append(wire.ToolCalls, ChatToolCall{
					ID:       call.ID,
					Type:     "function",
					Function: FunctionCall{Name: call.Name, Arguments: args},
				})
			}
			messages = append(messages, wire)

		case unifiedllm.RoleTool:
			for j, part := range msg.Parts {
				if part.Kind != unifiedllm.PartToolResult || part.ToolResult == nil {
					continue
				}
				encoded, err := json.Marshal(part.ToolResult.Result)
				if err != nil {
					return nil, &unifiedllm.MalformedInputError{
						SDKError: unifiedllm.SDKError{Message: "tool result is not JSON-encodable", Cause: err},
						Field:    fmt.Sprintf("prompt[%d].parts[%d].result", i, j),
					}
				}
				content := string(encoded)
				messages = append(messages, ChatMessage{
					Role:       string(unifiedllm.RoleTool),
					Content:    &content,
					ToolCallID: part.ToolResult.ID,
				})
			}

		default:
			return nil, unifiedllm.NewMalformedInput(fmt.Sprintf("prompt[%d].role", i), fmt.Sprintf("unknown role %q", msg.Role))
		}
	}
	return messages, nil
}

func buildTools(tools []unifiedllm.Tool) ([]ChatTool, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]ChatTool, 0, len(tools))
	for i, t := range tools {
		if t.Kind == unifiedllm.ToolProviderDefined {
			return nil, unifiedllm.NewMalformedInput(
				fmt.Sprintf("tools[%d]", i),
				fmt.Sprintf("provider-defined tool %q is not supported", t.ProviderID),
			)
		}
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, ChatTool{
			Type: "function",
			Function: FunctionSpec{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
				Strict:      true,
			},
		})
	}
	return out, nil
}

// buildToolChoice returns the (possibly filtered) tool list and the wire
// tool_choice value. A nil choice means the field is omitted.
func buildToolChoice(tc *unifiedllm.ToolChoice, tools []ChatTool) ([]ChatTool, any, error) {
	if tc == nil {
		return tools, nil, nil
	}
	switch tc.Mode {
	case "", unifiedllm.ToolChoiceAuto:
		return tools, nil, nil
	case unifiedllm.ToolChoiceNone, unifiedllm.ToolChoiceRequired:
		return tools, tc.Mode, nil
	case unifiedllm.ToolChoiceTool:
		if tc.ToolName == "" {
			return nil, nil, unifiedllm.NewMalformedInput("tool_choice.tool_name", "a tool name is required")
		}
		var choice ToolChoiceFunction
		choice.Type = "function"
		choice.Function.Name = tc.ToolName
		return tools, choice, nil
	case unifiedllm.ToolChoiceAllowed:
		filtered := make([]ChatTool, 0, len(tc.AllowedTools))
		for _, t := range tools {
			if slices.Contains(tc.AllowedTools, t.Function.Name) {
				filtered = append(filtered, t)
			}
		}
		switch tc.AllowedMode {
		case unifiedllm.ToolChoiceRequired:
			return filtered, unifiedllm.ToolChoiceRequired, nil
		case "", unifiedllm.ToolChoiceAuto:
			return filtered, nil, nil
		default:
			return nil, nil, unifiedllm.NewMalformedInput("tool_choice.allowed_mode", fmt.Sprintf("unknown mode %q", tc.AllowedMode))
		}
	default:
		return nil, nil, unifiedllm.NewMalformedInput("tool_choice.mode", fmt.Sprintf("unknown mode %q", tc.Mode))
	}
}

func buildResponseFormat(rf *unifiedllm.ResponseFormat) (*ResponseFormat, error) {
	if rf == nil {
		return nil, nil
	}
	switch rf.Type {
	case "", "text":
		return nil, nil
	case "json":
		return &ResponseFormat{Type: "json_object"}, nil
	case "json_schema":
		if rf.Schema == nil {
			return nil, unifiedllm.NewMalformedInput("response_format.schema", "a schema is required")
		}
		name := rf.Name
		if name == "" {
			name = "response"
		}
		return &ResponseFormat{
			Type: "json_schema",
			JSONSchema: &JSONSchemaSpec{
				Name:        name,
				Description: rf.Description,
				Schema:      rf.Schema,
				Strict:      true,
			},
		}, nil
	default:
		return nil, unifiedllm.NewMalformedInput("response_format.type", fmt.Sprintf("unknown type %q", rf.Type))
	}
}
