package chatwire

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/martinemde/relay/unifiedllm"
)

// ChatRequest is the chat-completion request body.
type ChatRequest struct {
	Model            any             `json:"model" validate:"required"` // string, or array of strings/objects
	Messages         []ChatMessage   `json:"messages,omitempty" validate:"required_without=Input,dive"`
	Input            any             `json:"input,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	TopP             *float64        `json:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`
	MaxTokens        *int            `json:"max_tokens,omitempty" validate:"omitempty,gte=1"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty" validate:"omitempty,gte=-2,lte=2"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty" validate:"omitempty,gte=-2,lte=2"`
	Logprobs         *bool           `json:"logprobs,omitempty"`
	TopLogprobs      *int            `json:"top_logprobs,omitempty" validate:"omitempty,gte=0,lte=20"`
	Seed             *int            `json:"seed,omitempty"`
	Stop             []string        `json:"stop,omitempty"`
	Tools            []ChatTool      `json:"tools,omitempty" validate:"dive"`
	ToolChoice       any             `json:"tool_choice,omitempty"` // "none", "required", or a function selector
	ResponseFormat   *ResponseFormat `json:"response_format,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
	MCPServers       []string        `json:"mcp_servers,omitempty"`
	ModelAttributes  map[string]any  `json:"model_attributes,omitempty"`
	AgentAttributes  map[string]any  `json:"agent_attributes,omitempty"`
}

// ChatMessage is one request message. Content is a pointer so an assistant
// message with only tool calls serializes content as null.
type ChatMessage struct {
	Role       string         `json:"role" validate:"oneof=system user assistant tool"`
	Content    *string        `json:"content"`
	ToolCalls  []ChatToolCall `json:"tool_calls,omitempty" validate:"dive"`
	ToolCallID string         `json:"tool_call_id,omitempty" validate:"required_if=Role tool"`
}

// ChatTool is a function tool definition.
type ChatTool struct {
	Type     string       `json:"type" validate:"eq=function"`
	Function FunctionSpec `json:"function"`
}

// FunctionSpec describes a callable function.
type FunctionSpec struct {
	Name        string         `json:"name" validate:"required"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
	Strict      bool           `json:"strict"`
}

// ToolChoiceFunction forces a specific function.
type ToolChoiceFunction struct {
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
	} `json:"function"`
}

// ResponseFormat requests structured output.
type ResponseFormat struct {
	Type       string          `json:"type"`
	JSONSchema *JSONSchemaSpec `json:"json_schema,omitempty"`
}

// JSONSchemaSpec is the json_schema response format payload.
type JSONSchemaSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"`
	Strict      bool           `json:"strict"`
}

// ChatToolCall is a complete tool call, in requests and non-streaming
// responses.
type ChatToolCall struct {
	ID       string       `json:"id" validate:"required"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names a function and carries its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name" validate:"required"`
	Arguments string `json:"arguments"`
}

// ChatCompletion is the non-streaming response body.
type ChatCompletion struct {
	ID              string         `json:"id"`
	Object          string         `json:"object"`
	Created         int64          `json:"created"`
	Model           string         `json:"model"`
	Choices         []Choice       `json:"choices" validate:"required,min=1,dive"`
	Usage           *ChatUsage     `json:"usage,omitempty"`
	ToolsExecuted   []string       `json:"tools_executed,omitempty"`
	MCPServerErrors map[string]any `json:"mcp_server_errors,omitempty"`
}

// Choice is one non-streaming completion choice.
type Choice struct {
	Index        int              `json:"index"`
	Message      *ResponseMessage `json:"message" validate:"required"`
	FinishReason *string          `json:"finish_reason"`
}

// ResponseMessage is the assistant message of a choice.
type ResponseMessage struct {
	Role        string         `json:"role"`
	Content     *string        `json:"content"`
	Refusal     *string        `json:"refusal"`
	ToolCalls   []ChatToolCall `json:"tool_calls,omitempty" validate:"dive"`
	Annotations []Annotation   `json:"annotations,omitempty"`
}

// Annotation is a message annotation. Only url_citation is interpreted.
type Annotation struct {
	Type        string       `json:"type"`
	URLCitation *URLCitation `json:"url_citation,omitempty"`
}

// URLCitation cites a web source for part of the answer.
type URLCitation struct {
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
}

// ChatUsage is the wire token usage report.
type ChatUsage struct {
	PromptTokens            *int                     `json:"prompt_tokens" validate:"omitempty,gte=0"`
	CompletionTokens        *int                     `json:"completion_tokens" validate:"omitempty,gte=0"`
	TotalTokens             *int                     `json:"total_tokens" validate:"omitempty,gte=0"`
	PromptTokensDetails     *PromptTokensDetails     `json:"prompt_tokens_details,omitempty"`
	CompletionTokensDetails *CompletionTokensDetails `json:"completion_tokens_details,omitempty"`
}

type PromptTokensDetails struct {
	CachedTokens *int `json:"cached_tokens" validate:"omitempty,gte=0"`
}

type CompletionTokensDetails struct {
	ReasoningTokens *int `json:"reasoning_tokens" validate:"omitempty,gte=0"`
}

// ChatCompletionChunk is one streamed SSE payload.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices" validate:"required,dive"`
	Usage   *ChatUsage    `json:"usage,omitempty"`
}

// ChunkChoice is one streamed choice.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChunkDelta is the incremental message content of a chunk.
type ChunkDelta struct {
	Role      string          `json:"role,omitempty"`
	Content   *string         `json:"content,omitempty"`
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty" validate:"dive"`
}

// ToolCallDelta is a tool-call fragment keyed by its position in the
// response. ID and function name only arrive in the first fragment.
type ToolCallDelta struct {
	Index    int            `json:"index" validate:"gte=0"`
	ID       *string        `json:"id,omitempty"`
	Type     string         `json:"type,omitempty"`
	Function *FunctionDelta `json:"function,omitempty"`
}

// FunctionDelta carries a name and an argument fragment.
type FunctionDelta struct {
	Name      *string `json:"name,omitempty"`
	Arguments *string `json:"arguments,omitempty"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func schemaValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// fieldError describes the first validation failure as a wire field path
// (e.g. "choices[0].message") and a message.
func fieldError(err error) (string, string) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "", err.Error()
	}
	fe := verrs[0]
	path := fe.Namespace()
	if i := strings.Index(path, "."); i >= 0 {
		path = path[i+1:]
	}
	msg := fmt.Sprintf("failed %q validation", fe.Tag())
	if fe.Param() != "" {
		msg = fmt.Sprintf("failed %q validation (%s)", fe.Tag(), fe.Param())
	}
	return path, msg
}

// decodeOutput unmarshals a server payload into v and validates it. Any
// failure is a MalformedOutputError naming the offending field.
func decodeOutput(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return unifiedllm.NewMalformedOutput("", "invalid JSON", err)
	}
	if err := schemaValidator().Struct(v); err != nil {
		field, msg := fieldError(err)
		return unifiedllm.NewMalformedOutput(field, msg, nil)
	}
	return nil
}

// validateInput checks a built request body. Failures are
// MalformedInputErrors and are raised before any network call.
func validateInput(req *ChatRequest) error {
	if err := schemaValidator().Struct(req); err != nil {
		field, msg := fieldError(err)
		return unifiedllm.NewMalformedInput(field, msg)
	}
	return nil
}
