package unifiedllm

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartKind is the discriminator tag for Part.
type PartKind string

const (
	PartText             PartKind = "text"
	PartFile             PartKind = "file"
	PartToolCall         PartKind = "tool-call"
	PartToolResult       PartKind = "tool-result"
	PartReasoning        PartKind = "reasoning"
	PartSource           PartKind = "source"
	PartResponseMetadata PartKind = "response-metadata"
	PartFinish           PartKind = "finish"
)

// FileData holds multimodal input.
type FileData struct {
	MediaType string `json:"media_type"`
	Data      []byte `json:"data"`
	FileName  string `json:"file_name,omitempty"`
}

// ToolCallData represents a model-initiated tool invocation.
type ToolCallData struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Params           json.RawMessage `json:"params"`
	ProviderExecuted bool            `json:"provider_executed,omitempty"`
}

// ToolResultData holds the result of a tool execution, correlated to a
// tool call by ID.
type ToolResultData struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Result    any    `json:"result"`
	IsFailure bool   `json:"is_failure,omitempty"`
}

// SourceData is citation metadata attached to a response.
type SourceData struct {
	ID       string         `json:"id"`
	URL      string         `json:"url"`
	Title    string         `json:"title,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ResponseMetadata identifies one response (one turn).
type ResponseMetadata struct {
	ID        string    `json:"id"`
	ModelID   string    `json:"model_id"`
	Timestamp time.Time `json:"timestamp"`
}

// FinishData is the terminal marker of a turn.
type FinishData struct {
	Reason   FinishReason   `json:"reason"`
	Usage    Usage          `json:"usage"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Part is a tagged union representing one unit of conversational content.
// Exactly one payload field matching Kind is set (text and reasoning use
// Text).
type Part struct {
	Kind             PartKind          `json:"kind"`
	Text             string            `json:"text,omitempty"`
	File             *FileData         `json:"file,omitempty"`
	ToolCall         *ToolCallData     `json:"tool_call,omitempty"`
	ToolResult       *ToolResultData   `json:"tool_result,omitempty"`
	Source           *SourceData       `json:"source,omitempty"`
	Metadata         *ResponseMetadata `json:"metadata,omitempty"`
	Finish           *FinishData       `json:"finish,omitempty"`
	ProviderMetadata map[string]any    `json:"provider_metadata,omitempty"`
}

// TextPart creates a text Part.
func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

// ReasoningPart creates a reasoning Part.
func ReasoningPart(text string) Part {
	return Part{Kind: PartReasoning, Text: text}
}

// FilePart creates a file Part.
func FilePart(mediaType string, data []byte, fileName string) Part {
	return Part{
		Kind: PartFile,
		File: &FileData{MediaType: mediaType, Data: data, FileName: fileName},
	}
}

// ToolCallPart creates a tool call Part to be executed locally.
func ToolCallPart(id, name string, params json.RawMessage) Part {
	return Part{
		Kind:     PartToolCall,
		ToolCall: &ToolCallData{ID: id, Name: name, Params: params},
	}
}

// ProviderToolCallPart creates a tool call Part that the provider already
// resolved server-side.
func ProviderToolCallPart(id, name string, params json.RawMessage) Part {
	p := ToolCallPart(id, name, params)
	p.ToolCall.ProviderExecuted = true
	return p
}

// ToolResultPart creates a tool result Part.
func ToolResultPart(id, name string, result any, isFailure bool) Part {
	return Part{
		Kind:       PartToolResult,
		ToolResult: &ToolResultData{ID: id, Name: name, Result: result, IsFailure: isFailure},
	}
}

// SourcePart creates a source (citation) Part.
func SourcePart(id, url, title string, metadata map[string]any) Part {
	return Part{
		Kind:   PartSource,
		Source: &SourceData{ID: id, URL: url, Title: title, Metadata: metadata},
	}
}

// ResponseMetadataPart creates a response-metadata Part.
func ResponseMetadataPart(id, modelID string, ts time.Time) Part {
	return Part{
		Kind:     PartResponseMetadata,
		Metadata: &ResponseMetadata{ID: id, ModelID: modelID, Timestamp: ts},
	}
}

// FinishPart creates a finish Part.
func FinishPart(reason FinishReason, usage Usage, metadata map[string]any) Part {
	return Part{
		Kind:   PartFinish,
		Finish: &FinishData{Reason: reason, Usage: usage, Metadata: metadata},
	}
}

// Message is one role-tagged entry of a Prompt.
type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// TextContent returns the text parts of the message joined by newlines.
func (m Message) TextContent() string {
	var texts []string
	for _, part := range m.Parts {
		if part.Kind == PartText {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// ToolCalls extracts all tool call data from the message.
func (m Message) ToolCalls() []ToolCallData {
	var calls []ToolCallData
	for _, part := range m.Parts {
		if part.Kind == PartToolCall && part.ToolCall != nil {
			calls = append(calls, *part.ToolCall)
		}
	}
	return calls
}

// SystemMessage creates a system Message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Parts: []Part{TextPart(text)}}
}

// UserMessage creates a user Message with text content.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{TextPart(text)}}
}

// AssistantMessage creates an assistant Message with text content.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Parts: []Part{TextPart(text)}}
}

// ToolMessage creates a tool Message holding the given results.
func ToolMessage(results ...Part) Message {
	return Message{Role: RoleTool, Parts: results}
}

// Prompt is an ordered sequence of messages. Treat it as immutable: use
// Merge and Clone instead of appending in place.
type Prompt []Message

// Merge returns a new Prompt holding p's messages followed by other's.
// Neither input is modified and the result shares no backing array with
// them.
func (p Prompt) Merge(other Prompt) Prompt {
	merged := make(Prompt, 0, len(p)+len(other))
	merged = append(merged, p...)
	merged = append(merged, other...)
	return merged
}

// Clone returns a copy of p whose message and part slices are not shared
// with p.
func (p Prompt) Clone() Prompt {
	if p == nil {
		return nil
	}
	out := make(Prompt, len(p))
	for i, msg := range p {
		parts := make([]Part, len(msg.Parts))
		copy(parts, msg.Parts)
		out[i] = Message{Role: msg.Role, Parts: parts}
	}
	return out
}

// ToolChoice modes.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceNone     = "none"
	ToolChoiceRequired = "required"
	ToolChoiceTool     = "tool"
	ToolChoiceAllowed  = "allowed"
)

// ToolChoice controls whether and how the model uses tools.
type ToolChoice struct {
	Mode         string   `json:"mode"`                    // auto, none, required, tool, allowed
	ToolName     string   `json:"tool_name,omitempty"`     // required when mode is "tool"
	AllowedTools []string `json:"allowed_tools,omitempty"` // used when mode is "allowed"
	AllowedMode  string   `json:"allowed_mode,omitempty"`  // "auto" or "required"
}

// ToolKind distinguishes user-defined function tools from opaque tools
// that only a specific provider understands.
type ToolKind string

const (
	ToolFunction        ToolKind = "function"
	ToolProviderDefined ToolKind = "provider-defined"
)

// Tool defines a tool the model can call.
type Tool struct {
	Kind        ToolKind       `json:"kind,omitempty"` // empty means function
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"` // JSON Schema
	ProviderID  string         `json:"provider_id,omitempty"`
	Args        map[string]any `json:"args,omitempty"`
}

// ResponseFormat specifies the desired output format.
type ResponseFormat struct {
	Type        string         `json:"type"` // "text", "json", "json_schema"
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"`
	Strict      bool           `json:"strict,omitempty"`
}

// Routing carries provider-side routing hints. They are forwarded verbatim
// and never interpreted locally.
type Routing struct {
	Models          []any          `json:"models,omitempty"` // model ids or model objects
	MCPServers      []string       `json:"mcp_servers,omitempty"`
	ModelAttributes map[string]any `json:"model_attributes,omitempty"`
	AgentAttributes map[string]any `json:"agent_attributes,omitempty"`
}

// Finish reasons.
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishContentFilter = "content-filter"
	FinishToolCalls     = "tool-calls"
	FinishError         = "error"
	FinishUnknown       = "unknown"
)

// FinishReason describes why generation stopped.
type FinishReason struct {
	Reason string `json:"reason"`
	Raw    string `json:"raw,omitempty"`
}

// Usage tracks token consumption. A nil field means the provider did not
// report it, which is different from zero.
type Usage struct {
	InputTokens       *int `json:"input_tokens,omitempty"`
	OutputTokens      *int `json:"output_tokens,omitempty"`
	TotalTokens       *int `json:"total_tokens,omitempty"`
	ReasoningTokens   *int `json:"reasoning_tokens,omitempty"`
	CachedInputTokens *int `json:"cached_input_tokens,omitempty"`
}

// Add returns a new Usage that is the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:       addOptionalInt(u.InputTokens, other.InputTokens),
		OutputTokens:      addOptionalInt(u.OutputTokens, other.OutputTokens),
		TotalTokens:       addOptionalInt(u.TotalTokens, other.TotalTokens),
		ReasoningTokens:   addOptionalInt(u.ReasoningTokens, other.ReasoningTokens),
		CachedInputTokens: addOptionalInt(u.CachedInputTokens, other.CachedInputTokens),
	}
}

func addOptionalInt(a, b *int) *int {
	if a == nil && b == nil {
		return nil
	}
	va, vb := 0, 0
	if a != nil {
		va = *a
	}
	if b != nil {
		vb = *b
	}
	sum := va + vb
	return &sum
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// FloatPtr returns a pointer to v.
func FloatPtr(v float64) *float64 { return &v }

// Request is the input of a single turn, for both Complete and Stream.
type Request struct {
	Model            string          `json:"model"`
	Prompt           Prompt          `json:"prompt"`
	Provider         string          `json:"provider,omitempty"`
	Tools            []Tool          `json:"tools,omitempty"`
	ToolChoice       *ToolChoice     `json:"tool_choice,omitempty"`
	ResponseFormat   *ResponseFormat `json:"response_format,omitempty"`
	Routing          *Routing        `json:"routing,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	TopLogprobs      *int            `json:"top_logprobs,omitempty"`
	Seed             *int            `json:"seed,omitempty"`
	StopSequences    []string        `json:"stop_sequences,omitempty"`
	ProviderOptions  map[string]any  `json:"provider_options,omitempty"`
}

// Response is the output of Complete: the ordered parts of one turn.
type Response struct {
	ID       string `json:"id"`
	Model    string `json:"model"`
	Provider string `json:"provider"`
	Parts    []Part `json:"parts"`
}

// Text returns the concatenated text of all text parts.
func (r Response) Text() string {
	return PartsText(r.Parts)
}

// ToolCalls extracts tool calls from the response parts.
func (r Response) ToolCalls() []ToolCallData {
	var calls []ToolCallData
	for _, part := range r.Parts {
		if part.Kind == PartToolCall && part.ToolCall != nil {
			calls = append(calls, *part.ToolCall)
		}
	}
	return calls
}

// Finish returns the terminal finish data, or nil if the turn has none.
func (r Response) Finish() *FinishData {
	return LastFinish(r.Parts)
}

// FinishReason returns the turn's finish reason, or the zero value if the
// turn has no finish part.
func (r Response) FinishReason() FinishReason {
	if f := r.Finish(); f != nil {
		return f.Reason
	}
	return FinishReason{}
}

// Usage returns the turn's usage, or the zero value if unreported.
func (r Response) Usage() Usage {
	if f := r.Finish(); f != nil {
		return f.Usage
	}
	return Usage{}
}

// Metadata returns the response metadata part's payload, if any.
func (r Response) Metadata() *ResponseMetadata {
	for _, part := range r.Parts {
		if part.Kind == PartResponseMetadata {
			return part.Metadata
		}
	}
	return nil
}

// PartsText concatenates the text of all text parts.
func PartsText(parts []Part) string {
	var sb strings.Builder
	for _, part := range parts {
		if part.Kind == PartText {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// LastFinish returns the payload of the last finish part in parts.
func LastFinish(parts []Part) *FinishData {
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i].Kind == PartFinish {
			return parts[i].Finish
		}
	}
	return nil
}

// StreamEventType identifies the kind of stream event.
type StreamEventType string

const (
	StreamResponseMetadata StreamEventType = "response-metadata"
	StreamTextDelta        StreamEventType = "text-delta"
	StreamToolParamsStart  StreamEventType = "tool-params-start"
	StreamToolParamsDelta  StreamEventType = "tool-params-delta"
	StreamToolParamsEnd    StreamEventType = "tool-params-end"
	StreamToolCall         StreamEventType = "tool-call"
	StreamToolResult       StreamEventType = "tool-result"
	StreamSource           StreamEventType = "source"
	StreamFinish           StreamEventType = "finish"
	StreamError            StreamEventType = "error"
)

// StreamEvent is a single event from a streaming response. Events that
// complete a canonical part (metadata, tool-call, tool-result, source,
// finish) carry it in Part.
type StreamEvent struct {
	Type     StreamEventType `json:"type"`
	ID       string          `json:"id,omitempty"`
	Delta    string          `json:"delta,omitempty"`
	ToolName string          `json:"tool_name,omitempty"`
	Part     *Part           `json:"part,omitempty"`
	Err      error           `json:"-"`
}
