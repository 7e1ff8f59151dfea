package unifiedllm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmAdapter wraps a gollm.LLM instance and implements ProviderAdapter, so
// any backend gollm supports can drive the same agent loop as the wire
// adapter. gollm only exposes generated text, so tool calls are recovered
// from JSON the model embeds in its answer.
type GollmAdapter struct {
	provider string
	llm      gollm.LLM
	model    string
}

// GollmAdapterOption configures a GollmAdapter.
type GollmAdapterOption func(*gollmAdapterConfig)

type gollmAdapterConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithAPIKey sets the API key for the adapter.
func WithAPIKey(key string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.apiKey = key
	}
}

// WithModel sets the default model for the adapter.
func WithModel(model string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.model = model
	}
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.maxTokens = n
	}
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.temperature = t
	}
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.extraOpts = append(c.extraOpts, opts...)
	}
}

// NewGollmAdapter creates a new GollmAdapter for the given provider.
// If apiKey is empty, gollm will attempt to read it from environment variables.
func NewGollmAdapter(provider string, apiKey string, opts ...GollmAdapterOption) (*GollmAdapter, error) {
	cfg := &gollmAdapterConfig{
		apiKey:      apiKey,
		maxTokens:   4096,
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		model = defaultGollmModel(provider)
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // We handle retries ourselves.
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}

	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}

	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gollm LLM for provider %s: %w", provider, err)
	}

	return &GollmAdapter{
		provider: provider,
		llm:      llm,
		model:    model,
	}, nil
}

// NewGollmAdapterFromLLM wraps an existing gollm.LLM instance.
func NewGollmAdapterFromLLM(provider string, llm gollm.LLM) *GollmAdapter {
	return &GollmAdapter{
		provider: provider,
		llm:      llm,
	}
}

// Name returns the provider identifier.
func (a *GollmAdapter) Name() string {
	return a.provider
}

func defaultGollmModel(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-sonnet-4-5"
	case "ollama":
		return "llama3.1"
	default:
		return "gpt-4o-mini"
	}
}

// Complete sends a blocking request and returns the parts of one turn.
func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt, err := a.translateRequest(req)
	if err != nil {
		return nil, err
	}

	// Apply request-level overrides via gollm SetOption.
	a.applyRequestOptions(req)

	text, err := a.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, a.translateError(err)
	}

	return a.buildResponse(req, text)
}

// Stream sends a request and returns a channel of StreamEvent objects.
// Tool calls can only be recognised once the whole answer is known, so they
// are emitted after the text deltas, right before the finish event.
func (a *GollmAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	prompt, err := a.translateRequest(req)
	if err != nil {
		return nil, err
	}

	a.applyRequestOptions(req)

	ch := make(chan StreamEvent, 64)

	if !a.llm.SupportsStreaming() {
		// Fallback: generate full response and replay it as events.
		go func() {
			defer close(ch)

			text, err := a.llm.Generate(ctx, prompt)
			if err != nil {
				ch <- StreamEvent{Type: StreamError, Err: a.translateError(err)}
				return
			}
			resp, err := a.buildResponse(req, text)
			if err != nil {
				ch <- StreamEvent{Type: StreamError, Err: err}
				return
			}
			for _, event := range responseEvents(resp) {
				ch <- event
			}
		}()
		return ch, nil
	}

	stream, err := a.llm.Stream(ctx, prompt)
	if err != nil {
		return nil, a.translateError(err)
	}

	go func() {
		defer close(ch)
		defer stream.Close()

		id, model := a.responseIdentity(req)
		md := ResponseMetadataPart(id, model, time.Now().UTC())
		ch <- StreamEvent{Type: StreamResponseMetadata, ID: id, Part: &md}

		var fullText strings.Builder
		for {
			token, err := stream.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				ch <- StreamEvent{Type: StreamError, Err: a.translateError(err)}
				return
			}
			if token == nil {
				continue
			}
			ch <- StreamEvent{Type: StreamTextDelta, Delta: token.Text}
			fullText.WriteString(token.Text)
		}

		final, err := a.buildResponse(req, fullText.String())
		if err != nil {
			ch <- StreamEvent{Type: StreamError, Err: err}
			return
		}
		for _, part := range final.Parts {
			switch part.Kind {
			case PartToolCall:
				p := part
				ch <- StreamEvent{Type: StreamToolCall, ID: p.ToolCall.ID, ToolName: p.ToolCall.Name, Part: &p}
			case PartFinish:
				p := part
				ch <- StreamEvent{Type: StreamFinish, Part: &p}
			}
		}
	}()

	return ch, nil
}

// responseEvents replays a complete response as stream events.
func responseEvents(resp *Response) []StreamEvent {
	var events []StreamEvent
	for _, part := range resp.Parts {
		p := part
		switch p.Kind {
		case PartResponseMetadata:
			events = append(events, StreamEvent{Type: StreamResponseMetadata, Part: &p})
		case PartText:
			events = append(events, StreamEvent{Type: StreamTextDelta, Delta: p.Text})
		case PartToolCall:
			events = append(events, StreamEvent{Type: StreamToolCall, ID: p.ToolCall.ID, ToolName: p.ToolCall.Name, Part: &p})
		case PartFinish:
			events = append(events, StreamEvent{Type: StreamFinish, Part: &p})
		}
	}
	return events
}

// SupportsToolChoice reports whether the adapter supports a particular tool choice mode.
func (a *GollmAdapter) SupportsToolChoice(mode string) bool {
	switch mode {
	case ToolChoiceAuto, ToolChoiceNone, ToolChoiceRequired:
		return true
	case ToolChoiceTool:
		return a.provider != "gemini" // Gemini has limited named tool support
	default:
		return false
	}
}

// translateRequest converts a unified Request into a gollm Prompt. gollm
// takes a single prompt string, so the conversation is flattened.
func (a *GollmAdapter) translateRequest(req Request) (*gollm.Prompt, error) {
	var systemPrompt string
	var userParts []string

	for _, msg := range req.Prompt {
		for _, part := range msg.Parts {
			if part.Kind == PartFile {
				return nil, NewMalformedInput("prompt."+string(msg.Role), "file parts are not supported by the gollm adapter")
			}
		}
		switch msg.Role {
		case RoleSystem:
			systemPrompt += msg.TextContent() + "\n"
		case RoleUser:
			userParts = append(userParts, msg.TextContent())
		case RoleAssistant:
			text := msg.TextContent()
			if text != "" {
				userParts = append(userParts, "[Assistant]: "+text)
			}
			for _, call := range msg.ToolCalls() {
				if call.ProviderExecuted {
					continue
				}
				userParts = append(userParts, fmt.Sprintf("[Tool Call %s]: %s(%s)", call.ID, call.Name, string(call.Params)))
			}
		case RoleTool:
			for _, part := range msg.Parts {
				if part.Kind != PartToolResult || part.ToolResult == nil {
					continue
				}
				content, _ := json.Marshal(part.ToolResult.Result)
				prefix := "[Tool Result]"
				if part.ToolResult.IsFailure {
					prefix = "[Tool Error]"
				}
				userParts = append(userParts, prefix+": "+string(content))
			}
		}
	}

	promptText := strings.Join(userParts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	promptOpts := []gollm.PromptOption{}

	if systemPrompt != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(strings.TrimSpace(systemPrompt), gollm.CacheTypeEphemeral))
	}

	if req.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*req.MaxTokens))
	}

	if len(req.Tools) > 0 {
		tools := make([]gollm.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			if t.Kind == ToolProviderDefined {
				return nil, NewMalformedInput("tools."+t.Name, "provider-defined tools are not supported by the gollm adapter")
			}
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(tools))
	}

	if req.ToolChoice != nil {
		mode := req.ToolChoice.Mode
		if mode == ToolChoiceAllowed {
			mode = req.ToolChoice.AllowedMode
		}
		if mode != "" && mode != ToolChoiceTool {
			promptOpts = append(promptOpts, gollm.WithToolChoice(mode))
		}
	}

	prompt := gollm.NewPrompt(promptText, promptOpts...)
	return prompt, nil
}

// applyRequestOptions applies request-level parameters to the gollm LLM.
func (a *GollmAdapter) applyRequestOptions(req Request) {
	if req.Model != "" {
		a.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		a.llm.SetOption("temperature", *req.Temperature)
	}
	if req.TopP != nil {
		a.llm.SetOption("top_p", *req.TopP)
	}
	if req.MaxTokens != nil {
		a.llm.SetOption("max_tokens", *req.MaxTokens)
	}
}

func (a *GollmAdapter) responseIdentity(req Request) (string, string) {
	model := req.Model
	if model == "" {
		model = a.model
	}
	return "resp_" + uuid.New().String()[:8], model
}

// buildResponse constructs the parts of one turn from the generated text.
// Tool-call arguments that fail the secure parse fail the turn.
func (a *GollmAdapter) buildResponse(req Request, text string) (*Response, error) {
	id, model := a.responseIdentity(req)
	parts := []Part{ResponseMetadataPart(id, model, time.Now().UTC())}

	toolCalls, err := a.parseToolCalls(text)
	if err != nil {
		return nil, err
	}
	if cleaned := a.removeToolCallJSON(text, toolCalls); cleaned != "" {
		parts = append(parts, TextPart(cleaned))
	}
	parts = append(parts, toolCalls...)

	reason := FinishReason{Reason: FinishStop, Raw: "stop"}
	if len(toolCalls) > 0 {
		reason = FinishReason{Reason: FinishToolCalls, Raw: "tool_calls"}
	}

	// gollm doesn't expose usage; estimate from text length.
	input := estimateTokens(req)
	output := len(text) / 4
	usage := Usage{
		InputTokens:  IntPtr(input),
		OutputTokens: IntPtr(output),
		TotalTokens:  IntPtr(input + output),
	}
	parts = append(parts, FinishPart(reason, usage, map[string]any{"estimated_usage": true}))

	return &Response{
		ID:       id,
		Model:    model,
		Provider: a.provider,
		Parts:    parts,
	}, nil
}

// parseToolCalls extracts tool calls the model embedded in its answer as a
// JSON array of {"name", "arguments"} objects.
func (a *GollmAdapter) parseToolCalls(text string) ([]Part, error) {
	start := strings.Index(text, `[{"name"`)
	if start == -1 {
		return nil, nil
	}

	var rawCalls []struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(text[start:]), &rawCalls); err != nil {
		return nil, nil
	}

	var calls []Part
	for i, rc := range rawCalls {
		if rc.Name == "" {
			continue
		}
		args, err := ParseToolArguments(fmt.Sprintf("tool_calls[%d].arguments", i), string(rc.Arguments))
		if err != nil {
			return nil, err
		}
		calls = append(calls, ToolCallPart("call_"+uuid.New().String()[:8], rc.Name, args))
	}
	return calls, nil
}

// removeToolCallJSON removes parsed tool call JSON from the text.
func (a *GollmAdapter) removeToolCallJSON(text string, calls []Part) string {
	if len(calls) == 0 {
		return text
	}
	if idx := strings.Index(text, `[{"name"`); idx != -1 {
		return strings.TrimSpace(text[:idx])
	}
	return text
}

// translateError converts a gollm error into the unified error hierarchy.
// gollm reports failures as strings, so classification is by message.
func (a *GollmAdapter) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	msgLower := strings.ToLower(msg)

	responseErr := func(status int, retryable bool) ResponseError {
		return ResponseError{
			SDKError:   SDKError{Message: msg, Cause: err},
			Provider:   a.provider,
			StatusCode: status,
			Retryable:  retryable,
		}
	}

	switch {
	case strings.Contains(msgLower, "401") || strings.Contains(msgLower, "unauthorized") || strings.Contains(msgLower, "invalid key") || strings.Contains(msgLower, "invalid api key"):
		return &AuthenticationError{ResponseError: responseErr(401, false)}
	case strings.Contains(msgLower, "403") || strings.Contains(msgLower, "forbidden"):
		return &AccessDeniedError{ResponseError: responseErr(403, false)}
	case strings.Contains(msgLower, "404") || strings.Contains(msgLower, "not found"):
		return &NotFoundError{ResponseError: responseErr(404, false)}
	case strings.Contains(msgLower, "429") || strings.Contains(msgLower, "rate limit"):
		return &RateLimitError{ResponseError: responseErr(429, true)}
	case strings.Contains(msgLower, "context length") || strings.Contains(msgLower, "too many tokens"):
		return &ContextLengthError{ResponseError: responseErr(413, false)}
	case strings.Contains(msgLower, "500") || strings.Contains(msgLower, "internal server"):
		return &ServerError{ResponseError: responseErr(500, true)}
	case strings.Contains(msgLower, "timeout"):
		return &RequestTimeoutError{SDKError: SDKError{Message: msg, Cause: err}}
	case strings.Contains(msgLower, "connection refused") || strings.Contains(msgLower, "no such host"):
		return &RequestError{SDKError: SDKError{Message: msg, Cause: err}}
	default:
		// Wrap as a generic response error (retryable by default).
		re := responseErr(0, true)
		return &re
	}
}

// estimateTokens provides a rough token count estimate from the prompt.
func estimateTokens(req Request) int {
	total := 0
	for _, msg := range req.Prompt {
		for _, part := range msg.Parts {
			if part.Kind == PartText {
				total += len(part.Text) / 4
			}
		}
	}
	if total == 0 {
		total = 10
	}
	return total
}
