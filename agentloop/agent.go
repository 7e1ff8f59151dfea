package agentloop

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/martinemde/relay/unifiedllm"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// Config holds the loop limits.
type Config struct {
	// MaxTurns caps the number of model turns per run.
	MaxTurns int `json:"max_turns"`
	// ToolConcurrency caps concurrent local tool executions within a turn.
	ToolConcurrency int `json:"tool_concurrency"`
	// MaxToolOutputChars bounds string tool results fed back to the model.
	// Zero means the default; negative disables the bound.
	MaxToolOutputChars int `json:"max_tool_output_chars"`
	// MaxToolOutputLines bounds string tool results by line count after
	// character truncation. Zero disables it.
	MaxToolOutputLines int `json:"max_tool_output_lines,omitempty"`
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() Config {
	return Config{
		MaxTurns:           10,
		ToolConcurrency:    4,
		MaxToolOutputChars: 30000,
	}
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithToolExecutor sets the collaborator that resolves local tool calls.
// Its tools are advertised on requests that do not name tools themselves.
func WithToolExecutor(tools ToolExecutor) Option {
	return func(a *Agent) {
		a.tools = tools
	}
}

// WithMetrics registers the agent's Prometheus collectors on registry.
func WithMetrics(registry *prometheus.Registry) Option {
	return func(a *Agent) {
		a.metrics = newMetricsProvider(registry)
	}
}

// Agent runs the ReAct loop: it calls the single-turn capability, resolves
// requested tools, and feeds the results back until the model stops asking
// for tools or the turn limit is reached. An Agent holds no per-run state
// and may be shared between goroutines.
type Agent struct {
	provider unifiedllm.ProviderAdapter
	tools    ToolExecutor
	config   Config
	logger   *slog.Logger
	metrics  *metricsProvider
}

// New creates an Agent over provider. Zero config fields take their
// DefaultConfig values.
func New(provider unifiedllm.ProviderAdapter, config Config, opts ...Option) *Agent {
	defaults := DefaultConfig()
	if config.MaxTurns <= 0 {
		config.MaxTurns = defaults.MaxTurns
	}
	if config.ToolConcurrency <= 0 {
		config.ToolConcurrency = defaults.ToolConcurrency
	}
	if config.MaxToolOutputChars == 0 {
		config.MaxToolOutputChars = defaults.MaxToolOutputChars
	}

	a := &Agent{
		provider: provider,
		config:   config,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Result is the outcome of a run.
type Result struct {
	// Parts holds every turn's parts in order. Only the final turn's finish
	// part is kept.
	Parts []unifiedllm.Part
	// Turns is the number of model turns taken.
	Turns int
	// FinishReason is the final turn's finish reason.
	FinishReason unifiedllm.FinishReason
	// TotalUsage sums the usage reported by every turn.
	TotalUsage unifiedllm.Usage
	// TurnLimitReached is set when the run stopped at MaxTurns while the
	// model was still asking for tools. FinishReason is then tool-calls.
	TurnLimitReached bool
}

// Text returns the concatenated text of all turns.
func (r *Result) Text() string {
	return unifiedllm.PartsText(r.Parts)
}

// ToolCalls returns every tool call made during the run.
func (r *Result) ToolCalls() []unifiedllm.ToolCallData {
	return (&unifiedllm.Response{Parts: r.Parts}).ToolCalls()
}

// runState is owned by one run.
type runState struct {
	turns      int
	history    unifiedllm.Prompt
	parts      []unifiedllm.Part
	usage      unifiedllm.Usage
	lastFinish *unifiedllm.Part
	done       bool
}

// Run executes the loop starting from req.Prompt. The first error from any
// turn is returned and the parts gathered so far are discarded.
func (a *Agent) Run(ctx context.Context, req unifiedllm.Request) (*Result, error) {
	return a.run(ctx, req, nil)
}

// run drives the loop. observe, when set, sees each turn's parts after its
// tools have been resolved.
func (a *Agent) run(ctx context.Context, req unifiedllm.Request, observe func([]unifiedllm.Part)) (*Result, error) {
	start := time.Now()
	defer a.metrics.ObserveRun(start)

	req = a.prepare(req)
	st := &runState{history: req.Prompt}

	for !st.done && st.turns < a.config.MaxTurns {
		if err := ctx.Err(); err != nil {
			return nil, abortError(err)
		}
		st.turns++
		a.logger.Debug("agent turn started", "turn", st.turns, "model", req.Model)

		turnReq := req
		turnReq.Prompt = st.history
		resp, err := a.provider.Complete(ctx, turnReq)
		if err != nil {
			return nil, err
		}

		parts, _, err := a.finishTurn(ctx, st, resp.Parts)
		if err != nil {
			return nil, err
		}
		if observe != nil {
			observe(parts)
		}
	}

	return a.result(st), nil
}

// finishTurn folds one turn into st and resolves its tool calls when the
// model expects another turn. It returns the turn's parts without the
// finish part, and separately the tool results it resolved.
func (a *Agent) finishTurn(ctx context.Context, st *runState, parts []unifiedllm.Part) ([]unifiedllm.Part, []unifiedllm.Part, error) {
	body, finish := withoutFinish(parts)
	if finish == nil || finish.Finish == nil {
		return nil, nil, unifiedllm.NewMalformedOutput("finish", "turn ended without a finish part", nil)
	}
	reason := finish.Finish.Reason.Reason
	st.usage = st.usage.Add(finish.Finish.Usage)
	a.metrics.IncrementTurns(reason)
	a.logger.Debug("agent turn finished", "turn", st.turns, "finish_reason", reason)

	if !continues(reason) {
		st.parts = append(st.parts, parts...)
		st.lastFinish = finish
		st.done = true
		return body, nil, nil
	}

	results, err := a.executeTools(ctx, body)
	if err != nil {
		return nil, nil, err
	}
	body = append(body, results...)
	st.parts = append(st.parts, body...)
	st.history = SpliceTurn(st.history, body)
	st.lastFinish = finish
	return body, results, nil
}

func (a *Agent) result(st *runState) *Result {
	res := &Result{
		Parts:      st.parts,
		Turns:      st.turns,
		TotalUsage: st.usage,
	}
	if !st.done && st.lastFinish != nil {
		// The turn limit cut the run short; surface the last turn's own
		// finish so the parts still end in exactly one finish.
		res.Parts = append(res.Parts, *st.lastFinish)
		res.TurnLimitReached = true
		a.logger.Debug("agent turn limit reached", "turns", st.turns)
	}
	if st.lastFinish != nil {
		res.FinishReason = st.lastFinish.Finish.Reason
	}
	return res
}

// prepare clones the prompt and fills in the executor's tools.
func (a *Agent) prepare(req unifiedllm.Request) unifiedllm.Request {
	req.Prompt = req.Prompt.Clone()
	if a.tools != nil && len(req.Tools) == 0 {
		req.Tools = a.tools.Tools()
	}
	return req
}

// executeTools resolves the locally executed tool calls among parts.
// Results keep call order. Tool failures become failed tool-results; only
// cancellation fails the turn.
func (a *Agent) executeTools(ctx context.Context, parts []unifiedllm.Part) ([]unifiedllm.Part, error) {
	var calls []unifiedllm.ToolCallData
	for _, part := range parts {
		if part.Kind == unifiedllm.PartToolCall && part.ToolCall != nil && !part.ToolCall.ProviderExecuted {
			calls = append(calls, *part.ToolCall)
		}
	}
	if len(calls) == 0 {
		return nil, nil
	}

	results := make([]unifiedllm.Part, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.ToolConcurrency)
	for i, call := range calls {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i] = a.toolFailure(call, fmt.Sprintf("tool panicked: %v", r))
				}
			}()
			results[i] = a.executeTool(gctx, call)
			return nil
		})
	}
	// Tool failures are carried in results, so no goroutine returns an error.
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, abortError(err)
	}
	return results, nil
}

func (a *Agent) executeTool(ctx context.Context, call unifiedllm.ToolCallData) unifiedllm.Part {
	if a.tools == nil {
		return a.toolFailure(call, "no tool executor is configured")
	}

	part, err := a.tools.ExecuteTool(ctx, call)
	if err != nil {
		return a.toolFailure(call, err.Error())
	}
	if part.Kind != unifiedllm.PartToolResult || part.ToolResult == nil {
		return a.toolFailure(call, "tool returned no result")
	}
	result := *part.ToolResult
	result.ID = call.ID
	part.ToolResult = &result
	a.metrics.IncrementToolCalls(call.Name, result.IsFailure)
	return a.truncateResult(part)
}

func (a *Agent) toolFailure(call unifiedllm.ToolCallData, msg string) unifiedllm.Part {
	a.logger.Warn("tool execution failed", "tool", call.Name, "call_id", call.ID, "error", msg)
	a.metrics.IncrementToolCalls(call.Name, true)
	return unifiedllm.ToolResultPart(call.ID, call.Name, msg, true)
}

func abortError(err error) error {
	return &unifiedllm.AbortError{SDKError: unifiedllm.SDKError{Message: "agent run cancelled", Cause: err}}
}
