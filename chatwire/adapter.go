package chatwire

import (
	"context"
	"log/slog"
	"time"

	"github.com/martinemde/relay/unifiedllm"
)

const (
	defaultProviderName = "relay"
	defaultChatPath     = "/v1/chat/completions"
	defaultTimeout      = 120 * time.Second
)

// Adapter implements unifiedllm.ProviderAdapter over the chat-completion
// wire format: BuildRequest, then the Transport, then ParseResponse or a
// StreamAccumulator.
type Adapter struct {
	name      string
	path      string
	transport Transport
	logger    *slog.Logger
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithName sets the provider name reported by the adapter.
func WithName(name string) AdapterOption {
	return func(a *Adapter) {
		a.name = name
	}
}

// WithChatPath sets the endpoint path requests are posted to.
func WithChatPath(path string) AdapterOption {
	return func(a *Adapter) {
		a.path = path
	}
}

// WithLogger sets the adapter's logger.
func WithLogger(logger *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// NewAdapter creates an Adapter that sends requests through transport.
func NewAdapter(transport Transport, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		name:      defaultProviderName,
		path:      defaultChatPath,
		transport: transport,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements unifiedllm.ProviderAdapter.
func (a *Adapter) Name() string {
	return a.name
}

// Complete implements unifiedllm.ProviderAdapter.
func (a *Adapter) Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error) {
	body, err := BuildRequest(req)
	if err != nil {
		return nil, err
	}
	a.logger.DebugContext(ctx, "dispatching chat request", "provider", a.name, "model", body.Model, "stream", false)

	raw, err := a.transport.PostJSON(ctx, a.path, body)
	if err != nil {
		return nil, err
	}
	parts, err := ParseResponse(raw)
	if err != nil {
		return nil, err
	}

	resp := &unifiedllm.Response{Provider: a.name, Parts: parts}
	if md := resp.Metadata(); md != nil {
		resp.ID = md.ID
		resp.Model = md.ModelID
	}
	return resp, nil
}

// Stream implements unifiedllm.ProviderAdapter. Input errors and errors
// establishing the stream are returned directly; failures after that are
// delivered as a final error event.
func (a *Adapter) Stream(ctx context.Context, req unifiedllm.Request) (<-chan unifiedllm.StreamEvent, error) {
	body, err := BuildRequest(req)
	if err != nil {
		return nil, err
	}
	body.Stream = true
	a.logger.DebugContext(ctx, "dispatching chat request", "provider", a.name, "model", body.Model, "stream", true)

	stream, err := a.transport.PostStream(ctx, a.path, body)
	if err != nil {
		return nil, err
	}

	ch := make(chan unifiedllm.StreamEvent, 64)
	go func() {
		defer close(ch)
		defer stream.Close()
		a.pump(ctx, stream, ch)
	}()
	return ch, nil
}

// pump feeds stream payloads through an accumulator until the finish chunk,
// the end of the stream, or the first failure.
func (a *Adapter) pump(ctx context.Context, stream EventStream, ch chan<- unifiedllm.StreamEvent) {
	send := func(ev unifiedllm.StreamEvent) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		if ctx.Err() != nil {
			return
		}
		send(unifiedllm.StreamEvent{Type: unifiedllm.StreamError, Err: err})
	}

	acc := NewStreamAccumulator()
	for stream.Next() {
		events, err := acc.Push(stream.Data())
		for _, ev := range events {
			if !send(ev) {
				return
			}
		}
		if err != nil {
			fail(err)
			return
		}
		if acc.Done() {
			a.logger.DebugContext(ctx, "stream truncated after finish chunk", "provider", a.name)
			return
		}
	}
	if err := stream.Err(); err != nil {
		fail(err)
		return
	}
	fail(acc.End())
}
