package unifiedllm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Layer wraps one call kind. It receives the request and the downstream
// handler and decides whether, and with what request, to call it.
type Layer[T any] func(ctx context.Context, req Request, next func(context.Context, Request) (T, error)) (T, error)

// Middleware wraps Complete calls.
type Middleware = Layer[*Response]

// StreamMiddleware wraps Stream calls. It sees only the call that opens the
// stream, not the events.
type StreamMiddleware = Layer[<-chan StreamEvent]

// Client routes requests to registered adapters by provider name. Complete
// and Stream pass through the configured middleware, outermost first, and
// optionally through a whole-call retry that sits outside all middleware.
//
// A Client is itself a ProviderAdapter, so an agent can run over it.
type Client struct {
	mu              sync.RWMutex
	providers       map[string]ProviderAdapter
	defaultProvider string
	middleware      []Middleware
	streamMW        []StreamMiddleware
	retry           *RetryPolicy
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers adapter under name.
func WithProvider(name string, adapter ProviderAdapter) ClientOption {
	return func(c *Client) {
		c.providers[name] = adapter
	}
}

// WithDefaultProvider names the adapter used when a request leaves
// Provider empty.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) {
		c.defaultProvider = name
	}
}

// WithMiddleware appends Complete middleware.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) {
		c.middleware = append(c.middleware, mw...)
	}
}

// WithStreamMiddleware appends Stream middleware.
func WithStreamMiddleware(mw ...StreamMiddleware) ClientOption {
	return func(c *Client) {
		c.streamMW = append(c.streamMW, mw...)
	}
}

// WithRetryPolicy retries whole calls that fail with a retryable error. For
// Stream only opening the stream is retried; errors delivered as events
// are the consumer's to handle.
func WithRetryPolicy(policy RetryPolicy) ClientOption {
	return func(c *Client) {
		c.retry = &policy
	}
}

// NewClient creates a Client. With exactly one provider and no explicit
// default, that provider becomes the default.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{providers: make(map[string]ProviderAdapter)}
	for _, opt := range opts {
		opt(c)
	}
	if c.defaultProvider == "" && len(c.providers) == 1 {
		for name := range c.providers {
			c.defaultProvider = name
		}
	}
	return c
}

// RegisterProvider adds adapter under name. The first provider registered
// on a Client without a default becomes the default.
func (c *Client) RegisterProvider(name string, adapter ProviderAdapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[name] = adapter
	if c.defaultProvider == "" {
		c.defaultProvider = name
	}
}

// Name reports the default provider.
func (c *Client) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultProvider
}

func (c *Client) resolveProvider(req Request) (ProviderAdapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := req.Provider
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "no provider specified and no default provider configured",
		}}
	}
	adapter, ok := c.providers[name]
	if !ok {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("provider %q is not registered", name),
		}}
	}
	return adapter, nil
}

// Complete sends req to its provider.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	adapter, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}
	if req.Provider == "" {
		req.Provider = adapter.Name()
	}
	return dispatch(ctx, req, c.retry, chain(adapter.Complete, c.middleware))
}

// Stream opens a stream with req's provider.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	adapter, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}
	if req.Provider == "" {
		req.Provider = adapter.Name()
	}
	return dispatch(ctx, req, c.retry, chain(adapter.Stream, c.streamMW))
}

// Close closes every registered adapter that implements Closer and returns
// the first error.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var firstErr error
	for _, adapter := range c.providers {
		if closer, ok := adapter.(Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// chain wraps final in layers so that layers[0] runs first.
func chain[T any](final func(context.Context, Request) (T, error), layers []Layer[T]) func(context.Context, Request) (T, error) {
	handler := final
	for i := len(layers) - 1; i >= 0; i-- {
		layer, next := layers[i], handler
		handler = func(ctx context.Context, r Request) (T, error) {
			return layer(ctx, r, next)
		}
	}
	return handler
}

func dispatch[T any](ctx context.Context, req Request, policy *RetryPolicy, handler func(context.Context, Request) (T, error)) (T, error) {
	if policy == nil {
		return handler(ctx, req)
	}
	return Retry(ctx, *policy, func(ctx context.Context) (T, error) {
		return handler(ctx, req)
	})
}

// LoggingMiddleware logs each completion with its provider, model, finish
// reason and latency. Prompt content is never logged.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		if err != nil {
			logger.WarnContext(ctx, "completion failed",
				"provider", req.Provider,
				"model", req.Model,
				"duration", time.Since(start),
				"error", err)
			return nil, err
		}
		logger.DebugContext(ctx, "completion finished",
			"provider", req.Provider,
			"model", req.Model,
			"response_model", resp.Model,
			"finish_reason", resp.FinishReason().Reason,
			"duration", time.Since(start))
		return resp, nil
	}
}
