package unifiedllm

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

// mockAdapter is a test double for ProviderAdapter.
type mockAdapter struct {
	name     string
	response *Response
	err      error
	events   []StreamEvent
	closed   bool
	lastReq  Request
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func (m *mockAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	ch := make(chan StreamEvent, len(m.events))
	for _, e := range m.events {
		ch <- e
	}
	close(ch)
	return ch, nil
}

func (m *mockAdapter) Close() error {
	m.closed = true
	return nil
}

func newMockAdapter(name, text string) *mockAdapter {
	return &mockAdapter{
		name: name,
		response: &Response{
			ID:       "test_resp",
			Model:    "test-model",
			Provider: name,
			Parts: []Part{
				ResponseMetadataPart("test_resp", "test-model", testTime),
				TextPart(text),
				FinishPart(FinishReason{Reason: FinishStop, Raw: "stop"}, Usage{
					InputTokens:  IntPtr(10),
					OutputTokens: IntPtr(20),
					TotalTokens:  IntPtr(30),
				}, nil),
			},
		},
	}
}

func hi() Prompt { return Prompt{UserMessage("Hi")} }

func TestClientComplete(t *testing.T) {
	mock := newMockAdapter("test-provider", "Hello!")
	client := NewClient(
		WithProvider("test-provider", mock),
		WithDefaultProvider("test-provider"),
	)

	resp, err := client.Complete(context.Background(), Request{Model: "test-model", Prompt: hi()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "Hello!" {
		t.Errorf("expected text %q, got %q", "Hello!", resp.Text())
	}
	if resp.Provider != "test-provider" {
		t.Errorf("expected provider %q, got %q", "test-provider", resp.Provider)
	}
	if mock.lastReq.Provider != "test-provider" {
		t.Errorf("expected request provider to be filled in, got %q", mock.lastReq.Provider)
	}
}

func TestClientProviderRouting(t *testing.T) {
	primary := newMockAdapter("primary", "primary response")
	fallback := newMockAdapter("fallback", "fallback response")

	client := NewClient(
		WithProvider("primary", primary),
		WithProvider("fallback", fallback),
		WithDefaultProvider("primary"),
	)

	// Explicit provider.
	resp, err := client.Complete(context.Background(), Request{Model: "m", Prompt: hi(), Provider: "fallback"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "fallback response" {
		t.Errorf("expected fallback response, got %q", resp.Text())
	}

	// Default provider.
	resp, err = client.Complete(context.Background(), Request{Model: "m", Prompt: hi()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "primary response" {
		t.Errorf("expected primary response, got %q", resp.Text())
	}
	if client.Name() != "primary" {
		t.Errorf("expected client name %q, got %q", "primary", client.Name())
	}
}

func TestClientNoProvider(t *testing.T) {
	client := NewClient()
	_, err := client.Complete(context.Background(), Request{Model: "test-model", Prompt: hi()})
	if err == nil {
		t.Fatal("expected error for no provider")
	}
	if _, ok := err.(*ConfigurationError); !ok {
		t.Errorf("expected ConfigurationError, got %T", err)
	}
}

func TestClientUnknownProvider(t *testing.T) {
	client := NewClient(WithProvider("a", newMockAdapter("a", "x")))
	_, err := client.Complete(context.Background(), Request{Model: "m", Prompt: hi(), Provider: "b"})
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("configuration errors must not be retryable")
	}
}

func TestClientMiddleware(t *testing.T) {
	mock := newMockAdapter("test", "response")
	called := false

	mw := func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		called = true
		return next(ctx, req)
	}

	client := NewClient(
		WithProvider("test", mock),
		WithMiddleware(mw),
	)

	_, err := client.Complete(context.Background(), Request{Model: "test-model", Prompt: hi()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("middleware was not called")
	}
}

func TestClientMiddlewareOrder(t *testing.T) {
	mock := newMockAdapter("test", "response")
	var order []int

	mw1 := func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		order = append(order, 1)
		resp, err := next(ctx, req)
		order = append(order, -1)
		return resp, err
	}
	mw2 := func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		order = append(order, 2)
		resp, err := next(ctx, req)
		order = append(order, -2)
		return resp, err
	}

	client := NewClient(
		WithProvider("test", mock),
		WithMiddleware(mw1, mw2),
	)

	_, err := client.Complete(context.Background(), Request{Model: "test-model", Prompt: hi()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Onion pattern: first registered runs first for request, reverse for response.
	expected := []int{1, 2, -2, -1}
	if len(order) != len(expected) {
		t.Fatalf("expected %d middleware calls, got %d", len(expected), len(order))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Errorf("position %d: expected %d, got %d", i, v, order[i])
		}
	}
}

func TestClientStream(t *testing.T) {
	finish := FinishPart(FinishReason{Reason: FinishStop}, Usage{}, nil)
	mock := &mockAdapter{
		name: "test",
		events: []StreamEvent{
			{Type: StreamTextDelta, Delta: "Hello"},
			{Type: StreamTextDelta, Delta: " world"},
			{Type: StreamFinish, Part: &finish},
		},
	}

	var seen int
	streamMW := func(ctx context.Context, req Request, next func(context.Context, Request) (<-chan StreamEvent, error)) (<-chan StreamEvent, error) {
		seen++
		return next(ctx, req)
	}

	client := NewClient(WithProvider("test", mock), WithStreamMiddleware(streamMW))
	ch, err := client.Stream(context.Background(), Request{Model: "test-model", Prompt: hi()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var events []StreamEvent
	for event := range ch {
		events = append(events, event)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Delta != "Hello" {
		t.Errorf("expected delta %q, got %q", "Hello", events[0].Delta)
	}
	if seen != 1 {
		t.Errorf("expected stream middleware to run once, ran %d times", seen)
	}
}

func fastRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, BaseDelay: 0.001, MaxDelay: 0.01, BackoffMultiplier: 2}
}

func TestClientRetryPolicy(t *testing.T) {
	mock := newMockAdapter("test", "Hello!")
	attempts := 0
	flaky := func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		attempts++
		if attempts == 1 {
			return nil, &RequestError{SDKError: SDKError{Message: "connection reset"}}
		}
		return next(ctx, req)
	}

	client := NewClient(WithProvider("test", mock), WithMiddleware(flaky), WithRetryPolicy(fastRetryPolicy()))
	resp, err := client.Complete(context.Background(), Request{Model: "test-model", Prompt: hi()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts through the middleware, got %d", attempts)
	}
	if resp.Text() != "Hello!" {
		t.Errorf("expected %q, got %q", "Hello!", resp.Text())
	}
}

func TestClientRetryPolicySkipsPermanentErrors(t *testing.T) {
	mock := &mockAdapter{name: "test", err: NewMalformedInput("prompt", "bad")}
	attempts := 0
	counting := func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		attempts++
		return next(ctx, req)
	}

	client := NewClient(WithProvider("test", mock), WithMiddleware(counting), WithRetryPolicy(fastRetryPolicy()))
	_, err := client.Complete(context.Background(), Request{Prompt: hi()})

	var malformed *MalformedInputError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedInputError, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected a single attempt, got %d", attempts)
	}
}

func TestClientStreamRetryPolicy(t *testing.T) {
	finish := FinishPart(FinishReason{Reason: FinishStop}, Usage{}, nil)
	mock := &mockAdapter{name: "test", events: []StreamEvent{{Type: StreamFinish, Part: &finish}}}
	attempts := 0
	flaky := func(ctx context.Context, req Request, next func(context.Context, Request) (<-chan StreamEvent, error)) (<-chan StreamEvent, error) {
		attempts++
		if attempts < 3 {
			return nil, &RequestError{SDKError: SDKError{Message: "refused"}}
		}
		return next(ctx, req)
	}

	client := NewClient(WithProvider("test", mock), WithStreamMiddleware(flaky), WithRetryPolicy(fastRetryPolicy()))
	ch, err := client.Stream(context.Background(), Request{Prompt: hi()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n := 0
	for range ch {
		n++
	}
	if attempts != 3 || n != 1 {
		t.Errorf("expected 3 attempts and 1 event, got %d attempts and %d events", attempts, n)
	}
}

func TestClientRegisterProvider(t *testing.T) {
	client := NewClient()
	mock := newMockAdapter("dynamic", "dynamic response")
	client.RegisterProvider("dynamic", mock)

	resp, err := client.Complete(context.Background(), Request{Model: "test-model", Prompt: hi()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "dynamic response" {
		t.Errorf("expected %q, got %q", "dynamic response", resp.Text())
	}
}

func TestClientAutoSingleProviderDefault(t *testing.T) {
	mock := newMockAdapter("only", "only response")
	client := NewClient(WithProvider("only", mock))

	resp, err := client.Complete(context.Background(), Request{Model: "test-model", Prompt: hi()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "only response" {
		t.Errorf("expected %q, got %q", "only response", resp.Text())
	}
}

func TestClientClose(t *testing.T) {
	a := newMockAdapter("a", "x")
	b := newMockAdapter("b", "y")
	client := NewClient(WithProvider("a", a), WithProvider("b", b))

	if err := client.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.closed || !b.closed {
		t.Error("expected every provider to be closed")
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	client := NewClient(
		WithProvider("test", newMockAdapter("test", "secret answer")),
		WithMiddleware(LoggingMiddleware(logger)),
	)
	_, err := client.Complete(context.Background(), Request{Model: "test-model", Prompt: Prompt{UserMessage("secret question")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "finish_reason=stop") {
		t.Errorf("expected finish reason in log, got %q", out)
	}
	if strings.Contains(out, "secret") {
		t.Errorf("prompt or response content leaked into log: %q", out)
	}

	buf.Reset()
	failing := &mockAdapter{name: "bad", err: &ServerError{ResponseError: ResponseError{SDKError: SDKError{Message: "boom"}, Retryable: true}}}
	client = NewClient(WithProvider("bad", failing), WithMiddleware(LoggingMiddleware(logger)))
	if _, err := client.Complete(context.Background(), Request{Model: "m", Prompt: hi()}); err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(buf.String(), "completion failed") {
		t.Errorf("expected failure to be logged, got %q", buf.String())
	}
}
