package chatwire

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/relay/unifiedllm"
)

// fakeTransport is a scripted Transport.
type fakeTransport struct {
	body      []byte
	frames    []string
	err       error
	streamErr error

	calls    int
	paths    []string
	requests []*ChatRequest
	consumed int
	closed   bool
}

func (f *fakeTransport) record(path string, body any) {
	f.calls++
	f.paths = append(f.paths, path)
	f.requests = append(f.requests, body.(*ChatRequest))
}

func (f *fakeTransport) PostJSON(ctx context.Context, path string, body any) ([]byte, error) {
	f.record(path, body)
	if f.err != nil {
		return nil, f.err
	}
	return f.body, nil
}

func (f *fakeTransport) PostStream(ctx context.Context, path string, body any) (EventStream, error) {
	f.record(path, body)
	if f.err != nil {
		return nil, f.err
	}
	return &fakeStream{f: f}, nil
}

type fakeStream struct {
	f   *fakeTransport
	cur []byte
}

func (s *fakeStream) Next() bool {
	if s.f.consumed >= len(s.f.frames) {
		return false
	}
	s.cur = []byte(s.f.frames[s.f.consumed])
	s.f.consumed++
	return true
}

func (s *fakeStream) Data() []byte { return s.cur }

func (s *fakeStream) Err() error {
	if s.f.consumed >= len(s.f.frames) {
		return s.f.streamErr
	}
	return nil
}

func (s *fakeStream) Close() error {
	s.f.closed = true
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func drain(ch <-chan unifiedllm.StreamEvent) []unifiedllm.StreamEvent {
	var events []unifiedllm.StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestAdapterComplete(t *testing.T) {
	ft := &fakeTransport{body: []byte(`{"id":"r1","created":1,"model":"served-model","choices":[{"index":0,"message":{"role":"assistant","content":"hi there"},"finish_reason":"stop"}]}`)}
	adapter := NewAdapter(ft, WithName("gateway"), WithChatPath("/chat"), WithLogger(quietLogger()))

	resp, err := adapter.Complete(context.Background(), unifiedllm.Request{
		Model:  "requested-model",
		Prompt: unifiedllm.Prompt{unifiedllm.UserMessage("hello")},
	})
	require.NoError(t, err)

	assert.Equal(t, "gateway", adapter.Name())
	assert.Equal(t, "r1", resp.ID)
	assert.Equal(t, "served-model", resp.Model)
	assert.Equal(t, "gateway", resp.Provider)
	assert.Equal(t, "hi there", resp.Text())
	assert.Equal(t, []string{"/chat"}, ft.paths)
	assert.False(t, ft.requests[0].Stream)
}

func TestAdapterRejectsInputBeforeTransport(t *testing.T) {
	ft := &fakeTransport{}
	adapter := NewAdapter(ft, WithLogger(quietLogger()))
	req := unifiedllm.Request{
		Model: "m",
		Prompt: unifiedllm.Prompt{{Role: unifiedllm.RoleUser, Parts: []unifiedllm.Part{
			unifiedllm.FilePart("application/pdf", []byte("%PDF"), "doc.pdf"),
		}}},
	}

	_, err := adapter.Complete(context.Background(), req)
	var malformed *unifiedllm.MalformedInputError
	assert.True(t, errors.As(err, &malformed))

	_, err = adapter.Stream(context.Background(), req)
	assert.True(t, errors.As(err, &malformed))

	assert.Zero(t, ft.calls, "transport must not be invoked")
}

func TestAdapterCompletePropagatesTransportErrors(t *testing.T) {
	want := &unifiedllm.RequestError{SDKError: unifiedllm.SDKError{Message: "connection refused"}}
	adapter := NewAdapter(&fakeTransport{err: want}, WithLogger(quietLogger()))

	_, err := adapter.Complete(context.Background(), unifiedllm.Request{
		Model:  "m",
		Prompt: unifiedllm.Prompt{unifiedllm.UserMessage("hi")},
	})
	assert.ErrorIs(t, err, want)
}

func TestAdapterStreamTruncatesAfterFinish(t *testing.T) {
	ft := &fakeTransport{frames: []string{
		`{"id":"s","created":1,"model":"m","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
		`{"id":"s","created":1,"model":"m","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
		`{"id":"s","created":1,"model":"m","choices":[{"index":0,"delta":{"content":"duplicate"},"finish_reason":"stop"}]}`,
		`[DONE]`,
	}}
	adapter := NewAdapter(ft, WithLogger(quietLogger()))

	ch, err := adapter.Stream(context.Background(), unifiedllm.Request{
		Model:  "m",
		Prompt: unifiedllm.Prompt{unifiedllm.UserMessage("hi")},
	})
	require.NoError(t, err)
	events := drain(ch)

	assert.Equal(t, 2, ft.consumed, "frames after the finish chunk must not be read")
	assert.True(t, ft.closed)
	assert.True(t, ft.requests[0].Stream)

	collector := unifiedllm.NewEventCollector()
	finishes := 0
	for _, ev := range events {
		collector.Process(ev)
		if ev.Type == unifiedllm.StreamFinish {
			finishes++
		}
	}
	assert.Equal(t, 1, finishes)
	assert.Equal(t, "Hello", collector.Response().Text())
}

func TestAdapterStreamWithoutFinish(t *testing.T) {
	ft := &fakeTransport{frames: []string{
		`{"id":"s","created":1,"model":"m","choices":[{"index":0,"delta":{"content":"partial"}}]}`,
	}}
	adapter := NewAdapter(ft, WithLogger(quietLogger()))

	ch, err := adapter.Stream(context.Background(), unifiedllm.Request{
		Model:  "m",
		Prompt: unifiedllm.Prompt{unifiedllm.UserMessage("hi")},
	})
	require.NoError(t, err)
	events := drain(ch)

	last := events[len(events)-1]
	require.Equal(t, unifiedllm.StreamError, last.Type)
	var malformed *unifiedllm.MalformedOutputError
	assert.True(t, errors.As(last.Err, &malformed))
}

func TestAdapterStreamTransportFailure(t *testing.T) {
	streamErr := &unifiedllm.RequestError{SDKError: unifiedllm.SDKError{Message: "connection reset"}}
	ft := &fakeTransport{
		frames: []string{
			`{"id":"s","created":1,"model":"m","choices":[{"index":0,"delta":{"content":"partial"}}]}`,
		},
		streamErr: streamErr,
	}
	adapter := NewAdapter(ft, WithLogger(quietLogger()))

	ch, err := adapter.Stream(context.Background(), unifiedllm.Request{
		Model:  "m",
		Prompt: unifiedllm.Prompt{unifiedllm.UserMessage("hi")},
	})
	require.NoError(t, err)
	events := drain(ch)

	for _, ev := range events {
		assert.NotEqual(t, unifiedllm.StreamFinish, ev.Type)
	}
	last := events[len(events)-1]
	require.Equal(t, unifiedllm.StreamError, last.Type)
	assert.ErrorIs(t, last.Err, streamErr)
}
