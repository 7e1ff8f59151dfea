package chatwire

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go/packages/ssestream"

	"github.com/martinemde/relay/unifiedllm"
)

// Transport executes requests against the chat-completion endpoint.
//
// Implementations fail with a RequestError or RequestTimeoutError when the
// server was never reached, a ResponseError (or one of its status subtypes)
// for a non-2xx status, and an AbortError when ctx is cancelled.
type Transport interface {
	// PostJSON sends body and returns the raw response body.
	PostJSON(ctx context.Context, path string, body any) ([]byte, error)

	// PostStream sends body and returns the response as a stream of SSE
	// data payloads. The caller must Close the stream.
	PostStream(ctx context.Context, path string, body any) (EventStream, error)
}

// EventStream iterates the data payloads of a Server-Sent-Events response.
type EventStream interface {
	Next() bool
	Data() []byte
	Err() error
	Close() error
}

// HTTPTransport is a Transport over net/http with bearer authentication.
//
// The timeout bounds a whole PostJSON exchange. For PostStream it bounds only
// the wait for response headers, so long streams are limited by ctx alone.
type HTTPTransport struct {
	baseURL  string
	apiKey   string
	provider string
	timeout  time.Duration
	client   *http.Client
	headers  map[string]string
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithTimeout sets the request timeout. Zero disables it.
func WithTimeout(d time.Duration) HTTPOption {
	return func(t *HTTPTransport) {
		t.timeout = d
	}
}

// WithHTTPClient sets the underlying HTTP client. A client-level Timeout
// also cuts off streams, so prefer WithTimeout.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) {
		t.client = c
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) HTTPOption {
	return func(t *HTTPTransport) {
		t.headers[key] = value
	}
}

// WithProviderName sets the provider name recorded on response errors.
func WithProviderName(name string) HTTPOption {
	return func(t *HTTPTransport) {
		t.provider = name
	}
}

// NewHTTPTransport creates a transport for the server at baseURL.
func NewHTTPTransport(baseURL, apiKey string, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		provider: defaultProviderName,
		timeout:  defaultTimeout,
		headers:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.client == nil {
		base := http.DefaultTransport.(*http.Transport).Clone()
		base.ResponseHeaderTimeout = t.timeout
		t.client = &http.Client{Transport: base}
	}
	return t
}

// PostJSON implements Transport.
func (t *HTTPTransport) PostJSON(ctx context.Context, path string, body any) ([]byte, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	resp, err := t.do(ctx, path, body, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, t.requestError(ctx, "read response body", err)
	}
	return data, nil
}

// PostStream implements Transport.
func (t *HTTPTransport) PostStream(ctx context.Context, path string, body any) (EventStream, error) {
	resp, err := t.do(ctx, path, body, "text/event-stream")
	if err != nil {
		return nil, err
	}
	dec := ssestream.NewDecoder(resp)
	if dec == nil {
		resp.Body.Close()
		return nil, &unifiedllm.RequestError{SDKError: unifiedllm.SDKError{Message: "response has no body"}}
	}
	return &sseStream{ctx: ctx, t: t, dec: dec}, nil
}

func (t *HTTPTransport) do(ctx context.Context, path string, body any, accept string) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &unifiedllm.MalformedInputError{
			SDKError: unifiedllm.SDKError{Message: "request body is not JSON-encodable", Cause: err},
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, &unifiedllm.ConfigurationError{SDKError: unifiedllm.SDKError{Message: "invalid request URL", Cause: err}}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	if t.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, t.requestError(ctx, "send request", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, unifiedllm.ErrorFromStatusCode(resp.StatusCode, data, t.provider, parseRetryAfter(resp.Header.Get("Retry-After")))
	}
	return resp, nil
}

// requestError classifies a failure that happened before a complete
// response was received.
func (t *HTTPTransport) requestError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return &unifiedllm.AbortError{SDKError: unifiedllm.SDKError{Message: op + ": request cancelled", Cause: err}}
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &unifiedllm.RequestTimeoutError{SDKError: unifiedllm.SDKError{Message: op + ": request timed out", Cause: err}}
	}
	return &unifiedllm.RequestError{SDKError: unifiedllm.SDKError{Message: fmt.Sprintf("%s: %s", op, t.provider), Cause: err}}
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(v string) *float64 {
	if v == "" {
		return nil
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || secs < 0 {
		return nil
	}
	return &secs
}

type sseStream struct {
	ctx  context.Context
	t    *HTTPTransport
	dec  ssestream.Decoder
	data []byte
}

func (s *sseStream) Next() bool {
	for s.dec.Next() {
		ev := s.dec.Event()
		if len(bytes.TrimSpace(ev.Data)) == 0 {
			continue
		}
		s.data = ev.Data
		return true
	}
	return false
}

func (s *sseStream) Data() []byte {
	return s.data
}

func (s *sseStream) Err() error {
	if err := s.dec.Err(); err != nil {
		return s.t.requestError(s.ctx, "read stream", err)
	}
	if s.ctx.Err() != nil {
		return s.t.requestError(s.ctx, "read stream", s.ctx.Err())
	}
	return nil
}

func (s *sseStream) Close() error {
	return s.dec.Close()
}
