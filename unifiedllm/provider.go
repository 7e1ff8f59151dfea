package unifiedllm

import "context"

// ProviderAdapter is the single-turn generation capability every backend
// implements.
type ProviderAdapter interface {
	// Name returns the provider identifier.
	Name() string

	// Complete sends a blocking request and returns the parts of one turn.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream sends a request and returns a channel of stream events. The
	// channel is closed after the finish event, or after an error event
	// when the turn aborts. A closed channel without a finish event means
	// the turn did not complete.
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

// Closer is implemented by adapters that hold resources.
type Closer interface {
	Close() error
}

// ToolChoiceSupporter is implemented by adapters that can report tool choice support.
type ToolChoiceSupporter interface {
	SupportsToolChoice(mode string) bool
}
