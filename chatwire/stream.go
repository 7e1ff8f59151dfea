package chatwire

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/martinemde/relay/unifiedllm"
)

// doneSentinel is the SSE data payload some servers send after the last
// chunk.
const doneSentinel = "[DONE]"

// toolCallEntry buffers one streamed tool call until the turn completes.
type toolCallEntry struct {
	id        string
	name      string
	arguments strings.Builder
}

// StreamAccumulator turns the chunks of one response stream into canonical
// stream events. Tool-call fragments are keyed by their stream index and
// released as complete tool-call events when the finish chunk arrives.
//
// An accumulator belongs to a single stream and is not safe for concurrent
// use. After Done reports true the caller must stop reading the stream.
type StreamAccumulator struct {
	started      bool
	done         bool
	hasToolCalls bool
	entries      map[int]*toolCallEntry
}

// NewStreamAccumulator creates an accumulator for one stream.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{entries: make(map[int]*toolCallEntry)}
}

// Done reports whether the finish chunk has been processed.
func (a *StreamAccumulator) Done() bool {
	return a.done
}

// Push processes one SSE data payload and returns the events it produced.
// The "[DONE]" sentinel ends the stream and is an error unless a finish
// chunk came first. Errors are MalformedOutputErrors; events returned
// alongside an error were produced before the failure.
func (a *StreamAccumulator) Push(data []byte) ([]unifiedllm.StreamEvent, error) {
	if a.done {
		return nil, nil
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if string(trimmed) == doneSentinel {
		return nil, a.End()
	}

	var chunk ChatCompletionChunk
	if err := decodeOutput(trimmed, &chunk); err != nil {
		return nil, err
	}
	return a.PushChunk(&chunk)
}

// PushChunk processes one decoded chunk.
func (a *StreamAccumulator) PushChunk(chunk *ChatCompletionChunk) ([]unifiedllm.StreamEvent, error) {
	if a.done {
		return nil, nil
	}
	var events []unifiedllm.StreamEvent

	if !a.started {
		a.started = true
		md := unifiedllm.ResponseMetadataPart(chunk.ID, chunk.Model, unixTime(chunk.Created))
		events = append(events, unifiedllm.StreamEvent{Type: unifiedllm.StreamResponseMetadata, ID: chunk.ID, Part: &md})
	}

	var finishReason *string
	for ci, choice := range chunk.Choices {
		if choice.FinishReason != nil && finishReason == nil {
			finishReason = choice.FinishReason
		}
		if choice.Index != 0 {
			continue
		}
		if choice.Delta.Content != nil && *choice.Delta.Content != "" {
			events = append(events, unifiedllm.StreamEvent{Type: unifiedllm.StreamTextDelta, Delta: *choice.Delta.Content})
		}
		for ti, delta := range choice.Delta.ToolCalls {
			evs, err := a.pushToolDelta(fmt.Sprintf("choices[%d].delta.tool_calls[%d]", ci, ti), delta)
			events = append(events, evs...)
			if err != nil {
				return events, err
			}
		}
	}

	if finishReason == nil {
		return events, nil
	}

	flushed, err := a.flushToolCalls()
	events = append(events, flushed...)
	if err != nil {
		return events, err
	}
	finish := unifiedllm.FinishPart(resolveFinishReason(finishReason, a.hasToolCalls), convertUsage(chunk.Usage), nil)
	events = append(events, unifiedllm.StreamEvent{Type: unifiedllm.StreamFinish, Part: &finish})
	a.done = true
	return events, nil
}

func (a *StreamAccumulator) pushToolDelta(field string, delta ToolCallDelta) ([]unifiedllm.StreamEvent, error) {
	var events []unifiedllm.StreamEvent

	entry, ok := a.entries[delta.Index]
	if !ok {
		if delta.ID == nil || *delta.ID == "" {
			return nil, unifiedllm.NewMalformedOutput(field+".id", fmt.Sprintf("first delta for tool call index %d has no id", delta.Index), nil)
		}
		entry = &toolCallEntry{id: *delta.ID}
		if delta.Function != nil && delta.Function.Name != nil {
			entry.name = *delta.Function.Name
		}
		a.entries[delta.Index] = entry
		a.hasToolCalls = true
		events = append(events, unifiedllm.StreamEvent{Type: unifiedllm.StreamToolParamsStart, ID: entry.id, ToolName: entry.name})
	} else if delta.Function != nil && delta.Function.Name != nil && *delta.Function.Name != "" {
		entry.name = *delta.Function.Name
	}

	if delta.Function != nil && delta.Function.Arguments != nil && *delta.Function.Arguments != "" {
		entry.arguments.WriteString(*delta.Function.Arguments)
		events = append(events, unifiedllm.StreamEvent{Type: unifiedllm.StreamToolParamsDelta, ID: entry.id, Delta: *delta.Function.Arguments})
	}
	return events, nil
}

// flushToolCalls parses every open entry in index order and clears the map.
func (a *StreamAccumulator) flushToolCalls() ([]unifiedllm.StreamEvent, error) {
	indexes := make([]int, 0, len(a.entries))
	for idx := range a.entries {
		indexes = append(indexes, idx)
	}
	slices.Sort(indexes)

	var events []unifiedllm.StreamEvent
	for _, idx := range indexes {
		entry := a.entries[idx]
		params, err := unifiedllm.ParseToolArguments(fmt.Sprintf("tool_calls[%d].function.arguments", idx), entry.arguments.String())
		if err != nil {
			return events, err
		}
		call := unifiedllm.ToolCallPart(entry.id, entry.name, params)
		events = append(events,
			unifiedllm.StreamEvent{Type: unifiedllm.StreamToolParamsEnd, ID: entry.id},
			unifiedllm.StreamEvent{Type: unifiedllm.StreamToolCall, ID: entry.id, ToolName: entry.name, Part: &call},
		)
	}
	clear(a.entries)
	return events, nil
}

// End reports whether the stream ended cleanly. It returns a
// MalformedOutputError when no finish chunk was seen.
func (a *StreamAccumulator) End() error {
	if a.done {
		return nil
	}
	return unifiedllm.NewMalformedOutput("finish_reason", "stream ended without finish_reason", nil)
}
