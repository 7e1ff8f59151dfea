package unifiedllm

import (
	"strings"
)

// EventCollector folds stream events back into the ordered part sequence a
// non-streaming call would have produced. Consecutive text deltas coalesce
// into one text part; events that carry a part contribute it as-is.
type EventCollector struct {
	parts    []Part
	text     strings.Builder
	inText   bool
	finished bool
	err      error
}

// NewEventCollector creates an empty EventCollector.
func NewEventCollector() *EventCollector {
	return &EventCollector{}
}

// Process ingests a single stream event.
func (c *EventCollector) Process(event StreamEvent) {
	switch event.Type {
	case StreamTextDelta:
		c.inText = true
		c.text.WriteString(event.Delta)
	case StreamResponseMetadata, StreamToolCall, StreamToolResult, StreamSource, StreamFinish:
		if event.Part == nil {
			return
		}
		c.flushText()
		c.parts = append(c.parts, *event.Part)
		if event.Type == StreamFinish {
			c.finished = true
		}
	case StreamError:
		c.err = event.Err
	}
}

func (c *EventCollector) flushText() {
	if !c.inText {
		return
	}
	c.parts = append(c.parts, TextPart(c.text.String()))
	c.text.Reset()
	c.inText = false
}

// Parts returns the collected parts, including any trailing text.
func (c *EventCollector) Parts() []Part {
	c.flushText()
	out := make([]Part, len(c.parts))
	copy(out, c.parts)
	return out
}

// Finished reports whether a finish event was seen.
func (c *EventCollector) Finished() bool {
	return c.finished
}

// Err returns the error carried by the last error event, if any.
func (c *EventCollector) Err() error {
	return c.err
}

// Response returns the accumulated response.
func (c *EventCollector) Response() *Response {
	resp := &Response{Parts: c.Parts()}
	if md := resp.Metadata(); md != nil {
		resp.ID = md.ID
		resp.Model = md.ModelID
	}
	return resp
}
