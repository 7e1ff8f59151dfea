// Package chatwire speaks the chat-completion wire protocol: JSON requests
// and responses over HTTP, with Server-Sent-Events streaming.
//
// # Translation
//
// BuildRequest turns a unifiedllm.Request into a ChatRequest. System and
// user messages become string content, assistant tool calls become wire
// tool_calls, and each tool result becomes its own tool message. Content
// the wire format has no slot for (file parts, provider-defined tools) is
// rejected with a MalformedInputError before anything is sent.
//
// ParseResponse validates a response body and returns canonical parts:
// response metadata, text, refusal, sources, tool calls, a finish part, then
// any tool calls the server executed itself.
//
// # Streaming
//
// A StreamAccumulator consumes the SSE data payloads of one stream. Tool
// call fragments are buffered by index and released as whole tool calls
// when the finish chunk arrives, after which the stream is abandoned.
//
//	acc := chatwire.NewStreamAccumulator()
//	for stream.Next() {
//	    events, err := acc.Push(stream.Data())
//	    // forward events, stop on err
//	    if acc.Done() {
//	        break
//	    }
//	}
//
// # Adapter
//
// Adapter implements unifiedllm.ProviderAdapter on top of a Transport.
// HTTPTransport is the net/http implementation; NewClientFromEnv wires one
// up from RELAY_* environment variables:
//
//	client, err := chatwire.NewClientFromEnv()
//	resp, err := client.Complete(ctx, unifiedllm.Request{
//	    Model:  "gpt-4o",
//	    Prompt: unifiedllm.Prompt{unifiedllm.UserMessage("Hello")},
//	})
package chatwire
