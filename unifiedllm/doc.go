// Package unifiedllm defines the provider-agnostic conversation model and
// the single-turn generation contract the rest of the module builds on.
//
// # Architecture
//
//   - Model: Prompt, Message and Part (a tagged union of text, file,
//     tool-call, tool-result, reasoning, source, response-metadata and
//     finish), plus Tool, ToolChoice, ResponseFormat and Routing.
//   - Contract: the ProviderAdapter interface (Complete and Stream) and the
//     StreamEvent vocabulary. EventCollector folds events back into parts.
//   - Client: routes requests to registered adapters by provider name and
//     applies Middleware.
//   - Errors: SDKError and its subtypes, ErrorFromStatusCode, IsRetryable,
//     and Retry, which wraps a whole call in exponential backoff.
//
// # Quick Start
//
//	adapter, _ := unifiedllm.NewGollmAdapter("openai", os.Getenv("OPENAI_API_KEY"))
//	client := unifiedllm.NewClient(unifiedllm.WithProvider("openai", adapter))
//
//	resp, _ := client.Complete(ctx, unifiedllm.Request{
//	    Model:  "gpt-4o",
//	    Prompt: unifiedllm.Prompt{unifiedllm.UserMessage("Hello")},
//	})
//	fmt.Println(resp.Text())
//
// # Retry
//
// Adapters never retry. Callers opt in around a whole call:
//
//	resp, err := unifiedllm.Retry(ctx, unifiedllm.DefaultRetryPolicy(),
//	    func(ctx context.Context) (*unifiedllm.Response, error) {
//	        return client.Complete(ctx, req)
//	    })
//
// # GollmAdapter
//
// GollmAdapter wraps gollm.LLM to implement ProviderAdapter for the
// providers gollm supports. gollm has no native tool-call channel, so tool
// calls are recovered from a JSON array in the response text and usage is
// estimated.
package unifiedllm
