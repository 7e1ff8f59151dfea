// Package agentloop implements a ReAct agent loop over any
// unifiedllm.ProviderAdapter.
//
// Each run alternates model turns with local tool execution. A turn whose
// finish reason is tool-calls has its tool calls resolved by the configured
// ToolExecutor, and the turn plus its results are spliced onto the history
// for the next turn. Any other finish reason ends the run, as does reaching
// Config.MaxTurns.
//
// # Architecture
//
//   - Agent: owns the loop. Run returns the accumulated parts, RunStream
//     forwards each turn's events live, and RunObject and GenerateObject
//     track the last JSON value produced under a response format.
//   - ToolExecutor: the collaborator that turns a tool call into a
//     tool-result. ToolRegistry is the map-backed implementation, and
//     NewTypedTool builds tools whose schema is reflected from a Go type.
//   - SpliceTurn: converts one turn's parts into history messages.
//
// Only the final turn's finish part appears in a run's output. The loop
// never retries; wrap a run in unifiedllm.Retry to get that.
//
// # Quick Start
//
//	weather, _ := agentloop.NewTypedTool("get_weather", "Current weather for a city",
//	    func(ctx context.Context, in struct{ City string `json:"city"` }) (any, error) {
//	        return "72F and sunny", nil
//	    })
//
//	agent := agentloop.New(client, agentloop.DefaultConfig(),
//	    agentloop.WithToolExecutor(agentloop.NewToolRegistry(weather)))
//
//	res, err := agent.Run(ctx, unifiedllm.Request{
//	    Model:  "gpt-4o",
//	    Prompt: unifiedllm.Prompt{unifiedllm.UserMessage("Weather in Paris?")},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Text())
package agentloop
