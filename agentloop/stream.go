package agentloop

import (
	"context"
	"time"

	"github.com/martinemde/relay/unifiedllm"
)

const streamBufferSize = 64

// RunStream executes the loop and forwards each turn's events as they
// arrive. Between turns it emits one tool-result event per resolved call.
// Finish events of turns that lead to another turn are withheld, so a
// consumer sees exactly one finish, after which the channel closes.
//
// Errors from the first turn's request are returned directly. Later
// failures arrive as an error event and close the channel without a
// finish. Cancelling ctx closes the channel.
func (a *Agent) RunStream(ctx context.Context, req unifiedllm.Request) (<-chan unifiedllm.StreamEvent, error) {
	req = a.prepare(req)
	events, err := a.provider.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan unifiedllm.StreamEvent, streamBufferSize)
	go a.pump(ctx, req, events, out)
	return out, nil
}

func (a *Agent) pump(ctx context.Context, req unifiedllm.Request, events <-chan unifiedllm.StreamEvent, out chan<- unifiedllm.StreamEvent) {
	defer close(out)
	start := time.Now()
	defer a.metrics.ObserveRun(start)

	st := &runState{history: req.Prompt, turns: 1}
	for {
		a.logger.Debug("agent turn started", "turn", st.turns, "model", req.Model, "stream", true)

		collector := unifiedllm.NewEventCollector()
		var held *unifiedllm.StreamEvent
		for ev := range events {
			switch ev.Type {
			case unifiedllm.StreamFinish:
				held = &ev
				collector.Process(ev)
				continue
			case unifiedllm.StreamError:
				if ctx.Err() == nil {
					send(ctx, out, ev)
				}
				return
			}
			collector.Process(ev)
			if !send(ctx, out, ev) {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		if held == nil || held.Part == nil || held.Part.Finish == nil {
			send(ctx, out, unifiedllm.StreamEvent{
				Type: unifiedllm.StreamError,
				Err:  unifiedllm.NewMalformedOutput("finish", "turn ended without a finish part", nil),
			})
			return
		}

		_, results, err := a.finishTurn(ctx, st, collector.Parts())
		if err != nil {
			if ctx.Err() == nil {
				send(ctx, out, unifiedllm.StreamEvent{Type: unifiedllm.StreamError, Err: err})
			}
			return
		}
		if st.done {
			send(ctx, out, *held)
			return
		}

		for i := range results {
			result := results[i]
			if !send(ctx, out, unifiedllm.StreamEvent{Type: unifiedllm.StreamToolResult, ID: result.ToolResult.ID, Part: &result}) {
				return
			}
		}

		if st.turns >= a.config.MaxTurns {
			a.logger.Debug("agent turn limit reached", "turns", st.turns)
			send(ctx, out, *held)
			return
		}

		st.turns++
		turnReq := req
		turnReq.Prompt = st.history
		events, err = a.provider.Stream(ctx, turnReq)
		if err != nil {
			if ctx.Err() == nil {
				send(ctx, out, unifiedllm.StreamEvent{Type: unifiedllm.StreamError, Err: err})
			}
			return
		}
	}
}

func send(ctx context.Context, out chan<- unifiedllm.StreamEvent, ev unifiedllm.StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
