package agentloop

import (
	"github.com/martinemde/relay/unifiedllm"
)

// SpliceTurn appends one turn's parts to history as new messages: an
// assistant message holding the model output, then a tool message holding
// the resolved results. Metadata, source and finish parts are not replayed.
// The returned prompt shares no backing array with history.
func SpliceTurn(history unifiedllm.Prompt, parts []unifiedllm.Part) unifiedllm.Prompt {
	var assistant, results []unifiedllm.Part
	for _, part := range parts {
		switch part.Kind {
		case unifiedllm.PartText, unifiedllm.PartReasoning, unifiedllm.PartToolCall:
			assistant = append(assistant, part)
		case unifiedllm.PartToolResult:
			results = append(results, part)
		}
	}

	var added unifiedllm.Prompt
	if len(assistant) > 0 {
		added = append(added, unifiedllm.Message{Role: unifiedllm.RoleAssistant, Parts: assistant})
	}
	if len(results) > 0 {
		added = append(added, unifiedllm.ToolMessage(results...))
	}
	return history.Merge(added)
}

// withoutFinish returns parts minus any finish part, and the last finish
// seen.
func withoutFinish(parts []unifiedllm.Part) ([]unifiedllm.Part, *unifiedllm.Part) {
	out := make([]unifiedllm.Part, 0, len(parts))
	var finish *unifiedllm.Part
	for i := range parts {
		if parts[i].Kind == unifiedllm.PartFinish {
			finish = &parts[i]
			continue
		}
		out = append(out, parts[i])
	}
	return out, finish
}

// continues reports whether a turn that ended with reason expects another
// turn.
func continues(reason string) bool {
	return reason == unifiedllm.FinishToolCalls
}
