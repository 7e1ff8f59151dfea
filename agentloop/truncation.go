package agentloop

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/martinemde/relay/unifiedllm"
)

// TruncateOutput keeps the head and tail of output and replaces the middle
// with a marker once it exceeds maxChars bytes. Cuts fall on rune
// boundaries. A non-positive maxChars disables truncation.
func TruncateOutput(output string, maxChars int) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}
	half := maxChars / 2
	head := half
	for head > 0 && !utf8.RuneStart(output[head]) {
		head--
	}
	tail := len(output) - half
	for tail < len(output) && !utf8.RuneStart(output[tail]) {
		tail++
	}
	removed := utf8.RuneCountInString(output[head:tail])
	return output[:head] +
		fmt.Sprintf("\n\n[tool output truncated: %d characters removed from the middle]\n\n", removed) +
		output[tail:]
}

// TruncateLines keeps the first and last lines of output once it exceeds
// maxLines. A non-positive maxLines disables truncation.
func TruncateLines(output string, maxLines int) string {
	if maxLines <= 0 {
		return output
	}
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// truncateResult bounds a string tool result before it is fed back to the
// model. Character truncation runs first, then line truncation. Structured
// results are left alone.
func (a *Agent) truncateResult(part unifiedllm.Part) unifiedllm.Part {
	s, ok := part.ToolResult.Result.(string)
	if !ok {
		return part
	}
	s = TruncateOutput(s, a.config.MaxToolOutputChars)
	s = TruncateLines(s, a.config.MaxToolOutputLines)
	result := *part.ToolResult
	result.Result = s
	part.ToolResult = &result
	return part
}
