package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/martinemde/relay/unifiedllm"
)

// ToolExecutor resolves locally executed tool calls. The agent converts an
// error from ExecuteTool into a failed tool-result instead of aborting the
// turn.
type ToolExecutor interface {
	// Tools returns the definitions advertised to the model.
	Tools() []unifiedllm.Tool

	// ExecuteTool runs one call and returns its tool-result part.
	ExecuteTool(ctx context.Context, call unifiedllm.ToolCallData) (unifiedllm.Part, error)
}

// ToolHandler executes a tool against its raw JSON arguments.
type ToolHandler func(ctx context.Context, arguments json.RawMessage) (any, error)

// RegisteredTool pairs a tool definition with its handler.
type RegisteredTool struct {
	Definition unifiedllm.Tool
	Handler    ToolHandler
}

// ToolRegistry manages tool registration and lookup. It implements
// ToolExecutor.
type ToolRegistry struct {
	tools map[string]*RegisteredTool
	mu    sync.RWMutex
}

// NewToolRegistry creates a ToolRegistry holding the given tools.
func NewToolRegistry(tools ...RegisteredTool) *ToolRegistry {
	r := &ToolRegistry{
		tools: make(map[string]*RegisteredTool),
	}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool in the registry.
func (r *ToolRegistry) Register(tool RegisteredTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition.Name] = &tool
}

// Unregister removes a tool from the registry.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a registered tool by name, or nil if not found.
func (r *ToolRegistry) Get(name string) *RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Tools returns all tool definitions sorted by name.
func (r *ToolRegistry) Tools() []unifiedllm.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]unifiedllm.Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// MergeFrom copies all tools from other into this registry.
// Existing tools with the same name are overwritten (latest-wins).
func (r *ToolRegistry) MergeFrom(other *ToolRegistry) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, tool := range other.tools {
		cloned := *tool
		r.tools[name] = &cloned
	}
}

// ExecuteTool looks up the named tool and runs its handler. Unknown tools
// and handler errors are returned as errors.
func (r *ToolRegistry) ExecuteTool(ctx context.Context, call unifiedllm.ToolCallData) (unifiedllm.Part, error) {
	registered := r.Get(call.Name)
	if registered == nil {
		return unifiedllm.Part{}, fmt.Errorf("unknown tool: %s", call.Name)
	}
	if registered.Handler == nil {
		return unifiedllm.Part{}, fmt.Errorf("tool %s has no handler", call.Name)
	}

	args := call.Params
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	result, err := registered.Handler(ctx, args)
	if err != nil {
		return unifiedllm.Part{}, err
	}
	return unifiedllm.ToolResultPart(call.ID, call.Name, result, false), nil
}
