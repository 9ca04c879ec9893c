package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// ErrorResult is what a failed tool call returns to the model: a structured
// result carrying a human-readable error string instead of a protocol error,
// so the assistant can relay the failure conversationally.
type ErrorResult struct {
	Error string `json:"error"`
}

// Registry holds the tools currently available to the chat engine. It is
// rebuilt when connectors change and read on every conversation turn.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// LLMTools converts the registry to the function declarations handed to the
// LLM via llms.WithTools.
func (r *Registry) LLMTools() []llms.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]llms.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Function.Name < out[j].Function.Name
	})
	return out
}

// Execute runs the named tool. Tool failures (unknown tool, bad arguments,
// vendor errors) are converted to an ErrorResult rather than an error: the
// conversation continues and the model decides what to tell the user.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) any {
	tool, ok := r.Get(name)
	if !ok {
		return ErrorResult{Error: fmt.Sprintf("unknown tool: %s", name)}
	}

	result, err := tool.Call(ctx, args)
	if err != nil {
		return ErrorResult{Error: err.Error()}
	}
	return result
}
