package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/xhad/tutor/internal/types"
)

// NoToolResponse is returned to the model when it calls an unregistered tool.
const NoToolResponse = "No tool response"

// Tool is a capability the chat model may invoke by name.
type Tool interface {
	Definition() llms.FunctionDefinition
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// ToolFunc adapts a function to the Tool interface.
type ToolFunc struct {
	Def llms.FunctionDefinition
	Fn  func(ctx context.Context, args map[string]interface{}) (string, error)
}

func (t ToolFunc) Definition() llms.FunctionDefinition { return t.Def }

func (t ToolFunc) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	return t.Fn(ctx, args)
}

// Registry maps tool names to implementations. It is populated at startup
// and read concurrently afterwards.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t. Registering an empty or duplicate name is a configuration error.
func (r *Registry) Register(t Tool) error {
	name := t.Definition().Name
	if name == "" {
		return types.Configf("tool name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; ok {
		return types.Configf("tool %q already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns the tools in registration order, in the shape the
// model API expects.
func (r *Registry) Definitions() []llms.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]llms.Tool, 0, len(r.order))
	for _, name := range r.order {
		def := r.tools[name].Definition()
		defs = append(defs, llms.Tool{Type: "function", Function: &def})
	}
	return defs
}

// Execute runs the named tool with JSON-encoded arguments. The returned
// string is always suitable as a tool message for the model.
func (r *Registry) Execute(ctx context.Context, name, arguments string) string {
	t, ok := r.Lookup(name)
	if !ok {
		return NoToolResponse
	}

	args := map[string]interface{}{}
	if arguments != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return fmt.Sprintf("Error: invalid arguments for %s: %v", name, err)
		}
	}

	out, err := t.Execute(ctx, args)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return out
}
