package runtime

import (
	"context"
	"encoding/json"

	"github.com/atondwal/reflect/pkg/llm"
)

// Tool describes a catalog entry offered to the model.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
}

// LocalTool executes synchronously inside the round. Its error is reported
// to the model as the result string.
type LocalTool interface {
	Tool
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// RemoteTool is executed by an external actor. Payload extracts what the
// actor must run from the tool arguments.
type RemoteTool interface {
	Tool
	Payload(args json.RawMessage) (string, error)
}

// Registry holds registered tools in registration order.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// All returns all registered tools.
func (r *Registry) All() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Without returns a copy of the registry lacking the named tools.
func (r *Registry) Without(names ...string) *Registry {
	skip := make(map[string]bool, len(names))
	for _, n := range names {
		skip[n] = true
	}
	out := NewRegistry()
	for _, t := range r.All() {
		if !skip[t.Name()] {
			out.Register(t)
		}
	}
	return out
}

// AsLLMTools converts registered tools to the LLM provider format.
func (r *Registry) AsLLMTools() []llm.Tool {
	out := make([]llm.Tool, 0, len(r.order))
	for _, t := range r.All() {
		out = append(out, llm.Tool{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Parameters(),
		})
	}
	return out
}
