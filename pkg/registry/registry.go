// Package registry holds the tools the agent may invoke.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/schema"
)

// ToolFunction defines the signature for a tool implementation.
// Expected failures (bad input, division by zero) are returned as text, not as errors.
// A returned error is reserved for unexpected faults and is reported to the model as text.
type ToolFunction func(ctx context.Context, args map[string]any) (string, error)

// Tool is a named, schema-described invocable.
type Tool struct {
	Name        string
	Description string
	Params      schema.Schema
	Fn          ToolFunction
}

// Spec returns the catalogue entry handed to backends.
func (t Tool) Spec() domain.ToolSpec {
	return domain.ToolSpec{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  t.Params.JSONSchema(),
	}
}

// Registry manages the available tools.
// It is populated at startup and only read afterwards, so it can be shared by all sessions.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry.
// It fails with domain.ErrDuplicateTool if the name is already taken.
func (r *Registry) Register(tool Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if tool.Fn == nil {
		return fmt.Errorf("register tool %q: nil function", tool.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("register tool %q: %w", tool.Name, domain.ErrDuplicateTool)
	}
	r.tools[tool.Name] = tool
	r.order = append(r.order, tool.Name)
	return nil
}

// MustRegister is Register for static tool sets; it panics on error.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names lists tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Catalogue describes every tool, in registration order.
func (r *Registry) Catalogue() []domain.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]domain.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}
