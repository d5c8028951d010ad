package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/convoflow/agentloop/pkg/model"
)

// Registry keeps the mapping between tool names and implementations. It is
// safe for concurrent use, though a loop run treats it as read-only.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	validator Validator
}

// NewRegistry creates a registry backed by the default validator.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{
		tools:     make(map[string]Tool, len(tools)),
		validator: DefaultValidator{},
	}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register inserts a tool when its name is not in use.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tool is nil")
	}
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}

	r.tools[name] = tool
	return nil
}

// Lookup fetches a tool by name without failing; the loop uses it to detect
// unknown tool references.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// SetValidator swaps the validator instance used before execution.
func (r *Registry) SetValidator(v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validator = v
}

// ValidateArgs checks an argument payload against the named tool's schema.
// Tools without a schema accept anything.
func (r *Registry) ValidateArgs(name string, args map[string]any) error {
	t, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("tool %s not found", name)
	}
	schema := t.Schema()
	if schema == nil {
		return nil
	}

	r.mu.RLock()
	validator := r.validator
	r.mu.RUnlock()
	if validator == nil {
		return nil
	}
	if err := validator.Validate(args, schema); err != nil {
		return fmt.Errorf("tool %s validation failed: %w", name, err)
	}
	return nil
}

// Execute runs a registered tool after schema validation.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (*Result, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("tool %s not found", name)
	}
	if err := r.ValidateArgs(name, args); err != nil {
		return nil, err
	}
	return t.Execute(ctx, args)
}

// Definitions produces the static tool schema list sent with each completion
// request, in lexically stable order.
func (r *Registry) Definitions() []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]model.ToolDefinition, 0, len(r.tools))
	for _, name := range r.sortedNamesLocked() {
		t := r.tools[name]
		def := model.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
		}
		if schema := t.Schema(); schema != nil {
			def.Parameters = schema.AsMap()
		} else {
			def.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		defs = append(defs, def)
	}
	return defs
}

// Names lists registered tool names in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedNamesLocked()
}

func (r *Registry) sortedNamesLocked() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
