// Package tools holds the capability registry: the static catalog of named
// operations the reasoning backend may request, each with a declared
// parameter schema and a bound executor.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Param is one declared parameter of a tool.
type Param struct {
	Name        string
	Type        string // "string", "integer", "number", "boolean"
	Description string
	Required    bool
	Default     any
}

// Spec describes one registered tool. Immutable once registered.
type Spec struct {
	Name        string
	Description string
	Params      []Param // declaration order, preserved in prompts
	Exec        func(ctx context.Context, args map[string]any) (any, error)
}

// InputSchema renders the parameter list as a JSON-schema object map,
// the shape both OpenAI-style function tools and MCP expect.
func (s *Spec) InputSchema() map[string]any {
	properties := make(map[string]any, len(s.Params))
	var required []string
	for _, p := range s.Params {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Registry maintains the tool catalog. Read-only after startup; safe for
// concurrent Invoke across sessions.
type Registry struct {
	mu     sync.RWMutex
	specs  map[string]*Spec
	order  []string // registration order, so prompts are reproducible
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		specs:  make(map[string]*Spec),
		logger: logger.With("component", "tools"),
	}
}

// Register adds a tool. Registering an existing name fails and leaves the
// first registration in place.
func (r *Registry) Register(spec *Spec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if spec.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if spec.Exec == nil {
		return fmt.Errorf("tool %q has no executor", spec.Name)
	}
	if _, exists := r.specs[spec.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, spec.Name)
	}

	r.specs[spec.Name] = spec
	r.order = append(r.order, spec.Name)
	return nil
}

// Specs returns all registered tools in registration order.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.specs[name])
	}
	return out
}

// Get looks up a single tool by name.
func (r *Registry) Get(name string) (*Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.specs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return spec, nil
}

// Invoke validates arguments against the declared schema and runs the bound
// executor. Invocation never retries internally; retry policy belongs to the
// caller. Executor failures come back wrapped in *ExecutionError.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	spec, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	checked, err := spec.validateArgs(args)
	if err != nil {
		return nil, err
	}

	result, err := spec.Exec(ctx, checked)
	if err != nil {
		return nil, &ExecutionError{Tool: name, Err: err}
	}
	return result, nil
}

// validateArgs enforces the declared schema: required params present, types
// matching, unknown keys rejected, defaults filled in. The input map is not
// mutated.
func (s *Spec) validateArgs(args map[string]any) (map[string]any, error) {
	declared := make(map[string]Param, len(s.Params))
	for _, p := range s.Params {
		declared[p.Name] = p
	}

	for key := range args {
		if _, ok := declared[key]; !ok {
			return nil, &ArgumentError{Tool: s.Name, Param: key, Reason: "not declared"}
		}
	}

	checked := make(map[string]any, len(s.Params))
	for _, p := range s.Params {
		value, present := args[p.Name]
		if !present || value == nil {
			if p.Required {
				return nil, &ArgumentError{Tool: s.Name, Param: p.Name, Reason: "required parameter missing"}
			}
			if p.Default != nil {
				checked[p.Name] = p.Default
			}
			continue
		}

		coerced, err := checkType(p.Type, value)
		if err != nil {
			return nil, &ArgumentError{Tool: s.Name, Param: p.Name, Reason: err.Error()}
		}
		checked[p.Name] = coerced
	}
	return checked, nil
}

// checkType verifies a decoded JSON value against a declared type. JSON has
// no integer type, so integral float64 values are accepted for "integer".
func checkType(declared string, value any) (any, error) {
	switch declared {
	case "string":
		str, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}
		return str, nil
	case "integer":
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("expected integer, got %v", v)
			}
			return int(v), nil
		default:
			return nil, fmt.Errorf("expected integer, got %T", value)
		}
	case "number":
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		default:
			return nil, fmt.Errorf("expected number, got %T", value)
		}
	case "boolean":
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T", value)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported declared type %q", declared)
	}
}
