// Package registry provides thread-safe management of named value
// transformations used by the mapping engine.
//
// The Registry is the central lookup point for every transformation a
// mapping rule set may reference. It provides:
// - Thread-safe registration and lookup by name
// - Declared metadata (category, input/output types, parameters) per function
// - Ad-hoc chaining of transformations for pipeline testing tooling
// - Read-only introspection for UI and validation
//
// Usage:
//
//	reg := registry.New()
//	registry.RegisterBuiltins(reg)
//	out, err := reg.Transform("to_cents", "50.00", nil)
//
// Transformation functions must be pure: deterministic, side-effect free,
// no I/O, and they must not mutate the input value. The engine relies on
// this to evaluate records independently and, optionally, in parallel.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Func is a pure value-to-value transformation. It receives the source
// value and the rule-supplied parameters and returns the transformed
// value, or an error that the mapping engine records against the field.
type Func func(value any, params map[string]any) (any, error)

// ParamSpec describes one declared parameter of a transformation.
type ParamSpec struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"` // "string", "number", "boolean", "map"
	Required    bool   `json:"required" yaml:"required"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Definition is the declared metadata paired 1:1 with a registered Func.
type Definition struct {
	Name        string      `json:"name" yaml:"name"`
	Category    string      `json:"category" yaml:"category"` // "money", "string", "date", "numeric", "identity"
	InputType   string      `json:"input_type" yaml:"input_type"`
	OutputType  string      `json:"output_type" yaml:"output_type"`
	Params      []ParamSpec `json:"params,omitempty" yaml:"params,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
}

// UnknownTransformationError is returned when a transformation name has no
// registered entry. Rule-set activation checks names up front so the
// mapping engine should never see this mid-batch.
type UnknownTransformationError struct {
	Name string
}

func (e *UnknownTransformationError) Error() string {
	return fmt.Sprintf("unknown transformation: %s", e.Name)
}

// entry pairs the function with its metadata and registration time.
type entry struct {
	fn           Func
	def          Definition
	registeredAt time.Time
}

// Registry manages named transformations with thread-safe operations.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// New creates an empty registry. Most callers want NewWithBuiltins.
func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// NewWithBuiltins creates a registry pre-populated with the built-in
// payroll transformation catalog.
func NewWithBuiltins() *Registry {
	r := New()
	RegisterBuiltins(r)
	return r
}

// Register adds or overwrites a transformation. Last writer wins, which
// lets deployments override a built-in with a custom function of the
// same name.
func (r *Registry) Register(name string, fn Func, def Definition) error {
	if name == "" {
		return fmt.Errorf("transformation name must not be empty")
	}
	if fn == nil {
		return fmt.Errorf("transformation %q: function must not be nil", name)
	}

	def.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = entry{fn: fn, def: def, registeredAt: time.Now()}
	return nil
}

// Transform invokes the named transformation and returns its result
// verbatim. Errors from the function itself are passed through without
// wrapping so callers see exactly what the transformation reported.
func (r *Registry) Transform(name string, value any, params map[string]any) (any, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &UnknownTransformationError{Name: name}
	}
	return e.fn(value, params)
}

// ChainStep is one step of an ad-hoc transformation pipeline.
type ChainStep struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// Chain applies steps in order, feeding each output into the next input.
// It halts on the first error and reports which step failed. Chain is
// used by pipeline-testing tooling; the mapping engine applies
// transformations per field independently and does not go through here.
func (r *Registry) Chain(value any, steps []ChainStep) (any, error) {
	current := value
	for i, step := range steps {
		out, err := r.Transform(step.Name, current, step.Params)
		if err != nil {
			return nil, fmt.Errorf("chain step %d (%s): %w", i, step.Name, err)
		}
		current = out
	}
	return current, nil
}

// Has reports whether a transformation name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Get returns the definition for a registered transformation.
func (r *Registry) Get(name string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return Definition{}, &UnknownTransformationError{Name: name}
	}
	return e.def, nil
}

// List returns all definitions sorted by name for stable UI display.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.entries))
	for _, e := range r.entries {
		defs = append(defs, e.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// ListByCategory returns definitions for one category, sorted by name.
func (r *Registry) ListByCategory(category string) []Definition {
	var defs []Definition
	for _, def := range r.List() {
		if def.Category == category {
			defs = append(defs, def)
		}
	}
	return defs
}
