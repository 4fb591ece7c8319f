// Package tools binds tool-call names to local Go functions and to the
// declarative schemas advertised to the remote assistant.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Func executes a tool call. args is the decoded JSON argument object; the
// returned value is serialized to JSON and sent back as the call's output.
type Func func(ctx context.Context, args map[string]any) (any, error)

// FunctionSpec describes a callable function to the remote service.
type FunctionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Schema is a declarative tool definition in the remote service's wire shape.
type Schema struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

var (
	errEmptyName     = errors.New("tool name is empty")
	errNilFunc       = errors.New("tool function is nil")
	errDuplicateName = errors.New("tool already registered")
)

// Registry maps function names to callables and carries their schemas.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	funcs   map[string]Func
	schemas map[string]Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		funcs:   make(map[string]Func),
		schemas: make(map[string]Schema),
	}
}

// Register binds name to fn.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" {
		return errEmptyName
	}
	if fn == nil {
		return fmt.Errorf("%s: %w", name, errNilFunc)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("%s: %w", name, errDuplicateName)
	}
	r.funcs[name] = fn
	return nil
}

// AddSchema advertises s to the remote service. A later schema with the same
// function name replaces the earlier one.
func (r *Registry) AddSchema(s Schema) error {
	if s.Function.Name == "" {
		return errEmptyName
	}
	if s.Type == "" {
		s.Type = "function"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[s.Function.Name] = s
	return nil
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Schemas returns all advertised schemas ordered by function name.
func (r *Registry) Schemas() []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Schema, 0, len(r.schemas))
	for _, s := range r.schemas {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Function.Name < out[j].Function.Name })
	return out
}

// Names returns the registered function names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
