package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/voxstitch/pkg/provider/model"
)

// ErrBackendNotRegistered is returned by [Registry.Create] when no factory has
// been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: model backend not registered")

// ModelFactory constructs a model backend from its configuration block.
type ModelFactory func(BackendEntry) (model.Provider, error)

// Registry maps backend names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu     sync.RWMutex
	models map[string]ModelFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]ModelFactory)}
}

// Register registers a model backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) Register(name string, factory ModelFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[name] = factory
}

// Names returns the registered backend names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for n := range r.models {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Create instantiates a model backend using the factory registered under
// entry.Name. Returns [ErrBackendNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) Create(entry BackendEntry) (model.Provider, error) {
	r.mu.RLock()
	factory, ok := r.models[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, entry.Name)
	}
	p, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create model backend %q: %w", entry.Name, err)
	}
	return p, nil
}

// OptString extracts a string value from a backend Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func OptString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// OptInt extracts an integer value from a backend Options map. YAML decodes
// whole numbers as int; other types yield 0.
func OptInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// OptStringMap extracts a map of strings from a backend Options map,
// skipping non-string values.
func OptStringMap(opts map[string]any, key string) map[string]string {
	raw, ok := opts[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
