// Package provider defines the gateway boundary between the engine and
// external text-generation backends. A Generator executes exactly one
// request against one backend and returns plain text or a classified
// failure; the Registry selects the Generator for a request's provider id.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/loomworks/loomgen/internal/request"
)

// Generator is the capability contract every backend variant satisfies.
type Generator interface {
	// Generate sends one request and returns the model's text output.
	// Failures are wrapped in the package's error taxonomy.
	Generate(ctx context.Context, req request.Request) (string, error)
}

// GeneratorFunc adapts a plain function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req request.Request) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, req request.Request) (string, error) {
	return f(ctx, req)
}

// Registry maps provider ids to their Generator implementations. It is
// safe for concurrent use; registration normally happens once at startup.
type Registry struct {
	mu         sync.RWMutex
	generators map[string]Generator
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{generators: make(map[string]Generator)}
}

// Register binds a provider id to a Generator, replacing any previous
// binding for the same id.
func (r *Registry) Register(id string, gen Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[id] = gen
}

// Lookup returns the Generator for id, or ErrUnknownProvider if no such
// backend was registered.
func (r *Registry) Lookup(id string) (Generator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	gen, ok := r.generators[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	return gen, nil
}

// Generate resolves the request's provider and executes it.
func (r *Registry) Generate(ctx context.Context, req request.Request) (string, error) {
	gen, err := r.Lookup(req.Provider)
	if err != nil {
		return "", err
	}
	return gen.Generate(ctx, req)
}

// Providers lists the registered provider ids in sorted order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.generators))
	for id := range r.generators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
