package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc is a type-erased job handler that accepts raw JSON payload.
// The typed Definition[T] is converted to a HandlerFunc at registration
// time by closing over JSON unmarshal + the typed handler.
type HandlerFunc func(ctx context.Context, payload []byte) (*Result, error)

// Registry maps (queue, jobType) pairs to type-erased handler functions.
// It is built explicitly at process start so a missing handler is a
// startup-time error, not a runtime surprise. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	defaults map[string]Options
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
		defaults: make(map[string]Options),
	}
}

// handlerKey builds the composite registry key.
func handlerKey(queue, jobType string) string {
	return queue + "/" + jobType
}

// RegisterDefinition registers a typed job definition. The generic
// handler is wrapped in a closure that JSON-unmarshals the payload into
// T before calling the typed handler.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, payload []byte) (*Result, error) {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return nil, fmt.Errorf("unmarshal payload for job %s/%s: %w", def.Queue, def.Type, err)
			}
		}
		return def.Handler(ctx, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := handlerKey(def.Queue, def.Type)
	r.handlers[key] = handler
	r.defaults[key] = def.Opts
}

// Get returns the handler for the given (queue, jobType) pair.
// Returns false if no handler is registered.
func (r *Registry) Get(queue, jobType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[handlerKey(queue, jobType)]
	return h, ok
}

// DefaultsFor returns the registered Options for a (queue, jobType)
// pair, falling back to DefaultOptions when unregistered.
func (r *Registry) DefaultsFor(queue, jobType string) Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if o, ok := r.defaults[handlerKey(queue, jobType)]; ok {
		return o
	}
	return DefaultOptions()
}

// Has reports whether a handler is registered for the pair.
func (r *Registry) Has(queue, jobType string) bool {
	_, ok := r.Get(queue, jobType)
	return ok
}

// Keys returns all registered "queue/jobType" keys.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	return keys
}
