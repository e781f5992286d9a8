// Package rpc holds the handler registry that maps RPC method names to their
// implementations. Connection sessions look methods up here after handling
// the built-in subscription methods themselves.
package rpc

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tsarna/switchboard/pkg/switchboard/envelope"
)

// Built-in methods served directly by the connection session.
const (
	MethodSubscribeEvents   = "subscribe-events"
	MethodUnsubscribeEvents = "unsubscribe-events"

	// Legacy spellings accepted for wire compatibility with older clients.
	MethodSubscribeEventsLegacy   = "gateway.events.subscribe"
	MethodUnsubscribeEventsLegacy = "gateway.events.unsubscribe"
)

// IsBuiltin reports whether method is reserved for the connection session.
func IsBuiltin(method string) bool {
	switch method {
	case MethodSubscribeEvents, MethodUnsubscribeEvents,
		MethodSubscribeEventsLegacy, MethodUnsubscribeEventsLegacy:
		return true
	}
	return false
}

// Emitter pushes an event straight to the calling connection, bypassing the
// event bus and the connection's topic subscription.
type Emitter interface {
	Emit(ev *envelope.Event) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ev *envelope.Event) error

func (f EmitterFunc) Emit(ev *envelope.Event) error {
	return f(ev)
}

// Handler implements one RPC method. Returning an *envelope.Error selects the
// error code sent to the caller; any other error is reported as INTERNAL
// with its message passed through.
type Handler interface {
	Handle(ctx context.Context, req *envelope.Request, emit Emitter) (map[string]any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req *envelope.Request, emit Emitter) (map[string]any, error)

func (f HandlerFunc) Handle(ctx context.Context, req *envelope.Request, emit Emitter) (map[string]any, error) {
	return f(ctx, req, emit)
}

// Registry is a concurrency-safe method table.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for method. Built-in method names
// and empty names are rejected.
func (r *Registry) Register(method string, handler Handler) error {
	if method == "" {
		return fmt.Errorf("method name is required")
	}
	if IsBuiltin(method) {
		return fmt.Errorf("method %q is reserved", method)
	}
	if handler == nil {
		return fmt.Errorf("handler for %q is nil", method)
	}

	r.mu.Lock()
	r.handlers[method] = handler
	r.mu.Unlock()
	return nil
}

// MustRegister is like Register but panics on error. Intended for wiring
// fixed method tables at startup.
func (r *Registry) MustRegister(method string, handler Handler) {
	if err := r.Register(method, handler); err != nil {
		panic(err)
	}
}

// Lookup returns the handler for method.
func (r *Registry) Lookup(method string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[method]
	return h, ok
}

// Methods returns the registered method names in sorted order.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	methods := make([]string, 0, len(r.handlers))
	for m := range r.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}
