package plugin

import (
	"context"
	"sync"
)

// Scope carries per-call state shared by the hooks of a single call, so a
// plugin can correlate its request hook with its response or error hook.
type Scope struct {
	id string

	mu     sync.Mutex
	values map[any]any
}

type scopeKey struct{}

// NewScope creates a call scope with the given call ID.
func NewScope(id string) *Scope {
	return &Scope{id: id, values: make(map[any]any)}
}

// ID returns the call ID.
func (s *Scope) ID() string {
	return s.id
}

// Set stores a value under key. Plugins should use an unexported key type.
func (s *Scope) Set(key, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Get returns the value stored under key.
func (s *Scope) Get(key any) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// ContextWithScope returns a context carrying s.
func ContextWithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFromContext returns the call scope, or nil outside a call.
func ScopeFromContext(ctx context.Context) *Scope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}
