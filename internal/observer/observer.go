// Package observer is a small callback registry with stable detach tokens.
//
// Handlers are keyed by a monotonically increasing token instead of being
// kept in a slice, so detaching one handler never disturbs another and a
// token from a previous registration can never remove a newer handler.
package observer

import (
	"sort"
	"sync"
)

// Token identifies one registration.
type Token uint64

// Registry holds handlers for values of type T.
type Registry[T any] struct {
	mu       sync.RWMutex
	next     Token
	handlers map[Token]func(T)
}

// New returns an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{handlers: make(map[Token]func(T))}
}

// Add registers fn and returns its token. A nil fn is ignored and yields 0.
func (r *Registry[T]) Add(fn func(T)) Token {
	if fn == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.handlers[r.next] = fn
	return r.next
}

// Remove detaches the handler registered under tok. Unknown tokens are ignored.
func (r *Registry[T]) Remove(tok Token) {
	r.mu.Lock()
	delete(r.handlers, tok)
	r.mu.Unlock()
}

// Detach returns a function that removes tok; calling it more than once is safe.
func (r *Registry[T]) Detach(tok Token) func() {
	var once sync.Once
	return func() {
		once.Do(func() { r.Remove(tok) })
	}
}

// Len returns the number of registered handlers.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Snapshot returns the registered handlers in registration order.
func (r *Registry[T]) Snapshot() []func(T) {
	r.mu.RLock()
	toks := make([]Token, 0, len(r.handlers))
	for tok := range r.handlers {
		toks = append(toks, tok)
	}
	sort.Slice(toks, func(i, j int) bool { return toks[i] < toks[j] })
	fns := make([]func(T), len(toks))
	for i, tok := range toks {
		fns[i] = r.handlers[tok]
	}
	r.mu.RUnlock()
	return fns
}

// Notify calls every handler with v, outside the lock, in registration order.
func (r *Registry[T]) Notify(v T) {
	for _, fn := range r.Snapshot() {
		fn(v)
	}
}

// Clear removes all handlers.
func (r *Registry[T]) Clear() {
	r.mu.Lock()
	r.handlers = make(map[Token]func(T))
	r.mu.Unlock()
}
