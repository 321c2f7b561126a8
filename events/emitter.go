// Package events provides a small typed publish/subscribe registry used to
// fan events out to every registered listener.
//
// Listeners run synchronously on the emitting goroutine, in the order they
// were registered. Emit takes a snapshot of the listener list, so listeners
// may register further listeners without deadlocking; those only see
// subsequent events.
package events

import "sync"

// Emitter fans values of type T out to listeners.
type Emitter[T any] struct {
	mu        sync.RWMutex
	listeners []func(T)
}

// On registers a listener. A nil listener is ignored.
func (e *Emitter[T]) On(listener func(T)) {
	if listener == nil {
		return
	}
	e.mu.Lock()
	e.listeners = append(e.listeners, listener)
	e.mu.Unlock()
}

// Emit invokes every listener with v and returns how many were called.
func (e *Emitter[T]) Emit(v T) int {
	e.mu.RLock()
	snapshot := make([]func(T), len(e.listeners))
	copy(snapshot, e.listeners)
	e.mu.RUnlock()

	for _, listener := range snapshot {
		listener(v)
	}
	return len(snapshot)
}

// Len returns the number of registered listeners.
func (e *Emitter[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}

// Bus keys emitters by event name.
type Bus[T any] struct {
	mu       sync.RWMutex
	emitters map[string]*Emitter[T]
}

// NewBus creates an empty Bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{emitters: make(map[string]*Emitter[T])}
}

// On registers listener for the named event.
func (b *Bus[T]) On(name string, listener func(T)) {
	b.mu.Lock()
	em, ok := b.emitters[name]
	if !ok {
		em = &Emitter[T]{}
		b.emitters[name] = em
	}
	b.mu.Unlock()

	em.On(listener)
}

// Emit delivers v to listeners of the named event and returns how many
// were called. Events nobody listens to are dropped.
func (b *Bus[T]) Emit(name string, v T) int {
	b.mu.RLock()
	em, ok := b.emitters[name]
	b.mu.RUnlock()

	if !ok {
		return 0
	}
	return em.Emit(v)
}
