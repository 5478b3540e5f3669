// Package eventbus decouples producers (relay pumps, the collaboration
// service) from consumers (the session, the UI gateway) with named-event
// subscription.
//
// Handlers run synchronously on the goroutine that calls Emit, in
// registration order. The bus itself is safe for concurrent use.
package eventbus

import (
	"log"
	"sync"
)

// Handler receives the arguments passed to Emit.
type Handler func(args ...any)

// Listener is the handle returned by On and Once. Go func values are not
// comparable, so Off matches on this handle instead of the handler itself.
type Listener struct {
	handler Handler
	once    bool
	fired   bool
}

// Bus is a named-event registry.
type Bus struct {
	mu        sync.Mutex
	listeners map[string][]*Listener
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{listeners: make(map[string][]*Listener)}
}

// On registers handler for name. Multiple handlers per name are allowed and
// are invoked in registration order.
func (b *Bus) On(name string, handler Handler) *Listener {
	return b.add(name, &Listener{handler: handler})
}

// Once registers handler for a single invocation.
func (b *Bus) Once(name string, handler Handler) *Listener {
	return b.add(name, &Listener{handler: handler, once: true})
}

func (b *Bus) add(name string, l *Listener) *Listener {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[name] = append(b.listeners[name], l)
	return l
}

// Off removes exactly the given listener. No-op if it is not registered.
func (b *Bus) Off(name string, l *Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(name, l)
}

func (b *Bus) removeLocked(name string, l *Listener) {
	current := b.listeners[name]
	for i, candidate := range current {
		if candidate == l {
			next := make([]*Listener, 0, len(current)-1)
			next = append(next, current[:i]...)
			next = append(next, current[i+1:]...)
			if len(next) == 0 {
				delete(b.listeners, name)
			} else {
				b.listeners[name] = next
			}
			return
		}
	}
}

// Emit invokes every handler registered for name with args and reports
// whether any handler existed. A panicking handler is logged and skipped;
// later handlers still run.
func (b *Bus) Emit(name string, args ...any) bool {
	b.mu.Lock()
	registered := b.listeners[name]
	snapshot := make([]*Listener, 0, len(registered))
	for _, l := range registered {
		if l.once {
			if l.fired {
				continue
			}
			l.fired = true
		}
		snapshot = append(snapshot, l)
	}
	for _, l := range snapshot {
		if l.once {
			b.removeLocked(name, l)
		}
	}
	b.mu.Unlock()

	for _, l := range snapshot {
		invoke(name, l.handler, args)
	}
	return len(snapshot) > 0
}

func invoke(name string, h Handler, args []any) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[EventBus] handler for %q panicked: %v", name, r)
		}
	}()
	h(args...)
}

// RemoveAllListeners clears the handlers of the named events, or of every
// event when no name is given.
func (b *Bus) RemoveAllListeners(names ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(names) == 0 {
		b.listeners = make(map[string][]*Listener)
		return
	}
	for _, name := range names {
		delete(b.listeners, name)
	}
}

// ListenerCount returns the number of handlers registered for name.
func (b *Bus) ListenerCount(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[name])
}
