package eventbus

import "sync"

// Event is one emission delivered through a Subscription.
type Event struct {
	Name string
	Args []any
}

// Subscription adapts named events to a channel.
// Caller must call Close() when done to unregister from the bus.
type Subscription struct {
	bus       *Bus
	events    chan Event
	listeners map[string]*Listener
	mu        sync.Mutex
	closed    bool
	once      sync.Once
}

// Subscribe forwards every emission of the named events to a buffered
// channel of the given size. Delivery is non-blocking: when the buffer is
// full the event is dropped, the same at-most-once contract as the relay.
func (b *Bus) Subscribe(buffer int, names ...string) *Subscription {
	s := &Subscription{
		bus:       b,
		events:    make(chan Event, buffer),
		listeners: make(map[string]*Listener, len(names)),
	}
	for _, name := range names {
		name := name
		s.listeners[name] = b.On(name, func(args ...any) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.closed {
				return
			}
			select {
			case s.events <- Event{Name: name, Args: args}:
			default:
			}
		})
	}
	return s
}

// Events returns the channel of forwarded events.
// The channel is closed by Close.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close unregisters the subscription. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		for name, l := range s.listeners {
			s.bus.Off(name, l)
		}
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
	return nil
}
