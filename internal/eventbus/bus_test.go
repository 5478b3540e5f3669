package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmit_FanOutInRegistrationOrder(t *testing.T) {
	bus := New()
	var calls []int

	bus.On("tick", func(args ...any) { calls = append(calls, 1) })
	second := bus.On("tick", func(args ...any) { calls = append(calls, 2) })
	bus.On("tick", func(args ...any) { calls = append(calls, 3) })

	assert.True(t, bus.Emit("tick"))
	assert.Equal(t, []int{1, 2, 3}, calls)

	bus.Off("tick", second)
	calls = nil
	bus.Emit("tick")
	assert.Equal(t, []int{1, 3}, calls, "off removes exactly one handler")
}

func TestEmit_PassesArgs(t *testing.T) {
	bus := New()
	var got []any
	bus.On("cursor", func(args ...any) { got = args })

	bus.Emit("cursor", "u1", 1.5, 2.5)
	assert.Equal(t, []any{"u1", 1.5, 2.5}, got)
}

func TestEmit_ReturnsFalseWithoutHandlers(t *testing.T) {
	bus := New()
	assert.False(t, bus.Emit("nobody"))
}

func TestOff_UnknownListenerIsNoop(t *testing.T) {
	bus := New()
	bus.On("a", func(args ...any) {})
	bus.Off("a", &Listener{})
	bus.Off("missing", &Listener{})
	assert.Equal(t, 1, bus.ListenerCount("a"))
}

func TestOnce_FiresOnlyOnce(t *testing.T) {
	bus := New()
	count := 0
	bus.Once("ready", func(args ...any) { count++ })

	assert.True(t, bus.Emit("ready"))
	assert.False(t, bus.Emit("ready"))
	assert.Equal(t, 1, count)
	assert.Equal(t, 0, bus.ListenerCount("ready"))
}

func TestEmit_HandlerPanicIsIsolated(t *testing.T) {
	bus := New()
	ran := false
	bus.On("boom", func(args ...any) { panic("handler failure") })
	bus.On("boom", func(args ...any) { ran = true })

	assert.NotPanics(t, func() { bus.Emit("boom") })
	assert.True(t, ran, "handlers after a panicking one still run")
}

func TestEmit_HandlerMayUnregisterItself(t *testing.T) {
	bus := New()
	count := 0
	var l *Listener
	l = bus.On("x", func(args ...any) {
		count++
		bus.Off("x", l)
	})

	bus.Emit("x")
	bus.Emit("x")
	assert.Equal(t, 1, count)
}

func TestRemoveAllListeners(t *testing.T) {
	bus := New()
	bus.On("a", func(args ...any) {})
	bus.On("b", func(args ...any) {})
	bus.On("c", func(args ...any) {})

	bus.RemoveAllListeners("a")
	assert.Equal(t, 0, bus.ListenerCount("a"))
	assert.Equal(t, 1, bus.ListenerCount("b"))

	bus.RemoveAllListeners()
	assert.Equal(t, 0, bus.ListenerCount("b"))
	assert.Equal(t, 0, bus.ListenerCount("c"))
}

func TestEmit_ConcurrentUse(t *testing.T) {
	bus := New()
	var mu sync.Mutex
	total := 0
	bus.On("n", func(args ...any) {
		mu.Lock()
		total++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Emit("n")
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, total)
}

func TestSubscribe_ForwardsToChannel(t *testing.T) {
	bus := New()
	sub := bus.Subscribe(4, "a", "b")
	defer sub.Close()

	bus.Emit("a", 1)
	bus.Emit("b", 2)
	bus.Emit("c", 3)

	for _, want := range []Event{{Name: "a", Args: []any{1}}, {Name: "b", Args: []any{2}}} {
		select {
		case got := <-sub.Events():
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	}
}

func TestSubscribe_DropsWhenFullAndCloses(t *testing.T) {
	bus := New()
	sub := bus.Subscribe(1, "a")

	bus.Emit("a", 1)
	bus.Emit("a", 2)

	got := <-sub.Events()
	assert.Equal(t, []any{1}, got.Args)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.False(t, bus.Emit("a"), "closed subscription unregisters its handler")
}
