package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitterRegistrationOrder(t *testing.T) {
	var em Emitter[int]
	var order []string

	em.On(func(v int) { order = append(order, "first") })
	em.On(func(v int) { order = append(order, "second") })
	em.On(func(v int) { order = append(order, "third") })

	assert.Equal(t, 3, em.Emit(1))
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestEmitterEveryListenerEveryEvent(t *testing.T) {
	var em Emitter[string]
	var a, b []string

	em.On(func(v string) { a = append(a, v) })
	em.On(func(v string) { b = append(b, v) })

	em.Emit("x")
	em.Emit("y")

	assert.Equal(t, []string{"x", "y"}, a)
	assert.Equal(t, []string{"x", "y"}, b)
}

func TestEmitterNilListenerIgnored(t *testing.T) {
	var em Emitter[int]
	em.On(nil)
	assert.Equal(t, 0, em.Len())
	assert.Equal(t, 0, em.Emit(1))
}

func TestEmitterListenerRegistersListener(t *testing.T) {
	var em Emitter[int]
	calls := 0

	em.On(func(int) {
		calls++
		em.On(func(int) { calls += 10 })
	})

	em.Emit(1)
	assert.Equal(t, 1, calls, "listener added during emit only sees later events")

	em.Emit(2)
	assert.Equal(t, 12, calls)
}

func TestEmitterConcurrentUse(t *testing.T) {
	var em Emitter[int]
	var mu sync.Mutex
	total := 0

	em.On(func(v int) {
		mu.Lock()
		total += v
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			em.Emit(1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, total)
}

func TestBusRoutesByName(t *testing.T) {
	bus := NewBus[string]()
	var pings, pongs []string

	bus.On("ping", func(v string) { pings = append(pings, v) })
	bus.On("pong", func(v string) { pongs = append(pongs, v) })

	assert.Equal(t, 1, bus.Emit("ping", "a"))
	assert.Equal(t, 0, bus.Emit("unknown", "b"))

	assert.Equal(t, []string{"a"}, pings)
	assert.Empty(t, pongs)
}
