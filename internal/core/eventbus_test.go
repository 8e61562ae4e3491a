package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventBusEmitCallsListenersInRegistrationOrder(t *testing.T) {
	t.Parallel()

	b := NewEventBus()
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		b.On("x", func(interface{}) { order = append(order, i) })
	}
	b.Emit("x", nil)
	require.Equal(t, []int{0, 1, 2}, order)
}

func TestEventBusEmitPassesPayloadThrough(t *testing.T) {
	t.Parallel()

	b := NewEventBus()
	var got *ConnectionUpdate
	b.On(EventConnectionUpdate, func(payload interface{}) {
		got = payload.(*ConnectionUpdate)
	})
	want := &ConnectionUpdate{Connection: "open"}
	b.Emit(EventConnectionUpdate, want)
	require.Same(t, want, got)
}

func TestEventBusOffRemovesAllListenersForName(t *testing.T) {
	t.Parallel()

	b := NewEventBus()
	calls := 0
	b.On("x", func(interface{}) { calls++ })
	b.On("x", func(interface{}) { calls++ })
	b.Off("x")
	b.Emit("x", nil)
	require.Equal(t, 0, calls)
}

func TestEventBusEmitOnUnregisteredNameIsANoOp(t *testing.T) {
	t.Parallel()

	b := NewEventBus()
	require.NotPanics(t, func() { b.Emit("nothing-registered", nil) })
}

func TestEventBusConcurrentOnAndEmit(t *testing.T) {
	t.Parallel()

	b := NewEventBus()
	var wg sync.WaitGroup
	wg.Add(20)
	for i := 0; i < 10; i++ {
		go func() {
			defer wg.Done()
			b.On("x", func(interface{}) {})
		}()
		go func() {
			defer wg.Done()
			b.Emit("x", nil)
		}()
	}
	wg.Wait()
}
