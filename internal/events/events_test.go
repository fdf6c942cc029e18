// File: internal/events/events_test.go
package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBusDeliversToMatchingSubscribers(t *testing.T) {
	// -- Setup --
	bus := NewBus(zap.NewNop(), 4)
	defer bus.Close()
	statusCh, unsubStatus := bus.Subscribe(TypeStatus)
	defer unsubStatus()
	errCh, unsubErr := bus.Subscribe(TypeError)
	defer unsubErr()

	// -- Execution --
	bus.Emit(TypeStatus, "planning", 1)

	// -- Assertions --
	select {
	case ev := <-statusCh:
		assert.Equal(t, TypeStatus, ev.Type)
		assert.Equal(t, "planning", ev.Payload)
		assert.Equal(t, 1, ev.Step)
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("status subscriber never received the event")
	}
	select {
	case ev := <-errCh:
		t.Fatalf("error subscriber received unrelated event %v", ev)
	default:
	}
}

func TestBusEmitNeverBlocksOnFullBuffer(t *testing.T) {
	// -- Setup --
	bus := NewBus(zap.NewNop(), 1)
	defer bus.Close()
	ch, unsub := bus.Subscribe(TypeLog)
	defer unsub()

	// -- Execution --
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			bus.Emit(TypeLog, i, i)
		}
	}()

	// -- Assertions --
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a saturated subscriber")
	}
	// The buffered event is the first one; the rest were dropped.
	ev := <-ch
	assert.Equal(t, 0, ev.Payload)
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	// -- Setup --
	bus := NewBus(zap.NewNop(), 4)
	defer bus.Close()
	ch, unsub := bus.Subscribe(TypeStatus)

	// -- Execution --
	unsub()
	bus.Emit(TypeStatus, "after", 1)

	// -- Assertions --
	select {
	case ev, ok := <-ch:
		require.False(t, ok, "received event after unsubscribe: %v", ev)
	default:
	}
}

func TestBusCloseClosesChannelsAndDisablesEmit(t *testing.T) {
	// -- Setup --
	bus := NewBus(zap.NewNop(), 4)
	ch, unsub := bus.Subscribe(TypeStatus)
	defer unsub()

	// -- Execution --
	bus.Close()
	bus.Emit(TypeStatus, "late", 1)

	// -- Assertions --
	_, ok := <-ch
	assert.False(t, ok, "subscriber channel must be closed")
	// Second close is a no-op.
	bus.Close()
}

func TestTeeFansOut(t *testing.T) {
	// -- Setup --
	bus := NewBus(zap.NewNop(), 4)
	defer bus.Close()
	ch, unsub := bus.Subscribe(TypeLog)
	defer unsub()
	sink := Tee(NewLogSink(zap.NewNop()), bus)

	// -- Execution --
	sink.Emit(TypeLog, "hello", 3)

	// -- Assertions --
	select {
	case ev := <-ch:
		assert.Equal(t, "hello", ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("tee did not reach the bus")
	}
}
