// File: internal/events/events.go
//
// Fire-and-forget observability events. The control loop emits at every
// stage; nothing it does ever waits on a listener, and a failing or absent
// listener is invisible to it.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Well-known event types the control loop emits.
const (
	TypeStatus    = "status"
	TypeLog       = "log"
	TypeError     = "error"
	TypeSuccess   = "success"
	TypeScreen    = "screen_update"
	TypeDashboard = "dashboard_update"
	TypePlan      = "plan"
	TypeAction    = "action"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	ID        string
	Timestamp time.Time
	Type      string
	Step      int
	Payload   any
}

// Sink receives loop events. Emit must never block and must swallow delivery
// failures.
type Sink interface {
	Emit(eventType string, payload any, step int)
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink builds a Sink backed by the given logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("events")}
}

func (s *LogSink) Emit(eventType string, payload any, step int) {
	switch eventType {
	case TypeError:
		s.logger.Warn("Event.", zap.String("type", eventType), zap.Int("step", step), zap.Any("payload", payload))
	case TypeScreen, TypeDashboard:
		// Frame payloads are large; log the occurrence only.
		s.logger.Debug("Event.", zap.String("type", eventType), zap.Int("step", step))
	default:
		s.logger.Info("Event.", zap.String("type", eventType), zap.Int("step", step), zap.Any("payload", payload))
	}
}

// Tee fans one emit out to several sinks.
func Tee(sinks ...Sink) Sink { return teeSink(sinks) }

type teeSink []Sink

func (t teeSink) Emit(eventType string, payload any, step int) {
	for _, s := range t {
		s.Emit(eventType, payload, step)
	}
}

// Bus is a typed pub/sub fan-out for an external dashboard or recorder.
// Delivery is best effort: a subscriber whose buffer is full loses the event
// rather than stalling the loop.
type Bus struct {
	logger     *zap.Logger
	bufferSize int

	mu          sync.RWMutex
	subscribers map[string][]chan Event
	closed      bool
}

// NewBus creates a bus whose subscriber channels buffer bufferSize events.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Bus{
		logger:      logger.Named("bus"),
		bufferSize:  bufferSize,
		subscribers: make(map[string][]chan Event),
	}
}

// Emit implements Sink. Dropped deliveries are logged and forgotten.
func (b *Bus) Emit(eventType string, payload any, step int) {
	ev := Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Step:      step,
		Payload:   payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("Subscriber buffer full; event dropped.",
				zap.String("type", eventType), zap.String("id", ev.ID))
		}
	}
}

// Subscribe returns a receive channel for the given event types and a
// function that detaches it. The channel closes on Close.
func (b *Bus) Subscribe(eventTypes ...string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	for _, et := range eventTypes {
		b.subscribers[et] = append(b.subscribers[et], ch)
	}

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, et := range eventTypes {
			subs := b.subscribers[et]
			for i, sub := range subs {
				if sub == ch {
					b.subscribers[et] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			if len(b.subscribers[et]) == 0 {
				delete(b.subscribers, et)
			}
		}
	}
	return ch, unsubscribe
}

// Close detaches and closes every subscriber channel. Emit becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	unique := make(map[chan Event]struct{})
	for _, subs := range b.subscribers {
		for _, ch := range subs {
			unique[ch] = struct{}{}
		}
	}
	for ch := range unique {
		close(ch)
	}
	b.subscribers = make(map[string][]chan Event)
}
