// Package events provides a synchronous, type-matched event bus.
// Listeners expose typed handlers; Dispatch delivers an event to every handler
// whose parameter type accepts the event's runtime type.
package events

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/artpar/modkernel/ports"
	"github.com/rs/zerolog"
)

// Event is anything dispatched on the bus.
// The cancellation flag is advisory: the bus keeps delivering after a handler
// cancels, and the emitting code decides what cancellation means.
type Event interface {
	Cancelled() bool
	SetCancelled(bool)
}

// Base implements the cancellation flag. Embed it in concrete events and
// dispatch them by pointer.
type Base struct {
	cancelled bool
}

// Cancelled reports whether a handler cancelled the event.
func (b *Base) Cancelled() bool { return b.cancelled }

// SetCancelled sets the cancellation flag.
func (b *Base) SetCancelled(c bool) { b.cancelled = c }

// Handler is one typed event handler. Build it with On.
type Handler struct {
	// Type is the declared parameter type.
	Type reflect.Type

	call func(Event) (bool, error)
}

// On declares a handler for events assignable to T. T may be a concrete
// event type (e.g. *StockAlert) or an interface satisfied by several events.
func On[T any](fn func(T) error) Handler {
	return Handler{
		Type: reflect.TypeOf((*T)(nil)).Elem(),
		call: func(ev Event) (bool, error) {
			typed, ok := any(ev).(T)
			if !ok {
				return false, nil
			}
			return true, fn(typed)
		},
	}
}

// Accepts reports whether the handler's parameter type accepts ev.
func (h Handler) Accepts(ev Event) bool {
	if h.Type == nil || ev == nil {
		return false
	}
	return reflect.TypeOf(ev).AssignableTo(h.Type)
}

func (h Handler) safeCall(ev Event) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched, err = true, fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.call(ev)
}

// Listener exposes the handlers of one object.
type Listener interface {
	Handlers() []Handler
}

type registeredListener struct {
	owner    Listener
	handlers []Handler
}

// Bus holds listeners in registration order. Listeners cannot be removed.
type Bus struct {
	mu        sync.RWMutex
	listeners []registeredListener
	logger    zerolog.Logger
	metrics   ports.Metrics
}

// NewBus creates a new event bus. metrics may be nil.
func NewBus(logger zerolog.Logger, metrics ports.Metrics) *Bus {
	return &Bus{
		logger:  logger,
		metrics: metrics,
	}
}

// RegisterInstance stores a caller-owned listener.
// Objects that do not implement Listener are ignored; returns whether obj was stored.
func (b *Bus) RegisterInstance(obj any) bool {
	l, ok := obj.(Listener)
	if !ok {
		return false
	}

	handlers := l.Handlers()

	b.mu.Lock()
	b.listeners = append(b.listeners, registeredListener{owner: l, handlers: handlers})
	b.mu.Unlock()

	b.logger.Debug().
		Str("listener", fmt.Sprintf("%T", obj)).
		Int("handlers", len(handlers)).
		Msg("listener registered")
	return true
}

// Register constructs a zero-value listener of type T, stores it and returns it.
func Register[T any, PT interface {
	*T
	Listener
}](b *Bus) PT {
	l := PT(new(T))
	b.RegisterInstance(l)
	return l
}

// Len returns the number of registered listeners.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Dispatch delivers ev synchronously to every matching handler, walking
// listeners in registration order, and returns ev.
// Handler errors and panics are logged and delivery continues.
// A nil event, including a typed nil pointer, is not delivered.
func (b *Bus) Dispatch(ev Event) Event {
	if ev == nil {
		return nil
	}
	if v := reflect.ValueOf(ev); v.Kind() == reflect.Pointer && v.IsNil() {
		b.logger.Warn().Str("event", fmt.Sprintf("%T", ev)).Msg("nil event not dispatched")
		return ev
	}

	// Snapshot so handlers may register listeners without deadlocking.
	b.mu.RLock()
	listeners := b.listeners[:len(b.listeners):len(b.listeners)]
	b.mu.RUnlock()

	name := fmt.Sprintf("%T", ev)
	called := 0

	for _, l := range listeners {
		for _, h := range l.handlers {
			if h.call == nil {
				continue
			}
			matched, err := h.safeCall(ev)
			if !matched {
				continue
			}
			called++
			if err != nil {
				b.logger.Error().
					Err(err).
					Str("event", name).
					Str("listener", fmt.Sprintf("%T", l.owner)).
					Msg("event handler error")
			}
		}
	}

	b.logger.Debug().
		Str("event", name).
		Int("handlers", called).
		Bool("cancelled", ev.Cancelled()).
		Msg("event dispatched")

	if b.metrics != nil {
		b.metrics.EventDispatched(name, called)
	}
	return ev
}

// Dispatch is the typed form of Bus.Dispatch: it returns the event with its
// concrete type so callers can inspect fields set by handlers.
func Dispatch[E Event](b *Bus, ev E) E {
	b.Dispatch(ev)
	return ev
}
