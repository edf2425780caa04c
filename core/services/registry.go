// Package services provides the kernel service registry.
//
// A service is any value published under its declared type and a
// case-insensitive name. Providers publish beans; targets receive them
// through injection slots.
//
// Usage:
//
//	reg := services.NewRegistry(logger)
//	services.Register[*Inventory](reg, "main", inv)
//	inv, ok := services.Lookup[*Inventory](reg, "MAIN")
package services

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrInvalidBean is returned for a bean without a producer.
	ErrInvalidBean = errors.New("bean has no producer")

	// ErrBeanPanic wraps a panic raised while producing a bean.
	ErrBeanPanic = errors.New("bean producer panicked")
)

// Key identifies a service by declared type and lowercased name.
type Key struct {
	Type reflect.Type
	Name string
}

// String returns "name (type)".
func (k Key) String() string {
	return fmt.Sprintf("%s (%s)", k.Name, k.Type)
}

// Registry maps (type, name) keys to service instances.
// Registration is an unconditional upsert: the last write wins.
type Registry struct {
	mu       sync.RWMutex
	services map[Key]any
	logger   zerolog.Logger
}

// NewRegistry creates an empty service registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		services: make(map[Key]any),
		logger:   logger,
	}
}

// Register publishes impl under (typ, lowercased name). An empty name
// selects the lowercased type name.
func (r *Registry) Register(typ reflect.Type, name string, impl any) {
	if name == "" {
		name = defaultName(typ)
	}
	key := Key{Type: typ, Name: strings.ToLower(name)}

	r.mu.Lock()
	r.services[key] = impl
	r.mu.Unlock()

	r.logger.Debug().Str("service", key.String()).Msg("service registered")
}

// Get returns the instance published under (typ, name). Name matching is
// case-insensitive; an empty name selects the lowercased type name.
func (r *Registry) Get(typ reflect.Type, name string) (any, bool) {
	if name == "" {
		name = defaultName(typ)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	impl, ok := r.services[Key{Type: typ, Name: strings.ToLower(name)}]
	return impl, ok
}

// Len returns the number of published services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// Keys returns every published key, sorted by name then type.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	keys := make([]Key, 0, len(r.services))
	for k := range r.services {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Name != keys[j].Name {
			return keys[i].Name < keys[j].Name
		}
		return keys[i].Type.String() < keys[j].Type.String()
	})
	return keys
}

// RegisterBeans publishes every bean declared by provider.
// Providers that do not implement Provider are ignored. A failing bean is
// logged and skipped; the remaining beans are still published.
// Returns the number of beans published.
func (r *Registry) RegisterBeans(provider any) int {
	p, ok := provider.(Provider)
	if !ok {
		return 0
	}

	published := 0
	for _, bean := range p.Beans() {
		if err := r.publish(bean); err != nil {
			r.logger.Error().
				Err(err).
				Str("bean", bean.name()).
				Str("provider", fmt.Sprintf("%T", provider)).
				Msg("bean publication failed")
			continue
		}
		published++
	}
	return published
}

func (r *Registry) publish(bean Bean) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrBeanPanic, rec)
		}
	}()

	if bean.produce == nil || bean.Type == nil {
		return ErrInvalidBean
	}

	impl, err := bean.produce()
	if err != nil {
		return fmt.Errorf("produce %s: %w", bean.name(), err)
	}

	r.Register(bean.Type, bean.name(), impl)
	return nil
}

// Inject fills the injection slots declared by target.
// Slots without a matching service keep their current value; Inject never fails.
// Returns the number of slots filled.
func (r *Registry) Inject(target any) int {
	in, ok := target.(Injectable)
	if !ok {
		return 0
	}

	injected := 0
	for _, slot := range in.Injections() {
		if slot.assign == nil || slot.Type == nil {
			continue
		}

		impl, found := r.Get(slot.Type, slot.name())
		if !found || impl == nil {
			r.logger.Debug().
				Str("slot", slot.name()).
				Str("type", slot.Type.String()).
				Str("target", fmt.Sprintf("%T", target)).
				Msg("no service for injection slot")
			continue
		}

		if !slot.assign(impl) {
			r.logger.Warn().
				Str("slot", slot.name()).
				Str("type", slot.Type.String()).
				Msg("service not assignable to slot")
			continue
		}
		injected++
	}
	return injected
}

// TypeOf returns the reflect.Type of T, including interface types.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Register publishes impl under T and name.
func Register[T any](r *Registry, name string, impl T) {
	r.Register(TypeOf[T](), name, impl)
}

// Lookup returns the service published under T and name.
func Lookup[T any](r *Registry, name string) (T, bool) {
	var zero T

	impl, ok := r.Get(TypeOf[T](), name)
	if !ok {
		return zero, false
	}

	typed, ok := impl.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// defaultName derives a service name from its type: the lowercased type name
// with pointers stripped, e.g. *warehouse.StockDB -> "stockdb".
func defaultName(t reflect.Type) string {
	if t == nil {
		return ""
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if name := t.Name(); name != "" {
		return strings.ToLower(name)
	}
	return strings.ToLower(t.String())
}
