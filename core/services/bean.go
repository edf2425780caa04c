package services

import "reflect"

// Provider publishes beans into the registry.
type Provider interface {
	Beans() []Bean
}

// Injectable receives services from the registry.
type Injectable interface {
	Injections() []Slot
}

// Bean is a named value to publish. Build one with Provide or Value.
type Bean struct {
	// Type is the declared type the bean is published under.
	Type reflect.Type

	// Name is the lookup name. Empty means the lowercased type name.
	Name string

	produce func() (any, error)
}

func (b Bean) name() string {
	if b.Name != "" {
		return b.Name
	}
	return defaultName(b.Type)
}

// Provide declares a bean produced by calling fn at publication time.
func Provide[T any](name string, fn func() (T, error)) Bean {
	b := Bean{Type: TypeOf[T](), Name: name}
	if fn != nil {
		b.produce = func() (any, error) {
			return fn()
		}
	}
	return b
}

// Value declares a bean for an already constructed value.
func Value[T any](name string, v T) Bean {
	return Bean{
		Type: TypeOf[T](),
		Name: name,
		produce: func() (any, error) {
			return v, nil
		},
	}
}

// Slot is a typed destination filled by Registry.Inject. Build one with Inject.
type Slot struct {
	// Type is the declared type looked up in the registry.
	Type reflect.Type

	// Name is the lookup name. Empty means the lowercased type name.
	Name string

	assign func(any) bool
}

func (s Slot) name() string {
	if s.Name != "" {
		return s.Name
	}
	return defaultName(s.Type)
}

// Inject declares a slot that assigns the service (T, name) to *dst.
func Inject[T any](name string, dst *T) Slot {
	return Slot{
		Type: TypeOf[T](),
		Name: name,
		assign: func(v any) bool {
			typed, ok := v.(T)
			if !ok || dst == nil {
				return false
			}
			*dst = typed
			return true
		},
	}
}
