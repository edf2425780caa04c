package services

import (
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
)

type stockDB struct {
	name string
}

type locator interface {
	Location() string
}

type hub struct{ city string }

func (h hub) Location() string { return h.city }

// infrastructure publishes a producer bean and a field-style bean.
type infrastructure struct {
	location string
	produced int
}

func (i *infrastructure) Beans() []Bean {
	return []Bean{
		Provide("", func() (*stockDB, error) {
			i.produced++
			return &stockDB{name: "Main_Store"}, nil
		}),
		Value("location", i.location),
	}
}

// monitor receives services by injection.
type monitor struct {
	db       *stockDB
	location string
	missing  *hub
}

func (m *monitor) Injections() []Slot {
	return []Slot{
		Inject("", &m.db),
		Inject("LOCATION", &m.location),
		Inject("nowhere", &m.missing),
	}
}

func testRegistry() *Registry {
	return NewRegistry(zerolog.Nop())
}

func TestNewRegistry(t *testing.T) {
	r := testRegistry()
	if r == nil {
		t.Fatal("NewRegistry returned nil")
	}
	if r.services == nil {
		t.Error("services map not initialized")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistry_Register_CaseInsensitive(t *testing.T) {
	r := testRegistry()
	Register(r, "Primary", &stockDB{name: "a"})

	got, ok := Lookup[*stockDB](r, "PRIMARY")
	if !ok {
		t.Fatal("Lookup should find service regardless of case")
	}
	if got.name != "a" {
		t.Errorf("name = %q, want %q", got.name, "a")
	}
}

func TestRegistry_Register_LastWriteWins(t *testing.T) {
	r := testRegistry()
	Register(r, "db", &stockDB{name: "first"})
	Register(r, "DB", &stockDB{name: "second"})

	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}

	got, _ := Lookup[*stockDB](r, "db")
	if got.name != "second" {
		t.Errorf("name = %q, want %q", got.name, "second")
	}
}

func TestRegistry_Register_TypeIsPartOfKey(t *testing.T) {
	r := testRegistry()
	Register(r, "x", "a string")
	Register(r, "x", 42)

	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}

	s, ok := Lookup[string](r, "x")
	if !ok || s != "a string" {
		t.Errorf("Lookup[string] = %q, %v", s, ok)
	}
	n, ok := Lookup[int](r, "x")
	if !ok || n != 42 {
		t.Errorf("Lookup[int] = %d, %v", n, ok)
	}
}

func TestRegistry_InterfaceType(t *testing.T) {
	r := testRegistry()
	Register[locator](r, "hub", hub{city: "Berlin"})

	got, ok := Lookup[locator](r, "hub")
	if !ok {
		t.Fatal("interface-typed service not found")
	}
	if got.Location() != "Berlin" {
		t.Errorf("Location() = %q, want Berlin", got.Location())
	}

	// The concrete type is a different key.
	if _, ok := Lookup[hub](r, "hub"); ok {
		t.Error("concrete type lookup should not match interface registration")
	}
}

func TestRegistry_RegisterBeans(t *testing.T) {
	r := testRegistry()
	infra := &infrastructure{location: "Berlin_Hub_01"}

	n := r.RegisterBeans(infra)
	if n != 2 {
		t.Fatalf("RegisterBeans() = %d, want 2", n)
	}
	if infra.produced != 1 {
		t.Errorf("producer called %d times, want 1", infra.produced)
	}

	db, ok := Lookup[*stockDB](r, "stockdb")
	if !ok {
		t.Fatal("producer bean should default to lowercased type name")
	}
	if db.name != "Main_Store" {
		t.Errorf("db.name = %q", db.name)
	}

	loc, ok := Lookup[string](r, "location")
	if !ok || loc != "Berlin_Hub_01" {
		t.Errorf("location = %q, %v", loc, ok)
	}
}

func TestRegistry_RegisterBeans_NotAProvider(t *testing.T) {
	r := testRegistry()
	if n := r.RegisterBeans(struct{}{}); n != 0 {
		t.Errorf("RegisterBeans() = %d, want 0", n)
	}
}

type faultyProvider struct{}

func (faultyProvider) Beans() []Bean {
	return []Bean{
		Provide("broken", func() (*stockDB, error) {
			return nil, errors.New("database offline")
		}),
		Provide("panicky", func() (*hub, error) {
			panic("boom")
		}),
		{Name: "empty"},
		Value("survivor", 7),
	}
}

func TestRegistry_RegisterBeans_ContinuesPastFailures(t *testing.T) {
	r := testRegistry()

	n := r.RegisterBeans(faultyProvider{})
	if n != 1 {
		t.Fatalf("RegisterBeans() = %d, want 1", n)
	}

	if _, ok := Lookup[*stockDB](r, "broken"); ok {
		t.Error("failed producer should not publish")
	}
	if _, ok := Lookup[*hub](r, "panicky"); ok {
		t.Error("panicking producer should not publish")
	}
	if v, ok := Lookup[int](r, "survivor"); !ok || v != 7 {
		t.Errorf("survivor = %d, %v", v, ok)
	}
}

func TestRegistry_Publish_Errors(t *testing.T) {
	r := testRegistry()

	if err := r.publish(Bean{Name: "x"}); !errors.Is(err, ErrInvalidBean) {
		t.Errorf("publish(empty) error = %v, want ErrInvalidBean", err)
	}

	err := r.publish(Provide("p", func() (int, error) { panic("nope") }))
	if !errors.Is(err, ErrBeanPanic) {
		t.Errorf("publish(panic) error = %v, want ErrBeanPanic", err)
	}
}

func TestRegistry_Inject(t *testing.T) {
	r := testRegistry()
	r.RegisterBeans(&infrastructure{location: "Berlin_Hub_01"})

	m := &monitor{}
	n := r.Inject(m)
	if n != 2 {
		t.Fatalf("Inject() = %d, want 2", n)
	}
	if m.db == nil || m.db.name != "Main_Store" {
		t.Errorf("db not injected: %+v", m.db)
	}
	if m.location != "Berlin_Hub_01" {
		t.Errorf("location = %q", m.location)
	}
}

func TestRegistry_Inject_MissingKeepsPriorValue(t *testing.T) {
	r := testRegistry()

	prior := &hub{city: "Paris"}
	m := &monitor{location: "unchanged", missing: prior}

	if n := r.Inject(m); n != 0 {
		t.Errorf("Inject() = %d, want 0", n)
	}
	if m.location != "unchanged" {
		t.Errorf("location = %q, want unchanged", m.location)
	}
	if m.missing != prior {
		t.Error("missing slot should keep its prior value")
	}
}

func TestRegistry_Inject_NotInjectable(t *testing.T) {
	r := testRegistry()
	if n := r.Inject(42); n != 0 {
		t.Errorf("Inject() = %d, want 0", n)
	}
}

func TestRegistry_Keys_Sorted(t *testing.T) {
	r := testRegistry()
	Register(r, "zeta", 1)
	Register(r, "alpha", "a")
	Register(r, "alpha", 2)

	keys := r.Keys()
	if len(keys) != 3 {
		t.Fatalf("len(Keys()) = %d, want 3", len(keys))
	}
	if keys[0].Name != "alpha" || keys[1].Name != "alpha" || keys[2].Name != "zeta" {
		t.Errorf("keys not sorted: %v", keys)
	}
}

func TestDefaultName(t *testing.T) {
	tests := []struct {
		name string
		typ  reflect.Type
		want string
	}{
		{"pointer", TypeOf[*stockDB](), "stockdb"},
		{"struct", TypeOf[hub](), "hub"},
		{"interface", TypeOf[locator](), "locator"},
		{"builtin", TypeOf[string](), "string"},
		{"slice", TypeOf[[]int](), "[]int"},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := defaultName(tt.typ); got != tt.want {
				t.Errorf("defaultName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRegistry_EmptyNameUsesTypeName(t *testing.T) {
	r := testRegistry()
	Register(r, "", &stockDB{name: "x"})

	if _, ok := Lookup[*stockDB](r, "stockdb"); !ok {
		t.Error("empty name should register under the lowercased type name")
	}
	if _, ok := Lookup[*stockDB](r, ""); !ok {
		t.Error("empty lookup name should use the lowercased type name")
	}
}
