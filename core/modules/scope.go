package modules

import (
	"fmt"
	"strings"
	"sync"
)

// SymbolSource resolves symbols that are not defined in a scope's own table,
// e.g. the exports of a Go plugin.
type SymbolSource interface {
	Lookup(name string) (any, error)
}

// Scope is a module's symbol table. Lookups fall through to the parent
// scope, so a module sees its own symbols, those of its dependency chain
// and finally the kernel base scope, but never those of unrelated modules.
type Scope struct {
	name   string
	parent *Scope

	mu      sync.RWMutex
	symbols map[string]any
	source  SymbolSource
}

// NewScope creates a scope layered on parent. parent may be nil for a root scope.
func NewScope(name string, parent *Scope) *Scope {
	return &Scope{
		name:    name,
		parent:  parent,
		symbols: make(map[string]any),
	}
}

// Name returns the scope owner's name.
func (s *Scope) Name() string { return s.name }

// Parent returns the enclosing scope, nil for a root scope.
func (s *Scope) Parent() *Scope { return s.parent }

// Define binds id to sym in this scope, replacing any previous binding.
func (s *Scope) Define(id string, sym any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols[id] = sym
}

// Lookup resolves id in this scope, then in its source, then in each parent.
func (s *Scope) Lookup(id string) (any, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if sym, ok := sc.local(id); ok {
			return sym, true
		}
	}
	return nil, false
}

func (s *Scope) local(id string) (any, bool) {
	s.mu.RLock()
	sym, ok := s.symbols[id]
	source := s.source
	s.mu.RUnlock()

	if ok {
		return sym, true
	}
	if source == nil {
		return nil, false
	}

	sym, err := source.Lookup(exportName(id))
	if err != nil || sym == nil {
		return nil, false
	}
	return sym, true
}

func (s *Scope) attach(source SymbolSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = source
}

// Chain returns the scope names from s up to the root.
func (s *Scope) Chain() []string {
	var names []string
	for sc := s; sc != nil; sc = sc.parent {
		names = append(names, sc.name)
	}
	return names
}

func (s *Scope) String() string {
	return fmt.Sprintf("scope(%s)", strings.Join(s.Chain(), " -> "))
}

// exportName maps a symbol id such as "warehouse.NewMonitor" to the exported
// identifier a plugin would carry.
func exportName(id string) string {
	if i := strings.LastIndex(id, "."); i >= 0 {
		return id[i+1:]
	}
	return id
}
