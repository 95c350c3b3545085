package parser

import (
	"fmt"

	"github.com/gperl-lang/gperl/core/ast"
)

// Entry is one name in a scoped symbol table.
type Entry struct {
	Name        string // with sigil
	Decl        ast.DeclKind
	OurPackage  string // for `our`: the stash the name aliases
	DeclaredRef bool
	Persistent  string // non-empty: routed through the persistent-id registry
	Captured    bool   // referenced from a nested sub
	subDepth    int    // nesting depth of the sub that owns the slot
	Slot        int    // local slot in the owning sub's frame
}

// Scope is one lexical scope. Lookup walks parents.
type Scope struct {
	parent   *Scope
	entries  map[string]*Entry
	subDepth int // depth of the enclosing sub (0 = file body)
}

func newScope(parent *Scope) *Scope {
	depth := 0
	if parent != nil {
		depth = parent.subDepth
	}
	return &Scope{parent: parent, entries: make(map[string]*Entry), subDepth: depth}
}

// declare adds an entry for a sigiled name in this scope.
func (s *Scope) declare(name string, decl ast.DeclKind) *Entry {
	e := &Entry{Name: name, Decl: decl, subDepth: s.subDepth}
	s.entries[name] = e
	return e
}

// lookup resolves a sigiled name, walking parent scopes.
func (s *Scope) lookup(name string) *Entry {
	for sc := s; sc != nil; sc = sc.parent {
		if e, ok := sc.entries[name]; ok {
			return e
		}
	}
	return nil
}

// visibleNames lists every lexical name in scope, for diagnostics.
func (s *Scope) visibleNames() []string {
	var out []string
	seen := map[string]bool{}
	for sc := s; sc != nil; sc = sc.parent {
		for n := range sc.entries {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}

// persistentIDs hands out process-wide stable ids for BEGIN-touched lexicals.
type persistentIDs struct {
	next int
}

func (p *persistentIDs) id(pkg, name string) string {
	p.next++
	return fmt.Sprintf("%s::%s\x00%d", pkg, name, p.next)
}
