package values

import (
	"fmt"
	"reflect"
)

// Ref is a shared-ownership handle to a runtime container or cell. Exactly
// one target field is non-nil. Go's GC provides the ownership model; Weak is
// carried for API fidelity (weaken) and honoured by ref-counting consumers.
type Ref struct {
	Scalar  *Scalar
	Array   *Array
	Hash    *Hash
	Code    *Code
	Glob    *Glob
	Rx      *Regex
	Blessed string // package name when blessed
	Weak    bool
}

func ScalarRef(s *Scalar) *Ref { return &Ref{Scalar: s} }
func ArrayRef(a *Array) *Ref   { return &Ref{Array: a} }
func HashRef(h *Hash) *Ref     { return &Ref{Hash: h} }
func CodeRef(c *Code) *Ref     { return &Ref{Code: c} }
func GlobRef(g *Glob) *Ref     { return &Ref{Glob: g} }
func RegexRef(r *Regex) *Ref   { return &Ref{Rx: r} }

// Type returns the ref() string: the blessed package, or the base type.
func (r *Ref) Type() string {
	if r.Blessed != "" {
		return r.Blessed
	}
	return r.BaseType()
}

// BaseType ignores blessing.
func (r *Ref) BaseType() string {
	switch {
	case r.Scalar != nil:
		return "SCALAR"
	case r.Array != nil:
		return "ARRAY"
	case r.Hash != nil:
		return "HASH"
	case r.Code != nil:
		return "CODE"
	case r.Glob != nil:
		return "GLOB"
	case r.Rx != nil:
		return "Regexp"
	default:
		return "SCALAR"
	}
}

func (r *Ref) target() interface{} {
	switch {
	case r.Scalar != nil:
		return r.Scalar
	case r.Array != nil:
		return r.Array
	case r.Hash != nil:
		return r.Hash
	case r.Code != nil:
		return r.Code
	case r.Glob != nil:
		return r.Glob
	case r.Rx != nil:
		return r.Rx
	default:
		return r
	}
}

// Stringify renders TYPE(0xADDR), or Package=TYPE(0xADDR) when blessed.
// Regexp refs stringify as the pattern.
func (r *Ref) Stringify() string {
	if r.Rx != nil && r.Blessed == "" {
		return r.Rx.Stringify()
	}
	base := r.BaseType()
	addr := addrOf(r.target())
	if r.Blessed != "" {
		return fmt.Sprintf("%s=%s(0x%x)", r.Blessed, base, addr)
	}
	return fmt.Sprintf("%s(0x%x)", base, addr)
}

// SameTarget reports whether two refs point at the same cell.
func (r *Ref) SameTarget(o *Ref) bool {
	if o == nil {
		return false
	}
	return r.target() == o.target()
}

func addrOf(v interface{}) uintptr {
	if v == nil {
		return 0
	}
	return reflect.ValueOf(v).Pointer()
}
