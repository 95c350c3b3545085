package values

// Aggregate handles: a register cell that IS an array or hash (the lexical
// @a / %h itself), as opposed to a scalar holding a reference to one.
// Handles flatten in list context; references never do.

// NewArrayHandle wraps an array as a register cell.
func NewArrayHandle(a *Array) *Scalar {
	return &Scalar{kind: KArrayH, ref: &Ref{Array: a}}
}

// NewHashHandle wraps a hash as a register cell.
func NewHashHandle(h *Hash) *Scalar {
	return &Scalar{kind: KHashH, ref: &Ref{Hash: h}}
}

// ArrayH returns the array behind a handle cell, or nil.
func (s *Scalar) ArrayH() *Array {
	if s != nil && s.kind == KArrayH {
		return s.ref.Array
	}
	return nil
}

// HashH returns the hash behind a handle cell, or nil.
func (s *Scalar) HashH() *Hash {
	if s != nil && s.kind == KHashH {
		return s.ref.Hash
	}
	return nil
}

// IsHandle reports whether the cell is an aggregate handle.
func (s *Scalar) IsHandle() bool {
	return s != nil && (s.kind == KArrayH || s.kind == KHashH)
}

// Flatten expands a value the way list context does: handles spread their
// elements (hashes as key/value pairs), everything else is itself.
func Flatten(v *Scalar) []*Scalar {
	switch {
	case v == nil:
		return []*Scalar{NewUndef()}
	case v.kind == KArrayH:
		return v.ref.Array.All()
	case v.kind == KHashH:
		return v.ref.Hash.Flatten()
	default:
		return []*Scalar{v}
	}
}
