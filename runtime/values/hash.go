package values

import "fmt"

// Hash maps string keys to scalar cells. Iteration order is insertion order
// and each() state survives interleaved reads. The bucket diagnostic
// (scalar %h) reports used/allocated and the allocation never shrinks.
type Hash struct {
	m     map[string]*Scalar
	order []string // insertion order; Delete removes the key here too
	iter  int      // each() cursor into order
	cap   int      // bucket count; grows on resize, never shrinks
	magic *Magic
}

func NewHash() *Hash {
	return &Hash{m: make(map[string]*Scalar), cap: 8}
}

func (h *Hash) Len() int { return len(h.m) }

// Magic returns the magic slot, allocating on first use.
func (h *Hash) Magic() *Magic {
	if h.magic == nil {
		h.magic = &Magic{}
	}
	return h.magic
}

// Tied returns the tie handler, or nil.
func (h *Hash) Tied() *Ref {
	if h.magic == nil {
		return nil
	}
	return h.magic.Tied
}

func (h *Hash) grow() {
	for h.cap < len(h.m) {
		h.cap *= 2
	}
}

// Get is the rvalue fetch.
func (h *Hash) Get(k string) *Scalar {
	if v, ok := h.m[k]; ok && v != nil {
		return v
	}
	return NewUndef()
}

// LV autovivifies the slot and returns the shared cell.
func (h *Hash) LV(k string) *Scalar {
	if v, ok := h.m[k]; ok && v != nil {
		return v
	}
	cell := NewUndef()
	h.m[k] = cell
	h.order = append(h.order, k)
	h.grow()
	return cell
}

// Set stores a value-copy of src under k.
func (h *Hash) Set(k string, src *Scalar) {
	_ = h.LV(k).SetFrom(src)
}

func (h *Hash) Exists(k string) bool {
	_, ok := h.m[k]
	return ok
}

// Delete removes k, returning the removed value.
func (h *Hash) Delete(k string) *Scalar {
	v, ok := h.m[k]
	if !ok {
		return NewUndef()
	}
	delete(h.m, k)
	for i, kk := range h.order {
		if kk == k {
			h.order = append(h.order[:i], h.order[i+1:]...)
			if h.iter > i {
				h.iter--
			}
			break
		}
	}
	if v == nil {
		return NewUndef()
	}
	return v
}

// Clear empties the hash. The bucket allocation is retained.
func (h *Hash) Clear() {
	h.m = make(map[string]*Scalar)
	h.order = h.order[:0]
	h.iter = 0
}

// Keys returns the keys in iteration order and resets the each() cursor.
func (h *Hash) Keys() []string {
	h.iter = 0
	out := make([]string, 0, len(h.m))
	for _, k := range h.order {
		if _, ok := h.m[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Values returns the values in iteration order and resets the cursor.
func (h *Hash) Values() []*Scalar {
	out := make([]*Scalar, 0, len(h.m))
	for _, k := range h.Keys() {
		out = append(out, h.Get(k))
	}
	return out
}

// Each advances the iterator, returning (key, value, true) or ("", nil,
// false) at the end (which also resets the cursor).
func (h *Hash) Each() (string, *Scalar, bool) {
	for h.iter < len(h.order) {
		k := h.order[h.iter]
		h.iter++
		if _, ok := h.m[k]; ok {
			return k, h.Get(k), true
		}
	}
	h.iter = 0
	return "", nil, false
}

// ResetIter rewinds the each() cursor (keys/values do this implicitly).
func (h *Hash) ResetIter() { h.iter = 0 }

// BucketDiag is the scalar-context rendering: "used/size". The size only
// grows, matching the observable stability across deletes.
func (h *Hash) BucketDiag() string {
	if len(h.m) == 0 {
		return "0"
	}
	h.grow()
	return fmt.Sprintf("%d/%d", len(h.m), h.cap)
}

// AssignPairs replaces contents from a flattened key/value list. An odd
// trailing key gets undef. Duplicate keys overwrite; the element count of
// the source list is what scalar-context assignment reports, so the caller
// keeps that number, not ours.
func (h *Hash) AssignPairs(list []*Scalar) {
	h.Clear()
	for i := 0; i < len(list); i += 2 {
		k := list[i].Str()
		if i+1 < len(list) {
			h.Set(k, list[i+1])
		} else {
			h.Set(k, NewUndef())
		}
	}
}

// Flatten returns the key/value pairs in iteration order.
func (h *Hash) Flatten() []*Scalar {
	out := make([]*Scalar, 0, 2*len(h.m))
	for _, k := range h.Keys() {
		out = append(out, NewString(k), h.Get(k))
	}
	return out
}
