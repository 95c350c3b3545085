// Package values implements the shared runtime value model: scalars with
// lazy cached coercions, arrays, hashes, code objects, globs, references and
// the magic slot (tie, read-only, taint, utf8).
//
// The value model is deliberately free of interpreter state: operations that
// need warnings, overload resolution or tie method dispatch report conditions
// back to the caller and the interpreter routes them.
package values

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// Kind tags the payload of a Scalar.
type Kind uint8

const (
	KUndef Kind = iota
	KInt
	KFloat
	KString
	KBytes
	KRef
	KGlob
	KCode
	KRegex
	KViv    // vivification placeholder created on lvalue paths
	KArrayH // aggregate handle: the cell is the array itself
	KHashH  // aggregate handle: the cell is the hash itself
)

func (k Kind) String() string {
	switch k {
	case KUndef:
		return "undef"
	case KInt:
		return "int"
	case KFloat:
		return "float"
	case KString:
		return "string"
	case KBytes:
		return "bytes"
	case KRef:
		return "ref"
	case KGlob:
		return "glob"
	case KCode:
		return "code"
	case KRegex:
		return "regex"
	case KViv:
		return "viv"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// CallContext is the runtime context a code object is invoked in.
type CallContext uint8

const (
	CallVoid CallContext = iota
	CallScalar
	CallList
)

// Scalar is one tagged runtime value. A register, an array element, a hash
// value and a captured closure cell are all *Scalar; assignment mutates the
// cell in place (SetFrom) so sharing is preserved.
type Scalar struct {
	kind Kind
	i    int64
	f    float64
	s    string
	ref  *Ref
	glob *Glob
	code *Code
	rx   *Regex

	// lazy coercion caches
	numOK    bool // i/f mirror s
	numClean bool // the cached numification consumed the whole string
	strOK    bool // s mirrors i/f

	magic *Magic
}

// ErrReadOnly is the Perl wording for writes to read-only values.
var ErrReadOnly = errors.New("Modification of a read-only value attempted")

// Constructors.

func NewUndef() *Scalar          { return &Scalar{} }
func NewInt(i int64) *Scalar     { return &Scalar{kind: KInt, i: i, numOK: true} }
func NewFloat(f float64) *Scalar { return &Scalar{kind: KFloat, f: f, numOK: true} }
func NewString(s string) *Scalar { return &Scalar{kind: KString, s: s, strOK: true} }
func NewBytes(b []byte) *Scalar  { return &Scalar{kind: KBytes, s: string(b), strOK: true} }
func NewRef(r *Ref) *Scalar      { return &Scalar{kind: KRef, ref: r} }
func NewCodeVal(c *Code) *Scalar { return &Scalar{kind: KCode, code: c} }
func NewGlobVal(g *Glob) *Scalar { return &Scalar{kind: KGlob, glob: g} }
func NewRegexVal(r *Regex) *Scalar { return &Scalar{kind: KRegex, rx: r} }

// NewBool follows Perl: true is 1, false is the empty string.
func NewBool(b bool) *Scalar {
	if b {
		return NewInt(1)
	}
	return NewString("")
}

// Read-only cached constants. Shared: callers must never mutate them, which
// the read-only magic enforces.
var (
	constUndef = roScalar(&Scalar{})
	constEmpty = roScalar(&Scalar{kind: KString, strOK: true})
	constOne   = roScalar(&Scalar{kind: KInt, i: 1, numOK: true})
	constZero  = roScalar(&Scalar{kind: KInt, i: 0, numOK: true})
	smallInts  [256]*Scalar
)

func init() {
	for i := range smallInts {
		smallInts[i] = roScalar(&Scalar{kind: KInt, i: int64(i), numOK: true})
	}
}

func roScalar(s *Scalar) *Scalar {
	s.magic = &Magic{ReadOnly: true}
	return s
}

// UndefConst returns the shared read-only undef.
func UndefConst() *Scalar { return constUndef }

// IntConst returns a cached read-only scalar for small non-negative ints.
func IntConst(i int64) *Scalar {
	switch {
	case i == 0:
		return constZero
	case i == 1:
		return constOne
	case i >= 0 && i < int64(len(smallInts)):
		return smallInts[i]
	default:
		return NewInt(i)
	}
}

// EmptyStringConst returns the shared read-only empty string.
func EmptyStringConst() *Scalar { return constEmpty }

// Kind returns the payload tag.
func (s *Scalar) Kind() Kind { return s.kind }

// IsUndef reports undef-ness (vivification placeholders count as undef).
func (s *Scalar) IsUndef() bool { return s == nil || s.kind == KUndef || s.kind == KViv }

// Defined is the Perl defined() predicate.
func (s *Scalar) Defined() bool { return !s.IsUndef() }

// Magic returns the magic slot, allocating it on first use.
func (s *Scalar) Magic() *Magic {
	if s.magic == nil {
		s.magic = &Magic{}
	}
	return s.magic
}

// HasMagic reports whether a magic slot is attached.
func (s *Scalar) HasMagic() bool { return s.magic != nil }

// ReadOnly reports the read-only flag without allocating magic.
func (s *Scalar) ReadOnly() bool { return s.magic != nil && s.magic.ReadOnly }

// Tied returns the tie handle, or nil.
func (s *Scalar) Tied() *Ref {
	if s.magic == nil {
		return nil
	}
	return s.magic.Tied
}

// Ref returns the reference payload, or nil.
func (s *Scalar) Ref() *Ref {
	if s.kind != KRef {
		return nil
	}
	return s.ref
}

// Code returns the code payload for KCode scalars or code refs.
func (s *Scalar) Code() *Code {
	if s.kind == KCode {
		return s.code
	}
	if s.kind == KRef && s.ref.Code != nil {
		return s.ref.Code
	}
	return nil
}

// Glob returns the glob payload, or nil.
func (s *Scalar) Glob() *Glob {
	if s.kind == KGlob {
		return s.glob
	}
	if s.kind == KRef && s.ref.Glob != nil {
		return s.ref.Glob
	}
	return nil
}

// Regex returns the regex payload for KRegex scalars or qr refs.
func (s *Scalar) Regex() *Regex {
	if s.kind == KRegex {
		return s.rx
	}
	if s.kind == KRef && s.ref.Rx != nil {
		return s.ref.Rx
	}
	return nil
}

// ---------------------------------------------------------------------------
// Coercions

// Str stringifies with Perl semantics. References stringify as
// TYPE(0xADDR) (or Package=TYPE(0xADDR) when blessed).
func (s *Scalar) Str() string {
	if s == nil {
		return ""
	}
	switch s.kind {
	case KUndef, KViv:
		return ""
	case KString, KBytes:
		return s.s
	case KInt:
		if !s.strOK {
			s.s = fmt.Sprintf("%d", s.i)
			s.strOK = true
		}
		return s.s
	case KFloat:
		if !s.strOK {
			s.s = FormatNumber(s.f)
			s.strOK = true
		}
		return s.s
	case KRef:
		return s.ref.Stringify()
	case KArrayH:
		return FormatNumber(float64(s.ref.Array.Len()))
	case KHashH:
		return s.ref.Hash.BucketDiag()
	case KGlob:
		return "*" + s.glob.Name
	case KCode:
		return fmt.Sprintf("CODE(0x%x)", addrOf(s.code))
	case KRegex:
		return s.rx.Stringify()
	default:
		return ""
	}
}

// Num numifies. The second result is false when the string was not fully
// numeric ("isn't numeric" warning territory for the caller).
func (s *Scalar) Num() (float64, bool) {
	if s == nil {
		return 0, true
	}
	switch s.kind {
	case KUndef, KViv:
		return 0, true
	case KInt:
		return float64(s.i), true
	case KFloat:
		return s.f, true
	case KString, KBytes:
		if s.numOK {
			return s.f, s.numClean
		}
		f, clean := ParseNumber(s.s)
		s.f = f
		s.numOK, s.numClean = true, clean
		return f, clean
	case KRef:
		return float64(addrOf(s.ref.target())), true
	case KArrayH:
		return float64(s.ref.Array.Len()), true
	case KHashH:
		return float64(s.ref.Hash.Len()), true
	case KCode:
		return float64(addrOf(s.code)), true
	case KGlob:
		return float64(addrOf(s.glob)), true
	default:
		return 0, true
	}
}

// NumValue numifies discarding the cleanliness flag.
func (s *Scalar) NumValue() float64 {
	f, _ := s.Num()
	return f
}

// IntValue numifies and truncates toward zero.
func (s *Scalar) IntValue() int64 {
	if s == nil {
		return 0
	}
	if s.kind == KInt {
		return s.i
	}
	f := s.NumValue()
	if math.IsNaN(f) {
		return 0
	}
	if f > math.MaxInt64 {
		return math.MaxInt64
	}
	if f < math.MinInt64 {
		return math.MinInt64
	}
	return int64(f)
}

// Bool follows Perl truth: undef, "", "0", and numeric zero are false.
func (s *Scalar) Bool() bool {
	if s == nil {
		return false
	}
	switch s.kind {
	case KUndef, KViv:
		return false
	case KInt:
		return s.i != 0
	case KFloat:
		return s.f != 0
	case KString, KBytes:
		return s.s != "" && s.s != "0"
	case KArrayH:
		return s.ref.Array.Len() > 0
	case KHashH:
		return s.ref.Hash.Len() > 0
	default:
		return true
	}
}

// IsInteger reports whether the value is an integer without float fuzz.
func (s *Scalar) IsInteger() bool {
	switch s.kind {
	case KInt:
		return true
	case KFloat:
		return s.f == math.Trunc(s.f) && !math.IsInf(s.f, 0)
	default:
		return false
	}
}

// ---------------------------------------------------------------------------
// Mutation. Every setter mutates the cell in place so captured cells stay
// shared, and refuses read-only targets with Perl's wording.

func (s *Scalar) checkWritable() error {
	if s.ReadOnly() {
		return ErrReadOnly
	}
	return nil
}

func (s *Scalar) reset(k Kind) {
	s.kind = k
	s.i, s.f, s.s = 0, 0, ""
	s.ref, s.glob, s.code, s.rx = nil, nil, nil, nil
	s.numOK, s.numClean, s.strOK = false, false, false
}

func (s *Scalar) SetUndef() error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	s.reset(KUndef)
	return nil
}

func (s *Scalar) SetInt(i int64) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	s.reset(KInt)
	s.i, s.numOK = i, true
	return nil
}

func (s *Scalar) SetFloat(f float64) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1e15 {
		return s.SetInt(int64(f))
	}
	s.reset(KFloat)
	s.f, s.numOK = f, true
	return nil
}

func (s *Scalar) SetString(str string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	s.reset(KString)
	s.s, s.strOK = str, true
	return nil
}

func (s *Scalar) SetBytes(b []byte) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	s.reset(KBytes)
	s.s, s.strOK = string(b), true
	return nil
}

func (s *Scalar) SetRef(r *Ref) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	s.reset(KRef)
	s.ref = r
	return nil
}

func (s *Scalar) SetCode(c *Code) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	s.reset(KCode)
	s.code = c
	return nil
}

func (s *Scalar) SetGlob(g *Glob) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	s.reset(KGlob)
	s.glob = g
	return nil
}

func (s *Scalar) SetRegex(r *Regex) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	s.reset(KRegex)
	s.rx = r
	return nil
}

// SetFrom copies src's value into s, preserving s's identity (and magic).
func (s *Scalar) SetFrom(src *Scalar) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if src == nil {
		s.reset(KUndef)
		return nil
	}
	m := s.magic
	*s = *src
	s.magic = m
	return nil
}

// Dup returns an independent copy of the value (magic is not copied).
func (s *Scalar) Dup() *Scalar {
	if s == nil {
		return NewUndef()
	}
	c := *s
	c.magic = nil
	return &c
}

func (s *Scalar) GoString() string {
	return fmt.Sprintf("Scalar{%s %q}", s.kind, s.Str())
}
