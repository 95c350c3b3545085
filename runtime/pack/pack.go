package pack

import (
	"bytes"
	"encoding/binary"
	"math"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/gperl-lang/gperl/runtime/values"
)

// Env carries the engine's environment knobs. A nil Env is fully strict.
type Env struct {
	// WarnUnimplemented downgrades unimplemented format characters from an
	// error to a warning (JPERL_UNIMPLEMENTED=warn).
	WarnUnimplemented bool
	Warn              func(msg string)
}

func (e *Env) unimplemented(what string) error {
	if e != nil && e.WarnUnimplemented {
		if e.Warn != nil {
			e.Warn("Unimplemented in pack/unpack: " + what)
		}
		return nil
	}
	return errors.Errorf("Invalid type '%s' in pack", what)
}

// buffer is the pack output with group-relative addressing support.
type buffer struct {
	bytes.Buffer
}

// argSource walks the value list. zeroFill makes it inexhaustible, used for
// dummy-packing when sizing x[TEMPLATE].
type argSource struct {
	args     []*values.Scalar
	idx      int
	zeroFill bool
}

func (a *argSource) next() *values.Scalar {
	if a.zeroFill {
		return values.NewInt(0)
	}
	if a.idx >= len(a.args) {
		return values.NewUndef()
	}
	v := a.args[a.idx]
	a.idx++
	return v
}

func (a *argSource) remaining() int {
	if a.zeroFill {
		return 1
	}
	return len(a.args) - a.idx
}

type packState struct {
	out       *buffer
	charMode  bool
	baselines []int
}

func newPackState(out *buffer) *packState {
	return &packState{out: out, baselines: []int{0}}
}

func (st *packState) baseline() int { return st.baselines[len(st.baselines)-1] }

// Pack renders the template over the argument list into a byte string.
func Pack(tmpl string, args []*values.Scalar, env *Env) (*values.Scalar, error) {
	items, err := parseTemplate(tmpl)
	if err != nil {
		return nil, err
	}
	var out buffer
	src := &argSource{args: args}
	if err := packItems(items, src, newPackState(&out), env); err != nil {
		return nil, err
	}
	return values.NewBytes(out.Bytes()), nil
}

// packItems executes a parsed template. Groups recurse into this same
// function with a pushed baseline, which propagates mode and position.
func packItems(items []item, src *argSource, st *packState, env *Env) error {
	for i := range items {
		it := &items[i]
		if it.checksum > 0 {
			return errors.New("'%' may not be used in pack")
		}
		if it.slash != nil {
			if err := packSlash(it, src, st, env); err != nil {
				return err
			}
			continue
		}
		if err := packOne(it, src, st, env); err != nil {
			return err
		}
	}
	return nil
}

func itemRepeat(it *item, env *Env) (n int, star bool, err error) {
	switch it.kind {
	case countNone:
		return 1, false, nil
	case countNum:
		return it.count, false, nil
	case countStar:
		return 0, true, nil
	case countTmpl:
		n, err := sizeOfItems(it.sizeOf, env)
		return n, false, err
	}
	return 1, false, nil
}

func packOne(it *item, src *argSource, st *packState, env *Env) error {
	n, star, err := itemRepeat(it, env)
	if err != nil {
		return err
	}
	switch it.ch {
	case modeByteSwitch:
		st.charMode = false
		return nil
	case modeCharSwitch:
		st.charMode = true
		return nil

	case '(':
		iter := n
		if star {
			iter = -1
		}
		for k := 0; iter < 0 || k < iter; k++ {
			if iter < 0 && src.remaining() == 0 {
				break
			}
			before := src.idx
			st.baselines = append(st.baselines, st.out.Len())
			err := packItems(it.sub, src, st, env)
			st.baselines = st.baselines[:len(st.baselines)-1]
			if err != nil {
				return err
			}
			if iter < 0 && src.idx == before {
				break // no progress; a starred group of position ops would spin
			}
		}
		return nil

	case 'a', 'A', 'Z':
		s := src.next().Str()
		b := []byte(s)
		width := n
		if star {
			width = len(b)
			if it.ch == 'Z' {
				width++
			}
		}
		pad := byte(0)
		if it.ch == 'A' {
			pad = ' '
		}
		for k := 0; k < width; k++ {
			if k < len(b) && !(it.ch == 'Z' && k == width-1) {
				st.out.WriteByte(b[k])
			} else {
				st.out.WriteByte(pad)
			}
		}
		if it.ch == 'Z' && !star && width > 0 {
			// last byte of the field is always NUL
			buf := st.out.Bytes()
			buf[len(buf)-1] = 0
		}
		return nil

	case 'b', 'B':
		s := src.next().Str()
		bits := n
		if star {
			bits = len(s)
		}
		if bits > len(s) {
			bits = len(s)
		}
		var cur byte
		for k := 0; k < bits; k++ {
			bit := byte(0)
			if s[k] == '1' {
				bit = 1
			}
			if it.ch == 'b' {
				cur |= bit << (uint(k) % 8)
			} else {
				cur |= bit << (7 - uint(k)%8)
			}
			if k%8 == 7 {
				st.out.WriteByte(cur)
				cur = 0
			}
		}
		if bits%8 != 0 {
			st.out.WriteByte(cur)
		}
		return nil

	case 'h', 'H':
		s := src.next().Str()
		nyb := n
		if star {
			nyb = len(s)
		}
		if nyb > len(s) {
			nyb = len(s)
		}
		var cur byte
		for k := 0; k < nyb; k++ {
			v := hexVal(s[k])
			if it.ch == 'h' {
				cur |= v << (4 * (uint(k) % 2))
			} else {
				cur |= v << (4 * (1 - uint(k)%2))
			}
			if k%2 == 1 {
				st.out.WriteByte(cur)
				cur = 0
			}
		}
		if nyb%2 != 0 {
			st.out.WriteByte(cur)
		}
		return nil

	case 'c', 'C', 'W', 'U', 's', 'S', 'l', 'L', 'q', 'Q', 'i', 'I', 'j', 'J', 'n', 'N', 'v', 'V', 'f', 'd', 'F', 'w':
		iter := n
		if star {
			iter = src.remaining()
		}
		for k := 0; k < iter; k++ {
			if err := packNumeric(it, src.next(), st, env); err != nil {
				return err
			}
		}
		return nil

	case 'x':
		if it.has('!') {
			align := n
			if align > 0 {
				for st.out.Len()%align != 0 {
					st.out.WriteByte(0)
				}
			}
			return nil
		}
		if star {
			n = 1
		}
		for k := 0; k < n; k++ {
			st.out.WriteByte(0)
		}
		return nil

	case 'X':
		if star {
			n = 1
		}
		if st.out.Len()-n < 0 {
			return errors.New("'X' outside of string in pack")
		}
		st.out.Truncate(st.out.Len() - n)
		return nil

	case '@':
		target := st.baseline() + n
		for st.out.Len() < target {
			st.out.WriteByte(0)
		}
		if st.out.Len() > target {
			st.out.Truncate(target)
		}
		return nil

	case '.':
		target := st.baseline() + int(src.next().IntValue())
		for st.out.Len() < target {
			st.out.WriteByte(0)
		}
		if st.out.Len() > target {
			st.out.Truncate(target)
		}
		return nil

	case 'u', 'p', 'P', 'D':
		return env.unimplemented(string(it.ch))

	default:
		return errors.Errorf("Invalid type '%c' in pack", it.ch)
	}
}

func packSlash(it *item, src *argSource, st *packState, env *Env) error {
	y := it.slash
	// Determine the count Y will consume, then write it with X.
	var count int
	switch y.ch {
	case 'a', 'A', 'Z':
		// one string arg; the count is its packed length
		s := src.next()
		str := s.Str()
		count = len(str)
		if y.ch == 'Z' {
			count++
		}
		if err := packNumericValue(it, int64(count), float64(count), st, env); err != nil {
			return err
		}
		// re-pack the string through the normal path
		sub := *y
		if sub.kind == countNone || sub.kind == countStar {
			sub.kind = countNum
			sub.count = count
		}
		tmp := &argSource{args: []*values.Scalar{s}}
		return packOne(&sub, tmp, st, env)
	default:
		switch y.kind {
		case countNum:
			count = y.count
		default:
			// N/S with no count on Y behaves as N/S*: all remaining values
			count = src.remaining()
		}
		if err := packNumericValue(it, int64(count), float64(count), st, env); err != nil {
			return err
		}
		sub := *y
		sub.kind = countNum
		sub.count = count
		return packOne(&sub, src, st, env)
	}
}

func packNumeric(it *item, v *values.Scalar, st *packState, env *Env) error {
	// numification first: overloaded objects and strings both funnel through
	// the scalar's numeric coercion before any type decisions
	f := v.NumValue()
	return packNumericValue(it, v.IntValue(), f, st, env)
}

func packNumericValue(it *item, iv int64, fv float64, st *packState, env *Env) error {
	big := it.bigEndian()
	switch it.ch {
	case 'c', 'C':
		st.out.WriteByte(byte(iv))
	case 'W':
		// raw character code, never UTF-8-encoded as a format operation.
		// In character mode the character itself joins the string (the
		// byte view is the dual representation of §3.4, which is what the
		// mode-aware unpack side reads back). In byte mode a code above
		// 255 has no raw-byte representation and wraps like 'C'.
		if st.charMode && iv > 0xFF {
			var tmp [utf8.UTFMax]byte
			k := utf8.EncodeRune(tmp[:], rune(iv))
			st.out.Write(tmp[:k])
			break
		}
		if iv > 0xFF && env != nil && env.Warn != nil {
			env.Warn("Character in 'W' format wrapped in pack")
		}
		st.out.WriteByte(byte(iv))
	case 'U':
		if iv < 0 || iv > 0x10FFFF {
			return errors.Errorf("Invalid Unicode codepoint %d", iv)
		}
		var tmp [utf8.UTFMax]byte
		k := utf8.EncodeRune(tmp[:], rune(iv))
		st.out.Write(tmp[:k])
	case 's', 'S', 'v', 'n':
		writeUint(st.out, uint64(uint16(iv)), 2, big || it.ch == 'n')
	case 'l', 'L', 'V', 'N':
		writeUint(st.out, uint64(uint32(iv)), 4, big || it.ch == 'N')
	case 'q', 'Q', 'j', 'J':
		writeUint(st.out, uint64(iv), 8, big)
	case 'i', 'I':
		writeUint(st.out, uint64(uint32(iv)), 4, big)
	case 'f':
		writeUint(st.out, uint64(math.Float32bits(float32(fv))), 4, big)
	case 'd', 'F':
		writeUint(st.out, math.Float64bits(fv), 8, big)
	case 'w':
		if fv < 0 {
			return errors.New("Cannot compress negative numbers in pack")
		}
		writeBER(st.out, uint64(iv))
	default:
		return errors.Errorf("Invalid type '%c' in pack", it.ch)
	}
	return nil
}

func writeUint(out *buffer, v uint64, size int, big bool) {
	var tmp [8]byte
	if big {
		binary.BigEndian.PutUint64(tmp[:], v)
		out.Write(tmp[8-size:])
	} else {
		binary.LittleEndian.PutUint64(tmp[:], v)
		out.Write(tmp[:size])
	}
}

// writeBER emits a BER-compressed unsigned integer: base-128 digits, high
// bit set on every byte but the last.
func writeBER(out *buffer, v uint64) {
	var digits []byte
	for {
		digits = append(digits, byte(v&0x7F))
		v >>= 7
		if v == 0 {
			break
		}
	}
	for i := len(digits) - 1; i >= 0; i-- {
		b := digits[i]
		if i > 0 {
			b |= 0x80
		}
		out.WriteByte(b)
	}
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	default:
		return 0
	}
}
