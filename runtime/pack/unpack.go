package pack

import (
	"encoding/binary"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/gperl-lang/gperl/runtime/values"
)

// unpackState keeps the character view and the byte view of the input in
// lock-step: numeric formats read bytes, text formats read characters, and
// '@'/'.'/x/X address relative to the top group baseline.
type unpackState struct {
	data       []byte
	charStarts []int // byte offset of each character, plus a final sentinel
	bytePos    int
	charMode   bool
	modeStack  []bool
	baselines  []int // byte positions of enclosing group starts
}

func newUnpackState(data []byte) *unpackState {
	st := &unpackState{data: data, baselines: []int{0}}
	for i := 0; i < len(data); {
		st.charStarts = append(st.charStarts, i)
		_, size := utf8.DecodeRune(data[i:])
		if size == 0 {
			size = 1
		}
		i += size
	}
	st.charStarts = append(st.charStarts, len(data))
	return st
}

func (st *unpackState) baseline() int { return st.baselines[len(st.baselines)-1] }

func (st *unpackState) remaining() int { return len(st.data) - st.bytePos }

// charPos returns the character index corresponding to bytePos.
func (st *unpackState) charPos() int {
	lo, hi := 0, len(st.charStarts)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if st.charStarts[mid] < st.bytePos {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// advanceChars moves forward n characters (or bytes in byte mode).
func (st *unpackState) advanceChars(n int) error {
	if !st.charMode {
		if st.bytePos+n > len(st.data) {
			return errors.New("'x' outside of string in unpack")
		}
		st.bytePos += n
		return nil
	}
	cp := st.charPos() + n
	if cp >= len(st.charStarts) {
		return errors.New("'x' outside of string in unpack")
	}
	st.bytePos = st.charStarts[cp]
	return nil
}

func (st *unpackState) readBytes(n int) ([]byte, error) {
	if st.bytePos+n > len(st.data) {
		return nil, errors.New("unpack: not enough data")
	}
	b := st.data[st.bytePos : st.bytePos+n]
	st.bytePos += n
	return b, nil
}

// readChar reads one character (or byte, per mode) as a code point.
func (st *unpackState) readChar() (rune, bool) {
	if st.bytePos >= len(st.data) {
		return 0, false
	}
	if !st.charMode {
		c := st.data[st.bytePos]
		st.bytePos++
		return rune(c), true
	}
	r, size := utf8.DecodeRune(st.data[st.bytePos:])
	if size == 0 {
		return 0, false
	}
	st.bytePos += size
	return r, true
}

// readString reads n characters (chars in char mode, bytes otherwise).
func (st *unpackState) readString(n int) string {
	if !st.charMode {
		if st.bytePos+n > len(st.data) {
			n = len(st.data) - st.bytePos
		}
		s := string(st.data[st.bytePos : st.bytePos+n])
		st.bytePos += n
		return s
	}
	start := st.bytePos
	cp := st.charPos() + n
	if cp >= len(st.charStarts) {
		cp = len(st.charStarts) - 1
	}
	st.bytePos = st.charStarts[cp]
	return string(st.data[start:st.bytePos])
}

// Unpack applies the template to the byte string, returning the value list.
func Unpack(tmpl string, data *values.Scalar, env *Env) ([]*values.Scalar, error) {
	items, err := parseTemplate(tmpl)
	if err != nil {
		return nil, err
	}
	st := newUnpackState([]byte(data.Str()))
	var out []*values.Scalar
	if err := unpackItems(items, st, &out, env); err != nil {
		return nil, err
	}
	return out, nil
}

// unpackItems executes a parsed template over the state. Groups recurse into
// this same function, inheriting mode, endianness scope and position.
func unpackItems(items []item, st *unpackState, out *[]*values.Scalar, env *Env) error {
	for i := range items {
		it := &items[i]
		if it.checksum > 0 {
			v, err := unpackChecksum(it, st, env)
			if err != nil {
				return err
			}
			*out = append(*out, v)
			continue
		}
		if it.slash != nil {
			if err := unpackSlash(it, st, out, env); err != nil {
				return err
			}
			continue
		}
		if err := unpackOne(it, st, out, env); err != nil {
			return err
		}
	}
	return nil
}

func unpackOne(it *item, st *unpackState, out *[]*values.Scalar, env *Env) error {
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
			if iter < 0 && st.remaining() == 0 {
				break
			}
			before := st.bytePos
			st.baselines = append(st.baselines, st.bytePos)
			st.modeStack = append(st.modeStack, st.charMode)
			err := unpackItems(it.sub, st, out, env)
			st.charMode = st.modeStack[len(st.modeStack)-1]
			st.modeStack = st.modeStack[:len(st.modeStack)-1]
			st.baselines = st.baselines[:len(st.baselines)-1]
			if err != nil {
				return err
			}
			if iter < 0 && st.bytePos == before {
				break // no progress, stop a starred group from spinning
			}
		}
		return nil

	case 'a', 'A', 'Z':
		width := n
		if star {
			width = st.remaining()
			if st.charMode {
				width = len(st.charStarts) - 1 - st.charPos()
			}
		}
		s := st.readString(width)
		switch it.ch {
		case 'A':
			s = strings.TrimRightFunc(s, func(r rune) bool {
				return r == 0 || unicode.IsSpace(r)
			})
		case 'Z':
			if i := strings.IndexByte(s, 0); i >= 0 {
				s = s[:i]
			}
		}
		*out = append(*out, values.NewString(s))
		return nil

	case 'b', 'B':
		bits := n
		if star {
			bits = st.remaining() * 8
		}
		avail := st.remaining() * 8
		if bits > avail {
			bits = avail
		}
		var sb strings.Builder
		for k := 0; k < bits; k++ {
			b := st.data[st.bytePos+k/8]
			var bit byte
			if it.ch == 'b' {
				bit = (b >> (uint(k) % 8)) & 1
			} else {
				bit = (b >> (7 - uint(k)%8)) & 1
			}
			sb.WriteByte('0' + bit)
		}
		st.bytePos += (bits + 7) / 8
		*out = append(*out, values.NewString(sb.String()))
		return nil

	case 'h', 'H':
		nyb := n
		if star {
			nyb = st.remaining() * 2
		}
		avail := st.remaining() * 2
		if nyb > avail {
			nyb = avail
		}
		const hex = "0123456789abcdef"
		var sb strings.Builder
		for k := 0; k < nyb; k++ {
			b := st.data[st.bytePos+k/2]
			var v byte
			if it.ch == 'h' {
				v = (b >> (4 * (uint(k) % 2))) & 0xF
			} else {
				v = (b >> (4 * (1 - uint(k)%2))) & 0xF
			}
			sb.WriteByte(hex[v])
		}
		st.bytePos += (nyb + 1) / 2
		*out = append(*out, values.NewString(sb.String()))
		return nil

	case 'c', 'C', 'W', 'U', 's', 'S', 'l', 'L', 'q', 'Q', 'i', 'I', 'j', 'J', 'n', 'N', 'v', 'V', 'f', 'd', 'F', 'w':
		iter := n
		if star {
			iter = -1
		}
		for k := 0; iter < 0 || k < iter; k++ {
			if iter < 0 && st.remaining() == 0 {
				break
			}
			v, err := unpackNumeric(it, st, env)
			if err != nil {
				if iter < 0 {
					break
				}
				return err
			}
			*out = append(*out, v)
		}
		return nil

	case 'x':
		if it.has('!') {
			align := n
			if align > 0 {
				pad := (align - (st.bytePos-st.baseline())%align) % align
				return st.advanceChars(pad)
			}
			return nil
		}
		if star {
			n = st.remaining()
		}
		return st.advanceChars(n)

	case 'X':
		if star {
			n = 1
		}
		if st.bytePos-n < 0 {
			return errors.New("'X' outside of string in unpack")
		}
		st.bytePos -= n
		return nil

	case '@':
		target := st.baseline() + n
		if star {
			target = len(st.data)
		}
		if target > len(st.data) {
			return errors.New("'@' outside of string in unpack")
		}
		st.bytePos = target
		return nil

	case '.':
		*out = append(*out, values.NewInt(int64(st.bytePos-st.baseline())))
		return nil

	case 'u', 'p', 'P', 'D':
		return env.unimplemented(string(it.ch))

	default:
		return errors.Errorf("Invalid type '%c' in unpack", it.ch)
	}
}

func unpackNumeric(it *item, st *unpackState, env *Env) (*values.Scalar, error) {
	big := it.bigEndian()
	switch it.ch {
	case 'c':
		b, err := st.readBytes(1)
		if err != nil {
			return nil, err
		}
		return values.NewInt(int64(int8(b[0]))), nil
	case 'C':
		b, err := st.readBytes(1)
		if err != nil {
			return nil, err
		}
		return values.NewInt(int64(b[0])), nil
	case 'W', 'U':
		// both read a code point; W wants the raw character code, U the
		// decoded Unicode scalar — identical once the character is in hand
		r, ok := st.readCodePoint(it.ch == 'U')
		if !ok {
			return nil, errors.New("unpack: not enough data")
		}
		return values.NewInt(int64(r)), nil
	case 's':
		v, err := readUint(st, 2, big)
		if err != nil {
			return nil, err
		}
		return values.NewInt(int64(int16(v))), nil
	case 'S', 'v', 'n':
		v, err := readUint(st, 2, big || it.ch == 'n')
		if err != nil {
			return nil, err
		}
		return values.NewInt(int64(uint16(v))), nil
	case 'l':
		v, err := readUint(st, 4, big)
		if err != nil {
			return nil, err
		}
		return values.NewInt(int64(int32(v))), nil
	case 'L', 'V', 'N':
		v, err := readUint(st, 4, big || it.ch == 'N')
		if err != nil {
			return nil, err
		}
		return values.NewInt(int64(uint32(v))), nil
	case 'i':
		v, err := readUint(st, 4, big)
		if err != nil {
			return nil, err
		}
		return values.NewInt(int64(int32(v))), nil
	case 'I':
		v, err := readUint(st, 4, big)
		if err != nil {
			return nil, err
		}
		return values.NewInt(int64(uint32(v))), nil
	case 'q', 'j':
		v, err := readUint(st, 8, big)
		if err != nil {
			return nil, err
		}
		return values.NewInt(int64(v)), nil
	case 'Q', 'J':
		v, err := readUint(st, 8, big)
		if err != nil {
			return nil, err
		}
		if v > math.MaxInt64 {
			return values.NewFloat(float64(v)), nil
		}
		return values.NewInt(int64(v)), nil
	case 'f':
		v, err := readUint(st, 4, big)
		if err != nil {
			return nil, err
		}
		return values.NewFloat(float64(math.Float32frombits(uint32(v)))), nil
	case 'd', 'F':
		v, err := readUint(st, 8, big)
		if err != nil {
			return nil, err
		}
		return values.NewFloat(math.Float64frombits(v)), nil
	case 'w':
		var acc uint64
		for {
			b, err := st.readBytes(1)
			if err != nil {
				return nil, errors.New("Unterminated compressed integer in unpack")
			}
			acc = acc<<7 | uint64(b[0]&0x7F)
			if b[0]&0x80 == 0 {
				break
			}
		}
		if acc > math.MaxInt64 {
			return values.NewFloat(float64(acc)), nil
		}
		return values.NewInt(int64(acc)), nil
	default:
		return nil, errors.Errorf("Invalid type '%c' in unpack", it.ch)
	}
}

// readCodePoint reads W/U: in character mode both decode a character; in
// byte mode W reads the raw byte and U decodes a UTF-8 sequence.
func (st *unpackState) readCodePoint(decodeUTF8 bool) (rune, bool) {
	if st.bytePos >= len(st.data) {
		return 0, false
	}
	if st.charMode || decodeUTF8 {
		r, size := utf8.DecodeRune(st.data[st.bytePos:])
		if size == 0 {
			return 0, false
		}
		st.bytePos += size
		return r, true
	}
	c := st.data[st.bytePos]
	st.bytePos++
	return rune(c), true
}

func readUint(st *unpackState, size int, big bool) (uint64, error) {
	b, err := st.readBytes(size)
	if err != nil {
		return 0, err
	}
	var tmp [8]byte
	if big {
		copy(tmp[8-size:], b)
		return binary.BigEndian.Uint64(tmp[:]), nil
	}
	copy(tmp[:size], b)
	return binary.LittleEndian.Uint64(tmp[:]), nil
}

func unpackSlash(it *item, st *unpackState, out *[]*values.Scalar, env *Env) error {
	// read the count with the X format
	var count int
	switch it.ch {
	case 'a', 'A', 'Z':
		n, _, err := itemRepeat(it, env)
		if err != nil {
			return err
		}
		s := st.readString(n)
		s = strings.TrimRight(s, " \x00")
		count = int(values.NewString(s).IntValue())
	default:
		v, err := unpackNumeric(it, st, env)
		if err != nil {
			return err
		}
		count = int(v.IntValue())
	}
	y := *it.slash
	switch y.ch {
	case 'a', 'A', 'Z', 'b', 'B', 'h', 'H':
		y.kind = countNum
		y.count = count
		return unpackOne(&y, st, out, env)
	case '(':
		y.kind = countNum
		y.count = count
		return unpackOne(&y, st, out, env)
	default:
		if y.kind == countStar || y.kind == countNone {
			y.kind = countNum
			y.count = count
		}
		return unpackOne(&y, st, out, env)
	}
}

// unpackChecksum sums the unpacked values of the item masked to N bits.
// Float formats accumulate in floating point. Empty input sums to 0.
func unpackChecksum(it *item, st *unpackState, env *Env) (*values.Scalar, error) {
	inner := *it
	inner.checksum = 0
	if inner.kind == countNone {
		inner.kind = countStar
	}
	var vals []*values.Scalar
	if err := unpackOne(&inner, st, &vals, env); err != nil {
		return nil, err
	}
	isFloat := it.ch == 'f' || it.ch == 'd' || it.ch == 'F'
	bits := it.checksum
	if isFloat {
		var sum float64
		for _, v := range vals {
			sum += v.NumValue()
		}
		if bits < 64 {
			sum = math.Mod(sum, math.Pow(2, float64(bits)))
		}
		return values.NewFloat(sum), nil
	}
	// bit-string checksums count set bits
	if it.ch == 'b' || it.ch == 'B' {
		var sum uint64
		for _, v := range vals {
			for _, c := range v.Str() {
				if c == '1' {
					sum++
				}
			}
		}
		return values.NewInt(int64(maskBits(sum, bits))), nil
	}
	var sum uint64
	for _, v := range vals {
		sum += uint64(v.IntValue())
	}
	return values.NewInt(int64(maskBits(sum, bits))), nil
}

func maskBits(v uint64, bits int) uint64 {
	if bits >= 64 {
		return v
	}
	return v & ((1 << uint(bits)) - 1)
}
