package pack

import (
	"encoding/hex"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gperl-lang/gperl/runtime/values"
)

func sv(vals ...interface{}) []*values.Scalar {
	out := make([]*values.Scalar, len(vals))
	for i, v := range vals {
		switch x := v.(type) {
		case int:
			out[i] = values.NewInt(int64(x))
		case int64:
			out[i] = values.NewInt(x)
		case float64:
			out[i] = values.NewFloat(x)
		case string:
			out[i] = values.NewString(x)
		default:
			out[i] = values.NewUndef()
		}
	}
	return out
}

func packHex(t *testing.T, tmpl string, args ...interface{}) string {
	t.Helper()
	got, err := Pack(tmpl, sv(args...), nil)
	require.NoError(t, err, "pack %q", tmpl)
	return hex.EncodeToString([]byte(got.Str()))
}

func TestPackBasicFormats(t *testing.T) {
	tests := []struct {
		tmpl string
		args []interface{}
		want string // hex
	}{
		{"C", []interface{}{65}, "41"},
		{"c", []interface{}{-1}, "ff"},
		{"C3", []interface{}{1, 2, 3}, "010203"},
		{"s", []interface{}{0x0201}, "0102"},
		{"s>", []interface{}{0x0102}, "0102"},
		{"n", []interface{}{0x0102}, "0102"},
		{"v", []interface{}{0x0102}, "0201"},
		{"N", []interface{}{1}, "00000001"},
		{"V", []interface{}{1}, "01000000"},
		{"l<", []interface{}{1}, "01000000"},
		{"l>", []interface{}{1}, "00000001"},
		{"Q", []interface{}{1}, "0100000000000000"},
		{"a3", []interface{}{"hi"}, "686900"},
		{"A3", []interface{}{"hi"}, "686920"},
		{"Z3", []interface{}{"hi"}, "686900"},
		{"Z*", []interface{}{"hi"}, "686900"},
		{"a*", []interface{}{"hi"}, "6869"},
		{"x3", nil, "000000"},
		{"H2", []interface{}{"fe"}, "fe"},
		{"H*", []interface{}{"deadbeef"}, "deadbeef"},
		{"h2", []interface{}{"ef"}, "fe"},
		{"B8", []interface{}{"10000001"}, "81"},
		{"b8", []interface{}{"10000001"}, "81"},
		{"w", []interface{}{130}, "8102"},
		{"w", []interface{}{5}, "05"},
	}
	for _, tt := range tests {
		t.Run(tt.tmpl, func(t *testing.T) {
			assert.Equal(t, tt.want, packHex(t, tt.tmpl, tt.args...))
		})
	}
}

func TestPackSlashDefaultCount(t *testing.T) {
	// N/S with no count on S consumes all remaining values
	assert.Equal(t, "00000003010002000300", packHex(t, "N/S", 1, 2, 3))
}

func TestPackSlashStringLength(t *testing.T) {
	assert.Equal(t, "0548656c6c6f", packHex(t, "C/a", "Hello"))
}

func TestPackRawByteAfterByteMode(t *testing.T) {
	// W must not UTF-8 encode in byte mode
	assert.Equal(t, "fd", packHex(t, "C0 W", 253))
}

func TestPackWWrapsAboveByteRangeInByteMode(t *testing.T) {
	// a character code above 255 has no raw-byte form: it wraps like 'C',
	// with a warning, and the single byte reads straight back
	var warned string
	env := &Env{Warn: func(m string) { warned = m }}
	packed, err := Pack("C0 W", sv(1000), env)
	require.NoError(t, err)
	assert.Equal(t, "e8", hex.EncodeToString([]byte(packed.Str())))
	assert.Contains(t, warned, "'W' format wrapped")

	got, err := Unpack("C0 W", packed, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(0xE8), got[0].IntValue())
}

func TestPackWCharModeRoundTrip(t *testing.T) {
	// in character mode the code point is a character of the string, so
	// pack and unpack agree through the dual byte/character representation
	assert.Equal(t, "cfa8", packHex(t, "U0 W", 1000))

	packed, err := Pack("U0 W", sv(1000), nil)
	require.NoError(t, err)
	got, err := Unpack("U0 W", packed, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1000), got[0].IntValue())
}

func TestPackUnicode(t *testing.T) {
	assert.Equal(t, "c48d", packHex(t, "U", 0x10D))
	_, err := Pack("U", sv(0x110000), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid Unicode codepoint")
}

func TestPackGroupRepeat(t *testing.T) {
	assert.Equal(t, "01020102", packHex(t, "(CC)2", 1, 2, 1, 2))
	assert.Equal(t, "0102", packHex(t, "(C)*", 1, 2))
}

func TestGroupEndiannessPropagation(t *testing.T) {
	// (s I)> behaves as (s> I>)
	big := packHex(t, "(s I)>", 1, 2)
	explicit := packHex(t, "s> I>", 1, 2)
	assert.Equal(t, explicit, big)
	// an explicit inner order wins over the group's
	inner := packHex(t, "(s< I)>", 1, 2)
	want := packHex(t, "s< I>", 1, 2)
	assert.Equal(t, want, inner)
}

func TestPackDummySizeTemplate(t *testing.T) {
	assert.Equal(t, "0000", packHex(t, "x[s]"))
	assert.Equal(t, "000000000000", packHex(t, "x[s l]"))
}

func TestPackDummySizeStarRejected(t *testing.T) {
	_, err := Pack("x[s<*]", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Within []-length '*' not allowed")
	_, err = Unpack("x[s<*]", values.NewString(""), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Within []-length '*' not allowed")
}

func TestSlashMustFollowNumeric(t *testing.T) {
	_, err := Pack("x/S", sv(1), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'/' must follow a numeric type in pack")
}

func TestChecksumInPackRejected(t *testing.T) {
	_, err := Pack("%16C*", sv(1, 2), nil)
	require.Error(t, err)
}

func TestUnpackRoundTrip(t *testing.T) {
	tests := []struct {
		tmpl string
		args []interface{}
	}{
		{"C4", []interface{}{1, 2, 3, 250}},
		{"s2", []interface{}{-5, 300}},
		{"N2", []interface{}{1, 1 << 30}},
		{"l<2", []interface{}{-1, 2}},
		{"q2", []interface{}{-12345678901, 4}},
		{"w3", []interface{}{0, 127, 1000000}},
		{"n3", []interface{}{1, 256, 65535}},
	}
	for _, tt := range tests {
		t.Run(tt.tmpl, func(t *testing.T) {
			packed, err := Pack(tt.tmpl, sv(tt.args...), nil)
			require.NoError(t, err)
			got, err := Unpack(tt.tmpl, packed, nil)
			require.NoError(t, err)
			var gotInts, wantInts []int64
			for _, v := range got {
				gotInts = append(gotInts, v.IntValue())
			}
			for _, v := range sv(tt.args...) {
				wantInts = append(wantInts, v.IntValue())
			}
			if diff := cmp.Diff(wantInts, gotInts); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUnpackFloatRoundTrip(t *testing.T) {
	packed, err := Pack("d2", sv(3.25, -0.5), nil)
	require.NoError(t, err)
	got, err := Unpack("d2", packed, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 3.25, got[0].NumValue())
	assert.Equal(t, -0.5, got[1].NumValue())
}

func TestUnpackAStripsTrailingWhitespace(t *testing.T) {
	packed, err := Pack("A10", sv("hi"), nil)
	require.NoError(t, err)
	got, err := Unpack("A*", packed, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hi", got[0].Str())
}

func TestUnpackZStopsAtNul(t *testing.T) {
	got, err := Unpack("Z5", values.NewString("ab\x00cd"), nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ab", got[0].Str())
}

func TestUnpackSlash(t *testing.T) {
	packed, err := Pack("N/S", sv(7, 8, 9), nil)
	require.NoError(t, err)
	got, err := Unpack("N/S", packed, nil)
	require.NoError(t, err)
	var ints []int64
	for _, v := range got {
		ints = append(ints, v.IntValue())
	}
	assert.Equal(t, []int64{7, 8, 9}, ints)
}

func TestUnpackSlashString(t *testing.T) {
	got, err := Unpack("C/a", values.NewString("\x05HelloWorld"), nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Hello", got[0].Str())
}

func TestUnpackDotAndAt(t *testing.T) {
	got, err := Unpack("C .", values.NewString("\x01rest"), nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[1].IntValue(), "'.' reports the group-relative offset")

	got, err = Unpack("@3 C", values.NewString("abcd"), nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64('d'), got[0].IntValue())
}

func TestUnpackGroupBaseline(t *testing.T) {
	// '.' inside a group is relative to the group's start
	got, err := Unpack("C (C .)", values.NewString("\x01\x02x"), nil)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(1), got[2].IntValue())
}

func TestUnpackChecksum(t *testing.T) {
	packed, err := Pack("C3", sv(1, 2, 3), nil)
	require.NoError(t, err)
	got, err := Unpack("%16C*", packed, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(6), got[0].IntValue())

	// empty input sums to zero without error
	got, err = Unpack("%16C*", values.NewString(""), nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(0), got[0].IntValue())

	// masked to the requested width
	got, err = Unpack("%4C*", packed, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(6), got[0].IntValue())
}

func TestUnpackBERMultiByte(t *testing.T) {
	got, err := Unpack("w", values.NewString("\x81\x02"), nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(130), got[0].IntValue())
}

func TestUnpackStarGroupNoProgress(t *testing.T) {
	// a starred group that consumes nothing must terminate
	_, err := Unpack("(.)* C", values.NewString("\x07"), nil)
	require.NoError(t, err)
}

func TestUnimplementedFormats(t *testing.T) {
	_, err := Pack("u", sv("x"), nil)
	require.Error(t, err)

	var warned string
	env := &Env{WarnUnimplemented: true, Warn: func(m string) { warned = m }}
	_, err = Pack("u", sv("x"), env)
	require.NoError(t, err)
	assert.Contains(t, warned, "Unimplemented")
}

func TestModeSwitchAffectsStrings(t *testing.T) {
	// U0 mode: 'a' counts characters, not bytes
	data := values.NewBytes([]byte("\xc4\x8dx")) // U+010D then 'x'
	got, err := Unpack("U0 a1", data, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "č", got[0].Str())
}
