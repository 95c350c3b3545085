package values

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		input string
		want  float64
		clean bool
	}{
		{"42", 42, true},
		{"  42", 42, true},
		{"42  ", 42, true},
		{"-3.5", -3.5, true},
		{"+7", 7, true},
		{"3.14e2", 314, true},
		{"1_000", 1, false}, // underscores are literal-only syntax
		{"12abc", 12, false},
		{"abc", 0, false},
		{"", 0, true},
		{"   ", 0, true},
		{"0x10", 0, false},
		{".5", 0.5, true},
		{"5.", 5, true},
		{"1e", 1, false},
		{"Inf", math.Inf(1), true},
		{"-inf", math.Inf(-1), true},
		{"Infinity", math.Inf(1), true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, clean := ParseNumber(tt.input)
			assert.Equal(t, tt.want, got, "value for %q", tt.input)
			assert.Equal(t, tt.clean, clean, "clean for %q", tt.input)
		})
	}
}

func TestParseNumberNaN(t *testing.T) {
	got, clean := ParseNumber("NaN")
	assert.True(t, math.IsNaN(got))
	assert.True(t, clean)
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "3", FormatNumber(3.0))
	assert.Equal(t, "3.5", FormatNumber(3.5))
	assert.Equal(t, "0.1", FormatNumber(0.1))
	assert.Equal(t, "Inf", FormatNumber(math.Inf(1)))
	assert.Equal(t, "-Inf", FormatNumber(math.Inf(-1)))
}

func TestScalarCoercionCaching(t *testing.T) {
	s := NewString("12abc")
	f, clean := s.Num()
	assert.Equal(t, 12.0, f)
	assert.False(t, clean)
	// cached second read agrees
	f, clean = s.Num()
	assert.Equal(t, 12.0, f)
	assert.False(t, clean)
	// mutation invalidates the cache
	require.NoError(t, s.SetString("99"))
	f, clean = s.Num()
	assert.Equal(t, 99.0, f)
	assert.True(t, clean)
}

func TestScalarTruth(t *testing.T) {
	assert.False(t, NewUndef().Bool())
	assert.False(t, NewString("").Bool())
	assert.False(t, NewString("0").Bool())
	assert.True(t, NewString("0.0").Bool())
	assert.True(t, NewString("00").Bool())
	assert.False(t, NewInt(0).Bool())
	assert.True(t, NewInt(-1).Bool())
	assert.True(t, NewRef(ArrayRef(NewArray())).Bool())
}

func TestReadOnlyConstants(t *testing.T) {
	err := UndefConst().SetInt(1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Modification of a read-only value attempted")
	assert.Same(t, IntConst(1), IntConst(1))
	assert.Same(t, UndefConst(), UndefConst())
}

func TestSetFromPreservesIdentity(t *testing.T) {
	cell := NewInt(10)
	alias := cell // same cell seen by a closure
	require.NoError(t, cell.SetFrom(NewInt(15)))
	assert.Equal(t, int64(15), alias.IntValue())
}

func TestStringIncrement(t *testing.T) {
	tests := []struct {
		in, want string
		ok       bool
	}{
		{"aa", "ab", true},
		{"az", "ba", true},
		{"zz", "aaa", true},
		{"Az", "Ba", true},
		{"Zz", "AAa", true},
		{"a9", "b0", true},
		{"zz9", "aaa0", true},
		{"", "1", true},
		{"a1b2", "", false},
		{"1a", "", false},
	}
	for _, tt := range tests {
		got, ok := StringIncrement(tt.in)
		assert.Equal(t, tt.ok, ok, "ok for %q", tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, "result for %q", tt.in)
		}
	}
}

func TestArrayShiftUnshift(t *testing.T) {
	a := NewArray()
	a.Push(NewInt(1), NewInt(2), NewInt(3))
	assert.Equal(t, int64(1), a.Shift().IntValue())
	a.Unshift(NewInt(0))
	assert.Equal(t, int64(0), a.Get(0).IntValue())
	assert.Equal(t, 3, a.Len())
	assert.Equal(t, int64(3), a.Get(-1).IntValue())
}

func TestArrayAutoviv(t *testing.T) {
	a := NewArray()
	cell := a.LV(3)
	require.NoError(t, cell.SetInt(7))
	assert.Equal(t, 4, a.Len())
	assert.False(t, a.Exists(1), "gap cells stay non-existent")
	assert.Equal(t, int64(7), a.Get(3).IntValue())
	assert.Equal(t, int64(7), a.Get(-1).IntValue())
}

func TestArraySplice(t *testing.T) {
	a := NewArray()
	for i := 1; i <= 5; i++ {
		a.Push(NewInt(int64(i)))
	}
	removed := a.Splice(1, 2, []*Scalar{NewInt(9)})
	require.Len(t, removed, 2)
	assert.Equal(t, int64(2), removed[0].IntValue())
	got := make([]int64, 0, a.Len())
	for _, s := range a.All() {
		got = append(got, s.IntValue())
	}
	if diff := cmp.Diff([]int64{1, 9, 4, 5}, got); diff != "" {
		t.Errorf("splice result mismatch (-want +got):\n%s", diff)
	}
}

func TestHashEachStability(t *testing.T) {
	h := NewHash()
	h.Set("a", NewInt(1))
	h.Set("b", NewInt(2))
	h.Set("c", NewInt(3))

	k1, _, ok := h.Each()
	require.True(t, ok)
	assert.Equal(t, "a", k1)

	h.Delete("b")
	k2, _, ok := h.Each()
	require.True(t, ok)
	assert.Equal(t, "c", k2, "each skips the deleted key and keeps its place")

	_, _, ok = h.Each()
	assert.False(t, ok, "exhausted")
}

func TestHashBucketDiagNeverShrinks(t *testing.T) {
	h := NewHash()
	for i := 0; i < 20; i++ {
		h.Set(string(rune('a'+i)), NewInt(int64(i)))
	}
	grown := h.BucketDiag()
	for i := 0; i < 19; i++ {
		h.Delete(string(rune('a' + i)))
	}
	after := h.BucketDiag()
	assert.Equal(t, grown[len(grown)-3:], after[len(after)-3:], "allocation part stays")
}

func TestHashAssignPairsDuplicates(t *testing.T) {
	h := NewHash()
	h.AssignPairs([]*Scalar{
		NewInt(1), NewInt(2),
		NewInt(1), NewInt(3),
		NewInt(1), NewInt(4),
		NewInt(1), NewInt(5),
	})
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, int64(5), h.Get("1").IntValue())
}

func TestRefStringify(t *testing.T) {
	r := ArrayRef(NewArray())
	s := r.Stringify()
	assert.Regexp(t, `^ARRAY\(0x[0-9a-f]+\)$`, s)
	r.Blessed = "My::Class"
	assert.Regexp(t, `^My::Class=ARRAY\(0x[0-9a-f]+\)$`, r.Stringify())
	assert.Equal(t, "My::Class", r.Type())
	assert.Equal(t, "ARRAY", r.BaseType())
}

func TestOverloadFallbackChain(t *testing.T) {
	num := &Code{Name: "num"}
	tbl := &OverloadTable{Ops: map[string]*Code{"0+": num}}
	assert.Same(t, num, tbl.Lookup(`""`), `"" falls back to 0+`)
	assert.Same(t, num, tbl.Lookup("bool"))
	tbl.Fallback = NewInt(0)
	assert.Nil(t, tbl.Lookup(`""`), "explicit fallback => 0 disables autogeneration")
}
