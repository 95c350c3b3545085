package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gperl-lang/gperl/runtime/values"
)

func TestPerlSprintf(t *testing.T) {
	tests := []struct {
		format string
		args   []*values.Scalar
		want   string
	}{
		{"plain", nil, "plain"},
		{"%s", []*values.Scalar{values.NewString("x")}, "x"},
		{"%5d", []*values.Scalar{values.NewInt(42)}, "   42"},
		{"%-5d|", []*values.Scalar{values.NewInt(42)}, "42   |"},
		{"%05d", []*values.Scalar{values.NewInt(42)}, "00042"},
		{"%.2f", []*values.Scalar{values.NewFloat(3.14159)}, "3.14"},
		{"%x", []*values.Scalar{values.NewInt(255)}, "ff"},
		{"%X", []*values.Scalar{values.NewInt(255)}, "FF"},
		{"%o", []*values.Scalar{values.NewInt(8)}, "10"},
		{"%b", []*values.Scalar{values.NewInt(5)}, "101"},
		{"%c", []*values.Scalar{values.NewInt(65)}, "A"},
		{"%e", []*values.Scalar{values.NewFloat(1500.0)}, "1.500000e+03"},
		{"%%", nil, "%"},
		{"%*d", []*values.Scalar{values.NewInt(4), values.NewInt(7)}, "   7"},
		{"a%sb%dc", []*values.Scalar{values.NewString("X"), values.NewInt(1)}, "aXb1c"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			got, err := perlSprintf(tt.format, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPerlSprintfBadVerb(t *testing.T) {
	_, err := perlSprintf("%z", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid conversion")
}

func TestGlobalsSpecialCellsAreStable(t *testing.T) {
	g := NewGlobals()
	a := g.Special("$@")
	b := g.Special("$@")
	assert.Same(t, a, b, "the containing scalar is never recreated")

	require.NoError(t, a.SetString("boom"))
	assert.Equal(t, "boom", g.Special("$@").Str())
}

func TestGlobalsBindRestoreSpecial(t *testing.T) {
	g := NewGlobals()
	orig := g.Special("$_")
	elem := values.NewInt(7)
	old := g.BindSpecial("$_", elem)
	assert.Same(t, elem, g.Special("$_"))
	g.RestoreSpecial("$_", old)
	assert.Same(t, orig, g.Special("$_"))
}

func TestPersistentRegistry(t *testing.T) {
	g := NewGlobals()
	c1 := g.Persistent("$x")
	c2 := g.Persistent("$x")
	assert.Same(t, c1, c2)

	fresh := values.NewInt(9)
	old := g.RebindPersistent("$x", fresh)
	assert.Same(t, c1, old)
	assert.Same(t, fresh, g.Persistent("$x"))
}

func TestStashAndISAResolution(t *testing.T) {
	g := NewGlobals()
	speak := &values.Code{Name: "Animal::speak", Fn: func([]*values.Scalar, values.CallContext) ([]*values.Scalar, error) {
		return []*values.Scalar{values.NewString("generic")}, nil
	}}
	g.Glob("Animal::speak").Code = speak
	g.Glob("Dog::ISA").ArrayCell().Push(values.NewString("Animal"))

	got := g.ResolveMethod("Dog", "speak")
	require.NotNil(t, got)
	assert.Same(t, speak, got)

	assert.Nil(t, g.ResolveMethod("Cat", "speak"))
}

func TestRangeIteratorConstantSpace(t *testing.T) {
	it := &rangeIter{cur: 1, hi: 1 << 40}
	require.True(t, it.hasNext())
	assert.Equal(t, int64(1), it.next().IntValue())
	assert.Equal(t, int64(2), it.next().IntValue())
	// no materialisation happened to get here
}

func TestStringRangeIteratorStops(t *testing.T) {
	it := &stringRangeIter{cur: "a", end: "e"}
	var got []string
	for it.hasNext() {
		got = append(got, it.next().Str())
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, got)
}

func TestStringRangeLengthStop(t *testing.T) {
	// 'a' .. '\xFF' stops when the increment would grow past the endpoint
	it := &stringRangeIter{cur: "a", end: "\xff"}
	count := 0
	for it.hasNext() && count < 100 {
		it.next()
		count++
	}
	assert.Equal(t, 26, count, "terminates at the end of the single-letter run")
}

func TestArrayIteratorAliasesCells(t *testing.T) {
	arr := values.NewArray()
	arr.Push(values.NewInt(1), values.NewInt(2))
	it := &arrayIter{arr: arr}
	cell := it.next()
	require.NoError(t, cell.SetInt(99))
	assert.Equal(t, int64(99), arr.Get(0).IntValue())
}

func TestRegexCacheReuses(t *testing.T) {
	m := New()
	a, err := m.CompileRegex(`\d+`, "i")
	require.NoError(t, err)
	b, err := m.CompileRegex(`\d+`, "i")
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := m.CompileRegex(`\d+`, "")
	require.NoError(t, err)
	assert.NotSame(t, a, c, "flags are part of the key")
}

func TestNewDieFormatting(t *testing.T) {
	m := New()
	err := m.NewDie([]*values.Scalar{values.NewString("boom")}, " at t.pl line 3.")
	assert.Equal(t, "boom at t.pl line 3.\n", err.Value.Str())

	err = m.NewDie([]*values.Scalar{values.NewString("done\n")}, " at t.pl line 3.")
	assert.Equal(t, "done\n", err.Value.Str(), "a trailing newline suppresses the location")

	obj := values.NewRef(values.HashRef(values.NewHash()))
	err = m.NewDie([]*values.Scalar{obj}, " at t.pl line 3.")
	assert.Same(t, obj, err.Value, "reference dies carry the object")
}

func TestExitErrorStatus(t *testing.T) {
	e := &ExitError{Status: 3}
	assert.Equal(t, "exit", e.Error())
}
