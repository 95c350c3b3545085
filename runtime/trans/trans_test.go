package trans

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRangeExpansion(t *testing.T) {
	sp, err := Parse("a-e", "A-E", "")
	require.NoError(t, err)
	got, n := sp.Apply("abcxyz")
	assert.Equal(t, "ABCxyz", got)
	assert.Equal(t, 3, n)
}

func TestAmbiguousRangeRejected(t *testing.T) {
	_, err := Parse("a-z-A", "x", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Ambiguous range")
}

func TestReversedRangeRejected(t *testing.T) {
	_, err := Parse("z-a", "x", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid range")
}

func TestCountOnly(t *testing.T) {
	sp, err := Parse("aeiou", "", "")
	require.NoError(t, err)
	got, n := sp.Apply("banana")
	assert.Equal(t, "banana", got, "count-only mode leaves the string alone")
	assert.Equal(t, 3, n)
}

func TestPadWithLastChar(t *testing.T) {
	sp, err := Parse("abc", "x", "")
	require.NoError(t, err)
	got, _ := sp.Apply("abc")
	assert.Equal(t, "xxx", got)
}

func TestDeleteModifier(t *testing.T) {
	sp, err := Parse("a-z", "A-C", "d")
	require.NoError(t, err)
	got, _ := sp.Apply("abcdef")
	assert.Equal(t, "ABC", got, "unreplaced matches are deleted under /d")
}

func TestSquashModifier(t *testing.T) {
	sp, err := Parse("l", "r", "s")
	require.NoError(t, err)
	got, _ := sp.Apply("hello")
	assert.Equal(t, "hero", got)
}

func TestComplement(t *testing.T) {
	sp, err := Parse("0-9", "x", "c")
	require.NoError(t, err)
	got, n := sp.Apply("a1b2")
	assert.Equal(t, "x1x2", got)
	assert.Equal(t, 2, n)
}

func TestComplementDelete(t *testing.T) {
	sp, err := Parse("0-9", "", "cd")
	require.NoError(t, err)
	got, _ := sp.Apply("a1b2c3")
	assert.Equal(t, "123", got)
}

func TestEscapes(t *testing.T) {
	sp, err := Parse(`\n`, " ", "")
	require.NoError(t, err)
	got, _ := sp.Apply("a\nb")
	assert.Equal(t, "a b", got)
}
