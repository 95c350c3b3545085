package regex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCompile(t *testing.T, pattern, mods string) *Compiled {
	t.Helper()
	flags, err := ParseFlags(mods)
	require.NoError(t, err)
	c, err := Compile(pattern, flags, nil)
	require.NoError(t, err)
	return c
}

func TestCommentGroupRemoved(t *testing.T) {
	// the (?#...) comment vanishes, so {3} quantifies the 'a'
	c := mustCompile(t, `^a(?#xxx){3}c`, "")
	assert.NotNil(t, c.Match("aaac", 0))
	assert.Nil(t, c.Match("aac", 0))
}

func TestHexEscapeThenQuantifier(t *testing.T) {
	c := mustCompile(t, `(\x{100}){2}`, "")
	m := c.Match("ĀĀ", 0)
	require.NotNil(t, m, `{2} after \x{100} is a quantifier, not a brace group`)
	assert.Equal(t, 1, c.Meta.NGroups)
}

func TestNamedGroups(t *testing.T) {
	for _, pat := range []string{`(?<word>\w+)`, `(?P<word>\w+)`, `(?'word'\w+)`} {
		c := mustCompile(t, pat, "")
		m := c.Match("hello", 0)
		require.NotNil(t, m, pat)
		g, ok := m.GroupText("hello", 1)
		require.True(t, ok)
		assert.Equal(t, "hello", g)
		assert.Equal(t, 1, c.Meta.Names["word"])
	}
}

func TestBranchResetRenumbering(t *testing.T) {
	c := mustCompile(t, `(?|(a)|(b))(c)`, "")
	assert.Equal(t, 2, c.Meta.NGroups, "alternatives share group 1; (c) is group 2")

	m := c.Match("bc", 0)
	require.NotNil(t, m)
	g1, ok := m.GroupText("bc", 1)
	require.True(t, ok)
	assert.Equal(t, "b", g1)
	g2, ok := m.GroupText("bc", 2)
	require.True(t, ok)
	assert.Equal(t, "c", g2)
}

func TestControlVerbsRejectedOrDowngraded(t *testing.T) {
	flags, _ := ParseFlags("")
	_, err := Compile(`a(*FAIL)b`, flags, nil)
	require.Error(t, err)

	var warned string
	env := &Env{WarnUnimplemented: true, Warn: func(m string) { warned = m }}
	c, err := Compile(`a(*FAIL)b`, flags, env)
	require.NoError(t, err)
	assert.Contains(t, warned, "(*FAIL)")
	assert.NotNil(t, c.Match("ab", 0), "the verb degrades to an empty group")
}

func TestBackreferencesRejected(t *testing.T) {
	flags, _ := ParseFlags("")
	_, err := Compile(`(a)\1`, flags, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Backreferences")
}

func TestRecursionRejected(t *testing.T) {
	flags, _ := ParseFlags("")
	for _, pat := range []string{`(?&name)`, `(?P>name)`} {
		_, err := Compile(pat, flags, nil)
		require.Error(t, err, pat)
	}
}

func TestLookaroundRejected(t *testing.T) {
	flags, _ := ParseFlags("")
	for _, pat := range []string{`a(?=b)`, `a(?!b)`, `(?<=a)b`, `(?<!a)b`, `(*pla:x)y`} {
		_, err := Compile(pat, flags, nil)
		require.Error(t, err, pat)
	}
}

func TestExtendedModeStripsWhitespace(t *testing.T) {
	c := mustCompile(t, "a b  # trailing comment\n c", "x")
	assert.NotNil(t, c.Match("abc", 0))
	assert.Nil(t, c.Match("a b c", 0))
}

func TestFlagLetters(t *testing.T) {
	f, err := ParseFlags("gims")
	require.NoError(t, err)
	assert.True(t, f.Global)
	assert.True(t, f.IgnoreCase)
	assert.True(t, f.Multiline)
	assert.True(t, f.DotAll)

	_, err = ParseFlags("z")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `Unknown regexp modifier`)
}

func TestCaseInsensitiveMatch(t *testing.T) {
	c := mustCompile(t, `^hello$`, "i")
	assert.NotNil(t, c.Match("HELLO", 0))
}

func TestMatchOffsets(t *testing.T) {
	c := mustCompile(t, `(l+)`, "")
	m := c.Match("hello world", 0)
	require.NotNil(t, m)
	assert.Equal(t, 2, m.Start)
	assert.Equal(t, 4, m.End)
	assert.Equal(t, "he", m.Pre)
	assert.Equal(t, "ll", m.Mid)
	assert.Equal(t, "o world", m.Post)

	// continuing from pos finds the later run
	m = c.Match("hello world", 5)
	require.NotNil(t, m)
	assert.Equal(t, 9, m.Start)
}

func TestReplacementEscapes(t *testing.T) {
	assert.Equal(t, `$x`, ResolveReplacementEscapes(`\$x`))
	assert.Equal(t, `\`, ResolveReplacementEscapes(`\\`))
	assert.Equal(t, "a\nb", ResolveReplacementEscapes(`a\nb`))
	assert.Equal(t, `\q`, ResolveReplacementEscapes(`\q`), "unknown escapes pass through")
}

func TestNoCaptureFlag(t *testing.T) {
	c := mustCompile(t, `(a)(b)`, "n")
	m := c.Match("ab", 0)
	require.NotNil(t, m)
	assert.Equal(t, 0, c.Meta.NGroups)
}
