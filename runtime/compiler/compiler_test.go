package compiler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	op "github.com/gperl-lang/gperl/core/opcode"
	"github.com/gperl-lang/gperl/runtime/parser"
)

func compileSrc(t *testing.T, src string, opts Options) *Chunk {
	t.Helper()
	prog, diags := parser.Parse("test.pl", src)
	if d, bad := diags.FirstError(); bad {
		t.Fatalf("parse: %s", d)
	}
	if opts.SourceName == "" {
		opts.SourceName = "test.pl"
	}
	chunk, err := Compile(prog, opts)
	require.NoError(t, err)
	return chunk
}

func hasOp(c *Chunk, want op.Op) bool {
	pc := 0
	for pc < len(c.Code) {
		if op.Op(c.Code[pc]) == want {
			return true
		}
		pc++ // scanning word-wise is fine for presence checks
	}
	return false
}

func TestSimpleCompile(t *testing.T) {
	c := compileSrc(t, `my $x = 1 + 2; print $x;`, Options{})
	assert.True(t, hasOp(c, op.ADD))
	assert.True(t, hasOp(c, op.PRINT))
	assert.Greater(t, c.NReg, 0)
}

func TestCompoundUsesInPlaceOpcode(t *testing.T) {
	c := compileSrc(t, `my $x = 0; $x += 5;`, Options{})
	assert.True(t, hasOp(c, op.ADD_ASSIGN), "compound assignment keeps the cell")
	for _, o := range []op.Op{op.SUB_ASSIGN, op.CONCAT_ASSIGN} {
		assert.False(t, hasOp(c, o))
	}
}

func TestClosureCaptureTable(t *testing.T) {
	c := compileSrc(t, `sub outer { my $n = 1; return sub { $n + 1 } }`, Options{})
	require.Len(t, c.Subs, 1, "outer")
	outer := c.Subs[0]
	require.Len(t, outer.Subs, 1, "inner")
	inner := outer.Subs[0]
	require.Len(t, inner.Captures, 1)
	assert.Equal(t, "$n", inner.Captures[0].Name)
	assert.Equal(t, CapSlot, inner.Captures[0].Src)
}

func TestTransitiveCapture(t *testing.T) {
	c := compileSrc(t, `sub a { my $v = 1; sub { sub { $v } } }`, Options{})
	outer := c.Subs[0]
	mid := outer.Subs[0]
	innermost := mid.Subs[0]
	require.Len(t, mid.Captures, 1, "the middle closure carries the cell through")
	assert.Equal(t, CapSlot, mid.Captures[0].Src)
	require.Len(t, innermost.Captures, 1)
	assert.Equal(t, CapCapture, innermost.Captures[0].Src)
}

func TestFileScopeLexicalsArePersistent(t *testing.T) {
	c := compileSrc(t, `my $x = 1; $x += 1;`, Options{})
	assert.True(t, hasOp(c, op.LOAD_PERSISTENT), "file lexicals route through the registry")
}

func TestSubLexicalsAreSlots(t *testing.T) {
	c := compileSrc(t, `sub f { my $local = 1; return $local; }`, Options{})
	sub := c.Subs[0]
	assert.False(t, hasOp(sub, op.LOAD_PERSISTENT))
	assert.Greater(t, sub.NReg, 0)
}

func TestForeachRangeUsesIterator(t *testing.T) {
	c := compileSrc(t, `foreach my $i (1..10) { print $i; }`, Options{})
	assert.True(t, hasOp(c, op.ITERATOR_CREATE))
	assert.True(t, hasOp(c, op.ITERATOR_HAS_NEXT))
	assert.True(t, hasOp(c, op.ITERATOR_NEXT))
	assert.False(t, hasOp(c, op.RANGE_NEW), "foreach must not materialise the range")
}

func TestListContextRangeMaterialises(t *testing.T) {
	c := compileSrc(t, `my @a = (1..5);`, Options{})
	assert.True(t, hasOp(c, op.RANGE_NEW))
}

func TestMethodLimitEnforced(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 3000; i++ {
		sb.WriteString("my $v = 1 + 2 + 3;\n")
	}
	prog, diags := parser.Parse("big.pl", sb.String())
	if d, bad := diags.FirstError(); bad {
		t.Fatalf("parse: %s", d)
	}
	_, err := Compile(prog, Options{MethodLimit: 16 * 1024})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestRefactorKeepsChunksUnderLimit(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("my $x = 0;\n")
	for i := 0; i < 10000; i++ {
		sb.WriteString("$x += 1;\n")
	}
	prog, diags := parser.Parse("big.pl", sb.String())
	if d, bad := diags.FirstError(); bad {
		t.Fatalf("parse: %s", d)
	}
	chunk, err := Compile(prog, Options{LargeCodeRefactor: true})
	require.NoError(t, err)

	var check func(c *Chunk)
	check = func(c *Chunk) {
		assert.LessOrEqual(t, c.ByteSize(), 64*1024, "%s", c.Name)
		for _, s := range c.Subs {
			check(s)
		}
	}
	check(chunk)
	assert.NotEmpty(t, chunk.Subs, "the refactorer produced wrapper closures")
}

func TestLineTableSurvivesCompilation(t *testing.T) {
	c := compileSrc(t, "my $a = 1;\nmy $b = 2;\n", Options{})
	require.NotEmpty(t, c.Lines)
	assert.Equal(t, len(c.Code), len(c.Lines), "every word has a token index")

	seen := map[int]bool{}
	for pc := range c.Code {
		if lp, ok := c.LineFor(pc); ok {
			seen[lp.Line] = true
		}
	}
	assert.True(t, seen[1])
	assert.True(t, seen[2])
}

func TestScopeSnapshotCompilesToRegistryAccess(t *testing.T) {
	prog, diags := parser.Parse("(eval)", `$x += 2;`)
	if d, bad := diags.FirstError(); bad {
		t.Fatalf("parse: %s", d)
	}
	chunk, err := Compile(prog, Options{SourceName: "(eval)", ScopeSnapshot: map[string]string{"$x": "$x"}})
	require.NoError(t, err)
	assert.True(t, hasOp(chunk, op.LOAD_PERSISTENT))
	assert.Contains(t, chunk.Strs, "$x")
}

func TestConstantPoolsDeduplicate(t *testing.T) {
	c := compileSrc(t, `my $a = "hi"; my $b = "hi"; my $c = 7; my $d = 7;`, Options{})
	hits := 0
	for _, s := range c.Strs {
		if s == "hi" {
			hits++
		}
	}
	assert.Equal(t, 1, hits)
	ints := 0
	for _, v := range c.Ints {
		if v == 7 {
			ints++
		}
	}
	assert.Equal(t, 1, ints)
}

func TestImageRoundTrip(t *testing.T) {
	c := compileSrc(t, `sub f { my $n = shift; return $n * 2 } print f(21);`, Options{})
	data, err := Serialize(c)
	require.NoError(t, err)

	back, err := Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, c.Code, back.Code)
	assert.Equal(t, c.Strs, back.Strs)
	assert.Equal(t, c.NReg, back.NReg)
	require.Len(t, back.Subs, len(c.Subs))
	assert.Equal(t, c.Subs[0].Code, back.Subs[0].Code)
}

func TestImageChecksumDetectsCorruption(t *testing.T) {
	c := compileSrc(t, `my $x = 1;`, Options{})
	data, err := Serialize(c)
	require.NoError(t, err)
	data[len(data)-3] ^= 0xFF
	_, err = Deserialize(data)
	require.Error(t, err)
}
