package lexer

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gperl-lang/gperl/core/token"
)

type expect struct {
	Type token.Type
	Text string
}

func kinds(toks []token.Token) []expect {
	var out []expect
	for _, t := range toks {
		if t.Type == token.EOF {
			break
		}
		out = append(out, expect{t.Type, t.Text})
	}
	return out
}

func assertTokens(t *testing.T, input string, want []expect) {
	t.Helper()
	got := kinds(New("test.pl", input).Tokens())
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("token stream for %q (-want +got):\n%s", input, diff)
	}
}

func TestBasicStatement(t *testing.T) {
	assertTokens(t, `my $x = 42;`, []expect{
		{token.IDENT, "my"},
		{token.VARIABLE, "$x"},
		{token.OPERATOR, "="},
		{token.NUMBER, "42"},
		{token.SEMI, ";"},
	})
}

func TestSigils(t *testing.T) {
	assertTokens(t, `@list, %hash, &code, $#arr, $_, @_`, []expect{
		{token.VARIABLE, "@list"},
		{token.COMMA, ","},
		{token.VARIABLE, "%hash"},
		{token.COMMA, ","},
		{token.VARIABLE, "&code"},
		{token.COMMA, ","},
		{token.VARIABLE, "$#arr"},
		{token.COMMA, ","},
		{token.VARIABLE, "$_"},
		{token.COMMA, ","},
		{token.VARIABLE, "@_"},
	})
}

func TestSpecialVariables(t *testing.T) {
	assertTokens(t, `$@ $! $/ $, $0 $1 $12`, []expect{
		{token.VARIABLE, "$@"},
		{token.VARIABLE, "$!"},
		{token.VARIABLE, "$/"},
		{token.VARIABLE, "$,"},
		{token.VARIABLE, "$0"},
		{token.VARIABLE, "$1"},
		{token.VARIABLE, "$12"},
	})
}

func TestBracedVariable(t *testing.T) {
	assertTokens(t, `${name} ${^GLOBAL_PHASE}`, []expect{
		{token.VARIABLE, "$name"},
		{token.VARIABLE, "$^GLOBAL_PHASE"},
	})
}

func TestMultiCharOperatorsGreedy(t *testing.T) {
	assertTokens(t, `$a <<= 1; $b //= 2; $c **= 3; $d <=> $e`, []expect{
		{token.VARIABLE, "$a"},
		{token.OPERATOR, "<<="},
		{token.NUMBER, "1"},
		{token.SEMI, ";"},
		{token.VARIABLE, "$b"},
		{token.OPERATOR, "//="},
		{token.NUMBER, "2"},
		{token.SEMI, ";"},
		{token.VARIABLE, "$c"},
		{token.OPERATOR, "**="},
		{token.NUMBER, "3"},
		{token.SEMI, ";"},
		{token.VARIABLE, "$d"},
		{token.OPERATOR, "<=>"},
		{token.VARIABLE, "$e"},
	})
}

func TestPostfixDerefOperators(t *testing.T) {
	assertTokens(t, `$r->@*; $r->%*; $r->$*`, []expect{
		{token.VARIABLE, "$r"},
		{token.OPERATOR, "->@*"},
		{token.SEMI, ";"},
		{token.VARIABLE, "$r"},
		{token.OPERATOR, "->%*"},
		{token.SEMI, ";"},
		{token.VARIABLE, "$r"},
		{token.OPERATOR, "->$*"},
	})
}

func TestStrings(t *testing.T) {
	toks := New("test.pl", `'it\'s' "a $x b" q(nested (parens)) qq{curly}`).Tokens()
	require.GreaterOrEqual(t, len(toks), 4)
	assert.Equal(t, token.STRING, toks[0].Type)
	assert.Equal(t, "it's", toks[0].Body)
	assert.Equal(t, token.ISTRING, toks[1].Type)
	assert.Equal(t, "a $x b", toks[1].Body)
	assert.Equal(t, token.STRING, toks[2].Type)
	assert.Equal(t, "nested (parens)", toks[2].Body)
	assert.Equal(t, token.ISTRING, toks[3].Type)
	assert.Equal(t, "curly", toks[3].Body)
}

func TestSlashDisambiguation(t *testing.T) {
	// term position: a match. operator position: division.
	toks := New("test.pl", `$x / 2`).Tokens()
	assert.Equal(t, token.OPERATOR, toks[1].Type)
	assert.Equal(t, "/", toks[1].Text)

	toks = New("test.pl", `print /abc/`).Tokens()
	require.GreaterOrEqual(t, len(toks), 2)
	assert.Equal(t, token.MATCH, toks[1].Type)
	assert.Equal(t, "abc", toks[1].Body)
}

func TestQuoteLikeOperators(t *testing.T) {
	toks := New("test.pl", `m!pat!i s/foo/bar/g tr/a-z/A-Z/ y(abc)(xyz) qr{x}msx qw(a b  c)`).Tokens()
	require.GreaterOrEqual(t, len(toks), 6)

	assert.Equal(t, token.MATCH, toks[0].Type)
	assert.Equal(t, "pat", toks[0].Body)
	assert.Equal(t, "i", toks[0].Mods)

	assert.Equal(t, token.SUBST, toks[1].Type)
	assert.Equal(t, "foo", toks[1].Body)
	assert.Equal(t, "bar", toks[1].Body2)
	assert.Equal(t, "g", toks[1].Mods)

	assert.Equal(t, token.TRANS, toks[2].Type)
	assert.Equal(t, "a-z", toks[2].Body)
	assert.Equal(t, "A-Z", toks[2].Body2)

	assert.Equal(t, token.TRANS, toks[3].Type)
	assert.Equal(t, "abc", toks[3].Body)
	assert.Equal(t, "xyz", toks[3].Body2)

	assert.Equal(t, token.QUOTE_RX, toks[4].Type)
	assert.Equal(t, "x", toks[4].Body)
	assert.Equal(t, "msx", toks[4].Mods)

	assert.Equal(t, token.WORDLIST, toks[5].Type)
	assert.Equal(t, "a b  c", toks[5].Body)
}

func TestQuoteLikeKeywordAsBareword(t *testing.T) {
	// m => 1 keeps m as an identifier
	toks := New("test.pl", `my %h = (m => 1, s => 2);`).Tokens()
	var idents []string
	for _, tk := range toks {
		if tk.Type == token.IDENT {
			idents = append(idents, tk.Text)
		}
	}
	assert.Contains(t, idents, "m")
	assert.Contains(t, idents, "s")
}

func TestEmptyPatternMatch(t *testing.T) {
	toks := New("test.pl", `print // ? 1 : 0`).Tokens()
	assert.Equal(t, token.MATCH, toks[1].Type)
	assert.Equal(t, "", toks[1].Body)
}

func TestDiamondAndReadline(t *testing.T) {
	toks := New("test.pl", `while (<STDIN>) { }`).Tokens()
	require.GreaterOrEqual(t, len(toks), 3)
	assert.Equal(t, token.READLINE, toks[2].Type)
	assert.Equal(t, "STDIN", toks[2].Body)

	toks = New("test.pl", `my $l = <>;`).Tokens()
	assert.Equal(t, token.READLINE, toks[3].Type)
	assert.Equal(t, "", toks[3].Body)

	toks = New("test.pl", `my $l = <$fh>;`).Tokens()
	assert.Equal(t, token.READLINE, toks[3].Type)
	assert.Equal(t, "$fh", toks[3].Body)

	// operator position: less-than then greater-than
	toks = New("test.pl", `$a <$b> $c;`).Tokens()
	assert.Equal(t, token.OPERATOR, toks[1].Type)
	assert.Equal(t, "<", toks[1].Text)
}

func TestHeredocBasic(t *testing.T) {
	src := "my $x = <<EOF;\nline one\nline two\nEOF\nmy $y = 1;\n"
	toks := New("test.pl", src).Tokens()
	require.GreaterOrEqual(t, len(toks), 6)
	assert.Equal(t, token.ISTRING, toks[3].Type)
	assert.Equal(t, "line one\nline two\n", toks[3].Body)
	// lexing resumes after the terminator
	assert.Equal(t, token.IDENT, toks[5].Type)
	assert.Equal(t, "my", toks[5].Text)
}

func TestHeredocSingleQuoted(t *testing.T) {
	src := "my $x = <<'EOF';\nno $interp here\nEOF\n"
	toks := New("test.pl", src).Tokens()
	assert.Equal(t, token.STRING, toks[3].Type)
	assert.Equal(t, "no $interp here\n", toks[3].Body)
}

func TestHeredocIndented(t *testing.T) {
	src := "my $x = <<~EOF;\n    indented\n      more\n    EOF\n"
	toks := New("test.pl", src).Tokens()
	assert.Equal(t, "indented\n  more\n", toks[3].Body)
}

func TestHeredocStacked(t *testing.T) {
	src := "print <<A, <<B;\nfirst\nA\nsecond\nB\n"
	toks := New("test.pl", src).Tokens()
	require.GreaterOrEqual(t, len(toks), 4)
	assert.Equal(t, "first\n", toks[1].Body)
	assert.Equal(t, "second\n", toks[3].Body)
}

func TestHeredocVsShift(t *testing.T) {
	toks := New("test.pl", `$x << 2`).Tokens()
	assert.Equal(t, token.OPERATOR, toks[1].Type)
	assert.Equal(t, "<<", toks[1].Text)
}

func TestLineDirective(t *testing.T) {
	src := "my $a;\n#line 100 \"other.pl\"\nmy $b;\n"
	l := New("test.pl", src)
	toks := l.Tokens()
	require.GreaterOrEqual(t, len(toks), 6)
	// $b is on physical line 3, reported as other.pl line 100
	var bTok token.Token
	for _, tk := range toks {
		if tk.Text == "$b" {
			bTok = tk
		}
	}
	pos := l.LineMap().Resolve(bTok.Line)
	assert.Equal(t, "other.pl", pos.File)
	assert.Equal(t, 100, pos.Line)
}

func TestPODSkipped(t *testing.T) {
	src := "my $a;\n=pod\nanything $ { here\n=cut\nmy $b;\n"
	toks := New("test.pl", src).Tokens()
	var texts []string
	for _, tk := range toks {
		texts = append(texts, tk.Text)
	}
	assert.Contains(t, texts, "$b")
	assert.NotContains(t, texts, "anything")
}

func TestEndMarkerStopsLexing(t *testing.T) {
	src := "my $a;\n__END__\nthis is not code\n"
	toks := New("test.pl", src).Tokens()
	assert.Equal(t, token.EOF, toks[len(toks)-1].Type)
	for _, tk := range toks {
		assert.NotEqual(t, "this", tk.Text)
	}
}

func TestNumbers(t *testing.T) {
	assertTokens(t, `42 3.14 1_000_000 0xff 0b1010 1e10 2.5e-3`, []expect{
		{token.NUMBER, "42"},
		{token.NUMBER, "3.14"},
		{token.NUMBER, "1_000_000"},
		{token.NUMBER, "0xff"},
		{token.NUMBER, "0b1010"},
		{token.NUMBER, "1e10"},
		{token.NUMBER, "2.5e-3"},
	})
}

func TestRangeVsFloat(t *testing.T) {
	assertTokens(t, `1..5`, []expect{
		{token.NUMBER, "1"},
		{token.OPERATOR, ".."},
		{token.NUMBER, "5"},
	})
}

func TestFatCommaIsComma(t *testing.T) {
	toks := New("test.pl", `a => 1`).Tokens()
	assert.Equal(t, token.COMMA, toks[1].Type)
	assert.Equal(t, "=>", toks[1].Text)
}

func TestPackageQualifiedIdent(t *testing.T) {
	assertTokens(t, `Foo::Bar::baz`, []expect{
		{token.IDENT, "Foo::Bar::baz"},
	})
}

func TestTokenPositions(t *testing.T) {
	toks := New("test.pl", "my $x;\nmy $y;\n").Tokens()
	assert.Equal(t, 1, toks[0].Line)
	assert.Equal(t, 2, toks[3].Line)
	for i, tk := range toks {
		assert.Equal(t, i, tk.Index)
	}
}
