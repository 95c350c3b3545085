package interp

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runProgram executes src in a fresh context and returns everything it
// printed.
func runProgram(t *testing.T, src string, opts ...Option) string {
	t.Helper()
	var out bytes.Buffer
	opts = append(opts, WithOutput(&out))
	ctx := New(opts...)
	defer ctx.Close()
	status, diags, err := ctx.CompileAndRun("test.pl", src, nil)
	if err != nil {
		t.Fatalf("run failed (status %d): %v\ndiags: %+v", status, err, diags.All)
	}
	return out.String()
}

func TestPrintLiteral(t *testing.T) {
	assert.Equal(t, "hello\n", runProgram(t, `print "hello\n";`))
}

func TestArithmetic(t *testing.T) {
	assert.Equal(t, "7", runProgram(t, `print 1 + 2 * 3;`))
	assert.Equal(t, "2.5", runProgram(t, `print 5 / 2;`))
	assert.Equal(t, "8", runProgram(t, `print 2 ** 3;`))
	assert.Equal(t, "1", runProgram(t, `print 7 % 2;`))
	assert.Equal(t, "3", runProgram(t, `print -7 % 5;`))
}

func TestStringOps(t *testing.T) {
	assert.Equal(t, "abcdef", runProgram(t, `print "abc" . "def";`))
	assert.Equal(t, "ababab", runProgram(t, `print "ab" x 3;`))
	assert.Equal(t, "ABC", runProgram(t, `print uc("abc");`))
	assert.Equal(t, "5", runProgram(t, `print length("hello");`))
}

func TestLexicalsAndScopes(t *testing.T) {
	assert.Equal(t, "10", runProgram(t, `my $x = 10; print $x;`))
	assert.Equal(t, "3", runProgram(t, `my $x = 1; { my $x = 3; print $x; }`))
}

func TestInterpolation(t *testing.T) {
	assert.Equal(t, "x=5 done", runProgram(t, `my $x = 5; print "x=$x done";`))
	assert.Equal(t, "1 2 3", runProgram(t, `my @a = (1, 2, 3); print "@a";`))
}

func TestConditionals(t *testing.T) {
	assert.Equal(t, "yes", runProgram(t, `if (1 < 2) { print "yes"; } else { print "no"; }`))
	assert.Equal(t, "no", runProgram(t, `unless (1 < 2) { print "yes"; } else { print "no"; }`))
	assert.Equal(t, "b", runProgram(t, `my $x = 5; if ($x < 3) { print "a"; } elsif ($x < 10) { print "b"; } else { print "c"; }`))
}

func TestLoops(t *testing.T) {
	assert.Equal(t, "0123", runProgram(t, `for (my $i = 0; $i < 4; $i++) { print $i; }`))
	assert.Equal(t, "123", runProgram(t, `foreach my $i (1..3) { print $i; }`))
	assert.Equal(t, "abc", runProgram(t, `print $_ foreach ('a', 'b', 'c');`))
	assert.Equal(t, "012", runProgram(t, `my $i = 0; while ($i < 3) { print $i; $i++; }`))
	assert.Equal(t, "1", runProgram(t, `my $i = 0; do { $i++ } while ($i < 1); print $i;`))
}

func TestLoopControl(t *testing.T) {
	assert.Equal(t, "012", runProgram(t, `foreach my $i (0..9) { last if $i > 2; print $i; }`))
	assert.Equal(t, "024", runProgram(t, `foreach my $i (0..5) { next if $i % 2; print $i; }`))
	assert.Equal(t, "0011", runProgram(t, `OUTER: foreach my $i (0..1) { foreach my $j (0..9) { next OUTER if $j > 1; print $i; } }`))
}

func TestForeachAliasesElements(t *testing.T) {
	assert.Equal(t, "246", runProgram(t, `my @a = (1, 2, 3); $_ *= 2 foreach @a; print @a;`))
}

func TestLargeRangeIteratesInConstantSpace(t *testing.T) {
	assert.Equal(t, "500000500000", runProgram(t, `my $s = 0; foreach my $i (1..1000000) { $s += $i; } print $s;`))
}

func TestArrays(t *testing.T) {
	assert.Equal(t, "3", runProgram(t, `my @a = (1, 2, 3); print scalar(@a);`))
	assert.Equal(t, "2", runProgram(t, `my @a = (1, 2, 3); print $#a;`))
	assert.Equal(t, "c", runProgram(t, `my @a = ('a', 'b', 'c'); print $a[-1];`))
	assert.Equal(t, "142", runProgram(t, `my @a = (1, 2); push @a, 4; print $a[0], pop @a, $a[1];`))
	assert.Equal(t, "135", runProgram(t, `my @a = (1, 3, 5); foreach my $x (@a) { print $x; }`))
}

func TestHashes(t *testing.T) {
	assert.Equal(t, "2", runProgram(t, `my %h = (a => 1, b => 2); print $h{b};`))
	assert.Equal(t, "1", runProgram(t, `my %h = (a => 1); print exists $h{a} ? 1 : 0;`))
	assert.Equal(t, "0", runProgram(t, `my %h = (a => 1); delete $h{a}; print scalar(keys %h);`))
	assert.Equal(t, "a-b-", runProgram(t, `my %h = (a => 1, b => 2); foreach my $k (sort keys %h) { print "$k-"; }`))
}

func TestAutovivification(t *testing.T) {
	assert.Equal(t, "deep", runProgram(t, `my %h; $h{a}{b}[0] = "deep"; print $h{a}{b}[0];`))
	assert.Equal(t, "HASH", runProgram(t, `my %h; $h{x}{y} = 1; print ref $h{x};`))
}

func TestReferences(t *testing.T) {
	assert.Equal(t, "42", runProgram(t, `my $x = 42; my $r = \$x; print $$r;`))
	assert.Equal(t, "9", runProgram(t, `my $x = 1; my $r = \$x; $$r = 9; print $x;`))
	assert.Equal(t, "2", runProgram(t, `my @a = (1, 2, 3); my $r = \@a; print $r->[1];`))
	assert.Equal(t, "v", runProgram(t, `my $r = { k => 'v' }; print $r->{k};`))
	assert.Equal(t, "ARRAY", runProgram(t, `print ref [1, 2];`))
	assert.Equal(t, "HASH", runProgram(t, `print ref {};`))
	assert.Equal(t, "3", runProgram(t, `my $r = [1, [2, 3]]; print $r->[1][1];`))
}

func TestSubroutines(t *testing.T) {
	assert.Equal(t, "7", runProgram(t, `sub add { return $_[0] + $_[1] } print add(3, 4);`))
	assert.Equal(t, "10", runProgram(t, `sub ten { 10 } print ten();`))
	assert.Equal(t, "32", runProgram(t, `my $f = sub { $_[0] * 2 }; print $f->(16);`))
	assert.Equal(t, "callerok", runProgram(t, `sub inner { print "caller", "ok" } inner();`))
}

func TestClosuresShareCells(t *testing.T) {
	assert.Equal(t, "123", runProgram(t, `
my $n = 0;
my $inc = sub { $n += 1; print $n; };
$inc->(); $inc->(); $inc->();
`))
	assert.Equal(t, "15", runProgram(t, `
sub make_counter { my $c = shift; return sub { $c += $_[0]; return $c } }
my $a = make_counter(0);
$a->(5); print $a->(10);
`))
}

func TestCompoundAssignInCapturedCell(t *testing.T) {
	// the parent must observe the mutation made through the closure
	assert.Equal(t, "5", runProgram(t, `my $x = 0; my $f = sub { $x += 5 }; $f->(); print $x;`))
}

func TestWantarray(t *testing.T) {
	src := `
sub ctx { return wantarray ? "list" : "scalar" }
my @l = ctx();
my $s = ctx();
print $l[0], "-", $s;
`
	assert.Equal(t, "list-scalar", runProgram(t, src))
}

func TestListBuiltins(t *testing.T) {
	assert.Equal(t, "1-2-3", runProgram(t, `print join "-", (1, 2, 3);`))
	assert.Equal(t, "135", runProgram(t, `print grep { $_ % 2 } (1, 2, 3, 4, 5);`))
	assert.Equal(t, "246", runProgram(t, `print map { $_ * 2 } (1, 2, 3);`))
	assert.Equal(t, "abc", runProgram(t, `print sort ('c', 'a', 'b');`))
	assert.Equal(t, "531", runProgram(t, `print sort { $b <=> $a } (1, 3, 5);`))
	assert.Equal(t, "cba", runProgram(t, `print reverse('a', 'b', 'c');`))
	assert.Equal(t, "a,b", runProgram(t, `print join ",", split(/-/, "a-b");`))
}

func TestSprintf(t *testing.T) {
	assert.Equal(t, "x=05 y=3.14", runProgram(t, `print sprintf("x=%02d y=%.2f", 5, 3.14159);`))
	assert.Equal(t, "41", runProgram(t, `print sprintf("%x", 65);`))
	assert.Equal(t, "A", runProgram(t, `print sprintf("%c", 65);`))
}

func TestStringIncrementMagic(t *testing.T) {
	assert.Equal(t, "ab", runProgram(t, `my $s = 'aa'; $s++; print $s;`))
	assert.Equal(t, "AA", runProgram(t, `my $s = 'Zz'; $s++; print substr($s, 0, 2);`))
}

func TestRegexMatch(t *testing.T) {
	assert.Equal(t, "y", runProgram(t, `print(("hello" =~ /ell/) ? 'y' : 'n');`))
	assert.Equal(t, "n", runProgram(t, `print(("hello" =~ /xyz/) ? 'y' : 'n');`))
	assert.Equal(t, "34", runProgram(t, `"ab34cd" =~ /(\d+)/; print $1;`))
	assert.Equal(t, "b-c", runProgram(t, `"abc" =~ /a(.)(.)/; print "$1-$2";`))
	assert.Equal(t, "y", runProgram(t, `print(("HELLO" =~ /hello/i) ? 'y' : 'n');`))
}

func TestRegexNamedCaptures(t *testing.T) {
	assert.Equal(t, "42", runProgram(t, `"n=42" =~ /n=(?<num>\d+)/; print $1;`))
}

func TestMatchListContext(t *testing.T) {
	// no captures, no /g: a success is (1), never the empty list
	assert.Equal(t, "1", runProgram(t, `my @r = ("abc" =~ /b/); print scalar(@r);`))
	assert.Equal(t, "a:c", runProgram(t, `my ($x, $y) = ("abc" =~ /(\w)b(\w)/); print "$x:$y";`))
}

func TestRegexGlobalMatch(t *testing.T) {
	assert.Equal(t, "3", runProgram(t, `my @all = ("a1b2c3" =~ /\d/g); print scalar(@all);`))
}

func TestSubstitution(t *testing.T) {
	assert.Equal(t, "hxllo", runProgram(t, `my $s = "hello"; $s =~ s/e/x/; print $s;`))
	assert.Equal(t, "hxllx", runProgram(t, `my $s = "hellx"; $s =~ s/e/x/g; print $s;`))
	assert.Equal(t, "aXc", runProgram(t, `my $s = "abc"; $s =~ s/b/X/; print $s;`))
	assert.Equal(t, "2", runProgram(t, `my $s = "aa"; my $n = ($s =~ s/a/b/g); print $n;`))
}

func TestSubstitutionNonDestructive(t *testing.T) {
	assert.Equal(t, "abc:xbc", runProgram(t, `my $s = "abc"; my $t = $s =~ s/a/x/r; print "$s:$t";`))
}

func TestSubstitutionCapturesInReplacement(t *testing.T) {
	assert.Equal(t, "ba", runProgram(t, `my $s = "ab"; $s =~ s/(a)(b)/$2$1/; print $s;`))
}

func TestTransliteration(t *testing.T) {
	assert.Equal(t, "HELLO", runProgram(t, `my $s = "hello"; $s =~ tr/a-z/A-Z/; print $s;`))
	assert.Equal(t, "3", runProgram(t, `my $s = "banana"; my $n = ($s =~ tr/a//); print $n;`))
	assert.Equal(t, "hello:HELLO", runProgram(t, `my $s = "hello"; my $t = ($s =~ tr/a-z/A-Z/r); print "$s:$t";`))
}

func TestDieEval(t *testing.T) {
	assert.Equal(t, "caught:boom", runProgram(t, `eval { die "boom\n" }; print "caught:$@";`))
	assert.Equal(t, "ok", runProgram(t, `eval { 1 }; print $@ eq '' ? "ok" : "bad";`))
	assert.Equal(t, "objval", runProgram(t, `eval { die { code => "objval" } }; print $@->{code};`))
}

func TestDieAppendsLocation(t *testing.T) {
	out := runProgram(t, `eval { die "oops" }; print $@;`)
	assert.True(t, strings.HasPrefix(out, "oops at "), "got %q", out)
	assert.Contains(t, out, "line 1")
}

func TestNestedEval(t *testing.T) {
	assert.Equal(t, "inner-outer", runProgram(t, `
eval {
    eval { die "x\n" };
    print "inner-";
    die "y\n";
};
print "outer";
`))
}

func TestEvalStringCompoundAssign(t *testing.T) {
	// spec scenario 1: the eval body mutates the outer cell
	assert.Equal(t, "15", runProgram(t, `my $x = 10; eval '$x += 5'; print $x;`))
}

func TestEvalStringSeesCallerLexicals(t *testing.T) {
	assert.Equal(t, "3", runProgram(t, `my $x = 1; eval '$x += 2'; print $x;`))
	assert.Equal(t, "42", runProgram(t, `my $v = 42; my $got = eval '$v'; print $got;`))
}

func TestEvalStringSyntaxErrorSetsErrVar(t *testing.T) {
	assert.Equal(t, "err", runProgram(t, `eval 'my $ ='; print $@ ? "err" : "noerr";`))
}

func TestHashAssignScalarContext(t *testing.T) {
	// spec scenario 2: scalar context returns the SOURCE element count
	assert.Equal(t, "8", runProgram(t, `my %h; my $n = (%h = (1,2,1,3,1,4,1,5)); print $n;`))
	assert.Equal(t, "2", runProgram(t, `my %h = (1,2,1,3); my @p = %h; print scalar(@p);`))
}

func TestHashDuplicateKeysLastWins(t *testing.T) {
	assert.Equal(t, "3", runProgram(t, `my %h = (1,2,1,3); print $h{1};`))
}

func TestPackUnpackThroughRuntime(t *testing.T) {
	// spec scenarios 3 and 4
	assert.Equal(t, "00000003010002000300",
		runProgram(t, `my $r = pack('N/S', 1, 2, 3); print unpack('H*', $r);`))
	assert.Equal(t, "fd", runProgram(t, `print unpack('H*', pack('C0 W', 253));`))
}

func TestRegexCommentThenQuantifier(t *testing.T) {
	// spec scenario 5
	assert.Equal(t, "y", runProgram(t, `print (('aaac' =~ /^a(?#xxx){3}c/) ? 'y' : 'n');`))
}

func TestLargeBlockAutoRefactor(t *testing.T) {
	// spec scenario 6: 10k statements compile and run under the method
	// limit when the refactorer is on
	var sb strings.Builder
	sb.WriteString("my $x = 0;\n")
	for i := 0; i < 10000; i++ {
		sb.WriteString("$x += 1;\n")
	}
	sb.WriteString("print $x;\n")
	assert.Equal(t, "10000", runProgram(t, sb.String(), WithLargeCodeRefactor(true)))
}

func TestLargeBlockFailsWithoutRefactor(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 10000; i++ {
		sb.WriteString("my $y = 1 + 2;\n")
	}
	var out bytes.Buffer
	ctx := New(WithOutput(&out), WithLargeCodeRefactor(false))
	defer ctx.Close()
	_, diags, err := ctx.CompileAndRun("big.pl", sb.String(), nil)
	require.Error(t, err)
	found := false
	for _, d := range diags.All {
		if strings.Contains(d.Message, "too large") {
			found = true
		}
	}
	assert.True(t, found, "diagnostic mentions the method size limit")
}

func TestBeginBlockRunsAtParseTime(t *testing.T) {
	assert.Equal(t, "2", runProgram(t, `my $a; BEGIN { $a = 2 } print $a;`))
}

func TestEndBlocksRunReversedAtTeardown(t *testing.T) {
	var out bytes.Buffer
	ctx := New(WithOutput(&out))
	_, _, err := ctx.CompileAndRun("t.pl", `END { print "1" } END { print "2" } print "0";`, nil)
	require.NoError(t, err)
	ctx.Close()
	assert.Equal(t, "021", out.String())
}

func TestPackagesAndMethods(t *testing.T) {
	src := `
package Counter;
sub new { my ($class, $start) = @_; my $self = { n => $start }; return bless($self, $class); }
sub incr { my $self = shift; $self->{n} += 1; return $self->{n}; }
package main;
my $c = Counter->new(5);
$c->incr;
print $c->incr;
`
	assert.Equal(t, "7", runProgram(t, src))
}

func TestInheritanceSUPER(t *testing.T) {
	src := `
package Animal;
sub new { my $class = shift; return bless { sound => "..." }, $class; }
sub speak { my $self = shift; return $self->{sound}; }
package Dog;
our @ISA = ('Animal');
sub new { my $class = shift; my $self = Animal::new($class); $self->{sound} = "woof"; return $self; }
package main;
my $d = Dog->new;
print $d->speak;
`
	assert.Equal(t, "woof", runProgram(t, src))
}

func TestLocalDynamicScope(t *testing.T) {
	src := `
our $g = "outer";
sub show { print $main::g; }
sub test { local $main::g = "inner"; show(); }
test();
show();
`
	assert.Equal(t, "innerouter", runProgram(t, src))
}

func TestSpecialVariableStability(t *testing.T) {
	// $/ assignment changes chomp behaviour: the cell is stable
	assert.Equal(t, "abc", runProgram(t, `$/ = "X"; my $s = "abcX"; chomp $s; print $s;`))
}

func TestListSeparatorInInterpolation(t *testing.T) {
	assert.Equal(t, "1,2,3", runProgram(t, `$" = ","; my @a = (1,2,3); print "@a";`))
}

func TestEachIteration(t *testing.T) {
	src := `
my %h = (a => 1);
while (my ($k, $v) = each %h) { print "$k=$v"; }
`
	assert.Equal(t, "a=1", runProgram(t, src))
}

func TestSliceAssignment(t *testing.T) {
	assert.Equal(t, "19", runProgram(t, `my @a = (1, 2, 3); @a[1, 2] = (9, 9); print $a[0], $a[1];`))
	assert.Equal(t, "xy", runProgram(t, `my %h; @h{'a', 'b'} = ('x', 'y'); print $h{a}, $h{b};`))
}

func TestChainedStringRange(t *testing.T) {
	assert.Equal(t, "abcde", runProgram(t, `print ('a'..'e');`))
}

func TestTernaryAndLogicals(t *testing.T) {
	assert.Equal(t, "d", runProgram(t, `my $x = 0; print $x ? "t" : "d";`))
	assert.Equal(t, "5", runProgram(t, `my $x = 0 || 5; print $x;`))
	assert.Equal(t, "0", runProgram(t, `my $x = 0 // 5; print $x;`))
	assert.Equal(t, "fallback", runProgram(t, `my $u; my $x = $u // "fallback"; print $x;`))
	assert.Equal(t, "1", runProgram(t, `my $x = 1 && 2 ? 1 : 0; print $x;`))
}

func TestClassFeatureEndToEnd(t *testing.T) {
	src := `
class Point {
    field $x :param :reader = 0;
    field $y :param :reader = 0;
    method move { $x = $x + 1; return $x; }
}
my $p = Point->new(x => 5, y => 2);
$p->move;
print $p->x, ",", $p->y;
`
	assert.Equal(t, "6,2", runProgram(t, src, WithFeature("class")))
}

func TestWarningsRouteThroughSigWarn(t *testing.T) {
	src := `
$SIG{__WARN__} = sub { print "W:", $_[0] };
warn "careful\n";
print "after";
`
	assert.Equal(t, "W:careful\nafter", runProgram(t, src))
}

func TestDiagnosticsFromSyntaxError(t *testing.T) {
	ctx := New()
	defer ctx.Close()
	code, diags := ctx.Compile("bad.pl", "my $x = ;\n")
	assert.Nil(t, code)
	d, bad := diags.FirstError()
	require.True(t, bad)
	assert.Equal(t, "bad.pl", d.Pos.File)
	assert.Equal(t, 1, d.Pos.Line)
}

func TestUnhandledDiePropagates(t *testing.T) {
	ctx := New()
	defer ctx.Close()
	_, _, err := ctx.CompileAndRun("t.pl", `die "fatal\n";`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fatal")
}

func TestArgvPrepopulated(t *testing.T) {
	var out bytes.Buffer
	ctx := New(WithArgs([]string{"one", "two"}), WithOutput(&out))
	defer ctx.Close()
	_, _, err := ctx.CompileAndRun("t.pl", `print scalar(@ARGV), $ARGV[0];`, nil)
	require.NoError(t, err)
	assert.Equal(t, "2one", out.String())
}

func TestEnvHash(t *testing.T) {
	var out bytes.Buffer
	ctx := New(WithEnv(map[string]string{"GPERL_TEST": "hi"}), WithOutput(&out))
	defer ctx.Close()
	_, _, err := ctx.CompileAndRun("t.pl", `print $ENV{GPERL_TEST};`, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", out.String())
}
