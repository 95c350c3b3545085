package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gperl-lang/gperl/core/ast"
)

func parseOK(t *testing.T, src string, opts ...Option) *ast.Program {
	t.Helper()
	prog, diags := Parse("test.pl", src, opts...)
	if d, bad := diags.FirstError(); bad {
		t.Fatalf("unexpected parse error: %s", d)
	}
	return prog
}

func firstExpr(t *testing.T, prog *ast.Program) ast.Expr {
	t.Helper()
	require.NotEmpty(t, prog.Body.Stmts)
	st, ok := prog.Body.Stmts[0].(*ast.ExprStmt)
	require.True(t, ok, "first statement is %T", prog.Body.Stmts[0])
	return st.X
}

func TestSimpleAssignment(t *testing.T) {
	prog := parseOK(t, `my $x = 42;`)
	bin, ok := firstExpr(t, prog).(*ast.BinOp)
	require.True(t, ok)
	assert.Equal(t, "=", bin.Op)
	decl, ok := bin.Left.(*ast.VarDecl)
	require.True(t, ok)
	assert.Equal(t, ast.DeclMy, decl.Kind)
	lit, ok := bin.Right.(*ast.Literal)
	require.True(t, ok)
	assert.Equal(t, int64(42), lit.Int)
}

func TestPrecedence(t *testing.T) {
	prog := parseOK(t, `my $x = 1 + 2 * 3;`)
	bin := firstExpr(t, prog).(*ast.BinOp)
	add := bin.Right.(*ast.BinOp)
	assert.Equal(t, "+", add.Op)
	mul := add.Right.(*ast.BinOp)
	assert.Equal(t, "*", mul.Op)
}

func TestPowerRightAssociative(t *testing.T) {
	prog := parseOK(t, `my $x = 2 ** 3 ** 2;`)
	bin := firstExpr(t, prog).(*ast.BinOp)
	pow := bin.Right.(*ast.BinOp)
	assert.Equal(t, "**", pow.Op)
	inner := pow.Right.(*ast.BinOp)
	assert.Equal(t, "**", inner.Op)
}

func TestStringOpsAsIdents(t *testing.T) {
	prog := parseOK(t, `my $r = "a" eq "b";`)
	bin := firstExpr(t, prog).(*ast.BinOp)
	eq := bin.Right.(*ast.BinOp)
	assert.Equal(t, "eq", eq.Op)
}

func TestTernary(t *testing.T) {
	prog := parseOK(t, `my $x = 1 ? "y" : "n";`)
	bin := firstExpr(t, prog).(*ast.BinOp)
	_, ok := bin.Right.(*ast.Ternary)
	assert.True(t, ok)
}

func TestStatementModifier(t *testing.T) {
	prog := parseOK(t, `print "x" if $ok;`)
	iff, ok := prog.Body.Stmts[0].(*ast.If)
	require.True(t, ok)
	assert.NotNil(t, iff.Cond)
	require.Len(t, iff.Then.Stmts, 1)
}

func TestForeachLoop(t *testing.T) {
	prog := parseOK(t, `foreach my $i (1..10) { print $i; }`)
	fe, ok := prog.Body.Stmts[0].(*ast.Foreach)
	require.True(t, ok)
	require.NotNil(t, fe.Var)
	rng := fe.List.(*ast.BinOp)
	assert.Equal(t, "..", rng.Op)
}

func TestCStyleFor(t *testing.T) {
	prog := parseOK(t, `for (my $i = 0; $i < 10; $i++) { }`)
	fc, ok := prog.Body.Stmts[0].(*ast.ForC)
	require.True(t, ok)
	assert.NotNil(t, fc.Init)
	assert.NotNil(t, fc.Cond)
	assert.NotNil(t, fc.Step)
}

func TestHashElementAndSlice(t *testing.T) {
	prog := parseOK(t, `my %h; $h{alpha} = 1; my @s = @h{"a", "b"};`)
	st := prog.Body.Stmts[1].(*ast.ExprStmt)
	bin := st.X.(*ast.BinOp)
	hk, ok := bin.Left.(*ast.HashKey)
	require.True(t, ok)
	key := hk.Key.(*ast.Literal)
	assert.Equal(t, "alpha", key.Str, "bareword hash keys quote themselves")

	st2 := prog.Body.Stmts[2].(*ast.ExprStmt)
	bin2 := st2.X.(*ast.BinOp)
	sl, ok := bin2.Right.(*ast.Slice)
	require.True(t, ok)
	assert.True(t, sl.Hash)
}

func TestArrowChains(t *testing.T) {
	prog := parseOK(t, `my $v = $r->[0]{x}[1];`)
	bin := firstExpr(t, prog).(*ast.BinOp)
	ix, ok := bin.Right.(*ast.Index)
	require.True(t, ok)
	hk, ok := ix.Target.(*ast.HashKey)
	require.True(t, ok)
	_, ok = hk.Target.(*ast.Index)
	require.True(t, ok)
}

func TestAnonymousStructures(t *testing.T) {
	prog := parseOK(t, `my $r = { a => [1, 2], b => sub { 42 } };`)
	bin := firstExpr(t, prog).(*ast.BinOp)
	ah, ok := bin.Right.(*ast.AnonHash)
	require.True(t, ok)
	list := ah.Elems.(*ast.ListExpr)
	require.Len(t, list.Elems, 4)
	_, ok = list.Elems[1].(*ast.AnonArray)
	assert.True(t, ok)
	_, ok = list.Elems[3].(*ast.SubDef)
	assert.True(t, ok)
}

func TestNamedSubAndCall(t *testing.T) {
	prog := parseOK(t, `sub add { return $_[0] + $_[1] } my $s = add(1, 2);`)
	st := prog.Body.Stmts[0].(*ast.ExprStmt)
	sub := st.X.(*ast.SubDef)
	assert.Equal(t, "add", sub.Name)
	assert.Equal(t, "main", sub.Package)

	bin := prog.Body.Stmts[1].(*ast.ExprStmt).X.(*ast.BinOp)
	call := bin.Right.(*ast.Call)
	assert.Equal(t, "add", call.Name)
}

func TestMethodCall(t *testing.T) {
	prog := parseOK(t, `my $x = Foo::Bar->new(1)->run;`)
	bin := firstExpr(t, prog).(*ast.BinOp)
	run := bin.Right.(*ast.MethodCall)
	assert.Equal(t, "run", run.Name)
	inner := run.Invocant.(*ast.MethodCall)
	assert.Equal(t, "new", inner.Name)
	cls := inner.Invocant.(*ast.Literal)
	assert.Equal(t, "Foo::Bar", cls.Str)
}

func TestClosureCaptureRecorded(t *testing.T) {
	prog := parseOK(t, `my $x = 0; my $inc = sub { $x += 1 };`)
	bin := prog.Body.Stmts[1].(*ast.ExprStmt).X.(*ast.BinOp)
	sub := bin.Right.(*ast.SubDef)
	require.Len(t, sub.Captures, 1)
	assert.Equal(t, "$x", sub.Captures[0].Name)
}

func TestNestedCaptures(t *testing.T) {
	prog := parseOK(t, `my $x = 1; sub outer { sub { $x } }`)
	st := prog.Body.Stmts[1].(*ast.ExprStmt)
	outer := st.X.(*ast.SubDef)
	var inner *ast.SubDef
	ast.Walk(outer.Body, func(n ast.Node) bool {
		if s, ok := n.(*ast.SubDef); ok {
			inner = s
			return false
		}
		return true
	})
	require.NotNil(t, inner)
	require.Len(t, inner.Captures, 1)
	assert.Equal(t, "$x", inner.Captures[0].Name)
}

func TestStrictVarsError(t *testing.T) {
	_, diags := Parse("test.pl", `use strict; my $count = 1; $connt += 1;`)
	d, bad := diags.FirstError()
	require.True(t, bad)
	assert.Contains(t, d.Message, `Global symbol "$connt" requires explicit package name`)
	assert.Contains(t, d.Message, "$count", "suggestion names the nearby lexical")
}

func TestStrictVarsAllowsSpecials(t *testing.T) {
	parseOK(t, `use strict; print $_; print $1; print $@;`)
}

func TestDeclaredRefsRewrite(t *testing.T) {
	prog := parseOK(t, `my \$x = \my $y;`, WithFeature("declared_refs"))
	bin := firstExpr(t, prog).(*ast.BinOp)
	decl := bin.Left.(*ast.VarDecl)
	require.Len(t, decl.Targets, 1)
	v := decl.Targets[0].(*ast.Variable)
	assert.Equal(t, "$", v.Sigil)
	assert.True(t, decl.DeclRefs[0])
}

func TestDeclaredRefsListRewrite(t *testing.T) {
	prog := parseOK(t, `my (\@a, $b) = (\my @x, 1);`, WithFeature("declared_refs"))
	bin := firstExpr(t, prog).(*ast.BinOp)
	decl := bin.Left.(*ast.VarDecl)
	require.Len(t, decl.Targets, 2)
	a := decl.Targets[0].(*ast.Variable)
	assert.Equal(t, "$", a.Sigil, `my(\@a) declares the scalar $a`)
	assert.Equal(t, "a", a.Name)
	assert.True(t, decl.DeclRefs[0])
	assert.False(t, decl.DeclRefs[1])
}

func TestDeclaredRefsRequiresFeature(t *testing.T) {
	_, diags := Parse("test.pl", `my \$x = \1;`)
	_, bad := diags.FirstError()
	assert.True(t, bad)
}

func TestBeginRunsAtParseTime(t *testing.T) {
	var ran []string
	hooks := Hooks{RunPhase: func(which string, sub *ast.SubDef) error {
		ran = append(ran, which)
		return nil
	}}
	parseOK(t, `my $a = 1; BEGIN { $a = 2 } my $b = 3;`, WithHooks(hooks))
	assert.Equal(t, []string{"BEGIN"}, ran)
}

func TestBeginCapturePromotedToPersistent(t *testing.T) {
	var captured *ast.SubDef
	hooks := Hooks{RunPhase: func(which string, sub *ast.SubDef) error {
		captured = sub
		return nil
	}}
	p := New("test.pl", `my $a = 1; BEGIN { $a = 2 }`, WithHooks(hooks))
	p.Program()
	require.NotNil(t, captured)
	require.Len(t, captured.Captures, 1)
	assert.True(t, captured.Captures[0].Persistent)
	e := p.Scope().lookup("$a")
	require.NotNil(t, e)
	assert.NotEmpty(t, e.PersistentName())
}

func TestInterpolation(t *testing.T) {
	prog := parseOK(t, `my $x = 1; my @a = (1); my $s = "x=$x a=@a end";`)
	bin := prog.Body.Stmts[2].(*ast.ExprStmt).X.(*ast.BinOp)
	is, ok := bin.Right.(*ast.InterpString)
	require.True(t, ok)
	require.GreaterOrEqual(t, len(is.Parts), 4)
	_, ok = is.Parts[1].(*ast.Variable)
	assert.True(t, ok)
	join, ok := is.Parts[3].(*ast.BuiltinCall)
	require.True(t, ok)
	assert.Equal(t, "join", join.Name, "arrays interpolate joined with $\"")
}

func TestInterpolationElementAccess(t *testing.T) {
	prog := parseOK(t, `my %h; my $s = "v=$h{key} e";`)
	bin := prog.Body.Stmts[1].(*ast.ExprStmt).X.(*ast.BinOp)
	is := bin.Right.(*ast.InterpString)
	var found bool
	for _, part := range is.Parts {
		if _, ok := part.(*ast.HashKey); ok {
			found = true
		}
	}
	assert.True(t, found)
}

func TestHeredocParses(t *testing.T) {
	prog := parseOK(t, "my $t = <<EOF;\nhello $name\nEOF\n")
	bin := firstExpr(t, prog).(*ast.BinOp)
	_, isInterp := bin.Right.(*ast.InterpString)
	assert.True(t, isInterp)
}

func TestSubstReplacementEscapes(t *testing.T) {
	prog := parseOK(t, `my $s = "a"; $s =~ s/a/\$lit/;`)
	st := prog.Body.Stmts[1].(*ast.ExprStmt)
	sub := st.X.(*ast.Subst)
	lit, ok := sub.Repl.(*ast.Literal)
	require.True(t, ok, "escaped $ stays literal: %T", sub.Repl)
	assert.Equal(t, "$lit", lit.Str)
}

func TestSubstRWithNotBindRejected(t *testing.T) {
	_, diags := Parse("test.pl", `$x !~ s/a/b/r;`)
	d, bad := diags.FirstError()
	require.True(t, bad)
	assert.Contains(t, d.Message, "s///r")
}

func TestMatchBindsTarget(t *testing.T) {
	prog := parseOK(t, `my $ok = $line =~ /^\d+$/;`)
	bin := firstExpr(t, prog).(*ast.BinOp)
	m := bin.Right.(*ast.Match)
	require.NotNil(t, m.Target)
	assert.Equal(t, `^\d+$`, m.Raw)
}

func TestEmptyPatternKeptForReuse(t *testing.T) {
	prog := parseOK(t, `my $ok = $line =~ //;`)
	bin := firstExpr(t, prog).(*ast.BinOp)
	m := bin.Right.(*ast.Match)
	assert.Nil(t, m.Pattern, "empty pattern defers to the last successful one")
}

func TestPackageSwitch(t *testing.T) {
	prog := parseOK(t, `package Foo; sub bar { 1 } package main; my $x = 1;`)
	st := prog.Body.Stmts[1].(*ast.ExprStmt)
	sub := st.X.(*ast.SubDef)
	assert.Equal(t, "Foo", sub.Package)
}

func TestUsePragmas(t *testing.T) {
	p := New("test.pl", `use strict; use warnings; use feature 'say';`)
	p.Program()
	assert.True(t, p.strictVars)
	assert.True(t, p.features["say"])
}

func TestClassParsesAndScopesFields(t *testing.T) {
	src := `
use feature 'class';
class Point :isa(Base) {
    field $x :param :reader = 0;
    field $y :param = 0;
    method move ($dx) { $x = $x + $dx; }
    ADJUST { $y = 0; }
}
`
	prog := parseOK(t, src, WithFeature("class"))
	var cd *ast.ClassDecl
	for _, st := range prog.Body.Stmts {
		if c, ok := st.(*ast.ClassDecl); ok {
			cd = c
		}
	}
	require.NotNil(t, cd)
	assert.Equal(t, "Point", cd.Name)
	assert.Equal(t, "Base", cd.Isa)
	require.Len(t, cd.Fields, 2)
	assert.True(t, cd.Fields[0].Param)
	assert.True(t, cd.Fields[0].Reader)
	require.Len(t, cd.Methods, 1)
	require.Len(t, cd.Adjusts, 1)
}

func TestLogicalForcesScalarContext(t *testing.T) {
	prog := parseOK(t, `sub f { $a || $b }`)
	sub := prog.Body.Stmts[0].(*ast.ExprStmt).X.(*ast.SubDef)
	st := sub.Body.Stmts[0].(*ast.ExprStmt)
	orOp := st.X.(*ast.BinOp)
	assert.Equal(t, ast.CtxRuntime, orOp.Context(), "last expression runs under runtime context")
	assert.Equal(t, ast.CtxScalar, orOp.Left.Context(), "condition is forced scalar")
}

func TestListAssignContexts(t *testing.T) {
	prog := parseOK(t, `my @a; my ($x, $y) = @a;`)
	bin := prog.Body.Stmts[1].(*ast.ExprStmt).X.(*ast.BinOp)
	assert.Equal(t, ast.CtxList, bin.Right.Context())
}

func TestSortWithBlock(t *testing.T) {
	prog := parseOK(t, `my @s = sort { $a <=> $b } (3, 1, 2);`)
	bin := firstExpr(t, prog).(*ast.BinOp)
	srt := bin.Right.(*ast.BuiltinCall)
	assert.Equal(t, "sort", srt.Name)
	require.NotNil(t, srt.Block)
	require.NotEmpty(t, srt.Args)
}

func TestPrototypeRecorded(t *testing.T) {
	p := New("test.pl", `sub max ($$) { } max 1, 2;`)
	p.Program()
	assert.Equal(t, "$$", p.prototypes["main::max"])
}

func TestLabelledLoop(t *testing.T) {
	prog := parseOK(t, `OUTER: while (1) { last OUTER; }`)
	w := prog.Body.Stmts[0].(*ast.While)
	assert.Equal(t, "OUTER", w.Label)
	lc := w.Body.Stmts[0].(*ast.LoopCtl)
	assert.Equal(t, "last", lc.Op)
	assert.Equal(t, "OUTER", lc.Label)
}

func TestDoWhile(t *testing.T) {
	prog := parseOK(t, `my $i = 0; do { $i++ } while ($i < 3);`)
	w, ok := prog.Body.Stmts[1].(*ast.While)
	require.True(t, ok)
	assert.True(t, w.PostCond)
}

func TestSyntaxErrorHasPosition(t *testing.T) {
	_, diags := Parse("test.pl", "my $x = ;\n")
	d, bad := diags.FirstError()
	require.True(t, bad)
	assert.Equal(t, "test.pl", d.Pos.File)
	assert.Equal(t, 1, d.Pos.Line)
}

func TestLineDirectiveInErrors(t *testing.T) {
	_, diags := Parse("test.pl", "#line 50 \"gen.pl\"\nmy $x = ;\n")
	d, bad := diags.FirstError()
	require.True(t, bad)
	assert.Equal(t, "gen.pl", d.Pos.File)
	assert.Equal(t, 50, d.Pos.Line)
}
