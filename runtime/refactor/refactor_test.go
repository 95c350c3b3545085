package refactor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gperl-lang/gperl/core/ast"
	"github.com/gperl-lang/gperl/runtime/parser"
)

func parse(t *testing.T, src string, opts ...parser.Option) *ast.Program {
	t.Helper()
	prog, diags := parser.Parse("test.pl", src, opts...)
	if d, bad := diags.FirstError(); bad {
		t.Fatalf("parse error: %s", d)
	}
	return prog
}

func TestEstimateProportional(t *testing.T) {
	small := parse(t, `my $x = 1;`)
	big := parse(t, strings.Repeat("my $x = 1 + 2 + 3;\n", 100))
	sSmall := Estimate(small)
	sBig := Estimate(big)
	assert.Greater(t, sBig, sSmall*50, "estimate grows with statement count")
}

func TestSafeDetector(t *testing.T) {
	safe := parse(t, `my $x = 1; $x += 2; print $x;`)
	assert.True(t, Safe(safe.Body))

	withReturn := parse(t, `my $x = 1; return $x;`)
	assert.False(t, Safe(withReturn.Body))

	withLast := parse(t, `last;`)
	assert.False(t, Safe(withLast.Body))

	withGoto := parse(t, `goto &foo;`)
	assert.False(t, Safe(withGoto.Body))

	// control flow inside a nested sub is already scoped
	nestedSub := parse(t, `my $f = sub { return 1 };`)
	assert.True(t, Safe(nestedSub.Body))
}

func TestLargeBlockSplit(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("my $x = 0;\n")
	for i := 0; i < 10000; i++ {
		sb.WriteString("$x += 1;\n")
	}
	sb.WriteString("print $x;\n")
	prog := parse(t, sb.String())

	before := len(prog.Body.Stmts)
	require.Greater(t, before, 10000)

	LargeBlocks(prog, DefaultOptions())

	after := len(prog.Body.Stmts)
	assert.Less(t, after, before/10, "the flat run collapses into closure calls")

	// every synthesized chunk stays under the threshold
	var checkWrapped func(b *ast.Block)
	checkWrapped = func(b *ast.Block) {
		for _, st := range b.Stmts {
			es, ok := st.(*ast.ExprStmt)
			if !ok {
				continue
			}
			call, ok := es.X.(*ast.Call)
			if !ok || call.Code == nil {
				continue
			}
			sub := call.Code.(*ast.SubDef)
			assert.LessOrEqual(t, Estimate(sub.Body), DefaultOptions().Threshold)
		}
	}
	checkWrapped(prog.Body)
}

func TestLargeBlockDisabled(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 5000; i++ {
		sb.WriteString("my $x = 1;\n")
	}
	prog := parse(t, sb.String())
	before := len(prog.Body.Stmts)
	LargeBlocks(prog, Options{Enabled: false})
	assert.Equal(t, before, len(prog.Body.Stmts))
}

func TestLargeBlockLeavesSmallAlone(t *testing.T) {
	prog := parse(t, `my $x = 1; print $x;`)
	before := len(prog.Body.Stmts)
	LargeBlocks(prog, DefaultOptions())
	assert.Equal(t, before, len(prog.Body.Stmts))
}

func TestLoopBodyWrapped(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("my $t = 0; while ($t < 1) {\n")
	for i := 0; i < 8000; i++ {
		sb.WriteString("$t += 1;\n")
	}
	sb.WriteString("}\n")
	prog := parse(t, sb.String())
	LargeBlocks(prog, DefaultOptions())

	w := prog.Body.Stmts[1].(*ast.While)
	assert.LessOrEqual(t, len(w.Body.Stmts), 8000/10, "loop body got re-expressed")
}

func TestClassDesugar(t *testing.T) {
	src := `
class Point :isa(Base) {
    field $x :param :reader = 0;
    field $y = 7;
    method move { $x = $x + 1; }
    ADJUST { $y = 1; }
}
`
	prog := parse(t, src, parser.WithFeature("class"))
	ClassDesugar(prog)

	var pkg *ast.PackageDecl
	subs := map[string]*ast.SubDef{}
	var isaAssign bool
	for _, st := range prog.Body.Stmts {
		switch x := st.(type) {
		case *ast.PackageDecl:
			pkg = x
		case *ast.ExprStmt:
			if sub, ok := x.X.(*ast.SubDef); ok {
				subs[sub.Name] = sub
			}
			if bin, ok := x.X.(*ast.BinOp); ok && bin.Op == "=" {
				if v, ok := bin.Left.(*ast.Variable); ok && strings.HasSuffix(v.Name, "::ISA") {
					isaAssign = true
				}
			}
		}
	}

	require.NotNil(t, pkg)
	assert.Equal(t, "Point", pkg.Name)
	assert.True(t, isaAssign, "@ISA assignment generated for :isa")

	require.Contains(t, subs, "new")
	require.Contains(t, subs, "x", ":reader generates an accessor")
	assert.NotContains(t, subs, "y", "no accessor without :reader")
	require.Contains(t, subs, "move")

	// the method body rewrote $x to $self->{x}
	var sawSelfField bool
	ast.Walk(subs["move"].Body, func(n ast.Node) bool {
		if hk, ok := n.(*ast.HashKey); ok {
			if v, ok := hk.Target.(*ast.Variable); ok && v.Name == "self" {
				sawSelfField = true
			}
		}
		return true
	})
	assert.True(t, sawSelfField)

	// new chains to SUPER::new under :isa
	var sawSuper bool
	ast.Walk(subs["new"].Body, func(n ast.Node) bool {
		if mc, ok := n.(*ast.MethodCall); ok && mc.Super {
			sawSuper = true
		}
		return true
	})
	assert.True(t, sawSuper)
}

func TestClassDesugarNoParent(t *testing.T) {
	src := `
class Simple {
    field $v :param;
    method get { $v }
}
`
	prog := parse(t, src, parser.WithFeature("class"))
	ClassDesugar(prog)
	var newSub *ast.SubDef
	for _, st := range prog.Body.Stmts {
		if es, ok := st.(*ast.ExprStmt); ok {
			if sub, ok := es.X.(*ast.SubDef); ok && sub.Name == "new" {
				newSub = sub
			}
		}
	}
	require.NotNil(t, newSub)
	var sawBless bool
	ast.Walk(newSub.Body, func(n ast.Node) bool {
		if bc, ok := n.(*ast.BuiltinCall); ok && bc.Name == "bless" {
			sawBless = true
		}
		return true
	})
	assert.True(t, sawBless, "no :isa means a direct bless")
}
