// Package refactor holds the AST passes that run between parse and emit:
// the class-feature desugar and the large-block refactorer that re-expresses
// oversized code as nested immediately-invoked closures so every emitted
// method stays under the host limit.
package refactor

import "github.com/gperl-lang/gperl/core/ast"

// Per-node base emission costs in bytes, tuned against the register
// backend's operand-word shapes. The estimate only has to be proportional
// and stable; the threshold carries the safety margin.
const (
	costLiteral  = 6
	costVariable = 8
	costBinOp    = 10
	costUnOp     = 8
	costCall     = 18
	costBuiltin  = 14
	costElement  = 12
	costControl  = 16
	costRegex    = 24
	costDefault  = 10
)

// Estimate predicts the emitted byte size of a node. Nested subs emit into
// their own chunks, so they count only their construction cost here.
func Estimate(n ast.Node) int {
	if n == nil {
		return 0
	}
	switch x := n.(type) {
	case *ast.Program:
		return Estimate(x.Body)
	case *ast.Block:
		total := costControl
		for _, s := range x.Stmts {
			total += Estimate(s)
		}
		return total
	case *ast.ExprStmt:
		return Estimate(x.X)
	case *ast.Literal:
		return costLiteral
	case *ast.Variable:
		return costVariable
	case *ast.InterpString:
		total := costBuiltin
		for _, part := range x.Parts {
			total += Estimate(part)
		}
		return total
	case *ast.UnOp:
		return costUnOp + Estimate(x.Operand)
	case *ast.BinOp:
		return costBinOp + Estimate(x.Left) + Estimate(x.Right)
	case *ast.Ternary:
		return costControl + Estimate(x.Cond) + Estimate(x.Then) + Estimate(x.Else)
	case *ast.ListExpr:
		total := costBuiltin
		for _, e := range x.Elems {
			total += Estimate(e)
		}
		return total
	case *ast.Index:
		return costElement + Estimate(x.Target) + Estimate(x.Key)
	case *ast.HashKey:
		return costElement + Estimate(x.Target) + Estimate(x.Key)
	case *ast.Slice:
		return costElement + Estimate(x.Target) + Estimate(x.Keys)
	case *ast.Deref:
		return costElement + Estimate(x.Ref)
	case *ast.RefGen:
		return costUnOp + Estimate(x.Operand)
	case *ast.AnonArray:
		return costBuiltin + Estimate(x.Elems)
	case *ast.AnonHash:
		return costBuiltin + Estimate(x.Elems)
	case *ast.Call:
		total := costCall
		if x.Code != nil {
			total += Estimate(x.Code)
		}
		if x.Args != nil {
			total += Estimate(x.Args)
		}
		return total
	case *ast.MethodCall:
		total := costCall + Estimate(x.Invocant)
		if x.Args != nil {
			total += Estimate(x.Args)
		}
		return total
	case *ast.BuiltinCall:
		total := costBuiltin
		if x.Filehandle != nil {
			total += Estimate(x.Filehandle)
		}
		for _, a := range x.Args {
			total += Estimate(a)
		}
		if x.Block != nil {
			total += costCall // closure construction only
		}
		return total
	case *ast.Match:
		total := costRegex
		if x.Target != nil {
			total += Estimate(x.Target)
		}
		return total
	case *ast.Subst:
		total := costRegex + costBuiltin
		if x.Target != nil {
			total += Estimate(x.Target)
		}
		return total
	case *ast.Trans:
		total := costRegex
		if x.Target != nil {
			total += Estimate(x.Target)
		}
		return total
	case *ast.VarDecl:
		total := costVariable * len(x.Targets)
		if x.Init != nil {
			total += Estimate(x.Init)
		}
		return total
	case *ast.If:
		total := costControl + Estimate(x.Cond) + Estimate(x.Then)
		for _, e := range x.Elifs {
			total += costControl + Estimate(e.Cond) + Estimate(e.Then)
		}
		if x.Else != nil {
			total += Estimate(x.Else)
		}
		return total
	case *ast.While:
		return costControl + Estimate(x.Cond) + Estimate(x.Body)
	case *ast.ForC:
		return costControl + Estimate(x.Init) + Estimate(x.Cond) + Estimate(x.Step) + Estimate(x.Body)
	case *ast.Foreach:
		return costControl + Estimate(x.Var) + Estimate(x.List) + Estimate(x.Body)
	case *ast.Return:
		return costControl + Estimate(x.Value)
	case *ast.SubDef:
		return costCall // chunk construction; the body emits elsewhere
	case *ast.LoopCtl:
		return costControl
	default:
		return costDefault
	}
}
