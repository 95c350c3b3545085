package parser

import "github.com/gperl-lang/gperl/core/ast"

// annotateProgram assigns evaluation contexts: every operator declares what
// it imposes on its operands, statements impose void, conditions impose
// scalar — and the logical operators force scalar on their condition even
// under runtime context, so the last-statement case can never see void.
func annotateProgram(prog *ast.Program) {
	annotateBlock(prog.Body, ast.CtxVoid)
}

func annotateBlock(b *ast.Block, last ast.Context) {
	for i, st := range b.Stmts {
		ctx := ast.CtxVoid
		if i == len(b.Stmts)-1 {
			ctx = last
		}
		annotateStmt(st, ctx)
	}
}

func annotateStmt(n ast.Node, ctx ast.Context) {
	switch x := n.(type) {
	case *ast.ExprStmt:
		annotateExpr(x.X, ctx)
	case *ast.Block:
		annotateBlock(x, ctx)
	case *ast.If:
		annotateExpr(x.Cond, ast.CtxScalar)
		annotateBlock(x.Then, ctx)
		for _, e := range x.Elifs {
			annotateExpr(e.Cond, ast.CtxScalar)
			annotateBlock(e.Then, ctx)
		}
		if x.Else != nil {
			annotateBlock(x.Else, ctx)
		}
	case *ast.While:
		if x.Cond != nil {
			annotateExpr(x.Cond, ast.CtxScalar)
		}
		annotateBlock(x.Body, ast.CtxVoid)
	case *ast.ForC:
		if x.Init != nil {
			annotateStmt(x.Init, ast.CtxVoid)
		}
		if x.Cond != nil {
			annotateExpr(x.Cond, ast.CtxScalar)
		}
		if x.Step != nil {
			annotateExpr(x.Step, ast.CtxVoid)
		}
		annotateBlock(x.Body, ast.CtxVoid)
	case *ast.Foreach:
		if x.Var != nil {
			annotateExpr(x.Var, ast.CtxScalar)
		}
		annotateExpr(x.List, ast.CtxList)
		annotateBlock(x.Body, ast.CtxVoid)
	case *ast.Return:
		if x.Value != nil {
			annotateExpr(x.Value, ast.CtxRuntime)
		}
	case *ast.PackageDecl:
		if x.Block != nil {
			annotateBlock(x.Block, ctx)
		}
	case *ast.Phase:
		annotateSub(x.Body)
	case *ast.ClassDecl:
		for _, f := range x.Fields {
			if f.Default != nil {
				annotateExpr(f.Default, ast.CtxScalar)
			}
		}
		for _, m := range x.Methods {
			annotateSub(m.Def)
		}
		for _, a := range x.Adjusts {
			annotateBlock(a, ast.CtxVoid)
		}
		for _, r := range x.Rest {
			annotateStmt(r, ast.CtxVoid)
		}
	}
}

func annotateSub(s *ast.SubDef) {
	for _, p := range s.Signature {
		if p.Default != nil {
			annotateExpr(p.Default, ast.CtxScalar)
		}
	}
	// the final expression of a sub inherits the caller's wantarray
	annotateBlock(s.Body, ast.CtxRuntime)
}

func annotateExpr(e ast.Expr, ctx ast.Context) {
	if e == nil {
		return
	}
	e.SetContext(ctx)
	switch x := e.(type) {
	case *ast.UnOp:
		switch x.Op {
		case "!", "not":
			// scalar even under runtime context
			annotateExpr(x.Operand, ast.CtxScalar)
		case "neg", "~", "++", "--", "++post", "--post":
			annotateExpr(x.Operand, ast.CtxScalar)
		default:
			annotateExpr(x.Operand, ast.CtxScalar)
		}

	case *ast.BinOp:
		switch x.Op {
		case "=":
			lhsCtx := lvalueContext(x.Left)
			annotateExpr(x.Left, lhsCtx)
			annotateExpr(x.Right, lhsCtx)
		case "&&", "||", "//", "and", "or", "xor":
			// the condition is ALWAYS scalar, never runtime/void
			annotateExpr(x.Left, ast.CtxScalar)
			annotateExpr(x.Right, ctx)
		case "..", "...":
			annotateExpr(x.Left, ast.CtxScalar)
			annotateExpr(x.Right, ast.CtxScalar)
		case ",":
			annotateExpr(x.Left, ctx)
			annotateExpr(x.Right, ctx)
		default:
			if len(x.Op) > 1 && x.Op[len(x.Op)-1] == '=' && x.Op != "==" && x.Op != "!=" && x.Op != "<=" && x.Op != ">=" {
				// compound assignment
				annotateExpr(x.Left, ast.CtxScalar)
				annotateExpr(x.Right, ast.CtxScalar)
			} else {
				annotateExpr(x.Left, ast.CtxScalar)
				annotateExpr(x.Right, ast.CtxScalar)
			}
		}

	case *ast.Ternary:
		annotateExpr(x.Cond, ast.CtxScalar)
		annotateExpr(x.Then, ctx)
		annotateExpr(x.Else, ctx)

	case *ast.ListExpr:
		// in scalar/void context a paren list is the comma operator and
		// each element keeps that context; list context lists stay lists
		inner := ctx
		if ctx == ast.CtxRuntime {
			inner = ast.CtxList
		}
		for _, el := range x.Elems {
			annotateExpr(el, inner)
		}

	case *ast.InterpString:
		for _, part := range x.Parts {
			annotateExpr(part, ast.CtxScalar)
		}

	case *ast.VarDecl:
		for _, t := range x.Targets {
			annotateExpr(t, ctx)
		}
		if x.Init != nil {
			annotateExpr(x.Init, ast.CtxList)
		}

	case *ast.Index:
		annotateExpr(x.Target, ast.CtxScalar)
		annotateExpr(x.Key, ast.CtxScalar)
	case *ast.HashKey:
		annotateExpr(x.Target, ast.CtxScalar)
		annotateExpr(x.Key, ast.CtxScalar)
	case *ast.Slice:
		annotateExpr(x.Target, ast.CtxList)
		annotateExpr(x.Keys, ast.CtxList)
	case *ast.Deref:
		annotateExpr(x.Ref, ast.CtxScalar)
	case *ast.RefGen:
		annotateExpr(x.Operand, ast.CtxScalar)
	case *ast.AnonArray:
		annotateExpr(x.Elems, ast.CtxList)
	case *ast.AnonHash:
		annotateExpr(x.Elems, ast.CtxList)

	case *ast.Call:
		if x.Code != nil {
			annotateExpr(x.Code, ast.CtxScalar)
		}
		if x.Args != nil {
			annotateExpr(x.Args, ast.CtxList)
		}
	case *ast.MethodCall:
		annotateExpr(x.Invocant, ast.CtxScalar)
		if x.Dynamic != nil {
			annotateExpr(x.Dynamic, ast.CtxScalar)
		}
		if x.Args != nil {
			annotateExpr(x.Args, ast.CtxList)
		}
	case *ast.BuiltinCall:
		annotateBuiltin(x, ctx)

	case *ast.Match:
		if x.Pattern != nil {
			annotateExpr(x.Pattern, ast.CtxScalar)
		}
		if x.Target != nil {
			annotateExpr(x.Target, ast.CtxScalar)
		}
	case *ast.Subst:
		if x.Pattern != nil {
			annotateExpr(x.Pattern, ast.CtxScalar)
		}
		if x.Repl != nil {
			if sub, ok := x.Repl.(*ast.SubDef); ok {
				annotateSub(sub)
			} else {
				annotateExpr(x.Repl, ast.CtxScalar)
			}
		}
		if x.Target != nil {
			annotateExpr(x.Target, ast.CtxScalar)
		}
	case *ast.Trans:
		if x.Target != nil {
			annotateExpr(x.Target, ast.CtxScalar)
		}
	case *ast.Readline:
		if x.Dynamic != nil {
			annotateExpr(x.Dynamic, ast.CtxScalar)
		}

	case *ast.SubDef:
		annotateSub(x)
	}
}

// lvalueContext: assignment to a list-ish target evaluates both sides in
// list context, scalar targets in scalar context.
func lvalueContext(lhs ast.Expr) ast.Context {
	switch x := lhs.(type) {
	case *ast.Variable:
		if x.Sigil == "@" || x.Sigil == "%" {
			return ast.CtxList
		}
		return ast.CtxScalar
	case *ast.ListExpr, *ast.Slice:
		return ast.CtxList
	case *ast.VarDecl:
		if len(x.Targets) == 1 {
			if v, ok := x.Targets[0].(*ast.Variable); ok && v.Sigil == "$" && !x.DeclRefs[0] {
				return ast.CtxScalar
			}
		}
		return ast.CtxList
	case *ast.Deref:
		if x.Sigil == "@" || x.Sigil == "%" {
			return ast.CtxList
		}
		return ast.CtxScalar
	default:
		return ast.CtxScalar
	}
}

func annotateBuiltin(x *ast.BuiltinCall, ctx ast.Context) {
	if x.Filehandle != nil {
		annotateExpr(x.Filehandle, ast.CtxScalar)
	}
	if x.Block != nil {
		annotateSub(x.Block)
	}
	argCtx := ast.CtxList
	switch x.Name {
	case "defined", "ref", "scalar", "length", "lc", "uc", "lcfirst",
		"ucfirst", "chr", "ord", "hex", "oct", "abs", "int", "sqrt", "log",
		"exp", "sin", "cos", "chomp", "chop", "quotemeta", "evalstring",
		"undef", "pos", "exists", "delete", "each", "keys", "values",
		"shift", "pop", "rand", "srand":
		argCtx = ast.CtxScalar
	}
	for _, a := range x.Args {
		annotateExpr(a, argCtx)
	}
}
