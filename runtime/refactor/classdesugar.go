package refactor

import (
	"github.com/gperl-lang/gperl/core/ast"
)

// ClassDesugar lowers every ClassDecl in the program into plain
// package/subroutine form: a generated `new` that reads named params,
// initialises fields in declaration order, chains to SUPER::new under :isa
// and runs ADJUST blocks; reader accessors; and methods with the implicit
// $self shift and field variables rewritten to $self->{field}.
func ClassDesugar(prog *ast.Program) {
	prog.Body.Stmts = desugarStmts(prog.Body.Stmts)
}

func desugarStmts(stmts []ast.Node) []ast.Node {
	var out []ast.Node
	for _, st := range stmts {
		if cd, ok := st.(*ast.ClassDecl); ok {
			out = append(out, lowerClass(cd)...)
			continue
		}
		out = append(out, st)
	}
	return out
}

func lowerClass(cd *ast.ClassDecl) []ast.Node {
	at := cd.Base
	eb := ast.ExprAt(at.P, at.Tok)
	fieldNames := make(map[string]bool, len(cd.Fields))
	for _, f := range cd.Fields {
		fieldNames[trimSigil(f.Var)] = true
	}

	var out []ast.Node
	out = append(out, &ast.PackageDecl{Base: at, Name: cd.Name})

	// our @ISA = ('Parent');
	if cd.Isa != "" {
		isa := &ast.Variable{ExprBase: eb, Sigil: "@", Name: cd.Name + "::ISA"}
		parent := &ast.Literal{ExprBase: eb, Kind: ast.LitStr, Str: cd.Isa}
		assign := &ast.BinOp{ExprBase: eb, Op: "=", Left: isa,
			Right: &ast.ListExpr{ExprBase: eb, Elems: []ast.Expr{parent}}}
		assign.Left.SetContext(ast.CtxList)
		assign.Right.SetContext(ast.CtxList)
		out = append(out, &ast.ExprStmt{Base: at, X: assign})
	}

	out = append(out, &ast.ExprStmt{Base: at, X: makeConstructor(cd, eb, fieldNames)})

	for _, f := range cd.Fields {
		if f.Reader {
			out = append(out, &ast.ExprStmt{Base: at, X: makeReader(cd, f, eb)})
		}
	}

	for _, m := range cd.Methods {
		out = append(out, &ast.ExprStmt{Base: at, X: lowerMethod(cd, m.Def, eb, fieldNames)})
	}

	out = append(out, cd.Rest...)
	return out
}

func trimSigil(v string) string {
	if len(v) > 0 && (v[0] == '$' || v[0] == '@' || v[0] == '%') {
		return v[1:]
	}
	return v
}

// helpers building the small AST idioms the generated code uses

func selfVar(eb ast.ExprBase) *ast.Variable {
	return &ast.Variable{ExprBase: eb, Sigil: "$", Name: "self"}
}

func selfField(eb ast.ExprBase, name string) *ast.HashKey {
	return &ast.HashKey{
		ExprBase: eb,
		Target:   selfVar(eb),
		Key:      &ast.Literal{ExprBase: eb, Kind: ast.LitStr, Str: name},
		Arrow:    true,
		LValue:   true,
	}
}

func scalarAssign(eb ast.ExprBase, lhs, rhs ast.Expr) ast.Node {
	lhs.SetContext(ast.CtxScalar)
	rhs.SetContext(ast.CtxScalar)
	bin := &ast.BinOp{ExprBase: eb, Op: "=", Left: lhs, Right: rhs}
	return &ast.ExprStmt{Base: ast.At(eb.P, eb.Tok), X: bin}
}

// makeConstructor generates:
//
//	sub new {
//	    my ($class, %args) = @_;
//	    my $self = $class->SUPER::new(%args);   # or bless {}, $class
//	    $self->{f} = exists $args{f} ? $args{f} : DEFAULT;  # :param
//	    $self->{g} = DEFAULT;                                # plain
//	    ... ADJUST blocks in declaration order ...
//	    return $self;
//	}
func makeConstructor(cd *ast.ClassDecl, eb ast.ExprBase, fieldNames map[string]bool) *ast.SubDef {
	classVar := &ast.Variable{ExprBase: eb, Sigil: "$", Name: "class"}
	argsVar := &ast.Variable{ExprBase: eb, Sigil: "%", Name: "args"}
	argv := &ast.Variable{ExprBase: eb, Sigil: "@", Name: "_"}

	var stmts []ast.Node

	decl := &ast.VarDecl{ExprBase: eb, Kind: ast.DeclMy,
		Targets: []ast.Expr{classVar, argsVar}, DeclRefs: []bool{false, false}}
	recv := &ast.BinOp{ExprBase: eb, Op: "=", Left: decl, Right: argv}
	recv.Right.SetContext(ast.CtxList)
	stmts = append(stmts, &ast.ExprStmt{Base: ast.At(eb.P, eb.Tok), X: recv})

	var selfInit ast.Expr
	if cd.Isa != "" {
		selfInit = &ast.MethodCall{ExprBase: eb, Invocant: classVar, Name: "new", Super: true,
			Args: &ast.ListExpr{ExprBase: eb, Elems: []ast.Expr{argsVar}}}
	} else {
		empty := &ast.AnonHash{ExprBase: eb, Elems: &ast.ListExpr{ExprBase: eb}}
		selfInit = &ast.BuiltinCall{ExprBase: eb, Name: "bless", Args: []ast.Expr{empty, classVar}}
	}
	selfDecl := &ast.VarDecl{ExprBase: eb, Kind: ast.DeclMy,
		Targets: []ast.Expr{selfVar(eb)}, DeclRefs: []bool{false}}
	stmts = append(stmts, scalarAssign(eb, selfDecl, selfInit).(*ast.ExprStmt))

	for _, f := range cd.Fields {
		name := trimSigil(f.Var)
		var value ast.Expr
		def := f.Default
		if def == nil {
			def = &ast.Literal{ExprBase: eb, Kind: ast.LitUndef}
		}
		if f.Param {
			argElem := func() ast.Expr {
				return &ast.HashKey{ExprBase: eb, Target: argsVar,
					Key: &ast.Literal{ExprBase: eb, Kind: ast.LitStr, Str: name}}
			}
			cond := &ast.BuiltinCall{ExprBase: eb, Name: "exists", Args: []ast.Expr{argElem()}}
			value = &ast.Ternary{ExprBase: eb, Cond: cond, Then: argElem(), Else: def}
		} else {
			value = def
		}
		stmts = append(stmts, scalarAssign(eb, selfField(eb, name), value))
	}

	for _, adj := range cd.Adjusts {
		lowered := rewriteFieldVars(adj, fieldNames, eb)
		stmts = append(stmts, lowered.Stmts...)
	}

	stmts = append(stmts, &ast.Return{Base: ast.At(eb.P, eb.Tok), Value: selfVar(eb)})

	return &ast.SubDef{ExprBase: eb, Name: "new", Package: cd.Name,
		Body: &ast.Block{Base: ast.At(eb.P, eb.Tok), Stmts: stmts}}
}

// makeReader generates `sub NAME { $_[0]->{NAME} }`.
func makeReader(cd *ast.ClassDecl, f *ast.FieldDecl, eb ast.ExprBase) *ast.SubDef {
	name := trimSigil(f.Var)
	arg0 := &ast.Index{ExprBase: eb,
		Target: &ast.Variable{ExprBase: eb, Sigil: "@", Name: "_"},
		Key:    &ast.Literal{ExprBase: eb, Kind: ast.LitInt, Int: 0}}
	body := &ast.HashKey{ExprBase: eb, Target: arg0,
		Key: &ast.Literal{ExprBase: eb, Kind: ast.LitStr, Str: name}, Arrow: true}
	body.SetContext(ast.CtxRuntime)
	return &ast.SubDef{ExprBase: eb, Name: name, Package: cd.Name,
		Body: &ast.Block{Base: ast.At(eb.P, eb.Tok),
			Stmts: []ast.Node{&ast.ExprStmt{Base: ast.At(eb.P, eb.Tok), X: body}}}}
}

// lowerMethod prepends `my $self = shift;` and rewrites bare field
// variables to $self->{field}.
func lowerMethod(cd *ast.ClassDecl, def *ast.SubDef, eb ast.ExprBase, fieldNames map[string]bool) *ast.SubDef {
	body := rewriteFieldVars(def.Body, fieldNames, eb)

	selfDecl := &ast.VarDecl{ExprBase: eb, Kind: ast.DeclMy,
		Targets: []ast.Expr{selfVar(eb)}, DeclRefs: []bool{false}}
	shiftArgs := &ast.BuiltinCall{ExprBase: eb, Name: "shift"}
	prologue := scalarAssign(eb, selfDecl, shiftArgs)

	newBody := &ast.Block{Base: body.Base, Stmts: append([]ast.Node{prologue}, body.Stmts...)}
	return &ast.SubDef{ExprBase: def.ExprBase, Name: def.Name, Package: cd.Name,
		Signature: def.Signature, Body: newBody, Captures: def.Captures}
}

// rewriteFieldVars replaces $field reads/writes with $self->{field} inside
// a block, without descending into nested subs (their $self is not ours).
func rewriteFieldVars(b *ast.Block, fields map[string]bool, eb ast.ExprBase) *ast.Block {
	out := &ast.Block{Base: b.Base}
	for _, st := range b.Stmts {
		out.Stmts = append(out.Stmts, rewriteNode(st, fields, eb))
	}
	return out
}

func rewriteNode(n ast.Node, fields map[string]bool, eb ast.ExprBase) ast.Node {
	switch x := n.(type) {
	case *ast.ExprStmt:
		return &ast.ExprStmt{Base: x.Base, X: rewriteExpr(x.X, fields, eb)}
	case *ast.Block:
		return rewriteFieldVars(x, fields, eb)
	case *ast.If:
		ni := &ast.If{Base: x.Base, Cond: rewriteExpr(x.Cond, fields, eb),
			Then: rewriteFieldVars(x.Then, fields, eb), Negated: x.Negated}
		for _, e := range x.Elifs {
			ni.Elifs = append(ni.Elifs, ast.ElseIf{Cond: rewriteExpr(e.Cond, fields, eb),
				Then: rewriteFieldVars(e.Then, fields, eb)})
		}
		if x.Else != nil {
			ni.Else = rewriteFieldVars(x.Else, fields, eb)
		}
		return ni
	case *ast.While:
		return &ast.While{Base: x.Base, Label: x.Label, Cond: rewriteExpr(x.Cond, fields, eb),
			Body: rewriteFieldVars(x.Body, fields, eb), Negated: x.Negated, PostCond: x.PostCond}
	case *ast.ForC:
		return &ast.ForC{Base: x.Base, Label: x.Label,
			Init: rewriteNode(x.Init, fields, eb), Cond: rewriteExpr(x.Cond, fields, eb),
			Step: rewriteExpr(x.Step, fields, eb), Body: rewriteFieldVars(x.Body, fields, eb)}
	case *ast.Foreach:
		return &ast.Foreach{Base: x.Base, Label: x.Label, Var: x.Var,
			List: rewriteExpr(x.List, fields, eb), Body: rewriteFieldVars(x.Body, fields, eb)}
	case *ast.Return:
		return &ast.Return{Base: x.Base, Value: rewriteExpr(x.Value, fields, eb)}
	default:
		return n
	}
}

func rewriteExpr(e ast.Expr, fields map[string]bool, eb ast.ExprBase) ast.Expr {
	if e == nil {
		return nil
	}
	switch x := e.(type) {
	case *ast.Variable:
		if x.Sigil == "$" && fields[x.Name] {
			fk := selfField(ast.ExprAt(x.P, x.Tok), x.Name)
			fk.SetContext(x.Context())
			return fk
		}
		return x
	case *ast.VarDecl:
		// a my that shadows a field wins; leave the decl alone
		return x
	case *ast.UnOp:
		return &ast.UnOp{ExprBase: x.ExprBase, Op: x.Op, Operand: rewriteExpr(x.Operand, fields, eb)}
	case *ast.BinOp:
		return &ast.BinOp{ExprBase: x.ExprBase, Op: x.Op,
			Left: rewriteExpr(x.Left, fields, eb), Right: rewriteExpr(x.Right, fields, eb)}
	case *ast.Ternary:
		return &ast.Ternary{ExprBase: x.ExprBase, Cond: rewriteExpr(x.Cond, fields, eb),
			Then: rewriteExpr(x.Then, fields, eb), Else: rewriteExpr(x.Else, fields, eb)}
	case *ast.ListExpr:
		nl := &ast.ListExpr{ExprBase: x.ExprBase}
		for _, el := range x.Elems {
			nl.Elems = append(nl.Elems, rewriteExpr(el, fields, eb))
		}
		return nl
	case *ast.Index:
		return &ast.Index{ExprBase: x.ExprBase, Target: rewriteExpr(x.Target, fields, eb),
			Key: rewriteExpr(x.Key, fields, eb), Arrow: x.Arrow, LValue: x.LValue}
	case *ast.HashKey:
		return &ast.HashKey{ExprBase: x.ExprBase, Target: rewriteExpr(x.Target, fields, eb),
			Key: rewriteExpr(x.Key, fields, eb), Arrow: x.Arrow, LValue: x.LValue}
	case *ast.Call:
		nc := &ast.Call{ExprBase: x.ExprBase, Name: x.Name, Ampersand: x.Ampersand}
		if x.Code != nil {
			nc.Code = rewriteExpr(x.Code, fields, eb)
		}
		if x.Args != nil {
			nc.Args = rewriteExpr(x.Args, fields, eb)
		}
		return nc
	case *ast.MethodCall:
		nm := &ast.MethodCall{ExprBase: x.ExprBase, Invocant: rewriteExpr(x.Invocant, fields, eb),
			Name: x.Name, Super: x.Super}
		if x.Dynamic != nil {
			nm.Dynamic = rewriteExpr(x.Dynamic, fields, eb)
		}
		if x.Args != nil {
			nm.Args = rewriteExpr(x.Args, fields, eb)
		}
		return nm
	case *ast.BuiltinCall:
		nb := &ast.BuiltinCall{ExprBase: x.ExprBase, Name: x.Name, Block: x.Block}
		if x.Filehandle != nil {
			nb.Filehandle = rewriteExpr(x.Filehandle, fields, eb)
		}
		for _, a := range x.Args {
			nb.Args = append(nb.Args, rewriteExpr(a, fields, eb))
		}
		return nb
	case *ast.InterpString:
		ni := &ast.InterpString{ExprBase: x.ExprBase}
		for _, part := range x.Parts {
			ni.Parts = append(ni.Parts, rewriteExpr(part, fields, eb))
		}
		return ni
	default:
		return e
	}
}
