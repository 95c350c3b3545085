package compiler

import (
	"strings"

	"github.com/gperl-lang/gperl/core/ast"
	op "github.com/gperl-lang/gperl/core/opcode"
)

func (f *fnState) compileArgsList(args ast.Expr) (uint16, error) {
	d := f.temp()
	f.emit(op.LIST_NEW, d)
	if args == nil {
		return d, nil
	}
	if le, ok := args.(*ast.ListExpr); ok {
		for _, el := range le.Elems {
			r, err := f.compileExpr(el)
			if err != nil {
				return 0, err
			}
			f.emit(op.LIST_APPEND, d, r)
		}
		return d, nil
	}
	r, err := f.compileExpr(args)
	if err != nil {
		return 0, err
	}
	f.emit(op.LIST_APPEND, d, r)
	return d, nil
}

func (f *fnState) compileCall(x *ast.Call) (uint16, error) {
	args, err := f.compileArgsList(x.Args)
	if err != nil {
		return 0, err
	}
	var fn uint16
	if x.Code != nil {
		r, err := f.compileExpr(x.Code)
		if err != nil {
			return 0, err
		}
		fn = f.temp()
		f.emit(op.DEREF_CODE, fn, r)
	} else {
		fn = f.temp()
		name := x.Name
		if !strings.Contains(name, "::") {
			name = f.pkg + "::" + name
		}
		f.emit(op.LOAD_GLOBAL_CODE, fn, f.chunk.strIdx(name))
	}
	d := f.temp()
	f.emit(op.CALL, d, fn, args, ctxWord(x.Context()))
	return d, nil
}

func (f *fnState) compileMethodCall(x *ast.MethodCall) (uint16, error) {
	inv, err := f.compileExpr(x.Invocant)
	if err != nil {
		return 0, err
	}
	args := f.temp()
	f.emit(op.LIST_NEW, args)
	f.emit(op.LIST_PUSH, args, inv)
	if x.Args != nil {
		if le, ok := x.Args.(*ast.ListExpr); ok {
			for _, el := range le.Elems {
				r, err := f.compileExpr(el)
				if err != nil {
					return 0, err
				}
				f.emit(op.LIST_APPEND, args, r)
			}
		} else {
			r, err := f.compileExpr(x.Args)
			if err != nil {
				return 0, err
			}
			f.emit(op.LIST_APPEND, args, r)
		}
	}

	if x.Dynamic != nil {
		mref, err := f.compileExpr(x.Dynamic)
		if err != nil {
			return 0, err
		}
		fn := f.temp()
		f.emit(op.DEREF_CODE, fn, mref)
		d := f.temp()
		f.emit(op.CALL, d, fn, args, ctxWord(x.Context()))
		return d, nil
	}

	name := x.Name
	if x.Super {
		name = "SUPER::" + name
	}
	d := f.temp()
	f.emit(op.CALL_METHOD, d, f.chunk.strIdx(name), args, ctxWord(x.Context()))
	return d, nil
}

// compileSub lowers a nested sub into a child chunk and returns its index
// in this chunk's sub pool.
func (f *fnState) compileSub(x *ast.SubDef) (uint16, error) {
	pkg := x.Package
	if pkg == "" {
		pkg = f.pkg
	}
	name := x.Name
	if name == "" {
		name = "__ANON__"
	}
	child := f.c.newFn(f, pkg, pkg+"::"+name, false)

	// bind signature parameters from @_
	if len(x.Signature) > 0 {
		argv := child.temp()
		child.chunk.emit(child.curTok, op.ARG_ARRAY, argv)
		for i, p := range x.Signature {
			sigil, pname := p.Var[:1], p.Var[1:]
			v := &ast.Variable{Sigil: sigil, Name: pname}
			e := child.declareLexical(v, false)
			slot := uint16(e.slot)
			switch {
			case p.Slurpy:
				idxr := child.temp()
				child.chunk.emit(child.curTok, op.LOAD_CONST_INT, idxr, child.chunk.intIdx(int64(i)))
				args := child.temp()
				child.chunk.emit(child.curTok, op.LIST_NEW, args)
				child.chunk.emit(child.curTok, op.LIST_PUSH, args, argv)
				child.chunk.emit(child.curTok, op.LIST_PUSH, args, idxr)
				child.chunk.emit(child.curTok, op.CALL_BUILTIN, slot, child.chunk.strIdx("argslice"), args, ctxWord(ast.CtxList))
				if sigil == "%" {
					h := child.temp()
					child.chunk.emit(child.curTok, op.ANON_HASH, h, slot)
					child.chunk.emit(child.curTok, op.DEREF_HASH, slot, h, 1)
				}
			default:
				child.chunk.emit(child.curTok, op.LOAD_UNDEF, slot)
				idxr := child.temp()
				child.chunk.emit(child.curTok, op.LOAD_CONST_INT, idxr, child.chunk.intIdx(int64(i)))
				got := child.temp()
				child.chunk.emit(child.curTok, op.ARRAY_GET, got, argv, idxr, 0)
				child.chunk.emit(child.curTok, op.ASSIGN, slot, got)
				if p.Default != nil {
					skip := child.chunk.emit(child.curTok, op.GOTO_IF_DEFINED, slot, 0) + 2
					dv, err := child.compileExpr(p.Default)
					if err != nil {
						return 0, err
					}
					child.chunk.emit(child.curTok, op.ASSIGN, slot, dv)
					child.chunk.patch(skip, len(child.chunk.Code))
				}
			}
		}
	}

	if err := child.compileBody(x.Body); err != nil {
		return 0, err
	}
	f.chunk.Subs = append(f.chunk.Subs, child.chunk)
	return uint16(len(f.chunk.Subs) - 1), nil
}

func (f *fnState) compileNamedSub(x *ast.SubDef) error {
	idx, err := f.compileSub(x)
	if err != nil {
		return err
	}
	m := f.mark()
	r := f.temp()
	f.emit(op.MAKE_CLOSURE, r, idx)
	f.emit(op.STORE_GLOBAL_CODE, f.chunk.strIdx(f.qualifySub(x)), r)
	f.release(m)
	return nil
}

// compileFilehandle resolves a handle expression: a bareword glob name, a
// scalar holding a glob/ref, or nothing (the selected default).
func (f *fnState) compileFilehandle(name string, dynamic ast.Expr) (uint16, error) {
	d := f.temp()
	switch {
	case dynamic != nil:
		r, err := f.compileExpr(dynamic)
		if err != nil {
			return 0, err
		}
		return r, nil
	case name != "":
		f.emit(op.LOAD_GLOB, d, f.chunk.strIdx(qualifyHandle(name)))
	default:
		f.emit(op.LOAD_UNDEF, d)
	}
	return d, nil
}

func qualifyHandle(name string) string {
	switch name {
	case "STDIN", "STDOUT", "STDERR", "ARGV", "DATA":
		return "main::" + name
	}
	if strings.Contains(name, "::") {
		return name
	}
	return "main::" + name
}

func (f *fnState) compileMatch(x *ast.Match) (uint16, error) {
	rx, err := f.compileRegexOperand(x.Pattern, x.Mods)
	if err != nil {
		return 0, err
	}
	var target uint16
	if x.Target != nil {
		target, err = f.compileLValueCell(x.Target)
		if err != nil {
			return 0, err
		}
	} else {
		target = f.temp()
		f.emit(op.LOAD_SPECIAL, target, f.chunk.strIdx("$_"))
	}
	d := f.temp()
	if x.Negated {
		f.emit(op.MATCH_REGEX_NOT, d, rx, target)
	} else {
		f.emit(op.MATCH_REGEX, d, rx, target, ctxWord(x.Context()))
	}
	return d, nil
}

// compileRegexOperand builds the regex object register: a compiled pattern
// from an interpolated string, an existing qr value, or undef for the
// empty-pattern "reuse last successful" case.
func (f *fnState) compileRegexOperand(pattern ast.Expr, mods string) (uint16, error) {
	d := f.temp()
	if pattern == nil {
		f.emit(op.LOAD_UNDEF, d)
		f.emit(op.QR_NEW, d, d, f.chunk.strIdx(mods))
		return d, nil
	}
	r, err := f.compileExpr(pattern)
	if err != nil {
		return 0, err
	}
	f.emit(op.QR_NEW, d, r, f.chunk.strIdx(mods))
	return d, nil
}

func (f *fnState) compileSubst(x *ast.Subst) (uint16, error) {
	rx, err := f.compileRegexOperand(x.Pattern, x.Mods)
	if err != nil {
		return 0, err
	}
	var target uint16
	if x.Target != nil {
		target, err = f.compileLValueCell(x.Target)
		if err != nil {
			return 0, err
		}
	} else {
		target = f.temp()
		f.emit(op.LOAD_SPECIAL, target, f.chunk.strIdx("$_"))
	}

	// the replacement runs as a closure per match (interpolation sees the
	// capture variables of that match)
	var replSub *ast.SubDef
	if sub, ok := x.Repl.(*ast.SubDef); ok {
		replSub = sub
	} else {
		body := &ast.Block{Base: ast.At(x.Pos(), x.TokenIndex()),
			Stmts: []ast.Node{&ast.ExprStmt{Base: ast.At(x.Pos(), x.TokenIndex()), X: x.Repl}}}
		replSub = &ast.SubDef{ExprBase: x.ExprBase, Package: f.pkg, Body: body}
	}
	idx, err := f.compileSub(replSub)
	if err != nil {
		return 0, err
	}
	repl := f.temp()
	f.emit(op.MAKE_CLOSURE, repl, idx)

	d := f.temp()
	f.emit(op.REPLACE_REGEX, d, rx, target, repl, f.chunk.strIdx(x.Mods))
	return d, nil
}
