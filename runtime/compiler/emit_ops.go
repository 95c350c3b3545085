package compiler

import (
	"github.com/gperl-lang/gperl/core/ast"
	op "github.com/gperl-lang/gperl/core/opcode"
)

func (f *fnState) compileUnOp(x *ast.UnOp) (uint16, error) {
	switch x.Op {
	case "!", "not":
		r, err := f.compileExpr(x.Operand)
		if err != nil {
			return 0, err
		}
		d := f.temp()
		f.emit(op.NOT, d, r)
		return d, nil
	case "neg":
		r, err := f.compileExpr(x.Operand)
		if err != nil {
			return 0, err
		}
		d := f.temp()
		f.emit(op.NEG, d, r)
		return d, nil
	case "~":
		r, err := f.compileExpr(x.Operand)
		if err != nil {
			return 0, err
		}
		d := f.temp()
		f.emit(op.BITNOT, d, r)
		return d, nil
	case "++", "--":
		cell, err := f.compileLValueCell(x.Operand)
		if err != nil {
			return 0, err
		}
		if x.Op == "++" {
			f.emit(op.INC, cell)
		} else {
			f.emit(op.DEC, cell)
		}
		return cell, nil
	case "++post", "--post":
		cell, err := f.compileLValueCell(x.Operand)
		if err != nil {
			return 0, err
		}
		old := f.temp()
		f.emit(op.LOAD_UNDEF, old)
		f.emit(op.ASSIGN, old, cell)
		if x.Op == "++post" {
			f.emit(op.INC, cell)
		} else {
			f.emit(op.DEC, cell)
		}
		return old, nil
	default:
		return 0, f.failAt(x, "cannot compile unary %q", x.Op)
	}
}

func (f *fnState) compileBinOp(x *ast.BinOp) (uint16, error) {
	if x.Op == "=" {
		return f.compileAssign(x.Left, x.Right, x.Context())
	}
	if o, ok := compoundOps[x.Op]; ok {
		cell, err := f.compileLValueCell(x.Left)
		if err != nil {
			return 0, err
		}
		// the logical compound forms short-circuit their RHS
		switch x.Op {
		case "&&=":
			skip := f.emit(op.GOTO_IF_FALSE, cell, 0) + 2
			r, err := f.compileExpr(x.Right)
			if err != nil {
				return 0, err
			}
			f.emit(op.ASSIGN, cell, r)
			f.chunk.patch(skip, len(f.chunk.Code))
			return cell, nil
		case "||=":
			skip := f.emit(op.GOTO_IF_TRUE, cell, 0) + 2
			r, err := f.compileExpr(x.Right)
			if err != nil {
				return 0, err
			}
			f.emit(op.ASSIGN, cell, r)
			f.chunk.patch(skip, len(f.chunk.Code))
			return cell, nil
		case "//=":
			skip := f.emit(op.GOTO_IF_DEFINED, cell, 0) + 2
			r, err := f.compileExpr(x.Right)
			if err != nil {
				return 0, err
			}
			f.emit(op.ASSIGN, cell, r)
			f.chunk.patch(skip, len(f.chunk.Code))
			return cell, nil
		}
		r, err := f.compileExpr(x.Right)
		if err != nil {
			return 0, err
		}
		// mutate the cell in place so captured cells stay shared
		f.emit(o, cell, r)
		return cell, nil
	}

	switch x.Op {
	case "&&", "and":
		d := f.temp()
		l, err := f.compileExpr(x.Left)
		if err != nil {
			return 0, err
		}
		f.emit(op.MOVE, d, l)
		skip := f.emit(op.GOTO_IF_FALSE, d, 0) + 2
		r, err := f.compileExpr(x.Right)
		if err != nil {
			return 0, err
		}
		f.emit(op.MOVE, d, r)
		f.chunk.patch(skip, len(f.chunk.Code))
		return d, nil
	case "||", "or":
		d := f.temp()
		l, err := f.compileExpr(x.Left)
		if err != nil {
			return 0, err
		}
		f.emit(op.MOVE, d, l)
		skip := f.emit(op.GOTO_IF_TRUE, d, 0) + 2
		r, err := f.compileExpr(x.Right)
		if err != nil {
			return 0, err
		}
		f.emit(op.MOVE, d, r)
		f.chunk.patch(skip, len(f.chunk.Code))
		return d, nil
	case "//":
		d := f.temp()
		l, err := f.compileExpr(x.Left)
		if err != nil {
			return 0, err
		}
		f.emit(op.MOVE, d, l)
		skip := f.emit(op.GOTO_IF_DEFINED, d, 0) + 2
		r, err := f.compileExpr(x.Right)
		if err != nil {
			return 0, err
		}
		f.emit(op.MOVE, d, r)
		f.chunk.patch(skip, len(f.chunk.Code))
		return d, nil
	case "xor":
		l, err := f.compileExpr(x.Left)
		if err != nil {
			return 0, err
		}
		r, err := f.compileExpr(x.Right)
		if err != nil {
			return 0, err
		}
		lb, rb := f.temp(), f.temp()
		f.emit(op.BOOL, lb, l)
		f.emit(op.BOOL, rb, r)
		d := f.temp()
		f.emit(op.NE, d, lb, rb)
		return d, nil
	case "..", "...":
		lo, err := f.compileExpr(x.Left)
		if err != nil {
			return 0, err
		}
		hi, err := f.compileExpr(x.Right)
		if err != nil {
			return 0, err
		}
		d := f.temp()
		f.emit(op.RANGE_NEW, d, lo, hi)
		return d, nil
	case "x":
		l, err := f.compileExpr(x.Left)
		if err != nil {
			return 0, err
		}
		r, err := f.compileExpr(x.Right)
		if err != nil {
			return 0, err
		}
		d := f.temp()
		f.emit(op.REPEAT, d, l, r, ctxWord(x.Context()))
		return d, nil
	case "isa":
		l, err := f.compileExpr(x.Left)
		if err != nil {
			return 0, err
		}
		r, err := f.compileExpr(x.Right)
		if err != nil {
			return 0, err
		}
		args := f.temp()
		f.emit(op.LIST_NEW, args)
		f.emit(op.LIST_PUSH, args, l)
		f.emit(op.LIST_PUSH, args, r)
		d := f.temp()
		f.emit(op.CALL_BUILTIN, d, f.chunk.strIdx("isa"), args, ctxWord(ast.CtxScalar))
		return d, nil
	}

	if o, ok := arithOps[x.Op]; ok {
		l, err := f.compileExpr(x.Left)
		if err != nil {
			return 0, err
		}
		r, err := f.compileExpr(x.Right)
		if err != nil {
			return 0, err
		}
		d := f.temp()
		f.emit(o, d, l, r)
		return d, nil
	}
	return 0, f.failAt(x, "cannot compile operator %q", x.Op)
}

// compileAssign emits scalar or list assignment depending on the target
// shape. In scalar context a list assignment yields the SOURCE element
// count, which LIST_ASSIGN owns.
func (f *fnState) compileAssign(lhs ast.Expr, rhs ast.Expr, ctx ast.Context) (uint16, error) {
	if isListTarget(lhs) {
		return f.compileListAssign(lhs, rhs, ctx)
	}

	r, err := f.compileExpr(rhs)
	if err != nil {
		return 0, err
	}
	cell, err := f.compileLValueCell(lhs)
	if err != nil {
		return 0, err
	}
	f.emit(op.ASSIGN, cell, r)
	return cell, nil
}

func isListTarget(lhs ast.Expr) bool {
	switch x := lhs.(type) {
	case *ast.Variable:
		return x.Sigil == "@" || x.Sigil == "%"
	case *ast.ListExpr, *ast.Slice:
		return true
	case *ast.VarDecl:
		if x.Kind == ast.DeclLocal {
			return isListTarget(x.Targets[0])
		}
		if len(x.Targets) != 1 {
			return true
		}
		if v, ok := x.Targets[0].(*ast.Variable); ok {
			return v.Sigil == "@" || v.Sigil == "%"
		}
		return true
	case *ast.Deref:
		return x.Sigil == "@" || x.Sigil == "%"
	}
	return false
}

func (f *fnState) compileListAssign(lhs ast.Expr, rhs ast.Expr, ctx ast.Context) (uint16, error) {
	srcs, err := f.compileExpr(rhs)
	if err != nil {
		return 0, err
	}
	srcList := f.temp()
	f.emit(op.WANTLIST, srcList, srcs)

	targets := f.temp()
	f.emit(op.LIST_NEW, targets)
	mode := uint16(lamTagged)

	switch x := lhs.(type) {
	case *ast.Slice:
		cells, err := f.compileSlice(x, true)
		if err != nil {
			return 0, err
		}
		targets = cells
		mode = lamCells
	default:
		if err := f.pushAssignTargets(targets, lhs); err != nil {
			return 0, err
		}
	}

	d := f.temp()
	f.emit(op.LIST_ASSIGN, d, targets, srcList, mode, ctxWord(ctx))
	return d, nil
}

func (f *fnState) pushAssignTargets(targets uint16, lhs ast.Expr) error {
	pushTagged := func(tag int, reg uint16) {
		t := f.temp()
		f.emit(op.LOAD_CONST_INT, t, f.chunk.intIdx(int64(tag)))
		f.emit(op.LIST_PUSH, targets, t)
		f.emit(op.LIST_PUSH, targets, reg)
	}

	var pushOne func(t ast.Expr) error
	pushOne = func(t ast.Expr) error {
		switch v := t.(type) {
		case *ast.Variable:
			switch v.Sigil {
			case "$":
				cell, err := f.compileLValueCell(v)
				if err != nil {
					return err
				}
				pushTagged(tgtScalar, cell)
			case "@":
				arr, err := f.compileAggregate("@", v.Name, true)
				if err != nil {
					return err
				}
				pushTagged(tgtArray, arr)
			case "%":
				h, err := f.compileAggregate("%", v.Name, true)
				if err != nil {
					return err
				}
				pushTagged(tgtHash, h)
			}
			return nil
		case *ast.VarDecl:
			if _, err := f.compileVarDecl(v); err != nil {
				return err
			}
			for _, tt := range v.Targets {
				if err := pushOne(tt); err != nil {
					return err
				}
			}
			return nil
		case *ast.ListExpr:
			for _, el := range v.Elems {
				if err := pushOne(el); err != nil {
					return err
				}
			}
			return nil
		case *ast.Deref:
			r, err := f.compileExpr(v.Ref)
			if err != nil {
				return err
			}
			d := f.temp()
			switch v.Sigil {
			case "@":
				f.emit(op.DEREF_ARRAY, d, r, 1)
				pushTagged(tgtArray, d)
			case "%":
				f.emit(op.DEREF_HASH, d, r, 1)
				pushTagged(tgtHash, d)
			default:
				f.emit(op.DEREF_SCALAR, d, r, 1)
				pushTagged(tgtScalar, d)
			}
			return nil
		case *ast.Index, *ast.HashKey:
			cell, err := f.compileLValueCell(t)
			if err != nil {
				return err
			}
			pushTagged(tgtScalar, cell)
			return nil
		default:
			return f.failAt(t, "cannot assign to %T", t)
		}
	}
	return pushOne(lhs)
}
