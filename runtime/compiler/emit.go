package compiler

import (
	"github.com/pkg/errors"

	"github.com/gperl-lang/gperl/core/ast"
	op "github.com/gperl-lang/gperl/core/opcode"
)

// target-list tags used by LIST_ASSIGN in tagged mode.
const (
	tgtScalar = 0
	tgtArray  = 1
	tgtHash   = 2
)

// LIST_ASSIGN modes.
const (
	lamTagged = 0 // targets list alternates tag, cell
	lamCells  = 1 // targets list is plain scalar cells (slice assignment)
)

// Iterator kinds for ITERATOR_CREATE.
const (
	IterList  = 0
	IterRange = 1
	IterEach  = 2
)

func (f *fnState) at(n ast.Node) int32 {
	tok := int32(n.TokenIndex())
	f.curTok = tok
	if _, ok := f.c.tokenLines[tok]; !ok {
		f.c.tokenLines[tok] = LinePos{File: n.Pos().File, Line: n.Pos().Line}
	}
	return tok
}

func (f *fnState) emit(o op.Op, operands ...uint16) int {
	return f.chunk.emit(f.curTok, o, operands...)
}

func (f *fnState) failAt(n ast.Node, format string, args ...interface{}) error {
	return errors.Errorf(format+" at %s", append(args, n.Pos())...)
}

func ctxWord(c ast.Context) uint16 { return uint16(c) }

// ---------------------------------------------------------------------------
// bodies and statements

// compileBody emits a statement list and the implicit return of the last
// expression's value.
func (f *fnState) compileBody(b *ast.Block) error {
	n := len(b.Stmts)
	for i, st := range b.Stmts {
		if i == n-1 {
			if es, ok := st.(*ast.ExprStmt); ok {
				m := f.mark()
				r, err := f.compileExpr(es.X)
				if err != nil {
					return err
				}
				lst := f.temp()
				f.emit(op.WANTLIST, lst, r)
				f.emit(op.RETURN, lst)
				f.release(m)
				return nil
			}
		}
		if err := f.compileStmt(st); err != nil {
			return err
		}
	}
	m := f.mark()
	lst := f.temp()
	f.emit(op.LIST_NEW, lst)
	f.emit(op.RETURN, lst)
	f.release(m)
	return nil
}

func (f *fnState) compileStmt(n ast.Node) error {
	f.at(n)
	m := f.mark()
	defer f.release(m)

	switch x := n.(type) {
	case *ast.ExprStmt:
		if sub, ok := x.X.(*ast.SubDef); ok && sub.Name != "" {
			return f.compileNamedSub(sub)
		}
		_, err := f.compileExpr(x.X)
		return err

	case *ast.Block:
		return f.compileBlock(x)

	case *ast.If:
		return f.compileIf(x)

	case *ast.While:
		return f.compileWhile(x)

	case *ast.ForC:
		return f.compileForC(x)

	case *ast.Foreach:
		return f.compileForeach(x)

	case *ast.Return:
		lst := f.temp()
		if x.Value != nil {
			r, err := f.compileExpr(x.Value)
			if err != nil {
				return err
			}
			f.emit(op.WANTLIST, lst, r)
		} else {
			f.emit(op.LIST_NEW, lst)
		}
		f.emit(op.RETURN, lst)
		return nil

	case *ast.LoopCtl:
		return f.compileLoopCtl(x)

	case *ast.PackageDecl:
		prev := f.pkg
		f.pkg = x.Name
		if x.Block != nil {
			err := f.compileBlock(x.Block)
			f.pkg = prev
			return err
		}
		// statement form: the package stays switched for the rest of the
		// enclosing block; compileBlock restores it when that block ends
		return nil

	case *ast.Use:
		// pragmas acted at parse time; module loading is the caller's
		return nil

	case *ast.Phase:
		switch x.Which {
		case "BEGIN":
			// already executed at parse time
			return nil
		case "END":
			idx, err := f.compileSub(x.Body)
			if err != nil {
				return err
			}
			r := f.temp()
			f.emit(op.MAKE_CLOSURE, r, idx)
			args := f.temp()
			f.emit(op.LIST_NEW, args)
			f.emit(op.LIST_PUSH, args, r)
			d := f.temp()
			f.emit(op.CALL_BUILTIN, d, f.chunk.strIdx("registerend"), args, ctxWord(ast.CtxVoid))
			return nil
		default: // CHECK/INIT/UNITCHECK run in order at top level
			idx, err := f.compileSub(x.Body)
			if err != nil {
				return err
			}
			r := f.temp()
			f.emit(op.MAKE_CLOSURE, r, idx)
			args := f.temp()
			f.emit(op.LIST_NEW, args)
			d := f.temp()
			f.emit(op.CALL, d, r, args, ctxWord(ast.CtxVoid))
			return nil
		}

	default:
		return f.failAt(n, "cannot compile statement %T", n)
	}
}

func (f *fnState) compileBlock(b *ast.Block) error {
	f.pushScope()
	f.locals = append(f.locals, 0)
	prevPkg := f.pkg
	for _, st := range b.Stmts {
		if err := f.compileStmt(st); err != nil {
			return err
		}
	}
	if n := f.locals[len(f.locals)-1]; n > 0 {
		f.emit(op.LOCAL_RESTORE, uint16(n))
	}
	f.locals = f.locals[:len(f.locals)-1]
	f.pkg = prevPkg
	f.popScope()
	return nil
}

// compileBlockValue runs a block leaving the last expression's value in dst.
func (f *fnState) compileBlockValue(b *ast.Block, dst uint16) error {
	f.pushScope()
	f.locals = append(f.locals, 0)
	f.emit(op.LOAD_UNDEF, dst)
	n := len(b.Stmts)
	for i, st := range b.Stmts {
		if i == n-1 {
			if es, ok := st.(*ast.ExprStmt); ok {
				r, err := f.compileExpr(es.X)
				if err != nil {
					return err
				}
				f.emit(op.MOVE, dst, r)
				break
			}
		}
		if err := f.compileStmt(st); err != nil {
			return err
		}
	}
	if ln := f.locals[len(f.locals)-1]; ln > 0 {
		f.emit(op.LOCAL_RESTORE, uint16(ln))
	}
	f.locals = f.locals[:len(f.locals)-1]
	f.popScope()
	return nil
}

func (f *fnState) compileIf(x *ast.If) error {
	type arm struct {
		cond ast.Expr
		body *ast.Block
		neg  bool
	}
	arms := []arm{{x.Cond, x.Then, x.Negated}}
	for _, e := range x.Elifs {
		arms = append(arms, arm{e.Cond, e.Then, false})
	}
	var endPatches []int
	for _, a := range arms {
		m := f.mark()
		c, err := f.compileExpr(a.cond)
		if err != nil {
			return err
		}
		branchOp := op.GOTO_IF_FALSE
		if a.neg {
			branchOp = op.GOTO_IF_TRUE
		}
		at := f.emit(branchOp, c, 0)
		f.release(m)
		if err := f.compileBlock(a.body); err != nil {
			return err
		}
		endPatches = append(endPatches, f.emit(op.GOTO, 0)+1)
		f.chunk.patch(at+2, len(f.chunk.Code))
	}
	if x.Else != nil {
		if err := f.compileBlock(x.Else); err != nil {
			return err
		}
	}
	for _, p := range endPatches {
		f.chunk.patch(p, len(f.chunk.Code))
	}
	return nil
}

func (f *fnState) compileWhile(x *ast.While) error {
	loop := &loopInfo{label: x.Label}
	f.loops = append(f.loops, loop)
	defer func() { f.loops = f.loops[:len(f.loops)-1] }()

	if x.PostCond {
		bodyStart := len(f.chunk.Code)
		loop.redoTarget = bodyStart
		if err := f.compileBlock(x.Body); err != nil {
			return err
		}
		condAt := len(f.chunk.Code)
		m := f.mark()
		c, err := f.compileExpr(x.Cond)
		if err != nil {
			return err
		}
		branch := op.GOTO_IF_TRUE
		if x.Negated {
			branch = op.GOTO_IF_FALSE
		}
		f.emit(branch, c, uint16(bodyStart))
		f.release(m)
		f.resolveLoop(loop, condAt, len(f.chunk.Code))
		return nil
	}

	start := len(f.chunk.Code)
	var exitPatch int = -1
	if x.Cond != nil {
		m := f.mark()
		c, err := f.compileExpr(x.Cond)
		if err != nil {
			return err
		}
		branch := op.GOTO_IF_FALSE
		if x.Negated {
			branch = op.GOTO_IF_TRUE
		}
		exitPatch = f.emit(branch, c, 0) + 2
		f.release(m)
	}
	loop.redoTarget = len(f.chunk.Code)
	if err := f.compileBlock(x.Body); err != nil {
		return err
	}
	f.emit(op.GOTO, uint16(start))
	end := len(f.chunk.Code)
	if exitPatch >= 0 {
		f.chunk.patch(exitPatch, end)
	}
	f.resolveLoop(loop, start, end)
	return nil
}

func (f *fnState) compileForC(x *ast.ForC) error {
	f.pushScope()
	defer f.popScope()
	if x.Init != nil {
		if err := f.compileStmt(x.Init); err != nil {
			return err
		}
	}
	loop := &loopInfo{label: x.Label}
	f.loops = append(f.loops, loop)
	defer func() { f.loops = f.loops[:len(f.loops)-1] }()

	start := len(f.chunk.Code)
	exitPatch := -1
	if x.Cond != nil {
		m := f.mark()
		c, err := f.compileExpr(x.Cond)
		if err != nil {
			return err
		}
		exitPatch = f.emit(op.GOTO_IF_FALSE, c, 0) + 2
		f.release(m)
	}
	loop.redoTarget = len(f.chunk.Code)
	if err := f.compileBlock(x.Body); err != nil {
		return err
	}
	stepAt := len(f.chunk.Code)
	if x.Step != nil {
		m := f.mark()
		if _, err := f.compileExpr(x.Step); err != nil {
			return err
		}
		f.release(m)
	}
	f.emit(op.GOTO, uint16(start))
	end := len(f.chunk.Code)
	if exitPatch >= 0 {
		f.chunk.patch(exitPatch, end)
	}
	f.resolveLoop(loop, stepAt, end)
	return nil
}

func (f *fnState) compileForeach(x *ast.Foreach) error {
	f.pushScope()
	defer f.popScope()

	it := f.temp()
	// a literal range iterates in O(1) space
	if rng, ok := x.List.(*ast.BinOp); ok && (rng.Op == ".." || rng.Op == "...") {
		lo, err := f.compileExpr(rng.Left)
		if err != nil {
			return err
		}
		hi, err := f.compileExpr(rng.Right)
		if err != nil {
			return err
		}
		f.emit(op.ITERATOR_CREATE, it, lo, hi, IterRange)
	} else {
		lst, err := f.compileExpr(x.List)
		if err != nil {
			return err
		}
		f.emit(op.ITERATOR_CREATE, it, lst, 0, IterList)
	}

	// loop variable: a declared/named lexical slot, or $_
	var bindSlot = -1
	useUnderscore := true
	if x.Var != nil {
		useUnderscore = false
		switch v := x.Var.(type) {
		case *ast.VarDecl:
			tv := v.Targets[0].(*ast.Variable)
			e := f.declareLexical(tv, false)
			if e.kind == entSlot {
				bindSlot = e.slot
			} else {
				bindSlot = -2 // persistent: rebind the registry cell
				f.persistentBind = e.pname
			}
		case *ast.Variable:
			e := f.resolve(v.Sigil, v.Name)
			if e != nil && e.kind == entSlot {
				bindSlot = e.slot
			} else if e != nil && e.kind == entPersistent {
				bindSlot = -2
				f.persistentBind = e.pname
			} else {
				useUnderscore = true // package var loop variable: localised $_ stand-in
			}
		}
	}

	loop := &loopInfo{label: x.Label}
	f.loops = append(f.loops, loop)
	defer func() { f.loops = f.loops[:len(f.loops)-1] }()

	start := len(f.chunk.Code)
	has := f.temp()
	f.emit(op.ITERATOR_HAS_NEXT, has, it)
	exitPatch := f.emit(op.GOTO_IF_FALSE, has, 0) + 2
	elem := f.temp()
	f.emit(op.ITERATOR_NEXT, elem, it)
	switch {
	case useUnderscore:
		f.emit(op.BIND_SPECIAL, f.chunk.strIdx("$_"), elem)
	case bindSlot == -2:
		f.emit(op.STORE_PERSISTENT, f.chunk.strIdx(f.persistentBind), elem)
	default:
		f.emit(op.MOVE, uint16(bindSlot), elem)
	}
	loop.redoTarget = len(f.chunk.Code)
	if err := f.compileBlock(x.Body); err != nil {
		return err
	}
	f.emit(op.GOTO, uint16(start))
	end := len(f.chunk.Code)
	f.chunk.patch(exitPatch, end)
	f.resolveLoop(loop, start, end)
	return nil
}

func (f *fnState) resolveLoop(loop *loopInfo, nextTarget, end int) {
	for _, p := range loop.lastPatches {
		f.chunk.patch(p, end)
	}
	for _, p := range loop.nextPatches {
		f.chunk.patch(p, nextTarget)
	}
}

func (f *fnState) compileLoopCtl(x *ast.LoopCtl) error {
	var loop *loopInfo
	for i := len(f.loops) - 1; i >= 0; i-- {
		if x.Label == "" || f.loops[i].label == x.Label {
			loop = f.loops[i]
			break
		}
	}
	if loop == nil {
		// crossing a closure boundary: resolved (or refused) at runtime
		f.emit(op.Op(loopCtlOp(x.Op)), f.chunk.strIdx(x.Label))
		return nil
	}
	switch x.Op {
	case "last":
		loop.lastPatches = append(loop.lastPatches, f.emit(op.GOTO, 0)+1)
	case "next":
		loop.nextPatches = append(loop.nextPatches, f.emit(op.GOTO, 0)+1)
	case "redo":
		f.emit(op.GOTO, uint16(loop.redoTarget))
	}
	return nil
}

func loopCtlOp(name string) op.Op {
	switch name {
	case "last":
		return op.LAST
	case "next":
		return op.NEXT
	default:
		return op.REDO
	}
}
