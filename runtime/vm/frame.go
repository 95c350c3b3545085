package vm

import (
	"fmt"

	op "github.com/gperl-lang/gperl/core/opcode"
	"github.com/gperl-lang/gperl/runtime/compiler"
	"github.com/gperl-lang/gperl/runtime/values"
)

// Frame executes one chunk. Recursion happens through native frames: CALL
// runs the callee's frame to completion inside the opcode handler.
type Frame struct {
	m        *Machine
	chunk    *compiler.Chunk
	regs     []*values.Scalar
	args     *values.Array
	captures []*values.Scalar
	want     values.CallContext

	iters  []iterator
	evals  []evalMark
	locals []func()
	binds  []specialBind
}

type evalMark struct {
	catch       int
	localsDepth int
	bindsDepth  int
}

type specialBind struct {
	name string
	old  *values.Scalar
}

// where renders the " at FILE line N." suffix for the current instruction.
func (fr *Frame) where(pc int) string {
	if lp, ok := fr.chunk.LineFor(pc); ok {
		return fmt.Sprintf(" at %s line %d.", lp.File, lp.Line)
	}
	return ""
}

// RunChunk executes a chunk body in a fresh frame.
func (m *Machine) RunChunk(chunk *compiler.Chunk, args []*values.Scalar, ctx values.CallContext, captures []*values.Scalar) ([]*values.Scalar, error) {
	fr := &Frame{
		m:        m,
		chunk:    chunk,
		regs:     make([]*values.Scalar, chunk.NReg+8),
		args:     values.NewArray(),
		captures: captures,
		want:     ctx,
	}
	if args != nil {
		fr.args.AppendAliased(args)
	}

	info := CallerInfo{Package: chunk.Package, File: chunk.File, Sub: chunk.Name, HasArgs: args != nil, Wantarray: ctx}
	m.callStack = append(m.callStack, info)
	defer func() {
		m.callStack = m.callStack[:len(m.callStack)-1]
		for i := len(fr.binds) - 1; i >= 0; i-- {
			m.Globals.RestoreSpecial(fr.binds[i].name, fr.binds[i].old)
		}
		for i := len(fr.locals) - 1; i >= 0; i-- {
			fr.locals[i]()
		}
	}()

	return fr.run()
}

// MakeClosure builds the runtime code object for a sub chunk, resolving its
// capture descriptors against the constructing frame.
func (m *Machine) MakeClosure(fr *Frame, sub *compiler.Chunk) *values.Code {
	caps := make([]*values.Scalar, len(sub.Captures))
	for i, cd := range sub.Captures {
		switch cd.Src {
		case compiler.CapSlot:
			cell := fr.cell(uint16(cd.Index))
			caps[i] = cell
		case compiler.CapCapture:
			caps[i] = fr.captures[cd.Index]
		case compiler.CapPersistent:
			caps[i] = m.Globals.Persistent(cd.PName)
		}
	}
	code := &values.Code{
		Name:     sub.Name,
		Package:  sub.Package,
		Chunk:    sub,
		Captures: caps,
	}
	code.Fn = func(args []*values.Scalar, ctx values.CallContext) ([]*values.Scalar, error) {
		return m.RunChunk(sub, args, ctx, caps)
	}
	return code
}

// cell returns the live cell in a register, vivifying an undef cell so
// aliasing-by-pointer always has something to share.
func (fr *Frame) cell(r uint16) *values.Scalar {
	if fr.regs[r] == nil {
		fr.regs[r] = values.NewUndef()
	}
	return fr.regs[r]
}

func (fr *Frame) set(r uint16, v *values.Scalar) {
	fr.regs[r] = v
}

// run is the dispatch loop. Hot control ops are inlined; every other range
// delegates to its handler method with the uniform
// (op, code, pc, frame) -> new pc signature, so the loop itself stays small
// enough for the host JIT.
func (fr *Frame) run() (result []*values.Scalar, err error) {
	m := fr.m
	code := fr.chunk.Code
	pc := 0

	for pc < len(code) {
		o := op.Op(code[pc])
		opAt := pc
		pc++

		var herr error
		switch {
		case o == op.NOP:
			// nothing

		case o == op.GOTO:
			pc = int(code[pc])

		case o == op.GOTO_IF_TRUE:
			c, t := code[pc], code[pc+1]
			pc += 2
			if fr.cell(c).Bool() {
				pc = int(t)
			}

		case o == op.GOTO_IF_FALSE:
			c, t := code[pc], code[pc+1]
			pc += 2
			if !fr.cell(c).Bool() {
				pc = int(t)
			}

		case o == op.GOTO_IF_UNDEF:
			c, t := code[pc], code[pc+1]
			pc += 2
			if fr.cell(c).IsUndef() {
				pc = int(t)
			}

		case o == op.GOTO_IF_DEFINED:
			c, t := code[pc], code[pc+1]
			pc += 2
			if fr.cell(c).Defined() {
				pc = int(t)
			}

		case o == op.RETURN:
			src := code[pc]
			lst := fr.cell(src)
			if a := lst.ArrayH(); a != nil {
				return a.All(), nil
			}
			return []*values.Scalar{lst}, nil

		case o == op.MOVE:
			d, s := code[pc], code[pc+1]
			pc += 2
			fr.set(d, fr.cell(s))

		case o == op.ASSIGN:
			d, s := code[pc], code[pc+1]
			pc += 2
			if err := fr.assignScalar(fr.cell(d), fr.cell(s), opAt); err != nil {
				herr = err
			}

		case o < 100:
			pc, herr = m.handleControl(fr, o, code, pc, opAt)

		case o < 200:
			pc, herr = m.handleMove(fr, o, code, pc, opAt)

		case o < 300:
			pc, herr = m.handleType(fr, o, code, pc, opAt)

		case o < 350:
			pc, herr = m.handleNumCmp(fr, o, code, pc, opAt)

		case o < 400:
			pc, herr = m.handleStrCmp(fr, o, code, pc, opAt)

		case o < 500:
			pc, herr = m.handleArith(fr, o, code, pc, opAt)

		case o < 600:
			pc, herr = m.handleCompound(fr, o, code, pc, opAt)

		case o < 700:
			pc, herr = m.handleString(fr, o, code, pc, opAt)

		case o < 900:
			pc, herr = m.handleCollection(fr, o, code, pc, opAt)

		case o < 1200:
			pc, herr = m.handleIORegex(fr, o, code, pc, opAt)

		default:
			herr = fr.perlErrorf(opAt, "Unknown opcode %d", uint16(o))
		}

		if herr != nil {
			npc, handled := fr.unwind(herr, opAt)
			if !handled {
				return nil, herr
			}
			pc = npc
		}
	}
	return []*values.Scalar{}, nil
}

// unwind routes a Perl exception to the innermost eval boundary in this
// frame, setting $@ and restoring local() saves made inside the eval.
func (fr *Frame) unwind(err error, opAt int) (int, bool) {
	pe, ok := err.(*PerlError)
	if !ok {
		return 0, false
	}
	if h := fr.m.sigHandler("__DIE__"); h != nil && !fr.m.inDieHandler {
		fr.m.inDieHandler = true
		_, _ = h.Call([]*values.Scalar{pe.Value}, values.CallScalar)
		fr.m.inDieHandler = false
	}
	if len(fr.evals) == 0 {
		return 0, false
	}
	mark := fr.evals[len(fr.evals)-1]
	fr.evals = fr.evals[:len(fr.evals)-1]
	for len(fr.locals) > mark.localsDepth {
		fr.locals[len(fr.locals)-1]()
		fr.locals = fr.locals[:len(fr.locals)-1]
	}
	for len(fr.binds) > mark.bindsDepth {
		b := fr.binds[len(fr.binds)-1]
		fr.m.Globals.RestoreSpecial(b.name, b.old)
		fr.binds = fr.binds[:len(fr.binds)-1]
	}
	_ = fr.m.Globals.Special("$@").SetFrom(pe.Value)
	return mark.catch, true
}

// assignScalar copies a value into a cell, reporting read-only violations
// as Perl exceptions.
func (fr *Frame) assignScalar(dst, src *values.Scalar, opAt int) error {
	if err := dst.SetFrom(src); err != nil {
		return fr.perlError(opAt, err.Error())
	}
	return nil
}

func (fr *Frame) perlError(opAt int, msg string) *PerlError {
	return fr.m.NewDie([]*values.Scalar{values.NewString(msg)}, fr.where(opAt))
}

func (fr *Frame) perlErrorf(opAt int, format string, args ...interface{}) *PerlError {
	return fr.perlError(opAt, fmt.Sprintf(format, args...))
}

// listOf returns the register's value as a flat slice.
func (fr *Frame) listOf(r uint16) []*values.Scalar {
	return values.Flatten(fr.cell(r))
}

// arrayAt fetches (or derefs) the array behind a register.
func (fr *Frame) arrayAt(r uint16, opAt int) (*values.Array, error) {
	c := fr.cell(r)
	if a := c.ArrayH(); a != nil {
		return a, nil
	}
	if ref := c.Ref(); ref != nil && ref.Array != nil {
		return ref.Array, nil
	}
	return nil, fr.perlError(opAt, "Not an ARRAY reference")
}

func (fr *Frame) hashAt(r uint16, opAt int) (*values.Hash, error) {
	c := fr.cell(r)
	if h := c.HashH(); h != nil {
		return h, nil
	}
	if ref := c.Ref(); ref != nil && ref.Hash != nil {
		return ref.Hash, nil
	}
	return nil, fr.perlError(opAt, "Not a HASH reference")
}

// scalarize collapses a value to scalar context semantics.
func scalarize(v *values.Scalar) *values.Scalar {
	switch {
	case v == nil:
		return values.NewUndef()
	case v.ArrayH() != nil:
		return values.NewInt(int64(v.ArrayH().Len()))
	case v.HashH() != nil:
		h := v.HashH()
		if h.Len() == 0 {
			return values.NewInt(0)
		}
		return values.NewString(h.BucketDiag())
	default:
		return v
	}
}

// contextualize shapes a returned list per the call context.
func contextualize(vals []*values.Scalar, ctx values.CallContext) *values.Scalar {
	switch ctx {
	case values.CallList:
		arr := values.NewArray()
		arr.AppendAliased(vals)
		return values.NewArrayHandle(arr)
	default:
		if len(vals) == 0 {
			return values.NewUndef()
		}
		return scalarize(vals[len(vals)-1])
	}
}
