package vm

import (
	"math"

	op "github.com/gperl-lang/gperl/core/opcode"
	"github.com/gperl-lang/gperl/runtime/values"
)

// handleControl covers the control range ops not inlined in the main loop.
func (m *Machine) handleControl(fr *Frame, o op.Op, code []uint16, pc, opAt int) (int, error) {
	switch o {
	case op.CALL:
		d, fn, args, ctx := code[pc], code[pc+1], code[pc+2], code[pc+3]
		pc += 4
		c := fr.cell(fn).Code()
		if !c.Defined() {
			return pc, fr.perlError(opAt, "Undefined subroutine &"+fr.cell(fn).Str()+" called")
		}
		vals, err := c.Call(fr.listOf(args), values.CallContext(resolveCtx(fr, ctx)))
		if err != nil {
			return pc, err
		}
		fr.set(d, contextualize(vals, values.CallContext(resolveCtx(fr, ctx))))
		return pc, nil

	case op.CALL_SUB:
		d, nameIdx, args, ctx := code[pc], code[pc+1], code[pc+2], code[pc+3]
		pc += 4
		name := fr.chunk.Strs[nameIdx]
		gl := m.Globals.Glob(name)
		if gl.Code == nil {
			return pc, fr.perlError(opAt, "Undefined subroutine &"+name+" called")
		}
		vals, err := gl.Code.Call(fr.listOf(args), values.CallContext(resolveCtx(fr, ctx)))
		if err != nil {
			return pc, err
		}
		fr.set(d, contextualize(vals, values.CallContext(resolveCtx(fr, ctx))))
		return pc, nil

	case op.CALL_METHOD:
		d, nameIdx, args, ctx := code[pc], code[pc+1], code[pc+2], code[pc+3]
		pc += 4
		return pc, m.callMethod(fr, d, fr.chunk.Strs[nameIdx], args, resolveCtx(fr, ctx), opAt)

	case op.CALL_BUILTIN:
		d, nameIdx, args, ctx := code[pc], code[pc+1], code[pc+2], code[pc+3]
		pc += 4
		return pc, m.callBuiltin(fr, d, fr.chunk.Strs[nameIdx], args, resolveCtx(fr, ctx), opAt)

	case op.MAKE_CLOSURE:
		d, subIdx := code[pc], code[pc+1]
		pc += 2
		c := m.MakeClosure(fr, fr.chunk.Subs[subIdx])
		fr.set(d, values.NewCodeVal(c))
		return pc, nil

	case op.EVAL_ENTER:
		catch := int(code[pc])
		pc++
		_ = m.Globals.Special("$@").SetString("")
		fr.evals = append(fr.evals, evalMark{catch: catch, localsDepth: len(fr.locals), bindsDepth: len(fr.binds)})
		return pc, nil

	case op.EVAL_LEAVE:
		if len(fr.evals) > 0 {
			fr.evals = fr.evals[:len(fr.evals)-1]
		}
		_ = m.Globals.Special("$@").SetString("")
		return pc, nil

	case op.DIE:
		src := code[pc]
		pc++
		return pc, m.NewDie(fr.listOf(src), fr.where(opAt))

	case op.WARN:
		src := code[pc]
		pc++
		var msg string
		for _, v := range fr.listOf(src) {
			msg += v.Str()
		}
		if msg == "" {
			msg = "Warning: something's wrong"
		}
		m.Warn(msg, fr.where(opAt))
		return pc, nil

	case op.LAST, op.NEXT, op.REDO:
		pc++
		return pc, fr.perlError(opAt, "Exiting subroutine via "+o.String())

	case op.ITERATOR_CREATE:
		d, a, b, kind := code[pc], code[pc+1], code[pc+2], code[pc+3]
		pc += 4
		id, err := fr.newIterator(a, b, int(kind), opAt)
		if err != nil {
			return pc, err
		}
		fr.set(d, values.NewInt(int64(id)))
		return pc, nil

	case op.ITERATOR_HAS_NEXT:
		d, it := code[pc], code[pc+1]
		pc += 2
		fr.set(d, values.NewBool(fr.iters[fr.cell(it).IntValue()].hasNext()))
		return pc, nil

	case op.ITERATOR_NEXT:
		d, it := code[pc], code[pc+1]
		pc += 2
		fr.set(d, fr.iters[fr.cell(it).IntValue()].next())
		return pc, nil

	case op.WANTARRAY:
		d := code[pc]
		pc++
		switch fr.want {
		case values.CallList:
			fr.set(d, values.NewInt(1))
		case values.CallScalar:
			fr.set(d, values.NewInt(0))
		default:
			fr.set(d, values.NewUndef())
		}
		return pc, nil

	case op.LOCAL_SAVE:
		nameIdx, kind := code[pc], code[pc+1]
		pc += 2
		m.localSave(fr, fr.chunk.Strs[nameIdx], int(kind))
		return pc, nil

	case op.LOCAL_RESTORE:
		n := int(code[pc])
		pc++
		for i := 0; i < n && len(fr.locals) > 0; i++ {
			fr.locals[len(fr.locals)-1]()
			fr.locals = fr.locals[:len(fr.locals)-1]
		}
		return pc, nil

	case op.CALLER:
		d, depth, ctx := code[pc], code[pc+1], code[pc+2]
		pc += 3
		info, ok := m.Caller(int(fr.cell(depth).IntValue()))
		if !ok {
			fr.set(d, values.NewUndef())
			return pc, nil
		}
		lst := values.NewArray()
		lst.Push(values.NewString(info.Package), values.NewString(info.File), values.NewInt(int64(info.Line)))
		if resolveCtx(fr, ctx) == uint16(values.CallList) {
			lst.Push(values.NewString(info.Sub), values.NewBool(info.HasArgs), values.NewInt(int64(info.Wantarray)))
		}
		fr.set(d, values.NewArrayHandle(lst))
		return pc, nil

	case op.LOOP_ENTER, op.LOOP_LEAVE:
		pc++
		return pc, nil
	}
	return pc, fr.perlErrorf(opAt, "unhandled control opcode %s", o)
}

// resolveCtx maps a context operand word, translating runtime context into
// the frame's wantarray.
func resolveCtx(fr *Frame, word uint16) uint16 {
	const ctxRuntime = 3
	if word != ctxRuntime {
		// ast.CtxVoid..CtxList match values.CallVoid..CallList
		return word
	}
	return uint16(fr.want)
}

func (m *Machine) localSave(fr *Frame, name string, kind int) {
	switch kind {
	case 3: // special
		cell := m.Globals.Special(name)
		saved := cell.Dup()
		fr.locals = append(fr.locals, func() { _ = cell.SetFrom(saved) })
	case 0:
		cell := m.Globals.Glob(name).ScalarCell()
		saved := cell.Dup()
		fr.locals = append(fr.locals, func() { _ = cell.SetFrom(saved) })
	case 1:
		gl := m.Globals.Glob(name)
		saved := gl.Array
		gl.Array = values.NewArray()
		fr.locals = append(fr.locals, func() { gl.Array = saved })
	case 2:
		gl := m.Globals.Glob(name)
		saved := gl.Hash
		gl.Hash = values.NewHash()
		fr.locals = append(fr.locals, func() { gl.Hash = saved })
	}
}

func (m *Machine) callMethod(fr *Frame, d uint16, name string, args uint16, ctx uint16, opAt int) error {
	argv := fr.listOf(args)
	if len(argv) == 0 {
		return fr.perlError(opAt, "Can't call method \""+name+"\" without invocant")
	}
	inv := argv[0]

	pkg := ""
	super := false
	if len(name) > 7 && name[:7] == "SUPER::" {
		super = true
		name = name[7:]
	}
	if ref := inv.Ref(); ref != nil && ref.Blessed != "" {
		pkg = ref.Blessed
	} else {
		pkg = inv.Str()
	}
	if pkg == "" {
		return fr.perlError(opAt, "Can't call method \""+name+"\" on unblessed reference")
	}

	var code *values.Code
	if super {
		for _, parent := range m.Globals.ISA(fr.chunk.Package) {
			if code = m.Globals.ResolveMethod(parent, name); code != nil {
				break
			}
		}
	} else {
		code = m.Globals.ResolveMethod(pkg, name)
	}
	if code == nil && name != "new" {
		code = m.Globals.ResolveMethod(pkg, "AUTOLOAD")
	}
	if code == nil {
		return fr.perlError(opAt, "Can't locate object method \""+name+"\" via package \""+pkg+"\"")
	}
	vals, err := code.Call(argv, values.CallContext(ctx))
	if err != nil {
		return err
	}
	fr.set(d, contextualize(vals, values.CallContext(ctx)))
	return nil
}

// handleMove covers register movement, constants, globals and specials.
func (m *Machine) handleMove(fr *Frame, o op.Op, code []uint16, pc, opAt int) (int, error) {
	strs := fr.chunk.Strs
	switch o {
	case op.LOAD_UNDEF:
		fr.set(code[pc], values.NewUndef())
		return pc + 1, nil
	case op.LOAD_IMM:
		fr.set(code[pc], values.NewInt(int64(int16(code[pc+1]))))
		return pc + 2, nil
	case op.LOAD_CONST_STR:
		fr.set(code[pc], values.NewString(strs[code[pc+1]]))
		return pc + 2, nil
	case op.LOAD_CONST_INT:
		fr.set(code[pc], values.NewInt(fr.chunk.Ints[code[pc+1]]))
		return pc + 2, nil
	case op.LOAD_CONST_NUM:
		fr.set(code[pc], values.NewFloat(fr.chunk.Nums[code[pc+1]]))
		return pc + 2, nil
	case op.LOAD_LOCAL:
		fr.set(code[pc], fr.cell(code[pc+1]))
		return pc + 2, nil
	case op.STORE_LOCAL:
		return pc + 2, fr.assignScalar(fr.cell(code[pc]), fr.cell(code[pc+1]), opAt)
	case op.LOAD_GLOBAL_SCALAR:
		fr.set(code[pc], m.Globals.Glob(strs[code[pc+1]]).ScalarCell())
		return pc + 2, nil
	case op.STORE_GLOBAL_SCALAR:
		return pc + 2, fr.assignScalar(m.Globals.Glob(strs[code[pc]]).ScalarCell(), fr.cell(code[pc+1]), opAt)
	case op.LOAD_GLOBAL_ARRAY:
		fr.set(code[pc], values.NewArrayHandle(m.Globals.Glob(strs[code[pc+1]]).ArrayCell()))
		return pc + 2, nil
	case op.STORE_GLOBAL_ARRAY:
		arr := m.Globals.Glob(strs[code[pc]]).ArrayCell()
		arr.Assign(fr.listOf(code[pc+1]))
		return pc + 2, nil
	case op.LOAD_GLOBAL_HASH:
		fr.set(code[pc], values.NewHashHandle(m.Globals.Glob(strs[code[pc+1]]).HashCell()))
		return pc + 2, nil
	case op.STORE_GLOBAL_HASH:
		h := m.Globals.Glob(strs[code[pc]]).HashCell()
		h.AssignPairs(fr.listOf(code[pc+1]))
		return pc + 2, nil
	case op.LOAD_GLOBAL_CODE:
		gl := m.Globals.Glob(strs[code[pc+1]])
		if gl.Code != nil {
			fr.set(code[pc], values.NewCodeVal(gl.Code))
		} else {
			fr.set(code[pc], values.NewString(strs[code[pc+1]]))
		}
		return pc + 2, nil
	case op.STORE_GLOBAL_CODE:
		m.Globals.Glob(strs[code[pc]]).Code = fr.cell(code[pc+1]).Code()
		return pc + 2, nil
	case op.LOAD_GLOB:
		fr.set(code[pc], values.NewGlobVal(m.Globals.Glob(strs[code[pc+1]])))
		return pc + 2, nil
	case op.LOAD_PERSISTENT:
		name := strs[code[pc+1]]
		cell := m.Globals.Persistent(name)
		fr.set(code[pc], m.persistentView(name, cell))
		return pc + 2, nil
	case op.STORE_PERSISTENT:
		m.Globals.RebindPersistent(strs[code[pc]], fr.cell(code[pc+1]))
		return pc + 2, nil
	case op.LOAD_SPECIAL:
		fr.set(code[pc], m.loadSpecial(strs[code[pc+1]]))
		return pc + 2, nil
	case op.STORE_SPECIAL:
		return pc + 2, fr.assignScalar(m.Globals.Special(strs[code[pc]]), fr.cell(code[pc+1]), opAt)
	case op.BIND_SPECIAL:
		name := strs[code[pc]]
		old := m.Globals.BindSpecial(name, fr.cell(code[pc+1]))
		fr.binds = append(fr.binds, specialBind{name: name, old: old})
		return pc + 2, nil
	case op.LOAD_CAPTURE:
		fr.set(code[pc], fr.captures[code[pc+1]])
		return pc + 2, nil
	case op.STORE_CAPTURE:
		return pc + 2, fr.assignScalar(fr.captures[code[pc]], fr.cell(code[pc+1]), opAt)
	case op.ARG_ARRAY:
		fr.set(code[pc], values.NewArrayHandle(fr.args))
		return pc + 1, nil
	}
	return pc, fr.perlErrorf(opAt, "unhandled move opcode %s", o)
}

// persistentView: aggregate lexicals registered under @/% names hand out
// handle cells; scalars hand out the cell itself.
func (m *Machine) persistentView(name string, cell *values.Scalar) *values.Scalar {
	if len(name) == 0 {
		return cell
	}
	switch name[0] {
	case '@':
		if cell.ArrayH() == nil {
			_ = cell.SetFrom(values.NewArrayHandle(values.NewArray()))
		}
		return cell
	case '%':
		if cell.HashH() == nil {
			_ = cell.SetFrom(values.NewHashHandle(values.NewHash()))
		}
		return cell
	}
	return cell
}

// loadSpecial resolves special variables, including the dynamic match
// captures ($1.., $&, $`, $').
func (m *Machine) loadSpecial(name string) *values.Scalar {
	if len(name) >= 2 && name[0] == '$' {
		rest := name[1:]
		if rest[0] >= '1' && rest[0] <= '9' {
			n := 0
			for _, c := range rest {
				n = n*10 + int(c-'0')
			}
			if m.lastMatch != nil {
				if s, ok := m.lastMatch.GroupText(m.lastMatchTarget, n); ok {
					return values.NewString(s)
				}
			}
			return values.NewUndef()
		}
		switch rest {
		case "&":
			if m.lastMatch != nil {
				return values.NewString(m.lastMatch.Mid)
			}
			return values.NewUndef()
		case "`":
			if m.lastMatch != nil {
				return values.NewString(m.lastMatch.Pre)
			}
			return values.NewUndef()
		case "'":
			if m.lastMatch != nil {
				return values.NewString(m.lastMatch.Post)
			}
			return values.NewUndef()
		}
	}
	return m.Globals.Special(name)
}

// handleType covers references, definedness and boolean shaping.
func (m *Machine) handleType(fr *Frame, o op.Op, code []uint16, pc, opAt int) (int, error) {
	switch o {
	case op.SCALAR_REF:
		fr.set(code[pc], values.NewRef(values.ScalarRef(fr.cell(code[pc+1]))))
		return pc + 2, nil
	case op.ARRAY_REF:
		arr, err := fr.arrayAt(code[pc+1], opAt)
		if err != nil {
			return pc + 2, err
		}
		fr.set(code[pc], values.NewRef(values.ArrayRef(arr)))
		return pc + 2, nil
	case op.HASH_REF:
		h, err := fr.hashAt(code[pc+1], opAt)
		if err != nil {
			return pc + 2, err
		}
		fr.set(code[pc], values.NewRef(values.HashRef(h)))
		return pc + 2, nil
	case op.CODE_REF:
		c := fr.cell(code[pc+1]).Code()
		fr.set(code[pc], values.NewRef(values.CodeRef(c)))
		return pc + 2, nil
	case op.ANON_ARRAY:
		arr := values.NewArray()
		arr.Assign(fr.listOf(code[pc+1]))
		fr.set(code[pc], values.NewRef(values.ArrayRef(arr)))
		return pc + 2, nil
	case op.ANON_HASH:
		h := values.NewHash()
		h.AssignPairs(fr.listOf(code[pc+1]))
		fr.set(code[pc], values.NewRef(values.HashRef(h)))
		return pc + 2, nil
	case op.DEREF_SCALAR:
		d, s, viv := code[pc], code[pc+1], code[pc+2]
		cell := fr.cell(s)
		if ref := cell.Ref(); ref != nil && ref.Scalar != nil {
			fr.set(d, ref.Scalar)
			return pc + 3, nil
		}
		if cell.IsUndef() && viv == 1 {
			target := values.NewUndef()
			if err := cell.SetRef(values.ScalarRef(target)); err != nil {
				return pc + 3, fr.perlError(opAt, err.Error())
			}
			fr.set(d, target)
			return pc + 3, nil
		}
		return pc + 3, fr.perlError(opAt, "Not a SCALAR reference")
	case op.DEREF_ARRAY:
		d, s, viv := code[pc], code[pc+1], code[pc+2]
		cell := fr.cell(s)
		if a := cell.ArrayH(); a != nil {
			fr.set(d, cell)
			return pc + 3, nil
		}
		if ref := cell.Ref(); ref != nil && ref.Array != nil {
			fr.set(d, values.NewArrayHandle(ref.Array))
			return pc + 3, nil
		}
		if cell.IsUndef() && viv == 1 {
			arr := values.NewArray()
			if err := cell.SetRef(values.ArrayRef(arr)); err != nil {
				return pc + 3, fr.perlError(opAt, err.Error())
			}
			fr.set(d, values.NewArrayHandle(arr))
			return pc + 3, nil
		}
		return pc + 3, fr.perlError(opAt, "Not an ARRAY reference")
	case op.DEREF_HASH:
		d, s, viv := code[pc], code[pc+1], code[pc+2]
		cell := fr.cell(s)
		if h := cell.HashH(); h != nil {
			fr.set(d, cell)
			return pc + 3, nil
		}
		if ref := cell.Ref(); ref != nil && ref.Hash != nil {
			fr.set(d, values.NewHashHandle(ref.Hash))
			return pc + 3, nil
		}
		if cell.IsUndef() && viv == 1 {
			h := values.NewHash()
			if err := cell.SetRef(values.HashRef(h)); err != nil {
				return pc + 3, fr.perlError(opAt, err.Error())
			}
			fr.set(d, values.NewHashHandle(h))
			return pc + 3, nil
		}
		return pc + 3, fr.perlError(opAt, "Not a HASH reference")
	case op.DEREF_CODE:
		d, s := code[pc], code[pc+1]
		if c := fr.cell(s).Code(); c != nil {
			fr.set(d, values.NewCodeVal(c))
			return pc + 2, nil
		}
		return pc + 2, fr.perlError(opAt, "Not a CODE reference")
	case op.REF_TYPE:
		d, s := code[pc], code[pc+1]
		if ref := fr.cell(s).Ref(); ref != nil {
			fr.set(d, values.NewString(ref.Type()))
		} else if fr.cell(s).Code() != nil {
			fr.set(d, values.NewString("CODE"))
		} else {
			fr.set(d, values.NewString(""))
		}
		return pc + 2, nil
	case op.BLESS:
		d, refR, pkgR := code[pc], code[pc+1], code[pc+2]
		ref := fr.cell(refR).Ref()
		if ref == nil {
			return pc + 3, fr.perlError(opAt, "Can't bless non-reference value")
		}
		ref.Blessed = fr.cell(pkgR).Str()
		fr.set(d, fr.cell(refR))
		return pc + 3, nil
	case op.DEFINED:
		fr.set(code[pc], values.NewBool(fr.cell(code[pc+1]).Defined()))
		return pc + 2, nil
	case op.UNDEF_CLEAR:
		cell := fr.cell(code[pc])
		if a := cell.ArrayH(); a != nil {
			a.Clear()
		} else if h := cell.HashH(); h != nil {
			h.Clear()
		} else if err := cell.SetUndef(); err != nil {
			return pc + 1, fr.perlError(opAt, err.Error())
		}
		return pc + 1, nil
	case op.WEAKEN:
		if ref := fr.cell(code[pc]).Ref(); ref != nil {
			ref.Weak = true
		}
		return pc + 1, nil
	case op.NOT:
		fr.set(code[pc], values.NewBool(!fr.cell(code[pc+1]).Bool()))
		return pc + 2, nil
	case op.BOOL:
		fr.set(code[pc], values.NewBool(fr.cell(code[pc+1]).Bool()))
		return pc + 2, nil
	case op.STRINGIFY:
		fr.set(code[pc], values.NewString(fr.stringifyOverloaded(fr.cell(code[pc+1]))))
		return pc + 2, nil
	case op.NUMIFY:
		fr.set(code[pc], values.NewFloat(fr.cell(code[pc+1]).NumValue()))
		return pc + 2, nil
	}
	return pc, fr.perlErrorf(opAt, "unhandled type opcode %s", o)
}

// stringifyOverloaded consults the blessed package's "" overload.
func (fr *Frame) stringifyOverloaded(v *values.Scalar) string {
	if ref := v.Ref(); ref != nil && ref.Blessed != "" {
		if t := fr.m.Globals.Overload(ref.Blessed); t != nil {
			if h := t.Lookup(`""`); h != nil {
				if out, err := h.Call([]*values.Scalar{v, values.NewUndef(), values.NewUndef()}, values.CallScalar); err == nil && len(out) > 0 {
					return out[len(out)-1].Str()
				}
			}
		}
	}
	return v.Str()
}

// handleNumCmp: numeric comparisons, overload-aware on blessed operands.
func (m *Machine) handleNumCmp(fr *Frame, o op.Op, code []uint16, pc, opAt int) (int, error) {
	d, a, b := code[pc], code[pc+1], code[pc+2]
	pc += 3
	av, bv := fr.numOperand(a), fr.numOperand(b)
	switch o {
	case op.EQ:
		fr.set(d, values.NewBool(av == bv))
	case op.NE:
		fr.set(d, values.NewBool(av != bv))
	case op.LT:
		fr.set(d, values.NewBool(av < bv))
	case op.LE:
		fr.set(d, values.NewBool(av <= bv))
	case op.GT:
		fr.set(d, values.NewBool(av > bv))
	case op.GE:
		fr.set(d, values.NewBool(av >= bv))
	case op.SPACESHIP:
		switch {
		case math.IsNaN(av) || math.IsNaN(bv):
			fr.set(d, values.NewUndef())
		case av < bv:
			fr.set(d, values.NewInt(-1))
		case av > bv:
			fr.set(d, values.NewInt(1))
		default:
			fr.set(d, values.NewInt(0))
		}
	default:
		return pc, fr.perlErrorf(opAt, "unhandled comparison opcode %s", o)
	}
	return pc, nil
}

// numOperand numifies with the "isn't numeric" warning and 0+ overload.
func (fr *Frame) numOperand(r uint16) float64 {
	v := fr.cell(r)
	if ref := v.Ref(); ref != nil && ref.Blessed != "" {
		if t := fr.m.Globals.Overload(ref.Blessed); t != nil {
			if h := t.Lookup("0+"); h != nil {
				if out, err := h.Call([]*values.Scalar{v, values.NewUndef(), values.NewUndef()}, values.CallScalar); err == nil && len(out) > 0 {
					return out[len(out)-1].NumValue()
				}
			}
		}
	}
	f, clean := v.Num()
	if !clean {
		fr.m.Warn("Argument \""+v.Str()+"\" isn't numeric", "")
	}
	return f
}

func (m *Machine) handleStrCmp(fr *Frame, o op.Op, code []uint16, pc, opAt int) (int, error) {
	d, a, b := code[pc], code[pc+1], code[pc+2]
	pc += 3
	as, bs := fr.stringifyOverloaded(fr.cell(a)), fr.stringifyOverloaded(fr.cell(b))
	switch o {
	case op.STR_EQ:
		fr.set(d, values.NewBool(as == bs))
	case op.STR_NE:
		fr.set(d, values.NewBool(as != bs))
	case op.STR_LT:
		fr.set(d, values.NewBool(as < bs))
	case op.STR_LE:
		fr.set(d, values.NewBool(as <= bs))
	case op.STR_GT:
		fr.set(d, values.NewBool(as > bs))
	case op.STR_GE:
		fr.set(d, values.NewBool(as >= bs))
	case op.CMP:
		switch {
		case as < bs:
			fr.set(d, values.NewInt(-1))
		case as > bs:
			fr.set(d, values.NewInt(1))
		default:
			fr.set(d, values.NewInt(0))
		}
	default:
		return pc, fr.perlErrorf(opAt, "unhandled string comparison opcode %s", o)
	}
	return pc, nil
}
