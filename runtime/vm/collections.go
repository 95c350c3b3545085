package vm

import (
	"sort"

	op "github.com/gperl-lang/gperl/core/opcode"
	"github.com/gperl-lang/gperl/runtime/values"
)

// rangeGuard caps materialised ranges; larger ones must iterate.
const rangeGuard = 1 << 26

func (m *Machine) handleCollection(fr *Frame, o op.Op, code []uint16, pc, opAt int) (int, error) {
	switch o {
	case op.LIST_NEW:
		fr.set(code[pc], values.NewArrayHandle(values.NewArray()))
		return pc + 1, nil

	case op.LIST_PUSH:
		lst, _ := fr.arrayAt(code[pc], opAt)
		lst.Push(fr.cell(code[pc+1]))
		return pc + 2, nil

	case op.LIST_APPEND:
		lst, _ := fr.arrayAt(code[pc], opAt)
		lst.AppendAliased(values.Flatten(fr.cell(code[pc+1])))
		return pc + 2, nil

	case op.ARRAY_NEW:
		fr.set(code[pc], values.NewArrayHandle(values.NewArray()))
		return pc + 1, nil

	case op.HASH_NEW:
		fr.set(code[pc], values.NewHashHandle(values.NewHash()))
		return pc + 1, nil

	case op.PUSH, op.UNSHIFT:
		d, arrR, lstR := code[pc], code[pc+1], code[pc+2]
		pc += 3
		arr, err := fr.arrayAt(arrR, opAt)
		if err != nil {
			return pc, err
		}
		vals := fr.listOf(lstR)
		copies := make([]*values.Scalar, len(vals))
		for i, v := range vals {
			copies[i] = v.Dup()
		}
		if o == op.PUSH {
			arr.Push(copies...)
		} else {
			arr.Unshift(copies...)
		}
		fr.set(d, values.NewInt(int64(arr.Len())))
		return pc, nil

	case op.POP, op.SHIFT:
		d, arrR := code[pc], code[pc+1]
		pc += 2
		arr, err := fr.arrayAt(arrR, opAt)
		if err != nil {
			return pc, err
		}
		if o == op.POP {
			fr.set(d, arr.Pop())
		} else {
			fr.set(d, arr.Shift())
		}
		return pc, nil

	case op.SPLICE:
		d, arrR, offR, lenR, lstR, ctx := code[pc], code[pc+1], code[pc+2], code[pc+3], code[pc+4], code[pc+5]
		pc += 6
		arr, err := fr.arrayAt(arrR, opAt)
		if err != nil {
			return pc, err
		}
		off := int(fr.cell(offR).IntValue())
		length := int(fr.cell(lenR).IntValue())
		repl := fr.listOf(lstR)
		copies := make([]*values.Scalar, len(repl))
		for i, v := range repl {
			copies[i] = v.Dup()
		}
		removed := arr.Splice(off, length, copies)
		if resolveCtx(fr, ctx) == uint16(values.CallList) {
			out := values.NewArray()
			out.AppendAliased(removed)
			fr.set(d, values.NewArrayHandle(out))
		} else if len(removed) > 0 {
			fr.set(d, removed[len(removed)-1])
		} else {
			fr.set(d, values.NewUndef())
		}
		return pc, nil

	case op.ARRAY_GET:
		d, arrR, idxR, viv := code[pc], code[pc+1], code[pc+2], code[pc+3]
		pc += 4
		arr, err := fr.arrayAt(arrR, opAt)
		if err != nil {
			return pc, err
		}
		if tied := arr.Tied(); tied != nil {
			return pc, m.tiedFetch(fr, d, tied, fr.cell(idxR), opAt)
		}
		idx := int(fr.cell(idxR).IntValue())
		if viv == 1 {
			fr.set(d, arr.LV(idx))
		} else {
			fr.set(d, arr.Get(idx))
		}
		return pc, nil

	case op.ARRAY_SET:
		arrR, idxR, srcR := code[pc], code[pc+1], code[pc+2]
		pc += 3
		arr, err := fr.arrayAt(arrR, opAt)
		if err != nil {
			return pc, err
		}
		arr.Set(int(fr.cell(idxR).IntValue()), fr.cell(srcR))
		return pc, nil

	case op.ARRAY_LEN:
		d, arrR := code[pc], code[pc+1]
		pc += 2
		arr, err := fr.arrayAt(arrR, opAt)
		if err != nil {
			return pc, err
		}
		fr.set(d, values.NewInt(int64(arr.LastIndex())))
		return pc, nil

	case op.ARRAY_SETSIZE:
		arrR, nR := code[pc], code[pc+1]
		pc += 2
		arr, err := fr.arrayAt(arrR, opAt)
		if err != nil {
			return pc, err
		}
		arr.SetSize(int(fr.cell(nR).IntValue()))
		return pc, nil

	case op.HASH_GET:
		d, hR, kR, viv := code[pc], code[pc+1], code[pc+2], code[pc+3]
		pc += 4
		h, err := fr.hashAt(hR, opAt)
		if err != nil {
			return pc, err
		}
		if tied := h.Tied(); tied != nil {
			return pc, m.tiedFetch(fr, d, tied, fr.cell(kR), opAt)
		}
		k := fr.cell(kR).Str()
		if viv == 1 {
			fr.set(d, h.LV(k))
		} else {
			fr.set(d, h.Get(k))
		}
		return pc, nil

	case op.HASH_SET:
		hR, kR, srcR := code[pc], code[pc+1], code[pc+2]
		pc += 3
		h, err := fr.hashAt(hR, opAt)
		if err != nil {
			return pc, err
		}
		h.Set(fr.cell(kR).Str(), fr.cell(srcR))
		return pc, nil

	case op.EXISTS:
		d, contR, kR := code[pc], code[pc+1], code[pc+2]
		pc += 3
		cont := fr.cell(contR)
		if h := cont.HashH(); h != nil {
			fr.set(d, values.NewBool(h.Exists(fr.cell(kR).Str())))
		} else if a := cont.ArrayH(); a != nil {
			fr.set(d, values.NewBool(a.Exists(int(fr.cell(kR).IntValue()))))
		} else {
			fr.set(d, values.NewBool(false))
		}
		return pc, nil

	case op.DELETE:
		d, contR, kR, _ := code[pc], code[pc+1], code[pc+2], code[pc+3]
		pc += 4
		cont := fr.cell(contR)
		if h := cont.HashH(); h != nil {
			fr.set(d, h.Delete(fr.cell(kR).Str()))
		} else if a := cont.ArrayH(); a != nil {
			fr.set(d, a.Delete(int(fr.cell(kR).IntValue())))
		} else {
			fr.set(d, values.NewUndef())
		}
		return pc, nil

	case op.KEYS:
		d, hR, ctx := code[pc], code[pc+1], code[pc+2]
		pc += 3
		cont := fr.cell(hR)
		var keys []*values.Scalar
		if h := cont.HashH(); h != nil {
			for _, k := range h.Keys() {
				keys = append(keys, values.NewString(k))
			}
		} else if a := cont.ArrayH(); a != nil {
			for i := 0; i < a.Len(); i++ {
				keys = append(keys, values.NewInt(int64(i)))
			}
		}
		if resolveCtx(fr, ctx) == uint16(values.CallScalar) {
			fr.set(d, values.NewInt(int64(len(keys))))
			return pc, nil
		}
		out := values.NewArray()
		out.AppendAliased(keys)
		fr.set(d, values.NewArrayHandle(out))
		return pc, nil

	case op.VALUES:
		d, hR := code[pc], code[pc+1]
		pc += 2
		cont := fr.cell(hR)
		out := values.NewArray()
		if h := cont.HashH(); h != nil {
			out.AppendAliased(h.Values())
		} else if a := cont.ArrayH(); a != nil {
			out.AppendAliased(a.All())
		}
		fr.set(d, values.NewArrayHandle(out))
		return pc, nil

	case op.EACH:
		d, hR := code[pc], code[pc+1]
		pc += 2
		h, err := fr.hashAt(hR, opAt)
		if err != nil {
			return pc, err
		}
		k, v, ok := h.Each()
		out := values.NewArray()
		if ok {
			out.Push(values.NewString(k), v)
		}
		fr.set(d, values.NewArrayHandle(out))
		return pc, nil

	case op.SLICE:
		d, contR, keysR, flags := code[pc], code[pc+1], code[pc+2], code[pc+3]
		pc += 4
		keys := fr.listOf(keysR)
		viv := flags&4 != 0
		out := values.NewArray()
		if flags&1 != 0 {
			h, err := fr.hashAt(contR, opAt)
			if err != nil {
				return pc, err
			}
			for _, k := range keys {
				ks := k.Str()
				if flags&2 != 0 { // kv slice
					if h.Exists(ks) {
						out.Push(values.NewString(ks), h.Get(ks))
					}
					continue
				}
				if viv {
					out.Push(h.LV(ks))
				} else {
					out.Push(h.Get(ks))
				}
			}
		} else {
			a, err := fr.arrayAt(contR, opAt)
			if err != nil {
				return pc, err
			}
			for _, k := range keys {
				i := int(k.IntValue())
				if viv {
					out.Push(a.LV(i))
				} else {
					out.Push(a.Get(i))
				}
			}
		}
		fr.set(d, values.NewArrayHandle(out))
		return pc, nil

	case op.LIST_ASSIGN:
		return m.listAssign(fr, code, pc, opAt)

	case op.SORT_OP, op.GREP_OP, op.MAP_OP:
		return m.listFuncs(fr, o, code, pc, opAt)

	case op.REVERSE_LIST:
		d, lstR := code[pc], code[pc+1]
		pc += 2
		src := fr.listOf(lstR)
		out := values.NewArray()
		for i := len(src) - 1; i >= 0; i-- {
			out.Push(src[i])
		}
		fr.set(d, values.NewArrayHandle(out))
		return pc, nil

	case op.RANGE_NEW:
		d, loR, hiR := code[pc], code[pc+1], code[pc+2]
		pc += 3
		lov, hiv := fr.cell(loR), fr.cell(hiR)
		out := values.NewArray()
		if lov.IsInteger() || hiv.IsInteger() || looksNumeric(lov) {
			lo, hi := lov.IntValue(), hiv.IntValue()
			if hi-lo+1 > rangeGuard {
				return pc, fr.perlError(opAt, "Out of memory during list extend")
			}
			for i := lo; i <= hi; i++ {
				out.Push(values.NewInt(i))
			}
		} else {
			// magic string range: increments until equal or longer
			cur, end := lov.Str(), hiv.Str()
			for n := 0; n <= rangeGuard; n++ {
				out.Push(values.NewString(cur))
				if cur == end || len(cur) > len(end) {
					break
				}
				next, ok := values.StringIncrement(cur)
				if !ok {
					break
				}
				if len(next) > len(end) {
					break
				}
				cur = next
			}
		}
		fr.set(d, values.NewArrayHandle(out))
		return pc, nil

	case op.SCALAR_OP:
		d, sR := code[pc], code[pc+1]
		pc += 2
		fr.set(d, scalarize(fr.cell(sR)))
		return pc, nil

	case op.WANTLIST:
		d, sR := code[pc], code[pc+1]
		pc += 2
		out := values.NewArray()
		out.AppendAliased(values.Flatten(fr.cell(sR)))
		fr.set(d, values.NewArrayHandle(out))
		return pc, nil
	}
	return pc, fr.perlErrorf(opAt, "unhandled collection opcode %s", o)
}

func looksNumeric(v *values.Scalar) bool {
	_, clean := v.Num()
	return clean && v.Str() != ""
}

// listAssign implements aggregate and multi-target assignment. The scalar
// context result is the SOURCE element count.
func (m *Machine) listAssign(fr *Frame, code []uint16, pc, opAt int) (int, error) {
	d, targetsR, srcsR, mode, ctx := code[pc], code[pc+1], code[pc+2], code[pc+3], code[pc+4]
	pc += 5
	srcs := fr.listOf(srcsR)
	// detach source cells so `($a, $b) = ($b, $a)` reads consistent values
	vals := make([]*values.Scalar, len(srcs))
	for i, s := range srcs {
		vals[i] = s.Dup()
	}

	targets, err := fr.arrayAt(targetsR, opAt)
	if err != nil {
		return pc, err
	}
	tl := targets.All()

	if mode == 1 { // plain cells (slice assignment)
		for i, cell := range tl {
			if i < len(vals) {
				if err := fr.assignScalar(cell, vals[i], opAt); err != nil {
					return pc, err
				}
			} else if err := cell.SetUndef(); err != nil {
				return pc, fr.perlError(opAt, err.Error())
			}
		}
	} else {
		vi := 0
		for i := 0; i+1 < len(tl); i += 2 {
			tag := tl[i].IntValue()
			cell := tl[i+1]
			switch tag {
			case 1: // array target consumes the rest
				arr := cell.ArrayH()
				if arr == nil {
					if ref := cell.Ref(); ref != nil && ref.Array != nil {
						arr = ref.Array
					}
				}
				if arr != nil {
					arr.Assign(vals[min(vi, len(vals)):])
				}
				vi = len(vals)
			case 2: // hash target consumes the rest as pairs
				h := cell.HashH()
				if h == nil {
					if ref := cell.Ref(); ref != nil && ref.Hash != nil {
						h = ref.Hash
					}
				}
				if h != nil {
					h.AssignPairs(vals[min(vi, len(vals)):])
				}
				vi = len(vals)
			default:
				if vi < len(vals) {
					if err := fr.assignScalar(cell, vals[vi], opAt); err != nil {
						return pc, err
					}
				} else if err := cell.SetUndef(); err != nil {
					return pc, fr.perlError(opAt, err.Error())
				}
				vi++
			}
		}
	}

	if resolveCtx(fr, ctx) == uint16(values.CallList) {
		out := values.NewArray()
		out.AppendAliased(vals)
		fr.set(d, values.NewArrayHandle(out))
	} else {
		fr.set(d, values.NewInt(int64(len(vals))))
	}
	return pc, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (m *Machine) listFuncs(fr *Frame, o op.Op, code []uint16, pc, opAt int) (int, error) {
	switch o {
	case op.SORT_OP:
		d, fnR, lstR := code[pc], code[pc+1], code[pc+2]
		pc += 3
		src := fr.listOf(lstR)
		out := make([]*values.Scalar, len(src))
		copy(out, src)
		cmp := fr.cell(fnR).Code()
		var sortErr error
		if cmp.Defined() {
			ga := m.Globals.Glob("main::a").ScalarCell()
			gb := m.Globals.Glob("main::b").ScalarCell()
			sort.SliceStable(out, func(i, j int) bool {
				if sortErr != nil {
					return false
				}
				_ = ga.SetFrom(out[i])
				_ = gb.SetFrom(out[j])
				res, err := cmp.Call(nil, values.CallScalar)
				if err != nil {
					sortErr = err
					return false
				}
				if len(res) == 0 {
					return false
				}
				return res[len(res)-1].NumValue() < 0
			})
		} else {
			sort.SliceStable(out, func(i, j int) bool {
				return out[i].Str() < out[j].Str()
			})
		}
		if sortErr != nil {
			return pc, sortErr
		}
		arr := values.NewArray()
		arr.AppendAliased(out)
		fr.set(d, values.NewArrayHandle(arr))
		return pc, nil

	case op.GREP_OP:
		d, fnR, lstR, ctx := code[pc], code[pc+1], code[pc+2], code[pc+3]
		pc += 4
		fn := fr.cell(fnR).Code()
		out := values.NewArray()
		count := 0
		for _, v := range fr.listOf(lstR) {
			old := m.Globals.BindSpecial("$_", v)
			res, err := fn.Call(nil, values.CallScalar)
			m.Globals.RestoreSpecial("$_", old)
			if err != nil {
				return pc, err
			}
			if len(res) > 0 && res[len(res)-1].Bool() {
				count++
				out.Push(v)
			}
		}
		if resolveCtx(fr, ctx) == uint16(values.CallScalar) {
			fr.set(d, values.NewInt(int64(count)))
		} else {
			fr.set(d, values.NewArrayHandle(out))
		}
		return pc, nil

	case op.MAP_OP:
		d, fnR, lstR := code[pc], code[pc+1], code[pc+2]
		pc += 3
		fn := fr.cell(fnR).Code()
		out := values.NewArray()
		for _, v := range fr.listOf(lstR) {
			old := m.Globals.BindSpecial("$_", v)
			res, err := fn.Call(nil, values.CallList)
			m.Globals.RestoreSpecial("$_", old)
			if err != nil {
				return pc, err
			}
			out.Push(res...)
		}
		fr.set(d, values.NewArrayHandle(out))
		return pc, nil
	}
	return pc, fr.perlErrorf(opAt, "unhandled list opcode %s", o)
}

// tiedFetch dispatches FETCH on a tied container's handler object.
func (m *Machine) tiedFetch(fr *Frame, d uint16, tied *values.Ref, key *values.Scalar, opAt int) error {
	h := m.Globals.ResolveMethod(tied.Blessed, "FETCH")
	if h == nil {
		return fr.perlError(opAt, "Can't locate object method \"FETCH\" via package \""+tied.Blessed+"\"")
	}
	out, err := h.Call([]*values.Scalar{values.NewRef(tied), key}, values.CallScalar)
	if err != nil {
		return err
	}
	fr.set(d, contextualize(out, values.CallScalar))
	return nil
}
