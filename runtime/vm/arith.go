package vm

import (
	"math"
	"strings"

	op "github.com/gperl-lang/gperl/core/opcode"
	"github.com/gperl-lang/gperl/runtime/values"
)

// binaryOverload dispatches a blessed operand's operator handler; the third
// argument is the swapped flag per the overload protocol.
func (fr *Frame) binaryOverload(opSym string, a, b *values.Scalar) (*values.Scalar, bool) {
	try := func(x, y *values.Scalar, swapped bool) (*values.Scalar, bool) {
		ref := x.Ref()
		if ref == nil || ref.Blessed == "" {
			return nil, false
		}
		t := fr.m.Globals.Overload(ref.Blessed)
		if t == nil {
			return nil, false
		}
		h := t.Lookup(opSym)
		if h == nil {
			return nil, false
		}
		out, err := h.Call([]*values.Scalar{x, y, values.NewBool(swapped)}, values.CallScalar)
		if err != nil || len(out) == 0 {
			return nil, false
		}
		return out[len(out)-1], true
	}
	if r, ok := try(a, b, false); ok {
		return r, true
	}
	return try(b, a, true)
}

var opSymbols = map[op.Op]string{
	op.ADD: "+", op.SUB: "-", op.MUL: "*", op.DIV: "/", op.MOD: "%",
	op.POW: "**", op.CONCAT: ".",
}

func (m *Machine) handleArith(fr *Frame, o op.Op, code []uint16, pc, opAt int) (int, error) {
	switch o {
	case op.ADD, op.SUB, op.MUL, op.DIV, op.MOD, op.POW:
		d, a, b := code[pc], code[pc+1], code[pc+2]
		pc += 3
		if sym, ok := opSymbols[o]; ok {
			if r, ok := fr.binaryOverload(sym, fr.cell(a), fr.cell(b)); ok {
				fr.set(d, r)
				return pc, nil
			}
		}
		av, bv := fr.numOperand(a), fr.numOperand(b)
		var res float64
		switch o {
		case op.ADD:
			res = av + bv
		case op.SUB:
			res = av - bv
		case op.MUL:
			res = av * bv
		case op.DIV:
			if bv == 0 {
				return pc, fr.perlError(opAt, "Illegal division by zero")
			}
			res = av / bv
		case op.MOD:
			if bv == 0 {
				return pc, fr.perlError(opAt, "Illegal modulus zero")
			}
			res = math.Mod(av, bv)
			if res != 0 && (res < 0) != (bv < 0) {
				res += bv
			}
		case op.POW:
			res = math.Pow(av, bv)
		}
		fr.set(d, numScalar(res))
		return pc, nil

	case op.NEG:
		d, s := code[pc], code[pc+1]
		fr.set(d, numScalar(-fr.numOperand(s)))
		return pc + 2, nil
	case op.ABS:
		d, s := code[pc], code[pc+1]
		fr.set(d, numScalar(math.Abs(fr.numOperand(s))))
		return pc + 2, nil
	case op.SQRT:
		d, s := code[pc], code[pc+1]
		v := fr.numOperand(s)
		if v < 0 {
			return pc + 2, fr.perlErrorf(opAt, "Can't take sqrt of %s", values.FormatNumber(v))
		}
		fr.set(d, numScalar(math.Sqrt(v)))
		return pc + 2, nil
	case op.INT_OP:
		d, s := code[pc], code[pc+1]
		fr.set(d, numScalar(math.Trunc(fr.numOperand(s))))
		return pc + 2, nil
	case op.ATAN2:
		d, a, b := code[pc], code[pc+1], code[pc+2]
		fr.set(d, numScalar(math.Atan2(fr.numOperand(a), fr.numOperand(b))))
		return pc + 3, nil
	case op.SIN:
		d, s := code[pc], code[pc+1]
		fr.set(d, numScalar(math.Sin(fr.numOperand(s))))
		return pc + 2, nil
	case op.COS:
		d, s := code[pc], code[pc+1]
		fr.set(d, numScalar(math.Cos(fr.numOperand(s))))
		return pc + 2, nil
	case op.EXP:
		d, s := code[pc], code[pc+1]
		fr.set(d, numScalar(math.Exp(fr.numOperand(s))))
		return pc + 2, nil
	case op.LOG:
		d, s := code[pc], code[pc+1]
		v := fr.numOperand(s)
		if v <= 0 {
			return pc + 2, fr.perlErrorf(opAt, "Can't take log of %s", values.FormatNumber(v))
		}
		fr.set(d, numScalar(math.Log(v)))
		return pc + 2, nil
	case op.HEX_OP:
		d, s := code[pc], code[pc+1]
		fr.set(d, values.NewInt(parseBase(fr.cell(s).Str(), 16)))
		return pc + 2, nil
	case op.OCT_OP:
		d, s := code[pc], code[pc+1]
		fr.set(d, values.NewInt(octValue(fr.cell(s).Str())))
		return pc + 2, nil

	case op.BITAND, op.BITOR, op.BITXOR, op.SHL, op.SHR:
		d, a, b := code[pc], code[pc+1], code[pc+2]
		pc += 3
		ai, bi := fr.cell(a).IntValue(), fr.cell(b).IntValue()
		var res int64
		switch o {
		case op.BITAND:
			res = ai & bi
		case op.BITOR:
			res = ai | bi
		case op.BITXOR:
			res = ai ^ bi
		case op.SHL:
			res = ai << uint(bi&63)
		case op.SHR:
			res = int64(uint64(ai) >> uint(bi&63))
		}
		fr.set(d, values.NewInt(res))
		return pc, nil

	case op.BITNOT:
		d, s := code[pc], code[pc+1]
		fr.set(d, values.NewInt(^fr.cell(s).IntValue()))
		return pc + 2, nil

	case op.INC:
		cell := fr.cell(code[pc])
		pc++
		return pc, fr.incr(cell, opAt)
	case op.DEC:
		cell := fr.cell(code[pc])
		pc++
		f, _ := cell.Num()
		if err := cell.SetFloat(f - 1); err != nil {
			return pc, fr.perlError(opAt, err.Error())
		}
		return pc, nil
	}
	return pc, fr.perlErrorf(opAt, "unhandled arithmetic opcode %s", o)
}

// incr applies ++ with the magic string increment.
func (fr *Frame) incr(cell *values.Scalar, opAt int) error {
	if cell.Kind() == values.KString {
		if next, ok := values.StringIncrement(cell.Str()); ok {
			if err := cell.SetString(next); err != nil {
				return fr.perlError(opAt, err.Error())
			}
			return nil
		}
	}
	f, _ := cell.Num()
	if err := cell.SetFloat(f + 1); err != nil {
		return fr.perlError(opAt, err.Error())
	}
	return nil
}

func numScalar(f float64) *values.Scalar {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1e15 {
		return values.NewInt(int64(f))
	}
	return values.NewFloat(f)
}

func parseBase(s string, base int64) int64 {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	var v int64
	for i := 0; i < len(s); i++ {
		c := s[i]
		var d int64
		switch {
		case c >= '0' && c <= '9':
			d = int64(c - '0')
		case c >= 'a' && c <= 'f':
			d = int64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = int64(c-'A') + 10
		case c == '_':
			continue
		default:
			return v
		}
		if d >= base {
			return v
		}
		v = v*base + d
	}
	return v
}

// octValue follows oct(): 0x hex, 0b binary, otherwise octal.
func octValue(s string) int64 {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		return parseBase(s[2:], 16)
	case strings.HasPrefix(s, "0b"), strings.HasPrefix(s, "0B"):
		return parseBase(s[2:], 2)
	case strings.HasPrefix(s, "0o"):
		return parseBase(s[2:], 8)
	default:
		return parseBase(s, 8)
	}
}

// handleCompound mutates the target cell in place: the parent and any
// closure sharing the cell observe the new value (never a rebind).
func (m *Machine) handleCompound(fr *Frame, o op.Op, code []uint16, pc, opAt int) (int, error) {
	target, src := code[pc], code[pc+1]
	pc += 2
	cell := fr.cell(target)

	var err error
	switch o {
	case op.ADD_ASSIGN:
		err = cell.SetFloat(fr.numOperand(target) + fr.numOperand(src))
	case op.SUB_ASSIGN:
		err = cell.SetFloat(fr.numOperand(target) - fr.numOperand(src))
	case op.MUL_ASSIGN:
		err = cell.SetFloat(fr.numOperand(target) * fr.numOperand(src))
	case op.DIV_ASSIGN:
		bv := fr.numOperand(src)
		if bv == 0 {
			return pc, fr.perlError(opAt, "Illegal division by zero")
		}
		err = cell.SetFloat(fr.numOperand(target) / bv)
	case op.MOD_ASSIGN:
		bv := fr.numOperand(src)
		if bv == 0 {
			return pc, fr.perlError(opAt, "Illegal modulus zero")
		}
		res := math.Mod(fr.numOperand(target), bv)
		if res != 0 && (res < 0) != (bv < 0) {
			res += bv
		}
		err = cell.SetFloat(res)
	case op.POW_ASSIGN:
		err = cell.SetFloat(math.Pow(fr.numOperand(target), fr.numOperand(src)))
	case op.CONCAT_ASSIGN:
		err = cell.SetString(cell.Str() + fr.cell(src).Str())
	case op.REPEAT_ASSIGN:
		err = cell.SetString(strings.Repeat(cell.Str(), clampRepeat(fr.cell(src).IntValue())))
	case op.SHL_ASSIGN:
		err = cell.SetInt(cell.IntValue() << uint(fr.cell(src).IntValue()&63))
	case op.SHR_ASSIGN:
		err = cell.SetInt(int64(uint64(cell.IntValue()) >> uint(fr.cell(src).IntValue()&63)))
	case op.BITAND_ASSIGN:
		err = cell.SetInt(cell.IntValue() & fr.cell(src).IntValue())
	case op.BITOR_ASSIGN:
		err = cell.SetInt(cell.IntValue() | fr.cell(src).IntValue())
	case op.BITXOR_ASSIGN:
		err = cell.SetInt(cell.IntValue() ^ fr.cell(src).IntValue())
	case op.AND_ASSIGN:
		if cell.Bool() {
			err = cell.SetFrom(fr.cell(src))
		}
	case op.OR_ASSIGN:
		if !cell.Bool() {
			err = cell.SetFrom(fr.cell(src))
		}
	case op.DEFINED_OR_ASSIGN:
		if cell.IsUndef() {
			err = cell.SetFrom(fr.cell(src))
		}
	default:
		return pc, fr.perlErrorf(opAt, "unhandled compound opcode %s", o)
	}
	if err != nil {
		return pc, fr.perlError(opAt, err.Error())
	}
	return pc, nil
}

func clampRepeat(n int64) int {
	if n < 0 {
		return 0
	}
	return int(n)
}
