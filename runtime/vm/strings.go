package vm

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	op "github.com/gperl-lang/gperl/core/opcode"
	"github.com/gperl-lang/gperl/runtime/values"
)

var titleCaser = cases.Title(language.Und)

// ucFirst uses full Unicode case mapping on the leading rune.
func ucFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	head := titleCaser.String(string(r[0]))
	return head + string(r[1:])
}

func lcFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	head := cases.Lower(language.Und).String(string(r[0]))
	return head + string(r[1:])
}

func (m *Machine) handleString(fr *Frame, o op.Op, code []uint16, pc, opAt int) (int, error) {
	switch o {
	case op.CONCAT:
		d, a, b := code[pc], code[pc+1], code[pc+2]
		if r, ok := fr.binaryOverload(".", fr.cell(a), fr.cell(b)); ok {
			fr.set(d, r)
			return pc + 3, nil
		}
		fr.set(d, values.NewString(fr.stringifyOverloaded(fr.cell(a))+fr.stringifyOverloaded(fr.cell(b))))
		return pc + 3, nil

	case op.REPEAT:
		d, s, n, ctx := code[pc], code[pc+1], code[pc+2], code[pc+3]
		count := clampRepeat(fr.cell(n).IntValue())
		if resolveCtx(fr, ctx) == uint16(values.CallList) && fr.cell(s).IsHandle() {
			src := fr.listOf(s)
			out := values.NewArray()
			for i := 0; i < count; i++ {
				for _, v := range src {
					out.Push(v.Dup())
				}
			}
			fr.set(d, values.NewArrayHandle(out))
			return pc + 4, nil
		}
		fr.set(d, values.NewString(strings.Repeat(fr.cell(s).Str(), count)))
		return pc + 4, nil

	case op.UC:
		fr.set(code[pc], values.NewString(cases.Upper(language.Und).String(fr.cell(code[pc+1]).Str())))
		return pc + 2, nil
	case op.LC:
		fr.set(code[pc], values.NewString(cases.Lower(language.Und).String(fr.cell(code[pc+1]).Str())))
		return pc + 2, nil
	case op.UCFIRST:
		fr.set(code[pc], values.NewString(ucFirst(fr.cell(code[pc+1]).Str())))
		return pc + 2, nil
	case op.LCFIRST:
		fr.set(code[pc], values.NewString(lcFirst(fr.cell(code[pc+1]).Str())))
		return pc + 2, nil

	case op.CHR:
		fr.set(code[pc], values.NewString(string(rune(fr.cell(code[pc+1]).IntValue()))))
		return pc + 2, nil
	case op.ORD:
		s := fr.cell(code[pc+1]).Str()
		if s == "" {
			fr.set(code[pc], values.NewInt(0))
		} else {
			fr.set(code[pc], values.NewInt(int64([]rune(s)[0])))
		}
		return pc + 2, nil

	case op.LENGTH:
		v := fr.cell(code[pc+1])
		if v.IsUndef() {
			fr.set(code[pc], values.NewUndef())
		} else {
			fr.set(code[pc], values.NewInt(int64(len([]rune(v.Str())))))
		}
		return pc + 2, nil

	case op.SUBSTR:
		d, sR, offR, lenR, replR := code[pc], code[pc+1], code[pc+2], code[pc+3], code[pc+4]
		pc += 5
		cell := fr.cell(sR)
		runes := []rune(cell.Str())
		off := int(fr.cell(offR).IntValue())
		if off < 0 {
			off += len(runes)
		}
		if off < 0 || off > len(runes) {
			fr.set(d, values.NewUndef())
			return pc, nil
		}
		length := int(fr.cell(lenR).IntValue())
		if length < 0 {
			length = len(runes) - off + length
		}
		if off+length > len(runes) {
			length = len(runes) - off
		}
		if length < 0 {
			length = 0
		}
		extracted := string(runes[off : off+length])
		if fr.cell(replR).Defined() {
			replaced := string(runes[:off]) + fr.cell(replR).Str() + string(runes[off+length:])
			if err := cell.SetString(replaced); err != nil {
				return pc, fr.perlError(opAt, err.Error())
			}
		}
		fr.set(d, values.NewString(extracted))
		return pc, nil

	case op.INDEX_OP, op.RINDEX_OP:
		d, hayR, needleR, posR := code[pc], code[pc+1], code[pc+2], code[pc+3]
		pc += 4
		hay, needle := fr.cell(hayR).Str(), fr.cell(needleR).Str()
		pos := int(fr.cell(posR).IntValue())
		var idx int
		if o == op.INDEX_OP {
			start := 0
			if pos > 0 {
				start = pos
				if start > len(hay) {
					start = len(hay)
				}
			}
			idx = strings.Index(hay[start:], needle)
			if idx >= 0 {
				idx += start
			}
		} else {
			if pos >= 0 && pos < len(hay) {
				idx = strings.LastIndex(hay[:pos+len(needle)], needle)
			} else {
				idx = strings.LastIndex(hay, needle)
			}
		}
		fr.set(d, values.NewInt(int64(idx)))
		return pc, nil

	case op.SPRINTF:
		d, lst := code[pc], code[pc+1]
		pc += 2
		args := fr.listOf(lst)
		if len(args) == 0 {
			fr.set(d, values.NewString(""))
			return pc, nil
		}
		out, err := perlSprintf(args[0].Str(), args[1:])
		if err != nil {
			return pc, fr.perlError(opAt, err.Error())
		}
		fr.set(d, values.NewString(out))
		return pc, nil

	case op.JOIN:
		d, sepR, lst := code[pc], code[pc+1], code[pc+2]
		pc += 3
		sep := fr.cell(sepR).Str()
		parts := fr.listOf(lst)
		ss := make([]string, len(parts))
		for i, p := range parts {
			ss[i] = fr.stringifyOverloaded(p)
		}
		fr.set(d, values.NewString(strings.Join(ss, sep)))
		return pc, nil

	case op.QUOTEMETA:
		var b strings.Builder
		for _, c := range fr.cell(code[pc+1]).Str() {
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_') {
				b.WriteByte('\\')
			}
			b.WriteRune(c)
		}
		fr.set(code[pc], values.NewString(b.String()))
		return pc + 2, nil

	case op.CHOMP:
		d, cellR := code[pc], code[pc+1]
		pc += 2
		cell := fr.cell(cellR)
		sep := m.Globals.Special("$/").Str()
		n := 0
		if sep != "" && strings.HasSuffix(cell.Str(), sep) {
			if err := cell.SetString(strings.TrimSuffix(cell.Str(), sep)); err != nil {
				return pc, fr.perlError(opAt, err.Error())
			}
			n = len(sep)
		}
		fr.set(d, values.NewInt(int64(n)))
		return pc, nil

	case op.CHOP:
		d, cellR := code[pc], code[pc+1]
		pc += 2
		cell := fr.cell(cellR)
		r := []rune(cell.Str())
		last := ""
		if len(r) > 0 {
			last = string(r[len(r)-1])
			if err := cell.SetString(string(r[:len(r)-1])); err != nil {
				return pc, fr.perlError(opAt, err.Error())
			}
		}
		fr.set(d, values.NewString(last))
		return pc, nil

	case op.REVERSE_STR:
		r := []rune(fr.cell(code[pc+1]).Str())
		for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
			r[i], r[j] = r[j], r[i]
		}
		fr.set(code[pc], values.NewString(string(r)))
		return pc + 2, nil
	}
	return pc, fr.perlErrorf(opAt, "unhandled string opcode %s", o)
}
