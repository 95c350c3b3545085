package vm

import (
	"os"
	"strings"

	op "github.com/gperl-lang/gperl/core/opcode"
	"github.com/gperl-lang/gperl/runtime/pack"
	"github.com/gperl-lang/gperl/runtime/regex"
	"github.com/gperl-lang/gperl/runtime/values"
)

func (m *Machine) handleIORegex(fr *Frame, o op.Op, code []uint16, pc, opAt int) (int, error) {
	switch o {
	case op.OPEN:
		return m.opOpen(fr, code, pc, opAt)
	case op.CLOSE:
		d, fhR := code[pc], code[pc+1]
		pc += 2
		io := fr.ioHandle(fhR, false)
		if io == nil {
			fr.set(d, values.NewBool(false))
			return pc, nil
		}
		err := io.Close()
		if err != nil {
			_ = m.Globals.Special("$!").SetString(err.Error())
		}
		fr.set(d, values.NewBool(err == nil))
		return pc, nil

	case op.PRINT, op.SAY:
		d, fhR, lstR := code[pc], code[pc+1], code[pc+2]
		pc += 3
		w := fr.writerFor(fhR)
		sep := m.Globals.Special("$,").Str()
		end := m.Globals.Special("$\\").Str()
		if o == op.SAY {
			end = "\n"
		}
		parts := fr.listOf(lstR)
		ss := make([]string, len(parts))
		for i, p := range parts {
			ss[i] = fr.stringifyOverloaded(p)
		}
		_, err := w.Write([]byte(strings.Join(ss, sep) + end))
		if err != nil {
			_ = m.Globals.Special("$!").SetString(err.Error())
			fr.set(d, values.NewBool(false))
			return pc, nil
		}
		fr.set(d, values.NewInt(1))
		return pc, nil

	case op.PRINTF_OP:
		d, fhR, lstR := code[pc], code[pc+1], code[pc+2]
		pc += 3
		w := fr.writerFor(fhR)
		args := fr.listOf(lstR)
		if len(args) == 0 {
			fr.set(d, values.NewInt(1))
			return pc, nil
		}
		out, err := perlSprintf(args[0].Str(), args[1:])
		if err != nil {
			return pc, fr.perlError(opAt, err.Error())
		}
		if _, err := w.Write([]byte(out)); err != nil {
			_ = m.Globals.Special("$!").SetString(err.Error())
			fr.set(d, values.NewBool(false))
			return pc, nil
		}
		fr.set(d, values.NewInt(1))
		return pc, nil

	case op.READLINE_OP:
		d, fhR, ctx := code[pc], code[pc+1], code[pc+2]
		pc += 3
		io := fr.ioHandle(fhR, true)
		if io == nil {
			fr.set(d, values.NewUndef())
			return pc, nil
		}
		sep := m.Globals.Special("$/").Str()
		if !m.Globals.Special("$/").Defined() {
			sep = ""
		}
		if resolveCtx(fr, ctx) == uint16(values.CallList) {
			out := values.NewArray()
			for {
				line, ok, err := io.ReadLine(sep)
				if err != nil {
					_ = m.Globals.Special("$!").SetString(err.Error())
					break
				}
				if !ok {
					break
				}
				out.Push(values.NewString(line))
			}
			fr.set(d, values.NewArrayHandle(out))
			return pc, nil
		}
		line, ok, err := io.ReadLine(sep)
		if err != nil {
			_ = m.Globals.Special("$!").SetString(err.Error())
		}
		if !ok {
			fr.set(d, values.NewUndef())
		} else {
			fr.set(d, values.NewString(line))
		}
		return pc, nil

	case op.EOF_OP:
		d, fhR := code[pc], code[pc+1]
		pc += 2
		io := fr.ioHandle(fhR, true)
		fr.set(d, values.NewBool(io == nil || io.AtEOF))
		return pc, nil

	case op.BINMODE:
		d := code[pc]
		pc += 3
		fr.set(d, values.NewInt(1))
		return pc, nil

	case op.QR_NEW:
		d, patR, modsIdx := code[pc], code[pc+1], code[pc+2]
		pc += 3
		return pc, m.opQrNew(fr, d, patR, fr.chunk.Strs[modsIdx], opAt)

	case op.MATCH_REGEX:
		d, rxR, tgtR, ctx := code[pc], code[pc+1], code[pc+2], code[pc+3]
		pc += 4
		return pc, m.opMatch(fr, d, rxR, tgtR, resolveCtx(fr, ctx), false, opAt)

	case op.MATCH_REGEX_NOT:
		d, rxR, tgtR := code[pc], code[pc+1], code[pc+2]
		pc += 3
		return pc, m.opMatch(fr, d, rxR, tgtR, uint16(values.CallScalar), true, opAt)

	case op.REPLACE_REGEX:
		d, rxR, tgtR, replR, modsIdx := code[pc], code[pc+1], code[pc+2], code[pc+3], code[pc+4]
		pc += 5
		return pc, m.opReplace(fr, d, rxR, tgtR, replR, fr.chunk.Strs[modsIdx], opAt)

	case op.TRANS_OP:
		d, tgtR, specIdx := code[pc], code[pc+1], code[pc+2]
		pc += 3
		sp := fr.chunk.Trans[specIdx]
		cell := fr.cell(tgtR)
		out, count := sp.Apply(cell.Str())
		if sp.NonDestructive {
			fr.set(d, values.NewString(out))
			return pc, nil
		}
		if out != cell.Str() {
			if err := cell.SetString(out); err != nil {
				return pc, fr.perlError(opAt, err.Error())
			}
		}
		fr.set(d, values.NewInt(int64(count)))
		return pc, nil

	case op.SPLIT_OP:
		d, rxR, strR, limR := code[pc], code[pc+1], code[pc+2], code[pc+3]
		pc += 4
		return pc, m.opSplit(fr, d, rxR, strR, limR, opAt)

	case op.PACK_OP:
		d, tmplR, lstR := code[pc], code[pc+1], code[pc+2]
		pc += 3
		out, err := pack.Pack(fr.cell(tmplR).Str(), fr.listOf(lstR), m.PackEnv)
		if err != nil {
			return pc, fr.perlError(opAt, err.Error())
		}
		fr.set(d, out)
		return pc, nil

	case op.UNPACK_OP:
		d, tmplR, dataR := code[pc], code[pc+1], code[pc+2]
		pc += 3
		vals, err := pack.Unpack(fr.cell(tmplR).Str(), fr.cell(dataR), m.PackEnv)
		if err != nil {
			return pc, fr.perlError(opAt, err.Error())
		}
		out := values.NewArray()
		out.AppendAliased(vals)
		fr.set(d, values.NewArrayHandle(out))
		return pc, nil
	}
	return pc, fr.perlErrorf(opAt, "unhandled io/regex opcode %s", o)
}

func (fr *Frame) ioHandle(fhR uint16, read bool) *values.IO {
	c := fr.cell(fhR)
	if g := c.Glob(); g != nil {
		return g.IO
	}
	if c.IsUndef() {
		name := "main::STDOUT"
		if read {
			name = "main::STDIN"
		}
		return fr.m.Globals.Glob(name).IO
	}
	// a scalar naming a handle
	if s := c.Str(); s != "" {
		return fr.m.Globals.Glob(qualifyRuntimeHandle(s)).IO
	}
	return nil
}

func qualifyRuntimeHandle(name string) string {
	if strings.Contains(name, "::") {
		return name
	}
	return "main::" + name
}

func (fr *Frame) writerFor(fhR uint16) writerT {
	io := fr.ioHandle(fhR, false)
	if io != nil && io.Writer != nil {
		return io.Writer
	}
	return fr.m.Out
}

type writerT interface {
	Write([]byte) (int, error)
}

func (m *Machine) opOpen(fr *Frame, code []uint16, pc, opAt int) (int, error) {
	d, fhR, modeR, exprR := code[pc], code[pc+1], code[pc+2], code[pc+3]
	pc += 4

	mode := fr.cell(modeR).Str()
	path := fr.cell(exprR).Str()
	if !fr.cell(exprR).Defined() {
		// two-argument open: the mode prefixes the path
		path = mode
		mode = "<"
		for _, pfx := range []string{"+<", ">>", "<", ">"} {
			if strings.HasPrefix(path, pfx) {
				mode = pfx
				path = strings.TrimSpace(strings.TrimPrefix(path, pfx))
				break
			}
		}
	}

	var io *values.IO
	var err error
	switch mode {
	case "<":
		var f *os.File
		f, err = os.Open(path)
		if err == nil {
			io = values.NewReadIO(path, f)
		}
	case ">":
		var f *os.File
		f, err = os.Create(path)
		if err == nil {
			io = values.NewWriteIO(path, f)
		}
	case ">>":
		var f *os.File
		f, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			io = values.NewWriteIO(path, f)
		}
	default:
		return pc, fr.perlErrorf(opAt, "Unknown open() mode '%s'", mode)
	}
	if err != nil {
		_ = m.Globals.Special("$!").SetString(err.Error())
		fr.set(d, values.NewBool(false))
		return pc, nil
	}

	// attach to the glob (bareword handle) or to a fresh anonymous glob in
	// the scalar (lexical filehandle)
	cell := fr.cell(fhR)
	if g := cell.Glob(); g != nil {
		g.IO = io
	} else {
		g := values.NewGlob("main::__ANONIO__")
		g.IO = io
		if err := cell.SetGlob(g); err != nil {
			return pc, fr.perlError(opAt, err.Error())
		}
	}
	fr.set(d, values.NewInt(1))
	return pc, nil
}

// regexFrom resolves the regex object in a register, falling back to the
// last successful pattern for the empty-pattern case.
func (m *Machine) regexFrom(fr *Frame, rxR uint16, opAt int) (*values.Regex, error) {
	c := fr.cell(rxR)
	if rx := c.Regex(); rx != nil {
		return rx, nil
	}
	if m.lastPattern != nil {
		return m.lastPattern, nil
	}
	return nil, fr.perlError(opAt, "Matching with an empty pattern and no previous successful match")
}

func (m *Machine) opQrNew(fr *Frame, d, patR uint16, mods string, opAt int) error {
	pat := fr.cell(patR)
	if rx := pat.Regex(); rx != nil {
		fr.set(d, values.NewRegexVal(rx))
		return nil
	}
	if pat.IsUndef() {
		// empty pattern: reuse the last successful pattern at match time
		fr.set(d, values.NewUndef())
		return nil
	}
	src := pat.Str()
	compiled, err := m.CompileRegex(src, mods)
	if err != nil {
		return fr.perlError(opAt, err.Error())
	}
	rx := &values.Regex{Pattern: src, Mods: mods, Engine: compiled,
		Names: compiled.Meta.Names, NGroups: compiled.Meta.NGroups}
	fr.set(d, values.NewRegexVal(rx))
	return nil
}

func (m *Machine) opMatch(fr *Frame, d, rxR, tgtR uint16, ctx uint16, negated bool, opAt int) error {
	rx, err := m.regexFrom(fr, rxR, opAt)
	if err != nil {
		return err
	}
	compiled := rx.Engine.(*regex.Compiled)
	target := fr.cell(tgtR)
	s := target.Str()

	pos := 0
	global := compiled.Flags.Global
	if global {
		pos = m.matchPos[target]
	}

	if global && ctx == uint16(values.CallList) {
		// /g in list context: every match's captures (or whole matches)
		out := values.NewArray()
		p := 0
		for {
			res := compiled.Match(s, p)
			if res == nil {
				break
			}
			m.recordMatch(rx, res, s)
			if compiled.Meta.NGroups > 0 {
				for n := 1; n <= compiled.Meta.NGroups; n++ {
					if g, ok := res.GroupText(s, n); ok {
						out.Push(values.NewString(g))
					} else {
						out.Push(values.NewUndef())
					}
				}
			} else {
				out.Push(values.NewString(res.Mid))
			}
			if res.End == p {
				p++
			} else {
				p = res.End
			}
			if p > len(s) {
				break
			}
		}
		delete(m.matchPos, target)
		fr.set(d, values.NewArrayHandle(out))
		return nil
	}

	res := compiled.Match(s, pos)
	matched := res != nil
	if matched {
		m.recordMatch(rx, res, s)
		if global {
			m.matchPos[target] = res.End
		}
	} else if global && !compiled.Flags.KeepPos {
		delete(m.matchPos, target)
	}

	if negated {
		fr.set(d, values.NewBool(!matched))
		return nil
	}

	if ctx == uint16(values.CallList) && matched && !global {
		out := values.NewArray()
		if compiled.Meta.NGroups > 0 {
			for n := 1; n <= compiled.Meta.NGroups; n++ {
				if g, ok := res.GroupText(s, n); ok {
					out.Push(values.NewString(g))
				} else {
					out.Push(values.NewUndef())
				}
			}
		} else {
			// a successful captureless match is (1), never the empty list
			out.Push(values.NewInt(1))
		}
		fr.set(d, values.NewArrayHandle(out))
		return nil
	}
	fr.set(d, values.NewBool(matched))
	return nil
}

// recordMatch updates the state behind $1.., $&, $` and $', and the
// last-successful-pattern link; %+ is not populated.
func (m *Machine) recordMatch(rx *values.Regex, res *regex.MatchResult, target string) {
	m.lastMatch = res
	m.lastMatchTarget = target
	m.lastPattern = rx
	_ = m.Globals.Special("$^LAST_SUCCESSFUL_PATTERN").SetRegex(rx)
}

func (m *Machine) opReplace(fr *Frame, d, rxR, tgtR, replR uint16, mods string, opAt int) error {
	rx, err := m.regexFrom(fr, rxR, opAt)
	if err != nil {
		return err
	}
	compiled := rx.Engine.(*regex.Compiled)
	target := fr.cell(tgtR)
	s := target.Str()
	global := strings.ContainsRune(mods, 'g')
	nonDestructive := strings.ContainsRune(mods, 'r')
	repl := fr.cell(replR).Code()

	if nonDestructive && !target.Defined() {
		m.Warn("Use of uninitialized value in substitution (s///r)", fr.where(opAt))
	}

	var b strings.Builder
	count := 0
	p := 0
	for {
		res := compiled.Match(s, p)
		if res == nil {
			break
		}
		m.recordMatch(rx, res, s)
		b.WriteString(s[p:res.Start])
		out, err := repl.Call(nil, values.CallScalar)
		if err != nil {
			return err
		}
		if len(out) > 0 {
			b.WriteString(out[len(out)-1].Str())
		}
		count++
		if res.End == res.Start {
			if res.End < len(s) {
				b.WriteByte(s[res.End])
			}
			p = res.End + 1
		} else {
			p = res.End
		}
		if !global || p > len(s) {
			break
		}
	}
	if p <= len(s) {
		b.WriteString(s[p:])
	}

	if nonDestructive {
		fr.set(d, values.NewString(b.String()))
		return nil
	}
	if count > 0 {
		if err := target.SetString(b.String()); err != nil {
			return fr.perlError(opAt, err.Error())
		}
	}
	fr.set(d, values.NewInt(int64(count)))
	return nil
}

func (m *Machine) opSplit(fr *Frame, d, rxR, strR, limR uint16, opAt int) error {
	rx, err := m.regexFrom(fr, rxR, opAt)
	if err != nil {
		return err
	}
	compiled := rx.Engine.(*regex.Compiled)
	s := fr.cell(strR).Str()
	limit := int(fr.cell(limR).IntValue())

	awk := rx.Pattern == " "
	if awk {
		s = strings.TrimLeft(s, " \t\n")
		compiled, err = m.CompileRegex(`\s+`, "")
		if err != nil {
			return fr.perlError(opAt, err.Error())
		}
	}

	out := values.NewArray()
	p, from := 0, 0
	for {
		if limit > 0 && out.Len() >= limit-1 {
			break
		}
		res := compiled.Match(s, from)
		if res == nil {
			break
		}
		st, en := res.Start, res.End
		if en == st && st == p {
			// an empty match at the field start produces no empty field;
			// search resumes one character later
			if st >= len(s) {
				break
			}
			from = st + 1
			continue
		}
		out.Push(values.NewString(s[p:st]))
		for n := 1; n <= compiled.Meta.NGroups; n++ {
			if g, ok := res.GroupText(s, n); ok {
				out.Push(values.NewString(g))
			} else {
				out.Push(values.NewUndef())
			}
		}
		p = en
		if en == st {
			from = en + 1
		} else {
			from = en
		}
		if from > len(s) {
			break
		}
	}
	out.Push(values.NewString(s[min(p, len(s)):]))

	// strip trailing empty fields unless a positive limit asked for them
	if limit <= 0 {
		for out.Len() > 0 && out.Get(out.Len()-1).Str() == "" {
			out.Pop()
		}
	}
	fr.set(d, values.NewArrayHandle(out))
	return nil
}
