package compiler

import (
	"github.com/gperl-lang/gperl/core/ast"
	op "github.com/gperl-lang/gperl/core/opcode"
)

// unary string/numeric builtins that map 1:1 onto opcodes.
var unaryOps = map[string]op.Op{
	"uc": op.UC, "lc": op.LC, "ucfirst": op.UCFIRST, "lcfirst": op.LCFIRST,
	"chr": op.CHR, "ord": op.ORD, "length": op.LENGTH, "quotemeta": op.QUOTEMETA,
	"abs": op.ABS, "sqrt": op.SQRT, "int": op.INT_OP, "sin": op.SIN,
	"cos": op.COS, "exp": op.EXP, "log": op.LOG, "hex": op.HEX_OP,
	"oct": op.OCT_OP, "defined": op.DEFINED, "ref": op.REF_TYPE,
}

func (f *fnState) compileBuiltin(x *ast.BuiltinCall) (uint16, error) {
	switch x.Name {
	case "print", "say", "printf":
		return f.compilePrint(x)

	case "push", "unshift":
		arr, err := f.compileArrayArg(x, 0)
		if err != nil {
			return 0, err
		}
		lst, err := f.compileArgsFrom(x.Args, 1)
		if err != nil {
			return 0, err
		}
		d := f.temp()
		if x.Name == "push" {
			f.emit(op.PUSH, d, arr, lst)
		} else {
			f.emit(op.UNSHIFT, d, arr, lst)
		}
		return d, nil

	case "pop", "shift":
		var arr uint16
		var err error
		if len(x.Args) > 0 {
			arr, err = f.compileArrayArg(x, 0)
		} else if f.parent == nil {
			arr = f.temp()
			f.emit(op.LOAD_SPECIAL, arr, f.chunk.strIdx("@ARGV"))
		} else {
			arr = f.temp()
			f.emit(op.ARG_ARRAY, arr)
		}
		if err != nil {
			return 0, err
		}
		d := f.temp()
		if x.Name == "pop" {
			f.emit(op.POP, d, arr)
		} else {
			f.emit(op.SHIFT, d, arr)
		}
		return d, nil

	case "splice":
		arr, err := f.compileArrayArg(x, 0)
		if err != nil {
			return 0, err
		}
		off, err := f.argOrDefaultInt(x.Args, 1, 0)
		if err != nil {
			return 0, err
		}
		length, err := f.argOrDefaultInt(x.Args, 2, 1<<30)
		if err != nil {
			return 0, err
		}
		lst, err := f.compileArgsFrom(x.Args, 3)
		if err != nil {
			return 0, err
		}
		d := f.temp()
		f.emit(op.SPLICE, d, arr, off, length, lst, ctxWord(x.Context()))
		return d, nil

	case "keys", "values", "each":
		cont, err := f.compileContainerArg(x.Args[0])
		if err != nil {
			return 0, err
		}
		d := f.temp()
		switch x.Name {
		case "keys":
			f.emit(op.KEYS, d, cont, ctxWord(x.Context()))
		case "values":
			f.emit(op.VALUES, d, cont)
		default:
			f.emit(op.EACH, d, cont)
		}
		return d, nil

	case "exists", "delete":
		return f.compileExistsDelete(x)

	case "scalar":
		r, err := f.compileExpr(x.Args[0])
		if err != nil {
			return 0, err
		}
		d := f.temp()
		f.emit(op.SCALAR_OP, d, r)
		return d, nil

	case "undef":
		if len(x.Args) == 0 {
			d := f.temp()
			f.emit(op.LOAD_UNDEF, d)
			return d, nil
		}
		cell, err := f.compileLValueCell(x.Args[0])
		if err != nil {
			return 0, err
		}
		f.emit(op.UNDEF_CLEAR, cell)
		return cell, nil

	case "wantarray":
		d := f.temp()
		f.emit(op.WANTARRAY, d)
		return d, nil

	case "bless":
		refr, err := f.compileExpr(x.Args[0])
		if err != nil {
			return 0, err
		}
		var pkgr uint16
		if len(x.Args) > 1 {
			pkgr, err = f.compileExpr(x.Args[1])
			if err != nil {
				return 0, err
			}
		} else {
			pkgr = f.temp()
			f.emit(op.LOAD_CONST_STR, pkgr, f.chunk.strIdx(f.pkg))
		}
		d := f.temp()
		f.emit(op.BLESS, d, refr, pkgr)
		return d, nil

	case "join":
		sep, err := f.compileExpr(x.Args[0])
		if err != nil {
			return 0, err
		}
		lst, err := f.compileArgsFrom(x.Args, 1)
		if err != nil {
			return 0, err
		}
		d := f.temp()
		f.emit(op.JOIN, d, sep, lst)
		return d, nil

	case "sprintf":
		lst, err := f.compileArgsFrom(x.Args, 0)
		if err != nil {
			return 0, err
		}
		d := f.temp()
		f.emit(op.SPRINTF, d, lst)
		return d, nil

	case "reverse":
		lst, err := f.compileArgsFrom(x.Args, 0)
		if err != nil {
			return 0, err
		}
		d := f.temp()
		if x.Context() == ast.CtxScalar {
			s := f.temp()
			f.emit(op.JOIN, s, f.emitStr(""), lst)
			f.emit(op.REVERSE_STR, d, s)
		} else {
			f.emit(op.REVERSE_LIST, d, lst)
		}
		return d, nil

	case "sort", "grep", "map":
		var fn uint16
		if x.Block != nil {
			idx, err := f.compileSub(x.Block)
			if err != nil {
				return 0, err
			}
			fn = f.temp()
			f.emit(op.MAKE_CLOSURE, fn, idx)
		} else {
			fn = f.temp()
			f.emit(op.LOAD_UNDEF, fn)
		}
		lst, err := f.compileArgsFrom(x.Args, 0)
		if err != nil {
			return 0, err
		}
		d := f.temp()
		switch x.Name {
		case "sort":
			f.emit(op.SORT_OP, d, fn, lst)
		case "grep":
			f.emit(op.GREP_OP, d, fn, lst, ctxWord(x.Context()))
		default:
			f.emit(op.MAP_OP, d, fn, lst)
		}
		return d, nil

	case "split":
		rx, err := f.compileSplitPattern(x.Args[0])
		if err != nil {
			return 0, err
		}
		var str uint16
		if len(x.Args) > 1 {
			str, err = f.compileExpr(x.Args[1])
			if err != nil {
				return 0, err
			}
		} else {
			str = f.temp()
			f.emit(op.LOAD_SPECIAL, str, f.chunk.strIdx("$_"))
		}
		limit, err := f.argOrDefaultInt(x.Args, 2, 0)
		if err != nil {
			return 0, err
		}
		d := f.temp()
		f.emit(op.SPLIT_OP, d, rx, str, limit)
		return d, nil

	case "pack":
		tmpl, err := f.compileExpr(x.Args[0])
		if err != nil {
			return 0, err
		}
		lst, err := f.compileArgsFrom(x.Args, 1)
		if err != nil {
			return 0, err
		}
		d := f.temp()
		f.emit(op.PACK_OP, d, tmpl, lst)
		return d, nil

	case "unpack":
		tmpl, err := f.compileExpr(x.Args[0])
		if err != nil {
			return 0, err
		}
		var data uint16
		if len(x.Args) > 1 {
			data, err = f.compileExpr(x.Args[1])
			if err != nil {
				return 0, err
			}
		} else {
			data = f.temp()
			f.emit(op.LOAD_SPECIAL, data, f.chunk.strIdx("$_"))
		}
		d := f.temp()
		f.emit(op.UNPACK_OP, d, tmpl, data)
		return d, nil

	case "die", "warn":
		lst, err := f.compileArgsFrom(x.Args, 0)
		if err != nil {
			return 0, err
		}
		if x.Name == "die" {
			f.emit(op.DIE, lst)
			d := f.temp()
			f.emit(op.LOAD_UNDEF, d)
			return d, nil
		}
		f.emit(op.WARN, lst)
		d := f.temp()
		f.emit(op.LOAD_CONST_INT, d, f.chunk.intIdx(1))
		return d, nil

	case "eval":
		return f.compileEvalBlock(x)

	case "evalstring":
		return f.compileEvalString(x)

	case "do":
		if x.Block != nil {
			d := f.temp()
			if err := f.compileBlockValue(x.Block.Body, d); err != nil {
				return 0, err
			}
			return d, nil
		}
		return f.compileGenericBuiltin(x)

	case "chomp", "chop":
		var cell uint16
		var err error
		if len(x.Args) > 0 {
			cell, err = f.compileLValueCell(x.Args[0])
		} else {
			cell = f.temp()
			f.emit(op.LOAD_SPECIAL, cell, f.chunk.strIdx("$_"))
		}
		if err != nil {
			return 0, err
		}
		d := f.temp()
		if x.Name == "chomp" {
			f.emit(op.CHOMP, d, cell)
		} else {
			f.emit(op.CHOP, d, cell)
		}
		return d, nil

	case "substr":
		return f.compileSubstr(x)

	case "index", "rindex":
		hay, err := f.compileExpr(x.Args[0])
		if err != nil {
			return 0, err
		}
		needle, err := f.compileExpr(x.Args[1])
		if err != nil {
			return 0, err
		}
		pos, err := f.argOrDefaultInt(x.Args, 2, -1)
		if err != nil {
			return 0, err
		}
		d := f.temp()
		if x.Name == "index" {
			f.emit(op.INDEX_OP, d, hay, needle, pos)
		} else {
			f.emit(op.RINDEX_OP, d, hay, needle, pos)
		}
		return d, nil

	case "atan2":
		a, err := f.compileExpr(x.Args[0])
		if err != nil {
			return 0, err
		}
		b, err := f.compileExpr(x.Args[1])
		if err != nil {
			return 0, err
		}
		d := f.temp()
		f.emit(op.ATAN2, d, a, b)
		return d, nil

	case "open", "close", "binmode", "eof", "readline":
		return f.compileIOBuiltin(x)

	case "qr":
		pat, err := f.compileExpr(x.Args[0])
		if err != nil {
			return 0, err
		}
		mods := ""
		if lit, ok := x.Args[1].(*ast.Literal); ok {
			mods = lit.Str
		}
		d := f.temp()
		f.emit(op.QR_NEW, d, pat, f.chunk.strIdx(mods))
		return d, nil

	case "goto":
		return 0, f.failAt(x, "goto is not supported")
	}

	if o, ok := unaryOps[x.Name]; ok {
		var r uint16
		var err error
		if len(x.Args) > 0 {
			r, err = f.compileExpr(x.Args[0])
		} else {
			r = f.temp()
			f.emit(op.LOAD_SPECIAL, r, f.chunk.strIdx("$_"))
		}
		if err != nil {
			return 0, err
		}
		d := f.temp()
		f.emit(o, d, r)
		return d, nil
	}

	return f.compileGenericBuiltin(x)
}

// compileGenericBuiltin routes everything else through the operator-handler
// table: CALL_BUILTIN name, args.
func (f *fnState) compileGenericBuiltin(x *ast.BuiltinCall) (uint16, error) {
	lst, err := f.compileArgsFrom(x.Args, 0)
	if err != nil {
		return 0, err
	}
	d := f.temp()
	f.emit(op.CALL_BUILTIN, d, f.chunk.strIdx(x.Name), lst, ctxWord(x.Context()))
	return d, nil
}

func (f *fnState) emitStr(s string) uint16 {
	d := f.temp()
	f.emit(op.LOAD_CONST_STR, d, f.chunk.strIdx(s))
	return d
}

func (f *fnState) compileArgsFrom(args []ast.Expr, start int) (uint16, error) {
	d := f.temp()
	f.emit(op.LIST_NEW, d)
	for i := start; i < len(args); i++ {
		r, err := f.compileExpr(args[i])
		if err != nil {
			return 0, err
		}
		f.emit(op.LIST_APPEND, d, r)
	}
	return d, nil
}

func (f *fnState) argOrDefaultInt(args []ast.Expr, i int, def int64) (uint16, error) {
	if i < len(args) {
		return f.compileExpr(args[i])
	}
	d := f.temp()
	f.emit(op.LOAD_CONST_INT, d, f.chunk.intIdx(def))
	return d, nil
}

// compileArrayArg resolves argument i as an array handle.
func (f *fnState) compileArrayArg(x *ast.BuiltinCall, i int) (uint16, error) {
	arg := x.Args[i]
	switch v := arg.(type) {
	case *ast.Variable:
		if v.Sigil == "@" {
			return f.compileAggregate("@", v.Name, true)
		}
	case *ast.Deref:
		if v.Sigil == "@" {
			r, err := f.compileExpr(v.Ref)
			if err != nil {
				return 0, err
			}
			d := f.temp()
			f.emit(op.DEREF_ARRAY, d, r, 1)
			return d, nil
		}
	}
	// a reference expression
	r, err := f.compileExpr(arg)
	if err != nil {
		return 0, err
	}
	d := f.temp()
	f.emit(op.DEREF_ARRAY, d, r, 1)
	return d, nil
}

func (f *fnState) compileContainerArg(arg ast.Expr) (uint16, error) {
	switch v := arg.(type) {
	case *ast.Variable:
		switch v.Sigil {
		case "%":
			return f.compileAggregate("%", v.Name, true)
		case "@":
			return f.compileAggregate("@", v.Name, true)
		}
	case *ast.Deref:
		return f.compileDeref(v, true)
	}
	return f.compileExpr(arg)
}

func (f *fnState) compileExistsDelete(x *ast.BuiltinCall) (uint16, error) {
	arg := x.Args[0]
	switch el := arg.(type) {
	case *ast.Index:
		arr, err := f.compileArrayTarget(el.Target, false)
		if err != nil {
			return 0, err
		}
		k, err := f.compileExpr(el.Key)
		if err != nil {
			return 0, err
		}
		d := f.temp()
		if x.Name == "exists" {
			f.emit(op.EXISTS, d, arr, k)
		} else {
			f.emit(op.DELETE, d, arr, k, ctxWord(x.Context()))
		}
		return d, nil
	case *ast.HashKey:
		h, err := f.compileHashTarget(el.Target, false)
		if err != nil {
			return 0, err
		}
		k, err := f.compileExpr(el.Key)
		if err != nil {
			return 0, err
		}
		d := f.temp()
		if x.Name == "exists" {
			f.emit(op.EXISTS, d, h, k)
		} else {
			f.emit(op.DELETE, d, h, k, ctxWord(x.Context()))
		}
		return d, nil
	}
	return 0, f.failAt(x, "%s argument is not an element", x.Name)
}

func (f *fnState) compileSubstr(x *ast.BuiltinCall) (uint16, error) {
	s, err := f.compileLValueCell(x.Args[0])
	if err != nil {
		return 0, err
	}
	off, err := f.compileExpr(x.Args[1])
	if err != nil {
		return 0, err
	}
	length, err := f.argOrDefaultInt(x.Args, 2, 1<<30)
	if err != nil {
		return 0, err
	}
	var repl uint16
	if len(x.Args) > 3 {
		repl, err = f.compileExpr(x.Args[3])
		if err != nil {
			return 0, err
		}
	} else {
		repl = f.temp()
		f.emit(op.LOAD_UNDEF, repl)
	}
	d := f.temp()
	f.emit(op.SUBSTR, d, s, off, length, repl)
	return d, nil
}

func (f *fnState) compilePrint(x *ast.BuiltinCall) (uint16, error) {
	var fh uint16
	var err error
	if x.Filehandle != nil {
		if lit, ok := x.Filehandle.(*ast.Literal); ok && lit.Kind == ast.LitStr {
			fh, err = f.compileFilehandle(lit.Str, nil)
		} else {
			fh, err = f.compileExpr(x.Filehandle)
		}
	} else {
		fh, err = f.compileFilehandle("", nil)
	}
	if err != nil {
		return 0, err
	}
	var lst uint16
	if len(x.Args) == 0 {
		lst = f.temp()
		f.emit(op.LIST_NEW, lst)
		u := f.temp()
		f.emit(op.LOAD_SPECIAL, u, f.chunk.strIdx("$_"))
		f.emit(op.LIST_PUSH, lst, u)
	} else {
		lst, err = f.compileArgsFrom(x.Args, 0)
		if err != nil {
			return 0, err
		}
	}
	d := f.temp()
	switch x.Name {
	case "print":
		f.emit(op.PRINT, d, fh, lst)
	case "say":
		f.emit(op.SAY, d, fh, lst)
	default:
		f.emit(op.PRINTF_OP, d, fh, lst)
	}
	return d, nil
}

func (f *fnState) compileIOBuiltin(x *ast.BuiltinCall) (uint16, error) {
	fh, err := f.compileHandleArg(x.Args, 0)
	if err != nil {
		return 0, err
	}
	d := f.temp()
	switch x.Name {
	case "open":
		mode, err := f.argOrDefaultStr(x.Args, 1)
		if err != nil {
			return 0, err
		}
		expr, err := f.argOrDefaultStr(x.Args, 2)
		if err != nil {
			return 0, err
		}
		f.emit(op.OPEN, d, fh, mode, expr)
	case "close":
		f.emit(op.CLOSE, d, fh)
	case "binmode":
		layer, err := f.argOrDefaultStr(x.Args, 1)
		if err != nil {
			return 0, err
		}
		f.emit(op.BINMODE, d, fh, layer)
	case "eof":
		f.emit(op.EOF_OP, d, fh)
	case "readline":
		f.emit(op.READLINE_OP, d, fh, ctxWord(x.Context()))
	}
	return d, nil
}

func (f *fnState) compileHandleArg(args []ast.Expr, i int) (uint16, error) {
	if i >= len(args) {
		d := f.temp()
		f.emit(op.LOAD_UNDEF, d)
		return d, nil
	}
	if lit, ok := args[i].(*ast.Literal); ok && lit.Kind == ast.LitStr {
		return f.compileFilehandle(lit.Str, nil)
	}
	return f.compileLValueCell(args[i])
}

func (f *fnState) argOrDefaultStr(args []ast.Expr, i int) (uint16, error) {
	if i < len(args) {
		return f.compileExpr(args[i])
	}
	d := f.temp()
	f.emit(op.LOAD_UNDEF, d)
	return d, nil
}

func (f *fnState) compileSplitPattern(arg ast.Expr) (uint16, error) {
	if m, ok := arg.(*ast.Match); ok {
		return f.compileRegexOperand(m.Pattern, m.Mods)
	}
	r, err := f.compileExpr(arg)
	if err != nil {
		return 0, err
	}
	d := f.temp()
	f.emit(op.QR_NEW, d, r, f.chunk.strIdx(""))
	return d, nil
}

// compileEvalBlock inlines the body between an eval boundary: a die inside
// unwinds to the catch label, which leaves undef in the destination and $@
// set by the unwinder.
func (f *fnState) compileEvalBlock(x *ast.BuiltinCall) (uint16, error) {
	d := f.temp()
	enter := f.emit(op.EVAL_ENTER, 0) + 1
	if err := f.compileBlockValue(x.Block.Body, d); err != nil {
		return 0, err
	}
	f.emit(op.EVAL_LEAVE)
	endPatch := f.emit(op.GOTO, 0) + 1
	f.chunk.patch(enter, len(f.chunk.Code))
	f.emit(op.LOAD_UNDEF, d)
	f.chunk.patch(endPatch, len(f.chunk.Code))
	return d, nil
}

// compileEvalString hands the source plus a scope snapshot to the runtime
// compiler. The snapshot maps the caller's sub-local lexical names to their
// live cells so the eval body reaches them through the registry.
func (f *fnState) compileEvalString(x *ast.BuiltinCall) (uint16, error) {
	src, err := f.compileExpr(x.Args[0])
	if err != nil {
		return 0, err
	}
	args := f.temp()
	f.emit(op.LIST_NEW, args)
	f.emit(op.LIST_PUSH, args, src)
	for _, se := range f.snapshotEntries() {
		if se.ent.kind != entSlot && se.ent.kind != entCapture {
			continue
		}
		cell, err := f.loadEntry(se.ent)
		if err != nil {
			return 0, err
		}
		nr := f.emitStr(se.name)
		f.emit(op.LIST_PUSH, args, nr)
		f.emit(op.LIST_PUSH, args, cell)
	}
	d := f.temp()
	f.emit(op.CALL_BUILTIN, d, f.chunk.strIdx("evalstring"), args, ctxWord(x.Context()))
	return d, nil
}
