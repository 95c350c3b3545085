package compiler

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/gperl-lang/gperl/core/ast"
	op "github.com/gperl-lang/gperl/core/opcode"
	"github.com/gperl-lang/gperl/runtime/trans"
)

var arithOps = map[string]op.Op{
	"+": op.ADD, "-": op.SUB, "*": op.MUL, "/": op.DIV, "%": op.MOD,
	"**": op.POW, ".": op.CONCAT,
	"==": op.EQ, "!=": op.NE, "<": op.LT, "<=": op.LE, ">": op.GT,
	">=": op.GE, "<=>": op.SPACESHIP,
	"eq": op.STR_EQ, "ne": op.STR_NE, "lt": op.STR_LT, "le": op.STR_LE,
	"gt": op.STR_GT, "ge": op.STR_GE, "cmp": op.CMP,
	"&": op.BITAND, "|": op.BITOR, "^": op.BITXOR,
	"<<": op.SHL, ">>": op.SHR,
}

var compoundOps = map[string]op.Op{
	"+=": op.ADD_ASSIGN, "-=": op.SUB_ASSIGN, "*=": op.MUL_ASSIGN,
	"/=": op.DIV_ASSIGN, "%=": op.MOD_ASSIGN, "**=": op.POW_ASSIGN,
	".=": op.CONCAT_ASSIGN, "x=": op.REPEAT_ASSIGN,
	"<<=": op.SHL_ASSIGN, ">>=": op.SHR_ASSIGN,
	"&=": op.BITAND_ASSIGN, "|=": op.BITOR_ASSIGN, "^=": op.BITXOR_ASSIGN,
	"&&=": op.AND_ASSIGN, "||=": op.OR_ASSIGN, "//=": op.DEFINED_OR_ASSIGN,
}

// compileExpr emits an expression, returning the register holding its
// result cell.
func (f *fnState) compileExpr(e ast.Expr) (uint16, error) {
	f.at(e)
	switch x := e.(type) {
	case *ast.Literal:
		d := f.temp()
		switch x.Kind {
		case ast.LitInt:
			f.emit(op.LOAD_CONST_INT, d, f.chunk.intIdx(x.Int))
		case ast.LitFloat:
			f.emit(op.LOAD_CONST_NUM, d, f.chunk.numIdx(x.Num))
		case ast.LitStr:
			f.emit(op.LOAD_CONST_STR, d, f.chunk.strIdx(x.Str))
		default:
			f.emit(op.LOAD_UNDEF, d)
		}
		return d, nil

	case *ast.Variable:
		return f.compileVariable(x)

	case *ast.InterpString:
		return f.compileInterp(x)

	case *ast.QwList:
		d := f.temp()
		f.emit(op.LIST_NEW, d)
		for _, w := range x.Words {
			t := f.temp()
			f.emit(op.LOAD_CONST_STR, t, f.chunk.strIdx(w))
			f.emit(op.LIST_PUSH, d, t)
		}
		return d, nil

	case *ast.UnOp:
		return f.compileUnOp(x)

	case *ast.BinOp:
		return f.compileBinOp(x)

	case *ast.Ternary:
		d := f.temp()
		c, err := f.compileExpr(x.Cond)
		if err != nil {
			return 0, err
		}
		elsePatch := f.emit(op.GOTO_IF_FALSE, c, 0) + 2
		t, err := f.compileExpr(x.Then)
		if err != nil {
			return 0, err
		}
		f.emit(op.MOVE, d, t)
		endPatch := f.emit(op.GOTO, 0) + 1
		f.chunk.patch(elsePatch, len(f.chunk.Code))
		el, err := f.compileExpr(x.Else)
		if err != nil {
			return 0, err
		}
		f.emit(op.MOVE, d, el)
		f.chunk.patch(endPatch, len(f.chunk.Code))
		return d, nil

	case *ast.ListExpr:
		if x.Context() == ast.CtxScalar || x.Context() == ast.CtxVoid {
			// comma operator: evaluate all, keep the last
			var last uint16
			var err error
			if len(x.Elems) == 0 {
				last = f.temp()
				f.emit(op.LOAD_UNDEF, last)
				return last, nil
			}
			for _, el := range x.Elems {
				last, err = f.compileExpr(el)
				if err != nil {
					return 0, err
				}
			}
			return last, nil
		}
		d := f.temp()
		f.emit(op.LIST_NEW, d)
		for _, el := range x.Elems {
			r, err := f.compileExpr(el)
			if err != nil {
				return 0, err
			}
			f.emit(op.LIST_APPEND, d, r)
		}
		return d, nil

	case *ast.Index:
		arr, err := f.compileArrayTarget(x.Target, x.LValue)
		if err != nil {
			return 0, err
		}
		k, err := f.compileExpr(x.Key)
		if err != nil {
			return 0, err
		}
		d := f.temp()
		f.emit(op.ARRAY_GET, d, arr, k, boolWord(x.LValue))
		return d, nil

	case *ast.HashKey:
		h, err := f.compileHashTarget(x.Target, x.LValue)
		if err != nil {
			return 0, err
		}
		k, err := f.compileExpr(x.Key)
		if err != nil {
			return 0, err
		}
		d := f.temp()
		f.emit(op.HASH_GET, d, h, k, boolWord(x.LValue))
		return d, nil

	case *ast.Slice:
		return f.compileSlice(x, false)

	case *ast.Deref:
		return f.compileDeref(x, false)

	case *ast.RefGen:
		return f.compileRefGen(x)

	case *ast.AnonArray:
		lst, err := f.compileExpr(x.Elems)
		if err != nil {
			return 0, err
		}
		d := f.temp()
		f.emit(op.ANON_ARRAY, d, lst)
		return d, nil

	case *ast.AnonHash:
		lst, err := f.compileExpr(x.Elems)
		if err != nil {
			return 0, err
		}
		d := f.temp()
		f.emit(op.ANON_HASH, d, lst)
		return d, nil

	case *ast.Call:
		return f.compileCall(x)

	case *ast.MethodCall:
		return f.compileMethodCall(x)

	case *ast.BuiltinCall:
		return f.compileBuiltin(x)

	case *ast.Match:
		return f.compileMatch(x)

	case *ast.Subst:
		return f.compileSubst(x)

	case *ast.Trans:
		return f.compileTrans(x)

	case *ast.Readline:
		fh, err := f.compileFilehandle(x.Handle, x.Dynamic)
		if err != nil {
			return 0, err
		}
		d := f.temp()
		f.emit(op.READLINE_OP, d, fh, ctxWord(x.Context()))
		return d, nil

	case *ast.SubDef:
		idx, err := f.compileSub(x)
		if err != nil {
			return 0, err
		}
		d := f.temp()
		f.emit(op.MAKE_CLOSURE, d, idx)
		if x.Name != "" {
			f.emit(op.STORE_GLOBAL_CODE, f.chunk.strIdx(f.qualifySub(x)), d)
		}
		return d, nil

	case *ast.VarDecl:
		return f.compileVarDecl(x)

	default:
		if re, ok := e.(interface{ ReturnNode() *ast.Return }); ok {
			if err := f.compileStmt(re.ReturnNode()); err != nil {
				return 0, err
			}
			d := f.temp()
			f.emit(op.LOAD_UNDEF, d)
			return d, nil
		}
		if lc, ok := e.(interface{ CtlNode() *ast.LoopCtl }); ok {
			if err := f.compileLoopCtl(lc.CtlNode()); err != nil {
				return 0, err
			}
			d := f.temp()
			f.emit(op.LOAD_UNDEF, d)
			return d, nil
		}
		return 0, f.failAt(e, "cannot compile expression %T", e)
	}
}

func boolWord(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}

func (f *fnState) qualifySub(x *ast.SubDef) string {
	pkg := x.Package
	if pkg == "" {
		pkg = f.pkg
	}
	if strings.Contains(x.Name, "::") {
		return x.Name
	}
	return pkg + "::" + x.Name
}

// ---------------------------------------------------------------------------
// variables

// isSpecialScalar reports whether a scalar name ($_, $@, $0, $1...) routes
// through the stable special cells.
func isSpecialScalar(name string) bool {
	if name == "" {
		return true
	}
	c := name[0]
	if c >= '0' && c <= '9' {
		return true
	}
	if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_') {
		return true
	}
	if name == "_" {
		return true
	}
	return strings.HasPrefix(name, "^")
}

func isSpecialAggregate(sigil, name string) bool {
	switch sigil + name {
	case "@_", "@ARGV", "@INC", "%ENV", "%INC", "%SIG":
		return true
	}
	return false
}

func (f *fnState) compileVariable(x *ast.Variable) (uint16, error) {
	switch x.Sigil {
	case "$":
		if isSpecialScalar(x.Name) {
			d := f.temp()
			f.emit(op.LOAD_SPECIAL, d, f.chunk.strIdx("$"+x.Name))
			return d, nil
		}
		if e := f.resolve("$", x.Name); e != nil {
			return f.loadEntry(e)
		}
		d := f.temp()
		f.emit(op.LOAD_GLOBAL_SCALAR, d, f.chunk.strIdx(f.globalName(x.Name)))
		return d, nil

	case "@", "%":
		r, err := f.compileAggregate(x.Sigil, x.Name, false)
		if err != nil {
			return 0, err
		}
		if x.Context() == ast.CtxScalar {
			d := f.temp()
			f.emit(op.SCALAR_OP, d, r)
			return d, nil
		}
		return r, nil

	case "$#":
		arr, err := f.compileAggregate("@", x.Name, false)
		if err != nil {
			return 0, err
		}
		d := f.temp()
		f.emit(op.ARRAY_LEN, d, arr)
		return d, nil

	case "&":
		d := f.temp()
		f.emit(op.LOAD_GLOBAL_CODE, d, f.chunk.strIdx(f.globalName(x.Name)))
		return d, nil
	case "*":
		d := f.temp()
		f.emit(op.LOAD_GLOB, d, f.chunk.strIdx(f.globalName(x.Name)))
		return d, nil
	}
	return 0, f.failAt(x, "cannot compile variable %s", x.Sigil+x.Name)
}

// compileAggregate yields the register holding an array/hash handle cell.
func (f *fnState) compileAggregate(sigil, name string, viv bool) (uint16, error) {
	if sigil == "@" && name == "_" {
		d := f.temp()
		f.emit(op.ARG_ARRAY, d)
		return d, nil
	}
	if isSpecialAggregate(sigil, name) {
		d := f.temp()
		f.emit(op.LOAD_SPECIAL, d, f.chunk.strIdx(sigil+name))
		return d, nil
	}
	if e := f.resolve(sigil, name); e != nil {
		return f.loadEntry(e)
	}
	d := f.temp()
	if sigil == "@" {
		f.emit(op.LOAD_GLOBAL_ARRAY, d, f.chunk.strIdx(f.globalName(name)))
	} else {
		f.emit(op.LOAD_GLOBAL_HASH, d, f.chunk.strIdx(f.globalName(name)))
	}
	return d, nil
}

func (f *fnState) loadEntry(e *centry) (uint16, error) {
	switch e.kind {
	case entSlot:
		return uint16(e.slot), nil
	case entCapture:
		d := f.temp()
		f.emit(op.LOAD_CAPTURE, d, uint16(e.capIdx))
		return d, nil
	case entPersistent:
		d := f.temp()
		f.emit(op.LOAD_PERSISTENT, d, f.chunk.strIdx(e.pname))
		return d, nil
	case entGlobal:
		d := f.temp()
		f.emit(op.LOAD_GLOBAL_SCALAR, d, f.chunk.strIdx(e.gname))
		return d, nil
	}
	return 0, errors.New("unreachable entry kind")
}

// compileArrayTarget resolves the container of an Index node. On lvalue
// paths the intermediate cells are compiled as lvalues too, so the whole
// chain autovivifies.
func (f *fnState) compileArrayTarget(target ast.Expr, viv bool) (uint16, error) {
	if v, ok := target.(*ast.Variable); ok && v.Sigil == "@" {
		return f.compileAggregate("@", v.Name, viv)
	}
	var r uint16
	var err error
	if viv {
		r, err = f.compileLValueCell(target)
	} else {
		r, err = f.compileExpr(target)
	}
	if err != nil {
		return 0, err
	}
	d := f.temp()
	f.emit(op.DEREF_ARRAY, d, r, boolWord(viv))
	return d, nil
}

func (f *fnState) compileHashTarget(target ast.Expr, viv bool) (uint16, error) {
	if v, ok := target.(*ast.Variable); ok && v.Sigil == "%" {
		return f.compileAggregate("%", v.Name, viv)
	}
	var r uint16
	var err error
	if viv {
		r, err = f.compileLValueCell(target)
	} else {
		r, err = f.compileExpr(target)
	}
	if err != nil {
		return 0, err
	}
	d := f.temp()
	f.emit(op.DEREF_HASH, d, r, boolWord(viv))
	return d, nil
}

func (f *fnState) compileSlice(x *ast.Slice, viv bool) (uint16, error) {
	var cont uint16
	var err error
	if x.Hash {
		cont, err = f.compileHashTarget(x.Target, viv)
	} else {
		cont, err = f.compileArrayTarget(x.Target, viv)
	}
	if err != nil {
		return 0, err
	}
	keys, err := f.compileExpr(x.Keys)
	if err != nil {
		return 0, err
	}
	d := f.temp()
	flags := uint16(0)
	if x.Hash {
		flags |= 1
	}
	if x.KV {
		flags |= 2
	}
	if viv {
		flags |= 4
	}
	f.emit(op.SLICE, d, cont, keys, flags)
	return d, nil
}

func (f *fnState) compileDeref(x *ast.Deref, viv bool) (uint16, error) {
	r, err := f.compileExpr(x.Ref)
	if err != nil {
		return 0, err
	}
	d := f.temp()
	switch x.Sigil {
	case "$":
		f.emit(op.DEREF_SCALAR, d, r, boolWord(viv))
	case "@":
		f.emit(op.DEREF_ARRAY, d, r, boolWord(viv))
		if x.Context() == ast.CtxScalar {
			d2 := f.temp()
			f.emit(op.SCALAR_OP, d2, d)
			return d2, nil
		}
	case "%":
		f.emit(op.DEREF_HASH, d, r, boolWord(viv))
		if x.Context() == ast.CtxScalar {
			d2 := f.temp()
			f.emit(op.SCALAR_OP, d2, d)
			return d2, nil
		}
	case "&":
		f.emit(op.DEREF_CODE, d, r)
	case "$#":
		f.emit(op.DEREF_ARRAY, d, r, 0)
		d2 := f.temp()
		f.emit(op.ARRAY_LEN, d2, d)
		return d2, nil
	}
	return d, nil
}

func (f *fnState) compileRefGen(x *ast.RefGen) (uint16, error) {
	switch o := x.Operand.(type) {
	case *ast.Variable:
		switch o.Sigil {
		case "$":
			cell, err := f.compileVariable(o)
			if err != nil {
				return 0, err
			}
			d := f.temp()
			f.emit(op.SCALAR_REF, d, cell)
			return d, nil
		case "@":
			arr, err := f.compileAggregate("@", o.Name, true)
			if err != nil {
				return 0, err
			}
			d := f.temp()
			f.emit(op.ARRAY_REF, d, arr)
			return d, nil
		case "%":
			h, err := f.compileAggregate("%", o.Name, true)
			if err != nil {
				return 0, err
			}
			d := f.temp()
			f.emit(op.HASH_REF, d, h)
			return d, nil
		case "&":
			c, err := f.compileVariable(o)
			if err != nil {
				return 0, err
			}
			d := f.temp()
			f.emit(op.CODE_REF, d, c)
			return d, nil
		}
	case *ast.VarDecl:
		// \my $x and friends
		cell, err := f.compileVarDecl(o)
		if err != nil {
			return 0, err
		}
		d := f.temp()
		v := o.Targets[0].(*ast.Variable)
		switch v.Sigil {
		case "@":
			f.emit(op.ARRAY_REF, d, cell)
		case "%":
			f.emit(op.HASH_REF, d, cell)
		default:
			f.emit(op.SCALAR_REF, d, cell)
		}
		return d, nil
	case *ast.ListExpr:
		d := f.temp()
		f.emit(op.LIST_NEW, d)
		for _, el := range o.Elems {
			r, err := f.compileRefGen(&ast.RefGen{ExprBase: x.ExprBase, Operand: el})
			if err != nil {
				return 0, err
			}
			f.emit(op.LIST_PUSH, d, r)
		}
		return d, nil
	}
	// general expression: a ref to the evaluated cell
	r, err := f.compileExpr(x.Operand)
	if err != nil {
		return 0, err
	}
	d := f.temp()
	f.emit(op.SCALAR_REF, d, r)
	return d, nil
}

func (f *fnState) compileInterp(x *ast.InterpString) (uint16, error) {
	d := f.temp()
	f.emit(op.LOAD_CONST_STR, d, f.chunk.strIdx(""))
	for _, part := range x.Parts {
		r, err := f.compileExpr(part)
		if err != nil {
			return 0, err
		}
		s := f.temp()
		f.emit(op.STRINGIFY, s, r)
		nd := f.temp()
		f.emit(op.CONCAT, nd, d, s)
		d = nd
	}
	return d, nil
}

// compileVarDecl declares targets and returns the cell of a single-target
// declaration, or the first cell of a multi-target one.
func (f *fnState) compileVarDecl(x *ast.VarDecl) (uint16, error) {
	if x.Kind == ast.DeclLocal {
		return f.compileLocalDecl(x)
	}
	if len(x.Targets) == 1 {
		v := x.Targets[0].(*ast.Variable)
		return f.declareAndInit(v, x.Kind)
	}
	// multi-target declarations yield their first cell; list assignment
	// resolves each target itself via compileAssign
	var first uint16 = 0
	for i, t := range x.Targets {
		v := t.(*ast.Variable)
		r, err := f.declareAndInit(v, x.Kind)
		if err != nil {
			return 0, err
		}
		if i == 0 {
			first = r
		}
	}
	return first, nil
}

func (f *fnState) declareAndInit(v *ast.Variable, kind ast.DeclKind) (uint16, error) {
	if kind == ast.DeclOur {
		e := &centry{kind: entGlobal, gname: f.globalName(v.Name)}
		f.declare(v.Sigil, v.Name, e)
		d := f.temp()
		switch v.Sigil {
		case "@":
			f.emit(op.LOAD_GLOBAL_ARRAY, d, f.chunk.strIdx(e.gname))
		case "%":
			f.emit(op.LOAD_GLOBAL_HASH, d, f.chunk.strIdx(e.gname))
		default:
			f.emit(op.LOAD_GLOBAL_SCALAR, d, f.chunk.strIdx(e.gname))
		}
		return d, nil
	}

	state := kind == ast.DeclState
	e := f.declareLexical(v, state)
	switch e.kind {
	case entSlot:
		slot := uint16(e.slot)
		switch v.Sigil {
		case "@":
			f.emit(op.ARRAY_NEW, slot)
		case "%":
			f.emit(op.HASH_NEW, slot)
		default:
			f.emit(op.LOAD_UNDEF, slot)
		}
		return slot, nil
	case entPersistent:
		d := f.temp()
		word := f.chunk.strIdx(e.pname)
		switch v.Sigil {
		case "@":
			f.emit(op.LOAD_PERSISTENT, d, word)
			f.emit(op.CALL_BUILTIN, d, f.chunk.strIdx("ensurearray"), d, ctxWord(ast.CtxScalar))
		case "%":
			f.emit(op.LOAD_PERSISTENT, d, word)
			f.emit(op.CALL_BUILTIN, d, f.chunk.strIdx("ensurehash"), d, ctxWord(ast.CtxScalar))
		default:
			f.emit(op.LOAD_PERSISTENT, d, word)
		}
		return d, nil
	}
	return 0, f.failAt(v, "cannot declare %s", v.Sigil+v.Name)
}

func (f *fnState) compileLocalDecl(x *ast.VarDecl) (uint16, error) {
	target := x.Targets[0]
	v, ok := target.(*ast.Variable)
	if !ok {
		return 0, f.failAt(target, "Can't localize %T", target)
	}
	var name string
	var kind uint16
	switch {
	case v.Sigil == "$" && isSpecialScalar(v.Name):
		name = "$" + v.Name
		kind = 3
	case v.Sigil == "$":
		name = f.globalName(v.Name)
		kind = 0
	case v.Sigil == "@":
		name = f.globalName(v.Name)
		kind = 1
	case v.Sigil == "%":
		name = f.globalName(v.Name)
		kind = 2
	default:
		return 0, f.failAt(target, "Can't localize %s", v.Sigil+v.Name)
	}
	f.emit(op.LOCAL_SAVE, f.chunk.strIdx(name), kind)
	if len(f.locals) > 0 {
		f.locals[len(f.locals)-1]++
	}
	return f.compileExpr(target)
}

// compileTrans parses the spec at compile time into the chunk pool.
func (f *fnState) compileTrans(x *ast.Trans) (uint16, error) {
	sp, err := trans.Parse(x.Search, x.Replace, x.Mods)
	if err != nil {
		return 0, f.failAt(x, "%s", err.Error())
	}
	f.chunk.Trans = append(f.chunk.Trans, sp)
	specIdx := uint16(len(f.chunk.Trans) - 1)

	target, err := f.transTargetCell(x.Target)
	if err != nil {
		return 0, err
	}
	d := f.temp()
	f.emit(op.TRANS_OP, d, target, specIdx)
	return d, nil
}

func (f *fnState) transTargetCell(target ast.Expr) (uint16, error) {
	if target == nil {
		d := f.temp()
		f.emit(op.LOAD_SPECIAL, d, f.chunk.strIdx("$_"))
		return d, nil
	}
	return f.compileLValueCell(target)
}

// markLValuePath flags every subscript on a chain so the intermediate
// containers vivify.
func markLValuePath(e ast.Expr) {
	switch x := e.(type) {
	case *ast.Index:
		x.LValue = true
		markLValuePath(x.Target)
	case *ast.HashKey:
		x.LValue = true
		markLValuePath(x.Target)
	}
}

// compileLValueCell yields a register aliasing a mutable cell.
func (f *fnState) compileLValueCell(e ast.Expr) (uint16, error) {
	switch x := e.(type) {
	case *ast.Variable:
		if x.Sigil == "$" {
			return f.compileVariable(x)
		}
	case *ast.Index:
		markLValuePath(x)
		return f.compileExpr(x)
	case *ast.HashKey:
		markLValuePath(x)
		return f.compileExpr(x)
	case *ast.Deref:
		if x.Sigil == "$" {
			return f.compileDeref(x, true)
		}
	case *ast.VarDecl:
		return f.compileVarDecl(x)
	}
	return f.compileExpr(e)
}
