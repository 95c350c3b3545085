// Package parser builds the syntax tree with a precedence-climbing
// recursive descent over the context-sensitive token stream. It owns the
// scoped symbol tables, executes BEGIN blocks as soon as they parse, records
// closure captures, and rewrites declared references.
package parser

import (
	"fmt"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/gperl-lang/gperl/core/ast"
	"github.com/gperl-lang/gperl/core/diag"
	"github.com/gperl-lang/gperl/core/token"
	"github.com/gperl-lang/gperl/runtime/lexer"
)

// Hooks connects the parser to its compilation context. RunPhase compiles
// and executes a BEGIN-like block the moment it parses; side effects must be
// visible to the rest of the parse.
type Hooks struct {
	RunPhase func(which string, sub *ast.SubDef) error
}

// Option configures a parse.
type Option func(*Parser)

// WithFeature pre-enables a feature (class, declared_refs, say, signatures).
func WithFeature(name string) Option {
	return func(p *Parser) { p.features[name] = true }
}

// WithStrict pre-enables strictures.
func WithStrict() Option {
	return func(p *Parser) { p.strictVars = true; p.strictSubs = true }
}

// WithWarnings pre-enables all warning categories.
func WithWarnings() Option {
	return func(p *Parser) { p.warnings.Enable("") }
}

// WithHooks installs the context hooks.
func WithHooks(h Hooks) Option {
	return func(p *Parser) { p.hooks = h }
}

// WithSink routes diagnostics somewhere besides the returned list.
func WithSink(s diag.Sink) Option {
	return func(p *Parser) { p.extraSink = s }
}

// WithScopeSnapshot seeds the outermost scope, used by eval STRING to hand
// the compiler the caller's lexicals.
func WithScopeSnapshot(entries map[string]*Entry) Option {
	return func(p *Parser) {
		for n, e := range entries {
			p.scope.entries[n] = e
		}
	}
}

// Parser holds the parse state.
type Parser struct {
	lx    *lexer.Lexer
	cur   token.Token
	ahead *token.Token // one-token lookahead buffer

	diags     *diag.List
	extraSink diag.Sink
	warnings  *diag.Warnings

	scope *Scope
	pkg   string
	subs  []*subCtx // stack of subs being parsed

	features   map[string]bool
	strictVars bool
	strictSubs bool

	hooks  Hooks
	perIDs *persistentIDs

	prototypes map[string]string // known sub name -> prototype
	fields     map[string]bool   // current class's field names

	failed bool
}

type subCtx struct {
	def   *subCtxDef
	depth int
}

type subCtxDef struct {
	captures []ast.Capture
	seen     map[string]bool
	nslots   int
}

// Parse compiles source text into a Program. Diagnostics carry
// #line-adjusted positions; a fatal syntax error stops the parse.
func Parse(name, src string, opts ...Option) (*ast.Program, *diag.List) {
	p := New(name, src, opts...)
	return p.Program(), p.diags
}

// New builds a parser without running it.
func New(name, src string, opts ...Option) *Parser {
	p := &Parser{
		lx:         lexer.New(name, src),
		diags:      &diag.List{},
		warnings:   diag.NewWarnings(),
		features:   make(map[string]bool),
		prototypes: make(map[string]string),
		pkg:        "main",
		perIDs:     &persistentIDs{},
	}
	p.scope = newScope(nil)
	p.subs = []*subCtx{{def: &subCtxDef{seen: map[string]bool{}}, depth: 0}}
	for _, o := range opts {
		o(p)
	}
	p.advance()
	return p
}

// Scope exposes the outermost scope for eval STRING snapshots.
func (p *Parser) Scope() *Scope { return p.scope }

// VisibleLexicals lists every lexical name visible at the current parse
// position, for BEGIN-block compilation snapshots.
func (p *Parser) VisibleLexicals() map[string]*Entry {
	out := map[string]*Entry{}
	for sc := p.scope; sc != nil; sc = sc.parent {
		for n, e := range sc.entries {
			if _, ok := out[n]; !ok {
				out[n] = e
			}
		}
	}
	return out
}

// LineMap exposes the #line mapping for downstream diagnostics.
func (p *Parser) LineMap() *token.LineMap { return p.lx.LineMap() }

// Diags exposes the accumulated diagnostic list.
func (p *Parser) Diags() *diag.List { return p.diags }

// Program parses the whole unit.
func (p *Parser) Program() *ast.Program {
	body := &ast.Block{Base: p.at()}
	for p.cur.Type != token.EOF && !p.failed {
		st := p.statement()
		if st != nil {
			body.Stmts = append(body.Stmts, st)
		}
	}
	prog := &ast.Program{Base: body.Base, Name: "main", Body: body}
	if !p.failed {
		annotateProgram(prog)
	}
	return prog
}

// ---------------------------------------------------------------------------
// token plumbing

func (p *Parser) advance() {
	if p.ahead != nil {
		p.cur = *p.ahead
		p.ahead = nil
		return
	}
	p.cur = p.lx.Next()
}

func (p *Parser) peek() token.Token {
	if p.ahead == nil {
		t := p.lx.Next()
		p.ahead = &t
	}
	return *p.ahead
}

func (p *Parser) at() ast.Base {
	return ast.At(p.lx.LineMap().Resolve(p.cur.Line), p.cur.Index)
}

func (p *Parser) exprAt() ast.ExprBase {
	return ast.ExprAt(p.lx.LineMap().Resolve(p.cur.Line), p.cur.Index)
}

func (p *Parser) isOp(text string) bool {
	return p.cur.Type == token.OPERATOR && p.cur.Text == text
}

func (p *Parser) isWord(text string) bool {
	return p.cur.Type == token.IDENT && p.cur.Text == text
}

func (p *Parser) eatOp(text string) bool {
	if p.isOp(text) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expect(t token.Type, what string) token.Token {
	if p.cur.Type != t {
		p.errorf("syntax error: expected %s near %q", what, p.cur.Text)
		return p.cur
	}
	tok := p.cur
	p.advance()
	return tok
}

func (p *Parser) errorf(format string, args ...interface{}) {
	if p.failed {
		return
	}
	p.failed = true
	d := diag.Diagnostic{
		Severity: diag.SevError,
		Message:  sprintf(format, args...),
		Pos:      p.lx.LineMap().Resolve(p.cur.Line),
	}
	p.diags.Report(d)
	if p.extraSink != nil {
		p.extraSink.Report(d)
	}
}

func (p *Parser) warn(cat diag.Category, format string, args ...interface{}) {
	if !p.warnings.Enabled(cat) {
		return
	}
	d := diag.Diagnostic{
		Severity: diag.SevWarning,
		Category: cat,
		Message:  sprintf(format, args...),
		Pos:      p.lx.LineMap().Resolve(p.cur.Line),
	}
	p.diags.Report(d)
	if p.extraSink != nil {
		p.extraSink.Report(d)
	}
}

// ---------------------------------------------------------------------------
// statements

func (p *Parser) statement() ast.Node {
	switch {
	case p.cur.Type == token.SEMI:
		p.advance()
		return nil

	case p.cur.Type == token.IDENT:
		switch p.cur.Text {
		case "sub":
			if p.peek().Type == token.IDENT {
				return p.namedSub()
			}
		case "package":
			return p.packageDecl()
		case "use", "no":
			return p.useStatement()
		case "BEGIN", "END", "CHECK", "INIT", "UNITCHECK":
			if p.peek().Type == token.LBRACE {
				return p.phaseBlock()
			}
		case "if", "unless":
			return p.ifStatement()
		case "while", "until":
			return p.whileStatement("")
		case "for", "foreach":
			return p.forStatement("")
		case "do":
			if p.peek().Type == token.LBRACE {
				return p.doBlockStatement()
			}
		case "return":
			return p.returnStatement()
		case "last", "next", "redo":
			return p.loopControl()
		case "class":
			if p.features["class"] {
				return p.classDecl()
			}
		case "field", "method", "ADJUST":
			if p.features["class"] {
				p.errorf("%s outside of class block", p.cur.Text)
				return nil
			}
		}
		// LABEL: statement
		if isLabelName(p.cur.Text) && p.peek().Type == token.OPERATOR && p.peek().Text == ":" {
			label := p.cur.Text
			p.advance()
			p.advance()
			return p.labeledStatement(label)
		}

	case p.cur.Type == token.LBRACE:
		return p.bareBlock()
	}

	return p.exprStatement()
}

func isLabelName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		upper := c >= 'A' && c <= 'Z' || c == '_' || (i > 0 && c >= '0' && c <= '9')
		if !upper {
			return false
		}
	}
	return true
}

func (p *Parser) labeledStatement(label string) ast.Node {
	switch {
	case p.isWord("while"), p.isWord("until"):
		return p.whileStatement(label)
	case p.isWord("for"), p.isWord("foreach"):
		return p.forStatement(label)
	case p.cur.Type == token.LBRACE:
		// a labelled bare block is a loop that runs once
		b := p.block()
		zero := &ast.Literal{ExprBase: ast.ExprAt(b.Pos(), b.TokenIndex()), Kind: ast.LitInt}
		return &ast.While{Base: b.Base, Label: label, Cond: zero, Body: b, PostCond: true}
	default:
		return p.statement()
	}
}

// exprStatement parses EXPR followed by optional statement modifiers.
func (p *Parser) exprStatement() ast.Node {
	at := p.at()
	x := p.expr(precLowest)
	if x == nil {
		if !p.failed {
			p.errorf("syntax error near %q", p.cur.Text)
		}
		return nil
	}
	st := p.statementModifiers(at, x)
	if p.cur.Type == token.SEMI {
		p.advance()
	} else if p.cur.Type != token.EOF && p.cur.Type != token.RBRACE && !p.failed {
		p.errorf("syntax error: expected ; near %q", p.cur.Text)
	}
	return st
}

// statementModifiers wraps EXPR with trailing if/unless/while/until/for.
func (p *Parser) statementModifiers(at ast.Base, x ast.Expr) ast.Node {
	for p.cur.Type == token.IDENT {
		switch p.cur.Text {
		case "if", "unless":
			neg := p.cur.Text == "unless"
			p.advance()
			cond := p.expr(precLowest)
			body := &ast.Block{Base: at, Stmts: []ast.Node{&ast.ExprStmt{Base: at, X: x}}}
			return &ast.If{Base: at, Cond: cond, Then: body, Negated: neg}
		case "while", "until":
			neg := p.cur.Text == "until"
			p.advance()
			cond := p.expr(precLowest)
			body := &ast.Block{Base: at, Stmts: []ast.Node{&ast.ExprStmt{Base: at, X: x}}}
			return &ast.While{Base: at, Cond: cond, Body: body, Negated: neg}
		case "for", "foreach":
			p.advance()
			list := p.expr(precLowest)
			body := &ast.Block{Base: at, Stmts: []ast.Node{&ast.ExprStmt{Base: at, X: x}}}
			return &ast.Foreach{Base: at, List: list, Body: body}
		default:
			return &ast.ExprStmt{Base: at, X: x}
		}
	}
	return &ast.ExprStmt{Base: at, X: x}
}

func (p *Parser) bareBlock() ast.Node {
	return p.block()
}

// block parses { ... } with its own scope.
func (p *Parser) block() *ast.Block {
	at := p.at()
	p.expect(token.LBRACE, "{")
	p.scope = newScope(p.scope)
	b := &ast.Block{Base: at}
	for p.cur.Type != token.RBRACE && p.cur.Type != token.EOF && !p.failed {
		st := p.statement()
		if st != nil {
			b.Stmts = append(b.Stmts, st)
		}
	}
	p.expect(token.RBRACE, "}")
	p.scope = p.scope.parent
	return b
}

func (p *Parser) ifStatement() ast.Node {
	at := p.at()
	neg := p.cur.Text == "unless"
	p.advance()
	p.expect(token.LPAREN, "(")
	cond := p.expr(precLowest)
	p.expect(token.RPAREN, ")")
	then := p.block()
	node := &ast.If{Base: at, Cond: cond, Then: then, Negated: neg}
	for p.isWord("elsif") {
		p.advance()
		p.expect(token.LPAREN, "(")
		c := p.expr(precLowest)
		p.expect(token.RPAREN, ")")
		node.Elifs = append(node.Elifs, ast.ElseIf{Cond: c, Then: p.block()})
	}
	if p.isWord("else") {
		p.advance()
		node.Else = p.block()
	}
	return node
}

func (p *Parser) whileStatement(label string) ast.Node {
	at := p.at()
	neg := p.cur.Text == "until"
	p.advance()
	p.expect(token.LPAREN, "(")
	var cond ast.Expr
	if p.cur.Type != token.RPAREN {
		cond = p.expr(precLowest)
	}
	p.expect(token.RPAREN, ")")
	body := p.block()
	return &ast.While{Base: at, Label: label, Cond: cond, Body: body, Negated: neg}
}

func (p *Parser) forStatement(label string) ast.Node {
	at := p.at()
	p.advance()

	// foreach my $x (LIST) / foreach $x (LIST) / foreach (LIST)
	if p.cur.Type != token.LPAREN {
		var loopVar ast.Expr
		if p.isWord("my") || p.isWord("our") || p.isWord("state") {
			kind := declKind(p.cur.Text)
			p.advance()
			v := p.variableTerm()
			vd := &ast.VarDecl{ExprBase: p.exprAt(), Kind: kind, Targets: []ast.Expr{v}, DeclRefs: []bool{false}}
			p.declareTargets(vd)
			loopVar = vd
		} else if p.cur.Type == token.VARIABLE {
			loopVar = p.variableTerm()
		}
		p.expect(token.LPAREN, "(")
		list := p.expr(precLowest)
		p.expect(token.RPAREN, ")")
		body := p.block()
		return &ast.Foreach{Base: at, Label: label, Var: loopVar, List: list, Body: body}
	}

	// C-style or list form
	p.expect(token.LPAREN, "(")
	if p.cur.Type == token.SEMI {
		// for (; cond; step)
		p.advance()
		return p.cForRest(at, label, nil)
	}
	first := p.expr(precLowest)
	if p.cur.Type == token.SEMI {
		p.advance()
		init := &ast.ExprStmt{Base: at, X: first}
		return p.cForRest(at, label, init)
	}
	// list form: for (LIST) { }
	p.expect(token.RPAREN, ")")
	body := p.block()
	return &ast.Foreach{Base: at, Label: label, List: first, Body: body}
}

func (p *Parser) cForRest(at ast.Base, label string, init ast.Node) ast.Node {
	var cond, step ast.Expr
	if p.cur.Type != token.SEMI {
		cond = p.expr(precLowest)
	}
	p.expect(token.SEMI, ";")
	if p.cur.Type != token.RPAREN {
		step = p.expr(precLowest)
	}
	p.expect(token.RPAREN, ")")
	body := p.block()
	return &ast.ForC{Base: at, Label: label, Init: init, Cond: cond, Step: step, Body: body}
}

func (p *Parser) doBlockStatement() ast.Node {
	at := p.at()
	p.advance() // do
	body := p.block()
	// do { } while/until COND
	if p.isWord("while") || p.isWord("until") {
		neg := p.cur.Text == "until"
		p.advance()
		cond := p.expr(precLowest)
		if p.cur.Type == token.SEMI {
			p.advance()
		}
		return &ast.While{Base: at, Cond: cond, Body: body, Negated: neg, PostCond: true}
	}
	if p.cur.Type == token.SEMI {
		p.advance()
	}
	return body
}

func (p *Parser) returnStatement() ast.Node {
	at := p.at()
	p.advance()
	var val ast.Expr
	if p.cur.Type != token.SEMI && p.cur.Type != token.RBRACE && !p.statementModifierNext() {
		val = p.expr(precLowest)
	}
	ret := &ast.Return{Base: at, Value: val}
	if p.statementModifierNext() {
		// return EXPR if COND
		fake := &returnExpr{ExprBase: ast.ExprAt(at.P, at.Tok), ret: ret}
		return p.statementModifiers(at, fake)
	}
	if p.cur.Type == token.SEMI {
		p.advance()
	}
	return ret
}

func (p *Parser) statementModifierNext() bool {
	if p.cur.Type != token.IDENT {
		return false
	}
	switch p.cur.Text {
	case "if", "unless", "while", "until", "for", "foreach":
		return true
	}
	return false
}

// returnExpr lets `return EXPR if COND` ride the modifier machinery.
type returnExpr struct {
	ast.ExprBase
	ret *ast.Return
}

func (r *returnExpr) String() string { return r.ret.String() }

// ReturnNode unwraps the inner return for the code generator.
func (r *returnExpr) ReturnNode() *ast.Return { return r.ret }

func (p *Parser) loopControl() ast.Node {
	at := p.at()
	op := p.cur.Text
	p.advance()
	label := ""
	if p.cur.Type == token.IDENT && isLabelName(p.cur.Text) {
		label = p.cur.Text
		p.advance()
	}
	lc := &ast.LoopCtl{Base: at, Op: op, Label: label}
	if p.statementModifierNext() {
		fake := &loopCtlExpr{ExprBase: ast.ExprAt(at.P, at.Tok), lc: lc}
		return p.statementModifiers(at, fake)
	}
	if p.cur.Type == token.SEMI {
		p.advance()
	}
	return lc
}

type loopCtlExpr struct {
	ast.ExprBase
	lc *ast.LoopCtl
}

func (l *loopCtlExpr) String() string { return l.lc.String() }

// CtlNode unwraps the loop control for the code generator.
func (l *loopCtlExpr) CtlNode() *ast.LoopCtl { return l.lc }

func (p *Parser) packageDecl() ast.Node {
	at := p.at()
	p.advance()
	name := p.expect(token.IDENT, "package name").Text
	prev := p.pkg
	p.pkg = name
	if p.cur.Type == token.LBRACE {
		b := p.block()
		p.pkg = prev
		return &ast.PackageDecl{Base: at, Name: name, Block: b}
	}
	if p.cur.Type == token.SEMI {
		p.advance()
	}
	return &ast.PackageDecl{Base: at, Name: name}
}

// useStatement interprets strict/warnings/feature itself; other modules
// surface as Use nodes for the module-loading caller.
func (p *Parser) useStatement() ast.Node {
	at := p.at()
	no := p.cur.Text == "no"
	p.advance()
	if p.cur.Type == token.NUMBER || p.cur.Type == token.VSTRING {
		// use VERSION
		p.advance()
		if p.cur.Type == token.SEMI {
			p.advance()
		}
		return &ast.Use{Base: at, No: no, Module: ""}
	}
	mod := p.expect(token.IDENT, "module name").Text
	var args []string
	for p.cur.Type != token.SEMI && p.cur.Type != token.EOF && !p.failed {
		switch p.cur.Type {
		case token.STRING, token.ISTRING:
			args = append(args, p.cur.Body)
		case token.IDENT, token.NUMBER:
			args = append(args, p.cur.Text)
		case token.WORDLIST:
			args = append(args, strings.Fields(p.cur.Body)...)
		case token.COMMA, token.LPAREN, token.RPAREN:
			// list syntax noise
		default:
			p.errorf("syntax error in use statement near %q", p.cur.Text)
			return nil
		}
		p.advance()
	}
	if p.cur.Type == token.SEMI {
		p.advance()
	}
	p.applyPragma(no, mod, args)
	return &ast.Use{Base: at, No: no, Module: mod, Args: args}
}

func (p *Parser) applyPragma(no bool, mod string, args []string) {
	switch mod {
	case "strict":
		which := args
		if len(which) == 0 {
			which = []string{"vars", "subs", "refs"}
		}
		for _, w := range which {
			switch w {
			case "vars":
				p.strictVars = !no
			case "subs":
				p.strictSubs = !no
			}
		}
	case "warnings":
		if len(args) == 0 {
			if no {
				p.warnings.Disable("")
			} else {
				p.warnings.Enable("")
			}
			return
		}
		for _, a := range args {
			if no {
				p.warnings.Disable(diag.Category(a))
			} else {
				p.warnings.Enable(diag.Category(a))
			}
		}
	case "feature":
		for _, a := range args {
			p.features[a] = !no
		}
	case "experimental":
		for _, a := range args {
			p.features[a] = !no
		}
	}
}

func (p *Parser) phaseBlock() ast.Node {
	at := p.at()
	which := p.cur.Text
	p.advance()
	sub := p.subBody("", "")
	ph := &ast.Phase{Base: at, Which: which, Body: sub}
	if which == "BEGIN" && p.hooks.RunPhase != nil && !p.failed {
		// persistent ids for every outer lexical the block touches
		p.promoteCaptures(sub)
		if err := p.hooks.RunPhase(which, sub); err != nil {
			p.errorf("BEGIN failed--compilation aborted: %v", err)
		}
	}
	return ph
}

// promoteCaptures gives every lexical captured by a BEGIN block a stable
// persistent id so closures built later can recover the same cell by name.
func (p *Parser) promoteCaptures(sub *ast.SubDef) {
	for i, c := range sub.Captures {
		e := p.scope.lookup(c.Name)
		if e != nil && e.Persistent == "" {
			e.Persistent = p.perIDs.id(p.pkg, c.Name)
		}
		if e != nil {
			sub.Captures[i].Persistent = true
		}
	}
}

// PersistentName exposes an entry's registry key for the code generator.
func (e *Entry) PersistentName() string { return e.Persistent }

func (p *Parser) namedSub() ast.Node {
	p.advance() // sub
	name := p.expect(token.IDENT, "subroutine name").Text
	proto := ""
	hasProto := false
	if p.cur.Type == token.LPAREN && !p.features["signatures"] {
		proto = p.parsePrototype()
		hasProto = true
		p.prototypes[p.qualify(name)] = proto
	}
	sub := p.subBody(name, proto)
	sub.HasProto = hasProto
	return &ast.ExprStmt{Base: ast.At(sub.Pos(), sub.TokenIndex()), X: sub}
}

func (p *Parser) qualify(name string) string {
	if strings.Contains(name, "::") {
		return name
	}
	return p.pkg + "::" + name
}

// parsePrototype consumes ( ... ) built from sigil/ampersand/backslash
// tokens and returns their text concatenated. namedSub calls it only when
// the signatures feature is off; signatures are parsed by subBody.
func (p *Parser) parsePrototype() string {
	p.expect(token.LPAREN, "(")
	var b strings.Builder
	for p.cur.Type != token.RPAREN && p.cur.Type != token.EOF && !p.failed {
		switch p.cur.Type {
		case token.OPERATOR:
			b.WriteString(p.cur.Text)
		case token.VARIABLE:
			b.WriteString(p.cur.Text)
		case token.SEMI:
			b.WriteString(";")
		case token.LBRACKET:
			b.WriteString("[")
		case token.RBRACKET:
			b.WriteString("]")
		default:
			b.WriteString(p.cur.Text)
		}
		p.advance()
	}
	p.expect(token.RPAREN, ")")
	return b.String()
}

// subBody parses a sub's block, managing the sub-depth scope and collecting
// captures. Signatures are handled when the signatures feature is on.
func (p *Parser) subBody(name, proto string) *ast.SubDef {
	at := p.exprAt()
	def := &ast.SubDef{ExprBase: at, Name: name, Package: p.pkg, Prototype: proto}

	outer := p.scope
	p.scope = newScope(outer)
	p.scope.subDepth = outer.subDepth + 1
	ctx := &subCtx{def: &subCtxDef{seen: map[string]bool{}}, depth: p.scope.subDepth}
	p.subs = append(p.subs, ctx)

	// signature (SIG) when the block hasn't started yet
	if p.cur.Type == token.LPAREN && proto == "" {
		def.Signature = p.signature()
	}

	def.Body = p.blockInCurrentScope()

	def.Captures = ctx.def.captures
	p.subs = p.subs[:len(p.subs)-1]
	p.scope = outer
	return def
}

func (p *Parser) signature() []ast.SigParam {
	p.expect(token.LPAREN, "(")
	var sig []ast.SigParam
	for p.cur.Type != token.RPAREN && p.cur.Type != token.EOF && !p.failed {
		if p.cur.Type != token.VARIABLE {
			p.errorf("syntax error in signature near %q", p.cur.Text)
			return sig
		}
		param := ast.SigParam{Var: p.cur.Text}
		param.Slurpy = strings.HasPrefix(param.Var, "@") || strings.HasPrefix(param.Var, "%")
		e := p.scope.declare(param.Var, ast.DeclMy)
		e.Slot = p.allocSlot()
		p.advance()
		if p.eatOp("=") {
			param.Default = p.expr(precAssign + 1)
		}
		if p.cur.Type == token.COMMA {
			p.advance()
		}
		sig = append(sig, param)
	}
	p.expect(token.RPAREN, ")")
	return sig
}

// blockInCurrentScope parses { ... } without pushing another scope (the sub
// already pushed one for its parameters).
func (p *Parser) blockInCurrentScope() *ast.Block {
	at := p.at()
	p.expect(token.LBRACE, "{")
	b := &ast.Block{Base: at}
	for p.cur.Type != token.RBRACE && p.cur.Type != token.EOF && !p.failed {
		st := p.statement()
		if st != nil {
			b.Stmts = append(b.Stmts, st)
		}
	}
	p.expect(token.RBRACE, "}")
	return b
}

func (p *Parser) allocSlot() int {
	ctx := p.subs[len(p.subs)-1]
	ctx.def.nslots++
	return ctx.def.nslots - 1
}

// declareTargets registers the variables of a VarDecl in the current scope.
func (p *Parser) declareTargets(d *ast.VarDecl) {
	for i, t := range d.Targets {
		v, ok := t.(*ast.Variable)
		if !ok {
			continue
		}
		switch d.Kind {
		case ast.DeclMy, ast.DeclState:
			e := p.scope.declare(v.Sigil+v.Name, d.Kind)
			e.DeclaredRef = d.DeclRefs[i]
			e.Slot = p.allocSlot()
			if d.Kind == ast.DeclState {
				e.Persistent = p.perIDs.id(p.pkg, v.Sigil+v.Name)
			}
		case ast.DeclOur:
			e := p.scope.declare(v.Sigil+v.Name, d.Kind)
			e.OurPackage = p.pkg
		case ast.DeclLocal:
			// local doesn't declare a lexical
		}
	}
}

// markUse resolves a variable use against the scopes, recording captures
// and enforcing strict vars.
func (p *Parser) markUse(v *ast.Variable) {
	name := v.Sigil + v.Name
	if v.Sigil == "$#" {
		name = "@" + v.Name
	}
	if strings.Contains(v.Name, "::") {
		return
	}
	e := p.scope.lookup(name)
	if e == nil {
		if isSpecialName(v.Name) {
			return
		}
		if p.strictVars && v.Sigil != "&" && v.Sigil != "*" {
			sugg := ""
			best, bestDist := "", 3
			for _, cand := range p.scope.visibleNames() {
				if d := fuzzy.LevenshteinDistance(name, cand); d < bestDist {
					best, bestDist = cand, d
				}
			}
			if best != "" {
				sugg = " (did you mean " + best + "?)"
			}
			p.errorf("Global symbol \"%s\" requires explicit package name%s", name, sugg)
		}
		return
	}
	cur := p.subs[len(p.subs)-1]
	if e.subDepth < cur.depth && e.Decl != ast.DeclOur {
		// captured from an outer sub: every sub between the owner and the
		// use must carry the cell so nested closures can be constructed
		for _, sc := range p.subs {
			if sc.depth <= e.subDepth {
				continue
			}
			if !sc.def.seen[name] {
				sc.def.seen[name] = true
				sc.def.captures = append(sc.def.captures, ast.Capture{Name: name, Persistent: e.Persistent != ""})
			}
		}
		e.Captured = true
	}
}

func isSpecialName(name string) bool {
	if name == "" {
		return true
	}
	switch name {
	case "_", "0", "ARGV", "ENV", "INC", "STDIN", "STDOUT", "STDERR", "SIG", "a", "b":
		return true
	}
	c := name[0]
	if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_') {
		return true // punctuation variables
	}
	if c >= '0' && c <= '9' {
		return true // capture groups
	}
	if strings.HasPrefix(name, "^") {
		return true
	}
	return false
}

func declKind(word string) ast.DeclKind {
	switch word {
	case "my":
		return ast.DeclMy
	case "our":
		return ast.DeclOur
	case "state":
		return ast.DeclState
	default:
		return ast.DeclLocal
	}
}

func sprintf(format string, args ...interface{}) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
