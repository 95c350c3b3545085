package parser

import (
	"strconv"
	"strings"

	"github.com/gperl-lang/gperl/core/ast"
	"github.com/gperl-lang/gperl/core/token"
)

// Precedence levels, loosest first. The named logical operators sit below
// assignment like Perl's table says.
const (
	precLowest = iota
	precOrLow  // or xor
	precAndLow // and
	precNotLow // not
	precComma  // handled by callers that want lists
	precAssign // = += ...
	precTernary
	precRange // .. ...
	precOrOr  // || //
	precAndAnd
	precBitOr
	precBitAnd
	precEquality // == != <=> eq ne cmp
	precRelation // < > <= >= lt gt le ge
	precUnaryNamed
	precShift // << >>
	precAdd   // + - .
	precMul   // * / % x
	precMatch // =~ !~
	precUnary // ! ~ \ unary -
	precPower // **
	precIncDec
	precArrow
)

type opInfo struct {
	prec       int
	rightAssoc bool
}

var binaryOps = map[string]opInfo{
	"or": {precOrLow, false}, "xor": {precOrLow, false},
	"and": {precAndLow, false},
	"=":  {precAssign, true},
	"+=": {precAssign, true}, "-=": {precAssign, true}, "*=": {precAssign, true},
	"/=": {precAssign, true}, "%=": {precAssign, true}, "**=": {precAssign, true},
	".=": {precAssign, true}, "x=": {precAssign, true}, "<<=": {precAssign, true},
	">>=": {precAssign, true}, "&=": {precAssign, true}, "|=": {precAssign, true},
	"^=": {precAssign, true}, "&&=": {precAssign, true}, "||=": {precAssign, true},
	"//=": {precAssign, true},
	"..":  {precRange, false}, "...": {precRange, false},
	"||": {precOrOr, false}, "//": {precOrOr, false},
	"&&": {precAndAnd, false},
	"|":  {precBitOr, false}, "^": {precBitOr, false},
	"&":  {precBitAnd, false},
	"==": {precEquality, false}, "!=": {precEquality, false}, "<=>": {precEquality, false},
	"eq": {precEquality, false}, "ne": {precEquality, false}, "cmp": {precEquality, false},
	"<": {precRelation, false}, ">": {precRelation, false},
	"<=": {precRelation, false}, ">=": {precRelation, false},
	"lt": {precRelation, false}, "gt": {precRelation, false},
	"le": {precRelation, false}, "ge": {precRelation, false},
	"isa": {precRelation, false},
	"<<":  {precShift, false}, ">>": {precShift, false},
	"+": {precAdd, false}, "-": {precAdd, false}, ".": {precAdd, false},
	"*": {precMul, false}, "/": {precMul, false}, "%": {precMul, false},
	"x":  {precMul, false},
	"=~": {precMatch, false}, "!~": {precMatch, false},
	"**": {precPower, true},
}

// expr is the precedence climber.
func (p *Parser) expr(minPrec int) ast.Expr {
	var left ast.Expr
	// loosest prefix: not
	if p.isWord("not") && minPrec <= precNotLow {
		at := p.exprAt()
		p.advance()
		operand := p.expr(precNotLow)
		left = &ast.UnOp{ExprBase: at, Op: "not", Operand: operand}
	} else {
		left = p.term()
	}
	if left == nil {
		return nil
	}

	for !p.failed {
		opText, ok := p.binaryOpHere()
		if !ok {
			break
		}
		info := binaryOps[opText]
		if opText == "?" {
			info.prec = precTernary
		}
		if info.prec < minPrec {
			break
		}
		// ?: sits between range and assignment
		if opText == "?" {
			left = p.ternaryRest(left)
			continue
		}
		at := p.exprAt()
		p.advance()

		if opText == "=~" || opText == "!~" {
			left = p.bindMatch(at, left, opText == "!~")
			continue
		}

		nextMin := info.prec + 1
		if info.rightAssoc {
			nextMin = info.prec
		}
		right := p.expr(nextMin)
		if right == nil {
			p.errorf("syntax error: missing operand after %q", opText)
			return left
		}
		left = &ast.BinOp{ExprBase: at, Op: opText, Left: left, Right: right}
	}
	return left
}

// binaryOpHere reports the binary operator at the cursor, if any. Named
// operators arrive as IDENT tokens; '?' introduces the ternary.
func (p *Parser) binaryOpHere() (string, bool) {
	switch p.cur.Type {
	case token.OPERATOR:
		if p.cur.Text == "?" {
			return "?", true
		}
		if _, ok := binaryOps[p.cur.Text]; ok {
			return p.cur.Text, true
		}
	case token.IDENT:
		switch p.cur.Text {
		case "and", "or", "xor", "eq", "ne", "lt", "le", "gt", "ge", "cmp", "x", "isa":
			return p.cur.Text, true
		}
	}
	return "", false
}

func (p *Parser) ternaryRest(cond ast.Expr) ast.Expr {
	at := p.exprAt()
	p.advance() // ?
	then := p.expr(precAssign)
	if !p.eatOp(":") {
		p.errorf("syntax error: expected : in ternary")
		return cond
	}
	els := p.expr(precAssign)
	return &ast.Ternary{ExprBase: at, Cond: cond, Then: then, Else: els}
}

// bindMatch attaches =~ / !~ to a match-ish right operand.
func (p *Parser) bindMatch(at ast.ExprBase, target ast.Expr, negated bool) ast.Expr {
	switch p.cur.Type {
	case token.MATCH:
		m := p.matchTerm()
		m.Target = target
		m.Negated = negated
		return m
	case token.SUBST:
		s := p.substTerm()
		s.Target = target
		s.Negated = negated
		if negated && strings.Contains(s.Mods, "r") {
			p.errorf("Using !~ with s///r doesn't make sense")
		}
		return s
	case token.TRANS:
		tr := p.transTerm()
		tr.Target = target
		tr.Negated = negated
		if negated && strings.Contains(tr.Mods, "r") {
			p.errorf("Using !~ with tr///r doesn't make sense")
		}
		return tr
	case token.QUOTE_RX, token.VARIABLE, token.ISTRING, token.STRING:
		// $x =~ $qr / $x =~ "pattern"
		rx := p.term()
		m := &ast.Match{ExprBase: at, Pattern: rx, Target: target, Negated: negated}
		return m
	default:
		p.errorf("syntax error: expected pattern after %s", map[bool]string{true: "!~", false: "=~"}[negated])
		return target
	}
}

// ---------------------------------------------------------------------------
// terms

func (p *Parser) term() ast.Expr {
	at := p.exprAt()

	var base ast.Expr
	switch p.cur.Type {
	case token.NUMBER:
		base = p.numberTerm()

	case token.VSTRING:
		text := p.cur.Text
		p.advance()
		base = &ast.Literal{ExprBase: at, Kind: ast.LitStr, Str: text}

	case token.STRING:
		body := p.cur.Body
		p.advance()
		base = &ast.Literal{ExprBase: at, Kind: ast.LitStr, Str: body}

	case token.ISTRING:
		base = p.interpTerm()

	case token.BACKTICK:
		body := p.cur.Body
		p.advance()
		base = &ast.BuiltinCall{ExprBase: at, Name: "readpipe", Args: []ast.Expr{
			&ast.Literal{ExprBase: at, Kind: ast.LitStr, Str: body},
		}}

	case token.WORDLIST:
		words := strings.Fields(p.cur.Body)
		p.advance()
		base = &ast.QwList{ExprBase: at, Words: words}

	case token.MATCH:
		m := p.matchTerm()
		base = m

	case token.SUBST:
		s := p.substTerm()
		if strings.Contains(s.Mods, "r") {
			// s///r without a bind runs on $_ and returns the copy
			base = s
		} else {
			base = s
		}

	case token.TRANS:
		base = p.transTerm()

	case token.QUOTE_RX:
		base = p.qrTerm()

	case token.READLINE:
		handle := p.cur.Body
		p.advance()
		rl := &ast.Readline{ExprBase: at}
		if strings.HasPrefix(handle, "$") {
			v := &ast.Variable{ExprBase: at, Sigil: "$", Name: handle[1:]}
			p.markUse(v)
			rl.Dynamic = v
		} else {
			rl.Handle = handle
		}
		base = rl

	case token.VARIABLE:
		base = p.variableOrElement()

	case token.LPAREN:
		p.advance()
		if p.cur.Type == token.RPAREN {
			p.advance()
			base = &ast.ListExpr{ExprBase: at}
		} else {
			inner := p.commaList(token.RPAREN)
			p.expect(token.RPAREN, ")")
			base = inner
		}

	case token.LBRACKET:
		p.advance()
		var elems ast.Expr = &ast.ListExpr{ExprBase: at}
		if p.cur.Type != token.RBRACKET {
			elems = p.commaList(token.RBRACKET)
		}
		p.expect(token.RBRACKET, "]")
		base = &ast.AnonArray{ExprBase: at, Elems: elems}

	case token.LBRACE:
		// anonymous hash constructor in term position
		p.advance()
		var elems ast.Expr = &ast.ListExpr{ExprBase: at}
		if p.cur.Type != token.RBRACE {
			elems = p.commaList(token.RBRACE)
		}
		p.expect(token.RBRACE, "}")
		base = &ast.AnonHash{ExprBase: at, Elems: elems}

	case token.OPERATOR:
		base = p.operatorTerm(at)

	case token.IDENT:
		base = p.identTerm(at)

	default:
		return nil
	}

	if base == nil {
		return nil
	}
	return p.postfix(base)
}

func (p *Parser) numberTerm() ast.Expr {
	at := p.exprAt()
	text := strings.ReplaceAll(p.cur.Text, "_", "")
	p.advance()
	if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
		n, _ := strconv.ParseInt(text[2:], 16, 64)
		return &ast.Literal{ExprBase: at, Kind: ast.LitInt, Int: n}
	}
	if strings.HasPrefix(text, "0b") || strings.HasPrefix(text, "0B") {
		n, _ := strconv.ParseInt(text[2:], 2, 64)
		return &ast.Literal{ExprBase: at, Kind: ast.LitInt, Int: n}
	}
	if !strings.ContainsAny(text, ".eE") {
		if len(text) > 1 && text[0] == '0' {
			n, err := strconv.ParseInt(text[1:], 8, 64)
			if err == nil {
				return &ast.Literal{ExprBase: at, Kind: ast.LitInt, Int: n}
			}
		}
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return &ast.Literal{ExprBase: at, Kind: ast.LitInt, Int: n}
		}
	}
	f, _ := strconv.ParseFloat(text, 64)
	return &ast.Literal{ExprBase: at, Kind: ast.LitFloat, Num: f}
}

func (p *Parser) matchTerm() *ast.Match {
	at := p.exprAt()
	raw := p.cur.Body
	mods := p.cur.Mods
	p.advance()
	m := &ast.Match{ExprBase: at, Raw: raw, Mods: mods}
	if raw != "" {
		m.Pattern = p.interpolatePattern(raw, at)
	}
	return m
}

func (p *Parser) substTerm() *ast.Subst {
	at := p.exprAt()
	raw, replRaw, mods := p.cur.Body, p.cur.Body2, p.cur.Mods
	p.advance()
	s := &ast.Subst{ExprBase: at, Raw: raw, Mods: mods}
	if raw != "" {
		s.Pattern = p.interpolatePattern(raw, at)
	}
	if strings.Contains(mods, "e") {
		// /e: the replacement is code
		sub := p.parseSnippet(replRaw, at)
		s.Repl = sub
	} else {
		s.Repl = p.interpolateString(resolveReplacementEscapes(replRaw), at)
	}
	return s
}

// resolveReplacementEscapes handles \$ \\ \n etc in s/// replacements at
// parse time; the runtime applies no further quoting.
func resolveReplacementEscapes(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '$', '@', '\\':
			// escaped sigils stay escaped for the interpolator
			b.WriteByte('\\')
			b.WriteByte(s[i])
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// parseSnippet compiles a string as an expression sub-parse sharing scopes.
func (p *Parser) parseSnippet(src string, at ast.ExprBase) *ast.SubDef {
	sp := New("replacement", src)
	sp.scope = p.scope
	sp.subs = p.subs
	sp.features = p.features
	sp.warnings = p.warnings
	sp.strictVars = p.strictVars
	sp.strictSubs = p.strictSubs
	sp.pkg = p.pkg
	body := &ast.Block{Base: ast.At(at.P, at.Tok)}
	for sp.cur.Type != token.EOF && !sp.failed {
		st := sp.statement()
		if st != nil {
			body.Stmts = append(body.Stmts, st)
		}
	}
	if sp.failed {
		if d, ok := sp.diags.FirstError(); ok {
			p.errorf("%s", d.Message)
		}
	}
	return &ast.SubDef{ExprBase: at, Package: p.pkg, Body: body}
}

func (p *Parser) transTerm() *ast.Trans {
	at := p.exprAt()
	tr := &ast.Trans{ExprBase: at, Search: p.cur.Body, Replace: p.cur.Body2, Mods: p.cur.Mods}
	p.advance()
	return tr
}

func (p *Parser) qrTerm() ast.Expr {
	at := p.exprAt()
	raw, mods := p.cur.Body, p.cur.Mods
	p.advance()
	return &ast.BuiltinCall{ExprBase: at, Name: "qr", Args: []ast.Expr{
		p.interpolatePattern(raw, at),
		&ast.Literal{ExprBase: at, Kind: ast.LitStr, Str: mods},
	}}
}

func (p *Parser) interpTerm() ast.Expr {
	at := p.exprAt()
	body := p.cur.Body
	p.advance()
	return p.interpolateString(body, at)
}

// variableOrElement parses $x, @a, %h plus element access $a[0], $h{k} and
// slices @a[...], @h{...}.
func (p *Parser) variableOrElement() ast.Expr {
	at := p.exprAt()
	text := p.cur.Text
	p.advance()

	sigil, name := splitSigil(text)
	v := &ast.Variable{ExprBase: at, Sigil: sigil, Name: name}

	switch sigil {
	case "$":
		switch p.cur.Type {
		case token.LBRACKET:
			// $a[i]: element of @a
			p.markUse(&ast.Variable{ExprBase: at, Sigil: "@", Name: name})
			p.advance()
			key := p.expr(precLowest)
			p.expect(token.RBRACKET, "]")
			arr := &ast.Variable{ExprBase: at, Sigil: "@", Name: name}
			return &ast.Index{ExprBase: at, Target: arr, Key: key}
		case token.LBRACE:
			// $h{k}: element of %h
			p.markUse(&ast.Variable{ExprBase: at, Sigil: "%", Name: name})
			key := p.hashSubscript()
			h := &ast.Variable{ExprBase: at, Sigil: "%", Name: name}
			return &ast.HashKey{ExprBase: at, Target: h, Key: key}
		}
		p.markUse(v)
		return v
	case "@":
		switch p.cur.Type {
		case token.LBRACKET:
			p.markUse(&ast.Variable{ExprBase: at, Sigil: "@", Name: name})
			p.advance()
			keys := p.commaList(token.RBRACKET)
			p.expect(token.RBRACKET, "]")
			arr := &ast.Variable{ExprBase: at, Sigil: "@", Name: name}
			return &ast.Slice{ExprBase: at, Target: arr, Keys: keys}
		case token.LBRACE:
			p.markUse(&ast.Variable{ExprBase: at, Sigil: "%", Name: name})
			p.advance()
			keys := p.commaList(token.RBRACE)
			p.expect(token.RBRACE, "}")
			h := &ast.Variable{ExprBase: at, Sigil: "%", Name: name}
			return &ast.Slice{ExprBase: at, Target: h, Keys: keys, Hash: true}
		}
		p.markUse(v)
		return v
	case "%":
		if p.cur.Type == token.LBRACE {
			p.markUse(&ast.Variable{ExprBase: at, Sigil: "%", Name: name})
			p.advance()
			keys := p.commaList(token.RBRACE)
			p.expect(token.RBRACE, "}")
			h := &ast.Variable{ExprBase: at, Sigil: "%", Name: name}
			return &ast.Slice{ExprBase: at, Target: h, Keys: keys, Hash: true, KV: true}
		}
		p.markUse(v)
		return v
	case "&":
		// &foo or &foo(...)
		if p.cur.Type == token.LPAREN {
			p.advance()
			var args ast.Expr = &ast.ListExpr{ExprBase: at}
			if p.cur.Type != token.RPAREN {
				args = p.commaList(token.RPAREN)
			}
			p.expect(token.RPAREN, ")")
			return &ast.Call{ExprBase: at, Name: name, Args: args, Ampersand: true}
		}
		p.markUse(v)
		return v
	default:
		p.markUse(v)
		return v
	}
}

// hashSubscript parses {...} allowing the bareword-key shorthand.
func (p *Parser) hashSubscript() ast.Expr {
	at := p.exprAt()
	p.expect(token.LBRACE, "{")
	var key ast.Expr
	if p.cur.Type == token.IDENT && p.peek().Type == token.RBRACE {
		key = &ast.Literal{ExprBase: at, Kind: ast.LitStr, Str: p.cur.Text}
		p.advance()
	} else {
		key = p.expr(precLowest)
	}
	p.expect(token.RBRACE, "}")
	return key
}

func splitSigil(text string) (string, string) {
	if strings.HasPrefix(text, "$#") {
		return "$#", text[2:]
	}
	if len(text) > 0 {
		return text[:1], text[1:]
	}
	return "$", ""
}

// postfix handles ->, [ ], { }, ( ), ++/-- after a term.
func (p *Parser) postfix(base ast.Expr) ast.Expr {
	for !p.failed {
		switch {
		case p.isOp("->"):
			at := p.exprAt()
			p.advance()
			switch p.cur.Type {
			case token.LBRACKET:
				p.advance()
				key := p.expr(precLowest)
				p.expect(token.RBRACKET, "]")
				base = &ast.Index{ExprBase: at, Target: base, Key: key, Arrow: true}
			case token.LBRACE:
				// reuse the bareword shorthand
				var key ast.Expr
				p.advance()
				if p.cur.Type == token.IDENT && p.peek().Type == token.RBRACE {
					key = &ast.Literal{ExprBase: at, Kind: ast.LitStr, Str: p.cur.Text}
					p.advance()
				} else {
					key = p.expr(precLowest)
				}
				p.expect(token.RBRACE, "}")
				base = &ast.HashKey{ExprBase: at, Target: base, Key: key, Arrow: true}
			case token.LPAREN:
				p.advance()
				var args ast.Expr = &ast.ListExpr{ExprBase: at}
				if p.cur.Type != token.RPAREN {
					args = p.commaList(token.RPAREN)
				}
				p.expect(token.RPAREN, ")")
				base = &ast.Call{ExprBase: at, Code: base, Args: args}
			case token.IDENT:
				base = p.methodCallRest(at, base)
			case token.VARIABLE:
				// ->$method dynamic call
				m := &ast.Variable{ExprBase: at, Sigil: "$", Name: p.cur.Text[1:]}
				p.markUse(m)
				p.advance()
				var args ast.Expr = &ast.ListExpr{ExprBase: at}
				if p.cur.Type == token.LPAREN {
					p.advance()
					if p.cur.Type != token.RPAREN {
						args = p.commaList(token.RPAREN)
					}
					p.expect(token.RPAREN, ")")
				}
				base = &ast.MethodCall{ExprBase: at, Invocant: base, Dynamic: m, Args: args}
			default:
				p.errorf("syntax error after -> near %q", p.cur.Text)
				return base
			}

		case p.isOp("->@*"):
			at := p.exprAt()
			p.advance()
			base = &ast.Deref{ExprBase: at, Sigil: "@", Ref: base}
		case p.isOp("->%*"):
			at := p.exprAt()
			p.advance()
			base = &ast.Deref{ExprBase: at, Sigil: "%", Ref: base}
		case p.isOp("->$*"):
			at := p.exprAt()
			p.advance()
			base = &ast.Deref{ExprBase: at, Sigil: "$", Ref: base}

		case p.isOp("++"), p.isOp("--"):
			at := p.exprAt()
			op := p.cur.Text + "post"
			p.advance()
			base = &ast.UnOp{ExprBase: at, Op: op, Operand: base}

		case p.cur.Type == token.LBRACKET && chainsSubscript(base):
			at := p.exprAt()
			p.advance()
			key := p.expr(precLowest)
			p.expect(token.RBRACKET, "]")
			base = &ast.Index{ExprBase: at, Target: base, Key: key, Arrow: true}
		case p.cur.Type == token.LBRACE && chainsSubscript(base):
			at := p.exprAt()
			p.advance()
			var key ast.Expr
			if p.cur.Type == token.IDENT && p.peek().Type == token.RBRACE {
				key = &ast.Literal{ExprBase: at, Kind: ast.LitStr, Str: p.cur.Text}
				p.advance()
			} else {
				key = p.expr(precLowest)
			}
			p.expect(token.RBRACE, "}")
			base = &ast.HashKey{ExprBase: at, Target: base, Key: key, Arrow: true}

		default:
			return base
		}
	}
	return base
}

// chainsSubscript: $x->[0][1] and $h{a}{b} keep subscripting without ->.
func chainsSubscript(e ast.Expr) bool {
	switch e.(type) {
	case *ast.Index, *ast.HashKey:
		return true
	}
	return false
}

func (p *Parser) methodCallRest(at ast.ExprBase, invocant ast.Expr) ast.Expr {
	name := p.cur.Text
	p.advance()
	super := false
	if strings.HasPrefix(name, "SUPER::") {
		super = true
		name = strings.TrimPrefix(name, "SUPER::")
	}
	var args ast.Expr = &ast.ListExpr{ExprBase: at}
	if p.cur.Type == token.LPAREN {
		p.advance()
		if p.cur.Type != token.RPAREN {
			args = p.commaList(token.RPAREN)
		}
		p.expect(token.RPAREN, ")")
	}
	return &ast.MethodCall{ExprBase: at, Invocant: invocant, Name: name, Args: args, Super: super}
}

// commaList parses elements up to (not including) the closing token type.
func (p *Parser) commaList(closer token.Type) ast.Expr {
	at := p.exprAt()
	list := &ast.ListExpr{ExprBase: at}
	for p.cur.Type != closer && p.cur.Type != token.EOF && !p.failed {
		e := p.expr(precAssign)
		if e == nil {
			break
		}
		list.Elems = append(list.Elems, e)
		if p.cur.Type == token.COMMA {
			p.advance()
			continue
		}
		break
	}
	if len(list.Elems) == 1 {
		if _, isList := list.Elems[0].(*ast.ListExpr); isList {
			return list.Elems[0]
		}
	}
	return list
}

// operatorTerm handles prefix operators and sigil casts.
func (p *Parser) operatorTerm(at ast.ExprBase) ast.Expr {
	op := p.cur.Text
	switch op {
	case "!", "~":
		p.advance()
		return &ast.UnOp{ExprBase: at, Op: op, Operand: p.unaryOperand()}
	case "-":
		p.advance()
		return &ast.UnOp{ExprBase: at, Op: "neg", Operand: p.unaryOperand()}
	case "+":
		p.advance()
		return p.term()
	case "\\":
		p.advance()
		operand := p.unaryOperand()
		return &ast.RefGen{ExprBase: at, Operand: operand}
	case "++", "--":
		p.advance()
		return &ast.UnOp{ExprBase: at, Op: op, Operand: p.term()}
	case "$", "@", "%", "&":
		// sigil cast: ${...} @{...} %{...} &{...} or $$x etc
		p.advance()
		var ref ast.Expr
		if p.cur.Type == token.LBRACE {
			p.advance()
			ref = p.expr(precLowest)
			p.expect(token.RBRACE, "}")
		} else {
			ref = p.term()
		}
		d := &ast.Deref{ExprBase: at, Sigil: op, Ref: ref}
		if op == "&" && p.cur.Type == token.LPAREN {
			p.advance()
			var args ast.Expr = &ast.ListExpr{ExprBase: at}
			if p.cur.Type != token.RPAREN {
				args = p.commaList(token.RPAREN)
			}
			p.expect(token.RPAREN, ")")
			return &ast.Call{ExprBase: at, Code: ref, Args: args}
		}
		return d
	case "$#":
		// $#{expr} / $#$ref
		p.advance()
		var ref ast.Expr
		if p.cur.Type == token.LBRACE {
			p.advance()
			ref = p.expr(precLowest)
			p.expect(token.RBRACE, "}")
		} else {
			ref = p.term()
		}
		return &ast.Deref{ExprBase: at, Sigil: "$#", Ref: ref}
	case "<":
		// bare < in term position after all: a syntax error
		p.errorf("syntax error near %q", op)
		return nil
	}
	p.errorf("syntax error near operator %q", op)
	return nil
}

// unaryOperand binds tighter than binary operators but allows chained
// unary/prefix forms.
func (p *Parser) unaryOperand() ast.Expr {
	return p.expr(precUnary)
}
