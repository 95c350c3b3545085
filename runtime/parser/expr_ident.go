package parser

import (
	"strings"

	"github.com/gperl-lang/gperl/core/ast"
	"github.com/gperl-lang/gperl/core/diag"
	"github.com/gperl-lang/gperl/core/token"
)

// named unary operators: one optional operand, defaulting to $_.
var namedUnary = map[string]bool{
	"defined": true, "ref": true, "scalar": false, "length": true, "lc": true,
	"uc": true, "lcfirst": true, "ucfirst": true, "chr": true, "ord": true,
	"hex": true, "oct": true, "abs": true, "int": true, "sqrt": true,
	"log": true, "exp": true, "sin": true, "cos": true, "chomp": true,
	"chop": true, "quotemeta": true, "readline": true, "fc": true,
}

// list builtins: flat argument lists.
var listBuiltin = map[string]bool{
	"push": true, "unshift": true, "splice": true, "join": true, "split": true,
	"sprintf": true, "pack": true, "unpack": true, "die": true, "warn": true,
	"reverse": true, "atan2": true, "index": true, "rindex": true,
	"substr": true, "open": true, "close": true, "binmode": true, "eof": true,
	"bless": true, "tie": true, "untie": true, "tied": true, "exists": true,
	"delete": true, "keys": true, "values": true, "each": true, "wantarray": false,
	"caller": true, "sleep": true, "exit": true, "select": true, "local": false,
	"pos": true, "study": true, "srand": true, "rand": true,
}

func (p *Parser) identTerm(at ast.ExprBase) ast.Expr {
	word := p.cur.Text
	switch word {
	case "my", "our", "state", "local":
		return p.varDeclTerm(at)

	case "sub":
		p.advance()
		return p.subBody("", "")

	case "do":
		p.advance()
		if p.cur.Type == token.LBRACE {
			body := p.block()
			return &ast.BuiltinCall{ExprBase: at, Name: "do",
				Block: &ast.SubDef{ExprBase: at, Package: p.pkg, Body: body}}
		}
		// do FILE is the module loader's territory
		arg := p.expr(precUnaryNamed)
		return &ast.BuiltinCall{ExprBase: at, Name: "do", Args: []ast.Expr{arg}}

	case "eval":
		p.advance()
		if p.cur.Type == token.LBRACE {
			body := p.block()
			return &ast.BuiltinCall{ExprBase: at, Name: "eval",
				Block: &ast.SubDef{ExprBase: at, Package: p.pkg, Body: body}}
		}
		var arg ast.Expr
		if p.startsTerm() {
			arg = p.expr(precUnaryNamed)
		} else {
			v := &ast.Variable{ExprBase: at, Sigil: "$", Name: "_"}
			arg = v
		}
		return &ast.BuiltinCall{ExprBase: at, Name: "evalstring", Args: []ast.Expr{arg}}

	case "undef":
		p.advance()
		if p.startsTerm() {
			arg := p.expr(precUnaryNamed)
			return &ast.BuiltinCall{ExprBase: at, Name: "undef", Args: []ast.Expr{arg}}
		}
		return &ast.Literal{ExprBase: at, Kind: ast.LitUndef}

	case "wantarray":
		p.advance()
		return &ast.BuiltinCall{ExprBase: at, Name: "wantarray"}

	case "shift", "pop":
		p.advance()
		var args []ast.Expr
		if p.startsTerm() {
			args = append(args, p.expr(precUnaryNamed))
		}
		return &ast.BuiltinCall{ExprBase: at, Name: word, Args: args}

	case "print", "say", "printf":
		return p.printTerm(at, word)

	case "sort", "grep", "map":
		return p.blockBuiltin(at, word)

	case "scalar":
		p.advance()
		arg := p.expr(precUnaryNamed)
		return &ast.BuiltinCall{ExprBase: at, Name: "scalar", Args: []ast.Expr{arg}}

	case "goto":
		p.advance()
		arg := p.expr(precUnaryNamed)
		return &ast.BuiltinCall{ExprBase: at, Name: "goto", Args: []ast.Expr{arg}}

	case "__PACKAGE__":
		p.advance()
		return &ast.Literal{ExprBase: at, Kind: ast.LitStr, Str: p.pkg}
	case "__FILE__":
		p.advance()
		return &ast.Literal{ExprBase: at, Kind: ast.LitStr, Str: at.P.File}
	case "__LINE__":
		p.advance()
		return &ast.Literal{ExprBase: at, Kind: ast.LitInt, Int: int64(at.P.Line)}
	}

	if on, known := namedUnary[word]; known && on {
		p.advance()
		var args []ast.Expr
		if p.cur.Type == token.LPAREN {
			p.advance()
			if p.cur.Type != token.RPAREN {
				args = append(args, p.expr(precLowest))
			}
			p.expect(token.RPAREN, ")")
		} else if p.startsTerm() {
			args = append(args, p.expr(precUnaryNamed))
		}
		return &ast.BuiltinCall{ExprBase: at, Name: word, Args: args}
	}

	if _, known := listBuiltin[word]; known {
		p.advance()
		args := p.builtinArgs()
		return &ast.BuiltinCall{ExprBase: at, Name: word, Args: args}
	}

	// user subroutine call or bareword
	p.advance()
	if p.cur.Type == token.LPAREN {
		p.advance()
		var args ast.Expr = &ast.ListExpr{ExprBase: at}
		if p.cur.Type != token.RPAREN {
			args = p.commaList(token.RPAREN)
		}
		p.expect(token.RPAREN, ")")
		return &ast.Call{ExprBase: at, Name: word, Args: args}
	}

	// Foo->method class method syntax
	if p.isOp("->") {
		cls := &ast.Literal{ExprBase: at, Kind: ast.LitStr, Str: word}
		return cls
	}

	// listop call without parens when the sub is already known
	if _, known := p.prototypes[p.qualify(word)]; known && p.startsTerm() {
		args := p.builtinArgs()
		list := &ast.ListExpr{ExprBase: at, Elems: args}
		return &ast.Call{ExprBase: at, Name: word, Args: list}
	}

	// fat-comma left side and hash keys arrive as plain COMMA-followed words
	if p.cur.Type == token.COMMA && p.cur.Text == "=>" {
		return &ast.Literal{ExprBase: at, Kind: ast.LitStr, Str: word}
	}

	if p.strictSubs && !isBarewordAllowed(word) {
		p.errorf("Bareword \"%s\" not allowed while \"strict subs\" in use", word)
		return nil
	}
	return &ast.Literal{ExprBase: at, Kind: ast.LitStr, Str: word}
}

// isBarewordAllowed: all-caps barewords pass as filehandles and label-like
// names; package names with :: pass as class names.
func isBarewordAllowed(w string) bool {
	if strings.Contains(w, "::") {
		return true
	}
	for i := 0; i < len(w); i++ {
		c := w[i]
		if !(c >= 'A' && c <= 'Z' || c == '_' || (c >= '0' && c <= '9' && i > 0)) {
			return false
		}
	}
	return true
}

// startsTerm reports whether the cursor could begin a term.
func (p *Parser) startsTerm() bool {
	switch p.cur.Type {
	case token.NUMBER, token.STRING, token.ISTRING, token.VARIABLE, token.IDENT,
		token.LPAREN, token.LBRACKET, token.MATCH, token.SUBST, token.TRANS,
		token.QUOTE_RX, token.WORDLIST, token.READLINE, token.BACKTICK, token.VSTRING:
		return true
	case token.OPERATOR:
		switch p.cur.Text {
		case "!", "~", "-", "+", "\\", "++", "--", "$", "@", "%", "&", "$#":
			return true
		}
	}
	return false
}

// varDeclTerm parses my/our/state/local declarations, including declared
// references (my \$x) and paren lists (my ($a, @b)).
func (p *Parser) varDeclTerm(at ast.ExprBase) ast.Expr {
	kind := declKind(p.cur.Text)
	p.advance()

	d := &ast.VarDecl{ExprBase: at, Kind: kind}

	if kind == ast.DeclLocal {
		// local takes an lvalue expression, not a declaration list
		target := p.expr(precAssign + 1)
		d.Targets = []ast.Expr{target}
		d.DeclRefs = []bool{false}
		return d
	}

	parseOne := func() bool {
		declRef := false
		if p.isOp("\\") {
			declRef = true
			if !p.features["declared_refs"] {
				p.errorf("The experimental declared_refs feature is not enabled")
				return false
			}
			p.warn(diag.CatExpDeclRefs, "Declaring references is experimental")
			p.advance()
		}
		if p.cur.Type != token.VARIABLE {
			p.errorf("syntax error in %s declaration near %q", kind, p.cur.Text)
			return false
		}
		v := p.variableTerm()
		vr := v.(*ast.Variable)
		if declRef {
			// my(\@a): the created slot is always a scalar; rewrite the
			// target to $a and keep the annotation for the destructuring
			vr = &ast.Variable{ExprBase: vr.ExprBase, Sigil: "$", Name: vr.Name}
		}
		d.Targets = append(d.Targets, vr)
		d.DeclRefs = append(d.DeclRefs, declRef)
		return true
	}

	if p.cur.Type == token.LPAREN {
		p.advance()
		for p.cur.Type != token.RPAREN && p.cur.Type != token.EOF && !p.failed {
			if !parseOne() {
				return d
			}
			if p.cur.Type == token.COMMA {
				p.advance()
			}
		}
		p.expect(token.RPAREN, ")")
	} else {
		if !parseOne() {
			return d
		}
	}
	p.declareTargets(d)
	return d
}

// variableTerm reads exactly one VARIABLE token as a Variable node without
// subscript parsing.
func (p *Parser) variableTerm() ast.Expr {
	at := p.exprAt()
	sigil, name := splitSigil(p.cur.Text)
	p.advance()
	return &ast.Variable{ExprBase: at, Sigil: sigil, Name: name}
}

// printTerm: print/say/printf with an optional filehandle slot.
func (p *Parser) printTerm(at ast.ExprBase, word string) ast.Expr {
	p.advance()
	b := &ast.BuiltinCall{ExprBase: at, Name: word}

	// print FH LIST: a bareword filehandle or a {$fh} block with no comma
	if p.cur.Type == token.IDENT && isBarewordAllowed(p.cur.Text) && p.peek().Type != token.COMMA && !p.peekIsOp("->") && p.cur.Text == strings.ToUpper(p.cur.Text) {
		b.Filehandle = &ast.Literal{ExprBase: at, Kind: ast.LitStr, Str: p.cur.Text}
		p.advance()
	} else if p.cur.Type == token.LBRACE {
		// print { EXPR } LIST
		p.advance()
		b.Filehandle = p.expr(precLowest)
		p.expect(token.RBRACE, "}")
	} else if p.cur.Type == token.VARIABLE && strings.HasPrefix(p.cur.Text, "$") && p.peek().Type != token.COMMA && p.peekStartsPrintList() {
		b.Filehandle = p.variableAsUse()
	}

	if p.startsTerm() {
		args := p.commaListLoose()
		b.Args = args
	}
	return b
}

func (p *Parser) peekIsOp(op string) bool {
	n := p.peek()
	return n.Type == token.OPERATOR && n.Text == op
}

// peekStartsPrintList: `print $fh "x"` — the token after the handle starts a
// term rather than continuing an expression.
func (p *Parser) peekStartsPrintList() bool {
	switch p.peek().Type {
	case token.STRING, token.ISTRING, token.NUMBER, token.VARIABLE, token.WORDLIST:
		return true
	}
	return false
}

func (p *Parser) variableAsUse() ast.Expr {
	at := p.exprAt()
	sigil, name := splitSigil(p.cur.Text)
	v := &ast.Variable{ExprBase: at, Sigil: sigil, Name: name}
	p.markUse(v)
	p.advance()
	return v
}

// commaListLoose parses a comma list ending at a statement boundary.
func (p *Parser) commaListLoose() []ast.Expr {
	var out []ast.Expr
	for p.startsTerm() && !p.failed {
		e := p.expr(precAssign)
		if e == nil {
			break
		}
		out = append(out, e)
		if p.cur.Type == token.COMMA {
			p.advance()
			continue
		}
		break
	}
	return out
}

// builtinArgs parses an argument list with or without parens.
func (p *Parser) builtinArgs() []ast.Expr {
	if p.cur.Type == token.LPAREN {
		p.advance()
		var out []ast.Expr
		for p.cur.Type != token.RPAREN && p.cur.Type != token.EOF && !p.failed {
			e := p.expr(precAssign)
			if e == nil {
				break
			}
			out = append(out, e)
			if p.cur.Type == token.COMMA {
				p.advance()
			}
		}
		p.expect(token.RPAREN, ")")
		return out
	}
	return p.commaListLoose()
}

// blockBuiltin: sort/grep/map with an optional leading block or expression.
func (p *Parser) blockBuiltin(at ast.ExprBase, word string) ast.Expr {
	p.advance()
	b := &ast.BuiltinCall{ExprBase: at, Name: word}
	parens := false
	if p.cur.Type == token.LPAREN {
		parens = true
		p.advance()
	}
	if p.cur.Type == token.LBRACE {
		outer := p.scope
		p.scope = newScope(outer)
		p.scope.subDepth = outer.subDepth + 1
		ctx := &subCtx{def: &subCtxDef{seen: map[string]bool{}}, depth: p.scope.subDepth}
		p.subs = append(p.subs, ctx)
		body := p.blockInCurrentScope()
		sub := &ast.SubDef{ExprBase: at, Package: p.pkg, Body: body, Captures: ctx.def.captures}
		p.subs = p.subs[:len(p.subs)-1]
		p.scope = outer
		b.Block = sub
		if p.cur.Type == token.COMMA {
			p.advance()
		}
	}
	for p.startsTerm() && !p.failed {
		e := p.expr(precAssign)
		if e == nil {
			break
		}
		b.Args = append(b.Args, e)
		if p.cur.Type == token.COMMA {
			p.advance()
			continue
		}
		break
	}
	if parens {
		p.expect(token.RPAREN, ")")
	}
	return b
}
