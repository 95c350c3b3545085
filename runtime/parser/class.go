package parser

import (
	"strings"

	"github.com/gperl-lang/gperl/core/ast"
	"github.com/gperl-lang/gperl/core/diag"
	"github.com/gperl-lang/gperl/core/token"
)

// classDecl parses the experimental class syntax. Desugaring into plain
// package/sub form happens in the refactor stage; the parser only builds the
// structured declaration and scopes the field names for method bodies.
func (p *Parser) classDecl() ast.Node {
	at := p.at()
	p.warn(diag.CatExpClass, "class is experimental")
	p.advance() // class
	name := p.expect(token.IDENT, "class name").Text

	cd := &ast.ClassDecl{Base: at, Name: name}

	// attributes: :isa(Parent)
	for p.isOp(":") {
		p.advance()
		attr := p.expect(token.IDENT, "class attribute").Text
		if attr == "isa" {
			p.expect(token.LPAREN, "(")
			cd.Isa = p.expect(token.IDENT, "parent class").Text
			p.expect(token.RPAREN, ")")
		} else {
			p.errorf("Unrecognized class attribute %s", attr)
			return nil
		}
	}

	prevPkg := p.pkg
	prevFields := p.fields
	p.pkg = name
	p.fields = map[string]bool{}

	blockForm := p.cur.Type == token.LBRACE
	if blockForm {
		p.advance()
	} else if p.cur.Type == token.SEMI {
		p.advance()
	}

	for !p.failed {
		if blockForm && p.cur.Type == token.RBRACE {
			p.advance()
			break
		}
		if p.cur.Type == token.EOF {
			if blockForm {
				p.errorf("Missing right curly at end of class %s", name)
			}
			break
		}
		switch {
		case p.isWord("field"):
			f := p.fieldDecl()
			if f != nil {
				cd.Fields = append(cd.Fields, f)
			}
		case p.isWord("method"):
			m := p.methodDecl()
			if m != nil {
				cd.Methods = append(cd.Methods, m)
			}
		case p.isWord("ADJUST"):
			p.advance()
			cd.Adjusts = append(cd.Adjusts, p.block())
		case !blockForm && (p.isWord("class") || p.isWord("package")):
			// statement-form class runs to the next class/package
			p.pkg = prevPkg
			p.fields = prevFields
			return cd
		default:
			st := p.statement()
			if st != nil {
				cd.Rest = append(cd.Rest, st)
			}
		}
	}

	p.pkg = prevPkg
	p.fields = prevFields
	return cd
}

// fieldDecl parses `field $x :param :reader = DEFAULT;`.
func (p *Parser) fieldDecl() *ast.FieldDecl {
	at := p.at()
	p.advance() // field
	if p.cur.Type != token.VARIABLE {
		p.errorf("syntax error: expected field variable near %q", p.cur.Text)
		return nil
	}
	f := &ast.FieldDecl{Base: at, Var: p.cur.Text}
	p.fields[strings.TrimPrefix(p.cur.Text, "$")] = true
	p.advance()

	for p.isOp(":") {
		p.advance()
		attr := p.expect(token.IDENT, "field attribute").Text
		switch attr {
		case "param":
			f.Param = true
		case "reader":
			f.Reader = true
		default:
			p.errorf("Unrecognized field attribute %s", attr)
			return nil
		}
	}
	if p.eatOp("=") {
		f.Default = p.expr(precLowest)
	}
	if p.cur.Type == token.SEMI {
		p.advance()
	}
	return f
}

// methodDecl parses `method NAME (SIG) { ... }`. The implicit $self shift is
// added by the desugar pass; here the body parses with $self and the fields
// in scope.
func (p *Parser) methodDecl() *ast.MethodDecl {
	at := p.at()
	p.advance() // method
	name := p.expect(token.IDENT, "method name").Text

	outer := p.scope
	p.scope = newScope(outer)
	p.scope.subDepth = outer.subDepth + 1
	ctx := &subCtx{def: &subCtxDef{seen: map[string]bool{}}, depth: p.scope.subDepth}
	p.subs = append(p.subs, ctx)

	// $self and every declared field are in scope inside methods
	self := p.scope.declare("$self", ast.DeclMy)
	self.Slot = p.allocSlot()
	for fname := range p.fields {
		e := p.scope.declare("$"+fname, ast.DeclMy)
		e.Slot = p.allocSlot()
	}

	def := &ast.SubDef{ExprBase: ast.ExprAt(at.P, at.Tok), Name: name, Package: p.pkg}
	if p.cur.Type == token.LPAREN {
		def.Signature = p.signature()
	}
	def.Body = p.blockInCurrentScope()
	def.Captures = ctx.def.captures

	p.subs = p.subs[:len(p.subs)-1]
	p.scope = outer
	return &ast.MethodDecl{Base: at, Def: def}
}
