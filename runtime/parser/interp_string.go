package parser

import (
	"strconv"
	"strings"

	"github.com/gperl-lang/gperl/core/ast"
)

// interpolateString parses the body of a double-quoted string, heredoc or
// regex into literal and expression parts. Arrays interpolate joined with
// $"; scalars with full element/arrow chains are supported.
func (p *Parser) interpolateString(body string, at ast.ExprBase) ast.Expr {
	var parts []ast.Expr
	var lit strings.Builder

	flushLit := func() {
		if lit.Len() > 0 {
			parts = append(parts, &ast.Literal{ExprBase: at, Kind: ast.LitStr, Str: lit.String()})
			lit.Reset()
		}
	}

	i := 0
	for i < len(body) {
		c := body[i]
		switch {
		case c == '\\' && i+1 < len(body):
			i++
			e := body[i]
			i++
			switch e {
			case 'n':
				lit.WriteByte('\n')
			case 't':
				lit.WriteByte('\t')
			case 'r':
				lit.WriteByte('\r')
			case 'f':
				lit.WriteByte('\f')
			case 'b':
				lit.WriteByte('\b')
			case 'a':
				lit.WriteByte(7)
			case 'e':
				lit.WriteByte(27)
			case '0':
				lit.WriteByte(0)
			case 'x':
				if i < len(body) && body[i] == '{' {
					end := strings.IndexByte(body[i:], '}')
					if end > 0 {
						if n, err := strconv.ParseInt(body[i+1:i+end], 16, 32); err == nil {
							lit.WriteRune(rune(n))
						}
						i += end + 1
						continue
					}
				}
				// \xHH
				j := i
				for j < len(body) && j < i+2 && isHexByte(body[j]) {
					j++
				}
				if j > i {
					n, _ := strconv.ParseInt(body[i:j], 16, 32)
					lit.WriteRune(rune(n))
					i = j
				}
			default:
				lit.WriteByte(e)
			}

		case (c == '$' || c == '@') && i+1 < len(body) && startsVarInterp(body[i+1]):
			exprText, next := scanVarInterp(body, i)
			if exprText == "" {
				lit.WriteByte(c)
				i++
				continue
			}
			flushLit()
			e := p.parseExprSnippet(exprText, at)
			if c == '@' {
				sep := &ast.Variable{ExprBase: at, Sigil: "$", Name: "\""}
				e = &ast.BuiltinCall{ExprBase: at, Name: "join", Args: []ast.Expr{sep, e}}
			}
			parts = append(parts, e)
			i = next

		default:
			lit.WriteByte(c)
			i++
		}
	}
	flushLit()

	if len(parts) == 0 {
		return &ast.Literal{ExprBase: at, Kind: ast.LitStr, Str: ""}
	}
	if len(parts) == 1 {
		if l, ok := parts[0].(*ast.Literal); ok {
			return l
		}
	}
	return &ast.InterpString{ExprBase: at, Parts: parts}
}

func startsVarInterp(c byte) bool {
	return c == '{' || c == '$' || c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isHexByte(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// scanVarInterp extracts the source text of one embedded variable
// expression starting at the sigil: $name, ${...}, $h{k}, $a[0],
// $r->[0]{x}, @list, @{...}. Returns the text and the index just past it.
func scanVarInterp(s string, start int) (string, int) {
	i := start + 1 // past the sigil
	if i >= len(s) {
		return "", start
	}
	if s[i] == '{' {
		depth := 0
		j := i
		for j < len(s) {
			switch s[j] {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return s[start : j+1], j + 1
				}
			}
			j++
		}
		return "", start
	}
	// $$name and deeper derefs
	for i < len(s) && s[i] == '$' {
		i++
	}
	// name with package qualifiers, or a digit variable
	nameStart := i
	if i < len(s) && s[i] >= '0' && s[i] <= '9' {
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
	} else {
		for i < len(s) {
			c := s[i]
			if c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
				i++
				continue
			}
			if c == ':' && i+1 < len(s) && s[i+1] == ':' {
				i += 2
				continue
			}
			break
		}
	}
	if i == nameStart {
		return "", start
	}
	// subscript chains: [..], {..}, ->[..], ->{..}
	for i < len(s) {
		if s[i] == '[' || s[i] == '{' {
			closer := byte(']')
			if s[i] == '{' {
				closer = '}'
			}
			depth := 0
			j := i
			ok := false
			for j < len(s) {
				if s[j] == s[i] {
					depth++
				} else if s[j] == closer {
					depth--
					if depth == 0 {
						ok = true
						break
					}
				}
				j++
			}
			if !ok {
				break
			}
			i = j + 1
			continue
		}
		if i+1 < len(s) && s[i] == '-' && s[i+1] == '>' && i+2 < len(s) && (s[i+2] == '[' || s[i+2] == '{') {
			i += 2
			continue
		}
		break
	}
	return s[start:i], i
}

// interpolatePattern parses a regex body for variable interpolation ONLY:
// backslash escapes belong to the regex engine and pass through verbatim,
// including \$ and \@.
func (p *Parser) interpolatePattern(body string, at ast.ExprBase) ast.Expr {
	var parts []ast.Expr
	var lit strings.Builder

	flushLit := func() {
		if lit.Len() > 0 {
			parts = append(parts, &ast.Literal{ExprBase: at, Kind: ast.LitStr, Str: lit.String()})
			lit.Reset()
		}
	}

	i := 0
	for i < len(body) {
		c := body[i]
		switch {
		case c == '\\' && i+1 < len(body):
			lit.WriteByte(c)
			lit.WriteByte(body[i+1])
			i += 2
		case (c == '$' || c == '@') && i+1 < len(body) && startsVarInterp(body[i+1]):
			exprText, next := scanVarInterp(body, i)
			if exprText == "" {
				lit.WriteByte(c)
				i++
				continue
			}
			flushLit()
			e := p.parseExprSnippet(exprText, at)
			if c == '@' {
				sep := &ast.Variable{ExprBase: at, Sigil: "$", Name: "\""}
				e = &ast.BuiltinCall{ExprBase: at, Name: "join", Args: []ast.Expr{sep, e}}
			}
			parts = append(parts, e)
			i = next
		default:
			lit.WriteByte(c)
			i++
		}
	}
	flushLit()

	if len(parts) == 0 {
		return &ast.Literal{ExprBase: at, Kind: ast.LitStr, Str: ""}
	}
	if len(parts) == 1 {
		if l, ok := parts[0].(*ast.Literal); ok {
			return l
		}
	}
	return &ast.InterpString{ExprBase: at, Parts: parts}
}

// parseExprSnippet parses an expression fragment against the live scope.
func (p *Parser) parseExprSnippet(src string, at ast.ExprBase) ast.Expr {
	sp := New("interpolation", src)
	sp.scope = p.scope
	sp.subs = p.subs
	sp.features = p.features
	sp.warnings = p.warnings
	sp.strictVars = p.strictVars
	sp.strictSubs = p.strictSubs
	sp.pkg = p.pkg
	sp.perIDs = p.perIDs
	e := sp.expr(precLowest)
	if sp.failed {
		if d, ok := sp.diags.FirstError(); ok {
			p.errorf("%s", d.Message)
		}
		return &ast.Literal{ExprBase: at, Kind: ast.LitStr, Str: src}
	}
	if e == nil {
		return &ast.Literal{ExprBase: at, Kind: ast.LitStr, Str: src}
	}
	return e
}
