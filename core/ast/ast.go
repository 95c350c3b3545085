// Package ast defines the syntax tree produced by the parser and consumed by
// the refactorer and the code generator.
package ast

import (
	"fmt"
	"strings"

	"github.com/gperl-lang/gperl/core/token"
)

// Context is the evaluation context a call site imposes on an expression.
// Runtime defers the decision to the current frame's wantarray.
type Context uint8

const (
	CtxVoid Context = iota
	CtxScalar
	CtxList
	CtxRuntime
)

func (c Context) String() string {
	switch c {
	case CtxVoid:
		return "void"
	case CtxScalar:
		return "scalar"
	case CtxList:
		return "list"
	case CtxRuntime:
		return "runtime"
	default:
		return fmt.Sprintf("Context(%d)", uint8(c))
	}
}

// Node is any syntax tree node.
type Node interface {
	Pos() token.Pos
	TokenIndex() int
	String() string
}

// Expr marks expression nodes and exposes their annotated context.
type Expr interface {
	Node
	Context() Context
	SetContext(Context)
}

// Base carries the source position shared by every node.
type Base struct {
	P   token.Pos
	Tok int // index of the first token of the node
}

func (b Base) Pos() token.Pos  { return b.P }
func (b Base) TokenIndex() int { return b.Tok }

// At builds the embedded position record.
func At(p token.Pos, tokenIndex int) Base { return Base{P: p, Tok: tokenIndex} }

// ExprBase adds the context annotation.
type ExprBase struct {
	Base
	Ctx Context
}

func (e *ExprBase) Context() Context     { return e.Ctx }
func (e *ExprBase) SetContext(c Context) { e.Ctx = c }

// ExprAt builds the embedded record for expression nodes.
func ExprAt(p token.Pos, tokenIndex int) ExprBase {
	return ExprBase{Base: Base{P: p, Tok: tokenIndex}}
}

// ---------------------------------------------------------------------------
// Literals and variables

// LiteralKind distinguishes literal payloads.
type LiteralKind uint8

const (
	LitInt LiteralKind = iota
	LitFloat
	LitStr
	LitUndef
)

type Literal struct {
	ExprBase
	Kind LiteralKind
	Int  int64
	Num  float64
	Str  string
}

func (l *Literal) String() string {
	switch l.Kind {
	case LitInt:
		return fmt.Sprintf("%d", l.Int)
	case LitFloat:
		return fmt.Sprintf("%g", l.Num)
	case LitStr:
		return fmt.Sprintf("%q", l.Str)
	default:
		return "undef"
	}
}

// Variable is a sigiled name: $x, @a, %h, &f, *g, $#a.
type Variable struct {
	ExprBase
	Sigil string // "$", "@", "%", "&", "*", "$#"
	Name  string // possibly package-qualified
}

func (v *Variable) String() string { return v.Sigil + v.Name }

// InterpString is a double-quoted string broken into literal and expression
// parts by the string sub-parser.
type InterpString struct {
	ExprBase
	Parts []Expr // Literal(LitStr) or embedded expressions
}

func (s *InterpString) String() string {
	var b strings.Builder
	b.WriteString(`qq(`)
	for _, p := range s.Parts {
		b.WriteString(p.String())
	}
	b.WriteString(`)`)
	return b.String()
}

// ---------------------------------------------------------------------------
// Operators

// UnOp is a named unary operator: "!", "not", "-", "+", "~", "++", "--",
// "++post", "--post", "defined", "scalar", "wantarray", ...
type UnOp struct {
	ExprBase
	Op      string
	Operand Expr
}

func (u *UnOp) String() string { return fmt.Sprintf("(%s %s)", u.Op, u.Operand) }

// BinOp is a named binary operator, including assignments ("=", "+=", ...),
// logicals ("&&", "||", "//", "and", "or"), string ops (".", "x"), the range
// ".." and the comma-less fat arrow pairs are plain list elements.
type BinOp struct {
	ExprBase
	Op    string
	Left  Expr
	Right Expr
}

func (b *BinOp) String() string { return fmt.Sprintf("(%s %s %s)", b.Left, b.Op, b.Right) }

// Ternary is COND ? THEN : ELSE.
type Ternary struct {
	ExprBase
	Cond Expr
	Then Expr
	Else Expr
}

func (t *Ternary) String() string { return fmt.Sprintf("(%s ? %s : %s)", t.Cond, t.Then, t.Else) }

// ListExpr is a comma list, possibly parenthesised.
type ListExpr struct {
	ExprBase
	Elems []Expr
}

func (l *ListExpr) String() string {
	parts := make([]string, len(l.Elems))
	for i, e := range l.Elems {
		parts[i] = e.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// ---------------------------------------------------------------------------
// Element access

// Index is $a[i], $r->[i], EXPR->[i].
type Index struct {
	ExprBase
	Target Expr
	Key    Expr
	Arrow  bool // access through a reference
	LValue bool // autovivify along the path
}

func (ix *Index) String() string { return fmt.Sprintf("%s[%s]", ix.Target, ix.Key) }

// HashKey is $h{k}, $r->{k}, EXPR->{k}.
type HashKey struct {
	ExprBase
	Target Expr
	Key    Expr
	Arrow  bool
	LValue bool
}

func (hk *HashKey) String() string { return fmt.Sprintf("%s{%s}", hk.Target, hk.Key) }

// Slice is @a[LIST], @h{LIST} and their arrow forms.
type Slice struct {
	ExprBase
	Target Expr
	Keys   Expr
	Hash   bool // hash slice
	KV     bool // %-sigil key/value slice
	Arrow  bool
}

func (s *Slice) String() string {
	open, closing := "[", "]"
	if s.Hash {
		open, closing = "{", "}"
	}
	return fmt.Sprintf("%s%s%s%s", s.Target, open, s.Keys, closing)
}

// Deref is ${...}, @{...}, %{...}, &{...} and postfix ->$*, ->@*, ->%*.
type Deref struct {
	ExprBase
	Sigil string
	Ref   Expr
}

func (d *Deref) String() string { return fmt.Sprintf("%s{%s}", d.Sigil, d.Ref) }

// RefGen is \EXPR and \(LIST).
type RefGen struct {
	ExprBase
	Operand Expr
}

func (r *RefGen) String() string { return "\\" + r.Operand.String() }

// AnonArray is [LIST].
type AnonArray struct {
	ExprBase
	Elems Expr
}

func (a *AnonArray) String() string { return "[" + a.Elems.String() + "]" }

// AnonHash is {LIST}.
type AnonHash struct {
	ExprBase
	Elems Expr
}

func (h *AnonHash) String() string { return "+{" + h.Elems.String() + "}" }

// ---------------------------------------------------------------------------
// Calls

// Call is a subroutine call: NAME(ARGS), &NAME(ARGS), or CODEEXPR->(ARGS).
type Call struct {
	ExprBase
	Name      string // empty when calling through Code
	Code      Expr   // non-nil for dereferenced calls
	Args      Expr
	Ampersand bool // &foo style call
}

func (c *Call) String() string {
	if c.Name != "" {
		return fmt.Sprintf("%s(%s)", c.Name, c.Args)
	}
	return fmt.Sprintf("(%s)->(%s)", c.Code, c.Args)
}

// MethodCall is INVOCANT->method(ARGS) or INVOCANT->$code(ARGS).
type MethodCall struct {
	ExprBase
	Invocant Expr
	Name     string
	Dynamic  Expr // non-nil for ->$m style
	Args     Expr
	Super    bool // SUPER::name
}

func (m *MethodCall) String() string { return fmt.Sprintf("%s->%s(%s)", m.Invocant, m.Name, m.Args) }

// BuiltinCall is a named builtin with parsed arguments (print, push, keys,
// sort BLOCK LIST, pack, die, ...). Block holds the trailing code block for
// sort/map/grep.
type BuiltinCall struct {
	ExprBase
	Name       string
	Args       []Expr
	Block      *SubDef // sort/map/grep block, nil otherwise
	Filehandle Expr    // print FH LIST; nil for the selected default
}

func (b *BuiltinCall) String() string {
	parts := make([]string, len(b.Args))
	for i, a := range b.Args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", b.Name, strings.Join(parts, ", "))
}

// ---------------------------------------------------------------------------
// Regex and friends

// Match is m/PATTERN/flags applied to Target (nil means $_).
type Match struct {
	ExprBase
	Pattern Expr   // interpolated pattern; nil means reuse the last successful one
	Raw     string // original pattern text
	Mods    string
	Target  Expr
	Negated bool // !~
}

func (m *Match) String() string { return fmt.Sprintf("(%s =~ m/%s/%s)", m.Target, m.Raw, m.Mods) }

// Subst is s/PATTERN/REPL/flags.
type Subst struct {
	ExprBase
	Pattern Expr
	Raw     string
	Repl    Expr // interpolated replacement; a SubDef body under /e
	Mods    string
	Target  Expr
	Negated bool
}

func (s *Subst) String() string { return fmt.Sprintf("(%s =~ s/%s/.../%s)", s.Target, s.Raw, s.Mods) }

// Trans is tr/SEARCH/REPLACE/mods.
type Trans struct {
	ExprBase
	Search  string
	Replace string
	Mods    string
	Target  Expr
	Negated bool
}

func (t *Trans) String() string {
	return fmt.Sprintf("(%s =~ tr/%s/%s/%s)", t.Target, t.Search, t.Replace, t.Mods)
}

// QwList is qw(...).
type QwList struct {
	ExprBase
	Words []string
}

func (q *QwList) String() string { return "qw(" + strings.Join(q.Words, " ") + ")" }

// Readline is <FH>, <$fh>, <> (diamond).
type Readline struct {
	ExprBase
	Handle  string // named handle; empty for diamond
	Dynamic Expr   // <$fh>
}

func (r *Readline) String() string { return "<" + r.Handle + ">" }

// ---------------------------------------------------------------------------
// Declarations and statements

// DeclKind is the declarator of a variable declaration.
type DeclKind uint8

const (
	DeclMy DeclKind = iota
	DeclOur
	DeclState
	DeclLocal
)

func (k DeclKind) String() string {
	switch k {
	case DeclMy:
		return "my"
	case DeclOur:
		return "our"
	case DeclState:
		return "state"
	default:
		return "local"
	}
}

// VarDecl is my/our/state/local with one or more targets, possibly with a
// declared-reference annotation (my \$x) and an initialiser.
type VarDecl struct {
	ExprBase
	Kind     DeclKind
	Targets  []Expr // Variable nodes (after the declared-ref rewrite)
	DeclRefs []bool // parallel to Targets
	Init     Expr   // nil when bare declaration
}

func (d *VarDecl) String() string {
	parts := make([]string, len(d.Targets))
	for i, t := range d.Targets {
		parts[i] = t.String()
	}
	s := fmt.Sprintf("%s(%s)", d.Kind, strings.Join(parts, ", "))
	if d.Init != nil {
		s += " = " + d.Init.String()
	}
	return s
}

// Block is a brace-delimited statement sequence with its own lexical scope.
type Block struct {
	Base
	Stmts []Node
}

func (b *Block) String() string {
	parts := make([]string, len(b.Stmts))
	for i, s := range b.Stmts {
		parts[i] = s.String()
	}
	return "{ " + strings.Join(parts, "; ") + " }"
}

// ExprStmt wraps an expression evaluated for effect.
type ExprStmt struct {
	Base
	X Expr
}

func (e *ExprStmt) String() string { return e.X.String() }

// ElseIf is one elsif arm.
type ElseIf struct {
	Cond Expr
	Then *Block
}

// If covers if/elsif/else and unless (Negated).
type If struct {
	Base
	Cond    Expr
	Then    *Block
	Elifs   []ElseIf
	Else    *Block
	Negated bool
}

func (i *If) String() string { return fmt.Sprintf("if (%s) %s", i.Cond, i.Then) }

// While covers while and until (Negated), plus do-while (PostCond).
type While struct {
	Base
	Label    string
	Cond     Expr
	Body     *Block
	Negated  bool
	PostCond bool
}

func (w *While) String() string { return fmt.Sprintf("while (%s) %s", w.Cond, w.Body) }

// ForC is the C-style for(init; cond; step).
type ForC struct {
	Base
	Label string
	Init  Node
	Cond  Expr
	Step  Expr
	Body  *Block
}

func (f *ForC) String() string { return fmt.Sprintf("for (...;...;...) %s", f.Body) }

// Foreach iterates a list. Var nil means $_.
type Foreach struct {
	Base
	Label string
	Var   Expr // loop variable; VarDecl for `foreach my $x`
	List  Expr
	Body  *Block
}

func (f *Foreach) String() string { return fmt.Sprintf("foreach %v (%s) %s", f.Var, f.List, f.Body) }

// LoopCtl is last/next/redo with an optional label.
type LoopCtl struct {
	Base
	Op    string
	Label string
}

func (l *LoopCtl) String() string {
	if l.Label != "" {
		return l.Op + " " + l.Label
	}
	return l.Op
}

// Return is an explicit return.
type Return struct {
	Base
	Value Expr // nil for bare return
}

func (r *Return) String() string {
	if r.Value == nil {
		return "return"
	}
	return "return " + r.Value.String()
}

// SigParam is one element of a modern sub signature.
type SigParam struct {
	Var     string // with sigil
	Default Expr   // nil when required
	Slurpy  bool
}

// Capture names an outer cell a nested sub needs at closure construction.
type Capture struct {
	Name       string // with sigil
	Persistent bool   // routed through the persistent-id registry
}

// SubDef is a named or anonymous subroutine. Captures is filled in by the
// parser's scope resolution.
type SubDef struct {
	ExprBase
	Name      string // empty for anonymous
	Package   string
	Prototype string
	HasProto  bool
	Signature []SigParam
	Body      *Block
	Captures  []Capture
}

func (s *SubDef) String() string {
	if s.Name == "" {
		return "sub " + s.Body.String()
	}
	return "sub " + s.Name + " " + s.Body.String()
}

// PackageDecl switches the current package; with a Block it scopes it.
type PackageDecl struct {
	Base
	Name  string
	Block *Block // nil for statement form
}

func (p *PackageDecl) String() string { return "package " + p.Name }

// Use is use/no MODULE LIST. The parser interprets feature/strict/warnings
// itself; everything else is surfaced to the module-loading caller.
type Use struct {
	Base
	No     bool
	Module string
	Args   []string
}

func (u *Use) String() string {
	kw := "use"
	if u.No {
		kw = "no"
	}
	return kw + " " + u.Module
}

// Phase is BEGIN/END/CHECK/INIT/UNITCHECK.
type Phase struct {
	Base
	Which string
	Body  *SubDef
}

func (p *Phase) String() string { return p.Which + " " + p.Body.Body.String() }

// FieldDecl is `field $x :param :reader = DEFAULT`.
type FieldDecl struct {
	Base
	Var     string // with sigil
	Param   bool
	Reader  bool
	Default Expr
}

func (f *FieldDecl) String() string { return "field " + f.Var }

// MethodDecl is `method NAME (SIG) { ... }`.
type MethodDecl struct {
	Base
	Def *SubDef
}

func (m *MethodDecl) String() string { return "method " + m.Def.Name }

// ClassDecl is the experimental class feature before desugaring.
type ClassDecl struct {
	Base
	Name    string
	Isa     string // :isa(PARENT)
	Fields  []*FieldDecl
	Methods []*MethodDecl
	Adjusts []*Block
	Rest    []Node
}

func (c *ClassDecl) String() string { return "class " + c.Name }

// Program is a whole compilation unit.
type Program struct {
	Base
	Name string // source name for diagnostics
	Body *Block
}

func (p *Program) String() string { return p.Body.String() }
