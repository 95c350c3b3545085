package refactor

import "github.com/gperl-lang/gperl/core/ast"

// Options configures the large-block pass.
type Options struct {
	Enabled   bool
	Threshold int // estimated bytes above which a block is split
	HardLimit int // the host's per-method cap, for the failure diagnostic
}

// DefaultOptions matches JPERL_LARGECODE=refactor.
func DefaultOptions() Options {
	return Options{Enabled: true, Threshold: 30 * 1024, HardLimit: 64 * 1024}
}

// LargeBlocks rewrites oversized blocks as immediately-invoked closures,
// top-down, then per control-structure body. Blocks containing control flow
// that would cross the closure boundary are left alone.
func LargeBlocks(prog *ast.Program, opts Options) {
	if !opts.Enabled {
		return
	}
	rewriteBlock(prog.Body, opts)
}

func rewriteBlock(b *ast.Block, opts Options) {
	if b == nil {
		return
	}
	// recurse first into control-structure bodies and nested subs so inner
	// oversized regions shrink before the outer decision
	for _, st := range b.Stmts {
		rewriteStmt(st, opts)
	}
	if Estimate(b) <= opts.Threshold {
		return
	}
	splitStatements(b, opts)
}

func rewriteStmt(n ast.Node, opts Options) {
	switch x := n.(type) {
	case *ast.Block:
		rewriteBlock(x, opts)
	case *ast.If:
		rewriteAndMaybeWrap(&x.Then, opts)
		for i := range x.Elifs {
			rewriteAndMaybeWrap(&x.Elifs[i].Then, opts)
		}
		if x.Else != nil {
			rewriteAndMaybeWrap(&x.Else, opts)
		}
	case *ast.While:
		rewriteAndMaybeWrap(&x.Body, opts)
	case *ast.ForC:
		rewriteAndMaybeWrap(&x.Body, opts)
	case *ast.Foreach:
		rewriteAndMaybeWrap(&x.Body, opts)
	case *ast.PackageDecl:
		if x.Block != nil {
			rewriteBlock(x.Block, opts)
		}
	case *ast.ExprStmt:
		if sub, ok := x.X.(*ast.SubDef); ok {
			rewriteBlock(sub.Body, opts)
		}
	case *ast.Phase:
		rewriteBlock(x.Body.Body, opts)
	}
}

// rewriteAndMaybeWrap recurses into a loop/branch body and, when the body
// alone is still oversized and safe, wraps it whole.
func rewriteAndMaybeWrap(b **ast.Block, opts Options) {
	rewriteBlock(*b, opts)
	if Estimate(*b) <= opts.Threshold {
		return
	}
	if !Safe(*b) {
		return
	}
	wrapped := wrapBlock(*b)
	*b = &ast.Block{Base: (*b).Base, Stmts: []ast.Node{wrapped}}
}

// splitStatements carves a flat statement list into contiguous safe chunks
// at statement boundaries, emitting each chunk as sub { CHUNK }->().
func splitStatements(b *ast.Block, opts Options) {
	var out []ast.Node
	var chunk []ast.Node
	chunkCost := 0

	flush := func() {
		if len(chunk) == 0 {
			return
		}
		cb := &ast.Block{Base: b.Base, Stmts: chunk}
		if chunkCost > costControl*2 && Safe(cb) {
			out = append(out, wrapBlock(cb))
		} else {
			out = append(out, chunk...)
		}
		chunk = nil
		chunkCost = 0
	}

	for _, st := range b.Stmts {
		cost := Estimate(st)
		if !stmtSafe(st) || cost > opts.Threshold {
			// an unsafe or indivisible statement stays inline
			flush()
			out = append(out, st)
			continue
		}
		if chunkCost+cost > opts.Threshold {
			flush()
		}
		chunk = append(chunk, st)
		chunkCost += cost
	}
	flush()
	b.Stmts = out
}

// wrapBlock builds sub { BODY }->(@_).
func wrapBlock(b *ast.Block) ast.Node {
	at := ast.ExprAt(b.P, b.Tok)
	sub := &ast.SubDef{ExprBase: at, Body: b}
	argv := &ast.Variable{ExprBase: at, Sigil: "@", Name: "_"}
	args := &ast.ListExpr{ExprBase: at, Elems: []ast.Expr{argv}}
	call := &ast.Call{ExprBase: at, Code: sub, Args: args}
	call.SetContext(ast.CtxVoid)
	return &ast.ExprStmt{Base: b.Base, X: call}
}

// Safe reports whether moving the block into a closure preserves control
// flow: no loop-control or labelled jumps that would leave the closure, no
// goto, and no return whose meaning would change.
func Safe(b *ast.Block) bool {
	for _, st := range b.Stmts {
		if !stmtSafe(st) {
			return false
		}
	}
	return true
}

func stmtSafe(n ast.Node) bool {
	safe := true
	ast.Walk(n, func(m ast.Node) bool {
		switch x := m.(type) {
		case *ast.SubDef:
			return false // its control flow is already scoped
		case *ast.LoopCtl:
			safe = false
			return false
		case *ast.Return:
			safe = false
			return false
		case *ast.BuiltinCall:
			if x.Name == "goto" {
				safe = false
				return false
			}
		}
		return safe
	})
	// conservative: a last/next targeting a loop fully inside the chunk
	// would be safe, but proving the target stays inside costs more than
	// the split saves, so any loop-control marks the chunk unsafe
	return safe
}
