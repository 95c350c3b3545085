package compiler

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/gperl-lang/gperl/core/ast"
	"github.com/gperl-lang/gperl/core/token"
	"github.com/gperl-lang/gperl/runtime/refactor"
)

// Options configures a compilation.
type Options struct {
	// LargeCodeRefactor enables the large-block AST pass
	// (JPERL_LARGECODE=refactor).
	LargeCodeRefactor bool
	// MethodLimit is the host's per-method bytecode cap. Zero means the
	// default 64 KiB.
	MethodLimit int
	// SourceName is the file name for line tables.
	SourceName string
	// LineMap resolves token physical lines; may be nil.
	LineMap *token.LineMap
	// ScopeSnapshot maps sigiled names to persistent-registry names; used
	// by eval STRING so the body sees the caller's lexicals.
	ScopeSnapshot map[string]string
}

// ErrMethodTooLarge is the host's wording for an oversized emitted method.
var ErrMethodTooLarge = errors.New("Method too large")

// Compile lowers a parsed program to a top-level chunk. The class desugar
// always runs; the large-block refactorer runs when enabled, and the hard
// method limit is enforced either way.
func Compile(prog *ast.Program, opts Options) (*Chunk, error) {
	if opts.MethodLimit == 0 {
		opts.MethodLimit = 64 * 1024
	}
	refactor.ClassDesugar(prog)
	if opts.LargeCodeRefactor {
		ro := refactor.DefaultOptions()
		refactor.LargeBlocks(prog, ro)
	}

	c := &compilation{opts: opts, tokenLines: map[int32]LinePos{}}
	fn := c.newFn(nil, "main", prog.Name, true)
	for name, pname := range opts.ScopeSnapshot {
		fn.scopes[0][name] = &centry{sigil: name[:1], kind: entPersistent, pname: pname}
	}
	if err := fn.compileBody(prog.Body); err != nil {
		return nil, err
	}
	if err := c.checkSizes(fn.chunk); err != nil {
		return nil, err
	}
	return fn.chunk, nil
}

type compilation struct {
	opts       Options
	tokenLines map[int32]LinePos
	perSeq     int
}

func (c *compilation) checkSizes(ch *Chunk) error {
	if ch.ByteSize() > c.opts.MethodLimit {
		return errors.Wrapf(ErrMethodTooLarge, "%s: %d bytes emitted (limit %d)",
			ch.Name, ch.ByteSize(), c.opts.MethodLimit)
	}
	for _, sub := range ch.Subs {
		if err := c.checkSizes(sub); err != nil {
			return err
		}
	}
	return nil
}

// entry kinds within a function's compile-time scope chain.
type entKind uint8

const (
	entSlot entKind = iota
	entCapture
	entPersistent
	entGlobal
)

type centry struct {
	sigil  string
	kind   entKind
	slot   int
	capIdx int
	pname  string
	gname  string
}

// fnState compiles one chunk.
type fnState struct {
	c        *compilation
	parent   *fnState
	chunk    *Chunk
	scopes   []map[string]*centry
	regTop   int
	maxReg   int
	floor    int
	topLevel bool
	pkg      string
	loops    []*loopInfo
	locals   []int // per open block: count of LOCAL_SAVEs to restore
	curTok   int32
	caps     map[string]*centry

	persistentBind string // scratch for foreach persistent loop variables
}

type loopInfo struct {
	label       string
	nextTarget  int   // patched later for loops whose step is at the end
	lastPatches []int // operand offsets awaiting the loop end
	nextPatches []int
	redoTarget  int
}

func (c *compilation) newFn(parent *fnState, pkg, name string, topLevel bool) *fnState {
	fn := &fnState{
		c:      c,
		parent: parent,
		chunk: &Chunk{
			Name:       name,
			Package:    pkg,
			File:       c.opts.SourceName,
			TokenLines: c.tokenLines,
		},
		topLevel: topLevel,
		pkg:      pkg,
		caps:     map[string]*centry{},
	}
	fn.scopes = []map[string]*centry{{}}
	return fn
}

// ---------------------------------------------------------------------------
// registers

func (f *fnState) temp() uint16 {
	r := f.regTop
	f.regTop++
	if f.regTop > f.maxReg {
		f.maxReg = f.regTop
	}
	f.chunk.NReg = f.maxReg
	return uint16(r)
}

func (f *fnState) mark() int { return f.regTop }

func (f *fnState) release(m int) {
	if m < f.floor {
		m = f.floor
	}
	f.regTop = m
}

func (f *fnState) slot() int {
	r := f.regTop
	f.regTop++
	f.floor = f.regTop
	if f.regTop > f.maxReg {
		f.maxReg = f.regTop
	}
	f.chunk.NReg = f.maxReg
	return r
}

// ---------------------------------------------------------------------------
// scopes and name resolution

func (f *fnState) pushScope() { f.scopes = append(f.scopes, map[string]*centry{}) }

func (f *fnState) popScope() { f.scopes = f.scopes[:len(f.scopes)-1] }

func (f *fnState) declare(sigil, name string, e *centry) {
	e.sigil = sigil
	f.scopes[len(f.scopes)-1][sigil+name] = e
}

// declareLexical creates the entry for a my/state declaration and emits the
// fresh-cell initialisation.
func (f *fnState) declareLexical(v *ast.Variable, state bool) *centry {
	full := v.Sigil + v.Name
	if f.topLevel || state {
		pname := f.persistentName(full, state)
		e := &centry{kind: entPersistent, pname: pname}
		f.declare(v.Sigil, v.Name, e)
		return e
	}
	e := &centry{kind: entSlot, slot: f.slot()}
	f.declare(v.Sigil, v.Name, e)
	return e
}

// persistentName: file-scope lexicals register under their bare sigiled
// name (so BEGIN and eval STRING find them); shadows and state vars get a
// unique suffix.
func (f *fnState) persistentName(full string, state bool) string {
	if !state {
		if _, shadowed := f.lookupLocal(full); !shadowed {
			return full
		}
	}
	f.c.perSeq++
	return fmt.Sprintf("%s#%d", full, f.c.perSeq)
}

func (f *fnState) lookupLocal(full string) (*centry, bool) {
	for i := len(f.scopes) - 1; i >= 0; i-- {
		if e, ok := f.scopes[i][full]; ok {
			return e, true
		}
	}
	return nil, false
}

// resolve walks this function's scopes, then enclosing functions, setting
// up capture table entries on the way. A miss is a package global.
func (f *fnState) resolve(sigil, name string) *centry {
	full := sigil + name
	if e, ok := f.lookupLocal(full); ok {
		return e
	}
	if e, ok := f.caps[full]; ok {
		return e
	}
	if f.parent != nil {
		pe := f.parent.resolve(sigil, name)
		if pe == nil {
			return nil
		}
		switch pe.kind {
		case entPersistent:
			return pe
		case entGlobal:
			return pe
		case entSlot:
			idx := len(f.chunk.Captures)
			f.chunk.Captures = append(f.chunk.Captures, CapDesc{Name: full, Src: CapSlot, Index: pe.slot})
			e := &centry{sigil: sigil, kind: entCapture, capIdx: idx}
			f.caps[full] = e
			return e
		case entCapture:
			idx := len(f.chunk.Captures)
			f.chunk.Captures = append(f.chunk.Captures, CapDesc{Name: full, Src: CapCapture, Index: pe.capIdx})
			e := &centry{sigil: sigil, kind: entCapture, capIdx: idx}
			f.caps[full] = e
			return e
		}
	}
	return nil
}

// globalName qualifies an unqualified package variable.
func (f *fnState) globalName(name string) string {
	if strings.Contains(name, "::") {
		return name
	}
	return f.pkg + "::" + name
}

// snapshotEntries lists the sub-local lexicals visible here, for eval
// STRING scope snapshots: (sigiled name, how the body reaches the cell).
func (f *fnState) snapshotEntries() []snapEntry {
	var out []snapEntry
	seen := map[string]bool{}
	for i := len(f.scopes) - 1; i >= 0; i-- {
		for full, e := range f.scopes[i] {
			if seen[full] {
				continue
			}
			seen[full] = true
			out = append(out, snapEntry{name: full, ent: e})
		}
	}
	for full, e := range f.caps {
		if !seen[full] {
			seen[full] = true
			out = append(out, snapEntry{name: full, ent: e})
		}
	}
	return out
}

type snapEntry struct {
	name string
	ent  *centry
}
