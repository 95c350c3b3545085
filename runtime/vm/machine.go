// Package vm is the register bytecode interpreter: a jump-table dispatch
// loop over contiguous opcode ranges, with range handler methods sharing the
// (op, code, pc, frame) -> pc signature, frame-based calls, eval unwinding
// and the iterator protocol for O(1)-space foreach.
package vm

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/gperl-lang/gperl/core/diag"
	"github.com/gperl-lang/gperl/runtime/compiler"
	"github.com/gperl-lang/gperl/runtime/pack"
	"github.com/gperl-lang/gperl/runtime/regex"
	"github.com/gperl-lang/gperl/runtime/values"
)

// Machine is the per-compilation-context interpreter state: stashes,
// special variables, the persistent-cell registry, and the environment
// hooks the opcode handlers need.
type Machine struct {
	Globals *Globals

	Out    io.Writer
	ErrOut io.Writer

	PackEnv  *pack.Env
	RegexEnv *regex.Env

	// EvalCompile compiles an eval STRING body against a scope snapshot.
	EvalCompile func(src string, snapshot map[string]*values.Scalar) (*compiler.Chunk, error)

	Diag diag.Sink

	endBlocks  []*values.Code
	callStack  []CallerInfo
	regexCache map[[blake2b.Size256]byte]*regex.Compiled
	matchPos   map[*values.Scalar]int

	lastMatch       *regex.MatchResult
	lastMatchTarget string
	lastPattern     *values.Regex
	inDieHandler    bool
}

// CallerInfo is one frame of the caller() view.
type CallerInfo struct {
	Package   string
	File      string
	Line      int
	Sub       string
	HasArgs   bool
	Wantarray values.CallContext
}

// New creates a machine with fresh process-wide state.
func New() *Machine {
	m := &Machine{
		Globals:    NewGlobals(),
		Out:        os.Stdout,
		ErrOut:     os.Stderr,
		regexCache: map[[blake2b.Size256]byte]*regex.Compiled{},
		matchPos:   map[*values.Scalar]int{},
	}
	return m
}

// Globals hold the stash tree, the special variables and the persistent
// registry. Initialised once per context, dropped with it.
type Globals struct {
	stash    map[string]*values.Glob   // fully qualified name -> glob
	specials map[string]*values.Scalar // stable cells, never recreated
	registry map[string]*values.Scalar // persistent lexicals by name
	overload map[string]*values.OverloadTable
}

func NewGlobals() *Globals {
	g := &Globals{
		stash:    map[string]*values.Glob{},
		specials: map[string]*values.Scalar{},
		registry: map[string]*values.Scalar{},
		overload: map[string]*values.OverloadTable{},
	}
	for _, name := range []string{"$_", "$@", "$!", "$0", "$;", "$,", "$\\", "$\"", "$.", "$^P"} {
		g.specials[name] = values.NewUndef()
	}
	g.specials["$/"] = values.NewString("\n")
	g.specials["$\""] = values.NewString(" ")
	g.specials["@ARGV"] = values.NewArrayHandle(values.NewArray())
	g.specials["@INC"] = values.NewArrayHandle(values.NewArray())
	g.specials["%ENV"] = values.NewHashHandle(values.NewHash())
	g.specials["%INC"] = values.NewHashHandle(values.NewHash())
	g.specials["%SIG"] = values.NewHashHandle(values.NewHash())

	stdin := values.NewGlob("main::STDIN")
	stdin.IO = values.NewReadIO("STDIN", os.Stdin)
	g.stash["main::STDIN"] = stdin
	stdout := values.NewGlob("main::STDOUT")
	stdout.IO = values.NewWriteIO("STDOUT", os.Stdout)
	g.stash["main::STDOUT"] = stdout
	stderr := values.NewGlob("main::STDERR")
	stderr.IO = values.NewWriteIO("STDERR", os.Stderr)
	g.stash["main::STDERR"] = stderr
	return g
}

// Glob fetches (vivifying) the glob for a fully qualified name.
func (g *Globals) Glob(name string) *values.Glob {
	if gl, ok := g.stash[name]; ok {
		return gl
	}
	gl := values.NewGlob(name)
	g.stash[name] = gl
	return gl
}

// Special returns the stable cell for a special variable.
func (g *Globals) Special(name string) *values.Scalar {
	if c, ok := g.specials[name]; ok {
		return c
	}
	c := values.NewUndef()
	g.specials[name] = c
	return c
}

// BindSpecial rebinds a special to an existing cell (foreach aliasing).
func (g *Globals) BindSpecial(name string, cell *values.Scalar) *values.Scalar {
	old := g.Special(name)
	g.specials[name] = cell
	return old
}

// RestoreSpecial undoes a BindSpecial.
func (g *Globals) RestoreSpecial(name string, cell *values.Scalar) {
	g.specials[name] = cell
}

// Persistent returns (vivifying) a registry cell.
func (g *Globals) Persistent(name string) *values.Scalar {
	if c, ok := g.registry[name]; ok {
		return c
	}
	c := values.NewUndef()
	g.registry[name] = c
	return c
}

// RebindPersistent replaces a registry cell (fresh my at file scope,
// foreach loop variables, eval snapshots).
func (g *Globals) RebindPersistent(name string, cell *values.Scalar) *values.Scalar {
	old := g.registry[name]
	g.registry[name] = cell
	return old
}

// RegistryNames lists the persistent cells, for eval STRING scope wiring.
func (g *Globals) RegistryNames() []string {
	out := make([]string, 0, len(g.registry))
	for name := range g.registry {
		out = append(out, name)
	}
	return out
}

// SetOverload installs a package's operator table.
func (g *Globals) SetOverload(pkg string, t *values.OverloadTable) { g.overload[pkg] = t }

// Overload fetches a package's operator table, or nil.
func (g *Globals) Overload(pkg string) *values.OverloadTable { return g.overload[pkg] }

// ISA returns a package's parent list.
func (g *Globals) ISA(pkg string) []string {
	gl, ok := g.stash[pkg+"::ISA"]
	if !ok || gl.Array == nil {
		return nil
	}
	var out []string
	for _, v := range gl.Array.All() {
		out = append(out, v.Str())
	}
	return out
}

// ResolveMethod walks pkg then @ISA depth-first for a named sub.
func (g *Globals) ResolveMethod(pkg, name string) *values.Code {
	seen := map[string]bool{}
	var walk func(p string) *values.Code
	walk = func(p string) *values.Code {
		if seen[p] {
			return nil
		}
		seen[p] = true
		if gl, ok := g.stash[p+"::"+name]; ok && gl.Code != nil {
			return gl.Code
		}
		for _, parent := range g.ISA(p) {
			if c := walk(parent); c != nil {
				return c
			}
		}
		return nil
	}
	return walk(pkg)
}

// PerlError is a die in flight: the $@ value plus the frame trace.
type PerlError struct {
	Value  *values.Scalar
	Frames []CallerInfo
}

func (e *PerlError) Error() string { return e.Value.Str() }

// NewDie builds the exception for a die with message handling: a single
// reference dies with the object, strings get the location suffix when they
// don't already end in a newline.
func (m *Machine) NewDie(vals []*values.Scalar, where string) *PerlError {
	if len(vals) == 1 && vals[0].Ref() != nil {
		return &PerlError{Value: vals[0], Frames: m.snapshotStack()}
	}
	var b strings.Builder
	for _, v := range vals {
		b.WriteString(v.Str())
	}
	msg := b.String()
	if msg == "" {
		msg = "Died"
	}
	if !strings.HasSuffix(msg, "\n") {
		msg += where + "\n"
	}
	return &PerlError{Value: values.NewString(msg), Frames: m.snapshotStack()}
}

func (m *Machine) snapshotStack() []CallerInfo {
	out := make([]CallerInfo, len(m.callStack))
	copy(out, m.callStack)
	return out
}

// Warn routes a warning through $SIG{__WARN__} or the diagnostic sink.
func (m *Machine) Warn(msg string, where string) {
	if !strings.HasSuffix(msg, "\n") {
		msg += where + "\n"
	}
	if h := m.sigHandler("__WARN__"); h != nil {
		_, _ = h.Call([]*values.Scalar{values.NewString(msg)}, values.CallScalar)
		return
	}
	if m.Diag != nil {
		m.Diag.Report(diag.Diagnostic{Severity: diag.SevWarning, Message: strings.TrimSuffix(msg, "\n")})
		return
	}
	fmt.Fprint(m.ErrOut, msg)
}

func (m *Machine) sigHandler(name string) *values.Code {
	sig := m.Globals.Special("%SIG").HashH()
	if sig == nil || !sig.Exists(name) {
		return nil
	}
	v := sig.Get(name)
	if c := v.Code(); c.Defined() {
		return c
	}
	return nil
}

// RegisterEnd queues an END block; RunEnd runs them LIFO at teardown.
func (m *Machine) RegisterEnd(c *values.Code) { m.endBlocks = append(m.endBlocks, c) }

func (m *Machine) RunEnd() {
	for i := len(m.endBlocks) - 1; i >= 0; i-- {
		_, _ = m.endBlocks[i].Call(nil, values.CallVoid)
	}
	m.endBlocks = nil
}

// CompileRegex caches backend compilations keyed by pattern+flags.
func (m *Machine) CompileRegex(pattern, mods string) (*regex.Compiled, error) {
	key := blake2b.Sum256([]byte(mods + "\x00" + pattern))
	if c, ok := m.regexCache[key]; ok {
		return c, nil
	}
	flags, err := regex.ParseFlags(mods)
	if err != nil {
		return nil, err
	}
	c, err := regex.Compile(pattern, flags, m.RegexEnv)
	if err != nil {
		return nil, err
	}
	m.regexCache[key] = c
	return c, nil
}

// Caller answers caller(depth).
func (m *Machine) Caller(depth int) (CallerInfo, bool) {
	idx := len(m.callStack) - 1 - depth
	if idx < 0 || idx >= len(m.callStack) {
		return CallerInfo{}, false
	}
	return m.callStack[idx], true
}

var errUndefinedSub = errors.New("Undefined subroutine called")
