// Package interp is the compilation context boundary: callers feed source
// text in and receive a callable code object or a diagnostic list. It wires
// the parser's BEGIN hook, the interpreter's eval STRING hook, the
// environment-variable switches, and context teardown (END blocks, state
// drop).
package interp

import (
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/gperl-lang/gperl/core/ast"
	"github.com/gperl-lang/gperl/core/diag"
	"github.com/gperl-lang/gperl/runtime/compiler"
	"github.com/gperl-lang/gperl/runtime/pack"
	"github.com/gperl-lang/gperl/runtime/parser"
	"github.com/gperl-lang/gperl/runtime/regex"
	"github.com/gperl-lang/gperl/runtime/values"
	"github.com/gperl-lang/gperl/runtime/vm"
)

// Option configures a context.
type Option func(*Context)

// WithArgs pre-populates @ARGV.
func WithArgs(args []string) Option {
	return func(c *Context) { c.argv = args }
}

// WithEnv pre-populates %ENV; nil means inherit the process environment.
func WithEnv(env map[string]string) Option {
	return func(c *Context) { c.env = env }
}

// WithFeature enables a named feature for every compilation.
func WithFeature(name string) Option {
	return func(c *Context) { c.features = append(c.features, name) }
}

// WithWarnings enables all warning categories.
func WithWarnings() Option {
	return func(c *Context) { c.warnings = true }
}

// WithStrict enables strictures.
func WithStrict() Option {
	return func(c *Context) { c.strict = true }
}

// WithCompileOnly stops after code generation.
func WithCompileOnly() Option {
	return func(c *Context) { c.compileOnly = true }
}

// WithLargeCodeRefactor enables the large-block AST pass regardless of
// JPERL_LARGECODE.
func WithLargeCodeRefactor(on bool) Option {
	return func(c *Context) { c.largeCode = on }
}

// WithOutput redirects print output (including the STDOUT handle).
func WithOutput(w writer) Option {
	return func(c *Context) {
		c.m.Out = w
		c.m.Globals.Glob("main::STDOUT").IO = values.NewWriteIO("STDOUT", w)
	}
}

// WithDiagSink routes warnings and errors.
func WithDiagSink(s diag.Sink) Option {
	return func(c *Context) { c.m.Diag = s }
}

type writer interface {
	Write([]byte) (int, error)
}

// Context is one compilation context: fresh process-wide state, torn down
// by Close.
type Context struct {
	m *vm.Machine

	argv        []string
	env         map[string]string
	features    []string
	warnings    bool
	strict      bool
	compileOnly bool
	largeCode   bool

	lastParser *parser.Parser
}

// New builds a context, reading the JPERL_* environment switches.
func New(opts ...Option) *Context {
	c := &Context{m: vm.New()}

	warnUnimpl := os.Getenv("JPERL_UNIMPLEMENTED") == "warn"
	c.m.PackEnv = &pack.Env{WarnUnimplemented: warnUnimpl, Warn: func(msg string) { c.m.Warn(msg, "") }}
	c.m.RegexEnv = &regex.Env{WarnUnimplemented: warnUnimpl, Warn: func(msg string) { c.m.Warn(msg, "") }}
	c.largeCode = os.Getenv("JPERL_LARGECODE") == "refactor"
	// JPERL_EVAL_USE_INTERPRETER selects the register backend for eval
	// STRING; it is the only backend here, so the switch is accepted and
	// has nothing to change.
	_ = os.Getenv("JPERL_EVAL_USE_INTERPRETER")

	for _, o := range opts {
		o(c)
	}

	argv := c.m.Globals.Special("@ARGV").ArrayH()
	for _, a := range c.argv {
		argv.Push(values.NewString(a))
	}
	envh := c.m.Globals.Special("%ENV").HashH()
	if c.env != nil {
		for k, v := range c.env {
			envh.Set(k, values.NewString(v))
		}
	} else {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i > 0 {
				envh.Set(kv[:i], values.NewString(kv[i+1:]))
			}
		}
	}

	c.m.EvalCompile = c.evalCompile
	return c
}

// Machine exposes the interpreter state for the driver.
func (c *Context) Machine() *vm.Machine { return c.m }

// Close tears the context down: END blocks run in reverse order, then the
// process-wide state is dropped.
func (c *Context) Close() {
	c.m.RunEnd()
	c.m = nil
}

// Compile parses, refactors and lowers source text. The returned list
// carries every diagnostic; a nil code object means compilation failed.
func (c *Context) Compile(name, src string) (*values.Code, *diag.List) {
	p := c.newParser(name, src)
	prog := p.Program()
	diags := c.parserDiags(p)
	if diags.HasErrors() {
		return nil, diags
	}

	chunk, err := compiler.Compile(prog, compiler.Options{
		LargeCodeRefactor: c.largeCode,
		SourceName:        name,
		LineMap:           p.LineMap(),
	})
	if err != nil {
		diags.Report(diag.Diagnostic{Severity: diag.SevFatal, Message: err.Error()})
		return nil, diags
	}

	code := &values.Code{Name: "main", Package: "main", Chunk: chunk}
	code.Fn = func(args []*values.Scalar, ctx values.CallContext) ([]*values.Scalar, error) {
		return c.m.RunChunk(chunk, args, ctx, nil)
	}
	return code, diags
}

// CompileAndRun is the compile-and-run entry of the context boundary.
func (c *Context) CompileAndRun(name, src string, args []string) (int, *diag.List, error) {
	code, diags := c.Compile(name, src)
	if code == nil {
		return 2, diags, errors.New("compilation failed")
	}
	if c.compileOnly {
		return 0, diags, nil
	}
	argv := make([]*values.Scalar, len(args))
	for i, a := range args {
		argv[i] = values.NewString(a)
	}
	_, err := code.Call(argv, values.CallVoid)
	if err != nil {
		if ex, ok := err.(*vm.ExitError); ok {
			return ex.Status, diags, nil
		}
		return 1, diags, err
	}
	return 0, diags, nil
}

func (c *Context) newParser(name, src string) *parser.Parser {
	opts := []parser.Option{parser.WithHooks(parser.Hooks{RunPhase: c.runPhase})}
	if c.strict {
		opts = append(opts, parser.WithStrict())
	}
	if c.warnings {
		opts = append(opts, parser.WithWarnings())
	}
	for _, feat := range c.features {
		opts = append(opts, parser.WithFeature(feat))
	}
	if c.m.Diag != nil {
		opts = append(opts, parser.WithSink(c.m.Diag))
	}
	p := parser.New(name, src, opts...)
	c.lastParser = p
	return p
}

func (c *Context) parserDiags(p *parser.Parser) *diag.List {
	return p.Diags()
}

// runPhase compiles and executes a BEGIN-like block the moment it parses.
// The block sees every lexical visible at its parse position through the
// persistent registry.
func (c *Context) runPhase(which string, sub *ast.SubDef) error {
	snapshot := map[string]string{}
	if c.lastParser != nil {
		for name := range c.lastParser.VisibleLexicals() {
			snapshot[name] = name
		}
	}
	prog := &ast.Program{Name: which, Body: sub.Body}
	chunk, err := compiler.Compile(prog, compiler.Options{
		LargeCodeRefactor: c.largeCode,
		SourceName:        which,
		ScopeSnapshot:     snapshot,
	})
	if err != nil {
		return err
	}
	_, err = c.m.RunChunk(chunk, nil, values.CallVoid, nil)
	return err
}

// evalCompile backs eval STRING: the body compiles against the caller's
// snapshot plus every file-scope lexical already in the registry.
func (c *Context) evalCompile(src string, snapshot map[string]*values.Scalar) (*compiler.Chunk, error) {
	p := parser.New("(eval)", src, parser.WithHooks(parser.Hooks{RunPhase: c.runPhase}))
	prog := p.Program()
	if diags := p.Diags(); diags.HasErrors() {
		d, _ := diags.FirstError()
		return nil, errors.New(d.Message)
	}

	names := map[string]string{}
	for name := range snapshot {
		names[name] = name
	}
	for _, name := range c.m.Globals.RegistryNames() {
		if !strings.Contains(name, "#") {
			names[name] = name
		}
	}
	return compiler.Compile(prog, compiler.Options{
		SourceName:    "(eval)",
		ScopeSnapshot: names,
	})
}
