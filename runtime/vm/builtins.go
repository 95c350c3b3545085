package vm

import (
	"math/rand"
	"time"

	"github.com/gperl-lang/gperl/runtime/values"
)

// builtinFunc is one entry of the operator-handler table reached through
// CALL_BUILTIN. New operators live here until promoted to a dense range.
type builtinFunc func(m *Machine, fr *Frame, args []*values.Scalar, ctx values.CallContext, opAt int) (*values.Scalar, error)

var builtins map[string]builtinFunc

func init() {
	builtins = map[string]builtinFunc{
		"evalstring":  biEvalString,
		"registerend": biRegisterEnd,
		"ensurearray": biEnsureArray,
		"ensurehash":  biEnsureHash,
		"argslice":    biArgSlice,
		"isa":         biIsa,
		"caller":      biCaller,
		"time":        biTime,
		"rand":        biRand,
		"srand":       biSrand,
		"sleep":       biSleep,
		"exit":        biExit,
		"pos":         biPos,
		"tie":         biTie,
		"untie":       biUntie,
		"tied":        biTied,
		"select":      biSelect,
		"readpipe":    biReadpipe,
		"do":          biDoFile,
		"study":       biNoop,
	}
}

func (m *Machine) callBuiltin(fr *Frame, d uint16, name string, argsR uint16, ctx uint16, opAt int) error {
	fn, ok := builtins[name]
	if !ok {
		return fr.perlError(opAt, "Undefined subroutine &main::"+name+" called")
	}
	out, err := fn(m, fr, fr.listOf(argsR), values.CallContext(ctx), opAt)
	if err != nil {
		return err
	}
	if out == nil {
		out = values.NewUndef()
	}
	fr.set(d, out)
	return nil
}

// biEvalString compiles and runs the source against the caller's scope
// snapshot (name/cell pairs after the source argument). Exceptions become
// $@ and an empty result, like eval always does.
func biEvalString(m *Machine, fr *Frame, args []*values.Scalar, ctx values.CallContext, opAt int) (*values.Scalar, error) {
	if m.EvalCompile == nil {
		return nil, fr.perlError(opAt, "eval STRING is not available in this context")
	}
	if len(args) == 0 {
		return values.NewUndef(), nil
	}
	src := args[0].Str()
	snapshot := map[string]*values.Scalar{}
	for i := 1; i+1 < len(args); i += 2 {
		snapshot[args[i].Str()] = args[i+1]
	}

	// install the snapshot cells into the registry for the duration
	saved := map[string]*values.Scalar{}
	for name, cell := range snapshot {
		saved[name] = m.Globals.RebindPersistent(name, cell)
	}
	defer func() {
		for name, old := range saved {
			if old == nil {
				delete(m.Globals.registry, name)
			} else {
				m.Globals.registry[name] = old
			}
		}
	}()

	chunk, err := m.EvalCompile(src, snapshot)
	if err != nil {
		_ = m.Globals.Special("$@").SetString(err.Error() + "\n")
		return values.NewUndef(), nil
	}
	_ = m.Globals.Special("$@").SetString("")
	vals, err := m.RunChunk(chunk, nil, ctx, nil)
	if err != nil {
		if pe, ok := err.(*PerlError); ok {
			_ = m.Globals.Special("$@").SetFrom(pe.Value)
			return values.NewUndef(), nil
		}
		return nil, err
	}
	return contextualize(vals, ctx), nil
}

func biRegisterEnd(m *Machine, fr *Frame, args []*values.Scalar, ctx values.CallContext, opAt int) (*values.Scalar, error) {
	if len(args) > 0 {
		if c := args[0].Code(); c.Defined() {
			m.RegisterEnd(c)
		}
	}
	return values.NewInt(1), nil
}

// biEnsureArray / biEnsureHash give persistent aggregate lexicals their
// container on first touch.
func biEnsureArray(m *Machine, fr *Frame, args []*values.Scalar, ctx values.CallContext, opAt int) (*values.Scalar, error) {
	if len(args) == 0 {
		return values.NewArrayHandle(values.NewArray()), nil
	}
	cell := args[0]
	if cell.ArrayH() == nil {
		_ = cell.SetFrom(values.NewArrayHandle(values.NewArray()))
	}
	return cell, nil
}

func biEnsureHash(m *Machine, fr *Frame, args []*values.Scalar, ctx values.CallContext, opAt int) (*values.Scalar, error) {
	if len(args) == 0 {
		return values.NewHashHandle(values.NewHash()), nil
	}
	cell := args[0]
	if cell.HashH() == nil {
		_ = cell.SetFrom(values.NewHashHandle(values.NewHash()))
	}
	return cell, nil
}

// biArgSlice returns @_[n..] for slurpy signature parameters.
func biArgSlice(m *Machine, fr *Frame, args []*values.Scalar, ctx values.CallContext, opAt int) (*values.Scalar, error) {
	if len(args) < 2 {
		return values.NewArrayHandle(values.NewArray()), nil
	}
	src := values.Flatten(args[0])
	start := int(args[1].IntValue())
	out := values.NewArray()
	if start < len(src) {
		out.AppendAliased(src[start:])
	}
	return values.NewArrayHandle(out), nil
}

func biIsa(m *Machine, fr *Frame, args []*values.Scalar, ctx values.CallContext, opAt int) (*values.Scalar, error) {
	if len(args) < 2 {
		return values.NewBool(false), nil
	}
	var pkg string
	if ref := args[0].Ref(); ref != nil && ref.Blessed != "" {
		pkg = ref.Blessed
	} else {
		pkg = args[0].Str()
	}
	want := args[1].Str()
	seen := map[string]bool{}
	var walk func(p string) bool
	walk = func(p string) bool {
		if p == want {
			return true
		}
		if seen[p] {
			return false
		}
		seen[p] = true
		for _, parent := range m.Globals.ISA(p) {
			if walk(parent) {
				return true
			}
		}
		return false
	}
	return values.NewBool(walk(pkg)), nil
}

func biCaller(m *Machine, fr *Frame, args []*values.Scalar, ctx values.CallContext, opAt int) (*values.Scalar, error) {
	depth := 0
	if len(args) > 0 {
		depth = int(args[0].IntValue())
	}
	info, ok := m.Caller(depth + 1)
	if !ok {
		if ctx == values.CallList {
			return values.NewArrayHandle(values.NewArray()), nil
		}
		return values.NewUndef(), nil
	}
	out := values.NewArray()
	out.Push(values.NewString(info.Package), values.NewString(info.File), values.NewInt(int64(info.Line)))
	if len(args) > 0 {
		want := int64(0)
		switch info.Wantarray {
		case values.CallList:
			want = 1
		}
		out.Push(values.NewString(info.Sub), values.NewBool(info.HasArgs), values.NewInt(want))
	}
	if ctx == values.CallScalar {
		return values.NewString(info.Package), nil
	}
	return values.NewArrayHandle(out), nil
}

func biTime(m *Machine, fr *Frame, args []*values.Scalar, ctx values.CallContext, opAt int) (*values.Scalar, error) {
	return values.NewInt(time.Now().Unix()), nil
}

func biRand(m *Machine, fr *Frame, args []*values.Scalar, ctx values.CallContext, opAt int) (*values.Scalar, error) {
	max := 1.0
	if len(args) > 0 && args[0].NumValue() != 0 {
		max = args[0].NumValue()
	}
	return values.NewFloat(rand.Float64() * max), nil
}

func biSrand(m *Machine, fr *Frame, args []*values.Scalar, ctx values.CallContext, opAt int) (*values.Scalar, error) {
	seed := time.Now().UnixNano()
	if len(args) > 0 {
		seed = args[0].IntValue()
	}
	rand.Seed(seed)
	return values.NewInt(seed), nil
}

func biSleep(m *Machine, fr *Frame, args []*values.Scalar, ctx values.CallContext, opAt int) (*values.Scalar, error) {
	n := int64(0)
	if len(args) > 0 {
		n = args[0].IntValue()
	}
	time.Sleep(time.Duration(n) * time.Second)
	return values.NewInt(n), nil
}

// ExitError carries the requested status to the driver.
type ExitError struct{ Status int }

func (e *ExitError) Error() string { return "exit" }

func biExit(m *Machine, fr *Frame, args []*values.Scalar, ctx values.CallContext, opAt int) (*values.Scalar, error) {
	status := 0
	if len(args) > 0 {
		status = int(args[0].IntValue())
	}
	return nil, &ExitError{Status: status}
}

func biPos(m *Machine, fr *Frame, args []*values.Scalar, ctx values.CallContext, opAt int) (*values.Scalar, error) {
	if len(args) == 0 {
		return values.NewUndef(), nil
	}
	if p, ok := m.matchPos[args[0]]; ok {
		return values.NewInt(int64(p)), nil
	}
	return values.NewUndef(), nil
}

// biTie installs tie magic: the handler class's TIESCALAR/TIEARRAY/TIEHASH
// constructs the object the accessors dispatch to.
func biTie(m *Machine, fr *Frame, args []*values.Scalar, ctx values.CallContext, opAt int) (*values.Scalar, error) {
	if len(args) < 2 {
		return nil, fr.perlError(opAt, "Not enough arguments for tie")
	}
	target := args[0]
	pkg := args[1].Str()
	var ctor string
	switch {
	case target.ArrayH() != nil:
		ctor = "TIEARRAY"
	case target.HashH() != nil:
		ctor = "TIEHASH"
	default:
		ctor = "TIESCALAR"
	}
	c := m.Globals.ResolveMethod(pkg, ctor)
	if c == nil {
		return nil, fr.perlError(opAt, "Can't locate object method \""+ctor+"\" via package \""+pkg+"\"")
	}
	ctorArgs := append([]*values.Scalar{values.NewString(pkg)}, args[2:]...)
	out, err := c.Call(ctorArgs, values.CallScalar)
	if err != nil {
		return nil, err
	}
	obj := contextualize(out, values.CallScalar)
	ref := obj.Ref()
	if ref == nil {
		return nil, fr.perlError(opAt, ctor+" did not return a reference")
	}
	switch {
	case target.ArrayH() != nil:
		target.ArrayH().Magic().Tied = ref
	case target.HashH() != nil:
		target.HashH().Magic().Tied = ref
	default:
		target.Magic().Tied = ref
	}
	return obj, nil
}

func biUntie(m *Machine, fr *Frame, args []*values.Scalar, ctx values.CallContext, opAt int) (*values.Scalar, error) {
	if len(args) == 0 {
		return values.NewInt(1), nil
	}
	target := args[0]
	switch {
	case target.ArrayH() != nil:
		target.ArrayH().Magic().Tied = nil
	case target.HashH() != nil:
		target.HashH().Magic().Tied = nil
	case target.HasMagic():
		target.Magic().Tied = nil
	}
	return values.NewInt(1), nil
}

func biTied(m *Machine, fr *Frame, args []*values.Scalar, ctx values.CallContext, opAt int) (*values.Scalar, error) {
	if len(args) == 0 {
		return values.NewUndef(), nil
	}
	target := args[0]
	var tied *values.Ref
	switch {
	case target.ArrayH() != nil:
		tied = target.ArrayH().Tied()
	case target.HashH() != nil:
		tied = target.HashH().Tied()
	default:
		tied = target.Tied()
	}
	if tied == nil {
		return values.NewUndef(), nil
	}
	return values.NewRef(tied), nil
}

func biSelect(m *Machine, fr *Frame, args []*values.Scalar, ctx values.CallContext, opAt int) (*values.Scalar, error) {
	return values.NewString("main::STDOUT"), nil
}

func biReadpipe(m *Machine, fr *Frame, args []*values.Scalar, ctx values.CallContext, opAt int) (*values.Scalar, error) {
	return nil, fr.perlError(opAt, "Backtick command execution is not available in this context")
}

func biDoFile(m *Machine, fr *Frame, args []*values.Scalar, ctx values.CallContext, opAt int) (*values.Scalar, error) {
	return nil, fr.perlError(opAt, "do FILE requires the module loader")
}

func biNoop(m *Machine, fr *Frame, args []*values.Scalar, ctx values.CallContext, opAt int) (*values.Scalar, error) {
	return values.NewInt(1), nil
}
