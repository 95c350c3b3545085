package values

// Magic is the out-of-band metadata slot attached lazily to a value:
// tie target, read-only flag, taint, and the bytes-vs-characters flag.
// Overload lives on the package (see OverloadTable), not on the value.
type Magic struct {
	ReadOnly bool
	Taint    bool
	UTF8     bool
	Tied     *Ref // tie handler object; method dispatch is the interpreter's job
}

// OverloadTable is a package's operator-overload map, populated by
// `use overload`. Keys are operator symbols ("+", "==", "\"\"", "0+",
// "bool", "<=>", "cmp", ...).
type OverloadTable struct {
	Ops      map[string]*Code
	Fallback *Scalar // undef, true or false per `fallback => ...`
}

// Lookup finds a handler for op, consulting autogeneration fallbacks for
// the conversion operators.
func (t *OverloadTable) Lookup(op string) *Code {
	if t == nil || t.Ops == nil {
		return nil
	}
	if c := t.Ops[op]; c != nil {
		return c
	}
	// Conversion fallback chain: missing "" falls back to 0+, and vice
	// versa, when fallback is not explicitly false.
	if t.Fallback != nil && t.Fallback.Defined() && !t.Fallback.Bool() {
		return nil
	}
	switch op {
	case `""`:
		return t.Ops["0+"]
	case "0+":
		return t.Ops[`""`]
	case "bool":
		if c := t.Ops["0+"]; c != nil {
			return c
		}
		return t.Ops[`""`]
	}
	return nil
}

// TieMethods names the tie interception points per container type.
var TieMethods = map[string][]string{
	"scalar": {"TIESCALAR", "FETCH", "STORE", "UNTIE", "DESTROY"},
	"array":  {"TIEARRAY", "FETCH", "STORE", "FETCHSIZE", "STORESIZE", "PUSH", "POP", "SHIFT", "UNSHIFT", "SPLICE", "DELETE", "EXISTS", "CLEAR", "EXTEND", "UNTIE", "DESTROY"},
	"hash":   {"TIEHASH", "FETCH", "STORE", "DELETE", "EXISTS", "CLEAR", "FIRSTKEY", "NEXTKEY", "SCALAR", "UNTIE", "DESTROY"},
}
