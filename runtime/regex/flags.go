// Package regex adapts Perl regular expressions onto the host matcher. The
// preprocessor rewrites Perl syntax into the matcher's syntax, collects
// capture metadata (numbering, names, branch-reset renumbering) and rejects
// or downgrades constructs the backend cannot express.
package regex

import "github.com/pkg/errors"

// Flags is the parsed modifier set of a match/substitute/qr operator.
type Flags struct {
	IgnoreCase bool // i
	Multiline  bool // m
	DotAll     bool // s
	Extended   bool // x
	Global     bool // g
	KeepPos    bool // c
	Preserve   bool // p
	ASCII      bool // a
	Default    bool // d
	Locale     bool // l
	Unicode    bool // u
	NoCapture  bool // n
	Eval       bool // e (substitution only)
	EvalTwice  bool // ee
	NonDestructive bool // r (substitution only)
}

// ParseFlags reads a modifier string. Unknown letters are rejected with
// Perl's wording.
func ParseFlags(mods string) (Flags, error) {
	var f Flags
	for _, c := range mods {
		switch c {
		case 'i':
			f.IgnoreCase = true
		case 'm':
			f.Multiline = true
		case 's':
			f.DotAll = true
		case 'x':
			f.Extended = true
		case 'g':
			f.Global = true
		case 'c':
			f.KeepPos = true
		case 'p':
			f.Preserve = true
		case 'a':
			f.ASCII = true
		case 'd':
			f.Default = true
		case 'l':
			f.Locale = true
		case 'u':
			f.Unicode = true
		case 'n':
			f.NoCapture = true
		case 'e':
			if f.Eval {
				f.EvalTwice = true
			}
			f.Eval = true
		case 'r':
			f.NonDestructive = true
		default:
			return f, errors.Errorf("Unknown regexp modifier \"/%c\"", c)
		}
	}
	return f, nil
}

// Letters renders the i, m, s, x, g, c and r flags back to modifier letters;
// the other flags are not included.
func (f Flags) Letters() string {
	s := ""
	if f.IgnoreCase {
		s += "i"
	}
	if f.Multiline {
		s += "m"
	}
	if f.DotAll {
		s += "s"
	}
	if f.Extended {
		s += "x"
	}
	if f.Global {
		s += "g"
	}
	if f.KeepPos {
		s += "c"
	}
	if f.NonDestructive {
		s += "r"
	}
	return s
}
