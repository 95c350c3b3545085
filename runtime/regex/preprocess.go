package regex

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Env mirrors pack.Env: unimplemented constructs warn-and-degrade when
// JPERL_UNIMPLEMENTED=warn is in effect, otherwise they fail compilation.
type Env struct {
	WarnUnimplemented bool
	Warn              func(msg string)
}

func (e *Env) unimplemented(what string) error {
	if e != nil && e.WarnUnimplemented {
		if e.Warn != nil {
			e.Warn("Unimplemented regex construct: " + what)
		}
		return nil
	}
	return errors.Errorf("Sequence %s not implemented in regex", what)
}

// Meta is the structural metadata collected while preprocessing.
type Meta struct {
	NGroups  int            // Perl-visible group count
	Names    map[string]int // named group -> Perl group number
	GroupMap []int          // backend group k (1-based) -> Perl group number
}

// controlVerbs the preprocessor recognises and cannot express.
var controlVerbs = []string{"ACCEPT", "FAIL", "F", "PRUNE", "COMMIT", "SKIP", "THEN", "MARK"}

// alphaAssertions maps the alpha-assertion spellings to the classic syntax.
var alphaAssertions = map[string]string{
	"pla":                 "(?=",
	"positive_lookahead":  "(?=",
	"plb":                 "(?<=",
	"positive_lookbehind": "(?<=",
	"nla":                 "(?!",
	"negative_lookahead":  "(?!",
	"nlb":                 "(?<!",
	"negative_lookbehind": "(?<!",
}

type preprocessor struct {
	src   []rune
	pos   int
	out   strings.Builder
	meta  Meta
	env   *Env
	flags Flags

	// branch-reset state: alternation alternatives restart numbering
	resetBase  []int
	resetHigh  []int
}

// Preprocess rewrites a Perl pattern into backend syntax and returns the
// rewritten pattern plus capture metadata. Constructs the backend cannot
// express surface as errors here (or warnings under the env's downgrade).
func Preprocess(pattern string, flags Flags, env *Env) (string, *Meta, error) {
	p := &preprocessor{src: []rune(pattern), env: env, flags: flags}
	p.meta.Names = make(map[string]int)
	if err := p.run(); err != nil {
		return "", nil, err
	}
	return p.out.String(), &p.meta, nil
}

func (p *preprocessor) peek(off int) rune {
	if p.pos+off >= len(p.src) {
		return 0
	}
	return p.src[p.pos+off]
}

func (p *preprocessor) run() error {
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch c {
		case '\\':
			if err := p.escape(); err != nil {
				return err
			}
		case '[':
			if err := p.charClass(); err != nil {
				return err
			}
		case '(':
			if err := p.group(); err != nil {
				return err
			}
		case '#':
			if p.flags.Extended {
				for p.pos < len(p.src) && p.src[p.pos] != '\n' {
					p.pos++
				}
				continue
			}
			p.out.WriteRune(c)
			p.pos++
		case ' ', '\t', '\n', '\r', '\f':
			if p.flags.Extended {
				p.pos++
				continue
			}
			p.out.WriteRune(c)
			p.pos++
		case '$':
			// keep $ as end anchor; RE2 treats it the same way under (?m)
			p.out.WriteRune(c)
			p.pos++
		case '+', '*', '?':
			// possessive quantifiers are not expressible
			if p.peek(1) == '+' {
				return errors.Errorf("Possessive quantifier '%c+' not supported in regex", c)
			}
			p.out.WriteRune(c)
			p.pos++
		default:
			p.out.WriteRune(c)
			p.pos++
		}
	}
	return nil
}

func (p *preprocessor) escape() error {
	next := p.peek(1)
	switch next {
	case 0:
		return errors.New("Trailing \\ in regex")
	case 'Z':
		// end-of-string before optional newline; the backend has only \z
		p.out.WriteString(`(?:\n?\z)`)
		p.pos += 2
		return p.rejectQuantifierAfterAnchor()
	case 'z', 'A':
		p.out.WriteRune('\\')
		p.out.WriteRune(next)
		p.pos += 2
		return nil
	case 'h':
		p.out.WriteString(`[ \t]`)
		p.pos += 2
		return nil
	case 'H':
		p.out.WriteString(`[^ \t]`)
		p.pos += 2
		return nil
	case 'v':
		p.out.WriteString(`[\r\n\f\x0b]`)
		p.pos += 2
		return nil
	case 'V':
		p.out.WriteString(`[^\r\n\f\x0b]`)
		p.pos += 2
		return nil
	case 'G':
		return p.env.unimplemented(`\G`)
	case 'K':
		return p.env.unimplemented(`\K`)
	case 'k':
		return errors.New("Backreferences not supported in regex")
	case '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return errors.New("Backreferences not supported in regex")
	case 'x':
		// \x{HHHH}: pass through, making sure a following {N} stays a
		// quantifier rather than being glued into the escape
		p.out.WriteString(`\x`)
		p.pos += 2
		if p.peek(0) == '{' {
			for p.pos < len(p.src) {
				r := p.src[p.pos]
				p.out.WriteRune(r)
				p.pos++
				if r == '}' {
					break
				}
			}
		} else if isHex(p.peek(0)) {
			p.out.WriteRune(p.src[p.pos])
			p.pos++
			if isHex(p.peek(0)) {
				p.out.WriteRune(p.src[p.pos])
				p.pos++
			}
		}
		return nil
	default:
		p.out.WriteRune('\\')
		p.out.WriteRune(next)
		p.pos += 2
		return nil
	}
}

func (p *preprocessor) rejectQuantifierAfterAnchor() error {
	switch p.peek(0) {
	case '*', '+', '?':
		return errors.New("Quantifier follows nothing in regex")
	}
	return nil
}

func (p *preprocessor) charClass() error {
	p.out.WriteRune('[')
	p.pos++
	if p.peek(0) == '^' {
		p.out.WriteRune('^')
		p.pos++
	}
	if p.peek(0) == ']' {
		p.out.WriteString(`\]`)
		p.pos++
	}
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '\\' {
			p.out.WriteRune(c)
			p.pos++
			if p.pos < len(p.src) {
				p.out.WriteRune(p.src[p.pos])
				p.pos++
			}
			continue
		}
		p.out.WriteRune(c)
		p.pos++
		if c == ']' {
			return nil
		}
	}
	return errors.New("Unmatched [ in regex")
}

func (p *preprocessor) group() error {
	if p.peek(1) != '?' && p.peek(1) != '*' {
		// plain capturing group
		p.pos++
		if p.flags.NoCapture {
			p.out.WriteString("(?:")
			return nil
		}
		p.newGroup()
		p.out.WriteRune('(')
		return nil
	}

	if p.peek(1) == '*' {
		return p.verbOrAlpha()
	}

	// (?...) extended group
	switch p.peek(2) {
	case '#':
		// (?#comment): removed entirely from the output
		p.pos += 3
		for p.pos < len(p.src) && p.src[p.pos] != ')' {
			p.pos++
		}
		if p.pos >= len(p.src) {
			return errors.New("Sequence (?#... not terminated in regex")
		}
		p.pos++
		return nil
	case ':':
		p.out.WriteString("(?:")
		p.pos += 3
		return nil
	case '=', '!':
		return errors.New("Lookaround assertions not supported in regex")
	case '<':
		c3 := p.peek(3)
		if c3 == '=' || c3 == '!' {
			return errors.New("Lookaround assertions not supported in regex")
		}
		// (?<name>...) named group
		return p.namedGroup('>')
	case '\'':
		return p.namedGroup('\'')
	case 'P':
		switch p.peek(3) {
		case '<':
			return p.namedGroup('>')
		case '>', '=':
			return errors.New("Recursive regex call not supported in regex")
		}
		return errors.Errorf("Sequence (?P%c...) not recognized in regex", p.peek(3))
	case '&':
		return errors.New("Recursive regex call not supported in regex")
	case '>':
		return errors.New("Atomic groups not supported in regex")
	case '|':
		return p.branchReset()
	case '{':
		return p.env.unimplemented("(?{...})")
	default:
		// inline modifiers (?imsx-imsx) or (?imsx:...)
		return p.inlineMods()
	}
}

func (p *preprocessor) verbOrAlpha() error {
	// (*VERB) or (*alpha_assertion:...)
	end := p.pos + 2
	for end < len(p.src) && p.src[end] != ')' && p.src[end] != ':' {
		end++
	}
	if end >= len(p.src) {
		return errors.New("Sequence (*... not terminated in regex")
	}
	name := string(p.src[p.pos+2 : end])
	if p.src[end] == ':' {
		if repl, ok := alphaAssertions[name]; ok {
			if strings.Contains(repl, "<") || strings.Contains(repl, "!") || strings.Contains(repl, "=") {
				return errors.New("Lookaround assertions not supported in regex")
			}
			// unreachable for the current backend; kept for one that can
			p.out.WriteString(repl)
			p.pos = end + 1
			return nil
		}
		return errors.Errorf("Unknown verb pattern '%s' in regex", name)
	}
	for _, v := range controlVerbs {
		if name == v || strings.HasPrefix(name, v+":") {
			if err := p.env.unimplemented("(*" + name + ")"); err != nil {
				return err
			}
			// degrade to an empty non-capturing group
			p.out.WriteString("(?:)")
			p.pos = end + 1
			return nil
		}
	}
	return errors.Errorf("Unknown verb pattern '%s' in regex", name)
}

func (p *preprocessor) namedGroup(closer rune) error {
	// scan to the name delimiter
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] != '<' && p.src[p.pos] != '\'' {
		p.pos++
	}
	p.pos++ // past the opener
	nameStart := p.pos
	for p.pos < len(p.src) && p.src[p.pos] != closer {
		p.pos++
	}
	if p.pos >= len(p.src) {
		return errors.Errorf("Sequence %s... not terminated in regex", string(p.src[start:nameStart]))
	}
	name := string(p.src[nameStart:p.pos])
	p.pos++ // past the closer
	n := p.newGroup()
	p.meta.Names[name] = n
	fmt.Fprintf(&p.out, "(?P<%s>", name)
	return nil
}

func (p *preprocessor) inlineMods() error {
	// (?imsxn-imsxn) or (?imsxn:...)
	i := p.pos + 2
	mods := ""
	for i < len(p.src) {
		c := p.src[i]
		if c == ')' || c == ':' {
			break
		}
		switch c {
		case 'i', 'm', 's', '-':
			mods += string(c)
		case 'x', 'n', 'a', 'd', 'u', 'l', 'p':
			// flag-set letters the backend has no spelling for; the
			// semantic ones were already applied at the operator level
		default:
			return errors.Errorf("Sequence (?%s...) not recognized in regex", string(c))
		}
		i++
	}
	if i >= len(p.src) {
		return errors.New("Sequence (?... not terminated in regex")
	}
	mods = dedupeMods(mods)
	p.out.WriteString("(?")
	p.out.WriteString(mods)
	p.out.WriteRune(p.src[i])
	p.pos = i + 1
	return nil
}

func dedupeMods(mods string) string {
	var b strings.Builder
	seen := map[rune]bool{}
	for _, c := range mods {
		if !seen[c] {
			seen[c] = true
			b.WriteRune(c)
		}
	}
	return b.String()
}

// branchReset handles (?|...): every alternative reuses the same Perl group
// numbers while the backend numbers its groups sequentially; GroupMap
// reconciles the two views.
func (p *preprocessor) branchReset() error {
	p.pos += 3 // past (?|
	p.out.WriteString("(?:")
	base := p.meta.NGroups
	high := base
	depth := 0
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch c {
		case '\\':
			if err := p.escape(); err != nil {
				return err
			}
			continue
		case '[':
			if err := p.charClass(); err != nil {
				return err
			}
			continue
		case '(':
			if depth == 0 && p.peek(1) != '?' {
				// capturing group inside the reset block: renumber
				p.pos++
				p.meta.NGroups++
				n := p.meta.NGroups
				if n > high {
					high = n
				}
				p.meta.GroupMap = append(p.meta.GroupMap, n)
				p.out.WriteRune('(')
				depth++
				continue
			}
			depth++
			if err := p.group(); err != nil {
				return err
			}
			continue
		case ')':
			if depth == 0 {
				p.out.WriteRune(')')
				p.pos++
				p.meta.NGroups = high
				return nil
			}
			depth--
			p.out.WriteRune(')')
			p.pos++
			continue
		case '|':
			if depth == 0 {
				p.meta.NGroups = base // next alternative restarts numbering
			}
			p.out.WriteRune('|')
			p.pos++
			continue
		default:
			p.out.WriteRune(c)
			p.pos++
		}
	}
	return errors.New("Sequence (?|... not terminated in regex")
}

// newGroup allocates the next Perl group number and records the backend
// mapping for it.
func (p *preprocessor) newGroup() int {
	p.meta.NGroups++
	p.meta.GroupMap = append(p.meta.GroupMap, p.meta.NGroups)
	return p.meta.NGroups
}

func isHex(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
