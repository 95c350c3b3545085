package regex

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// Compiled is a pattern accepted by the backend, with the metadata needed to
// present Perl's view of the captures.
type Compiled struct {
	Source string // original Perl pattern
	Flags  Flags
	Meta   *Meta
	re     *regexp.Regexp
}

// Compile preprocesses and hands the rewritten pattern to the backend.
func Compile(pattern string, flags Flags, env *Env) (*Compiled, error) {
	rewritten, meta, err := Preprocess(pattern, flags, env)
	if err != nil {
		return nil, err
	}
	prefix := ""
	if flags.IgnoreCase {
		prefix += "i"
	}
	if flags.Multiline {
		prefix += "m"
	}
	if flags.DotAll {
		prefix += "s"
	}
	if prefix != "" {
		rewritten = "(?" + prefix + ")" + rewritten
	}
	re, err := regexp.Compile(rewritten)
	if err != nil {
		return nil, errors.Wrapf(err, "regex backend rejected /%s/", pattern)
	}
	return &Compiled{Source: pattern, Flags: flags, Meta: meta, re: re}, nil
}

// MatchResult is one successful match mapped back to Perl numbering.
type MatchResult struct {
	Start, End int               // byte offsets of the whole match
	Groups     [][2]int          // Perl group n-1 -> [start,end], -1 when unset
	Named      map[string][2]int // named groups
	Pre, Mid, Post string        // $`, $&, $'
}

// Match runs the pattern against target from pos. Returns nil when there is
// no match.
func (c *Compiled) Match(target string, pos int) *MatchResult {
	if pos < 0 {
		pos = 0
	}
	if pos > len(target) {
		return nil
	}
	loc := c.re.FindStringSubmatchIndex(target[pos:])
	if loc == nil {
		return nil
	}
	res := &MatchResult{
		Start: loc[0] + pos,
		End:   loc[1] + pos,
	}
	n := c.Meta.NGroups
	res.Groups = make([][2]int, n)
	for i := range res.Groups {
		res.Groups[i] = [2]int{-1, -1}
	}
	// backend group k maps to Perl group Meta.GroupMap[k-1]
	for k := 1; 2*k+1 < len(loc) && k <= len(c.Meta.GroupMap); k++ {
		if loc[2*k] < 0 {
			continue
		}
		perl := c.Meta.GroupMap[k-1]
		if perl >= 1 && perl <= n {
			res.Groups[perl-1] = [2]int{loc[2*k] + pos, loc[2*k+1] + pos}
		}
	}
	res.Named = make(map[string][2]int, len(c.Meta.Names))
	for name, num := range c.Meta.Names {
		if num >= 1 && num <= n {
			res.Named[name] = res.Groups[num-1]
		}
	}
	res.Pre = target[:res.Start]
	res.Mid = target[res.Start:res.End]
	res.Post = target[res.End:]
	return res
}

// GroupText extracts Perl group n (1-based) from a result, with ok=false for
// an unset group.
func (r *MatchResult) GroupText(target string, n int) (string, bool) {
	if n < 1 || n > len(r.Groups) {
		return "", false
	}
	g := r.Groups[n-1]
	if g[0] < 0 {
		return "", false
	}
	return target[g[0]:g[1]], true
}

// ResolveReplacementEscapes processes backslash escapes in an s///
// replacement at parse time: \$ -> $, \\ -> \, \n, \t, etc. The runtime
// applies no further quoting to the result.
func ResolveReplacementEscapes(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'f':
			b.WriteByte('\f')
		case '0':
			b.WriteByte(0)
		case '$', '@', '\\', '/':
			b.WriteByte(s[i])
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
