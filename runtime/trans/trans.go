// Package trans implements tr///y/// transliteration: range expansion,
// the c/d/s/r modifier set and count-only mode.
package trans

import (
	"strings"

	"github.com/pkg/errors"
)

// Spec is a parsed transliteration: expanded search and replace alphabets
// plus the modifier set.
type Spec struct {
	Search     []rune
	Replace    []rune
	Complement bool // c
	Delete     bool // d
	Squash     bool // s
	NonDestructive bool // r
	table      map[rune]rune
	deleteSet  map[rune]bool
	searchSet  map[rune]bool
}

// Parse expands both character lists and builds the mapping table.
func Parse(search, replace, mods string) (*Spec, error) {
	sp := &Spec{}
	for _, m := range mods {
		switch m {
		case 'c':
			sp.Complement = true
		case 'd':
			sp.Delete = true
		case 's':
			sp.Squash = true
		case 'r':
			sp.NonDestructive = true
		default:
			return nil, errors.Errorf("Unknown transliteration modifier '%c'", m)
		}
	}
	var err error
	sp.Search, err = expandRanges(search)
	if err != nil {
		return nil, err
	}
	sp.Replace, err = expandRanges(replace)
	if err != nil {
		return nil, err
	}
	sp.build()
	return sp, nil
}

// expandRanges turns "a-z0-9" into the explicit rune list. An ambiguous
// range like "a-z-A" is rejected.
func expandRanges(s string) ([]rune, error) {
	r := []rune(s)
	var out []rune
	for i := 0; i < len(r); i++ {
		c := r[i]
		if c == '\\' && i+1 < len(r) {
			i++
			out = append(out, unescape(r[i]))
			continue
		}
		if i+2 < len(r) && r[i+1] == '-' {
			lo, hi := c, r[i+2]
			if i+4 < len(r) && r[i+3] == '-' && r[i+4] != '\\' {
				return nil, errors.Errorf("Ambiguous range in transliteration operator")
			}
			if lo > hi {
				return nil, errors.Errorf("Invalid range \"%c-%c\" in transliteration operator", lo, hi)
			}
			for x := lo; x <= hi; x++ {
				out = append(out, x)
			}
			i += 2
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func unescape(c rune) rune {
	switch c {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	case 'f':
		return '\f'
	case '0':
		return 0
	default:
		return c
	}
}

func (sp *Spec) build() {
	sp.table = make(map[rune]rune)
	sp.deleteSet = make(map[rune]bool)
	sp.searchSet = make(map[rune]bool)
	for _, c := range sp.Search {
		sp.searchSet[c] = true
	}
	repl := sp.Replace
	if len(repl) == 0 && !sp.Delete {
		repl = sp.Search // empty replacement copies the search list
	}
	for i, c := range sp.Search {
		if _, dup := sp.table[c]; dup {
			continue // first occurrence wins
		}
		switch {
		case i < len(repl):
			sp.table[c] = repl[i]
		case sp.Delete:
			sp.deleteSet[c] = true
		case len(repl) > 0:
			sp.table[c] = repl[len(repl)-1] // pad with the last char
		}
	}
}

// matches reports whether c is in the (possibly complemented) search set.
func (sp *Spec) matches(c rune) bool {
	in := sp.searchSet[c]
	if sp.Complement {
		return !in
	}
	return in
}

// mapped returns the replacement for a matched rune: (r, false) deletes.
func (sp *Spec) mapped(c rune) (rune, bool) {
	if sp.Complement {
		// complement maps every matched char to the last replacement char
		if len(sp.Replace) == 0 {
			if sp.Delete {
				return 0, false
			}
			return c, true
		}
		if sp.Delete {
			return 0, false
		}
		return sp.Replace[len(sp.Replace)-1], true
	}
	if r, ok := sp.table[c]; ok {
		return r, true
	}
	if sp.deleteSet[c] {
		return 0, false
	}
	return c, true
}

// Apply transliterates s, returning the result and the match count.
// With NonDestructive the caller keeps the original and takes the copy.
func (sp *Spec) Apply(s string) (string, int) {
	countOnly := len(sp.Replace) == 0 && !sp.Delete && !sp.Squash && !sp.Complement && !sp.NonDestructive
	var b strings.Builder
	count := 0
	var lastOut rune = -1
	lastWasMatch := false
	for _, c := range s {
		if !sp.matches(c) {
			b.WriteRune(c)
			lastWasMatch = false
			continue
		}
		count++
		if countOnly {
			b.WriteRune(c)
			continue
		}
		r, keep := sp.mapped(c)
		if !keep {
			lastWasMatch = false
			continue
		}
		if sp.Squash && lastWasMatch && r == lastOut {
			continue
		}
		b.WriteRune(r)
		lastOut = r
		lastWasMatch = true
	}
	return b.String(), count
}
