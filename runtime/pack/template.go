// Package pack implements Perl's pack/unpack template engine: format items
// with repeat counts and modifiers, nested groups executed by recursion,
// byte/character mode switching, group-relative addressing and slash
// constructs.
package pack

import (
	"strings"

	"github.com/pkg/errors"
)

// countKind says how an item's repeat count was written.
type countKind uint8

const (
	countNone countKind = iota // absent: defaults to 1
	countNum                   // explicit integer
	countStar                  // *
	countTmpl                  // [TEMPLATE]: packed size of the sub-template
)

// item is one parsed template element. Groups carry sub; a slash construct
// stores its length-carrying item in the parent and the value item in slash.
type item struct {
	ch       rune
	mods     string // any of "!<>" in written order
	kind     countKind
	count    int
	sizeOf   []item // [TEMPLATE] length expression
	sub      []item // group body for '('
	slash    *item  // Y of X/Y, attached to the X item
	checksum int    // %N bits; 0 when not a checksum item
}

func (it *item) has(mod byte) bool { return strings.IndexByte(it.mods, mod) >= 0 }

// bigEndian resolves the item's byte order: '>' big, '<' little, otherwise
// the format's own convention (n/N big, v/V little, native little).
func (it *item) bigEndian() bool {
	if it.has('>') {
		return true
	}
	if it.has('<') {
		return false
	}
	switch it.ch {
	case 'n', 'N':
		return true
	default:
		return false
	}
}

var endianCapable = map[rune]bool{
	's': true, 'S': true, 'l': true, 'L': true, 'q': true, 'Q': true,
	'i': true, 'I': true, 'j': true, 'J': true, 'f': true, 'd': true,
	'F': true, 'p': true, 'P': true,
}

// parseTemplate turns a template string into items. It is shared by pack and
// unpack; both recurse into groups through the same representation.
func parseTemplate(tmpl string) ([]item, error) {
	items, rest, err := parseItems([]rune(tmpl), false)
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		return nil, errors.Errorf("Mismatched brackets in template near %q", string(rest))
	}
	return items, nil
}

func parseItems(r []rune, inGroup bool) ([]item, []rune, error) {
	var out []item
	for len(r) > 0 {
		c := r[0]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			r = r[1:]
			continue
		case c == '#': // comment to end of line
			for len(r) > 0 && r[0] != '\n' {
				r = r[1:]
			}
			continue
		case c == ')':
			if !inGroup {
				return nil, nil, errors.New("')' without '(' in template")
			}
			return out, r, nil
		}

		var it item

		if c == '%' { // checksum prefix: %N FMT
			r = r[1:]
			bits := 0
			seen := false
			for len(r) > 0 && r[0] >= '0' && r[0] <= '9' {
				bits = bits*10 + int(r[0]-'0')
				seen = true
				r = r[1:]
			}
			if !seen {
				bits = 16
			}
			it.checksum = bits
			for len(r) > 0 && (r[0] == ' ' || r[0] == '\t') {
				r = r[1:]
			}
			if len(r) == 0 {
				return nil, nil, errors.New("Checksum '%' with no format")
			}
			c = r[0]
		}

		if c == '(' {
			sub, rest, err := parseItems(r[1:], true)
			if err != nil {
				return nil, nil, err
			}
			if len(rest) == 0 || rest[0] != ')' {
				return nil, nil, errors.New("Unmatched '(' in template")
			}
			it.ch = '('
			it.sub = sub
			r = rest[1:]
		} else {
			it.ch = c
			r = r[1:]
		}

		// modifiers and count, in any valid order: mods then count
		r = parseMods(&it, r)
		var err error
		r, err = parseCount(&it, r)
		if err != nil {
			return nil, nil, err
		}
		r = parseMods(&it, r) // '(...)2>' style trailing endianness

		// mode switches C0/U0 are encoded as count 0 on C/U
		if (it.ch == 'C' || it.ch == 'U') && it.kind == countNum && it.count == 0 {
			it.ch = modeSwitch(it.ch)
			it.kind = countNone
		}

		// slash construct: X/Y
		for len(r) > 0 && (r[0] == ' ' || r[0] == '\t') {
			r = r[1:]
		}
		if len(r) > 0 && r[0] == '/' {
			if !numericLength(it.ch) {
				return nil, nil, errors.New("'/' must follow a numeric type in pack")
			}
			r = r[1:]
			for len(r) > 0 && (r[0] == ' ' || r[0] == '\t') {
				r = r[1:]
			}
			if len(r) == 0 {
				return nil, nil, errors.New("Code missing after '/'")
			}
			var y item
			if r[0] == '(' {
				sub, rest, err := parseItems(r[1:], true)
				if err != nil {
					return nil, nil, err
				}
				if len(rest) == 0 || rest[0] != ')' {
					return nil, nil, errors.New("Unmatched '(' in template")
				}
				y.ch = '('
				y.sub = sub
				r = rest[1:]
			} else {
				y.ch = r[0]
				r = r[1:]
			}
			r = parseMods(&y, r)
			r, err = parseCount(&y, r)
			if err != nil {
				return nil, nil, err
			}
			it.slash = &y
		}

		// endianness on a group rewrites the children
		if it.ch == '(' && (it.has('>') || it.has('<')) {
			propagateEndianness(it.sub, byteOrderMod(&it))
		}

		out = append(out, it)
	}
	if inGroup {
		return nil, nil, errors.New("Unmatched '(' in template")
	}
	return out, nil, nil
}

func modeSwitch(c rune) rune {
	if c == 'C' {
		return 'Ĉ' // internal marker for C0 (byte mode)
	}
	return 'Û' // internal marker for U0 (character mode)
}

const (
	modeByteSwitch = 'Ĉ'
	modeCharSwitch = 'Û'
)

func parseMods(it *item, r []rune) []rune {
	for len(r) > 0 {
		switch r[0] {
		case '!', '<', '>':
			if (r[0] == '<' && it.has('>')) || (r[0] == '>' && it.has('<')) {
				return r // conflicting order left for the consumer to reject
			}
			it.mods += string(r[0])
			r = r[1:]
		default:
			return r
		}
	}
	return r
}

func parseCount(it *item, r []rune) ([]rune, error) {
	if len(r) == 0 {
		return r, nil
	}
	switch {
	case r[0] == '*':
		it.kind = countStar
		return r[1:], nil
	case r[0] >= '0' && r[0] <= '9':
		n := 0
		for len(r) > 0 && r[0] >= '0' && r[0] <= '9' {
			n = n*10 + int(r[0]-'0')
			r = r[1:]
		}
		it.kind = countNum
		it.count = n
		return r, nil
	case r[0] == '[':
		depth := 1
		i := 1
		for i < len(r) && depth > 0 {
			switch r[i] {
			case '[':
				depth++
			case ']':
				depth--
			}
			i++
		}
		if depth != 0 {
			return nil, errors.New("No group ending character ']' found in template")
		}
		inner := string(r[1 : i-1])
		if strings.ContainsRune(inner, '*') {
			return nil, errors.New("Within []-length '*' not allowed")
		}
		sub, err := parseTemplate(inner)
		if err != nil {
			return nil, err
		}
		it.kind = countTmpl
		it.sizeOf = sub
		return r[i:], nil
	default:
		return r, nil
	}
}

// propagateEndianness rewrites endianness-bearing formats inside a group for
// a trailing '>' or '<': `(l! I)>` behaves as `(l!> I>)`. Items with their
// own explicit order keep it; nested groups recurse; order-blind formats are
// left alone.
func propagateEndianness(items []item, mod byte) {
	for i := range items {
		it := &items[i]
		if it.ch == '(' {
			if !it.has('>') && !it.has('<') {
				propagateEndianness(it.sub, mod)
			}
			continue
		}
		if endianCapable[it.ch] && !it.has('>') && !it.has('<') {
			// '!' stays ahead of the order character
			it.mods += string(mod)
		}
		if it.slash != nil && endianCapable[it.slash.ch] && !it.slash.has('>') && !it.slash.has('<') {
			it.slash.mods += string(mod)
		}
	}
}

func byteOrderMod(it *item) byte {
	if it.has('>') {
		return '>'
	}
	return '<'
}

// numericLength reports whether a format can carry a slash count.
func numericLength(c rune) bool {
	switch c {
	case 'a', 'A', 'Z': // string lengths allowed on unpack ("a3/A")
		return true
	case 'c', 'C', 's', 'S', 'l', 'L', 'q', 'Q', 'i', 'I', 'n', 'N', 'v', 'V', 'j', 'J', 'w', 'W', 'U':
		return true
	default:
		return false
	}
}

// sizeOfItems computes the packed byte size of a length template by packing
// dummy values. Used for x[TEMPLATE] and friends.
func sizeOfItems(items []item, env *Env) (int, error) {
	dummy := &argSource{zeroFill: true}
	var out buffer
	st := newPackState(&out)
	if err := packItems(items, dummy, st, env); err != nil {
		return 0, err
	}
	return out.Len(), nil
}
