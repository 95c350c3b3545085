package vm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/gperl-lang/gperl/runtime/values"
)

// perlSprintf renders a Perl format string: %s %d %u %f %e %g %x %X %o %b
// %c %% with flags, width, precision, and '*' width/precision from the
// argument list.
func perlSprintf(format string, args []*values.Scalar) (string, error) {
	var b strings.Builder
	ai := 0
	next := func() *values.Scalar {
		if ai < len(args) {
			v := args[ai]
			ai++
			return v
		}
		return values.NewUndef()
	}

	i := 0
	for i < len(format) {
		c := format[i]
		if c != '%' {
			b.WriteByte(c)
			i++
			continue
		}
		i++
		if i >= len(format) {
			b.WriteByte('%')
			break
		}
		if format[i] == '%' {
			b.WriteByte('%')
			i++
			continue
		}

		// flags
		flags := ""
		for i < len(format) && strings.IndexByte("-+ 0#", format[i]) >= 0 {
			flags += string(format[i])
			i++
		}
		// width
		width := ""
		if i < len(format) && format[i] == '*' {
			width = strconv.FormatInt(next().IntValue(), 10)
			i++
		} else {
			for i < len(format) && format[i] >= '0' && format[i] <= '9' {
				width += string(format[i])
				i++
			}
		}
		// precision
		prec := ""
		if i < len(format) && format[i] == '.' {
			prec = "."
			i++
			if i < len(format) && format[i] == '*' {
				prec += strconv.FormatInt(next().IntValue(), 10)
				i++
			} else {
				for i < len(format) && format[i] >= '0' && format[i] <= '9' {
					prec += string(format[i])
					i++
				}
			}
		}
		// length modifiers are parsed and ignored
		for i < len(format) && strings.IndexByte("hlqLV", format[i]) >= 0 {
			i++
		}
		if i >= len(format) {
			return "", errors.New("Invalid conversion in sprintf")
		}

		verb := format[i]
		i++
		spec := "%" + flags + width + prec

		switch verb {
		case 's':
			fmt.Fprintf(&b, spec+"s", next().Str())
		case 'd', 'i':
			fmt.Fprintf(&b, spec+"d", next().IntValue())
		case 'u':
			fmt.Fprintf(&b, spec+"d", int64(uint64(next().IntValue())))
		case 'f', 'F':
			fmt.Fprintf(&b, spec+"f", next().NumValue())
		case 'e', 'E':
			fmt.Fprintf(&b, spec+string(verb), next().NumValue())
		case 'g', 'G':
			fmt.Fprintf(&b, spec+string(verb), next().NumValue())
		case 'x':
			fmt.Fprintf(&b, spec+"x", uint64(next().IntValue()))
		case 'X':
			fmt.Fprintf(&b, spec+"X", uint64(next().IntValue()))
		case 'o':
			fmt.Fprintf(&b, spec+"o", uint64(next().IntValue()))
		case 'b':
			fmt.Fprintf(&b, spec+"b", uint64(next().IntValue()))
		case 'c':
			fmt.Fprintf(&b, spec+"s", string(rune(next().IntValue())))
		case 'v':
			// version strings: each character as its ordinal, dot-joined
			var parts []string
			for _, r := range next().Str() {
				parts = append(parts, strconv.Itoa(int(r)))
			}
			b.WriteString(strings.Join(parts, "."))
		default:
			return "", errors.Errorf("Invalid conversion in sprintf: \"%%%c\"", verb)
		}
	}
	return b.String(), nil
}
