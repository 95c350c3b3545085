package values

import (
	"math"
	"strconv"
	"strings"
)

// ParseNumber numifies a string with Perl's rules: optional leading
// whitespace, optional sign, decimal digits with optional fraction and
// exponent, or Inf/Infinity/NaN. A partial parse yields the longest numeric
// prefix and clean=false; no numeric prefix yields 0. Hex/octal/binary are
// NOT recognised here (that is oct()'s job).
func ParseNumber(s string) (f float64, clean bool) {
	i := 0
	n := len(s)
	for i < n && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r' || s[i] == '\f') {
		i++
	}
	start := i
	if i < n && (s[i] == '+' || s[i] == '-') {
		i++
	}
	// Inf / Infinity / NaN
	rest := s[i:]
	lower := strings.ToLower(rest)
	neg := start < n && s[start] == '-'
	if strings.HasPrefix(lower, "infinity") {
		return infVal(neg), trailingOK(s, i+8)
	}
	if strings.HasPrefix(lower, "inf") {
		return infVal(neg), trailingOK(s, i+3)
	}
	if strings.HasPrefix(lower, "nan") {
		return math.NaN(), trailingOK(s, i+3)
	}

	digits := 0
	for i < n && s[i] >= '0' && s[i] <= '9' {
		i++
		digits++
	}
	if i < n && s[i] == '.' {
		i++
		for i < n && s[i] >= '0' && s[i] <= '9' {
			i++
			digits++
		}
	}
	if digits == 0 {
		return 0, strings.TrimSpace(s) == ""
	}
	if i < n && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < n && (s[j] == '+' || s[j] == '-') {
			j++
		}
		expDigits := 0
		for j < n && s[j] >= '0' && s[j] <= '9' {
			j++
			expDigits++
		}
		if expDigits > 0 {
			i = j
		}
	}
	f, err := strconv.ParseFloat(s[start:i], 64)
	if err != nil {
		f = 0
	}
	return f, trailingOK(s, i)
}

func infVal(neg bool) float64 {
	if neg {
		return math.Inf(-1)
	}
	return math.Inf(1)
}

// trailingOK reports whether only whitespace follows position i.
func trailingOK(s string, i int) bool {
	if i > len(s) {
		return false
	}
	return strings.TrimSpace(s[i:]) == ""
}

// FormatNumber stringifies a float the way Perl does: integral values print
// without a decimal point, everything else through %.15g.
func FormatNumber(f float64) string {
	if math.IsInf(f, 1) {
		return "Inf"
	}
	if math.IsInf(f, -1) {
		return "-Inf"
	}
	if math.IsNaN(f) {
		return "NaN"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', 15, 64)
}

// StringIncrement implements Perl's magic ++ on strings matching
// /^[a-zA-Z]*[0-9]*$/: 'az' -> 'ba', 'Zz' -> 'AAa', 'a9' -> 'b0'.
// The second result is false when the string is not in the magic domain
// (callers fall back to numeric increment).
func StringIncrement(s string) (string, bool) {
	if s == "" {
		return "1", true
	}
	letters := 0
	for letters < len(s) && isAlpha(s[letters]) {
		letters++
	}
	digits := letters
	for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
		digits++
	}
	if digits != len(s) {
		return "", false
	}
	b := []byte(s)
	i := len(b) - 1
	for i >= 0 {
		switch {
		case b[i] >= '0' && b[i] <= '8', b[i] >= 'a' && b[i] <= 'y', b[i] >= 'A' && b[i] <= 'Y':
			b[i]++
			return string(b), true
		case b[i] == '9':
			b[i] = '0'
		case b[i] == 'z':
			b[i] = 'a'
		case b[i] == 'Z':
			b[i] = 'A'
		}
		i--
	}
	// full carry: prepend a unit of the first column's class
	switch {
	case s[0] >= '0' && s[0] <= '9':
		return "1" + string(b), true
	case s[0] >= 'a' && s[0] <= 'z':
		return "a" + string(b), true
	default:
		return "A" + string(b), true
	}
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
