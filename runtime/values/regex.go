package values

// Regex is a compiled regex object. Engine is the backend handle
// (runtime/regex.Compiled); the value model only carries it.
type Regex struct {
	Pattern string // original Perl pattern text
	Mods    string // flag letters as written
	Engine  interface{}

	// capture metadata from the preprocessor
	Names   map[string]int
	NGroups int
}

// Stringify renders the (?^mods:pattern) form Perl shows for qr//.
func (r *Regex) Stringify() string {
	mods := ""
	for _, m := range r.Mods {
		switch m {
		case 'i', 'm', 's', 'x':
			mods += string(m)
		}
	}
	return "(?^" + mods + ":" + r.Pattern + ")"
}
