// Package diag carries compile-time and runtime diagnostics through the
// pipeline: positions are already #line-remapped by the time they land here.
package diag

import (
	"fmt"
	"io"
	"sort"

	"github.com/gperl-lang/gperl/core/token"
)

// Severity orders diagnostics from informational to fatal.
type Severity int

const (
	SevWarning Severity = iota
	SevError
	SevFatal
)

func (s Severity) String() string {
	switch s {
	case SevWarning:
		return "warning"
	case SevError:
		return "error"
	case SevFatal:
		return "fatal"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// Category names a warnings category controllable by `use warnings`.
type Category string

const (
	CatUninitialized Category = "uninitialized"
	CatNumeric       Category = "numeric"
	CatVoid          Category = "void"
	CatRedundant     Category = "redundant"
	CatSyntax        Category = "syntax"
	CatDeprecated    Category = "deprecated"
	CatAmbiguous     Category = "ambiguous"
	CatUnopened      Category = "unopened"
	CatExpClass      Category = "experimental::class"
	CatExpDeclRefs   Category = "experimental::declared_refs"
	CatUnimplemented Category = "unimplemented"
)

// Diagnostic is one reportable event.
type Diagnostic struct {
	Severity Severity
	Category Category // empty for errors
	Message  string
	Pos      token.Pos
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s at %s.", d.Message, d.Pos)
}

// Sink receives diagnostics as they are produced.
type Sink interface {
	Report(Diagnostic)
}

// List is a Sink that accumulates, for callers that want the batch.
type List struct {
	All []Diagnostic
}

func (l *List) Report(d Diagnostic) { l.All = append(l.All, d) }

// HasErrors reports whether any error-or-worse diagnostic was recorded.
func (l *List) HasErrors() bool {
	for _, d := range l.All {
		if d.Severity >= SevError {
			return true
		}
	}
	return false
}

// FirstError returns the first error-or-worse diagnostic.
func (l *List) FirstError() (Diagnostic, bool) {
	for _, d := range l.All {
		if d.Severity >= SevError {
			return d, true
		}
	}
	return Diagnostic{}, false
}

// Writer is a Sink printing Perl-style one-line diagnostics.
type Writer struct {
	W io.Writer
}

func (w Writer) Report(d Diagnostic) {
	fmt.Fprintf(w.W, "%s at %s.\n", d.Message, d.Pos)
}

// Tee fans a diagnostic out to several sinks.
type Tee []Sink

func (t Tee) Report(d Diagnostic) {
	for _, s := range t {
		s.Report(d)
	}
}

// Warnings is the lexically scoped enable-set for warning categories.
// A nil *Warnings means "no warnings".
type Warnings struct {
	enabledAll bool
	categories map[Category]bool
}

// NewWarnings returns a set with everything disabled.
func NewWarnings() *Warnings {
	return &Warnings{categories: make(map[Category]bool)}
}

// Clone returns an independent copy for a child lexical scope.
func (w *Warnings) Clone() *Warnings {
	if w == nil {
		return NewWarnings()
	}
	c := &Warnings{enabledAll: w.enabledAll, categories: make(map[Category]bool, len(w.categories))}
	for k, v := range w.categories {
		c.categories[k] = v
	}
	return c
}

// Enable turns on a category, or all categories when cat is empty.
func (w *Warnings) Enable(cat Category) {
	if cat == "" {
		w.enabledAll = true
		w.categories = make(map[Category]bool)
		return
	}
	w.categories[cat] = true
}

// Disable turns off a category, or all when cat is empty.
func (w *Warnings) Disable(cat Category) {
	if cat == "" {
		w.enabledAll = false
		w.categories = make(map[Category]bool)
		return
	}
	w.categories[cat] = false
}

// Enabled reports whether a category is active.
func (w *Warnings) Enabled(cat Category) bool {
	if w == nil {
		return false
	}
	if v, ok := w.categories[cat]; ok {
		return v
	}
	return w.enabledAll
}

// ActiveCategories lists the categories switched on by name, sorted, for
// introspection. The blanket all-categories switch is not reflected here.
func (w *Warnings) ActiveCategories() []Category {
	if w == nil {
		return nil
	}
	var out []Category
	for c, on := range w.categories {
		if on {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
