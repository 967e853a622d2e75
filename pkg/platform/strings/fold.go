package strings

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// FoldKey returns the comparison key for a display string: NFKC normalized,
// case folded, with runs of whitespace collapsed to one space and trimmed.
// Two names with equal keys are exact matches for duplicate detection.
//
// Example:
//
//	FoldKey("  Mark\tTWAIN ")
//	// Returns: "mark twain"
func FoldKey(s string) string {
	s = folder.String(norm.NFKC.String(s))
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
