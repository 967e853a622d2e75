// Package strings holds the text helpers shared by config parsing and
// duplicate detection.
package strings

import "strings"

// SplitList parses a comma separated setting such as a broker list.
// Elements are trimmed; blanks and repeats are dropped and first-seen order
// is kept. An empty or all-blank input yields nil.
//
// Example:
//
//	SplitList(" a:9092, b:9092 ,,a:9092")
//	// Returns: []string{"a:9092", "b:9092"}
func SplitList(s string) []string {
	var out []string
	seen := map[string]bool{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" || seen[part] {
			continue
		}
		seen[part] = true
		out = append(out, part)
	}
	return out
}
