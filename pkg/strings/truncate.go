// Package strings holds text helpers shared by the output formatters.
package strings

import (
	"strings"
)

// DefaultCellMaxLen is the widest value a table cell shows before it is
// truncated.
const DefaultCellMaxLen = 100

// MinTruncateLen is the smallest maxLen Truncate honors; anything smaller
// would leave no room for content plus "...".
const MinTruncateLen = 4

// Truncate collapses all whitespace runs in s (newlines included) into
// single spaces and shortens the result to at most maxLen runes, marking
// the cut with "...".
func Truncate(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
