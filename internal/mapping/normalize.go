package mapping

import "strings"

// Normalize collapses line breaks and whitespace runs in a header to single
// spaces and trims both ends. Every other character is kept as is.
func Normalize(header string) string {
	return strings.Join(strings.Fields(header), " ")
}
