package matching

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// normalizeName composes, case folds and collapses whitespace.
func normalizeName(s string) string {
	s = norm.NFC.String(s)
	return strings.Join(strings.Fields(folder.String(s)), " ")
}

func normalizeManufacturer(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(s)))
}

// Similarity returns the trigram similarity of two names in [0, 1].
func Similarity(a, b string) float64 {
	return jaccard(trigramSet(normalizeName(a)), trigramSet(normalizeName(b)))
}

// trigramSet splits s into alphanumeric words and collects the trigrams of
// each word padded with two leading spaces and one trailing space.
func trigramSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		runes := []rune("  " + w + " ")
		for i := 0; i+3 <= len(runes); i++ {
			set[string(runes[i:i+3])] = struct{}{}
		}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for g := range a {
		if _, ok := b[g]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(a)+len(b)-shared)
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
