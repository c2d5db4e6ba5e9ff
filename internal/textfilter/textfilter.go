// Package textfilter removes stutter-like repetitions that speech models
// tend to emit at segment boundaries.
package textfilter

import (
	"slices"
	"strings"
)

// MaxGram is the longest phrase, in words, checked for repetition.
const MaxGram = 5

// RemoveRepeatedPhrases collapses immediately repeated phrases of one to
// MaxGram words into a single occurrence. Words are whitespace-separated;
// the result is re-joined with single spaces. The scan is one pass from
// left to right and shorter phrases are tried first at each position.
func RemoveRepeatedPhrases(text string) string {
	tokens := strings.Fields(text)
	out := make([]string, 0, len(tokens))

	for i := 0; i < len(tokens); {
		n := repeatAt(tokens, i)
		if n == 0 {
			out = append(out, tokens[i])
			i++
			continue
		}

		gram := tokens[i : i+n]
		out = append(out, gram...)
		i += n
		for i+n <= len(tokens) && slices.Equal(tokens[i:i+n], gram) {
			i += n
		}
	}
	return strings.Join(out, " ")
}

// repeatAt returns the smallest n whose n-gram at i is immediately
// followed by a copy of itself, or 0.
func repeatAt(tokens []string, i int) int {
	for n := 1; n <= MaxGram; n++ {
		if i+2*n > len(tokens) {
			return 0
		}
		if slices.Equal(tokens[i:i+n], tokens[i+n:i+2*n]) {
			return n
		}
	}
	return 0
}
