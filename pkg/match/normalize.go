// Package match resolves seeds to external canonical IDs by scoring metadata
// search results against the seed's title and year.
package match

import "strings"

const punctuation = `.,:;!?'"()[]{}<>-_~·/\|&*+=#@` + "「」『』《》〈〉…‘’“”"

var punctReplacer = func() *strings.Replacer {
	var pairs []string
	for _, r := range punctuation {
		pairs = append(pairs, string(r), " ")
	}
	return strings.NewReplacer(pairs...)
}()

// Normalize lowercases s, replaces punctuation with spaces and collapses runs
// of whitespace. Titles are compared, merged and cached by this form.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = punctReplacer.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
