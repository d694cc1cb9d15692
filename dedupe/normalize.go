// Package dedupe detects existing remote resources that share a title with
// an incoming row, independent of slug or publication status.
package dedupe

import (
	"html"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// maxNormalizePasses bounds the fixed-point loop; real titles settle in
// one or two passes (double-encoded entities take two).
const maxNormalizePasses = 8

// NormalizeTitle strips markup, decodes HTML entities, collapses whitespace
// and lowercases. The result is a fixed point: normalizing it again returns
// it unchanged.
func NormalizeTitle(title string) string {
	current := title
	for i := 0; i < maxNormalizePasses; i++ {
		next := normalizePass(current)
		if next == current {
			return next
		}
		current = next
	}
	return current
}

func normalizePass(s string) string {
	s = tagPattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = strings.Join(strings.Fields(s), " ")
	return cases.Lower(language.Und).String(s)
}
