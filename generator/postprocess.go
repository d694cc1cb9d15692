package generator

import (
	"errors"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

var tagRe = regexp.MustCompile(`<[^>]*>`)

// Generated holds the parsed model answer.
type Generated struct {
	Excerpt         string
	MetaDescription string
}

// PostProcess extracts the labelled fields from raw and clips them to their
// limits. A bare single answer is accepted when exactly one field was asked.
func PostProcess(raw string, want Fill) (Generated, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Generated{}, errors.New("model returned empty text")
	}

	var out Generated
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.Trim(line, "*"))
		switch {
		case strings.HasPrefix(line, excerptLabel):
			out.Excerpt = clip(strings.TrimPrefix(line, excerptLabel), excerptLimit)
		case strings.HasPrefix(line, metaLabel):
			out.MetaDescription = clip(strings.TrimPrefix(line, metaLabel), metaLimit)
		}
	}

	if out.Excerpt == "" && out.MetaDescription == "" {
		switch {
		case want.Excerpt && !want.MetaDescription:
			out.Excerpt = clip(text, excerptLimit)
		case want.MetaDescription && !want.Excerpt:
			out.MetaDescription = clip(text, metaLimit)
		default:
			return Generated{}, errors.New("model answer carried no labelled fields")
		}
	}
	return out, nil
}

// plainText drops markup so the model sees prose only.
func plainText(s string) string {
	return html.UnescapeString(tagRe.ReplaceAllString(s, " "))
}

// clip collapses whitespace and cuts s to at most limit runes, preferring a
// word boundary.
func clip(s string, limit int) string {
	joined := strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(joined) <= limit {
		return joined
	}
	runes := []rune(joined)
	cut := string(runes[:limit])
	if i := strings.LastIndex(cut, " "); i > limit/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:.-") + "…"
}
