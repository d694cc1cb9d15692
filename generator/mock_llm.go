package generator

import (
	"context"
	"strings"
)

// MockLLM answers without calling a model: it echoes the opening of the
// article text in the labelled format the parser expects. Useful offline.
type MockLLM struct{}

func (MockLLM) Complete(_ context.Context, prompt Prompt) (string, error) {
	text := articleText(prompt.User)
	var sb strings.Builder
	if strings.Contains(prompt.User, excerptLabel) {
		sb.WriteString(excerptLabel)
		sb.WriteString(" ")
		sb.WriteString(clip(text, excerptLimit))
		sb.WriteString("\n")
	}
	if strings.Contains(prompt.User, metaLabel) {
		sb.WriteString(metaLabel)
		sb.WriteString(" ")
		sb.WriteString(clip(text, metaLimit))
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func articleText(user string) string {
	_, body, ok := strings.Cut(user, articleMarker)
	if !ok {
		return strings.TrimSpace(user)
	}
	return strings.TrimSpace(body)
}
