package generator

import (
	"fmt"
	"strings"
)

const (
	excerptLabel  = "EXCERPT:"
	metaLabel     = "META_DESCRIPTION:"
	articleMarker = "ARTICLE:"

	excerptLimit = 300
	metaLimit    = 160
	contentLimit = 6000
)

// Prompt is the message pair sent to the model.
type Prompt struct {
	System string
	User   string
}

// BuildPrompt asks for the fields in want, one labelled line each.
func BuildPrompt(doc Document, want Fill) Prompt {
	var sb strings.Builder
	sb.WriteString("Write the requested summary fields for the article below.\n")
	sb.WriteString("Answer with one line per field, starting with its label, and nothing else.\n")
	if want.Excerpt {
		sb.WriteString(fmt.Sprintf("%s a plain-text excerpt of at most %d characters.\n", excerptLabel, excerptLimit))
	}
	if want.MetaDescription {
		sb.WriteString(fmt.Sprintf("%s a search-engine description of at most %d characters.\n", metaLabel, metaLimit))
	}
	sb.WriteString("\nTITLE: ")
	sb.WriteString(doc.Title)
	sb.WriteString("\n")
	sb.WriteString(articleMarker)
	sb.WriteString("\n")
	sb.WriteString(clip(plainText(doc.Content), contentLimit))

	return Prompt{
		System: "You are a careful web editor. Never invent facts that are not in the article. Output plain text without markdown.",
		User:   sb.String(),
	}
}
