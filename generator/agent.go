package generator

import (
	"context"
	"errors"
)

// Agent fills missing summary fields of a document through an LLM.
type Agent struct {
	llm  LLMClient
	fill Fill
}

func NewAgent(llm LLMClient, fill Fill) (*Agent, error) {
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	return &Agent{llm: llm, fill: fill}, nil
}

// Complete returns doc with the enabled empty fields generated. Fields that
// already hold a value are never replaced. When nothing is missing no call
// is made.
func (a *Agent) Complete(ctx context.Context, doc Document) (Document, error) {
	want := a.fill.missing(doc)
	if !want.Any() {
		return doc, nil
	}

	raw, err := a.llm.Complete(ctx, BuildPrompt(doc, want))
	if err != nil {
		return doc, err
	}
	gen, err := PostProcess(raw, want)
	if err != nil {
		return doc, err
	}
	if want.Excerpt && gen.Excerpt != "" {
		doc.Excerpt = gen.Excerpt
	}
	if want.MetaDescription && gen.MetaDescription != "" {
		doc.MetaDescription = gen.MetaDescription
	}
	return doc, nil
}
