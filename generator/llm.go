package generator

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// LLMClient abstracts the completion backend so it can be swapped or mocked.
type LLMClient interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// LLMSettings is the backend configuration handed to NewLLM.
type LLMSettings struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

// NewLLM builds the client for settings.Provider.
func NewLLM(settings LLMSettings) (LLMClient, error) {
	switch strings.ToLower(strings.TrimSpace(settings.Provider)) {
	case "openai":
		return NewOpenAILLM(settings)
	case "deepseek":
		// DeepSeek speaks the OpenAI wire protocol but has no default endpoint.
		if settings.BaseURL == "" {
			return nil, fmt.Errorf("llm provider deepseek requires base_url (OpenAI-compatible endpoint)")
		}
		return NewOpenAILLM(settings)
	case "mock":
		return MockLLM{}, nil
	case "":
		return nil, fmt.Errorf("llm provider missing; set llm.provider in config")
	default:
		return nil, fmt.Errorf("llm provider %s not supported", settings.Provider)
	}
}
