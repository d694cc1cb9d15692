package generator

import (
	"context"
	"errors"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultLLMTimeout = 60 * time.Second

// OpenAILLM implements LLMClient with the openai-go chat completions API.
type OpenAILLM struct {
	model   string
	timeout time.Duration
	client  openai.Client
}

// NewOpenAILLM validates settings and builds the SDK client once.
func NewOpenAILLM(settings LLMSettings) (*OpenAILLM, error) {
	if strings.TrimSpace(settings.APIKey) == "" {
		return nil, errors.New("openai api key missing; provide llm.api_key")
	}
	if strings.TrimSpace(settings.Model) == "" {
		return nil, errors.New("llm model is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(settings.APIKey)}
	if settings.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(settings.BaseURL))
	}
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = defaultLLMTimeout
	}
	return &OpenAILLM{
		model:   settings.Model,
		timeout: timeout,
		client:  openai.NewClient(opts...),
	}, nil
}

func (o *OpenAILLM) Complete(ctx context.Context, prompt Prompt) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt.System),
			openai.UserMessage(prompt.User),
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}
