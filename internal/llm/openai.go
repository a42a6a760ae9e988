package llm

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

var defaultBaseURL = map[string]string{
	ProviderOllama:     "http://localhost:11434/v1",
	ProviderOpenRouter: "https://openrouter.ai/api/v1",
}

var defaultOpenAIModel = map[string]string{
	ProviderOpenAI:     "gpt-4o-mini",
	ProviderOllama:     "llama3.1",
	ProviderOpenRouter: "openai/gpt-4o-mini",
}

// OpenAI calls an OpenAI-compatible chat completions endpoint. It serves
// OpenAI, Ollama and OpenRouter.
type OpenAI struct {
	client    *openai.Client
	flavor    string
	model     string
	maxTokens int
}

// NewOpenAI creates a chat completions client for flavor, one of
// ProviderOpenAI, ProviderOllama or ProviderOpenRouter.
func NewOpenAI(flavor, apiKey, model, baseURL string, maxTokens int) (*OpenAI, error) {
	if apiKey == "" && flavor != ProviderOllama {
		return nil, fmt.Errorf("%s: %w", flavor, ErrNoAPIKey)
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL == "" {
		baseURL = defaultBaseURL[flavor]
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = defaultOpenAIModel[flavor]
	}
	return &OpenAI{
		client:    openai.NewClientWithConfig(cfg),
		flavor:    flavor,
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

func (o *OpenAI) Name() string { return o.flavor + ":" + o.model }

func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	var msgs []openai.ChatCompletionMessage
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	creq := openai.ChatCompletionRequest{
		Model:               o.model,
		Messages:            msgs,
		MaxCompletionTokens: maxTokens(req, o.maxTokens),
	}
	if req.JSON {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := o.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return "", fmt.Errorf("%s API call: %w", o.flavor, err)
	}
	req.ReportUsage(int64(resp.Usage.PromptTokens), int64(resp.Usage.CompletionTokens))
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices", o.flavor)
	}
	return resp.Choices[0].Message.Content, nil
}
