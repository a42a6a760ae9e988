package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic calls the Claude messages API.
type Anthropic struct {
	inner     anthropic.Client
	model     anthropic.Model
	maxTokens int
}

// NewAnthropic creates a Claude client. model defaults to Claude Sonnet.
func NewAnthropic(apiKey, model string, maxTokens int) (*Anthropic, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: %w", ErrNoAPIKey)
	}
	m := anthropic.ModelClaudeSonnet4_6
	if model != "" {
		m = anthropic.Model(model)
	}
	return &Anthropic{
		inner:     anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     m,
		maxTokens: maxTokens,
	}, nil
}

func (a *Anthropic) Name() string { return "anthropic:" + string(a.model) }

func (a *Anthropic) Complete(ctx context.Context, req Request) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: int64(maxTokens(req, a.maxTokens)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := a.inner.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("claude API call: %w", err)
	}
	req.ReportUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(text.String()), nil
}
