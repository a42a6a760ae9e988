package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Gemini calls the Gemini API.
type Gemini struct {
	cli       *genai.Client
	model     string
	maxTokens int
}

// NewGemini creates a Gemini client. model defaults to gemini-2.5-flash.
func NewGemini(ctx context.Context, apiKey, model string, maxTokens int) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: %w", ErrNoAPIKey)
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &Gemini{cli: cli, model: model, maxTokens: maxTokens}, nil
}

func (g *Gemini) Name() string { return "gemini:" + g.model }

func (g *Gemini) Complete(ctx context.Context, req Request) (string, error) {
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens(req, g.maxTokens)),
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Role: genai.RoleUser, Parts: []*genai.Part{{Text: req.Prompt}}}},
		cfg,
	)
	if err != nil {
		return "", fmt.Errorf("gemini API call: %w", err)
	}
	if u := resp.UsageMetadata; u != nil {
		req.ReportUsage(int64(u.PromptTokenCount), int64(u.CandidatesTokenCount))
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	return strings.TrimSpace(text.String()), nil
}
