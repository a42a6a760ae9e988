// Package llm wraps the completion APIs lantern can analyze code with.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/time/rate"
)

// Provider names accepted in the [backend] config section.
const (
	ProviderAnthropic  = "anthropic"
	ProviderOpenAI     = "openai"
	ProviderOllama     = "ollama"
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
)

// ErrNoAPIKey is returned when a provider needs a key that is not set.
var ErrNoAPIKey = errors.New("api key not set")

// Request is a single completion call.
type Request struct {
	// Label names the call in logs, e.g. "batch-3".
	Label     string
	System    string
	Prompt    string
	MaxTokens int
	JSON      bool

	usage func(Usage)
}

// Provider completes prompts.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// Settings selects and configures a provider.
type Settings struct {
	Provider  string
	Model     string
	APIKeyEnv string
	BaseURL   string
	// RateLimit is the maximum requests per minute; zero disables limiting.
	RateLimit int
	MaxTokens int
}

// DefaultMaxTokens is used when neither the settings nor the request set one.
const DefaultMaxTokens = 8192

var defaultKeyEnv = map[string]string{
	ProviderAnthropic:  "ANTHROPIC_API_KEY",
	ProviderOpenAI:     "OPENAI_API_KEY",
	ProviderOpenRouter: "OPENROUTER_API_KEY",
	ProviderGemini:     "GEMINI_API_KEY",
}

// New builds the provider named by s, wrapped in a rate limiter when
// s.RateLimit is positive.
func New(ctx context.Context, s Settings) (Provider, error) {
	name := strings.ToLower(s.Provider)
	key := apiKey(name, s.APIKeyEnv)

	var (
		p   Provider
		err error
	)
	switch name {
	case ProviderAnthropic, "":
		p, err = NewAnthropic(key, s.Model, s.MaxTokens)
	case ProviderOpenAI, ProviderOllama, ProviderOpenRouter:
		p, err = NewOpenAI(name, key, s.Model, s.BaseURL, s.MaxTokens)
	case ProviderGemini:
		p, err = NewGemini(ctx, key, s.Model, s.MaxTokens)
	default:
		return nil, fmt.Errorf("unknown provider %q", s.Provider)
	}
	if err != nil {
		return nil, err
	}
	if s.RateLimit > 0 {
		p = WithRateLimit(p, s.RateLimit)
	}
	return p, nil
}

func apiKey(provider, env string) string {
	if env == "" {
		env = defaultKeyEnv[provider]
		if provider == "" {
			env = defaultKeyEnv[ProviderAnthropic]
		}
	}
	if env == "" {
		return ""
	}
	return os.Getenv(env)
}

type limited struct {
	Provider
	limiter *rate.Limiter
}

// WithRateLimit limits p to perMinute calls per minute.
func WithRateLimit(p Provider, perMinute int) Provider {
	return &limited{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Limit(float64(perMinute)/60), 1),
	}
}

func (l *limited) Complete(ctx context.Context, req Request) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}
	return l.Provider.Complete(ctx, req)
}

func maxTokens(req Request, fallback int) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultMaxTokens
}

// StripJSONFences removes markdown code fences models sometimes add.
func StripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}
