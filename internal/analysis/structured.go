package analysis

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joshharrison/lantern/internal/llm"
	"github.com/joshharrison/lantern/internal/planner"
)

// maxFileBytes caps the content embedded per file.
const maxFileBytes = 64 * 1024

const analystSystem = `You are a senior engineer documenting an unfamiliar codebase for new contributors. Be precise and concise.`

// Structured analyzes a batch with one completion call that embeds the file
// contents and asks for JSON.
type Structured struct {
	provider llm.Provider
	cfg      Config
}

// NewStructured returns a Structured analyzer using p.
func NewStructured(p llm.Provider, cfg Config) *Structured {
	return &Structured{provider: p, cfg: cfg}
}

func (s *Structured) AnalyzeBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	prompt, err := planner.RenderPrompt(promptData(s.cfg, req), s.cfg.PromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n## File contents\n")
	for _, f := range req.Files {
		content, err := readCapped(filepath.Join(s.cfg.RepoPath, filepath.FromSlash(f)))
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, "\n### %s\n```\n%s\n```\n", f, content)
	}
	b.WriteString(batchResponseFormat)

	text, err := s.provider.Complete(ctx, llm.Request{
		Label:  fmt.Sprintf("batch-%04d", req.BatchID),
		System: analystSystem,
		Prompt: b.String(),
		JSON:   true,
	})
	if err != nil {
		return nil, err
	}
	return parseBatchResponse(text, req.BatchID, req.Files)
}

func readCapped(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) > maxFileBytes {
		return string(data[:maxFileBytes]) + "\n... (truncated)", nil
	}
	return string(data), nil
}
