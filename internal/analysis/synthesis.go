package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/joshharrison/lantern/internal/llm"
)

// Documents is the set of top-level documents a synthesis produces.
var Documents = []string{"OVERVIEW.md", "ARCHITECTURE.md", "CONCEPTS.md", "GETTING_STARTED.md"}

// maxRecordDigest caps the per-file text fed into a synthesis prompt.
const maxRecordDigest = 600

const synthesisSystem = `You write the top-level documentation of a codebase from per-file analyses. Prefer concrete names and paths over generalities.`

const documentsFormat = `
## Response format
Respond with a single JSON object and nothing else:
{"documents": {"OVERVIEW.md": "<markdown>", "ARCHITECTURE.md": "<markdown>", "CONCEPTS.md": "<markdown>", "GETTING_STARTED.md": "<markdown>"}}
`

const evaluationPrompt = `Rate the documentation below for a new contributor: accuracy against the file analyses, coverage of the architecture, and clarity.

Respond with a single JSON object and nothing else:
{"score": <number between 0 and 1>, "feedback": "<the most important improvements, as a short list>"}
`

// LLMSynthesizer synthesizes documents with a Provider and scores them with
// a second evaluation call.
type LLMSynthesizer struct {
	provider llm.Provider
	cfg      Config
}

// NewSynthesizer returns a synthesizer writing documents under cfg.OutputDir.
func NewSynthesizer(p llm.Provider, cfg Config) *LLMSynthesizer {
	return &LLMSynthesizer{provider: p, cfg: cfg}
}

func (s *LLMSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (*Synthesis, error) {
	prompt := "Write the top-level documents for this repository.\n\n" + s.context(req) + documentsFormat
	return s.generate(ctx, "synthesis", prompt)
}

func (s *LLMSynthesizer) Refine(ctx context.Context, req SynthesisRequest, prev *Synthesis) (*Synthesis, error) {
	var b strings.Builder
	b.WriteString("Improve the documents below using the reviewer feedback. Keep what is correct.\n\n")
	fmt.Fprintf(&b, "## Reviewer feedback (score %.2f)\n%s\n\n", prev.Score, prev.Feedback)
	b.WriteString(renderDocuments(prev.Documents))
	b.WriteString(s.context(req))
	b.WriteString(documentsFormat)
	return s.generate(ctx, "refine", b.String())
}

func (s *LLMSynthesizer) generate(ctx context.Context, label, prompt string) (*Synthesis, error) {
	text, err := s.provider.Complete(ctx, llm.Request{
		Label:  label,
		System: synthesisSystem,
		Prompt: prompt,
		JSON:   true,
	})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Documents map[string]string `json:"documents"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &resp); err != nil {
		return nil, fmt.Errorf("parse synthesis response: %w", err)
	}
	docs := knownDocuments(resp.Documents, s.logger())
	if len(docs) == 0 {
		return nil, fmt.Errorf("synthesis returned no documents")
	}
	if err := WriteDocuments(s.cfg.OutputDir, docs, s.logger()); err != nil {
		return nil, err
	}

	out := &Synthesis{Documents: docs}
	out.Score, out.Feedback, err = s.evaluate(ctx, docs)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *LLMSynthesizer) evaluate(ctx context.Context, docs map[string]string) (float64, string, error) {
	text, err := s.provider.Complete(ctx, llm.Request{
		Label:  "evaluate",
		Prompt: evaluationPrompt + "\n" + renderDocuments(docs),
		JSON:   true,
	})
	if err != nil {
		return 0, "", err
	}
	var resp struct {
		Score    float64 `json:"score"`
		Feedback string  `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &resp); err != nil {
		return 0, "", fmt.Errorf("parse evaluation: %w", err)
	}
	return clampScore(resp.Score), strings.TrimSpace(resp.Feedback), nil
}

func (s *LLMSynthesizer) context(req SynthesisRequest) string {
	var b strings.Builder
	if s.cfg.Language != "" {
		fmt.Fprintf(&b, "Write in %s.\n\n", s.cfg.Language)
	}
	if req.Summary != "" {
		fmt.Fprintf(&b, "## Findings\n%s\n\n", req.Summary)
	}
	b.WriteString("## File analyses\n")
	for _, r := range req.Records {
		digest := r.Summary
		if len(digest) > maxRecordDigest {
			cut := maxRecordDigest
			for cut > 0 && !utf8.RuneStart(digest[cut]) {
				cut--
			}
			digest = digest[:cut] + "..."
		}
		fmt.Fprintf(&b, "- %s: %s\n", r.Path, digest)
		if len(r.Symbols) > 0 {
			fmt.Fprintf(&b, "  symbols: %s\n", strings.Join(r.Symbols, ", "))
		}
	}
	return b.String()
}

func renderDocuments(docs map[string]string) string {
	names := make([]string, 0, len(docs))
	for n := range docs {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		fmt.Fprintf(&b, "## %s\n%s\n\n", n, docs[n])
	}
	return b.String()
}

func clampScore(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		// Some models answer on a 0-10 or 0-100 scale.
		if v <= 10 {
			return v / 10
		}
		if v <= 100 {
			return v / 100
		}
		return 1
	}
	return v
}

func (s *LLMSynthesizer) logger() *slog.Logger {
	if s.cfg.Logger != nil {
		return s.cfg.Logger
	}
	return slog.Default()
}

// knownDocuments keeps the entries of docs named in Documents, keyed by
// their canonical name. Other names are logged and dropped.
func knownDocuments(docs map[string]string, logger *slog.Logger) map[string]string {
	out := make(map[string]string, len(docs))
	for name, body := range docs {
		i := slices.IndexFunc(Documents, func(d string) bool { return strings.EqualFold(d, name) })
		if i < 0 {
			logger.Warn("ignoring unexpected document", "name", name)
			continue
		}
		out[Documents[i]] = body
	}
	return out
}

// WriteDocuments writes docs into dir. Only the names in Documents are
// written; the output directory also holds the state and record files.
func WriteDocuments(dir string, docs map[string]string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	for name, body := range knownDocuments(docs, logger) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(strings.TrimSpace(body)+"\n"), 0644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}
