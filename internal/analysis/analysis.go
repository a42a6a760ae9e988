// Package analysis holds the collaborators that turn batches of files into
// analysis records and the records into top-level documents.
package analysis

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/joshharrison/lantern/internal/llm"
	"github.com/joshharrison/lantern/internal/planner"
	"github.com/joshharrison/lantern/internal/records"
)

// Backend types accepted in the [backend] config section.
const (
	BackendStructured = "structured"
	BackendAgent      = "agent"
)

// BatchRequest is one batch handed to an Analyzer.
type BatchRequest struct {
	BatchID      int
	TotalBatches int
	Mode         planner.Mode
	Files        []string
	Hint         string
	Dependencies []string
	Summary      string
}

// BatchResult is the analysis of one batch.
type BatchResult struct {
	Records []records.Record
	// Summary is appended to the global summary as "Batch N Summary: ...".
	Summary string
}

// Analyzer analyzes one batch of files.
type Analyzer interface {
	AnalyzeBatch(ctx context.Context, req BatchRequest) (*BatchResult, error)
}

// SynthesisRequest is the input of a synthesis pass.
type SynthesisRequest struct {
	Records []records.Record
	Summary string
}

// Synthesis is a set of top-level documents and their quality score.
type Synthesis struct {
	Documents map[string]string
	Score     float64
	Feedback  string
}

// Synthesizer produces and refines the top-level documents.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (*Synthesis, error)
	Refine(ctx context.Context, req SynthesisRequest, prev *Synthesis) (*Synthesis, error)
}

// Config selects and configures the collaborators.
type Config struct {
	Backend        string
	LLM            llm.Settings
	CLICommand     string
	RepoPath       string
	OutputDir      string
	Language       string
	PromptTemplate string
	// Stream receives formatted agent output; nil keeps it in the log files.
	Stream io.Writer
	Mu     *sync.Mutex
	Logger *slog.Logger
}

// Collaborators bundles what New builds.
type Collaborators struct {
	Analyzer    Analyzer
	Synthesizer Synthesizer
	Compressor  *Compressor
	Provider    llm.Provider
	// Meter counts the calls and tokens of every collaborator.
	Meter *llm.Meter
}

// New builds the collaborators for cfg. The variant is chosen once here.
func New(ctx context.Context, cfg Config) (*Collaborators, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Mu == nil {
		cfg.Mu = &sync.Mutex{}
	}

	var (
		p   llm.Provider
		err error
	)
	switch cfg.Backend {
	case BackendStructured, "":
		p, err = llm.New(ctx, cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("backend: %w", err)
		}
	case BackendAgent:
		p = NewAgent(AgentConfig{
			Command: cfg.CLICommand,
			Dir:     cfg.RepoPath,
			LogDir:  filepath.Join(cfg.OutputDir, "logs"),
			Stream:  cfg.Stream,
			Mu:      cfg.Mu,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	cfg.Logger.Debug("analysis backend", "backend", cfg.Backend, "provider", p.Name())
	priced := p.Name()
	if cfg.Backend == BackendAgent {
		// The agent CLI runs Claude; its model is not named on the command line.
		priced = llm.ProviderAnthropic + ":claude-sonnet-4"
	}
	meter := llm.NewMeter(priced)
	p = llm.Metered(p, meter)

	var a Analyzer
	if cfg.Backend == BackendAgent {
		a = &AgentAnalyzer{provider: p, cfg: cfg}
	} else {
		a = &Structured{provider: p, cfg: cfg}
	}
	return &Collaborators{
		Analyzer:    a,
		Synthesizer: NewSynthesizer(p, cfg),
		Compressor:  NewCompressor(p),
		Provider:    p,
		Meter:       meter,
	}, nil
}

func promptData(cfg Config, req BatchRequest) planner.PromptData {
	return planner.PromptData{
		BatchID:      req.BatchID,
		TotalBatches: req.TotalBatches,
		Mode:         req.Mode,
		RepoPath:     cfg.RepoPath,
		Files:        req.Files,
		Hint:         req.Hint,
		Dependencies: req.Dependencies,
		Summary:      req.Summary,
		Language:     cfg.Language,
	}
}
