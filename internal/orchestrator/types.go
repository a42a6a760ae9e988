package orchestrator

import (
	"errors"
	"time"

	"github.com/joshharrison/lantern/internal/llm"
	"github.com/joshharrison/lantern/internal/planner"
)

// Stage names the orchestrator state recorded in each checkpoint.
type Stage string

const (
	StageStaticAnalysis Stage = "static_analysis"
	StagePlanning       Stage = "planning"
	StageHumanReview    Stage = "human_review"
	StageBatchExecution Stage = "batch_execution"
	StageSynthesis      Stage = "synthesis"
	StageQualityGate    Stage = "quality_gate"
	StageRefine         Stage = "refine"
	StageDone           Stage = "done"
)

var stageOrder = map[Stage]int{
	StageStaticAnalysis: 0,
	StagePlanning:       1,
	StageHumanReview:    2,
	StageBatchExecution: 3,
	StageSynthesis:      4,
	StageQualityGate:    5,
	StageRefine:         5,
	StageDone:           6,
}

// after reports whether s is a later stage than ref. Unknown stages are
// never after anything.
func (s Stage) after(ref Stage) bool {
	a, ok := stageOrder[s]
	if !ok {
		return false
	}
	return a > stageOrder[ref]
}

var (
	// ErrNoBaseline is returned by an incremental run when no analyzed commit
	// is recorded yet.
	ErrNoBaseline = errors.New("no analyzed commit recorded; run a full analysis first")
	// ErrAwaitingReview is returned when the plan waits for human approval.
	ErrAwaitingReview = errors.New("plan is awaiting review")
	// ErrLargeChange is returned when the change set is large and the policy
	// is to abort.
	ErrLargeChange = errors.New("change set exceeds the large-change threshold")
)

// Defaults for Config fields left zero.
const (
	DefaultMaxParallel      = 4
	DefaultBatchTimeout     = 10 * time.Minute
	DefaultQualityThreshold = 0.8
	DefaultMaxRefinements   = 3
)

// Large change policies.
const (
	LargeChangeFull        = "full"
	LargeChangeIncremental = "incremental"
	LargeChangeAbort       = "abort"
)

// Config holds orchestrator configuration.
type Config struct {
	RepoPath  string
	OutputDir string
	Mode      planner.Mode

	Include []string
	Exclude []string

	MaxBatchSize int
	MaxParallel  int
	Sequential   bool
	BatchTimeout time.Duration

	OnLargeChange    string
	QualityThreshold float64
	MaxRefinements   int

	// PlanOnly stops after the plan is written.
	PlanOnly bool
	// Fresh ignores the checkpoint and starts a new run.
	Fresh bool
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = planner.ModeFull
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = planner.DefaultMaxBatchSize
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = DefaultMaxParallel
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = DefaultBatchTimeout
	}
	if c.OnLargeChange == "" {
		c.OnLargeChange = LargeChangeFull
	}
	if c.QualityThreshold <= 0 {
		c.QualityThreshold = DefaultQualityThreshold
	}
	if c.MaxRefinements < 0 {
		c.MaxRefinements = 0
	} else if c.MaxRefinements == 0 {
		c.MaxRefinements = DefaultMaxRefinements
	}
	return c
}

// Report summarizes a finished run.
type Report struct {
	RunID        string
	Mode         planner.Mode
	Stage        Stage
	Plan         *planner.Plan
	Executed     []int
	Failed       []int
	Removed      []string
	Relabeled    map[string]string
	UpToDate     bool
	QualityScore float64
	Iterations   int
	Commit       string
	Duration     time.Duration
	// Usage and Cost cover the LLM calls of this process; zero without a meter.
	Usage llm.Usage
	Cost  float64
}
