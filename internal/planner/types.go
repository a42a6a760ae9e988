package planner

import (
	"time"

	"github.com/joshharrison/lantern/internal/graph"
)

// Mode says whether a plan covers the whole graph or only an impact set.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// DefaultMaxBatchSize bounds how many files one analysis call sees.
const DefaultMaxBatchSize = 3

// Plan is the complete analysis plan: phases of batches in execution order.
type Plan struct {
	ID           string       `json:"id" yaml:"id"`
	Mode         Mode         `json:"mode" yaml:"mode"`
	CreatedAt    time.Time    `json:"created_at" yaml:"created_at"`
	MaxBatchSize int          `json:"max_batch_size" yaml:"max_batch_size"`
	Confidence   float64      `json:"confidence" yaml:"confidence"`
	Phases       []Phase      `json:"phases" yaml:"phases"`
	Edges        []graph.Edge `json:"edges,omitempty" yaml:"edges,omitempty"`
	Cycles       [][]string   `json:"cycles,omitempty" yaml:"cycles,omitempty"`
	Mermaid      string       `json:"-" yaml:"-"`
}

// Phase groups the batches of one dependency layer. Incremental plans hold a
// single phase.
type Phase struct {
	ID                 int      `json:"id" yaml:"id"`
	Layer              int      `json:"layer" yaml:"layer"`
	Batches            []Batch  `json:"batches" yaml:"batches"`
	LearningObjectives []string `json:"learning_objectives,omitempty" yaml:"learning_objectives,omitempty"`
}

// Batch is one unit of analysis work.
type Batch struct {
	ID    int      `json:"id" yaml:"id"`
	Files []string `json:"files" yaml:"files"`
	Layer int      `json:"layer" yaml:"layer"`
	Hint  string   `json:"hint,omitempty" yaml:"hint,omitempty"`
}

// PlanConfig holds planning parameters.
type PlanConfig struct {
	MaxBatchSize int
}

func (c PlanConfig) withDefaults() PlanConfig {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	return c
}
