package planner

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joshharrison/lantern/internal/graph"
)

// ErrInvalidPlan is returned by Validate for reviewer-edited plans that
// cannot be executed.
var ErrInvalidPlan = errors.New("invalid plan")

const yamlHeader = `# Lantern analysis plan.
# Edit batches (move files, split or merge batches) and re-run with --approve.
# Batch ids must stay unique and every file may appear only once.
`

// SaveYAML writes the plan as the editable review document.
func (p *Plan) SaveYAML(path string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(yamlHeader), data...), 0644); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	return nil
}

// LoadYAML reads a plan written by SaveYAML, possibly edited by a reviewer.
func LoadYAML(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}
	g := graph.New()
	for _, e := range p.Edges {
		g.AddEdge(e.From, e.To)
	}
	p.Mermaid = g.Mermaid()
	return &p, nil
}

// Validate checks that a plan can be executed against g: batch IDs are
// positive and unique, batches are non-empty and within maxBatch, and every
// file is a node of g planned exactly once.
func (p *Plan) Validate(g *graph.DependencyGraph, maxBatch int) error {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatchSize
	}
	ids := make(map[int]bool)
	files := make(map[string]int)
	for _, ph := range p.Phases {
		for _, b := range ph.Batches {
			switch {
			case b.ID <= 0:
				return fmt.Errorf("%w: batch id %d must be positive", ErrInvalidPlan, b.ID)
			case ids[b.ID]:
				return fmt.Errorf("%w: duplicate batch id %d", ErrInvalidPlan, b.ID)
			case len(b.Files) == 0:
				return fmt.Errorf("%w: batch %d is empty", ErrInvalidPlan, b.ID)
			case len(b.Files) > maxBatch:
				return fmt.Errorf("%w: batch %d has %d files (max %d)", ErrInvalidPlan, b.ID, len(b.Files), maxBatch)
			}
			ids[b.ID] = true
			for _, f := range b.Files {
				if !g.Has(f) {
					return fmt.Errorf("%w: batch %d: unknown file %s", ErrInvalidPlan, b.ID, f)
				}
				if prev, ok := files[f]; ok {
					return fmt.Errorf("%w: %s planned in batches %d and %d", ErrInvalidPlan, f, prev, b.ID)
				}
				files[f] = b.ID
			}
		}
	}
	return nil
}

// Markdown renders a read-only view of the plan with the dependency graph.
func (p *Plan) Markdown() string {
	var b strings.Builder
	b.WriteString("# Lantern Analysis Plan\n\n")
	fmt.Fprintf(&b, "Plan: %s (%s)\n\n", p.ID, p.Mode)
	fmt.Fprintf(&b, "Confidence Score: %.2f\n\n", p.Confidence)

	if len(p.Cycles) > 0 {
		b.WriteString("## Dependency Cycles\n\n")
		for _, c := range p.Cycles {
			loop := append(append([]string(nil), c...), c[0])
			fmt.Fprintf(&b, "- %s\n", strings.Join(loop, " -> "))
		}
		b.WriteString("\n")
	}

	if p.Mermaid != "" {
		b.WriteString("## Dependency Graph\n\n```mermaid\n")
		b.WriteString(p.Mermaid)
		b.WriteString("\n```\n\n")
	}

	for _, ph := range p.Phases {
		fmt.Fprintf(&b, "## Phase %d\n", ph.ID)
		if len(ph.LearningObjectives) > 0 {
			b.WriteString("\n### Learning Objectives\n")
			for _, obj := range ph.LearningObjectives {
				fmt.Fprintf(&b, "- %s\n", obj)
			}
		}
		b.WriteString("\n### Execution Batches\n")
		for _, batch := range ph.Batches {
			fmt.Fprintf(&b, "- [ ] Batch %d: `%s`\n", batch.ID, strings.Join(batch.Files, ", "))
			if batch.Hint != "" {
				fmt.Fprintf(&b, "  - *Hint: %s*\n", batch.Hint)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// SaveMarkdown writes Markdown to path.
func (p *Plan) SaveMarkdown(path string) error {
	if err := os.WriteFile(path, []byte(p.Markdown()), 0644); err != nil {
		return fmt.Errorf("write plan document: %w", err)
	}
	return nil
}
