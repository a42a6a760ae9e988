package planner

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"lukechampine.com/blake3"

	"github.com/joshharrison/lantern/internal/graph"
)

// Generate creates a full plan: one phase per layer in ascending order, each
// layer's nodes sorted by path and chunked into batches. Batch IDs run from 1
// across the whole plan.
func Generate(g *graph.DependencyGraph, config PlanConfig) (*Plan, error) {
	config = config.withDefaults()
	layers := g.CalculateLayers()

	byLayer := make(map[int][]string)
	for n, l := range layers {
		byLayer[l] = append(byLayer[l], n)
	}
	order := make([]int, 0, len(byLayer))
	for l := range byLayer {
		order = append(order, l)
	}
	sort.Ints(order)

	plan := newPlan(g, ModeFull, config)
	nextID := 1
	for _, l := range order {
		files := byLayer[l]
		sort.Strings(files)

		phase := Phase{
			ID:                 l + 1,
			Layer:              l,
			LearningObjectives: learningObjectives(l, len(files)),
		}
		phase.Batches, nextID = chunk(files, l, config.MaxBatchSize, nextID)
		plan.Phases = append(plan.Phases, phase)
	}
	return plan, nil
}

// GenerateIncremental plans only the impact set: one phase whose nodes are
// ordered by (layer, path) so dependencies still come first. Nodes missing
// from the graph are ignored.
func GenerateIncremental(g *graph.DependencyGraph, impact []string, config PlanConfig) (*Plan, error) {
	config = config.withDefaults()
	layers := g.CalculateLayers()

	seen := make(map[string]bool, len(impact))
	var files []string
	for _, n := range impact {
		if !g.Has(n) || seen[n] {
			continue
		}
		seen[n] = true
		files = append(files, n)
	}
	sort.Slice(files, func(i, j int) bool {
		if layers[files[i]] != layers[files[j]] {
			return layers[files[i]] < layers[files[j]]
		}
		return files[i] < files[j]
	})

	plan := newPlan(g, ModeIncremental, config)
	if len(files) == 0 {
		return plan, nil
	}

	phase := Phase{
		ID:                 1,
		Layer:              layers[files[0]],
		LearningObjectives: []string{fmt.Sprintf("Re-examine %d changed or affected module(s)", len(files))},
	}
	phase.Batches, _ = chunkOrdered(files, config.MaxBatchSize, 1, layers)
	plan.Phases = append(plan.Phases, phase)
	return plan, nil
}

func newPlan(g *graph.DependencyGraph, mode Mode, config PlanConfig) *Plan {
	now := time.Now()
	cycles := g.DetectCycles()
	return &Plan{
		ID:           fmt.Sprintf("lantern-%s", now.Format("2006-01-02-150405")),
		Mode:         mode,
		CreatedAt:    now,
		MaxBatchSize: config.MaxBatchSize,
		Confidence:   Confidence(len(cycles)),
		Edges:        g.Edges(),
		Cycles:       cycles,
		Mermaid:      g.Mermaid(),
	}
}

// Confidence lowers a perfect score by 0.1 per detected cycle, floored at 0.
func Confidence(cycles int) float64 {
	score := 1.0 - 0.1*float64(cycles)
	if score < 0 {
		return 0
	}
	return score
}

func chunk(files []string, layer, size, nextID int) ([]Batch, int) {
	var out []Batch
	for start := 0; start < len(files); start += size {
		end := min(start+size, len(files))
		out = append(out, Batch{
			ID:    nextID,
			Files: append([]string(nil), files[start:end]...),
			Layer: layer,
		})
		nextID++
	}
	return out, nextID
}

// chunkOrdered chunks files that may span layers; each batch takes the
// highest layer among its files.
func chunkOrdered(files []string, size, nextID int, layers map[string]int) ([]Batch, int) {
	out, next := chunk(files, 0, size, nextID)
	for i := range out {
		for _, f := range out[i].Files {
			if layers[f] > out[i].Layer {
				out[i].Layer = layers[f]
			}
		}
	}
	return out, next
}

func learningObjectives(layer, files int) []string {
	return []string{
		fmt.Sprintf("Understand the role of %d module(s) in layer %d", files, layer),
		"Identify key data structures and interfaces",
	}
}

// Batches returns every batch in execution order.
func (p *Plan) Batches() []Batch {
	var out []Batch
	for _, ph := range p.Phases {
		out = append(out, ph.Batches...)
	}
	return out
}

// Batch looks up a batch by ID.
func (p *Plan) Batch(id int) (Batch, bool) {
	for _, ph := range p.Phases {
		for _, b := range ph.Batches {
			if b.ID == id {
				return b, true
			}
		}
	}
	return Batch{}, false
}

// TotalBatches returns the number of batches across all phases.
func (p *Plan) TotalBatches() int {
	n := 0
	for _, ph := range p.Phases {
		n += len(ph.Batches)
	}
	return n
}

// Files returns every planned file in execution order.
func (p *Plan) Files() []string {
	var out []string
	for _, b := range p.Batches() {
		out = append(out, b.Files...)
	}
	return out
}

// Fingerprint hashes the batch layout (IDs, files, phase boundaries and
// mode). Two plans with the same fingerprint assign the same files to the
// same batch IDs, so recorded progress can be carried over.
func (p *Plan) Fingerprint() string {
	h := blake3.New(32, nil)
	var buf [8]byte
	h.Write([]byte(p.Mode))
	for _, ph := range p.Phases {
		h.Write([]byte{'P'})
		binary.BigEndian.PutUint64(buf[:], uint64(ph.ID))
		h.Write(buf[:])
		for _, b := range ph.Batches {
			h.Write([]byte{'B'})
			binary.BigEndian.PutUint64(buf[:], uint64(b.ID))
			h.Write(buf[:])
			for _, f := range b.Files {
				h.Write([]byte(f))
				h.Write([]byte{0})
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
