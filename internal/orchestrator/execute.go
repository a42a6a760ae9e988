package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joshharrison/lantern/internal/analysis"
	"github.com/joshharrison/lantern/internal/graph"
	"github.com/joshharrison/lantern/internal/planner"
	"github.com/joshharrison/lantern/internal/records"
	"github.com/joshharrison/lantern/internal/state"
	"github.com/joshharrison/lantern/internal/ui"
)

// execute runs every pending batch, phase by phase in ascending order. A
// failed batch is recorded and the run continues; only a cancelled run or a
// storage failure stops it.
func (o *Orchestrator) execute(ctx context.Context, g *graph.DependencyGraph, plan *planner.Plan, report *Report) error {
	pending := make(map[int]bool)
	for _, b := range o.deps.Store.PendingBatches(plan) {
		pending[b.ID] = true
	}
	total := plan.TotalBatches()

	fmt.Fprintf(o.out, "\n🚀 %s (%d of %d batches pending, max %d parallel)\n",
		ui.BoldCyan("Batch execution"), len(pending), total, o.parallelism())

	for _, ph := range plan.Phases {
		var batches []planner.Batch
		for _, b := range ph.Batches {
			if pending[b.ID] {
				batches = append(batches, b)
			}
		}
		if len(batches) == 0 {
			continue
		}
		sort.Slice(batches, func(i, j int) bool { return batches[i].ID < batches[j].ID })

		var err error
		if o.parallelism() == 1 {
			err = o.runSequential(ctx, g, batches, total, report)
		} else {
			err = o.runPhase(ctx, g, batches, total, report)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) parallelism() int {
	if o.Config.Sequential {
		return 1
	}
	return o.Config.MaxParallel
}

// runSequential runs batches in ascending id.
func (o *Orchestrator) runSequential(ctx context.Context, g *graph.DependencyGraph, batches []planner.Batch, total int, report *Report) error {
	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled: %w", err)
		}
		if err := o.runBatch(ctx, g, b, total, report); err != nil {
			return err
		}
	}
	return nil
}

// runPhase runs the batches of one phase on a bounded pool. A batch starts
// only after the earlier batches of the phase holding one of its
// dependencies have finished.
func (o *Orchestrator) runPhase(ctx context.Context, g *graph.DependencyGraph, batches []planner.Batch, total int, report *Report) error {
	owner := make(map[string]int)
	done := make(map[int]chan struct{}, len(batches))
	for _, b := range batches {
		done[b.ID] = make(chan struct{})
		for _, f := range b.Files {
			owner[f] = b.ID
		}
	}

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(o.parallelism())
	for _, b := range batches {
		b := b
		waits := o.predecessors(g, b, owner)
		eg.Go(func() error {
			defer close(done[b.ID])
			for _, id := range waits {
				select {
				case <-done[id]:
				case <-egctx.Done():
					return egctx.Err()
				}
			}
			return o.runBatch(egctx, g, b, total, report)
		})
	}
	if err := eg.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("cancelled: %w", ctx.Err())
		}
		return err
	}
	return nil
}

// predecessors returns the ids of earlier batches in the phase that own a
// dependency of b.
func (o *Orchestrator) predecessors(g *graph.DependencyGraph, b planner.Batch, owner map[string]int) []int {
	seen := make(map[int]bool)
	var out []int
	for _, f := range b.Files {
		for _, d := range g.Dependencies(f) {
			id, ok := owner[d]
			if !ok || id >= b.ID || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}

// runBatch analyzes one batch and records the outcome. A collaborator error
// or timeout marks the batch failed. When the run itself is cancelled the
// batch is left unrecorded so it is pending on resume.
func (o *Orchestrator) runBatch(ctx context.Context, g *graph.DependencyGraph, b planner.Batch, total int, report *Report) error {
	o.progress("  ▶ %s %s\n", ui.BatchPrefix(b.ID), strings.Join(b.Files, ", "))

	req := analysis.BatchRequest{
		BatchID:      b.ID,
		TotalBatches: total,
		Mode:         o.Config.Mode,
		Files:        b.Files,
		Hint:         b.Hint,
		Dependencies: batchDependencies(g, b),
		Summary:      o.deps.Store.Snapshot().GlobalSummary,
	}

	start := time.Now()
	bctx, cancel := context.WithTimeout(ctx, o.Config.BatchTimeout)
	res, err := o.deps.Analyzer.AnalyzeBatch(bctx, req)
	cancel()
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			o.logger.Info("batch interrupted", "batch", b.ID)
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", o.Config.BatchTimeout, err)
		}
		return o.failBatch(b, err, elapsed, report)
	}

	if err := o.recordBatch(ctx, b, res); err != nil {
		return err
	}
	batchesTotal.WithLabelValues("success").Inc()
	batchDuration.Observe(elapsed.Seconds())
	o.mu.Lock()
	report.Executed = append(report.Executed, b.ID)
	o.mu.Unlock()
	o.progress("  ✅ %s %s %s\n", ui.BatchPrefix(b.ID), ui.Green("Completed"), ui.Dim(fmt.Sprintf("(%.1fs)", elapsed.Seconds())))
	return nil
}

func (o *Orchestrator) failBatch(b planner.Batch, cause error, elapsed time.Duration, report *Report) error {
	batchesTotal.WithLabelValues("failure").Inc()
	batchDuration.Observe(elapsed.Seconds())
	o.logger.Warn("batch failed", "batch", b.ID, "files", b.Files, "error", cause)
	o.progress("  ❌ %s %s %s\n", ui.BatchPrefix(b.ID), ui.Red("Failed: "+cause.Error()), ui.Dim(fmt.Sprintf("(%.1fs)", elapsed.Seconds())))

	if err := o.deps.Store.MarkBatch(b.ID, false); err != nil {
		return err
	}
	o.mu.Lock()
	report.Executed = append(report.Executed, b.ID)
	o.mu.Unlock()
	return nil
}

// recordBatch stores the records, manifest entries and summary of a
// successful batch, then marks it completed. Marking comes last so a crash
// in between re-runs the batch instead of losing its records.
func (o *Orchestrator) recordBatch(ctx context.Context, b planner.Batch, res *analysis.BatchResult) error {
	byPath := make(map[string]records.Record, len(res.Records))
	for _, r := range res.Records {
		byPath[r.Path] = r
	}

	ok := make(map[string]string)
	empty := make(map[string]string)
	var recs []records.Record
	for _, f := range b.Files {
		digest := o.digest(f)
		r, found := byPath[f]
		if !found || strings.TrimSpace(r.Summary) == "" {
			empty[f] = digest
		} else {
			ok[f] = digest
		}
		if found {
			r.BatchID = b.ID
			r.Digest = digest
			recs = append(recs, r)
		}
	}

	if o.deps.Records != nil && len(recs) > 0 {
		if err := o.deps.Records.Put(ctx, recs...); err != nil {
			return fmt.Errorf("store records of batch %d: %w", b.ID, err)
		}
	}
	if len(ok) > 0 {
		if err := o.deps.Store.RecordFiles(b.ID, state.FileSuccess, ok); err != nil {
			return err
		}
	}
	if len(empty) > 0 {
		o.logger.Warn("files without analysis", "batch", b.ID, "files", len(empty))
		if err := o.deps.Store.RecordFiles(b.ID, state.FileEmpty, empty); err != nil {
			return err
		}
	}
	if s := strings.TrimSpace(res.Summary); s != "" {
		if err := o.deps.Store.UpdateSummary(ctx, fmt.Sprintf("Batch %d Summary: %s", b.ID, s)); err != nil {
			return err
		}
	}
	return o.deps.Store.MarkBatch(b.ID, true)
}

func (o *Orchestrator) digest(file string) string {
	data, err := os.ReadFile(filepath.Join(o.Config.RepoPath, filepath.FromSlash(file)))
	if err != nil {
		o.logger.Debug("digest unavailable", "file", file, "error", err)
		return ""
	}
	return records.Digest(data)
}

// batchDependencies lists the dependencies of b's files outside b.
func batchDependencies(g *graph.DependencyGraph, b planner.Batch) []string {
	in := make(map[string]bool, len(b.Files))
	for _, f := range b.Files {
		in[f] = true
	}
	seen := make(map[string]bool)
	var out []string
	for _, f := range b.Files {
		for _, d := range g.Dependencies(f) {
			if in[d] || seen[d] {
				continue
			}
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}

func (o *Orchestrator) progress(format string, args ...any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.out, format, args...)
}
