package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joshharrison/lantern/internal/analysis"
	"github.com/joshharrison/lantern/internal/difftrack"
	"github.com/joshharrison/lantern/internal/graph"
	"github.com/joshharrison/lantern/internal/imports"
	"github.com/joshharrison/lantern/internal/llm"
	"github.com/joshharrison/lantern/internal/planner"
	"github.com/joshharrison/lantern/internal/records"
	"github.com/joshharrison/lantern/internal/scan"
	"github.com/joshharrison/lantern/internal/state"
	"github.com/joshharrison/lantern/internal/ui"
	"github.com/joshharrison/lantern/internal/vcs"
)

// Plan document names inside the output directory.
const (
	PlanFile         = "plan.yaml"
	PlanDocumentFile = "PLAN.md"
)

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Store       *state.Store
	Records     *records.Store
	Analyzer    analysis.Analyzer
	Synthesizer analysis.Synthesizer
	// Repo may be nil outside version control; incremental runs need it.
	Repo     vcs.Repository
	Reviewer Reviewer
	// Usage, if set, meters the LLM calls of the collaborators.
	Usage *llm.Meter
	// Source overrides import extraction, mainly for tests.
	Source graph.ImportSource
	Logger *slog.Logger
	// Out receives human-facing progress lines.
	Out io.Writer
}

// Orchestrator sequences one analysis run through its stages, checkpointing
// every transition.
type Orchestrator struct {
	Config Config
	deps   Deps
	logger *slog.Logger
	out    io.Writer
	mu     sync.Mutex

	runID  string
	stage  Stage
	target string
}

// New creates a new Orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	cfg = cfg.withDefaults()
	if deps.Reviewer == nil {
		deps.Reviewer = AutoApprove{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Out == nil {
		deps.Out = os.Stderr
	}
	if deps.Usage != nil {
		deps.Usage.OnRecord(observeUsage)
	}
	return &Orchestrator{
		Config: cfg,
		deps:   deps,
		logger: deps.Logger,
		out:    deps.Out,
	}
}

// Run drives the state machine to done, or to the first stage that has to
// stop: an awaited review, a plan-only run, or a fatal error. A run resumes
// the previous one when its checkpoint is unfinished and of the same mode.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	prev := o.deps.Store.Snapshot()
	resume := o.resumable(prev)

	o.runID = uuid.NewString()
	if resume {
		o.runID = prev.Workflow.RunID
		o.target = prev.Workflow.TargetCommit
		o.logger.Info("resuming run", "run_id", o.runID, "stage", prev.Workflow.Stage)
	}
	report := &Report{RunID: o.runID, Mode: o.Config.Mode}
	defer func() {
		report.Stage = o.stage
		report.Duration = time.Since(start)
		o.meterUsage(report)
	}()

	// static_analysis always runs, also on resume.
	if err := o.checkpoint(StageStaticAnalysis, func(w *state.Workflow) {
		w.Mode = string(o.Config.Mode)
		w.RunID = o.runID
		if !resume {
			w.Iteration = 0
			w.QualityScore = 0
			w.Review = ""
		}
	}); err != nil {
		return report, err
	}
	g, err := o.staticAnalysis(ctx)
	if err != nil {
		return report, err
	}
	if o.Config.Mode == planner.ModeFull {
		if err := o.pruneStale(ctx, g, report); err != nil {
			return report, err
		}
	}
	if o.target == "" && o.deps.Repo != nil {
		o.target, err = o.deps.Repo.CurrentCommit(ctx)
		if err != nil {
			if o.Config.Mode == planner.ModeIncremental {
				return report, fmt.Errorf("cannot perform incremental update: %w", err)
			}
			o.logger.Warn("no commit to record for this run", "error", err)
		}
	}

	resumedPlan := resume && Stage(prev.Workflow.Stage).after(StagePlanning)
	plan, err := o.planning(ctx, g, prev, resumedPlan, report)
	if err != nil {
		return report, err
	}
	report.Plan = plan

	if report.UpToDate {
		fmt.Fprintf(o.out, "\n%s nothing changed since %s\n", ui.BoldGreen("✓"), short(prev.GitCommitSHA))
		return report, o.finish(report, o.target)
	}
	if o.Config.PlanOnly {
		fmt.Fprintf(o.out, "\n📝 Plan written to %s\n", o.planPath())
		return report, nil
	}

	plan, err = o.review(ctx, g, plan, report)
	if err != nil {
		return report, err
	}
	report.Plan = plan

	reset, err := o.deps.Store.BindPlan(plan)
	if err != nil {
		return report, err
	}
	if reset {
		o.logger.Info("plan layout changed, batch progress reset", "plan", plan.ID)
	}
	if !resume {
		if err := o.deps.Store.ResetBatches(batchIDs(plan.Batches())); err != nil {
			return report, err
		}
	}

	if err := o.checkpoint(StageBatchExecution, nil); err != nil {
		return report, err
	}
	if err := o.execute(ctx, g, plan, report); err != nil {
		return report, err
	}

	startIteration := 0
	if resume && (prev.Workflow.Stage == string(StageQualityGate) || prev.Workflow.Stage == string(StageRefine)) {
		startIteration = prev.Workflow.Iteration
	}
	if err := o.synthesize(ctx, startIteration, report); err != nil {
		return report, err
	}

	commit := ""
	if len(o.deps.Store.Snapshot().FailedBatches) == 0 {
		commit = o.target
	}
	return report, o.finish(report, commit)
}

// resumable reports whether the checkpoint describes a run to continue.
// A finished run with failed batches is continued so they are retried.
func (o *Orchestrator) resumable(prev *state.ExecutionState) bool {
	w := prev.Workflow
	if o.Config.Fresh || w.Stage == "" || w.Mode != string(o.Config.Mode) {
		return false
	}
	return w.Stage != string(StageDone) || len(prev.FailedBatches) > 0
}

func (o *Orchestrator) finish(report *Report, commit string) error {
	if commit != "" {
		if err := o.deps.Store.SetCommit(commit); err != nil {
			return err
		}
		report.Commit = commit
	}
	report.Failed = o.deps.Store.Snapshot().FailedBatches
	if err := o.checkpoint(StageDone, nil); err != nil {
		return err
	}
	o.meterUsage(report)
	o.printSummary(report)
	return nil
}

// checkpoint records the transition into stage together with any workflow
// changes, and persists the full state.
func (o *Orchestrator) checkpoint(stage Stage, mutate func(w *state.Workflow)) error {
	o.mu.Lock()
	o.stage = stage
	o.mu.Unlock()

	err := o.deps.Store.Checkpoint(string(stage), func(w *state.Workflow) {
		w.TargetCommit = o.target
		if mutate != nil {
			mutate(w)
		}
	})
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", stage, err)
	}
	stageTransitions.WithLabelValues(string(stage)).Inc()
	o.logger.Debug("stage", "stage", stage, "run_id", o.runID)
	return nil
}

// staticAnalysis scans the repository and builds the dependency graph.
func (o *Orchestrator) staticAnalysis(ctx context.Context) (*graph.DependencyGraph, error) {
	outRel := ""
	if rel, err := filepath.Rel(o.Config.RepoPath, o.Config.OutputDir); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
		outRel = rel
	}
	filter, err := scan.NewFilter(o.Config.RepoPath, o.Config.Include, o.Config.Exclude, outRel)
	if err != nil {
		return nil, err
	}
	all, err := scan.Walk(ctx, o.Config.RepoPath, filter, o.logger)
	if err != nil {
		return nil, err
	}
	files := imports.Supported(all)

	src := o.deps.Source
	if src == nil {
		src = imports.NewSource(o.Config.RepoPath, files)
	}
	g, err := graph.Build(ctx, files, src, o.logger)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(o.out, "🔍 %s %d files, %d dependencies\n", ui.BoldCyan("Static analysis:"), g.Len(), g.EdgeCount())
	return g, nil
}

// planning produces the plan, reloading the reviewed document when resuming
// past this stage.
func (o *Orchestrator) planning(ctx context.Context, g *graph.DependencyGraph, prev *state.ExecutionState, reload bool, report *Report) (*planner.Plan, error) {
	if err := o.checkpoint(StagePlanning, nil); err != nil {
		return nil, err
	}
	if reload {
		plan, err := o.loadPlan(g)
		if err == nil {
			o.logger.Info("reusing plan from checkpoint", "plan", plan.ID)
			return plan, nil
		}
		o.logger.Warn("saved plan unusable, planning again", "error", err)
	}

	var (
		plan *planner.Plan
		err  error
	)
	cfg := planner.PlanConfig{MaxBatchSize: o.Config.MaxBatchSize}
	if o.Config.Mode == planner.ModeIncremental {
		plan, err = o.planIncremental(ctx, g, prev, cfg, report)
	} else {
		plan, err = planner.Generate(g, cfg)
	}
	if err != nil || plan == nil {
		return nil, err
	}
	if err := o.savePlan(plan); err != nil {
		return nil, err
	}
	fmt.Fprintf(o.out, "📋 %s %d batches in %d phases (confidence %.2f)\n",
		ui.BoldCyan("Plan:"), plan.TotalBatches(), len(plan.Phases), plan.Confidence)
	return plan, nil
}

// planIncremental narrows the plan to the impact of the changes since the
// last analyzed commit. Renames and removals are applied to the manifest and
// the record store here. A nil plan with report.UpToDate set means nothing
// changed.
func (o *Orchestrator) planIncremental(ctx context.Context, g *graph.DependencyGraph, prev *state.ExecutionState, cfg planner.PlanConfig, report *Report) (*planner.Plan, error) {
	base := prev.GitCommitSHA
	if base == "" {
		return nil, ErrNoBaseline
	}
	if o.deps.Repo == nil {
		return nil, fmt.Errorf("cannot perform incremental update: %w", vcs.ErrNotRepository)
	}

	tracker := difftrack.NewTracker(o.deps.Repo, o.logger)
	diff, err := tracker.Diff(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("cannot perform incremental update: %w", err)
	}
	impact := difftrack.CalculateImpact(diff, g, o.deps.Store.ManifestSize())
	o.logger.Info("impact calculated",
		"added", len(diff.Added), "modified", len(diff.Modified), "deleted", len(diff.Deleted),
		"renamed", len(diff.Renamed), "reanalyze", len(impact.Reanalyze), "remove", len(impact.Remove))

	if impact.LargeChange {
		fmt.Fprintf(o.out, "  %s %d of %d analyzed files affected\n",
			ui.Yellow("⚠️  Large change:"), len(impact.Reanalyze), o.deps.Store.ManifestSize())
		if o.Config.OnLargeChange == LargeChangeAbort {
			return nil, ErrLargeChange
		}
	}

	if err := o.applyImpact(ctx, impact, report); err != nil {
		return nil, err
	}

	if impact.LargeChange && o.Config.OnLargeChange == LargeChangeFull {
		o.logger.Warn("large change, falling back to a full plan")
		o.Config.Mode = planner.ModeFull
		report.Mode = planner.ModeFull
		if err := o.deps.Store.Checkpoint(string(StagePlanning), func(w *state.Workflow) {
			w.Mode = string(planner.ModeFull)
		}); err != nil {
			return nil, err
		}
		return planner.Generate(g, cfg)
	}

	if len(impact.Reanalyze) == 0 && len(impact.Remove) == 0 && len(impact.Relabel) == 0 {
		report.UpToDate = true
		return nil, nil
	}
	return planner.GenerateIncremental(g, impact.ReanalyzeList(), cfg)
}

// applyImpact relabels renamed files and drops removed ones, in both the
// manifest and the record store.
func (o *Orchestrator) applyImpact(ctx context.Context, impact *difftrack.ImpactSet, report *Report) error {
	if len(impact.Relabel) > 0 {
		if err := o.deps.Store.RelabelFiles(impact.Relabel); err != nil {
			return err
		}
		if o.deps.Records != nil {
			if err := o.deps.Records.Relabel(ctx, impact.Relabel); err != nil {
				return err
			}
		}
		report.Relabeled = impact.Relabel
	}
	if removed := impact.RemoveList(); len(removed) > 0 {
		return o.remove(ctx, removed, report)
	}
	return nil
}

// pruneStale drops manifest entries and records of files that are no longer
// in the graph, so a full run never synthesizes deleted files.
func (o *Orchestrator) pruneStale(ctx context.Context, g *graph.DependencyGraph, report *Report) error {
	stale := make(map[string]bool)
	for p := range o.deps.Store.Snapshot().FileManifest {
		if !g.Has(p) {
			stale[p] = true
		}
	}
	if o.deps.Records != nil {
		paths, err := o.deps.Records.Paths(ctx)
		if err != nil {
			return err
		}
		for _, p := range paths {
			if !g.Has(p) {
				stale[p] = true
			}
		}
	}
	if len(stale) == 0 {
		return nil
	}
	removed := make([]string, 0, len(stale))
	for p := range stale {
		removed = append(removed, p)
	}
	sort.Strings(removed)
	o.logger.Info("pruning files no longer in the repository", "count", len(removed))
	return o.remove(ctx, removed, report)
}

func (o *Orchestrator) remove(ctx context.Context, paths []string, report *Report) error {
	if err := o.deps.Store.RemoveFiles(paths); err != nil {
		return err
	}
	if o.deps.Records != nil {
		if err := o.deps.Records.Delete(ctx, paths...); err != nil {
			return err
		}
	}
	report.Removed = paths
	return nil
}

func (o *Orchestrator) planPath() string {
	return filepath.Join(o.Config.OutputDir, PlanFile)
}

func (o *Orchestrator) savePlan(plan *planner.Plan) error {
	if err := os.MkdirAll(o.Config.OutputDir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := plan.SaveYAML(o.planPath()); err != nil {
		return err
	}
	return plan.SaveMarkdown(filepath.Join(o.Config.OutputDir, PlanDocumentFile))
}

func (o *Orchestrator) loadPlan(g *graph.DependencyGraph) (*planner.Plan, error) {
	plan, err := planner.LoadYAML(o.planPath())
	if err != nil {
		return nil, err
	}
	if err := plan.Validate(g, o.Config.MaxBatchSize); err != nil {
		return nil, err
	}
	return plan, nil
}

// review runs the human_review stage. A rejection re-reads the plan document
// so reviewer edits take effect; an edit that does not validate falls back to
// a regenerated plan.
func (o *Orchestrator) review(ctx context.Context, g *graph.DependencyGraph, plan *planner.Plan, report *Report) (*planner.Plan, error) {
	for {
		if err := o.checkpoint(StageHumanReview, func(w *state.Workflow) { w.Review = Waiting.String() }); err != nil {
			return nil, err
		}
		decision, err := o.deps.Reviewer.Review(ctx, plan, o.planPath())
		if err != nil {
			return nil, fmt.Errorf("review plan: %w", err)
		}
		o.logger.Info("plan reviewed", "decision", decision.String(), "plan", plan.ID)

		switch decision {
		case Approved:
			if err := o.checkpoint(StageHumanReview, func(w *state.Workflow) { w.Review = Approved.String() }); err != nil {
				return nil, err
			}
			return plan, nil
		case Waiting:
			fmt.Fprintf(o.out, "\n⏸  Plan awaiting review: %s\n", o.planPath())
			return nil, ErrAwaitingReview
		}

		if err := o.checkpoint(StagePlanning, func(w *state.Workflow) { w.Review = Rejected.String() }); err != nil {
			return nil, err
		}
		edited, err := o.loadPlan(g)
		if err != nil {
			o.logger.Warn("edited plan rejected, regenerating", "error", err)
			fmt.Fprintf(o.out, "  %s %v\n", ui.Yellow("⚠️  Edited plan invalid:"), err)
			cfg := planner.PlanConfig{MaxBatchSize: o.Config.MaxBatchSize}
			if plan.Mode == planner.ModeIncremental {
				edited, err = planner.GenerateIncremental(g, plan.Files(), cfg)
			} else {
				edited, err = planner.Generate(g, cfg)
			}
			if err != nil {
				return nil, err
			}
			if err := o.savePlan(edited); err != nil {
				return nil, err
			}
		} else if err := edited.SaveMarkdown(filepath.Join(o.Config.OutputDir, PlanDocumentFile)); err != nil {
			return nil, err
		}
		plan = edited
		report.Plan = plan
	}
}

// synthesize runs synthesis and the quality gate. The refinement cap is a
// hard stop; a gate that never passes is not an error.
func (o *Orchestrator) synthesize(ctx context.Context, iteration int, report *Report) error {
	if err := o.checkpoint(StageSynthesis, nil); err != nil {
		return err
	}
	var req analysis.SynthesisRequest
	if o.deps.Records != nil {
		recs, err := o.deps.Records.All(ctx)
		if err != nil {
			return err
		}
		req.Records = recs
	}
	req.Summary = o.deps.Store.Snapshot().GlobalSummary

	fmt.Fprintf(o.out, "\n📚 %s %d file records\n", ui.BoldCyan("Synthesis:"), len(req.Records))
	syn, err := o.deps.Synthesizer.Synthesize(ctx, req)
	if err != nil {
		return fmt.Errorf("synthesis: %w", err)
	}

	for {
		score := syn.Score
		if err := o.checkpoint(StageQualityGate, func(w *state.Workflow) {
			w.Iteration = iteration
			w.QualityScore = score
		}); err != nil {
			return err
		}
		report.QualityScore = score
		report.Iterations = iteration

		if score >= o.Config.QualityThreshold {
			fmt.Fprintf(o.out, "  %s quality %.2f\n", ui.Green("✓"), score)
			return nil
		}
		if iteration >= o.Config.MaxRefinements {
			fmt.Fprintf(o.out, "  %s quality %.2f below %.2f after %d refinements\n",
				ui.Yellow("⚠️"), score, o.Config.QualityThreshold, iteration)
			return nil
		}

		iteration++
		if err := o.checkpoint(StageRefine, func(w *state.Workflow) { w.Iteration = iteration }); err != nil {
			return err
		}
		fmt.Fprintf(o.out, "  ↻ refining (quality %.2f, iteration %d/%d)\n", score, iteration, o.Config.MaxRefinements)
		refined, err := o.deps.Synthesizer.Refine(ctx, req, syn)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.Warn("refinement failed, keeping previous documents", "iteration", iteration, "error", err)
			refined = syn
		}
		syn = refined
	}
}

func (o *Orchestrator) printSummary(r *Report) {
	fmt.Fprintf(o.out, "\n%s run %s (%s)\n", ui.Bold("Done:"), short(r.RunID), r.Mode)
	if len(r.Executed) > 0 || len(r.Failed) > 0 {
		fmt.Fprintf(o.out, "  batches: %s analyzed, %s failed\n",
			ui.Green(fmt.Sprint(len(r.Executed)-countIn(r.Executed, r.Failed))), ui.Red(fmt.Sprint(len(r.Failed))))
	}
	if len(r.Failed) > 0 {
		fmt.Fprintf(o.out, "  %s failed batches are retried on the next run\n", ui.Yellow("⚠️"))
	}
	if r.Commit != "" {
		fmt.Fprintf(o.out, "  analyzed commit: %s\n", short(r.Commit))
	}
	if r.Usage.Calls > 0 {
		fmt.Fprintf(o.out, "  💰 %d API calls, %d input + %d output tokens, ~$%.4f\n",
			r.Usage.Calls, r.Usage.InputTokens, r.Usage.OutputTokens, r.Cost)
	}
}

func (o *Orchestrator) meterUsage(r *Report) {
	if o.deps.Usage == nil {
		return
	}
	r.Usage = o.deps.Usage.Usage()
	r.Cost = o.deps.Usage.Cost()
}

func countIn(ids, set []int) int {
	n := 0
	for _, id := range ids {
		for _, s := range set {
			if id == s {
				n++
				break
			}
		}
	}
	return n
}

func short(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	if s == "" {
		return "-"
	}
	return s
}

func batchIDs(batches []planner.Batch) []int {
	ids := make([]int, len(batches))
	for i, b := range batches {
		ids[i] = b.ID
	}
	return ids
}

// IsFatal reports whether err should stop the CLI with a non-zero status.
// An awaited review is a normal stop.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, ErrAwaitingReview)
}
