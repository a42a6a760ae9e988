package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshharrison/lantern/internal/analysis"
	"github.com/joshharrison/lantern/internal/graph"
	"github.com/joshharrison/lantern/internal/llm"
	"github.com/joshharrison/lantern/internal/planner"
	"github.com/joshharrison/lantern/internal/records"
	"github.com/joshharrison/lantern/internal/state"
	"github.com/joshharrison/lantern/internal/vcs"
)

type fakeSource map[string][]string

func (f fakeSource) Dependencies(_ context.Context, file string) ([]string, error) {
	return f[file], nil
}

type fakeAnalyzer struct {
	mu      sync.Mutex
	calls   []int
	files   [][]string
	fail    map[int]int
	block   bool
	started chan int
	meter   *llm.Meter
}

func (a *fakeAnalyzer) AnalyzeBatch(ctx context.Context, req analysis.BatchRequest) (*analysis.BatchResult, error) {
	a.mu.Lock()
	a.calls = append(a.calls, req.BatchID)
	a.files = append(a.files, req.Files)
	failing := a.fail[req.BatchID] > 0
	if failing {
		a.fail[req.BatchID]--
	}
	a.mu.Unlock()

	if a.started != nil {
		a.started <- req.BatchID
	}
	if a.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if failing {
		return nil, errors.New("collaborator error")
	}
	if a.meter != nil {
		a.meter.Record(llm.Usage{Calls: 1, InputTokens: 1000, OutputTokens: 200})
	}

	res := &analysis.BatchResult{Summary: "files " + strings.Join(req.Files, ",")}
	for _, f := range req.Files {
		res.Records = append(res.Records, records.Record{Path: f, Summary: "about " + f})
	}
	return res, nil
}

func (a *fakeAnalyzer) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = nil
	a.files = nil
}

type fakeSynth struct {
	scores   []float64
	synth    int
	refines  int
	lastRecs int
}

func (s *fakeSynth) next() float64 {
	if len(s.scores) == 0 {
		return 1
	}
	v := s.scores[0]
	if len(s.scores) > 1 {
		s.scores = s.scores[1:]
	}
	return v
}

func (s *fakeSynth) Synthesize(_ context.Context, req analysis.SynthesisRequest) (*analysis.Synthesis, error) {
	s.synth++
	s.lastRecs = len(req.Records)
	return &analysis.Synthesis{Score: s.next()}, nil
}

func (s *fakeSynth) Refine(_ context.Context, _ analysis.SynthesisRequest, _ *analysis.Synthesis) (*analysis.Synthesis, error) {
	s.refines++
	return &analysis.Synthesis{Score: s.next()}, nil
}

type fakeRepo struct {
	head    string
	changes []vcs.Change
	err     error
}

func (r *fakeRepo) CurrentCommit(context.Context) (string, error) { return r.head, nil }

func (r *fakeRepo) Diff(context.Context, string) ([]vcs.Change, error) {
	return r.changes, r.err
}

type reviewFunc func(ctx context.Context, plan *planner.Plan, path string) (Decision, error)

func (f reviewFunc) Review(ctx context.Context, plan *planner.Plan, path string) (Decision, error) {
	return f(ctx, plan, path)
}

type harness struct {
	t        *testing.T
	repo     string
	out      string
	store    *state.Store
	recs     *records.Store
	analyzer *fakeAnalyzer
	synth    *fakeSynth
	vcs      *fakeRepo
	source   fakeSource
	usage    *llm.Meter
	stdout   io.Writer
}

func newHarness(t *testing.T, source fakeSource) *harness {
	t.Helper()
	repo := t.TempDir()
	h := &harness{
		t:        t,
		repo:     repo,
		out:      filepath.Join(repo, ".lantern"),
		analyzer: &fakeAnalyzer{fail: map[int]int{}},
		synth:    &fakeSynth{},
		vcs:      &fakeRepo{head: "head1"},
		source:   source,
	}
	for f := range source {
		h.write(f, "# "+f+"\n")
	}
	var err error
	h.store, err = state.Open(h.out)
	require.NoError(t, err)
	h.recs, err = records.Open(h.out)
	require.NoError(t, err)
	t.Cleanup(func() { h.recs.Close() })
	return h
}

func (h *harness) write(name, content string) {
	p := filepath.Join(h.repo, filepath.FromSlash(name))
	require.NoError(h.t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(h.t, os.WriteFile(p, []byte(content), 0644))
}

func (h *harness) orchestrator(cfg Config, reviewer Reviewer) *Orchestrator {
	cfg.RepoPath = h.repo
	cfg.OutputDir = h.out
	out := h.stdout
	if out == nil {
		out = io.Discard
	}
	return New(cfg, Deps{
		Store:       h.store,
		Records:     h.recs,
		Analyzer:    h.analyzer,
		Synthesizer: h.synth,
		Repo:        h.vcs,
		Reviewer:    reviewer,
		Source:      h.source,
		Usage:       h.usage,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Out:         out,
	})
}

func (h *harness) run(cfg Config) (*Report, error) {
	return h.orchestrator(cfg, nil).Run(context.Background())
}

func TestRun_Full(t *testing.T) {
	h := newHarness(t, fakeSource{
		"a.py": {"b.py"},
		"b.py": {"c.py"},
		"c.py": nil,
		"d.py": nil,
	})

	report, err := h.run(Config{})
	require.NoError(t, err)

	// Layers: {c, d}, {b}, {a}.
	assert.Equal(t, []int{1, 2, 3}, h.analyzer.calls)
	assert.Equal(t, [][]string{{"c.py", "d.py"}, {"b.py"}, {"a.py"}}, h.analyzer.files)
	assert.Equal(t, StageDone, report.Stage)
	assert.Equal(t, "head1", report.Commit)
	assert.Empty(t, report.Failed)

	st := h.store.Snapshot()
	assert.Equal(t, []int{1, 2, 3}, st.CompletedBatches)
	assert.Equal(t, "head1", st.GitCommitSHA)
	assert.Equal(t, string(StageDone), st.Workflow.Stage)
	assert.Equal(t, report.RunID, st.Workflow.RunID)
	assert.Equal(t, state.FileEntry{BatchID: 3, Status: state.FileSuccess, Digest: records.Digest([]byte("# a.py\n"))}, st.FileManifest["a.py"])
	assert.Len(t, st.FileManifest, 4)
	assert.Contains(t, st.GlobalSummary, "Batch 1 Summary: files c.py,d.py")

	n, err := h.recs.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, h.synth.lastRecs)

	assert.FileExists(t, filepath.Join(h.out, PlanFile))
	assert.FileExists(t, filepath.Join(h.out, PlanDocumentFile))
}

func TestRun_ReportsUsage(t *testing.T) {
	h := newHarness(t, fakeSource{"a.py": nil, "b.py": nil})
	h.usage = llm.NewMeter("anthropic:claude-sonnet-4")
	h.analyzer.meter = h.usage
	var out strings.Builder
	h.stdout = &out

	report, err := h.run(Config{MaxBatchSize: 1})
	require.NoError(t, err)
	assert.Equal(t, llm.Usage{Calls: 2, InputTokens: 2000, OutputTokens: 400}, report.Usage)
	// 2000 input at $3/M plus 400 output at $15/M.
	assert.InDelta(t, 0.012, report.Cost, 1e-9)
	assert.Contains(t, out.String(), "2 API calls, 2000 input + 400 output tokens, ~$0.0120")
}

func TestRun_PartialFailureThenResume(t *testing.T) {
	h := newHarness(t, fakeSource{"a.py": nil, "b.py": nil, "c.py": nil, "d.py": nil, "e.py": nil})
	h.analyzer.fail[3] = 1
	cfg := Config{MaxBatchSize: 1}

	report, err := h.run(cfg)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, report.Failed)
	assert.Empty(t, report.Commit)

	st := h.store.Snapshot()
	assert.Equal(t, []int{1, 2, 4, 5}, st.CompletedBatches)
	assert.Equal(t, []int{3}, st.FailedBatches)
	assert.Empty(t, st.GitCommitSHA)

	h.analyzer.reset()
	report, err = h.run(cfg)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, h.analyzer.calls)
	assert.Equal(t, "head1", report.Commit)

	st = h.store.Snapshot()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, st.CompletedBatches)
	assert.Empty(t, st.FailedBatches)
}

func TestRun_CompletedRunStartsOver(t *testing.T) {
	h := newHarness(t, fakeSource{"a.py": nil, "b.py": nil})
	cfg := Config{MaxBatchSize: 1}

	first, err := h.run(cfg)
	require.NoError(t, err)
	h.analyzer.reset()

	second, err := h.run(cfg)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 2}, h.analyzer.calls)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestRun_FreshIgnoresFailedCheckpoint(t *testing.T) {
	h := newHarness(t, fakeSource{"a.py": nil, "b.py": nil})
	h.analyzer.fail[2] = 1
	cfg := Config{MaxBatchSize: 1}

	first, err := h.run(cfg)
	require.NoError(t, err)
	require.Equal(t, []int{2}, first.Failed)
	h.analyzer.reset()

	cfg.Fresh = true
	second, err := h.run(cfg)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 2}, h.analyzer.calls)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, "head1", second.Commit)
}

func TestRun_QualityGateCap(t *testing.T) {
	h := newHarness(t, fakeSource{"a.py": nil})
	h.synth.scores = []float64{0.5}

	report, err := h.run(Config{})
	require.NoError(t, err)
	assert.Equal(t, 1, h.synth.synth)
	assert.Equal(t, DefaultMaxRefinements, h.synth.refines)
	assert.Equal(t, DefaultMaxRefinements, report.Iterations)
	assert.Equal(t, 0.5, report.QualityScore)
	assert.Equal(t, StageDone, report.Stage)

	w := h.store.Snapshot().Workflow
	assert.Equal(t, DefaultMaxRefinements, w.Iteration)
	assert.Equal(t, 0.5, w.QualityScore)
}

func TestRun_QualityGatePassesAfterRefine(t *testing.T) {
	h := newHarness(t, fakeSource{"a.py": nil})
	h.synth.scores = []float64{0.6, 0.85}

	report, err := h.run(Config{})
	require.NoError(t, err)
	assert.Equal(t, 1, h.synth.refines)
	assert.Equal(t, 1, report.Iterations)
	assert.Equal(t, 0.85, report.QualityScore)
}

func TestRun_Incremental(t *testing.T) {
	h := newHarness(t, fakeSource{
		"a.py": {"b.py"},
		"b.py": nil,
		"c.py": nil,
		"d.py": nil,
	})
	_, err := h.run(Config{})
	require.NoError(t, err)
	h.analyzer.reset()

	// b.py modified, c.py renamed to e.py unchanged, d.py deleted.
	require.NoError(t, os.Rename(filepath.Join(h.repo, "c.py"), filepath.Join(h.repo, "e.py")))
	require.NoError(t, os.Remove(filepath.Join(h.repo, "d.py")))
	h.write("b.py", "# b.py changed\n")
	delete(h.source, "c.py")
	delete(h.source, "d.py")
	h.source["e.py"] = nil
	h.vcs.head = "head2"
	h.vcs.changes = []vcs.Change{
		{Status: vcs.Modified, Path: "b.py"},
		{Status: vcs.Renamed, Path: "e.py", OldPath: "c.py", Similarity: 100},
		{Status: vcs.Deleted, Path: "d.py"},
	}

	report, err := h.run(Config{Mode: planner.ModeIncremental})
	require.NoError(t, err)

	assert.Equal(t, planner.ModeIncremental, report.Mode)
	assert.Equal(t, [][]string{{"b.py", "a.py"}}, h.analyzer.files)
	assert.Equal(t, map[string]string{"c.py": "e.py"}, report.Relabeled)
	assert.Equal(t, []string{"d.py"}, report.Removed)
	assert.Equal(t, "head2", report.Commit)

	st := h.store.Snapshot()
	assert.ElementsMatch(t, []string{"a.py", "b.py", "e.py"}, keys(st.FileManifest))
	assert.Equal(t, records.Digest([]byte("# b.py changed\n")), st.FileManifest["b.py"].Digest)

	ctx := context.Background()
	moved, err := h.recs.Get(ctx, "e.py")
	require.NoError(t, err)
	assert.Equal(t, "about c.py", moved.Summary)
	_, err = h.recs.Get(ctx, "d.py")
	assert.ErrorIs(t, err, records.ErrNotFound)
}

func TestRun_IncrementalUpToDate(t *testing.T) {
	h := newHarness(t, fakeSource{"a.py": nil})
	_, err := h.run(Config{})
	require.NoError(t, err)
	h.analyzer.reset()
	synths := h.synth.synth

	h.vcs.head = "head2"
	report, err := h.run(Config{Mode: planner.ModeIncremental})
	require.NoError(t, err)
	assert.True(t, report.UpToDate)
	assert.Empty(t, h.analyzer.calls)
	assert.Equal(t, synths, h.synth.synth)
	assert.Equal(t, "head2", h.store.Snapshot().GitCommitSHA)
}

func TestRun_IncrementalWithoutBaseline(t *testing.T) {
	h := newHarness(t, fakeSource{"a.py": nil})
	_, err := h.run(Config{Mode: planner.ModeIncremental})
	assert.ErrorIs(t, err, ErrNoBaseline)
	assert.Empty(t, h.analyzer.calls)
}

func TestRun_IncrementalBaseUnreachable(t *testing.T) {
	h := newHarness(t, fakeSource{"a.py": nil})
	_, err := h.run(Config{})
	require.NoError(t, err)

	h.vcs.err = vcs.ErrBaseUnreachable
	_, err = h.run(Config{Mode: planner.ModeIncremental})
	assert.ErrorIs(t, err, vcs.ErrBaseUnreachable)
	assert.Equal(t, "head1", h.store.Snapshot().GitCommitSHA)
}

func largeChangeHarness(t *testing.T) *harness {
	h := newHarness(t, fakeSource{"a.py": nil, "b.py": nil, "c.py": nil, "d.py": nil})
	_, err := h.run(Config{})
	require.NoError(t, err)
	h.analyzer.reset()
	h.vcs.head = "head2"
	h.vcs.changes = []vcs.Change{
		{Status: vcs.Modified, Path: "a.py"},
		{Status: vcs.Modified, Path: "b.py"},
		{Status: vcs.Modified, Path: "c.py"},
	}
	return h
}

func TestRun_LargeChangePolicies(t *testing.T) {
	t.Run("abort", func(t *testing.T) {
		h := largeChangeHarness(t)
		_, err := h.run(Config{Mode: planner.ModeIncremental, OnLargeChange: LargeChangeAbort})
		assert.ErrorIs(t, err, ErrLargeChange)
		assert.Empty(t, h.analyzer.calls)
	})
	t.Run("full", func(t *testing.T) {
		h := largeChangeHarness(t)
		report, err := h.run(Config{Mode: planner.ModeIncremental, OnLargeChange: LargeChangeFull})
		require.NoError(t, err)
		assert.Equal(t, planner.ModeFull, report.Mode)
		assert.ElementsMatch(t, [][]string{{"a.py", "b.py", "c.py"}, {"d.py"}}, h.analyzer.files)
		assert.Equal(t, "head2", report.Commit)
	})
	t.Run("incremental", func(t *testing.T) {
		h := largeChangeHarness(t)
		report, err := h.run(Config{Mode: planner.ModeIncremental, OnLargeChange: LargeChangeIncremental})
		require.NoError(t, err)
		assert.Equal(t, planner.ModeIncremental, report.Mode)
		assert.Equal(t, [][]string{{"a.py", "b.py", "c.py"}}, h.analyzer.files)
	})
}

func TestRun_LargeChangeFullDropsDeletedFiles(t *testing.T) {
	h := newHarness(t, fakeSource{"a.py": nil, "b.py": nil, "c.py": nil, "d.py": nil})
	_, err := h.run(Config{})
	require.NoError(t, err)
	h.analyzer.reset()

	require.NoError(t, os.Remove(filepath.Join(h.repo, "d.py")))
	delete(h.source, "d.py")
	for _, f := range []string{"a.py", "b.py", "c.py"} {
		h.write(f, "# "+f+" changed\n")
	}
	h.vcs.head = "head2"
	h.vcs.changes = []vcs.Change{
		{Status: vcs.Modified, Path: "a.py"},
		{Status: vcs.Modified, Path: "b.py"},
		{Status: vcs.Modified, Path: "c.py"},
		{Status: vcs.Deleted, Path: "d.py"},
	}

	report, err := h.run(Config{Mode: planner.ModeIncremental, OnLargeChange: LargeChangeFull})
	require.NoError(t, err)
	assert.Equal(t, planner.ModeFull, report.Mode)
	assert.Equal(t, []string{"d.py"}, report.Removed)
	assert.Equal(t, [][]string{{"a.py", "b.py", "c.py"}}, h.analyzer.files)

	assert.ElementsMatch(t, []string{"a.py", "b.py", "c.py"}, keys(h.store.Snapshot().FileManifest))
	_, err = h.recs.Get(context.Background(), "d.py")
	assert.ErrorIs(t, err, records.ErrNotFound)
	assert.Equal(t, 3, h.synth.lastRecs)
}

func TestRun_FullPrunesFilesGoneFromRepository(t *testing.T) {
	h := newHarness(t, fakeSource{"a.py": nil, "b.py": nil})
	_, err := h.run(Config{})
	require.NoError(t, err)
	require.Equal(t, 2, h.synth.lastRecs)

	require.NoError(t, os.Remove(filepath.Join(h.repo, "b.py")))
	delete(h.source, "b.py")

	report, err := h.run(Config{Fresh: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"b.py"}, report.Removed)
	assert.Equal(t, 1, h.synth.lastRecs)
	assert.Equal(t, []string{"a.py"}, keys(h.store.Snapshot().FileManifest))

	paths, err := h.recs.Paths(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py"}, paths)
}

func TestRun_ReviewWaitThenApproveEditedPlan(t *testing.T) {
	h := newHarness(t, fakeSource{"a.py": nil, "b.py": nil, "c.py": nil})
	cfg := Config{MaxBatchSize: 2}

	_, err := h.orchestrator(cfg, Gate{}).Run(context.Background())
	require.ErrorIs(t, err, ErrAwaitingReview)
	assert.False(t, IsFatal(err))
	assert.Empty(t, h.analyzer.calls)
	assert.Equal(t, string(StageHumanReview), h.store.Snapshot().Workflow.Stage)

	// The reviewer moves b.py into the second batch.
	path := filepath.Join(h.out, PlanFile)
	plan, err := planner.LoadYAML(path)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"a.py", "b.py"}, {"c.py"}}, batchFileLists(plan))
	plan.Phases[0].Batches[0].Files = []string{"a.py"}
	plan.Phases[0].Batches[1].Files = []string{"b.py", "c.py"}
	require.NoError(t, plan.SaveYAML(path))

	report, err := h.orchestrator(cfg, Gate{Approved: true}).Run(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, [][]string{{"a.py"}, {"b.py", "c.py"}}, h.analyzer.files)
	assert.Equal(t, "head1", report.Commit)
	assert.Equal(t, Approved.String(), h.store.Snapshot().Workflow.Review)
}

func TestRun_RejectedInvalidEditRegenerates(t *testing.T) {
	h := newHarness(t, fakeSource{"a.py": nil, "b.py": nil})
	cfg := Config{MaxBatchSize: 2}

	rounds := 0
	reviewer := reviewFunc(func(_ context.Context, plan *planner.Plan, path string) (Decision, error) {
		rounds++
		if rounds == 1 {
			plan.Phases[0].Batches[0].Files = []string{"a.py", "a.py"}
			require.NoError(t, plan.SaveYAML(path))
			return Rejected, nil
		}
		assert.Equal(t, [][]string{{"a.py", "b.py"}}, batchFileLists(plan))
		return Approved, nil
	})

	_, err := h.orchestrator(cfg, reviewer).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rounds)
	assert.Equal(t, [][]string{{"a.py", "b.py"}}, h.analyzer.files)
}

func TestRun_PromptReviewer(t *testing.T) {
	h := newHarness(t, fakeSource{"a.py": nil})
	var out strings.Builder
	prompt := NewPrompt(strings.NewReader("r\na\n"), &out)

	_, err := h.orchestrator(Config{}, prompt).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out.String(), "[a]pprove"))
	assert.Equal(t, []int{1}, h.analyzer.calls)
}

func TestRun_PlanOnly(t *testing.T) {
	h := newHarness(t, fakeSource{"a.py": nil, "b.py": {"a.py"}})

	report, err := h.run(Config{PlanOnly: true})
	require.NoError(t, err)
	require.NotNil(t, report.Plan)
	assert.Equal(t, 2, report.Plan.TotalBatches())
	assert.Equal(t, StagePlanning, report.Stage)
	assert.Empty(t, h.analyzer.calls)
	assert.FileExists(t, filepath.Join(h.out, PlanFile))
}

func TestRun_BatchTimeoutIsFailure(t *testing.T) {
	h := newHarness(t, fakeSource{"a.py": nil})
	h.analyzer.block = true

	report, err := h.run(Config{BatchTimeout: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, report.Failed)
	assert.Empty(t, report.Commit)
	assert.Equal(t, 1, h.synth.synth)
}

func TestRun_CancelLeavesInFlightUnrecorded(t *testing.T) {
	h := newHarness(t, fakeSource{"a.py": nil, "b.py": nil})
	h.analyzer.block = true
	h.analyzer.started = make(chan int, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		_, err := h.orchestrator(Config{MaxBatchSize: 1, MaxParallel: 2, BatchTimeout: time.Minute}, nil).Run(ctx)
		errc <- err
	}()

	<-h.analyzer.started
	<-h.analyzer.started
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}

	reopened, err := state.Open(h.out)
	require.NoError(t, err)
	st := reopened.Snapshot()
	assert.Empty(t, st.CompletedBatches)
	assert.Empty(t, st.FailedBatches)
	assert.Equal(t, string(StageBatchExecution), st.Workflow.Stage)
}

func TestRun_SequentialOrder(t *testing.T) {
	src := fakeSource{}
	for i := 0; i < 5; i++ {
		src[fmt.Sprintf("m%d.py", i)] = nil
	}
	h := newHarness(t, src)

	_, err := h.run(Config{MaxBatchSize: 1, Sequential: true})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, h.analyzer.calls)
}

func TestPredecessorsAndDependencies(t *testing.T) {
	g := graph.New()
	g.AddEdge("y.py", "x.py")
	g.AddEdge("z.py", "y.py")
	g.AddEdge("z.py", "w.py")
	g.AddNode("v.py")

	batches := []planner.Batch{
		{ID: 1, Files: []string{"x.py"}},
		{ID: 2, Files: []string{"y.py", "v.py"}},
		{ID: 3, Files: []string{"z.py"}},
	}
	owner := map[string]int{"x.py": 1, "y.py": 2, "v.py": 2, "z.py": 3}
	o := &Orchestrator{}

	assert.Empty(t, o.predecessors(g, batches[0], owner))
	assert.Equal(t, []int{1}, o.predecessors(g, batches[1], owner))
	assert.Equal(t, []int{2}, o.predecessors(g, batches[2], owner))

	assert.Equal(t, []string{"w.py", "y.py"}, batchDependencies(g, batches[2]))
	assert.Empty(t, batchDependencies(g, planner.Batch{Files: []string{"y.py", "x.py"}}))
}

func TestStageOrder(t *testing.T) {
	assert.True(t, StageHumanReview.after(StagePlanning))
	assert.True(t, StageRefine.after(StageSynthesis))
	assert.False(t, StagePlanning.after(StagePlanning))
	assert.False(t, Stage("bogus").after(StageStaticAnalysis))
}

func batchFileLists(p *planner.Plan) [][]string {
	var out [][]string
	for _, b := range p.Batches() {
		out = append(out, b.Files)
	}
	return out
}

func keys(m map[string]state.FileEntry) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
}
