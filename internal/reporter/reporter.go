package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joshharrison/lantern/internal/planner"
	"github.com/joshharrison/lantern/internal/state"
	"github.com/joshharrison/lantern/internal/ui"
)

// Reporter renders the progress of an analysis from its plan and state.
// Plan may be nil when no plan has been written yet.
type Reporter struct {
	Plan   *planner.Plan
	State  *state.ExecutionState
	LogDir string
}

// New creates a new Reporter.
func New(plan *planner.Plan, st *state.ExecutionState) *Reporter {
	return &Reporter{Plan: plan, State: st}
}

func (r *Reporter) batchStatus(id int) string {
	switch {
	case r.State.IsCompleted(id):
		return "completed"
	case r.State.IsFailed(id):
		return "failed"
	default:
		return "pending"
	}
}

func (r *Reporter) phaseStatus(ph planner.Phase) string {
	done, failed := 0, 0
	for _, b := range ph.Batches {
		switch r.batchStatus(b.ID) {
		case "completed":
			done++
		case "failed":
			failed++
		}
	}
	switch {
	case done == len(ph.Batches):
		return "done"
	case failed > 0 && done+failed == len(ph.Batches):
		return "failed"
	case done+failed > 0:
		return "partial"
	default:
		return "pending"
	}
}

// staleFingerprint reports whether the recorded progress belongs to a
// different batch layout than Plan.
func (r *Reporter) staleFingerprint() bool {
	return r.Plan != nil && r.State.PlanFingerprint != "" && r.State.PlanFingerprint != r.Plan.Fingerprint()
}

func (r *Reporter) counts() (completed, failed, pending int) {
	if r.Plan == nil {
		return len(r.State.CompletedBatches), len(r.State.FailedBatches), 0
	}
	for _, b := range r.Plan.Batches() {
		switch r.batchStatus(b.ID) {
		case "completed":
			completed++
		case "failed":
			failed++
		default:
			pending++
		}
	}
	return completed, failed, pending
}

// PrintStatus writes a terminal-friendly status table.
func (r *Reporter) PrintStatus(w io.Writer) {
	wf := r.State.Workflow
	stage := wf.Stage
	if stage == "" {
		stage = "not started"
	}
	completed, failed, pending := r.counts()

	fmt.Fprintf(w, "%s %s %s", ui.BoldCyan("🔦 Lantern"), ui.Bold("Stage:"), stage)
	if wf.Mode != "" {
		fmt.Fprintf(w, " %s", ui.Dim("("+wf.Mode+")"))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Batches:  %s  %s  %s\n",
		ui.Green(fmt.Sprintf("%d completed", completed)),
		ui.Red(fmt.Sprintf("%d failed", failed)),
		ui.Dim(fmt.Sprintf("%d pending", pending)))
	fmt.Fprintf(w, "  Files:    %d analyzed\n", len(r.State.FileManifest))
	commit := r.State.GitCommitSHA
	if commit == "" {
		commit = "none"
	}
	fmt.Fprintf(w, "  Commit:   %s\n", commit)
	if wf.QualityScore > 0 {
		fmt.Fprintf(w, "  Quality:  %.2f after %d refinements\n", wf.QualityScore, wf.Iteration)
	}
	if !r.State.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "  Updated:  %s\n", ui.Dim(r.State.UpdatedAt.Local().Format(time.DateTime)))
	}
	fmt.Fprintln(w)

	if r.Plan == nil {
		fmt.Fprintln(w, ui.Dim("  no plan written yet"))
		return
	}
	if r.staleFingerprint() {
		fmt.Fprintf(w, "  %s recorded progress belongs to an earlier plan layout\n\n", ui.Yellow("⚠️"))
	}

	for _, ph := range r.Plan.Phases {
		fmt.Fprintf(w, "  📦 %s %d (%s)\n", ui.Bold("PHASE"), ph.ID, ui.PhaseStatus(r.phaseStatus(ph)))
		for _, b := range ph.Batches {
			r.printBatch(w, b)
		}
		fmt.Fprintln(w)
	}
}

func (r *Reporter) printBatch(w io.Writer, b planner.Batch) {
	status := r.batchStatus(b.ID)
	files := strings.Join(b.Files, ", ")
	if len(files) > 60 {
		files = files[:57] + "..."
	}
	fmt.Fprintf(w, "    %s %s %s\n", ui.StatusIcon(status), ui.BatchPrefix(b.ID), files)
}

// JSON returns machine-readable status.
func (r *Reporter) JSON() ([]byte, error) {
	type batchStatus struct {
		ID     int      `json:"id"`
		Phase  int      `json:"phase"`
		Files  []string `json:"files"`
		Status string   `json:"status"`
	}

	type output struct {
		PlanID        string        `json:"plan_id,omitempty"`
		Stage         string        `json:"stage"`
		Mode          string        `json:"mode,omitempty"`
		RunID         string        `json:"run_id,omitempty"`
		Commit        string        `json:"commit,omitempty"`
		QualityScore  float64       `json:"quality_score"`
		Iteration     int           `json:"iteration"`
		Completed     int           `json:"completed"`
		Failed        int           `json:"failed"`
		Pending       int           `json:"pending"`
		FilesAnalyzed int           `json:"files_analyzed"`
		StalePlan     bool          `json:"stale_plan,omitempty"`
		Batches       []batchStatus `json:"batches"`
	}

	wf := r.State.Workflow
	o := output{
		Stage:         wf.Stage,
		Mode:          wf.Mode,
		RunID:         wf.RunID,
		Commit:        r.State.GitCommitSHA,
		QualityScore:  wf.QualityScore,
		Iteration:     wf.Iteration,
		FilesAnalyzed: len(r.State.FileManifest),
		StalePlan:     r.staleFingerprint(),
		Batches:       []batchStatus{},
	}
	o.Completed, o.Failed, o.Pending = r.counts()

	if r.Plan != nil {
		o.PlanID = r.Plan.ID
		for _, ph := range r.Plan.Phases {
			for _, b := range ph.Batches {
				o.Batches = append(o.Batches, batchStatus{
					ID:     b.ID,
					Phase:  ph.ID,
					Files:  b.Files,
					Status: r.batchStatus(b.ID),
				})
			}
		}
	}

	return json.MarshalIndent(o, "", "  ")
}

// Summary returns a short report of the last run, listing failed batches
// with their log files.
func (r *Reporter) Summary() string {
	var b strings.Builder
	completed, failed, pending := r.counts()

	statusText := ui.BoldGreen("completed")
	statusEmoji := "✅"
	switch {
	case failed > 0:
		statusText = ui.BoldRed("incomplete")
		statusEmoji = "❌"
	case pending > 0 || r.State.Workflow.Stage != "done":
		statusText = ui.Yellow("in progress")
		statusEmoji = "⏳"
	}

	fmt.Fprintf(&b, "\n%s %s\n", statusEmoji, ui.BoldCyan("Lantern Analysis"))
	fmt.Fprintf(&b, "%s\n", ui.Cyan("════════════════"))
	if r.Plan != nil {
		fmt.Fprintf(&b, "Plan:      %s\n", ui.Dim(r.Plan.ID))
	}
	fmt.Fprintf(&b, "Batches:   %s, %s, %d pending\n",
		ui.Green(fmt.Sprintf("%d completed", completed)),
		ui.Red(fmt.Sprintf("%d failed", failed)),
		pending)
	fmt.Fprintf(&b, "Status:    %s\n", statusText)

	if len(r.State.FailedBatches) > 0 {
		fmt.Fprintf(&b, "\n%s\n", ui.BoldRed("Failed batches:"))
		ids := append([]int(nil), r.State.FailedBatches...)
		sort.Ints(ids)
		for _, id := range ids {
			line := fmt.Sprintf("  %s %s", ui.Red("✗"), ui.BatchPrefix(id))
			if r.LogDir != "" {
				line += "  " + ui.Dim("(log: "+filepath.Join(r.LogDir, fmt.Sprintf("batch-%04d.log", id))+")")
			}
			fmt.Fprintln(&b, line)
		}
	}
	return b.String()
}
