package orchestrator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/joshharrison/lantern/internal/planner"
)

// Decision is the outcome of a plan review.
type Decision int

const (
	Approved Decision = iota
	Rejected
	Waiting
)

func (d Decision) String() string {
	switch d {
	case Approved:
		return "approved"
	case Rejected:
		return "rejected"
	default:
		return "waiting"
	}
}

// Reviewer decides whether a plan may be executed. planPath is the editable
// plan document; a reviewer that rejects may edit it first.
type Reviewer interface {
	Review(ctx context.Context, plan *planner.Plan, planPath string) (Decision, error)
}

// AutoApprove approves every plan. It is the non-interactive reviewer.
type AutoApprove struct{}

func (AutoApprove) Review(context.Context, *planner.Plan, string) (Decision, error) {
	return Approved, nil
}

// Gate approves only when Approved is set, and waits otherwise. It backs the
// review-then-resume flow: the first run stops, the next run passes --approve.
type Gate struct {
	Approved bool
}

func (g Gate) Review(context.Context, *planner.Plan, string) (Decision, error) {
	if g.Approved {
		return Approved, nil
	}
	return Waiting, nil
}

// Prompt asks on a terminal.
type Prompt struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPrompt returns a Prompt reading answers from in.
func NewPrompt(in io.Reader, out io.Writer) *Prompt {
	return &Prompt{in: bufio.NewReader(in), out: out}
}

func (p *Prompt) Review(ctx context.Context, plan *planner.Plan, planPath string) (Decision, error) {
	fmt.Fprintf(p.out, "\nPlan %s: %d batches in %d phases (confidence %.2f)\n",
		plan.ID, plan.TotalBatches(), len(plan.Phases), plan.Confidence)
	fmt.Fprintf(p.out, "Review %s, then: [a]pprove, [r]eload after editing, anything else to stop: ", planPath)

	line, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return Waiting, fmt.Errorf("read answer: %w", err)
	}
	if ctx.Err() != nil {
		return Waiting, ctx.Err()
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "a", "approve", "y", "yes":
		return Approved, nil
	case "r", "reload", "reject":
		return Rejected, nil
	default:
		return Waiting, nil
	}
}
