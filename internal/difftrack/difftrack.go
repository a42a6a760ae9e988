// Package difftrack turns version-control changes into the set of files an
// incremental analysis must revisit.
package difftrack

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/joshharrison/lantern/internal/graph"
	"github.com/joshharrison/lantern/internal/vcs"
)

// LargeChangeRatio is the share of the manifest above which an impact set is
// flagged as a large change.
const LargeChangeRatio = 0.5

// Rename is a path change detected by the version-control collaborator.
type Rename struct {
	Old        string `json:"old"`
	New        string `json:"new"`
	Similarity int    `json:"similarity"`
}

// Pure reports whether the content is unchanged.
func (r Rename) Pure() bool {
	return r.Similarity >= 100
}

// DiffResult is the classified change list between two commits.
type DiffResult struct {
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Deleted  []string `json:"deleted"`
	Renamed  []Rename `json:"renamed"`
}

// Empty reports whether nothing changed.
func (d *DiffResult) Empty() bool {
	return len(d.Added)+len(d.Modified)+len(d.Deleted)+len(d.Renamed) == 0
}

// ImpactSet is what an incremental run must do.
type ImpactSet struct {
	Reanalyze   map[string]bool
	Remove      map[string]bool
	Relabel     map[string]string // old path -> new path, pure renames only
	Reason      map[string]string
	LargeChange bool
}

// ReanalyzeList returns Reanalyze sorted.
func (i *ImpactSet) ReanalyzeList() []string {
	return sortedKeys(i.Reanalyze)
}

// RemoveList returns Remove sorted.
func (i *ImpactSet) RemoveList() []string {
	return sortedKeys(i.Remove)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Tracker reads changes through a vcs.Repository.
type Tracker struct {
	repo   vcs.Repository
	logger *slog.Logger
}

// NewTracker returns a Tracker over repo.
func NewTracker(repo vcs.Repository, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{repo: repo, logger: logger}
}

// CurrentCommit returns the head revision.
func (t *Tracker) CurrentCommit(ctx context.Context) (string, error) {
	sha, err := t.repo.CurrentCommit(ctx)
	if err != nil {
		return "", fmt.Errorf("current commit: %w", err)
	}
	return sha, nil
}

// Diff classifies the changes between base and head. Copies count as
// additions. Errors from the collaborator are returned, never an empty diff.
func (t *Tracker) Diff(ctx context.Context, base string) (*DiffResult, error) {
	changes, err := t.repo.Diff(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("diff %s..HEAD: %w", base, err)
	}

	d := &DiffResult{}
	for _, c := range changes {
		switch c.Status {
		case vcs.Added, vcs.Copied:
			d.Added = append(d.Added, c.Path)
		case vcs.Modified:
			d.Modified = append(d.Modified, c.Path)
		case vcs.Deleted:
			d.Deleted = append(d.Deleted, c.Path)
		case vcs.Renamed:
			d.Renamed = append(d.Renamed, Rename{Old: c.OldPath, New: c.Path, Similarity: c.Similarity})
		default:
			t.logger.Debug("ignoring change", "status", c.Status, "path", c.Path)
		}
	}
	t.logger.Debug("diff classified", "base", base,
		"added", len(d.Added), "modified", len(d.Modified),
		"deleted", len(d.Deleted), "renamed", len(d.Renamed))
	return d, nil
}

// CalculateImpact combines a diff with the current graph:
//
//   - added and modified files are reanalyzed, together with their direct
//     dependents (one level of reverse edges only);
//   - deleted files are removed;
//   - a pure rename only relabels the old path to the new one;
//   - any other rename reanalyzes the new path and removes the old one.
//
// A path in Remove is never added back through a reverse edge.
// LargeChange is set when more than half of manifestSize must be reanalyzed;
// the caller decides what to do about it.
func CalculateImpact(diff *DiffResult, g *graph.DependencyGraph, manifestSize int) *ImpactSet {
	impact := &ImpactSet{
		Reanalyze: make(map[string]bool),
		Remove:    make(map[string]bool),
		Relabel:   make(map[string]string),
		Reason:    make(map[string]string),
	}

	for _, f := range diff.Deleted {
		impact.Remove[f] = true
		impact.Reason[f] = "deleted"
	}
	for _, r := range diff.Renamed {
		if r.Pure() {
			impact.Relabel[r.Old] = r.New
			impact.Reason[r.New] = "renamed from " + r.Old
			continue
		}
		impact.Remove[r.Old] = true
		impact.Reason[r.Old] = "renamed to " + r.New
	}

	var changed []string
	add := func(f, reason string) {
		if impact.Remove[f] || impact.Reanalyze[f] {
			return
		}
		impact.Reanalyze[f] = true
		impact.Reason[f] = reason
	}
	for _, f := range diff.Added {
		add(f, "added")
		changed = append(changed, f)
	}
	for _, f := range diff.Modified {
		add(f, "modified")
		changed = append(changed, f)
	}
	for _, r := range diff.Renamed {
		if !r.Pure() {
			add(r.New, "renamed from "+r.Old)
			changed = append(changed, r.New)
		}
	}

	// The new path of a pure rename is still reanalyzed here when it imports
	// a changed file; the relabel keeps its record until then.
	sort.Strings(changed)
	for _, f := range changed {
		for _, dep := range g.Dependents(f) {
			add(dep, "depends on changed file "+f)
		}
	}

	impact.LargeChange = manifestSize > 0 && float64(len(impact.Reanalyze)) > LargeChangeRatio*float64(manifestSize)
	return impact
}
