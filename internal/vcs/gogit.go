package vcs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	gitdiff "github.com/go-git/go-git/v5/utils/diff"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// GoGit reads the repository in-process with go-git.
type GoGit struct {
	repo   *git.Repository
	prefix string // opened directory relative to the work tree root, "" for the root
}

// OpenGoGit opens the repository containing dir.
func OpenGoGit(dir string) (*GoGit, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: %s", ErrNotRepository, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	g := &GoGit{repo: repo}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open work tree: %w", err)
	}
	prefix, err := relPrefix(wt.Filesystem.Root(), dir)
	if err != nil {
		return nil, err
	}
	g.prefix = prefix
	return g, nil
}

func relPrefix(root, dir string) (string, error) {
	absRoot, err := resolvePath(root)
	if err != nil {
		return "", err
	}
	absDir, err := resolvePath(dir)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absRoot, absDir)
	if err != nil {
		return "", fmt.Errorf("locate %s in work tree: %w", dir, err)
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel) + "/", nil
}

func resolvePath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real, nil
	}
	return abs, nil
}

// CurrentCommit returns the SHA of HEAD.
func (g *GoGit) CurrentCommit(_ context.Context) (string, error) {
	ref, err := g.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", fmt.Errorf("resolve HEAD: %w", ErrNoCommits)
	}
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// Diff compares the tree of base with the tree of HEAD.
func (g *GoGit) Diff(ctx context.Context, base string) ([]Change, error) {
	baseHash, err := g.repo.ResolveRevision(plumbing.Revision(base))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBaseUnreachable, base, err)
	}
	baseCommit, err := g.repo.CommitObject(*baseHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBaseUnreachable, base, err)
	}
	head, err := g.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	headCommit, err := g.repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("read HEAD commit: %w", err)
	}

	baseTree, err := baseCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("read base tree: %w", err)
	}
	headTree, err := headCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("read head tree: %w", err)
	}

	opts := *object.DefaultDiffTreeOptions
	opts.DetectRenames = true
	changes, err := object.DiffTreeWithOptions(ctx, baseTree, headTree, &opts)
	if err != nil {
		return nil, fmt.Errorf("diff trees: %w", err)
	}

	var out []Change
	for _, ch := range changes {
		c, err := g.convert(ch)
		if err != nil {
			return nil, err
		}
		if c != nil {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// convert maps a go-git change to a Change relative to the opened directory.
// Changes outside it are dropped; renames across its boundary become an add
// or a delete.
func (g *GoGit) convert(ch *object.Change) (*Change, error) {
	from, fromOK := g.local(ch.From.Name)
	to, toOK := g.local(ch.To.Name)

	switch {
	case ch.From.Name == "":
		if !toOK {
			return nil, nil
		}
		return &Change{Status: Added, Path: to}, nil
	case ch.To.Name == "":
		if !fromOK {
			return nil, nil
		}
		return &Change{Status: Deleted, Path: from}, nil
	case ch.From.Name == ch.To.Name:
		if !toOK {
			return nil, nil
		}
		return &Change{Status: Modified, Path: to}, nil
	}

	// Rename.
	switch {
	case fromOK && !toOK:
		return &Change{Status: Deleted, Path: from}, nil
	case !fromOK && toOK:
		return &Change{Status: Added, Path: to}, nil
	case !fromOK && !toOK:
		return nil, nil
	}
	score, err := similarity(ch)
	if err != nil {
		return nil, err
	}
	return &Change{Status: Renamed, Path: to, OldPath: from, Similarity: score}, nil
}

func (g *GoGit) local(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	name = path.Clean(name)
	if g.prefix == "" {
		return name, true
	}
	if !strings.HasPrefix(name, g.prefix) {
		return "", false
	}
	return strings.TrimPrefix(name, g.prefix), true
}

// similarity is 100 for identical blobs; otherwise the share of the larger
// side that survives unchanged, capped at 99.
func similarity(ch *object.Change) (int, error) {
	if ch.From.TreeEntry.Hash == ch.To.TreeEntry.Hash {
		return 100, nil
	}
	fromFile, toFile, err := ch.Files()
	if err != nil {
		return 0, fmt.Errorf("read renamed file %s: %w", ch.To.Name, err)
	}
	a, err := fromFile.Contents()
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", ch.From.Name, err)
	}
	b, err := toFile.Contents()
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", ch.To.Name, err)
	}
	return Similarity(a, b), nil
}

// Similarity scores how much of two texts is shared, 0-100. Only identical
// texts score 100.
func Similarity(a, b string) int {
	if a == b {
		return 100
	}
	larger := max(len(a), len(b))
	same := 0
	for _, d := range gitdiff.Do(a, b) {
		if d.Type == diffmatchpatch.DiffEqual {
			same += len(d.Text)
		}
	}
	return min(same*100/larger, 99)
}
