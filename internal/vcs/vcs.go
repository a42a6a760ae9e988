// Package vcs reads commit identity and changed files from a git repository.
package vcs

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotRepository means the path is not inside a git work tree.
	ErrNotRepository = errors.New("not a git repository")
	// ErrBaseUnreachable means the base commit is not in the repository's
	// history, for example after a force push or a shallow clone.
	ErrBaseUnreachable = errors.New("base commit unreachable")
	// ErrNoCommits means HEAD is unborn: the repository has no commits yet.
	ErrNoCommits = errors.New("repository has no commits")
)

// Status is the kind of a file change.
type Status string

const (
	Added    Status = "A"
	Modified Status = "M"
	Deleted  Status = "D"
	Renamed  Status = "R"
	Copied   Status = "C"
)

// Change is one entry of a diff between the base commit and HEAD. Paths are
// slash-separated and relative to the opened directory. OldPath and
// Similarity (0-100) are set for renames and copies only.
type Change struct {
	Status     Status
	Path       string
	OldPath    string
	Similarity int
}

// Repository is the version-control collaborator.
type Repository interface {
	// CurrentCommit returns the full SHA of HEAD.
	CurrentCommit(ctx context.Context) (string, error)
	// Diff lists the changes from base to HEAD with rename detection.
	Diff(ctx context.Context, base string) ([]Change, error)
}

// Backend names a Repository implementation.
type Backend string

const (
	BackendGoGit Backend = "gogit"
	BackendCLI   Backend = "cli"
)

// Open returns the Repository for path using the given backend. An empty
// backend selects go-git.
func Open(path string, backend Backend) (Repository, error) {
	switch backend {
	case "", BackendGoGit:
		return OpenGoGit(path)
	case BackendCLI:
		return OpenCLI(context.Background(), path, "")
	default:
		return nil, fmt.Errorf("unknown vcs backend %q", backend)
	}
}
