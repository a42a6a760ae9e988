package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

// CLI shells out to the git binary.
type CLI struct {
	GitBin string // path to git binary (default: "git")
	Dir    string
}

// OpenCLI returns a CLI backend for dir after checking it is a work tree.
func OpenCLI(ctx context.Context, dir, gitBin string) (*CLI, error) {
	if gitBin == "" {
		gitBin = "git"
	}
	c := &CLI{GitBin: gitBin, Dir: dir}
	out, err := c.run(ctx, "rev-parse", "--is-inside-work-tree")
	if err != nil || strings.TrimSpace(string(out)) != "true" {
		return nil, fmt.Errorf("%w: %s", ErrNotRepository, dir)
	}
	return c, nil
}

func (c *CLI) run(ctx context.Context, args ...string) ([]byte, error) {
	all := append([]string{"-C", c.Dir}, args...)
	cmd := exec.CommandContext(ctx, c.GitBin, all...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git %s: %w\n%s", strings.Join(args, " "), err, stderr.String())
	}
	return out, nil
}

// CurrentCommit returns the SHA of HEAD.
func (c *CLI) CurrentCommit(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "rev-parse", "--verify", "-q", "HEAD^{commit}")
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return "", fmt.Errorf("resolve HEAD: %w", ErrNoCommits)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Diff runs git diff --name-status -z -M between base and HEAD, with paths
// relative to Dir.
func (c *CLI) Diff(ctx context.Context, base string) ([]Change, error) {
	out, err := c.run(ctx, "cat-file", "-t", base)
	if err != nil || strings.TrimSpace(string(out)) != "commit" {
		return nil, fmt.Errorf("%w: %s", ErrBaseUnreachable, base)
	}
	out, err = c.run(ctx, "diff", "--name-status", "-z", "-M", "--relative", base+"..HEAD")
	if err != nil {
		return nil, err
	}
	return ParseNameStatus(out)
}

// ParseNameStatus parses git diff --name-status -z output: NUL-terminated
// fields, a status followed by one path, or by the old and new path for
// renames and copies. Paths are taken verbatim. Copies are reported with
// their similarity like renames.
func ParseNameStatus(out []byte) ([]Change, error) {
	fields := strings.Split(strings.TrimSuffix(string(out), "\x00"), "\x00")
	if len(fields) == 1 && fields[0] == "" {
		return nil, nil
	}

	var changes []Change
	for i := 0; i < len(fields); {
		code := strings.TrimSpace(fields[i])
		if code == "" {
			return nil, fmt.Errorf("parse name-status: empty status at field %d", i)
		}
		paths := 1
		if s := Status(code[:1]); s == Renamed || s == Copied {
			paths = 2
		}
		if i+paths >= len(fields) {
			return nil, fmt.Errorf("parse name-status: %q is missing its path", code)
		}
		p := fields[i+1 : i+1+paths]
		i += 1 + paths

		switch Status(code[:1]) {
		case Added, Modified, Deleted:
			changes = append(changes, Change{Status: Status(code[:1]), Path: p[0]})
		case Renamed, Copied:
			score := 0
			if len(code) > 1 {
				n, err := strconv.Atoi(code[1:])
				if err != nil {
					return nil, fmt.Errorf("parse similarity in %q: %w", code, err)
				}
				score = n
			}
			changes = append(changes, Change{
				Status:     Status(code[:1]),
				Path:       p[1],
				OldPath:    p[0],
				Similarity: score,
			})
		case "T":
			// Type change (file to symlink and back) counts as a modification.
			changes = append(changes, Change{Status: Modified, Path: p[0]})
		default:
			// Unmerged or unknown entries carry no analysis signal.
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes, nil
}
