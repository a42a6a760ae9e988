// Package scan lists the repository files an analysis should consider.
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
)

// DefaultExcludes are skipped unless a configured include pattern matches.
var DefaultExcludes = []string{
	".git/",
	".hg/",
	".svn/",
	"node_modules/",
	"vendor/",
	"build/",
	"dist/",
	"__pycache__/",
	".venv/",
	"venv/",
	".tox/",
	".mypy_cache/",
	".pytest_cache/",
	".lantern/",
	"*.min.js",
	"*.map",
	"*.lock",
	"*.pyc",
	".DS_Store",
}

// Filter decides which files are analyzed. Precedence, highest first:
// configured includes, configured excludes, defaults, .gitignore.
type Filter struct {
	include   *PatternSet
	exclude   *PatternSet
	defaults  *PatternSet
	gitignore *PatternSet
}

// NewFilter builds a Filter for root. The output directory, when inside
// root, is always excluded.
func NewFilter(root string, include, exclude []string, outputDir string) (*Filter, error) {
	f := &Filter{
		include:   NewPatternSet(include...),
		exclude:   NewPatternSet(exclude...),
		defaults:  NewPatternSet(DefaultExcludes...),
		gitignore: NewPatternSet(),
	}
	if err := f.gitignore.LoadFile(filepath.Join(root, ".gitignore")); err != nil {
		return nil, fmt.Errorf("read .gitignore: %w", err)
	}
	if outputDir != "" && !filepath.IsAbs(outputDir) {
		f.defaults.Add("/" + filepath.ToSlash(filepath.Clean(outputDir)) + "/")
	}
	return f, nil
}

// Ignored reports whether the relative path should be skipped.
func (f *Filter) Ignored(rel string, isDir bool) bool {
	if !isDir && f.include.Match(rel, false) {
		return false
	}
	return f.exclude.Match(rel, isDir) ||
		f.defaults.Match(rel, isDir) ||
		f.gitignore.Match(rel, isDir)
}

// prunable reports whether a whole directory can be skipped. With include
// patterns configured nothing is pruned, since an include may reach inside
// an excluded directory.
func (f *Filter) prunable(rel string) bool {
	return f.include.Len() == 0 && f.Ignored(rel, true)
}

// Walk returns the slash-separated paths, relative to root, of every regular
// file the filter keeps, sorted.
func Walk(ctx context.Context, root string, f *Filter, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			logger.Warn("skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel == ".git" || f.prunable(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if f.Ignored(rel, false) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	sort.Strings(files)
	logger.Debug("repository scanned", "root", root, "files", len(files))
	return files, nil
}
