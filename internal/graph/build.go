package graph

import (
	"context"
	"fmt"
	"log/slog"
)

// ImportSource resolves the in-repository dependencies of a file.
// Implementations return an error for files they cannot parse.
type ImportSource interface {
	Dependencies(ctx context.Context, file Node) ([]Node, error)
}

// Build constructs a DependencyGraph over files. Every file becomes a node
// even when it has no dependencies. Files the source fails on are logged and
// contribute no edges; dependencies outside files are ignored.
func Build(ctx context.Context, files []Node, src ImportSource, logger *slog.Logger) (*DependencyGraph, error) {
	if logger == nil {
		logger = slog.Default()
	}

	g := New()
	known := make(map[Node]bool, len(files))
	for _, f := range files {
		g.AddNode(f)
		known[f] = true
	}

	skipped := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("build dependency graph: %w", err)
		}

		deps, err := src.Dependencies(ctx, f)
		if err != nil {
			logger.Warn("skipping unparseable file", "file", f, "error", err)
			skipped++
			continue
		}
		for _, d := range deps {
			if known[d] && d != f {
				g.AddEdge(f, d)
			}
		}
	}

	logger.Debug("dependency graph built",
		"nodes", g.Len(), "edges", g.EdgeCount(), "skipped", skipped)
	return g, nil
}
