package imports

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Extract returns the raw import identifiers of content, parsed as lang.
func Extract(ctx context.Context, lang Language, content []byte) ([]string, error) {
	switch lang {
	case Python:
		return extractPython(ctx, content)
	case TypeScript:
		return extractScript(ctx, content)
	case Cpp:
		return extractCpp(content), nil
	case SystemVerilog:
		return extractSystemVerilog(content), nil
	case VHDL:
		return extractVHDL(content), nil
	}
	return nil, fmt.Errorf("unsupported language %q", lang)
}

// Source reads files under a root directory and resolves their in-repository
// dependencies. It satisfies graph.ImportSource.
type Source struct {
	root  string
	index *Index
}

// NewSource indexes files, which are relative to root.
func NewSource(root string, files []string) *Source {
	return &Source{root: root, index: NewIndex(files)}
}

// Dependencies returns the repository files file imports.
func (s *Source) Dependencies(ctx context.Context, file string) ([]string, error) {
	lang, ok := Detect(file)
	if !ok {
		return nil, nil
	}
	content, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(file)))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	ids, err := Extract(ctx, lang, content)
	if err != nil {
		return nil, fmt.Errorf("extract imports from %s: %w", file, err)
	}
	return s.index.Resolve(file, ids), nil
}
