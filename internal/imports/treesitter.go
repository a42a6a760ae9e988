package imports

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
)

// ErrSyntax is returned for files the parser rejects.
var ErrSyntax = errors.New("syntax error")

// extractPython returns module identifiers: "a.b" for absolute imports and
// dotted prefixes (".x", "..y") for relative ones. For "from m import n"
// both "m" and "m.n" are returned, since n may be a submodule.
func extractPython(ctx context.Context, content []byte) ([]string, error) {
	root, err := sitter.ParseCtx(ctx, content, python.GetLanguage())
	if err != nil {
		return nil, fmt.Errorf("parse python: %w", err)
	}
	if root.HasError() {
		return nil, ErrSyntax
	}

	var out []string
	iter := sitter.NewIterator(root, sitter.DFSMode)
	for {
		n, err := iter.Next()
		if err != nil || n == nil {
			break
		}
		switch n.Type() {
		case "import_statement":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				out = append(out, pythonName(n.NamedChild(i), content))
			}
		case "import_from_statement":
			module := n.ChildByFieldName("module_name")
			if module == nil {
				continue
			}
			base := module.Content(content)
			out = append(out, base)
			for i := 0; i < int(n.ChildCount()); i++ {
				if n.FieldNameForChild(i) != "name" {
					continue
				}
				name := pythonName(n.Child(i), content)
				if strings.HasSuffix(base, ".") {
					out = append(out, base+name)
				} else {
					out = append(out, base+"."+name)
				}
			}
		}
	}
	return dedupe(out), nil
}

// pythonName returns the dotted name of a dotted_name or aliased_import.
func pythonName(n *sitter.Node, content []byte) string {
	if n.Type() == "aliased_import" {
		if name := n.ChildByFieldName("name"); name != nil {
			return name.Content(content)
		}
	}
	return n.Content(content)
}

// extractScript returns module specifiers of import/export statements,
// dynamic import() and require() calls. The JavaScript grammar is also used
// for TypeScript; when type syntax trips the parser the regexp scanner fills
// in what the tree misses.
func extractScript(ctx context.Context, content []byte) ([]string, error) {
	root, err := sitter.ParseCtx(ctx, content, javascript.GetLanguage())
	if err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}

	var out []string
	iter := sitter.NewIterator(root, sitter.DFSMode)
	for {
		n, err := iter.Next()
		if err != nil || n == nil {
			break
		}
		switch n.Type() {
		case "import_statement", "export_statement":
			if src := n.ChildByFieldName("source"); src != nil {
				out = append(out, unquote(src.Content(content)))
			}
		case "call_expression":
			fn := n.ChildByFieldName("function")
			args := n.ChildByFieldName("arguments")
			if fn == nil || args == nil {
				continue
			}
			if fn.Type() != "import" && !(fn.Type() == "identifier" && fn.Content(content) == "require") {
				continue
			}
			for i := 0; i < int(args.NamedChildCount()); i++ {
				if a := args.NamedChild(i); a.Type() == "string" {
					out = append(out, unquote(a.Content(content)))
					break
				}
			}
		}
	}
	if root.HasError() {
		out = append(out, scanScript(content)...)
	}
	return dedupe(out), nil
}

var (
	scriptImportRe  = regexp.MustCompile(`(?m)^\s*(?:import|export)\s+(?:type\s+)?(?:[^'"]*?\sfrom\s+)?['"]([^'"]+)['"]`)
	scriptRequireRe = regexp.MustCompile(`require\s*\(\s*['"]([^'"]+)['"]\s*\)`)
)

func scanScript(content []byte) []string {
	var out []string
	for _, m := range scriptImportRe.FindAllSubmatch(content, -1) {
		out = append(out, string(m[1]))
	}
	for _, m := range scriptRequireRe.FindAllSubmatch(content, -1) {
		out = append(out, string(m[1]))
	}
	return out
}

func unquote(s string) string {
	return strings.Trim(s, "\"'`")
}
