package imports

import (
	"path"
	"strings"
)

// Index maps import identifiers to repository files, one table per
// language.
type Index struct {
	files  map[string]bool
	tables map[Language]map[string]string
}

// NewIndex indexes files (slash-separated, relative to the repository root).
func NewIndex(files []string) *Index {
	idx := &Index{
		files:  make(map[string]bool, len(files)),
		tables: make(map[Language]map[string]string),
	}
	for _, f := range files {
		lang, ok := Detect(f)
		if !ok {
			continue
		}
		idx.files[f] = true
		for _, key := range keys(lang, f) {
			idx.put(lang, key, f)
		}
	}
	return idx
}

func (idx *Index) put(lang Language, key, file string) {
	t := idx.tables[lang]
	if t == nil {
		t = make(map[string]string)
		idx.tables[lang] = t
	}
	// First file wins so lookups do not depend on map iteration.
	if _, taken := t[key]; !taken {
		t[key] = file
	}
}

func (idx *Index) get(lang Language, key string) (string, bool) {
	f, ok := idx.tables[lang][key]
	return f, ok
}

// keys lists the identifiers under which a file can be imported.
func keys(lang Language, file string) []string {
	dir, base := path.Split(file)
	dir = strings.TrimSuffix(dir, "/")
	stem := strings.TrimSuffix(base, path.Ext(base))

	switch lang {
	case Python:
		parts := append(splitDir(dir), stem)
		out := []string{strings.Join(parts, ".")}
		if stem == "__init__" && len(parts) > 1 {
			out = append(out, strings.Join(parts[:len(parts)-1], "."))
		}
		if parts[0] == "src" && len(parts) > 1 {
			short := parts[1:]
			out = append(out, strings.Join(short, "."))
			if stem == "__init__" && len(short) > 1 {
				out = append(out, strings.Join(short[:len(short)-1], "."))
			}
		}
		return out
	case Cpp:
		return []string{file, base}
	case TypeScript:
		return []string{file, strings.TrimSuffix(file, path.Ext(file))}
	case SystemVerilog:
		return []string{file, base, stem}
	case VHDL:
		return []string{file, strings.ToLower(stem)}
	}
	return nil
}

func splitDir(dir string) []string {
	if dir == "" || dir == "." {
		return nil
	}
	return strings.Split(dir, "/")
}

var scriptExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs"}

// Resolve maps identifiers extracted from file to repository files.
// Identifiers that name nothing in the repository (standard library,
// third-party packages) are dropped, as are self references.
func (idx *Index) Resolve(file string, ids []string) []string {
	lang, ok := Detect(file)
	if !ok {
		return nil
	}
	var out []string
	for _, id := range ids {
		target, ok := idx.resolveOne(lang, file, id)
		if ok && target != file {
			out = append(out, target)
		}
	}
	return dedupe(out)
}

func (idx *Index) resolveOne(lang Language, file, id string) (string, bool) {
	dir := path.Dir(file)
	switch lang {
	case Python:
		if strings.HasPrefix(id, ".") {
			abs, ok := absolutePython(file, id)
			if !ok {
				return "", false
			}
			id = abs
		}
		return idx.get(Python, id)

	case Cpp:
		// Quoted includes are searched next to the including file first.
		if f, ok := idx.get(Cpp, path.Join(dir, id)); ok {
			return f, true
		}
		return idx.get(Cpp, id)

	case TypeScript:
		if !strings.HasPrefix(id, ".") {
			return idx.get(TypeScript, strings.TrimPrefix(id, "/"))
		}
		resolved := path.Join(dir, id)
		if idx.files[resolved] {
			return resolved, true
		}
		// ESM code imports "./x.js" for x.ts.
		base := resolved
		for _, ext := range scriptExtensions {
			if strings.HasSuffix(base, ext) {
				base = strings.TrimSuffix(base, ext)
				break
			}
		}
		for _, ext := range scriptExtensions {
			if idx.files[base+ext] {
				return base + ext, true
			}
		}
		for _, ext := range []string{".ts", ".js", ".tsx", ".jsx"} {
			if idx.files[resolved+"/index"+ext] {
				return resolved + "/index" + ext, true
			}
		}
		return "", false

	case SystemVerilog:
		if f, ok := idx.get(SystemVerilog, path.Join(dir, id)); ok {
			return f, true
		}
		return idx.get(SystemVerilog, id)

	case VHDL:
		if f, ok := idx.get(VHDL, id); ok {
			return f, true
		}
		// "lib.unit": match the unit by file stem.
		if i := strings.LastIndex(id, "."); i >= 0 {
			return idx.get(VHDL, id[i+1:])
		}
	}
	return "", false
}

// absolutePython turns a relative module reference (".x", "..y.z") into a
// dotted name from the repository root.
func absolutePython(file, rel string) (string, bool) {
	level := len(rel) - len(strings.TrimLeft(rel, "."))
	rest := rel[level:]

	pkg := splitDir(path.Dir(file))
	up := level - 1
	if up > len(pkg) {
		return "", false
	}
	parts := append([]string(nil), pkg[:len(pkg)-up]...)
	if rest != "" {
		parts = append(parts, rest)
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "."), true
}
