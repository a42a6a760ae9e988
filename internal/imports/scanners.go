package imports

import (
	"regexp"
	"sort"
	"strings"
)

var (
	cppIncludeRe = regexp.MustCompile(`(?m)^\s*#\s*include\s+[<"]([^>"]+)[>"]`)
	svIncludeRe  = regexp.MustCompile("(?m)^\\s*`include\\s+\"([^\"]+)\"")
	svImportRe   = regexp.MustCompile(`(?m)^\s*import\s+(\w+)::`)
	vhdlUseRe    = regexp.MustCompile(`(?mi)^\s*use\s+(\w+)\.(\w+)`)
	vhdlEntityRe = regexp.MustCompile(`(?i)entity\s+(\w+)\.(\w+)`)
)

// extractCpp returns the targets of #include directives.
func extractCpp(content []byte) []string {
	var out []string
	for _, m := range cppIncludeRe.FindAllSubmatch(content, -1) {
		out = append(out, string(m[1]))
	}
	return dedupe(out)
}

// extractSystemVerilog returns `include targets and imported package names.
func extractSystemVerilog(content []byte) []string {
	var out []string
	for _, m := range svIncludeRe.FindAllSubmatch(content, -1) {
		out = append(out, string(m[1]))
	}
	for _, m := range svImportRe.FindAllSubmatch(content, -1) {
		out = append(out, string(m[1]))
	}
	return dedupe(out)
}

// extractVHDL returns referenced design units, lowercased. Units of the work
// library are returned bare, others as "library.unit". The ieee and std
// libraries are skipped.
func extractVHDL(content []byte) []string {
	var out []string
	add := func(lib, unit string) {
		lib, unit = strings.ToLower(lib), strings.ToLower(unit)
		switch lib {
		case "ieee", "std":
		case "work":
			out = append(out, unit)
		default:
			out = append(out, lib+"."+unit)
		}
	}
	for _, m := range vhdlUseRe.FindAllSubmatch(content, -1) {
		add(string(m[1]), string(m[2]))
	}
	for _, m := range vhdlEntityRe.FindAllSubmatch(content, -1) {
		add(string(m[1]), string(m[2]))
	}
	return dedupe(out)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
