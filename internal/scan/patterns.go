package scan

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// rule is one gitignore-style pattern.
type rule struct {
	glob     string
	negated  bool
	dirOnly  bool
	anchored bool
}

// PatternSet matches slash-separated relative paths against gitignore-style
// patterns. Later patterns override earlier ones; "!" re-includes.
type PatternSet struct {
	rules []rule
}

// NewPatternSet compiles lines into a PatternSet.
func NewPatternSet(lines ...string) *PatternSet {
	ps := &PatternSet{}
	ps.Add(lines...)
	return ps
}

// Add appends patterns. Blank lines and comments are skipped.
func (ps *PatternSet) Add(lines ...string) {
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		r := rule{}
		if strings.HasPrefix(line, "!") {
			r.negated = true
			line = line[1:]
		}
		if strings.HasSuffix(line, "/") {
			r.dirOnly = true
			line = strings.TrimSuffix(line, "/")
		}
		if strings.HasPrefix(line, "/") {
			r.anchored = true
			line = line[1:]
		}
		// Unanchored patterns without a slash match a basename at any depth.
		if !r.anchored && !strings.Contains(line, "/") {
			line = "**/" + line
		}
		r.glob = line
		ps.rules = append(ps.rules, r)
	}
}

// LoadFile appends the patterns of a gitignore-style file. A missing file is
// not an error.
func (ps *PatternSet) LoadFile(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		ps.Add(sc.Text())
	}
	return sc.Err()
}

// Len returns the number of patterns.
func (ps *PatternSet) Len() int {
	return len(ps.rules)
}

// Match reports whether path is matched. isDir says whether path is a
// directory; files inside a matched directory are matched too.
func (ps *PatternSet) Match(path string, isDir bool) bool {
	path = strings.TrimPrefix(filepath.ToSlash(path), "./")

	matched := false
	for _, r := range ps.rules {
		var hit bool
		if r.dirOnly && !isDir {
			hit = matchParent(r.glob, path)
		} else {
			hit = matchGlob(r.glob, path)
		}
		if hit {
			matched = !r.negated
		}
	}
	return matched
}

// matchParent checks the directories above a file path.
func matchParent(glob, path string) bool {
	parts := strings.Split(path, "/")
	for i := 1; i < len(parts); i++ {
		if matchGlob(glob, strings.Join(parts[:i], "/")) {
			return true
		}
	}
	return false
}

func matchGlob(glob, path string) bool {
	if ok, _ := doublestar.Match(glob, path); ok {
		return true
	}
	// "vendor" also covers "vendor/x/y.go".
	if !strings.HasSuffix(glob, "/**") {
		if ok, _ := doublestar.Match(glob+"/**", path); ok {
			return true
		}
	}
	return false
}
