package scan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternSet(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		isDir   bool
		want    bool
	}{
		{"*.log", "debug.log", false, true},
		{"*.log", "logs/debug.log", false, true},
		{"*.log", "debug.txt", false, false},
		{"node_modules/", "node_modules", true, true},
		{"node_modules/", "node_modules/foo.js", false, true},
		{"node_modules/", "web/node_modules/x/y.js", false, true},
		{"/build", "build", true, true},
		{"/build", "src/build", true, false},
		{"src/*.py", "src/app.py", false, true},
		{"src/*.py", "src/sub/app.py", false, false},
		{"src/**/*.py", "src/sub/app.py", false, true},
		{"generated", "pkg/generated/a.py", false, true},
	}
	for _, tt := range tests {
		ps := NewPatternSet(tt.pattern)
		assert.Equal(t, tt.want, ps.Match(tt.path, tt.isDir), "pattern %q path %q", tt.pattern, tt.path)
	}
}

func TestPatternSet_Negation(t *testing.T) {
	ps := NewPatternSet("*.py", "!keep.py", "# comment", "")
	assert.True(t, ps.Match("a.py", false))
	assert.False(t, ps.Match("keep.py", false))
	assert.Equal(t, 2, ps.Len())
}

func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		p := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	}
}

func TestWalk_DefaultsAndGitignore(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root,
		"src/app.py",
		"src/util.py",
		"src/__pycache__/app.cpython-311.pyc",
		"node_modules/lib/index.js",
		".lantern/state.json",
		"secret/key.py",
		"web/app.min.js",
		"web/app.js",
	)
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("secret/\n"), 0644))

	f, err := NewFilter(root, nil, nil, ".lantern")
	require.NoError(t, err)
	files, err := Walk(context.Background(), root, f, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{".gitignore", "src/app.py", "src/util.py", "web/app.js"}, files)
}

func TestWalk_IncludeBeatsExclude(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root,
		"src/app.py",
		"src/legacy/old.py",
		"src/legacy/keep.py",
		"vendor/patched/lib.py",
	)

	f, err := NewFilter(root, []string{"src/legacy/keep.py", "vendor/patched/**"}, []string{"src/legacy/"}, "")
	require.NoError(t, err)
	files, err := Walk(context.Background(), root, f, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"src/app.py", "src/legacy/keep.py", "vendor/patched/lib.py"}, files)
}

func TestWalk_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "a.py")
	f, err := NewFilter(root, nil, nil, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Walk(ctx, root, f, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
