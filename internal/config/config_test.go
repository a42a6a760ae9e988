package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	l := &Loader{UserPath: filepath.Join(dir, "none.toml"), ProjectPath: filepath.Join(dir, "also-none.toml")}

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	user := filepath.Join(dir, "user", FileName)
	project := filepath.Join(dir, "repo", ".lantern", FileName)

	writeFile(t, user, `
[lantern]
language = "zh-TW"
max_parallel = 8
batch_timeout = "2m"

[backend]
provider = "openai"
model = "gpt-4o"
`)
	writeFile(t, project, `
[lantern]
max_parallel = 2

[filter]
exclude = ["vendor/**"]

[backend]
model = "gpt-4o-mini"
`)

	cfg, err := (&Loader{UserPath: user, ProjectPath: project}).Load()
	require.NoError(t, err)

	assert.Equal(t, "zh-TW", cfg.Lantern.Language)
	assert.Equal(t, 2, cfg.Lantern.MaxParallel)
	assert.Equal(t, 2*time.Minute, cfg.Lantern.BatchTimeout.Duration)
	assert.Equal(t, 3, cfg.Lantern.MaxBatchSize)
	assert.Equal(t, []string{"vendor/**"}, cfg.Filter.Exclude)
	assert.Equal(t, "openai", cfg.Backend.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.Backend.Model)

	s := cfg.LLMSettings()
	assert.Equal(t, "openai", s.Provider)
	assert.Equal(t, 60, s.RateLimit)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.toml")
	writeFile(t, bad, "[lantern\n")
	_, err := (&Loader{ProjectPath: bad}).Load()
	assert.ErrorContains(t, err, "parsing config")

	invalid := filepath.Join(dir, "invalid.toml")
	writeFile(t, invalid, "[lantern]\non_large_change = \"panic\"\n")
	_, err = (&Loader{ProjectPath: invalid}).Load()
	assert.ErrorContains(t, err, "on_large_change")

	duration := filepath.Join(dir, "duration.toml")
	writeFile(t, duration, "[lantern]\nbatch_timeout = \"soon\"\n")
	_, err = (&Loader{ProjectPath: duration}).Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"batch size", func(c *Config) { c.Lantern.MaxBatchSize = 0 }, "max_batch_size"},
		{"parallel", func(c *Config) { c.Lantern.MaxParallel = -1 }, "max_parallel"},
		{"timeout", func(c *Config) { c.Lantern.BatchTimeout.Duration = 0 }, "batch_timeout"},
		{"threshold", func(c *Config) { c.Lantern.QualityThreshold = 1.5 }, "quality_threshold"},
		{"vcs", func(c *Config) { c.Lantern.VCSBackend = "hg" }, "vcs_backend"},
		{"backend", func(c *Config) { c.Backend.Type = "api" }, "backend.type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, ".env")
	writeFile(t, env, "LANTERN_TEST_FROM_DOTENV=yes\nLANTERN_TEST_PRESET=fromfile\n")
	t.Setenv("LANTERN_TEST_PRESET", "fromenv")
	t.Setenv("LANTERN_TEST_FROM_DOTENV", "")
	os.Unsetenv("LANTERN_TEST_FROM_DOTENV")

	_, err := (&Loader{EnvPath: env}).Load()
	require.NoError(t, err)
	assert.Equal(t, "yes", os.Getenv("LANTERN_TEST_FROM_DOTENV"))
	assert.Equal(t, "fromenv", os.Getenv("LANTERN_TEST_PRESET"))
}

func TestOutputPath(t *testing.T) {
	cfg := Default()
	assert.Equal(t, filepath.Join("/repo", ".lantern"), cfg.OutputPath("/repo"))
	cfg.Lantern.OutputDir = "/var/out"
	assert.Equal(t, "/var/out", cfg.OutputPath("/repo"))
}

func TestWriteDefault(t *testing.T) {
	repo := t.TempDir()
	path := ProjectPath(repo)

	require.NoError(t, WriteDefault(path, false))
	assert.ErrorIs(t, WriteDefault(path, false), ErrExists)
	require.NoError(t, WriteDefault(path, true))

	cfg, err := (&Loader{ProjectPath: path}).Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/**", "**/testdata/**"}, cfg.Filter.Exclude)
	assert.Equal(t, 10*time.Minute, cfg.Lantern.BatchTimeout.Duration)
	assert.Equal(t, OnLargeChangeFull, cfg.Lantern.OnLargeChange)
}
