// Package config loads lantern's TOML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/joshharrison/lantern/internal/llm"
)

// FileName is the config file name in both the user and project locations.
const FileName = "lantern.toml"

// Large change policies.
const (
	OnLargeChangeFull        = "full"
	OnLargeChangeIncremental = "incremental"
	OnLargeChangeAbort       = "abort"
)

// Config is the merged configuration.
type Config struct {
	Lantern LanternConfig `toml:"lantern"`
	Filter  FilterConfig  `toml:"filter"`
	Backend BackendConfig `toml:"backend"`
}

type LanternConfig struct {
	Language         string   `toml:"language"`
	OutputDir        string   `toml:"output_dir"`
	MaxBatchSize     int      `toml:"max_batch_size"`
	MaxParallel      int      `toml:"max_parallel"`
	BatchTimeout     Duration `toml:"batch_timeout"`
	MaxSummaryLength int      `toml:"max_summary_length"`
	OnLargeChange    string   `toml:"on_large_change"`
	VCSBackend       string   `toml:"vcs_backend"`
	PromptTemplate   string   `toml:"prompt_template"`
	QualityThreshold float64  `toml:"quality_threshold"`
	MaxRefinements   int      `toml:"max_refinements"`
}

type FilterConfig struct {
	Include []string `toml:"include"`
	Exclude []string `toml:"exclude"`
}

type BackendConfig struct {
	Type            string `toml:"type"` // structured or agent
	Provider        string `toml:"provider"`
	Model           string `toml:"model"`
	APIKeyEnv       string `toml:"api_key_env"`
	BaseURL         string `toml:"base_url"`
	CLICommand      string `toml:"cli_command"`
	RateLimit       int    `toml:"rate_limit"` // requests per minute
	MaxOutputTokens int    `toml:"max_output_tokens"`
}

// Duration is a time.Duration written as a string such as "10m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Lantern: LanternConfig{
			Language:         "en",
			OutputDir:        ".lantern",
			MaxBatchSize:     3,
			MaxParallel:      4,
			BatchTimeout:     Duration{10 * time.Minute},
			MaxSummaryLength: 3000,
			OnLargeChange:    OnLargeChangeFull,
			VCSBackend:       "gogit",
			QualityThreshold: 0.8,
			MaxRefinements:   3,
		},
		Backend: BackendConfig{
			Type:      "structured",
			Provider:  llm.ProviderAnthropic,
			RateLimit: 60,
		},
	}
}

// UserPath returns ~/.config/lantern/lantern.toml.
func UserPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "lantern", FileName)
}

// ProjectPath returns <repo>/.lantern/lantern.toml.
func ProjectPath(repo string) string {
	return filepath.Join(repo, ".lantern", FileName)
}

// Loader merges the user and project config files over the defaults.
type Loader struct {
	UserPath    string
	ProjectPath string
	EnvPath     string
}

// NewLoader returns a Loader for the repository at repo.
func NewLoader(repo string) *Loader {
	return &Loader{
		UserPath:    UserPath(),
		ProjectPath: ProjectPath(repo),
		EnvPath:     filepath.Join(repo, ".env"),
	}
}

// Load returns the merged config. Later files override only the keys they
// set. Variables from the .env file never override the environment.
func (l *Loader) Load() (*Config, error) {
	if l.EnvPath != "" {
		if err := godotenv.Load(l.EnvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", l.EnvPath, err)
		}
	}

	cfg := Default()
	for _, path := range []string{l.UserPath, l.ProjectPath} {
		if path == "" {
			continue
		}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	return cfg, cfg.Validate()
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Lantern.MaxBatchSize <= 0:
		return fmt.Errorf("lantern.max_batch_size must be positive, got %d", c.Lantern.MaxBatchSize)
	case c.Lantern.MaxParallel <= 0:
		return fmt.Errorf("lantern.max_parallel must be positive, got %d", c.Lantern.MaxParallel)
	case c.Lantern.BatchTimeout.Duration <= 0:
		return fmt.Errorf("lantern.batch_timeout must be positive")
	case c.Lantern.QualityThreshold < 0 || c.Lantern.QualityThreshold > 1:
		return fmt.Errorf("lantern.quality_threshold must be within [0, 1], got %g", c.Lantern.QualityThreshold)
	case c.Lantern.MaxRefinements < 0:
		return fmt.Errorf("lantern.max_refinements must not be negative")
	}
	switch c.Lantern.OnLargeChange {
	case OnLargeChangeFull, OnLargeChangeIncremental, OnLargeChangeAbort:
	default:
		return fmt.Errorf("lantern.on_large_change must be full, incremental or abort, got %q", c.Lantern.OnLargeChange)
	}
	switch c.Lantern.VCSBackend {
	case "gogit", "cli":
	default:
		return fmt.Errorf("lantern.vcs_backend must be gogit or cli, got %q", c.Lantern.VCSBackend)
	}
	switch c.Backend.Type {
	case "structured", "agent":
	default:
		return fmt.Errorf("backend.type must be structured or agent, got %q", c.Backend.Type)
	}
	return nil
}

// OutputPath resolves the output directory against repo.
func (c *Config) OutputPath(repo string) string {
	dir := c.Lantern.OutputDir
	if strings.HasPrefix(dir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, dir[2:])
		}
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(repo, dir)
}

// LLMSettings returns the provider settings of the [backend] section.
func (c *Config) LLMSettings() llm.Settings {
	return llm.Settings{
		Provider:  c.Backend.Provider,
		Model:     c.Backend.Model,
		APIKeyEnv: c.Backend.APIKeyEnv,
		BaseURL:   c.Backend.BaseURL,
		RateLimit: c.Backend.RateLimit,
		MaxTokens: c.Backend.MaxOutputTokens,
	}
}
