package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrExists is returned by WriteDefault when the file is already there.
var ErrExists = errors.New("config already exists")

const defaultTOML = `# Lantern configuration.
# Values here override ~/.config/lantern/lantern.toml; command-line flags override both.

[lantern]
language = "en"
output_dir = ".lantern"
max_batch_size = 3
max_parallel = 4
batch_timeout = "10m"
max_summary_length = 3000
# What an update does when more than half of the analyzed files changed:
# "full" re-analyzes everything, "incremental" proceeds, "abort" stops.
on_large_change = "full"
# "gogit" (built in) or "cli" (shells out to git).
vcs_backend = "gogit"
# prompt_template = ".lantern/prompt.tmpl"
quality_threshold = 0.8
max_refinements = 3

[filter]
# Include patterns win over exclude patterns and .gitignore.
include = []
exclude = ["docs/**", "**/testdata/**"]

[backend]
# "structured" sends file contents to a completion API.
# "agent" runs a coding agent CLI that reads the repository itself.
type = "structured"
# anthropic, openai, ollama, openrouter or gemini
provider = "anthropic"
# model = "claude-sonnet-4-6"
# api_key_env = "ANTHROPIC_API_KEY"
# base_url = "http://localhost:11434/v1"
# cli_command = "claude"
rate_limit = 60
# max_output_tokens = 8192
`

// WriteDefault writes a commented default config to path.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultTOML), 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
