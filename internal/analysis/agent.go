package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/joshharrison/lantern/internal/llm"
	"github.com/joshharrison/lantern/internal/planner"
	"github.com/joshharrison/lantern/internal/ui"
)

// DefaultAgentCommand is the coding agent CLI used when none is configured.
const DefaultAgentCommand = "claude"

// AgentConfig configures an Agent.
type AgentConfig struct {
	Command string
	Dir     string
	LogDir  string
	Stream  io.Writer
	Mu      *sync.Mutex
}

// Agent is a Provider backed by a coding agent CLI that emits stream-json.
// The agent reads the repository itself from Dir.
type Agent struct {
	cfg AgentConfig
}

// NewAgent returns an Agent for cfg.
func NewAgent(cfg AgentConfig) *Agent {
	if cfg.Command == "" {
		cfg.Command = DefaultAgentCommand
	}
	if cfg.Mu == nil {
		cfg.Mu = &sync.Mutex{}
	}
	return &Agent{cfg: cfg}
}

func (a *Agent) Name() string { return "agent:" + a.cfg.Command }

// Complete runs the agent once and returns the text of its result event.
func (a *Agent) Complete(ctx context.Context, req llm.Request) (string, error) {
	args := []string{
		"-p", req.Prompt,
		"--output-format", "stream-json",
		"--verbose",
		"--allowedTools", "Read,Glob,Grep",
	}
	if req.System != "" {
		args = append(args, "--append-system-prompt", req.System)
	}

	cmd := exec.CommandContext(ctx, a.cfg.Command, args...)
	cmd.Dir = a.cfg.Dir

	label := req.Label
	if label == "" {
		label = "agent"
	}
	collector := &resultCollector{}
	writers := []io.Writer{collector}
	if a.cfg.LogDir != "" {
		if err := os.MkdirAll(a.cfg.LogDir, 0755); err != nil {
			return "", fmt.Errorf("create log dir: %w", err)
		}
		logFile, err := os.Create(filepath.Join(a.cfg.LogDir, label+".log"))
		if err != nil {
			return "", fmt.Errorf("create log file: %w", err)
		}
		defer logFile.Close()
		writers = append(writers, logFile)
	}
	if a.cfg.Stream != nil {
		writers = append(writers, ui.NewStreamFormatter(label, a.cfg.Stream, a.cfg.Mu))
	}
	var stderr bytes.Buffer
	cmd.Stdout = io.MultiWriter(writers...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("agent exited with code %d: %s", exitErr.ExitCode(), bytes.TrimSpace(stderr.Bytes()))
		}
		return "", fmt.Errorf("run agent: %w", err)
	}
	text, err := collector.Result()
	if err != nil {
		return "", err
	}
	if collector.usage.Exists() {
		u := collector.usage
		req.ReportUsage(
			u.Get("input_tokens").Int()+u.Get("cache_creation_input_tokens").Int()+u.Get("cache_read_input_tokens").Int(),
			u.Get("output_tokens").Int())
	}
	return text, nil
}

// resultCollector scans stream-json lines for the final result event.
type resultCollector struct {
	buf     []byte
	result  string
	isError bool
	seen    bool
	usage   gjson.Result
}

func (c *resultCollector) Write(p []byte) (int, error) {
	c.buf = append(c.buf, p...)
	for {
		idx := bytes.IndexByte(c.buf, '\n')
		if idx < 0 {
			break
		}
		c.line(c.buf[:idx])
		c.buf = c.buf[idx+1:]
	}
	return len(p), nil
}

func (c *resultCollector) line(line []byte) {
	if !gjson.ValidBytes(line) {
		return
	}
	if gjson.GetBytes(line, "type").String() != "result" {
		return
	}
	c.seen = true
	c.result = gjson.GetBytes(line, "result").String()
	c.isError = gjson.GetBytes(line, "is_error").Bool()
	c.usage = gjson.GetBytes(line, "usage")
}

// Result returns the collected result text.
func (c *resultCollector) Result() (string, error) {
	if len(c.buf) > 0 {
		c.line(c.buf)
		c.buf = nil
	}
	switch {
	case !c.seen:
		return "", errors.New("agent produced no result")
	case c.isError:
		return "", fmt.Errorf("agent reported an error: %s", c.result)
	}
	return c.result, nil
}

// AgentAnalyzer lets the agent read the batch files itself.
type AgentAnalyzer struct {
	provider llm.Provider
	cfg      Config
}

func (a *AgentAnalyzer) AnalyzeBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	prompt, err := planner.RenderPrompt(promptData(a.cfg, req), a.cfg.PromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}
	text, err := a.provider.Complete(ctx, llm.Request{
		Label:  fmt.Sprintf("batch-%04d", req.BatchID),
		System: analystSystem,
		Prompt: prompt + batchResponseFormat,
	})
	if err != nil {
		return nil, err
	}
	return parseBatchResponse(text, req.BatchID, req.Files)
}
