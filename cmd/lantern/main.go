package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/joshharrison/lantern/internal/analysis"
	"github.com/joshharrison/lantern/internal/config"
	"github.com/joshharrison/lantern/internal/llm"
	"github.com/joshharrison/lantern/internal/orchestrator"
	"github.com/joshharrison/lantern/internal/planner"
	"github.com/joshharrison/lantern/internal/records"
	"github.com/joshharrison/lantern/internal/reporter"
	"github.com/joshharrison/lantern/internal/state"
	"github.com/joshharrison/lantern/internal/ui"
	"github.com/joshharrison/lantern/internal/vcs"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	flagRepo        string
	flagJSON        bool
	flagVerbose     bool
	flagQuiet       bool
	flagMetricsAddr string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lantern",
		Short: "Incremental repository analysis with LLM backends",
		Long: `Lantern scans a repository, orders its files by their import
dependencies, and analyzes them in batches with an LLM backend. Progress is
checkpointed so interrupted runs resume, and later runs only re-analyze what
changed since the last analyzed commit.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flagRepo, "repo", "C", ".", "Repository to analyze")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Machine-readable JSON output")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Only log warnings and suppress agent output")
	rootCmd.PersistentFlags().StringVar(&flagMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(updateCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(cleanCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch {
	case flagVerbose:
		level = slog.LevelDebug
	case flagQuiet:
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// signalContext is cancelled on the first SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintf(os.Stderr, "\n🛑 %s\n", ui.Yellow("Received interrupt, stopping after a checkpoint..."))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func serveMetrics(logger *slog.Logger) {
	if flagMetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: flagMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "addr", flagMetricsAddr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", flagMetricsAddr)
}

// project is the resolved repository, configuration and output directory.
type project struct {
	repo   string
	cfg    *config.Config
	outDir string
}

// repoArg lets the repository be given as the single positional argument.
func repoArg(args []string) {
	if len(args) > 0 {
		flagRepo = args[0]
	}
}

func loadProject() (*project, error) {
	repo, err := filepath.Abs(flagRepo)
	if err != nil {
		return nil, fmt.Errorf("resolve repo path: %w", err)
	}
	cfg, err := config.NewLoader(repo).Load()
	if err != nil {
		return nil, err
	}
	return &project{repo: repo, cfg: cfg, outDir: cfg.OutputPath(repo)}, nil
}

// runOptions are the flags shared by run, update and plan.
type runOptions struct {
	maxParallel   int
	batchSize     int
	timeout       time.Duration
	backend       string
	provider      string
	model         string
	language      string
	onLargeChange string
	sequential    bool
	fresh         bool
	review        bool
	approve       bool
}

func (o *runOptions) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVar(&o.maxParallel, "max-parallel", 0, "Max concurrent batches")
	f.IntVar(&o.batchSize, "batch-size", 0, "Max files per batch")
	f.DurationVar(&o.timeout, "timeout", 0, "Per-batch timeout")
	f.StringVar(&o.backend, "backend", "", "Analysis backend: structured or agent")
	f.StringVar(&o.provider, "provider", "", "LLM provider: anthropic, openai, ollama, openrouter or gemini")
	f.StringVar(&o.model, "model", "", "Model name")
	f.StringVar(&o.language, "language", "", "Language of the generated documents")
	f.StringVar(&o.onLargeChange, "on-large-change", "", "Large change policy: full, incremental or abort")
	f.BoolVar(&o.sequential, "sequential", false, "Run batches one at a time in id order")
	f.BoolVar(&o.fresh, "fresh", false, "Ignore the checkpoint and start a new run")
	f.BoolVar(&o.review, "review", false, "Stop for plan review before executing")
	f.BoolVar(&o.approve, "approve", false, "Approve the plan awaiting review")
}

// apply overrides config values with the flags the user set.
func (o *runOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("max-parallel") {
		cfg.Lantern.MaxParallel = o.maxParallel
	}
	if f.Changed("batch-size") {
		cfg.Lantern.MaxBatchSize = o.batchSize
	}
	if f.Changed("timeout") {
		cfg.Lantern.BatchTimeout = config.Duration{Duration: o.timeout}
	}
	if f.Changed("backend") {
		cfg.Backend.Type = o.backend
	}
	if f.Changed("provider") {
		cfg.Backend.Provider = o.provider
	}
	if f.Changed("model") {
		cfg.Backend.Model = o.model
	}
	if f.Changed("language") {
		cfg.Lantern.Language = o.language
	}
	if f.Changed("on-large-change") {
		cfg.Lantern.OnLargeChange = o.onLargeChange
	}
	return cfg.Validate()
}

func (o *runOptions) reviewer() orchestrator.Reviewer {
	switch {
	case o.approve:
		return orchestrator.Gate{Approved: true}
	case o.review && isatty.IsTerminal(os.Stdin.Fd()):
		return orchestrator.NewPrompt(os.Stdin, os.Stderr)
	case o.review:
		return orchestrator.Gate{}
	default:
		return orchestrator.AutoApprove{}
	}
}

func runCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run [repo]",
		Args:  cobra.MaximumNArgs(1),
		Short: "Analyze the whole repository, resuming an interrupted run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return analyze(cmd, args, &opts, planner.ModeFull, false)
		},
	}
	opts.register(cmd)
	return cmd
}

func updateCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "update [repo]",
		Args:  cobra.MaximumNArgs(1),
		Short: "Re-analyze only what changed since the last analyzed commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return analyze(cmd, args, &opts, planner.ModeIncremental, false)
		},
	}
	opts.register(cmd)
	return cmd
}

func planCmd() *cobra.Command {
	var (
		opts        runOptions
		incremental bool
	)
	cmd := &cobra.Command{
		Use:   "plan [repo]",
		Args:  cobra.MaximumNArgs(1),
		Short: "Write the analysis plan without executing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := planner.ModeFull
			if incremental {
				mode = planner.ModeIncremental
			}
			return analyze(cmd, args, &opts, mode, true)
		},
	}
	opts.register(cmd)
	cmd.Flags().BoolVar(&incremental, "incremental", false, "Plan only the changes since the last analyzed commit")
	return cmd
}

// analyze wires the stores and collaborators and drives one orchestrator run.
func analyze(cmd *cobra.Command, args []string, opts *runOptions, mode planner.Mode, planOnly bool) error {
	repoArg(args)
	logger := newLogger()
	p, err := loadProject()
	if err != nil {
		return err
	}
	if err := opts.apply(cmd, p.cfg); err != nil {
		return err
	}
	cfg := p.cfg

	ctx, cancel := signalContext()
	defer cancel()
	serveMetrics(logger)

	if !flagJSON && !flagQuiet {
		ui.PrintBanner(os.Stderr)
	}

	acfg := analysis.Config{
		Backend:        cfg.Backend.Type,
		LLM:            cfg.LLMSettings(),
		CLICommand:     cfg.Backend.CLICommand,
		RepoPath:       p.repo,
		OutputDir:      p.outDir,
		Language:       cfg.Lantern.Language,
		PromptTemplate: cfg.Lantern.PromptTemplate,
		Logger:         logger,
	}
	if !flagQuiet {
		acfg.Stream = os.Stderr
	}
	collab, err := analysis.New(ctx, acfg)
	if err != nil {
		return err
	}

	store, err := state.Open(p.outDir,
		state.WithLogger(logger),
		state.WithMaxSummaryLength(cfg.Lantern.MaxSummaryLength),
		state.WithCompressor(collab.Compressor),
	)
	if err != nil {
		return err
	}
	recs, err := records.Open(p.outDir)
	if err != nil {
		return err
	}
	defer recs.Close()

	var repo vcs.Repository
	r, err := vcs.Open(p.repo, vcs.Backend(cfg.Lantern.VCSBackend))
	switch {
	case errors.Is(err, vcs.ErrNotRepository):
		logger.Warn("not a git repository, commits will not be tracked", "repo", p.repo)
	case err != nil:
		return err
	default:
		repo = r
	}

	orch := orchestrator.New(orchestrator.Config{
		RepoPath:         p.repo,
		OutputDir:        p.outDir,
		Mode:             mode,
		Include:          cfg.Filter.Include,
		Exclude:          cfg.Filter.Exclude,
		MaxBatchSize:     cfg.Lantern.MaxBatchSize,
		MaxParallel:      cfg.Lantern.MaxParallel,
		Sequential:       opts.sequential,
		BatchTimeout:     cfg.Lantern.BatchTimeout.Duration,
		OnLargeChange:    cfg.Lantern.OnLargeChange,
		QualityThreshold: cfg.Lantern.QualityThreshold,
		MaxRefinements:   cfg.Lantern.MaxRefinements,
		PlanOnly:         planOnly,
		Fresh:            opts.fresh,
	}, orchestrator.Deps{
		Store:       store,
		Records:     recs,
		Analyzer:    collab.Analyzer,
		Synthesizer: collab.Synthesizer,
		Repo:        repo,
		Reviewer:    opts.reviewer(),
		Usage:       collab.Meter,
		Logger:      logger,
		Out:         os.Stderr,
	})

	report, err := orch.Run(ctx)
	if errors.Is(err, orchestrator.ErrAwaitingReview) {
		fmt.Fprintf(os.Stderr, "Edit %s if needed, then run %s to continue.\n",
			filepath.Join(p.outDir, orchestrator.PlanFile), ui.Bold("lantern "+cmd.Name()+" --approve"))
	}
	if orchestrator.IsFatal(err) {
		return err
	}

	if flagJSON {
		return outputJSON(reportJSON(report))
	}
	if report.Stage == orchestrator.StageDone && !report.UpToDate {
		rpt := reporter.New(report.Plan, store.Snapshot())
		rpt.LogDir = filepath.Join(p.outDir, "logs")
		fmt.Println(rpt.Summary())
	}
	return nil
}

type runReport struct {
	RunID        string            `json:"run_id"`
	Mode         string            `json:"mode"`
	Stage        string            `json:"stage"`
	PlanID       string            `json:"plan_id,omitempty"`
	Executed     []int             `json:"executed"`
	Failed       []int             `json:"failed"`
	Removed      []string          `json:"removed,omitempty"`
	Relabeled    map[string]string `json:"relabeled,omitempty"`
	UpToDate     bool              `json:"up_to_date"`
	QualityScore float64           `json:"quality_score"`
	Iterations   int               `json:"iterations"`
	Commit       string            `json:"commit,omitempty"`
	Duration     string            `json:"duration"`
	Usage        llm.Usage         `json:"usage"`
	CostUSD      float64           `json:"cost_usd"`
}

func reportJSON(r *orchestrator.Report) runReport {
	out := runReport{
		RunID:        r.RunID,
		Mode:         string(r.Mode),
		Stage:        string(r.Stage),
		Executed:     r.Executed,
		Failed:       r.Failed,
		Removed:      r.Removed,
		Relabeled:    r.Relabeled,
		UpToDate:     r.UpToDate,
		QualityScore: r.QualityScore,
		Iterations:   r.Iterations,
		Commit:       r.Commit,
		Duration:     r.Duration.Truncate(time.Millisecond).String(),
		Usage:        r.Usage,
		CostUSD:      r.Cost,
	}
	if r.Plan != nil {
		out.PlanID = r.Plan.ID
	}
	return out
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [repo]",
		Args:  cobra.MaximumNArgs(1),
		Short: "Show the checkpoint and batch progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			repoArg(args)
			p, err := loadProject()
			if err != nil {
				return err
			}
			if !state.Exists(p.outDir) {
				return fmt.Errorf("no lantern state in %s; run `lantern run` first", p.outDir)
			}
			store, err := state.Open(p.outDir)
			if err != nil {
				return err
			}

			plan, err := planner.LoadYAML(filepath.Join(p.outDir, orchestrator.PlanFile))
			if err != nil {
				plan = nil
			}
			rpt := reporter.New(plan, store.Snapshot())
			rpt.LogDir = filepath.Join(p.outDir, "logs")

			if flagJSON {
				data, err := rpt.JSON()
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}
			rpt.PrintStatus(os.Stdout)
			return nil
		},
	}
}

func cleanCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "clean [repo]",
		Args:  cobra.MaximumNArgs(1),
		Short: "Remove the state, records and generated documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			repoArg(args)
			p, err := loadProject()
			if err != nil {
				return err
			}
			keep := []string{config.FileName}
			if all {
				keep = nil
			}
			if err := state.Clean(p.outDir, keep...); err != nil {
				return err
			}
			fmt.Printf("🧹 %s %s\n", ui.Green("Cleaned"), p.outDir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Also remove the project config")
	return cmd
}

func initCmd() *cobra.Command {
	var (
		user  bool
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init [repo]",
		Args:  cobra.MaximumNArgs(1),
		Short: "Write a commented default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			repoArg(args)
			path := config.UserPath()
			if !user {
				repo, err := filepath.Abs(flagRepo)
				if err != nil {
					return err
				}
				path = config.ProjectPath(repo)
			}
			if path == "" {
				return errors.New("cannot determine the user config directory")
			}
			if err := config.WriteDefault(path, force); err != nil {
				if errors.Is(err, config.ErrExists) {
					return fmt.Errorf("%w (use --force to overwrite)", err)
				}
				return err
			}
			fmt.Printf("📝 %s %s\n", ui.Green("Wrote"), path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&user, "user", false, "Write the user config instead of the project config")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("lantern", version)
		},
	}
}

func outputJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
