package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/scriptfuzz/internal/campaign"
	"github.com/roach88/scriptfuzz/internal/config"
	"github.com/roach88/scriptfuzz/internal/ir"
	"github.com/roach88/scriptfuzz/internal/metrics"
	"github.com/roach88/scriptfuzz/internal/store"
)

// RunOptions holds flags for the run and generate commands. Flags that
// are set override the configuration file.
type RunOptions struct {
	*RootOptions
	Count          int
	Seed           int64
	Mode           string
	ArtifactFormat string
	GenWorkers     int
	ExecSlots      int
	MetricsAddr    string
	FailOnFindings bool

	// IDGenerator overrides the campaign ID generator (for testing).
	IDGenerator campaign.IDGenerator
	// Executors replaces the monitored target (for testing).
	Executors []campaign.Executor
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a fuzzing campaign",
		Long: `Run a fuzzing campaign against the configured target.

Each iteration plans a call sequence, assembles it into an artifact in the
corpus directory, executes the artifact under the monitor and records the
outcome in the run log and the run database. Crashes, hangs and errors are
archived with their evidence. Ctrl-C stops the campaign after the current
executions are recorded.

Example:
  scriptfuzz run --config ./scriptfuzz.yaml
  scriptfuzz run --count 100 --seed 7 --mode relation --metrics-addr :9464`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCampaign(opts, cmd, false)
		},
	}
	addCampaignFlags(cmd, opts)
	cmd.Flags().IntVar(&opts.ExecSlots, "exec-slots", 0, "parallel target executions")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on host:port")
	cmd.Flags().BoolVar(&opts.FailOnFindings, "fail-on-findings", false, "exit 1 when any crash, hang or error was found")
	return cmd
}

// NewGenerateCommand creates the generate command: a dry run that only
// writes the corpus.
func NewGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate test cases without executing them",
		Long: `Generate and assemble test cases into the corpus directory without
running the target. Every artifact is written next to a JSON sidecar holding
its call sequence, so a later "scriptfuzz replay" keeps the sequences.

Example:
  scriptfuzz generate --count 1000 --artifact js`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCampaign(opts, cmd, true)
		},
	}
	addCampaignFlags(cmd, opts)
	return cmd
}

func addCampaignFlags(cmd *cobra.Command, opts *RunOptions) {
	cmd.Flags().IntVarP(&opts.Count, "count", "n", 0, "test cases to generate (0 runs until interrupted)")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "campaign seed")
	cmd.Flags().StringVar(&opts.Mode, "mode", "", "generation mode (grammar-only|relation|relation+symbolic)")
	cmd.Flags().StringVar(&opts.ArtifactFormat, "artifact", "", "artifact format (pdf|js)")
	cmd.Flags().IntVar(&opts.GenWorkers, "gen-workers", 0, "parallel sequence generators")
}

// applyOverrides copies the flags the user set onto cfg and validates the
// result again.
func applyOverrides(cmd *cobra.Command, opts *RunOptions, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("count") {
		cfg.Campaign.Count = opts.Count
	}
	if flags.Changed("seed") {
		cfg.Campaign.Seed = opts.Seed
	}
	if flags.Changed("mode") {
		cfg.Campaign.Mode = opts.Mode
	}
	if flags.Changed("artifact") {
		cfg.Campaign.Format = opts.ArtifactFormat
	}
	if flags.Changed("gen-workers") {
		cfg.Campaign.GenWorkers = opts.GenWorkers
	}
	if flags.Lookup("exec-slots") != nil && flags.Changed("exec-slots") {
		cfg.Campaign.ExecSlots = opts.ExecSlots
	}
	if flags.Lookup("metrics-addr") != nil && flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = opts.MetricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return &stageError{code: ErrCodeConfig, msg: "invalid flags", err: err}
	}
	return nil
}

// CampaignReport is the output of run, generate and replay.
type CampaignReport struct {
	CampaignID  string               `json:"campaign_id"`
	Generated   int64                `json:"generated"`
	GenFailures int64                `json:"gen_failures"`
	Executed    int64                `json:"executed"`
	Outcomes    map[ir.Outcome]int64 `json:"outcomes"`
	Duration    string               `json:"duration"`
	Stopped     bool                 `json:"stopped"`
}

func newCampaignReport(s campaign.Summary) CampaignReport {
	return CampaignReport{
		CampaignID:  s.CampaignID,
		Generated:   s.Generated,
		GenFailures: s.GenFailures,
		Executed:    s.Executed,
		Outcomes:    s.Counts,
		Duration:    s.Duration.String(),
		Stopped:     s.Stopped,
	}
}

func (r CampaignReport) findings() int64 {
	return r.Outcomes[ir.OutcomeCrash] + r.Outcomes[ir.OutcomeHang] + r.Outcomes[ir.OutcomeError]
}

func (r CampaignReport) String() string {
	s := fmt.Sprintf("Campaign %s\n  generated: %d (%d failed)\n  executed:  %d\n",
		r.CampaignID, r.Generated, r.GenFailures, r.Executed)
	for _, o := range ir.Outcomes {
		if n := r.Outcomes[o]; n > 0 {
			s += fmt.Sprintf("  %-15s %d\n", string(o)+":", n)
		}
	}
	s += "  duration:  " + r.Duration
	if r.Stopped {
		s += " (interrupted)"
	}
	return s
}

func runCampaign(opts *RunOptions, cmd *cobra.Command, dry bool) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return fail(formatter, err)
	}
	if dry {
		cfg.Campaign.Dry = true
	}
	if err := applyOverrides(cmd, opts, &cfg); err != nil {
		return fail(formatter, err)
	}

	p, err := loadPipeline(cfg, logger)
	if err != nil {
		return fail(formatter, err)
	}

	var execs []campaign.Executor
	if !cfg.Campaign.Dry {
		execs = opts.Executors
		if execs == nil {
			if execs, err = executors(cfg, logger); err != nil {
				return fail(formatter, err)
			}
		}
	}

	var st *store.Store
	if cfg.Paths.DB != "" {
		st, err = store.Open(cfg.Paths.DB)
		if err != nil {
			return fail(formatter, &stageError{code: ErrCodeStore, msg: "failed to open run database", err: err})
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
	}

	var m *metrics.Metrics
	if cfg.Metrics.Addr != "" {
		m = metrics.New()
	}
	campOpts := []campaign.Option{
		campaign.WithExecutors(execs...),
		campaign.WithMetrics(m),
		campaign.WithLogger(logger),
	}
	if st != nil {
		campOpts = append(campOpts, campaign.WithStore(st))
	}
	if opts.IDGenerator != nil {
		campOpts = append(campOpts, campaign.WithIDGenerator(opts.IDGenerator))
	}
	c, err := campaign.New(campaignConfig(cfg), p.planner, p.assembler, campOpts...)
	if err != nil {
		return fail(formatter, &stageError{code: ErrCodeConfig, msg: "invalid campaign", err: err})
	}

	ctx, cancel := signalContext(cmd, logger)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	if m != nil {
		g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Addr, m, logger) })
	}

	var summary campaign.Summary
	g.Go(func() error {
		// The metrics server stops with the campaign.
		defer cancel()
		var runErr error
		summary, runErr = c.Run(gctx)
		return runErr
	})
	if err := g.Wait(); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "campaign failed", err)
	}

	report := newCampaignReport(summary)
	if err := formatter.Success(report); err != nil {
		return err
	}
	if opts.FailOnFindings && report.findings() > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d finding(s)", report.findings()))
	}
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM, or when the command's
// own context is done.
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping campaign", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
