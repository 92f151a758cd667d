package cli

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/scriptfuzz/internal/campaign"
	"github.com/roach88/scriptfuzz/internal/metrics"
	"github.com/roach88/scriptfuzz/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Follow      bool
	Settle      time.Duration
	Extensions  []string
	ExecSlots   int
	MetricsAddr string

	// Executors replaces the monitored target (for testing).
	Executors []campaign.Executor
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	return newReplayCommand(&ReplayOptions{RootOptions: rootOpts})
}

func newReplayCommand(opts *ReplayOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay [corpus-dir]",
		Short: "Execute existing artifacts against the target",
		Long: `Execute the artifacts already in a corpus directory instead of generating
new ones. The directory defaults to the configured corpus. Artifacts with a
JSON sidecar keep their sequence and test case ID; others are identified by
the hash of their content.

With --follow, replay keeps watching the directory and executes every
artifact written to it until interrupted, so one process can generate while
another executes.

Example:
  scriptfuzz replay ./save/crash-candidates
  scriptfuzz replay --follow --exec-slots 4`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVarP(&opts.Follow, "follow", "f", false, "keep executing new artifacts until interrupted")
	cmd.Flags().DurationVar(&opts.Settle, "settle", campaign.DefaultSettle, "with --follow, quiet period before a new file runs")
	cmd.Flags().StringSliceVar(&opts.Extensions, "ext", nil, "artifact extensions to replay (default .pdf,.js)")
	cmd.Flags().IntVar(&opts.ExecSlots, "exec-slots", 0, "parallel target executions")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on host:port")

	return cmd
}

func runReplay(opts *ReplayOptions, args []string, cmd *cobra.Command) error {
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
	if cmd.Flags().Changed("exec-slots") {
		cfg.Campaign.ExecSlots = opts.ExecSlots
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Metrics.Addr = opts.MetricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return fail(formatter, &stageError{code: ErrCodeConfig, msg: "invalid flags", err: err})
	}

	dir := cfg.Paths.Corpus
	if len(args) == 1 {
		dir = args[0]
	}

	execs := opts.Executors
	if execs == nil {
		if execs, err = executors(cfg, logger); err != nil {
			return fail(formatter, err)
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

	// Replay generates nothing, so it needs neither a planner nor an
	// assembler; the corpus directory still receives the slot directories.
	ccfg := campaignConfig(cfg)
	ccfg.Count = 0
	ccfg.CorpusDir = dir
	c, err := campaign.New(ccfg, nil, nil, campOpts...)
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
		defer cancel()
		var runErr error
		summary, runErr = c.Replay(gctx, campaign.ReplayOptions{
			Dir:        dir,
			Extensions: normalizeExts(opts.Extensions),
			Follow:     opts.Follow,
			Settle:     opts.Settle,
		})
		return runErr
	})
	if err := g.Wait(); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "replay failed", err)
	}
	return formatter.Success(newCampaignReport(summary))
}

// normalizeExts accepts "pdf" as well as ".pdf".
func normalizeExts(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}
