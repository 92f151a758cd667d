package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/scriptfuzz/internal/campaign"
)

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	*RootOptions
	Index  int
	Seed   int64
	Mode   string
	Length int
	Script bool
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the call sequence of one test case",
		Long: `Plan a single test case exactly as a campaign with the same seed would
and print its call sequence as JSON, or with --script the JavaScript the
assembler embeds. Nothing is written to the corpus.

Example:
  scriptfuzz plan --index 1234 --seed 7
  scriptfuzz plan --index 3 --length 20 --script`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Index, "index", 1, "test case index within the campaign")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "campaign seed (default from config)")
	cmd.Flags().StringVar(&opts.Mode, "mode", "", "force a generation mode instead of the campaign's draw")
	cmd.Flags().IntVar(&opts.Length, "length", 0, "calls per sequence (default from config)")
	cmd.Flags().BoolVar(&opts.Script, "script", false, "print the assembled script instead of the sequence")

	return cmd
}

func runPlan(opts *PlanOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Verbose {
		logger = newLogger(opts.RootOptions, cmd.ErrOrStderr())
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return fail(formatter, err)
	}
	if cmd.Flags().Changed("seed") {
		cfg.Campaign.Seed = opts.Seed
	}
	if opts.Length > 0 {
		cfg.Campaign.Length = opts.Length
	}
	if opts.Mode != "" {
		cfg.Campaign.Mode = opts.Mode
	}
	if err := cfg.Validate(); err != nil {
		return fail(formatter, &stageError{code: ErrCodeConfig, msg: "invalid flags", err: err})
	}

	p, err := loadPipeline(cfg, logger)
	if err != nil {
		return fail(formatter, err)
	}

	// A dry campaign decides the mode the way a real one does.
	ccfg := campaignConfig(cfg)
	ccfg.Dry = true
	if opts.Mode != "" {
		ccfg.GrammarOnlyRatio = 0
	}
	c, err := campaign.New(ccfg, p.planner, p.assembler)
	if err != nil {
		return fail(formatter, &stageError{code: ErrCodeConfig, msg: "invalid campaign", err: err})
	}
	seed := campaign.TestSeed(cfg.Campaign.Seed, opts.Index)
	mode := c.ModeFor(seed)

	tc, err := p.planner.Plan(cmd.Context(), opts.Index, seed, mode)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "planning failed", err)
	}
	formatter.VerboseLog("Planned %s (%s): %d call(s), %d fallback(s), %d dropped", tc.ID, mode, len(tc.Calls), tc.Fallbacks, tc.Dropped)

	if opts.Script {
		script, err := p.assembler.Script(tc.Calls)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeGeneric, "assembly failed", err)
		}
		if opts.Format == "json" {
			return formatter.Success(map[string]string{"id": tc.ID, "script": script})
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), script)
		return err
	}

	if opts.Format == "json" {
		return formatter.Success(tc)
	}
	data, err := json.MarshalIndent(tc, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
