package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/scriptfuzz/internal/grammar"
	"github.com/roach88/scriptfuzz/internal/ir"
	"github.com/roach88/scriptfuzz/internal/spec"
)

// SampleOptions holds flags for the sample command.
type SampleOptions struct {
	*RootOptions
	Count     int
	Seed      int64
	Enumerate bool
}

// NewSampleCommand creates the sample command.
func NewSampleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SampleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sample <rule>",
		Short: "Draw values from a grammar rule",
		Long: `Draw values from one grammar rule of the specification, for checking
what a parameter will receive. With --enumerate, list the words the rule
can derive within the depth budget instead, in the order the solver sees
them.

Example:
  scriptfuzz sample field_name -n 5
  scriptfuzz sample page --enumerate -n 20`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSample(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Count, "count", "n", 10, "values to draw")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 1, "seed of the first draw; later draws use seed+i")
	cmd.Flags().BoolVar(&opts.Enumerate, "enumerate", false, "enumerate instead of sampling")

	return cmd
}

func runSample(opts *SampleOptions, rule string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return fail(formatter, err)
	}
	var specOpts []spec.Option
	specOpts = append(specOpts, spec.WithLogger(logger))
	if cfg.Planner.MaxDepth > 0 {
		specOpts = append(specOpts, spec.WithMaxDepth(cfg.Planner.MaxDepth))
	}
	specs, err := spec.Load(cfg.Paths.Specs, specOpts...)
	if err != nil {
		return fail(formatter, &stageError{code: ErrCodeSpecs, msg: "failed to load specification", err: err})
	}
	engine := specs.Grammar()
	if _, ok := engine.Rule(rule); !ok {
		return formatter.Fail(ExitCommandError, ErrCodeSpecs, fmt.Sprintf("unknown grammar rule %q", rule), nil)
	}

	var values []ir.Value
	if opts.Enumerate {
		values, err = engine.Enumerate(rule, grammar.DefaultDepth, opts.Count)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeGeneric, "enumeration failed", err)
		}
	} else {
		for i := range opts.Count {
			v, err := engine.Sample(rule, opts.Seed+int64(i), grammar.DefaultDepth)
			if err != nil {
				return formatter.Fail(ExitFailure, ErrCodeGeneric, "sampling failed", err)
			}
			values = append(values, v)
		}
	}

	rendered := make([]string, len(values))
	for i, v := range values {
		data, err := ir.MarshalValue(v)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeGeneric, "encoding failed", err)
		}
		rendered[i] = string(data)
	}
	if opts.Format == "json" {
		return formatter.Success(map[string]any{"rule": rule, "values": rendered})
	}
	return formatter.Success(strings.Join(rendered, "\n"))
}
