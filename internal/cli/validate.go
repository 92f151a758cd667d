package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/scriptfuzz/internal/compiler"
	"github.com/roach88/scriptfuzz/internal/spec"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Config   string                     `json:"config"`
	Mode     string                     `json:"mode"`
	APIs     int                        `json:"apis"`
	Objects  int                        `json:"objects"`
	Weak     int                        `json:"weak_edges"`
	Strong   int                        `json:"strong_edges"`
	Skipped  int                        `json:"skipped_edges"`
	Warnings []compiler.CycleWarning    `json:"warnings,omitempty"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Notes    []string                   `json:"notes,omitempty"`
}

func (r ValidationResult) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "✓ %s is valid (%s)\n", r.Config, r.Mode)
	fmt.Fprintf(&sb, "  %d API(s) on %d object(s)", r.APIs, r.Objects)
	if r.Weak+r.Strong > 0 {
		fmt.Fprintf(&sb, ", %d weak and %d strong relationship(s)", r.Weak, r.Strong)
	}
	if r.Skipped > 0 {
		fmt.Fprintf(&sb, ", %d skipped", r.Skipped)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&sb, "\n  warning: %s", w.Message)
	}
	for _, n := range r.Notes {
		fmt.Fprintf(&sb, "\n  note: %s", n)
	}
	return sb.String()
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration, specification and relationships",
		Long: `Load everything a campaign needs without generating anything: the
configuration file, the API specification, the block and limit lists and,
in relation modes, the relationship document. Every specification error is
reported, not just the first.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Verbose {
		logger = newLogger(opts, cmd.ErrOrStderr())
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return fail(formatter, err)
	}
	formatter.VerboseLog("Loaded %s", opts.Config)

	p, err := loadPipeline(cfg, logger)
	if err != nil {
		if le, ok := spec.IsLoadError(err); ok && len(le.Details) > 0 {
			return outputValidationErrors(formatter, le.Details)
		}
		return fail(formatter, err)
	}

	result := ValidationResult{
		Valid:    true,
		Config:   opts.Config,
		Mode:     cfg.Campaign.Mode,
		APIs:     len(p.specs.Names()),
		Objects:  len(p.specs.Objects()),
		Warnings: p.specs.Warnings(),
	}
	if p.graph != nil {
		result.Weak, result.Strong, result.Skipped = p.graph.Stats()
	}
	if _, err := exec.LookPath(cfg.Target.Command[0]); err != nil {
		result.Notes = append(result.Notes, fmt.Sprintf("target command %q not found: only generate will work", cfg.Target.Command[0]))
	}
	return formatter.Success(result)
}

// outputValidationErrors reports every specification error and fails with
// ExitFailure.
func outputValidationErrors(f *OutputFormatter, errs []compiler.ValidationError) error {
	if f.Format == "json" {
		if err := f.Success(ValidationResult{Valid: false, Errors: errs}); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(f.Writer, "✗ %d validation error(s):\n", len(errs))
		for _, e := range errs {
			fmt.Fprintf(f.Writer, "  %s\n", e.Error())
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
