package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/scriptfuzz/internal/ir"
	"github.com/roach88/scriptfuzz/internal/store"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Database string
	Outcome  string // optional - filter findings to one outcome
	Sequence string // optional - print the sequence of one test case
}

// CampaignListing is one row of the campaign list.
type CampaignListing struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Mode      ir.Mode   `json:"mode"`
	Format    string    `json:"format"`
	Target    string    `json:"target"`
	Seed      int64     `json:"seed"`
}

// Finding is one archived execution.
type Finding struct {
	Seq        int64         `json:"seq"`
	TestCaseID string        `json:"test_case_id"`
	Outcome    ir.Outcome    `json:"outcome"`
	Duration   time.Duration `json:"duration_ns"`
	Evidence   string        `json:"evidence,omitempty"`
	Detail     string        `json:"detail,omitempty"`
}

// ReportResult is the report of one campaign.
type ReportResult struct {
	Campaign CampaignListing      `json:"campaign"`
	Outcomes map[ir.Outcome]int64 `json:"outcomes"`
	Findings []Finding            `json:"findings"`
}

func (r ReportResult) String() string {
	var sb strings.Builder
	c := r.Campaign
	fmt.Fprintf(&sb, "Campaign %s (%s, %s, seed %d) started %s\n", c.ID, c.Mode, c.Format, c.Seed, c.StartedAt.Format(time.RFC3339))
	for _, o := range ir.Outcomes {
		fmt.Fprintf(&sb, "  %-15s %d\n", string(o)+":", r.Outcomes[o])
	}
	if len(r.Findings) == 0 {
		sb.WriteString("No findings.")
		return sb.String()
	}
	sb.WriteString("Findings:")
	for _, f := range r.Findings {
		fmt.Fprintf(&sb, "\n  [%d] %-5s %s %s", f.Seq, f.Outcome, f.TestCaseID, f.Evidence)
		if f.Detail != "" {
			fmt.Fprintf(&sb, " (%s)", f.Detail)
		}
	}
	return sb.String()
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report [campaign-id]",
		Short: "Summarise campaigns recorded in the run database",
		Long: `Query the run database. Without an argument, list every recorded
campaign. With a campaign ID, print its outcome counts and its findings:
every crash, hang and error with the location of its evidence.

Examples:
  scriptfuzz report
  scriptfuzz report 0192f6c1-7d3e-7c4a-9b1e-2f0c7d9a1b2c --outcome crash
  scriptfuzz report 0192f6c1-7d3e-7c4a-9b1e-2f0c7d9a1b2c --sequence <test-case-id>`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the run database (default from config)")
	cmd.Flags().StringVar(&opts.Outcome, "outcome", "", "only findings with this outcome")
	cmd.Flags().StringVar(&opts.Sequence, "sequence", "", "print the stored sequence of one test case")

	return cmd
}

func runReport(opts *ReportOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	dbPath := opts.Database
	if dbPath == "" {
		cfg, err := loadConfig(opts.RootOptions)
		if err != nil {
			return fail(formatter, err)
		}
		dbPath = cfg.Paths.DB
	}
	if dbPath == "" {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "no run database configured", nil)
	}
	outcome := ir.Outcome(opts.Outcome)
	if outcome != "" && !outcome.Archived() {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("--outcome must be crash, hang or error, got %q", opts.Outcome), nil)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()

	if len(args) == 0 {
		campaigns, err := st.ListCampaigns(ctx)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to list campaigns", err)
		}
		listings := make([]CampaignListing, len(campaigns))
		for i, c := range campaigns {
			listings[i] = listing(c)
		}
		if opts.Format == "json" {
			return formatter.Success(listings)
		}
		if len(listings) == 0 {
			return formatter.Success("No campaigns recorded.")
		}
		var sb strings.Builder
		for i, l := range listings {
			if i > 0 {
				sb.WriteByte('\n')
			}
			fmt.Fprintf(&sb, "%s  %s  %-18s %-6s %s", l.ID, l.StartedAt.Format(time.RFC3339), l.Mode, l.Format, l.Target)
		}
		return formatter.Success(sb.String())
	}

	id := args[0]
	c, err := st.ReadCampaign(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return formatter.Fail(ExitFailure, ErrCodeStore, fmt.Sprintf("campaign %s not found", id), nil)
	}
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read campaign", err)
	}

	if opts.Sequence != "" {
		tc, err := st.ReadTestCase(ctx, id, opts.Sequence)
		if errors.Is(err, store.ErrNotFound) {
			return formatter.Fail(ExitFailure, ErrCodeStore, fmt.Sprintf("test case %s not found", opts.Sequence), nil)
		}
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read test case", err)
		}
		if opts.Format == "json" {
			return formatter.Success(tc.TestCase)
		}
		data, err := json.MarshalIndent(tc.TestCase, "", "  ")
		if err != nil {
			return err
		}
		return formatter.Success(fmt.Sprintf("artifact: %s\n%s", tc.Artifact, data))
	}

	counts, err := st.OutcomeCounts(ctx, id)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to count outcomes", err)
	}
	execs, err := st.ReadExecutions(ctx, id, outcome)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read executions", err)
	}

	result := ReportResult{Campaign: listing(c), Outcomes: counts, Findings: []Finding{}}
	for _, e := range execs {
		r := e.Result
		if !r.Outcome.Archived() {
			continue
		}
		result.Findings = append(result.Findings, Finding{
			Seq:        e.Seq,
			TestCaseID: r.TestCaseID,
			Outcome:    r.Outcome,
			Duration:   r.Duration,
			Evidence:   r.Evidence,
			Detail:     r.Detail,
		})
	}
	return formatter.Success(result)
}

func listing(c store.Campaign) CampaignListing {
	return CampaignListing{
		ID:        c.ID,
		StartedAt: c.StartedAt,
		Mode:      c.Mode,
		Format:    c.Format,
		Target:    c.Target,
		Seed:      c.Seed,
	}
}
