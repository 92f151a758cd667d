package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/scriptfuzz/internal/ir"
)

// Campaign is the header row of one campaign.
type Campaign struct {
	ID        string
	StartedAt time.Time
	Seed      int64
	Mode      ir.Mode
	Format    string
	Target    string
	Config    string // effective configuration, JSON
}

// WriteCampaign records a campaign. Writing the same ID again is a no-op.
func (s *Store) WriteCampaign(ctx context.Context, c Campaign) error {
	cfg := c.Config
	if cfg == "" {
		cfg = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, started_at, seed, mode, format, target, config)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		c.ID,
		c.StartedAt.UTC().Format(time.RFC3339Nano),
		c.Seed,
		string(c.Mode),
		c.Format,
		c.Target,
		cfg,
	)
	if err != nil {
		return fmt.Errorf("write campaign: %w", err)
	}
	return nil
}

// WriteTestCase records a generated sequence at logical position seq.
// Identical sequences share a content-addressed ID; only the first one
// written is kept.
func (s *Store) WriteTestCase(ctx context.Context, campaignID string, seq int64, tc *ir.TestCase, artifact string) error {
	calls, err := marshalCalls(tc.Calls)
	if err != nil {
		return fmt.Errorf("write test case: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO test_cases
		(campaign_id, id, seq, idx, seed, mode, calls, dropped, fallbacks, artifact)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(campaign_id, id) DO NOTHING
	`,
		campaignID,
		tc.ID,
		seq,
		tc.Index,
		tc.Seed,
		string(tc.Mode),
		calls,
		tc.Dropped,
		tc.Fallbacks,
		artifact,
	)
	if err != nil {
		return fmt.Errorf("write test case: %w", err)
	}
	return nil
}

// WriteExecution appends a classified result at logical position seq.
func (s *Store) WriteExecution(ctx context.Context, campaignID string, seq int64, res *ir.ExecutionResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions
		(campaign_id, seq, test_case_id, outcome, evidence, duration_ns, cpu_ns, peak_rss, exit_code, signal, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		campaignID,
		seq,
		res.TestCaseID,
		string(res.Outcome),
		res.Evidence,
		int64(res.Duration),
		int64(res.Usage.CPU),
		res.Usage.PeakRSS,
		res.ExitCode,
		res.Signal,
		res.Detail,
	)
	if err != nil {
		return fmt.Errorf("write execution: %w", err)
	}
	return nil
}
