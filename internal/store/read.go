package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/scriptfuzz/internal/ir"
)

// ReadCampaign returns the campaign with the given ID.
func (s *Store) ReadCampaign(ctx context.Context, id string) (Campaign, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, seed, mode, format, target, config
		FROM campaigns WHERE id = ?
	`, id)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Campaign{}, fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	return c, err
}

// ListCampaigns returns every campaign. UUIDv7 IDs sort by creation time.
func (s *Store) ListCampaigns(ctx context.Context) ([]Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, seed, mode, format, target, config
		FROM campaigns
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaigns: %w", err)
	}
	return campaigns, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCampaign(sc scanner) (Campaign, error) {
	var c Campaign
	var started, mode string
	if err := sc.Scan(&c.ID, &started, &c.Seed, &mode, &c.Format, &c.Target, &c.Config); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, err
		}
		return Campaign{}, fmt.Errorf("scan campaign: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return Campaign{}, fmt.Errorf("parse started_at: %w", err)
	}
	c.StartedAt = t
	c.Mode = ir.Mode(mode)
	return c, nil
}

// StoredTestCase is a test case with its position and artifact path.
type StoredTestCase struct {
	Seq      int64
	TestCase *ir.TestCase
	Artifact string
}

// ReadTestCase returns one stored sequence.
func (s *Store) ReadTestCase(ctx context.Context, campaignID, id string) (StoredTestCase, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seq, idx, seed, mode, calls, dropped, fallbacks, artifact
		FROM test_cases WHERE campaign_id = ? AND id = ?
	`, campaignID, id)
	tc, err := scanTestCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredTestCase{}, fmt.Errorf("test case %s: %w", id, ErrNotFound)
	}
	return tc, err
}

// ReadTestCases returns a campaign's sequences in generation order.
func (s *Store) ReadTestCases(ctx context.Context, campaignID string) ([]StoredTestCase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, idx, seed, mode, calls, dropped, fallbacks, artifact
		FROM test_cases
		WHERE campaign_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("query test cases: %w", err)
	}
	defer rows.Close()

	out := []StoredTestCase{}
	for rows.Next() {
		tc, err := scanTestCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate test cases: %w", err)
	}
	return out, nil
}

func scanTestCase(sc scanner) (StoredTestCase, error) {
	var st StoredTestCase
	tc := &ir.TestCase{}
	var mode, calls string
	err := sc.Scan(&tc.ID, &st.Seq, &tc.Index, &tc.Seed, &mode, &calls, &tc.Dropped, &tc.Fallbacks, &st.Artifact)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StoredTestCase{}, err
		}
		return StoredTestCase{}, fmt.Errorf("scan test case: %w", err)
	}
	tc.Mode = ir.Mode(mode)
	if tc.Calls, err = unmarshalCalls(calls); err != nil {
		return StoredTestCase{}, err
	}
	st.TestCase = tc
	return st, nil
}

// Execution is a stored result with its position.
type Execution struct {
	Seq    int64
	Result ir.ExecutionResult
}

// ReadExecutions returns a campaign's results in execution order. An
// empty outcome selects every result.
func (s *Store) ReadExecutions(ctx context.Context, campaignID string, outcome ir.Outcome) ([]Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, test_case_id, outcome, evidence, duration_ns, cpu_ns, peak_rss, exit_code, signal, detail
		FROM executions
		WHERE campaign_id = ? AND (? = '' OR outcome = ?)
		ORDER BY seq ASC, test_case_id COLLATE BINARY ASC
	`, campaignID, string(outcome), string(outcome))
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	out := []Execution{}
	for rows.Next() {
		var e Execution
		var oc string
		var dur, cpu int64
		r := &e.Result
		if err := rows.Scan(&e.Seq, &r.TestCaseID, &oc, &r.Evidence, &dur, &cpu, &r.Usage.PeakRSS, &r.ExitCode, &r.Signal, &r.Detail); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		r.Outcome = ir.Outcome(oc)
		r.Duration = time.Duration(dur)
		r.Usage.CPU = time.Duration(cpu)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return out, nil
}

// OutcomeCounts tallies a campaign's results. Every outcome is present.
func (s *Store) OutcomeCounts(ctx context.Context, campaignID string) (map[ir.Outcome]int64, error) {
	counts := make(map[ir.Outcome]int64, len(ir.Outcomes))
	for _, o := range ir.Outcomes {
		counts[o] = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*) FROM executions
		WHERE campaign_id = ?
		GROUP BY outcome
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("count outcomes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var oc string
		var n int64
		if err := rows.Scan(&oc, &n); err != nil {
			return nil, fmt.Errorf("scan outcome count: %w", err)
		}
		counts[ir.Outcome(oc)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcome counts: %w", err)
	}
	return counts, nil
}

// LastSeq returns the highest seq recorded for a campaign, so a resumed
// campaign can continue its logical clock.
func (s *Store) LastSeq(ctx context.Context, campaignID string) (int64, error) {
	var tcSeq, execSeq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM test_cases WHERE campaign_id = ?
	`, campaignID).Scan(&tcSeq)
	if err != nil {
		return 0, fmt.Errorf("get last seq from test_cases: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM executions WHERE campaign_id = ?
	`, campaignID).Scan(&execSeq)
	if err != nil {
		return 0, fmt.Errorf("get last seq from executions: %w", err)
	}
	return max(tcSeq, execSeq), nil
}
