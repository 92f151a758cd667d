package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scriptfuzz/internal/campaign"
	"github.com/roach88/scriptfuzz/internal/ir"
)

// runRecorded runs a four-case campaign that crashes on the second artifact.
func runRecorded(t *testing.T, w workspace) {
	t.Helper()
	opts := &RunOptions{
		RootOptions: w.root("json"),
		IDGenerator: campaign.NewFixedGenerator("campaign-1"),
		Executors:   []campaign.Executor{crashOn("000002.pdf")},
	}
	_, _, err := execute(newRunCommand(opts))
	require.NoError(t, err)
}

func TestReportListsCampaigns(t *testing.T) {
	w := newWorkspace(t, "relation")
	runRecorded(t, w)

	out, _, err := execute(NewReportCommand(w.root("json")))
	require.NoError(t, err)

	var resp struct {
		Data []CampaignListing `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "campaign-1", resp.Data[0].ID)
	assert.Equal(t, ir.ModeRelation, resp.Data[0].Mode)
	assert.Equal(t, "pdf", resp.Data[0].Format)
	assert.Equal(t, "mock-reader", resp.Data[0].Target)
	assert.Equal(t, int64(3), resp.Data[0].Seed)
}

func TestReportShowsFindings(t *testing.T) {
	w := newWorkspace(t, "relation")
	runRecorded(t, w)

	out, _, err := execute(NewReportCommand(w.root("json")), "campaign-1")
	require.NoError(t, err)

	var resp struct {
		Data ReportResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, int64(1), resp.Data.Outcomes[ir.OutcomeCrash])
	assert.Equal(t, int64(3), resp.Data.Outcomes[ir.OutcomeNormal])
	require.Len(t, resp.Data.Findings, 1)
	finding := resp.Data.Findings[0]
	assert.Equal(t, ir.OutcomeCrash, finding.Outcome)
	assert.NotEmpty(t, finding.Evidence)

	out, _, err = execute(NewReportCommand(w.root("text")), "campaign-1", "--sequence", finding.TestCaseID)
	require.NoError(t, err)
	assert.Contains(t, out, "artifact: ")
	assert.Contains(t, out, "000002.pdf")
	assert.Contains(t, out, finding.TestCaseID)
}

func TestReportText(t *testing.T) {
	w := newWorkspace(t, "relation")
	runRecorded(t, w)

	out, _, err := execute(NewReportCommand(w.root("text")), "campaign-1", "--outcome", "hang")
	require.NoError(t, err)
	assert.Contains(t, out, "Campaign campaign-1 (relation, pdf, seed 3)")
	assert.Contains(t, out, "No findings.")
}

func TestReportErrors(t *testing.T) {
	w := newWorkspace(t, "relation")
	runRecorded(t, w)

	_, _, err := execute(NewReportCommand(w.root("text")), "missing")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	_, _, err = execute(NewReportCommand(w.root("text")), "campaign-1", "--outcome", "normal")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = execute(NewReportCommand(w.root("text")), "campaign-1", "--sequence", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
