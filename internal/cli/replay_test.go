package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scriptfuzz/internal/campaign"
	"github.com/roach88/scriptfuzz/internal/testutil"
)

func TestReplayCommand(t *testing.T) {
	w := newWorkspace(t, "relation")
	_, _, err := execute(NewGenerateCommand(w.root("json")), "--count", "3")
	require.NoError(t, err)

	exec := &testutil.ScriptedExecutor{}
	opts := &ReplayOptions{RootOptions: w.root("json"), Executors: []campaign.Executor{exec}}
	out, _, err := execute(newReplayCommand(opts))
	require.NoError(t, err)

	report := decodeReport(t, out)
	assert.Equal(t, int64(3), report.Executed)
	assert.Zero(t, report.Generated)
	require.Equal(t, 3, exec.Count())
	assert.Equal(t, "000001.pdf", filepath.Base(exec.Jobs()[0].Artifact))
}

func TestReplayCommandDirectoryAndExtensions(t *testing.T) {
	w := newWorkspace(t, "relation")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.pdf"), []byte("%PDF-1.7\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.js"), []byte("app.alert(1);\n"), 0o644))

	exec := &testutil.ScriptedExecutor{}
	opts := &ReplayOptions{RootOptions: w.root("json"), Executors: []campaign.Executor{exec}}
	out, _, err := execute(newReplayCommand(opts), dir, "--ext", "JS")
	require.NoError(t, err)

	assert.Equal(t, int64(1), decodeReport(t, out).Executed)
	require.Equal(t, 1, exec.Count())
	assert.Equal(t, "b.js", filepath.Base(exec.Jobs()[0].Artifact))
}

func TestNormalizeExts(t *testing.T) {
	assert.Equal(t, []string{".pdf", ".js"}, normalizeExts([]string{"PDF", " .js "}))
	assert.Empty(t, normalizeExts(nil))
}

func TestReplaySettleFlag(t *testing.T) {
	cmd := NewReplayCommand(&RootOptions{})
	flag := cmd.Flags().Lookup("settle")
	require.NotNil(t, flag)
	assert.Equal(t, campaign.DefaultSettle.String(), flag.DefValue)
}
