package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scriptfuzz/internal/ir"
)

func TestPlanJSON(t *testing.T) {
	w := newWorkspace(t, "relation+symbolic")
	out, _, err := execute(NewPlanCommand(w.root("json")), "--index", "2", "--length", "6")
	require.NoError(t, err)

	var resp struct {
		Data ir.TestCase `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.NotEmpty(t, resp.Data.ID)
	assert.NotEmpty(t, resp.Data.Calls)
}

func TestPlanIsReproducible(t *testing.T) {
	w := newWorkspace(t, "relation+symbolic")
	first, _, err := execute(NewPlanCommand(w.root("json")), "--index", "5", "--seed", "9")
	require.NoError(t, err)
	second, _, err := execute(NewPlanCommand(w.root("json")), "--index", "5", "--seed", "9")
	require.NoError(t, err)
	assert.JSONEq(t, first, second)

	other, _, err := execute(NewPlanCommand(w.root("json")), "--index", "6", "--seed", "9")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestPlanScript(t *testing.T) {
	w := newWorkspace(t, "grammar-only")
	out, _, err := execute(NewPlanCommand(w.root("text")), "--script", "--length", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "closeDoc(1);")
}

func TestPlanRejectsUnknownMode(t *testing.T) {
	w := newWorkspace(t, "relation")
	_, _, err := execute(NewPlanCommand(w.root("text")), "--mode", "chaos")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
