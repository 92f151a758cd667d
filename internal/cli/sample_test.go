package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleDrawsFromRule(t *testing.T) {
	w := newWorkspace(t, "grammar-only")
	out, _, err := execute(NewSampleCommand(w.root("text")), "field_name", "-n", "4")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 4)
	for _, l := range lines {
		assert.Contains(t, l, "my_field")
	}
}

func TestSampleEnumerateJSON(t *testing.T) {
	w := newWorkspace(t, "grammar-only")
	out, _, err := execute(NewSampleCommand(w.root("json")), "field_name", "--enumerate", "-n", "3")
	require.NoError(t, err)

	var resp struct {
		Data struct {
			Rule   string   `json:"rule"`
			Values []string `json:"values"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "field_name", resp.Data.Rule)
	assert.Len(t, resp.Data.Values, 3)
}

func TestSampleUnknownRule(t *testing.T) {
	w := newWorkspace(t, "grammar-only")
	_, _, err := execute(NewSampleCommand(w.root("text")), "no_such_rule")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
