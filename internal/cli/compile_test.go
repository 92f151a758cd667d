package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileToStdout(t *testing.T) {
	out, _, err := execute(NewCompileCommand(&RootOptions{Format: "text"}), "testdata/specs", "--relations", "testdata/relations.json")
	require.NoError(t, err)

	var result CompilationResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.NotNil(t, result.Spec)
	assert.Len(t, result.Spec.APIs, 11)
	assert.Contains(t, result.Spec.Grammars, "field_name")
	assert.NotNil(t, result.Relations)
}

func TestCompileToFile(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "merged.json")
	out, _, err := execute(NewCompileCommand(&RootOptions{Format: "text"}), "testdata/specs", "-o", dest)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ compiled 11 API(s) from 1 document(s)")

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"apis"`)
}

func TestCompileEmptyDirectory(t *testing.T) {
	_, _, err := execute(NewCompileCommand(&RootOptions{Format: "text"}), t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
