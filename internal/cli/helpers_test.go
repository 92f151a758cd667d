package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// workspace is a temporary campaign directory with a config file whose
// outputs all land inside it.
type workspace struct {
	dir    string
	config string
}

func newWorkspace(t *testing.T, mode string) workspace {
	t.Helper()
	specs, err := filepath.Abs("testdata/specs")
	require.NoError(t, err)
	return newWorkspaceWithSpecs(t, mode, specs)
}

// newWorkspaceWithSpecs is newWorkspace reading the specification from
// specs instead of testdata.
func newWorkspaceWithSpecs(t *testing.T, mode, specs string) workspace {
	t.Helper()
	relations, err := filepath.Abs("testdata/relations.json")
	require.NoError(t, err)

	dir := t.TempDir()
	cfg := fmt.Sprintf(`target:
  name: mock-reader
  command: ["mock-reader", "{artifact}"]
  error_patterns: ["^ERROR:"]
campaign:
  count: 4
  length: 10
  mode: %s
  seed: 3
  instances: 2
  gen_workers: 2
monitor:
  hang_timeout: 5s
  poll_interval: 50ms
paths:
  specs: %s
  relations: %s
`, mode, specs, relations)
	path := filepath.Join(dir, "scriptfuzz.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return workspace{dir: dir, config: path}
}

func (w workspace) path(name string) string { return filepath.Join(w.dir, name) }

func (w workspace) root(format string) *RootOptions {
	return &RootOptions{Format: format, Config: w.config}
}

// execute runs cmd with args and returns stdout and stderr.
func execute(cmd *cobra.Command, args ...string) (string, string, error) {
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}
