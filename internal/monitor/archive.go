package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/scriptfuzz/internal/ir"
)

// Archive lays out evidence as <root>/<outcome>/<id>/.
type Archive struct {
	root string
}

func NewArchive(root string) *Archive {
	return &Archive{root: root}
}

func (a *Archive) Root() string { return a.root }

// Dir returns the evidence directory of one execution.
func (a *Archive) Dir(outcome ir.Outcome, id string) string {
	return filepath.Join(a.root, string(outcome), id)
}

// Store copies the artifact, the generating sequence (when known) and the
// captured output into the evidence directory and returns its path.
func (a *Archive) Store(outcome ir.Outcome, job Job, output []byte) (string, error) {
	dir := a.Dir(outcome, job.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	if job.Artifact != "" {
		data, err := os.ReadFile(job.Artifact)
		if err != nil {
			return dir, fmt.Errorf("archive artifact: %w", err)
		}
		name := "artifact" + filepath.Ext(job.Artifact)
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return dir, fmt.Errorf("archive artifact: %w", err)
		}
	}
	if job.TestCase != nil {
		if err := writeJSON(filepath.Join(dir, "sequence.json"), job.TestCase); err != nil {
			return dir, err
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "output.log"), output, 0o644); err != nil {
		return dir, fmt.Errorf("archive output: %w", err)
	}
	return dir, nil
}

// WriteFile adds a named file to an evidence directory.
func (a *Archive) WriteFile(dir, name string, data []byte) error {
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("archive %s: %w", name, err)
	}
	return nil
}

// WriteResult records the classified result next to the evidence.
func (a *Archive) WriteResult(dir string, res *ir.ExecutionResult) error {
	return writeJSON(filepath.Join(dir, "result.json"), res)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("archive %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("archive %s: %w", filepath.Base(path), err)
	}
	return nil
}
