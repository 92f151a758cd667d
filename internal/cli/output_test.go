package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitError(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapExitError(ExitCommandError, "cannot write", cause)

	assert.Equal(t, "cannot write: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "plain", NewExitError(ExitFailure, "plain").Error())
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"exit error", NewExitError(ExitCommandError, "x"), ExitCommandError},
		{"wrapped", fmt.Errorf("outer: %w", NewExitError(ExitFailure, "x")), ExitFailure},
		{"plain", errors.New("x"), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestReported(t *testing.T) {
	assert.True(t, Reported(NewExitError(ExitFailure, "2 finding(s)")))
	assert.True(t, Reported(fmt.Errorf("run: %w", WrapExitError(ExitCommandError, "x", errors.New("y")))))
	assert.False(t, Reported(errors.New(`unknown command "nope"`)))
}

func TestFormatterJSON(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}

	require.NoError(t, f.Success(map[string]int{"executed": 3}))
	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"executed": float64(3)}, resp.Data)

	buf.Reset()
	err := f.Fail(ExitCommandError, ErrCodeStore, "failed to open database", errors.New("locked"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeStore, resp.Error.Code)
	assert.Equal(t, "locked", resp.Error.Details)
}

func TestFormatterText(t *testing.T) {
	var out, errOut bytes.Buffer
	f := &OutputFormatter{Format: "text", Writer: &out, ErrWriter: &errOut}

	require.NoError(t, f.Success("done"))
	assert.Equal(t, "done\n", out.String())

	out.Reset()
	require.NoError(t, f.Error(ErrCodeConfig, "bad config", "ignored without verbose"))
	assert.Equal(t, "Error [E010]: bad config\n", out.String())

	f.VerboseLog("hidden")
	assert.Empty(t, errOut.String())
	f.Verbose = true
	f.VerboseLog("loaded %d", 2)
	assert.Equal(t, "loaded 2\n", errOut.String())
}

func TestGetErrWriterFallsBack(t *testing.T) {
	var out bytes.Buffer
	f := &OutputFormatter{Writer: &out}
	assert.Same(t, &out, f.GetErrWriter())
}
