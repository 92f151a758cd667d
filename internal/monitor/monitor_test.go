//go:build unix

package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/roach88/scriptfuzz/internal/ir"
)

const helperEnv = "SCRIPTFUZZ_MONITOR_HELPER"

// TestHelperProcess is the mock target. It is re-executed by the tests
// below with the behavior named after "--".
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		os.Exit(64)
	}
	mode, rest := args[1], args[2:]

	switch mode {
	case "clean":
		fmt.Println("document opened", rest)
		os.Exit(0)
	case "crash-exit":
		fmt.Println("about to fail")
		os.Exit(3)
	case "crash-signal":
		_ = unix.Kill(os.Getpid(), unix.SIGKILL)
		time.Sleep(time.Hour)
	case "hang":
		fmt.Println("spinning")
		time.Sleep(time.Hour)
	case "error":
		fmt.Println("ERROR: cannot parse object 7")
		time.Sleep(time.Hour)
	case "error-exit":
		fmt.Println("ERROR: cannot parse object 7")
		os.Exit(0)
	case "error-then-crash":
		fmt.Println("ERROR: cannot parse object 7")
		time.Sleep(30 * time.Millisecond)
		os.Exit(5)
	case "spawn":
		child := exec.Command(os.Args[0], "-test.run=^TestHelperProcess$", "--", "hang")
		child.Env = os.Environ()
		if err := child.Start(); err != nil {
			os.Exit(65)
		}
		fmt.Printf("child=%d\n", child.Process.Pid)
		time.Sleep(time.Hour)
	case "heartbeat":
		path := os.Getenv("HEARTBEAT")
		for {
			_ = os.WriteFile(path, []byte("."), 0o644)
			time.Sleep(10 * time.Millisecond)
		}
	}
	os.Exit(66)
}

func helperCommand(mode string) []string {
	return []string{os.Args[0], "-test.run=^TestHelperProcess$", "--", mode, ArtifactPlaceholder}
}

// recordingDriver remembers the PID of every launched process.
type recordingDriver struct {
	Driver
	mu   sync.Mutex
	pids []int
}

func (d *recordingDriver) Launch(ctx context.Context, spec LaunchSpec) (Process, error) {
	p, err := d.Driver.Launch(ctx, spec)
	if err == nil {
		d.mu.Lock()
		d.pids = append(d.pids, p.PID())
		d.mu.Unlock()
	}
	return p, err
}

type harness struct {
	t       *testing.T
	driver  *recordingDriver
	mon     *Monitor
	archive string
	job     Job
}

func newHarness(t *testing.T, mode string, mutate func(*Config)) *harness {
	t.Helper()
	drv, err := NewExecDriver([]string{`^ERROR:`})
	require.NoError(t, err)
	d := &recordingDriver{Driver: drv}

	dir := t.TempDir()
	artifact := filepath.Join(dir, "000001.pdf")
	require.NoError(t, os.WriteFile(artifact, []byte("%PDF-1.7\n"), 0o644))

	cfg := Config{
		Command:      helperCommand(mode),
		Env:          []string{helperEnv + "=1"},
		HangTimeout:  time.Second,
		PollInterval: 10 * time.Millisecond,
		ErrorGrace:   60 * time.Millisecond,
		ArchiveDir:   filepath.Join(dir, "archive"),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	mon, err := New(d, cfg)
	require.NoError(t, err)

	tc := &ir.TestCase{ID: "tc-" + mode, Index: 1, Seed: 7, Mode: ir.ModeGrammarOnly}
	return &harness{
		t:       t,
		driver:  d,
		mon:     mon,
		archive: cfg.ArchiveDir,
		job:     Job{ID: tc.ID, Artifact: artifact, Dir: dir, TestCase: tc},
	}
}

func (h *harness) run() *ir.ExecutionResult {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := h.mon.Execute(ctx, h.job)
	require.NoError(h.t, err)
	require.NotNil(h.t, res)
	h.assertNoLeak()
	return res
}

func (h *harness) assertNoLeak() {
	h.t.Helper()
	for _, pid := range h.driver.pids {
		assert.False(h.t, Alive(pid), "pid %d survived", pid)
	}
}

func TestExecuteClean(t *testing.T) {
	h := newHarness(t, "clean", nil)
	res := h.run()

	assert.Equal(t, ir.OutcomeNormal, res.Outcome)
	assert.Equal(t, 0, res.ExitCode)
	assert.Empty(t, res.Evidence, "normal runs are not archived")
	assert.Equal(t, "tc-clean", res.TestCaseID)
	assert.NoDirExists(t, filepath.Join(h.archive, "normal"))
}

func TestExecuteCrashExit(t *testing.T) {
	h := newHarness(t, "crash-exit", nil)
	res := h.run()

	assert.Equal(t, ir.OutcomeCrash, res.Outcome)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "exit status 3", res.Detail)

	dir := filepath.Join(h.archive, "crash", "tc-crash-exit")
	assert.Equal(t, dir, res.Evidence)
	assert.FileExists(t, filepath.Join(dir, "artifact.pdf"))
	assert.FileExists(t, filepath.Join(dir, "sequence.json"))
	out, err := os.ReadFile(filepath.Join(dir, "output.log"))
	require.NoError(t, err)
	assert.Contains(t, string(out), "about to fail")

	data, err := os.ReadFile(filepath.Join(dir, "result.json"))
	require.NoError(t, err)
	var stored ir.ExecutionResult
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Equal(t, ir.OutcomeCrash, stored.Outcome)
}

func TestExecuteCrashSignal(t *testing.T) {
	h := newHarness(t, "crash-signal", nil)
	res := h.run()

	assert.Equal(t, ir.OutcomeCrash, res.Outcome)
	assert.Equal(t, "SIGKILL", res.Signal)
}

func TestExecuteHang(t *testing.T) {
	var states []State
	h := newHarness(t, "hang", nil)
	h.mon.observer = func(s State) { states = append(states, s) }

	start := time.Now()
	res := h.run()

	assert.Equal(t, ir.OutcomeHang, res.Outcome)
	assert.Contains(t, res.Detail, ErrWatchdog.Error())
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
	assert.Equal(t, []State{StateIdle, StateLaunching, StateRunning, StateClassified}, states)

	out, err := os.ReadFile(filepath.Join(res.Evidence, "output.log"))
	require.NoError(t, err)
	assert.Contains(t, string(out), "spinning", "output is archived before the kill")
}

func TestExecuteHangKillsProcessGroup(t *testing.T) {
	h := newHarness(t, "spawn", nil)
	res := h.run()
	require.Equal(t, ir.OutcomeHang, res.Outcome)

	out, err := os.ReadFile(filepath.Join(res.Evidence, "output.log"))
	require.NoError(t, err)
	m := regexp.MustCompile(`child=(\d+)`).FindStringSubmatch(string(out))
	require.Len(t, m, 2, "helper did not report its child: %q", out)
	child, err := strconv.Atoi(m[1])
	require.NoError(t, err)

	// The orphaned child is reaped by init, not by us.
	assert.Eventually(t, func() bool { return !Alive(child) }, 3*time.Second, 20*time.Millisecond)
}

func TestExecuteErrorSignal(t *testing.T) {
	h := newHarness(t, "error", nil)
	res := h.run()

	assert.Equal(t, ir.OutcomeError, res.Outcome)
	assert.Equal(t, "ERROR: cannot parse object 7", res.Detail)
	assert.DirExists(t, filepath.Join(h.archive, "error", "tc-error"))
	assert.FileExists(t, filepath.Join(res.Evidence, "result.json"))
}

func TestExecuteErrorThenCleanExit(t *testing.T) {
	h := newHarness(t, "error-exit", nil)
	res := h.run()
	assert.Equal(t, ir.OutcomeError, res.Outcome)
	assert.Equal(t, 0, res.ExitCode)
}

func TestCrashOutranksErrorSignal(t *testing.T) {
	h := newHarness(t, "error-then-crash", func(c *Config) { c.ErrorGrace = 300 * time.Millisecond })
	res := h.run()
	assert.Equal(t, ir.OutcomeCrash, res.Outcome)
	assert.Equal(t, 5, res.ExitCode)
}

func TestObservationWindow(t *testing.T) {
	t.Run("responsive target is released as normal", func(t *testing.T) {
		h := newHarness(t, "hang", func(c *Config) { c.ObservationWindow = 50 * time.Millisecond })
		res := h.run()
		assert.Equal(t, ir.OutcomeNormal, res.Outcome)
		assert.Less(t, res.Duration, time.Second)
	})

	t.Run("heartbeat keeps target responsive", func(t *testing.T) {
		hb := filepath.Join(t.TempDir(), "beat")
		h := newHarness(t, "heartbeat", func(c *Config) {
			c.ObservationWindow = 80 * time.Millisecond
			c.Heartbeat = hb
			c.Env = append(c.Env, "HEARTBEAT="+hb)
		})
		res := h.run()
		assert.Equal(t, ir.OutcomeNormal, res.Outcome)
	})

	t.Run("stale heartbeat is left to the watchdog", func(t *testing.T) {
		drv, err := NewExecDriver(nil, WithHeartbeatStale(20*time.Millisecond))
		require.NoError(t, err)
		h := newHarness(t, "hang", func(c *Config) {
			c.ObservationWindow = 80 * time.Millisecond
			c.Heartbeat = filepath.Join(t.TempDir(), "never")
		})
		h.driver.Driver = drv
		res := h.run()
		assert.Equal(t, ir.OutcomeHang, res.Outcome)
	})
}

func TestDumpCommandRunsOnHang(t *testing.T) {
	h := newHarness(t, "hang", func(c *Config) {
		c.DumpCommand = []string{"sh", "-c", "echo dumped " + PIDPlaceholder}
	})
	res := h.run()
	require.Equal(t, ir.OutcomeHang, res.Outcome)

	data, err := os.ReadFile(filepath.Join(res.Evidence, "dump.log"))
	require.NoError(t, err)
	assert.Equal(t, "dumped "+strconv.Itoa(h.driver.pids[0]), strings.TrimSpace(string(data)))
}

func TestLaunchFailure(t *testing.T) {
	h := newHarness(t, "clean", func(c *Config) {
		c.Command = []string{filepath.Join(t.TempDir(), "no-such-reader"), ArtifactPlaceholder}
	})
	res, err := h.mon.Execute(context.Background(), h.job)
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeLaunchFailure, res.Outcome)
	assert.Contains(t, res.Detail, "no-such-reader")
	assert.Empty(t, res.Evidence)
}

func TestExecuteCanceled(t *testing.T) {
	h := newHarness(t, "hang", nil)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	res, err := h.mon.Execute(ctx, h.job)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
	h.assertNoLeak()
}

func TestArchiveWithoutSequence(t *testing.T) {
	h := newHarness(t, "crash-exit", nil)
	h.job.TestCase = nil
	h.job.ID = ir.ArtifactID([]byte("%PDF-1.7\n"))
	res := h.run()

	assert.NoFileExists(t, filepath.Join(res.Evidence, "sequence.json"))
	assert.FileExists(t, filepath.Join(res.Evidence, "artifact.pdf"))
}
