package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/scriptfuzz/internal/ir"
)

// Defaults recovered from the reader harness the campaigns were tuned on.
const (
	DefaultHangTimeout  = 120 * time.Second
	DefaultPollInterval = time.Second
	DefaultDumpTimeout  = 30 * time.Second
)

// State is the lifecycle position of one execution.
type State int

const (
	StateIdle State = iota
	StateLaunching
	StateRunning
	StateClassified
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLaunching:
		return "launching"
	case StateRunning:
		return "running"
	case StateClassified:
		return "classified"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Config controls how targets are launched and judged.
type Config struct {
	Command   []string
	Env       []string
	Heartbeat string
	// HangTimeout arms the watchdog. The target is classified hang when
	// it has neither exited nor been released by the observation window.
	HangTimeout  time.Duration
	PollInterval time.Duration
	// ObservationWindow ends a responsive run early as normal. Zero
	// waits for the target to exit.
	ObservationWindow time.Duration
	// ErrorGrace is how long an error signal waits for a crash to
	// overtake it. Defaults to two poll intervals.
	ErrorGrace time.Duration
	// DumpCommand runs against a hung target before it is killed;
	// PIDPlaceholder is substituted.
	DumpCommand []string
	DumpTimeout time.Duration
	// ArchiveDir receives evidence. Empty disables archiving.
	ArchiveDir string
}

func (c Config) withDefaults() Config {
	if c.HangTimeout <= 0 {
		c.HangTimeout = DefaultHangTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ErrorGrace <= 0 {
		c.ErrorGrace = 2 * c.PollInterval
	}
	if c.DumpTimeout <= 0 {
		c.DumpTimeout = DefaultDumpTimeout
	}
	return c
}

// Job is one artifact to run. TestCase is nil when replaying an artifact
// whose sequence is unknown.
type Job struct {
	ID       string
	Artifact string // path on disk
	Dir      string // working directory of the execution slot
	TestCase *ir.TestCase
}

// Monitor runs jobs one at a time. A campaign with several execution
// slots holds one Monitor per slot.
type Monitor struct {
	driver   Driver
	cfg      Config
	archive  *Archive
	logger   *slog.Logger
	observer func(State)
}

type Option func(*Monitor)

func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithObserver is called on every state transition.
func WithObserver(fn func(State)) Option {
	return func(m *Monitor) { m.observer = fn }
}

func New(driver Driver, cfg Config, opts ...Option) (*Monitor, error) {
	if driver == nil {
		return nil, errors.New("monitor: nil driver")
	}
	if len(cfg.Command) == 0 {
		return nil, errors.New("monitor: empty target command")
	}
	m := &Monitor{
		driver: driver,
		cfg:    cfg.withDefaults(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if cfg.ArchiveDir != "" {
		m.archive = NewArchive(cfg.ArchiveDir)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Monitor) Config() Config { return m.cfg }

func (m *Monitor) transition(s State, job Job) {
	m.logger.Debug("monitor state", "state", s.String(), "id", job.ID)
	if m.observer != nil {
		m.observer(s)
	}
}

// verdict is the classification reached while the target was running.
type verdict struct {
	outcome ir.Outcome
	exit    Exit
	detail  string
}

func crashed(e Exit) verdict {
	detail := "exit status " + strconv.Itoa(e.Code)
	if e.Signal != "" {
		detail = "signal " + e.Signal
	}
	return verdict{outcome: ir.OutcomeCrash, exit: e, detail: detail}
}

// exited classifies a target that ended on its own.
func exited(e Exit, p Process) verdict {
	if e.Abnormal() {
		return crashed(e)
	}
	if line, ok := p.ErrorSignal(); ok {
		return verdict{outcome: ir.OutcomeError, exit: e, detail: line}
	}
	return verdict{outcome: ir.OutcomeNormal, exit: e, detail: "exited"}
}

// Execute launches the target on job.Artifact and classifies the run. The
// target's process group is killed and reaped before Execute returns on
// every path, including a panic in the driver, which is returned as an
// error. A non-nil result comes back even when archiving evidence fails;
// that failure is returned alongside it. Cancelling ctx abandons the run
// and returns ctx.Err() with no result.
func (m *Monitor) Execute(ctx context.Context, job Job) (res *ir.ExecutionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("monitor panic", "id", job.ID, "panic", r)
			res, err = nil, fmt.Errorf("monitor: execute %s: panic: %v", job.ID, r)
		}
	}()
	m.transition(StateIdle, job)
	start := time.Now()

	m.transition(StateLaunching, job)
	proc, err := m.driver.Launch(ctx, LaunchSpec{
		Command:   m.cfg.Command,
		Artifact:  job.Artifact,
		Dir:       job.Dir,
		Env:       m.cfg.Env,
		Heartbeat: m.cfg.Heartbeat,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.logger.Warn("target launch failed", "id", job.ID, "error", err)
		m.transition(StateClassified, job)
		return &ir.ExecutionResult{
			TestCaseID: job.ID,
			Outcome:    ir.OutcomeLaunchFailure,
			Duration:   time.Since(start),
			ExitCode:   -1,
			Detail:     err.Error(),
		}, nil
	}

	reaped := false
	defer func() {
		if !reaped {
			_ = proc.Terminate()
			proc.Wait()
		}
	}()

	m.transition(StateRunning, job)
	v, peak, err := m.watch(ctx, proc)
	if err != nil {
		return nil, err
	}

	var errs []error
	var evidence string
	// Crash and hang evidence is taken while the group may still hold
	// state worth dumping.
	if m.archive != nil && (v.outcome == ir.OutcomeCrash || v.outcome == ir.OutcomeHang) {
		dir, aerr := m.archive.Store(v.outcome, job, proc.Output())
		evidence = dir
		errs = append(errs, aerr)
		if v.outcome == ir.OutcomeHang && len(m.cfg.DumpCommand) > 0 && aerr == nil {
			errs = append(errs, m.dump(ctx, proc.PID(), dir))
		}
	}

	if err := proc.Terminate(); err != nil {
		m.logger.Warn("terminate target", "id", job.ID, "pid", proc.PID(), "error", err)
	}
	proc.Wait()
	reaped = true

	usage, uerr := proc.Usage()
	if uerr == nil {
		usage.CPU = max(usage.CPU, peak.CPU)
		usage.PeakRSS = max(usage.PeakRSS, peak.PeakRSS)
	} else {
		usage = peak
	}

	if m.archive != nil && v.outcome == ir.OutcomeError {
		dir, aerr := m.archive.Store(v.outcome, job, proc.Output())
		evidence = dir
		errs = append(errs, aerr)
	}

	res = &ir.ExecutionResult{
		TestCaseID: job.ID,
		Outcome:    v.outcome,
		Evidence:   evidence,
		Duration:   time.Since(start),
		Usage:      usage,
		ExitCode:   v.exit.Code,
		Signal:     v.exit.Signal,
		Detail:     v.detail,
	}
	if evidence != "" {
		errs = append(errs, m.archive.WriteResult(evidence, res))
	}
	m.transition(StateClassified, job)
	m.logger.Debug("target classified", "id", job.ID, "outcome", res.Outcome, "duration", res.Duration)
	return res, errors.Join(errs...)
}

// watch polls the running target until a verdict is reached. The watchdog
// timer runs beside the poll ticker so a stalled poll cannot keep a hung
// target alive.
func (m *Monitor) watch(ctx context.Context, proc Process) (verdict, ir.Usage, error) {
	var peak ir.Usage
	sample := func() {
		if u, err := proc.Usage(); err == nil {
			peak.CPU = max(peak.CPU, u.CPU)
			peak.PeakRSS = max(peak.PeakRSS, u.PeakRSS)
		}
	}

	watchdog := time.NewTimer(m.cfg.HangTimeout)
	defer watchdog.Stop()
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	var window <-chan time.Time
	if m.cfg.ObservationWindow > 0 {
		t := time.NewTimer(m.cfg.ObservationWindow)
		defer t.Stop()
		window = t.C
	}
	var grace <-chan time.Time
	var signal string

	for {
		select {
		case <-ctx.Done():
			return verdict{}, peak, ctx.Err()

		case <-watchdog.C:
			if e, done := proc.Poll(); done {
				return exited(e, proc), peak, nil
			}
			sample()
			return verdict{
				outcome: ir.OutcomeHang,
				detail:  fmt.Sprintf("%v after %s", ErrWatchdog, m.cfg.HangTimeout),
			}, peak, nil

		case <-ticker.C:
			if e, done := proc.Poll(); done {
				return exited(e, proc), peak, nil
			}
			sample()
			if grace == nil {
				if line, ok := proc.ErrorSignal(); ok {
					signal = line
					grace = time.After(m.cfg.ErrorGrace)
				}
			}

		case <-grace:
			if e, done := proc.Poll(); done && e.Abnormal() {
				return crashed(e), peak, nil
			}
			return verdict{outcome: ir.OutcomeError, detail: signal}, peak, nil

		case <-window:
			window = nil
			if e, done := proc.Poll(); done {
				return exited(e, proc), peak, nil
			}
			if proc.Responsive() {
				sample()
				if line, ok := proc.ErrorSignal(); ok {
					return verdict{outcome: ir.OutcomeError, detail: line}, peak, nil
				}
				return verdict{outcome: ir.OutcomeNormal, detail: "observation window elapsed"}, peak, nil
			}
			// Unresponsive targets are left to the watchdog.
		}
	}
}

// dump runs the dump command against a live target and stores its output.
func (m *Monitor) dump(ctx context.Context, pid int, dir string) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.DumpTimeout)
	defer cancel()

	argv := make([]string, len(m.cfg.DumpCommand))
	for i, a := range m.cfg.DumpCommand {
		a = strings.ReplaceAll(a, PIDPlaceholder, strconv.Itoa(pid))
		argv[i] = strings.ReplaceAll(a, "{dir}", dir)
	}
	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	if werr := m.archive.WriteFile(dir, "dump.log", out); werr != nil {
		return werr
	}
	if err != nil {
		return fmt.Errorf("dump command: %w", err)
	}
	return nil
}
