package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/roach88/scriptfuzz/internal/ir"
)

// DefaultHeartbeatStale is how old the heartbeat file may get before the
// target counts as unresponsive.
const DefaultHeartbeatStale = 5 * time.Second

// ExecDriver launches targets with os/exec, each in its own process group.
type ExecDriver struct {
	patterns    []*regexp.Regexp
	outputLimit int
	stale       time.Duration
	logger      *slog.Logger
}

type ExecOption func(*ExecDriver)

// WithOutputLimit caps the output kept per run.
func WithOutputLimit(n int) ExecOption {
	return func(d *ExecDriver) {
		if n > 0 {
			d.outputLimit = n
		}
	}
}

// WithHeartbeatStale sets the heartbeat staleness threshold.
func WithHeartbeatStale(t time.Duration) ExecOption {
	return func(d *ExecDriver) {
		if t > 0 {
			d.stale = t
		}
	}
}

func WithDriverLogger(l *slog.Logger) ExecOption {
	return func(d *ExecDriver) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewExecDriver compiles the error patterns matched against target output.
func NewExecDriver(errorPatterns []string, opts ...ExecOption) (*ExecDriver, error) {
	d := &ExecDriver{
		outputLimit: DefaultOutputLimit,
		stale:       DefaultHeartbeatStale,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, p := range errorPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("error pattern %q: %w", p, err)
		}
		d.patterns = append(d.patterns, re)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Expand substitutes the artifact path into a command line.
func Expand(command []string, artifact string) []string {
	out := make([]string, len(command))
	for i, a := range command {
		out[i] = strings.ReplaceAll(a, ArtifactPlaceholder, artifact)
	}
	return out
}

// Launch starts the target. The context only bounds the start itself; the
// monitor owns the process lifetime.
func (d *ExecDriver) Launch(ctx context.Context, spec LaunchSpec) (Process, error) {
	argv := Expand(spec.Command, spec.Artifact)
	if len(argv) == 0 || argv[0] == "" {
		return nil, &LaunchError{Command: argv, Err: errors.New("empty command")}
	}
	if err := ctx.Err(); err != nil {
		return nil, &LaunchError{Command: argv, Err: err}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	out := newOutput(d.outputLimit, d.patterns)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = time.Second
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Command: argv, Err: err}
	}
	p := &execProcess{
		cmd:       cmd,
		out:       out,
		heartbeat: spec.Heartbeat,
		stale:     d.stale,
		started:   time.Now(),
		done:      make(chan struct{}),
	}
	go p.reap()
	d.logger.Debug("target launched", "pid", cmd.Process.Pid, "argv", argv)
	return p, nil
}

type execProcess struct {
	cmd       *exec.Cmd
	out       *output
	heartbeat string
	stale     time.Duration
	started   time.Time

	done chan struct{}
	exit Exit

	mu   sync.Mutex
	peak ir.Usage
}

func (p *execProcess) reap() {
	err := p.cmd.Wait()
	p.out.flush()
	p.exit = exitOf(p.cmd.ProcessState, err)
	close(p.done)
}

func (p *execProcess) PID() int { return p.cmd.Process.Pid }

func (p *execProcess) Poll() (Exit, bool) {
	select {
	case <-p.done:
		return p.exit, true
	default:
		return Exit{}, false
	}
}

func (p *execProcess) Responsive() bool {
	if p.heartbeat == "" {
		return true
	}
	fi, err := os.Stat(p.heartbeat)
	if err != nil {
		return time.Since(p.started) < p.stale
	}
	return time.Since(fi.ModTime()) < p.stale
}

// Usage samples the live process, or reports the final accounting once it
// has been reaped. PeakRSS is the largest value seen.
func (p *execProcess) Usage() (ir.Usage, error) {
	var u ir.Usage
	var err error
	select {
	case <-p.done:
		u = finalUsage(p.cmd.ProcessState)
	default:
		u, err = sampleUsage(p.PID())
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		p.peak.CPU = max(p.peak.CPU, u.CPU)
		p.peak.PeakRSS = max(p.peak.PeakRSS, u.PeakRSS)
	}
	return p.peak, err
}

func (p *execProcess) ErrorSignal() (string, bool) { return p.out.Match() }

func (p *execProcess) Output() []byte { return p.out.Bytes() }

func (p *execProcess) Terminate() error {
	select {
	case <-p.done:
		// The leader is gone but children may live on in its group.
		killGroup(p.PID())
		return nil
	default:
	}
	return killGroup(p.PID())
}

func (p *execProcess) Wait() Exit {
	<-p.done
	return p.exit
}
