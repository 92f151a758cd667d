package monitor

import (
	"context"

	"github.com/roach88/scriptfuzz/internal/ir"
)

// ArtifactPlaceholder in a command is replaced by the artifact path.
const ArtifactPlaceholder = "{artifact}"

// PIDPlaceholder in a dump command is replaced by the target's PID.
const PIDPlaceholder = "{pid}"

// LaunchSpec describes one target launch.
type LaunchSpec struct {
	Command  []string // argv; ArtifactPlaceholder is substituted
	Artifact string
	Dir      string // working directory of the execution slot
	Env      []string
	// Heartbeat is a file the target touches while responsive. Empty means
	// the target is considered responsive while alive.
	Heartbeat string
}

// Exit describes how a process ended.
type Exit struct {
	Code   int
	Signal string // set when killed by a signal
}

// Abnormal reports whether the exit counts as a crash: a non-zero status
// or death by signal.
func (e Exit) Abnormal() bool { return e.Code != 0 || e.Signal != "" }

// Process is a launched target.
type Process interface {
	PID() int
	// Poll reports the exit status once the process has ended.
	Poll() (Exit, bool)
	// Responsive reports whether the target is still making progress.
	Responsive() bool
	Usage() (ir.Usage, error)
	// ErrorSignal returns the first output line that matched an error
	// pattern.
	ErrorSignal() (string, bool)
	Output() []byte
	// Terminate kills the process and everything it spawned.
	Terminate() error
	// Wait blocks until the process is reaped.
	Wait() Exit
}

// Driver starts target processes.
type Driver interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}
