package monitor

import (
	"errors"
	"fmt"
)

// ErrWatchdog marks a run ended by the hang watchdog.
var ErrWatchdog = errors.New("monitor watchdog fired")

// LaunchError reports a target that could not be started.
type LaunchError struct {
	Command []string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %v: %v", e.Command, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// IsLaunchError reports whether err is a LaunchError.
func IsLaunchError(err error) bool {
	var le *LaunchError
	return errors.As(err, &le)
}
