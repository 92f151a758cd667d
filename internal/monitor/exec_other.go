//go:build !unix

package monitor

import (
	"os"
	"os/exec"

	"github.com/roach88/scriptfuzz/internal/ir"
)

func setProcessGroup(*exec.Cmd) {}

func killGroup(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return p.Kill()
}

// Alive reports whether pid still exists.
func Alive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}

func exitOf(state *os.ProcessState, err error) Exit {
	if state == nil {
		return Exit{Code: -1, Signal: "unknown"}
	}
	return Exit{Code: state.ExitCode()}
}

func finalUsage(state *os.ProcessState) ir.Usage {
	if state == nil {
		return ir.Usage{}
	}
	return ir.Usage{CPU: state.UserTime() + state.SystemTime()}
}
