//go:build linux

package monitor

import (
	"time"

	"github.com/prometheus/procfs"

	"github.com/roach88/scriptfuzz/internal/ir"
)

// sampleUsage reads CPU time and resident memory from /proc.
func sampleUsage(pid int) (ir.Usage, error) {
	proc, err := procfs.NewProc(pid)
	if err != nil {
		return ir.Usage{}, err
	}
	stat, err := proc.Stat()
	if err != nil {
		return ir.Usage{}, err
	}
	return ir.Usage{
		CPU:     time.Duration(stat.CPUTime() * float64(time.Second)),
		PeakRSS: int64(stat.ResidentMemory()),
	}, nil
}
