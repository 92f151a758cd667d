package campaign

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/roach88/scriptfuzz/internal/ir"
)

// runLog is the append-only text record, one line per execution:
//
//	<id> <outcome> <duration> <evidence>
//
// An execution without evidence logs "-".
type runLog struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

func openRunLog(path string) (*runLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	return &runLog{f: f, w: bufio.NewWriter(f)}, nil
}

func formatRunLine(res *ir.ExecutionResult) string {
	evidence := res.Evidence
	if evidence == "" {
		evidence = "-"
	}
	return fmt.Sprintf("%s %s %s %s\n", res.TestCaseID, res.Outcome, res.Duration.Round(time.Millisecond), evidence)
}

// Append writes and flushes one line so a killed campaign loses nothing.
func (l *runLog) Append(res *ir.ExecutionResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.WriteString(formatRunLine(res)); err != nil {
		return err
	}
	return l.w.Flush()
}

func (l *runLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
