package campaign

import (
	"sync/atomic"

	"github.com/roach88/scriptfuzz/internal/ir"
)

// counters are the campaign's running totals, updated from every worker.
type counters struct {
	generated   atomic.Int64
	genFailures atomic.Int64
	executed    atomic.Int64
	outcomes    [5]atomic.Int64 // indexed like ir.Outcomes
}

func outcomeIndex(o ir.Outcome) int {
	for i, known := range ir.Outcomes {
		if known == o {
			return i
		}
	}
	return -1
}

func (c *counters) record(o ir.Outcome) {
	c.executed.Add(1)
	if i := outcomeIndex(o); i >= 0 {
		c.outcomes[i].Add(1)
	}
}

func (c *counters) summary() Summary {
	s := Summary{
		Generated:   c.generated.Load(),
		GenFailures: c.genFailures.Load(),
		Executed:    c.executed.Load(),
		Counts:      make(map[ir.Outcome]int64, len(ir.Outcomes)),
	}
	for i, o := range ir.Outcomes {
		s.Counts[o] = c.outcomes[i].Load()
	}
	return s
}
