package campaign

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator names campaigns.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator returns time-sortable UUIDv7 strings.
type UUIDv7Generator struct{}

func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined IDs in order and panics when they
// run out.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// Clock is the campaign's logical clock. Every recorded row takes the
// next value, so the run store orders by seq rather than wall time.
type Clock struct {
	seq atomic.Int64
}

func (c *Clock) Next() int64 { return c.seq.Add(1) }
