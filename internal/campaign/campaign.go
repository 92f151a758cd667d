package campaign

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/scriptfuzz/internal/assemble"
	"github.com/roach88/scriptfuzz/internal/ir"
	"github.com/roach88/scriptfuzz/internal/metrics"
	"github.com/roach88/scriptfuzz/internal/monitor"
	"github.com/roach88/scriptfuzz/internal/store"
)

// DefaultGrammarOnlyRatio is the share of grammar-only test cases mixed
// into a relation campaign.
const DefaultGrammarOnlyRatio = 0.2

// Planner produces the sequence of one test case.
type Planner interface {
	Plan(ctx context.Context, index int, seed int64, mode ir.Mode) (*ir.TestCase, error)
}

// Assembler renders a sequence into an artifact.
type Assembler interface {
	Assemble(tc *ir.TestCase) ([]byte, error)
	Format() assemble.Format
}

// Executor runs one artifact against the target.
type Executor interface {
	Execute(ctx context.Context, job monitor.Job) (*ir.ExecutionResult, error)
}

// Config describes one campaign.
type Config struct {
	Count            int // 0 runs until the context is cancelled
	Mode             ir.Mode
	Seed             int64
	GrammarOnlyRatio float64
	GenWorkers       int
	Dry              bool // generate and assemble only
	Target           string

	CorpusDir string
	WorkDir   string // parent of the per-slot working directories
	RunLog    string // text run log; empty disables it

	// Snapshot is the effective configuration, recorded with the campaign.
	Snapshot string
}

func (c Config) validate(slots int) error {
	switch {
	case !ir.ValidModes[c.Mode]:
		return fmt.Errorf("unknown mode %q", c.Mode)
	case c.Count < 0:
		return fmt.Errorf("count must not be negative, got %d", c.Count)
	case c.GrammarOnlyRatio < 0 || c.GrammarOnlyRatio > 1:
		return fmt.Errorf("grammar-only ratio must be in [0, 1], got %v", c.GrammarOnlyRatio)
	case c.CorpusDir == "":
		return errors.New("corpus directory is required")
	case !c.Dry && slots == 0:
		return errors.New("at least one executor is required")
	}
	return nil
}

// Campaign wires the pipeline together. A Campaign runs once.
type Campaign struct {
	cfg       Config
	planner   Planner
	assembler Assembler
	executors []Executor

	store   *store.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	ids     IDGenerator
	clock   *Clock
	now     func() time.Time

	id     string
	counts counters
	runlog *runLog
}

type Option func(*Campaign)

// WithExecutors sets one Executor per execution slot.
func WithExecutors(execs ...Executor) Option {
	return func(c *Campaign) { c.executors = execs }
}

// WithStore records campaigns, test cases and results in s.
func WithStore(s *store.Store) Option {
	return func(c *Campaign) { c.store = s }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Campaign) { c.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Campaign) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithIDGenerator(g IDGenerator) Option {
	return func(c *Campaign) { c.ids = g }
}

// WithClock continues an existing logical clock.
func WithClock(clk *Clock) Option {
	return func(c *Campaign) { c.clock = clk }
}

// WithNow replaces the wall clock used for timestamps and durations.
func WithNow(now func() time.Time) Option {
	return func(c *Campaign) { c.now = now }
}

func New(cfg Config, p Planner, a Assembler, opts ...Option) (*Campaign, error) {
	if cfg.GenWorkers <= 0 {
		cfg.GenWorkers = 1
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(cfg.CorpusDir, ".work")
	}
	c := &Campaign{
		cfg:       cfg,
		planner:   p,
		assembler: a,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		ids:       UUIDv7Generator{},
		clock:     &Clock{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := cfg.validate(len(c.executors)); err != nil {
		return nil, fmt.Errorf("campaign: %w", err)
	}
	return c, nil
}

// ID returns the campaign ID once Run or Replay has started.
func (c *Campaign) ID() string { return c.id }

// Summary is the outcome of a finished or stopped campaign.
type Summary struct {
	CampaignID  string
	Generated   int64
	GenFailures int64
	Executed    int64
	Counts      map[ir.Outcome]int64
	Duration    time.Duration
	Stopped     bool // the context was cancelled before the campaign ended
}

// begin assigns the campaign ID, records the header and opens the outputs.
func (c *Campaign) begin(ctx context.Context, mode ir.Mode, format string) error {
	if c.id != "" {
		return errors.New("campaign: already started")
	}
	c.id = c.ids.Generate()
	if err := os.MkdirAll(c.cfg.CorpusDir, 0o755); err != nil {
		return fmt.Errorf("create corpus directory: %w", err)
	}
	if c.store != nil {
		err := c.store.WriteCampaign(ctx, store.Campaign{
			ID:        c.id,
			StartedAt: c.now(),
			Seed:      c.cfg.Seed,
			Mode:      mode,
			Format:    format,
			Target:    c.cfg.Target,
			Config:    c.cfg.Snapshot,
		})
		if err != nil {
			return err
		}
	}
	if c.cfg.RunLog != "" {
		rl, err := openRunLog(c.cfg.RunLog)
		if err != nil {
			return err
		}
		c.runlog = rl
	}
	c.logger.Info("campaign started",
		"campaign", c.id,
		"mode", mode,
		"count", c.cfg.Count,
		"seed", c.cfg.Seed,
		"dry", c.cfg.Dry,
	)
	return nil
}

func (c *Campaign) finish(ctx context.Context, start time.Time) Summary {
	if c.runlog != nil {
		if err := c.runlog.Close(); err != nil {
			c.logger.Error("close run log", "error", err)
		}
	}
	s := c.counts.summary()
	s.CampaignID = c.id
	s.Duration = c.now().Sub(start)
	s.Stopped = ctx.Err() != nil
	c.logger.Info("campaign finished",
		"campaign", c.id,
		"generated", s.Generated,
		"executed", s.Executed,
		"crash", s.Counts[ir.OutcomeCrash],
		"hang", s.Counts[ir.OutcomeHang],
		"error", s.Counts[ir.OutcomeError],
		"stopped", s.Stopped,
	)
	return s
}
