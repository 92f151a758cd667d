package planner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"slices"

	"github.com/roach88/scriptfuzz/internal/grammar"
	"github.com/roach88/scriptfuzz/internal/ir"
	"github.com/roach88/scriptfuzz/internal/relation"
	"github.com/roach88/scriptfuzz/internal/solver"
	"github.com/roach88/scriptfuzz/internal/spec"
)

// State is the lifecycle state of a Sequence.
type State int

const (
	StateEmpty State = iota
	StateBuilding
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateBuilding:
		return "building"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Planner generates sequences. It holds only read-only state and is safe
// for concurrent use.
type Planner struct {
	store  *spec.Store
	graph  *relation.Graph
	solver *solver.Solver
	lists  *spec.Lists
	cfg    Config
	logger *slog.Logger

	eligible []string // never blocked, sorted
	hookable []string // eligible and without script parameters
}

// Option configures a Planner.
type Option func(*Planner)

// WithConfig replaces the default tuning.
func WithConfig(cfg Config) Option {
	return func(p *Planner) { p.cfg = cfg }
}

// WithGraph sets the relationship graph used in relation modes.
func WithGraph(g *relation.Graph) Option {
	return func(p *Planner) { p.graph = g }
}

// WithSolver sets the constraint solver used in symbolic mode.
func WithSolver(s *solver.Solver) Option {
	return func(p *Planner) { p.solver = s }
}

// WithLists sets the block and limit lists.
func WithLists(l *spec.Lists) Option {
	return func(p *Planner) { p.lists = l }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Planner) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a planner over store.
func New(store *spec.Store, opts ...Option) (*Planner, error) {
	p := &Planner{
		store:  store,
		cfg:    DefaultConfig(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("planner config: %w", err)
	}
	if p.graph == nil {
		p.graph, _ = relation.New(nil, store)
	}
	if p.solver == nil {
		p.solver = solver.New(solver.WithLogger(p.logger))
	}

	for _, name := range store.Names() {
		if p.lists.Blocked(name) {
			continue
		}
		p.eligible = append(p.eligible, name)
		api, _ := store.API(name)
		if !hasParam(api, ir.TypeScript) {
			p.hookable = append(p.hookable, name)
		}
	}
	if len(p.eligible) == 0 {
		return nil, &PlanError{Code: ErrCodeNoEligibleAPI, Message: "every API is blocked", Index: -1}
	}
	return p, nil
}

// Config returns the planner's tuning.
func (p *Planner) Config() Config { return p.cfg }

// Eligible returns the APIs that may be selected, sorted.
func (p *Planner) Eligible() []string { return slices.Clone(p.eligible) }

// Plan generates the sequence for (index, seed, mode). The same arguments
// always produce the same test case.
func (p *Planner) Plan(ctx context.Context, index int, seed int64, mode ir.Mode) (*ir.TestCase, error) {
	seq, err := p.Begin(index, seed, mode)
	if err != nil {
		return nil, err
	}
	for seq.State() != StateComplete {
		if err := seq.Next(ctx); err != nil {
			return nil, err
		}
	}
	return seq.TestCase()
}

// Sequence is one sequence under construction. Not safe for concurrent use.
type Sequence struct {
	p     *Planner
	index int
	seed  int64
	mode  ir.Mode
	r     *rand.Rand
	state State

	calls []ir.CallInstance
	usage *usage
	bound map[string][]string // object -> variables bound to it

	fallbackRefs  map[ir.VarRef]bool
	fallbackCalls map[int]int // call index -> parameters that fell back
	err           error
}

// Begin starts an empty sequence.
func (p *Planner) Begin(index int, seed int64, mode ir.Mode) (*Sequence, error) {
	if !ValidMode(mode) {
		return nil, fmt.Errorf("unknown generation mode %q", mode)
	}
	return &Sequence{
		p:             p,
		index:         index,
		seed:          seed,
		mode:          mode,
		r:             grammar.NewRand(seed),
		state:         StateEmpty,
		usage:         newUsage(p.lists),
		bound:         make(map[string][]string),
		fallbackRefs:  make(map[ir.VarRef]bool),
		fallbackCalls: make(map[int]int),
	}, nil
}

func (s *Sequence) State() State { return s.state }

// Len returns the number of calls generated so far.
func (s *Sequence) Len() int { return len(s.calls) }

// Err returns the error that failed the sequence.
func (s *Sequence) Err() error { return s.err }

var errClosed = errors.New("sequence is closed")

// Next appends one call. The sequence moves to Complete when it reaches the
// configured length and to Failed when no call can be generated.
func (s *Sequence) Next(ctx context.Context) error {
	switch s.state {
	case StateComplete, StateFailed:
		return errClosed
	case StateEmpty:
		s.state = StateBuilding
	}
	at := len(s.calls)
	budget := attempts{max: s.p.cfg.MaxCallAttempts}
	for {
		if err := ctx.Err(); err != nil {
			return s.fail(&PlanError{Code: ErrCodeCanceled, Message: "planning interrupted", Index: at, Err: err})
		}
		api, ok := s.pick()
		if !ok {
			return s.fail(&PlanError{Code: ErrCodeNoEligibleAPI, Message: "every eligible API reached its limit", Index: at})
		}

		snap := s.usage.snapshot()
		call, err := s.buildCall(ctx, api, at)
		if err == nil {
			s.calls = append(s.calls, *call)
			if call.Bind != "" {
				def, _ := s.p.store.API(api)
				s.bound[def.ReturnType] = append(s.bound[def.ReturnType], call.Bind)
			}
			if len(s.calls) == s.p.cfg.Length {
				s.state = StateComplete
			}
			return nil
		}
		s.usage.restore(snap)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return s.fail(&PlanError{Code: ErrCodeCanceled, Message: "planning interrupted", Index: at, API: api, Err: err})
		}
		s.p.logger.Debug("call attempt failed", "index", at, "api", api, "error", err)
		if exceeded := budget.fail(at); exceeded != nil {
			return s.fail(&PlanError{
				Code:    ErrCodeAttemptsExceeded,
				Message: "no call could be generated",
				Index:   at,
				API:     api,
				Err:     errors.Join(exceeded, err),
			})
		}
	}
}

func (s *Sequence) fail(err error) error {
	s.state = StateFailed
	s.err = err
	return err
}

// TestCase returns the finished test case. The artifact is left empty.
func (s *Sequence) TestCase() (*ir.TestCase, error) {
	if s.state != StateComplete {
		return nil, fmt.Errorf("sequence is %s", s.state)
	}
	id, err := ir.TestCaseID(s.calls)
	if err != nil {
		return nil, err
	}
	tc := &ir.TestCase{
		ID:        id,
		Index:     s.index,
		Seed:      s.seed,
		Mode:      s.mode,
		Calls:     slices.Clone(s.calls),
		Fallbacks: len(s.fallbackCalls),
	}
	if s.mode.Symbolic() {
		tc.Dropped = len(s.p.graph.Dropped(s.calls))
	}
	return tc, nil
}
