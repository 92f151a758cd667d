package solver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/crillab/gophersat/bf"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/scriptfuzz/internal/ir"
)

const (
	// DefaultWidth is the integer bit width used when a variable declares none.
	DefaultWidth = 16
	// MaxWidth caps declared integer widths.
	MaxWidth = 62

	DefaultTimeout   = 2 * time.Second
	DefaultCacheSize = 1024

	maxUniverse = 512
	smallRange  = 64
)

var (
	// ErrUnsat reports that no assignment satisfies the constraints.
	ErrUnsat = errors.New("constraints unsatisfiable")
	// ErrTimeout reports that the solver exceeded its time budget.
	ErrTimeout = errors.New("solver timed out")
	// ErrInvalid reports a malformed or ill-typed constraint.
	ErrInvalid = errors.New("invalid constraint")
)

// IsUnsat reports whether err means the constraints have no solution.
func IsUnsat(err error) bool { return errors.Is(err, ErrUnsat) }

// IsTimeout reports whether err is a solver timeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// Var is one argument value taking part in constraints. A Var with Known set
// is already generated and only constrains the others.
type Var struct {
	Ref  ir.VarRef
	Type ir.TypeTag

	// Width is the two's complement width of integer variables.
	Width    int
	Min, Max *int64
	// MaxLen bounds the cardinality of array variables; 0 is unbounded.
	MaxLen int

	Known ir.Value
	// Candidates is a finite domain. Required for unknown string and
	// object variables, optional otherwise.
	Candidates []ir.Value
	// Accepts re-checks a decoded value, typically against the grammar.
	Accepts func(ir.Value) bool
}

// Assignment maps each unknown variable to its solved value.
type Assignment map[ir.VarRef]ir.Value

// Solver resolves constraint systems by bit-blasting them to SAT.
// It is safe for concurrent use.
type Solver struct {
	timeout time.Duration
	cache   *lru.Cache[string, *Expr]
	logger  *slog.Logger
}

type Option func(*Solver)

// WithTimeout sets the per-call time budget.
func WithTimeout(d time.Duration) Option {
	return func(s *Solver) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithCacheSize sets the number of parsed predicates kept.
func WithCacheSize(n int) Option {
	return func(s *Solver) {
		if n > 0 {
			s.cache, _ = lru.New[string, *Expr](n)
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Solver) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(opts ...Option) *Solver {
	cache, _ := lru.New[string, *Expr](DefaultCacheSize)
	s := &Solver{
		timeout: DefaultTimeout,
		cache:   cache,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Timeout returns the per-call time budget.
func (s *Solver) Timeout() time.Duration { return s.timeout }

// Parse returns the parsed form of pred, cached.
func (s *Solver) Parse(pred string) (*Expr, error) {
	if e, ok := s.cache.Get(pred); ok {
		return e, nil
	}
	e, err := Parse(pred)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	s.cache.Add(pred, e)
	return e, nil
}

func kindOf(t ir.TypeTag) valueKind {
	switch {
	case t.Numeric():
		return kindInt
	case t == ir.TypeBoolean:
		return kindBool
	case t == ir.TypeArray:
		return kindSet
	}
	return kindStr
}

type parsedConstraint struct {
	c    ir.Constraint
	expr *Expr
}

// Solve finds values for every unknown variable such that all constraints
// hold. Every returned value has been re-checked against the predicates and
// the variable's Accepts function.
func (s *Solver) Solve(ctx context.Context, vars []Var, cons []ir.Constraint) (Assignment, error) {
	byRef := make(map[ir.VarRef]*Var, len(vars))
	for i := range vars {
		byRef[vars[i].Ref] = &vars[i]
	}
	parsed := make([]parsedConstraint, 0, len(cons))
	for _, c := range cons {
		e, err := s.Parse(c.Predicate)
		if err != nil {
			return nil, err
		}
		for _, sym := range e.Symbols() {
			ref, ok := c.Vars[sym]
			if !ok {
				return nil, fmt.Errorf("%w: %s: symbol %q is not bound", ErrInvalid, c.Predicate, sym)
			}
			if _, ok := byRef[ref]; !ok {
				return nil, fmt.Errorf("%w: %s: no variable for %s", ErrInvalid, c.Predicate, ref)
			}
		}
		parsed = append(parsed, parsedConstraint{c: c, expr: e})
	}

	unknown := 0
	for i := range vars {
		if vars[i].Known == nil {
			unknown++
		}
	}
	if unknown == 0 {
		if err := verify(parsed, byRef, nil); err != nil {
			return nil, err
		}
		return Assignment{}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, ctxErr(err)
	}

	enc, decoders, err := encode(vars, parsed)
	if err != nil {
		return nil, err
	}
	if enc.unsat {
		return nil, ErrUnsat
	}

	model := map[string]bool{}
	if len(enc.side) > 0 {
		model, err = s.run(ctx, enc.formula())
		if err != nil {
			return nil, err
		}
	}

	out := make(Assignment, unknown)
	for ref, dec := range decoders {
		v := dec(model)
		if acc := byRef[ref].Accepts; acc != nil && !acc(v) {
			s.logger.Debug("solution rejected by grammar", "var", ref.String())
			return nil, ErrUnsat
		}
		out[ref] = v
	}
	if err := verify(parsed, byRef, out); err != nil {
		return nil, err
	}
	s.logger.Debug("solved", "vars", len(vars), "constraints", len(cons), "gates", enc.n)
	return out, nil
}

// run solves f within the time budget. bf.Solve cannot be interrupted, so
// a timed-out search finishes in the background.
func (s *Solver) run(ctx context.Context, f bf.Formula) (map[string]bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan map[string]bool, 1)
	go func() { done <- bf.Solve(f) }()

	select {
	case model := <-done:
		if model == nil {
			return nil, ErrUnsat
		}
		return model, nil
	case <-ctx.Done():
		return nil, ctxErr(ctx.Err())
	}
}

func ctxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

// Check evaluates a single constraint over concrete values.
func (s *Solver) Check(c ir.Constraint, values map[ir.VarRef]ir.Value) (bool, error) {
	e, err := s.Parse(c.Predicate)
	if err != nil {
		return false, err
	}
	env := make(map[string]concrete, len(c.Vars))
	for sym, ref := range c.Vars {
		v, ok := values[ref]
		if !ok {
			return false, fmt.Errorf("%w: no value for %s", ErrInvalid, ref)
		}
		cv, err := concreteOf(v, c.Type)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		env[sym] = cv
	}
	ok, err := evalBool(e, env)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return ok, nil
}

func verify(parsed []parsedConstraint, byRef map[ir.VarRef]*Var, solved Assignment) error {
	for _, p := range parsed {
		env := make(map[string]concrete, len(p.c.Vars))
		for _, sym := range p.expr.Symbols() {
			ref := p.c.Vars[sym]
			v := byRef[ref]
			val := v.Known
			if val == nil {
				val = solved[ref]
			}
			if val == nil {
				return fmt.Errorf("%w: %s unresolved", ErrUnsat, ref)
			}
			cv, err := concreteOf(val, v.Type)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalid, err)
			}
			env[sym] = cv
		}
		ok, err := evalBool(p.expr, env)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if !ok {
			return ErrUnsat
		}
	}
	return nil
}

type decodeFunc func(model map[string]bool) ir.Value

// encode builds the propositional form of the system.
func encode(vars []Var, parsed []parsedConstraint) (*encoder, map[ir.VarRef]decodeFunc, error) {
	knowns := make(map[ir.VarRef]concrete)
	domains := make(map[ir.VarRef][]concrete)
	var consts []int64
	hasSet := false

	for _, p := range parsed {
		consts = append(consts, p.expr.ints()...)
	}
	for i := range vars {
		v := &vars[i]
		kind := kindOf(v.Type)
		if kind == kindSet {
			hasSet = true
		}
		if v.Known != nil {
			c, err := concreteOf(v.Known, v.Type)
			if err != nil || c.kind != kind {
				return nil, nil, fmt.Errorf("%w: known value of %s does not fit %s", ErrInvalid, v.Ref, v.Type)
			}
			knowns[v.Ref] = c
			consts = append(consts, c.i)
			consts = append(consts, c.set...)
			continue
		}
		if v.Candidates != nil {
			var dom []concrete
			for _, cand := range v.Candidates {
				c, err := concreteOf(cand, v.Type)
				if err == nil && c.kind == kind {
					dom = append(dom, c)
					consts = append(consts, c.i)
					consts = append(consts, c.set...)
				}
			}
			if len(dom) == 0 {
				return nil, nil, fmt.Errorf("%w: %s has an empty domain", ErrUnsat, v.Ref)
			}
			domains[v.Ref] = dom
		} else if kind == kindStr {
			return nil, nil, fmt.Errorf("%w: %s has no finite domain", ErrUnsat, v.Ref)
		}
		if v.Min != nil {
			consts = append(consts, *v.Min)
		}
		if v.Max != nil {
			consts = append(consts, *v.Max)
		}
	}

	var universe []int64
	if hasSet {
		universe = slices.Clone(consts)
		for i := range vars {
			v := &vars[i]
			if kindOf(v.Type) != kindSet || v.Min == nil || v.Max == nil {
				continue
			}
			if *v.Max-*v.Min < smallRange {
				for n := *v.Min; n <= *v.Max; n++ {
					universe = append(universe, n)
				}
			}
		}
		slices.Sort(universe)
		universe = slices.Compact(universe)
		if len(universe) > maxUniverse {
			return nil, nil, fmt.Errorf("%w: set universe of %d elements", ErrUnsat, len(universe))
		}
	}

	width := 1
	for _, n := range consts {
		width = max(width, bitsNeeded(n))
	}
	for i := range vars {
		if kindOf(vars[i].Type) == kindInt && vars[i].Known == nil {
			width = max(width, varWidth(&vars[i]))
		}
	}
	enc := newEncoder(width+2, universe)

	terms := make(map[ir.VarRef]term, len(vars))
	decoders := make(map[ir.VarRef]decodeFunc)
	for i := range vars {
		v := &vars[i]
		if c, ok := knowns[v.Ref]; ok {
			terms[v.Ref] = enc.constTerm(c)
			continue
		}
		t, dec := enc.variable(v, domains[v.Ref])
		terms[v.Ref] = t
		decoders[v.Ref] = dec
	}

	for _, p := range parsed {
		env := make(map[string]term, len(p.c.Vars))
		for sym, ref := range p.c.Vars {
			if t, ok := terms[ref]; ok {
				env[sym] = t
			}
		}
		t, err := enc.compile(p.expr, env)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrInvalid, p.c.Predicate, err)
		}
		if t.kind != kindBool {
			return nil, nil, fmt.Errorf("%w: %s is %s, not bool", ErrInvalid, p.c.Predicate, t.kind)
		}
		enc.require(t.b)
	}
	return enc, decoders, nil
}

// bitsNeeded is the two's complement width that holds n.
func bitsNeeded(n int64) int {
	for w := 1; w < 64; w++ {
		lo, hi := -(int64(1) << (w - 1)), int64(1)<<(w-1)-1
		if n >= lo && n <= hi {
			return w
		}
	}
	return 64
}

func varWidth(v *Var) int {
	w := v.Width
	if w <= 0 {
		w = DefaultWidth
	}
	w = min(w, MaxWidth)
	if v.Min != nil {
		w = max(w, bitsNeeded(*v.Min))
	}
	if v.Max != nil {
		w = max(w, bitsNeeded(*v.Max))
	}
	return w
}

// intBits allocates w fresh bits and returns them with a decoder.
func (e *encoder) intBits(w int) ([]bit, func(map[string]bool) int64) {
	names := make([]string, w)
	bits := make([]bit, w)
	for i := range bits {
		names[i], bits[i] = e.fresh("v")
	}
	return bits, func(m map[string]bool) int64 {
		var n int64
		for i := 0; i < w-1; i++ {
			if m[names[i]] {
				n |= int64(1) << i
			}
		}
		if m[names[w-1]] {
			n |= ^int64(0) << (w - 1)
		}
		return n
	}
}

// selectors allocates one-hot choice bits over n alternatives.
func (e *encoder) selectors(n int) ([]bit, func(map[string]bool) int) {
	names := make([]string, n)
	sel := make([]bit, n)
	for i := range sel {
		names[i], sel[i] = e.fresh("s")
	}
	e.exactlyOne(names)
	return sel, func(m map[string]bool) int {
		for i, name := range names {
			if m[name] {
				return i
			}
		}
		return 0
	}
}

// variable encodes an unknown. dom, when non-nil, is its finite domain.
func (e *encoder) variable(v *Var, dom []concrete) (term, decodeFunc) {
	kind := kindOf(v.Type)

	if dom != nil {
		sel, chosen := e.selectors(len(dom))
		pick := func(m map[string]bool) ir.Value { return v.Candidates[candidateIndex(v, dom, chosen(m))] }
		switch kind {
		case kindStr:
			vals := make([]string, len(dom))
			for i, c := range dom {
				vals[i] = c.s
			}
			return term{kind: kindStr, s: strTerm{sel: sel, vals: vals}}, pick
		case kindBool:
			b := e.or(bitsWhere(sel, dom, func(c concrete) bool { return c.b })...)
			return term{kind: kindBool, b: b}, pick
		case kindInt:
			w := 1
			for _, c := range dom {
				w = max(w, bitsNeeded(c.i))
			}
			bits, _ := e.intBits(w)
			t := e.extend(bits)
			for i, c := range dom {
				e.require(e.implies(sel[i], e.eqInt(t, e.constInt(c.i))))
			}
			return term{kind: kindInt, i: t}, pick
		default:
			t := make(setTerm, len(e.universe))
			for j, n := range e.universe {
				t[j] = e.or(bitsWhere(sel, dom, func(c concrete) bool { return slices.Contains(c.set, n) })...)
			}
			return term{kind: kindSet, set: t}, pick
		}
	}

	switch kind {
	case kindBool:
		name, b := e.fresh("v")
		return term{kind: kindBool, b: b}, func(m map[string]bool) ir.Value { return ir.Bool(m[name]) }
	case kindInt:
		bits, decode := e.intBits(varWidth(v))
		t := e.extend(bits)
		if v.Min != nil {
			e.require(not(e.slt(t, e.constInt(*v.Min))))
		}
		if v.Max != nil {
			e.require(not(e.slt(e.constInt(*v.Max), t)))
		}
		return term{kind: kindInt, i: t}, func(m map[string]bool) ir.Value { return ir.Int(decode(m)) }
	default:
		names := make([]string, len(e.universe))
		t := make(setTerm, len(e.universe))
		for j, n := range e.universe {
			if (v.Min != nil && n < *v.Min) || (v.Max != nil && n > *v.Max) {
				t[j] = bFalse
				continue
			}
			names[j], t[j] = e.fresh("m")
		}
		if v.MaxLen > 0 {
			e.atMost(t, v.MaxLen)
		}
		universe := e.universe
		return term{kind: kindSet, set: t}, func(m map[string]bool) ir.Value {
			var elems []int64
			for j, name := range names {
				if name != "" && m[name] {
					elems = append(elems, universe[j])
				}
			}
			return ir.NewIntSet(elems...)
		}
	}
}

func bitsWhere(sel []bit, dom []concrete, pred func(concrete) bool) []bit {
	var out []bit
	for i, c := range dom {
		if pred(c) {
			out = append(out, sel[i])
		}
	}
	return out
}

// candidateIndex maps a position in the parsed domain back to v.Candidates,
// which may contain entries that did not parse.
func candidateIndex(v *Var, dom []concrete, k int) int {
	kind := kindOf(v.Type)
	seen := 0
	for i, cand := range v.Candidates {
		c, err := concreteOf(cand, v.Type)
		if err != nil || c.kind != kind {
			continue
		}
		if seen == k {
			return i
		}
		seen++
	}
	return 0
}
