package planner

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/scriptfuzz/internal/grammar"
	"github.com/roach88/scriptfuzz/internal/ir"
	"github.com/roach88/scriptfuzz/internal/solver"
)

// buildCall generates the call to api at position index.
func (s *Sequence) buildCall(ctx context.Context, api string, index int) (*ir.CallInstance, error) {
	def, ok := s.p.store.API(api)
	if !ok {
		return nil, &callError{api: api, err: fmt.Errorf("unknown api")}
	}
	s.usage.take(api)

	call := &ir.CallInstance{
		Index:    index,
		API:      api,
		Receiver: s.pickOne(s.receivers(def.Object, false)),
		Mode:     s.mode,
	}
	if def.ReturnType != "" && s.p.store.IsObject(def.ReturnType) {
		call.Bind = fmt.Sprintf("v%d", index)
	}

	var fellBack []ir.VarRef
	for i := range def.Parameters {
		prm := &def.Parameters[i]
		switch {
		case prm.Type == ir.TypeRef:
			call.Args = append(call.Args, s.instanceArg(prm, false))
		case prm.Type == ir.TypeScript:
			arg, err := s.hookArg(prm)
			if err != nil {
				return nil, &callError{api: api, err: err}
			}
			call.Args = append(call.Args, arg)
		default:
			arg, fallback, err := s.resolveParam(ctx, call, prm)
			if err != nil {
				return nil, &callError{api: api, err: err}
			}
			if fallback {
				fellBack = append(fellBack, ir.VarRef{Index: index, Param: prm.Name})
			}
			call.Args = append(call.Args, arg)
		}
	}

	if s.r.Float64() < s.p.cfg.LoopProbability {
		call.Repeat = 1 + s.r.Intn(2)
	}
	if len(fellBack) > 0 {
		call.Mode = ir.ModeRelation
		s.fallbackCalls[index] = len(fellBack)
		for _, ref := range fellBack {
			s.fallbackRefs[ref] = true
		}
	}
	return call, nil
}

func (s *Sequence) depth() int {
	if s.p.cfg.MaxDepth <= 0 {
		return grammar.DefaultDepth
	}
	return s.p.cfg.MaxDepth
}

// sample draws a grammar value for prm.
func (s *Sequence) sample(prm *ir.Parameter) (ir.Value, error) {
	v, err := s.p.store.Grammar().SampleFrom(prm.Grammar, s.r, s.depth())
	if err != nil {
		return nil, fmt.Errorf("parameter %s: %w", prm.Name, err)
	}
	return v, nil
}

// resolveParam fills one grammar-backed parameter. In symbolic mode a
// parameter with strong constraints against the prefix is solved; when the
// solver gives up the value is sampled and fallback is true.
func (s *Sequence) resolveParam(ctx context.Context, call *ir.CallInstance, prm *ir.Parameter) (ir.Arg, bool, error) {
	var cons []ir.Constraint
	if s.mode.Symbolic() {
		cons = s.p.graph.StrongConstraints(call.API, prm.Name, call.Index, s.calls)
	}
	if len(cons) == 0 {
		v, err := s.sample(prm)
		return ir.Arg{Param: prm.Name, Value: v, Source: ir.SourceGrammar}, false, err
	}

	self := ir.VarRef{Index: call.Index, Param: prm.Name}
	v, err := s.solve(ctx, self, prm, cons)
	if err == nil {
		return ir.Arg{Param: prm.Name, Value: v, Source: ir.SourceSolver}, false, nil
	}
	if errors.Is(err, context.Canceled) {
		return ir.Arg{}, false, err
	}
	if solver.IsUnsat(err) && s.p.cfg.RetroPolicy == RetroResolve {
		if v, ok := s.retroResolve(ctx, self, prm, cons); ok {
			return ir.Arg{Param: prm.Name, Value: v, Source: ir.SourceSolver}, false, nil
		}
	}

	s.p.logger.Debug("solver fallback",
		"index", call.Index,
		"api", call.API,
		"param", prm.Name,
		"constraints", len(cons),
		"error", err)
	v, serr := s.sample(prm)
	if serr != nil {
		return ir.Arg{}, false, serr
	}
	return ir.Arg{Param: prm.Name, Value: v, Source: ir.SourceGrammar}, true, nil
}

func (s *Sequence) solve(ctx context.Context, self ir.VarRef, prm *ir.Parameter, cons []ir.Constraint) (ir.Value, error) {
	vars, err := s.variables(map[ir.VarRef]*ir.Parameter{self: prm}, cons)
	if err != nil {
		return nil, err
	}
	a, err := s.p.solver.Solve(ctx, vars, cons)
	if err != nil {
		return nil, err
	}
	return a[self], nil
}

// retroResolve frees the earlier parameters of cons that were grammar
// fallbacks and solves them jointly with the new parameter and every
// enforced constraint touching them. Fallbacks reached through those
// constraints are freed as well. On success the earlier calls are
// rewritten in place and regain the sequence mode.
func (s *Sequence) retroResolve(ctx context.Context, self ir.VarRef, prm *ir.Parameter, cons []ir.Constraint) (ir.Value, bool) {
	free := map[ir.VarRef]*ir.Parameter{self: prm}
	queue := []ir.VarRef{}
	for _, c := range cons {
		for _, ref := range refsOf(c) {
			if s.fallbackRefs[ref] && free[ref] == nil {
				free[ref] = s.paramOf(ref)
				queue = append(queue, ref)
			}
		}
	}
	if len(queue) == 0 {
		return nil, false
	}

	prefix := s.p.graph.Instantiate(s.calls)
	joint := append([]ir.Constraint(nil), cons...)
	seen := make(map[int]bool)
	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		for i, c := range prefix {
			if seen[i] || !touches(c, ref) {
				continue
			}
			// Constraints owned by a fallback that stays fixed were never enforced.
			if o := owner(c); s.fallbackRefs[o] && free[o] == nil {
				continue
			}
			seen[i] = true
			joint = append(joint, c)
			for _, other := range refsOf(c) {
				if s.fallbackRefs[other] && free[other] == nil {
					free[other] = s.paramOf(other)
					queue = append(queue, other)
				}
			}
		}
	}

	vars, err := s.variables(free, joint)
	if err != nil {
		return nil, false
	}
	a, err := s.p.solver.Solve(ctx, vars, joint)
	if err != nil {
		s.p.logger.Debug("retro resolve failed", "freed", len(free)-1, "error", err)
		return nil, false
	}

	for ref, v := range a {
		if ref == self {
			continue
		}
		call := &s.calls[ref.Index]
		for i := range call.Args {
			if call.Args[i].Param == ref.Param {
				call.Args[i].Value = v
				call.Args[i].Source = ir.SourceSolver
			}
		}
		delete(s.fallbackRefs, ref)
		if s.fallbackCalls[ref.Index]--; s.fallbackCalls[ref.Index] <= 0 {
			delete(s.fallbackCalls, ref.Index)
			call.Mode = s.mode
		}
	}
	s.p.logger.Debug("retro resolved", "index", self.Index, "freed", len(free)-1)
	return a[self], true
}

// refsOf returns the variables of c ordered by predicate symbol, so that
// the solver sees the same problem for the same sequence.
func refsOf(c ir.Constraint) []ir.VarRef {
	syms := slices.Sorted(maps.Keys(c.Vars))
	out := make([]ir.VarRef, len(syms))
	for i, sym := range syms {
		out[i] = c.Vars[sym]
	}
	return out
}

// owner is the variable a constraint was generated for: the later one.
func owner(c ir.Constraint) ir.VarRef {
	var o ir.VarRef
	first := true
	for _, r := range refsOf(c) {
		if first || r.Index > o.Index {
			o, first = r, false
		}
	}
	return o
}

func touches(c ir.Constraint, ref ir.VarRef) bool {
	for _, r := range c.Vars {
		if r == ref {
			return true
		}
	}
	return false
}

func (s *Sequence) paramOf(ref ir.VarRef) *ir.Parameter {
	def, _ := s.p.store.API(s.calls[ref.Index].API)
	return def.Param(ref.Param)
}

// variables builds the solver variables for cons: the free parameters as
// unknowns and every other referenced argument as a known value.
func (s *Sequence) variables(free map[ir.VarRef]*ir.Parameter, cons []ir.Constraint) ([]solver.Var, error) {
	var vars []solver.Var
	seen := make(map[ir.VarRef]bool)
	var known []ir.Value

	for _, c := range cons {
		for _, ref := range refsOf(c) {
			if seen[ref] || free[ref] != nil {
				continue
			}
			seen[ref] = true
			if ref.Index >= len(s.calls) {
				return nil, fmt.Errorf("%w: %s is not placed", solver.ErrInvalid, ref)
			}
			arg, ok := s.calls[ref.Index].Arg(ref.Param)
			prm := s.paramOf(ref)
			if !ok || prm == nil {
				return nil, fmt.Errorf("%w: %s has no value", solver.ErrInvalid, ref)
			}
			vars = append(vars, solver.Var{Ref: ref, Type: prm.Type, Width: prm.Width, Known: arg.Value})
			known = append(known, arg.Value)
		}
	}
	for _, c := range cons {
		for _, ref := range refsOf(c) {
			if seen[ref] {
				continue
			}
			seen[ref] = true
			v, err := s.unknown(ref, free[ref], known)
			if err != nil {
				return nil, err
			}
			vars = append(vars, v)
		}
	}
	return vars, nil
}

// unknown describes a free parameter: ranged grammars bound the value,
// other grammars offer their enumerated words plus any known value they
// accept.
func (s *Sequence) unknown(ref ir.VarRef, prm *ir.Parameter, known []ir.Value) (solver.Var, error) {
	engine := s.p.store.Grammar()
	rule, ok := engine.Rule(prm.Grammar)
	if !ok {
		return solver.Var{}, fmt.Errorf("%w: %s", grammar.ErrUnknownRule, prm.Grammar)
	}
	depth := s.depth()
	v := solver.Var{
		Ref:     ref,
		Type:    prm.Type,
		Width:   prm.Width,
		Accepts: func(x ir.Value) bool { return engine.Accepts(prm.Grammar, x, depth) },
	}

	if rg, ok := rule.(grammar.Ranged); ok {
		lo, hi := rg.Range()
		if d := prm.Domain; d != nil {
			lo, hi = max(lo, d.Min), min(hi, d.Max)
		}
		if lo > hi {
			return solver.Var{}, fmt.Errorf("%w: %s has an empty domain", solver.ErrUnsat, ref)
		}
		v.Min, v.Max = &lo, &hi
		if sr, ok := rule.(interface{ MaxLen() int }); ok {
			v.MaxLen = sr.MaxLen()
		}
		return v, nil
	}
	if prm.Type == ir.TypeBoolean {
		return v, nil
	}

	words, err := engine.Enumerate(prm.Grammar, depth, s.p.cfg.DomainLimit)
	if err != nil {
		return solver.Var{}, err
	}
	for _, k := range known {
		if !containsValue(words, k) && engine.Accepts(prm.Grammar, k, depth) {
			words = append(words, k)
		}
	}
	v.Candidates = words
	return v, nil
}

func containsValue(vs []ir.Value, v ir.Value) bool {
	for _, x := range vs {
		if ir.Equal(x, v) {
			return true
		}
	}
	return false
}
