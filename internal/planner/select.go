package planner

import (
	"fmt"
	"slices"

	"github.com/roach88/scriptfuzz/internal/ir"
)

// pick selects the next API. In relation modes it follows a weak edge of
// the previous call with probability WeakBias.
func (s *Sequence) pick() (string, bool) {
	cfg := s.p.cfg
	if s.mode.UsesRelations() && len(s.calls) > 0 && s.r.Float64() < cfg.WeakBias {
		prev := s.calls[len(s.calls)-1].API
		if api, ok := s.p.graph.PickNeighbor(prev, cfg.TopK, s.r, s.selectable); ok {
			return api, true
		}
	}
	return s.uniform(s.p.eligible)
}

func (s *Sequence) selectable(api string) bool {
	return !s.p.lists.Blocked(api) && s.usage.allowed(api)
}

func (s *Sequence) uniform(from []string) (string, bool) {
	var open []string
	for _, api := range from {
		if s.usage.allowed(api) {
			open = append(open, api)
		}
	}
	if len(open) == 0 {
		return "", false
	}
	return open[s.r.Intn(len(open))], true
}

// receivers returns the expressions addressing object: its static
// instances followed by variables bound by earlier calls.
func (s *Sequence) receivers(object string, nested bool) []string {
	out := s.p.store.Instances(object)
	if !nested {
		out = append(out, s.bound[object]...)
	}
	return out
}

// instanceArg fills a ref parameter. The parameter's grammar field names
// the object it refers to; without one any object will do.
func (s *Sequence) instanceArg(prm *ir.Parameter, nested bool) ir.Arg {
	var pool []string
	if prm.Grammar != "" {
		pool = s.receivers(prm.Grammar, nested)
	} else {
		for _, obj := range s.p.store.Objects() {
			pool = append(pool, s.receivers(obj, nested)...)
		}
	}
	if len(pool) == 0 {
		pool = []string{"this"}
	}
	return ir.Arg{Param: prm.Name, Value: ir.Ref(pool[s.r.Intn(len(pool))]), Source: ir.SourceInstance}
}

// hookArg fills a script parameter with nested grammar-only calls. Nested
// calls count toward the limit list. A hook may end short when nothing
// more can be selected.
func (s *Sequence) hookArg(prm *ir.Parameter) (ir.Arg, error) {
	cfg := s.p.cfg
	n := cfg.HookMin + s.r.Intn(cfg.HookMax-cfg.HookMin+1)
	hook := make(ir.Script, 0, n)
	for len(hook) < n {
		var call *ir.CallInstance
		for try := 0; try < cfg.MaxCallAttempts && call == nil; try++ {
			api, ok := s.uniform(s.p.hookable)
			if !ok {
				break
			}
			snap := s.usage.snapshot()
			c, err := s.nestedCall(api, len(hook))
			if err != nil {
				s.usage.restore(snap)
				continue
			}
			call = c
		}
		if call == nil {
			break
		}
		hook = append(hook, *call)
	}
	if len(hook) == 0 && n > 0 {
		return ir.Arg{}, fmt.Errorf("parameter %s: no hook call could be generated", prm.Name)
	}
	return ir.Arg{Param: prm.Name, Value: hook, Source: ir.SourceHook}, nil
}

func (s *Sequence) nestedCall(api string, index int) (*ir.CallInstance, error) {
	def, _ := s.p.store.API(api)
	s.usage.take(api)
	call := &ir.CallInstance{
		Index:    index,
		API:      api,
		Receiver: s.pickOne(s.receivers(def.Object, true)),
		Mode:     ir.ModeGrammarOnly,
	}
	for i := range def.Parameters {
		prm := &def.Parameters[i]
		switch {
		case prm.Type == ir.TypeRef:
			call.Args = append(call.Args, s.instanceArg(prm, true))
		case prm.Type.Grammared():
			v, err := s.sample(prm)
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, ir.Arg{Param: prm.Name, Value: v, Source: ir.SourceGrammar})
		default:
			return nil, fmt.Errorf("parameter %s: %s not allowed in a hook", prm.Name, prm.Type)
		}
	}
	return call, nil
}

func (s *Sequence) pickOne(from []string) string {
	return from[s.r.Intn(len(from))]
}

// hasParam reports whether api declares a parameter of type t.
func hasParam(api *ir.APISpec, t ir.TypeTag) bool {
	return slices.ContainsFunc(api.Parameters, func(p ir.Parameter) bool { return p.Type == t })
}
