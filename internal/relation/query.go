package relation

import (
	"slices"

	"github.com/roach88/scriptfuzz/internal/ir"
)

// RandomSource is the subset of *rand.Rand used for neighbour sampling.
type RandomSource interface {
	Float64() float64
}

// WeakNeighbors returns the weakly related APIs of api, by descending score.
func (g *Graph) WeakNeighbors(api string) []Neighbor {
	return slices.Clone(g.weak[api])
}

// PickNeighbor samples a neighbour of api among the top-K eligible ones with
// probability proportional to score. It reports false when api has no
// eligible neighbour.
func (g *Graph) PickNeighbor(api string, topK int, r RandomSource, eligible func(string) bool) (string, bool) {
	var top []Neighbor
	for _, n := range g.weak[api] {
		if eligible != nil && !eligible(n.API) {
			continue
		}
		top = append(top, n)
		if topK > 0 && len(top) == topK {
			break
		}
	}
	if len(top) == 0 {
		return "", false
	}

	total := 0.0
	for _, n := range top {
		total += max(n.Score, 0)
	}
	if total == 0 {
		return top[int(r.Float64()*float64(len(top)))%len(top)].API, true
	}
	x := r.Float64() * total
	for _, n := range top {
		x -= max(n.Score, 0)
		if x < 0 {
			return n.API, true
		}
	}
	return top[len(top)-1].API, true
}

// role is one side of an edge as seen from the call being resolved.
type role struct {
	self, other       Endpoint
	selfSym, otherSym string
}

func (g *Graph) roles(e *StrongEdge, cur Endpoint) []role {
	var out []role
	// As B, the other endpoint A is earlier: always in declared order.
	if e.B == cur {
		out = append(out, role{self: e.B, other: e.A, selfSym: e.SymbolB, otherSym: e.SymbolA})
	}
	if e.A == cur && !e.Ordered {
		out = append(out, role{self: e.A, other: e.B, selfSym: e.SymbolA, otherSym: e.SymbolB})
	}
	return out
}

// StrongConstraints returns the constraints on parameter param of the call
// to api at index whose other endpoint is already placed in prefix. The
// other endpoint binds to its most recent occurrence. Edges whose other
// endpoint is not yet placed are left for later calls.
func (g *Graph) StrongConstraints(api, param string, index int, prefix []ir.CallInstance) []ir.Constraint {
	cur := Endpoint{API: api, Param: param}
	var out []ir.Constraint
	for _, e := range g.byParam[cur] {
		for _, r := range g.roles(e, cur) {
			j := lastOccurrence(prefix, index, r.other)
			if j < 0 {
				continue
			}
			out = append(out, ir.Constraint{
				Edge:      e.ID,
				Predicate: e.Predicate,
				Type:      e.Type,
				Vars: map[string]ir.VarRef{
					r.selfSym:  {Index: index, Param: param},
					r.otherSym: {Index: prefix[j].Index, Param: r.other.Param},
				},
			})
		}
	}
	return out
}

// lastOccurrence finds the latest call before index matching ep.
func lastOccurrence(prefix []ir.CallInstance, index int, ep Endpoint) int {
	for j := len(prefix) - 1; j >= 0; j-- {
		c := &prefix[j]
		if c.Index >= index || c.API != ep.API {
			continue
		}
		if _, ok := c.Arg(ep.Param); ok {
			return j
		}
	}
	return -1
}

// Instantiate returns every constraint a finished sequence must satisfy:
// for each call and parameter, the constraints against its prefix.
func (g *Graph) Instantiate(calls []ir.CallInstance) []ir.Constraint {
	var out []ir.Constraint
	for i := range calls {
		c := &calls[i]
		for _, a := range c.Args {
			out = append(out, g.StrongConstraints(c.API, a.Param, c.Index, calls[:i])...)
		}
	}
	return out
}

// Dropped returns the IDs of strong edges touching the sequence that never
// became a constraint because their second endpoint did not appear.
func (g *Graph) Dropped(calls []ir.CallInstance) []int {
	touched := make(map[int]bool)
	for i := range calls {
		for _, e := range g.byAPI[calls[i].API] {
			touched[e.ID] = true
		}
	}
	if len(touched) == 0 {
		return nil
	}
	formed := make(map[int]bool)
	for _, c := range g.Instantiate(calls) {
		formed[c.Edge] = true
	}
	var out []int
	for id := range touched {
		if !formed[id] {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}
