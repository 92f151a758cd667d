package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scriptfuzz/internal/ir"
	"github.com/roach88/scriptfuzz/internal/relation"
	"github.com/roach88/scriptfuzz/internal/spec"
)

// checkSound asserts that every call left in symbolic mode satisfies all
// constraints against its prefix.
func checkSound(t *testing.T, f fixture, tc *ir.TestCase) (checked int) {
	t.Helper()
	values := map[ir.VarRef]ir.Value{}
	for _, c := range tc.Calls {
		for _, a := range c.Args {
			values[ir.VarRef{Index: c.Index, Param: a.Param}] = a.Value
		}
	}
	for i, c := range tc.Calls {
		if c.Mode != ir.ModeRelationSymbolic {
			continue
		}
		for _, a := range c.Args {
			for _, con := range f.graph.StrongConstraints(c.API, a.Param, c.Index, tc.Calls[:i]) {
				ok, err := f.solver.Check(con, values)
				require.NoError(t, err)
				assert.True(t, ok, "call %d %s: %s", c.Index, c.API, con.Predicate)
				checked++
			}
		}
	}
	return checked
}

func TestSymbolicEqualityEdge(t *testing.T) {
	f := loadFixture(t)
	p := f.planner(t, config(400), nil)

	enforced := 0
	for seed := int64(0); seed < 10; seed++ {
		tc, err := p.Plan(context.Background(), 0, seed, ir.ModeRelationSymbolic)
		require.NoError(t, err)

		lastName := ir.Value(nil)
		for _, c := range tc.Calls {
			switch c.API {
			case "Doc.getField":
				a, _ := c.Arg("cName")
				lastName = a.Value
			case "Doc.removeField":
				if lastName == nil {
					continue
				}
				a, _ := c.Arg("cName")
				assert.Equal(t, lastName, a.Value, "seed %d call %d", seed, c.Index)
				assert.Equal(t, ir.SourceSolver, a.Source)
				enforced++
			}
		}
	}
	assert.Positive(t, enforced)
}

func TestSymbolicConstraintsAreSound(t *testing.T) {
	f := loadFixture(t)
	p := f.planner(t, config(500), nil)

	checked := 0
	for seed := int64(0); seed < 10; seed++ {
		tc, err := p.Plan(context.Background(), 0, seed, ir.ModeRelationSymbolic)
		require.NoError(t, err)
		checked += checkSound(t, f, tc)
	}
	assert.Positive(t, checked)
}

func TestSymbolicFallbacksAreCounted(t *testing.T) {
	f := loadFixture(t)
	p := f.planner(t, config(500), nil)

	total := 0
	for seed := int64(0); seed < 10; seed++ {
		tc, err := p.Plan(context.Background(), 0, seed, ir.ModeRelationSymbolic)
		require.NoError(t, err)

		degraded := 0
		for _, c := range tc.Calls {
			if c.Mode == ir.ModeRelation {
				degraded++
				// zoom after a page number of ten or more has no solution
				assert.Equal(t, "Doc.zoom", c.API)
			}
		}
		assert.Equal(t, degraded, tc.Fallbacks, "seed %d", seed)
		total += tc.Fallbacks
	}
	assert.Positive(t, total)
}

func TestRelationModeIgnoresStrongEdges(t *testing.T) {
	f := loadFixture(t)
	p := f.planner(t, config(300), nil)

	tc, err := p.Plan(context.Background(), 0, 2, ir.ModeRelation)
	require.NoError(t, err)
	assert.Zero(t, tc.Fallbacks)
	assert.Zero(t, tc.Dropped)
	for _, c := range flatten(tc.Calls) {
		for _, a := range c.Args {
			assert.NotEqual(t, ir.SourceSolver, a.Source)
		}
	}
}

func TestDroppedEdges(t *testing.T) {
	f := loadFixture(t)
	p := f.planner(t, config(1), nil)

	// A single call can never complete an edge.
	for seed := int64(0); seed < 40; seed++ {
		tc, err := p.Plan(context.Background(), 0, seed, ir.ModeRelationSymbolic)
		require.NoError(t, err)
		want := 0
		switch tc.Calls[0].API {
		case "Doc.getField", "Doc.removeField", "Doc.zoom", "app.setTimeOut":
			want = 1
		case "Doc.pageNum":
			want = 2
		}
		assert.Equal(t, want, tc.Dropped, tc.Calls[0].API)
	}
}

// retroFixture is a two-call system: set.v in [0, 20] must equal
// check.w in [0, 5].
func retroFixture(t *testing.T, policy RetroPolicy) (*Planner, fixture) {
	t.Helper()
	lo, hi, tiny := int64(0), int64(20), int64(5)
	store, err := spec.New(&ir.SpecDocument{
		APIs: map[string]ir.APIDef{
			"A.set":   {Parameters: []ir.Parameter{{Name: "v", Type: ir.TypeInteger, Grammar: "wide"}}},
			"A.check": {Parameters: []ir.Parameter{{Name: "w", Type: ir.TypeInteger, Grammar: "narrow"}}},
		},
		Grammars: map[string]ir.GrammarDef{
			"wide":   {Kind: "int", Min: &lo, Max: &hi},
			"narrow": {Kind: "int", Min: &lo, Max: &tiny},
		},
	})
	require.NoError(t, err)
	g, err := relation.New(&ir.RelationsDocument{
		Strong: []ir.StrongEdge{{A: "A.set.v", B: "A.check.w", Predicate: "(= x y)", Ordered: true}},
	}, store)
	require.NoError(t, err)

	f := fixture{store: store, graph: g}
	cfg := config(2)
	cfg.RetroPolicy = policy
	p, err := New(store, WithConfig(cfg), WithGraph(g))
	require.NoError(t, err)
	f.solver = p.solver
	return p, f
}

// seedFallback places A.set with v=15 as if its own solve had timed out.
func seedFallback(t *testing.T, p *Planner) *Sequence {
	t.Helper()
	seq, err := p.Begin(0, 1, ir.ModeRelationSymbolic)
	require.NoError(t, err)
	seq.state = StateBuilding
	seq.calls = append(seq.calls, ir.CallInstance{
		Index: 0, API: "A.set", Receiver: "A", Mode: ir.ModeRelation,
		Args: []ir.Arg{{Param: "v", Value: ir.Int(15), Source: ir.SourceGrammar}},
	})
	ref := ir.VarRef{Index: 0, Param: "v"}
	seq.fallbackRefs[ref] = true
	seq.fallbackCalls[0] = 1
	return seq
}

func TestRetroResolveRewritesEarlierFallback(t *testing.T) {
	p, f := retroFixture(t, RetroResolve)
	seq := seedFallback(t, p)

	call, err := seq.buildCall(context.Background(), "A.check", 1)
	require.NoError(t, err)
	assert.Equal(t, ir.ModeRelationSymbolic, call.Mode)

	w, _ := call.Arg("w")
	v, _ := seq.calls[0].Arg("v")
	assert.Equal(t, ir.SourceSolver, w.Source)
	assert.Equal(t, ir.SourceSolver, v.Source)
	assert.Equal(t, v.Value, w.Value)
	assert.LessOrEqual(t, int64(w.Value.(ir.Int)), int64(5))

	assert.Equal(t, ir.ModeRelationSymbolic, seq.calls[0].Mode)
	assert.Empty(t, seq.fallbackCalls)
	assert.Empty(t, seq.fallbackRefs)

	seq.calls = append(seq.calls, *call)
	seq.state = StateComplete
	tc, err := seq.TestCase()
	require.NoError(t, err)
	assert.Zero(t, tc.Fallbacks)
	assert.Positive(t, checkSound(t, f, tc))
}

func TestRetroAcceptKeepsEarlierValue(t *testing.T) {
	p, _ := retroFixture(t, RetroAccept)
	seq := seedFallback(t, p)

	call, err := seq.buildCall(context.Background(), "A.check", 1)
	require.NoError(t, err)
	assert.Equal(t, ir.ModeRelation, call.Mode)

	w, _ := call.Arg("w")
	assert.Equal(t, ir.SourceGrammar, w.Source)
	v, _ := seq.calls[0].Arg("v")
	assert.Equal(t, ir.Int(15), v.Value)
	assert.Len(t, seq.fallbackCalls, 2)
}

func TestRefsOfIsOrdered(t *testing.T) {
	c := ir.Constraint{Vars: map[string]ir.VarRef{
		"y": {Index: 4, Param: "b"},
		"x": {Index: 2, Param: "a"},
	}}
	assert.Equal(t, []ir.VarRef{{Index: 2, Param: "a"}, {Index: 4, Param: "b"}}, refsOf(c))
	assert.Equal(t, ir.VarRef{Index: 4, Param: "b"}, owner(c))
}

func TestUsageSnapshot(t *testing.T) {
	u := newUsage(nil)
	u.take("a.b")
	snap := u.snapshot()
	u.take("a.b")
	assert.Equal(t, 2, u.counts["a.b"])
	u.restore(snap)
	assert.Equal(t, 1, u.counts["a.b"])

	a := attempts{max: 2}
	assert.NoError(t, a.fail(0))
	err := a.fail(0)
	assert.True(t, IsAttemptsExceeded(err))
	assert.Equal(t, 2, err.(*AttemptsExceededError).Attempts)
}
