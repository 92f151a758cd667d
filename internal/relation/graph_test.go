package relation

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scriptfuzz/internal/ir"
)

type specMap map[string]*ir.APISpec

func (m specMap) API(name string) (*ir.APISpec, bool) {
	a, ok := m[name]
	return a, ok
}

func testSpecs() specMap {
	intParam := func(name string) ir.Parameter {
		return ir.Parameter{Name: name, Type: ir.TypeInteger, Grammar: "int"}
	}
	return specMap{
		"A.m":    {Name: "A.m", Parameters: []ir.Parameter{intParam("x")}},
		"B.n":    {Name: "B.n", Parameters: []ir.Parameter{intParam("y")}},
		"C.o":    {Name: "C.o", Parameters: []ir.Parameter{intParam("z")}},
		"D.hook": {Name: "D.hook", Parameters: []ir.Parameter{{Name: "cb", Type: ir.TypeScript}}},
	}
}

func call(index int, api, param string, v int64) ir.CallInstance {
	return ir.CallInstance{
		Index: index,
		API:   api,
		Args:  []ir.Arg{{Param: param, Value: ir.Int(v), Source: ir.SourceGrammar}},
	}
}

func TestWeakNeighborsSortedByScore(t *testing.T) {
	doc := &ir.RelationsDocument{Weak: []ir.WeakEdge{
		{A: "A.m", B: "B.n", Score: 0.2},
		{A: "C.o", B: "A.m", Score: 0.9},
		{A: "A.m", B: "B.n", Score: 0.5}, // duplicate keeps the higher score
	}}
	g, err := New(doc, testSpecs())
	require.NoError(t, err)

	assert.Equal(t, []Neighbor{{API: "C.o", Score: 0.9}, {API: "B.n", Score: 0.5}}, g.WeakNeighbors("A.m"))
	assert.Equal(t, []Neighbor{{API: "A.m", Score: 0.5}}, g.WeakNeighbors("B.n"), "weak edges are unordered")
	assert.Empty(t, g.WeakNeighbors("D.hook"))

	weak, strong, skipped := g.Stats()
	assert.Equal(t, 3, weak)
	assert.Zero(t, strong)
	assert.Zero(t, skipped)
}

func TestPickNeighborRespectsTopKAndEligibility(t *testing.T) {
	doc := &ir.RelationsDocument{Weak: []ir.WeakEdge{
		{A: "A.m", B: "B.n", Score: 3},
		{A: "A.m", B: "C.o", Score: 2},
		{A: "A.m", B: "D.hook", Score: 1},
	}}
	g, err := New(doc, testSpecs())
	require.NoError(t, err)
	r := rand.New(rand.NewSource(1))

	counts := map[string]int{}
	for i := 0; i < 2000; i++ {
		api, ok := g.PickNeighbor("A.m", 2, r, nil)
		require.True(t, ok)
		counts[api]++
	}
	assert.Zero(t, counts["D.hook"], "outside top-K")
	assert.Greater(t, counts["B.n"], counts["C.o"], "proportional to score")

	api, ok := g.PickNeighbor("A.m", 2, r, func(s string) bool { return s == "D.hook" })
	require.True(t, ok)
	assert.Equal(t, "D.hook", api)

	_, ok = g.PickNeighbor("A.m", 2, r, func(string) bool { return false })
	assert.False(t, ok)
}

// TestStrongConstraintsDeferred covers an edge whose other endpoint is not
// yet placed: no constraint until it appears.
func TestStrongConstraintsDeferred(t *testing.T) {
	doc := &ir.RelationsDocument{Strong: []ir.StrongEdge{
		{A: "A.m.x", B: "B.n.y", Predicate: "(= x y)"},
	}}
	g, err := New(doc, testSpecs())
	require.NoError(t, err)

	assert.Empty(t, g.StrongConstraints("B.n", "y", 0, nil))

	prefix := []ir.CallInstance{call(0, "C.o", "z", 1), call(1, "A.m", "x", 5), call(2, "A.m", "x", 7)}
	cons := g.StrongConstraints("B.n", "y", 3, prefix)
	require.Len(t, cons, 1)
	assert.Equal(t, "(= x y)", cons[0].Predicate)
	assert.Equal(t, ir.TypeInteger, cons[0].Type)
	assert.Equal(t, map[string]ir.VarRef{
		"x": {Index: 2, Param: "x"}, // most recent occurrence
		"y": {Index: 3, Param: "y"},
	}, cons[0].Vars)

	// Unordered edges also apply when B comes first.
	cons = g.StrongConstraints("A.m", "x", 1, []ir.CallInstance{call(0, "B.n", "y", 4)})
	require.Len(t, cons, 1)
	assert.Equal(t, ir.VarRef{Index: 0, Param: "y"}, cons[0].Vars["y"])
}

func TestStrongConstraintsOrdered(t *testing.T) {
	doc := &ir.RelationsDocument{Strong: []ir.StrongEdge{
		{A: "A.m.x", B: "B.n.y", Predicate: "(< a b)", SymbolA: "a", SymbolB: "b", Ordered: true},
	}}
	g, err := New(doc, testSpecs())
	require.NoError(t, err)

	assert.Empty(t, g.StrongConstraints("A.m", "x", 1, []ir.CallInstance{call(0, "B.n", "y", 4)}))

	cons := g.StrongConstraints("B.n", "y", 1, []ir.CallInstance{call(0, "A.m", "x", 4)})
	require.Len(t, cons, 1)
	assert.Equal(t, ir.VarRef{Index: 0, Param: "x"}, cons[0].Vars["a"])
}

func TestDropped(t *testing.T) {
	doc := &ir.RelationsDocument{Strong: []ir.StrongEdge{
		{A: "A.m.x", B: "B.n.y", Predicate: "(= x y)"},
		{A: "A.m.x", B: "C.o.z", Predicate: "(> x y)"},
	}}
	g, err := New(doc, testSpecs())
	require.NoError(t, err)

	calls := []ir.CallInstance{call(0, "A.m", "x", 1), call(1, "B.n", "y", 1)}
	assert.Equal(t, []int{1}, g.Dropped(calls))
	assert.Len(t, g.Instantiate(calls), 1)
	assert.Empty(t, g.Dropped([]ir.CallInstance{call(0, "D.hook", "cb", 0)}))
}

func TestNewSkipsNonePredicate(t *testing.T) {
	doc := &ir.RelationsDocument{Strong: []ir.StrongEdge{
		{A: "A.m.x", B: "B.n.y", Predicate: "none"},
	}}
	g, err := New(doc, testSpecs())
	require.NoError(t, err)

	_, strong, skipped := g.Stats()
	assert.Zero(t, strong)
	assert.Equal(t, 1, skipped)
}

func TestNewRejectsUnknownEndpoints(t *testing.T) {
	tests := []struct {
		name string
		doc  *ir.RelationsDocument
	}{
		{"weak api", &ir.RelationsDocument{Weak: []ir.WeakEdge{{A: "A.m", B: "Z.q", Score: 1}}}},
		{"strong param", &ir.RelationsDocument{Strong: []ir.StrongEdge{{A: "A.m.q", B: "B.n.y", Predicate: "(= x y)"}}}},
		{"strong script", &ir.RelationsDocument{Strong: []ir.StrongEdge{{A: "A.m.x", B: "D.hook.cb", Predicate: "(= x y)"}}}},
		{"same symbols", &ir.RelationsDocument{Strong: []ir.StrongEdge{{A: "A.m.x", B: "B.n.y", Predicate: "(= s s)", SymbolA: "s", SymbolB: "s"}}}},
		{"malformed", &ir.RelationsDocument{Strong: []ir.StrongEdge{{A: "x", B: "B.n.y", Predicate: "(= x y)"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.doc, testSpecs())
			assert.Error(t, err)

			g, err := New(tt.doc, testSpecs(), WithLenient(true))
			require.NoError(t, err)
			_, _, skipped := g.Stats()
			assert.Equal(t, 1, skipped)
		})
	}
}
