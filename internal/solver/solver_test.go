package solver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scriptfuzz/internal/ir"
)

func ptr(n int64) *int64 { return &n }

func ref(i int, p string) ir.VarRef { return ir.VarRef{Index: i, Param: p} }

func eqConstraint(pred string, a, b ir.VarRef) ir.Constraint {
	return ir.Constraint{Predicate: pred, Type: ir.TypeInteger, Vars: map[string]ir.VarRef{"x": a, "y": b}}
}

// TestSolveResolvesFromKnown covers A(x=5) followed by B(y=?) under x=y.
func TestSolveResolvesFromKnown(t *testing.T) {
	s := New()
	vars := []Var{
		{Ref: ref(0, "x"), Type: ir.TypeInteger, Known: ir.Int(5)},
		{Ref: ref(1, "y"), Type: ir.TypeInteger, Min: ptr(0), Max: ptr(100)},
	}
	got, err := s.Solve(context.Background(), vars, []ir.Constraint{eqConstraint("(= x y)", ref(0, "x"), ref(1, "y"))})
	require.NoError(t, err)
	assert.Equal(t, Assignment{ref(1, "y"): ir.Int(5)}, got)
}

func TestSolveArithmetic(t *testing.T) {
	s := New()
	tests := []struct {
		pred  string
		known int64
		check func(t *testing.T, y int64)
	}{
		{"(= y (+ x 3))", 4, func(t *testing.T, y int64) { assert.Equal(t, int64(7), y) }},
		{"(= y (- x 10))", 4, func(t *testing.T, y int64) { assert.Equal(t, int64(-6), y) }},
		{"(and (> y x) (< y (+ x 2)))", -3, func(t *testing.T, y int64) { assert.Equal(t, int64(-2), y) }},
		{"(or (= y 9) (= y -9))", 0, func(t *testing.T, y int64) { assert.Contains(t, []int64{9, -9}, y) }},
		{"(not (<= y x))", 20, func(t *testing.T, y int64) { assert.Greater(t, y, int64(20)) }},
	}
	for _, tt := range tests {
		t.Run(tt.pred, func(t *testing.T) {
			vars := []Var{
				{Ref: ref(0, "x"), Type: ir.TypeInteger, Known: ir.Int(tt.known)},
				{Ref: ref(1, "y"), Type: ir.TypeInteger, Width: 8},
			}
			got, err := s.Solve(context.Background(), vars, []ir.Constraint{eqConstraint(tt.pred, ref(0, "x"), ref(1, "y"))})
			require.NoError(t, err)
			tt.check(t, int64(got[ref(1, "y")].(ir.Int)))
		})
	}
}

func TestSolveRespectsDomain(t *testing.T) {
	s := New()
	vars := []Var{
		{Ref: ref(0, "x"), Type: ir.TypeInteger, Known: ir.Int(50)},
		{Ref: ref(1, "y"), Type: ir.TypeInteger, Min: ptr(0), Max: ptr(10)},
	}
	_, err := s.Solve(context.Background(), vars, []ir.Constraint{eqConstraint("(= x y)", ref(0, "x"), ref(1, "y"))})
	assert.True(t, IsUnsat(err))

	_, err = s.Solve(context.Background(), vars, []ir.Constraint{eqConstraint("(and (< y 3) (> y 5))", ref(0, "x"), ref(1, "y"))})
	assert.True(t, IsUnsat(err))
}

func TestSolveRawKnownValue(t *testing.T) {
	s := New()
	vars := []Var{
		{Ref: ref(0, "x"), Type: ir.TypeInteger, Known: ir.Raw(" 0x10 ")},
		{Ref: ref(1, "y"), Type: ir.TypeInteger},
	}
	got, err := s.Solve(context.Background(), vars, []ir.Constraint{eqConstraint("(= x y)", ref(0, "x"), ref(1, "y"))})
	require.NoError(t, err)
	assert.Equal(t, ir.Int(16), got[ref(1, "y")])
}

func TestSolveStringCandidates(t *testing.T) {
	s := New()
	vars := []Var{
		{Ref: ref(0, "x"), Type: ir.TypeString, Known: ir.String("b.pdf")},
		{Ref: ref(1, "y"), Type: ir.TypeString, Candidates: []ir.Value{ir.String("a.pdf"), ir.String("b.pdf"), ir.String("c.pdf")}},
	}
	cons := []ir.Constraint{{Predicate: "(= x y)", Type: ir.TypeString, Vars: map[string]ir.VarRef{"x": ref(0, "x"), "y": ref(1, "y")}}}
	got, err := s.Solve(context.Background(), vars, cons)
	require.NoError(t, err)
	assert.Equal(t, ir.String("b.pdf"), got[ref(1, "y")])

	cons[0].Predicate = `(contains y "c")`
	got, err = s.Solve(context.Background(), vars, cons)
	require.NoError(t, err)
	assert.Equal(t, ir.String("c.pdf"), got[ref(1, "y")])

	vars[1].Candidates = nil
	_, err = s.Solve(context.Background(), vars, cons)
	assert.True(t, IsUnsat(err), "strings need a finite domain")
}

func TestSolveSets(t *testing.T) {
	s := New()
	vars := []Var{
		{Ref: ref(0, "x"), Type: ir.TypeArray, Known: ir.NewIntSet(2, 3)},
		{Ref: ref(1, "y"), Type: ir.TypeArray, Min: ptr(0), Max: ptr(7), MaxLen: 3},
	}
	cons := []ir.Constraint{{
		Predicate: "(and (subset x y) (contains y 6))",
		Type:      ir.TypeArray,
		Vars:      map[string]ir.VarRef{"x": ref(0, "x"), "y": ref(1, "y")},
	}}
	got, err := s.Solve(context.Background(), vars, cons)
	require.NoError(t, err)
	assert.Equal(t, ir.NewIntSet(2, 3, 6), got[ref(1, "y")], "cardinality bound leaves no room for more")

	vars[1].MaxLen = 2
	_, err = s.Solve(context.Background(), vars, cons)
	assert.True(t, IsUnsat(err))
}

func TestSolveAcceptsFilter(t *testing.T) {
	s := New()
	vars := []Var{
		{Ref: ref(0, "x"), Type: ir.TypeInteger, Known: ir.Int(1)},
		{Ref: ref(1, "y"), Type: ir.TypeInteger, Accepts: func(ir.Value) bool { return false }},
	}
	_, err := s.Solve(context.Background(), vars, []ir.Constraint{eqConstraint("(= x y)", ref(0, "x"), ref(1, "y"))})
	assert.True(t, IsUnsat(err))
}

func TestSolveAllKnownOnlyVerifies(t *testing.T) {
	s := New()
	vars := []Var{
		{Ref: ref(0, "x"), Type: ir.TypeInteger, Known: ir.Int(1)},
		{Ref: ref(1, "y"), Type: ir.TypeInteger, Known: ir.Int(2)},
	}
	cons := []ir.Constraint{eqConstraint("(< x y)", ref(0, "x"), ref(1, "y"))}
	got, err := s.Solve(context.Background(), vars, cons)
	require.NoError(t, err)
	assert.Empty(t, got)

	cons[0].Predicate = "(> x y)"
	_, err = s.Solve(context.Background(), vars, cons)
	assert.True(t, IsUnsat(err))
}

func TestSolveTimeout(t *testing.T) {
	s := New(WithTimeout(time.Second))
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	vars := []Var{
		{Ref: ref(0, "x"), Type: ir.TypeInteger, Known: ir.Int(1)},
		{Ref: ref(1, "y"), Type: ir.TypeInteger},
	}
	_, err := s.Solve(ctx, vars, []ir.Constraint{eqConstraint("(= x y)", ref(0, "x"), ref(1, "y"))})
	assert.True(t, IsTimeout(err))
}

func TestSolveInvalid(t *testing.T) {
	s := New()
	vars := []Var{
		{Ref: ref(0, "x"), Type: ir.TypeInteger, Known: ir.Int(1)},
		{Ref: ref(1, "y"), Type: ir.TypeInteger},
	}
	for _, pred := range []string{"(= x", "(frob x y)", "(= x z)", "(and x y)", "(+ x y)"} {
		t.Run(pred, func(t *testing.T) {
			_, err := s.Solve(context.Background(), vars, []ir.Constraint{eqConstraint(pred, ref(0, "x"), ref(1, "y"))})
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestCheck(t *testing.T) {
	s := New()
	c := eqConstraint("(<= x y)", ref(0, "x"), ref(1, "y"))
	ok, err := s.Check(c, map[ir.VarRef]ir.Value{ref(0, "x"): ir.Int(3), ref(1, "y"): ir.Raw("4")})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Check(c, map[ir.VarRef]ir.Value{ref(0, "x"): ir.Int(5), ref(1, "y"): ir.Int(4)})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Check(c, map[ir.VarRef]ir.Value{ref(0, "x"): ir.Int(5)})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParse(t *testing.T) {
	e, err := Parse(`(and (>= x 0x10) (contains s "a""b") (not false))`)
	require.NoError(t, err)
	assert.Equal(t, []string{"s", "x"}, e.Symbols())
	assert.Equal(t, `(and (>= x 16) (contains s "a\"b") (not false))`, e.String())

	for _, bad := range []string{"", "(", ")", "(= x)", "(< a b c)", `(= x "y)`, "(= x y) z"} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestBitsNeeded(t *testing.T) {
	assert.Equal(t, 1, bitsNeeded(0))
	assert.Equal(t, 1, bitsNeeded(-1))
	assert.Equal(t, 2, bitsNeeded(1))
	assert.Equal(t, 8, bitsNeeded(127))
	assert.Equal(t, 9, bitsNeeded(128))
	assert.Equal(t, 8, bitsNeeded(-128))
	assert.Equal(t, 64, bitsNeeded(-1<<63))
}
