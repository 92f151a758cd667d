package grammar

import (
	"fmt"
	"math"
	"slices"

	"github.com/roach88/scriptfuzz/internal/ir"
)

// Defaults for numeric rules that leave fields unset.
const (
	DefaultIntMin              = math.MinInt32
	DefaultIntMax              = math.MaxInt32
	DefaultBoundaryProbability = 0.2
	DefaultIntWidth            = 32
	DefaultSetMin              = 0
	DefaultSetMax              = 255
	DefaultSetMaxLen           = 8
)

// intRule draws integers from [lo, hi], preferring known edge values with
// probability pBoundary.
type intRule struct {
	id        string
	typ       ir.TypeTag
	lo, hi    int64
	boundary  []int64
	pBoundary float64
}

func newIntRule(id string, def ir.GrammarDef) (Rule, error) {
	r := &intRule{
		id:        id,
		typ:       def.Type,
		lo:        DefaultIntMin,
		hi:        DefaultIntMax,
		pBoundary: DefaultBoundaryProbability,
	}
	if r.typ == "" {
		r.typ = ir.TypeInteger
	}
	if def.Min != nil {
		r.lo = *def.Min
	}
	if def.Max != nil {
		r.hi = *def.Max
	}
	if r.lo > r.hi {
		return nil, &DefinitionError{Rule: id, Message: fmt.Sprintf("min %d > max %d", r.lo, r.hi)}
	}
	if def.BoundaryProbability != nil {
		p := *def.BoundaryProbability
		if p < 0 || p > 1 {
			return nil, &DefinitionError{Rule: id, Message: "boundary_probability must be in [0, 1]"}
		}
		r.pBoundary = p
	}

	width := def.Width
	if width == 0 {
		width = DefaultIntWidth
	}
	if width < 1 || width > 64 {
		return nil, &DefinitionError{Rule: id, Message: fmt.Sprintf("width %d outside [1, 64]", width)}
	}

	candidates := def.Boundary
	if len(candidates) == 0 {
		// zero, negative, the target type's extremes and the edges of the range
		hiSize, loSize := widthLimits(width)
		candidates = []int64{0, -1, 1, hiSize, loSize, r.lo, r.hi}
	}
	for _, b := range candidates {
		if b >= r.lo && b <= r.hi {
			r.boundary = append(r.boundary, b)
		}
	}
	slices.Sort(r.boundary)
	r.boundary = slices.Compact(r.boundary)
	return r, nil
}

func (r *intRule) Type() ir.TypeTag      { return r.typ }
func (r *intRule) MinDepth() int         { return 0 }
func (r *intRule) Range() (int64, int64) { return r.lo, r.hi }

// Boundary returns the edge values the rule favours.
func (r *intRule) Boundary() []int64 { return slices.Clone(r.boundary) }

func (r *intRule) Sample(src RandomSource, depth int) (ir.Value, error) {
	if len(r.boundary) > 0 && src.Float64() < r.pBoundary {
		return ir.Int(r.boundary[src.Intn(len(r.boundary))]), nil
	}
	return ir.Int(uniformInt(src, r.lo, r.hi)), nil
}

func (r *intRule) Enumerate(depth, limit int) []ir.Value {
	if limit <= 0 {
		return nil
	}
	var out []ir.Value
	seen := make(map[int64]bool)
	add := func(n int64) bool {
		if !seen[n] {
			seen[n] = true
			out = append(out, ir.Int(n))
		}
		return len(out) < limit
	}
	for _, b := range r.boundary {
		if !add(b) {
			return out
		}
	}
	for n := r.lo; ; n++ {
		if !add(n) || n == r.hi {
			return out
		}
	}
}

func (r *intRule) Accepts(v ir.Value, depth int) bool {
	n, ok := v.(ir.Int)
	return ok && int64(n) >= r.lo && int64(n) <= r.hi
}

// widthLimits returns the largest and smallest two's complement values of
// the given width.
func widthLimits(width int) (int64, int64) {
	if width >= 64 {
		return math.MaxInt64, math.MinInt64
	}
	hi := int64(1)<<(width-1) - 1
	return hi, -hi - 1
}

// uniformInt returns a uniform integer in [lo, hi].
func uniformInt(src RandomSource, lo, hi int64) int64 {
	span := uint64(hi) - uint64(lo)
	if span < math.MaxInt64 {
		return lo + src.Int63n(int64(span)+1)
	}
	// The range covers (nearly) all of int64; compose 64 random bits.
	for {
		n := int64(uint64(src.Int63())<<1 | uint64(src.Intn(2)))
		if n >= lo && n <= hi {
			return n
		}
	}
}

// setRule draws sets of at most maxLen integers from [lo, hi].
type setRule struct {
	id     string
	lo, hi int64
	maxLen int
}

func newSetRule(id string, def ir.GrammarDef) (Rule, error) {
	r := &setRule{id: id, lo: DefaultSetMin, hi: DefaultSetMax, maxLen: DefaultSetMaxLen}
	if def.Type != "" && def.Type != ir.TypeArray {
		return nil, &DefinitionError{Rule: id, Message: fmt.Sprintf("set rule cannot produce type %q", def.Type)}
	}
	if def.Min != nil {
		r.lo = *def.Min
	}
	if def.Max != nil {
		r.hi = *def.Max
	}
	if def.MaxLen > 0 {
		r.maxLen = def.MaxLen
	}
	if r.lo > r.hi {
		return nil, &DefinitionError{Rule: id, Message: fmt.Sprintf("min %d > max %d", r.lo, r.hi)}
	}
	return r, nil
}

func (r *setRule) Type() ir.TypeTag      { return ir.TypeArray }
func (r *setRule) MinDepth() int         { return 0 }
func (r *setRule) Range() (int64, int64) { return r.lo, r.hi }

// MaxLen is the largest set the rule produces.
func (r *setRule) MaxLen() int { return r.maxLen }

func (r *setRule) Sample(src RandomSource, depth int) (ir.Value, error) {
	n := src.Intn(r.maxLen + 1)
	elems := make([]int64, n)
	for i := range elems {
		elems[i] = uniformInt(src, r.lo, r.hi)
	}
	return ir.NewIntSet(elems...), nil
}

func (r *setRule) Enumerate(depth, limit int) []ir.Value {
	if limit <= 0 {
		return nil
	}
	out := []ir.Value{ir.IntSet{}}
	for n := r.lo; len(out) < limit; n++ {
		out = append(out, ir.IntSet{n})
		if n == r.hi {
			break
		}
	}
	return out
}

func (r *setRule) Accepts(v ir.Value, depth int) bool {
	s, ok := v.(ir.IntSet)
	if !ok || len(s) > r.maxLen {
		return false
	}
	for _, n := range s {
		if n < r.lo || n > r.hi {
			return false
		}
	}
	return true
}

// boolRule draws true with probability pTrue.
type boolRule struct {
	pTrue float64
}

func newBoolRule(id string, def ir.GrammarDef) (Rule, error) {
	r := &boolRule{pTrue: 0.5}
	if def.TrueProbability != nil {
		p := *def.TrueProbability
		if p < 0 || p > 1 {
			return nil, &DefinitionError{Rule: id, Message: "true_probability must be in [0, 1]"}
		}
		r.pTrue = p
	}
	return r, nil
}

func (r *boolRule) Type() ir.TypeTag { return ir.TypeBoolean }
func (r *boolRule) MinDepth() int    { return 0 }

func (r *boolRule) Sample(src RandomSource, depth int) (ir.Value, error) {
	return ir.Bool(src.Float64() < r.pTrue), nil
}

func (r *boolRule) Enumerate(depth, limit int) []ir.Value {
	out := []ir.Value{ir.Bool(false), ir.Bool(true)}
	if limit < len(out) {
		return out[:max(limit, 0)]
	}
	return out
}

func (r *boolRule) Accepts(v ir.Value, depth int) bool {
	_, ok := v.(ir.Bool)
	return ok
}
