package solver

import (
	"fmt"
	"strings"

	"github.com/crillab/gophersat/bf"
)

// bit is a propositional literal with constant folding. Non-constant bits
// always hold a variable or a negated variable, so every formula built from
// them stays small.
type bit struct {
	c int8 // 1 true, -1 false, 0 formula
	f bf.Formula
}

var (
	bTrue  = bit{c: 1}
	bFalse = bit{c: -1}
)

func constBit(b bool) bit {
	if b {
		return bTrue
	}
	return bFalse
}

func not(b bit) bit {
	if b.c != 0 {
		return bit{c: -b.c}
	}
	return bit{f: bf.Not(b.f)}
}

// encoder accumulates side constraints while compiling terms.
type encoder struct {
	n     int
	side  []bf.Formula
	unsat bool

	width    int // two's complement width of every integer term
	universe []int64
	uindex   map[int64]int
}

func newEncoder(width int, universe []int64) *encoder {
	e := &encoder{width: width, universe: universe, uindex: make(map[int64]int, len(universe))}
	for i, n := range universe {
		e.uindex[n] = i
	}
	return e
}

func (e *encoder) fresh(prefix string) (string, bit) {
	name := fmt.Sprintf("%s%d", prefix, e.n)
	e.n++
	return name, bit{f: bf.Var(name)}
}

// require asserts b.
func (e *encoder) require(b bit) {
	switch b.c {
	case 1:
	case -1:
		e.unsat = true
	default:
		e.side = append(e.side, b.f)
	}
}

// clause asserts the disjunction of bs.
func (e *encoder) clause(bs ...bit) {
	var fs []bf.Formula
	for _, b := range bs {
		switch b.c {
		case 1:
			return
		case 0:
			fs = append(fs, b.f)
		}
	}
	switch len(fs) {
	case 0:
		e.unsat = true
	case 1:
		e.side = append(e.side, fs[0])
	default:
		e.side = append(e.side, bf.Or(fs...))
	}
}

// gate names f with a fresh variable.
func (e *encoder) gate(f bf.Formula) bit {
	_, v := e.fresh("g")
	e.side = append(e.side, bf.Eq(v.f, f))
	return v
}

func (e *encoder) and(bs ...bit) bit {
	var fs []bf.Formula
	for _, b := range bs {
		switch b.c {
		case -1:
			return bFalse
		case 0:
			fs = append(fs, b.f)
		}
	}
	switch len(fs) {
	case 0:
		return bTrue
	case 1:
		return bit{f: fs[0]}
	}
	return e.gate(bf.And(fs...))
}

func (e *encoder) or(bs ...bit) bit {
	var fs []bf.Formula
	for _, b := range bs {
		switch b.c {
		case 1:
			return bTrue
		case 0:
			fs = append(fs, b.f)
		}
	}
	switch len(fs) {
	case 0:
		return bFalse
	case 1:
		return bit{f: fs[0]}
	}
	return e.gate(bf.Or(fs...))
}

func (e *encoder) xor(a, b bit) bit {
	switch {
	case a.c == 1:
		return not(b)
	case a.c == -1:
		return b
	case b.c == 1:
		return not(a)
	case b.c == -1:
		return a
	}
	return e.gate(bf.Or(bf.And(a.f, bf.Not(b.f)), bf.And(bf.Not(a.f), b.f)))
}

func (e *encoder) iff(a, b bit) bit     { return not(e.xor(a, b)) }
func (e *encoder) implies(a, b bit) bit { return e.or(not(a), b) }

// exactlyOne asserts that exactly one selector holds.
func (e *encoder) exactlyOne(names []string) {
	switch len(names) {
	case 0:
		e.unsat = true
	case 1:
		e.side = append(e.side, bf.Var(names[0]))
	default:
		e.side = append(e.side, bf.Unique(names...))
	}
}

// atMost asserts that at most k of xs hold (sequential counter encoding).
func (e *encoder) atMost(xs []bit, k int) {
	var vars []bit
	for _, x := range xs {
		switch x.c {
		case 1:
			k--
		case 0:
			vars = append(vars, x)
		}
	}
	if k < 0 {
		e.unsat = true
		return
	}
	n := len(vars)
	if n <= k {
		return
	}
	if k == 0 {
		for _, x := range vars {
			e.require(not(x))
		}
		return
	}

	s := make([][]bit, n-1)
	for i := range s {
		s[i] = make([]bit, k)
		for j := range s[i] {
			_, s[i][j] = e.fresh("c")
		}
	}
	e.clause(not(vars[0]), s[0][0])
	for j := 1; j < k; j++ {
		e.require(not(s[0][j]))
	}
	for i := 1; i < n-1; i++ {
		e.clause(not(vars[i]), s[i][0])
		e.clause(not(s[i-1][0]), s[i][0])
		for j := 1; j < k; j++ {
			e.clause(not(vars[i]), not(s[i-1][j-1]), s[i][j])
			e.clause(not(s[i-1][j]), s[i][j])
		}
		e.clause(not(vars[i]), not(s[i-1][k-1]))
	}
	e.clause(not(vars[n-1]), not(s[n-2][k-1]))
}

// intTerm is a two's complement integer, least significant bit first.
type intTerm []bit

func (e *encoder) constInt(n int64) intTerm {
	t := make(intTerm, e.width)
	for i := range t {
		t[i] = constBit((n>>min(i, 63))&1 == 1)
	}
	return t
}

// extend sign-extends w variable bits to the encoder width.
func (e *encoder) extend(bits []bit) intTerm {
	t := make(intTerm, e.width)
	for i := range t {
		t[i] = bits[min(i, len(bits)-1)]
	}
	return t
}

func (e *encoder) add(a, b intTerm) intTerm {
	sum := make(intTerm, e.width)
	carry := bFalse
	for i := range sum {
		x := e.xor(a[i], b[i])
		sum[i] = e.xor(x, carry)
		carry = e.or(e.and(a[i], b[i]), e.and(carry, x))
	}
	return sum
}

func (e *encoder) neg(a intTerm) intTerm {
	inv := make(intTerm, len(a))
	for i, b := range a {
		inv[i] = not(b)
	}
	return e.add(inv, e.constInt(1))
}

func (e *encoder) eqInt(a, b intTerm) bit {
	bs := make([]bit, len(a))
	for i := range a {
		bs[i] = e.iff(a[i], b[i])
	}
	return e.and(bs...)
}

// slt is signed less-than: flipping the sign bits turns it into an
// unsigned comparison, evaluated from the least significant bit upward.
func (e *encoder) slt(a, b intTerm) bit {
	lt := bFalse
	for i := range a {
		ai, bi := a[i], b[i]
		if i == len(a)-1 {
			ai, bi = not(ai), not(bi)
		}
		lt = e.or(e.and(not(ai), bi), e.and(e.iff(ai, bi), lt))
	}
	return lt
}

// strTerm is a one-hot choice over a finite set of strings.
type strTerm struct {
	sel  []bit
	vals []string
}

func (e *encoder) strRel(a, b strTerm, rel func(x, y string) bool) bit {
	var alts []bit
	for i, x := range a.vals {
		for j, y := range b.vals {
			if rel(x, y) {
				alts = append(alts, e.and(a.sel[i], b.sel[j]))
			}
		}
	}
	return e.or(alts...)
}

// setTerm holds one membership bit per universe element.
type setTerm []bit

func (e *encoder) constSet(elems []int64) setTerm {
	t := make(setTerm, len(e.universe))
	for i := range t {
		t[i] = bFalse
	}
	for _, n := range elems {
		if i, ok := e.uindex[n]; ok {
			t[i] = bTrue
		} else {
			// An element outside the universe can never be matched.
			e.unsat = true
		}
	}
	return t
}

// term is a compiled expression of one kind.
type term struct {
	kind valueKind
	i    intTerm
	b    bit
	s    strTerm
	set  setTerm
}

func (e *encoder) constTerm(c concrete) term {
	switch c.kind {
	case kindInt:
		return term{kind: kindInt, i: e.constInt(c.i)}
	case kindBool:
		return term{kind: kindBool, b: constBit(c.b)}
	case kindStr:
		return term{kind: kindStr, s: strTerm{sel: []bit{bTrue}, vals: []string{c.s}}}
	default:
		return term{kind: kindSet, set: e.constSet(c.set)}
	}
}

// equal compiles (= a b) for two terms of the same kind.
func (e *encoder) equal(a, b term) bit {
	switch a.kind {
	case kindInt:
		return e.eqInt(a.i, b.i)
	case kindBool:
		return e.iff(a.b, b.b)
	case kindStr:
		return e.strRel(a.s, b.s, func(x, y string) bool { return x == y })
	default:
		bs := make([]bit, len(a.set))
		for i := range a.set {
			bs[i] = e.iff(a.set[i], b.set[i])
		}
		return e.and(bs...)
	}
}

func (e *encoder) compile(x *Expr, env map[string]term) (term, error) {
	switch x.Atom {
	case atomSymbol:
		t, ok := env[x.Sym]
		if !ok {
			return term{}, fmt.Errorf("unbound symbol %q", x.Sym)
		}
		return t, nil
	case atomInt:
		return term{kind: kindInt, i: e.constInt(x.Int)}, nil
	case atomBool:
		return term{kind: kindBool, b: constBit(x.Bool)}, nil
	case atomString:
		return e.constTerm(concrete{kind: kindStr, s: x.Str}), nil
	}

	args := make([]term, len(x.Args))
	for i, a := range x.Args {
		t, err := e.compile(a, env)
		if err != nil {
			return term{}, err
		}
		args[i] = t
	}
	want := func(k valueKind) error {
		for _, a := range args {
			if a.kind != k {
				return fmt.Errorf("%s expects %s operands, got %s", x.Op, k, a.kind)
			}
		}
		return nil
	}
	boolean := func(b bit) (term, error) { return term{kind: kindBool, b: b}, nil }
	bits := func() []bit {
		out := make([]bit, len(args))
		for i, a := range args {
			out[i] = a.b
		}
		return out
	}

	switch x.Op {
	case "assert":
		return args[0], nil
	case "and":
		if err := want(kindBool); err != nil {
			return term{}, err
		}
		return boolean(e.and(bits()...))
	case "or":
		if err := want(kindBool); err != nil {
			return term{}, err
		}
		return boolean(e.or(bits()...))
	case "not":
		if err := want(kindBool); err != nil {
			return term{}, err
		}
		return boolean(not(args[0].b))
	case "=>", "implies":
		if err := want(kindBool); err != nil {
			return term{}, err
		}
		return boolean(e.implies(args[0].b, args[1].b))
	case "=", "!=", "distinct":
		if args[0].kind != args[1].kind {
			return term{}, fmt.Errorf("%s compares %s with %s", x.Op, args[0].kind, args[1].kind)
		}
		eq := e.equal(args[0], args[1])
		if x.Op != "=" {
			eq = not(eq)
		}
		return boolean(eq)
	case "<", "<=", ">", ">=":
		if err := want(kindInt); err != nil {
			return term{}, err
		}
		a, b := args[0].i, args[1].i
		switch x.Op {
		case "<":
			return boolean(e.slt(a, b))
		case "<=":
			return boolean(not(e.slt(b, a)))
		case ">":
			return boolean(e.slt(b, a))
		default:
			return boolean(not(e.slt(a, b)))
		}
	case "+":
		if err := want(kindInt); err != nil {
			return term{}, err
		}
		sum := args[0].i
		for _, a := range args[1:] {
			sum = e.add(sum, a.i)
		}
		return term{kind: kindInt, i: sum}, nil
	case "-":
		if err := want(kindInt); err != nil {
			return term{}, err
		}
		if len(args) == 1 {
			return term{kind: kindInt, i: e.neg(args[0].i)}, nil
		}
		return term{kind: kindInt, i: e.add(args[0].i, e.neg(args[1].i))}, nil
	case "subset":
		if err := want(kindSet); err != nil {
			return term{}, err
		}
		bs := make([]bit, len(e.universe))
		for i := range bs {
			bs[i] = e.implies(args[0].set[i], args[1].set[i])
		}
		return boolean(e.and(bs...))
	case "contains":
		switch {
		case args[0].kind == kindSet && args[1].kind == kindInt:
			alts := make([]bit, 0, len(e.universe))
			for i, n := range e.universe {
				alts = append(alts, e.and(args[0].set[i], e.eqInt(args[1].i, e.constInt(n))))
			}
			return boolean(e.or(alts...))
		case args[0].kind == kindStr && args[1].kind == kindStr:
			return boolean(e.strRel(args[0].s, args[1].s, strings.Contains))
		}
		return term{}, fmt.Errorf("contains cannot take %s and %s", args[0].kind, args[1].kind)
	}
	return term{}, fmt.Errorf("unknown operator %q", x.Op)
}

// formula returns the conjunction of every side constraint.
func (e *encoder) formula() bf.Formula {
	if len(e.side) == 1 {
		return e.side[0]
	}
	return bf.And(e.side...)
}
