package solver

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/scriptfuzz/internal/ir"
)

type valueKind int

const (
	kindInt valueKind = iota + 1
	kindBool
	kindStr
	kindSet
)

func (k valueKind) String() string {
	switch k {
	case kindInt:
		return "int"
	case kindBool:
		return "bool"
	case kindStr:
		return "string"
	case kindSet:
		return "set"
	}
	return "unknown"
}

// concrete is an evaluated value.
type concrete struct {
	kind valueKind
	i    int64
	b    bool
	s    string
	set  []int64
}

// concreteOf interprets an argument value for a variable of type typ.
// Raw grammar text is read as the literal it spells when it spells one.
func concreteOf(v ir.Value, typ ir.TypeTag) (concrete, error) {
	switch val := v.(type) {
	case ir.Int:
		return concrete{kind: kindInt, i: int64(val)}, nil
	case ir.Bool:
		return concrete{kind: kindBool, b: bool(val)}, nil
	case ir.String:
		return concrete{kind: kindStr, s: string(val)}, nil
	case ir.IntSet:
		return concrete{kind: kindSet, set: []int64(val)}, nil
	case ir.Raw:
		s := strings.TrimSpace(string(val))
		switch {
		case typ.Numeric():
			n, err := strconv.ParseInt(s, 0, 64)
			if err != nil {
				return concrete{}, fmt.Errorf("raw value %q is not an integer", s)
			}
			return concrete{kind: kindInt, i: n}, nil
		case typ == ir.TypeBoolean:
			b, err := strconv.ParseBool(s)
			if err != nil {
				return concrete{}, fmt.Errorf("raw value %q is not a boolean", s)
			}
			return concrete{kind: kindBool, b: b}, nil
		case typ == ir.TypeArray:
			var elems []int64
			if err := json.Unmarshal([]byte(s), &elems); err != nil {
				return concrete{}, fmt.Errorf("raw value %q is not an integer array", s)
			}
			return concrete{kind: kindSet, set: ir.NewIntSet(elems...)}, nil
		}
		return concrete{kind: kindStr, s: string(val)}, nil
	}
	return concrete{}, fmt.Errorf("value of kind %s cannot be constrained", v.Kind())
}

// evalBool evaluates a predicate over concrete values keyed by symbol.
func evalBool(e *Expr, env map[string]concrete) (bool, error) {
	v, err := eval(e, env)
	if err != nil {
		return false, err
	}
	if v.kind != kindBool {
		return false, fmt.Errorf("predicate %s is %s, not bool", e, v.kind)
	}
	return v.b, nil
}

func eval(e *Expr, env map[string]concrete) (concrete, error) {
	switch e.Atom {
	case atomSymbol:
		v, ok := env[e.Sym]
		if !ok {
			return concrete{}, fmt.Errorf("unbound symbol %q", e.Sym)
		}
		return v, nil
	case atomInt:
		return concrete{kind: kindInt, i: e.Int}, nil
	case atomBool:
		return concrete{kind: kindBool, b: e.Bool}, nil
	case atomString:
		return concrete{kind: kindStr, s: e.Str}, nil
	}

	args := make([]concrete, len(e.Args))
	for i, a := range e.Args {
		v, err := eval(a, env)
		if err != nil {
			return concrete{}, err
		}
		args[i] = v
	}
	boolean := func(b bool) (concrete, error) { return concrete{kind: kindBool, b: b}, nil }
	want := func(k valueKind) error {
		for _, a := range args {
			if a.kind != k {
				return fmt.Errorf("%s expects %s operands, got %s", e.Op, k, a.kind)
			}
		}
		return nil
	}

	switch e.Op {
	case "assert":
		return args[0], nil
	case "and", "or":
		if err := want(kindBool); err != nil {
			return concrete{}, err
		}
		acc := e.Op == "and"
		for _, a := range args {
			if e.Op == "and" {
				acc = acc && a.b
			} else {
				acc = acc || a.b
			}
		}
		return boolean(acc)
	case "not":
		if err := want(kindBool); err != nil {
			return concrete{}, err
		}
		return boolean(!args[0].b)
	case "=>", "implies":
		if err := want(kindBool); err != nil {
			return concrete{}, err
		}
		return boolean(!args[0].b || args[1].b)
	case "=", "!=", "distinct":
		if args[0].kind != args[1].kind {
			return concrete{}, fmt.Errorf("%s compares %s with %s", e.Op, args[0].kind, args[1].kind)
		}
		eq := equalConcrete(args[0], args[1])
		return boolean(eq == (e.Op == "="))
	case "<", "<=", ">", ">=":
		if err := want(kindInt); err != nil {
			return concrete{}, err
		}
		a, b := args[0].i, args[1].i
		switch e.Op {
		case "<":
			return boolean(a < b)
		case "<=":
			return boolean(a <= b)
		case ">":
			return boolean(a > b)
		default:
			return boolean(a >= b)
		}
	case "+":
		if err := want(kindInt); err != nil {
			return concrete{}, err
		}
		var sum int64
		for _, a := range args {
			sum += a.i
		}
		return concrete{kind: kindInt, i: sum}, nil
	case "-":
		if err := want(kindInt); err != nil {
			return concrete{}, err
		}
		if len(args) == 1 {
			return concrete{kind: kindInt, i: -args[0].i}, nil
		}
		return concrete{kind: kindInt, i: args[0].i - args[1].i}, nil
	case "subset":
		if err := want(kindSet); err != nil {
			return concrete{}, err
		}
		for _, n := range args[0].set {
			if !slices.Contains(args[1].set, n) {
				return boolean(false)
			}
		}
		return boolean(true)
	case "contains":
		switch {
		case args[0].kind == kindSet && args[1].kind == kindInt:
			return boolean(slices.Contains(args[0].set, args[1].i))
		case args[0].kind == kindStr && args[1].kind == kindStr:
			return boolean(strings.Contains(args[0].s, args[1].s))
		}
		return concrete{}, fmt.Errorf("contains cannot take %s and %s", args[0].kind, args[1].kind)
	}
	return concrete{}, fmt.Errorf("unknown operator %q", e.Op)
}

func equalConcrete(a, b concrete) bool {
	switch a.kind {
	case kindInt:
		return a.i == b.i
	case kindBool:
		return a.b == b.b
	case kindStr:
		return a.s == b.s
	case kindSet:
		return slices.Equal(ir.NewIntSet(a.set...), ir.NewIntSet(b.set...))
	}
	return false
}
