package solver

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode"
)

type atomKind int

const (
	atomNone atomKind = iota
	atomSymbol
	atomInt
	atomBool
	atomString
)

// Expr is a parsed predicate. Exprs are immutable and shared between
// goroutines through the parse cache.
type Expr struct {
	Op   string // operator for applications, empty for atoms
	Args []*Expr

	Atom atomKind
	Sym  string
	Int  int64
	Bool bool
	Str  string
}

// arity bounds per operator; -1 means unbounded.
var operators = map[string][2]int{
	"and":      {1, -1},
	"or":       {1, -1},
	"not":      {1, 1},
	"=>":       {2, 2},
	"implies":  {2, 2},
	"assert":   {1, 1},
	"=":        {2, 2},
	"!=":       {2, 2},
	"distinct": {2, 2},
	"<":        {2, 2},
	"<=":       {2, 2},
	">":        {2, 2},
	">=":       {2, 2},
	"+":        {2, -1},
	"-":        {1, 2},
	"subset":   {2, 2},
	"contains": {2, 2},
}

// Parse reads an SMT-LIB style s-expression such as
// "(and (>= x 0) (< x y))".
func Parse(src string) (*Expr, error) {
	p := &parser{src: src}
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("predicate %q: trailing input at offset %d", src, p.pos)
	}
	return e, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("predicate %q at offset %d: %s", p.src, p.pos, fmt.Sprintf(format, args...))
}

func (p *parser) expr() (*Expr, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return nil, p.errorf("unexpected end of input")
	}
	switch p.src[p.pos] {
	case '(':
		p.pos++
		p.skipSpace()
		op := p.token()
		if op == "" {
			return nil, p.errorf("expected operator")
		}
		bounds, ok := operators[op]
		if !ok {
			return nil, p.errorf("unknown operator %q", op)
		}
		e := &Expr{Op: op}
		for {
			p.skipSpace()
			if p.pos >= len(p.src) {
				return nil, p.errorf("unclosed (%s", op)
			}
			if p.src[p.pos] == ')' {
				p.pos++
				break
			}
			arg, err := p.expr()
			if err != nil {
				return nil, err
			}
			e.Args = append(e.Args, arg)
		}
		if len(e.Args) < bounds[0] || (bounds[1] >= 0 && len(e.Args) > bounds[1]) {
			return nil, p.errorf("%s takes %d..%d arguments, got %d", op, bounds[0], bounds[1], len(e.Args))
		}
		return e, nil
	case ')':
		return nil, p.errorf("unexpected )")
	case '"':
		return p.stringLit()
	default:
		tok := p.token()
		if tok == "" {
			return nil, p.errorf("unexpected character %q", p.src[p.pos])
		}
		return atom(tok), nil
	}
}

func (p *parser) token() string {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '(' || c == ')' || c == '"' || unicode.IsSpace(rune(c)) {
			break
		}
		p.pos++
	}
	return p.src[start:p.pos]
}

// stringLit reads "..." with either \" or "" as an embedded quote.
func (p *parser) stringLit() (*Expr, error) {
	p.pos++
	var sb strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == '\\' && p.pos+1 < len(p.src):
			sb.WriteByte(p.src[p.pos+1])
			p.pos += 2
		case c == '"' && p.pos+1 < len(p.src) && p.src[p.pos+1] == '"':
			sb.WriteByte('"')
			p.pos += 2
		case c == '"':
			p.pos++
			return &Expr{Atom: atomString, Str: sb.String()}, nil
		default:
			sb.WriteByte(c)
			p.pos++
		}
	}
	return nil, p.errorf("unterminated string")
}

func atom(tok string) *Expr {
	switch tok {
	case "true":
		return &Expr{Atom: atomBool, Bool: true}
	case "false":
		return &Expr{Atom: atomBool, Bool: false}
	}
	if n, err := strconv.ParseInt(tok, 0, 64); err == nil {
		return &Expr{Atom: atomInt, Int: n}
	}
	return &Expr{Atom: atomSymbol, Sym: tok}
}

// Symbols returns the free symbols of e, sorted.
func (e *Expr) Symbols() []string {
	seen := make(map[string]bool)
	var walk func(*Expr)
	walk = func(x *Expr) {
		if x.Atom == atomSymbol {
			seen[x.Sym] = true
		}
		for _, a := range x.Args {
			walk(a)
		}
	}
	walk(e)
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// ints returns the integer constants appearing in e.
func (e *Expr) ints() []int64 {
	var out []int64
	var walk func(*Expr)
	walk = func(x *Expr) {
		if x.Atom == atomInt {
			out = append(out, x.Int)
		}
		for _, a := range x.Args {
			walk(a)
		}
	}
	walk(e)
	return out
}

func (e *Expr) String() string {
	switch e.Atom {
	case atomSymbol:
		return e.Sym
	case atomInt:
		return strconv.FormatInt(e.Int, 10)
	case atomBool:
		return strconv.FormatBool(e.Bool)
	case atomString:
		return strconv.Quote(e.Str)
	}
	parts := make([]string, 0, len(e.Args)+1)
	parts = append(parts, e.Op)
	for _, a := range e.Args {
		parts = append(parts, a.String())
	}
	return "(" + strings.Join(parts, " ") + ")"
}
