package relation

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/scriptfuzz/internal/ir"
)

// Default predicate symbols for strong edges that do not name them.
const (
	DefaultSymbolA = "x"
	DefaultSymbolB = "y"
)

// Neighbor is a weakly related API and its score.
type Neighbor struct {
	API   string
	Score float64
}

// Endpoint is one parameter of one API.
type Endpoint struct {
	API   string
	Param string
}

func (e Endpoint) String() string {
	return e.API + "." + e.Param
}

// ParseEndpoint splits "Object.member.param" at the last dot.
func ParseEndpoint(s string) (Endpoint, error) {
	i := strings.LastIndex(s, ".")
	if i <= 0 || i == len(s)-1 {
		return Endpoint{}, fmt.Errorf("endpoint %q must have the form Object.member.param", s)
	}
	return Endpoint{API: s[:i], Param: s[i+1:]}, nil
}

// StrongEdge is a loaded strong relationship.
type StrongEdge struct {
	ID        int
	A, B      Endpoint
	Type      ir.TypeTag
	Predicate string
	SymbolA   string
	SymbolB   string
	Ordered   bool // enforced only when A precedes B
}

// Resolver looks up API specifications.
type Resolver interface {
	API(name string) (*ir.APISpec, bool)
}

// Graph is the loaded relationship graph. Read-only after New and safe for
// concurrent use.
type Graph struct {
	weak    map[string][]Neighbor
	nWeak   int
	strong  []*StrongEdge
	byParam map[Endpoint][]*StrongEdge
	byAPI   map[string][]*StrongEdge
	skipped int
}

// Option configures graph loading.
type Option func(*loader)

type loader struct {
	lenient bool
	logger  *slog.Logger
}

// WithLenient skips edges naming unknown APIs or parameters instead of
// failing the load.
func WithLenient(lenient bool) Option {
	return func(l *loader) { l.lenient = lenient }
}

// WithLogger sets the logger used to report skipped edges.
func WithLogger(logger *slog.Logger) Option {
	return func(l *loader) { l.logger = logger }
}

// New indexes a relationship document. Edge endpoints are checked against
// specs; strong edges with predicate "none" are skipped.
func New(doc *ir.RelationsDocument, specs Resolver, opts ...Option) (*Graph, error) {
	l := &loader{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(l)
	}

	g := &Graph{
		weak:    make(map[string][]Neighbor),
		byParam: make(map[Endpoint][]*StrongEdge),
		byAPI:   make(map[string][]*StrongEdge),
	}
	if doc == nil {
		return g, nil
	}

	scores := make(map[string]map[string]float64)
	addWeak := func(a, b string, score float64) {
		if scores[a] == nil {
			scores[a] = make(map[string]float64)
		}
		if old, ok := scores[a][b]; !ok || score > old {
			scores[a][b] = score
		}
	}
	for i, w := range doc.Weak {
		if err := l.check(specs, w.A, w.B); err != nil {
			if l.lenient {
				l.logger.Warn("skipping weak edge", "index", i, "error", err)
				g.skipped++
				continue
			}
			return nil, fmt.Errorf("weak edge %d: %w", i, err)
		}
		addWeak(w.A, w.B, w.Score)
		addWeak(w.B, w.A, w.Score)
		g.nWeak++
	}
	for api, m := range scores {
		ns := make([]Neighbor, 0, len(m))
		for b, s := range m {
			ns = append(ns, Neighbor{API: b, Score: s})
		}
		slices.SortFunc(ns, func(x, y Neighbor) int {
			switch {
			case x.Score > y.Score:
				return -1
			case x.Score < y.Score:
				return 1
			}
			return strings.Compare(x.API, y.API)
		})
		g.weak[api] = ns
	}

	for i, s := range doc.Strong {
		edge, err := l.strongEdge(specs, len(g.strong), s)
		if err != nil {
			if l.lenient {
				l.logger.Warn("skipping strong edge", "index", i, "error", err)
				g.skipped++
				continue
			}
			return nil, fmt.Errorf("strong edge %d: %w", i, err)
		}
		if edge == nil {
			g.skipped++
			continue
		}
		g.strong = append(g.strong, edge)
		g.byParam[edge.A] = append(g.byParam[edge.A], edge)
		g.byAPI[edge.A.API] = append(g.byAPI[edge.A.API], edge)
		if edge.B != edge.A {
			g.byParam[edge.B] = append(g.byParam[edge.B], edge)
		}
		if edge.B.API != edge.A.API {
			g.byAPI[edge.B.API] = append(g.byAPI[edge.B.API], edge)
		}
	}
	return g, nil
}

func (l *loader) check(specs Resolver, apis ...string) error {
	for _, name := range apis {
		if _, ok := specs.API(name); !ok {
			return fmt.Errorf("unknown api %q", name)
		}
	}
	return nil
}

func (l *loader) strongEdge(specs Resolver, id int, s ir.StrongEdge) (*StrongEdge, error) {
	pred := strings.TrimSpace(s.Predicate)
	if pred == "" || pred == "none" {
		return nil, nil
	}
	a, err := ParseEndpoint(s.A)
	if err != nil {
		return nil, err
	}
	b, err := ParseEndpoint(s.B)
	if err != nil {
		return nil, err
	}
	var typ ir.TypeTag
	for _, ep := range []Endpoint{a, b} {
		api, ok := specs.API(ep.API)
		if !ok {
			return nil, fmt.Errorf("unknown api %q", ep.API)
		}
		p := api.Param(ep.Param)
		if p == nil {
			return nil, fmt.Errorf("api %q has no parameter %q", ep.API, ep.Param)
		}
		if !p.Type.Grammared() {
			return nil, fmt.Errorf("parameter %s has type %s and cannot be constrained", ep, p.Type)
		}
		if typ == "" {
			typ = p.Type
		}
	}
	if s.Type != "" {
		typ = s.Type
	}

	edge := &StrongEdge{
		ID:        id,
		A:         a,
		B:         b,
		Type:      typ,
		Predicate: pred,
		SymbolA:   s.SymbolA,
		SymbolB:   s.SymbolB,
		Ordered:   s.Ordered,
	}
	if edge.SymbolA == "" {
		edge.SymbolA = DefaultSymbolA
	}
	if edge.SymbolB == "" {
		edge.SymbolB = DefaultSymbolB
	}
	if edge.SymbolA == edge.SymbolB {
		return nil, fmt.Errorf("symbols of %s and %s must differ", a, b)
	}
	return edge, nil
}

// Stats reports the number of loaded and skipped edges.
func (g *Graph) Stats() (weak, strong, skipped int) {
	return g.nWeak, len(g.strong), g.skipped
}

// Edge returns the strong edge with the given ID.
func (g *Graph) Edge(id int) (*StrongEdge, bool) {
	if id < 0 || id >= len(g.strong) {
		return nil, false
	}
	return g.strong[id], true
}
