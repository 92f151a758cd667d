package grammar

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/scriptfuzz/internal/ir"
)

// Defaults for Engine options.
const (
	DefaultMaxDepth = 40
	DefaultRetries  = 3
	// DefaultDepth asks for the engine's depth budget. Depth zero is a real
	// budget: only terminal-only alternatives are taken.
	DefaultDepth = -1
	// DefaultEnumCache is how many (rule, depth, limit) enumerations are kept.
	DefaultEnumCache = 256
)

type enumKey struct {
	id           string
	depth, limit int
}

// Engine holds the compiled rules of a specification. It is read-only after
// New and safe for concurrent use.
type Engine struct {
	rules     map[string]Rule
	maxDepth  int
	retries   int
	enumSize  int
	enumCache *lru.Cache[enumKey, []ir.Value]
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxDepth sets the depth budget used when callers pass DefaultDepth.
func WithMaxDepth(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxDepth = n
		}
	}
}

// WithRetries sets how many fresh seeds SampleFrom tries after an exhaustion.
func WithRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.retries = n
		}
	}
}

// WithEnumCache sets how many enumerations are memoized. Zero disables the
// cache.
func WithEnumCache(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.enumSize = n
		}
	}
}

// New compiles every definition. A rule with a symbol that is reachable from
// its start symbol but can never terminate, or that cannot terminate within
// the depth budget, is rejected.
func New(defs map[string]ir.GrammarDef, opts ...Option) (*Engine, error) {
	e := &Engine{
		rules:    make(map[string]Rule, len(defs)),
		maxDepth: DefaultMaxDepth,
		retries:  DefaultRetries,
		enumSize: DefaultEnumCache,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.enumSize > 0 {
		cache, err := lru.New[enumKey, []ir.Value](e.enumSize)
		if err != nil {
			return nil, err
		}
		e.enumCache = cache
	}

	ids := make([]string, 0, len(defs))
	for id := range defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		rule, err := Compile(id, defs[id])
		if err != nil {
			return nil, err
		}
		if u, ok := rule.(interface{ Unterminated() []string }); ok {
			if syms := u.Unterminated(); len(syms) > 0 {
				return nil, &DefinitionError{Rule: id, Message: "symbols never terminate: " + strings.Join(syms, ", ")}
			}
		}
		if d := rule.MinDepth(); d < 0 || d > e.maxDepth {
			return nil, &DefinitionError{Rule: id, Message: fmt.Sprintf("needs depth %d, budget is %d", d, e.maxDepth)}
		}
		e.rules[id] = rule
	}
	return e, nil
}

// Rule returns the compiled rule for id.
func (e *Engine) Rule(id string) (Rule, bool) {
	r, ok := e.rules[id]
	return r, ok
}

// MaxDepth is the default depth budget.
func (e *Engine) MaxDepth() int {
	return e.maxDepth
}

func (e *Engine) depth(d int) int {
	if d < 0 {
		return e.maxDepth
	}
	return d
}

// Sample draws one value of rule id for seed. The same seed and depth always
// yield the same value.
func (e *Engine) Sample(id string, seed int64, maxDepth int) (ir.Value, error) {
	rule, ok := e.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRule, id)
	}
	return rule.Sample(NewRand(seed), e.depth(maxDepth))
}

// SampleFrom draws a value using seeds taken from r. On exhaustion it retries
// with a fresh seed up to the configured retry count, then returns the last
// ExhaustedError. A depth below the rule's MinDepth fails at once without
// drawing from r, since no seed can succeed there.
func (e *Engine) SampleFrom(id string, r RandomSource, maxDepth int) (ir.Value, error) {
	rule, ok := e.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRule, id)
	}
	if d := e.depth(maxDepth); d < rule.MinDepth() {
		return nil, &ExhaustedError{Rule: id, Depth: d}
	}
	var last error
	for attempt := 0; attempt <= e.retries; attempt++ {
		v, err := e.Sample(id, r.Int63(), maxDepth)
		if err == nil {
			return v, nil
		}
		if !IsExhausted(err) {
			return nil, err
		}
		last = err
	}
	return nil, fmt.Errorf("after %d retries: %w", e.retries, last)
}

// Enumerate returns up to limit distinct values of rule id within depth.
// Results are memoized; callers get their own slice.
func (e *Engine) Enumerate(id string, maxDepth, limit int) ([]ir.Value, error) {
	rule, ok := e.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRule, id)
	}
	key := enumKey{id: id, depth: e.depth(maxDepth), limit: limit}
	if e.enumCache != nil {
		if vals, ok := e.enumCache.Get(key); ok {
			return slices.Clone(vals), nil
		}
	}
	vals := rule.Enumerate(key.depth, limit)
	if e.enumCache != nil {
		e.enumCache.Add(key, vals)
	}
	return slices.Clone(vals), nil
}

// EnumCacheLen reports how many enumerations are memoized.
func (e *Engine) EnumCacheLen() int {
	if e.enumCache == nil {
		return 0
	}
	return e.enumCache.Len()
}

// Accepts reports whether v belongs to the language of rule id.
func (e *Engine) Accepts(id string, v ir.Value, maxDepth int) bool {
	rule, ok := e.rules[id]
	return ok && rule.Accepts(v, e.depth(maxDepth))
}
