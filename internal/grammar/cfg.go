package grammar

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"

	"github.com/roach88/scriptfuzz/internal/ir"
)

// Escapes for literal braces inside expansions.
const (
	LeftBrace  = "<<<LEFT_BRACE>>>"
	RightBrace = "<<<RIGHT_BRACE>>>"
)

var placeholderRE = regexp.MustCompile(`\{([^{}\s]+)\}`)

const unbounded = math.MaxInt32

// Segment is one piece of an expansion: literal text or a non-terminal reference.
type Segment struct {
	Text string
	Ref  string
}

// ParseExpansion splits an expansion into literal text and references to
// non-terminals. A placeholder naming something that is not a symbol stays
// literal text.
func ParseExpansion(expand string, isSymbol func(string) bool) []Segment {
	var segs []Segment
	appendText := func(s string) {
		if s == "" {
			return
		}
		s = strings.ReplaceAll(s, LeftBrace, "{")
		s = strings.ReplaceAll(s, RightBrace, "}")
		if n := len(segs); n > 0 && segs[n-1].Ref == "" {
			segs[n-1].Text += s
			return
		}
		segs = append(segs, Segment{Text: s})
	}

	last := 0
	for _, m := range placeholderRE.FindAllStringSubmatchIndex(expand, -1) {
		name := expand[m[2]:m[3]]
		if !isSymbol(name) {
			continue
		}
		appendText(expand[last:m[0]])
		segs = append(segs, Segment{Ref: name})
		last = m[1]
	}
	appendText(expand[last:])
	return segs
}

type alternative struct {
	segs   []Segment
	weight float64
	need   int // smallest depth at which this alternative terminates
}

// cfgRule is a context-free grammar with weighted alternatives.
type cfgRule struct {
	id    string
	typ   ir.TypeTag
	start string
	prods map[string][]alternative
	need  map[string]int
}

func newCFGRule(id string, def ir.GrammarDef) (Rule, error) {
	if def.Start == "" {
		return nil, &DefinitionError{Rule: id, Message: "cfg rule needs a start symbol"}
	}
	if _, ok := def.Productions[def.Start]; !ok {
		return nil, &DefinitionError{Rule: id, Message: fmt.Sprintf("start symbol %q has no productions", def.Start)}
	}

	typ := def.Type
	if typ == "" {
		typ = ir.TypeString
	}
	c := &cfgRule{
		id:    id,
		typ:   typ,
		start: def.Start,
		prods: make(map[string][]alternative, len(def.Productions)),
	}
	isSymbol := func(name string) bool {
		_, ok := def.Productions[name]
		return ok
	}
	for sym, alts := range def.Productions {
		if len(alts) == 0 {
			return nil, &DefinitionError{Rule: id, Message: fmt.Sprintf("symbol %q has no alternatives", sym)}
		}
		compiled := make([]alternative, len(alts))
		for i, a := range alts {
			if a.Weight < 0 {
				return nil, &DefinitionError{Rule: id, Message: fmt.Sprintf("symbol %q: negative weight", sym)}
			}
			compiled[i] = alternative{segs: ParseExpansion(a.Expand, isSymbol), weight: a.Weight}
		}
		c.prods[sym] = compiled
	}
	c.computeNeed()
	return c, nil
}

// computeNeed finds, for every symbol, the least depth at which it terminates.
func (c *cfgRule) computeNeed() {
	c.need = make(map[string]int, len(c.prods))
	for sym := range c.prods {
		c.need[sym] = unbounded
	}
	altNeed := func(a alternative) int {
		n := 0
		for _, seg := range a.segs {
			if seg.Ref == "" {
				continue
			}
			sub := c.need[seg.Ref]
			if sub == unbounded {
				return unbounded
			}
			n = max(n, sub+1)
		}
		return n
	}
	for changed := true; changed; {
		changed = false
		for sym, alts := range c.prods {
			for i := range alts {
				if n := altNeed(alts[i]); n < c.need[sym] {
					c.need[sym] = n
					changed = true
				}
			}
		}
	}
	for _, alts := range c.prods {
		for i := range alts {
			alts[i].need = altNeed(alts[i])
		}
	}
}

func (c *cfgRule) Type() ir.TypeTag { return c.typ }

func (c *cfgRule) MinDepth() int {
	if n := c.need[c.start]; n != unbounded {
		return n
	}
	return -1
}

// Unterminated lists symbols reachable from the start symbol that can never
// terminate, sorted.
func (c *cfgRule) Unterminated() []string {
	var out []string
	seen := map[string]bool{c.start: true}
	queue := []string{c.start}
	for len(queue) > 0 {
		sym := queue[0]
		queue = queue[1:]
		if c.need[sym] == unbounded {
			out = append(out, sym)
		}
		for _, a := range c.prods[sym] {
			for _, seg := range a.segs {
				if seg.Ref != "" && !seen[seg.Ref] {
					seen[seg.Ref] = true
					queue = append(queue, seg.Ref)
				}
			}
		}
	}
	slices.Sort(out)
	return out
}

func (c *cfgRule) wrap(s string) ir.Value {
	if c.typ == ir.TypeString {
		return ir.String(s)
	}
	return ir.Raw(s)
}

func (c *cfgRule) text(v ir.Value) (string, bool) {
	switch val := v.(type) {
	case ir.String:
		return string(val), c.typ == ir.TypeString
	case ir.Raw:
		return string(val), c.typ != ir.TypeString
	}
	return "", false
}

func (c *cfgRule) Sample(r RandomSource, depth int) (ir.Value, error) {
	var sb strings.Builder
	if err := c.expand(&sb, r, c.start, depth); err != nil {
		return nil, err
	}
	return c.wrap(sb.String()), nil
}

// expand writes one derivation of sym. Only alternatives that can still
// terminate within depth are eligible, so at depth zero the choice is
// restricted to terminal-only alternatives.
func (c *cfgRule) expand(sb *strings.Builder, r RandomSource, sym string, depth int) error {
	alts := c.prods[sym]
	eligible := make([]int, 0, len(alts))
	weights := make([]float64, 0, len(alts))
	for i, a := range alts {
		if a.need <= depth {
			eligible = append(eligible, i)
			weights = append(weights, a.weight)
		}
	}
	if len(eligible) == 0 {
		return &ExhaustedError{Rule: c.id, Symbol: sym, Depth: depth}
	}

	a := alts[eligible[weightedIndex(r, weights)]]
	for _, seg := range a.segs {
		if seg.Ref == "" {
			sb.WriteString(seg.Text)
			continue
		}
		if err := c.expand(sb, r, seg.Ref, depth-1); err != nil {
			return err
		}
	}
	return nil
}

type depthKey struct {
	sym   string
	pos   int
	depth int
}

func (c *cfgRule) Enumerate(depth, limit int) []ir.Value {
	if limit <= 0 {
		return nil
	}
	memo := make(map[depthKey][]string)
	words := c.enumerate(c.start, depth, limit, memo)
	out := make([]ir.Value, len(words))
	for i, w := range words {
		out[i] = c.wrap(w)
	}
	return out
}

func (c *cfgRule) enumerate(sym string, depth, limit int, memo map[depthKey][]string) []string {
	key := depthKey{sym: sym, depth: depth}
	if words, ok := memo[key]; ok {
		return words
	}

	seen := make(map[string]bool)
	var out []string
	for _, a := range c.prods[sym] {
		if a.need > depth {
			continue
		}
		partial := []string{""}
		for _, seg := range a.segs {
			var next []string
			if seg.Ref == "" {
				for _, p := range partial {
					next = append(next, p+seg.Text)
				}
			} else {
				subs := c.enumerate(seg.Ref, depth-1, limit, memo)
			product:
				for _, p := range partial {
					for _, s := range subs {
						next = append(next, p+s)
						if len(next) >= limit {
							break product
						}
					}
				}
			}
			partial = next
		}
		for _, w := range partial {
			if !seen[w] {
				seen[w] = true
				out = append(out, w)
			}
			if len(out) >= limit {
				memo[key] = out
				return out
			}
		}
	}
	memo[key] = out
	return out
}

func (c *cfgRule) Accepts(v ir.Value, depth int) bool {
	s, ok := c.text(v)
	if !ok {
		return false
	}
	m := &matcher{rule: c, s: s, memo: make(map[depthKey][]int)}
	return slices.Contains(m.match(c.start, 0, depth), len(s))
}

// matcher decides membership by computing, for a symbol starting at a
// position, every end position it can derive within a depth.
type matcher struct {
	rule *cfgRule
	s    string
	memo map[depthKey][]int
}

func (m *matcher) match(sym string, pos, depth int) []int {
	key := depthKey{sym: sym, pos: pos, depth: depth}
	if ends, ok := m.memo[key]; ok {
		return ends
	}

	ends := make(map[int]bool)
	for _, a := range m.rule.prods[sym] {
		if a.need > depth {
			continue
		}
		cur := []int{pos}
		for _, seg := range a.segs {
			next := make(map[int]bool)
			for _, p := range cur {
				if seg.Ref == "" {
					if strings.HasPrefix(m.s[p:], seg.Text) {
						next[p+len(seg.Text)] = true
					}
					continue
				}
				for _, e := range m.match(seg.Ref, p, depth-1) {
					next[e] = true
				}
			}
			cur = sortedSet(next)
			if len(cur) == 0 {
				break
			}
		}
		for _, e := range cur {
			ends[e] = true
		}
	}
	out := sortedSet(ends)
	m.memo[key] = out
	return out
}

func sortedSet(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
