package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/scriptfuzz/internal/grammar"
	"github.com/roach88/scriptfuzz/internal/ir"
)

// CycleWarning reports recursion between the non-terminals of a cfg rule.
//
// Recursion is legal: the depth budget cuts it off. It is reported because
// a recursive rule spends most of its samples near the budget, where only
// terminating alternatives remain.
type CycleWarning struct {
	Rule    string   `json:"rule"`
	Path    []string `json:"path"` // ["expr", "term", "expr"]
	Message string   `json:"message"`
	Level   string   `json:"level"`
}

// AnalyzeGrammarCycles finds recursive non-terminals in every cfg rule,
// using Tarjan's algorithm on the symbol reference graph. Warnings are
// ordered by rule, then by path.
func AnalyzeGrammarCycles(grammars map[string]ir.GrammarDef) []CycleWarning {
	ids := make([]string, 0, len(grammars))
	for id := range grammars {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	warnings := []CycleWarning{}
	for _, id := range ids {
		def := grammars[id]
		if def.Kind != "cfg" {
			continue
		}
		graph := buildSymbolGraph(def)
		var found []CycleWarning
		for _, scc := range tarjanSCC(graph) {
			if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
				found = append(found, cycleSCCToWarning(id, scc, graph))
			}
		}
		slices.SortFunc(found, func(a, b CycleWarning) int {
			return slices.Compare(a.Path, b.Path)
		})
		warnings = append(warnings, found...)
	}
	return warnings
}

// symbolGraph maps a non-terminal to the non-terminals its alternatives
// reference.
type symbolGraph map[string][]string

func buildSymbolGraph(def ir.GrammarDef) symbolGraph {
	isSymbol := func(s string) bool {
		_, ok := def.Productions[s]
		return ok
	}
	graph := make(symbolGraph, len(def.Productions))
	for sym, alts := range def.Productions {
		refs := []string{}
		for _, alt := range alts {
			for _, seg := range grammar.ParseExpansion(alt.Expand, isSymbol) {
				if seg.Ref != "" && !slices.Contains(refs, seg.Ref) {
					refs = append(refs, seg.Ref)
				}
			}
		}
		slices.Sort(refs)
		graph[sym] = refs
	}
	return graph
}

func hasSelfLoop(node string, graph symbolGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC returns the strongly connected components of graph. Nodes are
// visited in sorted order so the result is deterministic.
func tarjanSCC(graph symbolGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

func cycleSCCToWarning(rule string, scc []string, graph symbolGraph) CycleWarning {
	var path []string
	if len(scc) == 1 {
		path = []string{scc[0], scc[0]}
	} else {
		path = reconstructCyclePath(scc, graph)
	}
	return CycleWarning{
		Rule:    rule,
		Path:    path,
		Message: fmt.Sprintf("grammar %s: recursive symbols %s", rule, strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// reconstructCyclePath walks edges inside the SCC from its first member
// until it returns to the start.
func reconstructCyclePath(scc []string, graph symbolGraph) []string {
	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)
	for {
		visited[current] = true
		var next string
		for _, n := range graph[current] {
			if members[n] && (!visited[n] || n == start) {
				next = n
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
