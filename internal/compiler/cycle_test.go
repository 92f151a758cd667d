package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scriptfuzz/internal/ir"
)

func cfg(prods map[string][]string) ir.GrammarDef {
	def := ir.GrammarDef{Kind: "cfg", Start: "s", Productions: map[string][]ir.Alternative{}}
	for sym, alts := range prods {
		for _, a := range alts {
			def.Productions[sym] = append(def.Productions[sym], ir.Alternative{Expand: a})
		}
	}
	return def
}

func TestAnalyzeGrammarCyclesEmpty(t *testing.T) {
	assert.Empty(t, AnalyzeGrammarCycles(nil))
	assert.Empty(t, AnalyzeGrammarCycles(map[string]ir.GrammarDef{
		"n": {Kind: "int"},
	}), "non-cfg rules have no symbols")
}

func TestAnalyzeGrammarCyclesDAG(t *testing.T) {
	g := map[string]ir.GrammarDef{
		"path": cfg(map[string][]string{
			"s":    {"{dir}/{file}"},
			"dir":  {"tmp", "{file}"},
			"file": {"a.pdf"},
		}),
	}
	assert.Empty(t, AnalyzeGrammarCycles(g))
}

func TestAnalyzeGrammarCyclesSelfLoop(t *testing.T) {
	g := map[string]ir.GrammarDef{
		"list": cfg(map[string][]string{"s": {"x", "{s},x"}}),
	}
	warnings := AnalyzeGrammarCycles(g)
	require.Len(t, warnings, 1)
	assert.Equal(t, "list", warnings[0].Rule)
	assert.Equal(t, []string{"s", "s"}, warnings[0].Path)
	assert.Equal(t, "warning", warnings[0].Level)
}

func TestAnalyzeGrammarCyclesMutual(t *testing.T) {
	g := map[string]ir.GrammarDef{
		"expr": cfg(map[string][]string{
			"s":    {"{term}"},
			"term": {"1", "({s})"},
		}),
		"b": cfg(map[string][]string{"s": {"{s}{s}", "0"}}),
	}
	warnings := AnalyzeGrammarCycles(g)
	require.Len(t, warnings, 2)
	assert.Equal(t, "b", warnings[0].Rule, "sorted by rule")
	assert.Equal(t, "expr", warnings[1].Rule)
	assert.Equal(t, []string{"s", "term", "s"}, warnings[1].Path)
	assert.Contains(t, warnings[1].Message, "s → term → s")
}

// TestAnalyzeGrammarCyclesEscapedBraces checks escaped braces and unknown
// placeholders do not create edges.
func TestAnalyzeGrammarCyclesEscapedBraces(t *testing.T) {
	g := map[string]ir.GrammarDef{
		"obj": cfg(map[string][]string{"s": {"<<<LEFT_BRACE>>>s<<<RIGHT_BRACE>>>", "{nope}"}}),
	}
	assert.Empty(t, AnalyzeGrammarCycles(g))
}
