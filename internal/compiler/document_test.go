package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scriptfuzz/internal/ir"
)

const specJSON = `{
  "objects": {"Doc": ["this", "fthis"]},
  "apis": {
    "Doc.open": {"parameters": [{"name": "path", "type": "string", "grammar": "path"}]},
    "Doc.pageNum": {"kind": "property", "parameters": [{"name": "NoParameterName", "type": "integer", "grammar": "page", "width": 16, "domain": {"min": 0, "max": 9}}]},
    "Doc.getField": {"parameters": [{"name": "cName", "type": "string", "grammar": "path"}], "return_type": "Doc"}
  },
  "grammars": {
    "path": {"kind": "cfg", "type": "string", "start": "s", "productions": {"s": [{"expand": "a.pdf", "weight": 2}, {"expand": "{s}x"}]}},
    "page": {"kind": "int", "min": 0, "max": 100, "boundary": [0, 100], "boundary_probability": 0.5}
  }
}`

func TestCompileSpecJSON(t *testing.T) {
	doc, err := CompileSpec("doc.json", []byte(specJSON))
	require.NoError(t, err)

	assert.Equal(t, []string{"this", "fthis"}, doc.Objects["Doc"])
	require.Len(t, doc.APIs, 3)

	open := doc.APIs["Doc.open"]
	assert.Equal(t, ir.APIMethod, open.Kind, "kind defaults to method")
	assert.Equal(t, []ir.Parameter{{Name: "path", Type: ir.TypeString, Grammar: "path"}}, open.Parameters)

	page := doc.APIs["Doc.pageNum"]
	assert.Equal(t, ir.APIProperty, page.Kind)
	assert.Equal(t, &ir.Domain{Min: 0, Max: 9}, page.Parameters[0].Domain)
	assert.Equal(t, 16, page.Parameters[0].Width)
	assert.Equal(t, "Doc", doc.APIs["Doc.getField"].ReturnType)

	path := doc.Grammars["path"]
	assert.Equal(t, "cfg", path.Kind)
	assert.Equal(t, []ir.Alternative{{Expand: "a.pdf", Weight: 2}, {Expand: "{s}x"}}, path.Productions["s"])
	assert.Equal(t, int64(100), *doc.Grammars["page"].Max)
	assert.Equal(t, 0.5, *doc.Grammars["page"].BoundaryProbability)
}

func TestCompileSpecCUE(t *testing.T) {
	src := `
apis: "app.alert": parameters: [{name: "cMsg", type: "string", grammar: "msg"}]
grammars: msg: {kind: "cfg", start: "s", productions: s: [{expand: "hi"}]}
`
	doc, err := CompileSpec("app.cue", []byte(src))
	require.NoError(t, err)
	assert.Equal(t, "msg", doc.APIs["app.alert"].Parameters[0].Grammar)
	assert.Empty(t, doc.Objects)
}

func TestCompileSpecSchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown type tag", `{"apis": {"A.m": {"parameters": [{"name": "x", "type": "float"}]}}}`},
		{"unknown field", `{"apis": {"A.m": {"bogus": 1}}}`},
		{"api without member", `{"apis": {"open": {}}}`},
		{"bad kind", `{"apis": {"A.m": {"kind": "event"}}}`},
		{"empty parameter name", `{"apis": {"A.m": {"parameters": [{"name": "", "type": "string"}]}}}`},
		{"domain inverted", `{"apis": {"A.m": {"parameters": [{"name": "x", "type": "integer", "domain": {"min": 5, "max": 1}}]}}}`},
		{"probability range", `{"grammars": {"b": {"kind": "bool", "true_probability": 2}}}`},
		{"missing grammar kind", `{"grammars": {"b": {"min": 1}}}`},
		{"malformed json", `{"apis": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileSpec("bad.json", []byte(tt.src))
			require.Error(t, err)
		})
	}
}

func TestCompileErrorCarriesPosition(t *testing.T) {
	_, err := CompileSpec("bad.cue", []byte("apis: \"A.m\": kind: \"event\"\n"))
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Error(), "apis")
}

func TestCompileRelations(t *testing.T) {
	src := `{
  "weak": [{"a": "Doc.open", "b": "Doc.pageNum", "score": 0.7}],
  "strong": [{"a": "Doc.open.path", "b": "Doc.getField.cName", "predicate": "(= x y)", "ordered": true}]
}`
	doc, err := CompileRelations("rel.json", []byte(src))
	require.NoError(t, err)

	assert.Equal(t, []ir.WeakEdge{{A: "Doc.open", B: "Doc.pageNum", Score: 0.7}}, doc.Weak)
	require.Len(t, doc.Strong, 1)
	assert.True(t, doc.Strong[0].Ordered)
	assert.Equal(t, "(= x y)", doc.Strong[0].Predicate)

	_, err = CompileRelations("rel.json", []byte(`{"weak": [{"a": "A.m"}]}`))
	assert.Error(t, err, "score is required")
}

func TestCompileFiles(t *testing.T) {
	dir := t.TempDir()
	specPath := filepath.Join(dir, "doc.json")
	require.NoError(t, os.WriteFile(specPath, []byte(specJSON), 0o644))

	doc, err := CompileSpecFile(specPath)
	require.NoError(t, err)
	assert.Len(t, doc.APIs, 3)

	_, err = CompileSpecFile(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = CompileRelationsFile(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
