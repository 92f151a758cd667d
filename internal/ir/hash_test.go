package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCalls() []CallInstance {
	return []CallInstance{
		{
			Index:    0,
			API:      "Doc.getField",
			Receiver: "this",
			Args:     []Arg{{Param: "cName", Value: String("f1"), Source: SourceGrammar}},
			Bind:     "Field_0",
			Mode:     ModeRelation,
		},
		{
			Index:    1,
			API:      "Field.setItems",
			Receiver: "Field_0",
			Args:     []Arg{{Param: "oArray", Value: NewIntSet(3, 1), Source: SourceSolver}},
			Mode:     ModeRelationSymbolic,
		},
	}
}

func TestTestCaseIDDeterminism(t *testing.T) {
	id1, err := TestCaseID(sampleCalls())
	require.NoError(t, err)
	id2, err := TestCaseID(sampleCalls())
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "TestCaseID must be deterministic")
	assert.Len(t, id1, 64, "SHA-256 hex is 64 characters")
}

func TestTestCaseIDIgnoresMetadata(t *testing.T) {
	calls := sampleCalls()
	calls[0].Mode = ModeGrammarOnly
	calls[1].Args[0].Source = SourceGrammar

	assert.Equal(t, MustTestCaseID(sampleCalls()), MustTestCaseID(calls),
		"modes and sources do not change the rendered artifact")
}

func TestTestCaseIDChangesWithArgs(t *testing.T) {
	calls := sampleCalls()
	calls[1].Args[0].Value = NewIntSet(1, 2)

	assert.NotEqual(t, MustTestCaseID(sampleCalls()), MustTestCaseID(calls))
}

func TestTestCaseIDRejectsNilValue(t *testing.T) {
	calls := sampleCalls()
	calls[0].Args[0].Value = nil

	_, err := TestCaseID(calls)
	assert.Error(t, err)
}

func TestArtifactIDDomainSeparation(t *testing.T) {
	data := []byte("%PDF-1.7")
	assert.Equal(t, ArtifactID(data), ArtifactID(data))
	assert.NotEqual(t, hashWithDomain(DomainTestCase, data), ArtifactID(data))
}
