package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainTestCase = "scriptfuzz/testcase/v1"
	DomainArtifact = "scriptfuzz/artifact/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// TestCaseID computes the content-addressed ID of a call sequence.
// Two sequences that render the same artifact share an ID.
func TestCaseID(calls []CallInstance) (string, error) {
	canonical, err := MarshalCanonical(canonicalCalls(calls))
	if err != nil {
		return "", fmt.Errorf("TestCaseID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainTestCase, canonical), nil
}

// ArtifactID computes the ID of an artifact whose sequence is unknown (replay).
func ArtifactID(artifact []byte) string {
	return hashWithDomain(DomainArtifact, artifact)
}

// MustTestCaseID is like TestCaseID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustTestCaseID(calls []CallInstance) string {
	id, err := TestCaseID(calls)
	if err != nil {
		panic(err)
	}
	return id
}
