package ir

// Version constants for persisted records and the binary.
const (
	// SchemaVersion is the version of the JSON sidecar and run store layout.
	SchemaVersion = "1"

	// EngineVersion is the scriptfuzz engine version.
	EngineVersion = "0.1.0"
)
