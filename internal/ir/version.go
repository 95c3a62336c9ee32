package ir

// Version constants for the document schema and engine.
const (
	// SchemaVersion is the replicated record schema version.
	SchemaVersion = "1"

	// EngineVersion is the tessera engine version.
	EngineVersion = "0.1.0"
)
