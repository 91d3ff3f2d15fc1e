package ir

// Version constants for IR schema and engine.
const (
	// IRVersion is the evaluated-operation schema version.
	IRVersion = "1"

	// EngineVersion is the optisync engine version.
	EngineVersion = "0.1.0"
)
