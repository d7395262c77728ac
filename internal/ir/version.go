package ir

// Version constants for cycle records and the engine.
const (
	// RecordVersion is the cycle record schema version. It moves with the
	// /vN suffix of the digest domains.
	RecordVersion = "1"

	// EngineVersion is the knhk engine version.
	EngineVersion = "0.1.0"
)
