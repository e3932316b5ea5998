package engine

import "errors"

// Sentinel errors completing the taxonomy in spec §7 (capture and
// backend sentinels live in their own packages; these are the ones
// specific to file ingestion and the orchestrator itself).
var (
	ErrAudioDecodeError = errors.New("engine: unreadable or unsupported audio container")
	ErrModelsMissing    = errors.New("engine: required model files are missing")
)
