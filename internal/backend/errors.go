package backend

import "errors"

// Sentinel errors matching the taxonomy in spec §7. Wrap with fmt.Errorf
// and %w so callers can still errors.Is against these.
var (
	ErrModelsMissing      = errors.New("backend: required model files are missing")
	ErrModelLoadFailed    = errors.New("backend: model failed to load")
	ErrInferenceFailed    = errors.New("backend: inference runtime returned a non-recoverable status")
	ErrDecodeRuntimeError = errors.New("backend: joint output shape mismatch or unknown tensor names")
)
