package enginerpc

import (
	"errors"
	"fmt"

	"github.com/chaz8081/parakeet-core/internal/backend"
	"github.com/chaz8081/parakeet-core/internal/capture"
	"github.com/chaz8081/parakeet-core/internal/engine"
)

// Kind names one entry in the error taxonomy (spec §7). Host bindings
// that cross a serialization boundary (JSON-RPC, gRPC, Wails) marshal
// EngineError as {kind, message, recoverable} directly.
type Kind string

const (
	KindDeviceUnavailable Kind = "DeviceUnavailable"
	KindInvalidState      Kind = "InvalidState"
	KindModelsMissing     Kind = "ModelsMissing"
	KindModelLoadFailed   Kind = "ModelLoadFailed"
	KindInferenceFailed   Kind = "InferenceFailed"
	KindDecodeRuntimeError Kind = "DecodeRuntimeError"
	KindAudioDecodeError  Kind = "AudioDecodeError"
	KindUnknown           Kind = "Unknown"
)

// EngineError is the host-facing error object (spec §6, §7): a tagged
// kind, a human-readable message, and whether the session can continue
// issuing requests without reinitializing anything.
type EngineError struct {
	Kind        Kind
	Message     string
	Recoverable bool
	cause       error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *EngineError) Unwrap() error { return e.cause }

// Exit/error code families (spec §6): 0 success, then 1x device, 2x
// model/load, 3x inference, 4x I/O.
const (
	ExitSuccess          = 0
	ExitDeviceFamily     = 10
	ExitModelFamily      = 20
	ExitInferenceFamily  = 30
	ExitIOFamily         = 40
	ExitUnknownFamily    = 90
)

// exitCode maps a Kind to its exit-code family.
func (k Kind) exitCode() int {
	switch k {
	case KindDeviceUnavailable:
		return ExitDeviceFamily
	case KindModelsMissing, KindModelLoadFailed:
		return ExitModelFamily
	case KindInferenceFailed, KindDecodeRuntimeError:
		return ExitInferenceFamily
	case KindAudioDecodeError:
		return ExitIOFamily
	case KindInvalidState:
		return ExitDeviceFamily
	default:
		return ExitUnknownFamily
	}
}

// ExitCode returns the process exit code for err, following the §6
// family scheme. A nil err is success.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	return Wrap(err).Kind.exitCode()
}

// Wrap classifies err against the taxonomy's sentinel errors and
// attaches the propagation policy's recoverability verdict (spec §7):
// InvalidState and a failed inference pass are recoverable (the caller
// can retry or issue a fresh request); device, model, and decode
// failures are not, since they require host-side intervention before a
// retry could succeed.
func Wrap(err error) *EngineError {
	if err == nil {
		return nil
	}
	if ee, ok := err.(*EngineError); ok {
		return ee
	}

	switch {
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return &EngineError{Kind: KindDeviceUnavailable, Message: err.Error(), Recoverable: false, cause: err}
	case errors.Is(err, capture.ErrInvalidState):
		return &EngineError{Kind: KindInvalidState, Message: err.Error(), Recoverable: true, cause: err}
	case errors.Is(err, backend.ErrModelsMissing), errors.Is(err, engine.ErrModelsMissing):
		return &EngineError{Kind: KindModelsMissing, Message: err.Error(), Recoverable: false, cause: err}
	case errors.Is(err, backend.ErrModelLoadFailed):
		return &EngineError{Kind: KindModelLoadFailed, Message: err.Error(), Recoverable: false, cause: err}
	case errors.Is(err, backend.ErrInferenceFailed):
		return &EngineError{Kind: KindInferenceFailed, Message: err.Error(), Recoverable: true, cause: err}
	case errors.Is(err, backend.ErrDecodeRuntimeError):
		return &EngineError{Kind: KindDecodeRuntimeError, Message: err.Error(), Recoverable: false, cause: err}
	case errors.Is(err, engine.ErrAudioDecodeError):
		return &EngineError{Kind: KindAudioDecodeError, Message: err.Error(), Recoverable: false, cause: err}
	default:
		return &EngineError{Kind: KindUnknown, Message: err.Error(), Recoverable: false, cause: err}
	}
}
