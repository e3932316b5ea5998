// Package backend defines the uniform inference surface every Parakeet
// TDT runtime implementation must provide (spec §4.3), and a registry that
// holds exactly one active adapter and supports hot-swap (spec §4.10).
package backend

import (
	"fmt"
	"sync"
)

// ID names one of the three interchangeable backend implementations.
type ID string

const (
	// ONNX is the CPU/GPU-agnostic optimized runtime (cgo-wrapped ONNX
	// Runtime via github.com/yalue/onnxruntime_go).
	ONNX ID = "onnx"
	// Purego is the cross-platform neural runtime: the same ONNX graphs
	// executed through a pure-Go, no-cgo ONNX Runtime binding.
	Purego ID = "purego"
	// CoreML is the platform-native accelerator runtime (Apple Neural
	// Engine via cgo + CoreML.framework). Single-chunk only; rejects
	// beam_width > 1 by silently falling back to greedy.
	CoreML ID = "coreml"
)

// Backend is the uniform inference surface over one loaded Parakeet model
// triple (encoder, decoder, joint). Implementations must never leak their
// runtime-specific tensor types across this boundary (spec §9): adapt at
// the edge, return plain Go slices.
type Backend interface {
	// LoadModels loads the encoder/decoder/joint graphs from directory;
	// the vocabulary is loaded separately by the caller. Must be called
	// before any Run* method.
	LoadModels(directory string) error

	// RunEncoder runs the mel front-end and conformer encoder over padded
	// PCM (padded/truncated to exactly maxSamples, spec §4.2) plus the
	// true sample count. Returns the flattened [enc_length, hidden]
	// encoder activations and the valid frame count.
	RunEncoder(paddedPCM []float32, audioLength int) (encoderOut []float32, encLength int, err error)

	// RunDecoder executes one LSTM decoder step.
	RunDecoder(targetID int32, hIn, cIn []float32) (decoderOut, hOut, cOut []float32, err error)

	// RunJoint combines one encoder frame and one decoder step into raw
	// logits (token logits followed by duration-bin logits).
	RunJoint(encoderFrame, decoderOut []float32) (logits []float32, err error)

	// SupportsBeamSearch reports whether this backend can run beam_width
	// > 1. CoreML returns false; requests above its cap silently fall
	// back to greedy (spec §4.5).
	SupportsBeamSearch() bool

	// ResetRequestHandles reinitializes any per-request inference state
	// the underlying runtime may accumulate across calls. Spec §9
	// mandates calling this at the start of every transcription instead
	// of reloading models from disk.
	ResetRequestHandles() error

	// Close releases backend resources.
	Close() error
}

// Factory constructs a Backend for one ID. Adapters register themselves
// via Register during package init so the registry never needs to import
// the individual cgo-heavy adapter packages directly.
type Factory func() Backend

var (
	mu        sync.Mutex
	factories = map[ID]Factory{}
)

// Register makes a backend factory available to the registry. Intended to
// be called from an adapter package's init().
func Register(id ID, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[id] = f
}

// Registry holds exactly one active backend adapter and supports
// swapping it atomically. The previous backend is preserved on a failed
// swap (spec §4.10, §7).
type Registry struct {
	mu      sync.Mutex
	active  Backend
	id      ID
	modelsDir string
}

// NewRegistry constructs an empty registry. Call SetBackend before use.
func NewRegistry() *Registry {
	return &Registry{}
}

// SetBackend atomically replaces the active adapter with a freshly loaded
// instance of id, sourcing model files from modelsDir/<id>/. Blocks the
// caller until loading completes or fails. On failure the previous
// backend, if any, remains active.
func (r *Registry) SetBackend(id ID, modelsDir string) error {
	mu.Lock()
	factory, ok := factories[id]
	mu.Unlock()
	if !ok {
		return fmt.Errorf("backend: unknown backend %q", id)
	}

	next := factory()
	dir := modelsDir
	if dir != "" {
		dir = fmt.Sprintf("%s/%s", modelsDir, id)
	}
	if err := next.LoadModels(dir); err != nil {
		return fmt.Errorf("backend: load %q: %w: %w", id, err, ErrModelLoadFailed)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		if err := r.active.Close(); err != nil {
			// Closing the outgoing backend is best-effort; failing it
			// must not block the swap that already succeeded.
			_ = err
		}
	}
	r.active = next
	r.id = id
	r.modelsDir = modelsDir
	return nil
}

// Active returns the currently active backend, or nil if none is set.
func (r *Registry) Active() Backend {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// ActiveID returns the id of the currently active backend.
func (r *Registry) ActiveID() ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}
