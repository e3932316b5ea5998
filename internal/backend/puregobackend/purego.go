// Package puregobackend implements the cross-platform neural backend
// (spec §4.3, §9) on github.com/shota3506/onnxruntime-purego, a
// github.com/ebitengine/purego binding to the ONNX Runtime shared library
// that needs no cgo toolchain. It runs the identical encoder/decoder/joint
// graphs as the onnxbackend adapter; the two differ only in how they load
// the native library and invoke it.
package puregobackend

import (
	"fmt"
	"path/filepath"
	"sync"

	ort "github.com/shota3506/onnxruntime-purego"

	"github.com/chaz8081/parakeet-core/internal/backend"
	"github.com/chaz8081/parakeet-core/internal/mel"
	"github.com/chaz8081/parakeet-core/internal/tdt"
)

func init() {
	backend.Register(backend.Purego, func() backend.Backend { return &Backend{} })
}

const (
	encoderInputSignal = "audio_signal"
	encoderInputLength = "length"
	encoderOutput      = "outputs"
	encoderOutputLen   = "encoded_lengths"

	decoderInputTargets = "targets"
	decoderInputLength  = "target_length"
	decoderInputState1  = "input_states_1"
	decoderInputState2  = "input_states_2"
	decoderOutput       = "decoder_output"
	decoderOutputState1 = "output_states_1"
	decoderOutputState2 = "output_states_2"

	jointInputEncoder = "encoder_outputs"
	jointInputDecoder = "decoder_outputs"
	jointOutput       = "outputs"
)

// Backend is the pure-Go ONNX Runtime adapter.
type Backend struct {
	mu sync.Mutex

	env *ort.Env

	encoder *ort.Session
	decoder *ort.Session
	joint   *ort.Session

	extractor *mel.Extractor
}

// LoadModels loads encoder.onnx, decoder.onnx, and joint.onnx from
// directory using the in-process pure-Go runtime.
func (b *Backend) LoadModels(directory string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	env, err := ort.NewEnv("parakeet-core")
	if err != nil {
		return fmt.Errorf("puregobackend: new env: %w", err)
	}
	b.env = env
	b.extractor = mel.NewExtractor()

	enc, err := env.NewSession(filepath.Join(directory, "encoder.onnx"), &ort.SessionOptions{})
	if err != nil {
		return fmt.Errorf("puregobackend: load encoder: %w: %w", err, backend.ErrModelsMissing)
	}
	dec, err := env.NewSession(filepath.Join(directory, "decoder.onnx"), &ort.SessionOptions{})
	if err != nil {
		enc.Close()
		return fmt.Errorf("puregobackend: load decoder: %w: %w", err, backend.ErrModelsMissing)
	}
	jnt, err := env.NewSession(filepath.Join(directory, "joint.onnx"), &ort.SessionOptions{})
	if err != nil {
		enc.Close()
		dec.Close()
		return fmt.Errorf("puregobackend: load joint: %w: %w", err, backend.ErrModelsMissing)
	}

	b.encoder, b.decoder, b.joint = enc, dec, jnt
	return nil
}

// RunEncoder runs the mel front-end then the encoder graph.
func (b *Backend) RunEncoder(paddedPCM []float32, audioLength int) ([]float32, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.encoder == nil {
		return nil, 0, fmt.Errorf("puregobackend: %w", backend.ErrModelsMissing)
	}

	frames := b.extractor.Extract(paddedPCM, audioLength)

	inputs := map[string]*ort.Value{
		encoderInputSignal: ort.NewFloat32Value(frames.Data, []int64{1, int64(mel.NumMelBins), int64(frames.NumFrames)}),
		encoderInputLength: ort.NewInt64Value([]int64{int64(frames.NumFrames)}, []int64{1}),
	}
	outputs, err := b.encoder.Run(inputs, []string{encoderOutput, encoderOutputLen})
	if err != nil {
		return nil, 0, fmt.Errorf("puregobackend: encoder run: %w: %w", err, backend.ErrInferenceFailed)
	}

	encOut, ok := outputs[encoderOutput]
	if !ok {
		return nil, 0, fmt.Errorf("puregobackend: missing encoder output tensor: %w", backend.ErrDecodeRuntimeError)
	}
	lenOut, ok := outputs[encoderOutputLen]
	if !ok {
		return nil, 0, fmt.Errorf("puregobackend: missing encoder length tensor: %w", backend.ErrDecodeRuntimeError)
	}

	encLengths, err := lenOut.Int64Data()
	if err != nil || len(encLengths) == 0 {
		return nil, 0, fmt.Errorf("puregobackend: bad encoder length tensor: %w", backend.ErrDecodeRuntimeError)
	}
	data, err := encOut.Float32Data()
	if err != nil {
		return nil, 0, fmt.Errorf("puregobackend: bad encoder output tensor: %w", backend.ErrDecodeRuntimeError)
	}

	return transposeChannelMajor(data, int(tdt.EncoderHidden)), int(encLengths[0]), nil
}

// transposeChannelMajor converts the encoder graph's native
// [1, EncoderHidden, time] output layout (channel-major, the same graph
// onnxbackend.Backend.RunEncoder runs and transposes identically) into
// the [1, time, EncoderHidden] frame-major layout the shared tdt decode
// loop assumes.
func transposeChannelMajor(data []float32, channels int) []float32 {
	if channels == 0 {
		return append([]float32(nil), data...)
	}
	frames := len(data) / channels
	out := make([]float32, len(data))
	for c := 0; c < channels; c++ {
		for t := 0; t < frames; t++ {
			out[t*channels+c] = data[c*frames+t]
		}
	}
	return out
}

// RunDecoder executes one LSTM decoder step.
func (b *Backend) RunDecoder(targetID int32, hIn, cIn []float32) ([]float32, []float32, []float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.decoder == nil {
		return nil, nil, nil, fmt.Errorf("puregobackend: %w", backend.ErrModelsMissing)
	}

	inputs := map[string]*ort.Value{
		decoderInputTargets: ort.NewInt32Value([]int32{targetID}, []int64{1, 1}),
		decoderInputLength:  ort.NewInt32Value([]int32{1}, []int64{1}),
		decoderInputState1:  ort.NewFloat32Value(hIn, []int64{int64(tdt.LSTMLayers), 1, int64(tdt.DecoderHidden)}),
		decoderInputState2:  ort.NewFloat32Value(cIn, []int64{int64(tdt.LSTMLayers), 1, int64(tdt.DecoderHidden)}),
	}
	outputs, err := b.decoder.Run(inputs, []string{decoderOutput, decoderOutputState1, decoderOutputState2})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("puregobackend: decoder run: %w: %w", err, backend.ErrInferenceFailed)
	}

	out, err := outputs[decoderOutput].Float32Data()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("puregobackend: bad decoder output: %w", backend.ErrDecodeRuntimeError)
	}
	hOut, err := outputs[decoderOutputState1].Float32Data()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("puregobackend: bad decoder state1: %w", backend.ErrDecodeRuntimeError)
	}
	cOut, err := outputs[decoderOutputState2].Float32Data()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("puregobackend: bad decoder state2: %w", backend.ErrDecodeRuntimeError)
	}

	return append([]float32(nil), out...), append([]float32(nil), hOut...), append([]float32(nil), cOut...), nil
}

// RunJoint combines one encoder frame and one decoder step into raw
// logits.
func (b *Backend) RunJoint(encoderFrame, decoderOut []float32) ([]float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.joint == nil {
		return nil, fmt.Errorf("puregobackend: %w", backend.ErrModelsMissing)
	}

	inputs := map[string]*ort.Value{
		jointInputEncoder: ort.NewFloat32Value(encoderFrame, []int64{1, 1, int64(len(encoderFrame))}),
		jointInputDecoder: ort.NewFloat32Value(decoderOut, []int64{1, 1, int64(len(decoderOut))}),
	}
	outputs, err := b.joint.Run(inputs, []string{jointOutput})
	if err != nil {
		return nil, fmt.Errorf("puregobackend: joint run: %w: %w", err, backend.ErrInferenceFailed)
	}

	logits, err := outputs[jointOutput].Float32Data()
	if err != nil {
		return nil, fmt.Errorf("puregobackend: bad joint output: %w", backend.ErrDecodeRuntimeError)
	}
	if len(logits) != tdt.VocabSize+tdt.NumDurationBins {
		return nil, fmt.Errorf("puregobackend: joint logits length %d, want %d: %w",
			len(logits), tdt.VocabSize+tdt.NumDurationBins, backend.ErrDecodeRuntimeError)
	}
	return append([]float32(nil), logits...), nil
}

// SupportsBeamSearch is always true for the pure-Go backend.
func (b *Backend) SupportsBeamSearch() bool { return true }

// ResetRequestHandles is a no-op; sessions are stateless between calls.
func (b *Backend) ResetRequestHandles() error { return nil }

// Close releases the three sessions and the runtime environment.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.encoder != nil {
		b.encoder.Close()
	}
	if b.decoder != nil {
		b.decoder.Close()
	}
	if b.joint != nil {
		b.joint.Close()
	}
	if b.env != nil {
		b.env.Close()
	}
	return nil
}
