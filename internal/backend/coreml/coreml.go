// Package coreml implements the platform-native accelerator backend
// (spec §4.3, §4.5): four CoreML models (preprocessor, encoder, decoder,
// joint) run through Apple's Neural Engine via internal/coreml's cgo
// bridge. It is the only backend that cannot run beam search; requests
// above beam_width=1 are silently served with greedy decoding instead
// (spec §4.5).
package coreml

import (
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"unsafe"

	bridge "github.com/chaz8081/parakeet-core/internal/coreml"

	"github.com/chaz8081/parakeet-core/internal/backend"
	"github.com/chaz8081/parakeet-core/internal/tdt"
)

func init() {
	backend.Register(backend.CoreML, func() backend.Backend { return &Backend{} })
}

const maxSamples = 240000 // 15s at 16kHz, spec §4.2

// Backend is the CoreML adapter. It never supports beam search (spec
// §4.5); RunEncoder chains the preprocessor and encoder models so callers
// still see a single mel-to-encoder-state boundary like the other two
// backends.
type Backend struct {
	mu sync.Mutex

	preprocessor *bridge.Model
	encoder      *bridge.Model
	decoder      *bridge.Model
	joint        *bridge.Model

	prepInputNames, prepOutputNames   []string
	encInputNames, encOutputNames     []string
	decInputNames, decOutputNames     []string
	jointInputNames, jointOutputNames []string
}

// LoadModels loads the four .mlmodelc bundles from directory.
func (b *Backend) LoadModels(directory string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	bridge.SetComputeUnits(bridge.ComputeCPUOnly)
	prep, err := bridge.LoadModel(filepath.Join(directory, "Preprocessor.mlmodelc"))
	if err != nil {
		return fmt.Errorf("coreml: load preprocessor: %w: %w", err, backend.ErrModelsMissing)
	}

	bridge.SetComputeUnits(bridge.ComputeAll)
	enc, err := bridge.LoadModel(filepath.Join(directory, "Encoder.mlmodelc"))
	if err != nil {
		prep.Close()
		return fmt.Errorf("coreml: load encoder: %w: %w", err, backend.ErrModelsMissing)
	}
	dec, err := bridge.LoadModel(filepath.Join(directory, "Decoder.mlmodelc"))
	if err != nil {
		prep.Close()
		enc.Close()
		return fmt.Errorf("coreml: load decoder: %w: %w", err, backend.ErrModelsMissing)
	}
	jnt, err := bridge.LoadModel(filepath.Join(directory, "JointDecision.mlmodelc"))
	if err != nil {
		prep.Close()
		enc.Close()
		dec.Close()
		return fmt.Errorf("coreml: load joint: %w: %w", err, backend.ErrModelsMissing)
	}

	b.preprocessor, b.encoder, b.decoder, b.joint = prep, enc, dec, jnt
	b.prepInputNames, b.prepOutputNames = modelIO(prep)
	b.encInputNames, b.encOutputNames = modelIO(enc)
	b.decInputNames, b.decOutputNames = modelIO(dec)
	b.jointInputNames, b.jointOutputNames = modelIO(jnt)
	return nil
}

func modelIO(m *bridge.Model) (inputs, outputs []string) {
	inputs = make([]string, m.InputCount())
	for i := range inputs {
		inputs[i] = m.InputName(i)
	}
	outputs = make([]string, m.OutputCount())
	for i := range outputs {
		outputs[i] = m.OutputName(i)
	}
	return
}

// RunEncoder pads/truncates PCM to maxSamples, then runs the
// preprocessor and encoder models in sequence.
func (b *Backend) RunEncoder(paddedPCM []float32, audioLength int) ([]float32, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.preprocessor == nil || b.encoder == nil {
		return nil, 0, fmt.Errorf("coreml: %w", backend.ErrModelsMissing)
	}

	audio := padAudio(paddedPCM, maxSamples)

	audioTensor, err := bridge.NewTensorWithData([]int64{1, int64(len(audio))}, bridge.DTypeFloat32, unsafe.Pointer(&audio[0]))
	if err != nil {
		return nil, 0, fmt.Errorf("coreml: %w: %w", err, backend.ErrInferenceFailed)
	}
	defer audioTensor.Close()

	lengthVal := []int32{int32(audioLength)}
	lengthTensor, err := bridge.NewTensorWithData([]int64{1}, bridge.DTypeInt32, unsafe.Pointer(&lengthVal[0]))
	if err != nil {
		return nil, 0, fmt.Errorf("coreml: %w: %w", err, backend.ErrInferenceFailed)
	}
	defer lengthTensor.Close()

	prepOutputs := make([]*bridge.Tensor, b.preprocessor.OutputCount())
	for i := range prepOutputs {
		prepOutputs[i], err = bridge.NewTensor([]int64{1, 128, 1501}, bridge.DTypeFloat32)
		if err != nil {
			return nil, 0, fmt.Errorf("coreml: alloc preprocessor output: %w: %w", err, backend.ErrInferenceFailed)
		}
	}
	defer func() {
		for _, t := range prepOutputs {
			t.Close()
		}
	}()

	if err := b.preprocessor.Predict(b.prepInputNames, []*bridge.Tensor{audioTensor, lengthTensor}, b.prepOutputNames, prepOutputs); err != nil {
		return nil, 0, fmt.Errorf("coreml: preprocessor predict: %w: %w", err, backend.ErrInferenceFailed)
	}

	encOutputs := make([]*bridge.Tensor, b.encoder.OutputCount())
	for i := range encOutputs {
		if i == 0 {
			encOutputs[i], err = bridge.NewTensor([]int64{1, 1501, int64(tdt.EncoderHidden)}, bridge.DTypeFloat32)
		} else {
			encOutputs[i], err = bridge.NewTensor([]int64{1}, bridge.DTypeInt32)
		}
		if err != nil {
			return nil, 0, fmt.Errorf("coreml: alloc encoder output: %w: %w", err, backend.ErrInferenceFailed)
		}
	}
	defer func() {
		for _, t := range encOutputs {
			t.Close()
		}
	}()

	if err := b.encoder.Predict(b.encInputNames, prepOutputs, b.encOutputNames, encOutputs); err != nil {
		return nil, 0, fmt.Errorf("coreml: encoder predict: %w: %w", err, backend.ErrInferenceFailed)
	}

	var encTensor, lenTensor *bridge.Tensor
	for _, t := range encOutputs {
		if t.Rank() == 3 {
			encTensor = t
		} else if t.Rank() <= 1 {
			lenTensor = t
		}
	}
	if encTensor == nil {
		return nil, 0, fmt.Errorf("coreml: no 3D encoder output found: %w", backend.ErrDecodeRuntimeError)
	}

	encLength := int(encTensor.Dim(1))
	if lenTensor != nil && lenTensor.DType() == bridge.DTypeInt32 {
		encLength = int(*(*int32)(lenTensor.DataPtr()))
	}

	total := int(encTensor.Dim(1)) * int(encTensor.Dim(2))
	out := copyFloats(encTensor, total)
	return out, encLength, nil
}

// RunDecoder executes one LSTM decoder step.
func (b *Backend) RunDecoder(targetID int32, hIn, cIn []float32) ([]float32, []float32, []float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.decoder == nil {
		return nil, nil, nil, fmt.Errorf("coreml: %w", backend.ErrModelsMissing)
	}

	targets := []int32{targetID}
	targetsTensor, err := bridge.NewTensorWithData([]int64{1, 1}, bridge.DTypeInt32, unsafe.Pointer(&targets[0]))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("coreml: %w: %w", err, backend.ErrInferenceFailed)
	}
	defer targetsTensor.Close()

	hInTensor, err := bridge.NewTensorWithData([]int64{int64(tdt.LSTMLayers), 1, int64(tdt.DecoderHidden)}, bridge.DTypeFloat32, unsafe.Pointer(&hIn[0]))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("coreml: %w: %w", err, backend.ErrInferenceFailed)
	}
	defer hInTensor.Close()

	cInTensor, err := bridge.NewTensorWithData([]int64{int64(tdt.LSTMLayers), 1, int64(tdt.DecoderHidden)}, bridge.DTypeFloat32, unsafe.Pointer(&cIn[0]))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("coreml: %w: %w", err, backend.ErrInferenceFailed)
	}
	defer cInTensor.Close()

	decOutTensor, err := bridge.NewTensor([]int64{1, int64(tdt.DecoderHidden)}, bridge.DTypeFloat32)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("coreml: %w: %w", err, backend.ErrInferenceFailed)
	}
	defer decOutTensor.Close()
	hOutTensor, err := bridge.NewTensor([]int64{int64(tdt.LSTMLayers), 1, int64(tdt.DecoderHidden)}, bridge.DTypeFloat32)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("coreml: %w: %w", err, backend.ErrInferenceFailed)
	}
	defer hOutTensor.Close()
	cOutTensor, err := bridge.NewTensor([]int64{int64(tdt.LSTMLayers), 1, int64(tdt.DecoderHidden)}, bridge.DTypeFloat32)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("coreml: %w: %w", err, backend.ErrInferenceFailed)
	}
	defer cOutTensor.Close()

	if err := b.decoder.Predict(b.decInputNames, []*bridge.Tensor{targetsTensor, hInTensor, cInTensor}, b.decOutputNames,
		[]*bridge.Tensor{decOutTensor, hOutTensor, cOutTensor}); err != nil {
		return nil, nil, nil, fmt.Errorf("coreml: decoder predict: %w: %w", err, backend.ErrInferenceFailed)
	}

	stateSize := tdt.LSTMLayers * tdt.DecoderHidden
	return copyFloats(decOutTensor, tdt.DecoderHidden), copyFloats(hOutTensor, stateSize), copyFloats(cOutTensor, stateSize), nil
}

// RunJoint combines one encoder frame and one decoder step into raw
// logits. The shipped JointDecision model returns pre-argmaxed token and
// duration ids rather than raw logits; we fan those back out into a
// one-hot logits vector so the shared tdt decoder can treat every backend
// identically.
func (b *Backend) RunJoint(encoderFrame, decoderOut []float32) ([]float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.joint == nil {
		return nil, fmt.Errorf("coreml: %w", backend.ErrModelsMissing)
	}

	encStep := make([]float32, tdt.EncoderHidden)
	copy(encStep, encoderFrame)
	encTensor, err := bridge.NewTensorWithData([]int64{1, int64(tdt.EncoderHidden), 1}, bridge.DTypeFloat32, unsafe.Pointer(&encStep[0]))
	if err != nil {
		return nil, fmt.Errorf("coreml: %w: %w", err, backend.ErrInferenceFailed)
	}
	defer encTensor.Close()

	decStep := make([]float32, tdt.DecoderHidden)
	copy(decStep, decoderOut)
	decTensor, err := bridge.NewTensorWithData([]int64{1, int64(tdt.DecoderHidden), 1}, bridge.DTypeFloat32, unsafe.Pointer(&decStep[0]))
	if err != nil {
		return nil, fmt.Errorf("coreml: %w: %w", err, backend.ErrInferenceFailed)
	}
	defer decTensor.Close()

	tokenTensor, err := bridge.NewTensor([]int64{1, 1, 1}, bridge.DTypeInt32)
	if err != nil {
		return nil, fmt.Errorf("coreml: %w: %w", err, backend.ErrInferenceFailed)
	}
	defer tokenTensor.Close()
	durTensor, err := bridge.NewTensor([]int64{1, 1, 1}, bridge.DTypeInt32)
	if err != nil {
		return nil, fmt.Errorf("coreml: %w: %w", err, backend.ErrInferenceFailed)
	}
	defer durTensor.Close()

	if err := b.joint.Predict(b.jointInputNames, []*bridge.Tensor{encTensor, decTensor}, b.jointOutputNames,
		[]*bridge.Tensor{tokenTensor, durTensor}); err != nil {
		return nil, fmt.Errorf("coreml: joint predict: %w: %w", err, backend.ErrInferenceFailed)
	}

	tokenID := *(*int32)(tokenTensor.DataPtr())
	duration := *(*int32)(durTensor.DataPtr())
	if duration < 0 {
		duration = 0
	}
	if int(duration) >= tdt.NumDurationBins {
		duration = int32(tdt.NumDurationBins - 1)
	}
	if tokenID < 0 || int(tokenID) >= tdt.VocabSize {
		return nil, fmt.Errorf("coreml: joint token id %d out of range: %w", tokenID, backend.ErrDecodeRuntimeError)
	}

	logits := make([]float32, tdt.VocabSize+tdt.NumDurationBins)
	logits[tokenID] = 10.0
	logits[tdt.VocabSize+int(duration)] = 10.0
	return logits, nil
}

// SupportsBeamSearch is always false: the shipped JointDecision model
// only exposes argmax token/duration ids, not the distribution a beam
// search needs to expand multiple hypotheses (spec §4.5).
func (b *Backend) SupportsBeamSearch() bool { return false }

// ResetRequestHandles is a no-op; CoreML predict calls carry no session
// state between invocations.
func (b *Backend) ResetRequestHandles() error { return nil }

// Close releases all four model handles.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.preprocessor != nil {
		b.preprocessor.Close()
	}
	if b.encoder != nil {
		b.encoder.Close()
	}
	if b.decoder != nil {
		b.decoder.Close()
	}
	if b.joint != nil {
		b.joint.Close()
	}
	return nil
}

func padAudio(samples []float32, n int) []float32 {
	if len(samples) >= n {
		return samples[:n]
	}
	padded := make([]float32, n)
	copy(padded, samples)
	return padded
}

func copyFloats(t *bridge.Tensor, n int) []float32 {
	out := make([]float32, n)
	if t.DType() == bridge.DTypeFloat16 {
		src := unsafe.Slice((*uint16)(t.DataPtr()), n)
		for i, v := range src {
			out[i] = float16ToFloat32(v)
		}
		return out
	}
	src := unsafe.Slice((*float32)(t.DataPtr()), n)
	copy(out, src)
	return out
}

func float16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) & 1
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h) & 0x3ff

	var f uint32
	switch {
	case exp == 0:
		if frac == 0 {
			f = sign << 31
		} else {
			for frac&0x400 == 0 {
				frac <<= 1
				exp--
			}
			exp++
			frac &= 0x3ff
			f = (sign << 31) | ((exp + 127 - 15) << 23) | (frac << 13)
		}
	case exp == 0x1f:
		f = (sign << 31) | (0xff << 23) | (frac << 13)
	default:
		f = (sign << 31) | ((exp + 127 - 15) << 23) | (frac << 13)
	}
	return math.Float32frombits(f)
}
