// Package tdt implements the Token-and-Duration-Transducer greedy and beam
// decoding loop shared by every inference backend. The loop only depends on
// two small interfaces (DecoderRunner, JointRunner) so it is identical
// across the ONNX, pure-Go, and CoreML backends — only the tensor execution
// differs.
package tdt

import (
	"fmt"
	"math"

	"github.com/chaz8081/parakeet-core/internal/vocab"
)

// Model shape constants, fixed by the Parakeet TDT v3 export.
const (
	VocabSize       = vocab.MaxTokenID + 1 // ids 0..8192, 8192 == blank
	BlankID         = vocab.Blank
	NumDurationBins = 5
	EncoderHidden   = 1024
	DecoderHidden   = 640
	LSTMLayers      = 2

	// antiRunawayFactor bounds total loop iterations at antiRunawayFactor *
	// encLength, guarding against a degenerate joint network that never
	// advances the time cursor.
	antiRunawayFactor = 10
)

// durationBins maps a duration-logit argmax index to an encoder-frame
// advance. Index i advances i+1 frames.
var durationBins = [NumDurationBins]int{1, 2, 3, 4, 5}

// DecoderRunner executes one LSTM decoder step.
type DecoderRunner interface {
	RunDecoder(targetID int32, hIn, cIn []float32) (decoderOut, hOut, cOut []float32, err error)
}

// JointRunner combines one encoder frame and one decoder step into raw
// logits of length VocabSize+NumDurationBins: the first VocabSize entries
// are token logits, the remaining NumDurationBins are duration-bin logits.
type JointRunner interface {
	RunJoint(encoderFrame, decoderOut []float32) (logits []float32, err error)
}

// Language selects a forced decoder-priming prefix.
type Language int

const (
	LanguageAuto Language = iota
	LanguageFrench
	LanguageEnglish
)

// Config carries the decoding options from spec §3 ("TDT decoding config").
type Config struct {
	BeamWidth    int // 1 = greedy, >=2 = beam search
	Temperature  float64
	BlankPenalty float64
	Language     Language
	// VADAware selects the quietest-sub-window chunk splitter over the
	// fixed 10s/2s windower for audio over the single-pass limit (spec
	// §4.8); it does not affect the decode loop itself, only how the
	// caller (internal/engine) should chunk before decoding.
	VADAware bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		BeamWidth:    1,
		Temperature:  1.0,
		BlankPenalty: 6.0,
		Language:     LanguageAuto,
	}
}

// Result is the outcome of decoding one chunk's encoder output.
type Result struct {
	Tokens     []int32
	Confidence float64
	// Truncated reports whether the anti-runaway iteration cap tripped
	// before the cursor reached encLength. Not a failure — §4.4 mandates
	// returning whatever was emitted so far.
	Truncated bool
}

func zeroState() (h, c []float32) {
	n := LSTMLayers * DecoderHidden
	return make([]float32, n), make([]float32, n)
}

// primeLanguage runs the three decoder-only priming steps mandated by
// §4.4.1 when a language is forced. Each step updates (h, c) but never
// emits a token; the caller must reset last_tok to blank afterwards.
func primeLanguage(dec DecoderRunner, lang Language, h, c []float32) (hOut, cOut []float32, err error) {
	if lang == LanguageAuto {
		return h, c, nil
	}
	langID := int32(vocab.LanguageEnglish)
	if lang == LanguageFrench {
		langID = vocab.LanguageFrench
	}
	primingTokens := []int32{vocab.StartOfTranscript, vocab.NoPredictLanguage, langID}
	for _, tok := range primingTokens {
		_, h, c, err = dec.RunDecoder(tok, h, c)
		if err != nil {
			return nil, nil, fmt.Errorf("tdt: priming decoder with token %d: %w", tok, err)
		}
	}
	return h, c, nil
}

// Greedy runs the TDT greedy decode algorithm (spec §4.4) over one chunk's
// encoder output. encOut is the flattened [enc_length, EncoderHidden]
// encoder activation; encLength is the number of valid frames.
func Greedy(encOut []float32, encLength int, dec DecoderRunner, joint JointRunner, cfg Config) (Result, error) {
	if encLength == 0 {
		return Result{Confidence: 1.0}, nil
	}

	h, c := zeroState()
	var err error
	h, c, err = primeLanguage(dec, cfg.Language, h, c)
	if err != nil {
		return Result{}, err
	}

	lastTok := int32(BlankID)
	decOut, h, c, err := dec.RunDecoder(lastTok, h, c)
	if err != nil {
		return Result{}, fmt.Errorf("tdt: initial decoder step: %w", err)
	}

	var tokens []int32
	var confSum float64
	var confCount int

	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 1.0
	}

	t := 0
	maxIterations := antiRunawayFactor * encLength
	truncated := false

	for iter := 0; t < encLength; iter++ {
		if iter >= maxIterations {
			truncated = true
			break
		}

		frameStart := t * EncoderHidden
		frameEnd := frameStart + EncoderHidden
		if frameEnd > len(encOut) {
			break
		}
		frame := encOut[frameStart:frameEnd]

		logits, err := joint.RunJoint(frame, decOut)
		if err != nil {
			return Result{}, fmt.Errorf("tdt: joint at frame %d: %w", t, err)
		}
		if len(logits) != VocabSize+NumDurationBins {
			return Result{}, fmt.Errorf("tdt: joint returned %d logits, want %d", len(logits), VocabSize+NumDurationBins)
		}

		tokenLogits := make([]float64, VocabSize)
		for i, v := range logits[:VocabSize] {
			tokenLogits[i] = float64(v) / temperature
		}
		tokenLogits[BlankID] -= cfg.BlankPenalty

		durationLogits := make([]float64, NumDurationBins)
		for i, v := range logits[VocabSize:] {
			durationLogits[i] = float64(v) / temperature
		}

		tok, tokProb := argmaxSoftmax(tokenLogits)
		durIdx := argmax(durationLogits)
		dur := durationBins[durIdx]
		if dur < 1 {
			dur = 1
		}

		if int32(tok) == BlankID {
			t += dur
			continue
		}

		tokens = append(tokens, int32(tok))
		confSum += tokProb
		confCount++
		lastTok = int32(tok)

		decOut, h, c, err = dec.RunDecoder(lastTok, h, c)
		if err != nil {
			return Result{}, fmt.Errorf("tdt: decoder step at frame %d: %w", t, err)
		}
		t += dur
	}

	confidence := 0.95
	if confCount > 0 {
		confidence = confSum / float64(confCount)
	}

	return Result{Tokens: tokens, Confidence: confidence, Truncated: truncated}, nil
}

// argmax returns the index of the largest value, 0 for an empty slice.
func argmax(v []float64) int {
	best, _ := argmaxSoftmax(v)
	return best
}

// argmaxSoftmax returns the argmax index and its softmax probability mass
// over v (used for per-step confidence, spec §3 "Segment.confidence").
func argmaxSoftmax(v []float64) (int, float64) {
	if len(v) == 0 {
		return 0, 0
	}
	best := 0
	maxV := v[0]
	for i, x := range v {
		if x > maxV {
			maxV = x
			best = i
		}
	}
	var sum float64
	for _, x := range v {
		sum += math.Exp(x - maxV)
	}
	if sum == 0 {
		return best, 0
	}
	return best, 1.0 / sum
}
