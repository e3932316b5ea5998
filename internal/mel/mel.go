// Package mel implements the internal DSP mel-spectrogram front-end
// (spec §4.2): 16kHz mono PCM -> 128-dim log-mel frames at 160-sample hop.
// It exists as a fallback for backends whose model graph does not bundle
// its own preprocessor step, and as the reference implementation the
// ONNX/pure-Go backends' fixed-size tensor allocation is checked against.
package mel

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Parameters fixed by the Parakeet TDT v3 preprocessor (spec §4.2).
const (
	NumMelBins = 128
	HopLength  = 160
	WinLength  = 400 // 25ms @ 16kHz
	NFFT       = 512
	SampleRate = 16000
	// MaxSamples is the single-chunk cap: 15s @ 16kHz.
	MaxSamples = 240000
	// MaxFrames bounds T for a single-chunk inference (15s cap, spec §3).
	MaxFrames = 1501
)

// Frames holds a [NumMelBins, T] log-mel feature block, row-major over
// mel bins (Data[bin*numFrames+frame]).
type Frames struct {
	Data      []float32
	NumFrames int
}

// Extractor computes log-mel features with a cached FFT plan and
// filterbank: a 400-sample Hann window zero-padded to a 512-point FFT,
// 160 hop and 128 mel bins, the configuration the backend adapter must accept raw PCM for (spec §4.2).
type Extractor struct {
	fft        *fourier.FFT
	filterbank [][]float64 // [NumMelBins][NFFT/2+1]
	win        []float64
}

// NewExtractor builds a mel filterbank extractor for 16kHz audio.
func NewExtractor() *Extractor {
	e := &Extractor{
		fft: fourier.NewFFT(NFFT),
		win: window.Hann(make([]float64, WinLength)),
	}
	e.filterbank = melFilterbank(NumMelBins, NFFT, SampleRate)
	return e
}

// Extract computes log-mel frames from 16kHz mono PCM. audioLength is the
// true (unpadded) sample count; samples beyond it are treated as silence
// padding and still windowed, matching the backend adapter's contract of
// accepting PCM padded/truncated to exactly MaxSamples with an explicit
// audio_length side-input (spec §4.2). It returns audioLength/HopLength+1
// frames, capped at MaxFrames; NumFrames is that full count, and no
// separate valid-frame count of audioLength/HopLength is reported.
func (e *Extractor) Extract(samples []float32, audioLength int) Frames {
	if audioLength > len(samples) {
		audioLength = len(samples)
	}
	numFrames := audioLength/HopLength + 1
	if numFrames > MaxFrames {
		numFrames = MaxFrames
	}

	data := make([]float32, NumMelBins*numFrames)
	frameBuf := make([]float64, NFFT)
	spectrum := make([]complex128, NFFT/2+1)

	for f := 0; f < numFrames; f++ {
		start := f*HopLength - WinLength/2
		for i := 0; i < NFFT; i++ {
			frameBuf[i] = 0
		}
		for i := 0; i < WinLength; i++ {
			idx := start + i
			if idx < 0 || idx >= len(samples) {
				continue
			}
			frameBuf[i] = float64(samples[idx]) * e.win[i]
		}

		e.fft.Coefficients(spectrum, frameBuf)

		power := make([]float64, NFFT/2+1)
		for i, c := range spectrum {
			power[i] = real(c)*real(c) + imag(c)*imag(c)
		}

		for m := 0; m < NumMelBins; m++ {
			var energy float64
			fb := e.filterbank[m]
			for i, w := range fb {
				energy += w * power[i]
			}
			logEnergy := math.Log(energy + 1e-10)
			data[m*numFrames+f] = float32(logEnergy)
		}
	}

	return Frames{Data: data, NumFrames: numFrames}
}

// melFilterbank builds a triangular mel filterbank with numMels filters
// over nfft/2+1 frequency bins for the given sample rate.
func melFilterbank(numMels, nfft, sampleRate int) [][]float64 {
	numBins := nfft/2 + 1
	lowMel := hzToMel(0)
	highMel := hzToMel(float64(sampleRate) / 2)

	points := make([]float64, numMels+2)
	for i := range points {
		points[i] = lowMel + (highMel-lowMel)*float64(i)/float64(numMels+1)
	}
	binFreqs := make([]int, numMels+2)
	for i, p := range points {
		hz := melToHz(p)
		binFreqs[i] = int(math.Floor((float64(nfft)+1) * hz / float64(sampleRate)))
	}

	fb := make([][]float64, numMels)
	for m := 0; m < numMels; m++ {
		row := make([]float64, numBins)
		left, center, right := binFreqs[m], binFreqs[m+1], binFreqs[m+2]
		for k := left; k < center && k < numBins; k++ {
			if center != left {
				row[k] = float64(k-left) / float64(center-left)
			}
		}
		for k := center; k < right && k < numBins; k++ {
			if right != center {
				row[k] = float64(right-k) / float64(right-center)
			}
		}
		fb[m] = row
	}
	return fb
}

func hzToMel(hz float64) float64 {
	return 2595 * math.Log10(1+hz/700)
}

func melToHz(mel float64) float64 {
	return 700 * (math.Pow(10, mel/2595) - 1)
}
