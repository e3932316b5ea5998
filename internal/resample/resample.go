// Package resample converts arbitrary-rate, arbitrary-channel PCM into
// 16kHz mono float32 for the mel front-end (spec §4.7): stereo-to-mono by
// averaging, then a high-quality polyphase (sinc) resample via
// github.com/tphakala/go-audio-resampler, followed by peak normalization.
package resample

import (
	"fmt"
	"math"

	resampler "github.com/tphakala/go-audio-resampler"
)

const (
	// TargetSampleRate is the mel front-end's required input rate.
	TargetSampleRate = 16000

	defaultTargetPeak = 0.708 // approx -3 dBFS
	minRMS            = 0.001
	softLimitCeiling  = 0.98
)

// Options configures normalization behavior.
type Options struct {
	TargetPeak float32 // default defaultTargetPeak when zero
}

// DefaultOptions returns the spec default normalization target.
func DefaultOptions() Options {
	return Options{TargetPeak: defaultTargetPeak}
}

// ToMono16kHz downmixes to mono, resamples to 16kHz, and normalizes in
// one pass, matching the pipeline in spec §4.7.
func ToMono16kHz(pcm []float32, srcRate int, channels int, opts Options) ([]float32, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("resample: invalid channel count %d", channels)
	}
	if srcRate <= 0 {
		return nil, fmt.Errorf("resample: invalid sample rate %d", srcRate)
	}

	mono := downmix(pcm, channels)

	resampled := mono
	if srcRate != TargetSampleRate {
		r, err := resampler.NewEngineFloat32(float64(srcRate), float64(TargetSampleRate), resampler.QualityHigh)
		if err != nil {
			return nil, fmt.Errorf("resample: create polyphase resampler: %w", err)
		}
		resampled, err = r.Process(mono)
		if err != nil {
			return nil, fmt.Errorf("resample: process: %w", err)
		}
	}

	return Normalize(resampled, opts), nil
}

// downmix averages interleaved multi-channel samples down to mono. A
// channel count of 1 returns the input unchanged.
func downmix(pcm []float32, channels int) []float32 {
	if channels == 1 {
		return pcm
	}
	numFrames := len(pcm) / channels
	out := make([]float32, numFrames)
	for i := 0; i < numFrames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += pcm[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Normalize scales pcm toward opts.TargetPeak, bypassing the scale when
// RMS falls below minRMS (too quiet to normalize without amplifying
// noise), and soft-limits any sample that would exceed softLimitCeiling
// after scaling (spec §4.7).
func Normalize(pcm []float32, opts Options) []float32 {
	targetPeak := opts.TargetPeak
	if targetPeak == 0 {
		targetPeak = defaultTargetPeak
	}
	if len(pcm) == 0 {
		return pcm
	}

	rms := rms(pcm)
	if rms < minRMS {
		return pcm
	}

	peak := peakAbs(pcm)
	if peak == 0 {
		return pcm
	}

	scale := targetPeak / peak
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		v := s * scale
		if v > softLimitCeiling {
			v = softLimitCeiling
		} else if v < -softLimitCeiling {
			v = -softLimitCeiling
		}
		out[i] = v
	}
	return out
}

func rms(pcm []float32) float32 {
	var sumSq float64
	for _, s := range pcm {
		sumSq += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sumSq / float64(len(pcm))))
}

func peakAbs(pcm []float32) float32 {
	var peak float32
	for _, s := range pcm {
		if a := float32(math.Abs(float64(s))); a > peak {
			peak = a
		}
	}
	return peak
}
