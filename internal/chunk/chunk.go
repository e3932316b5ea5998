// Package chunk splits long PCM buffers into encoder-sized windows (spec
// §4.8): audio at or under the 15s single-pass limit is returned as one
// chunk; longer audio is split into overlapping 10s windows, or, when VAD
// awareness is enabled, cut at the quietest sub-window within a fixed
// 8–14s range.
package chunk

import "math"

const (
	sampleRate = 16000

	// maxSingleChunkSamples is the 15s single-pass limit (spec §4.2/§4.8).
	maxSingleChunkSamples = 15 * sampleRate

	fixedChunkSamples   = 10 * sampleRate
	fixedOverlapSamples = 2 * sampleRate
	fixedStepSamples    = fixedChunkSamples - fixedOverlapSamples

	// minEncoderCompatibleSamples is the shortest chunk worth running
	// through the encoder; shorter trailing chunks are discarded.
	minEncoderCompatibleSamples = sampleRate / 2 // 0.5s

	vadMinWindowSamples = 8 * sampleRate
	vadMaxWindowSamples = 14 * sampleRate
	vadSubWindowSamples = sampleRate / 10 // 100ms
	silenceRMSThreshold = 0.01
)

// Chunk is one windowed slice of the original PCM stream (spec §4.8).
type Chunk struct {
	Samples    []float32
	StartMs    int
	EndMs      int
	Index      int
	HasOverlap bool // true when this chunk shares samples with its predecessor
}

// Options configures the chunker.
type Options struct {
	// VADAware enables the quietest-sub-window cut search instead of
	// fixed 10s/2s windows.
	VADAware bool
}

// Split divides pcm (16kHz mono) into one or more chunks per spec §4.8.
func Split(pcm []float32, opts Options) []Chunk {
	if len(pcm) <= maxSingleChunkSamples {
		if len(pcm) == 0 {
			return nil
		}
		return []Chunk{{
			Samples: pcm,
			StartMs: 0,
			EndMs:   samplesToMs(len(pcm)),
			Index:   0,
		}}
	}

	if opts.VADAware {
		return splitVAD(pcm)
	}
	return splitFixed(pcm)
}

func splitFixed(pcm []float32) []Chunk {
	var chunks []Chunk
	start := 0
	index := 0
	for start < len(pcm) {
		end := start + fixedChunkSamples
		if end > len(pcm) {
			end = len(pcm)
		}
		length := end - start
		if length < minEncoderCompatibleSamples && index > 0 {
			break
		}
		chunks = append(chunks, Chunk{
			Samples:    pcm[start:end],
			StartMs:    samplesToMs(start),
			EndMs:      samplesToMs(end),
			Index:      index,
			HasOverlap: start > 0,
		})
		index++
		if end == len(pcm) {
			break
		}
		start += fixedStepSamples
	}
	return chunks
}

// splitVAD searches, within [vadMinWindowSamples, vadMaxWindowSamples] of
// each cursor, the lowest-RMS 100ms sub-window and cuts there. When the
// chosen cut falls inside true silence, the next chunk starts exactly at
// the cut (no overlap); otherwise it keeps the fixed overlap.
func splitVAD(pcm []float32) []Chunk {
	var chunks []Chunk
	start := 0
	index := 0
	startHasOverlap := false

	for start < len(pcm) {
		remaining := len(pcm) - start
		if remaining <= maxSingleChunkSamples {
			chunks = append(chunks, Chunk{
				Samples:    pcm[start:],
				StartMs:    samplesToMs(start),
				EndMs:      samplesToMs(len(pcm)),
				Index:      index,
				HasOverlap: startHasOverlap,
			})
			break
		}

		searchLo := start + vadMinWindowSamples
		searchHi := start + vadMaxWindowSamples
		if searchHi > len(pcm) {
			searchHi = len(pcm)
		}

		cut, isSilence := quietestSubWindow(pcm, searchLo, searchHi)

		chunks = append(chunks, Chunk{
			Samples:    pcm[start:cut],
			StartMs:    samplesToMs(start),
			EndMs:      samplesToMs(cut),
			Index:      index,
			HasOverlap: startHasOverlap,
		})

		index++
		if isSilence {
			start = cut
			startHasOverlap = false
		} else {
			next := cut - fixedOverlapSamples
			if next <= start {
				next = cut
				startHasOverlap = false
			} else {
				startHasOverlap = true
			}
			start = next
		}
	}
	return chunks
}

// quietestSubWindow scans [lo, hi) in vadSubWindowSamples steps and
// returns the start of the lowest-RMS sub-window, plus whether that
// sub-window is true silence.
func quietestSubWindow(pcm []float32, lo, hi int) (cut int, isSilence bool) {
	if lo >= hi || lo >= len(pcm) {
		if hi > len(pcm) {
			hi = len(pcm)
		}
		return hi, false
	}

	bestRMS := math.MaxFloat64
	bestStart := lo
	for w := lo; w+vadSubWindowSamples <= hi; w += vadSubWindowSamples {
		r := windowRMS(pcm[w : w+vadSubWindowSamples])
		if r < bestRMS {
			bestRMS = r
			bestStart = w
		}
	}
	return bestStart, bestRMS < silenceRMSThreshold
}

func windowRMS(samples []float32) float64 {
	var sumSq float64
	for _, s := range samples {
		sumSq += float64(s) * float64(s)
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}

func samplesToMs(n int) int {
	return n * 1000 / sampleRate
}
