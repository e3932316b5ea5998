package tdt

import (
	"fmt"
	"math"
	"sort"
)

// hypothesis is one partial beam-search candidate (spec §4.5).
type hypothesis struct {
	tokens  []int32
	h, c    []float32
	t       int
	cumLogP float64
	lastTok int32
}

func cloneFloats(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

func cloneTokens(v []int32) []int32 {
	out := make([]int32, len(v))
	copy(out, v)
	return out
}

// Beam runs the TDT beam-search decode algorithm (spec §4.5): the same
// token/duration transition rules as Greedy, expanded over up to
// cfg.BeamWidth concurrently tracked hypotheses ranked by cumulative
// log-probability. When cfg.BeamWidth <= 1 it degenerates to Greedy.
func Beam(encOut []float32, encLength int, dec DecoderRunner, joint JointRunner, cfg Config) (Result, error) {
	if cfg.BeamWidth <= 1 {
		return Greedy(encOut, encLength, dec, joint, cfg)
	}
	if encLength == 0 {
		return Result{Confidence: 1.0}, nil
	}

	h0, c0 := zeroState()
	h0, c0, err := primeLanguage(dec, cfg.Language, h0, c0)
	if err != nil {
		return Result{}, err
	}
	decOut0, h0, c0, err := dec.RunDecoder(int32(BlankID), h0, c0)
	if err != nil {
		return Result{}, fmt.Errorf("tdt: initial decoder step: %w", err)
	}

	beams := []*beamState{{
		hyp:    hypothesis{h: h0, c: c0, lastTok: int32(BlankID)},
		decOut: decOut0,
	}}

	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 1.0
	}

	maxIterations := antiRunawayFactor * encLength
	iterations := 0
	truncated := false

	for allDone(beams, encLength) == false {
		if iterations >= maxIterations {
			truncated = true
			break
		}
		iterations++

		var expanded []*beamState
		for _, b := range beams {
			if b.hyp.t >= encLength {
				expanded = append(expanded, b)
				continue
			}

			frameStart := b.hyp.t * EncoderHidden
			frameEnd := frameStart + EncoderHidden
			if frameEnd > len(encOut) {
				b.hyp.t = encLength
				expanded = append(expanded, b)
				continue
			}
			frame := encOut[frameStart:frameEnd]

			logits, err := joint.RunJoint(frame, b.decOut)
			if err != nil {
				return Result{}, fmt.Errorf("tdt: beam joint at frame %d: %w", b.hyp.t, err)
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
			durIdx := argmax(durationLogits)
			dur := durationBins[durIdx]
			if dur < 1 {
				dur = 1
			}

			logProbs := logSoftmax(tokenLogits)
			candidates := topK(logProbs, cfg.BeamWidth)

			for _, cand := range candidates {
				next := &beamState{
					hyp: hypothesis{
						tokens:  cloneTokens(b.hyp.tokens),
						h:       b.hyp.h,
						c:       b.hyp.c,
						t:       b.hyp.t + dur,
						cumLogP: b.hyp.cumLogP + cand.logp,
						lastTok: b.hyp.lastTok,
					},
					decOut: b.decOut,
				}
				if int32(cand.id) == BlankID {
					expanded = append(expanded, next)
					continue
				}
				next.hyp.tokens = append(next.hyp.tokens, int32(cand.id))
				next.hyp.lastTok = int32(cand.id)
				newDecOut, newH, newC, err := dec.RunDecoder(int32(cand.id), cloneFloats(b.hyp.h), cloneFloats(b.hyp.c))
				if err != nil {
					return Result{}, fmt.Errorf("tdt: beam decoder step: %w", err)
				}
				next.hyp.h = newH
				next.hyp.c = newC
				next.decOut = newDecOut
				expanded = append(expanded, next)
			}
		}

		beams = mergeAndPrune(expanded, cfg.BeamWidth)
	}

	best := beams[0]
	for _, b := range beams {
		if b.hyp.cumLogP > best.hyp.cumLogP {
			best = b
		}
	}

	confidence := 0.95
	if len(best.hyp.tokens) > 0 {
		confidence = math.Exp(best.hyp.cumLogP / float64(len(best.hyp.tokens)))
	}

	return Result{Tokens: best.hyp.tokens, Confidence: confidence, Truncated: truncated}, nil
}

type beamState struct {
	hyp    hypothesis
	decOut []float32
}

func allDone(beams []*beamState, encLength int) bool {
	for _, b := range beams {
		if b.hyp.t < encLength {
			return false
		}
	}
	return true
}

// mergeAndPrune merges hypotheses sharing (lastTok, t) by summing their
// probability mass, then keeps the top beamWidth by cumulative log-prob.
func mergeAndPrune(beams []*beamState, beamWidth int) []*beamState {
	type key struct {
		lastTok int32
		t       int
	}
	merged := make(map[key]*beamState)
	for _, b := range beams {
		k := key{b.hyp.lastTok, b.hyp.t}
		existing, ok := merged[k]
		if !ok {
			merged[k] = b
			continue
		}
		// Sum probabilities in log-space: logsumexp(a, b).
		a, bb := existing.hyp.cumLogP, b.hyp.cumLogP
		hi, lo := a, bb
		if lo > hi {
			hi, lo = lo, hi
		}
		summed := hi + math.Log1p(math.Exp(lo-hi))
		if b.hyp.cumLogP > existing.hyp.cumLogP {
			merged[k] = b
		}
		merged[k].hyp.cumLogP = summed
	}

	out := make([]*beamState, 0, len(merged))
	for _, b := range merged {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].hyp.cumLogP > out[j].hyp.cumLogP
	})
	if len(out) > beamWidth {
		out = out[:beamWidth]
	}
	return out
}

type scoredToken struct {
	id   int
	logp float64
}

// topK returns the k highest-log-probability token candidates.
func topK(logProbs []float64, k int) []scoredToken {
	cands := make([]scoredToken, len(logProbs))
	for i, lp := range logProbs {
		cands[i] = scoredToken{id: i, logp: lp}
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].logp > cands[j].logp })
	if len(cands) > k {
		cands = cands[:k]
	}
	return cands
}

// logSoftmax returns log(softmax(v)).
func logSoftmax(v []float64) []float64 {
	maxV := v[0]
	for _, x := range v {
		if x > maxV {
			maxV = x
		}
	}
	var sum float64
	for _, x := range v {
		sum += math.Exp(x - maxV)
	}
	logSum := math.Log(sum) + maxV
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x - logSum
	}
	return out
}
