package tdt

import (
	"testing"
)

// mockDecoder returns deterministic decoder outputs keyed by target id and
// counts its calls.
type mockDecoder struct {
	calls int
}

func (m *mockDecoder) RunDecoder(targetID int32, hIn, cIn []float32) ([]float32, []float32, []float32, error) {
	m.calls++
	out := make([]float32, DecoderHidden)
	out[0] = float32(targetID)
	h := make([]float32, LSTMLayers*DecoderHidden)
	c := make([]float32, LSTMLayers*DecoderHidden)
	return out, h, c, nil
}

// scriptedJoint replays a fixed sequence of logits, one per call; each
// script's duration bin decides how many frames that call advances.
type scriptedJoint struct {
	calls  int
	script [][]float32 // full VocabSize+NumDurationBins logits per call
}

func (j *scriptedJoint) RunJoint(encoderFrame, decoderOut []float32) ([]float32, error) {
	out := j.script[j.calls%len(j.script)]
	j.calls++
	return out, nil
}

// logitsFor builds a VocabSize+NumDurationBins logits slice emitting the
// given token with duration index durIdx advancing dur=durIdx+1 frames.
func logitsFor(token int32, durIdx int) []float32 {
	out := make([]float32, VocabSize+NumDurationBins)
	out[token] = 10.0
	out[VocabSize+durIdx] = 10.0
	return out
}

func TestGreedyEmptyEncoder(t *testing.T) {
	res, err := Greedy(nil, 0, &mockDecoder{}, &scriptedJoint{}, DefaultConfig())
	if err != nil {
		t.Fatalf("Greedy: %v", err)
	}
	if len(res.Tokens) != 0 {
		t.Errorf("expected no tokens, got %v", res.Tokens)
	}
	if res.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", res.Confidence)
	}
}

func TestGreedyAllBlank(t *testing.T) {
	encLength := 5
	enc := make([]float32, encLength*EncoderHidden)
	joint := &scriptedJoint{script: [][]float32{logitsFor(BlankID, 0)}}

	res, err := Greedy(enc, encLength, &mockDecoder{}, joint, DefaultConfig())
	if err != nil {
		t.Fatalf("Greedy: %v", err)
	}
	if len(res.Tokens) != 0 {
		t.Errorf("expected no tokens, got %v", res.Tokens)
	}
	if res.Confidence != 0.95 {
		t.Errorf("Confidence = %v, want 0.95 (default, no tokens emitted)", res.Confidence)
	}
}

func TestGreedyEmitsTokens(t *testing.T) {
	encLength := 3
	enc := make([]float32, encLength*EncoderHidden)
	joint := &scriptedJoint{script: [][]float32{logitsFor(42, 0)}}

	res, err := Greedy(enc, encLength, &mockDecoder{}, joint, DefaultConfig())
	if err != nil {
		t.Fatalf("Greedy: %v", err)
	}
	if len(res.Tokens) != encLength {
		t.Fatalf("len(Tokens) = %d, want %d", len(res.Tokens), encLength)
	}
	for _, tok := range res.Tokens {
		if tok != 42 {
			t.Errorf("token = %d, want 42", tok)
		}
	}
}

func TestGreedyTerminatesWithinAntiRunawayCap(t *testing.T) {
	// Every Greedy step advances the time cursor by at least one frame, so
	// a joint that always emits a non-blank token with duration index 0
	// finishes after encLength joint calls. Verify the call count stays
	// within the antiRunawayFactor*encLength cap and the cap did not trip.
	encLength := 4
	enc := make([]float32, encLength*EncoderHidden)
	joint := &scriptedJoint{script: [][]float32{logitsFor(1, 0)}}

	res, err := Greedy(enc, encLength, &mockDecoder{}, joint, DefaultConfig())
	if err != nil {
		t.Fatalf("Greedy: %v", err)
	}
	if res.Truncated {
		t.Errorf("did not expect truncation for a well-behaved joint")
	}
	if joint.calls > antiRunawayFactor*encLength {
		t.Errorf("joint calls = %d, exceeds anti-runaway cap %d", joint.calls, antiRunawayFactor*encLength)
	}
}

func TestGreedyMalformedJointLogits(t *testing.T) {
	joint := &scriptedJoint{script: [][]float32{{1, 2, 3}}}
	_, err := Greedy(make([]float32, EncoderHidden), 1, &mockDecoder{}, joint, DefaultConfig())
	if err == nil {
		t.Error("expected error for malformed joint logits")
	}
}

func TestBlankPenaltyIncreasesEmittedTokens(t *testing.T) {
	// With a strong blank logit but a weak non-blank logit, a large
	// blank_penalty should tip the argmax toward the non-blank token more
	// often, per spec scenario 4.
	encLength := 4
	enc := make([]float32, encLength*EncoderHidden)
	buildLogits := func() []float32 {
		out := make([]float32, VocabSize+NumDurationBins)
		out[BlankID] = 5.0
		out[7] = 4.0 // slightly below blank before penalty
		out[VocabSize] = 10.0
		return out
	}

	cfgNoPenalty := DefaultConfig()
	cfgNoPenalty.BlankPenalty = 0
	resNoPenalty, err := Greedy(enc, encLength, &mockDecoder{}, &scriptedJoint{script: [][]float32{buildLogits()}}, cfgNoPenalty)
	if err != nil {
		t.Fatalf("Greedy: %v", err)
	}

	cfgPenalty := DefaultConfig()
	cfgPenalty.BlankPenalty = 15
	resPenalty, err := Greedy(enc, encLength, &mockDecoder{}, &scriptedJoint{script: [][]float32{buildLogits()}}, cfgPenalty)
	if err != nil {
		t.Fatalf("Greedy: %v", err)
	}

	if len(resPenalty.Tokens) < len(resNoPenalty.Tokens) {
		t.Errorf("penalty=15 emitted %d tokens, penalty=0 emitted %d; want >=", len(resPenalty.Tokens), len(resNoPenalty.Tokens))
	}
}

func TestTemperatureDoesNotChangeGreedyArgmax(t *testing.T) {
	encLength := 3
	enc := make([]float32, encLength*EncoderHidden)
	logits := logitsFor(99, 1)

	cfgLow := DefaultConfig()
	cfgLow.Temperature = 0.1
	resLow, err := Greedy(enc, encLength, &mockDecoder{}, &scriptedJoint{script: [][]float32{logits}}, cfgLow)
	if err != nil {
		t.Fatalf("Greedy: %v", err)
	}

	cfgHigh := DefaultConfig()
	cfgHigh.Temperature = 1.5
	resHigh, err := Greedy(enc, encLength, &mockDecoder{}, &scriptedJoint{script: [][]float32{logits}}, cfgHigh)
	if err != nil {
		t.Fatalf("Greedy: %v", err)
	}

	if len(resLow.Tokens) != len(resHigh.Tokens) {
		t.Fatalf("token counts differ: %d vs %d", len(resLow.Tokens), len(resHigh.Tokens))
	}
	for i := range resLow.Tokens {
		if resLow.Tokens[i] != resHigh.Tokens[i] {
			t.Errorf("argmax token differs across temperature: %d vs %d", resLow.Tokens[i], resHigh.Tokens[i])
		}
	}
}

func TestLanguagePrimingCallsDecoderThreeTimesExtra(t *testing.T) {
	dec := &mockDecoder{}
	joint := &scriptedJoint{script: [][]float32{logitsFor(BlankID, 0)}}
	cfg := DefaultConfig()
	cfg.Language = LanguageFrench

	if _, err := Greedy(make([]float32, EncoderHidden), 1, dec, joint, cfg); err != nil {
		t.Fatalf("Greedy: %v", err)
	}
	// 3 priming steps + 1 initial decoder run = 4 calls minimum.
	if dec.calls < 4 {
		t.Errorf("decoder calls = %d, want >= 4 (3 priming + initial)", dec.calls)
	}
}
