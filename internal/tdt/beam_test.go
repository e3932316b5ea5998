package tdt

import "testing"

func TestBeamWidthOneMatchesGreedy(t *testing.T) {
	encLength := 3
	enc := make([]float32, encLength*EncoderHidden)
	logits := logitsFor(7, 0)

	cfg := DefaultConfig()
	greedyRes, err := Greedy(enc, encLength, &mockDecoder{}, &scriptedJoint{script: [][]float32{logits}}, cfg)
	if err != nil {
		t.Fatalf("Greedy: %v", err)
	}
	beamRes, err := Beam(enc, encLength, &mockDecoder{}, &scriptedJoint{script: [][]float32{logits}}, cfg)
	if err != nil {
		t.Fatalf("Beam: %v", err)
	}
	if len(greedyRes.Tokens) != len(beamRes.Tokens) {
		t.Fatalf("token counts differ: greedy=%d beam=%d", len(greedyRes.Tokens), len(beamRes.Tokens))
	}
}

func TestBeamOneHypothesisAppearsInBeamTwo(t *testing.T) {
	encLength := 2
	enc := make([]float32, encLength*EncoderHidden)
	logits := logitsFor(3, 0)

	cfg1 := DefaultConfig()
	cfg1.BeamWidth = 1
	res1, err := Beam(enc, encLength, &mockDecoder{}, &scriptedJoint{script: [][]float32{logits}}, cfg1)
	if err != nil {
		t.Fatalf("Beam width=1: %v", err)
	}

	cfg2 := DefaultConfig()
	cfg2.BeamWidth = 2
	res2, err := Beam(enc, encLength, &mockDecoder{}, &scriptedJoint{script: [][]float32{logits}}, cfg2)
	if err != nil {
		t.Fatalf("Beam width=2: %v", err)
	}

	if len(res1.Tokens) == 0 {
		t.Skip("beam-1 emitted no tokens for this scripted joint")
	}
	if len(res2.Tokens) == 0 {
		t.Fatalf("beam-2 emitted no tokens, cannot compare")
	}
	if res1.Tokens[0] != res2.Tokens[0] {
		t.Errorf("beam-1 first token %d not present as beam-2's leading candidate %d", res1.Tokens[0], res2.Tokens[0])
	}
}

func TestBeamEmptyEncoder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BeamWidth = 4
	res, err := Beam(nil, 0, &mockDecoder{}, &scriptedJoint{}, cfg)
	if err != nil {
		t.Fatalf("Beam: %v", err)
	}
	if res.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", res.Confidence)
	}
}
