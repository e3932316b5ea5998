package engine

import (
	"context"
	"testing"

	"github.com/chaz8081/parakeet-core/internal/backend"
	"github.com/chaz8081/parakeet-core/internal/mel"
	"github.com/chaz8081/parakeet-core/internal/tdt"
	"github.com/chaz8081/parakeet-core/internal/vocab"
)

const fakeID backend.ID = "faketest"

func init() {
	backend.Register(fakeID, func() backend.Backend { return &fakeBackend{} })
}

// fakeBackend is a scripted Backend double: it ignores the PCM it is
// handed and always emits one fixed token per chunk, at maximum duration
// so the decode loop terminates after a single joint call. It exists to
// exercise the orchestrator's chunking, merging, and event-publishing
// logic independently of any real model.
type fakeBackend struct {
	loaded     bool
	beamWidth  bool
	loadErr    error
	resetErr   error
	resetCalls int
}

func (f *fakeBackend) LoadModels(directory string) error {
	if f.loadErr != nil {
		return f.loadErr
	}
	f.loaded = true
	return nil
}

func (f *fakeBackend) RunEncoder(paddedPCM []float32, audioLength int) ([]float32, int, error) {
	return make([]float32, tdt.EncoderHidden), 1, nil
}

func (f *fakeBackend) RunDecoder(targetID int32, hIn, cIn []float32) ([]float32, []float32, []float32, error) {
	return make([]float32, tdt.DecoderHidden), hIn, cIn, nil
}

func (f *fakeBackend) RunJoint(encoderFrame, decoderOut []float32) ([]float32, error) {
	logits := make([]float32, tdt.VocabSize+tdt.NumDurationBins)
	logits[5] = 10.0 // always argmax to token id 5 ("hello")
	logits[tdt.VocabSize+tdt.NumDurationBins-1] = 10.0 // max duration bin
	return logits, nil
}

func (f *fakeBackend) SupportsBeamSearch() bool { return f.beamWidth }

func (f *fakeBackend) ResetRequestHandles() error {
	f.resetCalls++
	return f.resetErr
}

func (f *fakeBackend) Close() error { return nil }

func testVocab(t *testing.T) *vocab.Vocabulary {
	t.Helper()
	v, err := vocab.Parse([]byte(`{"5":"▁hello"}`))
	if err != nil {
		t.Fatalf("vocab.Parse: %v", err)
	}
	return v
}

func TestResetBackendStateNoActiveBackend(t *testing.T) {
	e := New(backend.NewRegistry(), testVocab(t))
	if err := e.ResetBackendState(); err == nil {
		t.Fatal("ResetBackendState() with no active backend should error")
	}
}

func TestTranscribePCMNoActiveBackend(t *testing.T) {
	e := New(backend.NewRegistry(), testVocab(t))
	_, err := e.TranscribePCM(context.Background(), make([]float32, 16000), 16000, 1, SourceFile, tdt.DefaultConfig())
	if err == nil {
		t.Fatal("TranscribePCM() with no active backend should error")
	}
}

func TestSetBackendUnknownID(t *testing.T) {
	e := New(backend.NewRegistry(), testVocab(t))
	if err := e.SetBackend(backend.ID("nonexistent"), ""); err == nil {
		t.Fatal("SetBackend() with unregistered id should error")
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	registry := backend.NewRegistry()
	if err := registry.SetBackend(fakeID, ""); err != nil {
		t.Fatalf("SetBackend(fakeID): %v", err)
	}
	return New(registry, testVocab(t))
}

func TestResetBackendStateDelegates(t *testing.T) {
	e := newTestEngine(t)
	if err := e.ResetBackendState(); err != nil {
		t.Fatalf("ResetBackendState() = %v, want nil", err)
	}
}

func TestTranscribePCMSingleChunk(t *testing.T) {
	e := newTestEngine(t)

	pcm := make([]float32, 16000) // 1s of silence at 16kHz mono
	result, err := e.TranscribePCM(context.Background(), pcm, 16000, 1, SourceFile, tdt.DefaultConfig())
	if err != nil {
		t.Fatalf("TranscribePCM() error = %v", err)
	}
	if result.DurationMs != 1000 {
		t.Errorf("DurationMs = %d, want 1000", result.DurationMs)
	}
	if result.RawText != "hello" {
		t.Errorf("RawText = %q, want %q", result.RawText, "hello")
	}
	if len(result.Segments) != 1 {
		t.Fatalf("len(Segments) = %d, want 1", len(result.Segments))
	}
	seg := result.Segments[0]
	if seg.Text != "hello" {
		t.Errorf("Segments[0].Text = %q, want %q", seg.Text, "hello")
	}
	if seg.EndMs != result.DurationMs {
		t.Errorf("Segments[0].EndMs = %d, want %d", seg.EndMs, result.DurationMs)
	}
	if seg.Confidence <= 0 {
		t.Errorf("Segments[0].Confidence = %v, want > 0", seg.Confidence)
	}
}

func TestTranscribePCMEmptyInput(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.TranscribePCM(context.Background(), nil, 16000, 1, SourceFile, tdt.DefaultConfig())
	if err != nil {
		t.Fatalf("TranscribePCM() error = %v", err)
	}
	if result.RawText != "" {
		t.Errorf("RawText = %q, want empty", result.RawText)
	}
	if len(result.Segments) != 0 {
		t.Errorf("len(Segments) = %d, want 0", len(result.Segments))
	}
}

func TestTranscribePCMMultiChunkPublishesProgress(t *testing.T) {
	e := newTestEngine(t)
	events := e.Events().Subscribe()

	// 20s of silence forces the fixed-window chunker past its 15s
	// single-pass cap (mel.MaxSamples), producing more than one chunk.
	pcm := make([]float32, 20*mel.SampleRate)

	result, err := e.TranscribePCM(context.Background(), pcm, 16000, 1, SourceFile, tdt.DefaultConfig())
	if err != nil {
		t.Fatalf("TranscribePCM() error = %v", err)
	}
	if result.DurationMs != 20000 {
		t.Errorf("DurationMs = %d, want 20000", result.DurationMs)
	}

	var seen []ProgressEvent
drain:
	for {
		select {
		case ev := <-events:
			seen = append(seen, ev)
		default:
			break drain
		}
	}

	if len(seen) < 2 {
		t.Fatalf("expected at least 2 progress events for a multi-chunk transcription, got %d", len(seen))
	}
	for i, ev := range seen {
		if ev.ChunkIndex != i {
			t.Errorf("event %d: ChunkIndex = %d, want %d", i, ev.ChunkIndex, i)
		}
		if ev.ChunkCount != len(seen) {
			t.Errorf("event %d: ChunkCount = %d, want %d", i, ev.ChunkCount, len(seen))
		}
		if ev.Segment.Text != "hello" {
			t.Errorf("event %d: Segment.Text = %q, want %q", i, ev.Segment.Text, "hello")
		}
		if ev.Segment.EndMs != ev.CurrentMs {
			t.Errorf("event %d: Segment.EndMs = %d, want %d", i, ev.Segment.EndMs, ev.CurrentMs)
		}
	}
	if len(result.Segments) != len(seen) {
		t.Errorf("len(Segments) = %d, want %d (one per chunk)", len(result.Segments), len(seen))
	}
}

func TestTranscribePCMCancelledContextReturnsPartial(t *testing.T) {
	e := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pcm := make([]float32, 20*mel.SampleRate)
	result, err := e.TranscribePCM(ctx, pcm, 16000, 1, SourceFile, tdt.DefaultConfig())
	if err != nil {
		t.Fatalf("TranscribePCM() error = %v", err)
	}
	if !result.Partial {
		t.Error("Partial = false, want true for a pre-cancelled context")
	}
	if len(result.Segments) != 0 {
		t.Errorf("len(Segments) = %d, want 0 (no chunk decoded before cancellation)", len(result.Segments))
	}
}

func TestTranscribePCMBeamFallsBackWhenUnsupported(t *testing.T) {
	registry := backend.NewRegistry()
	if err := registry.SetBackend(fakeID, ""); err != nil {
		t.Fatalf("SetBackend: %v", err)
	}
	// fakeBackend.beamWidth defaults false, so beam_width > 1 must fall
	// back to greedy rather than erroring.
	e := New(registry, testVocab(t))

	cfg := tdt.DefaultConfig()
	cfg.BeamWidth = 4
	result, err := e.TranscribePCM(context.Background(), make([]float32, 16000), 16000, 1, SourceMicrophone, cfg)
	if err != nil {
		t.Fatalf("TranscribePCM() error = %v", err)
	}
	if result.RawText != "hello" {
		t.Errorf("RawText = %q, want %q", result.RawText, "hello")
	}
}
