// Package engine implements the transcription orchestrator (spec §4.10):
// it owns the backend registry, drives the mel-encoder-decoder-joint
// pipeline chunk by chunk, merges chunk transcripts, and emits progress
// events. Concurrent requests are serialized by a single mutex, matching
// the "one outstanding request at a time" rule of spec §5.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"

	"github.com/chaz8081/parakeet-core/internal/backend"
	"github.com/chaz8081/parakeet-core/internal/chunk"
	"github.com/chaz8081/parakeet-core/internal/mel"
	"github.com/chaz8081/parakeet-core/internal/merge"
	"github.com/chaz8081/parakeet-core/internal/resample"
	"github.com/chaz8081/parakeet-core/internal/tdt"
	"github.com/chaz8081/parakeet-core/internal/vocab"
)

// SourceKind labels where PCM handed to TranscribePCM originated. It is
// echoed on TranscriptionResult.Source and does not change decoding behavior.
type SourceKind string

const (
	SourceMicrophone SourceKind = "microphone"
	SourceFile       SourceKind = "file"
)

// TranscriptionResult is the orchestrator's uniform return value (spec
// §3, §6, §7): always well-formed, even when empty.
type TranscriptionResult struct {
	Segments   []Segment
	RawText    string
	DurationMs int
	Language   tdt.Language
	Source     SourceKind
	Partial    bool
}

// Engine ties together the active backend, vocabulary, and the
// chunk/merge pipeline.
type Engine struct {
	registry *backend.Registry
	vocab    *vocab.Vocabulary
	events   *EventBus

	mu sync.Mutex
}

// New constructs an orchestrator around an already-populated backend
// registry and vocabulary.
func New(registry *backend.Registry, vocabulary *vocab.Vocabulary) *Engine {
	return &Engine{registry: registry, vocab: vocabulary, events: NewEventBus()}
}

// Events returns the orchestrator's progress-event bus.
func (e *Engine) Events() *EventBus { return e.events }

// SetBackend atomically swaps the active adapter (spec §4.10). On
// failure the previous backend remains active. Serialized against
// TranscribePCM by the same mutex, so a swap never closes a backend an
// in-flight transcription is still calling.
func (e *Engine) SetBackend(id backend.ID, modelsDir string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.SetBackend(id, modelsDir)
}

// ResetBackendState reinitializes per-request inference handles. Must be
// called at the start of every TranscribePCM (spec §4.10, §9).
func (e *Engine) ResetBackendState() error {
	active := e.registry.Active()
	if active == nil {
		return fmt.Errorf("engine: %w", backend.ErrModelsMissing)
	}
	return active.ResetRequestHandles()
}

// TranscribeFile reads a 16-bit PCM little-endian WAV file and
// transcribes it (spec §6). Other containers are rejected with
// ErrAudioDecodeError; the host is expected to delegate those to an
// external decoder before calling in.
func (e *Engine) TranscribeFile(ctx context.Context, path string, cfg tdt.Config) (TranscriptionResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return TranscriptionResult{}, fmt.Errorf("engine: open %s: %w: %w", path, err, ErrAudioDecodeError)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return TranscriptionResult{}, fmt.Errorf("engine: decode %s: %w: %w", path, err, ErrAudioDecodeError)
	}
	if !decoder.IsValidFile() {
		return TranscriptionResult{}, fmt.Errorf("engine: %s is not a valid WAV file: %w", path, ErrAudioDecodeError)
	}
	if buf.SourceBitDepth != 16 {
		return TranscriptionResult{}, fmt.Errorf("engine: %s is %d-bit PCM, want 16-bit: %w", path, buf.SourceBitDepth, ErrAudioDecodeError)
	}

	pcm := make([]float32, len(buf.Data))
	for i, s := range buf.Data {
		pcm[i] = float32(s) / 32768.0
	}
	srcRate := int(decoder.SampleRate)
	channels := int(decoder.NumChans)

	return e.TranscribePCM(ctx, pcm, srcRate, channels, SourceFile, cfg)
}

// TranscribePCM resamples, normalizes, chunks, decodes, and merges pcm
// into a transcript (spec §4.10). Callers must have arranged for
// ResetBackendState to run first for this request. If ctx is cancelled
// between chunks, TranscribePCM returns whatever chunks decoded so far
// with Partial set, rather than an error (spec §5).
func (e *Engine) TranscribePCM(ctx context.Context, pcm []float32, srcRate, channels int, source SourceKind, cfg tdt.Config) (TranscriptionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	active := e.registry.Active()
	if active == nil {
		return TranscriptionResult{}, fmt.Errorf("engine: %w", backend.ErrModelsMissing)
	}

	mono, err := resample.ToMono16kHz(pcm, srcRate, channels, resample.DefaultOptions())
	if err != nil {
		return TranscriptionResult{}, fmt.Errorf("engine: %w", err)
	}

	durationMs := len(mono) * 1000 / resample.TargetSampleRate

	chunks := chunk.Split(mono, chunk.Options{VADAware: cfg.VADAware})
	if len(chunks) == 0 {
		return TranscriptionResult{DurationMs: durationMs, Language: cfg.Language, Source: source}, nil
	}

	effectiveCfg := cfg
	if effectiveCfg.BeamWidth > 1 && !active.SupportsBeamSearch() {
		effectiveCfg.BeamWidth = 1
	}

	var transcripts []merge.ChunkTranscript
	var segments []Segment
	var failures int
	partial := false
	gap := false

	for _, c := range chunks {
		if ctx.Err() != nil {
			partial = true
			break
		}

		chunkStart := time.Now()

		padded := padTo(c.Samples, mel.MaxSamples)
		encoderOut, encLength, err := active.RunEncoder(padded, len(c.Samples))
		if err != nil {
			slog.Warn("engine: chunk encoder failed, skipping", "chunk", c.Index, "error", err)
			failures++
			gap = true
			continue
		}

		var result tdt.Result
		if effectiveCfg.BeamWidth > 1 {
			result, err = tdt.Beam(encoderOut, encLength, active, active, effectiveCfg)
		} else {
			result, err = tdt.Greedy(encoderOut, encLength, active, active, effectiveCfg)
		}
		if err != nil {
			slog.Warn("engine: chunk decode failed, skipping", "chunk", c.Index, "error", err)
			failures++
			gap = true
			continue
		}

		text := e.vocab.DecodeSequence(result.Tokens)
		// A skipped predecessor breaks adjacency: this chunk's overlap
		// was computed relative to a chunk that never made it into
		// transcripts, so merge.Merge must not dedupe against whatever
		// chunk actually precedes it there.
		transcripts = append(transcripts, merge.ChunkTranscript{Text: text, HasOverlap: c.HasOverlap && !gap})
		gap = false

		segment := Segment{StartMs: c.StartMs, EndMs: c.EndMs, Text: text, Confidence: result.Confidence}
		segments = append(segments, segment)

		elapsed := time.Since(chunkStart).Seconds()
		audioProcessed := float64(len(c.Samples)) / resample.TargetSampleRate
		speed := 0.0
		if audioProcessed > 0 {
			speed = elapsed / audioProcessed
		}
		e.events.Publish(ProgressEvent{
			ChunkIndex:  c.Index,
			ChunkCount:  len(chunks),
			CurrentMs:   c.EndMs,
			TotalMs:     durationMs,
			SpeedFactor: speed,
			Segment:     segment,
		})
	}

	if !partial && failures == len(chunks) {
		return TranscriptionResult{}, fmt.Errorf("engine: all %d chunks failed: %w", failures, backend.ErrInferenceFailed)
	}

	rawText := merge.Merge(transcripts)
	slog.Debug("engine: transcription complete", "source", source, "chunks", len(chunks), "failed_chunks", failures, "partial", partial)

	return TranscriptionResult{
		Segments:   segments,
		RawText:    rawText,
		DurationMs: durationMs,
		Language:   effectiveCfg.Language,
		Source:     source,
		Partial:    partial,
	}, nil
}

// padTo pads or truncates samples to exactly n, matching the fixed-size
// tensor contract every backend's RunEncoder expects (spec §4.2).
func padTo(samples []float32, n int) []float32 {
	if len(samples) >= n {
		return samples[:n]
	}
	out := make([]float32, n)
	copy(out, samples)
	return out
}
