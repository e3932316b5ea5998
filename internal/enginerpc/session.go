// Package enginerpc realizes the host-facing operation table of spec §6
// as an in-process Go API: a Session wraps one Engine and one capture
// Recorder and exposes list_input_devices, start/pause/resume/stop
// recording, transcribe_file, set_backend, and get_audio_level. A future
// transport layer (gRPC, JSON-RPC over stdio, Wails bindings) adapts
// this surface rather than reimplementing it.
package enginerpc

import (
	"context"
	"sync"

	"github.com/chaz8081/parakeet-core/internal/backend"
	"github.com/chaz8081/parakeet-core/internal/capture"
	"github.com/chaz8081/parakeet-core/internal/engine"
	"github.com/chaz8081/parakeet-core/internal/tdt"
)

// StartRecordingRequest selects an input device; an empty DeviceID picks
// the system default.
type StartRecordingRequest struct {
	DeviceID string
}

// StopRecordingRequest carries the decoding options for the captured
// buffer (spec §6 table: "decoding_config, language").
type StopRecordingRequest struct {
	Decoding tdt.Config
}

// TranscribeFileRequest carries the WAV path and decoding options.
type TranscribeFileRequest struct {
	Path     string
	Decoding tdt.Config
}

// SetBackendRequest names the adapter to activate.
type SetBackendRequest struct {
	BackendID backend.ID
}

// Session is the host-facing handle over one engine and one recorder.
// Engine and Recorder each serialize their own operations internally
// (spec §5); transcribeMu additionally serializes StopRecording and
// TranscribeFile against each other at the session level, since both
// tag the shared progress-event stream via currentKind and Engine's own
// mutex alone doesn't cover that tagging.
type Session struct {
	eng       *engine.Engine
	recorder  *capture.Recorder
	modelsDir string

	transcribeMu sync.Mutex

	mu          sync.Mutex
	currentKind EventKind

	events chan Event
}

// NewSession wires an engine and a recorder into one host-facing
// session and starts forwarding the engine's progress events, tagged
// per the operation currently in flight.
func NewSession(eng *engine.Engine, recorder *capture.Recorder, modelsDir string) *Session {
	s := &Session{
		eng:         eng,
		recorder:    recorder,
		modelsDir:   modelsDir,
		currentKind: EventProgress,
		events:      make(chan Event, 32),
	}
	go s.forwardProgress()
	return s
}

// Events returns the session's tagged progress-event stream.
func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) forwardProgress() {
	for ev := range s.eng.Events().Subscribe() {
		s.mu.Lock()
		kind := s.currentKind
		s.mu.Unlock()
		select {
		case s.events <- Event{Kind: kind, Progress: ev}:
		default:
		}
	}
}

func (s *Session) setEventKind(k EventKind) {
	s.mu.Lock()
	s.currentKind = k
	s.mu.Unlock()
}

// ListInputDevices enumerates capture devices.
func (s *Session) ListInputDevices() ([]capture.Device, error) {
	devices, err := s.recorder.Devices()
	if err != nil {
		return nil, Wrap(err)
	}
	return devices, nil
}

// StartRecording begins capture from the requested device.
func (s *Session) StartRecording(req StartRecordingRequest) error {
	if err := s.recorder.Start(req.DeviceID); err != nil {
		return Wrap(err)
	}
	return nil
}

// PauseRecording suspends an in-progress capture.
func (s *Session) PauseRecording() error {
	if err := s.recorder.Pause(); err != nil {
		return Wrap(err)
	}
	return nil
}

// ResumeRecording continues a paused capture.
func (s *Session) ResumeRecording() error {
	if err := s.recorder.Resume(); err != nil {
		return Wrap(err)
	}
	return nil
}

// StopRecording ends capture and transcribes the captured buffer,
// emitting "segment" events per chunk.
func (s *Session) StopRecording(ctx context.Context, req StopRecordingRequest) (engine.TranscriptionResult, error) {
	s.transcribeMu.Lock()
	defer s.transcribeMu.Unlock()

	pcm, err := s.recorder.Stop()
	if err != nil {
		return engine.TranscriptionResult{}, Wrap(err)
	}

	if err := s.eng.ResetBackendState(); err != nil {
		return engine.TranscriptionResult{}, Wrap(err)
	}

	s.setEventKind(EventSegment)
	defer s.setEventKind(EventProgress)

	result, err := s.eng.TranscribePCM(ctx, pcm, int(s.recorder.SampleRate()), int(s.recorder.Channels()), engine.SourceMicrophone, req.Decoding)
	if err != nil {
		return engine.TranscriptionResult{}, Wrap(err)
	}
	return result, nil
}

// TranscribeFile transcribes a WAV file, emitting "progress" events per
// chunk.
func (s *Session) TranscribeFile(ctx context.Context, req TranscribeFileRequest) (engine.TranscriptionResult, error) {
	s.transcribeMu.Lock()
	defer s.transcribeMu.Unlock()

	if err := s.eng.ResetBackendState(); err != nil {
		return engine.TranscriptionResult{}, Wrap(err)
	}

	s.setEventKind(EventProgress)
	defer s.setEventKind(EventProgress)

	result, err := s.eng.TranscribeFile(ctx, req.Path, req.Decoding)
	if err != nil {
		return engine.TranscriptionResult{}, Wrap(err)
	}
	return result, nil
}

// SetBackend atomically swaps the active inference adapter. The
// previous backend remains active if loading the new one fails (spec
// §4.10, §7).
func (s *Session) SetBackend(req SetBackendRequest) error {
	if err := s.eng.SetBackend(req.BackendID, s.modelsDir); err != nil {
		return Wrap(err)
	}
	return nil
}

// GetAudioLevel returns the most recent capture level in [0,1] without
// blocking.
func (s *Session) GetAudioLevel() float32 {
	return s.recorder.Level()
}

// Close releases the session's recorder.
func (s *Session) Close() error {
	return s.recorder.Close()
}
