// Package capture implements generation-safe microphone audio capture
// (spec §4.6) on top of github.com/gen2brain/malgo. The recorder's
// defining property is that no callback may ever write samples from a
// previous session into the current session's buffer: every Start
// increments a generation counter captured by the callback closure, and
// each invocation writes only if its captured generation still matches
// the recorder's current one.
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
)

// State is one of the recorder's lifecycle states (spec §4.6).
type State int

const (
	StateIdle State = iota
	StateRecording
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Sentinel errors (spec §7).
var (
	ErrDeviceUnavailable = errors.New("capture: selected input device could not be opened")
	ErrInvalidState      = errors.New("capture: illegal state transition")
)

// quiescenceDelay is the pause after generation advance, before draining
// the buffer on Stop, that lets any in-flight callback from the old
// generation observe the mismatch and discard its data.
const quiescenceDelay = 50 * time.Millisecond

// Device describes one enumerated capture device (spec §4.6).
type Device struct {
	ID        string
	Name      string
	IsDefault bool
}

// Recorder captures 16-bit-equivalent float32 mono/stereo PCM from a
// chosen input device.
type Recorder struct {
	ctx *malgo.AllocatedContext

	sampleRate uint32
	channels   uint32

	mu       sync.Mutex
	state    State
	device   *malgo.Device
	buf      []float32
	lastMax  atomic.Uint32 // float32 bits of the most recent level-meter value
	generation atomic.Uint64
}

// NewRecorder creates a recorder in the idle state. Call Close when done.
func NewRecorder(sampleRate, channels uint32) (*Recorder, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: init context: %w", err)
	}
	return &Recorder{ctx: ctx, sampleRate: sampleRate, channels: channels}, nil
}

// Devices enumerates available capture devices.
func (r *Recorder) Devices() ([]Device, error) {
	infos, err := r.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("capture: enumerate devices: %w", err)
	}
	out := make([]Device, len(infos))
	for i, info := range infos {
		out[i] = Device{
			ID:        fmt.Sprintf("%x", info.ID),
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
		}
	}
	return out, nil
}

// Start begins capturing from deviceID (empty string selects the
// system default). Only legal from idle.
func (r *Recorder) Start(deviceID string) error {
	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return fmt.Errorf("capture: start from %s: %w", r.state, ErrInvalidState)
	}
	r.buf = r.buf[:0]
	gen := r.generation.Add(1)
	r.mu.Unlock()

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatF32
	deviceCfg.Capture.Channels = r.channels
	deviceCfg.SampleRate = r.sampleRate

	callbacks := malgo.DeviceCallbacks{
		Data: r.makeCallback(gen),
	}

	device, err := malgo.InitDevice(r.ctx.Context, deviceCfg, callbacks)
	if err != nil {
		return fmt.Errorf("capture: init device: %w: %w", err, ErrDeviceUnavailable)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("capture: start device: %w: %w", err, ErrDeviceUnavailable)
	}

	r.mu.Lock()
	r.device = device
	r.state = StateRecording
	r.mu.Unlock()
	return nil
}

// makeCallback returns a malgo data callback closed over the generation
// it belongs to. It writes samples only while that generation is still
// the recorder's active one.
func (r *Recorder) makeCallback(gen uint64) func(_, pSample []byte, frameCount uint32) {
	return func(_ []byte, pSample []byte, frameCount uint32) {
		if r.generation.Load() != gen {
			return
		}
		samples := bytesToFloat32(pSample, frameCount*r.channels)
		if len(samples) == 0 {
			return
		}

		var peak float32
		for _, s := range samples {
			if a := float32(math.Abs(float64(s))); a > peak {
				peak = a
			}
		}
		r.lastMax.Store(math.Float32bits(peak))

		r.mu.Lock()
		if r.generation.Load() == gen {
			r.buf = append(r.buf, samples...)
		}
		r.mu.Unlock()
	}
}

// Pause suspends capture without discarding the buffer. Only legal from
// recording.
func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording {
		return fmt.Errorf("capture: pause from %s: %w", r.state, ErrInvalidState)
	}
	if r.device != nil {
		if err := r.device.Stop(); err != nil {
			return fmt.Errorf("capture: pause: %w", err)
		}
	}
	r.state = StatePaused
	return nil
}

// Resume continues capture after a Pause. Only legal from paused.
func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePaused {
		return fmt.Errorf("capture: resume from %s: %w", r.state, ErrInvalidState)
	}
	if r.device != nil {
		if err := r.device.Start(); err != nil {
			return fmt.Errorf("capture: resume: %w", err)
		}
	}
	r.state = StateRecording
	return nil
}

// Stop ends capture, advances the generation so any still-inflight
// callback from the outgoing session discards its data, waits out a
// brief quiescence delay, then drains and returns the buffer.
func (r *Recorder) Stop() ([]float32, error) {
	r.mu.Lock()
	if r.state == StateIdle {
		r.mu.Unlock()
		return nil, fmt.Errorf("capture: stop from idle: %w", ErrInvalidState)
	}
	device := r.device
	r.device = nil
	r.state = StateIdle
	r.generation.Add(1)
	r.mu.Unlock()

	if device != nil {
		device.Uninit()
	}

	time.Sleep(quiescenceDelay)

	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]float32, len(r.buf))
	copy(result, r.buf)
	r.buf = nil
	return result, nil
}

// Level returns the max absolute sample value over the most recent
// sample block without blocking. Returns 0 while idle.
func (r *Recorder) Level() float32 {
	r.mu.Lock()
	state := r.state
	r.mu.Unlock()
	if state == StateIdle {
		return 0
	}
	return math.Float32frombits(r.lastMax.Load())
}

// State returns the recorder's current lifecycle state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SampleRate returns the rate the device was configured to capture at.
func (r *Recorder) SampleRate() uint32 { return r.sampleRate }

// Channels returns the channel count the device was configured to
// capture at.
func (r *Recorder) Channels() uint32 { return r.channels }

// Close releases all audio resources.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.device != nil {
		r.device.Uninit()
		r.device = nil
	}
	r.state = StateIdle
	r.generation.Add(1)
	r.mu.Unlock()

	if r.ctx != nil {
		if err := r.ctx.Uninit(); err != nil {
			return fmt.Errorf("capture: uninit context: %w", err)
		}
		r.ctx.Free()
	}
	return nil
}

func bytesToFloat32(data []byte, sampleCount uint32) []float32 {
	samples := make([]float32, 0, sampleCount)
	for i := uint32(0); i < sampleCount; i++ {
		offset := i * 4
		if offset+4 > uint32(len(data)) {
			break
		}
		bits := binary.LittleEndian.Uint32(data[offset : offset+4])
		samples = append(samples, math.Float32frombits(bits))
	}
	return samples
}
