package enginerpc

import "github.com/chaz8081/parakeet-core/internal/engine"

// EventKind distinguishes the two per-chunk event streams named in spec
// §6: stop_recording emits "segment", transcribe_file emits "progress".
// Both are published from the same per-chunk ProgressEvent, which now
// carries the decoded Segment (boundaries, text, confidence) alongside
// the chunking progress fields; only the label differs by which
// operation is in flight.
type EventKind string

const (
	EventSegment  EventKind = "segment"
	EventProgress EventKind = "progress"
)

// Event is one host-facing progress notification.
type Event struct {
	Kind     EventKind
	Progress engine.ProgressEvent
}

// Segment is a convenience accessor onto the event's decoded segment.
func (e Event) Segment() engine.Segment { return e.Progress.Segment }
