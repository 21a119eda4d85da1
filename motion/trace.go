package motion

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// TraceKind identifies a recorded controller event
type TraceKind uint8

const (
	TraceArm       TraceKind = iota + 1 // timing source armed from rest, Value = interval
	TraceStep                           // step executed, Value = next interval
	TraceDirection                      // direction set, Value = direction
	TraceStop                           // stop requested, Value = decel steps
	TraceReverse                        // reversal queued, Value = decel steps
	TraceComplete                       // move completed
	TraceStall                          // timing source failure
)

func (k TraceKind) String() string {
	switch k {
	case TraceArm:
		return "ARM"
	case TraceStep:
		return "STEP"
	case TraceDirection:
		return "DIR"
	case TraceStop:
		return "STOP"
	case TraceReverse:
		return "REVERSE"
	case TraceComplete:
		return "COMPLETE"
	case TraceStall:
		return "STALL!"
	default:
		return "UNKNOWN"
	}
}

// TraceEvent is one entry of the trace ring
type TraceEvent struct {
	Kind     TraceKind
	Position int32
	Value    int64
}

// DefaultTraceSize is the ring size used when none is configured
const DefaultTraceSize = 32

// traceRing keeps the last N controller events for post-mortem dumps.
// Recording is O(1) and never allocates.
type traceRing struct {
	mu     sync.Mutex
	events []TraceEvent
	head   int
	full   bool
}

func newTraceRing(size int) *traceRing {
	if size <= 0 {
		size = DefaultTraceSize
	}
	return &traceRing{events: make([]TraceEvent, size)}
}

func (r *traceRing) record(kind TraceKind, pos int32, value int64) {
	r.mu.Lock()
	r.events[r.head] = TraceEvent{Kind: kind, Position: pos, Value: value}
	r.head++
	if r.head == len(r.events) {
		r.head = 0
		r.full = true
	}
	r.mu.Unlock()
}

// snapshot returns the events oldest first
func (r *traceRing) snapshot() []TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		return append([]TraceEvent(nil), r.events[:r.head]...)
	}
	out := make([]TraceEvent, 0, len(r.events))
	out = append(out, r.events[r.head:]...)
	return append(out, r.events[:r.head]...)
}

func (r *traceRing) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.events {
		r.events[i] = TraceEvent{}
	}
	r.head = 0
	r.full = false
}

func (r *traceRing) dump(log logrus.FieldLogger) {
	events := r.snapshot()
	log.Infof("trace dump: %d events", len(events))
	for _, ev := range events {
		log.WithFields(logrus.Fields{
			"position": ev.Position,
			"value":    ev.Value,
		}).Info(ev.Kind.String())
	}
}
