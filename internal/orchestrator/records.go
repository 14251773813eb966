package orchestrator

import (
	"time"

	"github.com/logscout/logscout/internal/tools"
)

// RecordStatus tracks a tool call through its lifecycle.
type RecordStatus string

const (
	StatusPending   RecordStatus = "pending"
	StatusRunning   RecordStatus = "running"
	StatusSucceeded RecordStatus = "succeeded"
	StatusFailed    RecordStatus = "failed"
)

// ToolCallRecord is the append-only log entry for one dispatched tool
// call. The orchestrator is the sole writer; everyone else sees records
// through the event sink or the persisted ledger.
type ToolCallRecord struct {
	ID        string       `json:"id"`
	TurnID    string       `json:"turn_id"`
	Seq       int          `json:"seq"`
	Kind      tools.Kind   `json:"kind"`
	Input     string       `json:"input"`
	Status    RecordStatus `json:"status"`
	Summary   string       `json:"summary,omitempty"`
	Cause     string       `json:"cause,omitempty"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   time.Time    `json:"ended_at,omitempty"`
}

// EventType classifies turn events emitted to the presentation layer.
type EventType string

const (
	EventTurnStarted   EventType = "turn_started"
	EventRecordUpdate  EventType = "record_update"
	EventAnswerDelta   EventType = "answer_delta"
	EventTurnCompleted EventType = "turn_completed"
)

// Event is one frame of the turn stream. Record frames carry a copy of
// the record at the moment of the transition; presentation must key on
// record identity and status, not on arrival order.
type Event struct {
	Type      EventType       `json:"type"`
	TurnID    string          `json:"turn_id"`
	Record    *ToolCallRecord `json:"record,omitempty"`
	TextDelta string          `json:"text_delta,omitempty"`
	Reason    Reason          `json:"reason,omitempty"`
}

// Sink receives turn events. Implementations must be safe for calls from
// concurrent fan-out branches; emission order follows record transitions,
// not completion order.
type Sink interface {
	Emit(Event)
}

// NoopSink discards events.
type NoopSink struct{}

// Emit implements Sink.
func (NoopSink) Emit(Event) {}

// multiSink fans one event out to several sinks.
type multiSink struct {
	sinks []Sink
}

// MultiSink combines sinks; nil entries are skipped.
func MultiSink(sinks ...Sink) Sink {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return &multiSink{sinks: out}
}

func (m *multiSink) Emit(e Event) {
	for _, s := range m.sinks {
		s.Emit(e)
	}
}
