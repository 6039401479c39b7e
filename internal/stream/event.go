// Package stream relays identification progress to a single client as an
// ordered event sequence that always ends with done.
package stream

import (
	"encoding/json"

	"github.com/sells-group/wine-identify/internal/model"
	"github.com/sells-group/wine-identify/internal/resilience"
)

// EventType names a stream event.
type EventType string

// Event types in the order a client sees them.
const (
	EventField      EventType = "field"
	EventEscalating EventType = "escalating"
	EventResult     EventType = "result"
	EventError      EventType = "error"
	EventDone       EventType = "done"
)

// Event is one frame on the wire.
type Event struct {
	Type EventType
	Data any
}

// FieldData carries one resolved field.
type FieldData struct {
	Field model.Field `json:"field"`
	Value any         `json:"value"`
}

// EscalatingData announces a move to a higher tier.
type EscalatingData struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Confidence float64 `json:"confidence"`
}

// ErrorData replaces the result when identification fails.
type ErrorData struct {
	Message   string          `json:"message"`
	Kind      resilience.Kind `json:"kind"`
	Retryable bool            `json:"retryable"`
}

// DoneData terminates every stream.
type DoneData struct {
	RequestID string `json:"requestId"`
}

// ErrorEvent builds an error event for err.
func ErrorEvent(err error) Event {
	return Event{Type: EventError, Data: ErrorData{
		Message:   err.Error(),
		Kind:      resilience.KindOf(err),
		Retryable: resilience.IsRetryable(err),
	}}
}

// RawEvent is a decoded frame read back from a stream.
type RawEvent struct {
	Type EventType       `json:"event"`
	Data json.RawMessage `json:"data"`
}

// Decode unmarshals the event payload into v.
func (e RawEvent) Decode(v any) error { return json.Unmarshal(e.Data, v) }
