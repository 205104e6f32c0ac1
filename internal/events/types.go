package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the lifecycle event carried on the bus
type EventType string

const (
	EventSignalReceived   EventType = "SIGNAL_RECEIVED"
	EventOrderPlaced      EventType = "ORDER_PLACED"
	EventOrderExecuted    EventType = "ORDER_EXECUTED"
	EventOrderNeutralized EventType = "ORDER_NEUTRALIZED"
	EventPositionSync     EventType = "POSITION_SYNC"
	EventExecutionFailed  EventType = "EXECUTION_FAILED"
	EventRiskCheckPassed  EventType = "RISK_CHECK_PASSED"
	EventRiskCheckFailed  EventType = "RISK_CHECK_FAILED"
	EventMarginLocked     EventType = "MARGIN_LOCKED"
	EventMarginReleased   EventType = "MARGIN_RELEASED"
)

// Priority partitions each event type into independent queues
type Priority string

const (
	PriorityNormal   Priority = "NORMAL"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Priorities lists all priority tiers, most urgent first
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityNormal}

// Event is the unit of transport on the bus. Payload values are
// small scalars (quantities, prices, reasons); consumers must not
// assume any key is present.
type Event struct {
	EventID   string                 `json:"event_id"`
	Type      EventType              `json:"event_type"`
	Priority  Priority               `json:"priority"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Symbol    string                 `json:"symbol,omitempty"`
	JobID     string                 `json:"job_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// NewEvent creates an event with a generated ID and current timestamp
func NewEvent(eventType EventType, priority Priority, source string) Event {
	return Event{
		EventID:   uuid.NewString(),
		Type:      eventType,
		Priority:  priority,
		Timestamp: time.Now(),
		Source:    source,
		Data:      make(map[string]interface{}),
	}
}

// WithSymbol attaches the trading symbol
func (e Event) WithSymbol(symbol string) Event {
	e.Symbol = symbol
	return e
}

// WithJob attaches the originating job ID
func (e Event) WithJob(jobID string) Event {
	e.JobID = jobID
	return e
}

// WithData attaches a payload value
func (e Event) WithData(key string, value interface{}) Event {
	if e.Data == nil {
		e.Data = make(map[string]interface{})
	}
	e.Data[key] = value
	return e
}
