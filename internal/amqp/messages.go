package amqp

import (
	"encoding/json"
	"time"

	"saldo/internal/core"
)

// EventType names what happened to the ledger.
type EventType string

const (
	EventEntryCreated  EventType = "entry.created"
	EventEntryUpdated  EventType = "entry.updated"
	EventEntryDeleted  EventType = "entry.deleted"
	EventCascadeFailed EventType = "cascade.failed"
)

// LedgerEvent is a lightweight notification about a ledger mutation.
// Consumers read the current rows from the store; the event only names them.
type LedgerEvent struct {
	Type      EventType `json:"type"`
	Period    string    `json:"period,omitempty"`
	EntryIDs  []int64   `json:"entry_ids,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewLedgerEvent creates an event stamped with the current time
func NewLedgerEvent(t EventType, period core.Period, ids ...int64) *LedgerEvent {
	return &LedgerEvent{
		Type:      t,
		Period:    period.String(),
		EntryIDs:  ids,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the event to JSON bytes
func (m *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventFromJSON decodes an event published by ToJSON
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var msg LedgerEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
