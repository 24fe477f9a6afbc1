package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a presence transition.
type EventType string

// Possible PresenceEvent types.
const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventBSSIDChanged EventType = "bssid_changed"
	EventGraceStarted EventType = "grace_started"
	EventGraceExpired EventType = "grace_expired"
)

// PresenceEvent is the append-only unit of truth for both the timer
// coordinator and the sync log. Events are never mutated after creation.
type PresenceEvent struct {
	ID                    string    `json:"id"`
	Type                  EventType `json:"type"`
	BSSID                 *string   `json:"bssid"`
	PreviousBSSID         *string   `json:"previousBssid"`
	OccurredAt            time.Time `json:"occurredAt"`
	GraceSecondsRemaining *int      `json:"graceSecondsRemaining"`
}

// NewPresenceEvent creates an event with a fresh ID.
func NewPresenceEvent(t EventType, occurredAt time.Time) PresenceEvent {
	return PresenceEvent{
		ID:         uuid.New().String(),
		Type:       t,
		OccurredAt: occurredAt,
	}
}

// IsConnect reports whether the event re-establishes an association.
func (e PresenceEvent) IsConnect() bool {
	return e.Type == EventConnected || e.Type == EventBSSIDChanged
}

// IsDisconnect reports whether the event drops the association.
func (e PresenceEvent) IsDisconnect() bool { return e.Type == EventDisconnected }
