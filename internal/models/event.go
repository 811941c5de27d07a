// internal/models/event.go
package models

import "time"

type EventType string

const (
	EventMatchCreated       EventType = "match.created"
	EventMatchStatusChanged EventType = "match.status_changed"
	EventNoMatchFound       EventType = "match.none_found"
	EventRequestFulfilled   EventType = "request.fulfilled"
	EventNotificationSent   EventType = "notification.delivered"
)

// MatchEvent is published whenever the ledger or a request changes state.
type MatchEvent struct {
	Type       EventType        `json:"type"`
	RequestID  string           `json:"requestId"`
	MatchID    string           `json:"matchId,omitempty"`
	DonorID    string           `json:"donorId,omitempty"`
	Status     MatchStatus      `json:"status,omitempty"`
	Urgency    Urgency          `json:"urgency,omitempty"`
	Delivery   *DeliveryOutcome `json:"delivery,omitempty"`
	OccurredAt time.Time        `json:"occurredAt"`
}
