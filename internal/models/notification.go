// internal/models/notification.go
package models

import "time"

type DeliveryStatus string

const (
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliverySkipped DeliveryStatus = "skipped"
)

// DeliveryOutcome is what the dispatcher records after one send attempt.
type DeliveryOutcome struct {
	Channel     string         `json:"channel"`
	Status      DeliveryStatus `json:"status"`
	MessageID   string         `json:"messageId,omitempty"`
	Error       string         `json:"error,omitempty"`
	AttemptedAt time.Time      `json:"attemptedAt"`
}

// NotificationKind selects the message template.
type NotificationKind string

const (
	NotifyDonorMatch NotificationKind = "donor_match"
	NotifyNoMatch    NotificationKind = "no_match"
	NotifyEscalation NotificationKind = "escalation"
)

// Recipient is where a message goes; empty fields are not reachable on
// that channel.
type Recipient struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Message is a rendered notification ready for a channel.
type Message struct {
	Kind      NotificationKind `json:"kind"`
	Recipient Recipient        `json:"recipient"`
	Subject   string           `json:"subject"`
	Body      string           `json:"body"`
	Urgency   Urgency          `json:"urgency"`
}
