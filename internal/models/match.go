// internal/models/match.go
package models

import (
	"fmt"
	"strings"
	"time"

	"donor-matching/internal/common/errors"
)

type MatchStatus string

const (
	MatchPending   MatchStatus = "Pending"
	MatchNotified  MatchStatus = "Notified"
	MatchAccepted  MatchStatus = "Accepted"
	MatchDeclined  MatchStatus = "Declined"
	MatchCompleted MatchStatus = "Completed"
)

// AllowedTransitions is the complete match lifecycle. Declined and Completed
// have no outgoing edges.
var AllowedTransitions = map[MatchStatus][]MatchStatus{
	MatchPending:  {MatchNotified, MatchDeclined},
	MatchNotified: {MatchAccepted, MatchDeclined},
	MatchAccepted: {MatchCompleted},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to MatchStatus) bool {
	for _, next := range AllowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsActive is true for Pending and Notified.
func (s MatchStatus) IsActive() bool {
	return s == MatchPending || s == MatchNotified
}

func (s MatchStatus) IsTerminal() bool {
	return s == MatchDeclined || s == MatchCompleted
}

func (s MatchStatus) Valid() bool {
	switch s {
	case MatchPending, MatchNotified, MatchAccepted, MatchDeclined, MatchCompleted:
		return true
	}
	return false
}

func ParseMatchStatus(s string) (MatchStatus, error) {
	for _, st := range []MatchStatus{MatchPending, MatchNotified, MatchAccepted, MatchDeclined, MatchCompleted} {
		if strings.EqualFold(string(st), strings.TrimSpace(s)) {
			return st, nil
		}
	}
	return "", errors.NewValidationError(fmt.Sprintf("unknown match status %q", s))
}

type MatchRecord struct {
	ID         string           `json:"id"`
	RequestID  string           `json:"requestId"`
	DonorID    string           `json:"donorId"`
	Status     MatchStatus      `json:"status"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
	DistanceKm *float64         `json:"distanceKm,omitempty"`
	Delivery   *DeliveryOutcome `json:"delivery,omitempty"`
}
