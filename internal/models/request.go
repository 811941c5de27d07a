// internal/models/request.go
package models

import (
	"fmt"
	"strings"
	"time"

	"donor-matching/internal/common/errors"
)

// Urgency is ordered Low < Normal < High < Critical.
type Urgency string

const (
	UrgencyLow      Urgency = "Low"
	UrgencyNormal   Urgency = "Normal"
	UrgencyHigh     Urgency = "High"
	UrgencyCritical Urgency = "Critical"
)

var urgencyRank = map[Urgency]int{
	UrgencyLow:      0,
	UrgencyNormal:   1,
	UrgencyHigh:     2,
	UrgencyCritical: 3,
}

// Rank returns the ordinal of the level, -1 when unknown.
func (u Urgency) Rank() int {
	if r, ok := urgencyRank[u]; ok {
		return r
	}
	return -1
}

func (u Urgency) Valid() bool { return u.Rank() >= 0 }

// AtLeast reports whether u is at or above other.
func (u Urgency) AtLeast(other Urgency) bool {
	return u.Valid() && u.Rank() >= other.Rank()
}

// ParseUrgency is case-insensitive.
func ParseUrgency(s string) (Urgency, error) {
	for u := range urgencyRank {
		if strings.EqualFold(string(u), strings.TrimSpace(s)) {
			return u, nil
		}
	}
	return "", errors.NewValidationError(fmt.Sprintf("unknown urgency %q", s))
}

type RequestStatus string

const (
	RequestOpen       RequestStatus = "Open"
	RequestInProgress RequestStatus = "InProgress"
	RequestFulfilled  RequestStatus = "Fulfilled"
	RequestClosed     RequestStatus = "Closed"
)

type BloodRequest struct {
	ID          string        `json:"id"`
	PatientName string        `json:"patientName"`
	BloodType   BloodType     `json:"bloodType"`
	HospitalID  string        `json:"hospitalId"`
	UnitsNeeded int           `json:"unitsNeeded"`
	Urgency     Urgency       `json:"urgency"`
	Status      RequestStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// Validate rejects requests that must never reach the ranker.
func (r BloodRequest) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.NewValidationError("request id is required")
	}
	if !r.BloodType.Valid() {
		return errors.NewInvalidBloodTypeError(string(r.BloodType))
	}
	if r.UnitsNeeded <= 0 {
		return errors.NewValidationError(fmt.Sprintf("unitsNeeded must be positive, got %d", r.UnitsNeeded))
	}
	if !r.Urgency.Valid() {
		return errors.NewValidationError(fmt.Sprintf("unknown urgency %q", r.Urgency))
	}
	return nil
}
