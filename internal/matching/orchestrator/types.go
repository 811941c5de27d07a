package orchestrator

import (
	"context"
	"time"

	"donor-matching/internal/models"
)

// Repository is the read side of donor, hospital and request data, plus the
// one write the engine makes: moving a request along its lifecycle.
type Repository interface {
	GetDonor(ctx context.Context, id string) (models.Donor, error)
	GetRequest(ctx context.Context, id string) (models.BloodRequest, error)
	ListOpenRequests(ctx context.Context) ([]models.BloodRequest, error)
	GetHospital(ctx context.Context, id string) (models.Hospital, error)
	UpdateRequestStatus(ctx context.Context, id string, status models.RequestStatus) error
}

// DonorSource lists available donors, optionally narrowed to blood types.
type DonorSource interface {
	ListAvailableDonors(ctx context.Context, types ...models.BloodType) ([]models.Donor, error)
}

// Publisher receives ledger and request events.
type Publisher interface {
	Publish(ctx context.Context, event models.MatchEvent) error
}

// CandidateMatch is one ranked donor together with its ledger record.
// MatchID and Created are empty for read-only previews.
type CandidateMatch struct {
	DonorID    string             `json:"donorId"`
	DonorName  string             `json:"donorName"`
	BloodType  models.BloodType   `json:"bloodType"`
	City       string             `json:"city,omitempty"`
	DistanceKm *float64           `json:"distanceKm"`
	Score      float64            `json:"score"`
	MatchID    string             `json:"matchId,omitempty"`
	Status     models.MatchStatus `json:"status,omitempty"`
	Created    bool               `json:"created"`
}

type MatchResult struct {
	Request      models.BloodRequest `json:"request"`
	Hospital     models.Hospital     `json:"hospital"`
	Candidates   []CandidateMatch    `json:"candidates"`
	NoCandidates bool                `json:"noCandidates"`
	AsOf         time.Time           `json:"asOf"`
}

// NewMatchCount is the number of ledger records this run created.
func (r *MatchResult) NewMatchCount() int {
	n := 0
	for _, c := range r.Candidates {
		if c.Created {
			n++
		}
	}
	return n
}

type BatchFailure struct {
	RequestID string `json:"requestId"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type BatchResult struct {
	ProcessedCount      int            `json:"processedCount"`
	NewMatchCount       int            `json:"newMatchCount"`
	RequestsWithNoMatch []string       `json:"requestsWithNoMatch"`
	Failures            []BatchFailure `json:"failures"`
	Cancelled           bool           `json:"cancelled"`
	AsOf                time.Time      `json:"asOf"`
}

type FulfilResult struct {
	RequestID string   `json:"requestId"`
	Completed []string `json:"completed"`
	Declined  []string `json:"declined"`
}
