// Package ledger owns match records and their status transitions. It
// guarantees at most one active (Pending or Notified) record per
// request/donor pair.
package ledger

import (
	"context"
	"sort"

	"donor-matching/internal/models"
)

// Store is implemented by MemoryStore and PostgresStore.
type Store interface {
	// UpsertMatch returns the active record for the pair, or creates a
	// Pending one. created reports which happened.
	UpsertMatch(ctx context.Context, requestID, donorID string, distanceKm *float64) (rec models.MatchRecord, created bool, err error)
	// Transition moves a record along one lifecycle edge. On error the
	// record is unchanged.
	Transition(ctx context.Context, matchID string, to models.MatchStatus) (models.MatchRecord, error)
	RecordDelivery(ctx context.Context, matchID string, outcome models.DeliveryOutcome) (models.MatchRecord, error)
	Get(ctx context.Context, matchID string) (models.MatchRecord, error)
	ListByRequest(ctx context.Context, requestID string) ([]models.MatchRecord, error)
	ListByDonor(ctx context.Context, donorID string) ([]models.MatchRecord, error)
	ListAll(ctx context.Context) ([]models.MatchRecord, error)
	Delete(ctx context.Context, matchID string) error
}

// predecessors returns every status with an edge into to.
func predecessors(to models.MatchStatus) []string {
	var out []string
	for from, nexts := range models.AllowedTransitions {
		for _, n := range nexts {
			if n == to {
				out = append(out, string(from))
			}
		}
	}
	sort.Strings(out)
	return out
}

// sortRecords orders by creation time, then id.
func sortRecords(recs []models.MatchRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}
