package ledger

import (
	"context"
	"sync"
	"time"

	"donor-matching/internal/common/errors"
	"donor-matching/internal/models"

	"github.com/google/uuid"
)

type pairKey struct {
	requestID string
	donorID   string
}

// MemoryStore keeps records in process. The check for an active record and
// the insert happen under one lock.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.MatchRecord
	active  map[pairKey]string
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]models.MatchRecord),
		active:  make(map[pairKey]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) UpsertMatch(ctx context.Context, requestID, donorID string, distanceKm *float64) (models.MatchRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.MatchRecord{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{requestID, donorID}
	if id, ok := s.active[key]; ok {
		return clone(s.records[id]), false, nil
	}

	now := s.now()
	rec := models.MatchRecord{
		ID:         uuid.NewString(),
		RequestID:  requestID,
		DonorID:    donorID,
		Status:     models.MatchPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		DistanceKm: copyFloat(distanceKm),
	}
	s.records[rec.ID] = rec
	s.active[key] = rec.ID
	return clone(rec), true, nil
}

func (s *MemoryStore) Transition(ctx context.Context, matchID string, to models.MatchStatus) (models.MatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[matchID]
	if !ok {
		return models.MatchRecord{}, errors.NewMatchNotFoundError(matchID)
	}
	if !models.CanTransition(rec.Status, to) {
		return models.MatchRecord{}, errors.NewInvalidTransitionError(matchID, string(rec.Status), string(to))
	}

	rec.Status = to
	rec.UpdatedAt = s.now()
	s.records[matchID] = rec
	if !to.IsActive() {
		delete(s.active, pairKey{rec.RequestID, rec.DonorID})
	}
	return clone(rec), nil
}

func (s *MemoryStore) RecordDelivery(ctx context.Context, matchID string, outcome models.DeliveryOutcome) (models.MatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[matchID]
	if !ok {
		return models.MatchRecord{}, errors.NewMatchNotFoundError(matchID)
	}
	o := outcome
	rec.Delivery = &o
	rec.UpdatedAt = s.now()
	s.records[matchID] = rec
	return clone(rec), nil
}

func (s *MemoryStore) Get(ctx context.Context, matchID string) (models.MatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[matchID]
	if !ok {
		return models.MatchRecord{}, errors.NewMatchNotFoundError(matchID)
	}
	return clone(rec), nil
}

func (s *MemoryStore) ListByRequest(ctx context.Context, requestID string) ([]models.MatchRecord, error) {
	return s.list(func(r models.MatchRecord) bool { return r.RequestID == requestID }), nil
}

func (s *MemoryStore) ListByDonor(ctx context.Context, donorID string) ([]models.MatchRecord, error) {
	return s.list(func(r models.MatchRecord) bool { return r.DonorID == donorID }), nil
}

func (s *MemoryStore) ListAll(ctx context.Context) ([]models.MatchRecord, error) {
	return s.list(func(models.MatchRecord) bool { return true }), nil
}

func (s *MemoryStore) Delete(ctx context.Context, matchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[matchID]
	if !ok {
		return errors.NewMatchNotFoundError(matchID)
	}
	delete(s.records, matchID)
	key := pairKey{rec.RequestID, rec.DonorID}
	if s.active[key] == matchID {
		delete(s.active, key)
	}
	return nil
}

func (s *MemoryStore) list(keep func(models.MatchRecord) bool) []models.MatchRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.MatchRecord, 0)
	for _, r := range s.records {
		if keep(r) {
			out = append(out, clone(r))
		}
	}
	sortRecords(out)
	return out
}

// clone detaches pointer fields so callers cannot mutate stored state.
func clone(r models.MatchRecord) models.MatchRecord {
	r.DistanceKm = copyFloat(r.DistanceKm)
	if r.Delivery != nil {
		d := *r.Delivery
		r.Delivery = &d
	}
	return r
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
