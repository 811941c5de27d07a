package ledger

import (
	"context"
	"sync"
	"testing"

	"donor-matching/internal/common/errors"
	"donor-matching/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	d := 4.2

	first, created, err := s.UpsertMatch(ctx, "r1", "d1", &d)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.MatchPending, first.Status)
	require.NotNil(t, first.DistanceKm)
	assert.Equal(t, 4.2, *first.DistanceKm)

	second, created, err := s.UpsertMatch(ctx, "r1", "d1", nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemoryStore_ConcurrentUpsertCreatesOne(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	const n = 64
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[string]int{}
		created int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, c, err := s.UpsertMatch(ctx, "r1", "d1", nil)
			assert.NoError(t, err)
			mu.Lock()
			ids[rec.ID]++
			if c {
				created++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)
	for _, count := range ids {
		assert.Equal(t, n, count)
	}
}

func TestMemoryStore_NewRecordAfterTerminal(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first, _, err := s.UpsertMatch(ctx, "r1", "d1", nil)
	require.NoError(t, err)
	_, err = s.Transition(ctx, first.ID, models.MatchDeclined)
	require.NoError(t, err)

	second, created, err := s.UpsertMatch(ctx, "r1", "d1", nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)

	byReq, err := s.ListByRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, byReq, 2)
}

func TestMemoryStore_StateMachine(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec, _, err := s.UpsertMatch(ctx, "r1", "d1", nil)
	require.NoError(t, err)

	for _, next := range []models.MatchStatus{models.MatchNotified, models.MatchAccepted, models.MatchCompleted} {
		rec, err = s.Transition(ctx, rec.ID, next)
		require.NoError(t, err)
		assert.Equal(t, next, rec.Status)
	}

	for _, target := range []models.MatchStatus{models.MatchPending, models.MatchNotified, models.MatchAccepted, models.MatchDeclined} {
		_, err := s.Transition(ctx, rec.ID, target)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInvalidTransition), target)
	}

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchCompleted, got.Status)
}

func TestMemoryStore_DeclinedIsTerminal(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec, _, _ := s.UpsertMatch(ctx, "r1", "d1", nil)

	_, err := s.Transition(ctx, rec.ID, models.MatchDeclined)
	require.NoError(t, err)

	for _, target := range []models.MatchStatus{models.MatchPending, models.MatchNotified, models.MatchAccepted, models.MatchCompleted} {
		_, err := s.Transition(ctx, rec.ID, target)
		assert.True(t, errors.Is(err, errors.ErrInvalidTransition), target)
	}
}

func TestMemoryStore_InvalidEdgesFromPending(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec, _, _ := s.UpsertMatch(ctx, "r1", "d1", nil)

	_, err := s.Transition(ctx, rec.ID, models.MatchAccepted)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))
	_, err = s.Transition(ctx, rec.ID, models.MatchCompleted)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))

	got, _ := s.Get(ctx, rec.ID)
	assert.Equal(t, models.MatchPending, got.Status)
}

func TestMemoryStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Transition(ctx, "missing", models.MatchNotified)
	assert.True(t, errors.Is(err, errors.ErrMatchNotFound))
	_, err = s.Get(ctx, "missing")
	assert.True(t, errors.Is(err, errors.ErrMatchNotFound))
	_, err = s.RecordDelivery(ctx, "missing", models.DeliveryOutcome{})
	assert.True(t, errors.Is(err, errors.ErrMatchNotFound))
	assert.True(t, errors.Is(s.Delete(ctx, "missing"), errors.ErrMatchNotFound))
}

func TestMemoryStore_RecordDeliveryAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec, _, _ := s.UpsertMatch(ctx, "r1", "d1", nil)

	updated, err := s.RecordDelivery(ctx, rec.ID, models.DeliveryOutcome{Channel: "email", Status: models.DeliverySent, MessageID: "m-1"})
	require.NoError(t, err)
	require.NotNil(t, updated.Delivery)
	assert.Equal(t, "m-1", updated.Delivery.MessageID)
	assert.Equal(t, models.MatchPending, updated.Status)

	require.NoError(t, s.Delete(ctx, rec.ID))
	_, err = s.Get(ctx, rec.ID)
	assert.True(t, errors.Is(err, errors.ErrMatchNotFound))

	// the pair slot is free again
	_, created, err := s.UpsertMatch(ctx, "r1", "d1", nil)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestMemoryStore_ListsAreFiltered(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _, _ = s.UpsertMatch(ctx, "r1", "d1", nil)
	_, _, _ = s.UpsertMatch(ctx, "r1", "d2", nil)
	_, _, _ = s.UpsertMatch(ctx, "r2", "d1", nil)

	byReq, _ := s.ListByRequest(ctx, "r1")
	assert.Len(t, byReq, 2)
	byDonor, _ := s.ListByDonor(ctx, "d1")
	assert.Len(t, byDonor, 2)
	none, _ := s.ListByDonor(ctx, "nobody")
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestMemoryStore_ReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	d := 1.0
	rec, _, _ := s.UpsertMatch(ctx, "r1", "d1", &d)
	*rec.DistanceKm = 99

	got, _ := s.Get(ctx, rec.ID)
	assert.Equal(t, 1.0, *got.DistanceKm)
}
