package dispatcher

import (
	"context"
	"sort"
	"testing"
	"time"

	"donor-matching/internal/common/errors"
	"donor-matching/internal/common/logger"
	"donor-matching/internal/matching/ledger"
	"donor-matching/internal/models"
	"donor-matching/internal/notification/channel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Implementations
// ==========================

type MockRepository struct {
	donors    map[string]models.Donor
	requests  map[string]models.BloodRequest
	hospitals map[string]models.Hospital

	GetDonorFunc         func(ctx context.Context, id string) (models.Donor, error)
	ListOpenRequestsFunc func(ctx context.Context) ([]models.BloodRequest, error)
}

func newMockRepository() *MockRepository {
	return &MockRepository{
		donors: map[string]models.Donor{
			"d1": {ID: "d1", Name: "Ann", BloodType: models.BloodTypeONeg, Contact: models.Contact{Email: "ann@example.com"}},
			"d2": {ID: "d2", Name: "Bo", BloodType: models.BloodTypeONeg},
		},
		requests: map[string]models.BloodRequest{},
		hospitals: map[string]models.Hospital{
			"h1": {ID: "h1", Name: "St Mary", Location: models.Location{City: "Leeds"}, ContactEmail: "ops@stmary.example"},
		},
	}
}

func (m *MockRepository) addRequest(id string, u models.Urgency) {
	m.requests[id] = models.BloodRequest{
		ID: id, BloodType: models.BloodTypeONeg, HospitalID: "h1", UnitsNeeded: 2,
		Urgency: u, Status: models.RequestOpen,
		CreatedAt: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
	}
}

func (m *MockRepository) GetDonor(ctx context.Context, id string) (models.Donor, error) {
	if m.GetDonorFunc != nil {
		return m.GetDonorFunc(ctx, id)
	}
	if d, ok := m.donors[id]; ok {
		return d, nil
	}
	return models.Donor{}, errors.NewNotFoundError("donor", id)
}

func (m *MockRepository) GetRequest(ctx context.Context, id string) (models.BloodRequest, error) {
	if r, ok := m.requests[id]; ok {
		return r, nil
	}
	return models.BloodRequest{}, errors.NewNotFoundError("request", id)
}

func (m *MockRepository) GetHospital(ctx context.Context, id string) (models.Hospital, error) {
	if h, ok := m.hospitals[id]; ok {
		return h, nil
	}
	return models.Hospital{}, errors.NewNotFoundError("hospital", id)
}

func (m *MockRepository) ListOpenRequests(ctx context.Context) ([]models.BloodRequest, error) {
	if m.ListOpenRequestsFunc != nil {
		return m.ListOpenRequestsFunc(ctx)
	}
	var out []models.BloodRequest
	for _, r := range m.requests {
		if r.Status == models.RequestOpen {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type MockChannel struct {
	SendFunc func(ctx context.Context, msg models.Message) (channel.Receipt, error)
	sent     []models.Message
}

func (m *MockChannel) Send(ctx context.Context, msg models.Message) (channel.Receipt, error) {
	m.sent = append(m.sent, msg)
	if m.SendFunc != nil {
		return m.SendFunc(ctx, msg)
	}
	return channel.Receipt{Channel: "email", MessageID: "msg-1"}, nil
}

type recordingPublisher struct {
	events []models.MatchEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, ev models.MatchEvent) error {
	p.events = append(p.events, ev)
	return nil
}

func setup(t *testing.T, opts Options) (*Dispatcher, *MockRepository, *ledger.MemoryStore, *MockChannel, *recordingPublisher) {
	repo := newMockRepository()
	store := ledger.NewMemoryStore()
	ch := &MockChannel{}
	pub := &recordingPublisher{}
	d := New(store, repo, ch, pub, logger.NewTestLogger(t), opts)
	return d, repo, store, ch, pub
}

// ==========================
// NotifyDonor
// ==========================

func TestNotifyDonor_SuccessMovesToNotified(t *testing.T) {
	d, repo, store, ch, pub := setup(t, Options{Timeout: time.Second})
	repo.addRequest("r1", models.UrgencyHigh)
	ctx := context.Background()

	dist := 4.3
	rec, _, err := store.UpsertMatch(ctx, "r1", "d1", &dist)
	require.NoError(t, err)

	outcome, err := d.NotifyDonor(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliverySent, outcome.Status)
	assert.Equal(t, "msg-1", outcome.MessageID)

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchNotified, got.Status)
	require.NotNil(t, got.Delivery)
	assert.Equal(t, models.DeliverySent, got.Delivery.Status)

	require.Len(t, ch.sent, 1)
	assert.Equal(t, "ann@example.com", ch.sent[0].Recipient.Email)
	assert.Contains(t, ch.sent[0].Body, "St Mary")
	assert.Contains(t, ch.sent[0].Body, "4.3 km")
	assert.NotContains(t, ch.sent[0].Body, "{{")

	require.Len(t, pub.events, 1)
	assert.Equal(t, models.EventNotificationSent, pub.events[0].Type)
}

func TestNotifyDonor_ResendKeepsNotified(t *testing.T) {
	d, repo, store, ch, _ := setup(t, Options{})
	repo.addRequest("r1", models.UrgencyNormal)
	ctx := context.Background()

	rec, _, _ := store.UpsertMatch(ctx, "r1", "d1", nil)
	_, err := d.NotifyDonor(ctx, rec.ID)
	require.NoError(t, err)
	_, err = d.NotifyDonor(ctx, rec.ID)
	require.NoError(t, err)

	got, _ := store.Get(ctx, rec.ID)
	assert.Equal(t, models.MatchNotified, got.Status)
	assert.Len(t, ch.sent, 2)
}

func TestNotifyDonor_TransportFailureStaysPending(t *testing.T) {
	d, repo, store, ch, pub := setup(t, Options{})
	repo.addRequest("r1", models.UrgencyNormal)
	ch.SendFunc = func(ctx context.Context, msg models.Message) (channel.Receipt, error) {
		return channel.Receipt{}, assert.AnError
	}
	ctx := context.Background()

	rec, _, _ := store.UpsertMatch(ctx, "r1", "d1", nil)
	outcome, err := d.NotifyDonor(ctx, rec.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTransport)
	assert.True(t, errors.IsRetryable(err))
	assert.Equal(t, rec.ID, errors.Normalize(err).Metadata["subjectId"])
	assert.Equal(t, models.DeliveryFailed, outcome.Status)

	got, _ := store.Get(ctx, rec.ID)
	assert.Equal(t, models.MatchPending, got.Status)
	require.NotNil(t, got.Delivery)
	assert.Equal(t, models.DeliveryFailed, got.Delivery.Status)
	assert.Len(t, ch.sent, 1, "no internal retries")
	assert.Empty(t, pub.events)
}

func TestNotifyDonor_UnreachableIsNotRetryable(t *testing.T) {
	d, repo, store, ch, _ := setup(t, Options{})
	repo.addRequest("r1", models.UrgencyNormal)
	ch.SendFunc = func(ctx context.Context, msg models.Message) (channel.Receipt, error) {
		return channel.Receipt{}, channel.ErrUnreachable
	}
	ctx := context.Background()

	rec, _, _ := store.UpsertMatch(ctx, "r1", "d2", nil)
	outcome, err := d.NotifyDonor(ctx, rec.ID)
	assert.ErrorIs(t, err, errors.ErrValidation)
	assert.False(t, errors.IsRetryable(err))
	assert.Equal(t, models.DeliverySkipped, outcome.Status)
}

func TestNotifyDonor_Errors(t *testing.T) {
	d, repo, store, _, _ := setup(t, Options{})
	repo.addRequest("r1", models.UrgencyNormal)
	ctx := context.Background()

	_, err := d.NotifyDonor(ctx, "missing")
	assert.ErrorIs(t, err, errors.ErrMatchNotFound)

	rec, _, _ := store.UpsertMatch(ctx, "r1", "d1", nil)
	_, err = store.Transition(ctx, rec.ID, models.MatchDeclined)
	require.NoError(t, err)
	_, err = d.NotifyDonor(ctx, rec.ID)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
}

// ==========================
// Hospital notices
// ==========================

func TestNotifyNoMatch(t *testing.T) {
	d, repo, _, ch, _ := setup(t, Options{})
	repo.addRequest("r1", models.UrgencyLow)

	outcome, err := d.NotifyNoMatch(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, models.DeliverySent, outcome.Status)
	require.Len(t, ch.sent, 1)
	assert.Equal(t, models.NotifyNoMatch, ch.sent[0].Kind)
	assert.Equal(t, "ops@stmary.example", ch.sent[0].Recipient.Email)

	_, err = d.NotifyNoMatch(context.Background(), "nope")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestNotifyRequest_ItemizesFailures(t *testing.T) {
	d, repo, store, ch, _ := setup(t, Options{})
	repo.addRequest("r1", models.UrgencyHigh)
	ch.SendFunc = func(ctx context.Context, msg models.Message) (channel.Receipt, error) {
		if msg.Recipient.ID == "d2" {
			return channel.Receipt{}, assert.AnError
		}
		return channel.Receipt{Channel: "email", MessageID: "ok"}, nil
	}
	ctx := context.Background()

	r1, _, _ := store.UpsertMatch(ctx, "r1", "d1", nil)
	r2, _, _ := store.UpsertMatch(ctx, "r1", "d2", nil)

	res, err := d.NotifyRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{r1.ID}, res.Notified)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, r2.ID, res.Failures[0].ID)
	assert.True(t, res.Failures[0].Retryable)
}

func TestNotifyUnmatchedSweep(t *testing.T) {
	d, repo, store, ch, _ := setup(t, Options{})
	ctx := context.Background()
	repo.addRequest("r1", models.UrgencyNormal)   // has an active match
	repo.addRequest("r2", models.UrgencyLow)      // unmatched
	repo.addRequest("r3", models.UrgencyCritical) // unmatched, escalated
	repo.addRequest("r4", models.UrgencyNormal)   // only a declined match

	_, _, _ = store.UpsertMatch(ctx, "r1", "d1", nil)
	declined, _, _ := store.UpsertMatch(ctx, "r4", "d1", nil)
	_, err := store.Transition(ctx, declined.ID, models.MatchDeclined)
	require.NoError(t, err)

	res, err := d.NotifyUnmatchedSweep(ctx, time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Checked)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []string{"r2", "r3", "r4"}, res.Notified)
	assert.Equal(t, []string{"r3"}, res.Escalated)
	assert.Empty(t, res.Failures)
	assert.Len(t, ch.sent, 4)
}

func TestNotifyUnmatchedSweep_SkipsRequestsAfterAsOf(t *testing.T) {
	d, repo, _, ch, _ := setup(t, Options{})
	repo.addRequest("r1", models.UrgencyNormal)

	res, err := d.NotifyUnmatchedSweep(context.Background(), time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, res.Checked)
	assert.Empty(t, ch.sent)
}

func TestNotifyUnmatchedSweep_Cancelled(t *testing.T) {
	d, repo, _, ch, _ := setup(t, Options{})
	repo.addRequest("r1", models.UrgencyNormal)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := d.NotifyUnmatchedSweep(ctx, time.Now())
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Empty(t, ch.sent)
}

// ==========================
// Lookup timeouts
// ==========================

func TestNotifyDonor_HungDonorLookupTimesOut(t *testing.T) {
	d, repo, store, ch, _ := setup(t, Options{Timeout: 50 * time.Millisecond})
	repo.addRequest("r1", models.UrgencyHigh)
	repo.GetDonorFunc = func(ctx context.Context, id string) (models.Donor, error) {
		<-ctx.Done()
		return models.Donor{}, ctx.Err()
	}
	rec, _, err := store.UpsertMatch(context.Background(), "r1", "d1", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	_, err = d.NotifyDonor(ctx, rec.ID)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, errors.Is(err, errors.ErrLookupTimeout))
	assert.True(t, errors.IsRetryable(err))
	assert.Empty(t, ch.sent)

	got, _ := store.Get(context.Background(), rec.ID)
	assert.Equal(t, models.MatchPending, got.Status)
}

func TestNotifyUnmatchedSweep_HungRequestListTimesOut(t *testing.T) {
	d, repo, _, _, _ := setup(t, Options{Timeout: time.Second, LookupTimeout: 30 * time.Millisecond})
	repo.ListOpenRequestsFunc = func(ctx context.Context) ([]models.BloodRequest, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	res, err := d.NotifyUnmatchedSweep(context.Background(), time.Now())
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, errors.ErrLookupTimeout))
}

// ==========================
// Events
// ==========================

func TestHandleEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		d, repo, store, ch, _ := setup(t, Options{AutoNotify: false})
		repo.addRequest("r1", models.UrgencyNormal)
		rec, _, _ := store.UpsertMatch(ctx, "r1", "d1", nil)

		require.NoError(t, d.HandleEvent(ctx, models.MatchEvent{Type: models.EventMatchCreated, MatchID: rec.ID}))
		assert.Empty(t, ch.sent)
	})

	t.Run("match created", func(t *testing.T) {
		d, repo, store, ch, _ := setup(t, Options{AutoNotify: true})
		repo.addRequest("r1", models.UrgencyNormal)
		rec, _, _ := store.UpsertMatch(ctx, "r1", "d1", nil)

		require.NoError(t, d.HandleEvent(ctx, models.MatchEvent{Type: models.EventMatchCreated, RequestID: "r1", MatchID: rec.ID}))
		assert.Len(t, ch.sent, 1)
		got, _ := store.Get(ctx, rec.ID)
		assert.Equal(t, models.MatchNotified, got.Status)
	})

	t.Run("no match and ignored types", func(t *testing.T) {
		d, repo, _, ch, _ := setup(t, Options{AutoNotify: true})
		repo.addRequest("r1", models.UrgencyNormal)

		require.NoError(t, d.HandleEvent(ctx, models.MatchEvent{Type: models.EventNoMatchFound, RequestID: "r1"}))
		require.NoError(t, d.HandleEvent(ctx, models.MatchEvent{Type: models.EventNotificationSent, RequestID: "r1"}))
		assert.Len(t, ch.sent, 1)
	})
}

func TestRenderTemplate_DropsUnknownPlaceholders(t *testing.T) {
	out := renderTemplate("a {{x}} b {{missing}} c {{n}}", map[string]interface{}{"x": "X", "n": 3})
	assert.Equal(t, "a X b  c 3", out)
}

func TestRenderTemplate_ValuesAreNotRescanned(t *testing.T) {
	data := map[string]interface{}{
		"donorName":    "{{hospitalName}} Ann",
		"hospitalName": "St {{x}} Mary",
	}
	for i := 0; i < 20; i++ {
		out := renderTemplate("{{donorName}} / {{hospitalName}}", data)
		assert.Equal(t, "{{hospitalName}} Ann / St {{x}} Mary", out)
	}
	assert.Equal(t, "open {{ end", renderTemplate("open {{ end", nil))
}

func TestRecipient_DropsMalformedContacts(t *testing.T) {
	r := recipient("d1", "Ann", "not-an-email", "+44 7700 900001")
	assert.Empty(t, r.Email)
	assert.Equal(t, "+44 7700 900001", r.Phone)
}
