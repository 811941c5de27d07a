package ledger

import (
	"context"
	"database/sql"
	stderrors "errors"
	"testing"
	"time"

	"donor-matching/internal/common/errors"
	"donor-matching/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columns = []string{"id", "request_id", "donor_id", "status", "distance_km", "delivery", "created_at", "updated_at"}

const matchID = "3f0c6c5e-8f6e-4d5c-9a51-6b7f2a1f0a11"

func setupMockDB(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	store := NewPostgresStore(db)
	fixed := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	return store, mock, func() { db.Close() }
}

func recordRow(status string) *sqlmock.Rows {
	ts := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(columns).AddRow(matchID, "r1", "d1", status, 3.5, nil, ts, ts)
}

func TestPostgresStore_UpsertCreates(t *testing.T) {
	store, mock, done := setupMockDB(t)
	defer done()

	mock.ExpectQuery(`INSERT INTO match_records`).
		WithArgs(sqlmock.AnyArg(), "r1", "d1", "Pending", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(recordRow("Pending"))

	d := 3.5
	rec, created, err := store.UpsertMatch(context.Background(), "r1", "d1", &d)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, matchID, rec.ID)
	require.NotNil(t, rec.DistanceKm)
	assert.Equal(t, 3.5, *rec.DistanceKm)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertConflictRereadsWinner(t *testing.T) {
	store, mock, done := setupMockDB(t)
	defer done()

	mock.ExpectQuery(`INSERT INTO match_records`).
		WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectQuery(`SELECT (.+) FROM match_records WHERE request_id = \$1 AND donor_id = \$2`).
		WithArgs("r1", "d1").
		WillReturnRows(recordRow("Notified"))

	rec, created, err := store.UpsertMatch(context.Background(), "r1", "d1", nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, matchID, rec.ID)
	assert.Equal(t, models.MatchNotified, rec.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertRetriesWhenWinnerVanishes(t *testing.T) {
	store, mock, done := setupMockDB(t)
	defer done()

	mock.ExpectQuery(`INSERT INTO match_records`).WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectQuery(`SELECT (.+) FROM match_records WHERE request_id`).WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectQuery(`INSERT INTO match_records`).WillReturnRows(recordRow("Pending"))

	rec, created, err := store.UpsertMatch(context.Background(), "r1", "d1", nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, matchID, rec.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertGivesUpWithConflict(t *testing.T) {
	store, mock, done := setupMockDB(t)
	defer done()

	for i := 0; i < upsertRereadAttempts; i++ {
		mock.ExpectQuery(`INSERT INTO match_records`).WillReturnRows(sqlmock.NewRows(columns))
		mock.ExpectQuery(`SELECT (.+) FROM match_records WHERE request_id`).WillReturnRows(sqlmock.NewRows(columns))
	}

	_, _, err := store.UpsertMatch(context.Background(), "r1", "d1", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMatchConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertDatabaseError(t *testing.T) {
	store, mock, done := setupMockDB(t)
	defer done()

	mock.ExpectQuery(`INSERT INTO match_records`).WillReturnError(stderrors.New("connection reset"))

	_, _, err := store.UpsertMatch(context.Background(), "r1", "d1", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDatabase))
	assert.True(t, errors.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Transition(t *testing.T) {
	tests := []struct {
		name     string
		to       models.MatchStatus
		setup    func(mock sqlmock.Sqlmock)
		wantErr  error
		expected models.MatchStatus
	}{
		{
			name: "valid edge",
			to:   models.MatchNotified,
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`UPDATE match_records\s+SET status`).
					WithArgs("Notified", sqlmock.AnyArg(), matchID, sqlmock.AnyArg()).
					WillReturnRows(recordRow("Notified"))
			},
			expected: models.MatchNotified,
		},
		{
			name: "edge rejected by current status",
			to:   models.MatchAccepted,
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`UPDATE match_records\s+SET status`).WillReturnRows(sqlmock.NewRows(columns))
				mock.ExpectQuery(`SELECT (.+) FROM match_records WHERE id = \$1`).
					WithArgs(matchID).
					WillReturnRows(recordRow("Pending"))
			},
			wantErr: errors.ErrInvalidTransition,
		},
		{
			name: "no edge into pending",
			to:   models.MatchPending,
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT (.+) FROM match_records WHERE id = \$1`).
					WillReturnRows(recordRow("Notified"))
			},
			wantErr: errors.ErrInvalidTransition,
		},
		{
			name: "unknown id",
			to:   models.MatchDeclined,
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`UPDATE match_records\s+SET status`).WillReturnRows(sqlmock.NewRows(columns))
				mock.ExpectQuery(`SELECT (.+) FROM match_records WHERE id = \$1`).WillReturnError(sql.ErrNoRows)
			},
			wantErr: errors.ErrMatchNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock, done := setupMockDB(t)
			defer done()
			tt.setup(mock)

			rec, err := store.Transition(context.Background(), matchID, tt.to)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), err.Error())
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, rec.Status)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_NonUUIDIsNotFound(t *testing.T) {
	store, mock, done := setupMockDB(t)
	defer done()

	_, err := store.Get(context.Background(), "not-a-uuid")
	assert.True(t, errors.Is(err, errors.ErrMatchNotFound))
	_, err = store.Transition(context.Background(), "not-a-uuid", models.MatchNotified)
	assert.True(t, errors.Is(err, errors.ErrMatchNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordDelivery(t *testing.T) {
	store, mock, done := setupMockDB(t)
	defer done()

	ts := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	delivery := []byte(`{"channel":"email","status":"sent","messageId":"m-1","attemptedAt":"2024-06-01T10:00:00Z"}`)
	mock.ExpectQuery(`UPDATE match_records\s+SET delivery`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), matchID).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(matchID, "r1", "d1", "Pending", nil, delivery, ts, ts))

	rec, err := store.RecordDelivery(context.Background(), matchID, models.DeliveryOutcome{
		Channel: "email", Status: models.DeliverySent, MessageID: "m-1", AttemptedAt: ts,
	})
	require.NoError(t, err)
	require.NotNil(t, rec.Delivery)
	assert.Equal(t, "m-1", rec.Delivery.MessageID)
	assert.Nil(t, rec.DistanceKm)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListAndDelete(t *testing.T) {
	store, mock, done := setupMockDB(t)
	defer done()

	ts := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT (.+) FROM match_records WHERE request_id = \$1 ORDER BY`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(matchID, "r1", "d1", "Pending", 1.0, nil, ts, ts).
			AddRow("5d2f0c6c-8f6e-4d5c-9a51-6b7f2a1f0a22", "r1", "d2", "Declined", nil, nil, ts, ts))
	mock.ExpectExec(`DELETE FROM match_records`).WithArgs(matchID).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM match_records`).WithArgs(matchID).WillReturnResult(sqlmock.NewResult(0, 0))

	recs, err := store.ListByRequest(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, models.MatchDeclined, recs[1].Status)

	require.NoError(t, store.Delete(context.Background(), matchID))
	err = store.Delete(context.Background(), matchID)
	assert.True(t, errors.Is(err, errors.ErrMatchNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPredecessors(t *testing.T) {
	assert.Equal(t, []string{"Pending"}, predecessors(models.MatchNotified))
	assert.Equal(t, []string{"Notified", "Pending"}, predecessors(models.MatchDeclined))
	assert.Equal(t, []string{"Accepted"}, predecessors(models.MatchCompleted))
	assert.Empty(t, predecessors(models.MatchPending))
}
