package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"donor-matching/internal/common/errors"
	"donor-matching/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const recordColumns = `id, request_id, donor_id, status, distance_km, delivery, created_at, updated_at`

// upsertRereadAttempts bounds the insert/re-read loop when the active record
// for a pair keeps changing underneath us.
const upsertRereadAttempts = 3

// PostgresStore persists records in match_records. Uniqueness of the active
// pair is enforced by the partial index match_records_active_pair.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *PostgresStore) UpsertMatch(ctx context.Context, requestID, donorID string, distanceKm *float64) (models.MatchRecord, bool, error) {
	for attempt := 0; attempt < upsertRereadAttempts; attempt++ {
		now := s.now()
		row := s.db.QueryRowContext(ctx, `
			INSERT INTO match_records (id, request_id, donor_id, status, distance_km, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)
			ON CONFLICT (request_id, donor_id) WHERE status IN ('Pending', 'Notified') DO NOTHING
			RETURNING `+recordColumns,
			uuid.NewString(), requestID, donorID, string(models.MatchPending), nullFloat(distanceKm), now,
		)
		rec, err := scanRecord(row)
		if err == nil {
			return rec, true, nil
		}
		if !stderrors.Is(err, sql.ErrNoRows) {
			return models.MatchRecord{}, false, errors.NewDatabaseQueryFailedError("insert match", err)
		}

		// another writer holds the active slot; return its record
		row = s.db.QueryRowContext(ctx, `
			SELECT `+recordColumns+`
			FROM match_records
			WHERE request_id = $1 AND donor_id = $2 AND status IN ('Pending', 'Notified')`,
			requestID, donorID,
		)
		rec, err = scanRecord(row)
		if err == nil {
			return rec, false, nil
		}
		if !stderrors.Is(err, sql.ErrNoRows) {
			return models.MatchRecord{}, false, errors.NewDatabaseQueryFailedError("reread active match", err)
		}
		// the winner left the active set between statements; insert again
	}
	return models.MatchRecord{}, false, errors.NewMatchConflictError(requestID, donorID)
}

// Transition is a compare-and-set on status: the update only applies when
// the current status has an edge into to.
func (s *PostgresStore) Transition(ctx context.Context, matchID string, to models.MatchStatus) (models.MatchRecord, error) {
	if _, err := uuid.Parse(matchID); err != nil {
		return models.MatchRecord{}, errors.NewMatchNotFoundError(matchID)
	}

	from := predecessors(to)
	if len(from) > 0 {
		row := s.db.QueryRowContext(ctx, `
			UPDATE match_records
			SET status = $1, updated_at = $2
			WHERE id = $3 AND status = ANY($4)
			RETURNING `+recordColumns,
			string(to), s.now(), matchID, pq.Array(from),
		)
		rec, err := scanRecord(row)
		if err == nil {
			return rec, nil
		}
		if !stderrors.Is(err, sql.ErrNoRows) {
			return models.MatchRecord{}, errors.NewDatabaseQueryFailedError("transition match", err)
		}
	}

	current, err := s.Get(ctx, matchID)
	if err != nil {
		return models.MatchRecord{}, err
	}
	return models.MatchRecord{}, errors.NewInvalidTransitionError(matchID, string(current.Status), string(to))
}

func (s *PostgresStore) RecordDelivery(ctx context.Context, matchID string, outcome models.DeliveryOutcome) (models.MatchRecord, error) {
	if _, err := uuid.Parse(matchID); err != nil {
		return models.MatchRecord{}, errors.NewMatchNotFoundError(matchID)
	}

	payload, err := json.Marshal(outcome)
	if err != nil {
		return models.MatchRecord{}, errors.NewValidationError("delivery outcome: " + err.Error())
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE match_records
		SET delivery = $1, updated_at = $2
		WHERE id = $3
		RETURNING `+recordColumns,
		payload, s.now(), matchID,
	)
	rec, err := scanRecord(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return models.MatchRecord{}, errors.NewMatchNotFoundError(matchID)
	}
	if err != nil {
		return models.MatchRecord{}, errors.NewDatabaseQueryFailedError("record delivery", err)
	}
	return rec, nil
}

func (s *PostgresStore) Get(ctx context.Context, matchID string) (models.MatchRecord, error) {
	if _, err := uuid.Parse(matchID); err != nil {
		return models.MatchRecord{}, errors.NewMatchNotFoundError(matchID)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM match_records WHERE id = $1`, matchID)
	rec, err := scanRecord(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return models.MatchRecord{}, errors.NewMatchNotFoundError(matchID)
	}
	if err != nil {
		return models.MatchRecord{}, errors.NewDatabaseQueryFailedError("get match", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListByRequest(ctx context.Context, requestID string) ([]models.MatchRecord, error) {
	return s.list(ctx, "list matches by request",
		`SELECT `+recordColumns+` FROM match_records WHERE request_id = $1 ORDER BY created_at, id`, requestID)
}

func (s *PostgresStore) ListByDonor(ctx context.Context, donorID string) ([]models.MatchRecord, error) {
	return s.list(ctx, "list matches by donor",
		`SELECT `+recordColumns+` FROM match_records WHERE donor_id = $1 ORDER BY created_at, id`, donorID)
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]models.MatchRecord, error) {
	return s.list(ctx, "list matches",
		`SELECT `+recordColumns+` FROM match_records ORDER BY created_at, id`)
}

func (s *PostgresStore) Delete(ctx context.Context, matchID string) error {
	if _, err := uuid.Parse(matchID); err != nil {
		return errors.NewMatchNotFoundError(matchID)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM match_records WHERE id = $1`, matchID)
	if err != nil {
		return errors.NewDatabaseQueryFailedError("delete match", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.NewDatabaseQueryFailedError("delete match", err)
	}
	if n == 0 {
		return errors.NewMatchNotFoundError(matchID)
	}
	return nil
}

func (s *PostgresStore) list(ctx context.Context, op, query string, args ...interface{}) ([]models.MatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewDatabaseQueryFailedError(op, err)
	}
	defer rows.Close()

	out := make([]models.MatchRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.NewDatabaseQueryFailedError(op, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseQueryFailedError(op, err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (models.MatchRecord, error) {
	var (
		rec      models.MatchRecord
		status   string
		distance sql.NullFloat64
		delivery []byte
	)
	if err := row.Scan(&rec.ID, &rec.RequestID, &rec.DonorID, &status, &distance, &delivery, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return models.MatchRecord{}, err
	}

	rec.Status = models.MatchStatus(status)
	if distance.Valid {
		d := distance.Float64
		rec.DistanceKm = &d
	}
	if len(delivery) > 0 {
		var out models.DeliveryOutcome
		if err := json.Unmarshal(delivery, &out); err != nil {
			return models.MatchRecord{}, err
		}
		rec.Delivery = &out
	}
	return rec, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
