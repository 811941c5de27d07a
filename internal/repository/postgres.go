// Package repository reads donors, hospitals and blood requests owned by
// the registry, and moves requests along their lifecycle.
package repository

import (
	"context"
	"database/sql"
	stderrors "errors"

	"donor-matching/internal/common/errors"
	"donor-matching/internal/models"

	"github.com/lib/pq"
)

const (
	donorColumns    = `id, name, blood_type, available, city, latitude, longitude, email, phone, last_donation`
	hospitalColumns = `id, name, city, latitude, longitude, contact_email, contact_phone`
	requestColumns  = `id, patient_name, blood_type, hospital_id, units_needed, urgency, status, created_at`
)

// PostgresRepository reads the registry tables donors, hospitals and
// blood_requests.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetDonor(ctx context.Context, id string) (models.Donor, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+donorColumns+` FROM donors WHERE id = $1`, id)
	d, err := scanDonor(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return models.Donor{}, errors.NewNotFoundError("donor", id)
	}
	if err != nil {
		return models.Donor{}, errors.NewDatabaseQueryFailedError("get donor", err)
	}
	return d, nil
}

// ListAvailableDonors returns donors flagged available, narrowed to the
// given blood types when any are passed.
func (r *PostgresRepository) ListAvailableDonors(ctx context.Context, types ...models.BloodType) ([]models.Donor, error) {
	query := `SELECT ` + donorColumns + ` FROM donors WHERE available = TRUE`
	var args []interface{}
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		query += ` AND blood_type = ANY($1)`
		args = append(args, pq.Array(names))
	}
	query += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewDatabaseQueryFailedError("list available donors", err)
	}
	defer rows.Close()

	out := make([]models.Donor, 0)
	for rows.Next() {
		d, err := scanDonor(rows)
		if err != nil {
			return nil, errors.NewDatabaseQueryFailedError("list available donors", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseQueryFailedError("list available donors", err)
	}
	return out, nil
}

func (r *PostgresRepository) GetHospital(ctx context.Context, id string) (models.Hospital, error) {
	var (
		h        models.Hospital
		lat, lon sql.NullFloat64
		email    sql.NullString
		phone    sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `SELECT `+hospitalColumns+` FROM hospitals WHERE id = $1`, id).
		Scan(&h.ID, &h.Name, &h.Location.City, &lat, &lon, &email, &phone)
	if stderrors.Is(err, sql.ErrNoRows) {
		return models.Hospital{}, errors.NewNotFoundError("hospital", id)
	}
	if err != nil {
		return models.Hospital{}, errors.NewDatabaseQueryFailedError("get hospital", err)
	}
	h.Location.Coordinates = coord(lat, lon)
	h.ContactEmail = email.String
	h.ContactPhone = phone.String
	return h, nil
}

func (r *PostgresRepository) GetRequest(ctx context.Context, id string) (models.BloodRequest, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM blood_requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return models.BloodRequest{}, errors.NewNotFoundError("request", id)
	}
	if err != nil {
		return models.BloodRequest{}, errors.NewDatabaseQueryFailedError("get request", err)
	}
	return req, nil
}

// ListOpenRequests returns Open requests, oldest first.
func (r *PostgresRepository) ListOpenRequests(ctx context.Context) ([]models.BloodRequest, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM blood_requests WHERE status = $1 ORDER BY created_at, id`,
		string(models.RequestOpen))
	if err != nil {
		return nil, errors.NewDatabaseQueryFailedError("list open requests", err)
	}
	defer rows.Close()

	out := make([]models.BloodRequest, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, errors.NewDatabaseQueryFailedError("list open requests", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseQueryFailedError("list open requests", err)
	}
	return out, nil
}

func (r *PostgresRepository) UpdateRequestStatus(ctx context.Context, id string, status models.RequestStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE blood_requests SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return errors.NewDatabaseQueryFailedError("update request status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.NewDatabaseQueryFailedError("update request status", err)
	}
	if n == 0 {
		return errors.NewNotFoundError("request", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDonor(row rowScanner) (models.Donor, error) {
	var (
		d            models.Donor
		bloodType    string
		lat, lon     sql.NullFloat64
		email, phone sql.NullString
		last         sql.NullTime
	)
	if err := row.Scan(&d.ID, &d.Name, &bloodType, &d.Available, &d.Location.City, &lat, &lon, &email, &phone, &last); err != nil {
		return models.Donor{}, err
	}
	// unparseable groups are kept verbatim; they never match any request
	if bt, err := models.ParseBloodType(bloodType); err == nil {
		d.BloodType = bt
	} else {
		d.BloodType = models.BloodType(bloodType)
	}
	d.Location.Coordinates = coord(lat, lon)
	d.Contact = models.Contact{Email: email.String, Phone: phone.String}
	if last.Valid && !last.Time.IsZero() {
		t := last.Time
		d.LastDonation = &t
	}
	return d, nil
}

func scanRequest(row rowScanner) (models.BloodRequest, error) {
	var (
		req       models.BloodRequest
		bloodType string
		urgency   string
		status    string
	)
	if err := row.Scan(&req.ID, &req.PatientName, &bloodType, &req.HospitalID, &req.UnitsNeeded, &urgency, &status, &req.CreatedAt); err != nil {
		return models.BloodRequest{}, err
	}
	// malformed values pass through so Validate reports them per request
	if bt, err := models.ParseBloodType(bloodType); err == nil {
		req.BloodType = bt
	} else {
		req.BloodType = models.BloodType(bloodType)
	}
	if u, err := models.ParseUrgency(urgency); err == nil {
		req.Urgency = u
	} else {
		req.Urgency = models.Urgency(urgency)
	}
	req.Status = models.RequestStatus(status)
	return req, nil
}

func coord(lat, lon sql.NullFloat64) *models.Coord {
	if !lat.Valid || !lon.Valid {
		return nil
	}
	return &models.Coord{Lat: lat.Float64, Lon: lon.Float64}
}
