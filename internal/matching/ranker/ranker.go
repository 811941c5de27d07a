// Package ranker filters donors down to compatible, available, eligible
// candidates and orders them by distance to the hospital.
package ranker

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"donor-matching/internal/common/errors"
	"donor-matching/internal/common/logger"
	"donor-matching/internal/common/metrics"
	"donor-matching/internal/matching/compatibility"
	"donor-matching/internal/matching/eligibility"
	"donor-matching/internal/models"
)

// unresolvedSortKey orders donors without a distance after every known one.
// It never appears in output.
const unresolvedSortKey = math.MaxFloat64

// Geocoder resolves a location to coordinates. A nil coord with a nil error
// means the place is unknown.
type Geocoder interface {
	Resolve(ctx context.Context, loc models.Location) (*models.Coord, error)
}

// Candidate is one ranked donor. DistanceKm is nil when either end could
// not be located.
type Candidate struct {
	Donor      models.Donor `json:"donor"`
	DistanceKm *float64     `json:"distanceKm"`
	Score      float64      `json:"score"`
}

type Ranker struct {
	filter        *eligibility.Filter
	geocoder      Geocoder
	maxCandidates map[models.Urgency]int
	logger        logger.Logger
}

type Option func(*Ranker)

// WithGeocoder enables city lookups for locations without coordinates.
func WithGeocoder(g Geocoder) Option {
	return func(r *Ranker) { r.geocoder = g }
}

// WithMaxCandidates caps results per urgency; 0 or missing means unlimited.
func WithMaxCandidates(caps map[models.Urgency]int) Option {
	return func(r *Ranker) { r.maxCandidates = caps }
}

func WithLogger(l logger.Logger) Option {
	return func(r *Ranker) { r.logger = l }
}

func New(filter *eligibility.Filter, opts ...Option) *Ranker {
	if filter == nil {
		filter = eligibility.NewFilter(0)
	}
	r := &Ranker{filter: filter, logger: logger.NewNoOpLogger()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RankCandidates returns the ordered candidate list for request. The only
// error is an invalid request blood type; an empty list is a valid result.
// Ordering is ascending distance, unknown distances last, ties by donor ID.
func (r *Ranker) RankCandidates(
	ctx context.Context,
	request models.BloodRequest,
	origin models.Location,
	donors []models.Donor,
	asOf time.Time,
) ([]Candidate, error) {
	start := time.Now()
	defer func() {
		metrics.RankingDuration.WithLabelValues(string(request.Urgency)).Observe(time.Since(start).Seconds())
	}()

	compatible, err := compatibility.CompatibleDonorTypes(request.BloodType)
	if err != nil {
		return nil, err
	}
	accepts := make(map[models.BloodType]bool, len(compatible))
	for _, t := range compatible {
		accepts[t] = true
	}

	resolver := &memoResolver{geocoder: r.geocoder, logger: r.logger, seen: map[string]*models.Coord{}}
	originCoord := resolver.resolve(ctx, origin)

	out := make([]Candidate, 0, len(donors))
	for _, d := range donors {
		if !d.Available || !accepts[d.BloodType] || !r.filter.IsEligible(d, asOf) {
			continue
		}
		out = append(out, candidate(ctx, resolver, originCoord, d, request.Urgency))
	}

	sort.SliceStable(out, func(i, j int) bool {
		di, dj := sortKey(out[i]), sortKey(out[j])
		if di != dj {
			return di < dj
		}
		return out[i].Donor.ID < out[j].Donor.ID
	})

	if limit := r.maxCandidates[request.Urgency]; limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Evaluate applies the ranking filters to a single chosen donor and reports
// which one rejects it. An accepted donor comes back as a scored Candidate;
// the candidate cap does not apply.
func (r *Ranker) Evaluate(
	ctx context.Context,
	request models.BloodRequest,
	origin models.Location,
	donor models.Donor,
	asOf time.Time,
) (Candidate, error) {
	if _, err := compatibility.CompatibleDonorTypes(request.BloodType); err != nil {
		return Candidate{}, err
	}
	if !donor.Available {
		return Candidate{}, errors.NewValidationError(fmt.Sprintf("donor %s is not available", donor.ID))
	}
	if !compatibility.CanDonate(donor.BloodType, request.BloodType) {
		return Candidate{}, errors.NewValidationError(fmt.Sprintf(
			"donor %s (%s) cannot donate to %s", donor.ID, donor.BloodType, request.BloodType))
	}
	if !r.filter.IsEligible(donor, asOf) {
		return Candidate{}, errors.NewValidationError(fmt.Sprintf(
			"donor %s is deferred for %d more day(s)", donor.ID, r.filter.DaysUntilEligible(donor, asOf)))
	}

	resolver := &memoResolver{geocoder: r.geocoder, logger: r.logger, seen: map[string]*models.Coord{}}
	return candidate(ctx, resolver, resolver.resolve(ctx, origin), donor, request.Urgency), nil
}

func candidate(ctx context.Context, resolver *memoResolver, originCoord *models.Coord, d models.Donor, urgency models.Urgency) Candidate {
	var dist *float64
	if originCoord != nil {
		if dc := resolver.resolve(ctx, d.Location); dc != nil {
			km := HaversineKm(*originCoord, *dc)
			dist = &km
		}
	}
	return Candidate{
		Donor:      d,
		DistanceKm: dist,
		Score:      Score(dist, urgency),
	}
}

func sortKey(c Candidate) float64 {
	if c.DistanceKm == nil {
		return unresolvedSortKey
	}
	return *c.DistanceKm
}

// memoResolver resolves each city at most once per ranking.
type memoResolver struct {
	geocoder Geocoder
	logger   logger.Logger
	seen     map[string]*models.Coord
}

func (m *memoResolver) resolve(ctx context.Context, loc models.Location) *models.Coord {
	if loc.Coordinates != nil {
		return loc.Coordinates
	}
	if m.geocoder == nil || loc.City == "" {
		return nil
	}
	if c, ok := m.seen[loc.City]; ok {
		return c
	}

	c, err := m.geocoder.Resolve(ctx, loc)
	if err != nil {
		m.logger.Debug("geocode failed, treating location as unresolved", map[string]interface{}{
			"city":  loc.City,
			"error": err.Error(),
		})
		c = nil
	}
	m.seen[loc.City] = c
	return c
}
