// Package orchestrator is the entry point for matching: single request,
// batch over all open requests, read-only preview and status updates.
package orchestrator

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"time"

	"donor-matching/internal/common/deadline"
	"donor-matching/internal/common/errors"
	"donor-matching/internal/common/logger"
	"donor-matching/internal/common/metrics"
	"donor-matching/internal/common/observability"
	"donor-matching/internal/matching/compatibility"
	"donor-matching/internal/matching/ledger"
	"donor-matching/internal/matching/ranker"
	"donor-matching/internal/models"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	LookupTimeout    time.Duration
	BatchConcurrency int
}

type Orchestrator struct {
	repo      Repository
	donors    DonorSource
	ledger    ledger.Store
	ranker    *ranker.Ranker
	publisher Publisher
	obs       *observability.Observability
	logger    logger.Logger
	opts      Options
}

func New(
	repo Repository,
	donors DonorSource,
	store ledger.Store,
	rk *ranker.Ranker,
	publisher Publisher,
	obs *observability.Observability,
	log logger.Logger,
	opts Options,
) *Orchestrator {
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = 1
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Orchestrator{
		repo:      repo,
		donors:    donors,
		ledger:    store,
		ranker:    rk,
		publisher: publisher,
		obs:       obs,
		logger:    log.Named("orchestrator"),
		opts:      opts,
	}
}

// MatchOne ranks donors for an open request and upserts a ledger record for
// every candidate. An empty ranking returns the result together with an
// error matching errors.ErrNoCandidates.
func (o *Orchestrator) MatchOne(ctx context.Context, requestID string, asOf time.Time) (*MatchResult, error) {
	ctx, span := o.obs.StartSpan(ctx, "orchestrator.MatchOne", attribute.String("request.id", requestID))
	defer span.End()
	start := time.Now()

	req, err := o.loadOpenRequest(ctx, requestID)
	if err != nil {
		o.finish(ctx, "match_one", start, err)
		return nil, err
	}

	result, err := o.matchRequest(ctx, req, nil, asOf)
	o.finish(ctx, "match_one", start, err)
	return result, err
}

// FindMatches ranks candidates without touching the ledger. Candidates that
// already have an active record carry its id and status.
func (o *Orchestrator) FindMatches(ctx context.Context, requestID string, asOf time.Time) (*MatchResult, error) {
	ctx, span := o.obs.StartSpan(ctx, "orchestrator.FindMatches", attribute.String("request.id", requestID))
	defer span.End()

	req, err := o.loadOpenRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	result, candidates, err := o.rank(ctx, req, nil, asOf)
	if err != nil {
		return nil, err
	}

	existing, err := o.ledger.ListByRequest(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	active := make(map[string]models.MatchRecord, len(existing))
	for _, rec := range existing {
		if rec.Status.IsActive() {
			active[rec.DonorID] = rec
		}
	}

	for _, c := range candidates {
		cm := toCandidateMatch(c)
		if rec, ok := active[c.Donor.ID]; ok {
			cm.MatchID = rec.ID
			cm.Status = rec.Status
		}
		result.Candidates = append(result.Candidates, cm)
	}
	result.NoCandidates = len(result.Candidates) == 0
	return result, nil
}

// BatchMatch runs every open request independently, at most
// BatchConcurrency at a time. Per-request failures are itemized. When ctx is
// cancelled no further requests start; committed matches are kept.
func (o *Orchestrator) BatchMatch(ctx context.Context, asOf time.Time) (*BatchResult, error) {
	ctx, span := o.obs.StartSpan(ctx, "orchestrator.BatchMatch")
	defer span.End()
	start := time.Now()

	result := &BatchResult{
		RequestsWithNoMatch: []string{},
		Failures:            []BatchFailure{},
		AsOf:                asOf,
	}

	requests, err := deadline.Call(ctx, o.opts.LookupTimeout, "list open requests", o.repo.ListOpenRequests)
	if err != nil {
		o.finish(ctx, "batch_match", start, err)
		return nil, err
	}

	// one donor snapshot for the whole batch
	donors, err := deadline.Call(ctx, o.opts.LookupTimeout, "list available donors",
		func(ctx context.Context) ([]models.Donor, error) { return o.donors.ListAvailableDonors(ctx) })
	if err != nil {
		o.finish(ctx, "batch_match", start, err)
		return nil, err
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(o.opts.BatchConcurrency)

	for _, req := range requests {
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				result.Cancelled = true
				mu.Unlock()
				return nil
			}

			res, err := o.matchRequest(ctx, req, donors, asOf)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				result.ProcessedCount++
				result.NewMatchCount += res.NewMatchCount()
			case errors.Is(err, errors.ErrNoCandidates):
				result.ProcessedCount++
				result.RequestsWithNoMatch = append(result.RequestsWithNoMatch, req.ID)
			case ctx.Err() != nil && (stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)):
				result.Cancelled = true
				if res != nil {
					result.NewMatchCount += res.NewMatchCount()
				}
			default:
				result.ProcessedCount++
				if res != nil {
					result.NewMatchCount += res.NewMatchCount()
				}
				stdErr := errors.Normalize(err)
				result.Failures = append(result.Failures, BatchFailure{
					RequestID: req.ID,
					Code:      string(stdErr.Code),
					Message:   stdErr.Error(),
					Retryable: stdErr.Retryable,
				})
				o.logger.Warn("batch request failed", map[string]interface{}{
					"requestId": req.ID,
					"errorCode": string(stdErr.Code),
					"error":     err,
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(result.RequestsWithNoMatch)
	sort.Slice(result.Failures, func(i, j int) bool { return result.Failures[i].RequestID < result.Failures[j].RequestID })

	o.logger.Info("batch match finished", map[string]interface{}{
		"openRequests":   len(requests),
		"processed":      result.ProcessedCount,
		"newMatches":     result.NewMatchCount,
		"noMatch":        len(result.RequestsWithNoMatch),
		"failures":       len(result.Failures),
		"cancelled":      result.Cancelled,
		"durationMillis": time.Since(start).Milliseconds(),
	})
	o.finish(ctx, "batch_match", start, nil)
	return result, nil
}

// UpdateStatus applies a caller-supplied transition. Accepting a match moves
// an Open request to InProgress. If that follow-up write fails the
// transitioned record is returned together with the error.
func (o *Orchestrator) UpdateStatus(ctx context.Context, matchID string, status models.MatchStatus) (models.MatchRecord, error) {
	if !status.Valid() {
		return models.MatchRecord{}, errors.NewValidationError("unknown match status " + string(status))
	}

	before, err := o.ledger.Get(ctx, matchID)
	if err != nil {
		return models.MatchRecord{}, err
	}

	rec, err := o.ledger.Transition(ctx, matchID, status)
	if err != nil {
		return models.MatchRecord{}, err
	}
	metrics.StatusTransitions.WithLabelValues(string(before.Status), string(status)).Inc()
	o.publish(ctx, models.MatchEvent{
		Type:      models.EventMatchStatusChanged,
		RequestID: rec.RequestID,
		MatchID:   rec.ID,
		DonorID:   rec.DonorID,
		Status:    rec.Status,
	})

	if status == models.MatchAccepted {
		if err := o.markInProgress(ctx, rec.RequestID); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

// FulfilRequest closes out a request: Accepted matches complete, every other
// active match is declined, and the request becomes Fulfilled.
func (o *Orchestrator) FulfilRequest(ctx context.Context, requestID string) (*FulfilResult, error) {
	ctx, span := o.obs.StartSpan(ctx, "orchestrator.FulfilRequest", attribute.String("request.id", requestID))
	defer span.End()

	req, err := o.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status == models.RequestClosed {
		return nil, errors.NewRequestNotFoundError(requestID, "request is closed")
	}

	recs, err := o.ledger.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	result := &FulfilResult{RequestID: requestID, Completed: []string{}, Declined: []string{}}
	for _, rec := range recs {
		var target models.MatchStatus
		switch {
		case rec.Status == models.MatchAccepted:
			target = models.MatchCompleted
		case rec.Status.IsActive():
			target = models.MatchDeclined
		default:
			continue
		}

		updated, err := o.ledger.Transition(ctx, rec.ID, target)
		if err != nil {
			return nil, err
		}
		metrics.StatusTransitions.WithLabelValues(string(rec.Status), string(target)).Inc()
		o.publish(ctx, models.MatchEvent{
			Type:      models.EventMatchStatusChanged,
			RequestID: requestID,
			MatchID:   updated.ID,
			DonorID:   updated.DonorID,
			Status:    updated.Status,
		})
		if target == models.MatchCompleted {
			result.Completed = append(result.Completed, updated.ID)
		} else {
			result.Declined = append(result.Declined, updated.ID)
		}
	}

	if req.Status != models.RequestFulfilled {
		if err := o.updateRequestStatus(ctx, requestID, models.RequestFulfilled); err != nil {
			return nil, err
		}
	}
	o.publish(ctx, models.MatchEvent{
		Type:      models.EventRequestFulfilled,
		RequestID: requestID,
		Urgency:   req.Urgency,
	})
	return result, nil
}

// ListAll, ListByRequest, ListByDonor, Get and Delete expose the ledger.

func (o *Orchestrator) ListAll(ctx context.Context) ([]models.MatchRecord, error) {
	return o.ledger.ListAll(ctx)
}

func (o *Orchestrator) ListByRequest(ctx context.Context, requestID string) ([]models.MatchRecord, error) {
	return o.ledger.ListByRequest(ctx, requestID)
}

func (o *Orchestrator) ListByDonor(ctx context.Context, donorID string) ([]models.MatchRecord, error) {
	return o.ledger.ListByDonor(ctx, donorID)
}

func (o *Orchestrator) Get(ctx context.Context, matchID string) (models.MatchRecord, error) {
	return o.ledger.Get(ctx, matchID)
}

func (o *Orchestrator) Delete(ctx context.Context, matchID string) error {
	if err := o.ledger.Delete(ctx, matchID); err != nil {
		return err
	}
	o.logger.Info("match record deleted", map[string]interface{}{"matchId": matchID})
	return nil
}

// matchRequest ranks and upserts for an already loaded request. donors may
// be nil, in which case the compatible donors are fetched. match.created
// events go out once the ledger writes are done, and candidate statuses are
// re-read afterwards since synchronous subscribers may have moved them.
func (o *Orchestrator) matchRequest(ctx context.Context, req models.BloodRequest, donors []models.Donor, asOf time.Time) (*MatchResult, error) {
	result, candidates, err := o.rank(ctx, req, donors, asOf)
	if err != nil {
		metrics.MatchRuns.WithLabelValues("error").Inc()
		return nil, err
	}

	if len(candidates) == 0 {
		result.NoCandidates = true
		metrics.MatchRuns.WithLabelValues("no_candidates").Inc()
		o.publish(ctx, models.MatchEvent{
			Type:      models.EventNoMatchFound,
			RequestID: req.ID,
			Urgency:   req.Urgency,
		})
		return result, errors.NewNoCandidatesError(req.ID)
	}

	for _, c := range candidates {
		if err = ctx.Err(); err != nil {
			break
		}
		var cm CandidateMatch
		if cm, err = o.record(ctx, req.ID, c); err != nil {
			metrics.MatchRuns.WithLabelValues("error").Inc()
			break
		}
		result.Candidates = append(result.Candidates, cm)
	}
	o.announce(ctx, result)
	if err != nil {
		return result, err
	}

	metrics.MatchRuns.WithLabelValues("matched").Inc()
	o.logger.Debug("request matched", map[string]interface{}{
		"requestId":  req.ID,
		"candidates": len(result.Candidates),
		"created":    result.NewMatchCount(),
	})
	return result, nil
}

// CreateMatch records an operator-chosen donor for an open request. The
// donor must pass the same availability, compatibility and eligibility
// checks ranking applies; an existing active record for the pair is reused.
func (o *Orchestrator) CreateMatch(ctx context.Context, requestID, donorID string, asOf time.Time) (*MatchResult, error) {
	ctx, span := o.obs.StartSpan(ctx, "orchestrator.CreateMatch",
		attribute.String("request.id", requestID), attribute.String("donor.id", donorID))
	defer span.End()
	start := time.Now()

	result, err := o.createMatch(ctx, requestID, donorID, asOf)
	o.finish(ctx, "create_match", start, err)
	return result, err
}

func (o *Orchestrator) createMatch(ctx context.Context, requestID, donorID string, asOf time.Time) (*MatchResult, error) {
	req, err := o.loadOpenRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	hospital, err := deadline.Call(ctx, o.opts.LookupTimeout, "get hospital",
		func(ctx context.Context) (models.Hospital, error) { return o.repo.GetHospital(ctx, req.HospitalID) })
	if err != nil {
		return nil, err
	}
	donor, err := deadline.Call(ctx, o.opts.LookupTimeout, "get donor",
		func(ctx context.Context) (models.Donor, error) { return o.repo.GetDonor(ctx, donorID) })
	if err != nil {
		return nil, err
	}

	rankCtx, cancel := deadline.Context(ctx, o.opts.LookupTimeout)
	c, err := o.ranker.Evaluate(rankCtx, req, hospital.Location, donor, asOf)
	cancel()
	if err != nil {
		return nil, err
	}

	cm, err := o.record(ctx, req.ID, c)
	if err != nil {
		return nil, err
	}
	result := &MatchResult{
		Request:    req,
		Hospital:   hospital,
		Candidates: []CandidateMatch{cm},
		AsOf:       asOf,
	}
	o.announce(ctx, result)

	o.logger.Info("manual match recorded", map[string]interface{}{
		"requestId": req.ID,
		"donorId":   donorID,
		"matchId":   cm.MatchID,
		"created":   cm.Created,
	})
	return result, nil
}

// record upserts the ledger entry for one candidate.
func (o *Orchestrator) record(ctx context.Context, requestID string, c ranker.Candidate) (CandidateMatch, error) {
	rec, created, err := o.ledger.UpsertMatch(ctx, requestID, c.Donor.ID, c.DistanceKm)
	if err != nil {
		return CandidateMatch{}, err
	}
	if created {
		metrics.MatchRecordsCreated.Inc()
	} else {
		metrics.MatchRecordsReused.Inc()
	}

	cm := toCandidateMatch(c)
	cm.MatchID = rec.ID
	cm.Status = rec.Status
	cm.Created = created
	return cm, nil
}

// announce publishes match.created for every record the run created, then
// refreshes those candidates' statuses from the ledger.
func (o *Orchestrator) announce(ctx context.Context, result *MatchResult) {
	created := 0
	for _, cm := range result.Candidates {
		if !cm.Created {
			continue
		}
		created++
		o.publish(ctx, models.MatchEvent{
			Type:      models.EventMatchCreated,
			RequestID: result.Request.ID,
			MatchID:   cm.MatchID,
			DonorID:   cm.DonorID,
			Status:    cm.Status,
			Urgency:   result.Request.Urgency,
		})
	}
	if created == 0 {
		return
	}

	for i := range result.Candidates {
		cm := &result.Candidates[i]
		if !cm.Created {
			continue
		}
		rec, err := o.ledger.Get(ctx, cm.MatchID)
		if err != nil {
			o.logger.Warn("refresh match status failed", map[string]interface{}{"matchId": cm.MatchID, "error": err})
			continue
		}
		cm.Status = rec.Status
	}
}

func (o *Orchestrator) rank(ctx context.Context, req models.BloodRequest, donors []models.Donor, asOf time.Time) (*MatchResult, []ranker.Candidate, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}

	hospital, err := deadline.Call(ctx, o.opts.LookupTimeout, "get hospital",
		func(ctx context.Context) (models.Hospital, error) { return o.repo.GetHospital(ctx, req.HospitalID) })
	if err != nil {
		return nil, nil, err
	}

	if donors == nil {
		types, err := compatibility.CompatibleDonorTypes(req.BloodType)
		if err != nil {
			return nil, nil, err
		}
		donors, err = deadline.Call(ctx, o.opts.LookupTimeout, "list available donors",
			func(ctx context.Context) ([]models.Donor, error) { return o.donors.ListAvailableDonors(ctx, types...) })
		if err != nil {
			return nil, nil, err
		}
	}

	rankCtx, cancel := deadline.Context(ctx, o.opts.LookupTimeout)
	defer cancel()
	candidates, err := o.ranker.RankCandidates(rankCtx, req, hospital.Location, donors, asOf)
	if err != nil {
		return nil, nil, err
	}

	return &MatchResult{
		Request:    req,
		Hospital:   hospital,
		Candidates: make([]CandidateMatch, 0, len(candidates)),
		AsOf:       asOf,
	}, candidates, nil
}

func (o *Orchestrator) loadOpenRequest(ctx context.Context, requestID string) (models.BloodRequest, error) {
	req, err := o.getRequest(ctx, requestID)
	if err != nil {
		return models.BloodRequest{}, err
	}
	if req.Status != models.RequestOpen {
		return models.BloodRequest{}, errors.NewRequestNotFoundError(requestID, "status is "+string(req.Status))
	}
	return req, nil
}

func (o *Orchestrator) getRequest(ctx context.Context, requestID string) (models.BloodRequest, error) {
	req, err := deadline.Call(ctx, o.opts.LookupTimeout, "get request",
		func(ctx context.Context) (models.BloodRequest, error) { return o.repo.GetRequest(ctx, requestID) })
	if errors.Is(err, errors.ErrNotFound) {
		return models.BloodRequest{}, errors.NewRequestNotFoundError(requestID, "unknown request")
	}
	return req, err
}

func (o *Orchestrator) markInProgress(ctx context.Context, requestID string) error {
	req, err := o.getRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != models.RequestOpen {
		return nil
	}
	return o.updateRequestStatus(ctx, requestID, models.RequestInProgress)
}

func (o *Orchestrator) updateRequestStatus(ctx context.Context, requestID string, status models.RequestStatus) error {
	_, err := deadline.Call(ctx, o.opts.LookupTimeout, "update request status",
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, o.repo.UpdateRequestStatus(ctx, requestID, status)
		})
	return err
}

// publish never fails the caller; event delivery is best effort.
func (o *Orchestrator) publish(ctx context.Context, ev models.MatchEvent) {
	if o.publisher == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	if err := o.publisher.Publish(ctx, ev); err != nil {
		o.logger.Warn("publish match event failed", map[string]interface{}{
			"eventType": string(ev.Type),
			"requestId": ev.RequestID,
			"matchId":   ev.MatchID,
			"error":     err,
		})
	}
}

func (o *Orchestrator) finish(ctx context.Context, op string, start time.Time, err error) {
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, errors.ErrNoCandidates):
		status = "no_candidates"
	default:
		status = "error"
	}
	o.obs.RecordOperation(ctx, op, time.Since(start), status)
}

func toCandidateMatch(c ranker.Candidate) CandidateMatch {
	return CandidateMatch{
		DonorID:    c.Donor.ID,
		DonorName:  c.Donor.Name,
		BloodType:  c.Donor.BloodType,
		City:       c.Donor.Location.City,
		DistanceKm: c.DistanceKm,
		Score:      c.Score,
	}
}
