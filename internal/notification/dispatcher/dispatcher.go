// Package dispatcher turns ledger and request state into outbound notices
// and records each delivery attempt on the match record.
package dispatcher

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"donor-matching/internal/common/deadline"
	"donor-matching/internal/common/errors"
	"donor-matching/internal/common/logger"
	"donor-matching/internal/common/metrics"
	"donor-matching/internal/common/validation"
	"donor-matching/internal/matching/ledger"
	"donor-matching/internal/models"
	"donor-matching/internal/notification/channel"
)

// Repository is the read side the dispatcher needs to address messages.
type Repository interface {
	GetDonor(ctx context.Context, id string) (models.Donor, error)
	GetRequest(ctx context.Context, id string) (models.BloodRequest, error)
	GetHospital(ctx context.Context, id string) (models.Hospital, error)
	ListOpenRequests(ctx context.Context) ([]models.BloodRequest, error)
}

type Publisher interface {
	Publish(ctx context.Context, event models.MatchEvent) error
}

type Options struct {
	// Timeout bounds each channel send.
	Timeout time.Duration
	// LookupTimeout bounds each repository and ledger read. Zero falls back
	// to Timeout.
	LookupTimeout time.Duration
	// AutoNotify makes HandleEvent act on match.created and
	// match.none_found events.
	AutoNotify bool
}

type Dispatcher struct {
	ledger    ledger.Store
	repo      Repository
	channel   channel.Channel
	publisher Publisher
	logger    logger.Logger
	opts      Options
	now       func() time.Time
}

func New(store ledger.Store, repo Repository, ch channel.Channel, publisher Publisher, log logger.Logger, opts Options) *Dispatcher {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = opts.Timeout
	}
	return &Dispatcher{
		ledger:    store,
		repo:      repo,
		channel:   ch,
		publisher: publisher,
		logger:    log.Named("dispatcher"),
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// NotifyDonor tells the donor of an active match about the request. A
// successful send moves Pending to Notified; a Notified record is re-sent
// without a transition. On transport failure the record keeps its status,
// the failed outcome is recorded and a retryable error naming the match is
// returned.
func (d *Dispatcher) NotifyDonor(ctx context.Context, matchID string) (models.DeliveryOutcome, error) {
	rec, err := deadline.Call(ctx, d.opts.LookupTimeout, "get match",
		func(ctx context.Context) (models.MatchRecord, error) { return d.ledger.Get(ctx, matchID) })
	if err != nil {
		return models.DeliveryOutcome{}, err
	}
	if !rec.Status.IsActive() {
		return models.DeliveryOutcome{}, errors.NewInvalidTransitionError(matchID, string(rec.Status), string(models.MatchNotified))
	}

	donor, err := deadline.Call(ctx, d.opts.LookupTimeout, "get donor",
		func(ctx context.Context) (models.Donor, error) { return d.repo.GetDonor(ctx, rec.DonorID) })
	if err != nil {
		return models.DeliveryOutcome{}, err
	}
	req, err := d.getRequest(ctx, rec.RequestID)
	if err != nil {
		return models.DeliveryOutcome{}, err
	}
	hospital := d.hospitalFor(ctx, req)

	data := requestData(req, hospital)
	data["donorName"] = donor.Name
	data["matchId"] = rec.ID
	if rec.DistanceKm != nil {
		data["distance"] = fmt.Sprintf(" about %.1f km away", *rec.DistanceKm)
	}
	msg := render(models.NotifyDonorMatch, recipient(donor.ID, donor.Name, donor.Contact.Email, donor.Contact.Phone), req.Urgency, data)

	outcome, sendErr := d.send(ctx, msg)

	if _, err := d.ledger.RecordDelivery(ctx, rec.ID, outcome); err != nil {
		d.logger.Warn("record delivery outcome failed", map[string]interface{}{"matchId": rec.ID, "error": err})
	}
	if sendErr != nil {
		return outcome, d.sendFailure(outcome, matchID, sendErr)
	}

	status := rec.Status
	if rec.Status == models.MatchPending {
		updated, err := d.ledger.Transition(ctx, rec.ID, models.MatchNotified)
		if err != nil {
			return outcome, err
		}
		status = updated.Status
	}

	d.publish(ctx, models.MatchEvent{
		Type:      models.EventNotificationSent,
		RequestID: rec.RequestID,
		MatchID:   rec.ID,
		DonorID:   rec.DonorID,
		Status:    status,
		Urgency:   req.Urgency,
		Delivery:  &outcome,
	})
	return outcome, nil
}

// NotifyNoMatch tells the requesting hospital that no compatible donor was
// found.
func (d *Dispatcher) NotifyNoMatch(ctx context.Context, requestID string) (models.DeliveryOutcome, error) {
	req, err := d.getRequest(ctx, requestID)
	if err != nil {
		return models.DeliveryOutcome{}, err
	}
	return d.notifyHospital(ctx, models.NotifyNoMatch, req)
}

func (d *Dispatcher) notifyHospital(ctx context.Context, kind models.NotificationKind, req models.BloodRequest) (models.DeliveryOutcome, error) {
	hospital, err := d.getHospital(ctx, req.HospitalID)
	if err != nil {
		return models.DeliveryOutcome{}, err
	}
	msg := render(kind, recipient(hospital.ID, hospital.Name, hospital.ContactEmail, hospital.ContactPhone), req.Urgency, requestData(req, hospital))

	outcome, sendErr := d.send(ctx, msg)
	if sendErr != nil {
		return outcome, d.sendFailure(outcome, req.ID, sendErr)
	}
	d.publish(ctx, models.MatchEvent{
		Type:      models.EventNotificationSent,
		RequestID: req.ID,
		Urgency:   req.Urgency,
		Delivery:  &outcome,
	})
	return outcome, nil
}

// NotifyRequest notifies the donor of every Pending match of a request.
func (d *Dispatcher) NotifyRequest(ctx context.Context, requestID string) (*RequestResult, error) {
	if _, err := d.getRequest(ctx, requestID); err != nil {
		return nil, err
	}
	recs, err := d.listByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	res := &RequestResult{RequestID: requestID, Notified: []string{}, Failures: []Failure{}}
	for _, rec := range recs {
		if rec.Status != models.MatchPending {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, err := d.NotifyDonor(ctx, rec.ID); err != nil {
			res.Failures = append(res.Failures, newFailure(rec.ID, err))
			continue
		}
		res.Notified = append(res.Notified, rec.ID)
	}
	return res, nil
}

// NotifyUnmatchedSweep sends a no-match notice for every Open request created
// at or before asOf that has no active or accepted match record. Critical
// requests also get an escalation notice. Failures are itemized; a cancelled
// context stops the sweep and returns what was done so far.
func (d *Dispatcher) NotifyUnmatchedSweep(ctx context.Context, asOf time.Time) (*SweepResult, error) {
	reqs, err := deadline.Call(ctx, d.opts.LookupTimeout, "list open requests", d.repo.ListOpenRequests)
	if err != nil {
		return nil, err
	}

	res := &SweepResult{AsOf: asOf, Notified: []string{}, Escalated: []string{}, Failures: []Failure{}}
	for _, req := range reqs {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}
		if !req.CreatedAt.IsZero() && req.CreatedAt.After(asOf) {
			continue
		}
		res.Checked++

		matched, err := d.hasLiveMatch(ctx, req.ID)
		if err != nil {
			res.Failures = append(res.Failures, newFailure(req.ID, err))
			continue
		}
		if matched {
			res.Skipped++
			continue
		}

		if _, err := d.notifyHospital(ctx, models.NotifyNoMatch, req); err != nil {
			res.Failures = append(res.Failures, newFailure(req.ID, err))
			continue
		}
		res.Notified = append(res.Notified, req.ID)

		if req.Urgency == models.UrgencyCritical {
			if _, err := d.notifyHospital(ctx, models.NotifyEscalation, req); err != nil {
				res.Failures = append(res.Failures, newFailure(req.ID, err))
				continue
			}
			res.Escalated = append(res.Escalated, req.ID)
		}
	}
	return res, nil
}

// HandleEvent reacts to orchestrator events when auto-notify is on.
func (d *Dispatcher) HandleEvent(ctx context.Context, event models.MatchEvent) error {
	if !d.opts.AutoNotify {
		return nil
	}
	switch event.Type {
	case models.EventMatchCreated:
		_, err := d.NotifyDonor(ctx, event.MatchID)
		return err
	case models.EventNoMatchFound:
		_, err := d.NotifyNoMatch(ctx, event.RequestID)
		return err
	default:
		return nil
	}
}

func (d *Dispatcher) hasLiveMatch(ctx context.Context, requestID string) (bool, error) {
	recs, err := d.listByRequest(ctx, requestID)
	if err != nil {
		return false, err
	}
	for _, r := range recs {
		if r.Status.IsActive() || r.Status == models.MatchAccepted {
			return true, nil
		}
	}
	return false, nil
}

// send makes one bounded attempt through the channel.
func (d *Dispatcher) send(ctx context.Context, msg models.Message) (models.DeliveryOutcome, error) {
	sctx := ctx
	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	receipt, err := d.channel.Send(sctx, msg)
	outcome := models.DeliveryOutcome{
		Channel:     receipt.Channel,
		MessageID:   receipt.MessageID,
		Status:      models.DeliverySent,
		AttemptedAt: d.now(),
	}
	switch {
	case err == nil:
	case stderrors.Is(err, channel.ErrUnreachable):
		outcome.Status = models.DeliverySkipped
		outcome.Error = err.Error()
	default:
		outcome.Status = models.DeliveryFailed
		outcome.Error = err.Error()
	}

	channelName := outcome.Channel
	if channelName == "" {
		channelName = "none"
	}
	metrics.NotificationsSent.WithLabelValues(string(msg.Kind), channelName, string(outcome.Status)).Inc()
	return outcome, err
}

func (d *Dispatcher) sendFailure(outcome models.DeliveryOutcome, subjectID string, err error) error {
	d.logger.Warn("notification not delivered", map[string]interface{}{
		"subjectId": subjectID,
		"status":    string(outcome.Status),
		"error":     err,
	})
	if stderrors.Is(err, channel.ErrUnreachable) {
		return errors.NewValidationError(fmt.Sprintf("recipient for %s has no reachable contact", subjectID))
	}
	return errors.NewNotificationSendFailedError("notification", subjectID, err)
}

func (d *Dispatcher) hospitalFor(ctx context.Context, req models.BloodRequest) models.Hospital {
	h, err := d.getHospital(ctx, req.HospitalID)
	if err != nil {
		d.logger.Debug("hospital lookup failed, message sent without hospital details", map[string]interface{}{
			"hospitalId": req.HospitalID,
			"error":      err,
		})
		return models.Hospital{ID: req.HospitalID}
	}
	return h
}

func (d *Dispatcher) getRequest(ctx context.Context, id string) (models.BloodRequest, error) {
	return deadline.Call(ctx, d.opts.LookupTimeout, "get request",
		func(ctx context.Context) (models.BloodRequest, error) { return d.repo.GetRequest(ctx, id) })
}

func (d *Dispatcher) getHospital(ctx context.Context, id string) (models.Hospital, error) {
	return deadline.Call(ctx, d.opts.LookupTimeout, "get hospital",
		func(ctx context.Context) (models.Hospital, error) { return d.repo.GetHospital(ctx, id) })
}

func (d *Dispatcher) listByRequest(ctx context.Context, requestID string) ([]models.MatchRecord, error) {
	return deadline.Call(ctx, d.opts.LookupTimeout, "list matches",
		func(ctx context.Context) ([]models.MatchRecord, error) { return d.ledger.ListByRequest(ctx, requestID) })
}

func (d *Dispatcher) publish(ctx context.Context, ev models.MatchEvent) {
	if d.publisher == nil {
		return
	}
	ev.OccurredAt = d.now()
	if err := d.publisher.Publish(ctx, ev); err != nil {
		d.logger.Warn("publish notification event failed", map[string]interface{}{"requestId": ev.RequestID, "error": err})
	}
}

// recipient drops contact details that cannot be delivered to.
func recipient(id, name, email, phone string) models.Recipient {
	r := models.Recipient{ID: id, Name: name}
	if validation.ValidateEmail(email) {
		r.Email = email
	}
	if validation.ValidatePhone(phone) {
		r.Phone = phone
	}
	return r
}

func requestData(req models.BloodRequest, hospital models.Hospital) map[string]interface{} {
	return map[string]interface{}{
		"requestId":    req.ID,
		"bloodType":    string(req.BloodType),
		"units":        req.UnitsNeeded,
		"urgency":      string(req.Urgency),
		"hospitalName": hospital.Name,
		"city":         hospital.Location.City,
	}
}
