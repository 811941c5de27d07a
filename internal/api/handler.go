// Package api exposes matching and notification operations over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"donor-matching/internal/common/errors"
	"donor-matching/internal/common/logger"
	"donor-matching/internal/matching/orchestrator"
	"donor-matching/internal/models"
	"donor-matching/internal/notification/dispatcher"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxBodyBytes = 1 << 20

// Matcher is the orchestrator surface served here.
type Matcher interface {
	MatchOne(ctx context.Context, requestID string, asOf time.Time) (*orchestrator.MatchResult, error)
	FindMatches(ctx context.Context, requestID string, asOf time.Time) (*orchestrator.MatchResult, error)
	CreateMatch(ctx context.Context, requestID, donorID string, asOf time.Time) (*orchestrator.MatchResult, error)
	BatchMatch(ctx context.Context, asOf time.Time) (*orchestrator.BatchResult, error)
	UpdateStatus(ctx context.Context, matchID string, status models.MatchStatus) (models.MatchRecord, error)
	FulfilRequest(ctx context.Context, requestID string) (*orchestrator.FulfilResult, error)
	Get(ctx context.Context, matchID string) (models.MatchRecord, error)
	ListAll(ctx context.Context) ([]models.MatchRecord, error)
	ListByRequest(ctx context.Context, requestID string) ([]models.MatchRecord, error)
	ListByDonor(ctx context.Context, donorID string) ([]models.MatchRecord, error)
	Delete(ctx context.Context, matchID string) error
}

// Notifier is the dispatcher surface served here.
type Notifier interface {
	NotifyDonor(ctx context.Context, matchID string) (models.DeliveryOutcome, error)
	NotifyNoMatch(ctx context.Context, requestID string) (models.DeliveryOutcome, error)
	NotifyRequest(ctx context.Context, requestID string) (*dispatcher.RequestResult, error)
	NotifyUnmatchedSweep(ctx context.Context, asOf time.Time) (*dispatcher.SweepResult, error)
}

// EventReader pages through the match event stream.
type EventReader interface {
	Read(ctx context.Context, afterID string, count int64) ([]models.MatchEvent, string, error)
}

type Handler struct {
	matcher  Matcher
	notifier Notifier
	events   EventReader
	logger   logger.Logger
	now      func() time.Time
}

// New builds the handler. events may be nil, in which case /events is not
// served.
func New(m Matcher, n Notifier, events EventReader, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Handler{
		matcher:  m,
		notifier: n,
		events:   events,
		logger:   log.Named("api"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(instrument(h.logger))

		r.Route("/match", func(r chi.Router) {
			r.Get("/", h.handleListAll)
			r.Post("/batch", h.handleBatch)
			r.Get("/find/{requestId}", h.handleFind)
			r.Get("/request/{requestId}", h.handleListByRequest)
			r.Post("/request/{requestId}/fulfil", h.handleFulfil)
			r.Post("/request/{requestId}/donor/{donorId}", h.handleCreateMatch)
			r.Get("/donor/{donorId}", h.handleListByDonor)
			// POST takes a request id, the other methods a match id.
			r.Post("/{id}", h.handleMatchOne)
			r.Get("/{id}", h.handleGet)
			r.Put("/{id}", h.handleUpdateStatus)
			r.Delete("/{id}", h.handleDelete)
		})

		r.Route("/notify", func(r chi.Router) {
			r.Post("/match/{matchId}", h.handleNotifyMatch)
			r.Post("/no-match/{requestId}", h.handleNotifyNoMatch)
			r.Post("/request/{requestId}", h.handleNotifyRequest)
			r.Post("/sweep", h.handleSweep)
		})

		if h.events != nil {
			r.Get("/events", h.handleEvents)
		}
	})
}

func (h *Handler) handleMatchOne(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOf(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.matcher.MatchOne(r.Context(), chi.URLParam(r, "id"), asOf)
	h.writeMatchResult(w, res, err)
}

func (h *Handler) handleFind(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOf(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.matcher.FindMatches(r.Context(), chi.URLParam(r, "requestId"), asOf)
	h.writeMatchResult(w, res, err)
}

// handleCreateMatch records an operator-chosen donor; 201 when a new record
// was written, 200 when an active one was reused.
func (h *Handler) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOf(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.matcher.CreateMatch(r.Context(), chi.URLParam(r, "requestId"), chi.URLParam(r, "donorId"), asOf)
	if err != nil {
		writeError(w, err)
		return
	}
	code := http.StatusOK
	if len(res.Candidates) > 0 && res.Candidates[0].Created {
		code = http.StatusCreated
	}
	writeJSON(w, code, res)
}

// writeMatchResult renders NoCandidates as a successful empty result.
func (h *Handler) writeMatchResult(w http.ResponseWriter, res *orchestrator.MatchResult, err error) {
	if err != nil && !(errors.Is(err, errors.ErrNoCandidates) && res != nil) {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := batchSchema.ValidateBytes(body); err != nil {
		writeError(w, err)
		return
	}

	asOf, err := h.asOf(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var in struct {
		AsOf *time.Time `json:"asOf"`
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &in); err != nil {
			writeError(w, errors.NewValidationError(err.Error()))
			return
		}
		if in.AsOf != nil {
			asOf = in.AsOf.UTC()
		}
	}

	res, err := h.matcher.BatchMatch(r.Context(), asOf)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := updateStatusSchema.ValidateBytes(body); err != nil {
		writeError(w, err)
		return
	}
	var in struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, errors.NewValidationError(err.Error()))
		return
	}
	status, err := models.ParseMatchStatus(in.Status)
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := h.matcher.UpdateStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleFulfil(w http.ResponseWriter, r *http.Request) {
	res, err := h.matcher.FulfilRequest(r.Context(), chi.URLParam(r, "requestId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.matcher.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleListAll(w http.ResponseWriter, r *http.Request) {
	recs, err := h.matcher.ListAll(r.Context())
	writeRecords(w, recs, err)
}

func (h *Handler) handleListByRequest(w http.ResponseWriter, r *http.Request) {
	recs, err := h.matcher.ListByRequest(r.Context(), chi.URLParam(r, "requestId"))
	writeRecords(w, recs, err)
}

func (h *Handler) handleListByDonor(w http.ResponseWriter, r *http.Request) {
	recs, err := h.matcher.ListByDonor(r.Context(), chi.URLParam(r, "donorId"))
	writeRecords(w, recs, err)
}

func writeRecords(w http.ResponseWriter, recs []models.MatchRecord, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []models.MatchRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.matcher.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleNotifyMatch(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.notifier.NotifyDonor(r.Context(), chi.URLParam(r, "matchId"))
	writeOutcome(w, outcome, err)
}

func (h *Handler) handleNotifyNoMatch(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.notifier.NotifyNoMatch(r.Context(), chi.URLParam(r, "requestId"))
	writeOutcome(w, outcome, err)
}

func writeOutcome(w http.ResponseWriter, outcome models.DeliveryOutcome, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) handleNotifyRequest(w http.ResponseWriter, r *http.Request) {
	res, err := h.notifier.NotifyRequest(r.Context(), chi.URLParam(r, "requestId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOf(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.notifier.NotifyUnmatchedSweep(r.Context(), asOf)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	count := int64(100)
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, errors.NewValidationError("count must be between 1 and 1000"))
			return
		}
		count = n
	}

	events, last, err := h.events.Read(r.Context(), r.URL.Query().Get("after"), count)
	if err != nil {
		writeError(w, errors.NewDatabaseQueryFailedError("read events", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events, "lastId": last})
}

// asOf reads the optional RFC3339 asOf query parameter, defaulting to now.
func (h *Handler) asOf(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("asOf")
	if raw == "" {
		return h.now(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.NewValidationError("asOf must be RFC3339")
	}
	return t.UTC(), nil
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.NewValidationError("unreadable request body")
	}
	return body, nil
}
