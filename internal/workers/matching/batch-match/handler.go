// internal/workers/matching/batch-match/handler.go
package batchmatch

import (
	"context"
	"time"

	"donor-matching/internal/common/errors"
	"donor-matching/internal/common/logger"
	"donor-matching/internal/common/metrics"
	"donor-matching/internal/common/validation"
	"donor-matching/internal/matching/orchestrator"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "batch-match"

var schema = validation.MustCompile(TaskType, inputSchema)

type BatchMatcher interface {
	BatchMatch(ctx context.Context, asOf time.Time) (*orchestrator.BatchResult, error)
}

type Handler struct {
	config     *Config
	matcher    BatchMatcher
	logger     logger.Logger
	errHandler *errors.ErrorHandler
	now        func() time.Time
}

func NewHandler(config *Config, matcher BatchMatcher, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:     config,
		matcher:    matcher,
		logger:     l,
		errHandler: errors.NewErrorHandler(l),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	vars, err := job.GetVariablesAsMap()
	if err != nil {
		h.fail(ctx, client, job, errors.NewValidationError("parse input: "+err.Error()))
		return
	}

	output, err := h.Execute(ctx, vars)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}
	h.completeJob(ctx, client, job, output)
}

// Execute validates the job variables and runs one batch.
func (h *Handler) Execute(ctx context.Context, vars map[string]interface{}) (*Output, error) {
	if err := schema.ValidateMap(vars); err != nil {
		return nil, err
	}

	var input Input
	input.AsOf, _ = vars["asOf"].(string)

	asOf := h.now()
	if input.AsOf != "" {
		t, err := time.Parse(time.RFC3339, input.AsOf)
		if err != nil {
			return nil, errors.NewValidationError("asOf must be RFC3339")
		}
		asOf = t.UTC()
	}

	res, err := h.matcher.BatchMatch(ctx, asOf)
	if err != nil {
		return nil, err
	}

	h.logger.Info("batch finished", map[string]interface{}{
		"processed":  res.ProcessedCount,
		"newMatches": res.NewMatchCount,
		"noMatch":    len(res.RequestsWithNoMatch),
		"failures":   len(res.Failures),
		"cancelled":  res.Cancelled,
	})
	return &Output{
		ProcessedCount:      res.ProcessedCount,
		NewMatchCount:       res.NewMatchCount,
		RequestsWithNoMatch: res.RequestsWithNoMatch,
		Failures:            res.Failures,
		Cancelled:           res.Cancelled,
	}, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{"error": err.Error()})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{"error": err.Error()})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.Normalize(err).Code)).Inc()
	h.errHandler.HandleJobError(ctx, client, job, err)
}
