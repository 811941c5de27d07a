// internal/workers/notification/notify-match/handler.go
package notifymatch

import (
	"context"

	"donor-matching/internal/common/errors"
	"donor-matching/internal/common/logger"
	"donor-matching/internal/common/metrics"
	"donor-matching/internal/common/validation"
	"donor-matching/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "notify-match"

var schema = validation.MustCompile(TaskType, inputSchema)

type DonorNotifier interface {
	NotifyDonor(ctx context.Context, matchID string) (models.DeliveryOutcome, error)
}

type Handler struct {
	config     *Config
	notifier   DonorNotifier
	logger     logger.Logger
	errHandler *errors.ErrorHandler
}

func NewHandler(config *Config, notifier DonorNotifier, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:     config,
		notifier:   notifier,
		logger:     l,
		errHandler: errors.NewErrorHandler(l),
	}
}

// Handle sends one donor notice. A transport failure fails the job with
// retries so the engine's backoff drives redelivery.
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

func (h *Handler) Execute(ctx context.Context, vars map[string]interface{}) (*Output, error) {
	if err := schema.ValidateMap(vars); err != nil {
		return nil, err
	}
	input := Input{MatchID: vars["matchId"].(string)}

	outcome, err := h.notifier.NotifyDonor(ctx, input.MatchID)
	if err != nil {
		return nil, err
	}
	return &Output{
		MatchID:     input.MatchID,
		Channel:     outcome.Channel,
		Status:      string(outcome.Status),
		MessageID:   outcome.MessageID,
		AttemptedAt: outcome.AttemptedAt,
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
