package dispatcher

import (
	"time"

	"donor-matching/internal/common/errors"
)

// Failure is one item a multi-target operation could not complete.
type Failure struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func newFailure(id string, err error) Failure {
	std := errors.Normalize(err)
	return Failure{ID: id, Code: string(std.Code), Message: std.Error(), Retryable: std.Retryable}
}

type RequestResult struct {
	RequestID string    `json:"requestId"`
	Notified  []string  `json:"notified"`
	Failures  []Failure `json:"failures"`
}

type SweepResult struct {
	Checked   int       `json:"checked"`
	Skipped   int       `json:"skipped"`
	Notified  []string  `json:"notified"`
	Escalated []string  `json:"escalated"`
	Failures  []Failure `json:"failures"`
	Cancelled bool      `json:"cancelled"`
	AsOf      time.Time `json:"asOf"`
}
