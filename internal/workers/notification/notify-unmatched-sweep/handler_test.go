// internal/workers/notification/notify-unmatched-sweep/handler_test.go
package notifyunmatchedsweep

import (
	"context"
	"testing"
	"time"

	"donor-matching/internal/common/errors"
	"donor-matching/internal/common/logger"
	"donor-matching/internal/notification/dispatcher"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockSweeper struct {
	SweepFunc func(ctx context.Context, asOf time.Time) (*dispatcher.SweepResult, error)
}

func (m *MockSweeper) NotifyUnmatchedSweep(ctx context.Context, asOf time.Time) (*dispatcher.SweepResult, error) {
	return m.SweepFunc(ctx, asOf)
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func createTestHandler(t *testing.T, s Sweeper) *Handler {
	h := NewHandler(&Config{Timeout: 10 * time.Second}, s, logger.NewTestLogger(t))
	h.now = func() time.Time { return fixedNow }
	return h
}

func TestHandler_Execute_Success(t *testing.T) {
	var got time.Time
	h := createTestHandler(t, &MockSweeper{SweepFunc: func(ctx context.Context, asOf time.Time) (*dispatcher.SweepResult, error) {
		got = asOf
		return &dispatcher.SweepResult{
			Checked:   3,
			Skipped:   1,
			Notified:  []string{"r2", "r3"},
			Escalated: []string{"r3"},
			Failures:  []dispatcher.Failure{{ID: "r4", Code: "NOTIFICATION_SEND_FAILED", Retryable: true}},
		}, nil
	}})

	out, err := h.Execute(context.Background(), map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, fixedNow, got)
	assert.Equal(t, 3, out.Checked)
	assert.Equal(t, []string{"r3"}, out.Escalated)
	assert.Len(t, out.Failures, 1, "item failures do not fail the job")
}

func TestHandler_Execute_ExplicitAsOf(t *testing.T) {
	var got time.Time
	h := createTestHandler(t, &MockSweeper{SweepFunc: func(ctx context.Context, asOf time.Time) (*dispatcher.SweepResult, error) {
		got = asOf
		return &dispatcher.SweepResult{}, nil
	}})

	_, err := h.Execute(context.Background(), map[string]interface{}{"asOf": "2024-05-31T23:00:00+02:00"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 31, 21, 0, 0, 0, time.UTC), got)
}

func TestHandler_Execute_Errors(t *testing.T) {
	h := createTestHandler(t, &MockSweeper{SweepFunc: func(ctx context.Context, asOf time.Time) (*dispatcher.SweepResult, error) {
		return nil, errors.NewDatabaseQueryFailedError("list open requests", assert.AnError)
	}})

	_, err := h.Execute(context.Background(), map[string]interface{}{"asOf": false})
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, err = h.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, errors.ErrDatabase)
}
