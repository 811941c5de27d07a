// internal/workers/matching/batch-match/handler_test.go
package batchmatch

import (
	"context"
	"testing"
	"time"

	"donor-matching/internal/common/errors"
	"donor-matching/internal/common/logger"
	"donor-matching/internal/matching/orchestrator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

type MockBatchMatcher struct {
	BatchMatchFunc func(ctx context.Context, asOf time.Time) (*orchestrator.BatchResult, error)
}

func (m *MockBatchMatcher) BatchMatch(ctx context.Context, asOf time.Time) (*orchestrator.BatchResult, error) {
	return m.BatchMatchFunc(ctx, asOf)
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func createTestHandler(t *testing.T, m BatchMatcher) *Handler {
	h := NewHandler(&Config{Timeout: 10 * time.Second}, m, logger.NewTestLogger(t))
	h.now = func() time.Time { return fixedNow }
	return h
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_Success(t *testing.T) {
	tests := []struct {
		name     string
		vars     map[string]interface{}
		wantAsOf time.Time
	}{
		{name: "defaults to now", vars: map[string]interface{}{}, wantAsOf: fixedNow},
		{name: "nil variables", vars: nil, wantAsOf: fixedNow},
		{name: "explicit asOf", vars: map[string]interface{}{"asOf": "2024-05-01T00:00:00Z"}, wantAsOf: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got time.Time
			h := createTestHandler(t, &MockBatchMatcher{BatchMatchFunc: func(ctx context.Context, asOf time.Time) (*orchestrator.BatchResult, error) {
				got = asOf
				return &orchestrator.BatchResult{
					ProcessedCount:      3,
					NewMatchCount:       2,
					RequestsWithNoMatch: []string{"r2"},
					Failures:            []orchestrator.BatchFailure{},
				}, nil
			}})

			out, err := h.Execute(context.Background(), tt.vars)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAsOf, got)
			assert.Equal(t, 3, out.ProcessedCount)
			assert.Equal(t, 2, out.NewMatchCount)
			assert.Equal(t, []string{"r2"}, out.RequestsWithNoMatch)
		})
	}
}

func TestHandler_Execute_ValidationErrors(t *testing.T) {
	h := createTestHandler(t, &MockBatchMatcher{BatchMatchFunc: func(ctx context.Context, asOf time.Time) (*orchestrator.BatchResult, error) {
		t.Fatal("batch must not run on invalid input")
		return nil, nil
	}})

	_, err := h.Execute(context.Background(), map[string]interface{}{"asOf": 42})
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, err = h.Execute(context.Background(), map[string]interface{}{"asOf": "last tuesday"})
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestHandler_Execute_PropagatesRetryable(t *testing.T) {
	h := createTestHandler(t, &MockBatchMatcher{BatchMatchFunc: func(ctx context.Context, asOf time.Time) (*orchestrator.BatchResult, error) {
		return nil, errors.NewDatabaseQueryFailedError("list open requests", assert.AnError)
	}})

	_, err := h.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
}
