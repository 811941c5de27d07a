package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIs_MatchesOnCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewMatchNotFoundError("m1"))

	assert.True(t, Is(err, ErrMatchNotFound))
	assert.False(t, Is(err, ErrNotFound))
	assert.False(t, Is(stderrors.New("plain"), ErrMatchNotFound))
}

func TestNormalize(t *testing.T) {
	assert.Nil(t, Normalize(nil))

	std := NewDatabaseQueryFailedError("get request", stderrors.New("conn reset"))
	assert.Same(t, std, Normalize(fmt.Errorf("ctx: %w", std)))

	plain := stderrors.New("boom")
	got := Normalize(plain)
	require.NotNil(t, got)
	assert.Equal(t, ErrCodeInternal, got.Code)
	assert.Equal(t, "boom", got.Details)
	assert.False(t, got.Retryable)
	assert.True(t, stderrors.Is(got, plain))
}

func TestRetryClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       *StandardError
		retries   int
		retryable bool
		category  string
		status    int
	}{
		{"validation", NewValidationError("bad"), 0, false, "VALIDATION", http.StatusBadRequest},
		{"blood type", NewInvalidBloodTypeError("C+"), 0, false, "VALIDATION", http.StatusBadRequest},
		{"request missing", NewRequestNotFoundError("r1", "not open"), 0, false, "LOOKUP", http.StatusNotFound},
		{"no candidates", NewNoCandidatesError("r1"), 0, false, "MATCHING", http.StatusOK},
		{"conflict", NewMatchConflictError("r1", "d1"), 3, true, "DATABASE", http.StatusConflict},
		{"transition", NewInvalidTransitionError("m1", "Completed", "Pending"), 0, false, "VALIDATION", http.StatusConflict},
		{"send failed", NewNotificationSendFailedError("email", "m1", stderrors.New("throttled")), 3, true, "NOTIFICATION", http.StatusBadGateway},
		{"lookup timeout", NewLookupTimeoutError("geocode", stderrors.New("deadline")), 2, true, "TIMEOUT", http.StatusGatewayTimeout},
		{"database", NewDatabaseQueryFailedError("list", stderrors.New("down")), 3, true, "DATABASE", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retries, GetRetryCount(tt.err.Code))
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.Equal(t, tt.retryable, IsRetryableErrorCode(tt.err.Code))
			assert.Equal(t, tt.category, GetErrorCategory(tt.err.Code))
			assert.Equal(t, tt.status, HTTPStatus(tt.err.Code))
		})
	}
}

func TestConvertToBPMNError(t *testing.T) {
	assert.Nil(t, ConvertToBPMNError(nil))

	std := NewMatchNotFoundError("m1").WithMetadata("requestId", "r1")
	vars := ConvertToBPMNError(std).ToErrorVariables()

	assert.Equal(t, "MATCH_NOT_FOUND", vars["errorCode"])
	assert.Equal(t, false, vars["errorRetryable"])
	assert.Equal(t, "r1", vars["error_requestId"])
}
