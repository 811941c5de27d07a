// Package errors provides the standardized error taxonomy shared by the matching
// engine, its HTTP surface and its Zeebe job workers.
package errors

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidBloodType ErrorCode = "INVALID_BLOOD_TYPE"

	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeRequestNotFound ErrorCode = "REQUEST_NOT_FOUND"
	ErrCodeMatchNotFound   ErrorCode = "MATCH_NOT_FOUND"

	ErrCodeNoCandidates      ErrorCode = "NO_CANDIDATES"
	ErrCodeMatchConflict     ErrorCode = "MATCH_CONFLICT"
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"

	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeLookupTimeout          ErrorCode = "LOOKUP_TIMEOUT"
	ErrCodeDatabaseQueryFailed    ErrorCode = "DATABASE_QUERY_FAILED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Is matches on code, so callers can test against the sentinels below with
// errors.Is regardless of message or details.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata attaches a key/value pair and returns the same error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// Sentinels for errors.Is checks.
var (
	ErrValidation        = &StandardError{Code: ErrCodeValidationFailed}
	ErrInvalidBloodType  = &StandardError{Code: ErrCodeInvalidBloodType}
	ErrNotFound          = &StandardError{Code: ErrCodeNotFound}
	ErrRequestNotFound   = &StandardError{Code: ErrCodeRequestNotFound}
	ErrMatchNotFound     = &StandardError{Code: ErrCodeMatchNotFound}
	ErrNoCandidates      = &StandardError{Code: ErrCodeNoCandidates}
	ErrMatchConflict     = &StandardError{Code: ErrCodeMatchConflict}
	ErrInvalidTransition = &StandardError{Code: ErrCodeInvalidTransition}
	ErrTransport         = &StandardError{Code: ErrCodeNotificationSendFailed}
	ErrLookupTimeout     = &StandardError{Code: ErrCodeLookupTimeout}
	ErrDatabase          = &StandardError{Code: ErrCodeDatabaseQueryFailed}
)

// ==========================
// 2. Error Constructors
// ==========================

// NewValidationError creates a non-retryable malformed-input error.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Input validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidBloodTypeError creates a non-retryable error for values outside the ABO/Rh enum.
func NewInvalidBloodTypeError(value string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidBloodType,
		Message:   "Unknown blood type",
		Details:   fmt.Sprintf("bloodType: %q", value),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotFoundError creates a non-retryable lookup miss for any resource kind.
func NewNotFoundError(resource, id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("%s not found", resource),
		Details:   fmt.Sprintf("%sId: %s", resource, id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRequestNotFoundError covers both unknown requests and requests that are not Open.
func NewRequestNotFoundError(requestID, reason string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRequestNotFound,
		Message:   "Blood request not found or not open",
		Details:   fmt.Sprintf("requestId: %s, reason: %s", requestID, reason),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewMatchNotFoundError creates a non-retryable unknown match error.
func NewMatchNotFoundError(matchID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMatchNotFound,
		Message:   "Match record not found",
		Details:   fmt.Sprintf("matchId: %s", matchID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNoCandidatesError reports a successful ranking that produced nothing.
func NewNoCandidatesError(requestID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNoCandidates,
		Message:   "No compatible donor found",
		Details:   fmt.Sprintf("requestId: %s", requestID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewMatchConflictError is raised by stores when a concurrent writer won the
// active-pair slot and the winner could not be re-read.
func NewMatchConflictError(requestID, donorID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMatchConflict,
		Message:   "Concurrent match write conflict",
		Details:   fmt.Sprintf("requestId: %s, donorId: %s", requestID, donorID),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidTransitionError rejects an edge missing from the match state machine.
func NewInvalidTransitionError(matchID, from, to string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidTransition,
		Message:   "Invalid match status transition",
		Details:   fmt.Sprintf("matchId: %s, from: %s, to: %s", matchID, from, to),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotificationSendFailedError creates a retryable transport error. The
// match or request id travels in Metadata so a scheduler can retry it.
func NewNotificationSendFailedError(channel, subjectID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   fmt.Sprintf("Notification delivery via %s failed", channel),
		Details:   err.Error(),
		Retryable: true,
		Metadata:  map[string]interface{}{"subjectId": subjectID, "channel": channel},
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewLookupTimeoutError creates a retryable timeout for external lookups.
func NewLookupTimeoutError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeLookupTimeout,
		Message:   fmt.Sprintf("Lookup '%s' timed out", operation),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewDatabaseQueryFailedError creates a retryable storage error.
func NewDatabaseQueryFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseQueryFailed,
		Message:   "Database query failed",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// ==========================
// 3. Classification
// ==========================

// Normalize ensures we always have a StandardError.
func Normalize(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if As(err, &stdErr) {
		return stdErr
	}
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// GetRetryCount returns the recommended retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeNotificationSendFailed,
		ErrCodeDatabaseQueryFailed,
		ErrCodeMatchConflict:
		return 3

	case ErrCodeLookupTimeout:
		return 2

	default:
		return 0
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// IsRetryable reports whether err (or anything it wraps) is a retryable StandardError.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if !As(err, &stdErr) {
		return false
	}
	return stdErr.Retryable
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "NOT_FOUND"):
		return "LOOKUP"
	case strings.Contains(codeStr, "INVALID") || strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "CONFLICT"):
		return "DATABASE"
	case strings.Contains(codeStr, "TIMEOUT"):
		return "TIMEOUT"
	case code == ErrCodeNoCandidates:
		return "MATCHING"
	default:
		return "OTHER"
	}
}

// HTTPStatus maps an error code onto the status the API layer returns.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeValidationFailed, ErrCodeInvalidBloodType:
		return http.StatusBadRequest
	case ErrCodeNotFound, ErrCodeRequestNotFound, ErrCodeMatchNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidTransition, ErrCodeMatchConflict:
		return http.StatusConflict
	case ErrCodeNotificationSendFailed:
		return http.StatusBadGateway
	case ErrCodeLookupTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeDatabaseQueryFailed:
		return http.StatusServiceUnavailable
	case ErrCodeNoCandidates:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
