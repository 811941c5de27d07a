// Package deadline bounds calls to external stores and services.
package deadline

import (
	"context"
	stderrors "errors"
	"time"

	"donor-matching/internal/common/errors"
)

// Context derives a context that expires after timeout. A non-positive
// timeout only adds cancellation.
func Context(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// Call runs fn under a lookup deadline. Expiry of that deadline, as opposed
// to the caller's own context, becomes a retryable LOOKUP_TIMEOUT.
func Call[T any](ctx context.Context, timeout time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	lctx, cancel := Context(ctx, timeout)
	defer cancel()

	v, err := fn(lctx)
	if err == nil {
		return v, nil
	}
	if ctx.Err() == nil && (lctx.Err() == context.DeadlineExceeded || stderrors.Is(err, context.DeadlineExceeded)) {
		var zero T
		return zero, errors.NewLookupTimeoutError(op, err)
	}
	return v, err
}
