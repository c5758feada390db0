// Package retry implements RetryController (C6): sweeps an LLM's fallback
// list with exponential backoff between passes, bounded by a per-request
// elapsed-time cap (spec §4.6).
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"ensemblegateway/internal/gwerrors"
)

// Options configures the sweep. Grounded on the teacher's retry usage of
// cenkalti/backoff for upstream calls, generalized to a per-model list
// instead of a single endpoint.
type Options struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsedTime  time.Duration
}

// DefaultOptions mirrors spec §4.6's defaults.
func DefaultOptions() Options {
	return Options{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
		MaxElapsedTime:  60 * time.Second,
	}
}

// Attempt is invoked once per model id per pass, in order; a nil error ends
// the sweep successfully, a retryable gwerrors.Error moves on to the next
// model, and any other error aborts the sweep immediately. When every model
// of a pass has failed retryably, the sweep backs off and starts the next
// pass from the first model.
type Attempt func(ctx context.Context, modelID string) error

// Sweep tries each of models in order, applying exponential backoff between
// full passes over the list within the elapsed-time cap. It stops at the first success, the
// first non-retryable error, or when the time budget is exhausted — in
// which case it returns the accumulated retryable errors via
// gwerrors.MultipleErrors.
func Sweep(ctx context.Context, opts Options, models []string, attempt Attempt) error {
	if len(models) == 0 {
		return gwerrors.New(gwerrors.KindNoUpstreamsFound, "no models to try")
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.InitialInterval
	b.MaxInterval = opts.MaxInterval
	b.Multiplier = opts.Multiplier

	var errs []error

	operation := func() (struct{}, error) {
		for _, modelID := range models {
			err := attempt(ctx, modelID)
			if err == nil {
				return struct{}{}, nil
			}

			var gwErr *gwerrors.Error
			retryable := errors.As(err, &gwErr) && gwerrors.Retryable(gwErr.Message.Kind)
			if !retryable {
				return struct{}{}, backoff.Permanent(err)
			}

			errs = append(errs, err)
		}
		return struct{}{}, gwerrors.MultipleErrors(errs)
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(opts.MaxElapsedTime),
	)
	if err == nil {
		return nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Unwrap()
	}
	if len(errs) > 0 {
		return gwerrors.MultipleErrors(errs)
	}
	return err
}
