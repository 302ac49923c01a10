package payment

import (
	"context"
	"errors"
	"time"

	"github.com/evpower/csms/internal/infrastructure/circuitbreaker"
)

// permanentError marks a failure that retrying cannot fix (4xx, bad payload).
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func isPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// retry runs fn up to maxRetries times with exponential backoff starting at
// initialRetryDelay. Permanent failures and breaker rejections short-circuit.
func retry(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := initialRetryDelay

	for i := 0; i < maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if isPermanent(err) || circuitbreaker.IsCircuitOpen(err) || circuitbreaker.IsTooManyRequests(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			delay *= 2
		}
	}
	return lastErr
}
