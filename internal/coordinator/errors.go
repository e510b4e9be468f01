package coordinator

import (
	"errors"
	"fmt"
)

var (
	// ErrExternalProviderUnavailable wraps Debate Store, Room Provider and
	// vote ledger failures. Callers may retry.
	ErrExternalProviderUnavailable = errors.New("external provider unavailable")

	// ErrValidation is returned for malformed client input.
	ErrValidation = errors.New("invalid request")

	// ErrRateLimited is returned when an identity exceeds its chat or
	// reaction allowance.
	ErrRateLimited = errors.New("rate limited")

	// ErrFeedbackClosed is returned when feedback is submitted before the
	// debate has completed.
	ErrFeedbackClosed = errors.New("feedback opens once the debate is completed")
)

// RateLimitError carries the retry delay of a rejected action.
type RateLimitError struct {
	RetryAfter int // seconds
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %ds", ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrExternalProviderUnavailable, op, err)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
