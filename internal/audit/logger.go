package audit

import (
	"context"
	"errors"

	"github.com/onnwee/debatecast/internal/authz"
	"github.com/onnwee/debatecast/internal/middleware"
)

// OutcomeFor classifies the error returned by an audited action.
func OutcomeFor(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, authz.ErrAuthorizationDenied), errors.Is(err, authz.ErrInvalidTarget):
		return OutcomeDenied
	default:
		return OutcomeFailure
	}
}

// LogAction records the outcome of a moderator action. The request ID is
// taken from ctx if the entry has none. Only denials keep the error text as
// the reason; other failures may carry infrastructure detail.
func LogAction(ctx context.Context, log Log, entry Entry, err error) (*Record, error) {
	if log == nil {
		return nil, ErrNilLog
	}
	entry.Outcome = OutcomeFor(err)
	if entry.Outcome == OutcomeDenied {
		entry.Reason = err.Error()
	}
	if entry.RequestID == "" {
		entry.RequestID = middleware.GetRequestID(ctx)
	}
	return log.Append(ctx, entry)
}
