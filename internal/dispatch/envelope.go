// internal/dispatch/envelope.go
package dispatch

import (
	"context"
	"fmt"

	"ai-orchestrator/internal/domain"
)

// Wrap runs fn inline and turns its outcome into an envelope. Errors and
// panics become FAILURE with a non-empty error text; nothing propagates.
func Wrap(ctx context.Context, fn func(ctx context.Context) (any, error)) (env domain.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			env = Failure(fmt.Errorf("panic: %v", rec))
		}
	}()

	result, err := fn(ctx)
	if err != nil {
		return Failure(err)
	}
	return Success(result)
}

// Success builds a SUCCESS envelope.
func Success(result any) domain.Envelope {
	return domain.Envelope{Status: domain.TaskStateSuccess, Result: result}
}

// Failure builds a FAILURE envelope from err.
func Failure(err error) domain.Envelope {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if msg == "" {
		msg = "unknown error"
	}
	kind := domain.KindOf(err)
	if kind == "" {
		kind = domain.KindUnknown
	}
	return domain.Envelope{Status: domain.TaskStateFailure, Error: msg, Kind: kind}
}
