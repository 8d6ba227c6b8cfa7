package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/dkravtsov/authd/internal/logging"
	"github.com/dkravtsov/authd/internal/server/authz"
)

// Handler is the terminal stage of a chain: the operation logic itself.
type Handler func(ctx context.Context, params any) (any, error)

// Middleware wraps a Handler with an interceptor stage.
type Middleware func(next Handler) Handler

// Chain composes middleware around a handler. The first middleware runs
// outermost, i.e. Chain(h, a, b) executes a, then b, then h.
func Chain(h Handler, mw ...Middleware) Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// slowRequestThreshold triggers an extra warning from the logging stage.
const slowRequestThreshold = 500 * time.Millisecond

// Authorize evaluates the operation's declared requirements before anything
// downstream runs. On denial the chain stops: the handler is never invoked
// and no start entry is logged.
func Authorize(evaluator *authz.Evaluator, requirements []authz.Requirement) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, params any) (any, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := evaluator.Evaluate(ctx, UserIDFromContext(ctx), requirements); err != nil {
				return nil, err
			}
			return next(ctx, params)
		}
	}
}

// Logging records a start entry with caller metadata and redacted
// parameters, times the downstream call, and records a completion entry with
// the result type and elapsed milliseconds. A downstream failure is not
// logged here and not suppressed; it propagates to the failure stage, and no
// completion entry is written for it. The timer is local to the invocation,
// so concurrent requests through the same chain never share state.
func Logging(operation string, logger logging.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, params any) (any, error) {
			caller := CallerFromContext(ctx)

			logger.Info(ctx, "request started",
				"operation", operation,
				"client_ip", caller.RemoteAddr,
				"client_name", caller.Name,
				"host", caller.Host,
				"params", serializeParams(params),
			)

			started := time.Now()
			result, err := next(ctx, params)
			if err != nil {
				return nil, err
			}
			elapsed := time.Since(started)

			logger.Info(ctx, "request completed",
				"operation", operation,
				"result", fmt.Sprintf("%T", result),
				"duration_ms", elapsed.Milliseconds(),
				"client_ip", caller.RemoteAddr,
				"host", caller.Host,
			)

			if elapsed > slowRequestThreshold {
				logger.Warn(ctx, "long running request",
					"operation", operation,
					"duration_ms", elapsed.Milliseconds(),
				)
			}

			return result, nil
		}
	}
}

// FailureLogging logs any failure from the stages it wraps, with caller
// metadata and redacted parameters, then returns the failure unchanged. It
// never recovers and never converts one failure kind into another.
func FailureLogging(operation string, logger logging.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, params any) (any, error) {
			result, err := next(ctx, params)
			if err != nil {
				caller := CallerFromContext(ctx)
				logger.Error(ctx, "request failed",
					"operation", operation,
					"client_ip", caller.RemoteAddr,
					"client_name", caller.Name,
					"host", caller.Host,
					"params", serializeParams(params),
					"error", err.Error(),
				)
				return nil, err
			}
			return result, nil
		}
	}
}
