package dispatch

import (
	"context"
	"fmt"

	"github.com/dkravtsov/authd/internal/logging"
	"github.com/dkravtsov/authd/internal/server/authz"
)

// Dispatcher holds the registered operations and their composed chains.
// Register everything at startup; Dispatch is safe for concurrent use once
// registration is done.
type Dispatcher struct {
	evaluator *authz.Evaluator
	logger    logging.Logger
	ops       map[string]Handler
}

func NewDispatcher(evaluator *authz.Evaluator, logger logging.Logger) *Dispatcher {
	return &Dispatcher{
		evaluator: evaluator,
		logger:    logger.With("module", "dispatch"),
		ops:       make(map[string]Handler),
	}
}

// Register attaches a handler and its authorization requirements to an
// operation name and composes the interceptor chain around it. An empty
// requirements slice declares a public operation. Registering the same name
// twice is an error.
func (d *Dispatcher) Register(name string, requirements []authz.Requirement, handler Handler) error {
	if _, exists := d.ops[name]; exists {
		return fmt.Errorf("dispatch: operation %q is already registered", name)
	}

	d.ops[name] = Chain(handler,
		Authorize(d.evaluator, requirements),
		Logging(name, d.logger),
		FailureLogging(name, d.logger),
	)
	return nil
}

// Dispatch runs the named operation through its chain.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, params any) (any, error) {
	h, ok := d.ops[name]
	if !ok {
		return nil, fmt.Errorf("dispatch: unknown operation %q", name)
	}
	return h(ctx, params)
}
