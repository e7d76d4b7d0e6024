package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Submitter accepts a request and eventually calls reply exactly once.
type Submitter interface {
	Submit(ctx context.Context, req Request, reply func(Response))
}

// Dispatcher resolves requests against a Router.
type Dispatcher struct {
	router *Router
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher. A nil logger uses slog.Default().
func NewDispatcher(router *Router, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{router: router, logger: logger}
}

// Handle executes req and returns its response. Every outcome, including a
// panicking handler, becomes a Response carrying req.ID.
func (d *Dispatcher) Handle(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("procedure panicked", "route", req.Route, "id", req.ID, "panic", r)
			resp = Failure(req.ID, fmt.Errorf("internal error in %s: %v", req.Route, r))
		}
	}()

	proc, ok := d.router.Lookup(req.Route)
	if !ok {
		d.logger.Warn("route not found", "route", req.Route, "id", req.ID)
		return Failure(req.ID, &RouteNotFoundError{Route: req.Route})
	}

	input, err := proc.validate(req.Input)
	if err != nil {
		d.logger.Debug("input rejected", "route", req.Route, "id", req.ID, "error", err)
		return Failure(req.ID, err)
	}

	out, err := proc.handle(ctx, input)
	if err != nil {
		d.logger.Warn("procedure failed", "route", req.Route, "id", req.ID, "error", err)
		return Failure(req.ID, err)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return Failure(req.ID, fmt.Errorf("encoding %s output: %w", req.Route, err))
	}
	return Success(req.ID, data)
}

// Submit implements Submitter by handling req synchronously.
func (d *Dispatcher) Submit(ctx context.Context, req Request, reply func(Response)) {
	reply(d.Handle(ctx, req))
}
