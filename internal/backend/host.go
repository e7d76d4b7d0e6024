// Package backend owns the privileged side of markd: it opens the database
// once, runs migrations, and dispatches RPC requests against the resulting
// router.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/kalambet/markd/internal/rpc"
)

// State is the lifecycle state of the database connection.
type State int

const (
	NotReady State = iota
	Ready
	Degraded
)

func (s State) String() string {
	switch s {
	case NotReady:
		return "not_ready"
	case Ready:
		return "ready"
	case Degraded:
		return "degraded"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// InitFunc opens the database, applies migrations and returns the router to
// dispatch against. The returned closer is released by Host.Close.
type InitFunc func(ctx context.Context) (*rpc.Router, io.Closer, error)

// ErrClosed is reported for requests reaching a closed Host.
var ErrClosed = errors.New("backend closed")

// NotReadyError is returned for every request once initialization failed.
type NotReadyError struct {
	Err error
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("database not ready: %v", e.Err)
}

func (e *NotReadyError) Unwrap() error {
	return e.Err
}

type queued struct {
	ctx   context.Context
	req   rpc.Request
	reply func(rpc.Response)
}

// Host gates RPC dispatch on database readiness. Requests that arrive before
// initialization finishes are queued and replayed in arrival order; if
// initialization fails the Host stays Degraded and every request fails fast.
type Host struct {
	init   InitFunc
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	started    bool
	initErr    error
	queue      []queued
	router     *rpc.Router
	dispatcher *rpc.Dispatcher
	closer     io.Closer
	done       chan struct{}
}

// New creates a Host. Initialization does not begin until Start or the first
// Submit.
func New(init InitFunc, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		init:   init,
		logger: logger.With("component", "backend"),
		done:   make(chan struct{}),
	}
}

// Start begins initialization if it has not begun already. It returns
// immediately; use Wait to block on the outcome.
func (h *Host) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.startLocked(ctx)
}

func (h *Host) startLocked(ctx context.Context) {
	if h.started {
		return
	}
	h.started = true
	go h.run(context.WithoutCancel(ctx))
}

func (h *Host) run(ctx context.Context) {
	h.logger.Info("initializing database")
	router, closer, err := h.safeInit(ctx)

	h.mu.Lock()
	if err == nil && h.initErr != nil {
		// Closed while initializing.
		err = h.initErr
		if closer != nil {
			closer.Close()
		}
	}
	if err != nil {
		h.state = Degraded
		h.initErr = err
		pending := h.queue
		h.queue = nil
		close(h.done)
		h.mu.Unlock()

		h.logger.Error("database initialization failed", "error", err, "queued", len(pending))
		for _, q := range pending {
			q.reply(rpc.Failure(q.req.ID, &NotReadyError{Err: err}))
		}
		return
	}
	h.router = router
	h.dispatcher = rpc.NewDispatcher(router, h.logger)
	h.closer = closer
	h.mu.Unlock()

	// Drain in arrival order. Requests arriving during the drain join the
	// queue, so none overtakes an earlier one.
	replayed := 0
	for {
		h.mu.Lock()
		pending := h.queue
		h.queue = nil
		if len(pending) == 0 {
			h.state = Ready
			close(h.done)
			h.mu.Unlock()
			break
		}
		h.mu.Unlock()
		for _, q := range pending {
			q.reply(h.dispatcher.Handle(q.ctx, q.req))
		}
		replayed += len(pending)
	}
	h.logger.Info("database ready", "routes", len(router.Routes()), "replayed", replayed)
}

func (h *Host) safeInit(ctx context.Context) (router *rpc.Router, closer io.Closer, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("initialization panicked: %v", r)
		}
	}()
	router, closer, err = h.init(ctx)
	if err == nil && router == nil {
		err = errors.New("initialization returned no router")
	}
	return router, closer, err
}

// Submit implements rpc.Submitter. reply is called exactly once, possibly
// after initialization completes.
func (h *Host) Submit(ctx context.Context, req rpc.Request, reply func(rpc.Response)) {
	h.mu.Lock()
	switch h.state {
	case NotReady:
		h.startLocked(ctx)
		h.queue = append(h.queue, queued{ctx: context.WithoutCancel(ctx), req: req, reply: reply})
		h.mu.Unlock()
		return
	case Degraded:
		err := h.initErr
		h.mu.Unlock()
		reply(rpc.Failure(req.ID, &NotReadyError{Err: err}))
		return
	}
	d := h.dispatcher
	h.mu.Unlock()
	reply(d.Handle(ctx, req))
}

// Call submits req and waits for its response or for ctx to end.
func (h *Host) Call(ctx context.Context, req rpc.Request) rpc.Response {
	ch := make(chan rpc.Response, 1)
	h.Submit(ctx, req, func(resp rpc.Response) { ch <- resp })
	select {
	case resp := <-ch:
		return resp
	case <-ctx.Done():
		return rpc.Failure(req.ID, ctx.Err())
	}
}

// Wait starts initialization if needed and blocks until it finishes. It
// returns the initialization error, if any.
func (h *Host) Wait(ctx context.Context) error {
	h.Start(ctx)
	select {
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == Degraded {
		return &NotReadyError{Err: h.initErr}
	}
	return nil
}

// State returns the current lifecycle state.
func (h *Host) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Router returns the active router, or nil before the Host is Ready.
func (h *Host) Router() *rpc.Router {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.router
}

// Close releases the database. Requests arriving afterwards fail with
// ErrClosed wrapped in a NotReadyError.
func (h *Host) Close() error {
	h.mu.Lock()
	started := h.started
	if !started {
		h.started = true
		h.state = Degraded
		h.initErr = ErrClosed
		close(h.done)
		h.mu.Unlock()
		return nil
	}
	if h.state == NotReady {
		h.initErr = ErrClosed
	}
	h.mu.Unlock()

	<-h.done

	h.mu.Lock()
	closer := h.closer
	h.closer = nil
	if h.state == Ready {
		h.state = Degraded
		h.initErr = ErrClosed
		h.router = nil
		h.dispatcher = nil
	}
	h.mu.Unlock()

	if closer != nil {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("closing database: %w", err)
		}
	}
	return nil
}
