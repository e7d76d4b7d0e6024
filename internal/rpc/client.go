package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Channel hands a request to the privileged side. Send does not wait for
// the response; responses come back through Client.Receive.
type Channel interface {
	Send(ctx context.Context, req Request) error
}

// MutationListener is told about every successful mutation on its route.
type MutationListener func(data json.RawMessage)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithTokenGenerator overrides how correlation tokens are minted.
func WithTokenGenerator(fn func() string) ClientOption {
	return func(c *Client) { c.newToken = fn }
}

// Client issues requests over a Channel and correlates the responses.
// It is safe for concurrent use; calls may complete in any order.
type Client struct {
	ch       Channel
	pending  *pendingTable
	newToken func() string
	logger   *slog.Logger

	mu           sync.Mutex
	listeners    map[string]map[int]MutationListener
	nextListener int
}

// NewClient creates a Client sending over ch.
func NewClient(ch Channel, opts ...ClientOption) *Client {
	c := &Client{
		ch:        ch,
		pending:   newPendingTable(),
		newToken:  uuid.NewString,
		logger:    slog.Default(),
		listeners: make(map[string]map[int]MutationListener),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call invokes route with in and decodes the result into out (which may be
// nil). Cancelling ctx abandons the call locally; no cancellation is sent.
func (c *Client) Call(ctx context.Context, route string, in, out any) error {
	data, err := c.roundTrip(ctx, route, in)
	if err != nil {
		return err
	}
	return decodeOutput(route, data, out)
}

// Mutate behaves like Call and, on success, notifies the route's mutation
// listeners.
func (c *Client) Mutate(ctx context.Context, route string, in, out any) error {
	data, err := c.roundTrip(ctx, route, in)
	if err != nil {
		return err
	}
	c.notify(route, data)
	return decodeOutput(route, data, out)
}

func (c *Client) roundTrip(ctx context.Context, route string, in any) (json.RawMessage, error) {
	input, err := encodeInput(in)
	if err != nil {
		return nil, fmt.Errorf("encoding %s input: %w", route, err)
	}

	id := c.newToken()
	wait, err := c.pending.add(id, route)
	if err != nil {
		return nil, err
	}

	if err := c.ch.Send(ctx, Request{ID: id, Route: route, Input: input}); err != nil {
		if c.pending.drop(id) {
			return nil, &TransportError{Route: route, Err: err}
		}
		// Settled concurrently; the result is already waiting.
	}

	select {
	case r := <-wait:
		return r.data, r.err
	case <-ctx.Done():
		if c.pending.drop(id) {
			return nil, ctx.Err()
		}
		r := <-wait
		return r.data, r.err
	}
}

// Receive handles one raw inbound message. Messages that are not response
// envelopes, and responses nobody is waiting for, are ignored.
func (c *Client) Receive(raw []byte) {
	resp, ok := parseResponse(raw)
	if !ok {
		c.logger.Debug("ignoring non-response message", "bytes", len(raw))
		return
	}
	if !c.Deliver(resp) {
		c.logger.Debug("ignoring response for unknown token", "id", resp.ID)
	}
}

// Deliver settles the call waiting on resp.ID. It reports whether one was
// pending.
func (c *Client) Deliver(resp Response) bool {
	return c.pending.settle(resp.ID, func(route string) result {
		if resp.Success {
			return result{data: resp.Data}
		}
		msg := resp.Error
		if msg == "" {
			msg = "unknown error"
		}
		return result{err: &RemoteError{Route: route, Message: msg}}
	})
}

// Pending returns the number of calls awaiting a response.
func (c *Client) Pending() int {
	return c.pending.len()
}

// Close rejects all pending calls and makes later calls fail with
// ErrClientClosed. cause, if non-nil, is included in the error.
func (c *Client) Close(cause error) {
	err := ErrClientClosed
	if cause != nil {
		err = fmt.Errorf("%w: %v", ErrClientClosed, cause)
	}
	if n := c.pending.closeAll(err); n > 0 {
		c.logger.Debug("rejected pending calls on close", "count", n)
	}
}

// OnMutation registers fn for successful mutations on route and returns a
// function that removes it.
func (c *Client) OnMutation(route string, fn MutationListener) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listeners[route] == nil {
		c.listeners[route] = make(map[int]MutationListener)
	}
	key := c.nextListener
	c.nextListener++
	c.listeners[route][key] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners[route], key)
	}
}

func (c *Client) notify(route string, data json.RawMessage) {
	c.mu.Lock()
	fns := make([]MutationListener, 0, len(c.listeners[route]))
	for _, fn := range c.listeners[route] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(data)
	}
}

func encodeInput(in any) (json.RawMessage, error) {
	switch v := in.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	}
	return json.Marshal(in)
}

func decodeOutput(route string, data json.RawMessage, out any) error {
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s output: %w", route, err)
	}
	return nil
}
