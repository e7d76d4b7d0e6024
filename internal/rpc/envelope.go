// Package rpc implements typed request/response procedures carried over an
// asynchronous, fire-and-forget message channel.
//
// The privileged side registers procedures in a Router and answers requests
// with a Dispatcher. The calling side issues requests through a Client, which
// correlates each response to its caller by the request's token.
package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Request is the envelope sent from a caller to the privileged side.
type Request struct {
	ID    string          `json:"id"`
	Route string          `json:"route"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Response answers exactly one Request and carries the same ID.
// Data is meaningful only when Success is true, Error only when it is false.
type Response struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Success builds a successful response for request id.
func Success(id string, data json.RawMessage) Response {
	return Response{ID: id, Success: true, Data: data}
}

// Failure builds a failed response for request id.
func Failure(id string, err error) Response {
	msg := "unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return Response{ID: id, Success: false, Error: msg}
}

// parseResponse reports whether raw is a response envelope. Anything without
// an id and a success flag is not one.
func parseResponse(raw []byte) (Response, bool) {
	var probe struct {
		ID      *string         `json:"id"`
		Success *bool           `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Response{}, false
	}
	if probe.ID == nil || *probe.ID == "" || probe.Success == nil {
		return Response{}, false
	}
	return Response{ID: *probe.ID, Success: *probe.Success, Data: probe.Data, Error: probe.Error}, true
}

var (
	// ErrDuplicateRoute is returned by Merge when two routers share a route name.
	ErrDuplicateRoute = errors.New("duplicate route")
	// ErrClientClosed is returned for calls pending on, or issued to, a closed client.
	ErrClientClosed = errors.New("rpc client closed")
)

// ValidationError reports input that failed a procedure's validator.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// RouteNotFoundError reports a request for an unregistered route.
type RouteNotFoundError struct {
	Route string
}

func (e *RouteNotFoundError) Error() string {
	return fmt.Sprintf("route %q not found", e.Route)
}

// RemoteError is a failure response surfaced to the caller.
type RemoteError struct {
	Route   string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// TransportError reports that the channel could not deliver one request.
type TransportError struct {
	Route string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("sending %s: %v", e.Route, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
