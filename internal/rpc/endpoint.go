package rpc

import "context"

// Endpoint is the typed handle for one route, shared by the side that
// registers the procedure and the side that calls it.
type Endpoint[In, Out any] struct {
	Route string
	Kind  Kind
}

// NewQuery declares a read-only endpoint.
func NewQuery[In, Out any](route string) Endpoint[In, Out] {
	return Endpoint[In, Out]{Route: route, Kind: KindQuery}
}

// NewMutation declares a mutating endpoint.
func NewMutation[In, Out any](route string) Endpoint[In, Out] {
	return Endpoint[In, Out]{Route: route, Kind: KindMutation}
}

// Procedure builds the server-side procedure for e with matching types.
func (e Endpoint[In, Out]) Procedure(validate Validator[In], handler func(context.Context, In) (Out, error)) Procedure {
	return newProcedure(e.Kind, validate, handler)
}

// Query calls e and returns its typed output.
func (e Endpoint[In, Out]) Query(ctx context.Context, c *Client, in In) (Out, error) {
	var out Out
	err := c.Call(ctx, e.Route, in, &out)
	return out, err
}

// Mutate calls e, notifying mutation listeners on success.
func (e Endpoint[In, Out]) Mutate(ctx context.Context, c *Client, in In) (Out, error) {
	var out Out
	err := c.Mutate(ctx, e.Route, in, &out)
	return out, err
}
