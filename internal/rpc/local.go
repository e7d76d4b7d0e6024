package rpc

import (
	"context"
	"encoding/json"
	"fmt"
)

// LocalChannel connects a Client to an in-process Submitter. Envelopes are
// serialized in both directions and responses arrive asynchronously, as they
// would over a real channel.
type LocalChannel struct {
	target  Submitter
	deliver func([]byte)
}

// NewLocalClient returns a Client wired to target through a LocalChannel.
func NewLocalClient(target Submitter, opts ...ClientOption) *Client {
	ch := &LocalChannel{target: target}
	c := NewClient(ch, opts...)
	ch.deliver = c.Receive
	return c
}

// Send implements Channel.
func (l *LocalChannel) Send(ctx context.Context, req Request) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	var wire Request
	if err := json.Unmarshal(raw, &wire); err != nil {
		return fmt.Errorf("decoding request: %w", err)
	}

	go l.target.Submit(context.WithoutCancel(ctx), wire, func(resp Response) {
		out, err := json.Marshal(resp)
		if err != nil {
			out, _ = json.Marshal(Failure(resp.ID, fmt.Errorf("encoding response: %w", err)))
		}
		l.deliver(out)
	})
	return nil
}
