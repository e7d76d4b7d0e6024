package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// captureChannel records requests so tests can answer them in any order.
type captureChannel struct {
	sent      chan Request
	failRoute string
}

func newCaptureChannel() *captureChannel {
	return &captureChannel{sent: make(chan Request, 64)}
}

func (c *captureChannel) Send(_ context.Context, req Request) error {
	if req.Route == c.failRoute {
		return errors.New("could not establish connection: receiving end does not exist")
	}
	c.sent <- req
	return nil
}

func (c *captureChannel) next(t *testing.T) Request {
	t.Helper()
	select {
	case req := <-c.sent:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a request")
		return Request{}
	}
}

func respond(t *testing.T, c *Client, resp Response) {
	t.Helper()
	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	c.Receive(raw)
}

func TestClientCorrelatesOutOfOrderResponses(t *testing.T) {
	ch := newCaptureChannel()
	c := NewClient(ch)

	const n = 20
	results := make([]int, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var out echoInput
			errs[i] = c.Call(context.Background(), "echo", echoInput{Value: i}, &out)
			results[i] = out.Value
		}(i)
	}

	reqs := make([]Request, 0, n)
	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		req := ch.next(t)
		if seen[req.ID] {
			t.Fatalf("token %q reused for concurrent calls", req.ID)
		}
		seen[req.ID] = true
		reqs = append(reqs, req)
	}

	// Answer in reverse arrival order, echoing each request's own input.
	for i := len(reqs) - 1; i >= 0; i-- {
		respond(t, c, Success(reqs[i].ID, reqs[i].Input))
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Errorf("call %d: %v", i, errs[i])
		}
		if results[i] != i {
			t.Errorf("call %d got %d", i, results[i])
		}
	}
	if p := c.Pending(); p != 0 {
		t.Errorf("Pending = %d after all settled", p)
	}
}

func TestClientSettlesAtMostOnce(t *testing.T) {
	ch := newCaptureChannel()
	c := NewClient(ch)

	done := make(chan error, 1)
	var out echoInput
	go func() { done <- c.Call(context.Background(), "echo", echoInput{Value: 1}, &out) }()

	req := ch.next(t)
	if !c.Deliver(Success(req.ID, json.RawMessage(`{"value":1}`))) {
		t.Fatal("first delivery not accepted")
	}
	if c.Deliver(Success(req.ID, json.RawMessage(`{"value":2}`))) {
		t.Error("duplicate delivery was accepted")
	}
	if c.Deliver(Failure(req.ID, errors.New("late"))) {
		t.Error("late failure was accepted")
	}

	if err := <-done; err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out.Value != 1 {
		t.Errorf("Value = %d, want 1", out.Value)
	}
}

func TestClientIgnoresForeignMessages(t *testing.T) {
	ch := newCaptureChannel()
	c := NewClient(ch)

	done := make(chan error, 1)
	go func() { done <- c.Call(context.Background(), "echo", nil, nil) }()
	req := ch.next(t)

	c.Receive([]byte(`not json`))
	c.Receive([]byte(`{"action":"captureScreenshot","bookmarkId":"12"}`))
	c.Receive([]byte(`{"id":"` + req.ID + `","route":"echo"}`))
	respond(t, c, Success("someone-else", nil))

	select {
	case err := <-done:
		t.Fatalf("call settled by a foreign message: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	respond(t, c, Success(req.ID, nil))
	if err := <-done; err != nil {
		t.Fatalf("Call: %v", err)
	}
}

func TestClientFailureResponse(t *testing.T) {
	ch := newCaptureChannel()
	c := NewClient(ch)

	done := make(chan error, 1)
	go func() { done <- c.Call(context.Background(), "deleteBookmark", nil, nil) }()
	req := ch.next(t)
	respond(t, c, Response{ID: req.ID, Success: false, Error: "bookmark not found"})

	err := <-done
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("error = %v, want *RemoteError", err)
	}
	if remote.Message != "bookmark not found" || remote.Route != "deleteBookmark" {
		t.Errorf("remote = %+v", remote)
	}
}

func TestClientTransportErrorAffectsOnlyThatCall(t *testing.T) {
	ch := newCaptureChannel()
	ch.failRoute = "broken"
	c := NewClient(ch)

	done := make(chan error, 1)
	go func() { done <- c.Call(context.Background(), "echo", nil, nil) }()
	req := ch.next(t)

	err := c.Call(context.Background(), "broken", nil, nil)
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("error = %v, want *TransportError", err)
	}
	if terr.Route != "broken" {
		t.Errorf("Route = %q", terr.Route)
	}

	if p := c.Pending(); p != 1 {
		t.Fatalf("Pending = %d, want the unrelated call still pending", p)
	}
	respond(t, c, Success(req.ID, nil))
	if err := <-done; err != nil {
		t.Errorf("unrelated call failed: %v", err)
	}
}

func TestClientContextCancelDropsEntry(t *testing.T) {
	ch := newCaptureChannel()
	c := NewClient(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Call(ctx, "slow", nil, nil) }()
	req := ch.next(t)

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending = %d after cancel", c.Pending())
	}
	if c.Deliver(Success(req.ID, nil)) {
		t.Error("late response for a cancelled call was accepted")
	}
}

func TestClientCloseRejectsPending(t *testing.T) {
	ch := newCaptureChannel()
	c := NewClient(ch)

	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { done <- c.Call(context.Background(), "echo", nil, nil) }()
		ch.next(t)
	}

	c.Close(errors.New("connection reset"))
	for i := 0; i < 2; i++ {
		if err := <-done; !errors.Is(err, ErrClientClosed) {
			t.Errorf("error = %v, want ErrClientClosed", err)
		}
	}
	if err := c.Call(context.Background(), "echo", nil, nil); !errors.Is(err, ErrClientClosed) {
		t.Errorf("call after close: %v", err)
	}
}

func TestClientRefusesReusedToken(t *testing.T) {
	ch := newCaptureChannel()
	c := NewClient(ch, WithTokenGenerator(func() string { return "fixed" }))

	done := make(chan error, 1)
	go func() { done <- c.Call(context.Background(), "echo", nil, nil) }()
	ch.next(t)

	if err := c.Call(context.Background(), "echo", nil, nil); err == nil {
		t.Fatal("second call with a pending token succeeded")
	}
	respond(t, c, Success("fixed", nil))
	if err := <-done; err != nil {
		t.Errorf("first call: %v", err)
	}
}

func TestMutateNotifiesListeners(t *testing.T) {
	var counter atomic.Int32
	d := NewDispatcher(NewRouter(map[string]Procedure{
		"add": Mutation(nil, func(_ context.Context, in echoInput) (echoInput, error) {
			counter.Add(1)
			return in, nil
		}),
		"fail": Mutation(nil, func(context.Context, Empty) (Empty, error) {
			return Empty{}, errors.New("nope")
		}),
	}), nil)
	c := NewLocalClient(d)

	var got []string
	var mu sync.Mutex
	unsubscribe := c.OnMutation("add", func(data json.RawMessage) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(data))
	})
	c.OnMutation("fail", func(json.RawMessage) {
		t.Error("listener called for a failed mutation")
	})

	ctx := context.Background()
	if err := c.Mutate(ctx, "add", echoInput{Value: 3}, nil); err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if err := c.Call(ctx, "add", echoInput{Value: 4}, nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if err := c.Mutate(ctx, "fail", nil, nil); err == nil {
		t.Fatal("expected failure")
	}
	unsubscribe()
	if err := c.Mutate(ctx, "add", echoInput{Value: 5}, nil); err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != `{"value":3}` {
		t.Errorf("listener saw %v", got)
	}
	if counter.Load() != 3 {
		t.Errorf("handler ran %d times, want 3", counter.Load())
	}
}

func TestEndpointRoundTrip(t *testing.T) {
	double := NewQuery[echoInput, echoInput]("double")
	d := NewDispatcher(NewRouter(map[string]Procedure{
		double.Route: double.Procedure(nil, func(_ context.Context, in echoInput) (echoInput, error) {
			return echoInput{Value: in.Value * 2}, nil
		}),
	}), nil)
	c := NewLocalClient(d)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := double.Query(context.Background(), c, echoInput{Value: i})
			if err != nil {
				t.Errorf("Query(%d): %v", i, err)
				return
			}
			if out.Value != 2*i {
				t.Errorf("Query(%d) = %d", i, out.Value)
			}
		}(i)
	}
	wg.Wait()

	_, err := NewQuery[Empty, Empty]("nope").Query(context.Background(), c, Empty{})
	if err == nil || err.Error() != fmt.Sprintf("route %q not found", "nope") {
		t.Errorf("unknown route error = %v", err)
	}
}
