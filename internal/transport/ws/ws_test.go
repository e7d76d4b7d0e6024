package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kalambet/markd/internal/rpc"
)

type numInput struct {
	N int `json:"n"`
}

func squareDispatcher() *rpc.Dispatcher {
	return rpc.NewDispatcher(rpc.NewRouter(map[string]rpc.Procedure{
		"square": rpc.Query(nil, func(_ context.Context, in numInput) (numInput, error) {
			// Larger inputs answer sooner so responses arrive out of order.
			time.Sleep(time.Duration(20-in.N) * time.Millisecond)
			return numInput{N: in.N * in.N}, nil
		}),
	}), nil)
}

// silent accepts requests and never replies.
type silent struct {
	got chan rpc.Request
}

func (s *silent) Submit(_ context.Context, req rpc.Request, _ func(rpc.Response)) {
	s.got <- req
}

func TestRoundTripOutOfOrder(t *testing.T) {
	srv := httptest.NewServer(Handler(squareDispatcher(), nil))
	defer srv.Close()

	conn, err := Dial(context.Background(), srv.URL, "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var out numInput
			if err := conn.Client().Call(context.Background(), "square", numInput{N: i}, &out); err != nil {
				t.Errorf("square(%d): %v", i, err)
				return
			}
			if out.N != i*i {
				t.Errorf("square(%d) = %d", i, out.N)
			}
		}(i)
	}
	wg.Wait()

	err = conn.Client().Call(context.Background(), "cube", numInput{N: 2}, nil)
	var remote *rpc.RemoteError
	if !errors.As(err, &remote) || !strings.Contains(remote.Message, "not found") {
		t.Errorf("unknown route error = %v", err)
	}
}

func TestServerIgnoresNonEnvelopes(t *testing.T) {
	srv := httptest.NewServer(Handler(squareDispatcher(), nil))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ws.Close()

	for _, msg := range []string{`garbage`, `{"route":"square"}`, `{"id":"7","route":"square","input":{"n":3}}`} {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp rpc.Response
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.ID != "7" || !resp.Success || string(resp.Data) != `{"n":9}` {
		t.Errorf("response = %+v", resp)
	}
}

func TestCloseRejectsPending(t *testing.T) {
	target := &silent{got: make(chan rpc.Request, 1)}
	srv := httptest.NewServer(Handler(target, nil))
	defer srv.Close()

	conn, err := Dial(context.Background(), srv.URL, "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- conn.Client().Call(context.Background(), "hang", nil, nil) }()
	<-target.got

	conn.Close()
	select {
	case err := <-done:
		if !errors.Is(err, rpc.ErrClientClosed) {
			t.Errorf("error = %v, want ErrClientClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending call not rejected on close")
	}

	if err := conn.Client().Call(context.Background(), "hang", nil, nil); !errors.Is(err, rpc.ErrClientClosed) {
		t.Errorf("call after close = %v", err)
	}
}

func TestDialSendsBearerToken(t *testing.T) {
	auth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		Handler(squareDispatcher(), nil)(w, r)
	}))
	defer srv.Close()

	conn, err := Dial(context.Background(), srv.URL, "s3cret")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn.Close()
	if got := <-auth; got != "Bearer s3cret" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestAllowedOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"chrome-extension://abcdefghijklmnop", true},
		{"moz-extension://1234", true},
		{"http://localhost:5173", true},
		{"http://127.0.0.1", true},
		{"http://localhost.evil.com", false},
		{"https://example.com", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/rpc", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := allowedOrigin(r); got != tt.want {
			t.Errorf("allowedOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
