package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/kalambet/markd/internal/backend"
	"github.com/kalambet/markd/internal/procedures"
	"github.com/kalambet/markd/internal/rpc"
	"github.com/kalambet/markd/internal/storage"
	"github.com/kalambet/markd/internal/transport/ws"
)

const testToken = "test-token"

func newTestHost(t *testing.T) *backend.Host {
	t.Helper()
	h := backend.New(func(ctx context.Context) (*rpc.Router, io.Closer, error) {
		store, err := storage.Open(ctx, ":memory:", storage.Options{})
		if err != nil {
			return nil, nil, err
		}
		router, err := procedures.NewRouter(store)
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		return router, store, nil
	}, nil)
	t.Cleanup(func() { h.Close() })
	return h
}

func newTestServer(t *testing.T, host Host) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewHandler(Deps{Host: host, Token: testToken}))
	t.Cleanup(srv.Close)
	return srv
}

func postRPC(t *testing.T, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/rpc", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /rpc: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response) rpc.Response {
	t.Helper()
	var out rpc.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	return out
}

func TestHealthIsPublic(t *testing.T) {
	host := newTestHost(t)
	srv := newTestServer(t, host)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" || body["database"] != "not_ready" {
		t.Errorf("body = %v", body)
	}
}

func TestHealthDegraded(t *testing.T) {
	host := backend.New(func(context.Context) (*rpc.Router, io.Closer, error) {
		return nil, nil, errors.New("file is not a database")
	}, nil)
	host.Wait(context.Background())
	srv := newTestServer(t, host)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}

	env := decodeResponse(t, postRPC(t, srv.URL, testToken, `{"id":"1","route":"getBookmarks"}`))
	if env.Success || !strings.HasPrefix(env.Error, "database not ready") {
		t.Errorf("envelope = %+v", env)
	}
}

func TestRPCRequiresToken(t *testing.T) {
	srv := newTestServer(t, newTestHost(t))

	for _, token := range []string{"", "wrong"} {
		resp := postRPC(t, srv.URL, token, `{"id":"1","route":"getBookmarks"}`)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", token, resp.StatusCode)
		}
	}
}

func TestPostRPC(t *testing.T) {
	srv := newTestServer(t, newTestHost(t))

	resp := postRPC(t, srv.URL, testToken, `{"id":"a1","route":"addBookmark","input":{"url":"https://go.dev","title":"Go","rating":5}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	env := decodeResponse(t, resp)
	if !env.Success || env.ID != "a1" {
		t.Fatalf("addBookmark envelope = %+v", env)
	}

	env = decodeResponse(t, postRPC(t, srv.URL, testToken, `{"route":"getBookmarks"}`))
	if env.ID == "" {
		t.Error("missing id not assigned")
	}
	var list []storage.Bookmark
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decoding bookmarks: %v", err)
	}
	if len(list) != 1 || list[0].Title != "Go" {
		t.Errorf("bookmarks = %+v", list)
	}

	env = decodeResponse(t, postRPC(t, srv.URL, testToken, `{"id":"a2","route":"addBookmark","input":{"url":"nope","title":"x"}}`))
	if env.Success || !strings.Contains(env.Error, "Please enter a valid URL") {
		t.Errorf("invalid input envelope = %+v", env)
	}
}

func TestPostRPCMalformed(t *testing.T) {
	srv := newTestServer(t, newTestHost(t))

	tests := []struct {
		body string
		want string
	}{
		{`{`, "invalid request body"},
		{`{"id":"1"}`, "route is required"},
	}
	for _, tt := range tests {
		resp := postRPC(t, srv.URL, testToken, tt.body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d", tt.body, resp.StatusCode)
		}
		b, _ := io.ReadAll(resp.Body)
		if !bytes.Contains(b, []byte(tt.want)) {
			t.Errorf("%s: body = %s", tt.body, b)
		}
	}
}

func TestRoutes(t *testing.T) {
	host := newTestHost(t)
	srv := newTestServer(t, host)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/routes", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("before ready: status = %d, want 503", resp.StatusCode)
	}

	if err := host.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var routes []rpc.RouteInfo
	if err := json.NewDecoder(resp.Body).Decode(&routes); err != nil {
		t.Fatalf("decoding routes: %v", err)
	}
	if len(routes) != 13 {
		t.Errorf("got %d routes", len(routes))
	}
}

func TestWebSocketRPC(t *testing.T) {
	srv := newTestServer(t, newTestHost(t))

	conn, err := ws.Dial(context.Background(), srv.URL+"/rpc", testToken)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	tag, err := procedures.AddTag.Mutate(context.Background(), conn.Client(), procedures.AddTagInput{Name: "reading"})
	if err != nil {
		t.Fatalf("addTag: %v", err)
	}
	tags, err := procedures.GetTags.Query(context.Background(), conn.Client(), rpc.Empty{})
	if err != nil {
		t.Fatalf("getTags: %v", err)
	}
	if len(tags) != 1 || tags[0].ID != tag.ID {
		t.Errorf("tags = %+v", tags)
	}
}

func TestWebSocketQueryToken(t *testing.T) {
	srv := newTestServer(t, newTestHost(t))
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/rpc"

	if _, resp, err := websocket.DefaultDialer.Dial(base+"?token=wrong", nil); err == nil {
		t.Fatal("dial with wrong token succeeded")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token response = %v", resp)
	}

	c, _, err := websocket.DefaultDialer.Dial(base+"?token="+testToken, nil)
	if err != nil {
		t.Fatalf("dial with query token: %v", err)
	}
	c.Close()
}
