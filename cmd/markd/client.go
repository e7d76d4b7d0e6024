package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kalambet/markd/internal/config"
	"github.com/kalambet/markd/internal/rpc"
	"github.com/kalambet/markd/internal/transport/ws"
)

type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	token, err := config.GetAPIToken(cfg)
	if err != nil {
		return nil, fmt.Errorf("getting API token: %w", err)
	}

	return &apiClient{
		baseURL:    cfg.BaseURL(),
		token:      token,
		httpClient: &http.Client{Timeout: cfg.ClientTimeout()},
	}, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is markd running? (%w)", err)
	}
	return resp, nil
}

func (c *apiClient) get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *apiClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// decodeJSON decodes a successful response into v. Error statuses become
// errors carrying the API's error message when the body has one.
func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode < 400 {
		return json.NewDecoder(resp.Body).Decode(v)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
	}
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, envelope.Error.Message)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// httpChannel carries RPC envelopes over POST /rpc. Each Send completes the
// exchange and hands the response to the client before returning.
type httpChannel struct {
	api    *apiClient
	client *rpc.Client
}

func (h *httpChannel) Send(ctx context.Context, req rpc.Request) error {
	resp, err := h.api.post(ctx, "/rpc", req)
	if err != nil {
		return err
	}
	var out rpc.Response
	if err := decodeJSON(resp, &out); err != nil {
		return err
	}
	if out.ID != req.ID {
		return fmt.Errorf("response id %q does not match request %q", out.ID, req.ID)
	}
	h.client.Deliver(out)
	return nil
}

// rpcClient returns a client for the procedure routes. With the ws transport
// all calls share one socket; release closes it.
func (c *apiClient) rpcClient(ctx context.Context) (client *rpc.Client, release func(), err error) {
	if transport == "ws" {
		conn, err := ws.Dial(ctx, c.baseURL+"/rpc", c.token)
		if err != nil {
			return nil, nil, fmt.Errorf("server not reachable, is markd running? (%w)", err)
		}
		return conn.Client(), func() { conn.Close() }, nil
	}
	ch := &httpChannel{api: c}
	ch.client = rpc.NewClient(ch)
	return ch.client, func() { ch.client.Close(nil) }, nil
}

// withRPC loads the client, connects and runs fn with a timeout from
// client.timeout.
func withRPC(ctx context.Context, fn func(ctx context.Context, c *rpc.Client) error) error {
	if err := checkTransport(); err != nil {
		return err
	}
	api, err := newAPIClient()
	if err != nil {
		return err
	}
	if api.httpClient.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, api.httpClient.Timeout)
		defer cancel()
	}
	client, release, err := api.rpcClient(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, client)
}
