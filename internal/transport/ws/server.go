// Package ws carries RPC envelopes over WebSocket text messages: one
// envelope per message, responses written as they complete.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kalambet/markd/internal/rpc"
)

const (
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 25 * time.Second
	maxMessage   = 8 << 20
)

// allowedOrigin accepts non-browser clients, browser extensions and pages
// served from localhost.
func allowedOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, prefix := range []string{"chrome-extension://", "moz-extension://", "safari-web-extension://"} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	for _, host := range []string{"http://localhost", "http://127.0.0.1"} {
		if origin == host || strings.HasPrefix(origin, host+":") {
			return true
		}
	}
	return false
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowedOrigin,
}

// Handler upgrades the connection and serves requests to target until the
// peer disconnects. Requests run concurrently; responses go out in
// completion order.
func Handler(target rpc.Submitter, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ws")

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()
		conn.SetReadLimit(maxMessage)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		var writeMu sync.Mutex
		write := func(resp rpc.Response) {
			raw, err := json.Marshal(resp)
			if err != nil {
				logger.Error("encoding response", "id", resp.ID, "error", err)
				return
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				logger.Debug("writing response", "id", resp.ID, "error", err)
				cancel()
			}
		}

		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		go keepalive(ctx, conn, cancel)

		logger.Debug("client connected", "remote", r.RemoteAddr)
		var inflight sync.WaitGroup
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Debug("websocket read ended", "error", err)
				}
				break
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))

			var req rpc.Request
			if err := json.Unmarshal(msg, &req); err != nil || req.ID == "" {
				logger.Debug("ignoring message without a request envelope", "bytes", len(msg))
				continue
			}

			inflight.Add(1)
			go func() {
				defer inflight.Done()
				target.Submit(ctx, req, write)
			}()
		}
		cancel()
		inflight.Wait()
		logger.Debug("client disconnected", "remote", r.RemoteAddr)
	}
}

func keepalive(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				cancel()
				return
			}
		}
	}
}
