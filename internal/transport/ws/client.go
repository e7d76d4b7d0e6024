package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kalambet/markd/internal/rpc"
)

// Conn is a client-side WebSocket channel. Its Client correlates responses
// read from the socket.
type Conn struct {
	ws     *websocket.Conn
	client *rpc.Client

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// Dial connects to a markd /rpc endpoint. A non-empty token is sent as a
// bearer credential.
func Dial(ctx context.Context, rawURL, token string, opts ...rpc.ClientOption) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing websocket url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: %w (status %d)", u.Redacted(), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing %s: %w", u.Redacted(), err)
	}
	ws.SetReadLimit(maxMessage)

	c := &Conn{ws: ws, done: make(chan struct{})}
	c.client = rpc.NewClient(c, opts...)
	go c.readLoop()
	return c, nil
}

// Client returns the RPC client bound to this connection.
func (c *Conn) Client() *rpc.Client {
	return c.client
}

// Send implements rpc.Channel.
func (c *Conn) Send(ctx context.Context, req rpc.Request) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return net.ErrClosed
	default:
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteMessage(websocket.TextMessage, raw)
}

func (c *Conn) readLoop() {
	defer close(c.done)
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				err = errors.New("connection closed")
			}
			c.client.Close(err)
			return
		}
		c.client.Receive(msg)
	}
}

// Done is closed once the connection's read loop has ended.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close sends a close frame, tears down the socket and rejects pending
// calls.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
		<-c.done
	})
	return err
}
