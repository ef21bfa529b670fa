// Package gateway owns the backend transport: a WebSocket RPC client with an
// asynchronous event stream, and a supervisor that keeps the connection alive.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clawdhq/clawd-go/internal/protocol/wire"
	"github.com/clawdhq/clawd-go/pkg/logger"
)

const (
	// handshakeTimeout bounds the dial plus connect-RPC round trip.
	handshakeTimeout = 15 * time.Second

	// clientName identifies this bridge in the connect handshake.
	clientName = "clawd-acp"
)

// ErrNotConnected is returned when an RPC is attempted without a live
// transport.
var ErrNotConnected = errors.New("gateway: not connected")

// DisconnectedError reports a closed connection, carrying the WebSocket close
// code and reason so callers can surface them.
type DisconnectedError struct {
	Code   int
	Reason string
}

func (e *DisconnectedError) Error() string {
	return fmt.Sprintf("gateway disconnected (code %d): %s", e.Code, e.Reason)
}

// RPCError is a gateway-reported RPC failure.
type RPCError struct {
	Method  string
	Code    string
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("gateway rpc %s failed: %s", e.Method, e.Message)
}

// RPC is the outbound call surface a transport provides to the translator.
type RPC interface {
	// Call performs an id-correlated request/response round trip. result may
	// be nil when the caller only needs success/failure.
	Call(ctx context.Context, method string, params, result any) error
}

// Transport is the connection surface the supervisor manages. *Client is the
// production implementation; tests substitute fakes.
type Transport interface {
	RPC
	// OnEvent registers the consumer for inbound event frames. Must be called
	// before Connect.
	OnEvent(fn func(wire.Frame))
	// Connect dials the gateway and completes the auth handshake.
	Connect(ctx context.Context) error
	// Wait blocks until the connection closes and returns the close code and
	// reason.
	Wait(ctx context.Context) (code int, reason string)
	// Close shuts the connection down cleanly.
	Close() error
}

type callResult struct {
	payload json.RawMessage
	err     error
}

// Client is a single-use WebSocket connection to the gateway. A Client that
// has disconnected stays disconnected; the supervisor constructs a fresh one
// per attempt.
type Client struct {
	url    string
	token  string
	dialer *websocket.Dialer

	onEvent func(wire.Frame)

	// writeMu serializes frame writes on the conn.
	writeMu sync.Mutex

	mu          sync.Mutex
	conn        *websocket.Conn
	nextID      int64
	pending     map[int64]chan callResult
	closed      bool
	closeCode   int
	closeReason string

	closedCh  chan struct{}
	closeOnce sync.Once
}

var _ Transport = (*Client)(nil)

// NewClient creates an unconnected gateway client.
func NewClient(url, token string) *Client {
	return &Client{
		url:      url,
		token:    token,
		dialer:   &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		pending:  make(map[int64]chan callResult),
		closedCh: make(chan struct{}),
	}
}

// OnEvent registers the consumer for inbound event frames.
func (c *Client) OnEvent(fn func(wire.Frame)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = fn
}

// Connect dials the gateway, starts the read loop, and performs the connect
// handshake. On handshake failure the connection is torn down.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	hdr := http.Header{}
	if c.token != "" {
		hdr.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, hdr)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return fmt.Errorf("gateway dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)

	var hello wire.ConnectResponse
	req := wire.ConnectRequest{Token: c.token, Client: clientName}
	if err := c.Call(ctx, wire.MethodConnect, req, &hello); err != nil {
		_ = c.Close()
		return fmt.Errorf("gateway handshake: %w", err)
	}

	logger.Infof("gateway connected: %s (server=%s %s)", c.url, hello.Server, hello.ServerVersion)
	return nil
}

// Call performs an RPC round trip over the connection.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal %s params: %w", method, err)
		}
		raw = data
	}

	c.mu.Lock()
	if c.conn == nil || c.closed {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.nextID++
	id := c.nextID
	ch := make(chan callResult, 1)
	c.pending[id] = ch
	conn := c.conn
	c.mu.Unlock()

	frame := wire.Request{Type: wire.FrameRequest, ID: id, Method: method, Params: raw}
	c.writeMu.Lock()
	err := conn.WriteJSON(frame)
	c.writeMu.Unlock()
	if err != nil {
		c.dropPending(id)
		return fmt.Errorf("gateway write %s: %w", method, err)
	}
	logger.Tracef("gateway -> %s (id=%d)", method, id)

	select {
	case res := <-ch:
		if res.err != nil {
			if rpcErr, ok := res.err.(*RPCError); ok {
				rpcErr.Method = method
			}
			return res.err
		}
		if result != nil && len(res.payload) > 0 {
			if err := json.Unmarshal(res.payload, result); err != nil {
				return fmt.Errorf("unmarshal %s payload: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.dropPending(id)
		return ctx.Err()
	}
}

// Wait blocks until the connection closes or the context is done.
func (c *Client) Wait(ctx context.Context) (int, string) {
	select {
	case <-c.closedCh:
	case <-ctx.Done():
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

// Close shuts the connection down with a normal close frame.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	c.finish(websocket.CloseNormalClosure, "closed by client")
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			reason := err.Error()
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				code = closeErr.Code
				reason = closeErr.Text
			}
			c.finish(code, reason)
			return
		}

		var f wire.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			logger.Debugf("gateway: dropping malformed frame: %v", err)
			continue
		}
		switch f.Type {
		case wire.FrameResponse:
			c.deliver(f)
		case wire.FrameEvent:
			c.mu.Lock()
			fn := c.onEvent
			c.mu.Unlock()
			if fn != nil {
				fn(f)
			}
		default:
			logger.Tracef("gateway: dropping frame of unknown type %q", f.Type)
		}
	}
}

// deliver resolves the pending call matching a response frame.
func (c *Client) deliver(f wire.Frame) {
	c.mu.Lock()
	ch, ok := c.pending[f.ID]
	delete(c.pending, f.ID)
	c.mu.Unlock()
	if !ok {
		logger.Debugf("gateway: response for unknown call id %d", f.ID)
		return
	}

	if !f.OK {
		msg := "unknown error"
		code := ""
		if f.Error != nil {
			msg = f.Error.Message
			code = f.Error.Code
		}
		ch <- callResult{err: &RPCError{Code: code, Message: msg}}
		return
	}
	ch <- callResult{payload: f.Payload}
}

// finish marks the connection closed, fails all in-flight calls, and releases
// Wait. Idempotent; the first close code wins.
func (c *Client) finish(code int, reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.closeCode = code
		c.closeReason = reason
		pending := c.pending
		c.pending = make(map[int64]chan callResult)
		conn := c.conn
		c.mu.Unlock()

		if conn != nil {
			_ = conn.Close()
		}
		for _, ch := range pending {
			ch <- callResult{err: &DisconnectedError{Code: code, Reason: reason}}
		}
		close(c.closedCh)
		logger.Debugf("gateway connection closed (code=%d reason=%q)", code, reason)
	})
}

func (c *Client) dropPending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
