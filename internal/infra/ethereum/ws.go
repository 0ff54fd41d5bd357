package ethereum

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vietddude/orderwatch/internal/core/domain"
)

const (
	dialTimeout = 10 * time.Second
	// Push headers buffered per connection. The watcher may be busy walking
	// a reorg when a header arrives; beyond this the pump drops headers
	// rather than stalling call responses (the poll fallback recovers them).
	headerBuffer = 16
)

// WSClient dials a node over WebSocket and speaks JSON-RPC on it. It
// implements Source: each Connect opens a fresh connection with its own
// newHeads subscription.
type WSClient struct {
	url string
}

// NewWSClient validates the endpoint and returns a client. Only ws and wss
// schemes are supported; anything else is a configuration error reported
// before any connection is attempted.
func NewWSClient(rawURL string) (*WSClient, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse ethereum url: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported ethereum transport %q: use ws or wss", parsed.Scheme)
	}
	return &WSClient{url: rawURL}, nil
}

// Connect dials the node, subscribes to new heads and starts the read pump.
func (c *WSClient) Connect(ctx context.Context) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}

	conn := &wsConn{
		ws:      ws,
		pending: make(map[uint64]chan rpcResponse),
		headers: make(chan domain.Header, headerBuffer),
		closed:  make(chan struct{}),
	}
	go conn.readPump()

	var subID string
	if err := conn.call(ctx, "eth_subscribe", []any{"newHeads"}, &subID); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe new heads: %w", err)
	}
	conn.subID = subID
	return conn, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	result json.RawMessage
	err    error
}

// rpcMessage covers both call responses and subscription notifications.
type rpcMessage struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Method string          `json:"method"`
	Params *struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

type wsConn struct {
	ws    *websocket.Conn
	subID string

	writeMu sync.Mutex // serializes writes to the socket

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan rpcResponse
	err     error

	headers   chan domain.Header
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) Headers() <-chan domain.Header { return c.headers }

func (c *wsConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *wsConn) Close() error {
	c.shutdown(ErrConnClosed)
	return nil
}

// LatestHeader fetches the current chain tip.
func (c *wsConn) LatestHeader(ctx context.Context) (domain.Header, error) {
	return c.fetchHeader(ctx, "eth_getBlockByNumber", "latest")
}

// HeaderByHash fetches a header by block hash.
func (c *wsConn) HeaderByHash(ctx context.Context, hash string) (domain.Header, error) {
	return c.fetchHeader(ctx, "eth_getBlockByHash", hash)
}

func (c *wsConn) fetchHeader(ctx context.Context, method string, id string) (domain.Header, error) {
	var raw json.RawMessage
	if err := c.call(ctx, method, []any{id, false}, &raw); err != nil {
		return domain.Header{}, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return domain.Header{}, ErrNotFound
	}
	return decodeHeader(raw)
}

// call issues a JSON-RPC request and decodes the result into out.
func (c *wsConn) call(ctx context.Context, method string, params []any, out any) error {
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.nextID++
	id := c.nextID
	ch := make(chan rpcResponse, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	c.writeMu.Lock()
	err := c.ws.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.unregister(id)
		return fmt.Errorf("write %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.unregister(id)
		return ctx.Err()
	case <-c.closed:
		return c.Err()
	case resp := <-ch:
		if resp.err != nil {
			return resp.err
		}
		if out != nil {
			if err := json.Unmarshal(resp.result, out); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	}
}

func (c *wsConn) unregister(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// readPump routes incoming frames: call responses to their waiters by id,
// subscription notifications to the header channel.
func (c *wsConn) readPump() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown(fmt.Errorf("read message: %w", err))
			return
		}

		var msg rpcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Malformed frame from node", "error", err, "data_len", len(data))
			continue
		}

		switch {
		case msg.ID != nil:
			c.mu.Lock()
			ch, ok := c.pending[*msg.ID]
			delete(c.pending, *msg.ID)
			c.mu.Unlock()
			if !ok {
				continue
			}
			if msg.Error != nil {
				ch <- rpcResponse{err: msg.Error}
			} else {
				ch <- rpcResponse{result: msg.Result}
			}

		case msg.Method == "eth_subscription" && msg.Params != nil:
			header, err := decodeHeader(msg.Params.Result)
			if err != nil {
				slog.Warn("Undecodable header notification", "error", err)
				continue
			}
			select {
			case c.headers <- header:
			default:
				// Watcher is mid-resolution; the poll fallback will
				// pick the tip up again.
				slog.Debug("Dropping pushed header, buffer full", "number", header.Number)
			}
		}
	}
}

// shutdown fails all pending calls and closes the header stream.
func (c *wsConn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = cause
		pending := c.pending
		c.pending = make(map[uint64]chan rpcResponse)
		c.mu.Unlock()

		for _, ch := range pending {
			ch <- rpcResponse{err: cause}
		}
		close(c.closed)
		close(c.headers)
		_ = c.ws.Close()
	})
}
