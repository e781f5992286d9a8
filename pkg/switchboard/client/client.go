// Package client is a Go client for the switchboard protocol. It correlates
// request/response pairs over one WebSocket connection, delivers pushed
// events to a handler and can reconnect and restore its topic subscription
// after a connection loss.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/tsarna/switchboard/pkg/switchboard/envelope"
	"github.com/tsarna/switchboard/pkg/switchboard/rpc"
	"go.uber.org/zap"
)

var (
	// ErrDisconnected fails every call pending when the connection is lost.
	ErrDisconnected = errors.New("disconnected")

	// ErrTimeout is returned when no response arrives within the request
	// timeout.
	ErrTimeout = errors.New("request timed out")

	// ErrNotConnected is returned by calls made while no connection is open.
	ErrNotConnected = errors.New("client is not connected")
)

// EventHandler receives events pushed by the server.
type EventHandler func(ctx context.Context, ev *envelope.Event)

// Connector is the part of a Client a Monitor may drive.
type Connector interface {
	Connect(ctx context.Context) error
	Resubscribe(ctx context.Context) error
}

// Monitor is notified of connection lifecycle changes. OnDisconnect receives
// a nil error for a requested disconnect.
type Monitor interface {
	OnConnect(ctx context.Context, client Connector)
	OnDisconnect(ctx context.Context, client Connector, err error)
}

// outcome resolves a pending call.
type outcome struct {
	resp *envelope.Response
	err  error
}

// Client is a switchboard protocol client. Create one with NewClient().
type Client struct {
	url              string
	logger           *zap.Logger
	dialTimeout      time.Duration
	requestTimeout   time.Duration
	writeChannelSize int
	readLimit        int64
	headers          map[string][]string
	auth             *envelope.Auth
	eventHandler     EventHandler
	monitor          Monitor

	conn     *websocket.Conn
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.RWMutex
	started  int32
	stopping int32

	// Ids keep increasing across reconnects so a late response from an old
	// connection can never resolve a newer call.
	lastID    atomic.Int64
	pending   map[string]chan outcome
	pendingMu sync.Mutex

	topicsMu sync.Mutex
	topics   []string

	writeChannel chan []byte
	done         chan struct{}
}

// Connect dials the server and starts the read and write loops.
func (c *Client) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return fmt.Errorf("client is already started")
	}

	connCtx, cancel := context.WithCancel(context.Background())

	dialCtx, dialCancel := context.WithTimeout(ctx, c.dialTimeout)
	defer dialCancel()

	var dialOptions websocket.DialOptions
	if len(c.headers) > 0 {
		dialOptions.HTTPHeader = make(map[string][]string, len(c.headers))
		for key, values := range c.headers {
			dialOptions.HTTPHeader[key] = values
		}
	}

	conn, _, err := websocket.Dial(dialCtx, c.url, &dialOptions)
	if err != nil {
		cancel()
		atomic.StoreInt32(&c.started, 0)
		return fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}
	conn.SetReadLimit(c.readLimit)

	c.mu.Lock()
	c.conn = conn
	c.ctx = connCtx
	c.cancel = cancel
	c.done = make(chan struct{})
	c.writeChannel = make(chan []byte, c.writeChannelSize)
	c.mu.Unlock()

	c.pendingMu.Lock()
	c.pending = make(map[string]chan outcome)
	c.pendingMu.Unlock()

	c.logger.Info("Client connected", zap.String("url", c.url))

	go c.readLoop(connCtx, conn, c.done)
	go c.writeLoop(connCtx, conn, c.writeChannel)

	if c.monitor != nil {
		c.monitor.OnConnect(ctx, c)
	}

	return nil
}

// Disconnect closes the connection. Pending calls fail with ErrDisconnected
// and the monitor is told the disconnect was requested.
func (c *Client) Disconnect() error {
	if atomic.LoadInt32(&c.started) == 0 {
		return nil
	}
	if !atomic.CompareAndSwapInt32(&c.stopping, 0, 1) {
		return nil
	}

	c.cleanupWithStatus(websocket.StatusNormalClosure, "client disconnect")
	c.logger.Info("Client disconnected")

	if c.monitor != nil {
		c.monitor.OnDisconnect(context.Background(), c, nil)
	}
	return nil
}

// IsConnected reports whether a connection is currently open.
func (c *Client) IsConnected() bool {
	return atomic.LoadInt32(&c.started) == 1 && atomic.LoadInt32(&c.stopping) == 0
}

func (c *Client) cleanupWithStatus(status websocket.StatusCode, reason string) {
	c.mu.Lock()
	cancel, conn, done := c.cancel, c.conn, c.done
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close(status, reason)
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	c.failPending(ErrDisconnected)

	atomic.StoreInt32(&c.started, 0)
	atomic.StoreInt32(&c.stopping, 0)
}

// notifyDisconnectError tears the connection down after a transport error
// and reports it to the monitor. Cleanup runs on its own goroutine because
// the loops that detect errors must exit first.
func (c *Client) notifyDisconnectError(err error) {
	if !atomic.CompareAndSwapInt32(&c.stopping, 0, 1) {
		return
	}

	c.failPending(ErrDisconnected)

	go func() {
		c.cleanupWithStatus(websocket.StatusInternalError, "connection error")

		if c.monitor != nil {
			c.monitor.OnDisconnect(context.Background(), c, err)
		}
	}()
}

// failPending resolves every outstanding call with err.
func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan outcome)
	c.pendingMu.Unlock()

	for _, ch := range pending {
		ch <- outcome{err: err}
	}
}

// Call sends a request and waits for its response, the request timeout,
// ctx cancellation or a connection loss, whichever comes first. A failed
// response is returned as an *envelope.Error.
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	c.mu.RLock()
	connCtx, writeChannel := c.ctx, c.writeChannel
	c.mu.RUnlock()

	id := strconv.FormatInt(c.lastID.Add(1), 10)
	req := envelope.NewRequest(id, method, params, envelope.Trace{TraceID: uuid.NewString()})
	req.Auth = c.auth

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ch := make(chan outcome, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	select {
	case writeChannel <- data:
	case res := <-ch:
		return unwrap(res)
	case <-connCtx.Done():
		c.takePending(id)
		return nil, ErrDisconnected
	case <-ctx.Done():
		c.takePending(id)
		return nil, ctx.Err()
	case <-timer.C:
		c.takePending(id)
		return nil, fmt.Errorf("%w: %s", ErrTimeout, method)
	}

	select {
	case res := <-ch:
		return unwrap(res)
	case <-connCtx.Done():
		if _, ok := c.takePending(id); !ok {
			return unwrap(<-ch)
		}
		return nil, ErrDisconnected
	case <-ctx.Done():
		c.takePending(id)
		return nil, ctx.Err()
	case <-timer.C:
		if _, ok := c.takePending(id); !ok {
			// Resolved concurrently with the timeout.
			return unwrap(<-ch)
		}
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, method, c.requestTimeout)
	}
}

func unwrap(res outcome) (map[string]any, error) {
	if res.err != nil {
		return nil, res.err
	}
	if !res.resp.OK {
		if res.resp.Error == nil {
			return nil, envelope.NewError(envelope.CodeInternal, "request failed without an error")
		}
		return nil, res.resp.Error
	}
	return res.resp.Result, nil
}

func (c *Client) takePending(id string) (chan outcome, bool) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return ch, ok
}

// Subscribe replaces the server-side subscription with patterns and
// remembers them for Resubscribe.
func (c *Client) Subscribe(ctx context.Context, patterns []string) error {
	patterns = append([]string{}, patterns...)
	if _, err := c.Call(ctx, rpc.MethodSubscribeEvents, map[string]any{"topics": patterns}); err != nil {
		return err
	}

	c.topicsMu.Lock()
	c.topics = patterns
	c.topicsMu.Unlock()
	return nil
}

// Unsubscribe clears the server-side subscription.
func (c *Client) Unsubscribe(ctx context.Context) error {
	if _, err := c.Call(ctx, rpc.MethodUnsubscribeEvents, nil); err != nil {
		return err
	}

	c.topicsMu.Lock()
	c.topics = nil
	c.topicsMu.Unlock()
	return nil
}

// Topics returns the patterns of the last successful Subscribe, or nil.
func (c *Client) Topics() []string {
	c.topicsMu.Lock()
	defer c.topicsMu.Unlock()

	if c.topics == nil {
		return nil
	}
	return append([]string{}, c.topics...)
}

// Resubscribe re-issues the last successful Subscribe. Subscriptions belong
// to a connection, so this is needed after every reconnect.
func (c *Client) Resubscribe(ctx context.Context) error {
	topics := c.Topics()
	if topics == nil {
		return nil
	}
	return c.Subscribe(ctx, topics)
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("Connection lost", zap.Error(err))
				c.notifyDisconnectError(err)
			}
			return
		}

		c.handleFrame(ctx, data)
	}
}

func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn, writeChannel chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-writeChannel:
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				if ctx.Err() == nil {
					c.logger.Warn("Failed to write frame", zap.Error(err))
					c.notifyDisconnectError(err)
				}
				return
			}
		}
	}
}

func (c *Client) handleFrame(ctx context.Context, data []byte) {
	env, err := envelope.Parse(data)
	if err != nil {
		c.logger.Warn("Ignoring malformed frame", zap.Error(err))
		return
	}

	switch {
	case env.Response != nil:
		if ch, ok := c.takePending(env.Response.ID); ok {
			ch <- outcome{resp: env.Response}
		} else {
			c.logger.Debug("Ignoring response for unknown id", zap.String("id", env.Response.ID))
		}
	case env.Event != nil:
		if c.eventHandler != nil {
			c.eventHandler(ctx, env.Event)
		}
	default:
		c.logger.Warn("Ignoring frame of unexpected kind", zap.String("kind", string(env.Kind)))
	}
}
