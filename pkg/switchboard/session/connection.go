// Package session implements the per-connection protocol state machine: it
// reads request frames, answers built-in subscription methods, dispatches
// everything else to the handler registry and relays matching bus events,
// all over a single WebSocket connection.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/tsarna/switchboard/pkg/switchboard/envelope"
	"github.com/tsarna/switchboard/pkg/switchboard/topics"
	"go.uber.org/zap"
)

// State is the lifecycle state of a Connection.
type State int32

const (
	StateOpen State = iota
	StateClosed
)

func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "closed"
}

var (
	// ErrClosed is returned when a frame is queued on a closed connection.
	ErrClosed = errors.New("connection closed")

	// ErrQueueFull is returned when an event is dropped because the
	// outbound queue is full.
	ErrQueueFull = errors.New("outbound queue full")
)

// outboundFrame is an encoded frame waiting to be written by the sender.
// Frames are encoded when queued so encoding failures surface to the caller
// that can still answer for them.
type outboundFrame struct {
	kind envelope.Kind
	data []byte
}

// Connection serves one WebSocket client. It implements events.Subscriber so
// the bus can hand it every published event; only those matching the
// client's current subscription are forwarded.
//
// A Connection owns three kinds of goroutine: the reader (the caller of
// Start), a single sender which is the only writer to the socket, and one
// goroutine per in-flight handler call.
type Connection struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	conn    *websocket.Conn
	config  *Config
	logger  *zap.Logger
	metrics *Metrics

	// trace is attached to events and to replies that have no request trace.
	trace envelope.Trace

	matcher     atomic.Pointer[topics.Matcher]
	state       atomic.Int32
	unsubscribe func()

	outbound chan outboundFrame
	done     chan struct{}

	started     time.Time
	cleanupOnce sync.Once
}

// New creates a Connection for an accepted WebSocket. config must be valid.
// Call Start to serve it.
func New(ctx context.Context, conn *websocket.Conn, config *Config) *Connection {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(ctx)

	return &Connection{
		id:       id,
		ctx:      ctx,
		cancel:   cancel,
		conn:     conn,
		config:   config,
		logger:   config.logger.With(zap.String("connection_id", id)),
		metrics:  config.metrics,
		trace:    envelope.Trace{TraceID: id},
		outbound: make(chan outboundFrame, config.queueSize),
		done:     make(chan struct{}),
	}
}

// ID returns the unique id of this connection.
func (c *Connection) ID() string {
	return c.id
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// Patterns returns the topic patterns of the active subscription, or nil when
// the connection is not subscribed.
func (c *Connection) Patterns() []string {
	m := c.matcher.Load()
	if m == nil {
		return nil
	}
	return m.Patterns()
}

// Start serves the connection and blocks until it is closed. The calling
// goroutine becomes the frame reader.
func (c *Connection) Start() {
	c.started = time.Now()
	c.logger.Debug("Starting connection handler")

	c.unsubscribe = c.config.eventBus.Subscribe(c)

	go c.messageSender()
	c.messageReader()

	c.logger.Debug("Connection handler stopping")
	c.cleanup()
}

// Shutdown closes the socket with the given close code. The reader then
// exits and the normal cleanup path runs.
func (c *Connection) Shutdown(code websocket.StatusCode, reason string) {
	c.logger.Debug("Closing connection for shutdown",
		zap.Int("close_code", int(code)),
		zap.String("reason", reason),
	)

	if err := c.conn.Close(code, reason); err != nil {
		c.logger.Debug("Error closing connection during shutdown", zap.Error(err))
	}
}

// OnEvent relays a bus event to the client if it matches the active
// subscription. Events that do not fit in the outbound queue are dropped.
func (c *Connection) OnEvent(ctx context.Context, topic string, data map[string]any) error {
	if c.State() != StateOpen {
		return nil
	}
	if !c.matcher.Load().Match(topic) {
		return nil
	}

	err := c.sendEvent(envelope.NewEvent(topic, data, c.trace))
	switch {
	case errors.Is(err, ErrQueueFull):
		c.logger.Warn("Outbound queue full, dropping event", zap.String("topic", topic))
		c.metrics.RecordEventDropped(ctx)
	case err == nil:
		c.metrics.RecordEventRelayed(ctx)
	case !errors.Is(err, ErrClosed):
		c.logger.Warn("Dropping event", zap.String("topic", topic), zap.Error(err))
		c.metrics.RecordEventDropped(ctx)
	}

	// Delivery problems on one connection are not the publisher's concern.
	return nil
}

// sendEvent queues an event without blocking.
func (c *Connection) sendEvent(ev *envelope.Event) error {
	if c.State() != StateOpen {
		return ErrClosed
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", ev.Topic, err)
	}

	select {
	case c.outbound <- outboundFrame{kind: envelope.KindEvent, data: data}:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrQueueFull
	}
}

// sendResponse queues a response, waiting for queue space until the
// connection closes. A response that cannot be encoded is replaced by an
// INTERNAL error response for the same id.
func (c *Connection) sendResponse(resp *envelope.Response) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	data, err := encodeResponse(resp)
	if err != nil {
		c.logger.Error("Failed to encode response",
			zap.String("id", resp.ID),
			zap.Error(err),
		)
		c.metrics.RecordFrameError(c.ctx, envelope.CodeInternal)
	}

	select {
	case c.outbound <- outboundFrame{kind: envelope.KindResponse, data: data}:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// messageSender is the only goroutine that writes to the socket. It also
// sends periodic pings.
func (c *Connection) messageSender() {
	defer c.logger.Debug("Message sender stopped")

	var pingChan <-chan time.Time
	if c.config.pingInterval > 0 {
		pingTicker := time.NewTicker(c.config.pingInterval)
		defer pingTicker.Stop()
		pingChan = pingTicker.C
	}

	for {
		select {
		case frame := <-c.outbound:
			if err := c.write(frame); err != nil {
				c.logger.Error("Failed to send frame",
					zap.Error(err),
					zap.String("kind", string(frame.kind)),
				)

				if websocket.CloseStatus(err) != -1 || c.ctx.Err() != nil {
					return
				}
				if errors.Is(err, context.DeadlineExceeded) {
					c.metrics.RecordWriteTimeout(c.ctx)
					_ = c.conn.CloseNow()
					return
				}
			}

		case <-pingChan:
			pingCtx, cancel := context.WithTimeout(c.ctx, c.config.writeTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()

			c.metrics.RecordPingSent(c.ctx)
			if err != nil {
				c.logger.Warn("Ping failed, closing connection", zap.Error(err))
				c.metrics.RecordPingFailure(c.ctx)
				_ = c.conn.CloseNow()
				return
			}

		case <-c.done:
			return

		case <-c.ctx.Done():
			return
		}
	}
}

// encodeResponse marshals resp. If that fails it returns the encoding of an
// INTERNAL error response carrying the same id and trace, together with the
// original error.
func encodeResponse(resp *envelope.Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err == nil {
		return data, nil
	}

	rpcErr := envelope.Errorf(envelope.CodeInternal, "failed to encode response: %v", err)
	// Plain strings only, so this cannot fail.
	fallback, _ := json.Marshal(envelope.NewErrorResponse(resp.ID, rpcErr, resp.Trace))
	return fallback, err
}

func (c *Connection) write(frame outboundFrame) error {
	data := frame.data

	writeCtx, cancel := context.WithTimeout(c.ctx, c.config.writeTimeout)
	defer cancel()

	if err := c.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return err
	}

	c.metrics.RecordFrameSent(c.ctx, len(data), string(frame.kind))
	return nil
}

// messageReader reads frames until the connection fails or is closed.
func (c *Connection) messageReader() {
	defer c.logger.Debug("Message reader stopped")

	c.conn.SetReadLimit(c.config.readLimit)

	for {
		if c.ctx.Err() != nil {
			return
		}

		readCtx, cancel := c.ctx, context.CancelFunc(func() {})
		if c.config.readTimeout > 0 {
			readCtx, cancel = context.WithTimeout(c.ctx, c.config.readTimeout)
		}

		_, data, err := c.conn.Read(readCtx)
		cancel()
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				c.logger.Debug("Connection closed by client", zap.Int("close_status", int(status)))
			} else if c.ctx.Err() == nil {
				c.logger.Debug("Failed to read frame", zap.Error(err))
			}
			return
		}

		c.metrics.RecordFrameReceived(c.ctx, len(data))
		c.dispatch(data)
	}
}

// cleanup moves the connection to Closed. It drops the subscription,
// deregisters from the bus, stops the sender and closes the socket. Handler
// calls still running finish on their own; their responses are discarded.
func (c *Connection) cleanup() {
	c.cleanupOnce.Do(func() {
		c.logger.Debug("Cleaning up connection")

		c.state.Store(int32(StateClosed))
		c.matcher.Store(nil)

		if c.unsubscribe != nil {
			c.unsubscribe()
		}

		close(c.done)
		c.cancel()

		if err := c.conn.Close(websocket.StatusNormalClosure, "connection closed"); err != nil {
			c.logger.Debug("Close error (may be expected)", zap.Error(err))
		}

		if !c.started.IsZero() {
			c.metrics.RecordConnectionEnd(context.Background(), time.Since(c.started))
		}
	})
}
