package client

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultReconnectDelay is the fixed pause before each reconnect attempt.
const DefaultReconnectDelay = 1200 * time.Millisecond

// Reconnector is a Monitor that reconnects after a connection is lost and
// restores the client's topic subscription. Requested disconnects are left
// alone.
type Reconnector struct {
	delay      time.Duration
	maxRetries int
	logger     *zap.Logger

	mu             sync.Mutex
	enabled        bool
	connected      bool
	reconnecting   bool
	reconnectCount int
	lastReconnect  time.Time
	lastError      error
	stop           chan struct{}
}

// ReconnectorBuilder provides a fluent interface for building a Reconnector.
type ReconnectorBuilder struct {
	delay      time.Duration
	maxRetries int
	enabled    bool
	logger     *zap.Logger
}

// NewReconnector creates a builder with a 1.2s delay and unlimited retries.
func NewReconnector() *ReconnectorBuilder {
	return &ReconnectorBuilder{
		delay:      DefaultReconnectDelay,
		maxRetries: -1,
		enabled:    true,
		logger:     zap.NewNop(),
	}
}

// WithDelay sets the pause before each attempt. Non-positive values are
// ignored.
func (b *ReconnectorBuilder) WithDelay(delay time.Duration) *ReconnectorBuilder {
	if delay > 0 {
		b.delay = delay
	}
	return b
}

// WithMaxRetries limits the attempts per disconnect; -1 means unlimited.
func (b *ReconnectorBuilder) WithMaxRetries(maxRetries int) *ReconnectorBuilder {
	if maxRetries >= -1 {
		b.maxRetries = maxRetries
	}
	return b
}

// WithEnabled sets whether reconnection starts enabled.
func (b *ReconnectorBuilder) WithEnabled(enabled bool) *ReconnectorBuilder {
	b.enabled = enabled
	return b
}

// WithLogger sets the logger.
func (b *ReconnectorBuilder) WithLogger(logger *zap.Logger) *ReconnectorBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// Build creates the Reconnector.
func (b *ReconnectorBuilder) Build() *Reconnector {
	return &Reconnector{
		delay:      b.delay,
		maxRetries: b.maxRetries,
		enabled:    b.enabled,
		logger:     b.logger,
		stop:       make(chan struct{}),
	}
}

// SetEnabled turns reconnection on or off. Disabling stops attempts in
// progress after their current wait.
func (r *Reconnector) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

// IsEnabled reports whether reconnection is enabled.
func (r *Reconnector) IsEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// IsConnected reports the last known connection state.
func (r *Reconnector) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// ReconnectCount returns the number of attempts made so far.
func (r *Reconnector) ReconnectCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reconnectCount
}

// LastReconnectTime returns when the last attempt was made.
func (r *Reconnector) LastReconnectTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastReconnect
}

// LastError returns the error of the last disconnect.
func (r *Reconnector) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastError
}

// Stop ends any reconnect loop and disables further attempts.
func (r *Reconnector) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.enabled = false
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
}

func (r *Reconnector) OnConnect(ctx context.Context, client Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = true
}

func (r *Reconnector) OnDisconnect(ctx context.Context, client Connector, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connected = false
	r.lastError = err

	if err == nil || !r.enabled || r.reconnecting {
		return
	}

	r.reconnecting = true
	go r.reconnect(client)
}

func (r *Reconnector) reconnect(client Connector) {
	for attempt := 1; r.maxRetries < 0 || attempt <= r.maxRetries; attempt++ {
		select {
		case <-time.After(r.delay):
		case <-r.stop:
			r.finishReconnect()
			return
		}

		if !r.IsEnabled() {
			r.finishReconnect()
			return
		}

		r.mu.Lock()
		r.reconnectCount++
		r.lastReconnect = time.Now()
		r.mu.Unlock()

		r.logger.Info("Reconnecting", zap.Int("attempt", attempt))

		ctx := context.Background()
		if err := client.Connect(ctx); err != nil {
			r.logger.Warn("Reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		if err := client.Resubscribe(ctx); err != nil {
			r.logger.Warn("Failed to restore subscription", zap.Error(err))
		}

		// A disconnect that arrives while we are still marked as reconnecting
		// is ignored by OnDisconnect, so the connection state must be checked
		// in the same critical section that ends the loop.
		if r.finishIfConnected() {
			return
		}
	}

	r.finishReconnect()
	r.logger.Error("Giving up reconnecting", zap.Int("max_retries", r.maxRetries))
}

// finishIfConnected ends the reconnect loop if the connection is up.
func (r *Reconnector) finishIfConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.connected {
		return false
	}
	r.reconnecting = false
	return true
}

func (r *Reconnector) finishReconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconnecting = false
}
