package client

import (
	"fmt"
	"time"

	"github.com/tsarna/switchboard/pkg/switchboard/envelope"
	"go.uber.org/zap"
)

const (
	// DefaultRequestTimeout bounds how long Call waits for a response.
	DefaultRequestTimeout = 8 * time.Second

	DefaultDialTimeout      = 30 * time.Second
	DefaultWriteChannelSize = 100
	DefaultReadLimit        = 1 << 20
)

// ClientBuilder provides a fluent interface for building clients.
type ClientBuilder struct {
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
}

// NewClient creates a new client builder.
func NewClient() *ClientBuilder {
	return &ClientBuilder{
		logger:           zap.NewNop(),
		dialTimeout:      DefaultDialTimeout,
		requestTimeout:   DefaultRequestTimeout,
		writeChannelSize: DefaultWriteChannelSize,
		readLimit:        DefaultReadLimit,
		auth:             &envelope.Auth{Mode: envelope.AuthModeNone},
	}
}

// WithURL sets the WebSocket URL to connect to, e.g. ws://127.0.0.1:7337/ws.
func (b *ClientBuilder) WithURL(url string) *ClientBuilder {
	b.url = url
	return b
}

// WithLogger sets the logger for the client.
func (b *ClientBuilder) WithLogger(logger *zap.Logger) *ClientBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithDialTimeout sets the timeout for establishing the connection.
func (b *ClientBuilder) WithDialTimeout(timeout time.Duration) *ClientBuilder {
	if timeout > 0 {
		b.dialTimeout = timeout
	}
	return b
}

// WithRequestTimeout sets how long Call waits for a response.
func (b *ClientBuilder) WithRequestTimeout(timeout time.Duration) *ClientBuilder {
	if timeout > 0 {
		b.requestTimeout = timeout
	}
	return b
}

// WithWriteChannelSize sets the buffer size of the outbound frame queue.
func (b *ClientBuilder) WithWriteChannelSize(size int) *ClientBuilder {
	if size > 0 {
		b.writeChannelSize = size
	}
	return b
}

// WithReadLimit sets the largest frame accepted from the server.
func (b *ClientBuilder) WithReadLimit(limit int64) *ClientBuilder {
	if limit > 0 {
		b.readLimit = limit
	}
	return b
}

// WithHeader sets a single HTTP header for the upgrade request.
func (b *ClientBuilder) WithHeader(key, value string) *ClientBuilder {
	if b.headers == nil {
		b.headers = make(map[string][]string)
	}
	b.headers[key] = []string{value}
	return b
}

// WithAuthToken attaches a token auth descriptor to every request. The
// server carries it through to handlers without validating it.
func (b *ClientBuilder) WithAuthToken(token string) *ClientBuilder {
	b.auth = &envelope.Auth{Mode: envelope.AuthModeToken, Token: &token}
	return b
}

// WithEventHandler sets the callback for pushed events. It runs on the read
// loop and should not block.
func (b *ClientBuilder) WithEventHandler(handler EventHandler) *ClientBuilder {
	b.eventHandler = handler
	return b
}

// WithMonitor sets an optional monitor for connection lifecycle events.
func (b *ClientBuilder) WithMonitor(monitor Monitor) *ClientBuilder {
	b.monitor = monitor
	return b
}

// IsValid checks that all required configuration is present.
func (b *ClientBuilder) IsValid() error {
	if b.url == "" {
		return fmt.Errorf("URL is required")
	}
	return nil
}

// Build creates the client. It does not connect.
func (b *ClientBuilder) Build() (*Client, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	return &Client{
		url:              b.url,
		logger:           b.logger,
		dialTimeout:      b.dialTimeout,
		requestTimeout:   b.requestTimeout,
		writeChannelSize: b.writeChannelSize,
		readLimit:        b.readLimit,
		headers:          b.headers,
		auth:             b.auth,
		eventHandler:     b.eventHandler,
		monitor:          b.monitor,
		pending:          make(map[string]chan outcome),
	}, nil
}
