package session

import (
	"fmt"
	"time"

	"github.com/tsarna/switchboard/pkg/switchboard/events"
	"github.com/tsarna/switchboard/pkg/switchboard/o11y"
	"github.com/tsarna/switchboard/pkg/switchboard/rpc"
	"go.uber.org/zap"
)

const (
	// DefaultQueueSize is the number of frames buffered per connection
	// before events start getting dropped.
	DefaultQueueSize = 256

	// DefaultPingInterval is the interval between ping frames.
	DefaultPingInterval = 30 * time.Second

	// DefaultWriteTimeout bounds each frame write and each ping round trip.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultReadLimit is the largest inbound frame accepted, in bytes.
	DefaultReadLimit = 1 << 20
)

// Config holds everything a Connection needs. Use NewConfig() and the fluent
// setters, then IsValid() before handing it to New.
//
//	cfg := session.NewConfig().
//	    WithEventBus(bus).
//	    WithRegistry(registry).
//	    WithLogger(logger)
type Config struct {
	eventBus     events.EventBus
	registry     *rpc.Registry
	logger       *zap.Logger
	metrics      *Metrics
	tracing      o11y.TracingProvider
	queueSize    int
	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
	readLimit    int64
}

// NewConfig creates a Config with default limits and timeouts.
func NewConfig() *Config {
	return &Config{
		queueSize:    DefaultQueueSize,
		pingInterval: DefaultPingInterval,
		writeTimeout: DefaultWriteTimeout,
		readLimit:    DefaultReadLimit,
	}
}

// WithEventBus sets the bus whose events are relayed to clients. Required.
func (c *Config) WithEventBus(bus events.EventBus) *Config {
	c.eventBus = bus
	return c
}

// WithRegistry sets the handler registry for non-built-in methods. Required.
func (c *Config) WithRegistry(registry *rpc.Registry) *Config {
	c.registry = registry
	return c
}

// WithLogger sets the logger. Required.
func (c *Config) WithLogger(logger *zap.Logger) *Config {
	c.logger = logger
	return c
}

// WithMetrics sets the metrics recorder. Optional.
func (c *Config) WithMetrics(metrics *Metrics) *Config {
	c.metrics = metrics
	return c
}

// WithTracing sets the tracing provider used for per-request spans. Optional.
func (c *Config) WithTracing(provider o11y.TracingProvider) *Config {
	c.tracing = provider
	return c
}

// WithQueueSize sets the per-connection outbound queue size. Non-positive
// values are ignored.
func (c *Config) WithQueueSize(size int) *Config {
	if size > 0 {
		c.queueSize = size
	}
	return c
}

// WithPingInterval sets the ping interval. Zero disables pings.
func (c *Config) WithPingInterval(interval time.Duration) *Config {
	if interval >= 0 {
		c.pingInterval = interval
	}
	return c
}

// WithReadTimeout sets how long a connection may stay silent before it is
// closed. Zero (the default) means no limit; dead peers are then detected by
// pings.
func (c *Config) WithReadTimeout(timeout time.Duration) *Config {
	if timeout >= 0 {
		c.readTimeout = timeout
	}
	return c
}

// WithWriteTimeout sets the per-write timeout. Non-positive values are
// ignored.
func (c *Config) WithWriteTimeout(timeout time.Duration) *Config {
	if timeout > 0 {
		c.writeTimeout = timeout
	}
	return c
}

// WithReadLimit sets the maximum inbound frame size. Non-positive values are
// ignored.
func (c *Config) WithReadLimit(limit int64) *Config {
	if limit > 0 {
		c.readLimit = limit
	}
	return c
}

// Logger returns the configured logger.
func (c *Config) Logger() *zap.Logger {
	return c.logger
}

// Metrics returns the configured metrics recorder, possibly nil.
func (c *Config) Metrics() *Metrics {
	return c.metrics
}

// IsValid returns an error naming any missing required dependency.
func (c *Config) IsValid() error {
	var missing []string
	if c.eventBus == nil {
		missing = append(missing, "EventBus")
	}
	if c.registry == nil {
		missing = append(missing, "Registry")
	}
	if c.logger == nil {
		missing = append(missing, "Logger")
	}

	if len(missing) > 0 {
		return fmt.Errorf("invalid session configuration, missing: %v", missing)
	}
	return nil
}
