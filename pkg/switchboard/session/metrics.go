package session

import (
	"context"
	"time"

	"github.com/tsarna/switchboard/pkg/switchboard/o11y"
)

// Metrics holds the instruments recorded by connections and the listener
// that owns them. A nil *Metrics records nothing.
type Metrics struct {
	activeConnections  o11y.Gauge
	totalConnections   o11y.Counter
	connectionDuration o11y.Histogram
	connectionErrors   o11y.Counter

	framesReceived o11y.Counter
	framesSent     o11y.Counter
	frameErrors    o11y.Counter
	frameSize      o11y.Histogram

	requestsTotal   o11y.Counter
	requestDuration o11y.Histogram
	requestErrors   o11y.Counter

	eventsRelayed o11y.Counter
	eventsDropped o11y.Counter

	pingsSent     o11y.Counter
	pingFailures  o11y.Counter
	writeTimeouts o11y.Counter
}

// NewMetrics creates the instrument set on provider, or returns nil when
// provider is nil.
func NewMetrics(provider o11y.MetricsProvider) *Metrics {
	if provider == nil {
		return nil
	}

	return &Metrics{
		activeConnections:  provider.Gauge("switchboard_active_connections"),
		totalConnections:   provider.Counter("switchboard_connections_total"),
		connectionDuration: provider.Histogram("switchboard_connection_duration_seconds"),
		connectionErrors:   provider.Counter("switchboard_connection_errors_total"),

		framesReceived: provider.Counter("switchboard_frames_received_total"),
		framesSent:     provider.Counter("switchboard_frames_sent_total"),
		frameErrors:    provider.Counter("switchboard_frame_errors_total"),
		frameSize:      provider.Histogram("switchboard_frame_size_bytes"),

		requestsTotal:   provider.Counter("switchboard_requests_total"),
		requestDuration: provider.Histogram("switchboard_request_duration_seconds"),
		requestErrors:   provider.Counter("switchboard_request_errors_total"),

		eventsRelayed: provider.Counter("switchboard_events_relayed_total"),
		eventsDropped: provider.Counter("switchboard_events_dropped_total"),

		pingsSent:     provider.Counter("switchboard_pings_sent_total"),
		pingFailures:  provider.Counter("switchboard_ping_failures_total"),
		writeTimeouts: provider.Counter("switchboard_write_timeouts_total"),
	}
}

// RecordConnectionStart records a newly accepted connection.
func (m *Metrics) RecordConnectionStart(ctx context.Context) {
	if m == nil {
		return
	}
	m.totalConnections.Add(ctx, 1)
}

// RecordConnectionActive updates the active connection gauge.
func (m *Metrics) RecordConnectionActive(ctx context.Context, count int) {
	if m == nil {
		return
	}
	m.activeConnections.Set(ctx, float64(count))
}

// RecordConnectionEnd records the lifetime of a closed connection.
func (m *Metrics) RecordConnectionEnd(ctx context.Context, duration time.Duration) {
	if m == nil {
		return
	}
	m.connectionDuration.Record(ctx, duration.Seconds())
}

// RecordConnectionError records upgrade failures and similar.
func (m *Metrics) RecordConnectionError(ctx context.Context, errorType string) {
	if m == nil {
		return
	}
	m.connectionErrors.Add(ctx, 1, o11y.Label{Key: "error_type", Value: errorType})
}

// RecordFrameReceived records an inbound frame.
func (m *Metrics) RecordFrameReceived(ctx context.Context, sizeBytes int) {
	if m == nil {
		return
	}
	m.framesReceived.Add(ctx, 1)
	m.frameSize.Record(ctx, float64(sizeBytes), o11y.Label{Key: "direction", Value: "received"})
}

// RecordFrameSent records an outbound frame of the given kind.
func (m *Metrics) RecordFrameSent(ctx context.Context, sizeBytes int, kind string) {
	if m == nil {
		return
	}
	m.framesSent.Add(ctx, 1, o11y.Label{Key: "kind", Value: kind})
	m.frameSize.Record(ctx, float64(sizeBytes), o11y.Label{Key: "direction", Value: "sent"})
}

// RecordFrameError records a frame rejected before dispatch.
func (m *Metrics) RecordFrameError(ctx context.Context, code string) {
	if m == nil {
		return
	}
	m.frameErrors.Add(ctx, 1, o11y.Label{Key: "code", Value: code})
}

// RecordRequest counts a dispatched request and returns a function that
// records its duration and, when code is non-empty, its failure.
//
//	done := metrics.RecordRequest(ctx, "gateway.sessions.list")
//	defer done(code)
func (m *Metrics) RecordRequest(ctx context.Context, method string) func(code string) {
	if m == nil {
		return func(string) {}
	}

	start := time.Now()
	m.requestsTotal.Add(ctx, 1, o11y.Label{Key: "method", Value: method})

	return func(code string) {
		m.requestDuration.Record(ctx, time.Since(start).Seconds(), o11y.Label{Key: "method", Value: method})
		if code != "" {
			m.requestErrors.Add(ctx, 1,
				o11y.Label{Key: "method", Value: method},
				o11y.Label{Key: "code", Value: code},
			)
		}
	}
}

// RecordEventRelayed records an event queued for a client.
func (m *Metrics) RecordEventRelayed(ctx context.Context) {
	if m == nil {
		return
	}
	m.eventsRelayed.Add(ctx, 1)
}

// RecordEventDropped records an event discarded because the outbound queue
// was full.
func (m *Metrics) RecordEventDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.eventsDropped.Add(ctx, 1)
}

// RecordPingSent records a ping frame.
func (m *Metrics) RecordPingSent(ctx context.Context) {
	if m == nil {
		return
	}
	m.pingsSent.Add(ctx, 1)
}

// RecordPingFailure records a ping that got no pong in time.
func (m *Metrics) RecordPingFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.pingFailures.Add(ctx, 1)
}

// RecordWriteTimeout records a write that exceeded the write timeout.
func (m *Metrics) RecordWriteTimeout(ctx context.Context) {
	if m == nil {
		return
	}
	m.writeTimeouts.Add(ctx, 1)
}
