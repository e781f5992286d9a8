package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStandaloneMetricsDefaults(t *testing.T) {
	p := NewStandaloneMetricsProvider(nil)
	assert.Equal(t, 30*time.Second, p.config.Interval)
	assert.Equal(t, TopicMetrics, p.config.MetricsTopic)
	assert.Equal(t, "unknown", p.config.ServiceName)
}

func TestStandaloneMetricsInstruments(t *testing.T) {
	ctx := context.Background()
	p := NewStandaloneMetricsProvider(&StandaloneMetricsConfig{ServiceName: "test"})

	assert.Same(t, p.Counter("requests"), p.Counter("requests"), "instruments are shared by name")

	p.Counter("requests").Add(ctx, 2)
	p.Counter("requests").Add(ctx, 3)

	h := p.Histogram("latency")
	h.Record(ctx, 0.5)
	h.Record(ctx, 0.1)
	h.Record(ctx, 0.9)

	p.Gauge("active").Set(ctx, 4)
	p.Gauge("active").Set(ctx, 3)

	snap := p.Snapshot()
	assert.Equal(t, "test", snap.ServiceName)
	assert.Equal(t, int64(5), snap.Counters["requests"])
	assert.Equal(t, 3.0, snap.Gauges["active"])

	latency := snap.Histograms["latency"]
	assert.Equal(t, int64(3), latency.Count)
	assert.InDelta(t, 1.5, latency.Sum, 1e-9)
	assert.Equal(t, 0.1, latency.Min)
	assert.Equal(t, 0.9, latency.Max)

	data := snap.Data()
	assert.Equal(t, "test", data["serviceName"])
	assert.Equal(t, int64(5), data["counters"].(map[string]any)["requests"])
}

func TestStandaloneMetricsPublishes(t *testing.T) {
	p := NewStandaloneMetricsProvider(&StandaloneMetricsConfig{Interval: 10 * time.Millisecond})

	bus, err := NewEventBus().WithLogger(zap.NewNop()).WithMetrics(p).Build()
	require.NoError(t, err)
	p.SetEventBus(bus)

	var mu sync.Mutex
	var snapshots []map[string]any
	bus.Subscribe(SubscriberFunc(func(ctx context.Context, topic string, data map[string]any) error {
		if topic == TopicMetrics {
			mu.Lock()
			snapshots = append(snapshots, data)
			mu.Unlock()
		}
		return nil
	}))

	p.Start()
	p.Start()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snapshots) >= 2
	}, 5*time.Second, 10*time.Millisecond)

	p.Stop()
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	last := snapshots[len(snapshots)-1]
	counters := last["counters"].(map[string]any)
	assert.Contains(t, counters, "eventbus_messages_published_total")
}

func TestLoggingSubscriber(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	var got string
	inner := SubscriberFunc(func(ctx context.Context, topic string, data map[string]any) error {
		got = topic
		return nil
	})

	sub := NewNamedLoggingSubscriber(inner, zap.New(core), zapcore.InfoLevel, "audit")
	require.NoError(t, sub.OnEvent(context.Background(), "run.started", map[string]any{"runId": "r_1"}))
	assert.Equal(t, "run.started", got)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "audit", entries[0].ContextMap()["subscriber"])
	assert.Equal(t, "run.started", entries[0].ContextMap()["topic"])

	standalone := NewLoggingSubscriber(nil, nil, zapcore.DebugLevel)
	assert.NoError(t, standalone.OnEvent(context.Background(), "x", nil))
}
