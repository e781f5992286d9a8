package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/switchboard/pkg/switchboard/o11y"
	"go.uber.org/zap/zaptest"
)

// MockSubscriber records every event it receives
type MockSubscriber struct {
	mu            sync.Mutex
	events        []Event
	simulateError bool
	simulatePanic bool
}

type Event struct {
	Topic string
	Data  map[string]any
}

func (m *MockSubscriber) OnEvent(ctx context.Context, topic string, data map[string]any) error {
	m.mu.Lock()
	m.events = append(m.events, Event{Topic: topic, Data: data})
	m.mu.Unlock()

	if m.simulatePanic {
		panic("simulated panic")
	}
	if m.simulateError {
		return errors.New("simulated error")
	}
	return nil
}

func (m *MockSubscriber) GetEvents() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Event, len(m.events))
	copy(result, m.events)
	return result
}

func newTestBus(t *testing.T) EventBus {
	bus, err := NewEventBus().WithLogger(zaptest.NewLogger(t)).Build()
	require.NoError(t, err)
	return bus
}

func TestEventBusBuilder(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		bus, err := NewEventBus().Build()
		require.NoError(t, err)
		assert.Equal(t, 0, bus.SubscriberCount())

		b := bus.(*basicEventBus)
		assert.NotNil(t, b.logger)
		assert.Equal(t, "main", b.name)
		assert.Nil(t, b.publishCounter)
	})

	t.Run("empty name rejected", func(t *testing.T) {
		_, err := NewEventBus().WithName("").Build()
		assert.Error(t, err)
	})

	t.Run("fluent interface returns same builder", func(t *testing.T) {
		builder := NewEventBus()
		assert.Same(t, builder, builder.WithName("x"))
		assert.Same(t, builder, builder.WithLogger(nil))
		assert.Same(t, builder, builder.WithMetrics(nil))
		assert.Same(t, builder, builder.WithTracing(nil))
	})
}

func TestEventBusPublish(t *testing.T) {
	t.Run("delivers to subscriber", func(t *testing.T) {
		bus := newTestBus(t)
		sub := &MockSubscriber{}
		bus.Subscribe(sub)

		bus.Publish(context.Background(), "session.message", map[string]any{"sessionId": "s1"})

		events := sub.GetEvents()
		require.Len(t, events, 1)
		assert.Equal(t, "session.message", events[0].Topic)
		assert.Equal(t, "s1", events[0].Data["sessionId"])
	})

	t.Run("no subscribers drops the event", func(t *testing.T) {
		bus := newTestBus(t)
		assert.NotPanics(t, func() {
			bus.Publish(context.Background(), "lost", nil)
		})

		sub := &MockSubscriber{}
		bus.Subscribe(sub)
		assert.Empty(t, sub.GetEvents(), "no replay of earlier events")
	})

	t.Run("each subscriber receives exactly once", func(t *testing.T) {
		bus := newTestBus(t)
		a, b := &MockSubscriber{}, &MockSubscriber{}
		bus.Subscribe(a)
		bus.Subscribe(b)

		bus.Publish(context.Background(), "run.started", nil)

		assert.Len(t, a.GetEvents(), 1)
		assert.Len(t, b.GetEvents(), 1)
	})

	t.Run("nil context is tolerated", func(t *testing.T) {
		bus := newTestBus(t)
		sub := &MockSubscriber{}
		bus.Subscribe(sub)

		//nolint:staticcheck
		bus.Publish(nil, "x", nil)
		assert.Len(t, sub.GetEvents(), 1)
	})
}

func TestEventBusFailureIsolation(t *testing.T) {
	bus := newTestBus(t)

	failing := &MockSubscriber{simulateError: true}
	panicking := &MockSubscriber{simulatePanic: true}
	healthy := &MockSubscriber{}

	bus.Subscribe(failing)
	bus.Subscribe(panicking)
	bus.Subscribe(healthy)

	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), "run.finished", map[string]any{"status": "completed"})
	})

	assert.Len(t, failing.GetEvents(), 1)
	assert.Len(t, panicking.GetEvents(), 1)
	assert.Len(t, healthy.GetEvents(), 1)
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := newTestBus(t)
	sub := &MockSubscriber{}

	unsubscribe := bus.Subscribe(sub)
	assert.Equal(t, 1, bus.SubscriberCount())

	unsubscribe()
	assert.Equal(t, 0, bus.SubscriberCount())

	bus.Publish(context.Background(), "x", nil)
	assert.Empty(t, sub.GetEvents())

	t.Run("idempotent", func(t *testing.T) {
		other := bus.Subscribe(&MockSubscriber{})
		assert.Equal(t, 1, bus.SubscriberCount())

		// Calling a stale token again must not remove the new subscription
		unsubscribe()
		assert.Equal(t, 1, bus.SubscriberCount())

		other()
		other()
		assert.Equal(t, 0, bus.SubscriberCount())
	})

	t.Run("same subscriber registered twice", func(t *testing.T) {
		sub := &MockSubscriber{}
		first := bus.Subscribe(sub)
		second := bus.Subscribe(sub)

		bus.Publish(context.Background(), "twice", nil)
		assert.Len(t, sub.GetEvents(), 2)

		first()
		bus.Publish(context.Background(), "once", nil)
		assert.Len(t, sub.GetEvents(), 3)
		second()
	})
}

func TestEventBusReentrantUnsubscribe(t *testing.T) {
	bus := newTestBus(t)

	var calls atomic.Int32
	var unsubscribe UnsubscribeFunc
	unsubscribe = bus.Subscribe(SubscriberFunc(func(ctx context.Context, topic string, data map[string]any) error {
		calls.Add(1)
		unsubscribe()
		return nil
	}))

	bus.Publish(context.Background(), "a", nil)
	bus.Publish(context.Background(), "b", nil)

	assert.Equal(t, int32(1), calls.Load())
}

func TestEventBusConcurrentAccess(t *testing.T) {
	bus := newTestBus(t)

	var received atomic.Int64
	counting := SubscriberFunc(func(ctx context.Context, topic string, data map[string]any) error {
		received.Add(1)
		return nil
	})
	bus.Subscribe(counting)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(context.Background(), "load", nil)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Subscribe(&MockSubscriber{})()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(800), received.Load())
	assert.Equal(t, 1, bus.SubscriberCount())
}

func TestEventBusMetrics(t *testing.T) {
	metrics := newMockMetricsProvider()
	bus, err := NewEventBus().WithMetrics(metrics).Build()
	require.NoError(t, err)

	unsubscribe := bus.Subscribe(&MockSubscriber{simulateError: true})
	bus.Subscribe(&MockSubscriber{})

	bus.Publish(context.Background(), "x", nil)
	unsubscribe()

	assert.Equal(t, int64(1), metrics.counter("eventbus_messages_published_total"))
	assert.Equal(t, int64(2), metrics.counter("eventbus_deliveries_total"))
	assert.Equal(t, int64(1), metrics.counter("eventbus_errors_total"))
	assert.Equal(t, int64(2), metrics.counter("eventbus_subscriptions_total"))
	assert.Equal(t, int64(1), metrics.counter("eventbus_unsubscriptions_total"))
	assert.Equal(t, float64(1), metrics.gauge("eventbus_active_subscribers"))
}

// mockMetricsProvider is a minimal in-memory o11y.MetricsProvider
type mockMetricsProvider struct {
	mu       sync.Mutex
	counters map[string]int64
	gauges   map[string]float64
}

func newMockMetricsProvider() *mockMetricsProvider {
	return &mockMetricsProvider{
		counters: make(map[string]int64),
		gauges:   make(map[string]float64),
	}
}

func (m *mockMetricsProvider) counter(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

func (m *mockMetricsProvider) gauge(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[name]
}

func (m *mockMetricsProvider) Counter(name string) o11y.Counter {
	return mockInstrument{m: m, name: name}
}

func (m *mockMetricsProvider) Histogram(name string) o11y.Histogram {
	return mockInstrument{m: m, name: name}
}

func (m *mockMetricsProvider) Gauge(name string) o11y.Gauge {
	return mockInstrument{m: m, name: name}
}

type mockInstrument struct {
	m    *mockMetricsProvider
	name string
}

func (i mockInstrument) Add(ctx context.Context, value int64, labels ...o11y.Label) {
	i.m.mu.Lock()
	defer i.m.mu.Unlock()
	i.m.counters[i.name] += value
}

func (i mockInstrument) Record(ctx context.Context, value float64, labels ...o11y.Label) {}

func (i mockInstrument) Set(ctx context.Context, value float64, labels ...o11y.Label) {
	i.m.mu.Lock()
	defer i.m.mu.Unlock()
	i.m.gauges[i.name] = value
}
