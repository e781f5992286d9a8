// Package events provides the process-wide event source that decouples
// publishers (handlers, background runs, scheduled jobs) from the
// connections relaying events to clients.
package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tsarna/switchboard/pkg/switchboard/o11y"
	"go.uber.org/zap"
)

// EventBus fans published events out to every registered Subscriber.
type EventBus interface {
	// Subscribe registers sub and returns a function that deregisters it.
	// The returned function is safe to call more than once.
	Subscribe(sub Subscriber) UnsubscribeFunc

	// Publish synchronously delivers (topic, data) to every subscriber
	// registered at the time of the call. Subscriber failures are logged
	// and never returned to the publisher.
	Publish(ctx context.Context, topic string, data map[string]any)

	// SubscriberCount returns the number of registered subscribers.
	SubscriberCount() int
}

// Subscriber receives published events.
type Subscriber interface {
	OnEvent(ctx context.Context, topic string, data map[string]any) error
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(ctx context.Context, topic string, data map[string]any) error

func (f SubscriberFunc) OnEvent(ctx context.Context, topic string, data map[string]any) error {
	return f(ctx, topic, data)
}

// UnsubscribeFunc removes a subscription. Only the first call has an effect.
type UnsubscribeFunc func()

type registration struct {
	id         uint64
	subscriber Subscriber
}

// basicEventBus is a mutex-guarded subscriber registry. Delivery happens on
// the publisher's goroutine against a snapshot of the registry, so
// subscribers may (un)subscribe from within OnEvent without deadlocking.
type basicEventBus struct {
	mu            sync.RWMutex
	subscriptions map[uint64]Subscriber
	nextID        atomic.Uint64
	logger        *zap.Logger
	name          string

	tracingProvider o11y.TracingProvider

	publishCounter     o11y.Counter
	deliveryCounter    o11y.Counter
	errorCounter       o11y.Counter
	subscribeCounter   o11y.Counter
	unsubscribeCounter o11y.Counter
	latencyHistogram   o11y.Histogram
	subscriberGauge    o11y.Gauge
}

func (b *basicEventBus) setupObservability(config *o11y.Config) {
	b.tracingProvider = config.TracingProvider

	if provider := config.MetricsProvider; provider != nil {
		b.publishCounter = provider.Counter("eventbus_messages_published_total")
		b.deliveryCounter = provider.Counter("eventbus_deliveries_total")
		b.errorCounter = provider.Counter("eventbus_errors_total")
		b.subscribeCounter = provider.Counter("eventbus_subscriptions_total")
		b.unsubscribeCounter = provider.Counter("eventbus_unsubscriptions_total")
		b.latencyHistogram = provider.Histogram("eventbus_publish_duration_seconds")
		b.subscriberGauge = provider.Gauge("eventbus_active_subscribers")
	}
}

func (b *basicEventBus) Subscribe(sub Subscriber) UnsubscribeFunc {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.subscriptions[id] = sub
	count := len(b.subscriptions)
	b.mu.Unlock()

	b.logger.Debug("Subscriber registered",
		zap.String("bus", b.name),
		zap.Uint64("subscription_id", id),
		zap.Int("subscribers", count),
	)

	ctx := context.Background()
	if b.subscribeCounter != nil {
		b.subscribeCounter.Add(ctx, 1)
	}
	if b.subscriberGauge != nil {
		b.subscriberGauge.Set(ctx, float64(count))
	}

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

func (b *basicEventBus) unsubscribe(id uint64) {
	b.mu.Lock()
	delete(b.subscriptions, id)
	count := len(b.subscriptions)
	b.mu.Unlock()

	b.logger.Debug("Subscriber removed",
		zap.String("bus", b.name),
		zap.Uint64("subscription_id", id),
		zap.Int("subscribers", count),
	)

	ctx := context.Background()
	if b.unsubscribeCounter != nil {
		b.unsubscribeCounter.Add(ctx, 1)
	}
	if b.subscriberGauge != nil {
		b.subscriberGauge.Set(ctx, float64(count))
	}
}

func (b *basicEventBus) Publish(ctx context.Context, topic string, data map[string]any) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	ctx, span := o11y.StartSpan(ctx, b.tracingProvider, "eventbus.publish")
	defer span.End()
	span.SetAttributes(o11y.Label{Key: "topic", Value: topic})

	b.mu.RLock()
	snapshot := make([]registration, 0, len(b.subscriptions))
	for id, sub := range b.subscriptions {
		snapshot = append(snapshot, registration{id: id, subscriber: sub})
	}
	b.mu.RUnlock()

	if b.publishCounter != nil {
		b.publishCounter.Add(ctx, 1, o11y.Label{Key: "topic", Value: topic})
	}

	failures := 0
	for _, reg := range snapshot {
		if err := b.deliver(ctx, reg, topic, data); err != nil {
			failures++
			b.logger.Error("Error in OnEvent",
				zap.String("bus", b.name),
				zap.String("topic", topic),
				zap.Uint64("subscription_id", reg.id),
				zap.Error(err),
			)
			if b.errorCounter != nil {
				b.errorCounter.Add(ctx, 1,
					o11y.Label{Key: "operation", Value: "on_event"},
					o11y.Label{Key: "topic", Value: topic},
				)
			}
		}
	}

	if b.deliveryCounter != nil {
		b.deliveryCounter.Add(ctx, int64(len(snapshot)), o11y.Label{Key: "topic", Value: topic})
	}
	if b.latencyHistogram != nil {
		b.latencyHistogram.Record(ctx, time.Since(start).Seconds(), o11y.Label{Key: "topic", Value: topic})
	}

	if failures > 0 {
		span.SetStatus(o11y.SpanStatusError, fmt.Sprintf("%d subscriber(s) failed", failures))
	} else {
		span.SetStatus(o11y.SpanStatusOK, "")
	}
}

// deliver calls one subscriber, converting a panic into an error.
func (b *basicEventBus) deliver(ctx context.Context, reg registration, topic string, data map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panicked: %v", r)
		}
	}()
	return reg.subscriber.OnEvent(ctx, topic, data)
}

func (b *basicEventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}
