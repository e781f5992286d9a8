package events

import (
	"fmt"

	"github.com/tsarna/switchboard/pkg/switchboard/o11y"
	"go.uber.org/zap"
)

// EventBusBuilder provides a fluent interface for creating EventBus instances
type EventBusBuilder struct {
	logger          *zap.Logger
	busName         string
	metricsProvider o11y.MetricsProvider
	tracingProvider o11y.TracingProvider
}

// NewEventBus creates a new EventBusBuilder
func NewEventBus() *EventBusBuilder {
	return &EventBusBuilder{
		busName: "main",
	}
}

// WithLogger sets the logger for the EventBus
func (b *EventBusBuilder) WithLogger(logger *zap.Logger) *EventBusBuilder {
	b.logger = logger
	return b
}

// WithName sets the name used in log output
func (b *EventBusBuilder) WithName(name string) *EventBusBuilder {
	b.busName = name
	return b
}

// WithMetrics sets the metrics provider for the EventBus
func (b *EventBusBuilder) WithMetrics(provider o11y.MetricsProvider) *EventBusBuilder {
	b.metricsProvider = provider
	return b
}

// WithTracing sets the tracing provider for the EventBus
func (b *EventBusBuilder) WithTracing(provider o11y.TracingProvider) *EventBusBuilder {
	b.tracingProvider = provider
	return b
}

// IsValid validates the builder configuration and returns an error if invalid
func (b *EventBusBuilder) IsValid() error {
	if b.busName == "" {
		return fmt.Errorf("bus name must not be empty")
	}
	return nil
}

// Build creates and returns the EventBus instance, returning an error if configuration is invalid
func (b *EventBusBuilder) Build() (EventBus, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	eb := &basicEventBus{
		subscriptions: make(map[uint64]Subscriber),
		logger:        logger,
		name:          b.busName,
	}
	eb.setupObservability(&o11y.Config{
		MetricsProvider: b.metricsProvider,
		TracingProvider: b.tracingProvider,
	})

	return eb, nil
}
