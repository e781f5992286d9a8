package events

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingSubscriber logs every event it sees, then hands it to the wrapped
// subscriber if there is one.
type LoggingSubscriber struct {
	wrapped  Subscriber
	logger   *zap.Logger
	logLevel zapcore.Level
	name     string
}

// NewLoggingSubscriber creates a LoggingSubscriber. wrapped may be nil.
func NewLoggingSubscriber(wrapped Subscriber, logger *zap.Logger, logLevel zapcore.Level) *LoggingSubscriber {
	return NewNamedLoggingSubscriber(wrapped, logger, logLevel, "LoggingSubscriber")
}

// NewNamedLoggingSubscriber is NewLoggingSubscriber with a name shown in the
// log entries.
func NewNamedLoggingSubscriber(wrapped Subscriber, logger *zap.Logger, logLevel zapcore.Level, name string) *LoggingSubscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingSubscriber{
		wrapped:  wrapped,
		logger:   logger,
		logLevel: logLevel,
		name:     name,
	}
}

func (l *LoggingSubscriber) OnEvent(ctx context.Context, topic string, data map[string]any) error {
	l.logger.Log(l.logLevel, "Event published",
		zap.String("subscriber", l.name),
		zap.String("topic", topic),
		zap.Any("data", data),
	)

	if l.wrapped != nil {
		return l.wrapped.OnEvent(ctx, topic, data)
	}
	return nil
}
