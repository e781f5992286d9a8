package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/switchboard/pkg/switchboard/events"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type capture struct {
	mu     sync.Mutex
	topics []string
	data   []map[string]any
}

func (c *capture) OnEvent(ctx context.Context, topic string, data map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	c.data = append(c.data, data)
	return nil
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.topics)
}

func newBus(t *testing.T) events.EventBus {
	t.Helper()
	bus, err := events.NewEventBus().WithLogger(zap.NewNop()).Build()
	require.NoError(t, err)
	return bus
}

func TestNewValidates(t *testing.T) {
	bus := newBus(t)

	_, err := New(bus, nil, Entry{Name: "bad", Schedule: "not a schedule", Topic: "t"})
	assert.ErrorContains(t, err, `cron "bad": invalid schedule`)

	_, err = New(bus, nil, Entry{Name: "tz", Schedule: "@hourly", Timezone: "Mars/Olympus", Topic: "t"})
	assert.ErrorContains(t, err, "invalid timezone")

	s, err := New(bus, nil,
		Entry{Name: "a", Schedule: "@hourly", Topic: "t"},
		Entry{Name: "b", Schedule: "*/5 * * * * *", Topic: "t"},
		Entry{Name: "c", Schedule: "0 3 * * *", Timezone: "UTC", Topic: "t"},
	)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())
	assert.Len(t, s.crons, 2, "one cron per timezone")
}

func TestSchedulerPublishes(t *testing.T) {
	bus := newBus(t)
	rec := &capture{}
	bus.Subscribe(rec)

	data := map[string]any{"source": "test"}
	s, err := New(bus, zap.NewNop(), Entry{Name: "tick", Schedule: "@every 1s", Topic: "system.tick", Data: data})
	require.NoError(t, err)

	s.Start()
	assert.Eventually(t, func() bool { return rec.count() >= 1 }, 5*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, "system.tick", rec.topics[0])
	assert.Equal(t, "test", rec.data[0]["source"])
	assert.Equal(t, "tick", rec.data[0]["cron"])
	assert.NotEmpty(t, rec.data[0]["firedAt"])
	assert.NotContains(t, data, "cron", "configured data is not modified")
}

func TestPublishJobWithoutData(t *testing.T) {
	bus := newBus(t)
	rec := &capture{}
	bus.Subscribe(rec)

	job := &publishJob{bus: bus, logger: zap.NewNop(), entry: Entry{Name: "n", Topic: "t"}}
	job.Run()

	require.Equal(t, 1, rec.count())
	assert.Equal(t, "n", rec.data[0]["cron"])
}

func TestZapCronLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapCronLogger(zap.New(core))

	logger.Info("schedule", "entry", 1, "next", "soon", "dangling")
	logger.Error(errors.New("boom"), "panic", "job", "x")

	entries := logs.All()
	require.Len(t, entries, 2)

	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, map[string]any{"entry": int64(1), "next": "soon"}, entries[0].ContextMap())

	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
	assert.Equal(t, "x", entries[1].ContextMap()["job"])
}
