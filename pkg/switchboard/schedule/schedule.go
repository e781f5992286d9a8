// Package schedule publishes configured events on the bus at cron times.
package schedule

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tsarna/switchboard/pkg/switchboard/events"
	"go.uber.org/zap"
)

// Parser accepts standard five-field expressions, an optional leading
// seconds field and descriptors such as @hourly or @every 5m.
var Parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Entry publishes Data on Topic every time Schedule fires.
type Entry struct {
	Name     string
	Schedule string
	Timezone string
	Topic    string
	Data     map[string]any
}

// Scheduler runs entries grouped by timezone, one cron instance per zone.
type Scheduler struct {
	bus    events.EventBus
	logger *zap.Logger
	crons  map[string]*cron.Cron
}

// New validates every entry and prepares a Scheduler. Nothing fires until
// Start is called.
func New(bus events.EventBus, logger *zap.Logger, entries ...Entry) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scheduler{
		bus:    bus,
		logger: logger,
		crons:  make(map[string]*cron.Cron),
	}

	for _, entry := range entries {
		if err := s.add(entry); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) add(entry Entry) error {
	zone := entry.Timezone
	if zone == "" {
		zone = "Local"
	}

	c, ok := s.crons[zone]
	if !ok {
		location, err := time.LoadLocation(zone)
		if err != nil {
			return fmt.Errorf("cron %q: invalid timezone %q: %w", entry.Name, zone, err)
		}
		c = cron.New(
			cron.WithLogger(NewZapCronLogger(s.logger)),
			cron.WithParser(Parser),
			cron.WithLocation(location),
			cron.WithChain(cron.Recover(NewZapCronLogger(s.logger))),
		)
		s.crons[zone] = c
	}

	if _, err := c.AddJob(entry.Schedule, &publishJob{bus: s.bus, logger: s.logger, entry: entry}); err != nil {
		return fmt.Errorf("cron %q: invalid schedule %q: %w", entry.Name, entry.Schedule, err)
	}

	s.logger.Debug("Scheduled event",
		zap.String("cron", entry.Name),
		zap.String("schedule", entry.Schedule),
		zap.String("topic", entry.Topic))
	return nil
}

// Start begins firing entries in the background.
func (s *Scheduler) Start() {
	for _, c := range s.crons {
		c.Start()
	}
}

// Stop stops firing and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	for _, c := range s.crons {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Len returns the number of scheduled entries.
func (s *Scheduler) Len() int {
	n := 0
	for _, c := range s.crons {
		n += len(c.Entries())
	}
	return n
}

type publishJob struct {
	bus    events.EventBus
	logger *zap.Logger
	entry  Entry
}

func (j *publishJob) Run() {
	data := maps.Clone(j.entry.Data)
	if data == nil {
		data = make(map[string]any)
	}
	data["cron"] = j.entry.Name
	data["firedAt"] = time.Now().UTC().Format(time.RFC3339Nano)

	j.logger.Debug("Publishing scheduled event", zap.String("cron", j.entry.Name), zap.String("topic", j.entry.Topic))
	j.bus.Publish(context.Background(), j.entry.Topic, data)
}

// ZapCronLogger adapts a zap.Logger to the cron.Logger interface.
type ZapCronLogger struct {
	logger *zap.Logger
}

// NewZapCronLogger creates a ZapCronLogger writing to logger.
func NewZapCronLogger(logger *zap.Logger) *ZapCronLogger {
	return &ZapCronLogger{logger: logger}
}

// Info logs cron's routine chatter at debug level.
func (z *ZapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	z.logger.Debug(msg, fields(keysAndValues)...)
}

func (z *ZapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	z.logger.Error(msg, append(fields(keysAndValues), zap.Error(err))...)
}

func fields(keysAndValues []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(keysAndValues)/2+1)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			out = append(out, zap.Any(key, keysAndValues[i+1]))
		}
	}
	return out
}
