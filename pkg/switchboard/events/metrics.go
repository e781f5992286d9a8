package events

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tsarna/switchboard/pkg/switchboard/o11y"
)

// TopicMetrics is the default topic StandaloneMetricsProvider publishes on.
const TopicMetrics = "system.metrics"

// StandaloneMetricsConfig configures a StandaloneMetricsProvider.
type StandaloneMetricsConfig struct {
	Interval     time.Duration // how often to publish (default 30s)
	MetricsTopic string        // topic to publish on (default TopicMetrics)
	ServiceName  string
}

// HistogramSummary aggregates the values recorded by a histogram.
type HistogramSummary struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// MetricsSnapshot is the state of every instrument at one point in time.
// Labels are not kept apart; each instrument aggregates across them.
type MetricsSnapshot struct {
	Timestamp   time.Time
	ServiceName string
	Counters    map[string]int64
	Histograms  map[string]HistogramSummary
	Gauges      map[string]float64
}

// Data renders the snapshot as event data.
func (s MetricsSnapshot) Data() map[string]any {
	histograms := make(map[string]any, len(s.Histograms))
	for name, h := range s.Histograms {
		histograms[name] = map[string]any{"count": h.Count, "sum": h.Sum, "min": h.Min, "max": h.Max}
	}
	counters := make(map[string]any, len(s.Counters))
	for name, v := range s.Counters {
		counters[name] = v
	}
	gauges := make(map[string]any, len(s.Gauges))
	for name, v := range s.Gauges {
		gauges[name] = v
	}

	return map[string]any{
		"timestamp":   s.Timestamp.UTC().Format(time.RFC3339Nano),
		"serviceName": s.ServiceName,
		"counters":    counters,
		"histograms":  histograms,
		"gauges":      gauges,
	}
}

// StandaloneMetricsProvider is an in-process o11y.MetricsProvider that
// periodically publishes a snapshot of its instruments on an EventBus, so
// metrics can be watched by any subscribed client without an external
// collector.
type StandaloneMetricsProvider struct {
	config   StandaloneMetricsConfig
	eventBus EventBus

	counters   sync.Map // map[string]*standaloneCounter
	histograms sync.Map // map[string]*standaloneHistogram
	gauges     sync.Map // map[string]*standaloneGauge

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started int32
}

// NewStandaloneMetricsProvider creates a provider. The bus is usually built
// with this provider, so it is attached afterwards with SetEventBus.
func NewStandaloneMetricsProvider(config *StandaloneMetricsConfig) *StandaloneMetricsProvider {
	if config == nil {
		config = &StandaloneMetricsConfig{}
	}

	cfg := *config
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MetricsTopic == "" {
		cfg.MetricsTopic = TopicMetrics
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "unknown"
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &StandaloneMetricsProvider{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetEventBus sets the bus snapshots are published on. Call before Start.
func (s *StandaloneMetricsProvider) SetEventBus(bus EventBus) {
	s.eventBus = bus
}

// Start begins periodic publishing.
func (s *StandaloneMetricsProvider) Start() {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return
	}

	s.wg.Add(1)
	go s.publishLoop()
}

// Stop publishes a final snapshot and stops.
func (s *StandaloneMetricsProvider) Stop() {
	if !atomic.CompareAndSwapInt32(&s.started, 1, 0) {
		return
	}

	s.cancel()
	s.wg.Wait()
}

func (s *StandaloneMetricsProvider) publishLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.publish()
		case <-s.ctx.Done():
			s.publish()
			return
		}
	}
}

func (s *StandaloneMetricsProvider) publish() {
	if s.eventBus == nil {
		return
	}
	s.eventBus.Publish(context.Background(), s.config.MetricsTopic, s.Snapshot().Data())
}

// Snapshot collects the current value of every instrument.
func (s *StandaloneMetricsProvider) Snapshot() MetricsSnapshot {
	snapshot := MetricsSnapshot{
		Timestamp:   time.Now(),
		ServiceName: s.config.ServiceName,
		Counters:    make(map[string]int64),
		Histograms:  make(map[string]HistogramSummary),
		Gauges:      make(map[string]float64),
	}

	s.counters.Range(func(key, value any) bool {
		snapshot.Counters[key.(string)] = value.(*standaloneCounter).value.Load()
		return true
	})
	s.histograms.Range(func(key, value any) bool {
		snapshot.Histograms[key.(string)] = value.(*standaloneHistogram).summary()
		return true
	})
	s.gauges.Range(func(key, value any) bool {
		snapshot.Gauges[key.(string)] = value.(*standaloneGauge).get()
		return true
	})

	return snapshot
}

func (s *StandaloneMetricsProvider) Counter(name string) o11y.Counter {
	actual, _ := s.counters.LoadOrStore(name, &standaloneCounter{})
	return actual.(*standaloneCounter)
}

func (s *StandaloneMetricsProvider) Histogram(name string) o11y.Histogram {
	actual, _ := s.histograms.LoadOrStore(name, &standaloneHistogram{})
	return actual.(*standaloneHistogram)
}

func (s *StandaloneMetricsProvider) Gauge(name string) o11y.Gauge {
	actual, _ := s.gauges.LoadOrStore(name, &standaloneGauge{})
	return actual.(*standaloneGauge)
}

type standaloneCounter struct {
	value atomic.Int64
}

func (c *standaloneCounter) Add(ctx context.Context, value int64, labels ...o11y.Label) {
	c.value.Add(value)
}

type standaloneHistogram struct {
	mu  sync.Mutex
	sum HistogramSummary
}

func (h *standaloneHistogram) Record(ctx context.Context, value float64, labels ...o11y.Label) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sum.Count == 0 {
		h.sum.Min, h.sum.Max = value, value
	} else {
		h.sum.Min = math.Min(h.sum.Min, value)
		h.sum.Max = math.Max(h.sum.Max, value)
	}
	h.sum.Count++
	h.sum.Sum += value
}

func (h *standaloneHistogram) summary() HistogramSummary {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

type standaloneGauge struct {
	bits atomic.Uint64
}

func (g *standaloneGauge) Set(ctx context.Context, value float64, labels ...o11y.Label) {
	g.bits.Store(math.Float64bits(value))
}

func (g *standaloneGauge) get() float64 {
	return math.Float64frombits(g.bits.Load())
}
