package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/macho715/marine-weather-dashboard/internal/snapshot"
)

type EventType string

const (
	EventRequestCompleted EventType = "request_completed"
	EventFetchAttempt     EventType = "fetch_attempt"
	EventCircuitOpened    EventType = "circuit_opened"
	EventCircuitRejected  EventType = "circuit_rejected"
	EventSnapshotServed   EventType = "snapshot_served"
)

type MetricEvent struct {
	Type       EventType
	Timestamp  time.Time
	Route      string
	Key        string
	Duration   time.Duration
	StatusCode int
	Failed     bool
	Outcome    string
}

// Collector aggregates events off the request path. It satisfies the observer
// interfaces of guardedfetch and snapshot.
type Collector struct {
	eventCh  chan MetricEvent
	strategy string
	metrics  *Metrics
	prom     *promMetrics
	logger   *slog.Logger
}

// NewCollector reports strategy, the upstream selection strategy in effect, in
// every snapshot.
func NewCollector(bufferSize int, strategy string, registry *prometheus.Registry, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh:  make(chan MetricEvent, bufferSize),
		strategy: strategy,
		metrics:  NewMetrics(),
		prom:     newPromMetrics(registry),
		logger:   logger,
	}
}

// Emit queues an event, dropping it when the buffer is full.
func (c *Collector) Emit(event MetricEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case c.eventCh <- event:
	default:
		c.logger.Debug("Metrics buffer full, dropping event", "type", event.Type)
	}
}

func (c *Collector) RequestCompleted(route string, statusCode int, duration time.Duration) {
	c.Emit(MetricEvent{Type: EventRequestCompleted, Route: route, StatusCode: statusCode, Duration: duration})
}

func (c *Collector) AttemptFinished(key string, statusCode int, duration time.Duration, err error) {
	c.Emit(MetricEvent{Type: EventFetchAttempt, Key: key, StatusCode: statusCode, Duration: duration, Failed: err != nil})
}

func (c *Collector) CircuitOpened(key string) {
	c.Emit(MetricEvent{Type: EventCircuitOpened, Key: key})
}

func (c *Collector) CircuitRejected(key string) {
	c.Emit(MetricEvent{Type: EventCircuitRejected, Key: key})
}

func (c *Collector) SnapshotServed(key string, outcome snapshot.Outcome) {
	c.Emit(MetricEvent{Type: EventSnapshotServed, Key: key, Outcome: string(outcome)})
}

func (c *Collector) Start(ctx context.Context) {
	go func() { _ = c.Run(ctx) }()
}

// Run processes events until ctx is done, then drains what is buffered.
func (c *Collector) Run(ctx context.Context) error {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			c.drain()
			return nil
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventRequestCompleted:
		c.metrics.RecordRequest(event.Route, event.Duration, event.StatusCode)
		c.prom.observeRequest(event)

	case EventFetchAttempt:
		c.metrics.RecordAttempt(event.Key, event.Duration, event.StatusCode, event.Failed)
		c.prom.observeAttempt(event)

	case EventCircuitOpened:
		c.metrics.RecordCircuitOpened(event.Key)
		c.prom.circuitOpened.WithLabelValues(event.Key).Inc()

	case EventCircuitRejected:
		c.metrics.RecordCircuitRejected(event.Key)
		c.prom.circuitRejected.WithLabelValues(event.Key).Inc()

	case EventSnapshotServed:
		c.metrics.RecordSnapshot(event.Outcome)
		c.prom.snapshotsServed.WithLabelValues(event.Outcome).Inc()
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot(c.strategy)
}
