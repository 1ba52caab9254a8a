package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "appraisal"

// Collector keeps the HTTP request counters served on /metrics and forwards
// submission lifecycle counts to an OpenTelemetry meter.
type Collector struct {
	totalRequests   uint64
	errorRequests   uint64
	rateLimited     uint64
	totalDurationMs uint64

	transitions    metric.Int64Counter
	conflicts      metric.Int64Counter
	notifyFailures metric.Int64Counter
}

type Option func(*options)

type options struct {
	meter metric.Meter
}

// WithMeter injects a custom OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(o *options) {
		o.meter = m
	}
}

func New(opts ...Option) (*Collector, error) {
	cfg := options{}
	for _, opt := range opts {
		opt(&cfg)
	}
	meter := cfg.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}

	transitions, err := meter.Int64Counter(
		"appraisal.submission.transitions",
		metric.WithDescription("Committed submission lifecycle events"),
	)
	if err != nil {
		return nil, err
	}
	conflicts, err := meter.Int64Counter(
		"appraisal.submission.conflicts",
		metric.WithDescription("Writes rejected by the submission revision check"),
	)
	if err != nil {
		return nil, err
	}
	notifyFailures, err := meter.Int64Counter(
		"appraisal.notifications.failures",
		metric.WithDescription("Notifications that could not be delivered"),
	)
	if err != nil {
		return nil, err
	}
	return &Collector{
		transitions:    transitions,
		conflicts:      conflicts,
		notifyFailures: notifyFailures,
	}, nil
}

func (c *Collector) Record(status int, duration time.Duration) {
	atomic.AddUint64(&c.totalRequests, 1)
	if status >= 500 {
		atomic.AddUint64(&c.errorRequests, 1)
	}
	if status == 429 {
		atomic.AddUint64(&c.rateLimited, 1)
	}
	atomic.AddUint64(&c.totalDurationMs, uint64(duration.Milliseconds()))
}

// RecordTransition counts one committed submission event.
func (c *Collector) RecordTransition(event string) {
	c.transitions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("event", event)))
}

// RecordConflict counts a write rejected by the revision check.
func (c *Collector) RecordConflict() {
	c.conflicts.Add(context.Background(), 1)
}

func (c *Collector) RecordNotifyFailure() {
	c.notifyFailures.Add(context.Background(), 1)
}

func (c *Collector) Snapshot() map[string]any {
	total := atomic.LoadUint64(&c.totalRequests)
	errs := atomic.LoadUint64(&c.errorRequests)
	limited := atomic.LoadUint64(&c.rateLimited)
	totalMs := atomic.LoadUint64(&c.totalDurationMs)
	avg := float64(0)
	if total > 0 {
		avg = float64(totalMs) / float64(total)
	}

	return map[string]any{
		"requestsTotal":    total,
		"errorsTotal":      errs,
		"rateLimitedTotal": limited,
		"avgDurationMs":    avg,
		"totalDurationMs":  totalMs,
	}
}
