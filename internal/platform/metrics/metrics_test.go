package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestCollector(t *testing.T) (*Collector, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	c, err := New(WithMeter(provider.Meter("test")))
	require.NoError(t, err)
	return c, reader
}

// sums returns counter totals keyed by metric name, or name/event when the
// point carries an event attribute.
func sums(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				key := m.Name
				if event, ok := dp.Attributes.Value("event"); ok {
					key += "/" + event.AsString()
				}
				out[key] += dp.Value
			}
		}
	}
	return out
}

func TestSnapshot(t *testing.T) {
	c, _ := newTestCollector(t)
	c.Record(200, 10*time.Millisecond)
	c.Record(503, 30*time.Millisecond)
	c.Record(429, 0)

	snap := c.Snapshot()
	assert.Equal(t, uint64(3), snap["requestsTotal"])
	assert.Equal(t, uint64(1), snap["errorsTotal"])
	assert.Equal(t, uint64(1), snap["rateLimitedTotal"])
	assert.Equal(t, uint64(40), snap["totalDurationMs"])
	assert.InDelta(t, 13.33, snap["avgDurationMs"], 0.01)
}

func TestLifecycleCountersReachMeter(t *testing.T) {
	c, reader := newTestCollector(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordTransition("submission_advanced")
		}()
	}
	wg.Wait()
	c.RecordTransition("submission_rejected")
	c.RecordConflict()
	c.RecordConflict()
	c.RecordNotifyFailure()

	got := sums(t, reader)
	assert.Equal(t, int64(20), got["appraisal.submission.transitions/submission_advanced"])
	assert.Equal(t, int64(1), got["appraisal.submission.transitions/submission_rejected"])
	assert.Equal(t, int64(2), got["appraisal.submission.conflicts"])
	assert.Equal(t, int64(1), got["appraisal.notifications.failures"])
}

func TestNewUsesGlobalMeterByDefault(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	c.RecordTransition("submission_advanced")
	c.RecordConflict()
	assert.Equal(t, uint64(0), c.Snapshot()["requestsTotal"])
}
