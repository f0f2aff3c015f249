package telemetry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/oceanfeed/oceanfeed/internal/telemetry"
)

func TestInit_Disabled(t *testing.T) {
	ctx := context.Background()

	provider, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "oceanfeed-test",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		OTLPEndpoint:   "localhost:4317",
		Enabled:        false,
	})

	require.NoError(t, err)
	assert.NotNil(t, provider.Tracer)
	assert.NotNil(t, provider.Meter)
	assert.Nil(t, provider.TracerProvider)
	assert.Nil(t, provider.MeterProvider)
	assert.NoError(t, provider.Shutdown(ctx))

	assert.NoError(t, (&telemetry.Provider{}).Shutdown(ctx))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestPipelineMetrics_RecordLoad(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	metrics, err := telemetry.NewPipelineMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordLoad(ctx, 120*time.Millisecond, 3, 42, nil)
	metrics.RecordLoad(ctx, 80*time.Millisecond, 1, 8, nil)
	metrics.RecordLoad(ctx, time.Second, 0, 0, errors.New("fetch feeds: 502"))

	data := collect(t, reader)

	loads, ok := data["sensor.load.total"].(metricdata.Sum[int64])
	require.True(t, ok)
	byError := map[bool]int64{}
	for _, dp := range loads.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("error"))
		byError[v.AsBool()] = dp.Value
	}
	assert.Equal(t, map[bool]int64{false: 2, true: 1}, byError)

	feeds, ok := data["sensor.feeds.parsed"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, feeds.DataPoints, 1)
	assert.Equal(t, int64(4), feeds.DataPoints[0].Value)

	rows, ok := data["sensor.rows.assembled"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, rows.DataPoints, 1)
	assert.Equal(t, int64(50), rows.DataPoints[0].Value)

	durations, ok := data["sensor.load.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range durations.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)
}
