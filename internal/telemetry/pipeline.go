package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/oceanfeed/oceanfeed/internal/telemetry"

// PipelineMetrics records station loads of the feed assembly pipeline.
type PipelineMetrics struct {
	loadDuration  metric.Float64Histogram
	loadTotal     metric.Int64Counter
	feedsParsed   metric.Int64Counter
	rowsAssembled metric.Int64Counter
}

// NewPipelineMetrics creates the pipeline instruments on the global meter provider.
func NewPipelineMetrics() (*PipelineMetrics, error) {
	meter := otel.Meter(meterName)

	loadDuration, err := meter.Float64Histogram(
		"sensor.load.duration",
		metric.WithDescription("Duration of sensor station loads in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	loadTotal, err := meter.Int64Counter(
		"sensor.load.total",
		metric.WithDescription("Total number of sensor station loads"),
		metric.WithUnit("{load}"),
	)
	if err != nil {
		return nil, err
	}

	feedsParsed, err := meter.Int64Counter(
		"sensor.feeds.parsed",
		metric.WithDescription("Number of feeds received from the sensor service"),
		metric.WithUnit("{feed}"),
	)
	if err != nil {
		return nil, err
	}

	rowsAssembled, err := meter.Int64Counter(
		"sensor.rows.assembled",
		metric.WithDescription("Number of rows in assembled station tables"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{
		loadDuration:  loadDuration,
		loadTotal:     loadTotal,
		feedsParsed:   feedsParsed,
		rowsAssembled: rowsAssembled,
	}, nil
}

// RecordLoad records one station load.
func (m *PipelineMetrics) RecordLoad(ctx context.Context, duration time.Duration, feeds, rows int, err error) {
	attrs := metric.WithAttributes(attribute.Bool("error", err != nil))

	m.loadDuration.Record(ctx, duration.Seconds(), attrs)
	m.loadTotal.Add(ctx, 1, attrs)
	m.feedsParsed.Add(ctx, int64(feeds))
	m.rowsAssembled.Add(ctx, int64(rows))
}
