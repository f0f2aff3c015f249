package export

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/oceanfeed/oceanfeed/internal/sensor"
)

// Exporter encodes tables and uploads them to a sink.
type Exporter struct {
	sink   Sink
	logger zerolog.Logger
	now    func() time.Time
}

// NewExporter creates an exporter for sink.
func NewExporter(sink Sink, logger zerolog.Logger) *Exporter {
	return &Exporter{sink: sink, logger: logger, now: time.Now}
}

// ObjectName returns the Hive-style object path of an export:
// <dataset>/dt=YYYY-MM-DD/data_YYYYMMDDHHMMSS_<id>.<ext>.
func ObjectName(datasetID string, f Format, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("%s/dt=%s/data_%s_%s.%s",
		datasetID, at.Format("2006-01-02"), at.Format("20060102150405"), uuid.NewString()[:8], f.Extension())
}

// Export writes t in format f and uploads it. It returns the stored location.
func (e *Exporter) Export(ctx context.Context, datasetID string, t *sensor.Table, f Format) (string, error) {
	var buf bytes.Buffer
	if err := Write(&buf, t, f); err != nil {
		return "", fmt.Errorf("encode %s: %w", f, err)
	}

	size := buf.Len()
	location, err := e.sink.Upload(ctx, ObjectName(datasetID, f, e.now()), &buf, f.ContentType())
	if err != nil {
		return "", err
	}

	e.logger.Info().
		Str("dataset_id", datasetID).
		Str("format", string(f)).
		Int("bytes", size).
		Str("location", location).
		Msg("table exported")
	return location, nil
}
