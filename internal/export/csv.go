package export

import (
	"encoding/csv"
	"io"
	"time"

	"github.com/oceanfeed/oceanfeed/internal/sensor"
)

// WriteCSV writes a header of index then data column names, one line per row.
// Missing values are empty fields.
func WriteCSV(w io.Writer, t *sensor.Table) error {
	cw := csv.NewWriter(w)

	header := append(append([]string(nil), t.Index...), t.ColumnNames()...)
	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, len(header))
	for _, row := range t.Rows {
		record = record[:0]
		record = append(record, row.Key.Time.UTC().Format(time.RFC3339Nano))
		if t.HasDepth() {
			record = append(record, row.Key.Depth.String())
		}
		for _, v := range row.Values {
			record = append(record, v.String())
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
