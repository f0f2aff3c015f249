// Package export writes assembled station tables as files and uploads them.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/oceanfeed/oceanfeed/internal/sensor"
)

// Format is an export file format.
type Format string

// Supported formats.
const (
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// ParseFormat parses a format name. An empty name is JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatCSV, FormatParquet:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatParquet:
		return "application/vnd.apache.parquet"
	default:
		return "application/json"
	}
}

// Extension returns the file extension of the format, without a dot.
func (f Format) Extension() string {
	return string(f)
}

// Write encodes t to w in the given format.
func Write(w io.Writer, t *sensor.Table, f Format) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, t)
	case FormatParquet:
		return WriteParquet(w, t)
	case FormatJSON:
		return json.NewEncoder(w).Encode(t)
	default:
		return fmt.Errorf("unsupported export format %q", f)
	}
}
