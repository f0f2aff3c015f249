package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/oceanfeed/oceanfeed/internal/sensor"
)

type schemaNode struct {
	Tag    string       `json:"Tag"`
	Fields []schemaNode `json:"Fields,omitempty"`
}

// WriteParquet writes t as a single-row-group Parquet file with SNAPPY compression.
// Time is a millisecond timestamp; every other column is an optional double.
func WriteParquet(w io.Writer, t *sensor.Table) (err error) {
	names := ParquetNames(append(append([]string(nil), t.Index...), t.ColumnNames()...))

	root := schemaNode{Tag: "name=parquet_go_root, repetitiontype=REQUIRED"}
	for i, name := range names {
		tag := fmt.Sprintf("name=%s, type=DOUBLE, repetitiontype=OPTIONAL", name)
		if i == 0 {
			tag = fmt.Sprintf("name=%s, type=INT64, convertedtype=TIMESTAMP_MILLIS, repetitiontype=REQUIRED", name)
		}
		root.Fields = append(root.Fields, schemaNode{Tag: tag})
	}
	schema, err := json.Marshal(root)
	if err != nil {
		return fmt.Errorf("encode parquet schema: %w", err)
	}

	np := int64(len(t.Rows))
	if np == 0 {
		np = 1
	}
	pw, err := writer.NewJSONWriterFromWriter(string(schema), w, np)
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	nIndex := len(t.Index)
	for r, row := range t.Rows {
		rec := make(map[string]any, len(names))
		rec[names[0]] = row.Key.Time.UnixMilli()
		if t.HasDepth() {
			rec[names[1]] = nullable(row.Key.Depth)
		}
		for i, v := range row.Values {
			rec[names[nIndex+i]] = nullable(v)
		}
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode row %d: %w", r, err)
		}
		if err := pw.Write(string(line)); err != nil {
			return fmt.Errorf("write row %d: %w", r, err)
		}
	}

	// WriteStop can panic on malformed schemas.
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("finalize parquet file: %v", rec)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finalize parquet file: %w", err)
	}
	return nil
}

func nullable(v sensor.Value) any {
	if !v.Valid {
		return nil
	}
	return v.Float
}

// ParquetNames maps column names to unique Parquet field names made of lower-case
// letters, digits and underscores. "temp [degC]" becomes "temp_degc".
func ParquetNames(columns []string) []string {
	out := make([]string, len(columns))
	seen := make(map[string]int, len(columns))
	for i, col := range columns {
		var b strings.Builder
		underscore := false
		for _, r := range strings.ToLower(col) {
			if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
				b.WriteRune(r)
				underscore = false
				continue
			}
			if !underscore && b.Len() > 0 {
				b.WriteByte('_')
				underscore = true
			}
		}
		name := strings.TrimSuffix(b.String(), "_")
		if name == "" || unicode.IsDigit(rune(name[0])) {
			name = "c_" + name
		}
		if n := seen[name]; n > 0 {
			seen[name]++
			name = fmt.Sprintf("%s_%d", name, n+1)
		} else {
			seen[name] = 1
		}
		out[i] = name
	}
	return out
}
