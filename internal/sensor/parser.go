package sensor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseOptions controls how feeds are turned into tables.
type ParseOptions struct {
	UseUnits bool
	Binned   bool
	QC       QCMode
}

// slot maps one positional row cell to an output column.
type slot struct {
	pos    int
	column Column
}

// feedLayout is the resolved column plan of a feed, built before any row is read.
type feedLayout struct {
	index []slot
	data  []slot
	flags []slot
}

// ParsePayload parses every feed of a payload and merges them into one table.
// A payload without feeds returns ErrNoData.
func ParsePayload(payload *FeedPayload, vars VariableMetadata, opts ParseOptions) (*Table, error) {
	feeds := payload.Feeds()
	if len(feeds) == 0 {
		return nil, ErrNoData
	}

	tables := make([]*Table, 0, len(feeds))
	for i := range feeds {
		t, err := ParseFeed(&feeds[i], vars, opts)
		if err != nil {
			return nil, fmt.Errorf("parse feed %d: %w", i, err)
		}
		tables = append(tables, t)
	}

	return Merge(tables...)
}

// ParseFeed turns one feed into an indexed table.
func ParseFeed(feed *Feed, vars VariableMetadata, opts ParseOptions) (*Table, error) {
	layout, err := planFeed(&feed.Metadata, vars, opts)
	if err != nil {
		return nil, err
	}

	t := &Table{
		Index: make([]string, 0, len(layout.index)),
		Rows:  make([]Row, 0, len(feed.Data)),
	}
	for _, s := range layout.index {
		t.Index = append(t.Index, s.column.Name)
	}
	cols := append(append([]slot(nil), layout.data...), layout.flags...)
	for _, s := range cols {
		t.Columns = append(t.Columns, s.column)
	}

	for r, cells := range feed.Data {
		row, err := buildRow(cells, layout, cols)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", r, err)
		}
		t.Rows = append(t.Rows, row)
	}

	if opts.QC.Filtering() {
		applyQualityFilter(t, opts.QC)
	}

	return t, nil
}

// planFeed resolves index, data and flag descriptors to named columns.
func planFeed(md *FeedMetadata, vars VariableMetadata, opts ParseOptions) (*feedLayout, error) {
	layout := &feedLayout{}

	layout.index = append(layout.index, slot{
		pos:    md.Time.Index,
		column: Column{Name: Label(md.Time.Label, md.Time.Units, opts.UseUnits), Units: md.Time.Units},
	})
	if md.Z != nil {
		layout.index = append(layout.index, slot{
			pos:    md.Z.Index,
			column: Column{Name: Label(md.Z.Label, md.Z.Units, opts.UseUnits), Units: md.Z.Units},
		})
	}

	if !isJSONNull(md.Lon) || !isJSONNull(md.Lat) {
		return nil, &LocationError{Lon: md.Lon, Lat: md.Lat}
	}

	values := md.Values
	if opts.Binned {
		values = md.AvgVals
	}

	dataByDevice := make(map[int]string, len(values))
	for _, v := range values {
		label, err := vars.LabelForDevice(v.DeviceID)
		if err != nil {
			return nil, withContext(err, "value column")
		}
		name := Label(label, v.Units, opts.UseUnits)
		dataByDevice[v.DeviceID] = name
		layout.data = append(layout.data, slot{
			pos:    v.Index,
			column: Column{Name: name, Kind: ColumnData, Units: v.Units},
		})
	}

	if !opts.QC.Enabled() {
		return layout, nil
	}

	for _, q := range md.QCAgg {
		label, err := vars.LabelForDevice(q.DeviceID)
		if err != nil {
			return nil, withContext(err, "qc column")
		}
		dataName, ok := dataByDevice[q.DeviceID]
		if !ok {
			return nil, &DeviceMappingError{DeviceID: q.DeviceID, Context: "qc column without data column"}
		}
		layout.flags = append(layout.flags, slot{
			pos:    q.Index,
			column: Column{Name: FlagLabel(label), Kind: ColumnFlag, DataColumn: dataName},
		})
	}

	return layout, nil
}

func withContext(err error, where string) error {
	var dm *DeviceMappingError
	if errors.As(err, &dm) {
		dm.Context = where
	}
	return err
}

func buildRow(cells []json.RawMessage, layout *feedLayout, cols []slot) (Row, error) {
	cell := func(pos int) (json.RawMessage, error) {
		if pos < 0 || pos >= len(cells) {
			return nil, fmt.Errorf("%w: slot %d outside row of width %d", ErrRowShape, pos, len(cells))
		}
		return cells[pos], nil
	}

	var row Row
	raw, err := cell(layout.index[0].pos)
	if err != nil {
		return row, err
	}
	if row.Key.Time, err = parseTime(raw); err != nil {
		return row, err
	}
	if len(layout.index) > 1 {
		if raw, err = cell(layout.index[1].pos); err != nil {
			return row, err
		}
		if row.Key.Depth, err = parseValue(raw); err != nil {
			return row, err
		}
		row.Key.HasDepth = true
	}

	row.Values = make([]Value, len(cols))
	for i, s := range cols {
		if raw, err = cell(s.pos); err != nil {
			return row, err
		}
		if row.Values[i], err = parseValue(raw); err != nil {
			return row, err
		}
	}
	return row, nil
}

// timeLayouts are the accepted textual timestamp forms, most specific first.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// maxEpochSeconds is the largest epoch magnitude representable in nanoseconds.
const maxEpochSeconds = float64(math.MaxInt64 / int64(time.Second))

// ParseTime parses an unambiguous timestamp. Zone-less values are taken as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if !(math.Abs(secs) <= maxEpochSeconds) {
			return time.Time{}, fmt.Errorf("%w: epoch timestamp %q out of range", ErrRowShape, s)
		}
		return time.Unix(0, int64(secs*float64(time.Second))).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised timestamp %q", ErrRowShape, s)
}

func parseTime(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrRowShape, err)
		}
		return ParseTime(s)
	}
	return ParseTime(string(raw))
}

func parseValue(raw json.RawMessage) (Value, error) {
	raw = bytes.TrimSpace(raw)
	if isJSONNull(raw) {
		return Null(), nil
	}
	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return Null(), fmt.Errorf("%w: %v", ErrRowShape, err)
		}
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, "nan") {
			return Null(), nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Null(), fmt.Errorf("%w: non-numeric cell %s", ErrRowShape, raw)
	}
	return Float(f), nil
}
