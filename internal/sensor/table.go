package sensor

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Value is a nullable numeric cell. The zero Value is missing.
type Value struct {
	Float float64
	Valid bool
}

// Float returns a present value.
func Float(v float64) Value {
	return Value{Float: v, Valid: true}
}

// Null returns a missing value.
func Null() Value {
	return Value{}
}

// MarshalJSON encodes missing values as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid || math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v.Float, 'g', -1, 64), nil
}

// UnmarshalJSON accepts numbers, numeric strings and null.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := parseValue(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v Value) String() string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatFloat(v.Float, 'g', -1, 64)
}

// ColumnKind distinguishes measured values from quality-flag series.
type ColumnKind string

const (
	ColumnData ColumnKind = "data"
	ColumnFlag ColumnKind = "flag"
)

// Column describes one non-index column of a table.
type Column struct {
	Name  string     `json:"name"`
	Kind  ColumnKind `json:"kind"`
	Units string     `json:"units,omitempty"`

	// DataColumn names the data column a flag column qualifies.
	DataColumn string `json:"data_column,omitempty"`
}

// IndexKey is the row index: time, and depth when the table has a depth level.
type IndexKey struct {
	Time     time.Time
	Depth    Value
	HasDepth bool
}

// Compare orders keys by time, then depth. Missing depths sort last.
func (k IndexKey) Compare(o IndexKey) int {
	if c := k.Time.Compare(o.Time); c != 0 {
		return c
	}
	if !k.HasDepth && !o.HasDepth {
		return 0
	}
	switch {
	case k.Depth.Valid && !o.Depth.Valid:
		return -1
	case !k.Depth.Valid && o.Depth.Valid:
		return 1
	case !k.Depth.Valid && !o.Depth.Valid:
		return 0
	case k.Depth.Float < o.Depth.Float:
		return -1
	case k.Depth.Float > o.Depth.Float:
		return 1
	}
	return 0
}

// Row is one indexed row of values, aligned with Table.Columns.
type Row struct {
	Key    IndexKey
	Values []Value
}

// Table is an indexed table with one or two index levels.
type Table struct {
	Index   []string
	Columns []Column
	Rows    []Row
}

// HasDepth reports whether the table has a depth index level.
func (t *Table) HasDepth() bool {
	return len(t.Index) > 1
}

// Shape returns the number of rows and non-index columns.
func (t *Table) Shape() (rows, cols int) {
	return len(t.Rows), len(t.Columns)
}

// ColumnNames returns the non-index column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// ColumnIndex returns the position of a column by name.
func (t *Table) ColumnIndex(name string) (int, bool) {
	for i, c := range t.Columns {
		if c.Name == name {
			return i, true
		}
	}
	return -1, false
}

// Values returns a copy of one column.
func (t *Table) Values(name string) ([]Value, bool) {
	i, ok := t.ColumnIndex(name)
	if !ok {
		return nil, false
	}
	out := make([]Value, len(t.Rows))
	for r, row := range t.Rows {
		out[r] = row.Values[i]
	}
	return out, true
}

// DropColumn removes a column in place. Unknown names are ignored.
func (t *Table) DropColumn(name string) {
	i, ok := t.ColumnIndex(name)
	if !ok {
		return
	}
	t.Columns = append(t.Columns[:i:i], t.Columns[i+1:]...)
	for r := range t.Rows {
		vals := t.Rows[r].Values
		t.Rows[r].Values = append(vals[:i:i], vals[i+1:]...)
	}
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := &Table{
		Index:   append([]string(nil), t.Index...),
		Columns: append([]Column(nil), t.Columns...),
		Rows:    make([]Row, len(t.Rows)),
	}
	for i, row := range t.Rows {
		out.Rows[i] = Row{Key: row.Key, Values: append([]Value(nil), row.Values...)}
	}
	return out
}

// DTypes returns the dtype of every index and data column, index first.
func (t *Table) DTypes() []ColumnSchema {
	out := make([]ColumnSchema, 0, len(t.Index)+len(t.Columns))
	for i, name := range t.Index {
		dtype := "float64"
		if i == 0 {
			dtype = "datetime64[ns, UTC]"
		}
		out = append(out, ColumnSchema{Name: name, DType: dtype, Role: "index"})
	}
	for _, c := range t.Columns {
		out = append(out, ColumnSchema{Name: c.Name, DType: "float64", Role: string(c.Kind)})
	}
	return out
}

// tableJSON is the split-orient wire form of a table.
type tableJSON struct {
	IndexNames []string  `json:"index_names"`
	Columns    []Column  `json:"columns"`
	Index      [][]any   `json:"index"`
	Data       [][]Value `json:"data"`
}

// MarshalJSON encodes the table in split orientation.
func (t *Table) MarshalJSON() ([]byte, error) {
	out := tableJSON{
		IndexNames: t.Index,
		Columns:    t.Columns,
		Index:      make([][]any, len(t.Rows)),
		Data:       make([][]Value, len(t.Rows)),
	}
	if out.Columns == nil {
		out.Columns = []Column{}
	}
	for i, row := range t.Rows {
		key := []any{row.Key.Time.UTC().Format(time.RFC3339Nano)}
		if t.HasDepth() {
			key = append(key, row.Key.Depth)
		}
		out.Index[i] = key
		out.Data[i] = row.Values
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the split orientation written by MarshalJSON.
func (t *Table) UnmarshalJSON(data []byte) error {
	var in struct {
		IndexNames []string            `json:"index_names"`
		Columns    []Column            `json:"columns"`
		Index      [][]json.RawMessage `json:"index"`
		Data       [][]Value           `json:"data"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if len(in.Index) != len(in.Data) {
		return ErrRowShape
	}

	t.Index = in.IndexNames
	t.Columns = in.Columns
	t.Rows = make([]Row, len(in.Index))
	for i, key := range in.Index {
		if len(key) != len(in.IndexNames) || len(key) == 0 {
			return ErrRowShape
		}
		ts, err := parseTime(key[0])
		if err != nil {
			return err
		}
		row := Row{Key: IndexKey{Time: ts}, Values: in.Data[i]}
		if len(key) > 1 {
			depth, err := parseValue(key[1])
			if err != nil {
				return err
			}
			row.Key.Depth = depth
			row.Key.HasDepth = true
		}
		t.Rows[i] = row
	}
	return nil
}
