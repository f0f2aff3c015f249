package sensor

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// Aggregate QARTOD flag codes. They are passed through, never validated.
const (
	FlagPass         = 1
	FlagNotEvaluated = 2
	FlagSuspect      = 3
	FlagFail         = 4
	FlagMissing      = 9
)

type qcKind int

const (
	qcOff qcKind = iota
	qcShow
	qcFilter
)

// QCMode selects how aggregate quality flags are handled. The zero value is off.
type QCMode struct {
	kind     qcKind
	accepted []int
}

// QCOff ignores quality flags.
func QCOff() QCMode {
	return QCMode{}
}

// QCShow appends one flag column per flagged data column.
func QCShow() QCMode {
	return QCMode{kind: qcShow}
}

// QCFilter blanks data whose flag is not one of flags and drops the flag columns.
// Flags are kept sorted and unique.
func QCFilter(flags ...int) QCMode {
	accepted := append([]int(nil), flags...)
	sort.Ints(accepted)
	return QCMode{kind: qcFilter, accepted: slices.Compact(accepted)}
}

// ParseQCMode parses "", "false", "true", a single code or a comma-separated list.
func ParseQCMode(s string) (QCMode, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "", "false", "off", "none":
		return QCOff(), nil
	case "true", "show", "all":
		return QCShow(), nil
	}

	var flags []int
	for _, part := range strings.Split(strings.Trim(s, "[]"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		code, err := strconv.Atoi(part)
		if err != nil {
			return QCMode{}, fmt.Errorf("parse qartod flag %q: %w", part, err)
		}
		flags = append(flags, code)
	}
	if len(flags) == 0 {
		return QCMode{}, fmt.Errorf("parse qartod mode %q: no flags", s)
	}
	return QCFilter(flags...), nil
}

// Enabled reports whether flag series are read at all.
func (m QCMode) Enabled() bool {
	return m.kind != qcOff
}

// Filtering reports whether flags blank data instead of being shown.
func (m QCMode) Filtering() bool {
	return m.kind == qcFilter
}

// Accepted returns the accepted flag codes in filter mode.
func (m QCMode) Accepted() []int {
	return append([]int(nil), m.accepted...)
}

// Accepts reports whether a flag value is in the accepted set. Missing flags are never accepted.
func (m QCMode) Accepts(flag Value) bool {
	if !flag.Valid {
		return false
	}
	for _, code := range m.accepted {
		if flag.Float == float64(code) {
			return true
		}
	}
	return false
}

func (m QCMode) String() string {
	switch m.kind {
	case qcShow:
		return "true"
	case qcFilter:
		parts := make([]string, len(m.accepted))
		for i, code := range m.accepted {
			parts[i] = strconv.Itoa(code)
		}
		return strings.Join(parts, ",")
	default:
		return "false"
	}
}

// applyQualityFilter blanks data cells whose flag is not accepted, then drops the flags.
func applyQualityFilter(t *Table, mode QCMode) {
	var flagNames []string
	for _, col := range t.Columns {
		if col.Kind != ColumnFlag {
			continue
		}
		flagNames = append(flagNames, col.Name)

		fi, _ := t.ColumnIndex(col.Name)
		di, ok := t.ColumnIndex(col.DataColumn)
		if !ok {
			continue
		}
		for r := range t.Rows {
			if !mode.Accepts(t.Rows[r].Values[fi]) {
				t.Rows[r].Values[di] = Null()
			}
		}
	}

	for _, name := range flagNames {
		t.DropColumn(name)
	}
}
