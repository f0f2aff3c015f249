package sensor

import (
	"fmt"
	"slices"
	"sort"
)

// Merge folds tables left to right with a sorted outer join on their shared index.
//
// A single table is returned unchanged. The fold order matters: joining all tables at
// once can order tied index values differently.
func Merge(tables ...*Table) (*Table, error) {
	switch len(tables) {
	case 0:
		return nil, ErrNoData
	case 1:
		return tables[0], nil
	}

	out := tables[0]
	for i := 1; i < len(tables); i++ {
		joined, err := outerJoin(out, tables[i])
		if err != nil {
			return nil, fmt.Errorf("merge table %d: %w", i, err)
		}
		out = joined
	}
	return out, nil
}

// outerJoin joins right onto left by index key. Keys present on both sides produce
// every left/right pairing in input order; one-sided keys are padded with missing values.
func outerJoin(left, right *Table) (*Table, error) {
	if !slices.Equal(left.Index, right.Index) {
		return nil, fmt.Errorf("%w: %v vs %v", ErrIndexMismatch, left.Index, right.Index)
	}
	for _, c := range right.Columns {
		if _, dup := left.ColumnIndex(c.Name); dup {
			return nil, fmt.Errorf("%w: %q", ErrColumnOverlap, c.Name)
		}
	}

	out := &Table{
		Index:   append([]string(nil), left.Index...),
		Columns: append(append([]Column(nil), left.Columns...), right.Columns...),
	}

	l := sortedRows(left.Rows)
	r := sortedRows(right.Rows)
	nl, nr := len(left.Columns), len(right.Columns)

	i, j := 0, 0
	for i < len(l) || j < len(r) {
		var cmp int
		switch {
		case i >= len(l):
			cmp = 1
		case j >= len(r):
			cmp = -1
		default:
			cmp = l[i].Key.Compare(r[j].Key)
		}

		switch {
		case cmp < 0:
			out.Rows = append(out.Rows, joinRow(l[i].Key, l[i].Values, nil, nr))
			i++
		case cmp > 0:
			out.Rows = append(out.Rows, joinRow(r[j].Key, nil, r[j].Values, nl))
			j++
		default:
			ie := runEnd(l, i)
			je := runEnd(r, j)
			for _, lr := range l[i:ie] {
				for _, rr := range r[j:je] {
					out.Rows = append(out.Rows, joinRow(lr.Key, lr.Values, rr.Values, 0))
				}
			}
			i, j = ie, je
		}
	}

	return out, nil
}

// joinRow concatenates left and right values. A nil side is filled with pad missing values.
func joinRow(key IndexKey, left, right []Value, pad int) Row {
	vals := make([]Value, 0, len(left)+len(right)+pad)
	if left == nil {
		vals = append(vals, make([]Value, pad)...)
	} else {
		vals = append(vals, left...)
	}
	if right == nil {
		vals = append(vals, make([]Value, pad)...)
	} else {
		vals = append(vals, right...)
	}
	return Row{Key: key, Values: vals}
}

// runEnd returns the end of the run of rows sharing rows[start].Key.
func runEnd(rows []Row, start int) int {
	end := start + 1
	for end < len(rows) && rows[end].Key.Compare(rows[start].Key) == 0 {
		end++
	}
	return end
}

func sortedRows(rows []Row) []Row {
	out := append([]Row(nil), rows...)
	sortRows(out)
	return out
}

// sortRows orders rows by index key, keeping ties in input order.
func sortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Key.Compare(rows[j].Key) < 0
	})
}
