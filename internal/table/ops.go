package table

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// Projection selects a column and optionally renames it.
type Projection struct {
	From string
	As   string
}

// As projects column from under the name as.
func As(from, as string) Projection { return Projection{From: from, As: as} }

// Select returns a table holding the projected columns in the given order.
func (t *Table) Select(cols ...Projection) (*Table, error) {
	idx := make([]int, len(cols))
	out := make([]Column, len(cols))
	for i, p := range cols {
		j, err := t.mustIndex(p.From)
		if err != nil {
			return nil, err
		}
		name := p.As
		if name == "" {
			name = p.From
		}
		idx[i] = j
		out[i] = Column{Name: name, Type: t.columns[j].Type}
	}
	res, err := New(out...)
	if err != nil {
		return nil, err
	}
	res.rows = make([]Row, len(t.rows))
	for r, row := range t.rows {
		nr := make(Row, len(idx))
		for i, j := range idx {
			nr[i] = row[j]
		}
		res.rows[r] = nr
	}
	return res, nil
}

// Project keeps the named columns in the given order.
func (t *Table) Project(names ...string) (*Table, error) {
	cols := make([]Projection, len(names))
	for i, n := range names {
		cols[i] = Projection{From: n}
	}
	return t.Select(cols...)
}

// Rename renames columns in place of their current position. Columns not in
// renames keep their names.
func (t *Table) Rename(renames map[string]string) (*Table, error) {
	for from := range renames {
		if _, err := t.mustIndex(from); err != nil {
			return nil, err
		}
	}
	cols := make([]Column, len(t.columns))
	for i, c := range t.columns {
		if to, ok := renames[c.Name]; ok {
			c.Name = to
		}
		cols[i] = c
	}
	res, err := New(cols...)
	if err != nil {
		return nil, err
	}
	res.rows = t.rows
	return res, nil
}

// Filter keeps the rows for which keep returns true, in input order.
func (t *Table) Filter(keep func(Row) bool) *Table {
	res := t.empty()
	for _, row := range t.rows {
		if keep(row) {
			res.appendRow(row)
		}
	}
	return res
}

// NotNull keeps the rows whose named column is non-null.
func (t *Table) NotNull(name string) (*Table, error) {
	j, err := t.mustIndex(name)
	if err != nil {
		return nil, err
	}
	return t.Filter(func(r Row) bool { return r[j] != nil }), nil
}

// Equals keeps the rows whose named column equals value. A null cell never
// matches.
func (t *Table) Equals(name string, value any) (*Table, error) {
	j, err := t.mustIndex(name)
	if err != nil {
		return nil, err
	}
	if err := checkValue(t.columns[j], value); err != nil {
		return nil, err
	}
	want := valueKey(value)
	return t.Filter(func(r Row) bool {
		return r[j] != nil && valueKey(r[j]) == want
	}), nil
}

// Derivation computes one column from an input row. Fn must be safe for
// concurrent use and must return nil or a value of Column.Type.
type Derivation struct {
	Column Column
	Fn     func(Row) any
}

// WithColumns evaluates derivations over every row. A derivation whose name
// matches an existing column replaces that column in place; otherwise the
// column is appended. Every derivation sees the input row, not the output of
// the other derivations.
//
// Rows are split into chunks evaluated concurrently by up to workers
// goroutines (GOMAXPROCS when workers < 1); output order equals input order.
func (t *Table) WithColumns(ctx context.Context, workers int, ds ...Derivation) (*Table, error) {
	cols := t.Columns()
	target := make([]int, len(ds))
	for i, d := range ds {
		if j, ok := t.index[d.Column.Name]; ok {
			cols[j] = d.Column
			target[i] = j
			continue
		}
		target[i] = len(cols)
		cols = append(cols, d.Column)
	}
	res, err := New(cols...)
	if err != nil {
		return nil, err
	}

	n := len(t.rows)
	res.rows = make([]Row, n)
	if n == 0 {
		return res, nil
	}
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	chunk := (n + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for r := start; r < end; r++ {
				in := t.rows[r]
				out := make(Row, len(cols))
				copy(out, in)
				for i, d := range ds {
					v := d.Fn(in)
					if err := checkValue(d.Column, v); err != nil {
						return err
					}
					out[target[i]] = v
				}
				res.rows[r] = out
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

// Distinct removes duplicate rows, keeping the first occurrence of each.
// Two nulls compare equal.
func (t *Table) Distinct() *Table {
	all := make([]int, len(t.columns))
	for i := range all {
		all[i] = i
	}
	return t.distinctOn(all)
}

// DistinctOn removes rows whose key columns equal those of an earlier row,
// keeping the first occurrence in input order.
func (t *Table) DistinctOn(keys ...string) (*Table, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("distinct: no key columns")
	}
	idx := make([]int, len(keys))
	for i, k := range keys {
		j, err := t.mustIndex(k)
		if err != nil {
			return nil, err
		}
		idx[i] = j
	}
	return t.distinctOn(idx), nil
}

func (t *Table) distinctOn(idx []int) *Table {
	res := t.empty()
	seen := make(map[string]struct{}, len(t.rows))
	for _, row := range t.rows {
		k := rowKey(row, idx)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		res.appendRow(row)
	}
	return res
}

// Concat returns the rows of t followed by the rows of other. Both tables must
// have the same column types in the same order; the result carries t's names.
func (t *Table) Concat(other *Table) (*Table, error) {
	if len(t.columns) != len(other.columns) {
		return nil, fmt.Errorf("concat: %d columns vs %d", len(t.columns), len(other.columns))
	}
	for i := range t.columns {
		if t.columns[i].Type != other.columns[i].Type {
			return nil, fmt.Errorf("concat: column %d is %s vs %s",
				i, t.columns[i].Type, other.columns[i].Type)
		}
	}
	res := t.empty()
	res.rows = make([]Row, 0, len(t.rows)+len(other.rows))
	res.rows = append(res.rows, t.rows...)
	res.rows = append(res.rows, other.rows...)
	return res, nil
}

// Union returns the set union of t and other: their concatenation with
// duplicates removed, first occurrence kept.
func (t *Table) Union(other *Table) (*Table, error) {
	c, err := t.Concat(other)
	if err != nil {
		return nil, err
	}
	return c.Distinct(), nil
}

// InnerJoin joins t (left) with right where t[leftKey] equals right[rightKey].
// Null keys never match. Output rows follow left input order; the matches of
// one left row follow right input order. The result holds the left columns
// followed by the right columns; a name present on both sides is an error.
func (t *Table) InnerJoin(right *Table, leftKey, rightKey string) (*Table, error) {
	lk, err := t.mustIndex(leftKey)
	if err != nil {
		return nil, fmt.Errorf("join left: %w", err)
	}
	rk, err := right.mustIndex(rightKey)
	if err != nil {
		return nil, fmt.Errorf("join right: %w", err)
	}
	if t.columns[lk].Type != right.columns[rk].Type {
		return nil, fmt.Errorf("join: key types differ (%s vs %s)", t.columns[lk].Type, right.columns[rk].Type)
	}
	cols := append(t.Columns(), right.columns...)
	res, err := New(cols...)
	if err != nil {
		return nil, fmt.Errorf("join: %w", err)
	}

	buckets := make(map[string][]Row)
	for _, r := range right.rows {
		if r[rk] == nil {
			continue
		}
		k := valueKey(r[rk])
		buckets[k] = append(buckets[k], r)
	}
	for _, l := range t.rows {
		if l[lk] == nil {
			continue
		}
		for _, r := range buckets[valueKey(l[lk])] {
			row := make(Row, 0, len(cols))
			row = append(row, l...)
			row = append(row, r...)
			res.appendRow(row)
		}
	}
	return res, nil
}

// RowNumber prepends an Integer column name holding each row's 1-based
// position in a stable ascending sort on orderBy. Nulls sort first; ties keep
// input order. Rows of the result are in sorted order.
func (t *Table) RowNumber(name, orderBy string) (*Table, error) {
	return t.RowNumberFrom(name, orderBy, 1)
}

// RowNumberFrom is RowNumber with numbering starting at first.
func (t *Table) RowNumberFrom(name, orderBy string, first int64) (*Table, error) {
	j, err := t.mustIndex(orderBy)
	if err != nil {
		return nil, err
	}
	cols := append([]Column{{Name: name, Type: Integer}}, t.columns...)
	res, err := New(cols...)
	if err != nil {
		return nil, err
	}
	sorted := make([]Row, len(t.rows))
	copy(sorted, t.rows)
	sort.SliceStable(sorted, func(a, b int) bool {
		return compareValues(sorted[a][j], sorted[b][j]) < 0
	})
	res.rows = make([]Row, len(sorted))
	for i, r := range sorted {
		row := make(Row, 0, len(cols))
		row = append(row, first+int64(i))
		row = append(row, r...)
		res.rows[i] = row
	}
	return res, nil
}

// compareValues orders two cells of the same column. Null is smallest.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch x := a.(type) {
	case string:
		y := b.(string)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case int64:
		y := b.(int64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case time.Time:
		return x.Compare(b.(time.Time))
	}
	return 0
}
