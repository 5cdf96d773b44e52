// Package table implements the in-memory relational tables the pipeline stages
// operate on, together with the operators they need: projection, filtering,
// derived columns, deduplication, set union, inner equality join, row numbering
// and hive-style partitioning.
//
// A cell holds nil (SQL NULL) or a value matching its column type:
//
//	String    -> string
//	Integer   -> int64
//	Date      -> time.Time (UTC midnight)
//	Timestamp -> time.Time (UTC)
//
// Operators never modify their receiver; they return a new table. Rows may be
// shared between the input and the output of an operator, so callers must not
// mutate a Row obtained from Rows.
package table

import (
	"fmt"
	"time"
)

// Type is the logical type of a column.
type Type int

// Column types.
const (
	String Type = iota
	Integer
	Date
	Timestamp
)

func (t Type) String() string {
	switch t {
	case String:
		return "STRING"
	case Integer:
		return "INTEGER"
	case Date:
		return "DATE"
	case Timestamp:
		return "TIMESTAMP"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Column names and types a table column.
type Column struct {
	Name string
	Type Type
}

// StringColumns returns a String column for each name.
func StringColumns(names ...string) []Column {
	cols := make([]Column, len(names))
	for i, n := range names {
		cols[i] = Column{Name: n, Type: String}
	}
	return cols
}

// Row is one tuple of a table, positionally aligned with its columns.
type Row []any

// Table is an ordered list of typed columns and an ordered list of rows.
type Table struct {
	columns []Column
	index   map[string]int
	rows    []Row
}

// New creates an empty table. Column names must be non-empty and unique.
func New(columns ...Column) (*Table, error) {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if c.Name == "" {
			return nil, fmt.Errorf("column %d has an empty name", i)
		}
		if _, dup := index[c.Name]; dup {
			return nil, fmt.Errorf("duplicate column %q", c.Name)
		}
		index[c.Name] = i
	}
	cols := make([]Column, len(columns))
	copy(cols, columns)
	return &Table{columns: cols, index: index}, nil
}

// MustNew is like New but panics on an invalid schema. It is meant for
// schemas fixed at compile time.
func MustNew(columns ...Column) *Table {
	t, err := New(columns...)
	if err != nil {
		panic(err)
	}
	return t
}

// Columns returns a copy of the table schema.
func (t *Table) Columns() []Column {
	cols := make([]Column, len(t.columns))
	copy(cols, t.columns)
	return cols
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// Index returns the position of the named column.
func (t *Table) Index(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

func (t *Table) mustIndex(name string) (int, error) {
	i, ok := t.index[name]
	if !ok {
		return 0, fmt.Errorf("unknown column %q (have %v)", name, t.ColumnNames())
	}
	return i, nil
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Rows returns the rows of the table. The slice and its rows must not be modified.
func (t *Table) Rows() []Row { return t.rows }

// Value returns the cell of row i in the named column, or nil when the column
// does not exist.
func (t *Table) Value(i int, name string) any {
	j, ok := t.index[name]
	if !ok {
		return nil
	}
	return t.rows[i][j]
}

// Append adds a row after checking arity and cell types.
func (t *Table) Append(values ...any) error {
	if len(values) != len(t.columns) {
		return fmt.Errorf("row has %d values, table has %d columns", len(values), len(t.columns))
	}
	for i, v := range values {
		if err := checkValue(t.columns[i], v); err != nil {
			return err
		}
	}
	row := make(Row, len(values))
	copy(row, values)
	t.rows = append(t.rows, row)
	return nil
}

// appendRow adds a row that is already known to match the schema.
func (t *Table) appendRow(r Row) { t.rows = append(t.rows, r) }

// empty returns a table with the same schema and no rows.
func (t *Table) empty() *Table {
	return &Table{columns: t.columns, index: t.index}
}

func checkValue(c Column, v any) error {
	if v == nil {
		return nil
	}
	ok := false
	switch c.Type {
	case String:
		_, ok = v.(string)
	case Integer:
		_, ok = v.(int64)
	case Date, Timestamp:
		_, ok = v.(time.Time)
	}
	if !ok {
		return fmt.Errorf("column %q (%s): unexpected value %v of type %T", c.Name, c.Type, v, v)
	}
	return nil
}
