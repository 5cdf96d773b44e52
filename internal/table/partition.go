package table

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NullPartitionValue is the directory value written for a null partition key.
const NullPartitionValue = "NULL"

// Partition is the group of rows sharing one combination of partition-key
// values. Table holds those rows without the key columns.
type Partition struct {
	Keys   []string
	Values []any
	Table  *Table
}

// Path returns the hive-style relative directory of the partition, for example
// "year=2016/month=4". It is empty for an unpartitioned table.
func (p Partition) Path() string {
	parts := make([]string, len(p.Keys))
	for i, k := range p.Keys {
		parts[i] = escapePathName(k) + "=" + PartitionValue(p.Values[i])
	}
	return strings.Join(parts, "/")
}

// PartitionValue renders a partition-key cell as it appears in a directory name.
func PartitionValue(v any) string {
	switch x := v.(type) {
	case nil:
		return NullPartitionValue
	case string:
		return escapePathName(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(time.DateOnly)
		}
		return escapePathName(x.Format(time.DateTime))
	}
	return escapePathName(fmt.Sprint(v))
}

// PartitionBy groups rows by the key columns, in order of first appearance.
// Rows keep their relative order within a partition. Without keys the whole
// table is returned as a single partition, even when it has no rows.
func (t *Table) PartitionBy(keys ...string) ([]Partition, error) {
	if len(keys) == 0 {
		return []Partition{{Table: t}}, nil
	}
	keyIdx := make([]int, len(keys))
	isKey := make(map[int]bool, len(keys))
	for i, k := range keys {
		j, err := t.mustIndex(k)
		if err != nil {
			return nil, err
		}
		if isKey[j] {
			return nil, fmt.Errorf("partition key %q listed twice", k)
		}
		keyIdx[i] = j
		isKey[j] = true
	}
	var restIdx []int
	var restCols []Column
	for j, c := range t.columns {
		if !isKey[j] {
			restIdx = append(restIdx, j)
			restCols = append(restCols, c)
		}
	}

	var parts []Partition
	byKey := make(map[string]int)
	for _, row := range t.rows {
		k := rowKey(row, keyIdx)
		pi, ok := byKey[k]
		if !ok {
			values := make([]any, len(keyIdx))
			for i, j := range keyIdx {
				values[i] = row[j]
			}
			pt, err := New(restCols...)
			if err != nil {
				return nil, err
			}
			pi = len(parts)
			byKey[k] = pi
			parts = append(parts, Partition{Keys: keys, Values: values, Table: pt})
		}
		nr := make(Row, len(restIdx))
		for i, j := range restIdx {
			nr[i] = row[j]
		}
		parts[pi].Table.appendRow(nr)
	}
	return parts, nil
}

// escapePathName percent-encodes the characters hive does not allow in a
// partition directory name.
func escapePathName(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if needsEscape(c) {
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func needsEscape(c byte) bool {
	if c < 0x20 || c == 0x7F {
		return true
	}
	switch c {
	case '"', '#', '%', '\'', '*', '/', ':', '=', '?', '\\', '{', '[', ']', '^':
		return true
	}
	return false
}
