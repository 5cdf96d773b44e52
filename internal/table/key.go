package table

import (
	"strconv"
	"time"
)

// valueKey encodes a single cell so that two cells are equal exactly when
// their encodings are equal.
func valueKey(v any) string {
	return string(appendKey(nil, v))
}

// rowKey encodes the cells at idx. Strings are length-prefixed so that no
// concatenation of cells can collide with another.
func rowKey(r Row, idx []int) string {
	var b []byte
	for _, j := range idx {
		b = appendKey(b, r[j])
	}
	return string(b)
}

func appendKey(b []byte, v any) []byte {
	switch x := v.(type) {
	case nil:
		return append(b, 'n')
	case string:
		b = append(b, 's')
		b = strconv.AppendInt(b, int64(len(x)), 10)
		b = append(b, ':')
		return append(b, x...)
	case int64:
		b = append(b, 'i')
		b = strconv.AppendInt(b, x, 10)
		return append(b, ';')
	case time.Time:
		b = append(b, 't')
		b = strconv.AppendInt(b, x.Unix(), 10)
		b = append(b, '.')
		b = strconv.AppendInt(b, int64(x.Nanosecond()), 10)
		return append(b, ';')
	}
	return append(b, '?')
}
