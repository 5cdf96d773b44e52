package transform

import (
	"strings"
	"time"
)

// Calendar is the breakdown of a date stored in the time dimension.
// WeekOfYear is the ISO-8601 week; Weekday counts from 0 (Monday) to 6 (Sunday).
type Calendar struct {
	Year       int64
	Month      int64
	Day        int64
	WeekOfYear int64
	Weekday    int64
}

// CalendarOf breaks d down in UTC.
func CalendarOf(d time.Time) Calendar {
	d = d.UTC()
	_, week := d.ISOWeek()
	return Calendar{
		Year:       int64(d.Year()),
		Month:      int64(d.Month()),
		Day:        int64(d.Day()),
		WeekOfYear: int64(week),
		Weekday:    int64((d.Weekday() + 6) % 7),
	}
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
	time.DateOnly,
}

// ParseTimestamp parses an event timestamp. An integer is taken as
// milliseconds since the Unix epoch; otherwise the value must match
// "2006-01-02 15:04:05[.fffffffff]", RFC 3339 or "2006-01-02". The result is UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	if n, ok := ParseInteger(s); ok {
		return time.UnixMilli(n).UTC(), true
	}
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// TimestampCell converts a nullable string cell to a nullable timestamp cell.
// The second result reports a non-null input that failed to parse.
func TimestampCell(v any) (any, bool) {
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	ts, ok := ParseTimestamp(s)
	if !ok {
		return nil, true
	}
	return ts, false
}
