// Package transform holds the pure per-cell conversions used by the pipeline
// stages. None of them fail: an input that does not parse yields no value.
package transform

import (
	"strconv"
	"strings"
	"time"
)

// ParseInteger parses s as an integer. Accepted: optional surrounding
// whitespace, an optional sign, decimal digits and an optional fraction of
// one or more digits, which is truncated toward zero ("2016.0" is 2016).
// Values outside the int64 range are rejected.
func ParseInteger(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	body := s
	if body[0] == '+' || body[0] == '-' {
		body = body[1:]
	}
	intPart, frac, hasFrac := strings.Cut(body, ".")
	if !allDigits(intPart) {
		return 0, false
	}
	if hasFrac && !allDigits(frac) {
		return 0, false
	}
	n, err := strconv.ParseInt(s[:len(s)-len(body)]+intPart, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// IntegerCell coerces a nullable string cell to a nullable int64 cell. The
// second result reports a non-null input that failed to parse.
func IntegerCell(v any) (any, bool) {
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	n, ok := ParseInteger(s)
	if !ok {
		return nil, true
	}
	return n, false
}

// maxEpochDays bounds the day offsets worth computing; anything larger lands
// outside years 1..9999 from any origin in that range.
const maxEpochDays = 4_000_000

// ConvertEpoch returns origin plus n days when raw parses as an integer n
// (see ParseInteger). Results outside calendar years 1..9999 yield no value.
func ConvertEpoch(raw string, origin time.Time) (time.Time, bool) {
	n, ok := ParseInteger(raw)
	if !ok || n > maxEpochDays || n < -maxEpochDays {
		return time.Time{}, false
	}
	d := origin.AddDate(0, 0, int(n))
	if y := d.Year(); y < 1 || y > 9999 {
		return time.Time{}, false
	}
	return d, true
}

// DateCell converts a nullable epoch-day cell to a nullable date cell. The
// second result reports a non-null input that yielded no date.
func DateCell(v any, origin time.Time) (any, bool) {
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	d, ok := ConvertEpoch(s, origin)
	if !ok {
		return nil, true
	}
	return d, false
}

// ParseDate parses an ISO date (2006-01-02) as UTC midnight. A timestamp with
// a trailing time of day is accepted and truncated to its date.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) < len(time.DateOnly) {
		return time.Time{}, false
	}
	d, err := time.Parse(time.DateOnly, s[:len(time.DateOnly)])
	if err != nil {
		return time.Time{}, false
	}
	if rest := s[len(time.DateOnly):]; rest != "" && rest[0] != ' ' && rest[0] != 'T' {
		return time.Time{}, false
	}
	return d, true
}
