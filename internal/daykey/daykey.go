// Package daykey normalizes calendar dates to day keys: nanosecond timestamps
// pinned to local midnight. All report storage and roster queries are keyed at
// day granularity, so every caller must go through these helpers instead of
// truncating timestamps ad hoc. All functions work off local calendar
// components, never UTC ones, to avoid off-by-one-day shifts in timezones on
// either side of UTC.
package daykey

import (
	"fmt"
	"time"
)

// DayKey is a nanosecond unix timestamp equal to local midnight of some
// calendar day. Zero is the "no day" sentinel.
type DayKey int64

// StartOfDay returns the day key for t's calendar day, using t's own
// year/month/day and location.
func StartOfDay(t time.Time) DayKey {
	y, m, d := t.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return DayKey(midnight.UnixNano())
}

// Today returns the day key for the current local day.
func Today() DayKey {
	return StartOfDay(time.Now())
}

// Time converts the key back to its midnight instant in local time.
func (k DayKey) Time() time.Time {
	return time.Unix(0, int64(k))
}

// String formats the key's calendar day as YYYY-MM-DD.
func (k DayKey) String() string {
	if k == 0 {
		return ""
	}
	return FormatDateForInput(k.Time())
}

// ParseDateInput parses a YYYY-MM-DD string into a local-time date. The string
// is interpreted as literal calendar components in the local zone; parsing via
// a UTC-based layout would land on the previous day for negative UTC offsets.
func ParseDateInput(s string) (time.Time, error) {
	return ParseDateInputIn(s, time.Local)
}

// ParseDateInputIn is ParseDateInput with an explicit location.
func ParseDateInputIn(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date input %q: %w", s, err)
	}
	return t, nil
}

// FormatDateForInput formats t's calendar day as YYYY-MM-DD using t's own
// location, the inverse of ParseDateInput at day granularity.
func FormatDateForInput(t time.Time) string {
	return t.Format("2006-01-02")
}

// TimeOfDayToTimestamp combines an HH:MM wall-clock string with a day key into
// an absolute nanosecond timestamp anchored to that day. The empty string maps
// to the zero sentinel. The caller supplies the selected day key; computing a
// fresh "today" key here would silently move time fields onto the wrong day
// when an older report is edited after local midnight.
func TimeOfDayToTimestamp(hhmm string, day DayKey) (int64, error) {
	if hhmm == "" {
		return 0, nil
	}
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", hhmm, err)
	}
	elapsed := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
	return int64(day) + elapsed.Nanoseconds(), nil
}

// TimestampToTimeOfDay formats a nanosecond timestamp as HH:MM in local time.
// The zero sentinel maps to the empty string.
func TimestampToTimeOfDay(ns int64) string {
	if ns == 0 {
		return ""
	}
	return time.Unix(0, ns).Format("15:04")
}
