// Package window derives the bucket keys used for quota counting.
package window

import "time"

const (
	dayLayout    = "2006-01-02"
	minuteLayout = "2006-01-02_15:04"
)

// DayKey returns the UTC calendar date of t, e.g. "2026-10-19".
func DayKey(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// MinuteKey returns the UTC minute bucket of t, e.g. "2026-10-19_09:41".
func MinuteKey(t time.Time) string {
	return t.UTC().Format(minuteLayout)
}

// ParseMinuteKey is the inverse of MinuteKey.
func ParseMinuteKey(key string) (time.Time, error) {
	return time.ParseInLocation(minuteLayout, key, time.UTC)
}

// Millis converts t to unix milliseconds, the storage format for timestamps.
func Millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// FromMillis converts stored unix milliseconds back to a UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
