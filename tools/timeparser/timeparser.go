package timeparser

import (
	"fmt"
	"time"
)

// ParseReadingTimestamp parses an ISO-8601 reading timestamp.
// Values without an offset are taken as UTC.
func ParseReadingTimestamp(dateStr string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,          // 2024-05-20T14:30:00.123Z, 2024-05-20T14:30:00-03:00
		"2006-01-02T15:04:05.999", // local date-time without offset
		"2006-01-02T15:04",
		"2006-01-02",
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, dateStr)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", dateStr, lastErr)
}

// PeriodOf returns the first instant of the UTC calendar month containing t
func PeriodOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}
