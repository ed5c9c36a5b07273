// Package timestamp handles producer timestamps and the ingest receive clock.
//
// Producers send ISO-8601 strings. A trailing "Z" or an explicit offset is
// honoured; a naive value carries no zone and is interpreted in the process's
// configured location. Every parsed value is an aware time.Time.
//
// Usage:
//
//	loc, _ := time.LoadLocation("UTC")
//	ts, err := timestamp.Parse("2024-01-01T10:00:00Z", loc)
//	received := clock.Now()
package timestamp

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrUnparseable is returned when no supported layout matches.
var ErrUnparseable = errors.New("unparseable timestamp")

// Layouts carrying an explicit zone.
var awareLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999Z07:00",
}

// Layouts with no zone, resolved against the configured location.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Parse converts an ISO-8601 string to an aware time. loc is used for naive
// inputs; nil means UTC.
func Parse(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrUnparseable
	}
	if loc == nil {
		loc = time.UTC
	}
	// "z" is accepted by the producers' Python clients, Go only knows "Z".
	if strings.HasSuffix(s, "z") {
		s = s[:len(s)-1] + "Z"
	}

	for _, layout := range awareLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, ErrUnparseable
}

// Format renders t as ISO-8601 with its offset, e.g. 2024-01-01T10:00:00+00:00.
// Fractional seconds are included only when present. The zero time formats as "".
func Format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02T15:04:05.999999-07:00")
}

// Clock hands out receive times that never go backwards within a process,
// even when the wall clock is stepped.
type Clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewClock returns a Clock reading the wall clock in loc (nil means UTC).
func NewClock(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{now: func() time.Time { return time.Now().In(loc) }}
}

// NewClockFunc returns a Clock driven by now. Used by tests.
func NewClockFunc(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns max(previous result, current time).
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now()
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}
