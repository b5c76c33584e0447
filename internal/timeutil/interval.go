// Package timeutil resolves timezone-local interval boundaries to UTC,
// handling DST transitions the way the Go standard library's time.Date
// normalizes wall-clock times that don't exist (spring-forward) or are
// ambiguous (fall-back): time.Date never errors, it normalizes forward.
package timeutil

import (
	"fmt"
	"time"
)

// ResolveBlockInterval converts a local wall-clock interval in tz into UTC
// instants. end_local must be strictly after start_local. When no DST
// transition intervenes, end_utc - start_utc == end_local - start_local
// (Testable Property 8).
func ResolveBlockInterval(tz string, startLocal, endLocal time.Time) (startUTC, endUTC time.Time, err error) {
	if !endLocal.After(startLocal) {
		return time.Time{}, time.Time{}, fmt.Errorf("timeutil: end_local must be after start_local")
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("timeutil: load location %q: %w", tz, err)
	}

	start := inLocationWallClock(startLocal, loc)
	end := inLocationWallClock(endLocal, loc)

	startUTC = start.UTC()
	endUTC = end.UTC()
	if !endUTC.After(startUTC) {
		return time.Time{}, time.Time{}, fmt.Errorf("timeutil: resolved interval is non-positive")
	}
	return startUTC, endUTC, nil
}

// inLocationWallClock reinterprets t's wall-clock fields (year through
// nanosecond) as local time in loc, rather than converting t's instant.
// This is what lets a caller pass "2024-03-10 02:30:00" with no location
// attached and get the correct UTC instant in the target zone, including
// DST normalization.
func inLocationWallClock(t time.Time, loc *time.Location) time.Time {
	return time.Date(
		t.Year(), t.Month(), t.Day(),
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(),
		loc,
	)
}
