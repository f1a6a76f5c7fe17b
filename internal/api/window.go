package api

import (
	"fmt"
	"time"
)

// ParseWindow turns two YYYY-MM-DD dates into a UTC window running from the
// start of from to the end of to, both read in loc.
func ParseWindow(from, to string, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	start, err := time.ParseInLocation(time.DateOnly, from, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("from date %q: want YYYY-MM-DD", from)
	}
	endDay, err := time.ParseInLocation(time.DateOnly, to, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("to date %q: want YYYY-MM-DD", to)
	}
	if endDay.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("to date %s is before from date %s", to, from)
	}
	end := endDay.AddDate(0, 0, 1).Add(-time.Nanosecond)
	return start.UTC(), end.UTC(), nil
}
