// Package quota holds the pure parts of the admission algorithm: window
// boundary computation and the decision arithmetic shared by every storage
// backend. Nothing in this package keeps state.
package quota

import "time"

// Kind identifies one of the two enforced time windows.
type Kind string

const (
	Minute Kind = "minute"
	Day    Kind = "day"
)

// Window is a time bucket: requests are accounted against [Start, ResetAt).
type Window struct {
	Start   time.Time
	ResetAt time.Time
}

// For computes the window containing now for the given kind. Minute windows
// start at now truncated to the minute; day windows start at midnight of the
// UTC calendar day. Consume and status must both go through this function so
// their boundaries can never drift apart.
func For(now time.Time, kind Kind) Window {
	utc := now.UTC()
	if kind == Minute {
		start := utc.Truncate(time.Minute)
		return Window{Start: start, ResetAt: start.Add(time.Minute)}
	}
	start := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	return Window{Start: start, ResetAt: start.Add(24 * time.Hour)}
}
