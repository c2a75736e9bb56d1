package services

import "time"

// Clock abstracts wall time so the per-minute draw window and the daily
// quota boundary are deterministic under test.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock is the production clock (UTC).
var SystemClock Clock = systemClock{}

// clockOrSystem returns c, falling back to SystemClock when nil so zero-value
// services stay usable.
func clockOrSystem(c Clock) Clock {
	if c == nil {
		return SystemClock
	}
	return c
}
