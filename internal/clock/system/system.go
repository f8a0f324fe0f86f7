// Package system provides the wall clock used by schedulers and workflows.
package system

import "time"

// Clock reads the wall clock. Scheduling math converts to each topic's
// location explicitly, so the clock always reports UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Until reports how long remains until t.
func (c Clock) Until(t time.Time) time.Duration {
	return t.Sub(c.Now())
}
