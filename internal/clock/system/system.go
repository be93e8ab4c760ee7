// Package system supplies wall-clock time for run summaries.
package system

import "time"

// Clock reports UTC time with the monotonic reading stripped, so a stored
// timestamp compares equal to its serialised form.
type Clock struct{}

// New creates a Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Round(0)
}
