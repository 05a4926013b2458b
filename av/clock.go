package av

import "time"

// Timer is a scheduled callback that can be canceled.
type Timer interface {
	// Stop prevents the callback from running. It reports false when the
	// callback has already started or the timer was already stopped.
	Stop() bool
}

// Clock schedules callbacks. Tests substitute a manual clock to drive the
// ringback cadence deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// DefaultClock uses the standard library timers.
type DefaultClock struct{}

// Now returns the current time.
func (DefaultClock) Now() time.Time { return time.Now() }

// AfterFunc runs f in its own goroutine after d.
func (DefaultClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
