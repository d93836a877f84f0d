package types

import "time"

// Clock abstracts time so window math, cooldowns, and tick loops can be
// driven by a fake clock in tests instead of real sleeps.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now calls the wrapped function.
func (f ClockFunc) Now() time.Time { return f() }

// InterventionSink receives dispatched interventions in dispatch order.
// Implementations must not block; slow consumers should buffer internally.
type InterventionSink func(Intervention)

// SeveritySink receives severity transitions.
type SeveritySink func(SeverityChanged)
