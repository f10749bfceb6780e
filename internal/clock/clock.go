// Package clock abstracts the time operations of the control loop so tick
// cadence, override leases and suspend handling can be driven
// deterministically in tests.
package clock

import "time"

// Clock is injected into every component that waits on time. Production
// code uses Real(); tests use Fake().
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after d
	// elapses. If d <= 0, the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// NewTimer returns a Timer that fires once after d. Callers that may
	// abandon the wait must Stop the timer.
	NewTimer(d time.Duration) *Timer

	// Sleep pauses the current goroutine for at least d.
	Sleep(d time.Duration)
}

// Timer represents a single scheduled event.
type Timer struct {
	// C delivers the fire time. Buffered with capacity 1.
	C <-chan time.Time

	stopFunc func() bool
}

// Stop prevents the Timer from firing. Returns true if the call stops
// the timer, false if it already fired or was stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }
