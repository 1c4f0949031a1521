// Package clock provides an injectable notion of time so that inode
// timestamps (atime/mtime/ctime/birthtime) can be tested deterministically.
package clock

import "time"

// Clock knows the current time and can notify callers once a duration has
// elapsed. Production code uses RealClock; tests use SimulatedClock.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the time once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

var _ Clock = RealClock{}
var _ Clock = &FakeClock{}
var _ Clock = &SimulatedClock{}
