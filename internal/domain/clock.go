package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// clock stamps ingest results and stored rows; tests freeze it with SetClock.
var clock clockwork.Clock = clockwork.NewRealClock()

// SetClock replaces the time source. Pass nil to restore the real clock.
func SetClock(c clockwork.Clock) {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	clock = c
}

// Now returns the current time from the package clock in UTC.
func Now() time.Time {
	return clock.Now().UTC()
}
