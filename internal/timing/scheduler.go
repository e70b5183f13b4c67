package timing

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Timer is a pending delayed call.
type Timer interface {
	// Stop prevents the call from firing. It reports whether the timer was stopped before firing.
	Stop() bool
}

// Scheduler runs functions after a fixed delay.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type clockScheduler struct {
	clock clock.Clock
}

// New returns a Scheduler backed by the given clock. A nil clock means the wall clock.
func New(c clock.Clock) Scheduler {
	if c == nil {
		c = clock.New()
	}
	return &clockScheduler{clock: c}
}

func (s *clockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return s.clock.AfterFunc(d, f)
}
