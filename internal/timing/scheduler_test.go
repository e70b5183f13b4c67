package timing

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestSchedulerFiresAfterDelay(t *testing.T) {
	mock := clock.NewMock()
	scheduler := New(mock)

	fired := make(chan struct{}, 1)
	scheduler.AfterFunc(2*time.Second, func() { fired <- struct{}{} })

	mock.Add(time.Second)
	select {
	case <-fired:
		t.Fatalf("timer fired too early")
	case <-time.After(20 * time.Millisecond):
	}

	mock.Add(time.Second)
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("timer did not fire")
	}
}

func TestSchedulerStopPreventsCall(t *testing.T) {
	mock := clock.NewMock()
	scheduler := New(mock)

	fired := make(chan struct{}, 1)
	timer := scheduler.AfterFunc(time.Second, func() { fired <- struct{}{} })

	if !timer.Stop() {
		t.Fatalf("expected pending timer to stop")
	}

	mock.Add(2 * time.Second)
	select {
	case <-fired:
		t.Fatalf("stopped timer fired")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestNewDefaultsToWallClock(t *testing.T) {
	scheduler := New(nil)

	fired := make(chan struct{})
	scheduler.AfterFunc(time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("wall clock timer did not fire")
	}
}
