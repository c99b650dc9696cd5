package ioloop

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTimerOneShotFires(t *testing.T) {
	loop := New()
	go loop.Run()
	defer loop.Stop()

	fired := make(chan struct{})
	timer := loop.NewTimer()
	timer.Start(10*time.Millisecond, 0, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("one-shot timer never fired")
	}
}

func TestTimerStopPreventsLateFire(t *testing.T) {
	loop := New()
	go loop.Run()
	defer loop.Stop()

	var fireCount int32
	timer := loop.NewTimer()
	timer.Start(20*time.Millisecond, 0, func() { atomic.AddInt32(&fireCount, 1) })
	timer.Stop()

	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&fireCount) != 0 {
		t.Fatalf("callback fired %d times after Stop", fireCount)
	}
}

func TestTimerRestartInvalidatesPreviousGeneration(t *testing.T) {
	loop := New()
	go loop.Run()
	defer loop.Stop()

	var firstFired, secondFired int32
	timer := loop.NewTimer()
	timer.Start(10*time.Millisecond, 0, func() { atomic.AddInt32(&firstFired, 1) })
	// Restarting before the first timeout elapses must cancel it.
	timer.Start(30*time.Millisecond, 0, func() { atomic.AddInt32(&secondFired, 1) })

	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&firstFired) != 0 {
		t.Errorf("first generation's callback fired %d times, want 0", firstFired)
	}
	if atomic.LoadInt32(&secondFired) != 1 {
		t.Errorf("second generation's callback fired %d times, want 1", secondFired)
	}
}

func TestTimerRepeatingFiresMultipleTimes(t *testing.T) {
	loop := New()
	go loop.Run()
	defer loop.Stop()

	count := make(chan struct{}, 10)
	timer := loop.NewTimer()
	timer.Start(5*time.Millisecond, 5*time.Millisecond, func() {
		select {
		case count <- struct{}{}:
		default:
		}
	})
	defer timer.Stop()

	seen := 0
	timeout := time.After(time.Second)
	for seen < 3 {
		select {
		case <-count:
			seen++
		case <-timeout:
			t.Fatalf("only saw %d ticks before timeout", seen)
		}
	}
}

func TestTimerActiveReflectsState(t *testing.T) {
	loop := New()
	go loop.Run()
	defer loop.Stop()

	timer := loop.NewTimer()
	if timer.Active() {
		t.Fatal("new timer should not be active")
	}
	timer.Start(time.Second, 0, func() {})
	if !timer.Active() {
		t.Fatal("started timer should be active")
	}
	timer.Stop()
	if timer.Active() {
		t.Fatal("stopped timer should not be active")
	}
}
