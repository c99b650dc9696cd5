package ioloop

import (
	"sync"
	"sync/atomic"
	"time"
)

// Timer is a one-shot or repeating timer whose callback always runs on
// the owning Loop. Stop is idempotent and, once it returns, guarantees
// the callback will not fire again — the generation counter invalidates
// any tick that was already in flight when Stop was called.
type Timer struct {
	loop *Loop

	mu     sync.Mutex
	timer  *time.Timer
	ticker *time.Ticker
	gen    uint64
	active atomic.Bool
}

// NewTimer creates a Timer bound to loop. It does nothing until Start.
func (l *Loop) NewTimer() *Timer {
	return &Timer{loop: l}
}

// Start arms the timer. repeat == 0 means one-shot; otherwise the
// callback fires every repeat after the first timeout elapses. cb is
// always invoked on the loop goroutine.
func (t *Timer) Start(timeout time.Duration, repeat time.Duration, cb func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.gen++
	myGen := t.gen
	t.active.Store(true)

	fire := func() {
		t.loop.Post(func() {
			t.mu.Lock()
			stale := t.gen != myGen
			if !stale && repeat == 0 {
				t.active.Store(false)
			}
			t.mu.Unlock()
			if stale {
				return
			}
			cb()
		})
	}

	if repeat == 0 {
		t.timer = time.AfterFunc(timeout, fire)
		return
	}

	t.timer = time.AfterFunc(timeout, func() {
		fire()
		t.mu.Lock()
		if t.gen == myGen {
			t.ticker = time.NewTicker(repeat)
			ticker := t.ticker
			t.mu.Unlock()
			go func() {
				for range ticker.C {
					fire()
				}
			}()
		} else {
			t.mu.Unlock()
		}
	})
}

// Stop cancels the timer. Safe to call multiple times and safe to call
// even if the timer was never started.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Timer) stopLocked() {
	t.gen++
	t.active.Store(false)
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.ticker != nil {
		t.ticker.Stop()
		t.ticker = nil
	}
}

// Active reports whether the timer is currently armed.
func (t *Timer) Active() bool {
	return t.active.Load()
}
