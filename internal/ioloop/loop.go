// Package ioloop implements the single-threaded cooperative reactor that
// schedules socket callbacks and timers in upnpcore. The SSDP client and
// server and the device scanner post their socket and timer work onto
// one Loop; the GENA server does not use a Loop and guards its state
// with a mutex instead.
package ioloop

import (
	"sync"
)

// Loop is a single-goroutine command queue. All jobs posted to it run
// strictly in the order they were posted, on the same goroutine, so
// component state guarded only by "runs on the loop" needs no mutex.
type Loop struct {
	jobs   chan func()
	closed chan struct{}
	once   sync.Once
}

// New creates a Loop. Call Run in its own goroutine to start processing.
func New() *Loop {
	return &Loop{
		jobs:   make(chan func(), 64),
		closed: make(chan struct{}),
	}
}

// Run drains the job queue until Stop is called. It is meant to be the
// body of the loop's dedicated goroutine: `go loop.Run()`.
func (l *Loop) Run() {
	for {
		select {
		case job := <-l.jobs:
			job()
		case <-l.closed:
			l.drain()
			return
		}
	}
}

// drain runs any jobs still queued at shutdown so pending sends/closes
// complete instead of being silently dropped.
func (l *Loop) drain() {
	for {
		select {
		case job := <-l.jobs:
			job()
		default:
			return
		}
	}
}

// Post enqueues f for execution on the loop goroutine and returns
// immediately. This is the async_send primitive described in the spec;
// it is the only thread-safe entry point into loop-owned state.
func (l *Loop) Post(f func()) {
	select {
	case l.jobs <- f:
	case <-l.closed:
	}
}

// PostSync enqueues f and blocks the calling goroutine until f has run
// on the loop. Safe to call from any goroutine except the loop's own.
func (l *Loop) PostSync(f func()) {
	done := make(chan struct{})
	l.Post(func() {
		f()
		close(done)
	})
	<-done
}

// Stop requests the loop goroutine to exit after draining pending jobs.
// A second Stop call is a no-op.
func (l *Loop) Stop() {
	l.once.Do(func() {
		close(l.closed)
	})
}
