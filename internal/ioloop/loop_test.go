package ioloop

import (
	"sync"
	"testing"
	"time"
)

func TestPostRunsInOrder(t *testing.T) {
	loop := New()
	go loop.Run()
	defer loop.Stop()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(10)

	for i := 0; i < 10; i++ {
		i := i
		loop.Post(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("jobs ran out of order: %v", order)
		}
	}
}

func TestPostSyncBlocksUntilRun(t *testing.T) {
	loop := New()
	go loop.Run()
	defer loop.Stop()

	var ran bool
	loop.PostSync(func() { ran = true })
	if !ran {
		t.Fatal("PostSync returned before its function ran")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	loop := New()
	go loop.Run()

	loop.Stop()
	loop.Stop() // must not panic
}

func TestStopDrainsPendingJobs(t *testing.T) {
	loop := New()
	done := make(chan struct{})
	go loop.Run()

	loop.Post(func() { close(done) })
	loop.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pending job was not drained before Stop returned control")
	}
}
