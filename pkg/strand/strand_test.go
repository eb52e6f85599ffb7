package strand

import (
	"sync"
	"testing"
	"time"

	"github.com/morezero/meshrt/pkg/executor"
	"github.com/morezero/meshrt/pkg/future"
)

func TestStrand_PreservesSubmissionOrder(t *testing.T) {
	exec := executor.New(4)
	defer exec.Shutdown()
	s := New(exec)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		i := i
		s.Post(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("strand_test - tasks never completed")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("strand_test - order = %v, want sequential 0..9", order)
		}
	}
}

func TestStrand_NoOverlap(t *testing.T) {
	exec := executor.New(4)
	defer exec.Shutdown()
	s := New(exec)

	var running int32
	var sawOverlap bool
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(20)
	for i := 0; i < 20; i++ {
		s.Post(func() {
			mu.Lock()
			running++
			if running > 1 {
				sawOverlap = true
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
			wg.Done()
		})
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("strand_test - tasks never completed")
	}
	if sawOverlap {
		t.Error("strand_test - observed overlapping execution within one strand")
	}
}

func TestStrand_AsyncResolvesWithReturnValue(t *testing.T) {
	exec := executor.New(2)
	defer exec.Shutdown()
	s := New(exec)

	fut, _ := s.Async(func() (interface{}, error) { return 99, nil }, 0)
	status, v, err := fut.Wait(time.Second)
	if err != nil || status != future.FinishedWithValue || v != 99 {
		t.Errorf("strand_test - got status=%v value=%v err=%v", status, v, err)
	}
}

func TestStrand_AsyncCanceledBeforeDispatch(t *testing.T) {
	exec := executor.New(2)
	defer exec.Shutdown()
	s := New(exec)

	fut, h := s.Async(func() (interface{}, error) { return 1, nil }, 50*time.Millisecond)
	h.Cancel()

	status, _, err := fut.Wait(time.Second)
	if status != future.Canceled || err != future.ErrCanceled {
		t.Errorf("strand_test - got status=%v err=%v, want Canceled", status, err)
	}
}

func TestStrand_AsyncCarriesPanicAsError(t *testing.T) {
	exec := executor.New(2)
	defer exec.Shutdown()
	s := New(exec)

	fut, _ := s.Async(func() (interface{}, error) { panic("kaboom") }, 0)
	status, _, err := fut.Wait(time.Second)
	if status != future.FinishedWithError || err == nil {
		t.Errorf("strand_test - got status=%v err=%v, want FinishedWithError", status, err)
	}
}

func TestStrand_DestroyWaitsForRunningTask(t *testing.T) {
	exec := executor.New(2)
	defer exec.Shutdown()
	s := New(exec)

	started := make(chan struct{})
	finished := make(chan struct{})
	s.Post(func() {
		close(started)
		time.Sleep(30 * time.Millisecond)
		close(finished)
	})
	<-started
	s.Destroy()

	select {
	case <-finished:
	default:
		t.Error("strand_test - Destroy returned before in-flight task finished")
	}
}

func TestStrand_DestroyCancelsPending(t *testing.T) {
	exec := executor.New(1)
	defer exec.Shutdown()
	s := New(exec)

	block := make(chan struct{})
	s.Post(func() { <-block })

	ran := make(chan struct{}, 1)
	s.Post(func() { ran <- struct{}{} })

	close(block)
	s.Destroy()

	select {
	case <-ran:
		t.Error("strand_test - task queued before Destroy should have been canceled")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStrand_SelfDestroyDoesNotDeadlock(t *testing.T) {
	exec := executor.New(2)
	defer exec.Shutdown()
	s := New(exec)

	done := make(chan struct{})
	s.Post(func() {
		s.Destroy()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("strand_test - self-destruction deadlocked")
	}
}
