// Package strand implements the FIFO serial executor spec.md §4.1
// describes: a queue of callables drained cooperatively by the shared
// Executor pool, guaranteeing at most one task from a given strand runs
// at any moment and that tasks complete in submission order.
package strand

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/morezero/meshrt/internal/gid"
	"github.com/morezero/meshrt/pkg/executor"
	"github.com/morezero/meshrt/pkg/future"
)

const logPrefix = "strand:strand"

type job struct {
	run      func()
	canceled *int32
}

// Strand is a FIFO, strictly-serial task queue layered over a shared
// Executor.
type Strand struct {
	exec *executor.Executor

	mu       sync.Mutex
	queue    []*job
	draining bool
	destroyed bool

	runnerID atomic.Value // goroutine-local identity of the task currently running, if any
}

// New creates a Strand backed by exec.
func New(exec *executor.Executor) *Strand {
	return &Strand{exec: exec}
}

// Post enqueues a fire-and-forget task.
func (s *Strand) Post(f func()) {
	s.enqueue(&job{run: f, canceled: new(int32)})
}

// Async enqueues f (after an optional delay) and returns a Future that
// resolves with its return value, or Canceled if the returned Handle is
// canceled before dispatch, or carries any panic f raises.
func (s *Strand) Async(f func() (interface{}, error), delay time.Duration) (future.Future[interface{}], Handle) {
	p, fut := future.New[interface{}]()
	canceled := new(int32)
	j := &job{canceled: new(int32)}
	j.run = func() {
		if atomic.LoadInt32(canceled) != 0 {
			p.SetCanceled()
			return
		}
		v, err := s.runGuarded(f)
		if err != nil {
			p.SetError(err)
			return
		}
		p.SetValue(v)
	}

	if delay <= 0 {
		s.enqueue(j)
	} else {
		s.exec.PostDelayed(func() {
			if atomic.LoadInt32(canceled) != 0 {
				p.SetCanceled()
				return
			}
			s.enqueue(j)
		}, delay)
	}
	return fut, Handle{canceled: canceled}
}

func (s *Strand) runGuarded(f func() (interface{}, error)) (v interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strand: task panic: %v", r)
		}
	}()
	return f()
}

// Handle cancels a not-yet-dispatched Async task.
type Handle struct {
	canceled *int32
}

// Cancel marks the task canceled. No effect once it has started running.
func (h Handle) Cancel() {
	atomic.StoreInt32(h.canceled, 1)
}

func (s *Strand) enqueue(j *job) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		atomic.StoreInt32(j.canceled, 1)
		return
	}
	s.queue = append(s.queue, j)
	needsDrain := !s.draining
	if needsDrain {
		s.draining = true
	}
	s.mu.Unlock()

	if needsDrain {
		s.exec.Post(s.drain)
	}
}

// drain pops and runs one task, then reposts itself while the queue is
// non-empty, per spec.md §4.1's cooperative-multitasking contract.
func (s *Strand) drain() {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.draining = false
		s.mu.Unlock()
		return
	}
	j := s.queue[0]
	s.queue = s.queue[1:]
	more := len(s.queue) > 0
	s.mu.Unlock()

	id := gid.Current()
	s.runnerID.Store(id)
	runJob(j)
	s.runnerID.Store("")

	if more {
		s.exec.Post(s.drain)
		return
	}
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.draining = false
	} else {
		s.exec.Post(s.drain)
	}
	s.mu.Unlock()
}

func runJob(j *job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - strand task panicked", logPrefix), "recover", r)
		}
	}()
	if atomic.LoadInt32(j.canceled) != 0 {
		return
	}
	j.run()
}

// Destroy cancels every not-yet-running task and waits for the
// currently-running one, if any, to finish. It is safe to call from
// within a task running on this same strand (self-destruction): spec.md
// §4.1 requires detecting that case and deferring the join so the
// caller does not deadlock waiting on itself.
func (s *Strand) Destroy() {
	s.mu.Lock()
	s.destroyed = true
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, j := range pending {
		atomic.StoreInt32(j.canceled, 1)
	}

	if s.isSelf() {
		return
	}
	for {
		s.mu.Lock()
		draining := s.draining
		s.mu.Unlock()
		if !draining {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func (s *Strand) isSelf() bool {
	id, _ := s.runnerID.Load().(string)
	return id != "" && id == gid.Current()
}
