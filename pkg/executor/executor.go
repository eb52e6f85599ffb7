// Package executor generalizes the bare "go func(){ ... }()" idiom used
// throughout the teacher's orchestration layer into a bounded worker pool
// with delayed, cancellable task scheduling. Strand (pkg/strand) runs its
// serial queues on top of it, keeping a fixed ceiling on live goroutines
// regardless of how many Strands or PeriodicTasks a process creates.
package executor

import (
	"container/heap"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const logPrefix = "executor:executor"

// Task is a unit of work posted to an Executor.
type Task func()

// Executor is a fixed-size worker pool accepting immediate and delayed
// tasks. It has no notion of ordering between tasks from different
// sources; Strand is responsible for FIFO semantics within one logical
// queue.
type Executor struct {
	tasks  chan Task
	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once

	mu        sync.Mutex
	timers    timerQueue
	timerWake chan struct{}
}

// New starts an Executor with the given number of worker goroutines.
// workers <= 0 is treated as 1.
func New(workers int) *Executor {
	if workers <= 0 {
		workers = 1
	}
	e := &Executor{
		tasks:     make(chan Task, 256),
		closed:    make(chan struct{}),
		timerWake: make(chan struct{}, 1),
	}
	e.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go e.worker()
	}
	go e.timerLoop()
	return e
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for {
		select {
		case t, ok := <-e.tasks:
			if !ok {
				return
			}
			runTask(t)
		case <-e.closed:
			return
		}
	}
}

func runTask(t Task) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - task panicked", logPrefix), "recover", r)
		}
	}()
	t()
}

// Post enqueues a task to run as soon as a worker is free. It is safe to
// call from any goroutine, including from within a running task. The
// parameter type is the bare func() (rather than Task) so *Executor
// satisfies posting interfaces declared against func() directly, such as
// pkg/object's Poster and pkg/signalhub's Executor.
func (e *Executor) Post(t func()) {
	select {
	case e.tasks <- Task(t):
	case <-e.closed:
	}
}

// Handle cancels a delayed task if it has not yet fired.
type Handle struct {
	e     *Executor
	entry *timerEntry
}

// Cancel prevents a not-yet-fired delayed task from running. Returns
// false if the task already fired or was already canceled.
func (h Handle) Cancel() bool {
	if h.entry == nil {
		return false
	}
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	if h.entry.canceled || h.entry.index < 0 {
		return false
	}
	h.entry.canceled = true
	heap.Remove(&h.e.timers, h.entry.index)
	return true
}

// PostDelayed schedules t to run after delay elapses, returning a Handle
// that can cancel it before it fires.
func (e *Executor) PostDelayed(t Task, delay time.Duration) Handle {
	entry := &timerEntry{task: t, at: time.Now().Add(delay)}
	e.mu.Lock()
	heap.Push(&e.timers, entry)
	e.mu.Unlock()
	e.wakeTimer()
	return Handle{e: e, entry: entry}
}

func (e *Executor) wakeTimer() {
	select {
	case e.timerWake <- struct{}{}:
	default:
	}
}

// timerLoop is the single goroutine responsible for moving due timers
// into the task channel; it never runs task bodies itself.
func (e *Executor) timerLoop() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		e.mu.Lock()
		var wait time.Duration
		if e.timers.Len() == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(e.timers[0].at)
			if wait < 0 {
				wait = 0
			}
		}
		e.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-timer.C:
			e.fireDue()
		case <-e.timerWake:
		case <-e.closed:
			return
		}
	}
}

func (e *Executor) fireDue() {
	now := time.Now()
	var due []Task
	e.mu.Lock()
	for e.timers.Len() > 0 && !e.timers[0].at.After(now) {
		entry := heap.Pop(&e.timers).(*timerEntry)
		if !entry.canceled {
			due = append(due, entry.task)
		}
	}
	e.mu.Unlock()
	for _, t := range due {
		e.Post(t)
	}
}

// Shutdown stops accepting new tasks and waits for in-flight work to
// drain. Pending delayed tasks that have not yet fired are dropped.
func (e *Executor) Shutdown() {
	e.once.Do(func() {
		close(e.closed)
	})
	e.wg.Wait()
}

type timerEntry struct {
	task     Task
	at       time.Time
	canceled bool
	index    int
}

type timerQueue []*timerEntry

func (q timerQueue) Len() int            { return len(q) }
func (q timerQueue) Less(i, j int) bool  { return q[i].at.Before(q[j].at) }
func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *timerQueue) Push(x interface{}) {
	entry := x.(*timerEntry)
	entry.index = len(*q)
	*q = append(*q, entry)
}

func (q *timerQueue) Pop() interface{} {
	old := *q
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*q = old[:n-1]
	return entry
}
