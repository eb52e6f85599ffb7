package strand

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/morezero/meshrt/pkg/executor"
)

const periodicLogPrefix = "strand:periodic"

// TaskState is PeriodicTask's lifecycle state (spec.md §4.1).
type TaskState int32

const (
	Stopped TaskState = iota
	Starting
	Running
	Triggering
	Stopping
)

func (s TaskState) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Triggering:
		return "Triggering"
	case Stopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// PeriodicTask is a self-rescheduling callback bound to a Strand: a
// period, a callback, and the Stopped/Starting/Running/Triggering/
// Stopping state machine spec.md §4.1 defines.
type PeriodicTask struct {
	exec     *executor.Executor
	strand   *Strand
	callback func() error
	period   time.Duration

	// CompensateCallbackTime, when true, subtracts the callback's own
	// running time from the next delay so fires land on a fixed cadence.
	CompensateCallbackTime bool

	state   atomic.Int32
	handle  atomic.Value // executor.Handle of the pending timer post, if any

	stopMu  sync.Mutex
	stopped chan struct{}
}

// NewPeriodicTask creates a task bound to its own private Strand over
// exec, invoking callback every period.
func NewPeriodicTask(exec *executor.Executor, callback func() error, period time.Duration) *PeriodicTask {
	t := &PeriodicTask{
		exec:     exec,
		strand:   New(exec),
		callback: callback,
		period:   period,
	}
	t.state.Store(int32(Stopped))
	return t
}

// State returns the current lifecycle state.
func (t *PeriodicTask) State() TaskState {
	return TaskState(t.state.Load())
}

// SetPeriod updates the period used for subsequent fires.
func (t *PeriodicTask) SetPeriod(period time.Duration) {
	t.period = period
}

// Start transitions Stopped → Starting → Running and schedules the first
// fire immediately (delay 0) if immediate is true, else after one period.
func (t *PeriodicTask) Start(immediate bool) bool {
	if !t.state.CompareAndSwap(int32(Stopped), int32(Starting)) {
		return false
	}
	t.stopMu.Lock()
	t.stopped = make(chan struct{})
	t.stopMu.Unlock()
	t.state.Store(int32(Running))

	delay := t.period
	if immediate {
		delay = 0
	}
	t.scheduleFire(delay)
	return true
}

// Trigger attempts an immediate out-of-cycle fire: Running → Triggering.
// It is a no-op (lock-free CAS failure) in any other state.
func (t *PeriodicTask) Trigger() bool {
	if !t.state.CompareAndSwap(int32(Running), int32(Triggering)) {
		return false
	}
	t.strand.Post(t.fire)
	return true
}

func (t *PeriodicTask) scheduleFire(delay time.Duration) {
	h := t.exec.PostDelayed(func() {
		if TaskState(t.state.Load()) != Running {
			return
		}
		t.strand.Post(t.fire)
	}, delay)
	t.handle.Store(h)
}

// fire runs the callback on the task's strand and reschedules, unless
// the callback errored (the task stops) or a stop was requested while it
// ran.
func (t *PeriodicTask) fire() {
	started := time.Now()
	err := t.runGuarded()
	elapsed := time.Since(started)

	if TaskState(t.state.Load()) == Stopping {
		t.finishStop()
		return
	}

	if err != nil {
		slog.Error(fmt.Sprintf("%s - callback failed, stopping task", periodicLogPrefix), "error", err)
		t.state.Store(int32(Stopped))
		t.closeStopped()
		return
	}

	// Whether this fire came from the normal cycle or Trigger(), resume
	// the regular cadence.
	t.state.Store(int32(Running))

	delay := t.period
	if t.CompensateCallbackTime {
		delay = t.period - elapsed
		if delay < 0 {
			delay = 0
		}
	}
	t.scheduleFire(delay)
}

func (t *PeriodicTask) runGuarded() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strand: periodic callback panic: %v", r)
		}
	}()
	return t.callback()
}

func (t *PeriodicTask) finishStop() {
	t.state.Store(int32(Stopped))
	if h, ok := t.handle.Load().(executor.Handle); ok {
		h.Cancel()
	}
	t.closeStopped()
}

func (t *PeriodicTask) closeStopped() {
	t.stopMu.Lock()
	defer t.stopMu.Unlock()
	if t.stopped != nil {
		close(t.stopped)
		t.stopped = nil
	}
}

func (t *PeriodicTask) currentStopped() chan struct{} {
	t.stopMu.Lock()
	defer t.stopMu.Unlock()
	return t.stopped
}

// Stop transitions Running → Stopping and blocks until the in-flight
// fire (if any) completes. Calling Stop from inside the callback
// deadlocks by construction (spec.md §4.1); use AsyncStop there instead.
func (t *PeriodicTask) Stop() {
	stopped := t.requestStop()
	if stopped == nil {
		return
	}
	<-stopped
}

// AsyncStop requests a stop and returns immediately. Safe to call from
// inside the callback.
func (t *PeriodicTask) AsyncStop() {
	t.requestStop()
}

func (t *PeriodicTask) requestStop() chan struct{} {
	for {
		cur := TaskState(t.state.Load())
		switch cur {
		case Stopped, Stopping:
			return nil
		case Running:
			if t.state.CompareAndSwap(int32(Running), int32(Stopping)) {
				if h, ok := t.handle.Load().(executor.Handle); ok {
					h.Cancel()
				}
				stopped := t.currentStopped()
				// Finish on the strand, so a fire already running or queued
				// there completes before the stop does.
				t.strand.Post(func() {
					t.finishStop()
				})
				return stopped
			}
		case Starting, Triggering:
			// A fire is about to run or is running; it will observe
			// Stopping next time through fire() and finish the stop.
			if t.state.CompareAndSwap(int32(cur), int32(Stopping)) {
				return t.currentStopped()
			}
		}
	}
}
