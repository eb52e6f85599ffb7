// Package future implements the single-assignment Future/Promise cell
// spec.md §4.2 specifies: states Running/FinishedWithValue/
// FinishedWithError/Canceled, chained continuations, advisory cancellation,
// and a destroyed hook.
package future

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Status is a Future's lifecycle state.
type Status int32

const (
	Running Status = iota
	FinishedWithValue
	FinishedWithError
	Canceled
)

// ErrCanceled is returned by Wait when the Future finished in the Canceled
// state.
var ErrCanceled = errors.New("future: canceled")

// ErrTimeout is returned by Wait when the timeout elapses before the
// Future finishes.
var ErrTimeout = errors.New("future: wait timed out")

type cell[T any] struct {
	mu         sync.Mutex
	cond       *sync.Cond
	status     Status
	value      T
	err        error
	cancelReq  bool
	autoCancel bool
	onFinish   []func(Status, T, error)
	onDestroy  []func()
}

func newCell[T any]() *cell[T] {
	c := &cell[T]{status: Running}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Promise is the producer side of a Future: exactly one of SetValue,
// SetError, or SetCanceled may succeed.
type Promise[T any] struct {
	c *cell[T]
}

// Future is the consumer side of a Promise.
type Future[T any] struct {
	c *cell[T]
}

// New creates a linked Promise/Future pair.
func New[T any]() (Promise[T], Future[T]) {
	c := newCell[T]()
	return Promise[T]{c}, Future[T]{c}
}

// SetAutoCancel marks this promise as opting in to spec.md §4.2's
// "promises that opt-in set Canceled themselves" behavior: once the
// future's cancellation is requested, the promise self-resolves to
// Canceled instead of waiting for the producer to notice.
func (p Promise[T]) SetAutoCancel(auto bool) {
	p.c.mu.Lock()
	p.c.autoCancel = auto
	shouldCancel := auto && p.c.cancelReq && p.c.status == Running
	p.c.mu.Unlock()
	if shouldCancel {
		p.SetCanceled()
	}
}

// SetValue resolves the future with a value. Returns false if already
// resolved.
func (p Promise[T]) SetValue(v T) bool {
	return p.finish(FinishedWithValue, v, nil)
}

// SetError resolves the future with an error.
func (p Promise[T]) SetError(err error) bool {
	var zero T
	return p.finish(FinishedWithError, zero, err)
}

// SetCanceled resolves the future as Canceled.
func (p Promise[T]) SetCanceled() bool {
	var zero T
	return p.finish(Canceled, zero, nil)
}

// IsCancelRequested reports whether Cancel() has been called on the
// linked Future; producers may honor it at their convenience.
func (p Promise[T]) IsCancelRequested() bool {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	return p.c.cancelReq
}

func (p Promise[T]) finish(status Status, v T, err error) bool {
	p.c.mu.Lock()
	if p.c.status != Running {
		p.c.mu.Unlock()
		return false
	}
	p.c.status = status
	p.c.value = v
	p.c.err = err
	callbacks := p.c.onFinish
	p.c.onFinish = nil
	destroyers := p.c.onDestroy
	p.c.mu.Unlock()
	p.c.cond.Broadcast()

	// Continuations registered before completion fire on this (the
	// completion) thread, per spec.md §4.2.
	for _, cb := range callbacks {
		cb(status, v, err)
	}
	for _, d := range destroyers {
		d()
	}
	return true
}

// Cancel requests cancellation (spec.md §4.2: advisory — "the producer
// observes isCancelRequested").
func (f Future[T]) Cancel() {
	f.c.mu.Lock()
	f.c.cancelReq = true
	shouldAutoCancel := f.c.autoCancel && f.c.status == Running
	f.c.mu.Unlock()
	if shouldAutoCancel {
		Promise[T]{f.c}.SetCanceled()
	}
}

// Status returns the current status without blocking.
func (f Future[T]) Status() Status {
	f.c.mu.Lock()
	defer f.c.mu.Unlock()
	return f.c.status
}

// Wait blocks until the future finishes or the timeout elapses (a
// non-positive timeout waits forever). Returns the final status, value,
// and error (ErrCanceled if Canceled, ErrTimeout on expiry).
func (f Future[T]) Wait(timeout time.Duration) (Status, T, error) {
	if timeout <= 0 {
		f.c.mu.Lock()
		for f.c.status == Running {
			f.c.cond.Wait()
		}
		status, v, err := f.c.status, f.c.value, f.c.err
		f.c.mu.Unlock()
		if status == Canceled {
			return status, v, ErrCanceled
		}
		return status, v, err
	}

	done := make(chan struct{})
	go func() {
		f.c.mu.Lock()
		for f.c.status == Running {
			f.c.cond.Wait()
		}
		f.c.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		f.c.mu.Lock()
		status, v, err := f.c.status, f.c.value, f.c.err
		f.c.mu.Unlock()
		if status == Canceled {
			return status, v, ErrCanceled
		}
		return status, v, err
	case <-time.After(timeout):
		var zero T
		return Running, zero, ErrTimeout
	}
}

// WaitContext blocks until the future finishes or ctx is done.
func (f Future[T]) WaitContext(ctx context.Context) (Status, T, error) {
	done := make(chan struct{})
	go func() {
		f.c.mu.Lock()
		for f.c.status == Running {
			f.c.cond.Wait()
		}
		f.c.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		f.c.mu.Lock()
		status, v, err := f.c.status, f.c.value, f.c.err
		f.c.mu.Unlock()
		if status == Canceled {
			return status, v, ErrCanceled
		}
		return status, v, err
	case <-ctx.Done():
		var zero T
		return Running, zero, ctx.Err()
	}
}

// OnFinish registers a callback invoked exactly once when the future
// finishes. If already finished, it fires synchronously on the calling
// thread (spec.md §4.2: "continuations registered after completion fire
// synchronously on the completer's thread" — here, immediately on the
// registering goroutine, which is what "already done" collapses to).
func (f Future[T]) OnFinish(cb func(Status, T, error)) {
	f.c.mu.Lock()
	if f.c.status == Running {
		f.c.onFinish = append(f.c.onFinish, cb)
		f.c.mu.Unlock()
		return
	}
	status, v, err := f.c.status, f.c.value, f.c.err
	f.c.mu.Unlock()
	cb(status, v, err)
}

// SetOnDestroyed registers a callback invoked once the future reaches a
// terminal state (after any OnFinish continuations have run).
func (f Future[T]) SetOnDestroyed(cb func()) {
	f.c.mu.Lock()
	if f.c.status == Running {
		f.c.onDestroy = append(f.c.onDestroy, cb)
		f.c.mu.Unlock()
		return
	}
	f.c.mu.Unlock()
	cb()
}

// Then chains a continuation that runs once f finishes, producing a new
// Future[R]. Errors and cancellation propagate to the result unless fn
// explicitly recovers (spec.md §4.2: "Error/cancel MUST propagate through
// then unless an explicit recovery is provided").
func Then[T, R any](f Future[T], fn func(T) (R, error)) Future[R] {
	p, rf := New[R]()
	f.OnFinish(func(status Status, v T, err error) {
		switch status {
		case FinishedWithValue:
			r, ferr := fn(v)
			if ferr != nil {
				p.SetError(ferr)
				return
			}
			p.SetValue(r)
		case FinishedWithError:
			p.SetError(err)
		case Canceled:
			p.SetCanceled()
		}
	})
	return rf
}

// IsZero reports whether f is the zero Future{} value rather than one
// obtained from New/Resolved/Failed. Used by callers that treat "no
// inner future" as an optional field (e.g. pkg/object's nested-future
// cancel protocol).
func (f Future[T]) IsZero() bool { return f.c == nil }

// Resolved returns an already-finished Future with the given value.
func Resolved[T any](v T) Future[T] {
	p, f := New[T]()
	p.SetValue(v)
	return f
}

// Failed returns an already-finished Future with the given error.
func Failed[T any](err error) Future[T] {
	p, f := New[T]()
	p.SetError(err)
	return f
}
