// Package signalhub implements the arity-checked, thread-safe publish/
// subscribe primitive spec.md §4.3 describes: subscribers connect with a
// declared signature, emissions snapshot the subscriber set and dispatch
// either synchronously or on an executor, and disconnection is
// reentrancy-safe — a handler may disconnect itself without deadlocking.
package signalhub

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/meshrt/internal/gid"
	"github.com/morezero/meshrt/pkg/anyvalue"
	"github.com/morezero/meshrt/pkg/wire"
)

const logPrefix = "signalhub:signalhub"

// CallType selects how a subscriber's handler is invoked relative to the
// emitting goroutine.
type CallType int

const (
	// Auto defers to the subscriber's own preference, falling back to
	// Queued if neither subscriber nor signal specifies one.
	Auto CallType = iota
	Direct
	Queued
)

// Executor is the minimal posting surface a Queued subscriber dispatches
// through (satisfied by *executor.Executor and *strand.Strand).
type Executor interface {
	Post(func())
}

// Handler receives a signal emission's arguments.
type Handler func(args []anyvalue.Value)

// Subscriber describes one connection to a Hub.
type Subscriber struct {
	// Handler is invoked with the emitted arguments as passed to Trigger;
	// they are not converted to the subscriber's signature.
	Handler Handler
	// Signature is the subscriber's declared parameter tuple (spec.md
	// §4.3's arity/signature checks are against this).
	Signature string
	// CallType overrides the signal's default dispatch mode for this
	// subscriber; zero value (Auto) defers to the signal.
	CallType CallType
	// Executor is used for Queued dispatch; nil falls back to the Hub's
	// DefaultExecutor.
	Executor Executor
	// IsAlive reports whether the subscriber's backing target is still
	// alive. Go has no portable weak-reference primitive pre-1.24; a
	// subscriber bound to an object supplies this to emulate spec.md's
	// "weak object reference has expired" check. A nil IsAlive is always
	// alive.
	IsAlive func() bool
}

type link struct {
	id      uint64
	sub     Subscriber
	enabled atomic32
	active  activeSet
}

// Hub is one signal's subscriber set.
type Hub struct {
	// Signature is the signal's fixed parameter tuple.
	Signature string
	// DefaultCallType is used when neither the subscriber nor the call
	// site specifies one.
	DefaultCallType CallType
	// DefaultExecutor backs Queued dispatch when a subscriber supplies
	// none.
	DefaultExecutor Executor
	// OnSubscribers fires with true on the first subscriber and false on
	// the last disconnect — spec.md §4.3: "used to lazily bridge remote
	// signals."
	OnSubscribers func(hasSubscribers bool)

	mu      sync.Mutex
	links   map[uint64]*link
	nextID  uint64
}

// New creates a Hub for a signal with the given fixed parameter
// signature.
func New(signature string) *Hub {
	return &Hub{Signature: signature, links: make(map[uint64]*link)}
}

// Connect validates and registers a subscriber, returning its link id.
func (h *Hub) Connect(sub Subscriber) (uint64, error) {
	arity, err := anyvalue.Arity(h.Signature)
	if err != nil {
		return 0, wire.NewError(wire.CodeSignatureMismatch, "signalhub: invalid signal signature %q: %v", h.Signature, err)
	}
	subArity, err := anyvalue.Arity(sub.Signature)
	if err != nil {
		return 0, wire.NewError(wire.CodeSignatureMismatch, "signalhub: invalid subscriber signature %q: %v", sub.Signature, err)
	}
	if arity != subArity {
		return 0, wire.NewError(wire.CodeArityMismatch, "signalhub: signal has arity %d, subscriber declared %d", arity, subArity)
	}
	if !anyvalue.ConvertibleTo(h.Signature, sub.Signature) {
		return 0, wire.NewError(wire.CodeSignatureMismatch, "signalhub: signal signature %q is not convertible to subscriber signature %q", h.Signature, sub.Signature)
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	l := &link{id: id, sub: sub}
	l.enabled.store(true)
	first := len(h.links) == 0
	h.links[id] = l
	h.mu.Unlock()

	if first && h.OnSubscribers != nil {
		h.OnSubscribers(true)
	}
	return id, nil
}

// Trigger emits params to every connected, enabled subscriber.
func (h *Hub) Trigger(params []anyvalue.Value, callType CallType) {
	h.mu.Lock()
	snapshot := make([]*link, 0, len(h.links))
	for _, l := range h.links {
		snapshot = append(snapshot, l)
	}
	h.mu.Unlock()

	for _, l := range snapshot {
		if !l.enabled.load() {
			continue
		}
		if l.sub.IsAlive != nil && !l.sub.IsAlive() {
			go h.Disconnect(l.id, false)
			continue
		}
		effective := callType
		if effective == Auto {
			effective = l.sub.CallType
		}
		if effective == Auto {
			effective = h.DefaultCallType
		}
		if effective == Auto {
			effective = Queued
		}

		if effective == Direct {
			h.runOn(l, params)
			continue
		}

		exec := l.sub.Executor
		if exec == nil {
			exec = h.DefaultExecutor
		}
		if exec == nil {
			h.runOn(l, params)
			continue
		}
		exec.Post(func() { h.runOn(l, params) })
	}
}

func (h *Hub) runOn(l *link, params []anyvalue.Value) {
	token := gid.Current()
	l.active.add(token)
	defer l.active.remove(token)

	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - subscriber handler panicked", logPrefix), "recover", r)
		}
	}()
	l.sub.Handler(params)
}

// Disconnect removes a subscriber. If wait is true, it blocks until the
// subscriber is no longer executing anywhere — except when the calling
// goroutine is itself the only active execution, in which case it
// returns immediately to avoid a reentrant self-deadlock (spec.md §4.3).
func (h *Hub) Disconnect(linkID uint64, wait bool) bool {
	h.mu.Lock()
	l, ok := h.links[linkID]
	if !ok {
		h.mu.Unlock()
		return false
	}
	delete(h.links, linkID)
	last := len(h.links) == 0
	h.mu.Unlock()

	l.enabled.store(false)
	if wait {
		l.active.waitForInactive(gid.Current())
	}

	if last && h.OnSubscribers != nil {
		h.OnSubscribers(false)
	}
	return true
}
