package signalhub

import (
	"sync"
	"testing"
	"time"

	"github.com/morezero/meshrt/pkg/anyvalue"
	"github.com/morezero/meshrt/pkg/wire"
)

func TestHub_ConnectArityMismatch(t *testing.T) {
	h := New("(i)")
	_, err := h.Connect(Subscriber{Signature: "(ii)", Handler: func([]anyvalue.Value) {}})
	if wire.CodeOf(err) != wire.CodeArityMismatch {
		t.Fatalf("signalhub_test - got %v, want ArityMismatch", err)
	}
}

func TestHub_ConnectSignatureMismatch(t *testing.T) {
	h := New("(s)")
	_, err := h.Connect(Subscriber{Signature: "(i)", Handler: func([]anyvalue.Value) {}})
	if wire.CodeOf(err) != wire.CodeSignatureMismatch {
		t.Fatalf("signalhub_test - got %v, want SignatureMismatch", err)
	}
}

func TestHub_ConnectAndTriggerDirect(t *testing.T) {
	h := New("(i)")
	var got []anyvalue.Value
	_, err := h.Connect(Subscriber{
		Signature: "(i)",
		CallType:  Direct,
		Handler: func(args []anyvalue.Value) {
			got = args
		},
	})
	if err != nil {
		t.Fatalf("signalhub_test - Connect error: %v", err)
	}

	h.Trigger([]anyvalue.Value{anyvalue.NewInt(42, 32, true)}, Auto)
	if len(got) != 1 || got[0].IntVal != 42 {
		t.Errorf("signalhub_test - handler got %+v, want [42]", got)
	}
}

func TestHub_OnSubscribersHook(t *testing.T) {
	h := New("()")
	var states []bool
	var mu sync.Mutex
	h.OnSubscribers = func(has bool) {
		mu.Lock()
		states = append(states, has)
		mu.Unlock()
	}

	id, _ := h.Connect(Subscriber{Signature: "()", CallType: Direct, Handler: func([]anyvalue.Value) {}})
	h.Disconnect(id, true)

	mu.Lock()
	defer mu.Unlock()
	if len(states) != 2 || states[0] != true || states[1] != false {
		t.Errorf("signalhub_test - states = %v, want [true false]", states)
	}
}

func TestHub_DisconnectWaitsForInFlightHandler(t *testing.T) {
	h := New("()")
	started := make(chan struct{})
	release := make(chan struct{})
	id, _ := h.Connect(Subscriber{
		Signature: "()",
		CallType:  Direct,
		Handler: func([]anyvalue.Value) {
			close(started)
			<-release
		},
	})

	go h.Trigger(nil, Auto)
	<-started

	done := make(chan struct{})
	go func() {
		h.Disconnect(id, true)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("signalhub_test - Disconnect returned before in-flight handler finished")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("signalhub_test - Disconnect never returned")
	}
}

func TestHub_ReentrantSelfDisconnectDoesNotDeadlock(t *testing.T) {
	h := New("()")
	var id uint64
	var err error
	id, err = h.Connect(Subscriber{
		Signature: "()",
		CallType:  Direct,
		Handler: func([]anyvalue.Value) {
			h.Disconnect(id, true)
		},
	})
	if err != nil {
		t.Fatalf("signalhub_test - Connect error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		h.Trigger(nil, Auto)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("signalhub_test - reentrant self-disconnect deadlocked")
	}
}

func TestHub_ExpiredWeakTargetSkippedAndDisconnected(t *testing.T) {
	h := New("()")
	calls := 0
	id, _ := h.Connect(Subscriber{
		Signature: "()",
		CallType:  Direct,
		IsAlive:   func() bool { return false },
		Handler:   func([]anyvalue.Value) { calls++ },
	})

	h.Trigger(nil, Auto)
	time.Sleep(20 * time.Millisecond)

	if calls != 0 {
		t.Errorf("signalhub_test - handler ran %d times, want 0 for expired target", calls)
	}
	h.mu.Lock()
	_, stillPresent := h.links[id]
	h.mu.Unlock()
	if stillPresent {
		t.Error("signalhub_test - expired subscriber should have been disconnected")
	}
}

func TestHub_PanicInHandlerIsRecovered(t *testing.T) {
	h := New("()")
	h.Connect(Subscriber{
		Signature: "()",
		CallType:  Direct,
		Handler:   func([]anyvalue.Value) { panic("boom") },
	})

	done := make(chan struct{})
	go func() {
		h.Trigger(nil, Auto)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("signalhub_test - Trigger did not return after a panicking handler")
	}
}

func TestHub_QueuedDispatchUsesExecutor(t *testing.T) {
	h := New("()")
	posted := make(chan func(), 1)
	exec := fakeExecutor(func(f func()) { posted <- f })

	h.Connect(Subscriber{
		Signature: "()",
		CallType:  Queued,
		Executor:  exec,
		Handler:   func([]anyvalue.Value) {},
	})
	h.Trigger(nil, Auto)

	select {
	case f := <-posted:
		f()
	case <-time.After(time.Second):
		t.Fatal("signalhub_test - queued subscriber was never posted to its executor")
	}
}

type fakeExecutor func(func())

func (f fakeExecutor) Post(task func()) { f(task) }
