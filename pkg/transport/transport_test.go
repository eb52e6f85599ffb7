package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/morezero/meshrt/pkg/future"
	"github.com/morezero/meshrt/pkg/wire"
)

func TestFilterEndpoints_PrefersLoopbackSameMachine(t *testing.T) {
	eps := []string{"tcp://10.0.0.5:9000", "tcp://127.0.0.1:9000"}
	got := FilterEndpoints(eps, true, "tcp")
	if len(got) != 1 || got[0] != "tcp://127.0.0.1:9000" {
		t.Fatalf("expected loopback endpoint only, got %v", got)
	}
}

func TestFilterEndpoints_RemoteDropsLoopback(t *testing.T) {
	eps := []string{"tcp://127.0.0.1:9000", "tcp://10.0.0.5:9000"}
	got := FilterEndpoints(eps, false, "tcp")
	if len(got) != 1 || got[0] != "tcp://10.0.0.5:9000" {
		t.Fatalf("expected remote endpoints only, got %v", got)
	}
}

func TestFilterEndpoints_ProtocolFilter(t *testing.T) {
	eps := []string{"tcp://10.0.0.5:9000", "nats://10.0.0.5/svc"}
	got := FilterEndpoints(eps, false, "nats")
	if len(got) != 1 || got[0] != "nats://10.0.0.5/svc" {
		t.Fatalf("expected nats endpoint only, got %v", got)
	}
}

func TestFilterEndpoints_UnknownProtocolFallsBackToAll(t *testing.T) {
	eps := []string{"tcp://10.0.0.5:9000"}
	got := FilterEndpoints(eps, false, "nats")
	if len(got) != 1 {
		t.Fatalf("expected fallback to full set, got %v", got)
	}
}

// fakeSocket is an in-memory Socket stub for exercising Cache without a
// real network or NATS server.
type fakeSocket struct {
	endpoint  string
	connected atomic.Bool
	closed    chan struct{}
	once      sync.Once
	failDial  error
	dialDelay time.Duration
}

func newFakeSocket(endpoint string, failDial error, delay time.Duration) *fakeSocket {
	return &fakeSocket{endpoint: endpoint, closed: make(chan struct{}), failDial: failDial, dialDelay: delay}
}

func (s *fakeSocket) Connect(ctx context.Context) error {
	if s.dialDelay > 0 {
		select {
		case <-time.After(s.dialDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.failDial != nil {
		return s.failDial
	}
	s.connected.Store(true)
	return nil
}
func (s *fakeSocket) Send(ctx context.Context, frame []byte) error { return nil }
func (s *fakeSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
func (s *fakeSocket) Closed() <-chan struct{} { return s.closed }
func (s *fakeSocket) Receive() <-chan []byte  { return make(chan []byte) }
func (s *fakeSocket) Endpoint() string        { return s.endpoint }

func TestCache_RacesAndReturnsWinner(t *testing.T) {
	winner := newFakeSocket("tcp://127.0.0.1:1", nil, 0)
	loser := newFakeSocket("tcp://127.0.0.1:2", nil, 50*time.Millisecond)

	factory := func(endpoint string) (Socket, error) {
		if endpoint == winner.endpoint {
			return winner, nil
		}
		return loser, nil
	}
	c := NewCache("self", time.Second, factory)

	info := wire.ServiceInfo{MachineID: "other", Endpoints: []string{winner.endpoint, loser.endpoint}}
	fut := c.Socket(info, "tcp")
	status, sock, err := fut.Wait(time.Second)
	if status != future.FinishedWithValue || err != nil {
		t.Fatalf("expected success, got status=%v err=%v", status, err)
	}
	if sock != Socket(winner) {
		t.Fatalf("expected winner socket returned")
	}

	time.Sleep(100 * time.Millisecond)
	if loser.connected.Load() {
		t.Fatalf("loser should have been canceled before completing Connect")
	}
}

func TestCache_CacheHitReturnsSameSocket(t *testing.T) {
	sock := newFakeSocket("tcp://127.0.0.1:1", nil, 0)
	factory := func(endpoint string) (Socket, error) { return sock, nil }
	c := NewCache("self", time.Second, factory)

	info := wire.ServiceInfo{MachineID: "m1", Endpoints: []string{sock.endpoint}}
	_, first, err := c.Socket(info, "tcp").Wait(time.Second)
	if err != nil {
		t.Fatalf("first dial: %v", err)
	}

	_, second, err := c.Socket(info, "tcp").Wait(time.Second)
	if err != nil {
		t.Fatalf("second dial: %v", err)
	}
	if first != second {
		t.Fatalf("expected cache hit to return the same socket")
	}
}

func TestCache_AllEndpointsFail(t *testing.T) {
	dialErr := errors.New("connection refused")
	factory := func(endpoint string) (Socket, error) {
		return newFakeSocket(endpoint, dialErr, 0), nil
	}
	c := NewCache("self", time.Second, factory)

	info := wire.ServiceInfo{MachineID: "deadmachine", Endpoints: []string{"tcp://10.0.0.9:1", "tcp://10.0.0.9:2"}}
	status, _, err := c.Socket(info, "tcp").Wait(time.Second)
	if status != future.FinishedWithError || err == nil {
		t.Fatalf("expected failure, got status=%v err=%v", status, err)
	}
}

func TestCache_InsertPublishesToWaiter(t *testing.T) {
	slow := newFakeSocket("tcp://10.0.0.9:1", nil, 500*time.Millisecond)
	factory := func(endpoint string) (Socket, error) { return slow, nil }
	c := NewCache("self", time.Second, factory)

	info := wire.ServiceInfo{MachineID: "m2", Endpoints: []string{slow.endpoint}}
	fut := c.Socket(info, "tcp")

	inserted := newFakeSocket("tcp://10.0.0.9:1", nil, 0)
	c.Insert("m2", slow.endpoint, inserted)

	status, sock, err := fut.Wait(time.Second)
	if status != future.FinishedWithValue || err != nil {
		t.Fatalf("expected insert to resolve the waiting future, got status=%v err=%v", status, err)
	}
	if sock != Socket(inserted) {
		t.Fatalf("expected the inserted socket to win over the slow dial")
	}
}

func TestCache_CloseDisconnectsCachedSockets(t *testing.T) {
	sock := newFakeSocket("tcp://127.0.0.1:1", nil, 0)
	factory := func(endpoint string) (Socket, error) { return sock, nil }
	c := NewCache("self", time.Second, factory)

	info := wire.ServiceInfo{MachineID: "m3", Endpoints: []string{sock.endpoint}}
	if _, _, err := c.Socket(info, "tcp").Wait(time.Second); err != nil {
		t.Fatalf("dial: %v", err)
	}

	c.Close()
	select {
	case <-sock.Closed():
	case <-time.After(time.Second):
		t.Fatalf("expected Close to disconnect the cached socket")
	}

	status, _, err := c.Socket(info, "tcp").Wait(time.Second)
	if status != future.FinishedWithError || err == nil {
		t.Fatalf("expected Socket calls after Close to fail, got status=%v err=%v", status, err)
	}
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	factory := func(endpoint string) (Socket, error) { return newFakeSocket(endpoint, nil, 0), nil }
	c := NewCache("self", time.Second, factory)
	c.Close()
	c.Close()
}
