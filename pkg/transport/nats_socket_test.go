package transport

import (
	"context"
	"testing"
	"time"

	comms "github.com/nats-io/nats.go"
	natsserver "github.com/nats-io/nats-server/v2/server"
)

// startEmbeddedNATS runs an in-process NATS server on a random port, for
// exercising natsSocket without depending on an external broker.
func startEmbeddedNATS(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("nats_socket_test - start embedded nats server: %v", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(2 * time.Second) {
		t.Fatalf("nats_socket_test - embedded nats server never became ready")
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestNATSSocket_SendReceiveRoundTrip(t *testing.T) {
	srv := startEmbeddedNATS(t)

	conn, err := comms.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("nats_socket_test - connect: %v", err)
	}
	defer conn.Close()

	a, err := NewNATSSocket("nats://"+srv.Addr().String()+"/b-inbox", conn, "a-inbox")
	if err != nil {
		t.Fatalf("nats_socket_test - new socket a: %v", err)
	}
	b, err := NewNATSSocket("nats://"+srv.Addr().String()+"/a-inbox", conn, "b-inbox")
	if err != nil {
		t.Fatalf("nats_socket_test - new socket b: %v", err)
	}
	defer a.Close()
	defer b.Close()

	ctx := context.Background()
	if err := a.Connect(ctx); err != nil {
		t.Fatalf("nats_socket_test - connect a: %v", err)
	}
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("nats_socket_test - connect b: %v", err)
	}

	if err := a.Send(ctx, []byte("ping")); err != nil {
		t.Fatalf("nats_socket_test - send: %v", err)
	}

	select {
	case frame := <-b.Receive():
		if string(frame) != "ping" {
			t.Fatalf("nats_socket_test - unexpected frame %q", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("nats_socket_test - timed out waiting for frame")
	}

	if err := b.Send(ctx, []byte("pong")); err != nil {
		t.Fatalf("nats_socket_test - send reply: %v", err)
	}
	select {
	case frame := <-a.Receive():
		if string(frame) != "pong" {
			t.Fatalf("nats_socket_test - unexpected reply frame %q", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("nats_socket_test - timed out waiting for reply frame")
	}
}

func TestNATSSocket_CloseStopsReceiving(t *testing.T) {
	srv := startEmbeddedNATS(t)

	conn, err := comms.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("nats_socket_test - connect: %v", err)
	}
	defer conn.Close()

	sock, err := NewNATSSocket("nats://"+srv.Addr().String()+"/self", conn, "self")
	if err != nil {
		t.Fatalf("nats_socket_test - new socket: %v", err)
	}
	if err := sock.Connect(context.Background()); err != nil {
		t.Fatalf("nats_socket_test - connect: %v", err)
	}

	if err := sock.Close(); err != nil {
		t.Fatalf("nats_socket_test - close: %v", err)
	}

	select {
	case <-sock.Closed():
	default:
		t.Fatalf("nats_socket_test - expected Closed() to be signaled after Close()")
	}
}
