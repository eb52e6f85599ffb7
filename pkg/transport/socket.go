// Package transport implements the TransportSocket collaborator and the
// SocketCache spec.md §4.7 describes: a keyed cache that races parallel
// connection attempts across a machine's advertised endpoints and hands
// the first winner to every concurrent waiter.
package transport

import (
	"context"
	"net"
	"net/url"
	"strings"
)

// Socket is a bidirectional, reliable, framed channel: spec.md §1 treats
// the concrete transport as an external collaborator exposing connect,
// send, close, and a way to observe disconnection.
type Socket interface {
	// Connect establishes the connection, blocking until it succeeds or
	// ctx is done / the attempt fails.
	Connect(ctx context.Context) error
	// Send writes one already-framed message.
	Send(ctx context.Context, frame []byte) error
	// Close tears down the connection. Idempotent.
	Close() error
	// Closed returns a channel that is closed once the socket
	// disconnects, whether by a local Close() or a peer-initiated
	// failure. Never fires before a successful Connect.
	Closed() <-chan struct{}
	// Receive returns inbound frames, in arrival order. It is closed
	// when the socket disconnects; pkg/object's ObjectHost is the
	// consumer that decodes each frame into a wire.Message.
	Receive() <-chan []byte
	// Endpoint returns the URL this socket was dialed with.
	Endpoint() string
}

// Factory constructs an unconnected Socket for the given endpoint URL.
// Concrete factories dispatch on URL scheme (tcp://, tcps://, nats://).
type Factory func(endpoint string) (Socket, error)

// isLoopbackHost reports whether host is a loopback address per
// spec.md §4.7 ("host starts with `127.` or equals `localhost`").
func isLoopbackHost(host string) bool {
	return host == "localhost" || strings.HasPrefix(host, "127.") || host == "::1"
}

// protocolOf returns the URL scheme, used for the protocol filter in
// FilterEndpoints.
func protocolOf(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	return u.Scheme
}

// FilterEndpoints implements spec.md §4.7 step 1: prefer loopback
// endpoints when the target is this machine, apply the protocol filter,
// and collapse to a single loopback endpoint when one survives (a local
// connection is always preferred over a remote one).
func FilterEndpoints(endpoints []string, sameMachine bool, protocol string) []string {
	byProtocol := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		if protocol == "" || protocolOf(ep) == protocol {
			byProtocol = append(byProtocol, ep)
		}
	}
	if len(byProtocol) == 0 {
		byProtocol = endpoints
	}

	var loopback, rest []string
	for _, ep := range byProtocol {
		u, err := url.Parse(ep)
		if err == nil && isLoopbackHost(hostOnly(u.Host)) {
			loopback = append(loopback, ep)
		} else {
			rest = append(rest, ep)
		}
	}

	if sameMachine {
		if len(loopback) > 0 {
			return loopback[:1]
		}
		return byProtocol
	}

	if len(loopback) > 0 {
		return loopback[:1]
	}
	return rest
}

func hostOnly(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return strings.Trim(hostport, "[]")
}
