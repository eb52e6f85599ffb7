package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	comms "github.com/nats-io/nats.go"
)

const natsLogPrefix = "transport:nats_socket"

// natsSocket implements Socket over a NATS connection for nats://
// endpoints. Each logical connection is a pair of subjects: the peer's
// inbound subject (what Send publishes to) and this socket's own
// inbound subject (what it subscribes to for Receive). The endpoint URL
// is `nats://<nats-server-host>/<peer-subject>`.
type natsSocket struct {
	endpoint    string
	peerSubject string
	ownSubject  string
	conn        *comms.Conn

	mu      sync.Mutex
	sub     *comms.Subscription
	closed  chan struct{}
	once    sync.Once
	inbound chan []byte
}

// NewNATSSocket builds an unconnected Socket for a nats:// endpoint.
// conn is a shared, already-connected *nats.Conn (the Session owns one
// connection per NATS server and hands it to every natsSocket it
// creates, mirroring the teacher's single shared `*comms.Conn` per
// process rather than one TCP connection per peer).
func NewNATSSocket(endpoint string, conn *comms.Conn, ownSubject string) (Socket, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("transport: nats socket: parse endpoint %q: %w", endpoint, err)
	}
	peerSubject := strings.TrimPrefix(u.Path, "/")
	if peerSubject == "" {
		return nil, fmt.Errorf("transport: nats socket: endpoint %q has no subject path", endpoint)
	}
	return &natsSocket{
		endpoint:    endpoint,
		peerSubject: peerSubject,
		ownSubject:  ownSubject,
		conn:        conn,
		closed:      make(chan struct{}),
		inbound:     make(chan []byte, 64),
	}, nil
}

func (s *natsSocket) Endpoint() string { return s.endpoint }

func (s *natsSocket) Connect(ctx context.Context) error {
	if !s.conn.IsConnected() {
		return fmt.Errorf("transport: nats socket: underlying connection to %s is not connected", s.conn.ConnectedUrl())
	}

	msgCh := make(chan *comms.Msg, 64)
	sub, err := s.conn.ChanSubscribe(s.ownSubject, msgCh)
	if err != nil {
		return fmt.Errorf("transport: nats socket: subscribe %s: %w", s.ownSubject, err)
	}

	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	go s.pump(msgCh)
	return nil
}

// pump forwards delivered messages onto Receive(), and is the sole
// sender into s.inbound — so it is also the sole closer, mirroring
// tcpSocket.readLoop's defer close(s.inbound). Close never closes
// s.inbound itself, which is what keeps a late subscription delivery
// from ever racing a send against an already-closed channel.
func (s *natsSocket) pump(msgCh chan *comms.Msg) {
	defer close(s.inbound)
	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			select {
			case s.inbound <- msg.Data:
			case <-s.closed:
				return
			}
		case <-s.closed:
			return
		}
	}
}

func (s *natsSocket) Send(ctx context.Context, frame []byte) error {
	if err := s.conn.Publish(s.peerSubject, frame); err != nil {
		return fmt.Errorf("transport: nats socket: publish to %s: %w", s.peerSubject, err)
	}
	return nil
}

func (s *natsSocket) Close() error {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()

	// Unsubscribe before signaling closed, so no further messages land
	// in msgCh once pump starts tearing down; pump (the sole sender)
	// closes s.inbound itself on its way out.
	var unsubErr error
	if sub != nil {
		unsubErr = sub.Unsubscribe()
	}
	s.once.Do(func() { close(s.closed) })
	return unsubErr
}

func (s *natsSocket) Closed() <-chan struct{} { return s.closed }

func (s *natsSocket) Receive() <-chan []byte { return s.inbound }
