package transport

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"
)

// tcpSocket implements Socket over a plain or TLS-wrapped TCP
// connection for the tcp:// and tcps:// endpoint schemes. Frames are
// length-prefixed (a 4-byte big-endian length followed by the payload)
// so Send's boundaries survive the stream.
type tcpSocket struct {
	endpoint string
	tlsConf  *tls.Config

	mu      sync.Mutex
	conn    net.Conn
	closed  chan struct{}
	once    sync.Once
	inbound chan []byte

	// writeMu serializes Send: reply OnFinish callbacks and emitEvent's
	// signal-bridge writes both funnel into Send from arbitrary
	// goroutines, and a length-prefix/frame pair must reach the wire as
	// one unit or concurrent writers interleave their bytes.
	writeMu sync.Mutex
}

// NewTCPSocket builds an unconnected Socket for a tcp:// or tcps://
// endpoint. tlsConf is used (and must be non-nil) for tcps://.
func NewTCPSocket(endpoint string, tlsConf *tls.Config) Socket {
	return &tcpSocket{
		endpoint: endpoint,
		tlsConf:  tlsConf,
		closed:   make(chan struct{}),
		inbound:  make(chan []byte, 64),
	}
}

// newAcceptedTCPSocket wraps a connection a Listener has already accepted.
// There is no dial step on this side, so the read loop starts immediately
// and Connect is never called (the socket is already connected).
func newAcceptedTCPSocket(conn net.Conn, endpoint string) Socket {
	s := &tcpSocket{
		endpoint: endpoint,
		conn:     conn,
		closed:   make(chan struct{}),
		inbound:  make(chan []byte, 64),
	}
	go s.readLoop(conn)
	return s
}

func (s *tcpSocket) Endpoint() string { return s.endpoint }

func (s *tcpSocket) Connect(ctx context.Context) error {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return fmt.Errorf("transport: tcp socket: parse endpoint %q: %w", s.endpoint, err)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", u.Host)
	if err != nil {
		return fmt.Errorf("transport: tcp socket: dial %s: %w", u.Host, err)
	}

	if u.Scheme == "tcps" {
		if s.tlsConf == nil {
			conn.Close()
			return fmt.Errorf("transport: tcp socket: tcps:// endpoint %s requires a TLS config", s.endpoint)
		}
		tlsConn := tls.Client(conn, s.tlsConf)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return fmt.Errorf("transport: tcp socket: tls handshake with %s: %w", u.Host, err)
		}
		conn = tlsConn
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	go s.readLoop(conn)
	return nil
}

// readLoop splits the stream back into frames and forwards each to
// Receive(); pkg/object's ObjectHost is what actually decodes them into
// wire.Messages.
func (s *tcpSocket) readLoop(conn net.Conn) {
	defer close(s.inbound)
	var lenBuf [4]byte
	for {
		if err := readFull(conn, lenBuf[:]); err != nil {
			s.markClosed()
			return
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		frame := make([]byte, n)
		if err := readFull(conn, frame); err != nil {
			s.markClosed()
			return
		}
		select {
		case s.inbound <- frame:
		case <-s.closed:
			return
		}
	}
}

func readFull(conn net.Conn, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		if err != nil {
			return err
		}
		total += n
	}
	return nil
}

func (s *tcpSocket) Send(ctx context.Context, frame []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transport: tcp socket: not connected")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
		defer conn.SetWriteDeadline(time.Time{})
	}

	// One Write call for the length prefix and frame together, so a
	// concurrent Send on the same socket can never interleave its bytes
	// between them even if writeMu were ever dropped.
	buf := make([]byte, 4+len(frame))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(frame)))
	copy(buf[4:], frame)
	if _, err := conn.Write(buf); err != nil {
		return fmt.Errorf("transport: tcp socket: write frame: %w", err)
	}
	return nil
}

func (s *tcpSocket) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	s.markClosed()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (s *tcpSocket) markClosed() {
	s.once.Do(func() { close(s.closed) })
}

func (s *tcpSocket) Closed() <-chan struct{} { return s.closed }

func (s *tcpSocket) Receive() <-chan []byte { return s.inbound }
