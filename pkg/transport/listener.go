package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
)

// Listener accepts inbound connections for one of a Session's configured
// listen endpoints (spec.md §6: "tcp://host:port, tcps://host:port"). An
// accepted Socket is already connected — Connect is never called on it.
type Listener interface {
	// Accept blocks until a peer connects or the listener closes, in
	// which case it returns an error.
	Accept() (Socket, error)
	// Addr is the endpoint actually bound, with any requested port 0
	// resolved to the one the OS picked.
	Addr() string
	Close() error
}

// NewTCPListener binds endpoint ("tcp://host:port" or "tcps://host:port")
// for accepting inbound connections.
func NewTCPListener(endpoint string, tlsConf *tls.Config) (Listener, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("transport: tcp listener: parse endpoint %q: %w", endpoint, err)
	}

	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("transport: tcp listener: listen %s: %w", u.Host, err)
	}

	if u.Scheme == "tcps" {
		if tlsConf == nil {
			ln.Close()
			return nil, fmt.Errorf("transport: tcp listener: tcps:// endpoint %s requires a TLS config", endpoint)
		}
		ln = tls.NewListener(ln, tlsConf)
	}

	return &tcpListener{ln: ln, scheme: u.Scheme}, nil
}

type tcpListener struct {
	ln     net.Listener
	scheme string
}

func (l *tcpListener) Addr() string {
	return fmt.Sprintf("%s://%s", l.scheme, l.ln.Addr().String())
}

func (l *tcpListener) Close() error { return l.ln.Close() }

func (l *tcpListener) Accept() (Socket, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s://%s", l.scheme, conn.RemoteAddr().String())
	return newAcceptedTCPSocket(conn, endpoint), nil
}
