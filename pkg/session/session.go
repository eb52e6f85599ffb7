// Package session implements the process-lifetime facade spec.md's
// architecture assumes but never names as a single type: one Session per
// process owns the listening endpoints, the local ServiceDirectory, the
// SocketCache used to reach remote machines, and the ObjectHost that
// dispatches every inbound message. Grounded on internal/server/server.go's
// Run(): load config, connect/listen, construct the domain objects, serve
// until a shutdown signal, then tear down in dependency order.
package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	comms "github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"
	"github.com/nats-io/nuid"

	"github.com/morezero/meshrt/pkg/anyvalue"
	"github.com/morezero/meshrt/pkg/directory"
	"github.com/morezero/meshrt/pkg/executor"
	"github.com/morezero/meshrt/pkg/future"
	"github.com/morezero/meshrt/pkg/object"
	"github.com/morezero/meshrt/pkg/transport"
	"github.com/morezero/meshrt/pkg/wire"
)

const logPrefix = "session:session"

// Config bundles a Session's construction parameters, sourced from
// internal/config.Config at cmd/meshd's entrypoint.
type Config struct {
	ServiceName            string
	ListenEndpoints        []string
	ExecutorWorkers        int
	ConnectTimeout         time.Duration
	CompressThresholdBytes int
	TLSConfig              *tls.Config
}

// Session is one process's runtime: the ServiceDirectory at (service 1,
// object 1), the ObjectHost dispatching every hosted object, the
// SocketCache racing connections to remote machines, and the listeners
// accepting inbound peers.
type Session struct {
	cfg       Config
	id        string // nuid session id
	identity  nkeys.KeyPair
	machineID string

	codec *wire.Codec
	exec  *executor.Executor
	cache *transport.Cache
	dir   *directory.Directory
	host  *object.Host

	mu        sync.Mutex
	listeners []transport.Listener
	endpoints []string
	sockets   map[transport.Socket]struct{}
	natsConns map[string]*comms.Conn
	closed    bool

	conns sync.WaitGroup
}

// New mints this process's nkeys identity keypair and nuid session id,
// derives its machine id, and wires the ServiceDirectory at its reserved
// address. It does not yet bind any listen endpoint — call Serve for that.
func New(cfg Config) (*Session, error) {
	if cfg.ExecutorWorkers <= 0 {
		cfg.ExecutorWorkers = 8
	}

	identity, err := nkeys.CreateUser()
	if err != nil {
		return nil, fmt.Errorf("%s - mint identity keypair: %w", logPrefix, err)
	}

	machineID, err := transport.MachineID()
	if err != nil {
		return nil, fmt.Errorf("%s - derive machine id: %w", logPrefix, err)
	}

	codec, err := wire.NewCodec(cfg.CompressThresholdBytes)
	if err != nil {
		return nil, fmt.Errorf("%s - build codec: %w", logPrefix, err)
	}

	s := &Session{
		cfg:       cfg,
		id:        nuid.Next(),
		identity:  identity,
		machineID: machineID,
		codec:     codec,
		exec:      executor.New(cfg.ExecutorWorkers),
		dir:       directory.New(machineID),
		host:      object.NewHost(^uint32(0), codec),
		sockets:   make(map[transport.Socket]struct{}),
		natsConns: make(map[string]*comms.Conn),
	}
	s.cache = transport.NewCache(machineID, cfg.ConnectTimeout, s.dialFactory)

	s.host.NewBoundObject(object.Config{
		ServiceID: 1,
		ObjectID:  1,
		Impl:      directory.NewObjectImpl(s.dir),
		Mode:      object.Direct,
		Registry:  anyvalue.NewStaticRegistry(),
	})

	if pub, perr := identity.PublicKey(); perr == nil {
		slog.Info(fmt.Sprintf("%s - session created", logPrefix), "session_id", s.id, "machine_id", machineID, "identity", pub)
	}
	return s, nil
}

// ID returns this process's nuid session identifier.
func (s *Session) ID() string { return s.id }

// MachineID returns this process's stable per-host identifier.
func (s *Session) MachineID() string { return s.machineID }

// PublicKey returns this session's nkeys public key. New logs it as the
// session's identity; no transport sends it to peers.
func (s *Session) PublicKey() (string, error) { return s.identity.PublicKey() }

// Directory returns the local ServiceDirectory.
func (s *Session) Directory() *directory.Directory { return s.dir }

// Host returns the ObjectHost dispatching this session's hosted objects.
func (s *Session) Host() *object.Host { return s.host }

// Cache returns the SocketCache used to reach remote machines.
func (s *Session) Cache() *transport.Cache { return s.cache }

// Endpoints returns the endpoints this session is currently listening on,
// with any requested port 0 resolved to the bound one.
func (s *Session) Endpoints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.endpoints))
	copy(out, s.endpoints)
	return out
}

// dialFactory builds an unconnected Socket for an outbound endpoint,
// dispatching on URL scheme exactly as SPEC_FULL.md §7 describes.
func (s *Session) dialFactory(endpoint string) (transport.Socket, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%s - parse endpoint %q: %w", logPrefix, endpoint, err)
	}
	switch u.Scheme {
	case "tcp":
		return transport.NewTCPSocket(endpoint, nil), nil
	case "tcps":
		return transport.NewTCPSocket(endpoint, s.cfg.TLSConfig), nil
	case "nats":
		conn, err := s.natsConnection(u.Host)
		if err != nil {
			return nil, err
		}
		return transport.NewNATSSocket(endpoint, conn, nuid.Next())
	default:
		return nil, fmt.Errorf("%s - unsupported endpoint scheme %q", logPrefix, u.Scheme)
	}
}

// natsConnection returns (dialing and caching if needed) the shared NATS
// connection to host, mirroring the teacher's one-connection-per-process
// pattern rather than one per peer.
func (s *Session) natsConnection(host string) (*comms.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn, ok := s.natsConns[host]; ok {
		return conn, nil
	}
	conn, err := comms.Connect("nats://" + host)
	if err != nil {
		return nil, fmt.Errorf("%s - connect to nats server %s: %w", logPrefix, host, err)
	}
	s.natsConns[host] = conn
	return conn, nil
}

// Socket returns a Future resolving to a connected Socket for info, via
// the SocketCache's endpoint race.
func (s *Session) Socket(info wire.ServiceInfo, protocol string) future.Future[transport.Socket] {
	return s.cache.Socket(info, protocol)
}

// RegisterService publishes impl as a new locally-hosted service: it
// allocates a service id from the ServiceDirectory, builds a BoundObject
// at (id, 1) on this session's ObjectHost, and marks the service ready so
// serviceAdded fires once construction is complete (spec.md §4.6's
// two-phase registration).
//
// The Directory records this Session itself (a stable, comparable value)
// as the registering socket, since a locally-hosted service is owned by
// the process, not by any one peer connection — it is never torn down by
// Host's per-socket disconnect cleanup.
func (s *Session) RegisterService(name string, impl object.ObjectImpl, mode object.DispatchMode) (*object.BoundObject, error) {
	info := wire.ServiceInfo{
		Name:      name,
		MachineID: s.machineID,
		ProcessID: os.Getpid(),
		SessionID: s.id,
		Endpoints: s.Endpoints(),
	}
	id, err := s.dir.RegisterService(info, s)
	if err != nil {
		return nil, err
	}

	bo := s.host.NewBoundObject(object.Config{
		ServiceID: id,
		ObjectID:  1,
		Impl:      impl,
		Mode:      mode,
		Exec:      s.exec,
		Registry:  anyvalue.NewStaticRegistry(),
		OnTerminate: func() {
			s.dir.UnregisterService(id)
		},
	})

	if err := s.dir.ServiceReady(id); err != nil {
		return nil, err
	}
	return bo, nil
}

// Serve binds every configured listen endpoint, accepts connections until
// ctx is done or a SIGINT/SIGTERM arrives, then closes the session.
func (s *Session) Serve(ctx context.Context) error {
	for _, ep := range s.cfg.ListenEndpoints {
		ln, err := s.listen(ep)
		if err != nil {
			s.Close()
			return err
		}
		s.mu.Lock()
		s.listeners = append(s.listeners, ln)
		s.endpoints = append(s.endpoints, ln.Addr())
		s.mu.Unlock()
		go s.acceptLoop(ln)
		slog.Info(fmt.Sprintf("%s - listening", logPrefix), "endpoint", ln.Addr())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		slog.Info(fmt.Sprintf("%s - received signal %s, shutting down", logPrefix, sig))
	case <-ctx.Done():
		slog.Info(fmt.Sprintf("%s - context canceled, shutting down", logPrefix))
	}
	s.Close()
	return nil
}

func (s *Session) listen(endpoint string) (transport.Listener, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%s - parse listen endpoint %q: %w", logPrefix, endpoint, err)
	}
	switch u.Scheme {
	case "tcp", "tcps":
		return transport.NewTCPListener(endpoint, s.cfg.TLSConfig)
	default:
		return nil, fmt.Errorf("%s - unsupported listen scheme %q", logPrefix, u.Scheme)
	}
}

func (s *Session) acceptLoop(ln transport.Listener) {
	for {
		sock, err := ln.Accept()
		if err != nil {
			return
		}
		s.host.SetPeerCapabilities(sock, wire.DefaultCapabilities())
		s.trackSocket(sock)
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			defer s.untrackSocket(sock)
			s.host.Serve(sock)
		}()
	}
}

func (s *Session) trackSocket(sock transport.Socket) {
	s.mu.Lock()
	s.sockets[sock] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) untrackSocket(sock transport.Socket) {
	s.mu.Lock()
	delete(s.sockets, sock)
	s.mu.Unlock()
}

// Close stops accepting new connections, disconnects every open socket,
// drains in-flight dispatch, and tears down the SocketCache and executor —
// in the same outer-to-inner order internal/server/server.go's shutdown
// sequence uses. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	listeners := s.listeners
	s.listeners = nil
	sockets := make([]transport.Socket, 0, len(s.sockets))
	for sock := range s.sockets {
		sockets = append(sockets, sock)
	}
	natsConns := s.natsConns
	s.natsConns = make(map[string]*comms.Conn)
	s.mu.Unlock()

	for _, ln := range listeners {
		ln.Close()
	}
	for _, sock := range sockets {
		sock.Close()
	}
	s.conns.Wait()

	s.cache.Close()
	for _, conn := range natsConns {
		conn.Close()
	}
	s.exec.Shutdown()

	slog.Info(fmt.Sprintf("%s - shutdown complete", logPrefix), "session_id", s.id)
}
