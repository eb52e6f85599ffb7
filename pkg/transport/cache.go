package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/morezero/meshrt/pkg/future"
	"github.com/morezero/meshrt/pkg/wire"
)

const cacheLogPrefix = "transport:cache"

// failedEndpointTTL bounds how long a recently-failed endpoint is
// skipped by Socket's race, so a transient failure doesn't black out
// an endpoint forever.
const failedEndpointTTL = 30 * time.Second

// reconnectRate bounds how often a new race is started for a machine
// whose endpoints have all just failed, so a persistently unreachable
// peer doesn't get hammered with connection attempts by every caller
// asking for it.
const reconnectRate = 1.0 / 2 // one attempt per 2s
const reconnectBurst = 1

// slot is one (machineID, url) cache entry.
type slot struct {
	socket Socket
	stop   chan struct{}
}

// attempt tracks an in-flight race across a machine's filtered
// endpoints, per spec.md §4.7 steps 3–5. cancel stops every not-yet-
// finished dial once a winner is found ("context-cancel losers").
type attempt struct {
	promise    future.Promise[Socket]
	fut        future.Future[Socket]
	cancel     context.CancelFunc
	remaining  int
	successful bool
}

// Cache is the SocketCache: races connection attempts across a
// machine's advertised endpoints and publishes the winner to every
// concurrent waiter.
type Cache struct {
	selfMachineID string
	connectTO     time.Duration
	newSocket     Factory

	mu        sync.Mutex
	slots     map[string]map[string]*slot // machineID -> url -> slot
	attempts  map[string]*attempt         // machineID -> in-flight race
	reconnect map[string]*rate.Limiter    // machineID -> reconnect throttle
	dying     bool

	failedEndpoints *lru.Cache // endpoint url -> time.Time of last failure
}

// NewCache creates a SocketCache. selfMachineID is compared against a
// ServiceInfo's MachineID to decide loopback preference; connectTimeout
// bounds each individual endpoint dial.
func NewCache(selfMachineID string, connectTimeout time.Duration, factory Factory) *Cache {
	failed, err := lru.New(256)
	if err != nil {
		// Only returns an error for a non-positive size, which 256 never is.
		panic(err)
	}
	return &Cache{
		selfMachineID:   selfMachineID,
		connectTO:       connectTimeout,
		newSocket:       factory,
		slots:           make(map[string]map[string]*slot),
		attempts:        make(map[string]*attempt),
		reconnect:       make(map[string]*rate.Limiter),
		failedEndpoints: failed,
	}
}

// reconnectLimiter returns (creating if needed) the per-machine
// reconnect throttle. Caller must hold c.mu.
func (c *Cache) reconnectLimiter(machineID string) *rate.Limiter {
	l, ok := c.reconnect[machineID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(reconnectRate), reconnectBurst)
		c.reconnect[machineID] = l
	}
	return l
}

// recentlyFailed reports whether endpoint failed within failedEndpointTTL.
func (c *Cache) recentlyFailed(endpoint string) bool {
	v, ok := c.failedEndpoints.Get(endpoint)
	if !ok {
		return false
	}
	return time.Since(v.(time.Time)) < failedEndpointTTL
}

// Socket returns a Future resolving to a connected Socket for info,
// racing across its filtered endpoint set for the given protocol.
func (c *Cache) Socket(info wire.ServiceInfo, protocol string) future.Future[Socket] {
	filtered := FilterEndpoints(info.Endpoints, info.MachineID == c.selfMachineID, protocol)
	if len(filtered) == 0 {
		return future.Failed[Socket](wire.NewError(wire.CodeConnectFailure, "transport: no endpoints for machine %s after filtering", info.MachineID))
	}

	c.mu.Lock()
	if c.dying {
		c.mu.Unlock()
		return future.Failed[Socket](wire.NewError(wire.CodeConnectFailure, "transport: cache is closed"))
	}

	// Cache hit: an existing slot for any filtered endpoint that is not
	// mid-failure.
	if byURL, ok := c.slots[info.MachineID]; ok {
		for _, ep := range filtered {
			if s, present := byURL[ep]; present {
				c.mu.Unlock()
				return future.Resolved[Socket](s.socket)
			}
		}
	}

	// Join an in-flight race for this machine if one exists.
	if a, ok := c.attempts[info.MachineID]; ok {
		c.mu.Unlock()
		return a.fut
	}

	// Skip endpoints that failed within the TTL; if that empties the
	// set, fall back to the full filtered list rather than refuse to
	// ever retry a machine whose every endpoint once failed.
	candidates := make([]string, 0, len(filtered))
	for _, ep := range filtered {
		if !c.recentlyFailed(ep) {
			candidates = append(candidates, ep)
		}
	}
	if len(candidates) == 0 {
		candidates = filtered
	}

	if !c.reconnectLimiter(info.MachineID).Allow() {
		c.mu.Unlock()
		return future.Failed[Socket](wire.NewError(wire.CodeConnectFailure, "transport: backing off reconnect attempts to machine %s", info.MachineID))
	}

	raceCtx, cancel := context.WithCancel(context.Background())
	p, fut := future.New[Socket]()
	c.attempts[info.MachineID] = &attempt{promise: p, fut: fut, cancel: cancel, remaining: len(candidates)}
	c.mu.Unlock()

	// Race every filtered endpoint concurrently; the first to connect
	// cancels raceCtx, which aborts every endpoint still mid-dial.
	g, gctx := errgroup.WithContext(raceCtx)
	for _, ep := range candidates {
		ep := ep
		g.Go(func() error {
			c.dial(gctx, info.MachineID, ep)
			return nil
		})
	}
	go g.Wait()
	return fut
}

func (c *Cache) dial(ctx context.Context, machineID, endpoint string) {
	sock, err := c.newSocket(endpoint)
	if err != nil {
		c.onFailure(machineID, endpoint, err)
		return
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if c.connectTO > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, c.connectTO)
		defer cancel()
	}

	if err := sock.Connect(dialCtx); err != nil {
		c.onFailure(machineID, endpoint, err)
		return
	}
	c.onSuccess(machineID, endpoint, sock)
}

func (c *Cache) onSuccess(machineID, endpoint string, sock Socket) {
	c.mu.Lock()
	a, ok := c.attempts[machineID]
	if !ok || c.dying {
		c.mu.Unlock()
		sock.Close()
		return
	}
	if a.successful {
		c.mu.Unlock()
		sock.Close()
		return
	}
	a.successful = true
	delete(c.attempts, machineID)
	c.failedEndpoints.Remove(endpoint)

	st := &slot{socket: sock, stop: make(chan struct{})}
	if c.slots[machineID] == nil {
		c.slots[machineID] = make(map[string]*slot)
	}
	c.slots[machineID][endpoint] = st
	c.mu.Unlock()

	a.promise.SetValue(sock)
	a.cancel()
	go c.monitor(machineID, endpoint, st)
}

func (c *Cache) onFailure(machineID, endpoint string, err error) {
	slog.Debug(fmt.Sprintf("%s - endpoint dial failed", cacheLogPrefix), "machine", machineID, "endpoint", endpoint, "error", err)

	c.mu.Lock()
	c.failedEndpoints.Add(endpoint, time.Now())
	a, ok := c.attempts[machineID]
	if !ok {
		c.mu.Unlock()
		return
	}
	a.remaining--
	done := !a.successful && a.remaining <= 0
	if done {
		delete(c.attempts, machineID)
	}
	c.mu.Unlock()

	if done {
		a.cancel()
		a.promise.SetError(wire.NewError(wire.CodeConnectFailure, "Failed to connect to machine %s: all endpoints unavailable", machineID))
	}
}

// monitor evicts a slot once its socket disconnects.
func (c *Cache) monitor(machineID, endpoint string, st *slot) {
	select {
	case <-st.socket.Closed():
		c.evict(machineID, endpoint, st)
	case <-st.stop:
	}
}

func (c *Cache) evict(machineID, endpoint string, st *slot) {
	c.mu.Lock()
	if c.dying {
		c.mu.Unlock()
		return
	}
	if byURL, ok := c.slots[machineID]; ok {
		if byURL[endpoint] == st {
			delete(byURL, endpoint)
			if len(byURL) == 0 {
				delete(c.slots, machineID)
			}
		}
	}
	c.mu.Unlock()
}

// Insert publishes a pre-existing connected socket into the cache,
// fulfilling any in-flight race waiting for that machine.
func (c *Cache) Insert(machineID, endpoint string, sock Socket) {
	c.mu.Lock()
	if c.dying {
		c.mu.Unlock()
		sock.Close()
		return
	}
	a, hasAttempt := c.attempts[machineID]
	if hasAttempt {
		delete(c.attempts, machineID)
	}
	st := &slot{socket: sock, stop: make(chan struct{})}
	if c.slots[machineID] == nil {
		c.slots[machineID] = make(map[string]*slot)
	}
	c.slots[machineID][endpoint] = st
	c.mu.Unlock()

	if hasAttempt {
		a.promise.SetValue(sock)
	}
	go c.monitor(machineID, endpoint, st)
}

// Close tears down every cached socket. Per spec.md §4.7 step 7: set the
// dying flag and snapshot the map under the lock, release the lock, then
// for each slot unsubscribe (stop the monitor) before disconnecting, so
// no monitor goroutine is left to run an eviction for a socket Close
// itself disconnected.
func (c *Cache) Close() {
	c.mu.Lock()
	c.dying = true
	slots := c.slots
	c.slots = make(map[string]map[string]*slot)
	attempts := c.attempts
	c.attempts = make(map[string]*attempt)
	c.mu.Unlock()

	for _, byURL := range slots {
		for _, st := range byURL {
			close(st.stop)
			st.socket.Close()
		}
	}
	for _, a := range attempts {
		a.cancel()
		a.promise.SetError(wire.NewError(wire.CodeConnectFailure, "transport: session closed"))
	}
}
