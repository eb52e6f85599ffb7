// Package directory implements the ServiceDirectory spec.md §4.6
// describes: the process-lived registry mapping service names to their
// owning socket and endpoints, with two-phase (pending → connected)
// registration so a name never resolves to a half-constructed service.
package directory

import (
	"fmt"
	"sync"

	"github.com/morezero/meshrt/pkg/anyvalue"
	"github.com/morezero/meshrt/pkg/signalhub"
	"github.com/morezero/meshrt/pkg/wire"
)

// SocketID is an opaque, comparable handle identifying the socket that
// registered a service — whatever pkg/transport's concrete Socket
// implementation uses as its identity (a pointer is typical). The
// directory never dereferences it; it only compares and indexes by it.
type SocketID = any

// Directory is the ServiceDirectory: one instance per process, reached
// at service id 1, object id 1.
type Directory struct {
	machineID string

	// A single mutex serializes every operation. spec.md §4.7 specifies a
	// "recursive mutex" so a method may call another method of the same
	// directory while holding the lock; Go has no recursive mutex, so
	// instead no exported method here ever calls another exported method
	// while mu is held — OnSocketDisconnected collects the affected ids
	// under a short lock, then calls UnregisterService per id with the
	// lock released (documented in DESIGN.md).
	mu         sync.Mutex
	nextID     uint32
	pending    map[uint32]wire.ServiceInfo
	connected  map[uint32]wire.ServiceInfo
	nameToID   map[string]uint32
	bySocket   map[SocketID]map[uint32]struct{}
	socketOf   map[uint32]SocketID

	added   *signalhub.Hub
	removed *signalhub.Hub
}

// New creates an empty Directory for the given stable machine id.
func New(machineID string) *Directory {
	return &Directory{
		machineID: machineID,
		nextID:    2, // 1 is reserved for the directory's own main object/service
		pending:   make(map[uint32]wire.ServiceInfo),
		connected: make(map[uint32]wire.ServiceInfo),
		nameToID:  make(map[string]uint32),
		bySocket:  make(map[SocketID]map[uint32]struct{}),
		socketOf:  make(map[uint32]SocketID),
		added:     signalhub.New("(Is)"),
		removed:   signalhub.New("(Is)"),
	}
}

// Added is the serviceAdded(id, name) signal hub, silent for hidden
// services.
func (d *Directory) Added() *signalhub.Hub { return d.added }

// Removed is the serviceRemoved(id, name) signal hub, silent for hidden
// services.
func (d *Directory) Removed() *signalhub.Hub { return d.removed }

// MachineID returns this process's stable machine identifier.
func (d *Directory) MachineID() string { return d.machineID }

// RegisterService allocates a service-id and records info as pending,
// indexed by the socket that registered it. Fails DuplicateName if the
// name is already taken by any pending or connected service.
func (d *Directory) RegisterService(info wire.ServiceInfo, socket SocketID) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.nameToID[info.Name]; exists {
		return 0, wire.NewError(wire.CodeDuplicateName, "directory: service name %q already registered", info.Name)
	}

	id := d.nextID
	d.nextID++
	info.ServiceID = id

	d.pending[id] = info
	d.nameToID[info.Name] = id
	d.socketOf[id] = socket
	if d.bySocket[socket] == nil {
		d.bySocket[socket] = make(map[uint32]struct{})
	}
	d.bySocket[socket][id] = struct{}{}
	return id, nil
}

// ServiceReady moves a pending service to connected and emits
// serviceAdded unless the service is hidden.
func (d *Directory) ServiceReady(id uint32) error {
	d.mu.Lock()
	info, ok := d.pending[id]
	if !ok {
		d.mu.Unlock()
		return wire.NewError(wire.CodeNotPending, "directory: service %d is not pending", id)
	}
	delete(d.pending, id)
	d.connected[id] = info
	d.mu.Unlock()

	if !info.Hidden() {
		d.added.Trigger([]anyvalue.Value{
			anyvalue.NewInt(int64(id), 32, false),
			anyvalue.NewString(info.Name),
		}, signalhub.Auto)
	}
	return nil
}

// UnregisterService removes a service from whichever set holds it and
// emits serviceRemoved unless hidden. Fails NotFound if the id is
// unknown.
func (d *Directory) UnregisterService(id uint32) error {
	d.mu.Lock()
	info, ok := d.pending[id]
	if ok {
		delete(d.pending, id)
	} else {
		info, ok = d.connected[id]
		if ok {
			delete(d.connected, id)
		}
	}
	if !ok {
		d.mu.Unlock()
		return wire.NewError(wire.CodeNotFound, "directory: service %d not found", id)
	}
	delete(d.nameToID, info.Name)
	socket := d.socketOf[id]
	delete(d.socketOf, id)
	if ids, present := d.bySocket[socket]; present {
		delete(ids, id)
		if len(ids) == 0 {
			delete(d.bySocket, socket)
		}
	}
	d.mu.Unlock()

	if !info.Hidden() {
		d.removed.Trigger([]anyvalue.Value{
			anyvalue.NewInt(int64(id), 32, false),
			anyvalue.NewString(info.Name),
		}, signalhub.Auto)
	}
	return nil
}

// Services returns every currently connected ServiceInfo.
func (d *Directory) Services() []wire.ServiceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]wire.ServiceInfo, 0, len(d.connected))
	for _, info := range d.connected {
		out = append(out, info)
	}
	return out
}

// Service resolves a connected service by name.
func (d *Directory) Service(name string) (wire.ServiceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.nameToID[name]
	if !ok {
		return wire.ServiceInfo{}, wire.NewError(wire.CodeNotFound, "directory: service %q not found", name)
	}
	info, ok := d.connected[id]
	if !ok {
		return wire.ServiceInfo{}, wire.NewError(wire.CodeNotFound, "directory: service %q not found", name)
	}
	return info, nil
}

// UpdateServiceInfo replaces the endpoints of the service with info's
// id, and of every other service sharing its session id (a client
// reconnecting on a new set of endpoints updates all its services at
// once).
func (d *Directory) UpdateServiceInfo(info wire.ServiceInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	found := false
	for id, existing := range d.connected {
		if id == info.ServiceID || (info.SessionID != "" && existing.SessionID == info.SessionID) {
			existing.Endpoints = info.Endpoints
			d.connected[id] = existing
			found = true
		}
	}
	for id, existing := range d.pending {
		if id == info.ServiceID || (info.SessionID != "" && existing.SessionID == info.SessionID) {
			existing.Endpoints = info.Endpoints
			d.pending[id] = existing
			found = true
		}
	}
	if !found {
		return wire.NewError(wire.CodeNotFound, "directory: service %d not found", info.ServiceID)
	}
	return nil
}

// SocketOfService returns the socket that registered the given service,
// or nil if unknown. Internal use only (spec.md §4.6).
func (d *Directory) SocketOfService(id uint32) SocketID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.socketOf[id]
}

// OnSocketDisconnected unregisters every service owned by socket.
// Failures are logged and swallowed, never propagated, matching
// spec.md §4.6's idempotent cleanup contract.
func (d *Directory) OnSocketDisconnected(socket SocketID, onError func(id uint32, err error)) {
	d.mu.Lock()
	ids, ok := d.bySocket[socket]
	owned := make([]uint32, 0, len(ids))
	if ok {
		for id := range ids {
			owned = append(owned, id)
		}
	}
	d.mu.Unlock()

	for _, id := range owned {
		if err := d.UnregisterService(id); err != nil && onError != nil {
			onError(id, fmt.Errorf("directory: cleanup after socket disconnect: %w", err))
		}
	}
}
