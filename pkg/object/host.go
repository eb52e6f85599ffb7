package object

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/meshrt/pkg/transport"
	"github.com/morezero/meshrt/pkg/wire"
)

const hostLogPrefix = "object:host"

// Host is one level of spec.md §4.4's ObjectHost hierarchy: it owns the
// BoundObjects registered at or below selfObjectID and forwards anything
// addressed above that range to a child Host. A Session runs exactly one
// root Host per local process (selfObjectID ^uint32(0), so nothing is
// forwarded); sub-hosts exist only where
// a service genuinely nests object sub-trees.
type Host struct {
	selfObjectID uint32
	codec        *wire.Codec

	mu       sync.RWMutex
	objects  map[uint32]*BoundObject
	children map[uint32]*Host // keyed by the child's own selfObjectID
	caps     map[transport.Socket]wire.Capabilities
}

// NewHost creates a Host rooted at selfObjectID, using codec to frame and
// deframe raw socket bytes.
func NewHost(selfObjectID uint32, codec *wire.Codec) *Host {
	return &Host{
		selfObjectID: selfObjectID,
		codec:        codec,
		objects:      make(map[uint32]*BoundObject),
		children:     make(map[uint32]*Host),
		caps:         make(map[transport.Socket]wire.Capabilities),
	}
}

// Register adds bo to this Host's table, keyed by its object id.
func (h *Host) Register(bo *BoundObject) {
	h.mu.Lock()
	h.objects[bo.ObjectID()] = bo
	h.mu.Unlock()
}

// NewBoundObject builds a BoundObject wired to this Host: outgoing
// messages are framed and sent through h.send, and the self-interface's
// terminate() method deregisters it from this Host's table. Both wirings
// are what a standalone object.New(Config{...}) caller would otherwise
// have to supply by hand.
func (h *Host) NewBoundObject(cfg Config) *BoundObject {
	cfg.Send = h.send
	bo := New(cfg)
	objectID := cfg.ObjectID
	userOnTerminate := cfg.OnTerminate
	bo.onTerminate = func() {
		if userOnTerminate != nil {
			userOnTerminate()
		}
		h.Unregister(objectID)
	}
	h.Register(bo)
	return bo
}

// Unregister removes the BoundObject at objectID, if any.
func (h *Host) Unregister(objectID uint32) {
	h.mu.Lock()
	delete(h.objects, objectID)
	h.mu.Unlock()
}

// AddChild attaches a sub-Host, reached for a message whose object id is
// above this Host's selfObjectID and equal to the child's selfObjectID.
func (h *Host) AddChild(child *Host) {
	h.mu.Lock()
	h.children[child.selfObjectID] = child
	h.mu.Unlock()
}

// SetPeerCapabilities records the capability set a socket's peer
// negotiated at connect time, consulted by BoundObject when deciding
// whether a caller-requested return signature or RemoteCancelableCalls
// applies (spec.md §6).
func (h *Host) SetPeerCapabilities(sock transport.Socket, caps wire.Capabilities) {
	h.mu.Lock()
	h.caps[sock] = caps
	h.mu.Unlock()
}

// Serve reads frames from sock until it disconnects, dispatching each to
// the right BoundObject and cleaning up in-flight calls and signal
// subscriptions on exit. It returns once sock's Receive channel closes.
func (h *Host) Serve(sock transport.Socket) {
	for frame := range sock.Receive() {
		h.HandleFrame(sock, frame)
	}
	h.socketDisconnected(sock)
}

// HandleFrame decodes one raw frame and routes it. Exported so a caller
// driving its own read loop (e.g. a test, or a transport that multiplexes
// several Hosts over one socket) can feed frames in directly.
func (h *Host) HandleFrame(sock transport.Socket, frame []byte) {
	m, err := h.codec.Decode(frame)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - malformed frame dropped", hostLogPrefix), "error", err)
		return
	}
	h.Dispatch(sock, m)
}

// Dispatch routes a decoded message: version-checks it, then either
// forwards it down the hierarchy (object id above this Host's range) or
// resolves it against a locally registered BoundObject.
func (h *Host) Dispatch(sock transport.Socket, m wire.Message) {
	if reply, ok := wire.CheckVersion(m); !ok {
		h.send(sock, reply)
		return
	}

	if m.Address.ObjectID > h.selfObjectID {
		h.mu.RLock()
		child, ok := h.children[m.Address.ObjectID]
		h.mu.RUnlock()
		if !ok {
			h.replyNotFound(sock, m)
			return
		}
		child.Dispatch(sock, m)
		return
	}

	h.mu.RLock()
	bo, ok := h.objects[m.Address.ObjectID]
	caps := h.caps[sock]
	h.mu.RUnlock()
	if !ok {
		h.replyNotFound(sock, m)
		return
	}

	bo.Dispatch(CallContext{Socket: sock, Message: m, Capabilities: caps})
}

func (h *Host) replyNotFound(sock transport.Socket, m wire.Message) {
	if m.Type != wire.TypeCall {
		return
	}
	h.send(sock, m.ErrorReply(wire.NewError(wire.CodeNotFound, "object: no object %d", m.Address.ObjectID).Error()))
}

func (h *Host) send(sock transport.Socket, m wire.Message) {
	frame, err := h.codec.Encode(m)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - failed to encode outgoing frame, dropped", hostLogPrefix), "error", err)
		return
	}
	if err := sock.Send(context.Background(), frame); err != nil {
		slog.Debug(fmt.Sprintf("%s - send failed", hostLogPrefix), "error", err)
	}
}

// socketDisconnected propagates cleanup to every BoundObject in this
// Host's subtree, then forgets the socket's negotiated capabilities.
func (h *Host) socketDisconnected(sock transport.Socket) {
	h.mu.Lock()
	objects := make([]*BoundObject, 0, len(h.objects))
	for _, bo := range h.objects {
		objects = append(objects, bo)
	}
	children := make([]*Host, 0, len(h.children))
	for _, c := range h.children {
		children = append(children, c)
	}
	delete(h.caps, sock)
	h.mu.Unlock()

	for _, bo := range objects {
		bo.onSocketDisconnected(sock)
	}
	for _, c := range children {
		c.socketDisconnected(sock)
	}
}
