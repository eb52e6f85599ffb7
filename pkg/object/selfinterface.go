package object

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/morezero/meshrt/pkg/anyvalue"
	"github.com/morezero/meshrt/pkg/future"
	"github.com/morezero/meshrt/pkg/signalhub"
	"github.com/morezero/meshrt/pkg/transport"
	"github.com/morezero/meshrt/pkg/wire"
)

// selfInterfaceParams gives each self-interface method's declared
// parameter signature, used both to decode its payload and to drive
// convertArgs. Return signatures are in selfInterfaceReturn: terminate and
// setProperty return void, the three event methods return a bool ("C").
var selfInterfaceParams = map[uint32]string{
	MethodRegisterEvent:             "(IIL)",
	MethodUnregisterEvent:           "(IIL)",
	MethodTerminate:                 "I",
	MethodMetaObject:                "I",
	MethodProperty:                  "(II)",
	MethodSetProperty:               "(II" + anyvalue.DynamicSignature + ")",
	MethodProperties:                "I",
	MethodRegisterEventWithSignature: "(IIL" + "s)",
}

var selfInterfaceReturn = map[uint32]string{
	MethodRegisterEvent:             "C",
	MethodUnregisterEvent:           "C",
	MethodTerminate:                 "v",
	MethodMetaObject:                "s",
	MethodProperty:                  anyvalue.DynamicSignature,
	MethodSetProperty:               "v",
	MethodProperties:                "[I]",
	MethodRegisterEventWithSignature: "C",
}

func (b *BoundObject) resolveSelfInterface(methodID uint32) (params, ret string, handler MethodFunc, err error) {
	params, ret = selfInterfaceParams[methodID], selfInterfaceReturn[methodID]
	switch methodID {
	case MethodRegisterEvent:
		return params, ret, b.selfRegisterEvent, nil
	case MethodUnregisterEvent:
		return params, ret, b.selfUnregisterEvent, nil
	case MethodTerminate:
		return params, ret, b.selfTerminate, nil
	case MethodMetaObject:
		return params, ret, b.selfMetaObject, nil
	case MethodProperty:
		return params, ret, b.selfProperty, nil
	case MethodSetProperty:
		return params, ret, b.selfSetProperty, nil
	case MethodProperties:
		return params, ret, b.selfProperties, nil
	case MethodRegisterEventWithSignature:
		return params, ret, b.selfRegisterEventWithSignature, nil
	default:
		return "", "", nil, wire.NewError(wire.CodeNoSuchMethod, "object: no such self-interface method %d", methodID)
	}
}

func (b *BoundObject) resolveManageable(methodID uint32) (params, ret string, handler MethodFunc, err error) {
	switch methodID {
	case MethodStats:
		return "v", "(LLLLL)", b.selfStats, nil
	case MethodPing:
		return "v", "v", b.selfPing, nil
	case MethodSetTraceLevel:
		return "i", "v", b.selfSetTraceLevel, nil
	case MethodSetLogLevel:
		return "i", "v", b.selfSetLogLevel, nil
	default:
		return "", "", nil, wire.NewError(wire.CodeNoSuchMethod, "object: no such manageable method %d", methodID)
	}
}

func boolValue(ok bool) anyvalue.Value {
	if ok {
		return anyvalue.NewInt(1, 8, false)
	}
	return anyvalue.NewInt(0, 8, false)
}

// selfRegisterEvent implements spec.md §4.4 step 4: subscribe a bridge
// function to the named signal that, on every emission, encodes an
// Event message and sends it on cc.Socket, and record the
// remote<->local link-id mapping under that socket for later
// unregisterEvent / disconnect cleanup.
func (b *BoundObject) selfRegisterEvent(cc CallContext, args []anyvalue.Value) Result {
	return Immediate(future.Resolved(b.registerEvent(cc, args, "")))
}

func (b *BoundObject) selfRegisterEventWithSignature(cc CallContext, args []anyvalue.Value) Result {
	return Immediate(future.Resolved(b.registerEvent(cc, args, args[3].StringVal)))
}

func (b *BoundObject) registerEvent(cc CallContext, args []anyvalue.Value, requestedSig string) anyvalue.Value {
	objectID := uint32(args[0].IntVal)
	signalID := uint32(args[1].IntVal)
	remoteLinkID := uint64(args[2].IntVal)
	if objectID != b.objectID {
		return boolValue(false)
	}

	hub, ok := b.impl.Signals()[signalID]
	if !ok {
		return boolValue(false)
	}
	sig := hub.Signature
	if requestedSig != "" {
		sig = requestedSig
	}

	sub := signalhub.Subscriber{
		Signature: sig,
		CallType:  signalhub.Direct,
		Handler: func(params []anyvalue.Value) {
			b.emitEvent(cc.Socket, signalID, sig, params)
		},
		IsAlive: func() bool {
			select {
			case <-cc.Socket.Closed():
				return false
			default:
				return true
			}
		},
	}
	localLinkID, err := hub.Connect(sub)
	if err != nil {
		return boolValue(false)
	}

	b.mu.Lock()
	if b.subscriptions[cc.Socket] == nil {
		b.subscriptions[cc.Socket] = make(map[uint64]signalLink)
	}
	b.subscriptions[cc.Socket][remoteLinkID] = signalLink{localLinkID: localLinkID, signalID: signalID}
	b.mu.Unlock()
	return boolValue(true)
}

// emitEvent encodes a signal emission as an Event message and sends it
// on sock, addressed by this object's (service, object) pair and the
// signal's method-id slot.
func (b *BoundObject) emitEvent(sock transport.Socket, signalID uint32, sig string, params []anyvalue.Value) {
	payload, err := anyvalue.Encode(anyvalue.NewTuple(params...))
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - failed to encode event payload, dropped", boundObjectLogPrefix), "signal", signalID, "error", err)
		return
	}
	addr := wire.Address{ServiceID: b.serviceID, ObjectID: b.objectID, MethodID: signalID}
	b.send(sock, wire.EventMessage(wire.CurrentProtocolVersion, addr, sig, payload))
}

// selfUnregisterEvent reverses selfRegisterEvent.
func (b *BoundObject) selfUnregisterEvent(cc CallContext, args []anyvalue.Value) Result {
	if uint32(args[0].IntVal) != b.objectID {
		return Immediate(future.Resolved(boolValue(false)))
	}
	signalID := uint32(args[1].IntVal)
	remoteLinkID := uint64(args[2].IntVal)

	b.mu.Lock()
	var link signalLink
	var found bool
	if m, ok := b.subscriptions[cc.Socket]; ok {
		link, found = m[remoteLinkID]
		if found {
			delete(m, remoteLinkID)
		}
	}
	b.mu.Unlock()

	if !found || link.signalID != signalID {
		return Immediate(future.Resolved(boolValue(false)))
	}
	if hub, ok := b.impl.Signals()[signalID]; ok {
		hub.Disconnect(link.localLinkID, false)
	}
	return Immediate(future.Resolved(boolValue(true)))
}

func (b *BoundObject) selfTerminate(cc CallContext, args []anyvalue.Value) Result {
	if uint32(args[0].IntVal) != b.objectID {
		return Immediate(future.Failed[anyvalue.Value](wire.NewError(wire.CodeNotFound, "object: no such object %d", args[0].IntVal)))
	}
	if b.onTerminate != nil {
		b.onTerminate()
	}
	return Immediate(future.Resolved(anyvalue.Void))
}

func (b *BoundObject) selfMetaObject(cc CallContext, args []anyvalue.Value) Result {
	if uint32(args[0].IntVal) != b.objectID {
		return Immediate(future.Failed[anyvalue.Value](wire.NewError(wire.CodeNotFound, "object: no such object %d", args[0].IntVal)))
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "object(%d,%d)\n", b.serviceID, b.objectID)
	for id, def := range b.impl.Methods() {
		fmt.Fprintf(&sb, "  method %d: (%s) -> %s\n", id, def.Params, def.Return)
	}
	for id, hub := range b.impl.Signals() {
		fmt.Fprintf(&sb, "  signal %d: (%s)\n", id, hub.Signature)
	}
	for id, p := range b.impl.Properties() {
		fmt.Fprintf(&sb, "  property %d: %s\n", id, p.Signature)
	}
	return Immediate(future.Resolved(anyvalue.NewString(sb.String())))
}

func (b *BoundObject) selfProperty(cc CallContext, args []anyvalue.Value) Result {
	if uint32(args[0].IntVal) != b.objectID {
		return Immediate(future.Failed[anyvalue.Value](wire.NewError(wire.CodeNotFound, "object: no such object %d", args[0].IntVal)))
	}
	propID := uint32(args[1].IntVal)
	p, ok := b.impl.Properties()[propID]
	if !ok {
		return Immediate(future.Failed[anyvalue.Value](wire.NewError(wire.CodeNotFound, "object: no such property %d", propID)))
	}
	return Immediate(future.Resolved(p.Get()))
}

func (b *BoundObject) selfSetProperty(cc CallContext, args []anyvalue.Value) Result {
	if uint32(args[0].IntVal) != b.objectID {
		return Immediate(future.Failed[anyvalue.Value](wire.NewError(wire.CodeNotFound, "object: no such object %d", args[0].IntVal)))
	}
	propID := uint32(args[1].IntVal)
	p, ok := b.impl.Properties()[propID]
	if !ok {
		return Immediate(future.Failed[anyvalue.Value](wire.NewError(wire.CodeNotFound, "object: no such property %d", propID)))
	}
	if p.Set == nil {
		return Immediate(future.Failed[anyvalue.Value](wire.NewError(wire.CodeUncaught, "object: property %d is read-only", propID)))
	}
	v, err := b.registry.Convert(args[2], p.Signature)
	if err != nil {
		return Immediate(future.Failed[anyvalue.Value](wire.NewError(wire.CodeArgumentConversion, "object: setProperty %d: %v", propID, err)))
	}
	if err := p.Set(v); err != nil {
		return Immediate(future.Failed[anyvalue.Value](err))
	}
	if p.Changed != nil {
		p.Changed.Trigger([]anyvalue.Value{v}, signalhub.Auto)
	}
	return Immediate(future.Resolved(anyvalue.Void))
}

func (b *BoundObject) selfProperties(cc CallContext, args []anyvalue.Value) Result {
	if uint32(args[0].IntVal) != b.objectID {
		return Immediate(future.Failed[anyvalue.Value](wire.NewError(wire.CodeNotFound, "object: no such object %d", args[0].IntVal)))
	}
	props := b.impl.Properties()
	ids := make([]anyvalue.Value, 0, len(props))
	for id := range props {
		ids = append(ids, anyvalue.NewInt(int64(id), 32, false))
	}
	return Immediate(future.Resolved(anyvalue.NewList(ids...)))
}

func (b *BoundObject) selfStats(cc CallContext, args []anyvalue.Value) Result {
	snap := b.stats.snapshot()
	v := anyvalue.NewTuple(
		anyvalue.NewInt(snap.Count, 64, false),
		anyvalue.NewInt(snap.TotalNs, 64, false),
		anyvalue.NewInt(snap.MinNs, 64, false),
		anyvalue.NewInt(snap.MaxNs, 64, false),
		anyvalue.NewInt(snap.AvgNs, 64, false),
	)
	return Immediate(future.Resolved(v))
}

func (b *BoundObject) selfPing(cc CallContext, args []anyvalue.Value) Result {
	return Immediate(future.Resolved(anyvalue.Void))
}

func (b *BoundObject) selfSetTraceLevel(cc CallContext, args []anyvalue.Value) Result {
	b.traceLevel.Store(int32(args[0].IntVal))
	return Immediate(future.Resolved(anyvalue.Void))
}

func (b *BoundObject) selfSetLogLevel(cc CallContext, args []anyvalue.Value) Result {
	b.logLevel.Store(int32(args[0].IntVal))
	return Immediate(future.Resolved(anyvalue.Void))
}
