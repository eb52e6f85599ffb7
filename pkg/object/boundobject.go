package object

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/morezero/meshrt/pkg/anyvalue"
	"github.com/morezero/meshrt/pkg/future"
	"github.com/morezero/meshrt/pkg/transport"
	"github.com/morezero/meshrt/pkg/wire"
)

const boundObjectLogPrefix = "object:boundobject"

// inFlightEntry is one cancellable in-flight call, per spec.md §4.4's
// per-socket `message-id -> (future, cancel-count)` map.
type inFlightEntry struct {
	outer       future.Future[anyvalue.Value]
	inner       future.Future[anyvalue.Value]
	cancelCount int32
}

// signalLink is one subscribed signal, per spec.md §4.4's per-socket
// `remote-link-id -> (local-link-id, signal-id)` map.
type signalLink struct {
	localLinkID uint64
	signalID    uint32
}

// BoundObject is the dispatch surface for one (service, object) pair: it
// decodes incoming Call/Post/Cancel messages, resolves them against an
// ObjectImpl's methods/signals/properties, invokes them with the
// object's configured DispatchMode, and turns the eventual result into a
// Reply/Error/Canceled message.
type BoundObject struct {
	serviceID, objectID uint32
	impl                ObjectImpl
	mode                DispatchMode
	exec                Poster // nil => Direct regardless of mode
	registry            anyvalue.Registry

	send func(sock transport.Socket, m wire.Message)

	// onTerminate is called once, by the self-interface terminate()
	// method, so the ObjectHost that owns this BoundObject can drop it
	// from its table.
	onTerminate func()

	// mu guards only the shared maps below — not the whole dispatch,
	// per spec.md §9's redesign flag eliminating the currentSocket
	// thread-local and its accompanying dispatch-wide mutex.
	mu            sync.Mutex
	inFlight      map[transport.Socket]map[uint32]*inFlightEntry
	subscriptions map[transport.Socket]map[uint64]signalLink

	stats      Stats
	traceLevel atomic.Int32
	logLevel   atomic.Int32
}

// Config bundles BoundObject's construction parameters.
type Config struct {
	ServiceID, ObjectID uint32
	Impl                ObjectImpl
	Mode                DispatchMode
	Exec                Poster
	Registry            anyvalue.Registry
	Send                func(sock transport.Socket, m wire.Message)
	OnTerminate         func()
}

// New creates a BoundObject.
func New(cfg Config) *BoundObject {
	return &BoundObject{
		serviceID:     cfg.ServiceID,
		objectID:      cfg.ObjectID,
		impl:          cfg.Impl,
		mode:          cfg.Mode,
		exec:          cfg.Exec,
		registry:      cfg.Registry,
		send:          cfg.Send,
		onTerminate:   cfg.OnTerminate,
		inFlight:      make(map[transport.Socket]map[uint32]*inFlightEntry),
		subscriptions: make(map[transport.Socket]map[uint64]signalLink),
	}
}

// ObjectID returns the object id this BoundObject answers to.
func (b *BoundObject) ObjectID() uint32 { return b.objectID }

// Dispatch routes one inbound message to the Call/Post/Cancel handler.
func (b *BoundObject) Dispatch(cc CallContext) {
	switch cc.Message.Type {
	case wire.TypeCall:
		b.handleCall(cc)
	case wire.TypePost:
		b.handlePost(cc)
	case wire.TypeCancel:
		b.handleCancel(cc)
	default:
		slog.Warn(fmt.Sprintf("%s - unexpected message type for dispatch", boundObjectLogPrefix), "type", cc.Message.Type)
	}
}

// resolve looks up the target method/handler for a message's method id,
// across the self-interface, manageable, and user ranges.
func (b *BoundObject) resolve(methodID uint32) (params, ret string, handler MethodFunc, err error) {
	switch {
	case methodID < SelfInterfaceCount:
		return b.resolveSelfInterface(methodID)
	case methodID < FirstUserMethodID:
		return b.resolveManageable(methodID)
	default:
		def, ok := b.impl.Methods()[methodID]
		if !ok {
			return "", "", nil, wire.NewError(wire.CodeNoSuchMethod, "object: no such method %d on object (%d,%d)", methodID, b.serviceID, b.objectID)
		}
		return def.Params, def.Return, def.Handler, nil
	}
}

// decodeArgs decodes m's payload into the raw per-argument values, plus
// the caller-requested return signature override if FlagReturnType is
// set (empty string if not).
func decodeArgs(m wire.Message, paramsSig string) (rawArgs []anyvalue.Value, requestedReturn string, err error) {
	dynamic := m.Flags.Has(wire.FlagDynamicPayload)

	var argsValue anyvalue.Value
	if dynamic {
		var outer anyvalue.Value
		outer, _, err = anyvalue.DecodeDynamic(m.Payload)
		if err != nil {
			return nil, "", err
		}
		if m.Flags.Has(wire.FlagReturnType) {
			if len(outer.Items) != 2 {
				return nil, "", fmt.Errorf("object: dynamic return-type payload must be a 2-tuple, got %s", outer)
			}
			argsValue, requestedReturn = outer.Items[0], outer.Items[1].StringVal
		} else {
			argsValue = outer
		}
	} else {
		decodeSig := paramsSig
		if m.Flags.Has(wire.FlagReturnType) {
			decodeSig = "(" + paramsSig + string(anyvalue.TagString) + ")"
		}
		var decoded anyvalue.Value
		decoded, _, err = anyvalue.Decode(m.Payload, decodeSig)
		if err != nil {
			return nil, "", err
		}
		if m.Flags.Has(wire.FlagReturnType) {
			argsValue, requestedReturn = decoded.Items[0], decoded.Items[1].StringVal
		} else {
			argsValue = decoded
		}
	}

	arity, err := anyvalue.Arity(paramsSig)
	if err != nil {
		return nil, "", err
	}
	if arity <= 1 {
		return []anyvalue.Value{argsValue}, requestedReturn, nil
	}
	if argsValue.Kind != anyvalue.KindTuple || len(argsValue.Items) != arity {
		return nil, "", wire.NewError(wire.CodeArityMismatch, "object: expected %d arguments, got %s", arity, argsValue)
	}
	return argsValue.Items, requestedReturn, nil
}

// convertArgs converts each raw decoded argument to the method's
// declared parameter type, per spec.md §4.4: "on conversion failure, try
// one level of [...] dereference before surfacing ArgumentConversion."
// AnyValue has no pointer case, so the dereference is reinterpreted as
// unwrapping a single-element List/Tuple and retrying against its sole
// element — the closest Go-native analogue of "the value was boxed one
// level deeper than expected."
func (b *BoundObject) convertArgs(raw []anyvalue.Value, paramsSig string) ([]anyvalue.Value, error) {
	elemSigs, err := anyvalue.Elements(paramsSig)
	if err != nil {
		return nil, err
	}
	if len(elemSigs) != len(raw) {
		return nil, wire.NewError(wire.CodeArityMismatch, "object: expected %d arguments, got %d", len(elemSigs), len(raw))
	}
	out := make([]anyvalue.Value, len(raw))
	for i, r := range raw {
		conv, cerr := b.registry.Convert(r, elemSigs[i])
		if cerr != nil && (r.Kind == anyvalue.KindList || r.Kind == anyvalue.KindTuple) && len(r.Items) == 1 {
			conv, cerr = b.registry.Convert(r.Items[0], elemSigs[i])
		}
		if cerr != nil {
			return nil, wire.NewError(wire.CodeArgumentConversion, "object: argument %d: cannot convert %s to %q: %v", i, r, elemSigs[i], cerr)
		}
		out[i] = conv
	}
	return out, nil
}

func (b *BoundObject) handleCall(cc CallContext) {
	m := cc.Message
	params, ret, handler, err := b.resolve(m.Address.MethodID)
	if err != nil {
		b.sendError(cc, err)
		return
	}

	raw, requestedReturn, err := decodeArgs(m, params)
	if err != nil {
		b.sendError(cc, wire.NewError(wire.CodeArgumentConversion, "object: decode payload: %v", err))
		return
	}
	args, err := b.convertArgs(raw, params)
	if err != nil {
		b.sendError(cc, err)
		return
	}

	started := time.Now()
	result := b.invoke(cc, handler, args)

	entry := &inFlightEntry{outer: result.Value, inner: result.Inner}
	b.putInFlight(cc.Socket, m.Address.MessageID, entry)

	result.Value.OnFinish(func(status future.Status, v anyvalue.Value, ferr error) {
		b.stats.record(time.Since(started))
		b.removeInFlight(cc.Socket, m.Address.MessageID)
		b.resolveCancelCount(entry)

		switch status {
		case future.Canceled:
			b.replyCanceled(cc)
		case future.FinishedWithError:
			b.replyError(cc, ferr)
		default:
			b.replyValue(cc, v, requestedReturn, ret)
		}
	})
}

func (b *BoundObject) handlePost(cc CallContext) {
	m := cc.Message
	params, _, handler, err := b.resolve(m.Address.MethodID)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - post to unresolvable method dropped", boundObjectLogPrefix), "method", m.Address.MethodID, "error", err)
		return
	}
	raw, _, err := decodeArgs(m, params)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - post payload decode failed, dropped", boundObjectLogPrefix), "error", err)
		return
	}
	args, err := b.convertArgs(raw, params)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - post argument conversion failed, dropped", boundObjectLogPrefix), "error", err)
		return
	}

	// The self-interface reads the explicit CallContext synchronously;
	// spec.md §4.4 requires Post to the self-interface be direct
	// regardless of the object's configured mode.
	if m.Address.MethodID < SelfInterfaceCount {
		handler(cc, args)
		return
	}

	started := time.Now()
	result := b.invoke(cc, handler, args)
	result.Value.OnFinish(func(status future.Status, _ anyvalue.Value, ferr error) {
		b.stats.record(time.Since(started))
		if status == future.FinishedWithError {
			slog.Debug(fmt.Sprintf("%s - posted call failed", boundObjectLogPrefix), "method", m.Address.MethodID, "error", ferr)
		}
	})
}

func (b *BoundObject) handleCancel(cc CallContext) {
	target, err := cc.Message.CancelTarget()
	if err != nil {
		return
	}
	b.mu.Lock()
	var entry *inFlightEntry
	if bySock, ok := b.inFlight[cc.Socket]; ok {
		entry = bySock[target]
	}
	b.mu.Unlock()
	if entry == nil {
		return
	}
	atomic.AddInt32(&entry.cancelCount, 1)
	entry.outer.Cancel()
}

// invoke runs handler according to b.mode: Direct calls it inline on the
// dispatching goroutine, so a Direct handler's Result.Inner (if any)
// passes straight through for the §4.5 nested-future cancel protocol.
// Queued posts the call to b.exec and bridges its outcome back onto a
// freshly-created future, so the calling goroutine never blocks waiting
// for the handler; a Queued handler's own Inner future, if it ever
// returned one, is not currently bridged through that indirection (none
// of this module's registered handlers produce one — see DESIGN.md).
func (b *BoundObject) invoke(cc CallContext, handler MethodFunc, args []anyvalue.Value) Result {
	if b.mode == Direct || b.exec == nil {
		return b.callGuarded(handler, cc, args)
	}

	p, fut := future.New[anyvalue.Value]()
	b.exec.Post(func() {
		result := b.callGuarded(handler, cc, args)
		result.Value.OnFinish(func(status future.Status, v anyvalue.Value, err error) {
			switch status {
			case future.FinishedWithValue:
				p.SetValue(v)
			case future.FinishedWithError:
				p.SetError(err)
			case future.Canceled:
				p.SetCanceled()
			}
		})
	})
	return Result{Value: fut}
}

func (b *BoundObject) callGuarded(handler MethodFunc, cc CallContext, args []anyvalue.Value) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{Value: future.Failed[anyvalue.Value](wire.NewError(wire.CodeUncaught, "object: method panicked: %v", r))}
		}
	}()
	return handler(cc, args)
}

func (b *BoundObject) resolveCancelCount(entry *inFlightEntry) {
	if atomic.LoadInt32(&entry.cancelCount) <= 0 {
		return
	}
	atomic.AddInt32(&entry.cancelCount, -1)
	if !entry.inner.IsZero() {
		entry.inner.Cancel()
	}
}

func (b *BoundObject) putInFlight(sock transport.Socket, messageID uint32, entry *inFlightEntry) {
	b.mu.Lock()
	if b.inFlight[sock] == nil {
		b.inFlight[sock] = make(map[uint32]*inFlightEntry)
	}
	b.inFlight[sock][messageID] = entry
	b.mu.Unlock()
}

func (b *BoundObject) removeInFlight(sock transport.Socket, messageID uint32) {
	b.mu.Lock()
	if bySock, ok := b.inFlight[sock]; ok {
		delete(bySock, messageID)
		if len(bySock) == 0 {
			delete(b.inFlight, sock)
		}
	}
	b.mu.Unlock()
}

// encodeResult picks the narrowest signature the value can be encoded
// against: the caller-requested override (if the peer advertises
// MessageFlags and conversion succeeds), else the method's declared
// return signature, else a self-describing dynamic encoding — spec.md
// §4.4's fallback chain.
func (b *BoundObject) encodeResult(v anyvalue.Value, requestedReturn, declaredReturn string, caps wire.Capabilities) (sig string, payload []byte, flags wire.Flags, err error) {
	var candidates []string
	if requestedReturn != "" && caps.Supports(wire.CapabilityMessageFlags) {
		candidates = append(candidates, requestedReturn)
	}
	if declaredReturn != "" {
		candidates = append(candidates, declaredReturn)
	}

	for _, cand := range candidates {
		conv, cerr := b.registry.Convert(v, cand)
		if cerr != nil {
			continue
		}
		if cand == anyvalue.DynamicSignature {
			if payload, err = anyvalue.EncodeDynamic(conv); err == nil {
				return cand, payload, wire.FlagDynamicPayload, nil
			}
			continue
		}
		if payload, err = anyvalue.Encode(conv); err == nil {
			return cand, payload, 0, nil
		}
	}

	payload, err = anyvalue.EncodeDynamic(v)
	if err != nil {
		return "", nil, 0, err
	}
	return anyvalue.DynamicSignature, payload, wire.FlagDynamicPayload, nil
}

func (b *BoundObject) replyValue(cc CallContext, v anyvalue.Value, requestedReturn, declaredReturn string) {
	sig, payload, flags, err := b.encodeResult(v, requestedReturn, declaredReturn, cc.Capabilities)
	if err != nil {
		b.sendError(cc, wire.NewError(wire.CodeUncaught, "object: encode reply: %v", err))
		return
	}
	reply := cc.Message.Reply(sig, payload)
	reply.Flags = flags
	b.send(cc.Socket, reply)
}

func (b *BoundObject) replyError(cc CallContext, err error) {
	b.sendError(cc, err)
}

func (b *BoundObject) replyCanceled(cc CallContext) {
	if cc.Capabilities.Supports(wire.CapabilityRemoteCancelableCalls) {
		b.send(cc.Socket, cc.Message.CanceledReply())
		return
	}
	b.send(cc.Socket, cc.Message.ErrorReply(wire.CanceledText))
}

func (b *BoundObject) sendError(cc CallContext, err error) {
	if cc.Message.Type != wire.TypeCall {
		slog.Debug(fmt.Sprintf("%s - post dispatch failed, dropped per spec.md §4.4 exception-swallowing policy", boundObjectLogPrefix), "error", err)
		return
	}
	b.send(cc.Socket, cc.Message.ErrorReply(err.Error()))
}

// onSocketDisconnected drops every in-flight entry and disconnects every
// signal subscription this BoundObject recorded for sock, per spec.md
// §4.4/§8 scenario 6. Idempotent: calling it twice for the same socket
// is a no-op the second time.
func (b *BoundObject) onSocketDisconnected(sock transport.Socket) {
	b.mu.Lock()
	inFlight := b.inFlight[sock]
	delete(b.inFlight, sock)
	links := b.subscriptions[sock]
	delete(b.subscriptions, sock)
	b.mu.Unlock()

	for _, entry := range inFlight {
		entry.outer.Cancel()
	}
	hubs := b.impl.Signals()
	for _, link := range links {
		if hub, ok := hubs[link.signalID]; ok {
			hub.Disconnect(link.localLinkID, false)
		}
	}
}
