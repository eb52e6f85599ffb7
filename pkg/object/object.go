// Package object implements the dispatch layer spec.md §4.4/§4.5
// describes: BoundObject decodes an inbound wire.Message, resolves it
// against a registered object's methods/signals/properties, invokes the
// handler with the object's configured call type, and adapts the result
// back into a Reply/Error/Canceled message. ObjectHost owns the
// collection of BoundObjects a Session hosts and routes inbound messages
// to the right one by object id.
//
// Grounded on pkg/dispatcher/dispatcher.go's method-name switch dispatch,
// generalized from a fixed set of named methods to signature-resolved
// method/signal/property dispatch against pkg/anyvalue.
package object

import (
	"github.com/morezero/meshrt/pkg/anyvalue"
	"github.com/morezero/meshrt/pkg/future"
	"github.com/morezero/meshrt/pkg/signalhub"
	"github.com/morezero/meshrt/pkg/transport"
	"github.com/morezero/meshrt/pkg/wire"
)

// Reserved method-id ranges, per spec.md §6 and SPEC_FULL.md §5.2. The
// exact values are implementation-defined but MUST be consistent across
// peers speaking this protocol.
const (
	// SelfInterfaceCount is K: method ids below this are the
	// BoundObject self-interface.
	SelfInterfaceCount uint32 = 8
	// ManageableCount is N: method ids in [K, K+N) are "manageable"
	// operations (stats, tracing) on the user object.
	ManageableCount uint32 = 4
	// FirstUserMethodID is K+N: the first id available to a
	// registered object's own methods.
	FirstUserMethodID uint32 = SelfInterfaceCount + ManageableCount
)

// Self-interface method ids, in the fixed order spec.md §6 gives.
const (
	MethodRegisterEvent uint32 = iota
	MethodUnregisterEvent
	MethodTerminate
	MethodMetaObject
	MethodProperty
	MethodSetProperty
	MethodProperties
	MethodRegisterEventWithSignature
)

// Manageable method ids, SPEC_FULL.md §4.2/§5.2's supplement to spec.md's
// unspecified [K, K+N) range.
const (
	MethodStats uint32 = SelfInterfaceCount + iota
	MethodPing
	MethodSetTraceLevel
	MethodSetLogLevel
)

// DispatchMode selects whether a method/signal handler runs inline on
// the dispatching goroutine (Direct) or posted to the object's strand
// (Queued), per spec.md §4.4/§5.
type DispatchMode int

const (
	Direct DispatchMode = iota
	Queued
)

// Poster is the minimal posting surface Queued dispatch requires;
// satisfied by *strand.Strand and *executor.Executor.
type Poster interface {
	Post(func())
}

// CallContext carries the per-call arguments self-interface methods
// need. It replaces the original's `currentSocket` thread-local slot
// per spec.md §9's redesign flag: the socket a call arrived on is
// threaded explicitly instead of stashed in BoundObject state, which
// also removes the need for a dispatch-wide mutex.
type CallContext struct {
	Socket       transport.Socket
	Message      wire.Message
	Capabilities wire.Capabilities
}

// Result is what a MethodFunc returns: the future the caller actually
// waits on (Value), and optionally an Inner future representing async
// work the handler kicked off but does not itself own the cancellation
// of (spec.md §4.5's two-level cancel-count protocol). Most handlers
// only need Value; Inner's zero value means "nothing further to
// cancel."
type Result struct {
	Value future.Future[anyvalue.Value]
	Inner future.Future[anyvalue.Value]
}

// Immediate wraps a plain future.Future[anyvalue.Value] as a Result with
// no inner future — the common case for a handler that doesn't itself
// wrap a second async operation.
func Immediate(fut future.Future[anyvalue.Value]) Result {
	return Result{Value: fut}
}

// MethodFunc is a registered method/self-interface handler.
type MethodFunc func(cc CallContext, args []anyvalue.Value) Result

// MethodDef is one method's declared signature and handler.
type MethodDef struct {
	Params  string
	Return  string
	Handler MethodFunc
}

// PropertyDef is one property: a value cell plus the signal that fires
// on every successful setProperty (SPEC_FULL.md §4.1's Properties
// supplement).
type PropertyDef struct {
	Signature string
	Get       func() anyvalue.Value
	Set       func(anyvalue.Value) error // nil for a read-only property
	Changed   *signalhub.Hub             // fires (value) on every successful Set; may be nil
}

// ObjectImpl is the object a BoundObject wraps: whatever a registered
// service's implementation looks like, reduced to the three things the
// dispatch layer needs to resolve a call against. This is the
// "registered object" collaborator spec.md §1 treats as given.
type ObjectImpl interface {
	Methods() map[uint32]MethodDef
	Signals() map[uint32]*signalhub.Hub
	Properties() map[uint32]PropertyDef
}
