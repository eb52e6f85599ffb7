// Package wire implements the framed Message envelope spec.md §3/§6
// describes, plus its binary header codec. The actual bytes-on-the-wire
// transport (connect/send/close) is pkg/transport's concern; wire only
// knows how to turn a Message into bytes and back.
package wire

import "fmt"

// Type identifies what kind of frame a Message carries.
type Type uint8

const (
	TypeCall Type = iota + 1
	TypeReply
	TypeError
	TypePost
	TypeEvent
	TypeCanceled
	TypeCancel
)

func (t Type) String() string {
	switch t {
	case TypeCall:
		return "Call"
	case TypeReply:
		return "Reply"
	case TypeError:
		return "Error"
	case TypePost:
		return "Post"
	case TypeEvent:
		return "Event"
	case TypeCanceled:
		return "Canceled"
	case TypeCancel:
		return "Cancel"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Flags is the per-message bitfield spec.md §3/§6 names.
type Flags uint32

const (
	// FlagDynamicPayload indicates the payload's expected signature is
	// replaced by the dynamic-any signature at the dispatch boundary.
	FlagDynamicPayload Flags = 1 << iota
	// FlagReturnType indicates the payload is wrapped in a (expected,
	// caller-requested-return-signature) tuple.
	FlagReturnType
	// FlagCompressed indicates the payload bytes are zstd-compressed
	// (a SPEC_FULL.md domain-stack addition; see pkg/wire/codec.go).
	FlagCompressed
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Address identifies the sender/receiver coordinates of a Message:
// service-id, object-id, method-id (or signal-id for Event messages), and
// the message-id that ties a Call to its eventual Reply/Error/Canceled.
type Address struct {
	ServiceID uint32
	ObjectID  uint32
	MethodID  uint32
	MessageID uint32
}

// Message is the wire-protocol frame: spec.md §3's invariant is that every
// Reply/Error/Canceled carries the same MessageID as its originating Call.
type Message struct {
	Version   uint8
	Type      Type
	Address   Address
	Flags     Flags
	Signature string
	Payload   []byte
}

// NewCall builds a Call message.
func NewCall(version uint8, addr Address, signature string, payload []byte, flags Flags) Message {
	return Message{Version: version, Type: TypeCall, Address: addr, Flags: flags, Signature: signature, Payload: payload}
}

// Reply builds a Reply message carrying this Call's message-id.
func (m Message) Reply(signature string, payload []byte) Message {
	return Message{Version: m.Version, Type: TypeReply, Address: m.Address, Signature: signature, Payload: payload}
}

// ErrorReply builds an Error message carrying this Call's message-id and an
// ASCII error string payload, per spec.md §4.5.
func (m Message) ErrorReply(text string) Message {
	return Message{Version: m.Version, Type: TypeError, Address: m.Address, Signature: "s", Payload: []byte(text)}
}

// CanceledReply builds a Canceled message carrying this Call's message-id.
func (m Message) CanceledReply() Message {
	return Message{Version: m.Version, Type: TypeCanceled, Address: m.Address}
}

// EventMessage builds an Event message for a signal emission delivered to a
// subscriber, addressed by the object/signal id the subscriber registered
// against. The message-id is whatever addr carries (Events are not
// replies to anything).
func EventMessage(version uint8, addr Address, signature string, payload []byte) Message {
	return Message{Version: version, Type: TypeEvent, Address: addr, Signature: signature, Payload: payload}
}

// CancelMessage builds a Cancel message whose payload is the target
// Call's message-id (spec.md §4.4: "payload is a single unsigned 32-bit
// integer").
func CancelMessage(version uint8, addr Address, targetMessageID uint32) Message {
	return Message{
		Version:   version,
		Type:      TypeCancel,
		Address:   addr,
		Signature: "I",
		Payload:   encodeUint32(targetMessageID),
	}
}

// CancelTarget decodes a Cancel message's payload.
func (m Message) CancelTarget() (uint32, error) {
	if m.Type != TypeCancel {
		return 0, fmt.Errorf("wire: CancelTarget called on a %s message", m.Type)
	}
	return decodeUint32(m.Payload)
}

func encodeUint32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func decodeUint32(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("wire: expected 4-byte uint32 payload, got %d bytes", len(b))
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}
