package anyvalue

import "fmt"

// Registry is the collaborator interface spec.md §1/§9 describes as
// external: it enumerates the methods/signals/properties of a registered
// object, resolves a signature string, and converts a Value from one
// signature to another. BoundObject only ever talks to this interface
// (through Convert) — never to a concrete reflection layer — so the dispatch core
// stays independent of how a given process chooses to introspect its
// objects.
type Registry interface {
	// MethodSignature returns the declared parameter and return signatures
	// for a method on a registered object.
	MethodSignature(serviceID, objectID, methodID uint32) (params, ret string, err error)

	// SignalSignature returns the declared parameter signature for a
	// signal on a registered object.
	SignalSignature(serviceID, objectID, signalID uint32) (params string, err error)

	// Convert converts v to the signature `to`. Implementations MUST
	// support at least everything ConvertibleTo(v's signature, to) allows;
	// they MAY support more (e.g. string<->int coercion).
	Convert(v Value, to string) (Value, error)
}

// ErrNoConversion is returned by Convert when no path exists between the
// value's kind and the requested signature.
type ErrNoConversion struct {
	From, To string
}

func (e *ErrNoConversion) Error() string {
	return fmt.Sprintf("anyvalue: no conversion from %q to %q", e.From, e.To)
}

// StaticRegistry is a minimal, in-process Registry sufficient to run the
// dispatch layer end to end: it holds declared signatures supplied by
// callers through RegisterMethod/RegisterSignal and implements Convert
// using structural/numeric coercion; raw and object values pass through
// only to their own kind (there is no Raw<->Object conversion).
// Grounded on pkg/registry/types.go's field-by-field typed-struct style:
// concrete domain types are matched by signature string, not by a generic
// reflective walker.
type StaticRegistry struct {
	methods map[methodKey]methodSig
	signals map[signalKey]string
}

type methodKey struct{ serviceID, objectID, methodID uint32 }
type signalKey struct{ serviceID, objectID, signalID uint32 }
type methodSig struct{ params, ret string }

// NewStaticRegistry creates an empty StaticRegistry.
func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{
		methods: make(map[methodKey]methodSig),
		signals: make(map[signalKey]string),
	}
}

// RegisterMethod records a method's signature so MethodSignature can
// resolve it later.
func (r *StaticRegistry) RegisterMethod(serviceID, objectID, methodID uint32, params, ret string) {
	r.methods[methodKey{serviceID, objectID, methodID}] = methodSig{params, ret}
}

// RegisterSignal records a signal's parameter signature.
func (r *StaticRegistry) RegisterSignal(serviceID, objectID, signalID uint32, params string) {
	r.signals[signalKey{serviceID, objectID, signalID}] = params
}

// MethodSignature implements Registry.
func (r *StaticRegistry) MethodSignature(serviceID, objectID, methodID uint32) (string, string, error) {
	sig, ok := r.methods[methodKey{serviceID, objectID, methodID}]
	if !ok {
		return "", "", fmt.Errorf("anyvalue: no such method %d on object (%d,%d)", methodID, serviceID, objectID)
	}
	return sig.params, sig.ret, nil
}

// SignalSignature implements Registry.
func (r *StaticRegistry) SignalSignature(serviceID, objectID, signalID uint32) (string, error) {
	sig, ok := r.signals[signalKey{serviceID, objectID, signalID}]
	if !ok {
		return "", fmt.Errorf("anyvalue: no such signal %d on object (%d,%d)", signalID, serviceID, objectID)
	}
	return sig, nil
}

// Convert implements Registry. It handles same-kind passthrough, numeric
// widening/narrowing, and element-wise conversion of lists/tuples.
func (r *StaticRegistry) Convert(v Value, to string) (Value, error) {
	if to == DynamicSignature {
		return v, nil
	}
	tk, err := KindOf(to)
	if err != nil {
		return Value{}, err
	}
	switch {
	case v.Kind == KindInt && tk == KindInt:
		return v, nil
	case v.Kind == KindFloat && tk == KindFloat:
		return v, nil
	case v.Kind == KindInt && tk == KindFloat:
		return NewFloat(float64(v.IntVal), floatWidth(to)), nil
	case v.Kind == KindFloat && tk == KindInt:
		return NewInt(int64(v.FloatVal), intWidth(to), isSigned(to)), nil
	case v.Kind == KindString && tk == KindString:
		return v, nil
	case v.Kind == KindRaw && tk == KindRaw:
		return v, nil
	case v.Kind == KindObject && tk == KindObject:
		return v, nil
	case v.Kind == KindList && tk == KindList:
		elemTo, _ := elementSig(to, '[', ']')
		out := make([]Value, len(v.Items))
		for i, it := range v.Items {
			cv, err := r.Convert(it, elemTo)
			if err != nil {
				return Value{}, err
			}
			out[i] = cv
		}
		return NewList(out...), nil
	case v.Kind == KindTuple && tk == KindTuple:
		elemsTo, err := Elements(to)
		if err != nil || len(elemsTo) != len(v.Items) {
			return Value{}, &ErrNoConversion{From: "tuple", To: to}
		}
		out := make([]Value, len(v.Items))
		for i, it := range v.Items {
			cv, err := r.Convert(it, elemsTo[i])
			if err != nil {
				return Value{}, err
			}
			out[i] = cv
		}
		return NewTuple(out...), nil
	case v.Kind == tk:
		return v, nil
	default:
		return Value{}, &ErrNoConversion{From: v.Kind.String(), To: to}
	}
}

func floatWidth(sig string) int {
	if sig == string(TagFloat32) {
		return 32
	}
	return 64
}

func intWidth(sig string) int {
	switch sig {
	case string(TagInt8), string(TagUint8):
		return 8
	case string(TagInt16), string(TagUint16):
		return 16
	case string(TagInt32), string(TagUint32):
		return 32
	default:
		return 64
	}
}

func isSigned(sig string) bool {
	switch sig {
	case string(TagUint8), string(TagUint16), string(TagUint32), string(TagUint64):
		return false
	default:
		return true
	}
}
