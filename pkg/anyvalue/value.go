// Package anyvalue implements the type-erased value representation and
// signature grammar that the dispatch layer converts wire payloads to and
// from. It plays the role of the "TypeRegistry" collaborator that spec.md
// treats as external, re-architected per spec.md §9 as a closed tagged
// union instead of a reflection-heavy runtime type system.
package anyvalue

import "fmt"

// Kind identifies which case of the AnyValue union a Value holds.
type Kind int

const (
	KindVoid Kind = iota
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
	KindTuple
	KindRaw
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindTuple:
		return "tuple"
	case KindRaw:
		return "raw"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// MapEntry is one key/value pair of a KindMap Value. AnyValue maps are not
// backed by a Go map because Value is not comparable (it may hold a slice).
type MapEntry struct {
	Key   Value
	Value Value
}

// Value is the closed tagged union spec.md §9 specifies:
// {Void, Int{width,signed}, Float{width}, String, List<AnyValue>,
// Map<AnyValue,AnyValue>, Tuple<AnyValue>, Raw, Object}.
type Value struct {
	Kind Kind

	// KindInt
	IntVal    int64
	IntWidth  int // 8, 16, 32, 64
	IntSigned bool

	// KindFloat
	FloatVal   float64
	FloatWidth int // 32 or 64

	// KindString
	StringVal string

	// KindList, KindTuple
	Items []Value

	// KindMap
	Entries []MapEntry

	// KindRaw
	RawVal []byte

	// KindObject: an opaque object-id address (service/object pair already
	// resolved); the concrete object type lives in pkg/object.
	ObjectServiceID uint32
	ObjectID        uint32
}

// Void is the canonical void value.
var Void = Value{Kind: KindVoid}

// NewInt builds a signed/unsigned integer value of the given bit width.
func NewInt(v int64, width int, signed bool) Value {
	return Value{Kind: KindInt, IntVal: v, IntWidth: width, IntSigned: signed}
}

// NewFloat builds a floating point value of the given bit width (32 or 64).
func NewFloat(v float64, width int) Value {
	return Value{Kind: KindFloat, FloatVal: v, FloatWidth: width}
}

// NewString builds a string value.
func NewString(s string) Value {
	return Value{Kind: KindString, StringVal: s}
}

// NewList builds a list value.
func NewList(items ...Value) Value {
	return Value{Kind: KindList, Items: items}
}

// NewTuple builds a tuple value.
func NewTuple(items ...Value) Value {
	return Value{Kind: KindTuple, Items: items}
}

// NewMap builds a map value from entries.
func NewMap(entries ...MapEntry) Value {
	return Value{Kind: KindMap, Entries: entries}
}

// NewRaw builds a raw-bytes value.
func NewRaw(b []byte) Value {
	return Value{Kind: KindRaw, RawVal: b}
}

// NewObject builds an object-reference value.
func NewObject(serviceID, objectID uint32) Value {
	return Value{Kind: KindObject, ObjectServiceID: serviceID, ObjectID: objectID}
}

// String renders a human-readable form, useful for error messages and logs.
func (v Value) String() string {
	switch v.Kind {
	case KindVoid:
		return "void"
	case KindInt:
		return fmt.Sprintf("%d", v.IntVal)
	case KindFloat:
		return fmt.Sprintf("%g", v.FloatVal)
	case KindString:
		return fmt.Sprintf("%q", v.StringVal)
	case KindList:
		return fmt.Sprintf("list(%d)", len(v.Items))
	case KindMap:
		return fmt.Sprintf("map(%d)", len(v.Entries))
	case KindTuple:
		return fmt.Sprintf("tuple(%d)", len(v.Items))
	case KindRaw:
		return fmt.Sprintf("raw(%d bytes)", len(v.RawVal))
	case KindObject:
		return fmt.Sprintf("object(%d,%d)", v.ObjectServiceID, v.ObjectID)
	default:
		return "invalid"
	}
}
