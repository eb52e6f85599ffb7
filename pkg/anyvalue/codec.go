package anyvalue

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Encode serialises v to its wire representation. The signature a decoder
// must supply to invert this is whatever signature v was built against
// (Encode trusts the Value's own Kind/width fields, not a signature
// string) — BoundObject always encodes a Value it just produced from a
// known signature, so this asymmetry never loses information in practice.
func Encode(v Value) ([]byte, error) {
	switch v.Kind {
	case KindVoid:
		return nil, nil
	case KindInt:
		return encodeInt(v.IntVal, v.IntWidth), nil
	case KindFloat:
		return encodeFloat(v.FloatVal, v.FloatWidth), nil
	case KindString:
		return encodeBytes([]byte(v.StringVal)), nil
	case KindRaw:
		return encodeBytes(v.RawVal), nil
	case KindObject:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint32(buf[0:4], v.ObjectServiceID)
		binary.BigEndian.PutUint32(buf[4:8], v.ObjectID)
		return buf, nil
	case KindList:
		var out []byte
		count := make([]byte, 4)
		binary.BigEndian.PutUint32(count, uint32(len(v.Items)))
		out = append(out, count...)
		for _, item := range v.Items {
			b, err := Encode(item)
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		}
		return out, nil
	case KindTuple:
		var out []byte
		for _, item := range v.Items {
			b, err := Encode(item)
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		}
		return out, nil
	case KindMap:
		var out []byte
		count := make([]byte, 4)
		binary.BigEndian.PutUint32(count, uint32(len(v.Entries)))
		out = append(out, count...)
		for _, e := range v.Entries {
			kb, err := Encode(e.Key)
			if err != nil {
				return nil, err
			}
			vb, err := Encode(e.Value)
			if err != nil {
				return nil, err
			}
			out = append(out, kb...)
			out = append(out, vb...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("anyvalue: encode: unknown kind %v", v.Kind)
	}
}

// Decode parses b according to sig and returns the Value plus the number
// of bytes consumed, so callers decoding a tuple of args can walk the
// buffer element by element.
func Decode(b []byte, sig string) (Value, int, error) {
	if sig == "" || sig == string(TagVoid) {
		return Void, 0, nil
	}

	switch sig[0] {
	case '[':
		elemSig, err := elementSig(sig, '[', ']')
		if err != nil {
			return Value{}, 0, err
		}
		if len(b) < 4 {
			return Value{}, 0, fmt.Errorf("anyvalue: decode: short buffer for list count")
		}
		count := binary.BigEndian.Uint32(b[:4])
		off := 4
		items := make([]Value, 0, count)
		for i := uint32(0); i < count; i++ {
			v, n, err := Decode(b[off:], elemSig)
			if err != nil {
				return Value{}, 0, err
			}
			items = append(items, v)
			off += n
		}
		return NewList(items...), off, nil

	case '{':
		kSig, vSig, err := mapElemSigs(sig)
		if err != nil {
			return Value{}, 0, err
		}
		if len(b) < 4 {
			return Value{}, 0, fmt.Errorf("anyvalue: decode: short buffer for map count")
		}
		count := binary.BigEndian.Uint32(b[:4])
		off := 4
		entries := make([]MapEntry, 0, count)
		for i := uint32(0); i < count; i++ {
			k, n, err := Decode(b[off:], kSig)
			if err != nil {
				return Value{}, 0, err
			}
			off += n
			v, n, err := Decode(b[off:], vSig)
			if err != nil {
				return Value{}, 0, err
			}
			off += n
			entries = append(entries, MapEntry{Key: k, Value: v})
		}
		return NewMap(entries...), off, nil

	case '(':
		elems, err := Elements(sig)
		if err != nil {
			return Value{}, 0, err
		}
		off := 0
		items := make([]Value, 0, len(elems))
		for _, es := range elems {
			v, n, err := Decode(b[off:], es)
			if err != nil {
				return Value{}, 0, err
			}
			items = append(items, v)
			off += n
		}
		return NewTuple(items...), off, nil
	}

	if len(sig) != 1 {
		return Value{}, 0, fmt.Errorf("anyvalue: decode: malformed scalar signature %q", sig)
	}

	switch sig[0] {
	case TagInt8, TagUint8:
		if len(b) < 1 {
			return Value{}, 0, shortBuf(sig, 1, len(b))
		}
		return NewInt(decodeInt(b[:1], sig[0]), 8, isSigned(sig)), 1, nil
	case TagInt16, TagUint16:
		if len(b) < 2 {
			return Value{}, 0, shortBuf(sig, 2, len(b))
		}
		return NewInt(decodeInt(b[:2], sig[0]), 16, isSigned(sig)), 2, nil
	case TagInt32, TagUint32:
		if len(b) < 4 {
			return Value{}, 0, shortBuf(sig, 4, len(b))
		}
		return NewInt(decodeInt(b[:4], sig[0]), 32, isSigned(sig)), 4, nil
	case TagInt64, TagUint64:
		if len(b) < 8 {
			return Value{}, 0, shortBuf(sig, 8, len(b))
		}
		return NewInt(decodeInt(b[:8], sig[0]), 64, isSigned(sig)), 8, nil
	case TagFloat32:
		if len(b) < 4 {
			return Value{}, 0, shortBuf(sig, 4, len(b))
		}
		return NewFloat(float64(math.Float32frombits(binary.BigEndian.Uint32(b[:4]))), 32), 4, nil
	case TagFloat64:
		if len(b) < 8 {
			return Value{}, 0, shortBuf(sig, 8, len(b))
		}
		return NewFloat(math.Float64frombits(binary.BigEndian.Uint64(b[:8])), 64), 8, nil
	case TagString:
		s, n, err := decodeBytes(b)
		if err != nil {
			return Value{}, 0, err
		}
		return NewString(string(s)), n, nil
	case TagRaw:
		r, n, err := decodeBytes(b)
		if err != nil {
			return Value{}, 0, err
		}
		return NewRaw(r), n, nil
	case TagObject:
		if len(b) < 8 {
			return Value{}, 0, shortBuf(sig, 8, len(b))
		}
		return NewObject(binary.BigEndian.Uint32(b[0:4]), binary.BigEndian.Uint32(b[4:8])), 8, nil
	case TagAny:
		return DecodeDynamic(b)
	default:
		return Value{}, 0, fmt.Errorf("anyvalue: decode: unknown signature tag %q", sig)
	}
}

// SignatureOf derives the concrete signature a Value was built against,
// the inverse of KindOf/Decode for the purposes of self-describing
// encoding. It never emits TagAny: an empty List/Map defaults its element
// signature to TagVoid, and a Tuple's signature is the concatenation of
// its elements' own concrete signatures, wrapped in parentheses.
func SignatureOf(v Value) string {
	switch v.Kind {
	case KindVoid:
		return string(TagVoid)
	case KindInt:
		return intTag(v.IntWidth, v.IntSigned)
	case KindFloat:
		if v.FloatWidth == 32 {
			return string(TagFloat32)
		}
		return string(TagFloat64)
	case KindString:
		return string(TagString)
	case KindRaw:
		return string(TagRaw)
	case KindObject:
		return string(TagObject)
	case KindList:
		elem := string(TagVoid)
		if len(v.Items) > 0 {
			elem = SignatureOf(v.Items[0])
		}
		return "[" + elem + "]"
	case KindTuple:
		var sb strings.Builder
		sb.WriteByte('(')
		for _, it := range v.Items {
			sb.WriteString(SignatureOf(it))
		}
		sb.WriteByte(')')
		return sb.String()
	case KindMap:
		k, val := string(TagVoid), string(TagVoid)
		if len(v.Entries) > 0 {
			k = SignatureOf(v.Entries[0].Key)
			val = SignatureOf(v.Entries[0].Value)
		}
		return "{" + k + val + "}"
	default:
		return string(TagVoid)
	}
}

func intTag(width int, signed bool) string {
	switch width {
	case 8:
		if signed {
			return string(TagInt8)
		}
		return string(TagUint8)
	case 16:
		if signed {
			return string(TagInt16)
		}
		return string(TagUint16)
	case 32:
		if signed {
			return string(TagInt32)
		}
		return string(TagUint32)
	default:
		if signed {
			return string(TagInt64)
		}
		return string(TagUint64)
	}
}

// EncodeDynamic encodes v self-describingly: a uint16 length-prefixed
// signature (derived via SignatureOf) followed by v encoded against that
// signature. This is what the wire actually carries for a DynamicPayload
// message or for any "m"-tagged slot nested inside a concrete signature —
// the "m" tag is never itself serialised, only ever a placeholder asking
// the value to describe itself.
func EncodeDynamic(v Value) ([]byte, error) {
	sig := SignatureOf(v)
	body, err := Encode(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 2+len(sig)+len(body))
	binary.BigEndian.PutUint16(out[:2], uint16(len(sig)))
	copy(out[2:], sig)
	copy(out[2+len(sig):], body)
	return out, nil
}

// DecodeDynamic inverts EncodeDynamic, returning the value plus total
// bytes consumed (signature header included).
func DecodeDynamic(b []byte) (Value, int, error) {
	if len(b) < 2 {
		return Value{}, 0, fmt.Errorf("anyvalue: decode: short buffer for dynamic signature length")
	}
	n := int(binary.BigEndian.Uint16(b[:2]))
	if len(b)-2 < n {
		return Value{}, 0, fmt.Errorf("anyvalue: decode: short buffer for %d byte dynamic signature", n)
	}
	sig := string(b[2 : 2+n])
	v, consumed, err := Decode(b[2+n:], sig)
	if err != nil {
		return Value{}, 0, err
	}
	return v, 2 + n + consumed, nil
}

func shortBuf(sig string, want, got int) error {
	return fmt.Errorf("anyvalue: decode: short buffer for %q: want %d bytes, have %d", sig, want, got)
}

func mapElemSigs(sig string) (string, string, error) {
	inner, err := elementSig(sig, '{', '}')
	if err != nil {
		return "", "", err
	}
	parts, err := splitTopLevel(inner)
	if err != nil || len(parts) != 2 {
		return "", "", fmt.Errorf("anyvalue: malformed map signature %q", sig)
	}
	return parts[0], parts[1], nil
}

func encodeInt(v int64, width int) []byte {
	buf := make([]byte, width/8)
	switch width {
	case 8:
		buf[0] = byte(v)
	case 16:
		binary.BigEndian.PutUint16(buf, uint16(v))
	case 32:
		binary.BigEndian.PutUint32(buf, uint32(v))
	default:
		binary.BigEndian.PutUint64(buf, uint64(v))
	}
	return buf
}

func decodeInt(b []byte, tag byte) int64 {
	switch len(b) {
	case 1:
		if isSigned(string(tag)) {
			return int64(int8(b[0]))
		}
		return int64(b[0])
	case 2:
		u := binary.BigEndian.Uint16(b)
		if isSigned(string(tag)) {
			return int64(int16(u))
		}
		return int64(u)
	case 4:
		u := binary.BigEndian.Uint32(b)
		if isSigned(string(tag)) {
			return int64(int32(u))
		}
		return int64(u)
	default:
		u := binary.BigEndian.Uint64(b)
		if isSigned(string(tag)) {
			return int64(u)
		}
		return int64(u)
	}
}

func encodeFloat(v float64, width int) []byte {
	buf := make([]byte, width/8)
	if width == 32 {
		binary.BigEndian.PutUint32(buf, math.Float32bits(float32(v)))
	} else {
		binary.BigEndian.PutUint64(buf, math.Float64bits(v))
	}
	return buf
}

func encodeBytes(b []byte) []byte {
	out := make([]byte, 4+len(b))
	binary.BigEndian.PutUint32(out[:4], uint32(len(b)))
	copy(out[4:], b)
	return out
}

func decodeBytes(b []byte) ([]byte, int, error) {
	if len(b) < 4 {
		return nil, 0, fmt.Errorf("anyvalue: decode: short buffer for length prefix")
	}
	n := binary.BigEndian.Uint32(b[:4])
	if uint32(len(b)-4) < n {
		return nil, 0, fmt.Errorf("anyvalue: decode: short buffer for %d byte payload", n)
	}
	return b[4 : 4+n], 4 + int(n), nil
}
