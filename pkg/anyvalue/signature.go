package anyvalue

import (
	"fmt"
	"strings"
)

// Signature grammar (spec.md §9's AnyValue cases, rendered as single-char
// tags plus bracket/paren/brace nesting for compound kinds):
//
//	v            void
//	c/C/w/W/i/I/l/L  signed int, 8/16/32/64 (lower) — unsigned variants upper
//	f/d          float32 / float64
//	s            string
//	r            raw bytes
//	o            object reference
//	m            dynamic "any" (matches anything, used with DynamicPayload)
//	[T]          list of T
//	{KV}         map K to V (no separator)
//	(T1T2...)    tuple of T1, T2, ...
const (
	TagVoid    = 'v'
	TagInt8    = 'c'
	TagUint8   = 'C'
	TagInt16   = 'w'
	TagUint16  = 'W'
	TagInt32   = 'i'
	TagUint32  = 'I'
	TagInt64   = 'l'
	TagUint64  = 'L'
	TagFloat32 = 'f'
	TagFloat64 = 'd'
	TagString  = 's'
	TagRaw     = 'r'
	TagObject  = 'o'
	TagAny     = 'm'
)

// DynamicSignature is the signature substituted for a method's declared
// parameter signature when the DynamicPayload flag is set (spec.md §4.4).
const DynamicSignature = "m"

// Arity returns the number of top-level elements of a tuple signature, or 1
// for any non-tuple signature (a single value is arity 1).
func Arity(sig string) (int, error) {
	sig = strings.TrimSpace(sig)
	if sig == "" {
		return 0, nil
	}
	if sig[0] != '(' {
		return 1, nil
	}
	inner, err := tupleInner(sig)
	if err != nil {
		return 0, err
	}
	elems, err := splitTopLevel(inner)
	if err != nil {
		return 0, err
	}
	return len(elems), nil
}

// Elements splits a tuple signature into its element signatures. A
// non-tuple signature returns a single-element slice containing itself.
func Elements(sig string) ([]string, error) {
	sig = strings.TrimSpace(sig)
	if sig == "" {
		return nil, nil
	}
	if sig[0] != '(' {
		return []string{sig}, nil
	}
	inner, err := tupleInner(sig)
	if err != nil {
		return nil, err
	}
	return splitTopLevel(inner)
}

func tupleInner(sig string) (string, error) {
	if len(sig) < 2 || sig[0] != '(' || sig[len(sig)-1] != ')' {
		return "", fmt.Errorf("anyvalue: malformed tuple signature %q", sig)
	}
	return sig[1 : len(sig)-1], nil
}

// splitTopLevel splits a sequence of concatenated signatures at the top
// nesting level: each element is either one scalar byte, or a
// bracketed/braced/parenthesized run.
func splitTopLevel(s string) ([]string, error) {
	var out []string
	i := 0
	for i < len(s) {
		switch s[i] {
		case '[':
			end, err := matchBracket(s, i, '[', ']')
			if err != nil {
				return nil, err
			}
			out = append(out, s[i:end+1])
			i = end + 1
		case '{':
			end, err := matchBracket(s, i, '{', '}')
			if err != nil {
				return nil, err
			}
			out = append(out, s[i:end+1])
			i = end + 1
		case '(':
			end, err := matchBracket(s, i, '(', ')')
			if err != nil {
				return nil, err
			}
			out = append(out, s[i:end+1])
			i = end + 1
		default:
			out = append(out, string(s[i]))
			i++
		}
	}
	return out, nil
}

func matchBracket(s string, start int, open, close byte) (int, error) {
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("anyvalue: unbalanced %q in signature %q", string(open), s)
}

// KindOf maps a scalar signature tag to its AnyValue Kind. Compound
// signatures map to KindList/KindMap/KindTuple.
func KindOf(sig string) (Kind, error) {
	sig = strings.TrimSpace(sig)
	if sig == "" {
		return KindVoid, fmt.Errorf("anyvalue: empty signature")
	}
	switch sig[0] {
	case '[':
		return KindList, nil
	case '{':
		return KindMap, nil
	case '(':
		return KindTuple, nil
	}
	if len(sig) != 1 {
		return KindVoid, fmt.Errorf("anyvalue: malformed scalar signature %q", sig)
	}
	switch sig[0] {
	case TagVoid:
		return KindVoid, nil
	case TagInt8, TagUint8, TagInt16, TagUint16, TagInt32, TagUint32, TagInt64, TagUint64:
		return KindInt, nil
	case TagFloat32, TagFloat64:
		return KindFloat, nil
	case TagString:
		return KindString, nil
	case TagRaw:
		return KindRaw, nil
	case TagObject:
		return KindObject, nil
	case TagAny:
		return KindVoid, nil // matches anything; handled specially by ConvertibleTo
	default:
		return KindVoid, fmt.Errorf("anyvalue: unknown signature tag %q", sig)
	}
}

// ConvertibleTo reports whether a value tagged with signature `from` can be
// converted to signature `to` without consulting a TypeRegistry (same-kind
// scalars, int<->float in either direction, dynamic-any on either side,
// and structurally matching lists/tuples; any map is accepted for any map,
// since key/value signatures are not compared). A concrete Registry may
// allow more via Convert.
func ConvertibleTo(from, to string) bool {
	if from == to {
		return true
	}
	if from == DynamicSignature || to == DynamicSignature {
		return true
	}
	fk, err1 := KindOf(from)
	tk, err2 := KindOf(to)
	if err1 != nil || err2 != nil {
		return false
	}
	if fk != tk {
		// Numeric widening/narrowing between int and float families is
		// allowed; everything else must share the same Kind.
		if (fk == KindInt && tk == KindFloat) || (fk == KindFloat && tk == KindInt) {
			return true
		}
		return false
	}
	switch fk {
	case KindList:
		fe, _ := elementSig(from, '[', ']')
		te, _ := elementSig(to, '[', ']')
		return ConvertibleTo(fe, te)
	case KindTuple:
		fes, err1 := Elements(from)
		tes, err2 := Elements(to)
		if err1 != nil || err2 != nil || len(fes) != len(tes) {
			return false
		}
		for i := range fes {
			if !ConvertibleTo(fes[i], tes[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func elementSig(sig string, open, close byte) (string, error) {
	if len(sig) < 2 || sig[0] != open || sig[len(sig)-1] != close {
		return "", fmt.Errorf("anyvalue: malformed compound signature %q", sig)
	}
	return sig[1 : len(sig)-1], nil
}
