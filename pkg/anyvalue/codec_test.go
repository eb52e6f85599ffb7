package anyvalue

import "testing"

func roundTrip(t *testing.T, v Value, sig string) Value {
	t.Helper()
	b, err := Encode(v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, n, err := Decode(b, sig)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(b) {
		t.Fatalf("Decode consumed %d of %d bytes", n, len(b))
	}
	return got
}

func TestCodec_Int(t *testing.T) {
	v := NewInt(-42, 32, true)
	got := roundTrip(t, v, string(TagInt32))
	if got.IntVal != -42 {
		t.Fatalf("expected -42, got %d", got.IntVal)
	}
}

func TestCodec_UnsignedInt(t *testing.T) {
	v := NewInt(255, 8, false)
	got := roundTrip(t, v, string(TagUint8))
	if got.IntVal != 255 {
		t.Fatalf("expected 255, got %d", got.IntVal)
	}
}

func TestCodec_Float(t *testing.T) {
	v := NewFloat(3.5, 64)
	got := roundTrip(t, v, string(TagFloat64))
	if got.FloatVal != 3.5 {
		t.Fatalf("expected 3.5, got %v", got.FloatVal)
	}
}

func TestCodec_String(t *testing.T) {
	v := NewString("hello, world")
	got := roundTrip(t, v, string(TagString))
	if got.StringVal != "hello, world" {
		t.Fatalf("expected round-trip string, got %q", got.StringVal)
	}
}

func TestCodec_Raw(t *testing.T) {
	v := NewRaw([]byte{1, 2, 3, 4})
	got := roundTrip(t, v, string(TagRaw))
	if len(got.RawVal) != 4 || got.RawVal[2] != 3 {
		t.Fatalf("unexpected raw round-trip: %v", got.RawVal)
	}
}

func TestCodec_Object(t *testing.T) {
	v := NewObject(7, 9)
	got := roundTrip(t, v, string(TagObject))
	if got.ObjectServiceID != 7 || got.ObjectID != 9 {
		t.Fatalf("unexpected object round-trip: %+v", got)
	}
}

func TestCodec_List(t *testing.T) {
	v := NewList(NewInt(1, 32, true), NewInt(2, 32, true), NewInt(3, 32, true))
	got := roundTrip(t, v, "[i]")
	if len(got.Items) != 3 || got.Items[1].IntVal != 2 {
		t.Fatalf("unexpected list round-trip: %+v", got)
	}
}

func TestCodec_Tuple(t *testing.T) {
	v := NewTuple(NewString("a"), NewInt(9, 32, true))
	got := roundTrip(t, v, "(si)")
	if got.Items[0].StringVal != "a" || got.Items[1].IntVal != 9 {
		t.Fatalf("unexpected tuple round-trip: %+v", got)
	}
}

func TestCodec_Map(t *testing.T) {
	v := NewMap(MapEntry{Key: NewString("k"), Value: NewInt(5, 32, true)})
	got := roundTrip(t, v, "{si}")
	if len(got.Entries) != 1 || got.Entries[0].Key.StringVal != "k" || got.Entries[0].Value.IntVal != 5 {
		t.Fatalf("unexpected map round-trip: %+v", got)
	}
}

func TestCodec_Void(t *testing.T) {
	got := roundTrip(t, Void, string(TagVoid))
	if got.Kind != KindVoid {
		t.Fatalf("expected void, got %v", got.Kind)
	}
}

func TestCodec_DynamicRoundTrip(t *testing.T) {
	v := NewTuple(NewString("hello"), NewInt(9, 32, true))
	b, err := EncodeDynamic(v)
	if err != nil {
		t.Fatalf("EncodeDynamic: %v", err)
	}
	got, n, err := DecodeDynamic(b)
	if err != nil {
		t.Fatalf("DecodeDynamic: %v", err)
	}
	if n != len(b) {
		t.Fatalf("DecodeDynamic consumed %d of %d bytes", n, len(b))
	}
	if got.Items[0].StringVal != "hello" || got.Items[1].IntVal != 9 {
		t.Fatalf("unexpected dynamic round-trip: %+v", got)
	}
}

func TestCodec_DynamicNestedInTuple(t *testing.T) {
	// A tuple signature with an "m" slot decodes that slot via the
	// self-describing envelope rather than a concrete tag.
	inner := NewString("payload")
	dynBytes, err := EncodeDynamic(inner)
	if err != nil {
		t.Fatalf("EncodeDynamic: %v", err)
	}
	full := append(encodeInt(1, 32), dynBytes...)

	got, n, err := Decode(full, "(i"+DynamicSignature+")")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(full) {
		t.Fatalf("Decode consumed %d of %d bytes", n, len(full))
	}
	if got.Items[0].IntVal != 1 || got.Items[1].StringVal != "payload" {
		t.Fatalf("unexpected nested-dynamic round-trip: %+v", got)
	}
}

func TestCodec_SignatureOf(t *testing.T) {
	cases := []struct {
		v    Value
		want string
	}{
		{NewInt(1, 32, true), "i"},
		{NewInt(1, 8, false), "C"},
		{NewFloat(1, 64), "d"},
		{NewString("x"), "s"},
		{NewList(NewInt(1, 32, true)), "[i]"},
		{NewTuple(NewString("a"), NewInt(1, 32, true)), "(si)"},
		{NewMap(MapEntry{Key: NewString("k"), Value: NewInt(1, 32, true)}), "{si}"},
	}
	for _, c := range cases {
		if got := SignatureOf(c.v); got != c.want {
			t.Fatalf("SignatureOf(%v) = %q, want %q", c.v, got, c.want)
		}
	}
}
