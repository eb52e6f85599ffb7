package anyvalue

import "testing"

func TestArity_Scalar(t *testing.T) {
	n, err := Arity("s")
	if err != nil || n != 1 {
		t.Fatalf("anyvalue:signature_test - Arity(s) = %d, %v, want 1, nil", n, err)
	}
}

func TestArity_Tuple(t *testing.T) {
	n, err := Arity("(sii)")
	if err != nil || n != 3 {
		t.Fatalf("anyvalue:signature_test - Arity((sii)) = %d, %v, want 3, nil", n, err)
	}
}

func TestArity_EmptyTuple(t *testing.T) {
	n, err := Arity("()")
	if err != nil || n != 0 {
		t.Fatalf("anyvalue:signature_test - Arity(()) = %d, %v, want 0, nil", n, err)
	}
}

func TestArity_NestedTuple(t *testing.T) {
	n, err := Arity("(s(ii)[s])")
	if err != nil || n != 3 {
		t.Fatalf("anyvalue:signature_test - Arity(nested) = %d, %v, want 3, nil", n, err)
	}
}

func TestElements_Tuple(t *testing.T) {
	elems, err := Elements("(si[i]{si})")
	if err != nil {
		t.Fatalf("anyvalue:signature_test - Elements error: %v", err)
	}
	want := []string{"s", "i", "[i]", "{si}"}
	if len(elems) != len(want) {
		t.Fatalf("anyvalue:signature_test - Elements = %v, want %v", elems, want)
	}
	for i := range want {
		if elems[i] != want[i] {
			t.Errorf("anyvalue:signature_test - Elements[%d] = %q, want %q", i, elems[i], want[i])
		}
	}
}

func TestConvertibleTo_SameSignature(t *testing.T) {
	if !ConvertibleTo("s", "s") {
		t.Error("anyvalue:signature_test - s convertible to s")
	}
}

func TestConvertibleTo_Dynamic(t *testing.T) {
	if !ConvertibleTo("s", DynamicSignature) {
		t.Error("anyvalue:signature_test - anything convertible to dynamic signature")
	}
	if !ConvertibleTo(DynamicSignature, "i") {
		t.Error("anyvalue:signature_test - dynamic signature convertible to anything")
	}
}

func TestConvertibleTo_MismatchedKind(t *testing.T) {
	if ConvertibleTo("s", "o") {
		t.Error("anyvalue:signature_test - string should not convert to object")
	}
}

func TestConvertibleTo_NumericCrossKind(t *testing.T) {
	if !ConvertibleTo("i", "d") {
		t.Error("anyvalue:signature_test - int32 should convert to float64")
	}
}

func TestConvertibleTo_Tuple(t *testing.T) {
	if !ConvertibleTo("(si)", "(sd)") {
		t.Error("anyvalue:signature_test - (si) should convert to (sd)")
	}
	if ConvertibleTo("(si)", "(s)") {
		t.Error("anyvalue:signature_test - arity mismatch should not convert")
	}
}
