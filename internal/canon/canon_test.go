package canon

import "testing"

func TestEncodeSortsKeysAtEveryDepth(t *testing.T) {
	t.Parallel()

	v := map[string]interface{}{
		"b": 1,
		"a": map[string]interface{}{
			"z": 1,
			"y": 2,
		},
	}

	got, err := Encode(v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	want := `{"a":{"y":2,"z":1},"b":1}`
	if string(got) != want {
		t.Errorf("Encode() = %s, want %s", got, want)
	}
}

func TestEncodeIsOrderIndependentOnInput(t *testing.T) {
	t.Parallel()

	v1 := map[string]interface{}{"a": 1, "b": 2, "c": 3}
	v2 := map[string]interface{}{"c": 3, "a": 1, "b": 2}

	got1, err := Encode(v1)
	if err != nil {
		t.Fatalf("Encode v1: %v", err)
	}
	got2, err := Encode(v2)
	if err != nil {
		t.Fatalf("Encode v2: %v", err)
	}
	if string(got1) != string(got2) {
		t.Errorf("Encode not order-independent: %s vs %s", got1, got2)
	}
}

func TestEncodeArraysPreserveOrder(t *testing.T) {
	t.Parallel()

	v := []interface{}{3, 1, 2}
	got, err := Encode(v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(got) != `[3,1,2]` {
		t.Errorf("Encode() = %s, want [3,1,2]", got)
	}
}

func TestEncodeStructsViaJSONTags(t *testing.T) {
	t.Parallel()

	type inner struct {
		B int `json:"b"`
		A int `json:"a"`
	}

	got, err := Encode(inner{B: 2, A: 1})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(got) != `{"a":1,"b":2}` {
		t.Errorf("Encode() = %s, want {\"a\":1,\"b\":2}", got)
	}
}
