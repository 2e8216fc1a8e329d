package codec

import (
	"reflect"
	"testing"
)

func TestEncodeDecodeBytePrefix(t *testing.T) {
	in := map[string]interface{}{"raw": []byte{0xde, 0xad, 0xbe, 0xef}}

	encoded, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	m, ok := got.(map[string]interface{})
	if !ok {
		t.Fatalf("decoded value is %T, want map[string]interface{}", got)
	}
	b, ok := m["raw"].([]byte)
	if !ok {
		t.Fatalf("decoded field is %T, want []byte", m["raw"])
	}
	if !reflect.DeepEqual(b, in["raw"]) {
		t.Errorf("round-trip mismatch: got %x, want %x", b, in["raw"])
	}
}

func TestEncodeDecodeHexBytes(t *testing.T) {
	in := map[string]interface{}{"hash": HexBytes{0x01, 0x02, 0x03}}

	encoded, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	m := got.(map[string]interface{})
	hb, ok := m["hash"].(HexBytes)
	if !ok {
		t.Fatalf("decoded field is %T, want HexBytes", m["hash"])
	}
	if !reflect.DeepEqual(hb, in["hash"]) {
		t.Errorf("round-trip mismatch: got %x, want %x", hb, in["hash"])
	}
}

func TestEncodePrefixesAreDistinct(t *testing.T) {
	encoded, err := Encode(map[string]interface{}{
		"a": []byte{0xaa},
		"b": HexBytes{0xaa},
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	m := got.(map[string]interface{})

	if _, ok := m["a"].([]byte); !ok {
		t.Errorf("field a decoded as %T, want []byte", m["a"])
	}
	if _, ok := m["b"].(HexBytes); !ok {
		t.Errorf("field b decoded as %T, want HexBytes", m["b"])
	}
}

func TestEncodeNestedSlicesAndMaps(t *testing.T) {
	in := map[string]interface{}{
		"list": []interface{}{"a", "b", float64(3)},
		"nested": map[string]interface{}{
			"inner": []byte{0x01},
		},
	}

	encoded, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	m := got.(map[string]interface{})

	list, ok := m["list"].([]interface{})
	if !ok || len(list) != 3 {
		t.Fatalf("list decoded as %#v", m["list"])
	}
	nested, ok := m["nested"].(map[string]interface{})
	if !ok {
		t.Fatalf("nested decoded as %T", m["nested"])
	}
	if _, ok := nested["inner"].([]byte); !ok {
		t.Errorf("nested.inner decoded as %T, want []byte", nested["inner"])
	}
}

// structWithUnexported mimics big.Int: its only field is unexported, so
// encodeValue's struct walker has nothing exported to carry across.
type structWithUnexported struct {
	hidden int
}

func TestEncodeStructDropsUnexportedFields(t *testing.T) {
	encoded, err := Encode(structWithUnexported{hidden: 42})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(encoded) != "{}" {
		t.Errorf("expected unexported-only struct to encode as {}, got %s", encoded)
	}
}

func TestEncodeNil(t *testing.T) {
	var p *int
	encoded, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(encoded) != "null" {
		t.Errorf("expected nil pointer to encode as null, got %s", encoded)
	}
}
