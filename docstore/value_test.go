package docstore

import (
	"errors"
	"testing"
)

func TestValueFlags_Ver(t *testing.T) {
	if vfDefault.ver() != vfVer1 {
		t.Fatalf("valueFlags.ver returned unexpected value")
	}
}

func TestValue_EncodeDecode(t *testing.T) {
	raw := value{Flags: vfDefault, ModCount: 300, Data: []byte{1, 2, 3}}.encode()

	var vle value
	ensure(vle.decode(raw))
	if vle.Flags != vfDefault || vle.ModCount != 300 || string(vle.Data) != "\x01\x02\x03" {
		t.Fatalf("decode = %+v, wanted flags=%d mod=300 data=010203", vle, vfDefault)
	}
}

func TestValue_DecodeErrors(t *testing.T) {
	good := value{Flags: vfDefault, ModCount: 1, Data: []byte("hello world")}.encode()

	corrupt := append([]byte(nil), good...)
	corrupt[len(corrupt)-1] ^= 0xFF

	unsupported := append([]byte(nil), good...)
	unsupported[0] = 0x40

	tests := []struct {
		name string
		raw  []byte
	}{
		{"short", []byte{1, 2, 3}},
		{"checksum", corrupt},
		{"flags", unsupported},
		{"truncated", good[:len(good)-2]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var vle value
			err := vle.decode(tt.raw)
			var de *DataError
			if !errors.As(err, &de) {
				t.Fatalf("decode err = %v, wanted *DataError", err)
			}
		})
	}
}

func TestCodec_RefsAndFieldNames(t *testing.T) {
	doc := Document{"r": Ref{"d", "c", "1"}, "almost": map[string]any{"ref": "c", "id": "1", "db": "d"}}
	got := must(decodeDocument(must(encodeDocument(doc))))
	if r, ok := got["r"].(Ref); !ok || r != (Ref{"d", "c", "1"}) {
		t.Fatalf("r = %#v, wanted Ref", got["r"])
	}
	if _, ok := got["almost"].(map[string]any); !ok {
		t.Fatalf("almost = %#v, wanted plain map", got["almost"])
	}

	for _, name := range []string{"a.b", "$x", "nul\x00"} {
		if ValidFieldName(name) {
			t.Fatalf("ValidFieldName(%q) = true, wanted false", name)
		}
	}
	if !ValidFieldName("_py_type") {
		t.Fatalf("ValidFieldName(_py_type) = false, wanted true")
	}
}
