package serializer

import (
	"reflect"
	"testing"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRecordSerializer{
	"JSON": NewJSONSerializer,
	"GOB":  NewGOBSerializer,
}

type testDoc struct {
	Name    string
	Number  int
	Value   *float64
	Steps   map[int]float64
	Attrs   map[string][]byte
	Payload []byte
}

func testDocs() []testDoc {
	v := 1.25
	return []testDoc{
		{Name: "empty"},
		{Name: "value", Number: 3, Value: &v},
		{
			Name:    "complete",
			Number:  7,
			Value:   &v,
			Steps:   map[int]float64{0: 1, 10: 0.5},
			Attrs:   map[string][]byte{"k": []byte(`"v"`)},
			Payload: []byte{0, 1, 2, 254, 255},
		},
	}
}

// TestSerializerRoundTrip tests that documents can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, doc := range testDocs() {
				data, err := serializer.Serialize(doc)
				if err != nil {
					t.Errorf("Failed to serialize document %d: %v", i, err)
					continue
				}

				var result testDoc
				if err := serializer.Deserialize(data, &result); err != nil {
					t.Errorf("Failed to deserialize document %d: %v", i, err)
					continue
				}

				// gob does not distinguish nil from empty collections
				if len(doc.Steps) == 0 && len(result.Steps) == 0 {
					result.Steps = doc.Steps
				}
				if len(doc.Attrs) == 0 && len(result.Attrs) == 0 {
					result.Attrs = doc.Attrs
				}
				if len(doc.Payload) == 0 && len(result.Payload) == 0 {
					result.Payload = doc.Payload
				}

				if !reflect.DeepEqual(doc, result) {
					t.Errorf("Document %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v", i, doc, result)
				}
			}
		})
	}
}

// TestInvalidData tests that garbage input is rejected
func TestInvalidData(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			var result testDoc
			if err := factory().Deserialize([]byte{0xff, 0x00, 0x13}, &result); err == nil {
				t.Errorf("Expected an error for invalid data")
			}
		})
	}
}

func TestNewSerializer(t *testing.T) {
	for _, name := range []string{"json", "gob"} {
		if _, err := NewSerializer(name); err != nil {
			t.Errorf("NewSerializer(%q) failed: %v", name, err)
		}
	}
	if _, err := NewSerializer("binary"); err == nil {
		t.Errorf("Expected an error for an unknown serializer")
	}
}

func BenchmarkSerialize(b *testing.B) {
	doc := testDocs()[2]
	for name, factory := range testSerializers {
		b.Run(name, func(b *testing.B) {
			serializer := factory()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := serializer.Serialize(doc); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
